package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub015/internal/harvest"
)

var (
	batchCategory        string
	batchConcurrency     int
	batchRoundsPerMinute int
	batchMaxRounds       int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process a category's queue until it drains",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		bc := harvest.BatchConfig{
			Concurrency:     batchConcurrency,
			RoundsPerMinute: batchRoundsPerMinute,
			MaxRounds:       batchMaxRounds,
		}
		if bc.Concurrency == 0 {
			bc.Concurrency = cfg.Batch.Concurrency
		}
		if bc.RoundsPerMinute == 0 {
			bc.RoundsPerMinute = cfg.Batch.RoundsPerMinute
		}

		stats, err := e.Orchestrator.RunBatch(ctx, batchCategory, bc)
		if err != nil {
			return eris.Wrap(err, "run batch")
		}

		zap.L().Info("batch summary",
			zap.Int64("rounds", stats.Rounds.Load()),
			zap.Int64("promoted", stats.Promoted.Load()),
			zap.Int64("failed", stats.Failed.Load()),
			zap.Float64("cost_usd", stats.CostUSD()),
		)
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchCategory, "category", "", "product category (required)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "worker count (default from config)")
	batchCmd.Flags().IntVar(&batchRoundsPerMinute, "rounds-per-minute", 0, "throttle round launches (0 = unthrottled)")
	batchCmd.Flags().IntVar(&batchMaxRounds, "max-rounds", 0, "stop after this many rounds (0 = until drained)")
	_ = batchCmd.MarkFlagRequired("category")
	rootCmd.AddCommand(batchCmd)
}
