package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
)

var (
	runCategory string
	runBrand    string
	runModel    string
	runVariant  string
	runPriority int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one crawl round for a single product",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		identity := model.ProductIdentity{
			Category: runCategory,
			Brand:    runBrand,
			Model:    runModel,
			Variant:  runVariant,
		}
		if !identity.Valid() {
			return eris.New("category, brand, and model are required")
		}

		// Ensure the product is on the queue; a repeat run is a no-op here.
		_, err = e.Queue.Update(ctx, runCategory, func(state *model.QueueState) error {
			if e.Scheduler.Enqueue(state, identity, runPriority, nowUTC()) {
				zap.L().Info("product enqueued", zap.String("product", identity.ProductID()))
			}
			return nil
		})
		if err != nil {
			return err
		}

		cycle, err := e.Orchestrator.ProcessProduct(ctx, runCategory, identity.ProductID())
		if err != nil {
			return eris.Wrap(err, "process product")
		}

		zap.L().Info("round complete",
			zap.String("product", cycle.ProductID),
			zap.String("status", string(cycle.Status)),
			zap.Bool("promoted", cycle.Promoted),
			zap.Float64("cost_usd", cycle.CostUSD),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cycle)
	},
}

func init() {
	runCmd.Flags().StringVar(&runCategory, "category", "", "product category (required)")
	runCmd.Flags().StringVar(&runBrand, "brand", "", "brand name (required)")
	runCmd.Flags().StringVar(&runModel, "model", "", "model name (required)")
	runCmd.Flags().StringVar(&runVariant, "variant", "", "variant qualifier")
	runCmd.Flags().IntVar(&runPriority, "priority", 3, "queue priority, 1 (highest) to 5")
	_ = runCmd.MarkFlagRequired("category")
	_ = runCmd.MarkFlagRequired("brand")
	_ = runCmd.MarkFlagRequired("model")
	rootCmd.AddCommand(runCmd)
}
