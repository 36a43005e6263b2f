package main

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
	"github.com/CdubVentures/spec-harvester-sub015/internal/queue"
)

var (
	queueCategory string
	queueProduct  string
	queueSeedFile string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the per-category product queue",
}

// queueStatusReport is the JSON shape printed by `queue status` and
// served by the status API.
type queueStatusReport struct {
	Category  string               `json:"category"`
	Counts    map[model.Status]int `json:"counts"`
	Products  []queueStatusRow     `json:"products"`
	Recovered bool                 `json:"recovered_from_corrupt_state,omitempty"`
}

type queueStatusRow struct {
	ProductID string       `json:"product_id"`
	Status    model.Status `json:"status"`
	Priority  int          `json:"priority"`
	Attempts  int          `json:"attempts_total"`
	Rounds    int          `json:"rounds_completed"`
	CostUSD   float64      `json:"cost_usd_total"`
	LastError string       `json:"last_error,omitempty"`
}

func buildStatusReport(state *model.QueueState) *queueStatusReport {
	report := &queueStatusReport{
		Category:  state.Category,
		Counts:    map[model.Status]int{},
		Recovered: state.Recovered,
	}
	for id, row := range state.Products {
		report.Counts[row.Status]++
		report.Products = append(report.Products, queueStatusRow{
			ProductID: id,
			Status:    row.Status,
			Priority:  row.Priority,
			Attempts:  row.AttemptsTotal,
			Rounds:    row.RoundsDone,
			CostUSD:   row.CostUSDTotal,
			LastError: row.LastError,
		})
	}
	sort.Slice(report.Products, func(i, j int) bool {
		return report.Products[i].ProductID < report.Products[j].ProductID
	})
	return report
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts and per-product state",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		state, err := e.Queue.Load(cmd.Context(), queueCategory)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(buildStatusReport(state))
	},
}

var queueSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load product identities from a YAML seed file",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		data, err := os.ReadFile(queueSeedFile)
		if err != nil {
			return eris.Wrap(err, "read seed file")
		}
		seed, err := queue.ParseSeed(data)
		if err != nil {
			return err
		}

		var added int
		_, err = e.Queue.Update(cmd.Context(), seed.Category, func(state *model.QueueState) error {
			added = e.Scheduler.Seed(state, seed, nowUTC())
			return nil
		})
		if err != nil {
			return err
		}

		zap.L().Info("queue seeded",
			zap.String("category", seed.Category),
			zap.Int("added", added),
			zap.Int("listed", len(seed.Products)),
		)
		return nil
	},
}

// holdCmd builds the pause/resume/retry trio; they differ only in the
// transition applied to the named product.
func holdCmd(use, short string, apply func(*queue.Scheduler, *model.QueueState) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := initEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			_, err = e.Queue.Update(cmd.Context(), queueCategory, func(state *model.QueueState) error {
				return apply(e.Scheduler, state)
			})
			if err != nil {
				return err
			}
			zap.L().Info("queue updated",
				zap.String("action", use),
				zap.String("product", queueProduct),
			)
			return nil
		},
	}
}

var queueMaintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Mark aged complete rows stale so they re-crawl",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		var marked int
		_, err = e.Queue.Update(cmd.Context(), queueCategory, func(state *model.QueueState) error {
			marked = e.Scheduler.MarkStale(state, nowUTC())
			return nil
		})
		if err != nil {
			return err
		}
		zap.L().Info("staleness pass complete",
			zap.String("category", queueCategory),
			zap.Int("marked_stale", marked),
		)
		return nil
	},
}

func init() {
	queueCmd.PersistentFlags().StringVar(&queueCategory, "category", "", "product category (required)")
	_ = queueCmd.MarkPersistentFlagRequired("category")

	queueSeedCmd.Flags().StringVar(&queueSeedFile, "file", "", "YAML seed file (required)")
	_ = queueSeedCmd.MarkFlagRequired("file")

	pauseCmd := holdCmd("pause", "Pause a product (excluded from selection)", func(s *queue.Scheduler, state *model.QueueState) error {
		return s.SetHold(state, queueProduct, model.StatusPaused, nowUTC())
	})
	resumeCmd := holdCmd("resume", "Clear a hold back to pending", func(s *queue.Scheduler, state *model.QueueState) error {
		return s.ResetForRetry(state, queueProduct, nowUTC())
	})
	retryCmd := holdCmd("retry", "Reset a failed or manual row for another pass", func(s *queue.Scheduler, state *model.QueueState) error {
		return s.ResetForRetry(state, queueProduct, nowUTC())
	})
	for _, c := range []*cobra.Command{pauseCmd, resumeCmd, retryCmd} {
		c.Flags().StringVar(&queueProduct, "product", "", "product id (required)")
		_ = c.MarkFlagRequired("product")
	}

	queueCmd.AddCommand(queueStatusCmd, queueSeedCmd, pauseCmd, resumeCmd, retryCmd, queueMaintainCmd)
	rootCmd.AddCommand(queueCmd)
}
