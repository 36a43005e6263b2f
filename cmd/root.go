package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub015/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Product spec harvesting pipeline",
	Long:  "Schedules product crawl rounds, indexes fetched evidence, promotes the best round into final bundles, and replays past runs from their event logs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
