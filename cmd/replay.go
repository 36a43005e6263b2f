package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	replayCategory string
	replayProduct  string
	replayRunID    string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Reconstruct a past run's source list from its event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		manifest, err := e.Replay.Reconstruct(cmd.Context(), replayCategory, replayProduct, replayRunID)
		if err != nil {
			return err
		}

		zap.L().Info("manifest reconstructed",
			zap.String("run_id", replayRunID),
			zap.Int("sources", len(manifest.Sources)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(manifest)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayCategory, "category", "", "product category (required)")
	replayCmd.Flags().StringVar(&replayProduct, "product", "", "product id (required)")
	replayCmd.Flags().StringVar(&replayRunID, "run", "", "run id (required)")
	_ = replayCmd.MarkFlagRequired("category")
	_ = replayCmd.MarkFlagRequired("product")
	_ = replayCmd.MarkFlagRequired("run")
	rootCmd.AddCommand(replayCmd)
}
