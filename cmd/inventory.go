package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var (
	inventoryCategory string
	inventoryProduct  string
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Report evidence index counts for a product",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		inv, err := e.Index.Inventory(cmd.Context(), inventoryCategory, inventoryProduct)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(inv)
	},
}

func init() {
	inventoryCmd.Flags().StringVar(&inventoryCategory, "category", "", "product category (required)")
	inventoryCmd.Flags().StringVar(&inventoryProduct, "product", "", "product id (required)")
	_ = inventoryCmd.MarkFlagRequired("category")
	_ = inventoryCmd.MarkFlagRequired("product")
	rootCmd.AddCommand(inventoryCmd)
}
