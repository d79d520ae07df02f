package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tcc-deals/dealsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dealsync",
	Short: "Resumable price-history sync for affiliate deal aggregation",
	Long:  "Syncs per-item price history from the AvantLink affiliate API into Postgres in resumable, budget-bounded batches.",
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
