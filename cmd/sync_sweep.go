package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tcc-deals/dealsync/internal/registry"
)

var syncSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reset stale processing items to pending",
	Long:  "Items left processing by an interrupted run are returned to pending once their last attempt is older than sync.stale_after. Attempt counts are preserved.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := syncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		reset, err := registry.NewStore(pool).SweepStale(ctx, cfg.Sync.StaleAfter)
		if err != nil {
			return eris.Wrap(err, "sync sweep")
		}

		fmt.Printf("Reset %d stale items to pending\n", reset)
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncSweepCmd)
}
