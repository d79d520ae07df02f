package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tcc-deals/dealsync/internal/registry"
)

var syncResetCmd = &cobra.Command{
	Use:   "reset-failed",
	Short: "Return failed items to pending for another attempt",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := syncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		reset, err := registry.NewStore(pool).ResetFailed(ctx)
		if err != nil {
			return eris.Wrap(err, "sync reset-failed")
		}

		fmt.Printf("Reset %d failed items to pending\n", reset)
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncResetCmd)
}
