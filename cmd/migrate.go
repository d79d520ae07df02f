package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tcc-deals/dealsync/internal/syncer"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := syncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := syncer.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "migrate")
		}

		fmt.Println("Migrations up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
