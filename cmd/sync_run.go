package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tcc-deals/dealsync/internal/syncer"
)

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run sync batches",
	Long: `Claims and processes batches of pending items.

Before the first batch, stale processing items (from interrupted runs) are
swept back to pending. By default one batch runs; use --loop to keep running
batches until no pending items remain or the API budget is spent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := syncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := syncer.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "sync run: migrate")
		}

		o, closeCache, err := buildOrchestrator(pool)
		if err != nil {
			return err
		}
		defer closeCache()

		batchSize, _ := cmd.Flags().GetInt("batch-size")
		maxAPICalls, _ := cmd.Flags().GetInt("max-api-calls")
		loop, _ := cmd.Flags().GetBool("loop")
		if batchSize <= 0 {
			batchSize = cfg.Sync.BatchSize
		}
		if !cmd.Flags().Changed("max-api-calls") {
			maxAPICalls = cfg.Sync.MaxAPICalls
		}

		budget := maxAPICalls
		for first := true; ; first = false {
			// The recovery sweep runs once, before the first batch.
			result, err := o.RunBatch(ctx, syncer.RunOpts{
				BatchSize:   batchSize,
				MaxAPICalls: budget,
				Resume:      first,
			})
			if err != nil {
				return eris.Wrap(err, "sync run")
			}

			printBatchResult(result)

			if budget > 0 {
				budget -= result.APICallsUsed
				if budget <= 0 {
					fmt.Println("API budget spent; stopping")
					break
				}
			}
			if !loop || result.Processed == 0 {
				break
			}
		}

		return nil
	},
}

func init() {
	syncRunCmd.Flags().Int("batch-size", 0, "items per batch (default from config)")
	syncRunCmd.Flags().Int("max-api-calls", 0, "API call budget, 0 = unlimited (default from config)")
	syncRunCmd.Flags().Bool("loop", false, "run batches until no pending items remain")
	syncCmd.AddCommand(syncRunCmd)
}

func printBatchResult(r *syncer.BatchResult) {
	fmt.Printf("Batch %s: processed=%d succeeded=%d no_data=%d failed=%d api_calls=%d entries=%d\n",
		r.RunID, r.Processed, r.Succeeded, r.NoData, r.Failed, r.APICallsUsed, r.HistoryEntriesWritten)
	if r.Progress != nil {
		fmt.Printf("Registry: %d/%d done (%d%%)\n",
			r.Progress.Completed+r.Progress.NoData, r.Progress.Total, r.Progress.CompletionPercentage)
	}
}
