package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tcc-deals/dealsync/internal/registry"
	"github.com/tcc-deals/dealsync/internal/syncer"
)

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registry progress and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := syncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		progress, err := registry.NewStore(pool).Progress(ctx)
		if err != nil {
			return eris.Wrap(err, "sync status: progress")
		}
		formatProgress(os.Stdout, progress)

		runs, err := syncer.NewRunLog(pool).ListRecent(ctx, 10)
		if err != nil {
			return eris.Wrap(err, "sync status: recent runs")
		}
		if len(runs) > 0 {
			fmt.Println()
			formatRuns(os.Stdout, runs)
		}
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
}

// formatProgress writes a tabular registry breakdown to w.
func formatProgress(out io.Writer, p *registry.Progress) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TOTAL\tPENDING\tPROCESSING\tCOMPLETED\tNO_DATA\tFAILED\tDONE\tAPI_CALLS")
	_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%d%%\t%d\n",
		p.Total, p.Pending, p.Processing, p.Completed, p.NoData, p.Failed,
		p.CompletionPercentage, p.TotalAPICallsMade,
	)
	_ = w.Flush()
}

// formatRuns writes a tabular representation of recent runs to w.
func formatRuns(out io.Writer, runs []syncer.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tSTATUS\tSTARTED\tDURATION\tPROCESSED\tOK\tNO_DATA\tFAILED\tAPI\tERROR")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		errMsg := ""
		if r.Error != "" {
			errMsg = truncate(r.Error, 60)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			shortID(r.ID.String()),
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.Processed,
			r.Succeeded,
			r.NoData,
			r.Failed,
			r.APICallsUsed,
			errMsg,
		)
	}
	_ = w.Flush()
}

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
