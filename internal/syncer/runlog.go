package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/tcc-deals/dealsync/internal/db"
)

// RunEntry represents a row in deals.sync_runs.
type RunEntry struct {
	ID                    uuid.UUID  `json:"id"`
	Status                string     `json:"status"`
	StartedAt             time.Time  `json:"started_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	Processed             int        `json:"processed"`
	Succeeded             int        `json:"succeeded"`
	NoData                int        `json:"no_data"`
	Failed                int        `json:"failed"`
	APICallsUsed          int        `json:"api_calls_used"`
	HistoryEntriesWritten int64      `json:"history_entries_written"`
	Error                 string     `json:"error,omitempty"`
}

// RunLog provides read/write access to the deals.sync_runs table. Callers
// re-invoke the pipeline many times; the run log is the operator's record
// of what each invocation did.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog backed by the given connection pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of a batch run.
func (r *RunLog) Start(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO deals.sync_runs (id, status, started_at) VALUES ($1, 'running', now())`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: start run %s", id)
	}
	return nil
}

// Complete marks a run as finished with its counters.
func (r *RunLog) Complete(ctx context.Context, id uuid.UUID, result *BatchResult) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deals.sync_runs
		 SET status = 'complete', completed_at = now(),
		     processed = $1, succeeded = $2, no_data = $3, failed = $4,
		     api_calls_used = $5, history_entries_written = $6
		 WHERE id = $7`,
		result.Processed, result.Succeeded, result.NoData, result.Failed,
		result.APICallsUsed, result.HistoryEntriesWritten, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %s", id)
	}
	return nil
}

// Fail marks a run as aborted with an error message.
func (r *RunLog) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deals.sync_runs
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %s", id)
	}
	return nil
}

// ListRecent returns the most recent runs, newest first.
func (r *RunLog) ListRecent(ctx context.Context, limit int) ([]RunEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, status, started_at, completed_at, processed, succeeded,
		        no_data, failed, api_calls_used, history_entries_written, error
		 FROM deals.sync_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list recent")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		var errStr *string
		if err := rows.Scan(&e.ID, &e.Status, &e.StartedAt, &e.CompletedAt,
			&e.Processed, &e.Succeeded, &e.NoData, &e.Failed,
			&e.APICallsUsed, &e.HistoryEntriesWritten, &errStr); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
