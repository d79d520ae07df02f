package registry

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tcc-deals/dealsync/internal/db"
)

// Store provides read/write access to the deals.item_registry table.
// All state transitions are single-statement conditional updates so that
// overlapping runs (e.g. two cron triggers) can never double-claim an item.
type Store struct {
	pool db.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// NewItem is the input shape for registry population.
type NewItem struct {
	SKU         string `json:"sku"`
	MerchantID  int64  `json:"merchant_id"`
	ProductName string `json:"product_name,omitempty"`
}

// Populate inserts one pending row per item not already tracked.
// Idempotent: duplicates on (sku, merchant_id) are ignored.
func (s *Store) Populate(ctx context.Context, items []NewItem) (int64, error) {
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, []any{it.SKU, it.MerchantID, nilIfEmpty(it.ProductName), string(StatusPending)})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "deals.item_registry",
		Columns:      []string{"sku", "merchant_id", "product_name", "status"},
		ConflictKeys: []string{"sku", "merchant_id"},
		IgnoreDupes:  true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "registry: populate")
	}
	return n, nil
}

// ClaimBatch atomically selects up to n pending items and marks them
// processing. Selection order is attempt_count ASC, created_at ASC so the
// least-tried items go first. FOR UPDATE SKIP LOCKED makes concurrent
// callers claim disjoint sets. Returns fewer than n (including zero) when
// fewer are pending; an empty batch means the cycle is complete.
func (s *Store) ClaimBatch(ctx context.Context, n int) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE deals.item_registry ir
		SET status = 'processing', last_attempt_at = now(), updated_at = now()
		FROM (
			SELECT sku, merchant_id FROM deals.item_registry
			WHERE status = 'pending'
			ORDER BY attempt_count ASC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		) next
		WHERE ir.sku = next.sku AND ir.merchant_id = next.merchant_id
		RETURNING ir.sku, ir.merchant_id, ir.product_name, ir.status,
		          ir.attempt_count, ir.last_attempt_at, ir.last_success_at, ir.created_at`,
		n,
	)
	if err != nil {
		return nil, eris.Wrap(err, "registry: claim batch")
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var name *string
		if err := rows.Scan(&it.SKU, &it.MerchantID, &name, &it.Status,
			&it.AttemptCount, &it.LastAttemptAt, &it.LastSuccessAt, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "registry: scan claimed item")
		}
		if name != nil {
			it.ProductName = *name
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkCompleted records a successful sync that persisted at least one
// price observation.
func (s *Store) MarkCompleted(ctx context.Context, sku string, merchantID int64) error {
	return s.markSuccess(ctx, sku, merchantID, StatusCompleted)
}

// MarkNoData records a successful check that found nothing to store.
func (s *Store) MarkNoData(ctx context.Context, sku string, merchantID int64) error {
	return s.markSuccess(ctx, sku, merchantID, StatusNoData)
}

func (s *Store) markSuccess(ctx context.Context, sku string, merchantID int64, status Status) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deals.item_registry
		SET status = $3, attempt_count = attempt_count + 1,
		    last_success_at = now(), error_message = NULL, updated_at = now()
		WHERE sku = $1 AND merchant_id = $2`,
		sku, merchantID, string(status),
	)
	if err != nil {
		return eris.Wrapf(err, "registry: mark %s for %s/%d", status, sku, merchantID)
	}
	return nil
}

// MarkFailed records a failed attempt. last_success_at is left untouched.
func (s *Store) MarkFailed(ctx context.Context, sku string, merchantID int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deals.item_registry
		SET status = 'failed', attempt_count = attempt_count + 1,
		    error_message = $3, updated_at = now()
		WHERE sku = $1 AND merchant_id = $2`,
		sku, merchantID, errMsg,
	)
	if err != nil {
		return eris.Wrapf(err, "registry: mark failed for %s/%d", sku, merchantID)
	}
	return nil
}

// SweepStale resets processing rows whose last attempt is older than
// staleAfter back to pending. attempt_count is preserved so the claim
// ordering still prioritizes less-tried items. The age gate keeps a
// concurrently running batch's rows out of the sweep.
func (s *Store) SweepStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deals.item_registry
		SET status = 'pending', error_message = 'reset by recovery sweep (stale processing)',
		    updated_at = now()
		WHERE status = 'processing' AND last_attempt_at < now() - ($1 * interval '1 second')`,
		staleAfter.Seconds(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "registry: sweep stale")
	}
	return tag.RowsAffected(), nil
}

// ResetFailed is the administrative escape hatch: failed items become
// pending again and their error messages are cleared.
func (s *Store) ResetFailed(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deals.item_registry
		SET status = 'pending', error_message = NULL, updated_at = now()
		WHERE status = 'failed'`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "registry: reset failed")
	}
	return tag.RowsAffected(), nil
}

// Progress aggregates per-status counts and the completion percentage.
func (s *Store) Progress(ctx context.Context) (*Progress, error) {
	var p Progress
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'pending'),
		       count(*) FILTER (WHERE status = 'processing'),
		       count(*) FILTER (WHERE status = 'completed'),
		       count(*) FILTER (WHERE status = 'no_data'),
		       count(*) FILTER (WHERE status = 'failed'),
		       COALESCE(sum(attempt_count), 0)
		FROM deals.item_registry`,
	).Scan(&p.Total, &p.Pending, &p.Processing, &p.Completed, &p.NoData, &p.Failed, &p.TotalAPICallsMade)
	if err != nil {
		return nil, eris.Wrap(err, "registry: progress")
	}

	if p.Total > 0 {
		p.CompletionPercentage = int(math.Round(100 * float64(p.Completed+p.NoData) / float64(p.Total)))
	}

	zap.L().Debug("registry progress",
		zap.Int64("total", p.Total),
		zap.Int64("pending", p.Pending),
		zap.Int("completion_pct", p.CompletionPercentage),
	)
	return &p, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
