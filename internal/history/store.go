package history

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/tcc-deals/dealsync/internal/db"
)

// Store provides write and read access to the deals.price_history table.
type Store struct {
	pool db.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

var observationColumns = []string{
	"product_sku", "merchant_id", "recorded_date",
	"price", "is_sale", "discount_percent", "data_source", "price_change_reason",
}

// UpsertObservations writes observations with insert-or-replace semantics on
// (product_sku, merchant_id, recorded_date). Re-running the same batch
// converges to the same row count. Returns rows written.
func (s *Store) UpsertObservations(ctx context.Context, obs []Observation) (int64, error) {
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, []any{
			o.ProductSKU, o.MerchantID, o.RecordedDate,
			o.Price, o.IsSale, o.DiscountPercent, o.DataSource, o.PriceChangeReason,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "deals.price_history",
		Columns:      observationColumns,
		ConflictKeys: []string{"product_sku", "merchant_id", "recorded_date"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "history: upsert observations")
	}
	return n, nil
}

// ActiveDeals returns the items whose most recent observation is a sale,
// joined with the registry for product names. Ordered by deepest discount.
func (s *Store) ActiveDeals(ctx context.Context) ([]Deal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT latest.product_sku, latest.merchant_id, COALESCE(ir.product_name, ''),
		       latest.recorded_date::text, latest.price, latest.discount_percent
		FROM (
			SELECT DISTINCT ON (product_sku, merchant_id)
			       product_sku, merchant_id, recorded_date, price, is_sale, discount_percent
			FROM deals.price_history
			ORDER BY product_sku, merchant_id, recorded_date DESC
		) latest
		LEFT JOIN deals.item_registry ir
		       ON ir.sku = latest.product_sku AND ir.merchant_id = latest.merchant_id
		WHERE latest.is_sale
		ORDER BY latest.discount_percent DESC, latest.product_sku`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "history: active deals")
	}
	defer rows.Close()

	var deals []Deal
	for rows.Next() {
		var d Deal
		if err := rows.Scan(&d.ProductSKU, &d.MerchantID, &d.ProductName,
			&d.RecordedDate, &d.Price, &d.DiscountPercent); err != nil {
			return nil, eris.Wrap(err, "history: scan deal")
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}
