// Package history holds price observations: at most one authoritative
// price per item per calendar day.
package history

import "math"

// Observation is one row in deals.price_history. The composite key
// (ProductSKU, MerchantID, RecordedDate) is unique; upserts replace.
type Observation struct {
	ProductSKU        string  `json:"product_sku"`
	MerchantID        int64   `json:"merchant_id"`
	RecordedDate      string  `json:"recorded_date"` // YYYY-MM-DD (UTC)
	Price             float64 `json:"price"`
	IsSale            bool    `json:"is_sale"`
	DiscountPercent   int     `json:"discount_percent"`
	DataSource        string  `json:"data_source"`
	PriceChangeReason string  `json:"price_change_reason,omitempty"`
}

// Deal is the operator-facing view of an item currently selling below
// retail, derived from the most recent observation per item.
type Deal struct {
	ProductSKU      string  `json:"product_sku"`
	MerchantID      int64   `json:"merchant_id"`
	ProductName     string  `json:"product_name,omitempty"`
	RecordedDate    string  `json:"recorded_date"`
	Price           float64 `json:"price"`
	DiscountPercent int     `json:"discount_percent"`
}

// discountPercent derives the rounded discount from retail and sale prices,
// clamped to [0, 100]. Zero when the item is not on sale or retail is unset.
func discountPercent(retail, sale float64) int {
	if retail <= 0 || sale >= retail {
		return 0
	}
	pct := int(math.Round((retail - sale) / retail * 100))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}
