// Package registry tracks per-item sync state, making the price-history
// pipeline resumable across interrupted runs.
package registry

import "time"

// Status is the sync lifecycle state of a tracked item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusNoData     Status = "no_data"
	StatusFailed     Status = "failed"
)

// Item is one trackable product offer: a (SKU, merchant) pair plus its
// sync bookkeeping. Rows live in deals.item_registry.
type Item struct {
	SKU           string     `json:"sku"`
	MerchantID    int64      `json:"merchant_id"`
	ProductName   string     `json:"product_name,omitempty"`
	Status        Status     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Progress aggregates registry state for operators and the dashboard.
type Progress struct {
	Total                int64 `json:"total"`
	Pending              int64 `json:"pending"`
	Processing           int64 `json:"processing"`
	Completed            int64 `json:"completed"`
	NoData               int64 `json:"no_data"`
	Failed               int64 `json:"failed"`
	CompletionPercentage int   `json:"completion_percentage"`
	TotalAPICallsMade    int64 `json:"total_api_calls_made"`
}
