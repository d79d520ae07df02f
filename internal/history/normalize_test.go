package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcc-deals/dealsync/internal/avantlink"
)

func TestNormalize_OneObservationPerDate(t *testing.T) {
	entries := []avantlink.PriceEntry{
		{Date: "2025-06-25", Retail: 119.99, Sale: 89.99},
		{Date: "2025-06-25", Retail: 119.99, Sale: 84.99},
		{Date: "2025-06-26", Retail: 119.99, Sale: 119.99},
	}

	obs := Normalize(entries, "SKU-1", 18557, avantlink.Source)
	require.Len(t, obs, 2)

	seen := map[string]int{}
	for _, o := range obs {
		seen[o.RecordedDate]++
	}
	for date, n := range seen {
		assert.Equal(t, 1, n, date)
	}
}

func TestNormalize_DerivesSaleAndDiscount(t *testing.T) {
	entries := []avantlink.PriceEntry{
		{Date: "2025-06-25", Retail: 119.99, Sale: 89.99},
		{Date: "2025-06-26", Retail: 100.00, Sale: 100.00},
	}

	obs := Normalize(entries, "SKU-1", 18557, avantlink.Source)
	require.Len(t, obs, 2)

	assert.True(t, obs[0].IsSale)
	assert.Equal(t, 25, obs[0].DiscountPercent)
	assert.InDelta(t, 89.99, obs[0].Price, 0.001)

	assert.False(t, obs[1].IsSale)
	assert.Equal(t, 0, obs[1].DiscountPercent)
}

func TestDedupe_ValidPriceBeatsZero(t *testing.T) {
	obs := Dedupe([]Observation{
		{RecordedDate: "2025-01-01", Price: 0},
		{RecordedDate: "2025-01-01", Price: 45.00},
	})
	require.Len(t, obs, 1)
	assert.InDelta(t, 45.00, obs[0].Price, 0.001)
}

func TestDedupe_DiscountBeatsNoDiscount(t *testing.T) {
	obs := Dedupe([]Observation{
		{RecordedDate: "2025-01-01", Price: 80, DiscountPercent: 0},
		{RecordedDate: "2025-01-01", Price: 90, DiscountPercent: 25},
	})
	require.Len(t, obs, 1)
	assert.Equal(t, 25, obs[0].DiscountPercent)
}

func TestDedupe_AuthoritativeSourceWins(t *testing.T) {
	obs := Dedupe([]Observation{
		{RecordedDate: "2025-01-01", Price: 80, DiscountPercent: 10, DataSource: "manual"},
		{RecordedDate: "2025-01-01", Price: 90, DiscountPercent: 10, DataSource: avantlink.Source},
	})
	require.Len(t, obs, 1)
	assert.Equal(t, avantlink.Source, obs[0].DataSource)
}

func TestDedupe_ChangeReasonBreaksSourceTie(t *testing.T) {
	obs := Dedupe([]Observation{
		{RecordedDate: "2025-01-01", Price: 80, DiscountPercent: 10, DataSource: avantlink.Source},
		{RecordedDate: "2025-01-01", Price: 90, DiscountPercent: 10, DataSource: avantlink.Source, PriceChangeReason: "Sale Price Change"},
	})
	require.Len(t, obs, 1)
	assert.Equal(t, "Sale Price Change", obs[0].PriceChangeReason)
}

func TestDedupe_LowerPriceFinalTiebreak(t *testing.T) {
	obs := Dedupe([]Observation{
		{RecordedDate: "2025-01-01", Price: 89.99, DiscountPercent: 10, DataSource: avantlink.Source},
		{RecordedDate: "2025-01-01", Price: 84.99, DiscountPercent: 10, DataSource: avantlink.Source},
	})
	require.Len(t, obs, 1)
	assert.InDelta(t, 84.99, obs[0].Price, 0.001)
}

func TestDedupe_SortedByDate(t *testing.T) {
	obs := Dedupe([]Observation{
		{RecordedDate: "2025-03-01", Price: 10},
		{RecordedDate: "2025-01-01", Price: 10},
		{RecordedDate: "2025-02-01", Price: 10},
	})
	require.Len(t, obs, 3)
	assert.Equal(t, "2025-01-01", obs[0].RecordedDate)
	assert.Equal(t, "2025-02-01", obs[1].RecordedDate)
	assert.Equal(t, "2025-03-01", obs[2].RecordedDate)
}

func TestDedupe_Empty(t *testing.T) {
	assert.Empty(t, Dedupe(nil))
}

func TestDiscountPercent(t *testing.T) {
	assert.Equal(t, 25, discountPercent(119.99, 89.99))
	assert.Equal(t, 0, discountPercent(100, 100))
	assert.Equal(t, 0, discountPercent(100, 120))
	assert.Equal(t, 0, discountPercent(0, 50))
	assert.Equal(t, 50, discountPercent(200, 100))
}
