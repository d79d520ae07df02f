package history

import (
	"sort"

	"github.com/tcc-deals/dealsync/internal/avantlink"
)

// sourceRank orders provenance tags by authority. Higher wins a same-day
// conflict. Unknown sources rank lowest.
var sourceRank = map[string]int{
	avantlink.Source: 3,
	"backfill":       2,
	"manual":         1,
}

// FromEntries converts validated adapter entries into observations for one
// item. No deduplication happens here; see Dedupe.
func FromEntries(entries []avantlink.PriceEntry, sku string, merchantID int64, source string) []Observation {
	obs := make([]Observation, 0, len(entries))
	for _, e := range entries {
		obs = append(obs, Observation{
			ProductSKU:        sku,
			MerchantID:        merchantID,
			RecordedDate:      e.Date,
			Price:             e.Sale,
			IsSale:            e.Sale < e.Retail,
			DiscountPercent:   discountPercent(e.Retail, e.Sale),
			DataSource:        source,
			PriceChangeReason: e.ChangeReason,
		})
	}
	return obs
}

// Dedupe collapses observations to at most one per recorded date, resolving
// conflicts by quality. Output is sorted by date ascending.
func Dedupe(obs []Observation) []Observation {
	best := make(map[string]Observation, len(obs))
	for _, o := range obs {
		cur, seen := best[o.RecordedDate]
		if !seen || better(o, cur) {
			best[o.RecordedDate] = o
		}
	}

	out := make([]Observation, 0, len(best))
	for _, o := range best {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedDate < out[j].RecordedDate })
	return out
}

// Normalize converts adapter entries into deduplicated observations:
// at most one per calendar day.
func Normalize(entries []avantlink.PriceEntry, sku string, merchantID int64, source string) []Observation {
	return Dedupe(FromEntries(entries, sku, merchantID, source))
}

// better reports whether a should replace b for the same date. Precedence,
// highest first: valid price, non-zero discount, more authoritative source,
// has a change reason, lower price (conservative on noisy duplicate scrapes).
func better(a, b Observation) bool {
	aValid, bValid := a.Price > 0, b.Price > 0
	if aValid != bValid {
		return aValid
	}

	aDisc, bDisc := a.DiscountPercent > 0, b.DiscountPercent > 0
	if aDisc != bDisc {
		return aDisc
	}

	if ra, rb := sourceRank[a.DataSource], sourceRank[b.DataSource]; ra != rb {
		return ra > rb
	}

	aReason, bReason := a.PriceChangeReason != "", b.PriceChangeReason != ""
	if aReason != bReason {
		return aReason
	}

	return a.Price < b.Price
}
