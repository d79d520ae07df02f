package syncer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tcc-deals/dealsync/internal/avantlink"
	"github.com/tcc-deals/dealsync/internal/history"
	"github.com/tcc-deals/dealsync/internal/registry"
)

func init() {
	// Replace global logger with a no-op to avoid noisy test output.
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeRegistry struct {
	items      []registry.Item
	claimErr   error
	completed  []string
	noData     []string
	failed     map[string]string
	sweepCalls int
	sweepReset int64
}

func newFakeRegistry(items ...registry.Item) *fakeRegistry {
	return &fakeRegistry{items: items, failed: map[string]string{}}
}

func (f *fakeRegistry) ClaimBatch(_ context.Context, n int) ([]registry.Item, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if n > len(f.items) {
		n = len(f.items)
	}
	return f.items[:n], nil
}

func (f *fakeRegistry) MarkCompleted(_ context.Context, sku string, _ int64) error {
	f.completed = append(f.completed, sku)
	return nil
}

func (f *fakeRegistry) MarkNoData(_ context.Context, sku string, _ int64) error {
	f.noData = append(f.noData, sku)
	return nil
}

func (f *fakeRegistry) MarkFailed(_ context.Context, sku string, _ int64, errMsg string) error {
	f.failed[sku] = errMsg
	return nil
}

func (f *fakeRegistry) SweepStale(_ context.Context, _ time.Duration) (int64, error) {
	f.sweepCalls++
	return f.sweepReset, nil
}

func (f *fakeRegistry) Progress(_ context.Context) (*registry.Progress, error) {
	return &registry.Progress{Total: int64(len(f.items))}, nil
}

type fakeSource struct {
	entries map[string][]avantlink.PriceEntry
	errs    map[string]error
	calls   int
}

func (f *fakeSource) FetchPriceHistory(_ context.Context, sku string, _ int64) ([]avantlink.PriceEntry, error) {
	f.calls++
	if err := f.errs[sku]; err != nil {
		return nil, err
	}
	return f.entries[sku], nil
}

type fakeHistory struct {
	written []history.Observation
	err     error
}

func (f *fakeHistory) UpsertObservations(_ context.Context, obs []history.Observation) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.written = append(f.written, obs...)
	return int64(len(obs)), nil
}

type fakeCache struct {
	store map[string][]avantlink.PriceEntry
	puts  int
}

func cacheKey(sku string, merchantID int64, day string) string {
	return fmt.Sprintf("%s/%d/%s", sku, merchantID, day)
}

func (f *fakeCache) Get(_ context.Context, sku string, merchantID int64, day string) ([]avantlink.PriceEntry, bool, error) {
	entries, ok := f.store[cacheKey(sku, merchantID, day)]
	return entries, ok, nil
}

func (f *fakeCache) Put(_ context.Context, sku string, merchantID int64, day string, entries []avantlink.PriceEntry) error {
	if f.store == nil {
		f.store = map[string][]avantlink.PriceEntry{}
	}
	f.store[cacheKey(sku, merchantID, day)] = entries
	f.puts++
	return nil
}

func item(sku string) registry.Item {
	return registry.Item{SKU: sku, MerchantID: 18557, Status: registry.StatusProcessing}
}

func entriesFor(date string) []avantlink.PriceEntry {
	return []avantlink.PriceEntry{{Date: date, Retail: 119.99, Sale: 89.99}}
}

func TestRunBatch_AllSucceed(t *testing.T) {
	reg := newFakeRegistry(item("SKU-1"), item("SKU-2"))
	src := &fakeSource{entries: map[string][]avantlink.PriceEntry{
		"SKU-1": entriesFor("2025-06-25"),
		"SKU-2": entriesFor("2025-06-26"),
	}}
	hist := &fakeHistory{}

	o := New(reg, src, hist, nil, nil, Options{})
	result, err := o.RunBatch(context.Background(), RunOpts{BatchSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.APICallsUsed)
	assert.Equal(t, int64(2), result.HistoryEntriesWritten)
	assert.ElementsMatch(t, []string{"SKU-1", "SKU-2"}, reg.completed)
	require.NotNil(t, result.Progress)
}

func TestRunBatch_FailureIsolation(t *testing.T) {
	// One item failing must not abort the batch or touch its neighbors.
	reg := newFakeRegistry(item("SKU-1"), item("SKU-2"), item("SKU-3"))
	src := &fakeSource{
		entries: map[string][]avantlink.PriceEntry{
			"SKU-1": entriesFor("2025-06-25"),
			"SKU-3": entriesFor("2025-06-25"),
		},
		errs: map[string]error{"SKU-2": fmt.Errorf("http 500")},
	}
	hist := &fakeHistory{}

	o := New(reg, src, hist, nil, nil, Options{})
	result, err := o.RunBatch(context.Background(), RunOpts{BatchSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, reg.failed["SKU-2"], "http 500")
	assert.ElementsMatch(t, []string{"SKU-1", "SKU-3"}, reg.completed)
}

func TestRunBatch_NoDataPath(t *testing.T) {
	reg := newFakeRegistry(item("SKU-1"))
	src := &fakeSource{} // returns no entries
	hist := &fakeHistory{}

	o := New(reg, src, hist, nil, nil, Options{})
	result, err := o.RunBatch(context.Background(), RunOpts{BatchSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 1, result.NoData)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, []string{"SKU-1"}, reg.noData)
	assert.Empty(t, hist.written)
}

func TestRunBatch_UpsertFailureMarksFailed(t *testing.T) {
	reg := newFakeRegistry(item("SKU-1"))
	src := &fakeSource{entries: map[string][]avantlink.PriceEntry{
		"SKU-1": entriesFor("2025-06-25"),
	}}
	hist := &fakeHistory{err: fmt.Errorf("deadlock detected")}

	o := New(reg, src, hist, nil, nil, Options{})
	result, err := o.RunBatch(context.Background(), RunOpts{BatchSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, reg.failed["SKU-1"], "deadlock")
	assert.Empty(t, reg.completed)
}

func TestRunBatch_BudgetTruncation(t *testing.T) {
	// Budget of 2 calls against 4 claimed items: the last two are skipped
	// and reported as remaining.
	reg := newFakeRegistry(item("SKU-1"), item("SKU-2"), item("SKU-3"), item("SKU-4"))
	src := &fakeSource{entries: map[string][]avantlink.PriceEntry{
		"SKU-1": entriesFor("2025-06-25"),
		"SKU-2": entriesFor("2025-06-25"),
	}}
	hist := &fakeHistory{}

	o := New(reg, src, hist, nil, nil, Options{})
	result, err := o.RunBatch(context.Background(), RunOpts{BatchSize: 10, MaxAPICalls: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.APICallsUsed)
	assert.Equal(t, 2, result.Remaining)
	assert.Equal(t, 2, src.calls)
}

func TestRunBatch_EmptyBatch(t *testing.T) {
	reg := newFakeRegistry()
	o := New(reg, &fakeSource{}, &fakeHistory{}, nil, nil, Options{})

	result, err := o.RunBatch(context.Background(), RunOpts{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 0, result.APICallsUsed)
}

func TestRunBatch_ClaimErrorAborts(t *testing.T) {
	reg := newFakeRegistry()
	reg.claimErr = fmt.Errorf("connection refused")

	o := New(reg, &fakeSource{}, &fakeHistory{}, nil, nil, Options{})
	_, err := o.RunBatch(context.Background(), RunOpts{BatchSize: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim batch")
}

func TestRunBatch_CacheHitSkipsAPICall(t *testing.T) {
	now := func() time.Time { return time.Date(2025, 6, 28, 12, 0, 0, 0, time.UTC) }
	cache := &fakeCache{store: map[string][]avantlink.PriceEntry{
		cacheKey("SKU-1", 18557, "2025-06-28"): entriesFor("2025-06-25"),
	}}
	reg := newFakeRegistry(item("SKU-1"))
	src := &fakeSource{}
	hist := &fakeHistory{}

	o := New(reg, src, hist, cache, nil, Options{Now: now})
	result, err := o.RunBatch(context.Background(), RunOpts{BatchSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 0, src.calls, "cached payload must not trigger a fetch")
	assert.Equal(t, 0, result.APICallsUsed)
	assert.Equal(t, 1, result.Succeeded)
}

func TestRunBatch_FetchPopulatesCache(t *testing.T) {
	now := func() time.Time { return time.Date(2025, 6, 28, 12, 0, 0, 0, time.UTC) }
	cache := &fakeCache{}
	reg := newFakeRegistry(item("SKU-1"))
	src := &fakeSource{entries: map[string][]avantlink.PriceEntry{
		"SKU-1": entriesFor("2025-06-25"),
	}}

	o := New(reg, src, &fakeHistory{}, cache, nil, Options{Now: now})
	_, err := o.RunBatch(context.Background(), RunOpts{BatchSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 1, cache.puts)
	_, ok, _ := cache.Get(context.Background(), "SKU-1", 18557, "2025-06-28")
	assert.True(t, ok)
}

func TestRunBatch_ResumeSweepsBeforeClaim(t *testing.T) {
	reg := newFakeRegistry()
	reg.sweepReset = 3

	o := New(reg, &fakeSource{}, &fakeHistory{}, nil, nil, Options{StaleAfter: 10 * time.Minute})

	_, err := o.RunBatch(context.Background(), RunOpts{BatchSize: 10, Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.sweepCalls)

	_, err = o.RunBatch(context.Background(), RunOpts{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.sweepCalls, "no sweep without resume")
}

func TestRunBatch_ContextCancellation(t *testing.T) {
	reg := newFakeRegistry(item("SKU-1"), item("SKU-2"))
	src := &fakeSource{entries: map[string][]avantlink.PriceEntry{
		"SKU-1": entriesFor("2025-06-25"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(reg, src, &fakeHistory{}, nil, nil, Options{})
	_, err := o.RunBatch(ctx, RunOpts{BatchSize: 10})
	require.ErrorIs(t, err, context.Canceled)
}
