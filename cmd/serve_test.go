//go:build !integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tcc-deals/dealsync/internal/history"
	"github.com/tcc-deals/dealsync/internal/registry"
	"github.com/tcc-deals/dealsync/internal/syncer"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubRunner struct {
	mu      sync.Mutex
	gotOpts syncer.RunOpts
	result  *syncer.BatchResult
	err     error
	block   chan struct{} // when set, RunBatch waits until closed
}

func (s *stubRunner) RunBatch(_ context.Context, opts syncer.RunOpts) (*syncer.BatchResult, error) {
	s.mu.Lock()
	s.gotOpts = opts
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	return s.result, s.err
}

type stubProgress struct {
	progress *registry.Progress
	err      error
}

func (s *stubProgress) Progress(context.Context) (*registry.Progress, error) {
	return s.progress, s.err
}

type stubDeals struct {
	deals []history.Deal
	err   error
}

func (s *stubDeals) ActiveDeals(context.Context) ([]history.Deal, error) {
	return s.deals, s.err
}

func newTestAPI() *syncAPI {
	return &syncAPI{
		orchestrator: &stubRunner{result: &syncer.BatchResult{RunID: uuid.New(), Processed: 5, Succeeded: 5}},
		registry:     &stubProgress{progress: &registry.Progress{Total: 100, Completed: 40, CompletionPercentage: 40}},
		history:      &stubDeals{},
		defaults:     syncer.RunOpts{BatchSize: 50, MaxAPICalls: 200},
	}
}

func TestServe_Healthz(t *testing.T) {
	srv := httptest.NewServer(newTestAPI().routes([]string{"*"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestServe_Progress(t *testing.T) {
	srv := httptest.NewServer(newTestAPI().routes([]string{"*"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sync/progress")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p registry.Progress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, int64(100), p.Total)
	assert.Equal(t, 40, p.CompletionPercentage)
}

func TestServe_ProgressError(t *testing.T) {
	api := newTestAPI()
	api.registry = &stubProgress{err: fmt.Errorf("connection refused")}
	srv := httptest.NewServer(api.routes([]string{"*"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sync/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServe_RunDefaults(t *testing.T) {
	api := newTestAPI()
	runner := api.orchestrator.(*stubRunner)
	srv := httptest.NewServer(api.routes([]string{"*"}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sync/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 50, runner.gotOpts.BatchSize)
	assert.Equal(t, 200, runner.gotOpts.MaxAPICalls)

	var result syncer.BatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 5, result.Processed)
}

func TestServe_RunOverrides(t *testing.T) {
	api := newTestAPI()
	runner := api.orchestrator.(*stubRunner)
	srv := httptest.NewServer(api.routes([]string{"*"}))
	defer srv.Close()

	body := strings.NewReader(`{"batch_size": 10, "max_api_calls": 25}`)
	resp, err := http.Post(srv.URL+"/sync/run", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 10, runner.gotOpts.BatchSize)
	assert.Equal(t, 25, runner.gotOpts.MaxAPICalls)
}

func TestServe_RunBadBody(t *testing.T) {
	srv := httptest.NewServer(newTestAPI().routes([]string{"*"}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sync/run", "application/json", strings.NewReader("{nope"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_RunConflictWhileInFlight(t *testing.T) {
	api := newTestAPI()
	runner := api.orchestrator.(*stubRunner)
	runner.block = make(chan struct{})
	srv := httptest.NewServer(api.routes([]string{"*"}))
	defer srv.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := http.Post(srv.URL+"/sync/run", "application/json", nil)
		if err == nil {
			resp.Body.Close()
		}
	}()

	// Wait for the first request to take the lock.
	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.gotOpts.BatchSize != 0
	}, time.Second, 5*time.Millisecond)

	resp, err := http.Post(srv.URL+"/sync/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(runner.block)
	<-done
}

func TestServe_Deals(t *testing.T) {
	api := newTestAPI()
	api.history = &stubDeals{deals: []history.Deal{
		{ProductSKU: "SKU-1", MerchantID: 18557, ProductName: "Down Jacket", RecordedDate: "2025-06-27", Price: 89.99, DiscountPercent: 25},
	}}
	srv := httptest.NewServer(api.routes([]string{"*"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/deals")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deals []history.Deal
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&deals))
	require.Len(t, deals, 1)
	assert.Equal(t, "Down Jacket", deals[0].ProductName)
}

func TestServe_DealsEmptyIsArray(t *testing.T) {
	srv := httptest.NewServer(newTestAPI().routes([]string{"*"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/deals")
	require.NoError(t, err)
	defer resp.Body.Close()

	var deals []history.Deal
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&deals))
	assert.NotNil(t, deals)
	assert.Empty(t, deals)
}

func TestServe_CORSHeaders(t *testing.T) {
	srv := httptest.NewServer(newTestAPI().routes([]string{"https://deals.example.com"}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://deals.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://deals.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
