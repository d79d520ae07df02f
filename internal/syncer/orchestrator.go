// Package syncer drives resumable price-history sync batches: claim pending
// items, fetch and normalize pricing, upsert observations, record per-item
// terminal state.
package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tcc-deals/dealsync/internal/avantlink"
	"github.com/tcc-deals/dealsync/internal/history"
	"github.com/tcc-deals/dealsync/internal/registry"
)

// ItemRegistry is the registry surface the orchestrator needs.
// Implemented by registry.Store.
type ItemRegistry interface {
	ClaimBatch(ctx context.Context, n int) ([]registry.Item, error)
	MarkCompleted(ctx context.Context, sku string, merchantID int64) error
	MarkNoData(ctx context.Context, sku string, merchantID int64) error
	MarkFailed(ctx context.Context, sku string, merchantID int64, errMsg string) error
	SweepStale(ctx context.Context, staleAfter time.Duration) (int64, error)
	Progress(ctx context.Context) (*registry.Progress, error)
}

// PriceSource fetches historical pricing for one item.
// Implemented by avantlink.Client.
type PriceSource interface {
	FetchPriceHistory(ctx context.Context, sku string, merchantID int64) ([]avantlink.PriceEntry, error)
}

// HistoryStore persists normalized observations.
// Implemented by history.Store.
type HistoryStore interface {
	UpsertObservations(ctx context.Context, obs []history.Observation) (int64, error)
}

// PayloadCache replays already-paid-for fetches across interrupted runs.
// Implemented by pricecache.Cache; optional.
type PayloadCache interface {
	Get(ctx context.Context, sku string, merchantID int64, day string) ([]avantlink.PriceEntry, bool, error)
	Put(ctx context.Context, sku string, merchantID int64, day string, entries []avantlink.PriceEntry) error
}

// RunOpts bounds one orchestrator invocation.
type RunOpts struct {
	BatchSize   int  `json:"batch_size"`
	MaxAPICalls int  `json:"max_api_calls"` // 0 = unlimited
	Resume      bool `json:"resume"`        // sweep stale processing items first
}

// BatchResult is the per-invocation progress report returned to the caller.
type BatchResult struct {
	RunID                 uuid.UUID          `json:"run_id"`
	Processed             int                `json:"processed"`
	Succeeded             int                `json:"succeeded"`
	NoData                int                `json:"no_data"`
	Failed                int                `json:"failed"`
	APICallsUsed          int                `json:"api_calls_used"`
	HistoryEntriesWritten int64              `json:"history_entries_written"`
	Remaining             int                `json:"remaining_in_batch"` // claimed but skipped by budget
	Progress              *registry.Progress `json:"progress,omitempty"`
}

// Options configures orchestrator behavior.
type Options struct {
	ItemDelay  time.Duration // fixed delay between items (rate limiting)
	StaleAfter time.Duration // age gate for the resume sweep
	Source     string        // provenance tag; default avantlink.Source
	Now        func() time.Time
}

// Orchestrator runs sync batches. All collaborators are injected; the
// orchestrator is the error boundary — nothing below it aborts a batch
// except batch selection itself.
type Orchestrator struct {
	reg   ItemRegistry
	src   PriceSource
	hist  HistoryStore
	cache PayloadCache // nil disables caching
	runs  *RunLog      // nil disables run logging
	opts  Options
}

// New creates an Orchestrator.
func New(reg ItemRegistry, src PriceSource, hist HistoryStore, cache PayloadCache, runs *RunLog, opts Options) *Orchestrator {
	if opts.Source == "" {
		opts.Source = avantlink.Source
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{reg: reg, src: src, hist: hist, cache: cache, runs: runs, opts: opts}
}

// RunBatch claims and processes one bounded batch of pending items.
// Per-item failures are isolated: the item is marked failed and the batch
// continues. Only a batch-selection failure aborts the run. When the API
// budget runs out mid-batch, remaining claimed items stay processing and
// rely on the recovery sweep.
func (o *Orchestrator) RunBatch(ctx context.Context, opts RunOpts) (*BatchResult, error) {
	log := zap.L().With(zap.String("component", "syncer"))

	result := &BatchResult{RunID: uuid.New()}

	if o.runs != nil {
		if err := o.runs.Start(ctx, result.RunID); err != nil {
			log.Warn("failed to record run start", zap.Error(err))
		}
	}

	if opts.Resume {
		reset, err := o.reg.SweepStale(ctx, o.opts.StaleAfter)
		if err != nil {
			log.Warn("recovery sweep failed", zap.Error(err))
		} else if reset > 0 {
			log.Info("recovery sweep reset stale items", zap.Int64("reset", reset))
		}
	}

	items, err := o.reg.ClaimBatch(ctx, opts.BatchSize)
	if err != nil {
		err = eris.Wrap(err, "syncer: claim batch")
		if o.runs != nil {
			if logErr := o.runs.Fail(ctx, result.RunID, err.Error()); logErr != nil {
				log.Warn("failed to record run failure", zap.Error(logErr))
			}
		}
		return nil, err
	}

	if len(items) == 0 {
		log.Info("no pending items; cycle complete", zap.String("run_id", result.RunID.String()))
	}

	for i, item := range items {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if opts.MaxAPICalls > 0 && result.APICallsUsed >= opts.MaxAPICalls {
			result.Remaining = len(items) - i
			log.Info("api budget exhausted, stopping early",
				zap.Int("api_calls_used", result.APICallsUsed),
				zap.Int("remaining", result.Remaining),
			)
			break
		}

		o.processItem(ctx, item, result)
		result.Processed++

		if i < len(items)-1 {
			o.pause(ctx)
		}
	}

	progress, err := o.reg.Progress(ctx)
	if err != nil {
		log.Warn("failed to read registry progress", zap.Error(err))
	} else {
		result.Progress = progress
	}

	if o.runs != nil {
		if err := o.runs.Complete(ctx, result.RunID, result); err != nil {
			log.Warn("failed to record run completion", zap.Error(err))
		}
	}

	log.Info("batch complete",
		zap.String("run_id", result.RunID.String()),
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("no_data", result.NoData),
		zap.Int("failed", result.Failed),
		zap.Int("api_calls_used", result.APICallsUsed),
		zap.Int64("history_entries_written", result.HistoryEntriesWritten),
	)
	return result, nil
}

// processItem runs the fetch → normalize → upsert → mark sequence for one
// item. Every failure path ends in a terminal registry state.
func (o *Orchestrator) processItem(ctx context.Context, item registry.Item, result *BatchResult) {
	log := zap.L().With(
		zap.String("component", "syncer"),
		zap.String("sku", item.SKU),
		zap.Int64("merchant_id", item.MerchantID),
	)

	day := o.opts.Now().UTC().Format("2006-01-02")

	entries, hit := o.cachedEntries(ctx, item, day)
	if !hit {
		var err error
		entries, err = o.src.FetchPriceHistory(ctx, item.SKU, item.MerchantID)
		result.APICallsUsed++
		if err != nil {
			log.Warn("price fetch failed", zap.Error(err))
			o.markFailed(ctx, item, err)
			result.Failed++
			return
		}
		if o.cache != nil {
			if err := o.cache.Put(ctx, item.SKU, item.MerchantID, day, entries); err != nil {
				log.Warn("payload cache write failed", zap.Error(err))
			}
		}
	}

	obs := history.Normalize(entries, item.SKU, item.MerchantID, o.opts.Source)

	if len(obs) == 0 {
		if err := o.reg.MarkNoData(ctx, item.SKU, item.MerchantID); err != nil {
			log.Error("failed to mark no_data", zap.Error(err))
		}
		result.NoData++
		return
	}

	written, err := o.hist.UpsertObservations(ctx, obs)
	if err != nil {
		// Store-write failures are isolated like adapter failures; the
		// item must not be left processing.
		log.Warn("history upsert failed", zap.Error(err))
		o.markFailed(ctx, item, err)
		result.Failed++
		return
	}
	result.HistoryEntriesWritten += written

	if err := o.reg.MarkCompleted(ctx, item.SKU, item.MerchantID); err != nil {
		log.Error("failed to mark completed", zap.Error(err))
	}
	result.Succeeded++
}

func (o *Orchestrator) cachedEntries(ctx context.Context, item registry.Item, day string) ([]avantlink.PriceEntry, bool) {
	if o.cache == nil {
		return nil, false
	}
	entries, ok, err := o.cache.Get(ctx, item.SKU, item.MerchantID, day)
	if err != nil {
		zap.L().Warn("payload cache read failed", zap.Error(err))
		return nil, false
	}
	if ok {
		zap.L().Debug("payload cache hit",
			zap.String("sku", item.SKU), zap.Int64("merchant_id", item.MerchantID))
	}
	return entries, ok
}

func (o *Orchestrator) markFailed(ctx context.Context, item registry.Item, cause error) {
	if err := o.reg.MarkFailed(ctx, item.SKU, item.MerchantID, cause.Error()); err != nil {
		zap.L().Error("failed to mark item failed",
			zap.String("sku", item.SKU),
			zap.Int64("merchant_id", item.MerchantID),
			zap.Error(err),
		)
	}
}

// pause applies the fixed inter-item delay, honoring ctx.
func (o *Orchestrator) pause(ctx context.Context) {
	if o.opts.ItemDelay <= 0 {
		return
	}
	t := time.NewTimer(o.opts.ItemDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
