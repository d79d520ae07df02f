package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tcc-deals/dealsync/internal/avantlink"
	"github.com/tcc-deals/dealsync/internal/history"
	"github.com/tcc-deals/dealsync/internal/pricecache"
	"github.com/tcc-deals/dealsync/internal/registry"
	"github.com/tcc-deals/dealsync/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Price-history sync pipeline",
	Long:  "Claims pending items from deals.item_registry, fetches per-item pricing history from AvantLink, and upserts normalized observations into deals.price_history.",
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

// syncPool creates a pgxpool.Pool from cfg.Store.DatabaseURL.
func syncPool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := cfg.Store.DatabaseURL
	if dsn == "" {
		return nil, eris.New("sync: no database_url configured (set store.database_url or DEALSYNC_STORE_DATABASE_URL)")
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sync: parse database url")
	}
	if cfg.Store.MaxConns > 0 {
		pcfg.MaxConns = cfg.Store.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, eris.Wrap(err, "sync: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "sync: ping database")
	}

	fmt.Println("Connected to database")
	return pool, nil
}

// buildOrchestrator wires the registry, adapter, history store, payload
// cache, and run log into an Orchestrator. The returned close func releases
// the cache handle (the pool is the caller's to close).
func buildOrchestrator(pool *pgxpool.Pool) (*syncer.Orchestrator, func(), error) {
	client := avantlink.NewClient(avantlink.Options{
		BaseURL:     cfg.AvantLink.BaseURL,
		AffiliateID: cfg.AvantLink.AffiliateID,
		WebsiteID:   cfg.AvantLink.WebsiteID,
		Timeout:     cfg.AvantLink.Timeout,
		MaxRetries:  cfg.AvantLink.MaxRetries,
		RatePerSec:  cfg.AvantLink.RatePerSec,
		Retention:   time.Duration(cfg.Sync.RetentionDays) * 24 * time.Hour,
	})

	var cache syncer.PayloadCache
	closeCache := func() {}
	if cfg.Cache.Enabled {
		c, err := pricecache.Open(cfg.Cache.Path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "sync: open payload cache")
		}
		cache = c
		closeCache = func() {
			if err := c.Close(); err != nil {
				zap.L().Warn("failed to close payload cache", zap.Error(err))
			}
		}
	}

	o := syncer.New(
		registry.NewStore(pool),
		client,
		history.NewStore(pool),
		cache,
		syncer.NewRunLog(pool),
		syncer.Options{ItemDelay: cfg.Sync.ItemDelay, StaleAfter: cfg.Sync.StaleAfter},
	)
	return o, closeCache, nil
}
