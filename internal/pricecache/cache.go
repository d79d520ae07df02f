// Package pricecache is a local cache of fetched price entries, keyed by
// (sku, merchant, calendar day). An interrupted run that already paid API
// quota for an item can replay the payload on the next run instead of
// re-billing the call.
package pricecache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/tcc-deals/dealsync/internal/avantlink"
)

// Cache stores parsed price entries in a local SQLite file.
type Cache struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at the given path and
// configures WAL mode.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "pricecache: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "pricecache: exec %s", pragma)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS payload_cache (
	sku         TEXT NOT NULL,
	merchant_id INTEGER NOT NULL,
	fetched_day TEXT NOT NULL,
	entries     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (sku, merchant_id, fetched_day)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "pricecache: create schema")
	}

	return &Cache{db: db}, nil
}

// Get returns the cached entries for an item fetched on the given UTC day.
// A miss is (nil, false, nil), never an error.
func (c *Cache) Get(ctx context.Context, sku string, merchantID int64, day string) ([]avantlink.PriceEntry, bool, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		"SELECT entries FROM payload_cache WHERE sku = ? AND merchant_id = ? AND fetched_day = ?",
		sku, merchantID, day,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "pricecache: get %s/%d", sku, merchantID)
	}

	var entries []avantlink.PriceEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		// A corrupt row is treated as a miss; the next Put overwrites it.
		return nil, false, nil
	}
	return entries, true, nil
}

// Put stores the entries for an item fetched on the given UTC day,
// replacing any prior payload for the same key.
func (c *Cache) Put(ctx context.Context, sku string, merchantID int64, day string, entries []avantlink.PriceEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return eris.Wrap(err, "pricecache: marshal entries")
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO payload_cache (sku, merchant_id, fetched_day, entries) VALUES (?, ?, ?, ?)
		 ON CONFLICT (sku, merchant_id, fetched_day) DO UPDATE SET entries = excluded.entries, created_at = datetime('now')`,
		sku, merchantID, day, string(raw),
	)
	if err != nil {
		return eris.Wrapf(err, "pricecache: put %s/%d", sku, merchantID)
	}
	return nil
}

// Prune removes cache rows older than the given number of days.
func (c *Cache) Prune(ctx context.Context, olderThanDays int) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM payload_cache WHERE created_at < datetime('now', ?)",
		fmt.Sprintf("-%d days", olderThanDays),
	)
	if err != nil {
		return 0, eris.Wrap(err, "pricecache: prune")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
