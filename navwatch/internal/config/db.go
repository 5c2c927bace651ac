// CLAUDE:SUMMARY Loads watch_pages rows from SQLite and builds a change watcher for hot reload.
package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/spawatch/watch"
)

// Schema for the watch_pages table.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_pages (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	updated_at INTEGER NOT NULL
);
`

// LoadPages reads all active pages from the database.
func LoadPages(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url
		FROM watch_pages
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load pages: %w", err)
	}
	defer rows.Close()

	var pages []PageConfig
	for rows.Next() {
		var p PageConfig
		if err := rows.Scan(&p.ID, &p.URL); err != nil {
			return nil, fmt.Errorf("config: scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// WatchPages creates a watch.Watcher that detects changes to watch_pages
// made by other connections.
func WatchPages(db *sql.DB, logger *slog.Logger) *watch.Watcher {
	return watch.New(db, watch.Options{
		Interval: time.Second,
		Debounce: 500 * time.Millisecond,
		Detector: watch.PragmaDataVersion,
		Logger:   logger,
	})
}
