// CLAUDE:SUMMARY SQLite journal sink persisting every lifecycle event for later inspection.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

// JournalSchema creates the nav_events table.
const JournalSchema = `
CREATE TABLE IF NOT EXISTS nav_events (
	id           TEXT PRIMARY KEY,
	page_id      TEXT NOT NULL,
	action       TEXT NOT NULL,
	url          TEXT NOT NULL,
	previous_url TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	timestamp    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nav_events_page ON nav_events(page_id, timestamp);
`

// Journal appends events to a SQLite table. The caller owns db and must
// apply JournalSchema (dbopen.WithSchema) before use.
type Journal struct {
	db *sql.DB
}

// NewJournal creates a Journal on an open database.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Send(ctx context.Context, ev navigation.Event) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO nav_events (id, page_id, action, url, previous_url, title, timestamp)
		VALUES (?,?,?,?,?,?,?)`,
		ev.ID, ev.PageID, string(ev.Action), ev.URL, ev.PreviousURL, ev.Title, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty pageID matches
// every page.
func (j *Journal) Recent(ctx context.Context, pageID string, limit int) ([]navigation.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, page_id, action, url, previous_url, title, timestamp
		FROM nav_events
		WHERE (? = '' OR page_id = ?)
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`, pageID, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var events []navigation.Event
	for rows.Next() {
		var ev navigation.Event
		var action string
		if err := rows.Scan(&ev.ID, &ev.PageID, &action, &ev.URL,
			&ev.PreviousURL, &ev.Title, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		ev.Action = navigation.Action(action)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prune deletes events stamped before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM nav_events WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close is a no-op: the database handle belongs to the caller.
func (j *Journal) Close() error { return nil }
