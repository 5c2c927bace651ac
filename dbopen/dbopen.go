// Package dbopen opens the SQLite databases navwatch writes to (event
// journal, page registry). Pragmas go into the modernc DSN as _pragma
// parameters so every pooled connection gets them, not just the first.
//
// Usage:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("navwatch.db", dbopen.WithSchema(sink.JournalSchema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const modernc = "sqlite"

type config struct {
	driver      string
	busyTimeout int
	synchronous string
	mkdirAll    bool
	schemas     []string
}

// Option customises Open behaviour.
type Option func(*config)

// WithDriver sets the database/sql driver name. Default: "sqlite". Other
// drivers get the pragmas through Exec on one connection only.
func WithDriver(name string) Option { return func(c *config) { c.driver = name } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema queues SQL to execute once the database is open.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

func (c *config) pragmas() []string {
	return []string{
		fmt.Sprintf("busy_timeout(%d)", c.busyTimeout),
		"journal_mode(WAL)",
		fmt.Sprintf("synchronous(%s)", c.synchronous),
		"foreign_keys(1)",
	}
}

// dsn appends the pragmas to path in the _pragma form the modernc driver
// runs on every new connection.
func (c *config) dsn(path string) string {
	q := make([]string, 0, 4)
	for _, p := range c.pragmas() {
		q = append(q, "_pragma="+url.QueryEscape(p))
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(q, "&")
}

// Open opens an SQLite database at path. The caller must blank-import the
// driver (modernc.org/sqlite) before calling Open.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := config{driver: modernc, busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && !strings.HasPrefix(path, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(strings.TrimPrefix(path, "file:")), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	dsn := path
	if cfg.driver == modernc {
		dsn = cfg.dsn(path)
	}
	db, err := sql.Open(cfg.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}

	if cfg.driver != modernc {
		for _, p := range cfg.pragmas() {
			stmt := "PRAGMA " + strings.Replace(strings.TrimSuffix(p, ")"), "(", " = ", 1)
			if _, err := db.Exec(stmt); err != nil {
				db.Close()
				return nil, fmt.Errorf("dbopen: %s: %w", stmt, err)
			}
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping: %w", err)
	}
	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing. It pins the
// pool to one connection (each ":memory:" connection is a separate
// database) and closes it on test cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
