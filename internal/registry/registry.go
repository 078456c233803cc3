// Package registry provides a SQLite-backed ingestion registry. Every
// ingestion and removal is recorded with its outcome, giving `docq status`
// and the documents API a durable view of what was ingested when, without
// querying the vector store. Records survive server restarts.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Event classifies a registry record.
type Event string

const (
	// EventStored means the document's chunks were written to the store.
	EventStored Event = "stored"
	// EventSkipped means ingestion was a no-op.
	EventSkipped Event = "skipped"
	// EventRemoved means the document's chunks were deleted.
	EventRemoved Event = "removed"
)

// Record is one ingestion or removal event.
type Record struct {
	// Source is the logical document identifier.
	Source string
	// DocHash is the document fingerprint ("" for removals).
	DocHash string
	// Event is the outcome class.
	Event Event
	// Reason is set for skipped events.
	Reason string
	// Chunks is the number of chunks stored or removed.
	Chunks int
	// CreatedAt is when the event was recorded.
	CreatedAt time.Time
}

// Registry persists ingestion events in a local SQLite database.
type Registry struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the registry database.
// It resolves to ~/.docq/registry.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("registry: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docq")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("registry: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "registry.db"), nil
}

// Open opens (or creates) a Registry at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Registry, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// migrate creates the schema if it does not already exist.
func (r *Registry) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ingestions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source      TEXT    NOT NULL,
    doc_hash    TEXT    NOT NULL DEFAULT '',
    event       TEXT    NOT NULL CHECK(event IN ('stored','skipped','removed')),
    reason      TEXT    NOT NULL DEFAULT '',
    chunks      INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_ingestions_source_created
    ON ingestions (source, created_at);
`
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

// Record persists a single ingestion event.
func (r *Registry) Record(ctx context.Context, rec Record) error {
	const q = `INSERT INTO ingestions (source, doc_hash, event, reason, chunks, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := r.db.ExecContext(ctx, q, rec.Source, rec.DocHash, string(rec.Event), rec.Reason, rec.Chunks, ts.Unix()); err != nil {
		return fmt.Errorf("registry: record: %w", err)
	}
	return nil
}

// History returns the most recent n events for a source, newest-first.
func (r *Registry) History(ctx context.Context, source string, n int) ([]Record, error) {
	const q = `
SELECT source, doc_hash, event, reason, chunks, created_at
FROM   ingestions
WHERE  source = ?
ORDER  BY created_at DESC, id DESC
LIMIT  ?`
	rows, err := r.db.QueryContext(ctx, q, source, n)
	if err != nil {
		return nil, fmt.Errorf("registry: history: %w", err)
	}
	return scanRecords(rows)
}

// Documents returns the latest event per source, newest-first, for sources
// whose latest event is not a removal. This is the registry's view of what
// is currently ingested.
func (r *Registry) Documents(ctx context.Context) ([]Record, error) {
	const q = `
SELECT source, doc_hash, event, reason, chunks, created_at FROM ingestions
WHERE  id IN (SELECT MAX(id) FROM ingestions GROUP BY source)
  AND  event != 'removed'
ORDER  BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("registry: documents: %w", err)
	}
	return scanRecords(rows)
}

// scanRecords drains a result set of ingestion rows.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var event string
		var ts int64
		if err := rows.Scan(&rec.Source, &rec.DocHash, &event, &rec.Reason, &rec.Chunks, &ts); err != nil {
			return nil, fmt.Errorf("registry: scan: %w", err)
		}
		rec.Event = Event(event)
		rec.CreatedAt = time.Unix(ts, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (r *Registry) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("registry: close: %w", err)
	}
	return nil
}
