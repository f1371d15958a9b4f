// Package catalog provides a SQLite-backed registry of ingested documents.
// The vector index holds chunks; the catalog holds one summary row per
// document (name, format, chunk count) so listings and deletions never
// need to scan the index. Only summaries are stored — never document
// content.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a document ID has no catalog entry.
var ErrNotFound = errors.New("catalog: document not found")

// Entry is the catalog record for one ingested document.
type Entry struct {
	// DocumentID is the document's content-addressed identifier.
	DocumentID string
	// Name is the human-readable source name.
	Name string
	// Format is the ingested format, "pdf" or "text".
	Format string
	// Chunks is the number of chunks indexed for this document.
	Chunks int
	// Pages is the page count for paginated formats, 0 otherwise.
	Pages int
	// IngestedAt is when the document finished ingestion.
	IngestedAt time.Time
}

// Store persists and retrieves document catalog entries. Implementations
// must be safe for concurrent use.
type Store interface {
	// Record inserts or replaces the entry for a document. Re-ingesting a
	// document overwrites its previous entry.
	Record(ctx context.Context, e Entry) error
	// List returns all entries, most recently ingested first.
	List(ctx context.Context) ([]Entry, error)
	// Get returns the entry for a document, or ErrNotFound.
	Get(ctx context.Context, documentID string) (Entry, error)
	// Remove deletes the entry for a document, or returns ErrNotFound.
	Remove(ctx context.Context, documentID string) error
	// Ping verifies the underlying database is reachable.
	Ping(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteCatalog is a Store backed by a local SQLite database.
type SQLiteCatalog struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the catalog database.
// It resolves to ~/.clinrag/catalog.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("catalog: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".clinrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("catalog: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "catalog.db"), nil
}

// Open opens (or creates) a SQLiteCatalog at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteCatalog, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	c := &SQLiteCatalog{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// migrate creates the schema if it does not already exist.
func (c *SQLiteCatalog) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT    PRIMARY KEY,
    name         TEXT    NOT NULL,
    format       TEXT    NOT NULL CHECK(format IN ('pdf','text')),
    chunks       INTEGER NOT NULL,
    pages        INTEGER NOT NULL DEFAULT 0,
    ingested_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_documents_ingested
    ON documents (ingested_at DESC);
`
	if _, err := c.db.Exec(ddl); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// Record inserts or replaces the entry for a document.
func (c *SQLiteCatalog) Record(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO documents (id, name, format, chunks, pages, ingested_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    format = excluded.format,
    chunks = excluded.chunks,
    pages = excluded.pages,
    ingested_at = excluded.ingested_at`

	at := e.IngestedAt
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := c.db.ExecContext(ctx, q, e.DocumentID, e.Name, e.Format, e.Chunks, e.Pages, at.Unix()); err != nil {
		return fmt.Errorf("catalog: record %s: %w", e.DocumentID, err)
	}
	return nil
}

// List returns all entries, most recently ingested first. Ties are broken
// by name so listings are stable.
func (c *SQLiteCatalog) List(ctx context.Context) ([]Entry, error) {
	const q = `
SELECT id, name, format, chunks, pages, ingested_at
FROM   documents
ORDER  BY ingested_at DESC, name ASC`

	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: list scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list rows: %w", err)
	}
	return entries, nil
}

// Get returns the entry for a document, or ErrNotFound.
func (c *SQLiteCatalog) Get(ctx context.Context, documentID string) (Entry, error) {
	const q = `
SELECT id, name, format, chunks, pages, ingested_at
FROM   documents
WHERE  id = ?`

	row := c.db.QueryRowContext(ctx, q, documentID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: get %s: %w", documentID, err)
	}
	return e, nil
}

// Remove deletes the entry for a document, or returns ErrNotFound when no
// entry exists.
func (c *SQLiteCatalog) Remove(ctx context.Context, documentID string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("catalog: remove %s: %w", documentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: remove %s: %w", documentID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies the database file is reachable and writable.
func (c *SQLiteCatalog) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("catalog: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (c *SQLiteCatalog) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("catalog: close: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var ts int64
	if err := s.Scan(&e.DocumentID, &e.Name, &e.Format, &e.Chunks, &e.Pages, &ts); err != nil {
		return Entry{}, err
	}
	e.IngestedAt = time.Unix(ts, 0)
	return e, nil
}
