// Package store is the durable persistence edge: SQLite-backed (pure Go
// driver) repositories for Comments, Activities, Presence records, and
// Notifications, plus stub Artifact/User lookups the Hub uses to validate
// ids without owning those schemas. Grounded on
// original_source/backend/models/collaboration.py's table shapes and on
// scalytics-KafClaw's internal/timeline.Service, the pack's own example of
// a plain database/sql + modernc.org/sqlite repository (no ORM).
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the shared *sql.DB; repositories are thin method sets over it.
type DB struct {
	conn *sql.DB
}

// Open creates (or attaches to) a SQLite database at path and applies the
// schema. path may be ":memory:" for tests.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_pragma=foreign_keys(1)"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if _, err := conn.Exec(Schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error { return d.conn.Close() }

// Comments returns a repository bound to this database.
func (d *DB) Comments() *CommentRepo { return &CommentRepo{db: d.conn} }

// Activities returns a repository bound to this database.
func (d *DB) Activities() *ActivityRepo { return &ActivityRepo{db: d.conn} }

// Presence returns a repository bound to this database.
func (d *DB) Presence() *PresenceRepo { return &PresenceRepo{db: d.conn} }

// Notifications returns a repository bound to this database.
func (d *DB) Notifications() *NotificationRepo { return &NotificationRepo{db: d.conn} }

// Users returns the stub UserLookup/display-name repository.
func (d *DB) Users() *UserRepo { return &UserRepo{db: d.conn} }

// Artifacts returns the stub ArtifactLookup repository.
func (d *DB) Artifacts() *ArtifactRepo { return &ArtifactRepo{db: d.conn} }

// Embeddings returns a repository bound to this database.
func (d *DB) Embeddings() *EmbeddingRepo { return &EmbeddingRepo{db: d.conn} }
