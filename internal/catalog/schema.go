// Package catalog mirrors loaded vocabulary into SQLite, with optional FTS5
// full-text search over terms, aliases and bodies.
package catalog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS books (
	path       TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL DEFAULT '',
	term_count INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS terms (
	book     TEXT NOT NULL REFERENCES books(path) ON DELETE CASCADE,
	node_id  TEXT NOT NULL,
	position INTEGER NOT NULL,
	term     TEXT NOT NULL,
	aliases  TEXT NOT NULL DEFAULT '[]',
	body     TEXT NOT NULL DEFAULT '',
	color    INTEGER NOT NULL DEFAULT 0,
	mastered INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (book, node_id)
);

CREATE INDEX IF NOT EXISTS idx_terms_term ON terms(term COLLATE NOCASE);
`

// DB wraps a sql.DB with catalog operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
