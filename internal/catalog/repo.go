package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/termboard/internal/models"
)

// BookRow represents a row in the books table.
type BookRow struct {
	Path      string
	Checksum  string
	TermCount int
	UpdatedAt time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	BookID  string `json:"book_id"`
	NodeID  string `json:"node_id"`
	Term    string `json:"term"`
	Snippet string `json:"snippet"`
}

// ReplaceBook stores defs as the complete contents of bookID. checksum is the
// digest of the document the definitions were read from.
func (db *DB) ReplaceBook(bookID, checksum string, defs []models.TermDefinition) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO books (path, checksum, term_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			checksum   = excluded.checksum,
			term_count = excluded.term_count,
			updated_at = excluded.updated_at
	`, bookID, checksum, len(defs), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("catalog: upsert book: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM terms WHERE book = ?`, bookID); err != nil {
		return fmt.Errorf("catalog: clear terms: %w", err)
	}
	ftsDeleteBook(tx, bookID)

	if len(defs) > 0 {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO terms (book, node_id, position, term, aliases, body, color, mastered)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("catalog: prepare term insert: %w", err)
		}
		defer stmt.Close()
		for i, d := range defs {
			aliases, _ := json.Marshal(nonNil(d.Aliases))
			if _, err := stmt.Exec(bookID, d.NodeID, i, d.Term, string(aliases), d.Body, int(d.Color), d.Mastered); err != nil {
				return fmt.Errorf("catalog: insert term: %w", err)
			}
			if err := ftsInsert(tx, bookID, d); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// DeleteBook removes a book and its terms.
func (db *DB) DeleteBook(bookID string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDeleteBook(tx, bookID)
	_, _ = tx.Exec(`DELETE FROM terms WHERE book = ?`, bookID)
	_, _ = tx.Exec(`DELETE FROM books WHERE path = ?`, bookID)

	return tx.Commit()
}

// BookChecksum returns the stored checksum of a book, or "" if it is unknown.
func (db *DB) BookChecksum(bookID string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM books WHERE path = ?`, bookID).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("catalog: checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns the checksum of every catalogued book.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM books`)
	if err != nil {
		return nil, fmt.Errorf("catalog: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Books lists catalogued books ordered by path.
func (db *DB) Books() ([]BookRow, error) {
	rows, err := db.conn.Query(`SELECT path, checksum, term_count, updated_at FROM books ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("catalog: books: %w", err)
	}
	defer rows.Close()
	var out []BookRow
	for rows.Next() {
		var r BookRow
		if err := rows.Scan(&r.Path, &r.Checksum, &r.TermCount, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
