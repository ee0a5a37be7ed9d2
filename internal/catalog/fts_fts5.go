//go:build sqlite_fts5

package catalog

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/termboard/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS terms_fts USING fts5(
			book UNINDEXED,
			node_id UNINDEXED,
			term,
			aliases,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsInsert(tx *sql.Tx, bookID string, d models.TermDefinition) error {
	_, err := tx.Exec(`INSERT INTO terms_fts (book, node_id, term, aliases, body) VALUES (?, ?, ?, ?, ?)`,
		bookID, d.NodeID, d.Term, strings.Join(d.Aliases, " "), d.Body)
	if err != nil {
		return fmt.Errorf("catalog: insert fts: %w", err)
	}
	return nil
}

func ftsDeleteBook(tx *sql.Tx, bookID string) {
	_, _ = tx.Exec(`DELETE FROM terms_fts WHERE book = ?`, bookID)
}

// Search performs an FTS5 full-text search and returns matching terms with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT book,
		       node_id,
		       term,
		       snippet(terms_fts, 4, '<b>', '</b>', '...', 32)
		FROM terms_fts
		WHERE terms_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.BookID, &r.NodeID, &r.Term, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
