package catalog

import "github.com/starford/termboard/internal/models"

// Catalog is the durable mirror of every loaded book's definitions.
// Consumers depend on this interface rather than on *DB.
type Catalog interface {
	ReplaceBook(bookID, checksum string, defs []models.TermDefinition) error
	DeleteBook(bookID string) error
	BookChecksum(bookID string) (string, error)
	AllChecksums() (map[string]string, error)
	Books() ([]BookRow, error)
	Search(query string, limit int) ([]SearchResult, error)
	Close() error
}

var _ Catalog = (*DB)(nil)
