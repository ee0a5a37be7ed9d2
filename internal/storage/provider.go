// Package storage defines the board document store.
package storage

import "github.com/starford/termboard/internal/models"

// UpdateFunc transforms a document's current content into its new content.
// Returning an error aborts the update and leaves the document untouched.
type UpdateFunc func(current []byte) ([]byte, error)

// Provider is the interface for board document operations. Paths are relative
// to the vault root and double as book ids.
type Provider interface {
	// List returns metadata for every supported document under dir.
	List(dir string) ([]models.DocumentMetadata, error)
	// Read returns the raw bytes of a document.
	Read(path string) ([]byte, error)
	// AtomicUpdate reads the document, applies fn and atomically replaces it.
	// Concurrent updates of one document are serialized.
	AtomicUpdate(path string, fn UpdateFunc) error
	// Create writes a new document and fails if one already exists.
	Create(path string, content []byte) error
	// Exists reports whether the document exists.
	Exists(path string) bool
	// IsSupportedDocument reports whether path has a board document extension.
	IsSupportedDocument(path string) bool
}
