// Package testutil provides shared test helpers for setting up vaults, board
// documents and catalogs.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/termboard/internal/catalog"
	"github.com/starford/termboard/internal/storage"
)

// TestDB creates a temporary SQLite catalog that is automatically cleaned up.
func TestDB(t *testing.T) *catalog.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "termboard-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := catalog.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage provider.
func TestVault(t *testing.T) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// Board renders a board document with one text node per card text. Nodes get
// the ids n1, n2, ... and are laid out in a single column.
func Board(texts ...string) []byte {
	nodes := make([]map[string]any, len(texts))
	for i, text := range texts {
		nodes[i] = map[string]any{
			"id":     fmt.Sprintf("n%d", i+1),
			"type":   "text",
			"x":      0,
			"y":      i * 160,
			"width":  260,
			"height": 140,
			"text":   text,
		}
	}
	data, _ := json.MarshalIndent(map[string]any{"nodes": nodes, "edges": []any{}}, "", "\t")
	return data
}

// WriteBoard writes Board(texts...) to rel inside the vault.
func WriteBoard(t *testing.T, vaultDir, rel string, texts ...string) {
	t.Helper()
	WriteFile(t, vaultDir, rel, Board(texts...))
}

// WriteFile writes raw bytes to rel inside the vault, creating directories.
func WriteFile(t *testing.T, vaultDir, rel string, data []byte) {
	t.Helper()
	abs := filepath.Join(vaultDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		t.Fatal(err)
	}
}
