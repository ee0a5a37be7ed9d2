package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/starford/termboard/internal/apperr"
	"github.com/starford/termboard/internal/checksum"
	"github.com/starford/termboard/internal/models"
)

// DefaultExtensions are the document kinds handled when none are configured.
var DefaultExtensions = []string{".canvas"}

// stateDir holds engine state inside the vault; it is never listed.
const stateDir = ".termboard"

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to vault directory
	exts []string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string, exts ...string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	norm := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if e != "" {
			norm = append(norm, e)
		}
	}
	return &FS{root: abs, exts: norm, locks: make(map[string]*sync.Mutex)}, nil
}

// Root returns the absolute vault directory.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves a relative path against the vault root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes vault root: %s", rel)
	}
	return abs, nil
}

// IsSupportedDocument reports whether path carries a configured extension.
func (f *FS) IsSupportedDocument(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range f.exts {
		if ext == e {
			return true
		}
	}
	return false
}

func (f *FS) documentPath(path string) (string, error) {
	if !f.IsSupportedDocument(path) {
		return "", fmt.Errorf("storage: %s: %w", path, apperr.ErrUnsupportedDocument)
	}
	return f.safePath(path)
}

// List walks dir (relative to root) and returns metadata for every supported
// document. Hidden directories are skipped.
func (f *FS) List(dir string) ([]models.DocumentMetadata, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	var out []models.DocumentMetadata
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != base && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !f.IsSupportedDocument(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.root, p)
		out = append(out, models.DocumentMetadata{
			Path:      filepath.ToSlash(rel),
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("storage: list %s: %w", dir, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a document.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.documentPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: read %s: %w", path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Exists reports whether a supported document exists at path.
func (f *FS) Exists(path string) bool {
	abs, err := f.documentPath(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// Create writes a new document. It fails with ErrAlreadyExists when a file
// is already at path, even one created outside this process.
func (f *FS) Create(path string, content []byte) error {
	abs, err := f.documentPath(path)
	if err != nil {
		return err
	}
	unlock, err := f.lock(path)
	if err != nil {
		return err
	}
	defer unlock()
	if err := writeAtomic(abs, content, false); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("storage: create %s: %w", path, apperr.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

// AtomicUpdate reads the document, applies fn and replaces the file with the
// result. The update holds an in-process lock and an advisory file lock, so
// concurrent updaters in this or another process do not lose each other's
// writes. A result identical to the input is not written.
func (f *FS) AtomicUpdate(path string, fn UpdateFunc) error {
	abs, err := f.documentPath(path)
	if err != nil {
		return err
	}
	unlock, err := f.lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: update %s: %w", path, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: update %s: %w", path, err)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if bytes.Equal(current, next) {
		return nil
	}
	return writeAtomic(abs, next, true)
}

// lock serializes writers of one document.
func (f *FS) lock(path string) (func(), error) {
	key := filepath.ToSlash(filepath.Clean(path))

	f.mu.Lock()
	m := f.locks[key]
	if m == nil {
		m = &sync.Mutex{}
		f.locks[key] = m
	}
	f.mu.Unlock()
	m.Lock()

	lockDir := filepath.Join(f.root, stateDir, "locks")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("storage: create lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(lockDir, checksum.Sum([]byte(key))[:16]+".lock"))
	if err := fl.Lock(); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("storage: acquire lock: %w", err)
	}
	return func() {
		_ = fl.Unlock()
		m.Unlock()
	}, nil
}

// writeAtomic writes content: tmp file → fsync → rename. Without replace the
// temp file is hard-linked into place, which fails if abs already exists.
func writeAtomic(abs string, content []byte, replace bool) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".termboard-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if !replace {
		if err := os.Link(tmpName, abs); err != nil {
			return fmt.Errorf("storage: link: %w", err)
		}
		_ = os.Remove(tmpName)
		success = true
		return nil
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}
