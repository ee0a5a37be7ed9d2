// Package watcher reloads books whose board documents change on disk.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/termboard/internal/scheduler"
)

// DefaultDebounce is how long a path must be quiet before it is reloaded.
const DefaultDebounce = 200 * time.Millisecond

// Target is what the watcher keeps up to date.
type Target interface {
	// Watched reports whether bookID is an enabled book.
	Watched(bookID string) bool
	// ReloadBook re-reads one book. changed is false when the document on
	// disk matches what is already loaded.
	ReloadBook(ctx context.Context, bookID string) (changed bool, err error)
}

// EventCallback is called after a watcher-driven reload that changed the index.
// kind is "reloaded" or "removed".
type EventCallback func(kind string, bookID string)

// Config configures Watch.
type Config struct {
	Root       string
	Debounce   time.Duration
	IsDocument func(path string) bool
	Logger     *slog.Logger
	OnReload   EventCallback
}

// Watch starts an fsnotify watcher on the vault root and reloads changed
// books until ctx is cancelled. Events are debounced per path, so a burst of
// writes to one document produces one reload.
//
// New directories created at runtime are added to the watch list and any
// documents already inside them are reloaded.
func Watch(ctx context.Context, target Target, cfg Config) error {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IsDocument == nil {
		cfg.IsDocument = func(p string) bool { return strings.HasSuffix(p, ".canvas") }
	}
	logger := cfg.Logger

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, cfg.Root); err != nil {
		return err
	}

	reload := func(bookID string, _ []fsnotify.Op) {
		changed, err := target.ReloadBook(ctx, bookID)
		if err != nil {
			logger.Warn("watcher: reload failed", slog.String("book", bookID), slog.String("error", err.Error()))
			return
		}
		if !changed {
			logger.Debug("watcher: unchanged", slog.String("book", bookID))
			return
		}
		kind := "reloaded"
		if _, statErr := os.Stat(filepath.Join(cfg.Root, filepath.FromSlash(bookID))); statErr != nil {
			kind = "removed"
		}
		logger.Info("watcher: "+kind, slog.String("book", bookID))
		if cfg.OnReload != nil {
			cfg.OnReload(kind, bookID)
		}
	}
	pending := scheduler.NewBatcher[string, fsnotify.Op](cfg.Debounce, reload)
	defer pending.Close()

	logger.Info("watcher: started", slog.String("root", cfg.Root))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if hidden(info.Name()) {
						continue
					}
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					for _, book := range documentsIn(cfg.Root, absPath, cfg.IsDocument) {
						if target.Watched(book) {
							pending.Add(book, fsnotify.Create)
						}
					}
					continue
				}
			}

			if !cfg.IsDocument(absPath) {
				continue
			}
			rel, relErr := filepath.Rel(cfg.Root, absPath)
			if relErr != nil {
				continue
			}
			book := filepath.ToSlash(rel)
			if !target.Watched(book) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				pending.Add(book, ev.Op)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// documentsIn lists the documents below dir as vault-relative book ids.
func documentsIn(root, dir string, isDoc func(string) bool) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isDoc(path) {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
