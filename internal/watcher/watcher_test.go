package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeTarget struct {
	mu      sync.Mutex
	watched map[string]bool
	reloads map[string]int
}

func newFakeTarget(books ...string) *fakeTarget {
	f := &fakeTarget{watched: map[string]bool{}, reloads: map[string]int{}}
	for _, b := range books {
		f.watched[b] = true
	}
	return f
}

func (f *fakeTarget) Watched(bookID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watched[bookID]
}

func (f *fakeTarget) ReloadBook(_ context.Context, bookID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads[bookID]++
	return true, nil
}

func (f *fakeTarget) count(bookID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads[bookID]
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatch(t *testing.T, root string, target Target, cb EventCallback) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, target, Config{
			Root:     root,
			Debounce: 50 * time.Millisecond,
			Logger:   slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
			OnReload: cb,
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func TestWatcher_WriteReloadsBook(t *testing.T) {
	root := t.TempDir()
	target := newFakeTarget("words.canvas")

	var mu sync.Mutex
	var events []string
	startWatch(t, root, target, func(kind, book string) {
		mu.Lock()
		events = append(events, kind+":"+book)
		mu.Unlock()
	})

	_ = os.WriteFile(filepath.Join(root, "words.canvas"), []byte(`{"nodes":[]}`), 0o644)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return target.count("words.canvas") > 0
	}, "book not reloaded after write")

	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == "reloaded:words.canvas" {
				return true
			}
		}
		return false
	}, "expected reloaded:words.canvas callback")
}

func TestWatcher_BurstIsDebounced(t *testing.T) {
	root := t.TempDir()
	target := newFakeTarget("burst.canvas")
	startWatch(t, root, target, nil)

	path := filepath.Join(root, "burst.canvas")
	for i := 0; i < 5; i++ {
		_ = os.WriteFile(path, []byte(`{"nodes":[]}`), 0o644)
	}

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return target.count("burst.canvas") > 0
	}, "book not reloaded")
	time.Sleep(200 * time.Millisecond)
	if n := target.count("burst.canvas"); n != 1 {
		t.Errorf("reloads = %d, want 1", n)
	}
}

func TestWatcher_IgnoresUnwatchedAndOtherFiles(t *testing.T) {
	root := t.TempDir()
	target := newFakeTarget("watched.canvas")
	startWatch(t, root, target, nil)

	_ = os.WriteFile(filepath.Join(root, "other.canvas"), []byte(`{}`), 0o644)
	_ = os.WriteFile(filepath.Join(root, "notes.md"), []byte(`# hi`), 0o644)
	time.Sleep(300 * time.Millisecond)

	if target.count("other.canvas") != 0 || target.count("notes.md") != 0 {
		t.Errorf("unexpected reloads: %v", target.reloads)
	}
}

func TestWatcher_NewDirWatched(t *testing.T) {
	root := t.TempDir()
	target := newFakeTarget("sub/deep.canvas")
	startWatch(t, root, target, nil)

	subDir := filepath.Join(root, "sub")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(subDir, "deep.canvas"), []byte(`{"nodes":[]}`), 0o644)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return target.count("sub/deep.canvas") > 0
	}, "document in new subdir not reloaded")
}

func TestWatcher_RemoveReloadsBook(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.canvas")
	_ = os.WriteFile(path, []byte(`{"nodes":[]}`), 0o644)
	target := newFakeTarget("gone.canvas")

	var mu sync.Mutex
	var kinds []string
	startWatch(t, root, target, func(kind, _ string) {
		mu.Lock()
		kinds = append(kinds, kind)
		mu.Unlock()
	})

	_ = os.Remove(path)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) > 0 && kinds[len(kinds)-1] == "removed"
	}, "removal not reported")
}
