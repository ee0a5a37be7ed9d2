package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/starford/termboard/internal/apperr"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestCreateAndRead(t *testing.T) {
	s := tempVault(t)
	content := []byte(`{"nodes":[],"edges":[]}`)
	if err := s.Create("words.canvas", content); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Read("words.canvas")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
	if !s.Exists("words.canvas") {
		t.Error("Exists = false after Create")
	}
}

func TestCreateNeverOverwrites(t *testing.T) {
	s := tempVault(t)
	if err := os.WriteFile(filepath.Join(s.root, "ext.canvas"), []byte("external"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Create("ext.canvas", []byte("mine")); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	got, _ := s.Read("ext.canvas")
	if string(got) != "external" {
		t.Errorf("content = %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, ".termboard-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestReadMissing(t *testing.T) {
	s := tempVault(t)
	_, err := s.Read("missing.canvas")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUnsupportedDocument(t *testing.T) {
	s := tempVault(t)
	if err := s.Create("notes.md", []byte("x")); !errors.Is(err, apperr.ErrUnsupportedDocument) {
		t.Fatalf("Create err = %v, want ErrUnsupportedDocument", err)
	}
	if _, err := s.Read("notes.md"); !errors.Is(err, apperr.ErrUnsupportedDocument) {
		t.Fatalf("Read err = %v, want ErrUnsupportedDocument", err)
	}
	if s.IsSupportedDocument("notes.md") {
		t.Error("notes.md reported as supported")
	}
	if !s.IsSupportedDocument("Sub/Words.CANVAS") {
		t.Error("extension match should ignore case")
	}
}

func TestCustomExtensions(t *testing.T) {
	s, err := NewFS(t.TempDir(), "board", ".CANVAS")
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	if !s.IsSupportedDocument("a.board") || !s.IsSupportedDocument("b.canvas") {
		t.Error("configured extensions not normalized")
	}
}

func TestCreateMakesSubdirs(t *testing.T) {
	s := tempVault(t)
	if err := s.Create("a/b/c.canvas", []byte("deep")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Read("a/b/c.canvas")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestList(t *testing.T) {
	s := tempVault(t)
	_ = s.Create("a.canvas", []byte("a"))
	_ = s.Create("sub/b.canvas", []byte("b"))
	_ = os.WriteFile(filepath.Join(s.root, "readme.txt"), []byte("not a board"), 0o644)
	_ = os.MkdirAll(filepath.Join(s.root, ".hidden"), 0o755)
	_ = os.WriteFile(filepath.Join(s.root, ".hidden", "c.canvas"), []byte("c"), 0o644)

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(items), items)
	}
	for _, it := range items {
		if it.Checksum == "" {
			t.Errorf("%s: empty checksum", it.Path)
		}
		if strings.Contains(it.Path, "\\") {
			t.Errorf("path not slash-separated: %s", it.Path)
		}
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempVault(t)

	cases := []string{
		"../../etc/passwd.canvas",
		"../outside.canvas",
		"/etc/shadow.canvas",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Create(p, []byte("x")); err == nil {
			t.Errorf("expected error for create of %q", p)
		}
	}
}

func TestAtomicUpdate(t *testing.T) {
	s := tempVault(t)
	_ = s.Create("u.canvas", []byte("one"))

	err := s.AtomicUpdate("u.canvas", func(cur []byte) ([]byte, error) {
		return append(cur, []byte(",two")...), nil
	})
	if err != nil {
		t.Fatalf("AtomicUpdate: %v", err)
	}
	got, _ := s.Read("u.canvas")
	if string(got) != "one,two" {
		t.Errorf("content = %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, ".termboard-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestAtomicUpdateAbortKeepsContent(t *testing.T) {
	s := tempVault(t)
	_ = s.Create("u.canvas", []byte("keep"))
	boom := errors.New("boom")

	err := s.AtomicUpdate("u.canvas", func([]byte) ([]byte, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	got, _ := s.Read("u.canvas")
	if string(got) != "keep" {
		t.Errorf("content = %q", got)
	}
}

func TestAtomicUpdateMissing(t *testing.T) {
	s := tempVault(t)
	err := s.AtomicUpdate("none.canvas", func(b []byte) ([]byte, error) { return b, nil })
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAtomicUpdateConcurrent(t *testing.T) {
	s := tempVault(t)
	_ = s.Create("c.canvas", nil)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.AtomicUpdate("c.canvas", func(cur []byte) ([]byte, error) {
				return append(cur, 'x'), nil
			})
			if err != nil {
				t.Errorf("AtomicUpdate: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.Read("c.canvas")
	if len(got) != n {
		t.Errorf("len = %d, want %d (lost update)", len(got), n)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/termboard-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "termboard-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
