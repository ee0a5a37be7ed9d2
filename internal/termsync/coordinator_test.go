package termsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/termboard/internal/apperr"
	"github.com/starford/termboard/internal/board"
	"github.com/starford/termboard/internal/models"
	"github.com/starford/termboard/internal/storage"
	"github.com/starford/termboard/internal/vocab"
)

const book = "words.canvas"

type events struct {
	mu  sync.Mutex
	got []Event
}

func (e *events) record(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) kinds() []EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EventKind, len(e.got))
	for i, ev := range e.got {
		out[i] = ev.Kind
	}
	return out
}

// flakyStore fails AtomicUpdate while fail is set.
type flakyStore struct {
	*storage.FS
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *flakyStore) AtomicUpdate(path string, fn storage.UpdateFunc) error {
	f.calls.Add(1)
	if f.fail.Load() {
		return errors.New("disk on fire")
	}
	return f.FS.AtomicUpdate(path, fn)
}

type fixture struct {
	store *flakyStore
	index *vocab.Index
	coord *Coordinator
	ev    *events
}

func newFixture(t *testing.T, window time.Duration) *fixture {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	if err := fs.Create(book, board.Empty()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f := &fixture{store: &flakyStore{FS: fs}, index: vocab.New(true), ev: &events{}}
	f.coord = New(f.store, f.index, Config{
		Window:        window,
		Retries:       2,
		RetryInterval: time.Millisecond,
		Board:         board.Options{MasteredMode: board.MasteredByGroup},
		OnEvent:       f.ev.record,
	})
	t.Cleanup(f.coord.Close)
	return f
}

func (f *fixture) cards(t *testing.T) []models.TermDefinition {
	t.Helper()
	data, err := f.store.Read(book)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defs, err := board.Parse(book, data, board.Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return defs
}

func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestAddIsVisibleImmediately(t *testing.T) {
	f := newFixture(t, time.Hour)

	def, err := f.coord.Add(book, Input{Term: "ubiquitous", Body: "found everywhere", Aliases: []string{"everywhere"}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !IsTemp(def.NodeID) {
		t.Errorf("node id = %q, want temporary", def.NodeID)
	}
	if !f.index.Has("everywhere") {
		t.Error("alias not visible after Add")
	}
	got, ok := f.index.Lookup("Ubiquitous")
	if !ok {
		t.Fatal("term not visible after Add")
	}
	if got.NodeID != def.NodeID || got.SyncState != models.SyncPending {
		t.Errorf("lookup = %+v", got)
	}
	if len(f.cards(t)) != 0 {
		t.Error("document written before the debounce window elapsed")
	}
	if n := len(f.coord.Pending(book)); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestAddFlushesAfterWindowAndReconciles(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)

	a, _ := f.coord.Add(book, Input{Term: "alpha", Body: "first"})
	b, _ := f.coord.Add(book, Input{Term: "beta", Body: "second", Color: 2})

	eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		d, ok := f.index.Lookup("beta")
		return ok && d.SyncState == models.SyncSynced
	}, "beta reconciled")

	defs := f.cards(t)
	if len(defs) != 2 || defs[0].Term != "alpha" || defs[1].Term != "beta" {
		t.Fatalf("document cards = %+v", defs)
	}
	if defs[1].Color != 2 {
		t.Errorf("color = %d, want 2", defs[1].Color)
	}
	for i, tmp := range []models.TermDefinition{a, b} {
		live, _ := f.index.Lookup(tmp.Term)
		if live.NodeID != defs[i].NodeID {
			t.Errorf("%s: index id %q, document id %q", tmp.Term, live.NodeID, defs[i].NodeID)
		}
		if f.coord.Resolve(tmp.NodeID) != defs[i].NodeID {
			t.Errorf("%s: temporary id not resolved", tmp.Term)
		}
	}
	if len(f.coord.Pending(book)) != 0 {
		t.Error("queue not drained")
	}
	if k := f.ev.kinds(); len(k) != 1 || k[0] != EventSynced {
		t.Errorf("events = %v, want one batch", k)
	}
}

func TestFlushNow(t *testing.T) {
	f := newFixture(t, time.Hour)
	if err := f.store.Create("other.canvas", board.Empty()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, _ = f.coord.Add(book, Input{Term: "gamma"})
	_, _ = f.coord.Add("other.canvas", Input{Term: "delta"})

	if err := f.coord.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(f.cards(t)) != 1 {
		t.Error("words.canvas not written")
	}
	if d, _ := f.index.Lookup("delta"); d.SyncState != models.SyncSynced || IsTemp(d.NodeID) {
		t.Errorf("delta = %+v, want synced", d)
	}
}

func TestAddToMissingBookMarksUnsynced(t *testing.T) {
	f := newFixture(t, time.Hour)
	def, err := f.coord.Add("missing.canvas", Input{Term: "orphan"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	_ = f.coord.Flush(context.Background())
	if n := f.store.calls.Load(); n != 1 {
		t.Errorf("store calls = %d, want 1 (missing document is not retried)", n)
	}
	if f.store.Exists("missing.canvas") {
		t.Error("flush created the missing document")
	}
	got, _ := f.index.Lookup("orphan")
	if got.SyncState != models.SyncUnsynced || got.NodeID != def.NodeID {
		t.Errorf("after flush = %+v", got)
	}
	if u := f.coord.Unsynced("missing.canvas"); len(u) != 1 || u[0].Term != "orphan" {
		t.Errorf("unsynced = %+v", u)
	}
	if k := f.ev.kinds(); len(k) != 1 || k[0] != EventUnsynced {
		t.Errorf("events = %v", k)
	}
	if _, err := f.coord.RetryUnsynced(context.Background(), "missing.canvas"); !errors.Is(err, apperr.ErrUnsynced) {
		t.Errorf("retry err = %v", err)
	}
}

func TestAddRacingBookReload(t *testing.T) {
	f := newFixture(t, time.Hour)
	reload := func() {
		unlock := f.coord.LockBook(book)
		defer unlock()
		f.index.LoadBook(book, f.coord.Outstanding(book))
	}

	const n = 200
	var wg sync.WaitGroup
	terms := make([]string, n)
	for i := range n {
		terms[i] = fmt.Sprintf("term%03d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.coord.Add(book, Input{Term: terms[i]}); err != nil {
				t.Errorf("Add: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			reload()
		}()
	}
	wg.Wait()

	for _, term := range terms {
		if !f.index.Has(term) {
			t.Errorf("%s lost after reload", term)
		}
	}
	if got := len(f.coord.Pending(book)); got != n {
		t.Errorf("pending = %d, want %d", got, n)
	}
}

func TestEditQueuedTermStaysInMemory(t *testing.T) {
	f := newFixture(t, time.Hour)
	def, _ := f.coord.Add(book, Input{Term: "colour"})

	got, err := f.coord.Edit(book, def.NodeID, Input{Term: "color", Aliases: []string{"colour"}})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got.Term != "color" || got.NodeID != def.NodeID {
		t.Errorf("edited = %+v", got)
	}
	if len(f.cards(t)) != 0 {
		t.Error("edit of a queued term wrote the document")
	}
	if d, _ := f.index.Lookup("colour"); d.Term != "color" {
		t.Errorf("alias lookup = %+v", d)
	}

	_ = f.coord.Flush(context.Background())
	defs := f.cards(t)
	if len(defs) != 1 || defs[0].Term != "color" || len(defs[0].Aliases) != 1 {
		t.Errorf("document cards = %+v", defs)
	}
}

func TestEditWrittenTerm(t *testing.T) {
	f := newFixture(t, time.Hour)
	tmp, _ := f.coord.Add(book, Input{Term: "old", Body: "before"})
	_ = f.coord.Flush(context.Background())

	// The stale temporary id still addresses the card.
	got, err := f.coord.Edit(book, tmp.NodeID, Input{Term: "new", Body: "after"})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if IsTemp(got.NodeID) || got.SyncState != models.SyncSynced {
		t.Errorf("edited = %+v", got)
	}
	if f.index.Valid() {
		t.Error("index still valid after a written edit")
	}
	if f.index.Has("old") || !f.index.Has("new") {
		t.Error("keys not updated after edit")
	}
	if !f.index.Valid() {
		t.Error("read did not rebuild the index")
	}
	defs := f.cards(t)
	if len(defs) != 1 || defs[0].Term != "new" || defs[0].Body != "after" || defs[0].NodeID != got.NodeID {
		t.Errorf("document cards = %+v", defs)
	}
	k := f.ev.kinds()
	if k[len(k)-1] != EventEdited {
		t.Errorf("events = %v", k)
	}
}

func TestEditFailureLeavesIndexUntouched(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, _ = f.coord.Add(book, Input{Term: "keep"})
	_ = f.coord.Flush(context.Background())
	live, _ := f.index.Lookup("keep")

	_, err := f.coord.Edit(book, "0000000000000000", Input{Term: "ghost"})
	if !errors.Is(err, apperr.ErrNodeNotFound) {
		t.Fatalf("err = %v, want ErrNodeNotFound", err)
	}

	f.store.fail.Store(true)
	if _, err := f.coord.Edit(book, live.NodeID, Input{Term: "renamed"}); err == nil {
		t.Fatal("expected store failure")
	}
	if !f.index.Has("keep") || f.index.Has("renamed") {
		t.Error("index changed after failed edit")
	}
}

func TestDeleteQueuedTerm(t *testing.T) {
	f := newFixture(t, time.Hour)
	def, _ := f.coord.Add(book, Input{Term: "fleeting"})

	if err := f.coord.Delete(book, def.NodeID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.index.Has("fleeting") {
		t.Error("deleted term still indexed")
	}
	_ = f.coord.Flush(context.Background())
	if len(f.cards(t)) != 0 {
		t.Error("deleted queued term reached the document")
	}
}

func TestDeleteWrittenTerm(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, _ = f.coord.Add(book, Input{Term: "one"})
	_, _ = f.coord.Add(book, Input{Term: "two"})
	_ = f.coord.Flush(context.Background())
	one, _ := f.index.Lookup("one")

	if err := f.coord.Delete(book, one.NodeID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.index.Has("one") || !f.index.Has("two") {
		t.Error("index does not reflect delete")
	}
	defs := f.cards(t)
	if len(defs) != 1 || defs[0].Term != "two" {
		t.Errorf("document cards = %+v", defs)
	}
	if err := f.coord.Delete(book, one.NodeID); !errors.Is(err, apperr.ErrNodeNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestFlushFailureMarksUnsyncedAndRetry(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.store.fail.Store(true)
	def, _ := f.coord.Add(book, Input{Term: "stubborn"})

	_ = f.coord.Flush(context.Background())
	if n := f.store.calls.Load(); n != 2 {
		t.Errorf("store calls = %d, want 2 attempts", n)
	}
	got, _ := f.index.Lookup("stubborn")
	if got.SyncState != models.SyncUnsynced || got.NodeID != def.NodeID {
		t.Errorf("after failure = %+v", got)
	}
	if len(f.coord.Unsynced(book)) != 1 {
		t.Fatal("unsynced table empty")
	}
	if k := f.ev.kinds(); len(k) != 1 || k[0] != EventUnsynced {
		t.Errorf("events = %v", k)
	}

	_, err := f.coord.RetryUnsynced(context.Background(), book)
	if !errors.Is(err, apperr.ErrUnsynced) {
		t.Errorf("retry while failing err = %v", err)
	}

	f.store.fail.Store(false)
	n, err := f.coord.RetryUnsynced(context.Background(), book)
	if err != nil || n != 1 {
		t.Fatalf("RetryUnsynced = %d, %v", n, err)
	}
	got, _ = f.index.Lookup("stubborn")
	if got.SyncState != models.SyncSynced || IsTemp(got.NodeID) {
		t.Errorf("after retry = %+v", got)
	}
	if len(f.coord.Unsynced(book)) != 0 {
		t.Error("unsynced table not drained")
	}
}

func TestCloseDropsQueuedAdds(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, _ = f.coord.Add(book, Input{Term: "ephemeral"})

	f.coord.Close()
	if len(f.cards(t)) != 0 {
		t.Error("queued add written on close")
	}
	if !f.index.Has("ephemeral") {
		t.Error("term should stay visible for the session")
	}
	if _, err := f.coord.Add(book, Input{Term: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Add after Close err = %v", err)
	}
	if f.index.Has("late") {
		t.Error("rejected add left in index")
	}
}

func TestAddRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, time.Hour)
	for _, in := range []Input{
		{Term: "  "},
		{Term: "two\nlines"},
		{Term: "ok", Color: 9},
	} {
		if _, err := f.coord.Add(book, in); !errors.Is(err, apperr.ErrInvalidTerm) {
			t.Errorf("Add(%+v) err = %v", in, err)
		}
	}
}

func TestMasteredByColor(t *testing.T) {
	fs, _ := storage.NewFS(t.TempDir())
	idx := vocab.New(true)
	c := New(fs, idx, Config{Window: time.Hour, Board: board.Options{MasteredMode: board.MasteredByColor}})
	t.Cleanup(c.Close)

	_, _ = c.Add(book, Input{Term: "known", Color: models.MasteredColor})
	_, _ = c.Add(book, Input{Term: "fresh", Color: 1})

	hl := idx.TermsForHighlighting()
	if len(hl) != 1 || hl[0] != "fresh" {
		t.Errorf("highlighting = %v, want [fresh]", hl)
	}
}
