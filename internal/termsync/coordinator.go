// Package termsync keeps the vocabulary index and the board documents in step.
//
// Adds are optimistic: the definition is visible in the index at once under a
// temporary node id, queued per book, and written in one batch once the book
// has been quiet for the debounce window. Edits and deletes write the document
// first and touch the index only after the write succeeded.
package termsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/termboard/internal/apperr"
	"github.com/starford/termboard/internal/board"
	"github.com/starford/termboard/internal/models"
	"github.com/starford/termboard/internal/scheduler"
	"github.com/starford/termboard/internal/storage"
	"github.com/starford/termboard/internal/vocab"
)

// TempPrefix marks node ids that have not been written to a document yet.
const TempPrefix = "tmp-"

// resolvedSize bounds the temporary → real id table.
const resolvedSize = 4096

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("termsync: coordinator closed")

// IsTemp reports whether nodeID is a temporary id.
func IsTemp(nodeID string) bool {
	return strings.HasPrefix(nodeID, TempPrefix)
}

// Store is the slice of the document store the coordinator writes through.
// Every mutation goes through AtomicUpdate; a missing document is an error.
type Store interface {
	AtomicUpdate(path string, fn storage.UpdateFunc) error
}

// EventKind names what changed on disk.
type EventKind string

const (
	EventSynced   EventKind = "terms.synced"
	EventUnsynced EventKind = "terms.unsynced"
	EventEdited   EventKind = "terms.edited"
	EventDeleted  EventKind = "terms.deleted"
)

// Event is emitted after the coordinator changed a book. Document holds the
// bytes written, or nil when nothing reached the store.
type Event struct {
	Kind     EventKind
	BookID   string
	Document []byte
	Count    int
}

// Input is the user-supplied content of a term card.
type Input struct {
	Term    string
	Body    string
	Color   models.ColorTag
	Aliases []string
}

// Config tunes the coordinator.
type Config struct {
	Window        time.Duration
	Retries       int
	RetryInterval time.Duration
	Board         board.Options
	Logger        *slog.Logger
	OnEvent       func(Event)
}

// Coordinator serializes all writes of term cards.
type Coordinator struct {
	cfg   Config
	store Store
	index *vocab.Index
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	batch  *scheduler.Batcher[string, models.TermDefinition]

	mu       sync.Mutex
	bookMu   map[string]*sync.Mutex
	unsynced map[string][]models.TermDefinition
	resolved *lru.Cache[string, string]
}

// New creates a coordinator writing to store and patching index.
func New(store Store, index *vocab.Index, cfg Config) *Coordinator {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	if cfg.Board.MaxAliases <= 0 {
		cfg.Board.MaxAliases = board.DefaultMaxAliases
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	resolved, _ := lru.New[string, string](resolvedSize)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:      cfg,
		store:    store,
		index:    index,
		log:      cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		bookMu:   make(map[string]*sync.Mutex),
		unsynced: make(map[string][]models.TermDefinition),
		resolved: resolved,
	}
	c.batch = scheduler.NewBatcher[string, models.TermDefinition](cfg.Window, c.flush)
	return c
}

// Add inserts a definition under a temporary id and queues it for writing.
// The returned definition is already visible through the index.
func (c *Coordinator) Add(bookID string, in Input) (models.TermDefinition, error) {
	in, err := c.normalize(in)
	if err != nil {
		return models.TermDefinition{}, err
	}
	def := models.TermDefinition{
		Term:      in.Term,
		Aliases:   in.Aliases,
		Body:      in.Body,
		BookID:    bookID,
		NodeID:    TempPrefix + uuid.NewString(),
		Color:     in.Color,
		Mastered:  c.cfg.Board.MasteredMode == board.MasteredByColor && in.Color == models.MasteredColor,
		SyncState: models.SyncPending,
	}
	unlock := c.LockBook(bookID)
	defer unlock()
	c.index.Insert(def)
	if !c.batch.Add(bookID, def) {
		c.index.Remove(bookID, def.NodeID)
		return models.TermDefinition{}, ErrClosed
	}
	return def, nil
}

// Edit replaces the content of a card. Queued and unsynced cards are changed
// in memory only; written cards are rewritten in the document first.
func (c *Coordinator) Edit(bookID, nodeID string, in Input) (models.TermDefinition, error) {
	in, err := c.normalize(in)
	if err != nil {
		return models.TermDefinition{}, err
	}
	unlock := c.LockBook(bookID)
	defer unlock()

	apply := func(d *models.TermDefinition) {
		d.Term, d.Aliases, d.Body, d.Color = in.Term, in.Aliases, in.Body, in.Color
		if c.cfg.Board.MasteredMode == board.MasteredByColor {
			d.Mastered = in.Color == models.MasteredColor
		}
	}

	if IsTemp(nodeID) {
		match := func(d models.TermDefinition) bool { return d.NodeID == nodeID }
		if c.batch.Update(bookID, match, apply) || c.updateUnsynced(bookID, nodeID, apply) {
			c.index.Update(bookID, nodeID, apply)
			def, _ := c.index.Definition(bookID, nodeID)
			return def, nil
		}
		real, ok := c.resolved.Get(nodeID)
		if !ok {
			return models.TermDefinition{}, fmt.Errorf("termsync: edit %s/%s: write in progress: %w", bookID, nodeID, apperr.ErrConflict)
		}
		nodeID = real
	}

	card := board.Card{Term: in.Term, Aliases: in.Aliases, Body: in.Body, Color: in.Color}
	var (
		doc      []byte
		mastered bool
	)
	err = c.store.AtomicUpdate(bookID, func(cur []byte) ([]byte, error) {
		out, m, err := board.ReplaceCard(cur, nodeID, card, c.cfg.Board)
		if err != nil {
			return nil, err
		}
		doc, mastered = out, m
		return out, nil
	})
	if err != nil {
		return models.TermDefinition{}, fmt.Errorf("termsync: edit %s/%s: %w", bookID, nodeID, err)
	}

	patch := func(d *models.TermDefinition) {
		apply(d)
		d.Mastered = mastered
		d.SyncState = models.SyncSynced
	}
	if !c.index.Update(bookID, nodeID, patch) {
		def := models.TermDefinition{BookID: bookID, NodeID: nodeID}
		patch(&def)
		c.index.Insert(def)
	}
	// A rewritten card can change which book wins a key; rebuild on next read.
	c.index.Invalidate()
	c.emit(Event{Kind: EventEdited, BookID: bookID, Document: doc, Count: 1})
	def, _ := c.index.Definition(bookID, nodeID)
	return def, nil
}

// Delete removes a card. Queued and unsynced cards never reached the
// document and are dropped from memory only.
func (c *Coordinator) Delete(bookID, nodeID string) error {
	unlock := c.LockBook(bookID)
	defer unlock()

	if IsTemp(nodeID) {
		match := func(d models.TermDefinition) bool { return d.NodeID == nodeID }
		_, queued := c.batch.Remove(bookID, match)
		if queued || c.dropUnsynced(bookID, nodeID) {
			c.index.Remove(bookID, nodeID)
			return nil
		}
		real, ok := c.resolved.Get(nodeID)
		if !ok {
			return fmt.Errorf("termsync: delete %s/%s: write in progress: %w", bookID, nodeID, apperr.ErrConflict)
		}
		nodeID = real
	}

	var doc []byte
	err := c.store.AtomicUpdate(bookID, func(cur []byte) ([]byte, error) {
		out, err := board.RemoveCard(cur, nodeID)
		doc = out
		return out, err
	})
	if err != nil {
		return fmt.Errorf("termsync: delete %s/%s: %w", bookID, nodeID, err)
	}
	c.index.Remove(bookID, nodeID)
	c.emit(Event{Kind: EventDeleted, BookID: bookID, Document: doc, Count: 1})
	return nil
}

// Resolve maps a temporary id to the id it was written under. Other ids are
// returned unchanged.
func (c *Coordinator) Resolve(nodeID string) string {
	if real, ok := c.resolved.Get(nodeID); ok {
		return real
	}
	return nodeID
}

// Pending returns the definitions queued for bookID, in add order.
func (c *Coordinator) Pending(bookID string) []models.TermDefinition {
	return c.batch.Pending(bookID)
}

// Unsynced returns the definitions of bookID whose write failed.
func (c *Coordinator) Unsynced(bookID string) []models.TermDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.TermDefinition(nil), c.unsynced[bookID]...)
}

// Outstanding returns every definition of bookID that is not in its document
// yet, queued first.
func (c *Coordinator) Outstanding(bookID string) []models.TermDefinition {
	return append(c.Pending(bookID), c.Unsynced(bookID)...)
}

// RetryUnsynced queues the unsynced definitions of bookID again and flushes
// the book. It returns how many definitions were retried.
func (c *Coordinator) RetryUnsynced(ctx context.Context, bookID string) (int, error) {
	c.mu.Lock()
	defs := c.unsynced[bookID]
	delete(c.unsynced, bookID)
	c.mu.Unlock()
	if len(defs) == 0 {
		return 0, nil
	}
	for _, d := range defs {
		d.SyncState = models.SyncPending
		if !c.batch.Add(bookID, d) {
			return 0, ErrClosed
		}
		c.index.SetSyncState(bookID, d.NodeID, models.SyncPending)
	}
	if err := c.flushBook(ctx, bookID); err != nil {
		return len(defs), err
	}
	if left := len(c.Unsynced(bookID)); left > 0 {
		return len(defs), fmt.Errorf("termsync: %s: %d definitions still unsynced: %w", bookID, left, apperr.ErrUnsynced)
	}
	return len(defs), nil
}

// Flush writes every queued batch now and waits for the writes, or until ctx
// is done.
func (c *Coordinator) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.batch.FlushAll()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) flushBook(ctx context.Context, bookID string) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.batch.Flush(bookID)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels retries in progress, stops every timer and drops queued adds.
// Dropped definitions stay in the index for the rest of the process.
func (c *Coordinator) Close() {
	c.cancel()
	for _, k := range c.batch.Keys() {
		if n := len(c.batch.Pending(k)); n > 0 {
			c.log.Warn("coordinator: dropping queued terms", slog.String("book", k), slog.Int("count", n))
		}
	}
	c.batch.Close()
}

// flush appends one batch to its document and reconciles the temporary ids.
func (c *Coordinator) flush(bookID string, defs []models.TermDefinition) {
	if len(defs) == 0 {
		return
	}
	unlock := c.LockBook(bookID)
	defer unlock()

	cards := make([]board.Card, len(defs))
	for i, d := range defs {
		cards[i] = board.Card{Term: d.Term, Aliases: d.Aliases, Body: d.Body, Color: d.Color}
	}

	var (
		doc    []byte
		placed []board.Placed
	)
	op := func() (struct{}, error) {
		err := c.store.AtomicUpdate(bookID, func(cur []byte) ([]byte, error) {
			out, p, err := board.AppendCards(cur, cards, c.cfg.Board)
			if err != nil {
				return nil, err
			}
			doc, placed = out, p
			return out, nil
		})
		if errors.Is(err, apperr.ErrNotFound) ||
			errors.Is(err, apperr.ErrMalformedBoard) ||
			errors.Is(err, apperr.ErrUnsupportedDocument) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval
	_, err := backoff.Retry(c.ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.Retries)),
	)
	if err != nil {
		c.markUnsynced(bookID, defs, err)
		return
	}

	for i, d := range defs {
		c.resolved.Add(d.NodeID, placed[i].NodeID)
		if !c.index.Reconcile(bookID, d.NodeID, placed[i].NodeID, placed[i].Mastered) {
			// The book was reloaded while the batch was in flight.
			d.NodeID, d.Mastered, d.SyncState = placed[i].NodeID, placed[i].Mastered, models.SyncSynced
			c.index.Insert(d)
		}
	}
	c.log.Info("coordinator: flushed",
		slog.String("book", bookID),
		slog.Int("count", len(defs)),
	)
	c.emit(Event{Kind: EventSynced, BookID: bookID, Document: doc, Count: len(defs)})
}

func (c *Coordinator) markUnsynced(bookID string, defs []models.TermDefinition, err error) {
	c.log.Error("coordinator: flush failed",
		slog.String("book", bookID),
		slog.Int("count", len(defs)),
		slog.String("error", err.Error()),
	)
	c.mu.Lock()
	for _, d := range defs {
		d.SyncState = models.SyncUnsynced
		c.unsynced[bookID] = append(c.unsynced[bookID], d)
	}
	c.mu.Unlock()
	for _, d := range defs {
		c.index.SetSyncState(bookID, d.NodeID, models.SyncUnsynced)
	}
	c.emit(Event{Kind: EventUnsynced, BookID: bookID, Count: len(defs)})
}

func (c *Coordinator) updateUnsynced(bookID, nodeID string, fn func(*models.TermDefinition)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	defs := c.unsynced[bookID]
	for i := range defs {
		if defs[i].NodeID == nodeID {
			fn(&defs[i])
			return true
		}
	}
	return false
}

func (c *Coordinator) dropUnsynced(bookID, nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	defs := c.unsynced[bookID]
	for i := range defs {
		if defs[i].NodeID == nodeID {
			c.unsynced[bookID] = append(defs[:i:i], defs[i+1:]...)
			if len(c.unsynced[bookID]) == 0 {
				delete(c.unsynced, bookID)
			}
			return true
		}
	}
	return false
}

// LockBook serializes document writes of one book with the reconciliation
// that follows them. Loaders hold it while they replace a book's definitions
// so a batch in flight is never half applied.
func (c *Coordinator) LockBook(bookID string) func() {
	c.mu.Lock()
	m := c.bookMu[bookID]
	if m == nil {
		m = &sync.Mutex{}
		c.bookMu[bookID] = m
	}
	c.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (c *Coordinator) normalize(in Input) (Input, error) {
	in.Term = strings.TrimSpace(in.Term)
	if in.Term == "" || strings.ContainsAny(in.Term, "\r\n") {
		return in, fmt.Errorf("termsync: term %q: %w", in.Term, apperr.ErrInvalidTerm)
	}
	if in.Color != 0 && !in.Color.Valid() {
		return in, fmt.Errorf("termsync: color %d: %w", in.Color, apperr.ErrInvalidTerm)
	}
	in.Body = strings.TrimSpace(in.Body)
	in.Aliases = board.CapAliases(in.Term, in.Aliases, c.cfg.Board.MaxAliases)
	return in, nil
}

func (c *Coordinator) emit(ev Event) {
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(ev)
	}
}
