// Package termservice is the application layer over the vocabulary: it loads
// books into the index, routes writes through the sync coordinator, answers
// match queries and tells refresh subscribers when the term set changed.
package termservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/termboard/internal/apperr"
	"github.com/starford/termboard/internal/board"
	"github.com/starford/termboard/internal/catalog"
	"github.com/starford/termboard/internal/checksum"
	"github.com/starford/termboard/internal/matcher"
	"github.com/starford/termboard/internal/models"
	"github.com/starford/termboard/internal/storage"
	"github.com/starford/termboard/internal/termsync"
	"github.com/starford/termboard/internal/vocab"
)

// Refresh reasons broadcast through the registry.
const (
	ReasonLoaded   = "terms.loaded"
	ReasonReloaded = "terms.reloaded"
	ReasonRebuilt  = "terms.rebuilt"
	ReasonAdded    = "terms.added"
)

// DefaultMatchCacheSize bounds the match result cache.
const DefaultMatchCacheSize = 512

// Config holds the vocabulary settings of a Service.
type Config struct {
	Books           []models.Book
	Board           board.Options
	MasteredEnabled bool
	DebounceWindow  time.Duration
	FlushRetries    int
	RetryInterval   time.Duration
	MatchCacheSize  int
	Logger          *slog.Logger
}

// Match is one occurrence of a known term in a text.
type Match = matcher.Match[models.TermDefinition]

// BookInfo is a configured book with its live counters and, once the book has
// been read, the catalogued digest of its document.
type BookInfo struct {
	models.Book
	Present      bool       `json:"present"`
	Loaded       bool       `json:"loaded"`
	Terms        int        `json:"terms"`
	Pending      int        `json:"pending"`
	Unsynced     int        `json:"unsynced"`
	Checksum     string     `json:"checksum,omitempty"`
	CataloguedAt *time.Time `json:"catalogued_at,omitempty"`
}

// DocumentInfo is a board document found in the vault.
type DocumentInfo struct {
	models.DocumentMetadata
	Configured bool `json:"configured"`
	Enabled    bool `json:"enabled"`
}

// matchKey identifies a cached scan. The text is kept as its digest so large
// request bodies do not stay resident in the cache.
type matchKey struct {
	version   uint64
	highlight bool
	policy    matcher.Policy
	sum       string
}

func newMatchKey(version uint64, highlight bool, policy matcher.Policy, text string) matchKey {
	return matchKey{version: version, highlight: highlight, policy: policy, sum: checksum.Sum([]byte(text))}
}

// Service composes the index, the coordinator and the catalog.
type Service struct {
	store    storage.Provider
	db       catalog.Catalog
	index    *vocab.Index
	coord    *termsync.Coordinator
	registry *matcher.Registry
	matches  *lru.Cache[matchKey, []Match]
	log      *slog.Logger

	mu    sync.RWMutex
	books []models.Book
	opts  board.Options
}

// New creates a service. Call LoadAll before serving queries.
func New(store storage.Provider, db catalog.Catalog, cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MatchCacheSize <= 0 {
		cfg.MatchCacheSize = DefaultMatchCacheSize
	}
	if cfg.Board.MaxAliases <= 0 {
		cfg.Board.MaxAliases = board.DefaultMaxAliases
	}
	books, err := normalizeBooks(cfg.Books)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[matchKey, []Match](cfg.MatchCacheSize)
	if err != nil {
		return nil, fmt.Errorf("termservice: match cache: %w", err)
	}

	s := &Service{
		store:    store,
		db:       db,
		index:    vocab.New(cfg.MasteredEnabled),
		registry: matcher.NewRegistry(),
		matches:  cache,
		log:      cfg.Logger,
		books:    books,
		opts:     cfg.Board,
	}
	s.coord = termsync.New(store, s.index, termsync.Config{
		Window:        cfg.DebounceWindow,
		Retries:       cfg.FlushRetries,
		RetryInterval: cfg.RetryInterval,
		Board:         cfg.Board,
		Logger:        cfg.Logger,
		OnEvent:       s.onSyncEvent,
	})
	s.index.SetBookOrder(enabledIDs(books))
	return s, nil
}

// Registry returns the refresh registry consumers subscribe to.
func (s *Service) Registry() *matcher.Registry {
	return s.registry
}

// --- queries ---

// Lookup finds the definition of a term or alias.
func (s *Service) Lookup(term string) (models.TermDefinition, bool) {
	return s.index.Lookup(term)
}

// Has reports whether a term or alias is known.
func (s *Service) Has(term string) bool {
	return s.index.Has(term)
}

// Highlighted reports whether highlighting scans look for term.
func (s *Service) Highlighted(term string) bool {
	return s.index.Highlighted(term)
}

// AllTerms returns every known key.
func (s *Service) AllTerms() []string {
	return s.index.AllTerms()
}

// TermsForHighlighting returns the keys eligible for highlighting.
func (s *Service) TermsForHighlighting() []string {
	return s.index.TermsForHighlighting()
}

// TermsForBook returns the keys contributed by one book.
func (s *Service) TermsForBook(bookID string) []string {
	return s.index.TermsForBook(cleanID(bookID))
}

// Definitions returns a book's definitions in card order.
func (s *Service) Definitions(bookID string) []models.TermDefinition {
	return s.index.Definitions(cleanID(bookID))
}

// FindAllMatches returns every occurrence of every known key in text.
func (s *Service) FindAllMatches(text string) []Match {
	return s.Match(text, matcher.PolicyAll, false)
}

// Highlight returns the occurrences of highlightable keys, filtered by policy.
func (s *Service) Highlight(text string, policy matcher.Policy) []Match {
	return s.Match(text, policy, true)
}

// Match scans text with the full or the highlighting term set. Results are
// sorted by start offset and cached until the vocabulary changes.
func (s *Service) Match(text string, policy matcher.Policy, highlight bool) []Match {
	if text == "" {
		return nil
	}
	key := newMatchKey(s.index.Version(), highlight, policy, text)
	if hit, ok := s.matches.Get(key); ok {
		return append([]Match(nil), hit...)
	}
	t := s.index.Matcher()
	if highlight {
		t = s.index.HighlightMatcher()
	}
	out := matcher.Apply(policy, t.FindAllMatches(text))
	s.matches.Add(key, out)
	return append([]Match(nil), out...)
}

// Search runs a full-text search over the catalogued definitions.
func (s *Service) Search(_ context.Context, query string, limit int) ([]catalog.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []catalog.SearchResult{}, nil
	}
	res, err := s.db.Search(query, limit)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = []catalog.SearchResult{}
	}
	return res, nil
}

// --- books ---

// Books returns the configured books in precedence order.
func (s *Service) Books() []BookInfo {
	s.mu.RLock()
	books := append([]models.Book(nil), s.books...)
	s.mu.RUnlock()

	loaded := make(map[string]bool)
	for _, id := range s.index.Books() {
		loaded[id] = true
	}
	rows, err := s.db.Books()
	if err != nil {
		s.log.Warn("termservice: catalog books failed", slog.String("error", err.Error()))
	}
	catalogued := make(map[string]catalog.BookRow, len(rows))
	for _, r := range rows {
		catalogued[r.Path] = r
	}

	out := make([]BookInfo, len(books))
	for i, b := range books {
		info := BookInfo{
			Book:     b,
			Present:  s.store.Exists(b.Path),
			Loaded:   loaded[b.Path],
			Terms:    len(s.index.Definitions(b.Path)),
			Pending:  len(s.coord.Pending(b.Path)),
			Unsynced: len(s.coord.Unsynced(b.Path)),
		}
		if r, ok := catalogued[b.Path]; ok {
			at := r.UpdatedAt
			info.Checksum, info.CataloguedAt = r.Checksum, &at
		}
		out[i] = info
	}
	return out
}

// Documents lists the board documents under dir, marking the ones that are
// configured as books.
func (s *Service) Documents(dir string) ([]DocumentInfo, error) {
	metas, err := s.store.List(cleanID(dir))
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	configured := make(map[string]models.Book, len(s.books))
	for _, b := range s.books {
		configured[b.Path] = b
	}
	s.mu.RUnlock()

	out := make([]DocumentInfo, len(metas))
	for i, m := range metas {
		b, ok := configured[m.Path]
		out[i] = DocumentInfo{DocumentMetadata: m, Configured: ok, Enabled: ok && b.Enabled}
	}
	return out, nil
}

// Watched reports whether bookID is an enabled book.
func (s *Service) Watched(bookID string) bool {
	bookID = cleanID(bookID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.books {
		if b.Path == bookID {
			return b.Enabled
		}
	}
	return false
}

// SetBooks replaces the book list and reloads every book.
func (s *Service) SetBooks(ctx context.Context, books []models.Book) error {
	norm, err := normalizeBooks(books)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.books = norm
	s.mu.Unlock()
	return s.LoadAll(ctx)
}

// LoadAll reads every enabled book and rebuilds the index from scratch.
// Books that fail to load contribute nothing; the failure is logged.
func (s *Service) LoadAll(ctx context.Context) error {
	s.mu.RLock()
	ids := enabledIDs(s.books)
	s.mu.RUnlock()

	s.index.SetBookOrder(ids)
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		keep[id] = true
		s.loadBook(id)
	}
	for _, id := range s.index.Books() {
		if !keep[id] {
			s.index.RemoveBook(id)
		}
	}

	known, err := s.db.AllChecksums()
	if err != nil {
		return fmt.Errorf("termservice: load all: %w", err)
	}
	for id := range known {
		if !keep[id] {
			if err := s.db.DeleteBook(id); err != nil {
				s.log.Warn("termservice: prune catalog failed", slog.String("book", id), slog.String("error", err.Error()))
			}
		}
	}

	s.index.RebuildAll()
	s.log.Info("termservice: loaded", slog.Int("books", len(ids)), slog.Int("terms", len(s.index.AllTerms())))
	s.registry.Refresh(ReasonLoaded)
	return nil
}

// LoadBook re-reads one enabled book unconditionally.
func (s *Service) LoadBook(_ context.Context, bookID string) error {
	bookID = cleanID(bookID)
	if !s.Watched(bookID) {
		return fmt.Errorf("termservice: %s: %w", bookID, apperr.ErrBookDisabled)
	}
	s.loadBook(bookID)
	s.registry.Refresh(ReasonReloaded)
	return nil
}

// ReloadBook re-reads one enabled book if its document differs from the
// catalogued copy. It reports whether the index changed.
func (s *Service) ReloadBook(_ context.Context, bookID string) (bool, error) {
	bookID = cleanID(bookID)
	if !s.Watched(bookID) {
		return false, fmt.Errorf("termservice: %s: %w", bookID, apperr.ErrBookDisabled)
	}
	data, err := s.store.Read(bookID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}
	stored, err2 := s.db.BookChecksum(bookID)
	if err2 != nil {
		return false, err2
	}
	if data != nil && stored == checksum.Sum(data) {
		return false, nil
	}
	if data == nil && stored == "" && len(s.index.Definitions(bookID)) == 0 {
		return false, nil
	}
	s.loadBook(bookID)
	s.registry.Refresh(ReasonReloaded)
	return true, nil
}

// CreateBook writes an empty board for an enabled book whose document does
// not exist yet, loads it and retries the adds that failed for lack of it.
func (s *Service) CreateBook(ctx context.Context, bookID string) error {
	bookID = cleanID(bookID)
	if err := s.writable(bookID); err != nil {
		return err
	}
	if err := s.store.Create(bookID, board.Empty()); err != nil {
		return err
	}
	s.log.Info("termservice: book created", slog.String("book", bookID))
	s.loadBook(bookID)
	s.registry.Refresh(ReasonReloaded)
	_, err := s.coord.RetryUnsynced(ctx, bookID)
	return err
}

// RebuildAll recomputes every derived view from the loaded books.
func (s *Service) RebuildAll() {
	s.index.RebuildAll()
	s.registry.Refresh(ReasonRebuilt)
}

// loadBook replaces a book's definitions with the document's cards plus the
// adds that have not reached the document yet.
func (s *Service) loadBook(bookID string) {
	unlock := s.coord.LockBook(bookID)
	defer unlock()

	var defs []models.TermDefinition
	data, err := s.store.Read(bookID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		s.log.Warn("termservice: book missing", slog.String("book", bookID))
	case err != nil:
		s.log.Warn("termservice: read failed", slog.String("book", bookID), slog.String("error", err.Error()))
	default:
		defs, err = board.Parse(bookID, data, s.opts)
		if err != nil {
			s.log.Warn("termservice: parse failed", slog.String("book", bookID), slog.String("error", err.Error()))
			defs = nil
		}
	}

	s.mirror(bookID, data, defs)
	s.index.LoadBook(bookID, append(defs, s.coord.Outstanding(bookID)...))
	s.log.Debug("termservice: book loaded", slog.String("book", bookID), slog.Int("cards", len(defs)))
}

// mirror records a book's on-disk cards in the catalog.
func (s *Service) mirror(bookID string, data []byte, defs []models.TermDefinition) {
	var err error
	if data == nil {
		err = s.db.DeleteBook(bookID)
	} else {
		err = s.db.ReplaceBook(bookID, checksum.Sum(data), defs)
	}
	if err != nil {
		s.log.Warn("termservice: catalog update failed", slog.String("book", bookID), slog.String("error", err.Error()))
	}
}

// --- writes ---

// AddTerm adds a term optimistically. The returned definition carries a
// temporary node id until the book is flushed.
func (s *Service) AddTerm(bookID string, in termsync.Input) (models.TermDefinition, error) {
	bookID = cleanID(bookID)
	if err := s.writable(bookID); err != nil {
		return models.TermDefinition{}, err
	}
	def, err := s.coord.Add(bookID, in)
	if err != nil {
		return models.TermDefinition{}, err
	}
	s.registry.Refresh(ReasonAdded)
	return def, nil
}

// EditTerm rewrites a card and then updates the index.
func (s *Service) EditTerm(bookID, nodeID string, in termsync.Input) (models.TermDefinition, error) {
	bookID = cleanID(bookID)
	if err := s.writable(bookID); err != nil {
		return models.TermDefinition{}, err
	}
	def, err := s.coord.Edit(bookID, nodeID, in)
	if err != nil {
		return models.TermDefinition{}, err
	}
	if termsync.IsTemp(nodeID) && termsync.IsTemp(def.NodeID) {
		s.registry.Refresh(string(termsync.EventEdited))
	}
	return def, nil
}

// DeleteTerm removes a card and then its definition.
func (s *Service) DeleteTerm(bookID, nodeID string) error {
	bookID = cleanID(bookID)
	if err := s.writable(bookID); err != nil {
		return err
	}
	if err := s.coord.Delete(bookID, nodeID); err != nil {
		return err
	}
	if termsync.IsTemp(nodeID) {
		s.registry.Refresh(string(termsync.EventDeleted))
	}
	return nil
}

// Pending returns a book's queued adds.
func (s *Service) Pending(bookID string) []models.TermDefinition {
	return s.coord.Pending(cleanID(bookID))
}

// Unsynced returns a book's adds whose write failed.
func (s *Service) Unsynced(bookID string) []models.TermDefinition {
	return s.coord.Unsynced(cleanID(bookID))
}

// RetryUnsynced writes a book's unsynced adds again.
func (s *Service) RetryUnsynced(ctx context.Context, bookID string) (int, error) {
	return s.coord.RetryUnsynced(ctx, cleanID(bookID))
}

// Flush writes all queued adds now.
func (s *Service) Flush(ctx context.Context) error {
	return s.coord.Flush(ctx)
}

// Close stops the coordinator. Queued adds that were not flushed are dropped.
func (s *Service) Close() {
	s.coord.Close()
}

func (s *Service) writable(bookID string) error {
	if !s.Watched(bookID) {
		return fmt.Errorf("termservice: %s: %w", bookID, apperr.ErrBookDisabled)
	}
	if !s.store.IsSupportedDocument(bookID) {
		return fmt.Errorf("termservice: %s: %w", bookID, apperr.ErrUnsupportedDocument)
	}
	return nil
}

// onSyncEvent mirrors documents written by the coordinator and notifies
// subscribers.
func (s *Service) onSyncEvent(ev termsync.Event) {
	if ev.Document != nil {
		defs, err := board.Parse(ev.BookID, ev.Document, s.opts)
		if err != nil {
			s.log.Warn("termservice: parse written document failed", slog.String("book", ev.BookID), slog.String("error", err.Error()))
		} else {
			s.mirror(ev.BookID, ev.Document, defs)
		}
	}
	s.registry.Refresh(string(ev.Kind))
}

func normalizeBooks(books []models.Book) ([]models.Book, error) {
	out := make([]models.Book, 0, len(books))
	seen := make(map[string]bool, len(books))
	for _, b := range books {
		b.Path = cleanID(b.Path)
		if b.Path == "" || b.Path == "." || strings.HasPrefix(b.Path, "../") || strings.HasPrefix(b.Path, "/") {
			return nil, fmt.Errorf("termservice: book path %q: %w", b.Path, apperr.ErrUnsupportedDocument)
		}
		if seen[b.Path] {
			return nil, fmt.Errorf("termservice: book %s: %w", b.Path, apperr.ErrAlreadyExists)
		}
		seen[b.Path] = true
		out = append(out, b)
	}
	return out, nil
}

func enabledIDs(books []models.Book) []string {
	var out []string
	for _, b := range books {
		if b.Enabled {
			out = append(out, b.Path)
		}
	}
	return out
}

// cleanID normalizes a book id to a slash-separated relative path.
func cleanID(id string) string {
	id = strings.TrimSpace(strings.ReplaceAll(id, "\\", "/"))
	if id == "" {
		return ""
	}
	return path.Clean(id)
}
