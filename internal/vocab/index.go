// Package vocab holds the in-memory vocabulary index: the authoritative
// definitions grouped by book and the lookup views derived from them.
//
// Three views are derived: key → definition (terms and aliases), book → key
// set, and the full key list. After every public call they either agree or the
// index is flagged invalid, in which case the next read rebuilds all of them.
package vocab

import (
	"sort"
	"sync"

	"github.com/starford/termboard/internal/matcher"
	"github.com/starford/termboard/internal/models"
)

// item is a stored definition. seq orders items of one book and survives edits,
// so incremental updates and full rebuilds resolve key collisions identically.
type item struct {
	def models.TermDefinition
	seq uint64
}

// entry is one claim of an item on a key.
type entry struct {
	it    *item
	book  string
	rank  int
	alias bool
}

// less orders claims on the same key: term before alias, then book rank, then
// position within the book.
func (a entry) less(b entry) bool {
	if a.alias != b.alias {
		return !a.alias
	}
	if a.rank != b.rank {
		return a.rank < b.rank
	}
	return a.it.seq < b.it.seq
}

// Index is safe for concurrent use. Every mutation and the view update it
// implies happen under one lock, so readers never see a half-applied change.
type Index struct {
	mu sync.Mutex

	masteredEnabled bool

	books    map[string][]*item
	rank     map[string]int
	nextRank int
	nextSeq  uint64

	owners   map[string][]entry
	terms    map[string]*item
	bookKeys map[string]map[string]struct{}
	all      []string
	valid    bool
	version  uint64

	full, highlight *builtTrie
}

type builtTrie struct {
	version uint64
	trie    *matcher.Trie[models.TermDefinition]
}

// New returns an empty, valid index.
func New(masteredEnabled bool) *Index {
	return &Index{
		masteredEnabled: masteredEnabled,
		books:           make(map[string][]*item),
		rank:            make(map[string]int),
		owners:          make(map[string][]entry),
		terms:           make(map[string]*item),
		bookKeys:        make(map[string]map[string]struct{}),
		valid:           true,
	}
}

// SetBookOrder fixes the precedence of books when several define the same
// key. Books not listed keep their rank after the listed ones.
func (x *Index) SetBookOrder(bookIDs []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, id := range bookIDs {
		x.rank[id] = i
	}
	x.nextRank = len(bookIDs)
	for id := range x.books {
		if _, ok := x.rank[id]; !ok {
			x.rank[id] = x.nextRank
			x.nextRank++
		}
	}
	x.invalidateLocked()
}

// SetMasteredEnabled controls whether mastered terms are left out of the
// highlighting set.
func (x *Index) SetMasteredEnabled(enabled bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.masteredEnabled != enabled {
		x.masteredEnabled = enabled
		x.version++
	}
}

// LoadBook replaces the definitions of one book. The derived views are updated
// by withdrawing every key the book contributed and adding the new ones.
func (x *Index) LoadBook(bookID string, defs []models.TermDefinition) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.valid {
		for _, it := range x.books[bookID] {
			x.withdrawLocked(bookID, it)
		}
	}
	x.ensureRankLocked(bookID)
	items := make([]*item, len(defs))
	for i := range defs {
		d := defs[i].Clone()
		d.BookID = bookID
		items[i] = &item{def: d, seq: x.nextSeq}
		x.nextSeq++
	}
	x.books[bookID] = items
	if x.valid {
		for _, it := range items {
			x.claimLocked(bookID, it)
		}
	}
	x.version++
}

// RemoveBook drops a book and everything it contributed.
func (x *Index) RemoveBook(bookID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.books[bookID]; !ok {
		return
	}
	if x.valid {
		for _, it := range x.books[bookID] {
			x.withdrawLocked(bookID, it)
		}
	}
	delete(x.books, bookID)
	delete(x.bookKeys, bookID)
	x.version++
}

// Books returns the ids of loaded books, sorted by rank.
func (x *Index) Books() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]string, 0, len(x.books))
	for id := range x.books {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return x.rank[out[i]] < x.rank[out[j]] })
	return out
}

// RebuildAll recomputes every derived view from the loaded books.
func (x *Index) RebuildAll() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.rebuildLocked()
}

// Invalidate flags the views as stale; the next read rebuilds them.
func (x *Index) Invalidate() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.invalidateLocked()
}

// Valid reports whether the derived views are current.
func (x *Index) Valid() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.valid
}

// Version changes whenever the term set or any definition changes.
func (x *Index) Version() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.version
}

func (x *Index) invalidateLocked() {
	x.valid = false
	x.version++
}

func (x *Index) ensureLocked() {
	if !x.valid {
		x.rebuildLocked()
	}
}

func (x *Index) rebuildLocked() {
	x.owners = make(map[string][]entry)
	x.terms = make(map[string]*item)
	x.bookKeys = make(map[string]map[string]struct{}, len(x.books))
	x.all = nil
	for bookID, items := range x.books {
		x.ensureRankLocked(bookID)
		for _, it := range items {
			x.collectLocked(bookID, it)
		}
	}
	for key, es := range x.owners {
		sort.Slice(es, func(i, j int) bool { return es[i].less(es[j]) })
		x.terms[key] = es[0].it
	}
	x.valid = true
}

func (x *Index) ensureRankLocked(bookID string) {
	if _, ok := x.rank[bookID]; !ok {
		x.rank[bookID] = x.nextRank
		x.nextRank++
	}
}

// collectLocked records claims without ordering them; used by rebuilds.
func (x *Index) collectLocked(bookID string, it *item) {
	for i, key := range it.def.Keys() {
		x.owners[key] = append(x.owners[key], entry{it: it, book: bookID, rank: x.rank[bookID], alias: i > 0})
		x.addBookKeyLocked(bookID, key)
	}
}

// claimLocked inserts the item's claims in order and updates the views.
func (x *Index) claimLocked(bookID string, it *item) {
	for i, key := range it.def.Keys() {
		e := entry{it: it, book: bookID, rank: x.rank[bookID], alias: i > 0}
		es := x.owners[key]
		if len(es) == 0 {
			x.all = nil
		}
		pos := sort.Search(len(es), func(j int) bool { return e.less(es[j]) })
		es = append(es, entry{})
		copy(es[pos+1:], es[pos:])
		es[pos] = e
		x.owners[key] = es
		x.terms[key] = es[0].it
		x.addBookKeyLocked(bookID, key)
	}
}

// withdrawLocked removes the item's claims and updates the views.
func (x *Index) withdrawLocked(bookID string, it *item) {
	for _, key := range it.def.Keys() {
		es := x.owners[key]
		kept := es[:0]
		stillInBook := false
		for _, e := range es {
			if e.it == it {
				continue
			}
			if e.book == bookID {
				stillInBook = true
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(x.owners, key)
			delete(x.terms, key)
			x.all = nil
		} else {
			x.owners[key] = kept
			x.terms[key] = kept[0].it
		}
		if !stillInBook {
			if keys := x.bookKeys[bookID]; keys != nil {
				delete(keys, key)
			}
		}
	}
}

func (x *Index) addBookKeyLocked(bookID, key string) {
	keys := x.bookKeys[bookID]
	if keys == nil {
		keys = make(map[string]struct{})
		x.bookKeys[bookID] = keys
	}
	keys[key] = struct{}{}
}
