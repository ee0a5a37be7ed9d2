package vocab

import (
	"sort"

	"github.com/starford/termboard/internal/matcher"
	"github.com/starford/termboard/internal/models"
)

// Lookup finds the definition for a term or alias. Misses return ok == false.
func (x *Index) Lookup(term string) (models.TermDefinition, bool) {
	key := models.Canonical(term)
	if key == "" {
		return models.TermDefinition{}, false
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensureLocked()
	it, ok := x.terms[key]
	if !ok {
		return models.TermDefinition{}, false
	}
	return it.def.Clone(), true
}

// Has reports whether term or alias is known.
func (x *Index) Has(term string) bool {
	_, ok := x.Lookup(term)
	return ok
}

// AllTerms returns every known key, aliases included, sorted.
func (x *Index) AllTerms() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensureLocked()
	return append([]string(nil), x.allLocked()...)
}

// TermsForHighlighting is AllTerms without keys resolving to mastered
// definitions, when the mastered feature is enabled.
func (x *Index) TermsForHighlighting() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensureLocked()
	all := x.allLocked()
	if !x.masteredEnabled {
		return append([]string(nil), all...)
	}
	out := make([]string, 0, len(all))
	for _, key := range all {
		if !x.terms[key].def.Mastered {
			out = append(out, key)
		}
	}
	return out
}

// TermsForBook returns the sorted keys a book contributes.
func (x *Index) TermsForBook(bookID string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensureLocked()
	keys := x.bookKeys[bookID]
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Definitions returns a copy of a book's definitions in book order.
func (x *Index) Definitions(bookID string) []models.TermDefinition {
	x.mu.Lock()
	defer x.mu.Unlock()
	items := x.books[bookID]
	out := make([]models.TermDefinition, len(items))
	for i, it := range items {
		out[i] = it.def.Clone()
	}
	return out
}

// Definition returns the definition stored under a node id.
func (x *Index) Definition(bookID, nodeID string) (models.TermDefinition, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, it := x.findLocked(bookID, nodeID); it != nil {
		return it.def.Clone(), true
	}
	return models.TermDefinition{}, false
}

func (x *Index) allLocked() []string {
	if x.all == nil {
		x.all = make([]string, 0, len(x.owners))
		for k := range x.owners {
			x.all = append(x.all, k)
		}
		sort.Strings(x.all)
	}
	return x.all
}

// Matcher returns a trie over every key, built for the current version. The
// returned trie is never mutated afterwards.
func (x *Index) Matcher() *matcher.Trie[models.TermDefinition] {
	return x.matcherFor(false)
}

// HighlightMatcher is Matcher restricted to TermsForHighlighting.
func (x *Index) HighlightMatcher() *matcher.Trie[models.TermDefinition] {
	return x.matcherFor(true)
}

func (x *Index) matcherFor(highlight bool) *matcher.Trie[models.TermDefinition] {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensureLocked()

	slot := &x.full
	if highlight {
		slot = &x.highlight
	}
	if *slot != nil && (*slot).version == x.version {
		return (*slot).trie
	}

	t := matcher.New[models.TermDefinition]()
	for key, it := range x.terms {
		if highlight && x.masteredEnabled && it.def.Mastered {
			continue
		}
		t.Insert(spelling(it, key), it.def.Clone())
	}
	*slot = &builtTrie{version: x.version, trie: t}
	return t
}

// spelling returns the original casing of key as written on the card.
func spelling(it *item, key string) string {
	for _, s := range append([]string{it.def.Term}, it.def.Aliases...) {
		if models.Canonical(s) == key {
			return s
		}
	}
	return key
}

// Highlighted reports whether term is one of the keys highlighting scans for.
func (x *Index) Highlighted(term string) bool {
	return x.HighlightMatcher().Contains(term)
}

// FindAllMatches scans text against every known key.
func (x *Index) FindAllMatches(text string) []matcher.Match[models.TermDefinition] {
	return x.Matcher().FindAllMatches(text)
}

// Snapshot is a copy of the derived views.
type Snapshot struct {
	Terms     map[string]models.TermDefinition
	BookTerms map[string][]string
	All       []string
}

// Snapshot returns a deep copy of the derived views.
func (x *Index) Snapshot() Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensureLocked()
	s := Snapshot{
		Terms:     make(map[string]models.TermDefinition, len(x.terms)),
		BookTerms: make(map[string][]string, len(x.bookKeys)),
		All:       append([]string(nil), x.allLocked()...),
	}
	for k, it := range x.terms {
		s.Terms[k] = it.def.Clone()
	}
	for b, keys := range x.bookKeys {
		if len(keys) == 0 {
			continue
		}
		list := make([]string, 0, len(keys))
		for k := range keys {
			list = append(list, k)
		}
		sort.Strings(list)
		s.BookTerms[b] = list
	}
	return s
}
