// Package matcher finds every occurrence of a set of terms in a body of text.
//
// Terms are stored in a prefix tree keyed by lower-cased runes. A scan walks the
// tree from every start position and reports each terminal node reached whose
// span satisfies the word-boundary rule: a side is a boundary when the edge rune
// or its neighbour is CJK (self-delimiting scripts) or when the neighbour is not
// a letter or digit. "bat" therefore never matches inside "batter", while a
// Japanese term still matches inside unspaced Japanese text.
package matcher

import (
	"strings"
	"unicode"
)

// Match is one occurrence of an inserted term. From and To are byte offsets into
// the scanned text, so text[From:To] is the matched span in its original casing.
type Match[T any] struct {
	Term    string
	From    int
	To      int
	Payload T
}

type node[T any] struct {
	children map[rune]*node[T]
	terminal bool
	term     string
	payload  T
}

// Trie is a multi-pattern matcher. It is not safe for concurrent mutation;
// concurrent FindAllMatches calls on a trie that is no longer mutated are fine.
type Trie[T any] struct {
	root *node[T]
	size int
}

// New returns an empty trie.
func New[T any]() *Trie[T] {
	return &Trie[T]{root: &node[T]{}}
}

// Insert adds term with its payload. The key is the trimmed, lower-cased term;
// inserting an existing key replaces its payload and spelling.
func (t *Trie[T]) Insert(term string, payload T) {
	term = strings.TrimSpace(term)
	if term == "" {
		return
	}
	n := t.root
	for _, r := range term {
		r = unicode.ToLower(r)
		if n.children == nil {
			n.children = make(map[rune]*node[T])
		}
		child, ok := n.children[r]
		if !ok {
			child = &node[T]{}
			n.children[r] = child
		}
		n = child
	}
	if !n.terminal {
		t.size++
	}
	n.terminal = true
	n.term = term
	n.payload = payload
}

// Clear removes every term.
func (t *Trie[T]) Clear() {
	t.root = &node[T]{}
	t.size = 0
}

// Len returns the number of distinct keys.
func (t *Trie[T]) Len() int {
	return t.size
}

// Contains reports whether term was inserted.
func (t *Trie[T]) Contains(term string) bool {
	n := t.root
	for _, r := range strings.TrimSpace(term) {
		n = n.children[unicode.ToLower(r)]
		if n == nil {
			return false
		}
	}
	return n.terminal
}

// FindAllMatches returns every boundary-respecting occurrence of every term,
// overlapping ones included. Result order is unspecified; see Apply.
func (t *Trie[T]) FindAllMatches(text string) []Match[T] {
	if t.size == 0 || text == "" {
		return nil
	}
	runes := make([]rune, 0, len(text))
	offsets := make([]int, 0, len(text)+1)
	for i, r := range text {
		runes = append(runes, r)
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))

	var out []Match[T]
	for i := range runes {
		if !leftBoundary(runes, i) {
			continue
		}
		n := t.root
		for j := i; j < len(runes); j++ {
			n = n.children[unicode.ToLower(runes[j])]
			if n == nil {
				break
			}
			if n.terminal && rightBoundary(runes, j) {
				out = append(out, Match[T]{
					Term:    n.term,
					From:    offsets[i],
					To:      offsets[j+1],
					Payload: n.payload,
				})
			}
		}
	}
	return out
}

func leftBoundary(runes []rune, i int) bool {
	if i == 0 || isCJK(runes[i]) {
		return true
	}
	prev := runes[i-1]
	return isCJK(prev) || !isWordRune(prev)
}

func rightBoundary(runes []rune, j int) bool {
	if j == len(runes)-1 || isCJK(runes[j]) {
		return true
	}
	next := runes[j+1]
	return isCJK(next) || !isWordRune(next)
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
