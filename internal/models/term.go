// Package models defines the domain types for Termboard.
package models

import "strings"

// ColorTag is a board card color in the range 1..6. Zero means no tag.
type ColorTag int

// MasteredColor is the color tag that marks a term as mastered in color mode.
const MasteredColor ColorTag = 4

// Valid reports whether c is one of the six board colors.
func (c ColorTag) Valid() bool {
	return c >= 1 && c <= 6
}

// SyncState describes how far a definition has progressed towards its board document.
type SyncState string

const (
	SyncSynced   SyncState = "synced"
	SyncPending  SyncState = "pending"
	SyncUnsynced SyncState = "unsynced"
)

// TermDefinition links a canonical term, its aliases and body to the board node it lives on.
type TermDefinition struct {
	Term      string    `json:"term"`
	Aliases   []string  `json:"aliases,omitempty"`
	Body      string    `json:"body"`
	BookID    string    `json:"book_id"`
	NodeID    string    `json:"node_id"`
	Color     ColorTag  `json:"color,omitempty"`
	Mastered  bool      `json:"mastered"`
	SyncState SyncState `json:"sync_state,omitempty"`
}

// Key returns the canonical key of the term.
func (d *TermDefinition) Key() string {
	return Canonical(d.Term)
}

// Keys returns the canonical term key followed by every distinct alias key.
func (d *TermDefinition) Keys() []string {
	keys := make([]string, 0, 1+len(d.Aliases))
	seen := make(map[string]struct{}, 1+len(d.Aliases))
	for _, s := range append([]string{d.Term}, d.Aliases...) {
		k := Canonical(s)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Clone returns a deep copy of d.
func (d TermDefinition) Clone() TermDefinition {
	if d.Aliases != nil {
		d.Aliases = append([]string(nil), d.Aliases...)
	}
	return d
}

// Canonical returns the lookup key for a term or alias: trimmed and lower-cased.
func Canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Book is a board document that contributes vocabulary.
type Book struct {
	Path    string `json:"path" yaml:"path"`
	Name    string `json:"name" yaml:"name"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// DisplayName returns Name, falling back to the file stem of Path.
func (b Book) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	name := b.Path
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}
