package matcher

import (
	"fmt"
	"sort"
)

// Policy selects how overlapping matches are post-processed.
type Policy string

const (
	// PolicyAll keeps every match, nested and overlapping ones included.
	PolicyAll Policy = "all"
	// PolicyLongest keeps a greedy left-to-right set of non-overlapping matches,
	// preferring the longer span when two start at the same offset.
	PolicyLongest Policy = "longest"
)

// ParsePolicy converts s to a Policy. Empty input selects PolicyAll.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyAll:
		return PolicyAll, nil
	case PolicyLongest:
		return PolicyLongest, nil
	}
	return "", fmt.Errorf("matcher: unknown overlap policy %q", s)
}

// Apply sorts matches and filters them according to p. The input is not modified.
func Apply[T any](p Policy, matches []Match[T]) []Match[T] {
	sorted := Sorted(matches)
	if p == PolicyLongest {
		return LongestNonOverlapping(sorted)
	}
	return sorted
}

// Sorted returns a copy of matches ordered by start ascending, longer span first,
// then by term.
func Sorted[T any](matches []Match[T]) []Match[T] {
	out := make([]Match[T], len(matches))
	copy(out, matches)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To > b.To
		}
		return a.Term < b.Term
	})
	return out
}

// LongestNonOverlapping expects matches in Sorted order and keeps a match only
// when it starts at or after the end of the last kept one.
func LongestNonOverlapping[T any](sorted []Match[T]) []Match[T] {
	var out []Match[T]
	end := -1
	for _, m := range sorted {
		if m.From >= end {
			out = append(out, m)
			end = m.To
		}
	}
	return out
}
