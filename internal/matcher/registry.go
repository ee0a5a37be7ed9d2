package matcher

import (
	"sort"
	"sync"
)

// RefreshFunc is notified when the term set behind the matchers changed.
type RefreshFunc func(reason string)

// Registry tracks the consumers that must re-run their matchers after the
// vocabulary changes. It is owned by whoever composes matchers with their
// consumers and passed to them explicitly.
type Registry struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]subscriber
}

type subscriber struct {
	name string
	fn   RefreshFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[uint64]subscriber)}
}

// Register adds fn and returns a function that removes it again.
func (r *Registry) Register(name string, fn RefreshFunc) (unregister func()) {
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = subscriber{name: name, fn: fn}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// Refresh calls every subscriber in registration order. Subscribers run outside
// the registry lock and may register or unregister.
func (r *Registry) Refresh(reason string) {
	r.mu.Lock()
	ids := make([]uint64, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]RefreshFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subs[id].fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(reason)
	}
}

// Names returns the subscriber names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = r.subs[id].name
	}
	return out
}
