// Package scheduler provides deferred, batched side effects.
package scheduler

import (
	"sync"
	"time"
)

// FlushFunc receives one key's queued items in the order they were added.
type FlushFunc[K comparable, V any] func(key K, items []V)

// Batcher keeps a pending queue per key and a single cancellable timer per
// key. Every Add restarts that key's timer; when the window elapses without
// another Add the queue is handed to the flush function. Flushes of the same
// key never run concurrently and run in the order their batches were taken.
type Batcher[K comparable, V any] struct {
	window time.Duration
	flush  FlushFunc[K, V]

	mu       sync.Mutex
	idle     *sync.Cond
	pending  map[K]*queue[V]
	inflight map[K]bool
	closed   bool
	gen      uint64
	wg       sync.WaitGroup
}

type queue[V any] struct {
	items []V
	timer *time.Timer
	gen   uint64
}

// NewBatcher creates a batcher that calls flush window after the last Add of a key.
func NewBatcher[K comparable, V any](window time.Duration, flush FlushFunc[K, V]) *Batcher[K, V] {
	b := &Batcher[K, V]{
		window:   window,
		flush:    flush,
		pending:  make(map[K]*queue[V]),
		inflight: make(map[K]bool),
	}
	b.idle = sync.NewCond(&b.mu)
	return b
}

// Add queues item under key and restarts the key's timer. It returns false
// once the batcher is closed.
func (b *Batcher[K, V]) Add(key K, item V) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	q := b.pending[key]
	if q == nil {
		q = &queue[V]{}
		b.pending[key] = q
	}
	q.items = append(q.items, item)
	if q.timer != nil {
		q.timer.Stop()
	}
	b.gen++
	gen := b.gen
	q.gen = gen
	q.timer = time.AfterFunc(b.window, func() { b.fire(key, gen) })
	return true
}

// Pending returns a copy of the items queued under key.
func (b *Batcher[K, V]) Pending(key K) []V {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.pending[key]
	if q == nil {
		return nil
	}
	return append([]V(nil), q.items...)
}

// Keys returns the keys with queued items.
func (b *Batcher[K, V]) Keys() []K {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]K, 0, len(b.pending))
	for k := range b.pending {
		out = append(out, k)
	}
	return out
}

// Update applies fn to the first queued item under key for which match
// returns true. It reports whether an item was found.
func (b *Batcher[K, V]) Update(key K, match func(V) bool, fn func(*V)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.pending[key]
	if q == nil {
		return false
	}
	for i := range q.items {
		if match(q.items[i]) {
			fn(&q.items[i])
			return true
		}
	}
	return false
}

// Remove drops the first queued item under key for which match returns true.
func (b *Batcher[K, V]) Remove(key K, match func(V) bool) (V, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero V
	q := b.pending[key]
	if q == nil {
		return zero, false
	}
	for i, it := range q.items {
		if match(it) {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			if len(q.items) == 0 {
				q.timer.Stop()
				delete(b.pending, key)
			}
			return it, true
		}
	}
	return zero, false
}

// Flush hands key's queue to the flush function now, in the caller's goroutine.
func (b *Batcher[K, V]) Flush(key K) {
	b.mu.Lock()
	items, ok := b.takeLocked(key)
	b.mu.Unlock()
	if ok {
		b.run(key, items)
	}
}

// FlushAll flushes every key.
func (b *Batcher[K, V]) FlushAll() {
	for _, k := range b.Keys() {
		b.Flush(k)
	}
}

// Close stops all timers and drops every queue without flushing, then waits
// for flushes already in progress.
func (b *Batcher[K, V]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for k, q := range b.pending {
		q.timer.Stop()
		delete(b.pending, k)
	}
	b.idle.Broadcast()
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Batcher[K, V]) fire(key K, gen uint64) {
	b.mu.Lock()
	for b.inflight[key] && !b.closed {
		b.idle.Wait()
	}
	q := b.pending[key]
	if b.closed || q == nil || q.gen != gen {
		b.mu.Unlock()
		return
	}
	items, ok := b.takeLocked(key)
	b.mu.Unlock()
	if ok {
		b.run(key, items)
	}
}

// takeLocked waits until no flush of key is running, then detaches key's
// queue and marks the key in flight.
func (b *Batcher[K, V]) takeLocked(key K) ([]V, bool) {
	for b.inflight[key] && !b.closed {
		b.idle.Wait()
	}
	q := b.pending[key]
	if q == nil || b.closed {
		return nil, false
	}
	q.timer.Stop()
	delete(b.pending, key)
	b.inflight[key] = true
	b.wg.Add(1)
	return q.items, true
}

func (b *Batcher[K, V]) run(key K, items []V) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		delete(b.inflight, key)
		b.idle.Broadcast()
		b.mu.Unlock()
	}()
	b.flush(key, items)
}
