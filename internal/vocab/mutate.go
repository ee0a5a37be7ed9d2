package vocab

import (
	"github.com/starford/termboard/internal/models"
)

// Insert appends a definition to its book and makes it visible immediately.
func (x *Index) Insert(def models.TermDefinition) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensureRankLocked(def.BookID)
	it := &item{def: def.Clone(), seq: x.nextSeq}
	x.nextSeq++
	x.books[def.BookID] = append(x.books[def.BookID], it)
	if x.valid {
		x.claimLocked(def.BookID, it)
	}
	x.version++
}

// Update applies fn to the definition stored under nodeID. Old keys are
// withdrawn and new ones claimed, then the index is flagged for a lazy rebuild.
// It reports whether the definition existed.
func (x *Index) Update(bookID, nodeID string, fn func(*models.TermDefinition)) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, it := x.findLocked(bookID, nodeID)
	if it == nil {
		return false
	}
	if x.valid {
		x.withdrawLocked(bookID, it)
	}
	fn(&it.def)
	it.def.BookID = bookID
	if x.valid {
		x.claimLocked(bookID, it)
	}
	x.invalidateLocked()
	return true
}

// Remove deletes the definition stored under nodeID together with its keys.
func (x *Index) Remove(bookID, nodeID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	i, it := x.findLocked(bookID, nodeID)
	if it == nil {
		return false
	}
	if x.valid {
		x.withdrawLocked(bookID, it)
	}
	items := x.books[bookID]
	x.books[bookID] = append(items[:i:i], items[i+1:]...)
	x.version++
	return true
}

// Reconcile replaces a temporary node id with the id assigned by the store.
func (x *Index) Reconcile(bookID, tempID, realID string, mastered bool) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, it := x.findLocked(bookID, tempID)
	if it == nil {
		return false
	}
	it.def.NodeID = realID
	it.def.SyncState = models.SyncSynced
	it.def.Mastered = mastered
	x.version++
	return true
}

// SetSyncState records the sync progress of a definition.
func (x *Index) SetSyncState(bookID, nodeID string, state models.SyncState) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, it := x.findLocked(bookID, nodeID)
	if it == nil {
		return false
	}
	it.def.SyncState = state
	x.version++
	return true
}

func (x *Index) findLocked(bookID, nodeID string) (int, *item) {
	for i, it := range x.books[bookID] {
		if it.def.NodeID == nodeID {
			return i, it
		}
	}
	return -1, nil
}
