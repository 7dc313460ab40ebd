package main

import (
	"sync"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

// TimeoutTable is the authoritative set of chunks currently in flight with
// a compute worker. Presence means "this chunk's responses should be
// accepted"; absence means the chunk already completed (or was
// superseded) and late responses must be discarded with an error ack
// (spec.md §3, §4.2). The mutex is held only for O(1) membership
// operations, per spec.md §5.
type TimeoutTable struct {
	mu    sync.Mutex
	inFly map[gnn.Key]gnn.Chunk
}

func NewTimeoutTable() *TimeoutTable {
	return &TimeoutTable{inFly: make(map[gnn.Key]gnn.Chunk)}
}

// Insert records c as in flight, done on apply dispatch (and again,
// idempotently, on every relaunch of the same chunk).
func (t *TimeoutTable) Insert(c gnn.Chunk) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFly[c.Key()] = c
}

// Contains reports whether c is still awaiting a response. Every
// pull/push/eval/fin handler's first action is this lock-protected check
// (spec.md §4.2).
func (t *TimeoutTable) Contains(key gnn.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inFly[key]
	return ok
}

// Remove atomically removes key and reports whether it was present. The
// first PUSH that successfully parses and installs output tensors calls
// this to win the race; any concurrent duplicate push then finds absence
// (spec.md §4.2 "first-response-wins").
func (t *TimeoutTable) Remove(key gnn.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inFly[key]; !ok {
		return false
	}
	delete(t.inFly, key)
	return true
}

// Len reports the number of chunks currently in flight, used by tests and
// metrics.
func (t *TimeoutTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inFly)
}

// Snapshot returns a copy of the in-flight chunks, for the relaunch loop
// to scan without holding the table lock while it dispatches.
func (t *TimeoutTable) Snapshot() []gnn.Chunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]gnn.Chunk, 0, len(t.inFly))
	for _, c := range t.inFly {
		out = append(out, c)
	}
	return out
}
