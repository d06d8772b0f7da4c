// Package history provides a fixed-capacity ring of completed QSOs. Each slot
// holds an atomic pointer so the single writer can publish a finished record
// in one step while API and push readers assemble snapshots without locks.
package history

import (
	"sync/atomic"

	"mmdvmmon/qso"
)

// entry pairs a record with the sequence number it was written under, so
// readers can detect slots overwritten while a snapshot walk is in progress.
type entry struct {
	seq uint64
	q   *qso.QSO
}

// Ring is a thread-safe circular buffer of terminal QSO records. Insertion
// order is preserved and the oldest record is evicted once capacity is
// exceeded. Records are immutable by the time they are added.
type Ring struct {
	slots    []atomic.Pointer[entry]
	capacity int
	total    atomic.Uint64 // total records added, may exceed capacity
}

// NewRing allocates a ring with the given capacity. Capacity must be >= 1;
// config validation enforces this before the ring is built.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		slots:    make([]atomic.Pointer[entry], capacity),
		capacity: capacity,
	}
}

// Add appends a completed or timed-out QSO, overwriting the oldest slot when
// the ring is full.
func (r *Ring) Add(q *qso.QSO) {
	seq := r.total.Add(1)
	r.slots[(seq-1)%uint64(r.capacity)].Store(&entry{seq: seq, q: q})
}

// Snapshot returns the retained records oldest first. The slice is freshly
// allocated; the pointed-to QSOs are terminal and safe to share. Slots that
// wrap during the walk fail the sequence check and are skipped rather than
// returned out of order.
func (r *Ring) Snapshot() []*qso.QSO {
	total := r.total.Load()
	available := total
	if available > uint64(r.capacity) {
		available = uint64(r.capacity)
	}
	out := make([]*qso.QSO, 0, available)
	for seq := total - available + 1; seq <= total; seq++ {
		if e := r.slots[(seq-1)%uint64(r.capacity)].Load(); e != nil && e.seq == seq {
			out = append(out, e.q)
		}
	}
	return out
}

// Recent returns up to n records newest first, for query responses that want
// the latest activity on top.
func (r *Ring) Recent(n int) []*qso.QSO {
	snap := r.Snapshot()
	if n <= 0 || len(snap) == 0 {
		return []*qso.QSO{}
	}
	if n > len(snap) {
		n = len(snap)
	}
	out := make([]*qso.QSO, 0, n)
	for i := len(snap) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, snap[i])
	}
	return out
}

// Len reports how many records are currently retained.
func (r *Ring) Len() int {
	total := r.total.Load()
	if total > uint64(r.capacity) {
		return r.capacity
	}
	return int(total)
}

// Total reports how many records have ever been added.
func (r *Ring) Total() uint64 {
	return r.total.Load()
}

// Capacity returns the configured bound.
func (r *Ring) Capacity() int {
	return r.capacity
}
