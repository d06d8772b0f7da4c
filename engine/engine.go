// Package engine implements the QSO lifecycle state machine. It is the sole
// writer of the monitor's shared state: one goroutine applies events in
// arrival order, a periodic sweep finalizes stale contacts under the same
// lock, and readers take immutable snapshots at any time.
package engine

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mmdvmmon/broadcast"
	"mmdvmmon/history"
	"mmdvmmon/internal/ratelimit"
	"mmdvmmon/qso"
	"mmdvmmon/stats"
)

// Options configures the engine.
type Options struct {
	HistorySize   int
	Timeout       time.Duration // inactivity threshold for active contacts
	SweepInterval time.Duration
}

// Engine owns the active contact set and completed history. All mutation goes
// through Apply or SweepOnce; both take the writer lock for the duration of
// one atomic transition and publish their notifications after releasing it.
type Engine struct {
	mu           sync.RWMutex
	active       map[qso.Key]*qso.QSO
	hist         *history.Ring
	mode         qso.Mode
	modeActivity map[qso.Mode]time.Time
	errorCount   uint64
	lastError    string
	lastErrorAt  time.Time

	// recentEnds remembers hashes of applied end events so a replayed
	// duplicate end is a no-op instead of a synthesized orphan record.
	recentEnds map[uint32]time.Time

	timeout       time.Duration
	sweepInterval time.Duration
	hub           *broadcast.Hub
	tracker       *stats.Tracker
	rejectLog     ratelimit.Counter
}

// New creates an engine publishing through hub and counting into tracker.
// Both may be shared with other components; neither is optional.
func New(opts Options, hub *broadcast.Hub, tracker *stats.Tracker) *Engine {
	return &Engine{
		active:        make(map[qso.Key]*qso.QSO),
		hist:          history.NewRing(opts.HistorySize),
		mode:          qso.ModeIdle,
		modeActivity:  make(map[qso.Mode]time.Time),
		recentEnds:    make(map[uint32]time.Time),
		timeout:       opts.Timeout,
		sweepInterval: opts.SweepInterval,
		hub:           hub,
		tracker:       tracker,
		rejectLog:     ratelimit.NewCounter(ratelimit.DefaultLogInterval),
	}
}

// Run consumes events until ctx is cancelled or the channel closes, running
// the timeout sweep on its own ticker. The sweep is logically just another
// writer: it takes the same lock as event application.
func (e *Engine) Run(ctx context.Context, events <-chan *qso.LogEvent) {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.Apply(ev)
		case <-ticker.C:
			e.SweepOnce(time.Now().UTC())
		}
	}
}

// Apply performs one atomic state transition for an event. Every accepted
// transition publishes exactly one notification per affected QSO; rejected or
// no-op events publish none.
func (e *Engine) Apply(ev *qso.LogEvent) {
	var out []qso.Notification

	e.mu.Lock()
	switch ev.Kind {
	case qso.KindModeChange:
		e.mode = ev.Mode
		e.modeActivity[ev.Mode] = ev.Timestamp
		out = append(out, qso.Notification{Type: qso.NotifyModeChanged, At: ev.Timestamp, Mode: ev.Mode})

	case qso.KindContactStart:
		out = e.applyStartLocked(ev, out)

	case qso.KindContactEnd:
		out = e.applyEndLocked(ev, out)

	case qso.KindError:
		e.errorCount++
		e.lastError = ev.Message
		e.lastErrorAt = ev.Timestamp
		e.tracker.ErrorSeen()
	}
	e.mu.Unlock()

	for _, n := range out {
		e.hub.Publish(n)
	}
}

// applyStartLocked opens a new active contact. A start on an already-active
// key abandons the old contact (its end line is never coming) and replaces
// it; forward progress beats holding stale state.
func (e *Engine) applyStartLocked(ev *qso.LogEvent, out []qso.Notification) []qso.Notification {
	key := ev.Key()
	if prev, ok := e.active[key]; ok {
		end := ev.Timestamp
		if end.Before(prev.Start) {
			end = prev.Start
		}
		e.finishLocked(prev, end, qso.StatusTimedOut)
		e.tracker.QSOTimedOut(string(prev.Mode))
		out = append(out, qso.Notification{Type: qso.NotifyContactTimeout, At: ev.Timestamp, Mode: prev.Mode, QSO: prev})
		log.Printf("Engine: abandoned %s contact from %s (duplicate start)", key, prev.Source)
	}

	q := qso.NewQSO(ev)
	e.active[key] = q
	e.modeActivity[ev.Mode] = ev.Timestamp
	out = append(out, qso.Notification{Type: qso.NotifyContactStarted, At: ev.Timestamp, Mode: q.Mode, QSO: q})
	return out
}

// applyEndLocked closes the matching active contact, or synthesizes a
// start-unknown record when the monitor came up mid-contact. The recent-end
// hash set suppresses replayed end lines, but only on the orphan path: an
// end for a currently-active key is by definition not a replay, however
// close its timestamp sits to the previous contact's end.
func (e *Engine) applyEndLocked(ev *qso.LogEvent, out []qso.Notification) []qso.Notification {
	key := ev.Key()
	h := key.Hash32(ev.Timestamp)

	q, ok := e.active[key]
	if ok {
		if ev.Timestamp.Before(q.Start) {
			// End before start would corrupt the record; reject the event
			// and leave the contact active for the sweep to deal with.
			e.tracker.InvariantReject()
			if total, allow := e.rejectLog.Inc(); allow {
				log.Printf("Engine: rejected end before start for %s (event %q, start %v, total rejects %d)",
					key, ev.Raw, q.Start, total)
			}
			return out
		}
		e.applyMetrics(q, ev)
		e.finishLocked(q, ev.Timestamp, qso.StatusCompleted)
	} else {
		if _, seen := e.recentEnds[h]; seen {
			return out // replay of an end already applied
		}
		// End with no matching start: the contact was in flight before the
		// monitor attached. Recording it beats losing it.
		q = &qso.QSO{
			ID:           uuid.New(),
			Mode:         ev.Mode,
			Slot:         ev.Slot,
			Direction:    ev.Direction,
			Start:        ev.Timestamp,
			Status:       qso.StatusActive,
			StartUnknown: true,
		}
		if ev.HasDuration {
			q.Start = ev.Timestamp.Add(-time.Duration(ev.Duration * float64(time.Second)))
		}
		e.applyMetrics(q, ev)
		e.finishLocked(q, ev.Timestamp, qso.StatusCompleted)
	}

	e.recentEnds[h] = ev.Timestamp
	e.modeActivity[ev.Mode] = ev.Timestamp
	e.tracker.QSOCompleted(string(q.Mode))
	out = append(out, qso.Notification{Type: qso.NotifyContactEnded, At: ev.Timestamp, Mode: q.Mode, QSO: q})
	return out
}

// applyMetrics copies the end event's quality metrics onto the record,
// preferring the logged duration over the wall-clock difference.
func (e *Engine) applyMetrics(q *qso.QSO, ev *qso.LogEvent) {
	if ev.HasBER {
		v := ev.BER
		q.BER = &v
	}
	if ev.HasRSSI {
		v := ev.RSSI
		q.RSSI = &v
	}
	if ev.HasLoss {
		v := ev.Loss
		q.Loss = &v
	}
	if ev.HasDuration {
		q.Duration = ev.Duration
	}
}

// finishLocked moves a contact from the active set into history in one step,
// so its key is never observable in both.
func (e *Engine) finishLocked(q *qso.QSO, end time.Time, status qso.Status) {
	delete(e.active, q.Key())
	endCopy := end
	q.End = &endCopy
	q.Status = status
	if q.Duration == 0 && !q.StartUnknown {
		q.Duration = end.Sub(q.Start).Seconds()
	}
	e.hist.Add(q)
}

// SweepOnce finalizes every active contact whose inactivity threshold has
// elapsed, stamping end = start + timeout (deterministic, independent of
// sweep scheduling). It returns the number of contacts timed out.
func (e *Engine) SweepOnce(now time.Time) int {
	var out []qso.Notification

	e.mu.Lock()
	for _, q := range e.active {
		if now.Sub(q.Start) < e.timeout {
			continue
		}
		end := q.Start.Add(e.timeout)
		q.Duration = e.timeout.Seconds()
		e.finishLocked(q, end, qso.StatusTimedOut)
		e.tracker.QSOTimedOut(string(q.Mode))
		out = append(out, qso.Notification{Type: qso.NotifyContactTimeout, At: end, Mode: q.Mode, QSO: q})
		log.Printf("Engine: swept %s contact from %s after %s", q.Key(), q.Source, e.timeout)
	}
	// Drop end-event hashes old enough that a replay can no longer race a
	// synthesized orphan record.
	for h, at := range e.recentEnds {
		if now.Sub(at) > 2*e.timeout {
			delete(e.recentEnds, h)
		}
	}
	e.mu.Unlock()

	for _, n := range out {
		e.hub.Publish(n)
	}
	return len(out)
}

// Snapshot is an immutable view of the monitor state, safe to serialize
// directly into a query response.
type Snapshot struct {
	At           time.Time              `json:"at"`
	Mode         qso.Mode               `json:"mode"`
	Active       []qso.QSO              `json:"active"`
	History      []*qso.QSO             `json:"history"`
	ModeActivity map[qso.Mode]time.Time `json:"mode_activity"`
	ErrorCount   uint64                 `json:"error_count"`
	LastError    string                 `json:"last_error,omitempty"`
}

// Snapshot captures current state. Active contacts are copied by value (they
// are still mutable); history records are terminal and shared by pointer.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	snap := Snapshot{
		At:           time.Now().UTC(),
		Mode:         e.mode,
		Active:       make([]qso.QSO, 0, len(e.active)),
		ModeActivity: make(map[qso.Mode]time.Time, len(e.modeActivity)),
		ErrorCount:   e.errorCount,
		LastError:    e.lastError,
	}
	for _, q := range e.active {
		snap.Active = append(snap.Active, *q)
	}
	for m, at := range e.modeActivity {
		snap.ModeActivity[m] = at
	}
	// The ring read is lock-free but must happen under the same RLock as
	// the active copy: finishLocked moves a record from active to history
	// in one critical section, and a snapshot straddling that move would
	// show the contact on both sides.
	snap.History = e.hist.Snapshot()
	e.mu.RUnlock()

	sort.Slice(snap.Active, func(i, j int) bool {
		return snap.Active[i].Start.Before(snap.Active[j].Start)
	})
	return snap
}

// ActiveCount reports the number of in-flight contacts.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

// History exposes the ring for consumers that only want completed contacts.
func (e *Engine) History() *history.Ring {
	return e.hist
}
