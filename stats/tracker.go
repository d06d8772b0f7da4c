// Package stats tracks pipeline counters (lines, events, QSOs, drops) for the
// periodic console summary and the API health endpoint.
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker tracks monitor statistics. Counters live in sync.Map + atomic
// values so per-line increments never fight over a mutex.
type Tracker struct {
	modeCounts sync.Map // mode string -> *atomic.Uint64 (terminal QSOs per mode)
	kindCounts sync.Map // event kind string -> *atomic.Uint64

	linesSeen        atomic.Uint64
	linesMatched     atomic.Uint64
	parseFailures    atomic.Uint64
	qsosCompleted    atomic.Uint64
	qsosTimedOut     atomic.Uint64
	rotations        atomic.Uint64
	invariantRejects atomic.Uint64
	errorsSeen       atomic.Uint64
	start            atomic.Int64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

func incrementCounter(m *sync.Map, key string) {
	if v, ok := m.Load(key); ok {
		v.(*atomic.Uint64).Add(1)
		return
	}
	v, _ := m.LoadOrStore(key, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)
}

// LineSeen counts one raw line delivered by the tailer.
func (t *Tracker) LineSeen() { t.linesSeen.Add(1) }

// LineMatched counts one line the parser turned into an event.
func (t *Tracker) LineMatched(kind string) {
	t.linesMatched.Add(1)
	incrementCounter(&t.kindCounts, kind)
}

// ParseFailure counts one line the parser discarded.
func (t *Tracker) ParseFailure() { t.parseFailures.Add(1) }

// QSOCompleted counts one contact reaching the completed state.
func (t *Tracker) QSOCompleted(mode string) {
	t.qsosCompleted.Add(1)
	incrementCounter(&t.modeCounts, mode)
}

// QSOTimedOut counts one contact finalized by the sweep or replaced by a
// duplicate start.
func (t *Tracker) QSOTimedOut(mode string) {
	t.qsosTimedOut.Add(1)
	incrementCounter(&t.modeCounts, mode)
}

// Rotation counts one log file switch.
func (t *Tracker) Rotation() { t.rotations.Add(1) }

// InvariantReject counts one event refused for violating state invariants.
func (t *Tracker) InvariantReject() { t.invariantRejects.Add(1) }

// ErrorSeen counts one error-severity line from the host.
func (t *Tracker) ErrorSeen() { t.errorsSeen.Add(1) }

// Totals is a point-in-time copy of every scalar counter.
type Totals struct {
	LinesSeen        uint64 `json:"lines_seen"`
	LinesMatched     uint64 `json:"lines_matched"`
	ParseFailures    uint64 `json:"parse_failures"`
	QSOsCompleted    uint64 `json:"qsos_completed"`
	QSOsTimedOut     uint64 `json:"qsos_timed_out"`
	Rotations        uint64 `json:"rotations"`
	InvariantRejects uint64 `json:"invariant_rejects"`
	ErrorsSeen       uint64 `json:"errors_seen"`
}

// GetTotals returns a copy of all scalar counters.
func (t *Tracker) GetTotals() Totals {
	return Totals{
		LinesSeen:        t.linesSeen.Load(),
		LinesMatched:     t.linesMatched.Load(),
		ParseFailures:    t.parseFailures.Load(),
		QSOsCompleted:    t.qsosCompleted.Load(),
		QSOsTimedOut:     t.qsosTimedOut.Load(),
		Rotations:        t.rotations.Load(),
		InvariantRejects: t.invariantRejects.Load(),
		ErrorsSeen:       t.errorsSeen.Load(),
	}
}

// GetModeCounts returns a copy of per-mode QSO counts.
func (t *Tracker) GetModeCounts() map[string]uint64 {
	counts := make(map[string]uint64)
	t.modeCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// GetKindCounts returns a copy of per-event-kind match counts.
func (t *Tracker) GetKindCounts() map[string]uint64 {
	counts := make(map[string]uint64)
	t.kindCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// GetUptime returns how long the tracker has been running
func (t *Tracker) GetUptime() time.Duration {
	return time.Since(time.Unix(0, t.start.Load()))
}

// SummaryLine returns a one-line console summary for the periodic display
// loop.
func (t *Tracker) SummaryLine() string {
	tot := t.GetTotals()
	return fmt.Sprintf("Stats: up %s | lines %s | events %s | qsos %s (%s timed out) | parse misses %s | rotations %d",
		t.GetUptime().Round(time.Second),
		humanize.Comma(int64(tot.LinesSeen)),
		humanize.Comma(int64(tot.LinesMatched)),
		humanize.Comma(int64(tot.QSOsCompleted)),
		humanize.Comma(int64(tot.QSOsTimedOut)),
		humanize.Comma(int64(tot.ParseFailures)),
		tot.Rotations)
}
