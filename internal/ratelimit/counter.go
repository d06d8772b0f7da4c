// Package ratelimit throttles recurring diagnostics. The monitor's failure
// modes (unparseable lines, a missing log directory, slow push consumers)
// repeat at line rate; counting every occurrence while logging one sample per
// interval keeps the log readable without hiding the condition.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// DefaultLogInterval is the throttle shared by the pipeline's recurring
// diagnostics.
const DefaultLogInterval = 30 * time.Second

// Counter counts occurrences of a condition and gates how often a log line
// about it may be emitted. Safe for concurrent use.
type Counter struct {
	interval time.Duration
	lastLog  atomic.Int64
	total    atomic.Uint64
}

// NewCounter returns a counter allowing one log per interval. An interval of
// zero or less disables the throttle entirely.
func NewCounter(interval time.Duration) Counter {
	return Counter{interval: interval}
}

// Inc records one occurrence and reports the running total along with
// whether the caller may log this one.
func (c *Counter) Inc() (uint64, bool) {
	if c == nil {
		return 0, false
	}
	total := c.total.Add(1)
	if c.interval <= 0 {
		return total, true
	}
	now := time.Now().UTC().UnixNano()
	last := c.lastLog.Load()
	if now-last < c.interval.Nanoseconds() {
		return total, false
	}
	// CAS so concurrent callers in the same window elect a single logger.
	if c.lastLog.CompareAndSwap(last, now) {
		return total, true
	}
	return total, false
}

// Total returns the occurrence count without touching the throttle state.
func (c *Counter) Total() uint64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}
