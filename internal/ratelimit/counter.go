// Package ratelimit bounds how often repetitive pipeline events reach the
// log. Station pages emit junk lines in bursts; every drop is counted but
// only one line per interval is surfaced.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Counter accumulates a running total and remembers when the last line was
// let through. Safe for concurrent use from the poll goroutines.
type Counter struct {
	interval time.Duration
	lastLog  atomic.Int64
	total    atomic.Uint64
}

// NewCounter constructs a Counter that surfaces at most one line per
// interval. A zero or negative interval disables throttling.
func NewCounter(interval time.Duration) Counter {
	return Counter{interval: interval}
}

// Inc counts one event and reports the running total plus whether this one
// should be logged. Concurrent callers inside the same window race on the
// CAS; exactly one of them wins the log slot.
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
	if c.lastLog.CompareAndSwap(last, now) {
		return total, true
	}
	return total, false
}
