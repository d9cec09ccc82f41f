// Package ranking coalesces per-capture play-count increments into periodic
// batched writes, so a busy rotation does not cost one persistent write per
// captured song.
package ranking

import (
	"context"
	"log"
	"sync"
	"time"

	"airwatch/song"
)

// Increment is one pending ranking delta, keyed by normalized identity.
type Increment struct {
	Identity song.Identity
	Style    string
	Count    int
}

// FlushFunc persists a batch. The aggregator swaps in a fresh pending map
// before calling it, so increments arriving mid-flush are never lost.
type FlushFunc func(ctx context.Context, batch []Increment) error

// Aggregator accumulates increments and flushes on whichever comes first:
// the periodic interval, the pending count reaching the cap, or a
// foreground-regain signal after a minimum hidden dwell.
type Aggregator struct {
	mu       sync.Mutex
	pending  map[string]*Increment
	totals   map[string]int // cumulative since last reset, survives flushes
	cap      int
	dwell    time.Duration
	hiddenAt time.Time
	flushFn  FlushFunc
	flushing bool
	flushed  uint64
}

// New constructs an aggregator. cap <= 0 falls back to 500.
func New(flushCap int, foregroundDwell time.Duration, flush FlushFunc) *Aggregator {
	if flushCap <= 0 {
		flushCap = 500
	}
	if foregroundDwell <= 0 {
		foregroundDwell = time.Minute
	}
	return &Aggregator{
		pending: make(map[string]*Increment),
		totals:  make(map[string]int),
		cap:     flushCap,
		dwell:   foregroundDwell,
		flushFn: flush,
	}
}

// Add queues one play-count increment. An existing key's count is bumped in
// place. Reaching the cap triggers an immediate flush.
func (a *Aggregator) Add(ctx context.Context, id song.Identity, style string) {
	if a == nil || id.IsZero() {
		return
	}
	a.mu.Lock()
	key := id.Key()
	a.totals[key]++
	if inc, ok := a.pending[key]; ok {
		inc.Count++
		if style != "" {
			inc.Style = style
		}
		a.mu.Unlock()
		return
	}
	a.pending[key] = &Increment{Identity: id, Style: style, Count: 1}
	overCap := len(a.pending) > a.cap
	a.mu.Unlock()

	if overCap {
		a.Flush(ctx)
	}
}

// Flush writes all pending increments in one batched call. The pending map
// is swapped atomically before the store call fires; a failed flush requeues
// the batch behind any increments that arrived meanwhile.
func (a *Aggregator) Flush(ctx context.Context) {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.flushing || len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	a.flushing = true
	batchMap := a.pending
	a.pending = make(map[string]*Increment, len(batchMap))
	a.mu.Unlock()

	batch := make([]Increment, 0, len(batchMap))
	for _, inc := range batchMap {
		batch = append(batch, *inc)
	}

	err := a.flushFn(ctx, batch)

	a.mu.Lock()
	a.flushing = false
	if err != nil {
		// Merge the failed batch back under any increments that arrived
		// during the flush; their fresher counts win the style field.
		for _, inc := range batch {
			key := inc.Identity.Key()
			if cur, ok := a.pending[key]; ok {
				cur.Count += inc.Count
			} else {
				requeued := inc
				a.pending[key] = &requeued
			}
		}
		a.mu.Unlock()
		log.Printf("Ranking: flush of %d entries failed, requeued: %v", len(batch), err)
		return
	}
	a.flushed += uint64(len(batch))
	a.mu.Unlock()
}

// MarkHidden records the moment the instance went quiet, e.g. connectivity
// loss or host suspend.
func (a *Aggregator) MarkHidden(now time.Time) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.hiddenAt = now
	a.mu.Unlock()
}

// MarkVisible flushes if the quiet period lasted at least the minimum dwell.
// Rapid flapping below the dwell threshold does not flush.
func (a *Aggregator) MarkVisible(ctx context.Context, now time.Time) {
	if a == nil {
		return
	}
	a.mu.Lock()
	hiddenAt := a.hiddenAt
	a.hiddenAt = time.Time{}
	a.mu.Unlock()
	if hiddenAt.IsZero() || now.Sub(hiddenAt) < a.dwell {
		return
	}
	a.Flush(ctx)
}

// PlayCount returns the cumulative observed plays for an identity since the
// last reset. The download queue uses it as the priority base score.
func (a *Aggregator) PlayCount(id song.Identity) int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals[id.Key()]
}

// PendingLen returns the number of distinct pending keys.
func (a *Aggregator) PendingLen() int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Flushed returns the cumulative number of flushed entries.
func (a *Aggregator) Flushed() uint64 {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushed
}

// Reset drops all pending increments (daily reset).
func (a *Aggregator) Reset() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.pending = make(map[string]*Increment)
	a.totals = make(map[string]int)
	a.hiddenAt = time.Time{}
	a.mu.Unlock()
}
