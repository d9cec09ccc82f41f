// Package queue implements the missing-song download engine: a single
// consumer, priority-ordered work queue with immediate retries, a reduced
// quality fallback attempt, and a cooldown window for items that keep
// failing. Exactly one download is in flight at any time as deliberate
// backpressure against the remote source's rate limits.
package queue

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"airwatch/song"
)

// DownloadResult is the outcome of one download attempt.
type DownloadResult struct {
	Success bool
	Skipped bool // remote reported the track already delivered
	Output  string
	Err     error
}

// Downloader fetches one track from the remote source. Implementations must
// honor ctx cancellation and bound their own I/O.
type Downloader interface {
	Download(ctx context.Context, artist, title, quality string) DownloadResult
}

// ScoreFunc supplies the ranking-derived base priority for an identity
// (higher chart position, higher score). The urgency boost is added on top.
type ScoreFunc func(id song.Identity) int

// Callbacks let the owner react to item lifecycle transitions without the
// queue importing storage or resolver packages.
type Callbacks struct {
	// OnStatus fires on every status transition of an entry.
	OnStatus func(entry *song.MissingSong, status song.Status)
	// OnDownloaded fires once per successful download, after OnStatus.
	OnDownloaded func(entry *song.MissingSong, output string)
	// OnDownloadError receives raw failure text for the credential side
	// channel.
	OnDownloadError func(errText string)
}

// Config carries the retry/cooldown policy.
type Config struct {
	Quality           string
	FallbackQuality   string
	CooldownThreshold int           // consecutive failures before cooldown
	Cooldown          time.Duration // exclusion window once threshold reached
	AttemptTimeout    time.Duration
}

type item struct {
	entry         *song.MissingSong
	retryCount    int
	priorityScore int
	lastFailedAt  time.Time
	consecFails   int
	useFallback   bool
}

// Queue is the scheduler state. All shared state is guarded by mu; the drain
// loop re-reads it after every await point instead of trusting stale copies.
type Queue struct {
	mu    sync.Mutex
	cfg   Config
	items map[string]*item // identity key -> live item, at most one per key

	downloader Downloader
	score      ScoreFunc
	callbacks  Callbacks

	paused       bool
	autoDownload bool
	credentialOK func() bool

	draining bool
	inFlight string // identity key currently downloading, "" when idle
	gen      uint64 // bumped by Reset; in-flight results from older gens are discarded

	delay func(song.Urgency) time.Duration
	kick  chan struct{}
}

// New constructs a queue. credentialOK gates draining; a nil func means
// always valid.
func New(cfg Config, downloader Downloader, score ScoreFunc, credentialOK func() bool, callbacks Callbacks) *Queue {
	if cfg.CooldownThreshold <= 0 {
		cfg.CooldownThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Minute
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 2 * time.Minute
	}
	if score == nil {
		score = func(song.Identity) int { return 0 }
	}
	if credentialOK == nil {
		credentialOK = func() bool { return true }
	}
	return &Queue{
		cfg:          cfg,
		items:        make(map[string]*item),
		downloader:   downloader,
		score:        score,
		callbacks:    callbacks,
		autoDownload: true,
		credentialOK: credentialOK,
		delay:        interItemDelay,
		kick:         make(chan struct{}, 1),
	}
}

// Enqueue adds a missing song. A key that already has a live item is ignored,
// preserving the at-most-one-live-item invariant. Returns whether the entry
// was added.
func (q *Queue) Enqueue(entry *song.MissingSong) bool {
	if q == nil || entry == nil {
		return false
	}
	key := entry.Identity().Key()
	q.mu.Lock()
	if _, exists := q.items[key]; exists {
		q.mu.Unlock()
		return false
	}
	q.items[key] = &item{entry: entry}
	q.mu.Unlock()

	q.Kick()
	return true
}

// Kick nudges the drain loop (reactive trigger). Non-blocking; coalesces.
func (q *Queue) Kick() {
	if q == nil {
		return
	}
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// KickChan exposes the reactive trigger channel for the owner's drive loop.
func (q *Queue) KickChan() <-chan struct{} {
	return q.kick
}

// SetPaused toggles the administrative pause gate.
func (q *Queue) SetPaused(paused bool) {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.paused = paused
	q.mu.Unlock()
	if !paused {
		q.Kick()
	}
}

// SetAutoDownload toggles the auto-download gate.
func (q *Queue) SetAutoDownload(enabled bool) {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.autoDownload = enabled
	q.mu.Unlock()
	if enabled {
		q.Kick()
	}
}

// Len returns the number of live items.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Contains reports whether a live item exists for the identity.
func (q *Queue) Contains(id song.Identity) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[id.Key()]
	return ok
}

// Remove drops a live item without a status transition (e.g. the song was
// found locally after all).
func (q *Queue) Remove(id song.Identity) {
	if q == nil {
		return
	}
	q.mu.Lock()
	delete(q.items, id.Key())
	q.mu.Unlock()
}

// Reset clears the queue, all retry/cooldown bookkeeping, and invalidates any
// in-flight download: its result will land against a bumped generation and be
// discarded as a no-op.
func (q *Queue) Reset() {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.items = make(map[string]*item)
	q.inFlight = ""
	q.gen++
	q.mu.Unlock()
	log.Printf("Queue: reset, all pending downloads cleared")
}

// Drain processes eligible items one at a time until the queue has none left,
// every remaining item is cooling down, or a gate closes. Only one drain runs
// at a time; concurrent calls return immediately.
func (q *Queue) Drain(ctx context.Context, now func() time.Time) {
	if q == nil {
		return
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		if !q.gatesOpen() {
			return
		}
		key, it, gen := q.selectNext(now())
		if it == nil {
			return
		}
		q.processItem(ctx, key, it, gen, now)

		// Throttle between items; the hotter the urgency, the shorter
		// the pause.
		delay := q.delay(it.entry.Urgency)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) gatesOpen() bool {
	q.mu.Lock()
	paused, auto := q.paused, q.autoDownload
	q.mu.Unlock()
	if paused || !auto {
		return false
	}
	return q.credentialOK()
}

// selectNext re-scores and sorts the live items, then returns the
// highest-priority item not inside its cooldown window. A cooled-down item
// re-entering selection has its failure counter reset. Returns nil when
// nothing is eligible.
func (q *Queue) selectNext(now time.Time) (string, *item, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	type scored struct {
		key string
		it  *item
	}
	order := make([]scored, 0, len(q.items))
	for key, it := range q.items {
		it.priorityScore = q.score(it.entry.Identity()) + it.entry.Urgency.Boost()
		order = append(order, scored{key: key, it: it})
	}
	// Stable sort: equal scores keep map-independent deterministic order by
	// key so ties do not flap between cycles.
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].it.priorityScore != order[j].it.priorityScore {
			return order[i].it.priorityScore > order[j].it.priorityScore
		}
		return order[i].key < order[j].key
	})

	for _, cand := range order {
		it := cand.it
		if it.consecFails >= q.cfg.CooldownThreshold {
			if now.Sub(it.lastFailedAt) < q.cfg.Cooldown {
				continue // cooling down
			}
			// Window elapsed: item is eligible again with a clean slate.
			it.consecFails = 0
			it.useFallback = false
		}
		q.inFlight = cand.key
		return cand.key, it, q.gen
	}
	return "", nil, 0
}

// processItem runs the download attempts for one selected item and applies
// the outcome. State is re-read under the lock after the awaits; a Reset
// during the download makes the result a safe no-op.
func (q *Queue) processItem(ctx context.Context, key string, it *item, gen uint64, now func() time.Time) {
	entry := it.entry
	q.setStatus(entry, song.StatusDownloading)

	quality := q.cfg.Quality
	if it.useFallback {
		quality = q.cfg.FallbackQuality
	}

	res := q.attempt(ctx, entry, quality)
	if !res.Success && !res.Skipped && res.Err != nil && !it.useFallback && ctx.Err() == nil {
		// First failure in a cycle: try once more right away at reduced
		// quality before giving up on this cycle.
		log.Printf("Queue: %s - %s failed at %s, retrying at %s: %v",
			entry.Artist, entry.Title, quality, q.cfg.FallbackQuality, res.Err)
		res = q.attempt(ctx, entry, q.cfg.FallbackQuality)
	}

	q.mu.Lock()
	if q.gen != gen {
		// Reset happened while we were downloading; discard the result.
		q.mu.Unlock()
		return
	}
	q.inFlight = ""
	live, stillLive := q.items[key]
	if !stillLive || live != it {
		q.mu.Unlock()
		return
	}

	if res.Success || res.Skipped {
		delete(q.items, key)
		q.mu.Unlock()
		q.setStatus(entry, song.StatusDownloaded)
		if q.callbacks.OnDownloaded != nil {
			q.callbacks.OnDownloaded(entry, res.Output)
		}
		return
	}

	it.retryCount++
	it.consecFails++
	it.lastFailedAt = now()
	it.useFallback = true
	cooling := it.consecFails >= q.cfg.CooldownThreshold
	q.mu.Unlock()

	q.setStatus(entry, song.StatusError)
	if res.Err != nil && q.callbacks.OnDownloadError != nil {
		q.callbacks.OnDownloadError(res.Err.Error())
	}
	if cooling {
		log.Printf("Queue: %s - %s entered cooldown after %d consecutive failures",
			entry.Artist, entry.Title, it.consecFails)
	}
}

func (q *Queue) attempt(ctx context.Context, entry *song.MissingSong, quality string) DownloadResult {
	attemptCtx, cancel := context.WithTimeout(ctx, q.cfg.AttemptTimeout)
	defer cancel()
	return q.downloader.Download(attemptCtx, entry.Artist, entry.Title, quality)
}

func (q *Queue) setStatus(entry *song.MissingSong, status song.Status) {
	entry.Status = status
	if q.callbacks.OnStatus != nil {
		q.callbacks.OnStatus(entry, status)
	}
}

// interItemDelay scales the pause between downloads with urgency.
func interItemDelay(u song.Urgency) time.Duration {
	switch u {
	case song.UrgencyOnAir:
		return 2 * time.Second
	case song.UrgencyActiveRotation:
		return 5 * time.Second
	case song.UrgencyPriorityStation:
		return 10 * time.Second
	default:
		return 15 * time.Second
	}
}

// Snapshot returns a copy of live item state for the stats display.
func (q *Queue) Snapshot() []ItemState {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ItemState, 0, len(q.items))
	for key, it := range q.items {
		out = append(out, ItemState{
			Key:           key,
			Artist:        it.entry.Artist,
			Title:         it.entry.Title,
			Station:       it.entry.Station,
			Urgency:       it.entry.Urgency,
			Status:        it.entry.Status,
			RetryCount:    it.retryCount,
			ConsecFails:   it.consecFails,
			LastFailedAt:  it.lastFailedAt,
			PriorityScore: it.priorityScore,
			InFlight:      key == q.inFlight,
		})
	}
	return out
}

// ItemState is an observable copy of one queue item.
type ItemState struct {
	Key           string
	Artist        string
	Title         string
	Station       string
	Urgency       song.Urgency
	Status        song.Status
	RetryCount    int
	ConsecFails   int
	LastFailedAt  time.Time
	PriorityScore int
	InFlight      bool
}
