// Package stats tracks per-station and per-source capture counters plus
// pipeline metrics for the periodic console summary.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker tracks capture statistics by station and source.
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so per-capture increments
	// don't fight over a mutex
	stationCounts sync.Map // string -> *atomic.Uint64
	sourceCounts  sync.Map // string -> *atomic.Uint64
	start         atomic.Int64

	captured        atomic.Uint64
	duplicates      atomic.Uint64
	rejected        atomic.Uint64
	foundLocally    atomic.Uint64
	queued          atomic.Uint64
	downloadsOK     atomic.Uint64
	downloadsFailed atomic.Uint64
	bytesDownloaded atomic.Uint64
}

// NewTracker creates a new stats tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// IncrementStation increases the capture count for a station.
func (t *Tracker) IncrementStation(station string) {
	incrementCounter(&t.stationCounts, station)
}

// IncrementSource increases the capture count for a source (POLLER, FEED, ...).
func (t *Tracker) IncrementSource(source string) {
	incrementCounter(&t.sourceCounts, strings.ToUpper(strings.TrimSpace(source)))
}

func (t *Tracker) IncrementCaptured()     { t.captured.Add(1) }
func (t *Tracker) IncrementDuplicates()   { t.duplicates.Add(1) }
func (t *Tracker) IncrementRejected()     { t.rejected.Add(1) }
func (t *Tracker) IncrementFoundLocally() { t.foundLocally.Add(1) }
func (t *Tracker) IncrementQueued()       { t.queued.Add(1) }

// RecordDownload accounts one finished download attempt.
func (t *Tracker) RecordDownload(success bool, bytes uint64) {
	if success {
		t.downloadsOK.Add(1)
		t.bytesDownloaded.Add(bytes)
		return
	}
	t.downloadsFailed.Add(1)
}

func (t *Tracker) Captured() uint64        { return t.captured.Load() }
func (t *Tracker) Duplicates() uint64      { return t.duplicates.Load() }
func (t *Tracker) Rejected() uint64        { return t.rejected.Load() }
func (t *Tracker) FoundLocally() uint64    { return t.foundLocally.Load() }
func (t *Tracker) Queued() uint64          { return t.queued.Load() }
func (t *Tracker) DownloadsOK() uint64     { return t.downloadsOK.Load() }
func (t *Tracker) DownloadsFailed() uint64 { return t.downloadsFailed.Load() }

// GetStationCounts returns a copy of per-station capture counts.
func (t *Tracker) GetStationCounts() map[string]uint64 {
	counts := make(map[string]uint64)
	t.stationCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// GetSourceCounts returns a copy of per-source capture counts.
func (t *Tracker) GetSourceCounts() map[string]uint64 {
	counts := make(map[string]uint64)
	t.sourceCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// GetUptime returns how long the tracker has been running.
func (t *Tracker) GetUptime() time.Duration {
	start := t.start.Load()
	return time.Since(time.Unix(0, start))
}

// Reset resets all counters.
func (t *Tracker) Reset() {
	t.stationCounts.Range(func(key, _ any) bool {
		t.stationCounts.Delete(key)
		return true
	})
	t.sourceCounts.Range(func(key, _ any) bool {
		t.sourceCounts.Delete(key)
		return true
	})
	t.captured.Store(0)
	t.duplicates.Store(0)
	t.rejected.Store(0)
	t.foundLocally.Store(0)
	t.queued.Store(0)
	t.downloadsOK.Store(0)
	t.downloadsFailed.Store(0)
	t.bytesDownloaded.Store(0)
	t.start.Store(time.Now().UnixNano())
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	lines := make([]string, 0, 4)
	lines = append(lines, fmt.Sprintf(
		"Pipeline: captured=%s dup=%s rejected=%s local=%s queued=%s uptime=%s",
		humanize.Comma(int64(t.captured.Load())),
		humanize.Comma(int64(t.duplicates.Load())),
		humanize.Comma(int64(t.rejected.Load())),
		humanize.Comma(int64(t.foundLocally.Load())),
		humanize.Comma(int64(t.queued.Load())),
		t.GetUptime().Round(time.Second)))
	lines = append(lines, fmt.Sprintf(
		"Downloads: ok=%s failed=%s fetched=%s",
		humanize.Comma(int64(t.downloadsOK.Load())),
		humanize.Comma(int64(t.downloadsFailed.Load())),
		humanize.Bytes(t.bytesDownloaded.Load())))
	lines = append(lines, formatMapCounts("Captures by station", &t.stationCounts))
	lines = append(lines, formatMapCounts("Captures by source", &t.sourceCounts))
	return lines
}

func formatMapCounts(label string, counts *sync.Map) string {
	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	first := true
	counts.Range(func(key, value any) bool {
		if !first {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%d", key.(string), value.(*atomic.Uint64).Load())
		first = false
		return true
	})
	if first {
		builder.WriteString("(none)")
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
