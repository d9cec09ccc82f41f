package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"airwatch/config"
	"airwatch/ingest"
	"airwatch/library"
	"airwatch/queue"
	"airwatch/ranking"
	"airwatch/stats"
	"airwatch/store"
)

// housekeeper owns the retention sweeps and the daily reset. It runs under
// the scheduler; every method is a task body.
type housekeeper struct {
	cfg      config.RetentionConfig
	storeCfg config.StoreConfig
	store    store.Store
	pipeline *ingest.Pipeline
	queue    *queue.Queue
	ranking  *ranking.Aggregator
	resolver *library.Resolver
	tracker  *stats.Tracker
}

// sweep is the hourly retention pass: age purge plus per-station caps.
func (h *housekeeper) sweep(ctx context.Context) {
	horizon := time.Duration(h.cfg.HorizonHours) * time.Hour
	removed, err := h.store.PurgeOlderThan(ctx, horizon)
	if err != nil {
		log.Printf("Housekeeping: age purge failed: %v", err)
	} else if removed > 0 {
		log.Printf("Housekeeping: purged %d rows older than %s", removed, horizon)
	}

	trimmed, err := h.store.TrimStationOverflow(ctx, h.storeCfg.PerStationCap)
	if err != nil {
		log.Printf("Housekeeping: station trim failed: %v", err)
	} else if trimmed > 0 {
		log.Printf("Housekeeping: trimmed %d overflow rows (cap %d per station)", trimmed, h.storeCfg.PerStationCap)
	}
}

// checkDailyReset fires the wholesale reset when the clock passes one of the
// configured times-of-day. A marker file keeps the reset at-most-once per
// slot even across restarts.
func (h *housekeeper) checkDailyReset(ctx context.Context, now time.Time) {
	slot, due := dueResetSlot(h.cfg.DailyResetTimes, now)
	if !due {
		return
	}
	marker := resetMarker(now, slot)
	if h.lastResetMarker() == marker {
		return
	}
	log.Printf("Housekeeping: daily reset (slot %s)", slot)
	h.reset(ctx)
	h.writeResetMarker(marker)
}

// reset clears every accumulating structure: store tables, queue, dedup
// sets, caches, pending ranking increments, counters.
func (h *housekeeper) reset(ctx context.Context) {
	if err := h.store.ResetAll(ctx); err != nil {
		log.Printf("Housekeeping: store reset failed: %v", err)
	}
	h.queue.Reset()
	h.ranking.Reset()
	h.pipeline.ForgetProcessed()
	h.resolver.ClearCache()
	h.tracker.Reset()
	log.Printf("Housekeeping: daily reset complete")
}

func (h *housekeeper) lastResetMarker() string {
	data, err := os.ReadFile(h.cfg.ResetMarkerPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (h *housekeeper) writeResetMarker(marker string) {
	path := h.cfg.ResetMarkerPath
	if strings.TrimSpace(path) == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("Housekeeping: marker dir: %v", err)
		return
	}
	if err := os.WriteFile(path, []byte(marker+"\n"), 0o644); err != nil {
		log.Printf("Housekeeping: write marker: %v", err)
	}
}

// dueResetSlot returns the latest configured "HH:MM" slot that has already
// passed today, if any.
func dueResetSlot(slots []string, now time.Time) (string, bool) {
	nowMinute := now.Hour()*60 + now.Minute()
	best := -1
	var bestSlot string
	for _, slot := range slots {
		minute, ok := parseClock(slot)
		if !ok {
			continue
		}
		if minute <= nowMinute && minute > best {
			best = minute
			bestSlot = slot
		}
	}
	return bestSlot, best >= 0
}

func resetMarker(now time.Time, slot string) string {
	return now.Format("2006-01-02") + " " + slot
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}
