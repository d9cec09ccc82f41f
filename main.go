// airwatch monitors radio stations, captures what they play, and keeps the
// local library in sync by downloading whatever is missing.
//
// Pipeline: poller (rotating station mini-batches) and MQTT feed feed the
// ingest stage, which normalizes song text, dedups per station, persists
// captures, batches ranking increments, and queues missing songs. A single
// drain loop downloads queued songs in priority order, gated on the
// credential health monitor. The scheduler drives every periodic task.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"airwatch/config"
	"airwatch/credential"
	"airwatch/download"
	"airwatch/feed"
	"airwatch/ingest"
	"airwatch/library"
	"airwatch/poller"
	"airwatch/queue"
	"airwatch/ranking"
	"airwatch/rotation"
	"airwatch/scheduler"
	"airwatch/song"
	"airwatch/stats"
	"airwatch/store"
)

// Version will be set at build time
var Version = "dev"

const (
	envConfigPath     = "AIRWATCH_CONFIG"
	defaultConfigPath = "airwatch.yaml"
)

func loadMonitorConfig() (*config.Config, string, error) {
	candidates := make([]string, 0, 2)
	if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, defaultConfigPath)

	var lastErr error
	for _, path := range candidates {
		if path == "" {
			continue
		}
		cfg, err := config.Load(path)
		if err != nil {
			if os.IsNotExist(err) {
				lastErr = err
				continue
			}
			return nil, path, err
		}
		return cfg, path, nil
	}
	return nil, "", lastErr
}

func main() {
	cfg, configSource, err := loadMonitorConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	fanout, err := setupLogging(cfg.Logging, os.Stdout)
	if err != nil {
		log.Printf("Warning: file logging unavailable: %v", err)
	}
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()

	log.Printf("Airwatch v%s starting...", Version)
	log.Printf("Loaded configuration from %s", configSource)
	cfg.Print()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence backend: Postgres when a database URL is configured,
	// local SQLite otherwise.
	var st store.Store
	if strings.TrimSpace(cfg.Store.DatabaseURL) != "" {
		pg, err := store.OpenPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			log.Fatalf("Error opening postgres store: %v", err)
		}
		st = pg
		log.Printf("Store: postgres backend")
	} else {
		lite, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			log.Fatalf("Error opening sqlite store: %v", err)
		}
		st = lite
		log.Printf("Store: sqlite backend at %s", cfg.Store.SQLitePath)
	}
	defer st.Close()

	// Station list: the config file seeds it; a populated station table in
	// the shared store overrides it.
	stations := cfg.EnabledStations()
	if remote, err := st.LoadStations(ctx); err != nil {
		log.Printf("Warning: station list load failed, using config file: %v", err)
	} else if len(remote) > 0 {
		enabled := remote[:0]
		for _, s := range remote {
			if s.Enabled {
				enabled = append(enabled, s)
			}
		}
		stations = enabled
		log.Printf("Loaded %d stations from store", len(stations))
	}
	if len(stations) == 0 {
		log.Fatalf("No enabled stations configured")
	}

	rot := rotation.NewConfigSource(stations)
	tracker := stats.NewTracker()

	scanner := library.NewFSScanner(cfg.Library.SearchPaths,
		time.Duration(cfg.Library.RescanMinutes)*time.Minute)
	resolver := library.NewResolver(scanner, cfg.Library.Threshold,
		time.Duration(cfg.Library.CacheTTLMin)*time.Minute, cfg.Library.CacheCapacity)

	agg := ranking.New(cfg.Ranking.FlushCap,
		time.Duration(cfg.Ranking.ForegroundDwellS)*time.Second,
		func(ctx context.Context, batch []ranking.Increment) error {
			deltas := make([]store.RankingDelta, 0, len(batch))
			for _, inc := range batch {
				deltas = append(deltas, store.RankingDelta{
					Artist: inc.Identity.Artist,
					Title:  inc.Identity.Title,
					Style:  inc.Style,
					Delta:  inc.Count,
				})
			}
			return st.UpsertRankings(ctx, deltas)
		})

	monitor := credential.NewMonitor(cfg.Credential.Secret,
		credential.NewHTTPValidator(cfg.Credential.ValidateURL))
	monitor.Check(ctx)
	if monitor.Valid() {
		log.Printf("Credential: valid (%s)", monitor.AccountInfo())
	} else {
		log.Printf("Credential: INVALID, downloads are gated until it recovers")
	}

	// Declared ahead of the queue so its success callback can reach the
	// pipeline's downloaded set; assigned once the queue exists.
	var pipeline *ingest.Pipeline

	downloader := download.NewClient(cfg.Downloads.SourceURL, cfg.Downloads.Destination,
		time.Duration(cfg.Downloads.TimeoutSeconds)*time.Second,
		func() string { return cfg.Credential.Secret })
	downloader.OnBytes = func(n uint64) { tracker.RecordDownload(true, n) }

	q := queue.New(queue.Config{
		Quality:           cfg.Downloads.Quality,
		FallbackQuality:   cfg.Downloads.FallbackQuality,
		CooldownThreshold: cfg.Downloads.CooldownThreshold,
		Cooldown:          time.Duration(cfg.Downloads.CooldownMinutes) * time.Minute,
		AttemptTimeout:    time.Duration(cfg.Downloads.TimeoutSeconds) * time.Second,
	}, downloader, func(id song.Identity) int {
		return agg.PlayCount(id)
	}, monitor.Valid, queue.Callbacks{
		OnStatus: func(entry *song.MissingSong, status song.Status) {
			if err := st.UpdateMissingStatus(ctx, entry.Identity(), status); err != nil {
				log.Printf("Queue: status update %s: %v", entry.Identity().Key(), err)
			}
		},
		OnDownloaded: func(entry *song.MissingSong, output string) {
			id := entry.Identity()
			resolver.MarkDownloaded(id, output)
			if pipeline != nil {
				pipeline.MarkDownloaded(id)
			}
			if err := st.DeleteMissing(ctx, id); err != nil {
				log.Printf("Queue: missing cleanup %s: %v", id.Key(), err)
			}
			if err := st.AppendDownload(ctx, &store.DownloadRecord{
				Artist:     entry.Artist,
				Title:      entry.Title,
				Station:    entry.Station,
				Quality:    cfg.Downloads.Quality,
				Output:     output,
				Success:    true,
				FinishedAt: time.Now(),
			}); err != nil {
				log.Printf("Queue: download history %s: %v", id.Key(), err)
			}
		},
		OnDownloadError: func(errText string) {
			tracker.RecordDownload(false, 0)
			monitor.ReportDownloadError(errText)
		},
	})
	q.SetAutoDownload(cfg.Downloads.Enabled)

	// Realtime feed is optional; without a broker the instance runs alone.
	var feedClient *feed.Client
	var publisher ingest.Publisher
	if cfg.Feed.Enabled && strings.TrimSpace(cfg.Feed.Broker) != "" {
		feedClient = feed.NewClient(cfg.Feed.Broker, cfg.Feed.Port, cfg.Server.NodeID, cfg.Feed.Topic)
		if err := feedClient.Connect(); err != nil {
			log.Printf("Warning: feed unavailable: %v", err)
			feedClient = nil
		} else {
			publisher = feedClient
		}
	}

	pipeline = ingest.New(st, publisher, agg, resolver, rot, q, tracker)
	pipeline.SetFileOnlyLog(func(line string) {
		fanout.WriteFileOnlyLine(line, time.Now())
	})

	if feedClient != nil {
		go func() {
			for cs := range feedClient.Captures() {
				pipeline.HandleRemote(ctx, cs)
			}
		}()
	}

	p := poller.New(cfg.Poller, stations, poller.NewHTTPFetcher(), pipeline.HandlePollResult)
	// Flush pending ranking increments after a real outage so they are not
	// sitting in memory when the next one hits.
	p.SetOnlineHook(func(online bool) {
		now := time.Now().UTC()
		if online {
			agg.MarkVisible(ctx, now)
		} else {
			agg.MarkHidden(now)
		}
	})

	// Drain driver: reactive kicks from Enqueue plus a periodic safety net
	// via the scheduler. Drain serializes itself, extra kicks coalesce.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.KickChan():
				q.Drain(ctx, nil)
			}
		}
	}()

	hk := &housekeeper{
		cfg:      cfg.Retention,
		storeCfg: cfg.Store,
		store:    st,
		pipeline: pipeline,
		queue:    q,
		ranking:  agg,
		resolver: resolver,
		tracker:  tracker,
	}

	sched := scheduler.New(time.Second)
	sched.Add("poller", time.Duration(cfg.Poller.IntervalSeconds)*time.Second, func(now time.Time) {
		p.Tick(ctx, now)
	})
	sched.Add("queue-safety-net", time.Duration(cfg.Downloads.DrainIntervalSec)*time.Second, func(now time.Time) {
		q.Kick()
	})
	sched.Add("ranking-flush", time.Duration(cfg.Ranking.FlushIntervalMin)*time.Minute, func(now time.Time) {
		agg.Flush(ctx)
	})
	sched.Add("credential-check", time.Duration(cfg.Credential.IntervalMinutes)*time.Minute, func(now time.Time) {
		monitor.Check(ctx)
	})
	sched.Add("retention-sweep", time.Duration(cfg.Retention.SweepMinutes)*time.Minute, func(now time.Time) {
		hk.sweep(ctx)
	})
	sched.Add("daily-reset", time.Minute, func(now time.Time) {
		hk.checkDailyReset(ctx, now)
	})
	gcWindow := &gcPauseWindow{}
	sched.Add("stats-display", 5*time.Minute, func(now time.Time) {
		for _, line := range tracker.SnapshotLines() {
			log.Printf("Stats: %s", line)
		}
		log.Printf("Stats: queue=%d pendingRanking=%d processed=%d resolverCache=%d",
			q.Len(), agg.PendingLen(), pipeline.ProcessedLen(), resolver.CacheLen())
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		p99, pauses, truncated := gcWindow.snapshot(&mem)
		log.Printf("Stats: heap=%dMB goroutines=%d gcPauses=%d p99=%s truncated=%v",
			mem.HeapAlloc/(1<<20), runtime.NumGoroutine(), pauses, p99, truncated)
	})
	sched.Start()

	// Full sweep of every station once at startup, then the rotation takes
	// over.
	go p.PollAll(ctx, time.Now())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Printf("Monitoring %d stations (full set covered every %d ticks). Press Ctrl+C to stop.",
		len(stations), cfg.Poller.RotationGroups)
	if cfg.Downloads.Enabled {
		log.Printf("Auto-download enabled (quality %s, fallback %s)", cfg.Downloads.Quality, cfg.Downloads.FallbackQuality)
	} else {
		log.Printf("Auto-download disabled; missing songs are queued only")
	}
	log.Println("---")

	sig := <-sigChan
	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down gracefully...")

	sched.Stop()
	cancel()

	if feedClient != nil {
		feedClient.Stop()
	}

	// Final ranking flush so pending increments survive the restart.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	agg.Flush(flushCtx)
	flushCancel()

	log.Println("Shutdown complete")
}
