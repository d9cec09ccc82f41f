// Package poller keeps now-playing data fresh without hammering the station
// pages. The enabled station set is partitioned into rotating mini-batches;
// each tick polls only the next batch, so the full set completes in a few
// ticks while any single page sees a fraction of the request rate.
package poller

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"airwatch/config"
)

// Result is the outcome of polling one station.
type Result struct {
	Station    config.StationConfig
	NowPlaying string
	Recent     []string
	Err        error
}

// Fetcher retrieves raw now-playing/recently-played text for one station.
// Implementations must be safe for concurrent use and idempotent per call.
type Fetcher interface {
	Poll(ctx context.Context, station config.StationConfig) (Result, error)
}

// Sink receives successful poll results. Failed stations are logged and
// skipped; one station's failure never blocks the batch.
type Sink func(ctx context.Context, res Result)

// Poller drives the rotation. Safe for concurrent use; the startup full
// poll may overlap scheduler ticks.
type Poller struct {
	cfg     config.PollerConfig
	fetcher Fetcher
	sink    Sink

	mu       sync.Mutex
	probe    func() bool
	onOnline func(online bool)
	offline  bool
	stations []config.StationConfig
	cursor   int
}

// New constructs a poller over the given stations.
func New(cfg config.PollerConfig, stations []config.StationConfig, fetcher Fetcher, sink Sink) *Poller {
	return &Poller{
		cfg:      cfg,
		fetcher:  fetcher,
		sink:     sink,
		probe:    defaultProbe,
		stations: stations,
	}
}

// SetStations replaces the station set, e.g. after a config reload. The
// rotation cursor restarts so every station is revisited promptly.
func (p *Poller) SetStations(stations []config.StationConfig) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.stations = stations
	p.cursor = 0
	p.mu.Unlock()
}

// SetProbe overrides the connectivity probe (tests).
func (p *Poller) SetProbe(probe func() bool) {
	if p == nil || probe == nil {
		return
	}
	p.mu.Lock()
	p.probe = probe
	p.mu.Unlock()
}

// SetOnlineHook registers a callback fired on connectivity transitions, with
// the new state. Called from the poll cycle, so it must not block.
func (p *Poller) SetOnlineHook(fn func(online bool)) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.onOnline = fn
	p.mu.Unlock()
}

// Tick polls the next rotation mini-batch. Stations outside their active
// time window are skipped without counting as failures.
func (p *Poller) Tick(ctx context.Context, now time.Time) {
	if p == nil {
		return
	}
	batch := p.nextBatch()
	if len(batch) == 0 {
		return
	}
	if !p.checkOnline() {
		return
	}
	p.pollBatch(ctx, batch, now)
}

// PollAll polls every station at once. Used for the full sweep at startup.
func (p *Poller) PollAll(ctx context.Context, now time.Time) {
	if p == nil {
		return
	}
	p.mu.Lock()
	batch := make([]config.StationConfig, len(p.stations))
	copy(batch, p.stations)
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if !p.checkOnline() {
		return
	}
	p.pollBatch(ctx, batch, now)
}

// nextBatch advances the rotation cursor and returns the stations to poll
// this tick. Batch size is chosen so the full set completes in
// cfg.RotationGroups ticks.
func (p *Poller) nextBatch() []config.StationConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.stations)
	if n == 0 {
		return nil
	}
	groups := p.cfg.RotationGroups
	if groups <= 0 {
		groups = 3
	}
	size := (n + groups - 1) / groups
	if p.cursor >= n {
		p.cursor = 0
	}
	end := p.cursor + size
	if end > n {
		end = n
	}
	batch := make([]config.StationConfig, end-p.cursor)
	copy(batch, p.stations[p.cursor:end])
	p.cursor = end
	return batch
}

func (p *Poller) pollBatch(ctx context.Context, batch []config.StationConfig, now time.Time) {
	g, gctx := errgroup.WithContext(ctx)
	for _, station := range batch {
		station := station
		if !station.Window.Contains(now) {
			continue
		}
		g.Go(func() error {
			res := p.pollStation(gctx, station)
			if res.Err != nil {
				log.Printf("Poller: %s failed after retries: %v", station.Name, res.Err)
				return nil // tolerate partial failure
			}
			if p.sink != nil {
				p.sink(gctx, res)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// pollStation runs one station fetch with bounded retries and fixed backoff.
func (p *Poller) pollStation(ctx context.Context, station config.StationConfig) Result {
	timeout := time.Duration(p.cfg.FetchTimeoutSec) * time.Second
	backoff := time.Duration(p.cfg.RetryBackoffSec) * time.Second
	attempts := p.cfg.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var last Result
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				last.Err = ctx.Err()
				return last
			}
		}
		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		res, err := p.fetcher.Poll(fetchCtx, station)
		cancel()
		if err == nil {
			res.Station = station
			res.Recent = capRecent(res.Recent, p.cfg.RecentPerPoll)
			return res
		}
		last = Result{Station: station, Err: err}
	}
	return last
}

// checkOnline runs the probe and updates the offline flag under the lock;
// the startup full poll and scheduler ticks both land here concurrently.
// The transition hook fires outside the lock, once per state change.
func (p *Poller) checkOnline() bool {
	p.mu.Lock()
	probe := p.probe
	p.mu.Unlock()
	if probe == nil {
		return true
	}
	online := probe()

	p.mu.Lock()
	transition := online == p.offline
	p.offline = !online
	hook := p.onOnline
	p.mu.Unlock()

	if transition {
		if online {
			log.Printf("Poller: connectivity restored")
		} else {
			log.Printf("Poller: no connectivity, skipping cycle")
		}
		if hook != nil {
			hook(online)
		}
	}
	return online
}

func capRecent(recent []string, max int) []string {
	if max <= 0 {
		max = 3
	}
	if len(recent) > max {
		return recent[:max]
	}
	return recent
}

// defaultProbe checks raw reachability the way the operator's kit always has:
// a short TCP dial to a public resolver.
func defaultProbe() bool {
	conn, err := net.DialTimeout("tcp", "8.8.8.8:53", 3*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
