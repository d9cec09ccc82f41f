// Package ingest turns raw poll results and remote feed captures into
// persisted songs, ranking increments, and missing-song queue entries. It is
// the single consumer between the sources and the rest of the pipeline.
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"airwatch/config"
	"airwatch/internal/ratelimit"
	"airwatch/library"
	"airwatch/poller"
	"airwatch/queue"
	"airwatch/ranking"
	"airwatch/rotation"
	"airwatch/song"
	"airwatch/stats"
	"airwatch/store"

	"github.com/zeebo/xxh3"
)

// processedCapacity bounds the station+identity dedup set. When full the
// oldest half is evicted, so a song that stopped airing long ago can be
// captured again.
const processedCapacity = 10000

// downloadedCapacity bounds the completed-download set. It outlives the
// processed set and the resolver cache, so a song downloaded to a directory
// outside the library search paths is not re-queued every time it airs.
const downloadedCapacity = 10000

// Publisher pushes local captures to the realtime feed. The MQTT client
// implements it; a nil publisher disables the feed.
type Publisher interface {
	Publish(cs *song.CapturedSong)
}

// Pipeline wires the capture path together. One Pipeline instance serves
// all sources; its methods are safe for concurrent use.
type Pipeline struct {
	store    store.Store
	feed     Publisher
	ranking  *ranking.Aggregator
	resolver *library.Resolver
	rotation rotation.Source
	queue    *queue.Queue
	tracker  *stats.Tracker

	processed  *song.KeySet
	downloaded *song.KeySet
	dropLog    ratelimit.Counter
	fileLog    func(line string)
}

// New builds the pipeline. feed may be nil.
func New(st store.Store, feed Publisher, agg *ranking.Aggregator, res *library.Resolver,
	rot rotation.Source, q *queue.Queue, tracker *stats.Tracker) *Pipeline {
	return &Pipeline{
		store:      st,
		feed:       feed,
		ranking:    agg,
		resolver:   res,
		rotation:   rot,
		queue:      q,
		tracker:    tracker,
		processed:  song.NewKeySet(processedCapacity),
		downloaded: song.NewKeySet(downloadedCapacity),
		dropLog:    ratelimit.NewCounter(30 * time.Second),
	}
}

// SetFileOnlyLog routes rejection drop lines to a file-only sink instead of
// the shared logger, keeping the console free of scrape noise.
func (p *Pipeline) SetFileOnlyLog(fn func(line string)) {
	p.fileLog = fn
}

// HandlePollResult ingests one station's poll outcome: the now-playing song
// plus the recently-played list.
func (p *Pipeline) HandlePollResult(ctx context.Context, res poller.Result) {
	if res.NowPlaying != "" {
		p.ingestText(ctx, res.Station, res.NowPlaying, true)
	}
	for _, text := range res.Recent {
		p.ingestText(ctx, res.Station, text, false)
	}
}

// HandleRemote ingests a capture published by another instance. It is
// persisted and ranked like a local capture but never re-published.
func (p *Pipeline) HandleRemote(ctx context.Context, cs *song.CapturedSong) {
	id, ok := song.Normalize(cs.Artist, cs.Title)
	if !ok {
		p.rejected(cs.StationName, cs.Artist+" - "+cs.Title)
		return
	}
	station := config.StationConfig{Name: cs.StationName, InRotation: p.rotation.Contains(cs.StationName)}
	p.process(ctx, station, id, cs.NowPlaying, song.SourceFeed)
}

func (p *Pipeline) ingestText(ctx context.Context, station config.StationConfig, text string, nowPlaying bool) {
	artist, title, ok := song.ParseSongText(text)
	if !ok {
		p.rejected(station.Name, text)
		return
	}
	id, ok := song.Normalize(artist, title)
	if !ok {
		p.rejected(station.Name, text)
		return
	}
	p.process(ctx, station, id, nowPlaying, song.SourcePoller)
}

func (p *Pipeline) process(ctx context.Context, station config.StationConfig, id song.Identity, nowPlaying bool, source song.SourceType) {
	// One capture per station per identity while the song keeps showing up
	// in polls. The processed set is bounded, so very old entries age out
	// and the song can be captured again on a later airing.
	if !p.processed.Add(processedKey(station.Name, id)) {
		p.tracker.IncrementDuplicates()
		return
	}

	found := false
	if res, err := p.resolver.Resolve(ctx, id); err != nil {
		log.Printf("Ingest: resolve %s failed: %v", id.Key(), err)
	} else {
		found = res.Exists
	}

	cs := &song.CapturedSong{
		Title:        id.Title,
		Artist:       id.Artist,
		StationName:  station.Name,
		Timestamp:    time.Now(),
		NowPlaying:   nowPlaying,
		FoundLocally: found,
		Source:       source,
	}
	if err := p.store.AppendCaptured(ctx, cs); err != nil {
		// The capture is lost but the poll loop must keep going.
		log.Printf("Ingest: persist capture %s: %v", id.Key(), err)
		p.processed.Remove(processedKey(station.Name, id))
		return
	}

	p.tracker.IncrementCaptured()
	p.tracker.IncrementStation(station.Name)
	p.tracker.IncrementSource(string(source))
	if found {
		p.tracker.IncrementFoundLocally()
	}

	if p.feed != nil && source != song.SourceFeed {
		p.feed.Publish(cs)
	}

	p.ranking.Add(ctx, id, "")

	if !found {
		p.maybeQueueMissing(ctx, station, id, nowPlaying)
	}
}

// maybeQueueMissing creates a missing-song entry when the station warrants a
// download: it is in the active rotation or flagged priority. At most one
// live entry exists per identity.
func (p *Pipeline) maybeQueueMissing(ctx context.Context, station config.StationConfig, id song.Identity, nowPlaying bool) {
	if id.Artist == song.UnknownArtist {
		return
	}
	// Already fetched this one; the file may live outside the library
	// search paths, where the resolver cannot see it.
	if p.downloaded.Contains(id.Hash()) {
		return
	}
	inRotation := station.InRotation || p.rotation.Contains(station.Name)
	if !inRotation && !station.Priority {
		return
	}
	if p.queue.Contains(id) {
		return
	}

	urgency := song.UrgencyPriorityStation
	if inRotation {
		urgency = song.UrgencyActiveRotation
		if nowPlaying {
			urgency = song.UrgencyOnAir
		}
	}

	m := &song.MissingSong{
		Artist:    id.Artist,
		Title:     id.Title,
		Station:   station.Name,
		Urgency:   urgency,
		Status:    song.StatusMissing,
		CreatedAt: time.Now(),
	}
	if err := p.store.SaveMissing(ctx, m); err != nil {
		log.Printf("Ingest: save missing %s: %v", id.Key(), err)
		return
	}
	if p.queue.Enqueue(m) {
		p.tracker.IncrementQueued()
		log.Printf("Ingest: queued missing song %s - %s (station=%s urgency=%s)",
			m.Artist, m.Title, m.Station, m.Urgency)
	}
}

// MarkDownloaded records a completed download so later airings of the song
// are not queued again, even after the resolver cache and processed set have
// both moved on.
func (p *Pipeline) MarkDownloaded(id song.Identity) {
	p.downloaded.Add(id.Hash())
}

// ForgetProcessed drops the station+identity dedup state and the completed
// download set, used by the daily reset so the next airing of every song is
// evaluated fresh.
func (p *Pipeline) ForgetProcessed() {
	p.processed.Clear()
	p.downloaded.Clear()
}

// ProcessedLen reports the dedup set size, for the stats line.
func (p *Pipeline) ProcessedLen() int {
	return p.processed.Len()
}

func (p *Pipeline) rejected(station, text string) {
	p.tracker.IncrementRejected()
	total, ok := p.dropLog.Inc()
	if !ok {
		return
	}
	line := fmt.Sprintf("Ingest: rejected %q from %s (%d rejections total)", text, station, total)
	if p.fileLog != nil {
		p.fileLog(line)
		return
	}
	log.Printf("%s", line)
}

func processedKey(station string, id song.Identity) uint64 {
	return xxh3.HashString(station + "|" + id.Key())
}
