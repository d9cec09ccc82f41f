// Package store persists captured songs, missing-song records, rankings, and
// download history. Two backends implement the same interface: Postgres for
// the hosted deployment and SQLite for a single-box install.
package store

import (
	"context"
	"time"

	"airwatch/config"
	"airwatch/song"
)

// RankingDelta is one batched ranking upsert: the accumulated play count for
// a normalized identity since the last flush.
type RankingDelta struct {
	Artist string
	Title  string
	Style  string
	Delta  int
}

// DownloadRecord is one row of download history.
type DownloadRecord struct {
	Artist     string
	Title      string
	Station    string
	Quality    string
	Output     string
	Success    bool
	Error      string
	FinishedAt time.Time
}

// Store is the persistence contract consumed by the pipeline. All methods
// are safe for concurrent use.
type Store interface {
	// AppendCaptured records one observed airing and fills c.ID.
	AppendCaptured(ctx context.Context, c *song.CapturedSong) error
	// UpsertRankings applies a flushed batch of play-count deltas.
	UpsertRankings(ctx context.Context, batch []RankingDelta) error
	// SaveMissing inserts or refreshes a missing-song record by identity.
	SaveMissing(ctx context.Context, m *song.MissingSong) error
	// UpdateMissingStatus moves a missing-song record through its lifecycle.
	UpdateMissingStatus(ctx context.Context, id song.Identity, status song.Status) error
	// DeleteMissing removes a missing-song record (download done or reset).
	DeleteMissing(ctx context.Context, id song.Identity) error
	// AppendDownload records one download attempt outcome.
	AppendDownload(ctx context.Context, rec *DownloadRecord) error
	// LoadStations returns stations stored remotely; backends without a
	// station table return (nil, nil) and the config file list is used.
	LoadStations(ctx context.Context) ([]config.StationConfig, error)
	// PurgeOlderThan deletes captured songs and download history older than
	// the horizon. Returns rows removed.
	PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error)
	// TrimStationOverflow caps captured songs per station, keeping the
	// newest rows. Returns rows removed.
	TrimStationOverflow(ctx context.Context, perStationCap int) (int64, error)
	// ResetAll wholesale-clears missing songs, rankings, captured history,
	// and download history (scheduled daily reset).
	ResetAll(ctx context.Context) error
	Close()
}
