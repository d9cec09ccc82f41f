package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"airwatch/config"
	"airwatch/song"
)

const sqliteSchema = `
create table if not exists scraped_songs (
	id integer primary key autoincrement,
	station_name text not null,
	title text not null,
	artist text not null,
	is_now_playing integer not null default 0,
	found_locally integer not null default 0,
	source text not null default '',
	captured_at timestamp not null
);
create index if not exists idx_scraped_station on scraped_songs(station_name, captured_at);

create table if not exists song_rankings (
	artist text not null,
	title text not null,
	style text not null default '',
	play_count integer not null default 0,
	updated_at timestamp not null,
	primary key (artist, title)
);

create table if not exists missing_songs (
	artist text not null,
	title text not null,
	station text not null default '',
	urgency integer not null default 0,
	status text not null default 'missing',
	created_at timestamp not null,
	primary key (artist, title)
);

create table if not exists download_history (
	id integer primary key autoincrement,
	artist text not null,
	title text not null,
	station text not null default '',
	quality text not null default '',
	output text not null default '',
	success integer not null default 0,
	error text not null default '',
	finished_at timestamp not null
);
`

// SQLite is the single-box backend. The database file goes through a bounded
// preflight (WAL checkpoint + quick_check) before the main open so a corrupt
// file cannot stall startup.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if _, err := Preflight(path, 2*time.Second, nil); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("pragma journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec("pragma busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) AppendCaptured(ctx context.Context, c *song.CapturedSong) error {
	res, err := s.db.ExecContext(ctx,
		`insert into scraped_songs (station_name, title, artist, is_now_playing, found_locally, source, captured_at)
		 values (?, ?, ?, ?, ?, ?, ?)`,
		c.StationName, c.Title, c.Artist, boolInt(c.NowPlaying), boolInt(c.FoundLocally), string(c.Source), c.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("store: append captured: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		c.ID = id
	}
	return nil
}

func (s *SQLite) UpsertRankings(ctx context.Context, batch []RankingDelta) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin ranking tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx,
		`insert into song_rankings (artist, title, style, play_count, updated_at)
		 values (?, ?, ?, ?, ?)
		 on conflict (artist, title) do update set
		   play_count = play_count + excluded.play_count,
		   style = case when excluded.style != '' then excluded.style else style end,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("store: prepare ranking upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range batch {
		if _, err := stmt.ExecContext(ctx, d.Artist, d.Title, d.Style, d.Delta, now); err != nil {
			return fmt.Errorf("store: ranking upsert: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) SaveMissing(ctx context.Context, m *song.MissingSong) error {
	_, err := s.db.ExecContext(ctx,
		`insert into missing_songs (artist, title, station, urgency, status, created_at)
		 values (?, ?, ?, ?, ?, ?)
		 on conflict (artist, title) do update set
		   station = excluded.station,
		   urgency = excluded.urgency,
		   status = excluded.status`,
		m.Artist, m.Title, m.Station, int(m.Urgency), string(m.Status), m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: save missing: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateMissingStatus(ctx context.Context, id song.Identity, status song.Status) error {
	_, err := s.db.ExecContext(ctx,
		`update missing_songs set status = ? where lower(trim(artist)) = ? and lower(trim(title)) = ?`,
		string(status), lowerTrim(id.Artist), lowerTrim(id.Title))
	if err != nil {
		return fmt.Errorf("store: update missing status: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteMissing(ctx context.Context, id song.Identity) error {
	_, err := s.db.ExecContext(ctx,
		`delete from missing_songs where lower(trim(artist)) = ? and lower(trim(title)) = ?`,
		lowerTrim(id.Artist), lowerTrim(id.Title))
	if err != nil {
		return fmt.Errorf("store: delete missing: %w", err)
	}
	return nil
}

func (s *SQLite) AppendDownload(ctx context.Context, rec *DownloadRecord) error {
	_, err := s.db.ExecContext(ctx,
		`insert into download_history (artist, title, station, quality, output, success, error, finished_at)
		 values (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Artist, rec.Title, rec.Station, rec.Quality, rec.Output, boolInt(rec.Success), rec.Error, rec.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: append download: %w", err)
	}
	return nil
}

// LoadStations has no station table in the single-box install; the config
// file list is authoritative.
func (s *SQLite) LoadStations(ctx context.Context) ([]config.StationConfig, error) {
	return nil, nil
}

func (s *SQLite) PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-horizon)
	var total int64
	for _, q := range []string{
		`delete from scraped_songs where captured_at < ?`,
		`delete from download_history where finished_at < ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, cutoff)
		if err != nil {
			return total, fmt.Errorf("store: purge: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

func (s *SQLite) TrimStationOverflow(ctx context.Context, perStationCap int) (int64, error) {
	if perStationCap <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`delete from scraped_songs where id in (
		   select id from (
		     select id, row_number() over (partition by station_name order by captured_at desc) as rn
		     from scraped_songs
		   ) where rn > ?
		 )`, perStationCap)
	if err != nil {
		return 0, fmt.Errorf("store: trim overflow: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLite) ResetAll(ctx context.Context) error {
	for _, q := range []string{
		`delete from missing_songs`,
		`delete from song_rankings`,
		`delete from scraped_songs`,
		`delete from download_history`,
	} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("store: reset: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Close() {
	if s != nil && s.db != nil {
		_ = s.db.Close()
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
