package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"airwatch/config"
	"airwatch/song"
)

const postgresSchema = `
create table if not exists radio_stations (
	id serial primary key,
	name text not null unique,
	url text not null,
	enabled boolean not null default true,
	priority boolean not null default false,
	in_rotation boolean not null default false
);

create table if not exists scraped_songs (
	id bigserial primary key,
	station_name text not null,
	title text not null,
	artist text not null,
	is_now_playing boolean not null default false,
	found_locally boolean not null default false,
	source text not null default '',
	captured_at timestamptz not null
);
create index if not exists idx_scraped_station on scraped_songs(station_name, captured_at);

create table if not exists song_rankings (
	artist text not null,
	title text not null,
	style text not null default '',
	play_count bigint not null default 0,
	updated_at timestamptz not null,
	primary key (artist, title)
);

create table if not exists missing_songs (
	artist text not null,
	title text not null,
	station text not null default '',
	urgency integer not null default 0,
	status text not null default 'missing',
	created_at timestamptz not null,
	primary key (artist, title)
);

create table if not exists download_history (
	id bigserial primary key,
	artist text not null,
	title text not null,
	station text not null default '',
	quality text not null default '',
	output text not null default '',
	success boolean not null default false,
	error text not null default '',
	finished_at timestamptz not null
);
`

// Postgres backs the shared install where several monitors feed one database
// and the station list itself lives in a table.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and bootstraps the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if cfg.MaxConns <= 0 || cfg.MaxConns > 4 {
		cfg.MaxConns = 4
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) AppendCaptured(ctx context.Context, c *song.CapturedSong) error {
	err := p.pool.QueryRow(ctx,
		`insert into scraped_songs (station_name, title, artist, is_now_playing, found_locally, source, captured_at)
		 values ($1, $2, $3, $4, $5, $6, $7)
		 returning id`,
		c.StationName, c.Title, c.Artist, c.NowPlaying, c.FoundLocally, string(c.Source), c.Timestamp.UTC()).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("store: append captured: %w", err)
	}
	return nil
}

func (p *Postgres) UpsertRankings(ctx context.Context, batch []RankingDelta) error {
	if len(batch) == 0 {
		return nil
	}
	now := time.Now().UTC()
	b := &pgx.Batch{}
	for _, d := range batch {
		b.Queue(
			`insert into song_rankings (artist, title, style, play_count, updated_at)
			 values ($1, $2, $3, $4, $5)
			 on conflict (artist, title) do update set
			   play_count = song_rankings.play_count + excluded.play_count,
			   style = case when excluded.style != '' then excluded.style else song_rankings.style end,
			   updated_at = excluded.updated_at`,
			d.Artist, d.Title, d.Style, d.Delta, now)
	}
	br := p.pool.SendBatch(ctx, b)
	for range batch {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("store: ranking upsert: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("store: ranking batch close: %w", err)
	}
	return nil
}

func (p *Postgres) SaveMissing(ctx context.Context, m *song.MissingSong) error {
	_, err := p.pool.Exec(ctx,
		`insert into missing_songs (artist, title, station, urgency, status, created_at)
		 values ($1, $2, $3, $4, $5, $6)
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

func (p *Postgres) UpdateMissingStatus(ctx context.Context, id song.Identity, status song.Status) error {
	_, err := p.pool.Exec(ctx,
		`update missing_songs set status = $1 where lower(trim(artist)) = $2 and lower(trim(title)) = $3`,
		string(status), lowerTrim(id.Artist), lowerTrim(id.Title))
	if err != nil {
		return fmt.Errorf("store: update missing status: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteMissing(ctx context.Context, id song.Identity) error {
	_, err := p.pool.Exec(ctx,
		`delete from missing_songs where lower(trim(artist)) = $1 and lower(trim(title)) = $2`,
		lowerTrim(id.Artist), lowerTrim(id.Title))
	if err != nil {
		return fmt.Errorf("store: delete missing: %w", err)
	}
	return nil
}

func (p *Postgres) AppendDownload(ctx context.Context, rec *DownloadRecord) error {
	_, err := p.pool.Exec(ctx,
		`insert into download_history (artist, title, station, quality, output, success, error, finished_at)
		 values ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Artist, rec.Title, rec.Station, rec.Quality, rec.Output, rec.Success, rec.Error, rec.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: append download: %w", err)
	}
	return nil
}

// LoadStations reads the shared station list. An empty table means the config
// file list stays authoritative.
func (p *Postgres) LoadStations(ctx context.Context) ([]config.StationConfig, error) {
	rows, err := p.pool.Query(ctx,
		`select name, url, enabled, priority, in_rotation from radio_stations order by name`)
	if err != nil {
		return nil, fmt.Errorf("store: load stations: %w", err)
	}
	defer rows.Close()

	var out []config.StationConfig
	for rows.Next() {
		var sc config.StationConfig
		if err := rows.Scan(&sc.Name, &sc.URL, &sc.Enabled, &sc.Priority, &sc.InRotation); err != nil {
			return nil, fmt.Errorf("store: scan station: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load stations: %w", err)
	}
	return out, nil
}

func (p *Postgres) PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-horizon)
	var total int64
	for _, q := range []string{
		`delete from scraped_songs where captured_at < $1`,
		`delete from download_history where finished_at < $1`,
	} {
		tag, err := p.pool.Exec(ctx, q, cutoff)
		if err != nil {
			return total, fmt.Errorf("store: purge: %w", err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (p *Postgres) TrimStationOverflow(ctx context.Context, perStationCap int) (int64, error) {
	if perStationCap <= 0 {
		return 0, nil
	}
	tag, err := p.pool.Exec(ctx,
		`delete from scraped_songs where id in (
		   select id from (
		     select id, row_number() over (partition by station_name order by captured_at desc) as rn
		     from scraped_songs
		   ) ranked where rn > $1
		 )`, perStationCap)
	if err != nil {
		return 0, fmt.Errorf("store: trim overflow: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) ResetAll(ctx context.Context) error {
	for _, q := range []string{
		`delete from missing_songs`,
		`delete from song_rankings`,
		`delete from scraped_songs`,
		`delete from download_history`,
	} {
		if _, err := p.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("store: reset: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}
