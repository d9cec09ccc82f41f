package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"airwatch/song"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "airwatch.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestAppendCapturedAssignsID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := &song.CapturedSong{
		Title:       "Propaganda",
		Artist:      "Jorge & Mateus",
		StationName: "FM Sertaneja",
		Timestamp:   time.Now(),
		NowPlaying:  true,
		Source:      song.SourcePoller,
	}
	if err := s.AppendCaptured(ctx, c); err != nil {
		t.Fatalf("AppendCaptured: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("expected ID to be filled after insert")
	}

	c2 := &song.CapturedSong{Title: "Esquema Preferido", Artist: "Barões da Pisadinha", StationName: "FM Sertaneja", Timestamp: time.Now()}
	if err := s.AppendCaptured(ctx, c2); err != nil {
		t.Fatalf("AppendCaptured second: %v", err)
	}
	if c2.ID == c.ID {
		t.Fatalf("expected distinct IDs, both got %d", c.ID)
	}
}

func TestUpsertRankingsAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := []RankingDelta{{Artist: "Ana Castela", Title: "Nosso Quadro", Style: "sertanejo", Delta: 2}}
	if err := s.UpsertRankings(ctx, first); err != nil {
		t.Fatalf("UpsertRankings first: %v", err)
	}
	second := []RankingDelta{{Artist: "Ana Castela", Title: "Nosso Quadro", Delta: 3}}
	if err := s.UpsertRankings(ctx, second); err != nil {
		t.Fatalf("UpsertRankings second: %v", err)
	}

	var count int
	var style string
	row := s.db.QueryRow(`select play_count, style from song_rankings where artist = ? and title = ?`, "Ana Castela", "Nosso Quadro")
	if err := row.Scan(&count, &style); err != nil {
		t.Fatalf("scan ranking: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected play_count 5 after two flushes, got %d", count)
	}
	// A later flush with no style must not wipe the recorded one.
	if style != "sertanejo" {
		t.Fatalf("expected style preserved, got %q", style)
	}
}

func TestMissingLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &song.MissingSong{
		Artist:    "Henrique & Juliano",
		Title:     "Traumatizei",
		Station:   "FM Sertaneja",
		Urgency:   song.UrgencyOnAir,
		Status:    song.StatusMissing,
		CreatedAt: time.Now(),
	}
	if err := s.SaveMissing(ctx, m); err != nil {
		t.Fatalf("SaveMissing: %v", err)
	}
	// Re-saving the same identity must not create a second row.
	if err := s.SaveMissing(ctx, m); err != nil {
		t.Fatalf("SaveMissing repeat: %v", err)
	}
	var rows int
	if err := s.db.QueryRow(`select count(*) from missing_songs`).Scan(&rows); err != nil {
		t.Fatalf("count missing: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected 1 missing row after duplicate save, got %d", rows)
	}

	id := m.Identity()
	if err := s.UpdateMissingStatus(ctx, id, song.StatusDownloading); err != nil {
		t.Fatalf("UpdateMissingStatus: %v", err)
	}
	var status string
	if err := s.db.QueryRow(`select status from missing_songs`).Scan(&status); err != nil {
		t.Fatalf("scan status: %v", err)
	}
	if status != string(song.StatusDownloading) {
		t.Fatalf("expected status %q, got %q", song.StatusDownloading, status)
	}

	if err := s.DeleteMissing(ctx, id); err != nil {
		t.Fatalf("DeleteMissing: %v", err)
	}
	if err := s.db.QueryRow(`select count(*) from missing_songs`).Scan(&rows); err != nil {
		t.Fatalf("count after delete: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected empty missing_songs after delete, got %d rows", rows)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := &song.CapturedSong{Title: "Old", Artist: "A", StationName: "X", Timestamp: time.Now().Add(-48 * time.Hour)}
	fresh := &song.CapturedSong{Title: "Fresh", Artist: "B", StationName: "X", Timestamp: time.Now()}
	for _, c := range []*song.CapturedSong{old, fresh} {
		if err := s.AppendCaptured(ctx, c); err != nil {
			t.Fatalf("AppendCaptured: %v", err)
		}
	}

	removed, err := s.PurgeOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 row purged, got %d", removed)
	}
	var left int
	if err := s.db.QueryRow(`select count(*) from scraped_songs`).Scan(&left); err != nil {
		t.Fatalf("count: %v", err)
	}
	if left != 1 {
		t.Fatalf("expected 1 row left, got %d", left)
	}
}

func TestTrimStationOverflowKeepsNewest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		c := &song.CapturedSong{Title: "T", Artist: "A", StationName: "X", Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := s.AppendCaptured(ctx, c); err != nil {
			t.Fatalf("AppendCaptured: %v", err)
		}
	}

	removed, err := s.TrimStationOverflow(ctx, 4)
	if err != nil {
		t.Fatalf("TrimStationOverflow: %v", err)
	}
	if removed != 6 {
		t.Fatalf("expected 6 rows trimmed, got %d", removed)
	}
	var oldest time.Time
	if err := s.db.QueryRow(`select captured_at from scraped_songs order by captured_at limit 1`).Scan(&oldest); err != nil {
		t.Fatalf("scan oldest: %v", err)
	}
	if oldest.Before(base.Add(5 * time.Minute)) {
		t.Fatalf("trim removed the wrong end: oldest surviving row is %s", oldest)
	}
}

func TestResetAllClearsEverything(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendCaptured(ctx, &song.CapturedSong{Title: "T", Artist: "A", StationName: "X", Timestamp: time.Now()}); err != nil {
		t.Fatalf("AppendCaptured: %v", err)
	}
	if err := s.UpsertRankings(ctx, []RankingDelta{{Artist: "A", Title: "T", Delta: 1}}); err != nil {
		t.Fatalf("UpsertRankings: %v", err)
	}
	if err := s.SaveMissing(ctx, &song.MissingSong{Artist: "A", Title: "M", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveMissing: %v", err)
	}
	if err := s.AppendDownload(ctx, &DownloadRecord{Artist: "A", Title: "T", Success: true, FinishedAt: time.Now()}); err != nil {
		t.Fatalf("AppendDownload: %v", err)
	}

	if err := s.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	for _, table := range []string{"scraped_songs", "song_rankings", "missing_songs", "download_history"} {
		var n int
		if err := s.db.QueryRow(`select count(*) from ` + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("expected %s empty after reset, got %d rows", table, n)
		}
	}
}

func TestPreflightQuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.db")
	if err := os.WriteFile(path, []byte("this is not a sqlite database at all"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	var logged []string
	res, err := Preflight(path, 2*time.Second, func(format string, args ...any) {
		logged = append(logged, format)
	})
	if err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	if res.Healthy {
		t.Fatal("corrupt file reported healthy")
	}
	if !res.Quarantined {
		t.Fatal("corrupt file was not quarantined")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("corrupt file still present after quarantine: %v", statErr)
	}
	if len(logged) == 0 {
		t.Fatal("expected a quarantine log line")
	}

	// A fresh open on the same path must now succeed.
	s, openErr := OpenSQLite(path)
	if openErr != nil {
		t.Fatalf("OpenSQLite after quarantine: %v", openErr)
	}
	s.Close()
}
