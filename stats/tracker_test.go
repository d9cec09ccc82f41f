package stats

import (
	"strings"
	"testing"
)

func TestTrackerCounts(t *testing.T) {
	tr := NewTracker()

	tr.IncrementStation("FM Sertaneja")
	tr.IncrementStation("FM Sertaneja")
	tr.IncrementStation("Rock 94")
	tr.IncrementSource("poller")
	tr.IncrementSource("FEED")
	tr.IncrementCaptured()
	tr.IncrementDuplicates()
	tr.RecordDownload(true, 5_000_000)
	tr.RecordDownload(false, 0)

	stations := tr.GetStationCounts()
	if stations["FM Sertaneja"] != 2 || stations["Rock 94"] != 1 {
		t.Fatalf("unexpected station counts: %v", stations)
	}
	sources := tr.GetSourceCounts()
	if sources["POLLER"] != 1 || sources["FEED"] != 1 {
		t.Fatalf("expected source keys uppercased: %v", sources)
	}
	if tr.DownloadsOK() != 1 || tr.DownloadsFailed() != 1 {
		t.Fatalf("download counters wrong: ok=%d failed=%d", tr.DownloadsOK(), tr.DownloadsFailed())
	}
}

func TestTrackerIgnoresBlankKeys(t *testing.T) {
	tr := NewTracker()
	tr.IncrementStation("   ")
	if len(tr.GetStationCounts()) != 0 {
		t.Fatal("blank station key must not create a counter")
	}
}

func TestTrackerResetClears(t *testing.T) {
	tr := NewTracker()
	tr.IncrementStation("X")
	tr.IncrementCaptured()
	tr.Reset()
	if len(tr.GetStationCounts()) != 0 || tr.Captured() != 0 {
		t.Fatal("expected counters cleared after reset")
	}
}

func TestSnapshotLines(t *testing.T) {
	tr := NewTracker()
	tr.IncrementStation("FM Sertaneja")
	tr.IncrementCaptured()

	lines := tr.SnapshotLines()
	if len(lines) != 4 {
		t.Fatalf("expected 4 summary lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "captured=1") {
		t.Fatalf("pipeline line missing captured count: %q", lines[0])
	}
	if !strings.Contains(lines[2], "FM Sertaneja=1") {
		t.Fatalf("station line missing count: %q", lines[2])
	}

	empty := NewTracker()
	if got := empty.SnapshotLines()[3]; !strings.Contains(got, "(none)") {
		t.Fatalf("expected (none) for empty source counts, got %q", got)
	}
}
