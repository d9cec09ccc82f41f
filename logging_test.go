package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogFileNameForDate(t *testing.T) {
	when := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if got := logFileNameForDate(when); got != "22-Jan-2026.log" {
		t.Fatalf("expected log filename to be 22-Jan-2026.log, got %q", got)
	}
}

func TestParseLogFileDate(t *testing.T) {
	parsed, ok := parseLogFileDate("22-Jan-2026.log")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if parsed.Year() != 2026 || parsed.Month() != time.January || parsed.Day() != 22 {
		t.Fatalf("unexpected parsed date: %s", parsed.Format(time.RFC3339))
	}
	if _, ok := parseLogFileDate("notes.txt"); ok {
		t.Fatalf("expected non-log file to be rejected")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"20-Jan-2026.log",
		"21-Jan-2026.log",
		"22-Jan-2026.log",
		"notes.txt",
	}
	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	now := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if err := cleanupOldLogs(dir, now, 2); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "20-Jan-2026.log")); err == nil {
		t.Fatalf("expected 20-Jan-2026.log to be removed")
	} else if !os.IsNotExist(err) {
		t.Fatalf("stat: %v", err)
	}
	for _, name := range []string{"21-Jan-2026.log", "22-Jan-2026.log", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to remain: %v", name, err)
		}
	}
}

func TestFanoutSplitsLinesToBothSinks(t *testing.T) {
	var console, file strings.Builder
	fanout := newLogFanout(
		&ioLineSink{w: &console},
		&ioLineSink{w: &file},
	)

	if _, err := fanout.Write([]byte("Poller: tick\nQueue: drain\npartial")); err != nil {
		t.Fatalf("write: %v", err)
	}

	wantLines := 2
	if got := strings.Count(console.String(), "\n"); got != wantLines {
		t.Fatalf("expected %d console lines, got %d: %q", wantLines, got, console.String())
	}
	if got := strings.Count(file.String(), "\n"); got != wantLines {
		t.Fatalf("expected %d file lines, got %d: %q", wantLines, got, file.String())
	}
	if strings.Contains(console.String(), "partial") {
		t.Fatal("incomplete line must stay buffered")
	}

	// Completing the buffered line flushes it.
	if _, err := fanout.Write([]byte(" line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(console.String(), "partial line") {
		t.Fatalf("expected buffered line completed, got %q", console.String())
	}
}

func TestFileOnlyLineSkipsConsole(t *testing.T) {
	var console, file strings.Builder
	fanout := newLogFanout(
		&ioLineSink{w: &console},
		&ioLineSink{w: &file},
	)

	fanout.WriteFileOnlyLine("Ingest: rejected junk", time.Now())

	if console.Len() != 0 {
		t.Fatalf("expected nothing on console, got %q", console.String())
	}
	if !strings.Contains(file.String(), "rejected junk") {
		t.Fatalf("expected line in file sink, got %q", file.String())
	}
}

func TestDailyFileSinkWritesAndRotates(t *testing.T) {
	dir := t.TempDir()
	sink, err := newDailyFileSink(dir, 7)
	if err != nil {
		t.Fatalf("newDailyFileSink: %v", err)
	}
	defer sink.Close()

	day1 := time.Date(2026, time.January, 22, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	sink.WriteLine("first day", day1)
	sink.WriteLine("second day", day2)

	data1, err := os.ReadFile(filepath.Join(dir, "22-Jan-2026.log"))
	if err != nil {
		t.Fatalf("read day1 log: %v", err)
	}
	if !strings.Contains(string(data1), "first day") {
		t.Fatalf("day1 log missing line: %q", data1)
	}
	data2, err := os.ReadFile(filepath.Join(dir, "23-Jan-2026.log"))
	if err != nil {
		t.Fatalf("read day2 log: %v", err)
	}
	if !strings.Contains(string(data2), "second day") {
		t.Fatalf("day2 log missing line: %q", data2)
	}
}
