package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDownloadStoresTrack(t *testing.T) {
	var gotQuality, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuality = r.URL.Query().Get("quality")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("audio-bytes"))
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	var bytes uint64
	c := NewClient(server.URL, dir, 5*time.Second, func() string { return "arl-token" })
	c.OnBytes = func(n uint64) { bytes = n }

	res := c.Download(context.Background(), "Jorge & Mateus", "Propaganda", "FLAC")
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotQuality != "FLAC" {
		t.Fatalf("expected quality forwarded, got %q", gotQuality)
	}
	if gotAuth != "Bearer arl-token" {
		t.Fatalf("expected credential header, got %q", gotAuth)
	}
	if bytes != uint64(len("audio-bytes")) {
		t.Fatalf("expected byte callback with %d, got %d", len("audio-bytes"), bytes)
	}

	want := filepath.Join(dir, "Jorge & Mateus - Propaganda.mp3")
	if res.Output != want {
		t.Fatalf("expected output %q, got %q", want, res.Output)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read track: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Fatalf("unexpected track content %q", data)
	}
}

func TestDownloadCredentialRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "arl expired", http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, t.TempDir(), 5*time.Second, nil)
	res := c.Download(context.Background(), "A", "T", "MP3_320")
	if res.Success || res.Err == nil {
		t.Fatalf("expected failure, got %+v", res)
	}
	// The failure text feeds the credential keyword side channel.
	if !strings.Contains(res.Err.Error(), "expired") {
		t.Fatalf("expected remote text carried in error, got %v", res.Err)
	}
}

func TestDownloadAlreadyDeliveredIsSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, t.TempDir(), 5*time.Second, nil)
	res := c.Download(context.Background(), "A", "T", "MP3_320")
	if !res.Skipped || res.Success || res.Err != nil {
		t.Fatalf("expected skipped result, got %+v", res)
	}
}

func TestDownloadEmptyBodyFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	c := NewClient(server.URL, dir, 5*time.Second, nil)
	res := c.Download(context.Background(), "A", "T", "MP3_320")
	if res.Success || res.Err == nil {
		t.Fatalf("expected empty body rejected, got %+v", res)
	}
	// No half-written file may remain.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty destination dir, found %d entries", len(entries))
	}
}

func TestTrackFilenameSanitized(t *testing.T) {
	got := trackFilename("AC/DC", "Back in Black?")
	if got != "AC-DC - Back in Black.mp3" {
		t.Fatalf("unexpected filename %q", got)
	}
}
