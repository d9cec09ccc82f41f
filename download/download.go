// Package download fetches tracks from the remote audio source. Files are
// written atomically (temp file + rename) so a killed download never leaves
// a half-written track in the library.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"airwatch/queue"
)

const userAgent = "airwatch/1.0"

// SecretFunc supplies the current download credential. The credential
// monitor owns rotation; the client just asks on every attempt.
type SecretFunc func() string

// Client implements the queue's Downloader against an HTTP track source.
type Client struct {
	http        *resty.Client
	sourceURL   string
	destination string
	secret      SecretFunc
	// OnBytes is called with the size of each stored track, for stats.
	OnBytes func(n uint64)
}

// NewClient builds a downloader. sourceURL is the track endpoint; tracks
// land under destination as "<artist> - <title>.mp3".
func NewClient(sourceURL, destination string, timeout time.Duration, secret SecretFunc) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if secret == nil {
		secret = func() string { return "" }
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetDoNotParseResponse(true)
	return &Client{
		http:        client,
		sourceURL:   sourceURL,
		destination: destination,
		secret:      secret,
	}
}

// Download fetches one track at the requested quality.
func (c *Client) Download(ctx context.Context, artist, title, quality string) queue.DownloadResult {
	if strings.TrimSpace(c.sourceURL) == "" {
		return queue.DownloadResult{Err: errors.New("download: no source URL configured")}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"artist":  artist,
			"title":   title,
			"quality": quality,
		}).
		SetHeader("Authorization", "Bearer "+c.secret()).
		Get(c.sourceURL)
	if err != nil {
		return queue.DownloadResult{Err: fmt.Errorf("download: fetch: %w", err)}
	}
	body := resp.RawBody()
	defer body.Close()

	switch resp.StatusCode() {
	case http.StatusOK:
		// fall through to store the body
	case http.StatusNoContent:
		// Remote reports the track was already delivered to this account.
		return queue.DownloadResult{Skipped: true}
	case http.StatusUnauthorized, http.StatusForbidden:
		text, _ := io.ReadAll(io.LimitReader(body, 512))
		return queue.DownloadResult{Err: fmt.Errorf("download: credential rejected: %s %s", resp.Status(), strings.TrimSpace(string(text)))}
	case http.StatusNotFound:
		return queue.DownloadResult{Err: fmt.Errorf("download: track not available at quality %s", quality)}
	default:
		return queue.DownloadResult{Err: fmt.Errorf("download: fetch failed: status %s", resp.Status())}
	}

	dest := filepath.Join(c.destination, trackFilename(artist, title))
	written, err := c.store(body, dest)
	if err != nil {
		return queue.DownloadResult{Err: err}
	}
	if c.OnBytes != nil {
		c.OnBytes(uint64(written))
	}
	return queue.DownloadResult{Success: true, Output: dest}
}

// store copies the body to a temp file next to dest, then renames.
func (c *Client) store(body io.Reader, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("download: create directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(dest), "track-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("download: create temp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer os.Remove(tmpName)

	written, err := io.Copy(tmpFile, body)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("download: copy body: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("download: finalize temp file: %w", err)
	}
	if written <= 0 {
		return 0, errors.New("download: empty response body")
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("download: remove old file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, fmt.Errorf("download: replace file: %w", err)
	}
	return written, nil
}

// trackFilename builds a filesystem-safe "<artist> - <title>.mp3" name.
func trackFilename(artist, title string) string {
	base := fmt.Sprintf("%s - %s", strings.TrimSpace(artist), strings.TrimSpace(title))
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "'",
		"<", "(",
		">", ")",
		"|", "-",
	)
	base = replacer.Replace(base)
	if runes := []rune(base); len(runes) > 180 {
		base = string(runes[:180])
	}
	return base + ".mp3"
}

// Ensure Client keeps satisfying the queue contract.
var _ queue.Downloader = (*Client)(nil)
