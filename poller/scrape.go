package poller

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"

	"airwatch/config"
)

const scrapeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// nowPlayingMarkers are class/id fragments station pages use for the
// currently airing slot, in the order they are tried.
var nowPlayingMarkers = []string{"latest-song", "current-song", "now-playing", "nowplaying"}

// historyMarkers mark the recently-played container.
var historyMarkers = []string{"song-history", "track-item", "song-item", "recently-played"}

// HTTPFetcher is the default Fetcher: it GETs the station page and extracts
// now-playing/recently-played text with marker heuristics. Station layouts
// vary wildly, so extraction is best-effort; empty results are not errors.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher constructs the default page fetcher.
func NewHTTPFetcher() *HTTPFetcher {
	client := resty.New().
		SetHeader("User-Agent", scrapeUserAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	return &HTTPFetcher{client: client}
}

// Poll fetches and scrapes one station page.
func (f *HTTPFetcher) Poll(ctx context.Context, station config.StationConfig) (Result, error) {
	resp, err := f.client.R().SetContext(ctx).Get(station.URL)
	if err != nil {
		return Result{}, fmt.Errorf("poller: fetch %s: %w", station.Name, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return Result{}, fmt.Errorf("poller: fetch %s: status %d", station.Name, resp.StatusCode())
	}

	doc, err := html.Parse(strings.NewReader(resp.String()))
	if err != nil {
		return Result{}, fmt.Errorf("poller: parse %s: %w", station.Name, err)
	}

	nowPlaying, recent := extractSongs(doc)
	return Result{Station: station, NowPlaying: nowPlaying, Recent: recent}, nil
}

// extractSongs walks the parsed document once, collecting the first
// now-playing marker hit and every history entry.
func extractSongs(doc *html.Node) (nowPlaying string, recent []string) {
	seen := make(map[string]bool)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			marker := nodeMarker(n)
			if nowPlaying == "" && matchesAny(marker, nowPlayingMarkers) {
				if text := nodeText(n); text != "" {
					nowPlaying = text
				}
			}
			if matchesAny(marker, historyMarkers) {
				collectHistory(n, seen, &recent)
				return // children already consumed
			}
			if n.Data == "a" && strings.Contains(attr(n, "href"), "song") {
				if text := nodeText(n); plausibleEntry(text) && !seen[text] {
					seen[text] = true
					recent = append(recent, text)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return nowPlaying, recent
}

func collectHistory(n *html.Node, seen map[string]bool, out *[]string) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			if text := nodeText(c); plausibleEntry(text) && !seen[text] {
				seen[text] = true
				*out = append(*out, text)
			}
		}
	}
}

func nodeMarker(n *html.Node) string {
	return strings.ToLower(attr(n, "class") + " " + attr(n, "id"))
}

func matchesAny(marker string, fragments []string) bool {
	for _, frag := range fragments {
		if strings.Contains(marker, frag) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// nodeText flattens the text content of a node, collapsing whitespace.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func plausibleEntry(text string) bool {
	return len(text) > 5 && len(text) < 200
}
