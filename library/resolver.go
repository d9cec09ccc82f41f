// Package library answers "does this song already exist locally?" with a
// fuzzy filename match against the configured music directories. Results are
// cached per identity key for a short TTL so the same song seen across
// several stations in a burst costs one scan, not five.
package library

import (
	"context"
	"fmt"
	"strings"
	"time"

	lev "github.com/agnivade/levenshtein"

	"airwatch/song"
)

// Result is the outcome of one existence lookup.
type Result struct {
	Exists      bool
	MatchedFile string
	Similarity  float64
}

// Scanner supplies candidate track names for matching. The default
// implementation walks the filesystem; tests plug in fixed lists.
type Scanner interface {
	// Candidates returns (displayName, path) pairs for every known track.
	Candidates(ctx context.Context) ([]Candidate, error)
}

// Candidate is one local track the resolver can match against.
type Candidate struct {
	Name string // e.g. "Jorge & Mateus - Propaganda"
	Path string
}

// Resolver performs fuzzy existence checks with a TTL result cache.
type Resolver struct {
	scanner   Scanner
	threshold float64
	cache     *resultCache
}

// NewResolver constructs a resolver. Thresholds outside (0,1] fall back to 0.75.
func NewResolver(scanner Scanner, threshold float64, cacheTTL time.Duration, cacheCap int) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.75
	}
	return &Resolver{
		scanner:   scanner,
		threshold: threshold,
		cache:     newResultCache(cacheTTL, cacheCap),
	}
}

// Resolve reports whether a song with the given identity already exists
// locally. Cached results short-circuit the scan until they expire or a
// download write-through refreshes them.
func (r *Resolver) Resolve(ctx context.Context, id song.Identity) (Result, error) {
	if r == nil {
		return Result{}, fmt.Errorf("library: nil resolver")
	}
	key := id.Key()
	now := time.Now().UTC()
	if res, ok := r.cache.get(key, now); ok {
		return res, nil
	}

	candidates, err := r.scanner.Candidates(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("library: scan failed: %w", err)
	}

	want := normalizeForMatch(id.Artist + " " + id.Title)
	wantSwapped := normalizeForMatch(id.Title + " " + id.Artist)

	best := Result{}
	for _, cand := range candidates {
		have := normalizeForMatch(cand.Name)
		sim := similarity(want, have)
		if s := similarity(wantSwapped, have); s > sim {
			sim = s
		}
		if sim > best.Similarity {
			best = Result{MatchedFile: cand.Path, Similarity: sim}
		}
	}
	best.Exists = best.Similarity >= r.threshold
	if !best.Exists {
		best.MatchedFile = ""
	}

	r.cache.set(key, best, now)
	return best, nil
}

// MarkDownloaded records a completed download so the very next lookup for
// the identity reports exists=true without a fresh scan (write-through).
func (r *Resolver) MarkDownloaded(id song.Identity, path string) {
	if r == nil {
		return
	}
	r.cache.set(id.Key(), Result{Exists: true, MatchedFile: path, Similarity: 1}, time.Now().UTC())
}

// ClearCache drops all cached results, e.g. when the host enters a
// low-resource state or the library is rescanned from scratch.
func (r *Resolver) ClearCache() {
	if r == nil {
		return
	}
	r.cache.clear()
}

// CacheLen returns the number of live cache entries (stats display).
func (r *Resolver) CacheLen() int {
	if r == nil {
		return 0
	}
	return r.cache.len()
}

// similarity maps levenshtein distance to a 0..1 score over the longer string.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	dist := lev.ComputeDistance(a, b)
	if dist >= longest {
		return 0
	}
	return 1 - float64(dist)/float64(longest)
}

// normalizeForMatch lowercases and strips punctuation that varies between
// scraped titles and filenames (feat. markers, parentheticals keep their
// words, separators collapse to spaces).
func normalizeForMatch(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
