package library

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var audioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".ogg":  true,
	".wav":  true,
	".aac":  true,
	".wma":  true,
}

// FSScanner walks the configured search paths and caches the resulting track
// list for rescanInterval, so back-to-back lookups do not re-walk the tree.
type FSScanner struct {
	mu             sync.Mutex
	paths          []string
	rescanInterval time.Duration
	cached         []Candidate
	scannedAt      time.Time
}

// NewFSScanner constructs a filesystem scanner over the given directories.
func NewFSScanner(paths []string, rescanInterval time.Duration) *FSScanner {
	if rescanInterval <= 0 {
		rescanInterval = 15 * time.Minute
	}
	return &FSScanner{paths: paths, rescanInterval: rescanInterval}
}

// Candidates returns the cached track list, re-walking the search paths when
// the cache has gone stale. Walk errors on individual entries are skipped so
// one unreadable directory does not hide the rest of the library.
func (s *FSScanner) Candidates(ctx context.Context) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if s.cached != nil && now.Sub(s.scannedAt) < s.rescanInterval {
		return s.cached, nil
	}

	var out []Candidate
	for _, root := range s.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if !audioExtensions[ext] {
				return nil
			}
			base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			out = append(out, Candidate{Name: base, Path: path})
			return nil
		})
	}
	s.cached = out
	s.scannedAt = now
	return out, nil
}

// Invalidate forces a re-walk on the next Candidates call (e.g. after a
// completed download lands a new file).
func (s *FSScanner) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
