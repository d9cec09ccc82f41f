// Package song defines the canonical captured-song and missing-song structures
// and helpers used across the monitoring pipeline: parsing, normalization,
// identity hashing for dedup, and validation.
package song

import (
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/zeebo/xxh3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SourceType identifies where a capture came from.
type SourceType string

const (
	SourcePoller   SourceType = "POLLER"   // Direct station page poll
	SourceFeed     SourceType = "FEED"     // Realtime change feed
	SourceManual   SourceType = "MANUAL"   // Operator-entered capture
	SourceStartup  SourceType = "STARTUP"  // Full sweep at process start
)

// Status tracks a missing song through the download lifecycle.
type Status string

const (
	StatusMissing     Status = "missing"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusError       Status = "error"
)

// Identity is a normalized (artist, title) pair. Construct via Normalize;
// a zero Identity is invalid.
type Identity struct {
	Artist string
	Title  string
}

// Key returns the canonical dedup key: lowercase trimmed artist and title
// joined with a pipe. Stable across repeated normalization.
func (id Identity) Key() string {
	return strings.ToLower(strings.TrimSpace(id.Artist)) + "|" + strings.ToLower(strings.TrimSpace(id.Title))
}

// Hash returns a 64-bit hash of the identity key for the bounded dedup sets.
func (id Identity) Hash() uint64 {
	return xxh3.HashString(id.Key())
}

// IsZero reports whether the identity carries no song.
func (id Identity) IsZero() bool {
	return id.Artist == "" && id.Title == ""
}

// CapturedSong is one observed airing of a song on a station. Immutable once
// written; retention trimming is the only downstream mutation.
type CapturedSong struct {
	ID           int64      `json:"id,omitempty"`
	Title        string     `json:"title"`
	Artist       string     `json:"artist"`
	StationName  string     `json:"station_name"`
	StationID    int64      `json:"station_id,omitempty"`
	Timestamp    time.Time  `json:"captured_at"`
	NowPlaying   bool       `json:"is_now_playing"`
	FoundLocally bool       `json:"found_locally"`
	Source       SourceType `json:"source"`
}

// Identity returns the normalized identity of the capture.
func (c *CapturedSong) Identity() Identity {
	return Identity{Artist: c.Artist, Title: c.Title}
}

// MissingSong is a song captured on air but absent from the local library.
// At most one live entry exists per identity key.
type MissingSong struct {
	ID        int64     `json:"id,omitempty"`
	Artist    string    `json:"artist"`
	Title     string    `json:"title"`
	Station   string    `json:"station"`
	Urgency   Urgency   `json:"urgency"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity returns the normalized identity of the entry.
func (m *MissingSong) Identity() Identity {
	return Identity{Artist: m.Artist, Title: m.Title}
}

// Urgency classifies why a missing song matters right now. Higher values
// outrank lower ones when the download queue picks the next item.
type Urgency int

const (
	UrgencyNone            Urgency = iota // Ranking base score only
	UrgencyPriorityStation                // Station is generally prioritized
	UrgencyActiveRotation                 // Needed for the active station rotation
	UrgencyOnAir                          // Needed right now for an on-air assembly
)

// Boost returns the additive priority contribution of the urgency tier.
// Tiers are spaced so no ranking base score can cross tier boundaries.
func (u Urgency) Boost() int {
	switch u {
	case UrgencyOnAir:
		return 3000
	case UrgencyActiveRotation:
		return 2000
	case UrgencyPriorityStation:
		return 1000
	default:
		return 0
	}
}

func (u Urgency) String() string {
	switch u {
	case UrgencyOnAir:
		return "on-air"
	case UrgencyActiveRotation:
		return "rotation"
	case UrgencyPriorityStation:
		return "station"
	default:
		return "none"
	}
}

// MarshalCaptured encodes a capture for feed publishing.
func MarshalCaptured(c *CapturedSong) ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalCaptured decodes a feed payload back into a capture.
func UnmarshalCaptured(data []byte) (*CapturedSong, error) {
	var c CapturedSong
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
