// Package rotation answers one question for the ingest pipeline: is this
// station part of the active rotation right now. Stations in rotation get
// their missing songs queued with a higher urgency.
package rotation

import (
	"strings"
	"sync"

	"airwatch/config"
)

// Source reports active-rotation membership. Implementations must be safe
// for concurrent use.
type Source interface {
	// Contains reports whether the named station is in the active rotation.
	Contains(station string) bool
	// Stations returns the current rotation members.
	Stations() []string
}

// ConfigSource is the default Source, seeded from the station list and
// updatable at runtime when the station set is reloaded from the store.
type ConfigSource struct {
	mu      sync.RWMutex
	members map[string]bool
}

// NewConfigSource builds a source from the configured stations. Only
// enabled stations flagged in_rotation are members.
func NewConfigSource(stations []config.StationConfig) *ConfigSource {
	s := &ConfigSource{members: make(map[string]bool)}
	s.Update(stations)
	return s
}

// Update replaces the membership set from a fresh station list.
func (s *ConfigSource) Update(stations []config.StationConfig) {
	members := make(map[string]bool, len(stations))
	for _, st := range stations {
		if st.Enabled && st.InRotation {
			members[normalize(st.Name)] = true
		}
	}
	s.mu.Lock()
	s.members = members
	s.mu.Unlock()
}

func (s *ConfigSource) Contains(station string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[normalize(station)]
}

func (s *ConfigSource) Stations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.members))
	for name := range s.members {
		out = append(out, name)
	}
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
