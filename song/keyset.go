package song

import (
	"container/list"
	"sync"
)

// KeySet is a bounded, insertion-ordered set of identity hashes used for
// idempotence (processed captures, completed downloads). When the set grows
// past its capacity the oldest half is evicted; keeping the newest half lets
// a song that has genuinely left rotation be re-observed later instead of
// being suppressed forever.
type KeySet struct {
	mu      sync.Mutex
	max     int
	order   *list.List               // oldest at front
	entries map[uint64]*list.Element // hash -> element holding the hash
}

// NewKeySet constructs a set bounded at capacity entries. Non-positive
// capacities fall back to 1000.
func NewKeySet(capacity int) *KeySet {
	if capacity <= 0 {
		capacity = 1000
	}
	return &KeySet{
		max:     capacity,
		order:   list.New(),
		entries: make(map[uint64]*list.Element, capacity),
	}
}

// Add inserts the hash and reports whether it was newly added. Re-adding an
// existing hash refreshes its position so active songs survive eviction.
func (s *KeySet) Add(hash uint64) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.entries[hash]; ok {
		s.order.MoveToBack(elem)
		return false
	}
	s.entries[hash] = s.order.PushBack(hash)
	if len(s.entries) > s.max {
		s.evictOldestHalfLocked()
	}
	return true
}

// Contains reports membership without changing insertion order.
func (s *KeySet) Contains(hash uint64) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[hash]
	return ok
}

// Remove drops a single hash, e.g. when a missing entry is recreated after a
// manual library delete.
func (s *KeySet) Remove(hash uint64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.entries[hash]; ok {
		s.order.Remove(elem)
		delete(s.entries, hash)
	}
}

// Len returns the current entry count.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear empties the set (reset signal, daily reset).
func (s *KeySet) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.Init()
	s.entries = make(map[uint64]*list.Element, s.max)
}

func (s *KeySet) evictOldestHalfLocked() {
	target := len(s.entries) / 2
	for len(s.entries) > target {
		front := s.order.Front()
		if front == nil {
			return
		}
		hash := front.Value.(uint64)
		s.order.Remove(front)
		delete(s.entries, hash)
	}
}
