// Package window implements the per-key sliding time windows the detectors
// count over. Timestamps are epoch milliseconds supplied by the caller, so
// the store itself is deterministic and clock-free.
package window

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Store holds one window per string key. All retained entries satisfy
// ts >= now - size at the end of every operation that takes a now.
type Store struct {
	mu       sync.Mutex
	sizeMs   int64
	entries  map[string][]int64
	lastSeen map[string]int64 // last Add per key, drives cold-key pruning
}

// New creates a store with the given window size.
func New(size time.Duration) *Store {
	return &Store{
		sizeMs:   size.Milliseconds(),
		entries:  make(map[string][]int64),
		lastSeen: make(map[string]int64),
	}
}

// Size returns the window span.
func (s *Store) Size() time.Duration { return time.Duration(s.sizeMs) * time.Millisecond }

// Add inserts an entry for key in timestamp order and evicts entries that
// fell out of the window ending at ts. Insertion scans from the tail:
// arrivals are nearly sorted, so the common case is an append.
func (s *Store) Add(key string, tsMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	es := s.entries[key]
	i := len(es)
	for i > 0 && es[i-1] > tsMs {
		i--
	}
	es = append(es, 0)
	copy(es[i+1:], es[i:])
	es[i] = tsMs
	s.entries[key] = es

	if tsMs > s.lastSeen[key] {
		s.lastSeen[key] = tsMs
	}
	s.evictLocked(key, tsMs)
}

// Count evicts and returns the number of entries for key still inside the
// window ending at nowMs.
func (s *Store) Count(key string, nowMs int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(key, nowMs)
	return len(s.entries[key])
}

// Evict drops entries for key older than nowMs - size.
func (s *Store) Evict(key string, nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(key, nowMs)
}

// Keys returns all keys currently present, including ones whose windows have
// drained but have not been pruned yet.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DistinctWithPrefix counts distinct member suffixes among keys that start
// with prefix and still hold entries inside the window ending at nowMs.
// The fan detectors use composite keys "a:b" with prefix "a:".
func (s *Store) DistinctWithPrefix(prefix string, nowMs int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	distinct := 0
	for k := range s.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		s.evictLocked(k, nowMs)
		if len(s.entries[k]) > 0 {
			distinct++
		}
	}
	return distinct
}

// Prune removes keys with no activity for at least twice the window span and
// returns how many were dropped. Called by the state-store sweeper.
func (s *Store) Prune(nowMs int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := nowMs - 2*s.sizeMs
	dropped := 0
	for k, last := range s.lastSeen {
		if last <= cutoff {
			delete(s.entries, k)
			delete(s.lastSeen, k)
			dropped++
		}
	}
	return dropped
}

// LastSeen reports the newest timestamp ever added for key, 0 when unknown.
func (s *Store) LastSeen(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen[key]
}

// evictLocked drops entries with ts < nowMs - size. Must hold mu.
func (s *Store) evictLocked(key string, nowMs int64) {
	cutoff := nowMs - s.sizeMs
	es := s.entries[key]
	i := 0
	for i < len(es) && es[i] < cutoff {
		i++
	}
	if i > 0 {
		s.entries[key] = es[i:]
	}
}
