package risk

import "sync"

// ActiveSignalSet remembers which (signal, entity) pairs are already
// contributing risk. A pair stays active while the pattern keeps
// re-triggering; Sweep clears pairs that have been quiet long enough that
// their window must have drained.
type ActiveSignalSet struct {
	mu   sync.Mutex
	last map[string]int64 // "signal|entity" -> last trigger ms
}

// NewActiveSignalSet creates an empty set.
func NewActiveSignalSet() *ActiveSignalSet {
	return &ActiveSignalSet{last: make(map[string]int64)}
}

func pairKey(signalID, entity string) string { return signalID + "|" + entity }

// IsActive reports whether the pair is currently contributing.
func (s *ActiveSignalSet) IsActive(signalID, entity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.last[pairKey(signalID, entity)]
	return ok
}

// MarkActive records a trigger at tsMs and reports whether the pair was
// newly activated. Re-triggers refresh the timestamp so a live pattern is
// never swept mid-activation.
func (s *ActiveSignalSet) MarkActive(signalID, entity string, tsMs int64) bool {
	k := pairKey(signalID, entity)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.last[k]
	if cur := s.last[k]; tsMs > cur {
		s.last[k] = tsMs
	} else if !existed {
		s.last[k] = tsMs
	}
	return !existed
}

// Sweep clears pairs with no trigger since nowMs - maxIdleMs and returns how
// many were cleared.
func (s *ActiveSignalSet) Sweep(nowMs, maxIdleMs int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for k, last := range s.last {
		if last <= nowMs-maxIdleMs {
			delete(s.last, k)
			cleared++
		}
	}
	return cleared
}

// Len reports the number of active pairs.
func (s *ActiveSignalSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.last)
}
