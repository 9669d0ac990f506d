package store

import (
	"fmt"
	"sort"
	"sync"
)

// Block decision and source labels.
const (
	BlockDecision = "HARD_BLOCK"
	BlockScope    = "auth"

	SourceAuto   = "auto"
	SourceManual = "manual"
)

// BlockRecord is one entry of the block registry. Records are append-only;
// unblocking flips Active instead of deleting, so history survives.
type BlockRecord struct {
	ID          string  `json:"id"`
	Entity      string  `json:"entity"`
	Scope       string  `json:"scope"`
	Decision    string  `json:"decision"`
	Risk        float64 `json:"risk"`
	TTLSeconds  int     `json:"ttl_seconds"`
	Active      bool    `json:"active"`
	Source      string  `json:"source"`
	CreatedAtMs int64   `json:"created_at_ms"`
}

// BlockStore is the JSON-file-backed block registry. At most one active
// record exists per entity; every mutation rewrites the file atomically.
type BlockStore struct {
	mu      sync.Mutex
	path    string
	records []BlockRecord
	active  map[string]int // entity -> index into records
}

// NewBlockStore loads (or initializes) the registry at path.
func NewBlockStore(path string) (*BlockStore, error) {
	s := &BlockStore{path: path, active: make(map[string]int)}

	var records []BlockRecord
	if err := readJSON(path, &records); err != nil {
		if !isNotExist(err) {
			return nil, fmt.Errorf("load block store: %w", err)
		}
		return s, nil
	}
	s.records = records
	for i, rec := range s.records {
		if rec.Active {
			s.active[rec.Entity] = i
		}
	}
	return s, nil
}

// Upsert registers a block for entity. If an active record already exists
// it is returned unchanged; otherwise a new record is appended and persisted.
// The bool reports whether a record was created.
func (s *BlockStore) Upsert(entity string, risk float64, source string, ttlSeconds int, tsMs int64) (BlockRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.active[entity]; ok {
		return s.records[i], false, nil
	}

	rec := BlockRecord{
		ID:          source + "::" + entity,
		Entity:      entity,
		Scope:       BlockScope,
		Decision:    BlockDecision,
		Risk:        risk,
		TTLSeconds:  ttlSeconds,
		Active:      true,
		Source:      source,
		CreatedAtMs: tsMs,
	}
	s.records = append(s.records, rec)
	s.active[entity] = len(s.records) - 1

	if err := s.persistLocked(); err != nil {
		return rec, true, err
	}
	return rec, true, nil
}

// Deactivate flips the entity's active record off. Unblocking an entity
// with no active record is a no-op.
func (s *BlockStore) Deactivate(entity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.active[entity]
	if !ok {
		return false, nil
	}
	s.records[i].Active = false
	delete(s.active, entity)

	if err := s.persistLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// IsActive reports whether entity currently has an active block.
func (s *BlockStore) IsActive(entity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[entity]
	return ok
}

// Active returns the active records sorted by entity.
func (s *BlockStore) Active() []BlockRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]BlockRecord, 0, len(s.active))
	for _, i := range s.active {
		out = append(out, s.records[i])
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Entity < out[b].Entity })
	return out
}

// History returns every record ever written, oldest-first.
func (s *BlockStore) History() []BlockRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]BlockRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *BlockStore) persistLocked() error {
	if err := writeJSONAtomic(s.path, s.records); err != nil {
		return fmt.Errorf("persist block store: %w", err)
	}
	return nil
}
