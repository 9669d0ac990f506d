package store

import (
	"fmt"
	"sort"
	"sync"
)

// Campaign entity types.
const (
	CampaignTypeIP   = "IP"
	CampaignTypeUser = "USER"
)

// CampaignRecord correlates repeated alerts against one entity. The id is
// "<type>::<entity>".
type CampaignRecord struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	FirstSeenMs int64  `json:"first_seen_ms"`
	LastSeenMs  int64  `json:"last_seen_ms"`
	AlertCount  int64  `json:"alert_count"`
}

// CampaignStore persists campaign records keyed by campaign id.
type CampaignStore struct {
	mu   sync.Mutex
	path string
	m    map[string]*CampaignRecord
}

// NewCampaignStore loads (or initializes) the store at path.
func NewCampaignStore(path string) (*CampaignStore, error) {
	s := &CampaignStore{path: path, m: make(map[string]*CampaignRecord)}

	var loaded map[string]*CampaignRecord
	if err := readJSON(path, &loaded); err != nil {
		if !isNotExist(err) {
			return nil, fmt.Errorf("load campaign store: %w", err)
		}
		return s, nil
	}
	if loaded != nil {
		s.m = loaded
	}
	return s, nil
}

// Touch records one alert against the campaign, creating it on first sight,
// and returns the updated record.
func (s *CampaignStore) Touch(id, campaignType string, tsMs int64) (CampaignRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.m[id]
	if !ok {
		rec = &CampaignRecord{ID: id, Type: campaignType, FirstSeenMs: tsMs}
		s.m[id] = rec
	}
	rec.AlertCount++
	if tsMs > rec.LastSeenMs {
		rec.LastSeenMs = tsMs
	}

	if err := writeJSONAtomic(s.path, s.m); err != nil {
		return *rec, fmt.Errorf("persist campaign store: %w", err)
	}
	return *rec, nil
}

// Get returns the campaign by id.
func (s *CampaignStore) Get(id string) (CampaignRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[id]
	if !ok {
		return CampaignRecord{}, ErrNotFound
	}
	return *rec, nil
}

// List returns all campaigns, most recently seen first.
func (s *CampaignStore) List() []CampaignRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CampaignRecord, 0, len(s.m))
	for _, rec := range s.m {
		out = append(out, *rec)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].LastSeenMs != out[b].LastSeenMs {
			return out[a].LastSeenMs > out[b].LastSeenMs
		}
		return out[a].ID < out[b].ID
	})
	return out
}
