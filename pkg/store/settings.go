package store

import (
	"fmt"
	"sync"

	"github.com/HrishiK1107/AuthGuard/pkg/enforce"
)

// Settings is the runtime-mutable enforcement configuration.
type Settings struct {
	Mode                      string `json:"mode"`
	EnforcementTimeoutSeconds int    `json:"enforcement_timeout_seconds"`
	BlockTTLSeconds           int    `json:"block_ttl_seconds"`
}

// DefaultSettings is the shipped configuration: fail-open with a one second
// enforcement budget and five minute blocks.
func DefaultSettings() Settings {
	return Settings{
		Mode:                      string(enforce.ModeFailOpen),
		EnforcementTimeoutSeconds: 1,
		BlockTTLSeconds:           300,
	}
}

// Validate rejects settings the pipeline could not run with.
func (s Settings) Validate() error {
	if !enforce.Mode(s.Mode).Valid() {
		return fmt.Errorf("invalid mode %q", s.Mode)
	}
	if s.EnforcementTimeoutSeconds < 1 || s.EnforcementTimeoutSeconds > 30 {
		return fmt.Errorf("enforcement_timeout_seconds must be in [1, 30], got %d", s.EnforcementTimeoutSeconds)
	}
	if s.BlockTTLSeconds < 1 {
		return fmt.Errorf("block_ttl_seconds must be positive, got %d", s.BlockTTLSeconds)
	}
	return nil
}

// SettingsStore persists Settings as a JSON file. A missing file is seeded
// with defaults on load.
type SettingsStore struct {
	mu   sync.RWMutex
	path string
	cur  Settings
}

// NewSettingsStore loads (or seeds) the settings at path.
func NewSettingsStore(path string) (*SettingsStore, error) {
	s := &SettingsStore{path: path, cur: DefaultSettings()}

	var loaded Settings
	err := readJSON(path, &loaded)
	switch {
	case err == nil:
		if verr := loaded.Validate(); verr != nil {
			return nil, fmt.Errorf("load settings: %w", verr)
		}
		s.cur = loaded
	case isNotExist(err):
		if werr := writeJSONAtomic(path, s.cur); werr != nil {
			return nil, fmt.Errorf("seed settings: %w", werr)
		}
	default:
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

// Get returns the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set validates and persists new settings.
func (s *SettingsStore) Set(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSONAtomic(s.path, next); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	s.cur = next
	return nil
}

// SetMode switches only the enforcement mode.
func (s *SettingsStore) SetMode(mode enforce.Mode) error {
	s.mu.RLock()
	next := s.cur
	s.mu.RUnlock()
	next.Mode = string(mode)
	return s.Set(next)
}
