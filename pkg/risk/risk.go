// Package risk accumulates per-entity scores with exponential decay, and
// tracks which signals are currently contributing so a sustained pattern
// scores once per activation instead of once per event.
package risk

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultHalfLife halves an idle entity's score every five minutes.
	DefaultHalfLife = 300 * time.Second
	// DefaultMaxRisk caps any entity's score.
	DefaultMaxRisk = 100.0
)

type entry struct {
	score          float64
	lastUpdatedSec float64
}

// Engine is the decaying score table. Reads materialize decay, so GetRisk
// advances last_updated; scores never leave [0, max].
type Engine struct {
	mu          sync.Mutex
	halfLifeSec float64
	maxRisk     float64
	entries     map[string]*entry
}

// NewEngine creates an engine with the given half-life and cap.
func NewEngine(halfLife time.Duration, maxRisk float64) *Engine {
	return &Engine{
		halfLifeSec: halfLife.Seconds(),
		maxRisk:     maxRisk,
		entries:     make(map[string]*entry),
	}
}

// NewDefaultEngine applies the production defaults.
func NewDefaultEngine() *Engine { return NewEngine(DefaultHalfLife, DefaultMaxRisk) }

// MaxRisk returns the score cap.
func (e *Engine) MaxRisk() float64 { return e.maxRisk }

// AddSignal decays the entity's score to tsMs and adds delta, capped at max.
// An unknown entity starts from zero.
func (e *Engine) AddSignal(key string, delta float64, tsMs int64) {
	nowSec := float64(tsMs) / 1000.0

	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.entries[key]
	if !ok {
		en = &entry{score: 0, lastUpdatedSec: nowSec}
		e.entries[key] = en
	}
	e.decayLocked(en, nowSec)
	en.score = math.Min(e.maxRisk, en.score+delta)
	if en.score < 0 {
		en.score = 0
	}
}

// GetRisk decays the entity's score to tsMs and returns it. A cold key reads
// as zero and allocates nothing.
func (e *Engine) GetRisk(key string, tsMs int64) float64 {
	if key == "" {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.entries[key]
	if !ok {
		return 0
	}
	e.decayLocked(en, float64(tsMs)/1000.0)
	return en.score
}

// Sweep drops entries whose score has decayed below epsilon by nowMs.
// Returns the number of entries removed.
func (e *Engine) Sweep(nowMs int64, epsilon float64) int {
	nowSec := float64(nowMs) / 1000.0

	e.mu.Lock()
	defer e.mu.Unlock()

	dropped := 0
	for k, en := range e.entries {
		e.decayLocked(en, nowSec)
		if en.score < epsilon {
			delete(e.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of live entries.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// decayLocked applies exponential decay up to nowSec. Observations from the
// past (elapsed <= 0) change nothing: out-of-order reads must neither
// amplify nor rewind. Must hold mu.
func (e *Engine) decayLocked(en *entry, nowSec float64) {
	elapsed := nowSec - en.lastUpdatedSec
	if elapsed <= 0 {
		return
	}
	en.score *= math.Pow(0.5, elapsed/e.halfLifeSec)
	en.lastUpdatedSec = nowSec
}
