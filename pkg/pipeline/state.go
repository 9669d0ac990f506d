// Package pipeline orchestrates the detection path: one validated event in,
// one enforced decision out. The processor is the only mutator of the
// in-memory state; everything it composes (windows, risk, rules, stores,
// bridge) is owned here.
package pipeline

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/HrishiK1107/AuthGuard/pkg/clock"
	"github.com/HrishiK1107/AuthGuard/pkg/detector"
	"github.com/HrishiK1107/AuthGuard/pkg/risk"
	"github.com/HrishiK1107/AuthGuard/pkg/window"
)

// lockShards is the size of the keyed-mutex stripe. Entities hash onto
// shards, so two entities may share a lock; correctness only needs that one
// entity always maps to the same shard.
const lockShards = 64

// sweepEpsilon is the score below which a decayed risk entry is dropped.
const sweepEpsilon = 0.01

// State aggregates the in-memory detection state: one sliding window per
// detector, the decaying risk table, and the active-signal set.
type State struct {
	windowMs int64

	ipFailure *window.Store
	ipUser    *window.Store
	userIP    *window.Store

	scores *risk.Engine
	active *risk.ActiveSignalSet

	clk   clock.Clock
	locks [lockShards]sync.Mutex
}

// NewState builds the state store. windowSize spans all three detector
// windows; halfLife and maxRisk parameterize the risk engine.
func NewState(windowSize, halfLife time.Duration, maxRisk float64, clk clock.Clock) *State {
	if clk == nil {
		clk = clock.Wall{}
	}
	return &State{
		windowMs:  windowSize.Milliseconds(),
		ipFailure: window.New(windowSize),
		ipUser:    window.New(windowSize),
		userIP:    window.New(windowSize),
		scores:    risk.NewEngine(halfLife, maxRisk),
		active:    risk.NewActiveSignalSet(),
		clk:       clk,
	}
}

// WindowFor returns the sliding window backing the given rule, nil for
// unknown rules.
func (s *State) WindowFor(ruleID string) *window.Store {
	switch ruleID {
	case detector.RuleFailedLoginVelocity:
		return s.ipFailure
	case detector.RuleIPFanOut:
		return s.ipUser
	case detector.RuleUserFanIn:
		return s.userIP
	default:
		return nil
	}
}

// AddSignal adds a decayed score delta for entity at tsMs.
func (s *State) AddSignal(entity string, delta float64, tsMs int64) {
	s.scores.AddSignal(entity, delta, tsMs)
}

// GetRisk returns the entity's decayed score at tsMs.
func (s *State) GetRisk(entity string, tsMs int64) float64 {
	return s.scores.GetRisk(entity, tsMs)
}

// MaxRisk returns the risk engine's score cap.
func (s *State) MaxRisk() float64 { return s.scores.MaxRisk() }

// IsSignalActive reports whether the (signal, entity) pair is contributing.
func (s *State) IsSignalActive(signalID, entity string) bool {
	return s.active.IsActive(signalID, entity)
}

// MarkSignalActive records a trigger and reports whether the pair was newly
// activated; only new activations may add score.
func (s *State) MarkSignalActive(signalID, entity string, tsMs int64) bool {
	return s.active.MarkActive(signalID, entity, tsMs)
}

// Lock acquires the stripe locks covering the given entity keys and returns
// the matching unlock. Shards are taken in ascending order so concurrent
// callers locking overlapping entity sets cannot deadlock.
func (s *State) Lock(entities ...string) func() {
	shards := make([]int, 0, len(entities))
	seen := make(map[int]bool, len(entities))
	for _, e := range entities {
		if e == "" {
			continue
		}
		sh := shardOf(e)
		if !seen[sh] {
			seen[sh] = true
			shards = append(shards, sh)
		}
	}
	sort.Ints(shards)

	for _, sh := range shards {
		s.locks[sh].Lock()
	}
	return func() {
		for i := len(shards) - 1; i >= 0; i-- {
			s.locks[shards[i]].Unlock()
		}
	}
}

func shardOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % lockShards)
}

// SweepStats reports what one Sweep pass removed.
type SweepStats struct {
	WindowKeys  int
	RiskEntries int
	SignalPairs int
}

// Sweep prunes cold window keys, decayed risk entries, and active-signal
// pairs idle for at least twice the window span.
func (s *State) Sweep(nowMs int64) SweepStats {
	var st SweepStats
	st.WindowKeys += s.ipFailure.Prune(nowMs)
	st.WindowKeys += s.ipUser.Prune(nowMs)
	st.WindowKeys += s.userIP.Prune(nowMs)
	st.RiskEntries = s.scores.Sweep(nowMs, sweepEpsilon)
	st.SignalPairs = s.active.Sweep(nowMs, 2*s.windowMs)
	return st
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *State) StartSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sweeper")

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := s.Sweep(clock.NowMillis(s.clk))
				if st.WindowKeys+st.RiskEntries+st.SignalPairs > 0 {
					logger.Debug("state swept",
						"window_keys", st.WindowKeys,
						"risk_entries", st.RiskEntries,
						"signal_pairs", st.SignalPairs,
					)
				}
			}
		}
	}()
}
