package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/HrishiK1107/AuthGuard/pkg/alert"
	"github.com/HrishiK1107/AuthGuard/pkg/detector"
	"github.com/HrishiK1107/AuthGuard/pkg/enforce"
	"github.com/HrishiK1107/AuthGuard/pkg/event"
	"github.com/HrishiK1107/AuthGuard/pkg/observability"
	"github.com/HrishiK1107/AuthGuard/pkg/policy"
	"github.com/HrishiK1107/AuthGuard/pkg/replay"
	"github.com/HrishiK1107/AuthGuard/pkg/rules"
	"github.com/HrishiK1107/AuthGuard/pkg/store"
)

// Telemetry is the per-request timing and enforcement detail attached to
// the response.
type Telemetry struct {
	DecisionMs    float64  `json:"decision_ms"`
	EnforcementMs float64  `json:"enforcement_ms"`
	TotalMs       float64  `json:"total_ms"`
	Decision      string   `json:"decision"`
	BlockedAtMs   int64    `json:"blocked_at,omitempty"`
	TTLSeconds    int      `json:"ttl_seconds"`
	RiskScore     float64  `json:"risk_score"`
	Signals       []string `json:"signals"`
}

// EnforcementReport is the enforcement slice of the response.
type EnforcementReport struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	Telemetry Telemetry `json:"telemetry"`
}

// Result is one processed event's verdict in response shape. Duplicate and
// ReplayKey never serialize; the ingest handler renders duplicates as their
// own status envelope.
type Result struct {
	EventID              string            `json:"event_id"`
	Decision             policy.Decision   `json:"decision"`
	RiskScore            float64           `json:"risk_score"`
	SignalsTriggered     []detector.Signal `json:"signals_triggered"`
	DecisionReason       string            `json:"decision_reason"`
	Mode                 string            `json:"mode"`
	EnforcementAvailable bool              `json:"enforcement_available"`
	Enforcement          EnforcementReport `json:"enforcement"`

	Duplicate bool   `json:"-"`
	ReplayKey string `json:"-"`
}

// Options wires a Processor. State, Rules, Policy, Bridge, Log, Blocks, and
// Settings are required; Replay, Alerts, Telemetry, and Logger may be nil
// (duplicates unfenced, alerts unemitted, telemetry no-op).
type Options struct {
	State     *State
	Rules     *rules.Table
	Policy    *policy.Engine
	Bridge    *enforce.Bridge
	Replay    replay.Guard
	Log       store.EventLog
	Blocks    *store.BlockStore
	Settings  *store.SettingsStore
	Alerts    *alert.Manager
	Telemetry *observability.Provider
	Logger    *slog.Logger
}

// Processor runs the detection pipeline. It is safe for concurrent use;
// per-entity ordering is serialized through the state store's keyed locks.
type Processor struct {
	state     *State
	rules     *rules.Table
	policy    *policy.Engine
	bridge    *enforce.Bridge
	replay    replay.Guard
	log       store.EventLog
	blocks    *store.BlockStore
	settings  *store.SettingsStore
	alerts    *alert.Manager
	telemetry *observability.Provider
	detectors []detector.Detector
	logger    *slog.Logger
}

// NewProcessor builds a processor from opts.
func NewProcessor(opts Options) *Processor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Processor{
		state:     opts.State,
		rules:     opts.Rules,
		policy:    opts.Policy,
		bridge:    opts.Bridge,
		replay:    opts.Replay,
		log:       opts.Log,
		blocks:    opts.Blocks,
		settings:  opts.Settings,
		alerts:    opts.Alerts,
		telemetry: opts.Telemetry,
		detectors: detector.All(),
		logger:    opts.Logger.With("component", "processor"),
	}
}

// State returns the processor's state store.
func (p *Processor) State() *State { return p.state }

// Process runs one raw event through the pipeline. A non-nil error is a
// validation failure (*event.ValidationError) and nothing was mutated; a
// duplicate returns Result.Duplicate=true, also without mutation.
func (p *Processor) Process(ctx context.Context, raw []byte) (*Result, error) {
	started := time.Now()

	ev, err := event.Parse(raw)
	if err != nil {
		return nil, err
	}

	ctx, finish := p.telemetry.TrackOperation(ctx, "pipeline.process",
		observability.IngestOperation(ev.EventID, ev.IngestSource, string(ev.Outcome))...)
	defer finish(nil)

	if dup, key := p.isDuplicate(ctx, ev, raw); dup {
		p.telemetry.RecordDuplicate(ctx)
		p.logger.Info("duplicate event fenced", "event_id", ev.EventID, "replay_key", key)
		return &Result{EventID: ev.EventID, Duplicate: true, ReplayKey: key}, nil
	}

	signals, effective, verdict := p.detect(ctx, ev)
	decisionDur := time.Since(started)

	entity := ev.PrimaryEntity()
	settings := p.settings.Get()
	mode := enforce.Mode(settings.Mode)

	ttl := 0
	if verdict.Decision == policy.DecisionBlock {
		ttl = settings.BlockTTLSeconds
	}

	enforceStart := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(settings.EnforcementTimeoutSeconds)*time.Second)
	enf := p.bridge.Enforce(callCtx, entity, verdict.Decision, ttl)
	cancel()
	enforceDur := time.Since(enforceStart)

	final := verdict.Decision
	reason := verdict.Reason
	if final == policy.DecisionBlock && !enf.Available && mode == enforce.ModeFailOpen {
		final = policy.DecisionChallenge
		reason = fmt.Sprintf("%s; downgraded to CHALLENGE: enforcement unavailable", verdict.Reason)
		p.logger.Warn("block downgraded",
			"entity", entity, "risk", effective, "enforcement_reason", enf.Reason)
	}

	var blockedAt int64
	if final == policy.DecisionBlock {
		rec, created, err := p.blocks.Upsert(entity, effective, store.SourceAuto, ttl, ev.TimestampMs)
		if err != nil {
			p.logger.Error("block store write failed", "entity", entity, "error", err)
			p.telemetry.RecordError(ctx, err, observability.AttrEntity.String(entity))
		}
		blockedAt = rec.CreatedAtMs
		if created {
			p.logger.Info("entity blocked",
				"entity", entity, "risk", effective, "ttl_seconds", ttl)
		}
	}

	p.appendLog(ctx, ev, entity, final, effective, enf)

	sigIDs := signalIDs(signals)
	if p.alerts != nil && p.shouldAlert(final, effective) {
		emitted := p.alerts.Emit(ctx, ev, entity, final, effective, sigIDs)
		p.telemetry.RecordAlert(ctx, emitted)
	}

	p.telemetry.RecordDecision(ctx, string(final))

	return &Result{
		EventID:              ev.EventID,
		Decision:             final,
		RiskScore:            effective,
		SignalsTriggered:     signals,
		DecisionReason:       reason,
		Mode:                 string(mode),
		EnforcementAvailable: enf.Available,
		Enforcement: EnforcementReport{
			Allowed: enf.Allowed,
			Reason:  enf.Reason,
			Telemetry: Telemetry{
				DecisionMs:    durationMs(decisionDur),
				EnforcementMs: durationMs(enforceDur),
				TotalMs:       durationMs(time.Since(started)),
				Decision:      string(final),
				BlockedAtMs:   blockedAt,
				TTLSeconds:    ttl,
				RiskScore:     effective,
				Signals:       sigIDs,
			},
		},
	}, nil
}

// isDuplicate consults the replay fence. The fence key is the supplied
// replay id, or the canonical payload fingerprint when none was given. A
// broken fence fails open: the event is treated as first-seen.
func (p *Processor) isDuplicate(ctx context.Context, ev event.AuthEvent, raw []byte) (bool, string) {
	if p.replay == nil {
		return false, ""
	}

	key := ev.ReplayID
	if key == "" {
		fp, err := event.Fingerprint(raw)
		if err != nil {
			p.logger.Warn("event fingerprint failed", "event_id", ev.EventID, "error", err)
			return false, ""
		}
		key = fp
	}

	first, err := p.replay.FirstSeen(ctx, key)
	if err != nil {
		p.logger.Warn("replay guard unavailable", "event_id", ev.EventID, "error", err)
		return false, key
	}
	return !first, key
}

// detect runs the enabled detectors under the entity locks and returns the
// triggered signals, the effective risk, and the base verdict. Triggered
// signals are collected for the response even when the activation gate
// stops them from adding score again.
func (p *Processor) detect(ctx context.Context, ev event.AuthEvent) ([]detector.Signal, float64, policy.Verdict) {
	unlock := p.state.Lock(ev.EntityIP(), ev.EntityUser())
	defer unlock()

	signals := make([]detector.Signal, 0, len(p.detectors))
	for _, det := range p.detectors {
		id := det.ID()
		if !p.rules.IsEnabled(id) {
			continue
		}
		matched, err := p.rules.GuardMatches(id, ev)
		if err != nil {
			p.logger.Warn("rule guard skipped", "rule", id, "error", err)
			continue
		}
		if !matched {
			continue
		}

		sig := det.Evaluate(ev, p.state.WindowFor(id), p.rules.Threshold(id))
		if !sig.Triggered {
			continue
		}

		signals = append(signals, sig)
		p.rules.RecordTrigger(id, ev.TimestampMs)
		p.telemetry.RecordSignal(ctx, id)

		if p.state.MarkSignalActive(sig.SignalID, sig.Entity, ev.TimestampMs) {
			p.state.AddSignal(sig.Entity, float64(sig.Score), ev.TimestampMs)
		}
	}

	ipRisk := p.state.GetRisk(ev.EntityIP(), ev.TimestampMs)
	userRisk := 0.0
	if ev.EntityUser() != "" {
		userRisk = p.state.GetRisk(ev.EntityUser(), ev.TimestampMs)
	}
	effective := math.Max(ipRisk, userRisk)

	return signals, effective, p.policy.Decide(effective)
}

// appendLog writes the durable record. Append failures are logged and
// counted but never fail the decision.
func (p *Processor) appendLog(ctx context.Context, ev event.AuthEvent, entity string, final policy.Decision, effective float64, enf enforce.Result) {
	rawStored, err := ev.MarshalRaw()
	if err != nil {
		p.logger.Error("event marshal for log failed", "event_id", ev.EventID, "error", err)
		rawStored = nil
	}

	rec := store.EventRecord{
		TsMs:               ev.TimestampMs,
		Entity:             entity,
		Endpoint:           string(ev.Endpoint),
		Outcome:            string(ev.Outcome),
		Decision:           string(final),
		Risk:               effective,
		EnforcementAllowed: enf.Allowed,
		EnforcementReason:  enf.Reason,
		RawEvent:           rawStored,
	}
	if _, err := p.log.Append(ctx, rec); err != nil {
		p.logger.Error("event log append failed", "event_id", ev.EventID, "error", err)
		p.telemetry.RecordAppendFailure(ctx)
	}
}

// shouldAlert gates emission: every BLOCK, and CHALLENGEs whose risk
// reached the block threshold (which covers mode downgrades).
func (p *Processor) shouldAlert(final policy.Decision, effective float64) bool {
	switch final {
	case policy.DecisionBlock:
		return true
	case policy.DecisionChallenge:
		return effective >= p.policy.Thresholds().Block
	default:
		return false
	}
}

func signalIDs(signals []detector.Signal) []string {
	ids := make([]string, 0, len(signals))
	for _, s := range signals {
		ids = append(ids, s.SignalID)
	}
	return ids
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
