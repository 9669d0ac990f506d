// Package detector holds the detection rules. Each detector is a pure
// function of (event, window, threshold): it records the event in its window,
// counts, and either stays silent or emits a scored signal. Detectors never
// touch the risk engine; the pipeline decides what a signal is worth.
package detector

import (
	"github.com/HrishiK1107/AuthGuard/pkg/event"
	"github.com/HrishiK1107/AuthGuard/pkg/window"
)

// Rule ids as stored in the rules table and addressed by the admin API.
const (
	RuleFailedLoginVelocity = "failed_login_velocity"
	RuleIPFanOut            = "ip_fan_out"
	RuleUserFanIn           = "user_fan_in"
)

// Signal ids as emitted in responses, alerts, and the activation set.
const (
	SignalFailedLoginVelocity = "FAILED_LOGIN_VELOCITY"
	SignalIPFanOut            = "IP_FAN_OUT"
	SignalUserFanIn           = "USER_FAN_IN"
)

// Entity types carried on signals and campaign keys.
const (
	EntityTypeIP   = "IP"
	EntityTypeUser = "USER"
)

// Signal is a detector verdict. The zero value means "not triggered".
type Signal struct {
	Triggered  bool    `json:"triggered"`
	SignalID   string  `json:"signal_id,omitempty"`
	Entity     string  `json:"entity,omitempty"`
	EntityType string  `json:"entity_type,omitempty"`
	Score      int     `json:"score,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	// DecayHintSec is advisory metadata for consumers; the risk engine
	// applies its own half-life.
	DecayHintSec int      `json:"decay_hint_sec,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// Detector evaluates one event against its sliding window.
type Detector interface {
	ID() string
	Evaluate(ev event.AuthEvent, w *window.Store, threshold float64) Signal
}

// All returns the detectors in their fixed evaluation order.
func All() []Detector {
	return []Detector{Velocity{}, FanOut{}, FanIn{}}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
