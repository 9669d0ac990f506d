package detector

import (
	"fmt"

	"github.com/HrishiK1107/AuthGuard/pkg/event"
	"github.com/HrishiK1107/AuthGuard/pkg/window"
)

// FanOut flags one IP spraying attempts across many accounts
// (credential stuffing). Outcome does not gate it; the spread does.
type FanOut struct{}

func (FanOut) ID() string { return RuleIPFanOut }

func (FanOut) Evaluate(ev event.AuthEvent, w *window.Store, threshold float64) Signal {
	if ev.Username == "" {
		return Signal{}
	}

	w.Add(ev.IPAddress+":"+ev.Username, ev.TimestampMs)
	// The ":" in the prefix keeps 10.0.0.1 from matching 10.0.0.10's keys.
	users := w.DistinctWithPrefix(ev.IPAddress+":", ev.TimestampMs)
	if float64(users) < threshold {
		return Signal{}
	}

	return Signal{
		Triggered:    true,
		SignalID:     SignalIPFanOut,
		Entity:       ev.IPAddress,
		EntityType:   EntityTypeIP,
		Score:        40,
		Confidence:   clamp01(float64(users) / threshold),
		DecayHintSec: 600,
		Tags:         []string{"credential_stuffing", "fanout"},
		Reason:       fmt.Sprintf("IP %s attempted %d users", ev.IPAddress, users),
	}
}
