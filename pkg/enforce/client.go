// Package enforce is the outbound bridge to the rate-limiter sidecar. The
// bridge decides nothing itself: it relays verdicts, reports whether the
// enforcer could be reached, and leaves the fail-open/fail-closed downgrade
// to the pipeline.
package enforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/HrishiK1107/AuthGuard/pkg/policy"
)

// Mode selects what happens to a BLOCK when the enforcer is unreachable.
type Mode string

const (
	// ModeFailOpen downgrades an unenforceable BLOCK to CHALLENGE.
	ModeFailOpen Mode = "fail-open"
	// ModeFailClosed keeps the BLOCK even when the enforcer is down.
	ModeFailClosed Mode = "fail-closed"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeFailOpen || m == ModeFailClosed }

// DefaultURL is the enforcer address used when ENFORCER_URL is unset.
const DefaultURL = "http://ratelimiter:8081"

// Request is the enforce RPC body.
type Request struct {
	Entity     string `json:"entity"`
	Decision   string `json:"decision"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Result is the bridge's answer. Available=false means the enforcer could
// not be reached (or spoke garbage) and Allowed/Reason are synthetic.
type Result struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Available bool   `json:"available"`
}

// Bridge is the HTTP client to the enforcer. Timeouts come from the caller's
// context so the settings-controlled budget applies per call.
type Bridge struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewBridge creates a bridge to the enforcer at baseURL.
func NewBridge(baseURL string, logger *slog.Logger) *Bridge {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  logger.With("component", "enforcer_bridge"),
	}
}

// BaseURL returns the enforcer address.
func (b *Bridge) BaseURL() string { return b.baseURL }

// Enforce relays the verdict for entity. It never returns an error: an
// unreachable enforcer yields a synthetic allow with Available=false. The
// caller bounds the call with its context deadline and never retries: the
// latency budget forbids it.
func (b *Bridge) Enforce(ctx context.Context, entity string, decision policy.Decision, ttlSeconds int) Result {
	body, err := json.Marshal(Request{
		Entity:     entity,
		Decision:   string(decision),
		TTLSeconds: ttlSeconds,
	})
	if err != nil {
		return b.unavailable(fmt.Errorf("marshal enforce request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/enforce", bytes.NewReader(body))
	if err != nil {
		return b.unavailable(fmt.Errorf("build enforce request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return b.unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return b.unavailable(fmt.Errorf("enforcer returned status %d", resp.StatusCode))
	}

	var out struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return b.unavailable(fmt.Errorf("decode enforcer response: %w", err))
	}

	return Result{Allowed: out.Allowed, Reason: out.Reason, Available: true}
}

func (b *Bridge) unavailable(err error) Result {
	b.logger.Warn("enforcer unavailable", "error", err)
	return Result{
		Allowed:   true,
		Reason:    fmt.Sprintf("enforcement unavailable: %v", err),
		Available: false,
	}
}

// SetMode pushes a mode change to the enforcer.
func (b *Bridge) SetMode(ctx context.Context, mode Mode) error {
	body, err := json.Marshal(map[string]string{"mode": string(mode)})
	if err != nil {
		return fmt.Errorf("marshal mode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/mode", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mode request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("enforcer mode change: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("enforcer mode change returned status %d", resp.StatusCode)
	}
	return nil
}

// Health probes the enforcer.
func (b *Bridge) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("enforcer health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("enforcer health returned status %d", resp.StatusCode)
	}
	return nil
}

// ReplayBlocks re-asserts still-active blocks after a restart. Startup is
// fail-open: failures are logged and skipped. Returns the number of blocks
// the enforcer accepted.
func (b *Bridge) ReplayBlocks(ctx context.Context, entities []string, ttlSeconds int, perCallTimeout time.Duration) int {
	replayed := 0
	for _, entity := range entities {
		callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
		res := b.Enforce(callCtx, entity, policy.DecisionBlock, ttlSeconds)
		cancel()
		if res.Available {
			replayed++
			continue
		}
		b.logger.Warn("block replay skipped", "entity", entity, "reason", res.Reason)
	}
	return replayed
}
