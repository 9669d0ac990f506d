// Package alert turns final verdicts into operator-facing alerts: severity
// labeling, campaign correlation, suppression, and webhook dispatch.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HrishiK1107/AuthGuard/pkg/clock"
	"github.com/HrishiK1107/AuthGuard/pkg/event"
	"github.com/HrishiK1107/AuthGuard/pkg/policy"
	"github.com/HrishiK1107/AuthGuard/pkg/store"
)

// Severity labels, lowest to highest.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityFor maps a final decision and its risk to a severity label.
func SeverityFor(decision policy.Decision, risk float64) Severity {
	switch decision {
	case policy.DecisionBlock:
		if risk >= 75 {
			return SeverityCritical
		}
		return SeverityHigh
	case policy.DecisionChallenge:
		if risk >= 40 {
			return SeverityMedium
		}
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Campaign identifies the attack stream an alert belongs to.
type Campaign struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// CampaignFor keys the campaign by username when one is present (a fan-in
// attack hops IPs but not accounts), otherwise by IP.
func CampaignFor(ev event.AuthEvent) Campaign {
	if ev.Username != "" {
		return Campaign{ID: store.CampaignTypeUser + "::" + ev.Username, Type: store.CampaignTypeUser}
	}
	return Campaign{ID: store.CampaignTypeIP + "::" + ev.IPAddress, Type: store.CampaignTypeIP}
}

// Alert is the dispatched payload.
type Alert struct {
	ID        string   `json:"alert_id"`
	Decision  string   `json:"decision"`
	Severity  Severity `json:"severity"`
	Entity    string   `json:"entity"`
	Endpoint  string   `json:"endpoint"`
	RiskScore float64  `json:"risk_score"`
	Signals   []string `json:"signals"`
	Timestamp string   `json:"timestamp"`
	Campaign  Campaign `json:"campaign"`
}

// DefaultSuppression is the per-campaign quiet period between alerts.
const DefaultSuppression = 300 * time.Second

const webhookTimeout = 2 * time.Second

// Options configures a Manager. Campaigns may be nil (no campaign
// bookkeeping); WebhookURL may be empty (log-only dispatch).
type Options struct {
	WebhookURL  string
	Signer      *Signer
	Suppression time.Duration
	Campaigns   *store.CampaignStore
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Manager emits alerts. Emission is best-effort end to end: webhook and
// campaign-store failures are logged and swallowed, and the structured log
// line is the one delivery that always happens.
type Manager struct {
	mu       sync.Mutex
	lastEmit map[string]int64 // campaign id -> last emission, epoch ms

	suppression time.Duration
	campaigns   *store.CampaignStore
	webhookURL  string
	signer      *Signer
	client      *http.Client
	clock       clock.Clock
	logger      *slog.Logger
}

// NewManager builds a Manager from opts.
func NewManager(opts Options) *Manager {
	if opts.Suppression <= 0 {
		opts.Suppression = DefaultSuppression
	}
	if opts.Clock == nil {
		opts.Clock = clock.Wall{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		lastEmit:    make(map[string]int64),
		suppression: opts.Suppression,
		campaigns:   opts.Campaigns,
		webhookURL:  opts.WebhookURL,
		signer:      opts.Signer,
		client:      &http.Client{Timeout: webhookTimeout},
		clock:       opts.Clock,
		logger:      opts.Logger.With("component", "alert_manager"),
	}
}

// Emit dispatches an alert for a verdict. It never fails the caller; the
// return value reports whether the alert went out or was suppressed. The
// campaign record is touched on every attempt, suppressed or not.
func (m *Manager) Emit(ctx context.Context, ev event.AuthEvent, entity string, decision policy.Decision, risk float64, signals []string) bool {
	nowMs := clock.NowMillis(m.clock)
	campaign := CampaignFor(ev)

	if m.campaigns != nil {
		if _, err := m.campaigns.Touch(campaign.ID, campaign.Type, nowMs); err != nil {
			m.logger.Warn("campaign update failed", "campaign", campaign.ID, "error", err)
		}
	}

	m.mu.Lock()
	if last, ok := m.lastEmit[campaign.ID]; ok && nowMs-last < m.suppression.Milliseconds() {
		m.mu.Unlock()
		m.logger.Debug("alert suppressed", "campaign", campaign.ID, "decision", decision)
		return false
	}
	m.lastEmit[campaign.ID] = nowMs
	m.mu.Unlock()

	if signals == nil {
		signals = []string{}
	}
	a := Alert{
		ID:        uuid.NewString(),
		Decision:  string(decision),
		Severity:  SeverityFor(decision, risk),
		Entity:    entity,
		Endpoint:  string(ev.Endpoint),
		RiskScore: risk,
		Signals:   signals,
		Timestamp: time.UnixMilli(nowMs).UTC().Format(time.RFC3339),
		Campaign:  campaign,
	}

	m.logger.Warn("alert",
		"alert_id", a.ID,
		"severity", a.Severity,
		"decision", a.Decision,
		"entity", a.Entity,
		"endpoint", a.Endpoint,
		"risk_score", a.RiskScore,
		"signals", a.Signals,
		"campaign", a.Campaign.ID,
	)

	if m.webhookURL != "" {
		m.postWebhook(ctx, a)
	}
	return true
}

func (m *Manager) postWebhook(ctx context.Context, a Alert) {
	body, err := json.Marshal(a)
	if err != nil {
		m.logger.Warn("webhook marshal failed", "alert_id", a.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.webhookURL, bytes.NewReader(body))
	if err != nil {
		m.logger.Warn("webhook request failed", "alert_id", a.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if m.signer != nil {
		req.Header.Set(SignatureHeader, m.signer.Signature(body))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("webhook delivery failed", "alert_id", a.ID, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger.Warn("webhook rejected", "alert_id", a.ID, "status", resp.StatusCode)
	}
}
