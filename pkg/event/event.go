// Package event defines the validated authentication event record that the
// detection pipeline consumes. Raw payloads pass two gates: a JSON Schema
// shape check and the cross-field validation in Parse. A record returned by
// Parse is frozen; nothing downstream mutates it.
package event

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Endpoint is the authentication surface the event was observed on.
type Endpoint string

const (
	EndpointLogin         Endpoint = "LOGIN"
	EndpointOTP           Endpoint = "OTP"
	EndpointPasswordReset Endpoint = "PASSWORD_RESET"
	EndpointTokenRefresh  Endpoint = "TOKEN_REFRESH"
)

// Method is the HTTP method of the upstream auth request.
type Method string

const (
	MethodPost Method = "POST"
	MethodGet  Method = "GET"
)

// Outcome of the upstream authentication attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// FailureReason qualifies a FAILURE outcome.
type FailureReason string

const (
	ReasonInvalidPassword FailureReason = "INVALID_PASSWORD"
	ReasonInvalidOTP      FailureReason = "INVALID_OTP"
	ReasonUserNotFound    FailureReason = "USER_NOT_FOUND"
	ReasonRateLimited     FailureReason = "RATE_LIMITED"
	ReasonAccountLocked   FailureReason = "ACCOUNT_LOCKED"
)

// endpointAliases maps path-style endpoint spellings onto the canonical enum.
var endpointAliases = map[string]Endpoint{
	"/login":          EndpointLogin,
	"/otp":            EndpointOTP,
	"/password-reset": EndpointPasswordReset,
	"/password_reset": EndpointPasswordReset,
	"/token-refresh":  EndpointTokenRefresh,
	"/token_refresh":  EndpointTokenRefresh,
}

// AuthEvent is one observed authentication attempt.
//
// Username carries the normalized form (NFKC, case-folded); RawUsername
// preserves the submitted spelling for the audit trail.
type AuthEvent struct {
	EventID           string        `json:"event_id"`
	TimestampMs       int64         `json:"timestamp_ms"`
	UserID            string        `json:"user_id,omitempty"`
	Username          string        `json:"username,omitempty"`
	RawUsername       string        `json:"raw_username,omitempty"`
	IPAddress         string        `json:"ip_address"`
	ASN               int64         `json:"asn,omitempty"`
	Country           string        `json:"country,omitempty"`
	UserAgent         string        `json:"user_agent"`
	DeviceFingerprint string        `json:"device_fingerprint,omitempty"`
	Endpoint          Endpoint      `json:"endpoint"`
	Method            Method        `json:"method"`
	Outcome           Outcome       `json:"outcome"`
	FailureReason     FailureReason `json:"failure_reason,omitempty"`
	LatencyMs         float64       `json:"latency_ms"`
	IngestSource      string        `json:"ingest_source,omitempty"`
	ReplayID          string        `json:"replay_id,omitempty"`
}

// ValidationError reports why a raw event was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid event: " + e.Reason
	}
	return fmt.Sprintf("invalid event: field %q: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// rawEvent is the wire shape before validation. Pointer fields distinguish
// absent from zero.
type rawEvent struct {
	EventID           string   `json:"event_id"`
	TimestampMs       int64    `json:"timestamp_ms"`
	UserID            string   `json:"user_id"`
	Username          string   `json:"username"`
	IPAddress         string   `json:"ip_address"`
	ASN               int64    `json:"asn"`
	Country           string   `json:"country"`
	UserAgent         string   `json:"user_agent"`
	DeviceFingerprint string   `json:"device_fingerprint"`
	Endpoint          string   `json:"endpoint"`
	Method            string   `json:"method"`
	Outcome           string   `json:"outcome"`
	FailureReason     *string  `json:"failure_reason"`
	LatencyMs         *float64 `json:"latency_ms"`
	IngestSource      string   `json:"ingest_source"`
	ReplayID          string   `json:"replay_id"`
}

// Parse validates a raw JSON payload and returns the frozen event.
// The shape gate (JSON Schema) runs first; cross-field rules follow.
func Parse(raw []byte) (AuthEvent, error) {
	if err := validateShape(raw); err != nil {
		return AuthEvent{}, err
	}

	var in rawEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		return AuthEvent{}, invalid("", "malformed JSON: "+err.Error())
	}

	ev := AuthEvent{
		EventID:           strings.TrimSpace(in.EventID),
		TimestampMs:       in.TimestampMs,
		UserID:            strings.TrimSpace(in.UserID),
		RawUsername:       strings.TrimSpace(in.Username),
		IPAddress:         strings.TrimSpace(in.IPAddress),
		ASN:               in.ASN,
		Country:           strings.ToUpper(strings.TrimSpace(in.Country)),
		UserAgent:         strings.TrimSpace(in.UserAgent),
		DeviceFingerprint: strings.TrimSpace(in.DeviceFingerprint),
		IngestSource:      strings.TrimSpace(in.IngestSource),
		ReplayID:          strings.TrimSpace(in.ReplayID),
	}
	ev.Username = NormalizeUsername(in.Username)

	if ev.TimestampMs <= 0 {
		return AuthEvent{}, invalid("timestamp_ms", "must be a positive epoch-millisecond value")
	}
	if ev.IPAddress == "" {
		return AuthEvent{}, invalid("ip_address", "must be non-empty")
	}
	if ev.UserAgent == "" {
		return AuthEvent{}, invalid("user_agent", "must be non-empty")
	}

	ep, err := parseEndpoint(in.Endpoint)
	if err != nil {
		return AuthEvent{}, err
	}
	ev.Endpoint = ep

	switch Method(strings.ToUpper(strings.TrimSpace(in.Method))) {
	case MethodPost:
		ev.Method = MethodPost
	case MethodGet:
		ev.Method = MethodGet
	default:
		return AuthEvent{}, invalid("method", "must be POST or GET")
	}

	switch Outcome(strings.ToUpper(strings.TrimSpace(in.Outcome))) {
	case OutcomeSuccess:
		ev.Outcome = OutcomeSuccess
	case OutcomeFailure:
		ev.Outcome = OutcomeFailure
	default:
		return AuthEvent{}, invalid("outcome", "must be SUCCESS or FAILURE")
	}

	// FAILURE must carry a reason; SUCCESS must not.
	if ev.Outcome == OutcomeFailure {
		if in.FailureReason == nil || strings.TrimSpace(*in.FailureReason) == "" {
			return AuthEvent{}, invalid("failure_reason", "required when outcome is FAILURE")
		}
		fr, err := parseFailureReason(*in.FailureReason)
		if err != nil {
			return AuthEvent{}, err
		}
		ev.FailureReason = fr
	} else if in.FailureReason != nil && strings.TrimSpace(*in.FailureReason) != "" {
		return AuthEvent{}, invalid("failure_reason", "must be absent when outcome is SUCCESS")
	}

	if in.LatencyMs != nil {
		if *in.LatencyMs < 0 || *in.LatencyMs > 120000 {
			return AuthEvent{}, invalid("latency_ms", "must be within [0, 120000]")
		}
		ev.LatencyMs = *in.LatencyMs
	}

	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	return ev, nil
}

func parseEndpoint(s string) (Endpoint, error) {
	t := strings.TrimSpace(s)
	if ep, ok := endpointAliases[strings.ToLower(t)]; ok {
		return ep, nil
	}
	switch Endpoint(strings.ToUpper(t)) {
	case EndpointLogin, EndpointOTP, EndpointPasswordReset, EndpointTokenRefresh:
		return Endpoint(strings.ToUpper(t)), nil
	}
	return "", invalid("endpoint", "must be one of LOGIN, OTP, PASSWORD_RESET, TOKEN_REFRESH")
}

func parseFailureReason(s string) (FailureReason, error) {
	switch FailureReason(strings.ToUpper(strings.TrimSpace(s))) {
	case ReasonInvalidPassword, ReasonInvalidOTP, ReasonUserNotFound, ReasonRateLimited, ReasonAccountLocked:
		return FailureReason(strings.ToUpper(strings.TrimSpace(s))), nil
	}
	return "", invalid("failure_reason", "unknown reason "+strings.TrimSpace(s))
}

// EntityIP is the network entity key for risk accumulation.
func (e AuthEvent) EntityIP() string { return e.IPAddress }

// EntityUser is the account entity key, empty when no username was supplied.
func (e AuthEvent) EntityUser() string { return e.Username }

// PrimaryEntity is the key handed to the enforcer: the IP when present,
// otherwise the username.
func (e AuthEvent) PrimaryEntity() string {
	if e.IPAddress != "" {
		return e.IPAddress
	}
	return e.Username
}

// MarshalRaw returns the canonical stored form of the event.
func (e AuthEvent) MarshalRaw() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.EventID, err)
	}
	return b, nil
}
