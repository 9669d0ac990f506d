package event

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload(overrides map[string]any) []byte {
	base := map[string]any{
		"timestamp_ms": int64(1700000000000),
		"username":     "alice",
		"ip_address":   "10.0.0.1",
		"user_agent":   "curl/8.0",
		"endpoint":     "LOGIN",
		"method":       "POST",
		"outcome":      "FAILURE",
		"failure_reason": "INVALID_PASSWORD",
		"latency_ms":   12.5,
	}
	for k, v := range overrides {
		if v == nil {
			delete(base, k)
		} else {
			base[k] = v
		}
	}
	b, err := json.Marshal(base)
	if err != nil {
		panic(err)
	}
	return b
}

func TestParseValidEvent(t *testing.T) {
	ev, err := Parse(validPayload(nil))
	require.NoError(t, err)

	assert.NotEmpty(t, ev.EventID, "event_id is assigned when absent")
	assert.Equal(t, EndpointLogin, ev.Endpoint)
	assert.Equal(t, OutcomeFailure, ev.Outcome)
	assert.Equal(t, ReasonInvalidPassword, ev.FailureReason)
	assert.Equal(t, "alice", ev.Username)
	assert.Equal(t, "10.0.0.1", ev.IPAddress)
}

func TestParseKeepsSuppliedEventID(t *testing.T) {
	ev, err := Parse(validPayload(map[string]any{"event_id": "evt-42"}))
	require.NoError(t, err)
	assert.Equal(t, "evt-42", ev.EventID)
}

func TestParseTrimsStrings(t *testing.T) {
	ev, err := Parse(validPayload(map[string]any{
		"ip_address": "  10.0.0.9  ",
		"username":   "  Bob ",
		"country":    " us ",
	}))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", ev.IPAddress)
	assert.Equal(t, "bob", ev.Username)
	assert.Equal(t, "Bob", ev.RawUsername)
	assert.Equal(t, "US", ev.Country)
}

func TestParseEndpointAliases(t *testing.T) {
	cases := map[string]Endpoint{
		"/login":          EndpointLogin,
		"/otp":            EndpointOTP,
		"/password-reset": EndpointPasswordReset,
		"/token_refresh":  EndpointTokenRefresh,
		"otp":             EndpointOTP,
		"password_reset":  EndpointPasswordReset,
	}
	for in, want := range cases {
		ev, err := Parse(validPayload(map[string]any{"endpoint": in}))
		require.NoError(t, err, "endpoint %q", in)
		assert.Equal(t, want, ev.Endpoint, "endpoint %q", in)
	}
}

func TestParseFailureReasonConsistency(t *testing.T) {
	// FAILURE without a reason is rejected.
	_, err := Parse(validPayload(map[string]any{"failure_reason": nil}))
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "failure_reason", ve.Field)

	// SUCCESS with a reason is rejected.
	_, err = Parse(validPayload(map[string]any{
		"outcome":        "SUCCESS",
		"failure_reason": "INVALID_PASSWORD",
	}))
	require.Error(t, err)

	// SUCCESS without a reason is fine.
	ev, err := Parse(validPayload(map[string]any{
		"outcome":        "SUCCESS",
		"failure_reason": nil,
	}))
	require.NoError(t, err)
	assert.Empty(t, ev.FailureReason)
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"zero timestamp", map[string]any{"timestamp_ms": 0}},
		{"negative timestamp", map[string]any{"timestamp_ms": -5}},
		{"missing ip", map[string]any{"ip_address": nil}},
		{"blank ip", map[string]any{"ip_address": "   "}},
		{"missing user agent", map[string]any{"user_agent": nil}},
		{"bad endpoint", map[string]any{"endpoint": "SIGNUP"}},
		{"bad method", map[string]any{"method": "PUT"}},
		{"bad outcome", map[string]any{"outcome": "MAYBE"}},
		{"unknown failure reason", map[string]any{"failure_reason": "BAD_MOON"}},
		{"latency too high", map[string]any{"latency_ms": 240000}},
		{"negative latency", map[string]any{"latency_ms": -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(validPayload(tc.overrides))
			require.Error(t, err)
		})
	}
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"timestamp_ms": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed JSON")
}

func TestPrimaryEntityPrefersIP(t *testing.T) {
	ev, err := Parse(validPayload(nil))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ev.PrimaryEntity())
	assert.Equal(t, "alice", ev.EntityUser())
}

func TestNormalizeUsernameFolds(t *testing.T) {
	assert.Equal(t, "admin", NormalizeUsername("Admin"))
	assert.Equal(t, "admin", NormalizeUsername("ＡＤＭＩＮ")) // fullwidth compatibility forms
	assert.Equal(t, "strasse", NormalizeUsername("STRASSE"))
	assert.Equal(t, "", NormalizeUsername("   "))
}

func TestFingerprintIgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := []byte(`{"b":1,"a":"x"}`)
	b := []byte(`{ "a": "x", "b": 1 }`)
	c := []byte(`{"a":"y","b":1}`)

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	fc, err := Fingerprint(c)
	require.NoError(t, err)

	assert.Equal(t, fa, fb)
	assert.NotEqual(t, fa, fc)
	assert.Len(t, fa, 64)
}

func TestFingerprintRejectsBadJSON(t *testing.T) {
	_, err := Fingerprint([]byte("{"))
	require.Error(t, err)
}

func TestSchemaGateReportsLocation(t *testing.T) {
	_, err := Parse(validPayload(map[string]any{"latency_ms": "fast"}))
	require.Error(t, err)
	if !strings.Contains(err.Error(), "latency_ms") {
		t.Errorf("expected schema error to name latency_ms, got %v", err)
	}
}
