package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HrishiK1107/AuthGuard/pkg/alert"
	"github.com/HrishiK1107/AuthGuard/pkg/api"
	"github.com/HrishiK1107/AuthGuard/pkg/clock"
	"github.com/HrishiK1107/AuthGuard/pkg/enforce"
	"github.com/HrishiK1107/AuthGuard/pkg/pipeline"
	"github.com/HrishiK1107/AuthGuard/pkg/policy"
	"github.com/HrishiK1107/AuthGuard/pkg/replay"
	"github.com/HrishiK1107/AuthGuard/pkg/rules"
	"github.com/HrishiK1107/AuthGuard/pkg/store"
)

// 2025-01-01T00:00:00Z
const baseMs int64 = 1_735_689_600_000

// fakeEnforcer approves everything and records what it was told.
type fakeEnforcer struct {
	srv     *httptest.Server
	mu      sync.Mutex
	reqs    []enforce.Request
	modes   []string
	healthy bool
}

func newFakeEnforcer(t *testing.T) *fakeEnforcer {
	t.Helper()
	fe := &fakeEnforcer{healthy: true}
	fe.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/enforce":
			var req enforce.Request
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fe.mu.Lock()
			fe.reqs = append(fe.reqs, req)
			fe.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"allowed": true, "reason": "applied"})
		case "/mode":
			var body struct {
				Mode string `json:"mode"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			fe.mu.Lock()
			fe.modes = append(fe.modes, body.Mode)
			fe.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		case "/health":
			fe.mu.Lock()
			ok := fe.healthy
			fe.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(fe.srv.Close)
	return fe
}

func (fe *fakeEnforcer) requests() []enforce.Request {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	out := make([]enforce.Request, len(fe.reqs))
	copy(out, fe.reqs)
	return out
}

func (fe *fakeEnforcer) modeChanges() []string {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	out := make([]string, len(fe.modes))
	copy(out, fe.modes)
	return out
}

func (fe *fakeEnforcer) setHealthy(ok bool) {
	fe.mu.Lock()
	fe.healthy = ok
	fe.mu.Unlock()
}

type apiEnv struct {
	ts       *httptest.Server
	clk      *clock.Fake
	enforcer *fakeEnforcer
	settings *store.SettingsStore
	secret   string
}

// newAPIEnv wires the full HTTP surface over real stores: a SQLite event
// log in a temp dir, JSON-file block/settings/campaign stores, and a fake
// enforcer. secret guards the admin plane ("" leaves it open).
func newAPIEnv(t *testing.T, secret string) *apiEnv {
	t.Helper()
	dir := t.TempDir()
	clk := clock.NewFake(time.UnixMilli(baseMs))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	enforcer := newFakeEnforcer(t)

	db, err := store.Open(store.DriverSQLite, filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	log := store.NewSQLEventLog(db, store.DriverSQLite, clk)
	require.NoError(t, log.Init(t.Context()))

	tbl, err := rules.NewTable()
	require.NoError(t, err)
	blocks, err := store.NewBlockStore(filepath.Join(dir, "blocks.json"))
	require.NoError(t, err)
	settings, err := store.NewSettingsStore(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)
	campaigns, err := store.NewCampaignStore(filepath.Join(dir, "campaigns.json"))
	require.NoError(t, err)

	guard := replay.NewMemory(5*time.Minute, clk)
	t.Cleanup(func() { _ = guard.Close() })

	bridge := enforce.NewBridge(enforcer.srv.URL, logger)
	proc := pipeline.NewProcessor(pipeline.Options{
		State:    pipeline.NewState(time.Minute, 5*time.Minute, 100, clk),
		Rules:    tbl,
		Policy:   policy.NewEngine(policy.DefaultThresholds()),
		Bridge:   bridge,
		Replay:   guard,
		Log:      log,
		Blocks:   blocks,
		Settings: settings,
		Alerts: alert.NewManager(alert.Options{
			Campaigns: campaigns,
			Clock:     clk,
			Logger:    logger,
		}),
		Logger: logger,
	})

	srv := api.NewServer(api.Options{
		Processor:   proc,
		Rules:       tbl,
		Blocks:      blocks,
		Settings:    settings,
		Campaigns:   campaigns,
		Log:         log,
		Bridge:      bridge,
		AdminSecret: secret,
		Clock:       clk,
		Logger:      logger,
	})
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &apiEnv{ts: ts, clk: clk, enforcer: enforcer, settings: settings, secret: secret}
}

// call makes one request and decodes the JSON response into a map.
func (e *apiEnv) call(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	if e.secret != "" {
		req.Header.Set("Authorization", "Bearer "+e.adminToken(t))
	}

	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (e *apiEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops@authguard",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(e.secret))
	require.NoError(t, err)
	return token
}

func loginPayload(tsMs int64, ip, username, outcome string) map[string]any {
	m := map[string]any{
		"timestamp_ms": tsMs,
		"ip_address":   ip,
		"user_agent":   "api-test/1.0",
		"endpoint":     "LOGIN",
		"method":       "POST",
		"outcome":      outcome,
	}
	if username != "" {
		m["username"] = username
	}
	if outcome == "FAILURE" {
		m["failure_reason"] = "INVALID_PASSWORD"
	}
	return m
}

func TestIngestEnvelopes(t *testing.T) {
	env := newAPIEnv(t, "")

	t.Run("processed", func(t *testing.T) {
		code, out := env.call(t, "POST", "/events/auth",
			loginPayload(baseMs, "198.51.100.10", "alice", "SUCCESS"))
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "processed", out["status"])

		result, ok := out["result"].(map[string]any)
		require.True(t, ok, "expected embedded pipeline result")
		assert.Equal(t, "ALLOW", result["decision"])
		assert.NotEmpty(t, result["event_id"])
	})

	t.Run("duplicate", func(t *testing.T) {
		payload := loginPayload(baseMs+1000, "198.51.100.10", "alice", "SUCCESS")
		payload["replay_id"] = "ingest-dup-1"

		code, out := env.call(t, "POST", "/events/auth", payload)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "processed", out["status"])

		code, out = env.call(t, "POST", "/events/auth", payload)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "duplicate", out["status"])
		assert.Equal(t, "ingest-dup-1", out["replay_id"])
	})

	t.Run("validation failure", func(t *testing.T) {
		payload := loginPayload(baseMs+2000, "198.51.100.10", "alice", "FAILURE")
		delete(payload, "failure_reason")

		code, out := env.call(t, "POST", "/events/auth", payload)
		require.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "Validation Failed", out["title"])
		assert.Contains(t, out["detail"], "failure_reason")
	})

	t.Run("oversize payload", func(t *testing.T) {
		big := bytes.Repeat([]byte("x"), 1<<20+1)
		resp, err := http.Post(env.ts.URL+"/events/auth", "application/json", bytes.NewReader(big))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})
}

func TestAdminPlaneRequiresToken(t *testing.T) {
	env := newAPIEnv(t, "hunter2")

	// Bare request against a protected route.
	resp, err := http.Get(env.ts.URL + "/rules")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NoError(t, resp.Body.Close())

	// Same route with a minted token.
	code, out := env.call(t, "GET", "/rules", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, out["count"])

	// Ingest and dashboard reads stay open.
	raw, _ := json.Marshal(loginPayload(baseMs, "198.51.100.1", "bob", "SUCCESS"))
	resp, err = http.Post(env.ts.URL+"/events/auth", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NoError(t, resp.Body.Close())

	resp, err = http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NoError(t, resp.Body.Close())
}

func TestRuleLifecycle(t *testing.T) {
	env := newAPIEnv(t, "")

	code, out := env.call(t, "GET", "/rules", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, out["count"])

	code, out = env.call(t, "POST", "/rules/disable/failed_login_velocity", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["enabled"])

	code, out = env.call(t, "POST", "/rules/enable/failed_login_velocity", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["enabled"])

	code, out = env.call(t, "POST", "/rules/enable/no_such_rule", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, out["detail"], "no_such_rule")

	code, out = env.call(t, "POST", "/rules/threshold/ip_fan_out",
		map[string]any{"threshold": 6})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 6, out["threshold"])

	code, _ = env.call(t, "POST", "/rules/threshold/ip_fan_out",
		map[string]any{"threshold": -1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = env.call(t, "POST", "/rules/guard/failed_login_velocity",
		map[string]any{"guard": `endpoint == "LOGIN"`})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, `endpoint == "LOGIN"`, out["guard"])

	code, _ = env.call(t, "POST", "/rules/guard/failed_login_velocity",
		map[string]any{"guard": "endpoint =="})
	assert.Equal(t, http.StatusBadRequest, code, "unparseable guard expression")
}

func TestManualBlockAndUnblock(t *testing.T) {
	env := newAPIEnv(t, "")

	code, out := env.call(t, "POST", "/blocks/block",
		map[string]any{"entity": "203.0.113.50"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "blocked", out["status"])
	assert.Equal(t, true, out["created"])

	rec, ok := out["record"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "manual::203.0.113.50", rec["id"])
	assert.Equal(t, "manual", rec["source"])
	assert.EqualValues(t, 300, rec["ttl_seconds"], "default TTL from settings")

	enfRes, ok := out["enforcement"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, enfRes["available"])

	// The enforcer saw the BLOCK with the settings TTL.
	reqs := env.enforcer.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "203.0.113.50", reqs[0].Entity)
	assert.Equal(t, "BLOCK", reqs[0].Decision)
	assert.Equal(t, 300, reqs[0].TTLSeconds)

	code, out = env.call(t, "GET", "/blocks", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, out["count"])

	// Blocking the same entity again reuses the active record.
	code, out = env.call(t, "POST", "/blocks/block",
		map[string]any{"entity": "203.0.113.50", "ttl_seconds": 60})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["created"])

	code, out = env.call(t, "POST", "/blocks/unblock",
		map[string]any{"entity": "203.0.113.50"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "unblocked", out["status"])
	assert.Equal(t, true, out["was_active"])

	// Unblock propagated an ALLOW with no TTL.
	reqs = env.enforcer.requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, "ALLOW", last.Decision)
	assert.Equal(t, 0, last.TTLSeconds)

	// Second unblock is a no-op, not an error.
	code, out = env.call(t, "POST", "/blocks/unblock",
		map[string]any{"entity": "203.0.113.50"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["was_active"])

	code, out = env.call(t, "GET", "/blocks", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, out["count"])

	code, out = env.call(t, "GET", "/blocks/history", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, out["count"], "deactivated block stays in history")

	code, _ = env.call(t, "POST", "/blocks/block", map[string]any{"entity": "  "})
	assert.Equal(t, http.StatusBadRequest, code, "blank entity rejected")
}

func TestSettingsUpdateAndModeForward(t *testing.T) {
	env := newAPIEnv(t, "")

	code, out := env.call(t, "GET", "/settings", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "fail-open", out["mode"])
	assert.EqualValues(t, 300, out["block_ttl_seconds"])

	// Partial update keeps the fields that were not named.
	code, out = env.call(t, "POST", "/settings",
		map[string]any{"block_ttl_seconds": 600})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "fail-open", out["mode"])
	assert.EqualValues(t, 600, out["block_ttl_seconds"])

	code, _ = env.call(t, "POST", "/settings", map[string]any{"mode": "fail-sideways"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = env.call(t, "POST", "/settings/mode", map[string]any{"mode": "fail-closed"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "fail-closed", out["mode"])
	assert.Equal(t, true, out["enforcer_notified"])
	assert.Equal(t, string(enforce.ModeFailClosed), env.settings.Get().Mode)
	assert.Equal(t, []string{"fail-closed"}, env.enforcer.modeChanges())

	code, _ = env.call(t, "POST", "/settings/mode", map[string]any{"mode": "sometimes"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLogsDashboardAndHealth(t *testing.T) {
	env := newAPIEnv(t, "")

	for i := 0; i < 3; i++ {
		code, _ := env.call(t, "POST", "/events/auth",
			loginPayload(baseMs+int64(i)*1000, "198.51.100.20", fmt.Sprintf("user%d", i), "SUCCESS"))
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := env.call(t, "POST", "/events/auth",
		loginPayload(baseMs+3000, "198.51.100.21", "mallory", "FAILURE"))
	require.Equal(t, http.StatusOK, code)

	code, out := env.call(t, "GET", "/logs", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 4, out["count"])

	code, out = env.call(t, "GET", "/logs?entity=198.51.100.21", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, out["count"])

	code, _ = env.call(t, "GET", "/logs?limit=oops", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = env.call(t, "GET", "/dashboard/summary", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 4, out["total_events"])
	breakdown, ok := out["decision_breakdown"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 4, breakdown["ALLOW"])

	code, _ = env.call(t, "GET", "/dashboard/summary?window_minutes=0", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = env.call(t, "GET", "/campaigns", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, out["count"])

	env.clk.Advance(42 * time.Second)
	code, out = env.call(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "ok", out["db"])
	assert.EqualValues(t, 39, out["last_event_age_sec"], "42s since base, newest event at base+3s")
	assert.Equal(t, "2025-01-01T00:00:42Z", out["generated_at"])
}

func TestArchiveUnconfigured(t *testing.T) {
	env := newAPIEnv(t, "")
	code, out := env.call(t, "POST", "/logs/archive", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, out["detail"], "archive storage")
}

func TestEnforcerHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")

	code, out := env.call(t, "GET", "/blocks/enforcer/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])

	env.enforcer.setHealthy(false)
	code, out = env.call(t, "GET", "/blocks/enforcer/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, out["detail"], "enforcement unavailable")
}
