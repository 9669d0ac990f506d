package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HrishiK1107/AuthGuard/pkg/clock"
	"github.com/HrishiK1107/AuthGuard/pkg/enforce"
	"github.com/HrishiK1107/AuthGuard/pkg/policy"
	"github.com/HrishiK1107/AuthGuard/pkg/rules"
	"github.com/HrishiK1107/AuthGuard/pkg/store"
)

// archiveDefaultAge is the cutoff used when POST /logs/archive names none:
// rows older than thirty days are shipped to cold storage.
const archiveDefaultAge = 30 * 24 * time.Hour

// decodeBody reads a small JSON body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) handleRulesList(w http.ResponseWriter, r *http.Request) {
	all := s.rules.GetAll(clock.NowMillis(s.clk))
	writeJSON(w, http.StatusOK, map[string]any{"count": len(all), "rules": all})
}

// writeRuleError maps rule-table errors onto problem details.
func writeRuleError(w http.ResponseWriter, r *http.Request, id string, err error) {
	if errors.Is(err, rules.ErrUnknownRule) {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", "unknown rule "+id)
		return
	}
	WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
}

func (s *Server) handleRuleEnable(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("rule_id")
	if err := s.rules.Enable(id); err != nil {
		writeRuleError(w, r, id, err)
		return
	}
	s.logger.Info("rule enabled", "rule", id)
	writeJSON(w, http.StatusOK, map[string]any{"rule_id": id, "enabled": true})
}

func (s *Server) handleRuleDisable(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("rule_id")
	if err := s.rules.Disable(id); err != nil {
		writeRuleError(w, r, id, err)
		return
	}
	s.logger.Info("rule disabled", "rule", id)
	writeJSON(w, http.StatusOK, map[string]any{"rule_id": id, "enabled": false})
}

func (s *Server) handleRuleThreshold(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("rule_id")
	var body struct {
		Threshold float64 `json:"threshold"`
	}
	if err := decodeBody(r, &body); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := s.rules.UpdateThreshold(id, body.Threshold); err != nil {
		writeRuleError(w, r, id, err)
		return
	}
	s.logger.Info("rule threshold updated", "rule", id, "threshold", body.Threshold)
	writeJSON(w, http.StatusOK, map[string]any{"rule_id": id, "threshold": body.Threshold})
}

func (s *Server) handleRuleGuard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("rule_id")
	var body struct {
		Guard string `json:"guard"`
	}
	if err := decodeBody(r, &body); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := s.rules.SetGuard(id, body.Guard); err != nil {
		writeRuleError(w, r, id, err)
		return
	}
	s.logger.Info("rule guard updated", "rule", id, "guard", body.Guard)
	writeJSON(w, http.StatusOK, map[string]any{"rule_id": id, "guard": body.Guard})
}

func (s *Server) handleBlocksActive(w http.ResponseWriter, r *http.Request) {
	active := s.blocks.Active()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(active), "blocks": active})
}

func (s *Server) handleBlocksHistory(w http.ResponseWriter, r *http.Request) {
	history := s.blocks.History()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(history), "blocks": history})
}

// entityBody is the shared block/unblock request shape.
type entityBody struct {
	Entity     string `json:"entity"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

func (s *Server) readEntity(w http.ResponseWriter, r *http.Request) (entityBody, bool) {
	var body entityBody
	if err := decodeBody(r, &body); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return body, false
	}
	body.Entity = strings.TrimSpace(body.Entity)
	if body.Entity == "" {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "entity is required")
		return body, false
	}
	return body, true
}

// enforceCtx caps the outbound enforcer call with the settings budget.
func (s *Server) enforceCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.settings.Get().EnforcementTimeoutSeconds) * time.Second
	return context.WithTimeout(ctx, timeout)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readEntity(w, r)
	if !ok {
		return
	}
	ttl := body.TTLSeconds
	if ttl <= 0 {
		ttl = s.settings.Get().BlockTTLSeconds
	}

	rec, created, err := s.blocks.Upsert(body.Entity, 0, store.SourceManual, ttl, clock.NowMillis(s.clk))
	if err != nil {
		WriteInternal(w, err)
		return
	}

	ctx, cancel := s.enforceCtx(r.Context())
	enf := s.bridge.Enforce(ctx, body.Entity, policy.DecisionBlock, ttl)
	cancel()

	s.logger.Info("manual block",
		"entity", body.Entity, "ttl_seconds", ttl,
		"created", created, "enforcer_available", enf.Available)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "blocked",
		"entity":      body.Entity,
		"created":     created,
		"record":      rec,
		"enforcement": enf,
	})
}

// handleUnblock deactivates the local record and propagates an ALLOW.
// Unblocking an entity that is not blocked is a no-op, not an error.
func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readEntity(w, r)
	if !ok {
		return
	}

	changed, err := s.blocks.Deactivate(body.Entity)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	ctx, cancel := s.enforceCtx(r.Context())
	enf := s.bridge.Enforce(ctx, body.Entity, policy.DecisionAllow, 0)
	cancel()

	s.logger.Info("manual unblock",
		"entity", body.Entity, "was_active", changed,
		"enforcer_available", enf.Available)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "unblocked",
		"entity":      body.Entity,
		"was_active":  changed,
		"enforcement": enf,
	})
}

func (s *Server) handleEnforcerHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.enforceCtx(r.Context())
	defer cancel()
	if err := s.bridge.Health(ctx); err != nil {
		WriteServiceUnavailable(w, "enforcement unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Get())
}

// handleSettingsUpdate applies a partial update; absent fields keep their
// current values.
func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode                      *string `json:"mode"`
		EnforcementTimeoutSeconds *int    `json:"enforcement_timeout_seconds"`
		BlockTTLSeconds           *int    `json:"block_ttl_seconds"`
	}
	if err := decodeBody(r, &body); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}

	next := s.settings.Get()
	if body.Mode != nil {
		next.Mode = *body.Mode
	}
	if body.EnforcementTimeoutSeconds != nil {
		next.EnforcementTimeoutSeconds = *body.EnforcementTimeoutSeconds
	}
	if body.BlockTTLSeconds != nil {
		next.BlockTTLSeconds = *body.BlockTTLSeconds
	}

	if err := s.settings.Set(next); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	s.logger.Info("settings updated",
		"mode", next.Mode,
		"enforcement_timeout_seconds", next.EnforcementTimeoutSeconds,
		"block_ttl_seconds", next.BlockTTLSeconds)
	writeJSON(w, http.StatusOK, next)
}

// handleSettingsMode persists the mode and forwards it to the enforcer.
// The forward is best-effort: the settings store is the source of truth
// the pipeline reads, the enforcer copy is a courtesy sync.
func (s *Server) handleSettingsMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}

	mode := enforce.Mode(body.Mode)
	if !mode.Valid() {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request",
			"mode must be fail-open or fail-closed")
		return
	}
	if err := s.settings.SetMode(mode); err != nil {
		WriteInternal(w, err)
		return
	}

	ctx, cancel := s.enforceCtx(r.Context())
	ferr := s.bridge.SetMode(ctx, mode)
	cancel()
	if ferr != nil {
		s.logger.Warn("enforcer mode sync failed", "mode", mode, "error", ferr)
	}

	s.logger.Info("mode changed", "mode", mode, "enforcer_notified", ferr == nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":              string(mode),
		"enforcer_notified": ferr == nil,
	})
}

// handleArchive ships old event-log rows to the configured archive store.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		WriteServiceUnavailable(w, "archive storage is not configured")
		return
	}

	var body struct {
		BeforeMs int64 `json:"before_ms"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON body")
			return
		}
	}
	if body.BeforeMs <= 0 {
		body.BeforeMs = clock.NowMillis(s.clk) - archiveDefaultAge.Milliseconds()
	}

	archived, segment, err := s.exporter.Export(r.Context(), body.BeforeMs)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archived":     archived,
		"segment_hash": segment,
	})
}
