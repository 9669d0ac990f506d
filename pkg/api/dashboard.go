package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/HrishiK1107/AuthGuard/pkg/clock"
	"github.com/HrishiK1107/AuthGuard/pkg/store"
)

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleLogsList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "offset must be an integer")
		return
	}

	filter := store.LogFilter{
		Decision: r.URL.Query().Get("decision"),
		Entity:   r.URL.Query().Get("entity"),
		Limit:    limit,
		Offset:   offset,
	}
	results, err := s.log.List(r.Context(), filter)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(results), "results": results})
}

// handleDashboardSummary aggregates the recent event log into the
// dashboard shape. The window defaults to the last hour and is split
// into twelve timeline buckets of at least a minute each.
func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	windowMin, err := queryInt(r, "window_minutes", 60)
	if err != nil || windowMin <= 0 {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request",
			"window_minutes must be a positive integer")
		return
	}

	windowMs := int64(windowMin) * time.Minute.Milliseconds()
	bucketMs := windowMs / 12
	if bucketMs < time.Minute.Milliseconds() {
		bucketMs = time.Minute.Milliseconds()
	}

	sum, err := s.log.Summary(r.Context(), clock.NowMillis(s.clk)-windowMs, bucketMs)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleCampaignsList(w http.ResponseWriter, r *http.Request) {
	campaigns := s.campaigns.List()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(campaigns), "campaigns": campaigns})
}

// handleHealth reports liveness plus data-plane freshness. A failing
// database ping marks the status degraded; the endpoint itself stays 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	db := "ok"
	if err := s.log.Ping(r.Context()); err != nil {
		status = "degraded"
		db = "unavailable"
	}

	var lastAge any
	if tsMs, ok, err := s.log.LastEventTs(r.Context()); err == nil && ok {
		lastAge = (clock.NowMillis(s.clk) - tsMs) / 1000
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             status,
		"db":                 db,
		"last_event_age_sec": lastAge,
		"generated_at":       s.clk.Now().UTC().Format(time.RFC3339),
	})
}
