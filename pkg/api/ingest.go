package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/HrishiK1107/AuthGuard/pkg/event"
)

// maxEventBytes caps ingest payloads.
const maxEventBytes = 1 << 20

// handleIngest runs one auth event through the pipeline.
//
// 200 {status: "processed", result} on a decision,
// 200 {status: "duplicate", replay_id} when the replay fence short-circuits,
// 400 problem detail when validation rejects the payload.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "unreadable request body")
		return
	}
	if len(raw) > maxEventBytes {
		WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Payload Too Large",
			"event payload exceeds 1 MiB")
		return
	}

	res, err := s.processor.Process(r.Context(), raw)
	if err != nil {
		var verr *event.ValidationError
		if errors.As(err, &verr) {
			WriteErrorR(w, r, http.StatusBadRequest, "Validation Failed", verr.Error())
			return
		}
		WriteInternal(w, err)
		return
	}

	if res.Duplicate {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "duplicate",
			"replay_id": res.ReplayKey,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "processed",
		"result": res,
	})
}
