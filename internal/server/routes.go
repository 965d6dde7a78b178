package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/yaya84/arkab/internal/model"
)

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	var ev model.Evidence
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	dec, err := s.engine.Process(r.Context(), ev)
	if err != nil {
		if !model.IsValidation(err) {
			s.logger.Warn("evidence rejected", zap.String("entity_id", ev.EntityID), zap.Error(err))
		}
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dec)
}

func (s *Server) handleEvidenceBatch(w http.ResponseWriter, r *http.Request) {
	var evs []model.Evidence
	if err := json.NewDecoder(r.Body).Decode(&evs); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	results := s.engine.ProcessBatch(r.Context(), evs)

	// Failures stay per-item; the batch itself always answers 200 with one
	// slot per input, in input order.
	type itemJSON struct {
		Decision  *model.Decision `json:"decision,omitempty"`
		Error     string          `json:"error,omitempty"`
		Retryable bool            `json:"retryable,omitempty"`
	}

	out := make([]itemJSON, len(results))
	for i, res := range results {
		if res.Err != nil {
			out[i] = itemJSON{Error: res.Err.Error(), Retryable: isRetryable(res.Err)}
			continue
		}
		out[i] = itemJSON{Decision: res.Decision}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":   len(out),
		"results": out,
	})
}

func isRetryable(err error) bool {
	return errors.Is(err, model.ErrEntityLockTimeout) || errors.Is(err, model.ErrConfigUnavailable)
}
