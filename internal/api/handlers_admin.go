// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleEmergencyUnlock(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.EmergencyUnlock(r.Context(), r.URL.Query().Get("reason"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"unlocked_count":   result.UnlockedCount,
		"unlocked_devices": result.UnlockedDevices,
		"reason":           result.Reason,
	})
}

func (s *Server) handleBreakerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Breaker().Snapshot())
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, _ *http.Request) {
	s.engine.Breaker().Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rolloutStartRequest struct {
	Version string `json:"version"`
}

func (s *Server) handleRolloutStart(w http.ResponseWriter, r *http.Request) {
	var req rolloutStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSchemaViolation(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Version == "" {
		writeSchemaViolation(w, "version must not be empty")
		return
	}
	writeJSON(w, http.StatusOK, s.rollout.StartRollout(req.Version))
}

type rolloutEvaluateRequest struct {
	ErrorRate         float64 `json:"error_rate"`
	HeartbeatLossRate float64 `json:"heartbeat_loss_rate"`
}

func (s *Server) handleRolloutEvaluate(w http.ResponseWriter, r *http.Request) {
	var req rolloutEvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSchemaViolation(w, "invalid JSON body: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.rollout.EvaluateAndAdvance(req.ErrorRate, req.HeartbeatLossRate))
}

func (s *Server) handleRolloutStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rollout.CurrentStatus())
}
