// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finfleet/policyd/internal/device"
	"github.com/finfleet/policyd/internal/engine"
	"github.com/finfleet/policyd/internal/store"
)

type eventRequest struct {
	SerialNumber  string         `json:"serial_number"`
	EventType     string         `json:"event_type"`
	TransactionID string         `json:"transaction_id"`
	Actor         string         `json:"actor"`
	Metadata      map[string]any `json:"metadata"`
}

type eventResponse struct {
	Status       string `json:"status"`
	SerialNumber string `json:"serial_number"`
	FromState    string `json:"from_state"`
	ToState      string `json:"to_state"`
	Event        string `json:"event"`
}

type policyResponse struct {
	SerialNumber      string              `json:"serial_number"`
	DeviceState       string              `json:"device_state"`
	Restrictions      device.Restrictions `json:"restrictions"`
	LockScreenMessage string              `json:"lock_screen_message"`
	ProtectedPackages []string            `json:"protected_packages"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSchemaViolation(w, "invalid JSON body: "+err.Error())
		return
	}
	if !device.ValidSerial(req.SerialNumber) {
		writeSchemaViolation(w, "serial_number must be 1-64 printable ASCII characters")
		return
	}
	eventType := device.EventType(req.EventType)
	if !eventType.Valid() {
		writeSchemaViolation(w, fmt.Sprintf("unknown event_type %q", req.EventType))
		return
	}

	res, err := s.engine.ApplyEvent(r.Context(), engine.EventPayload{
		Serial:        req.SerialNumber,
		EventType:     eventType,
		TransactionID: req.TransactionID,
		Actor:         req.Actor,
		Metadata:      req.Metadata,
		ClientIP:      clientIP(r),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if res.Duplicate {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "duplicate",
			"message": fmt.Sprintf("Transaction %s already processed", res.TransactionID),
		})
		return
	}

	writeJSON(w, http.StatusOK, eventResponse{
		Status:       "ok",
		SerialNumber: res.Serial,
		FromState:    string(res.FromState),
		ToState:      string(res.ToState),
		Event:        string(res.Event),
	})
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	state, tpl, err := s.engine.Policy(r.Context(), serial)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policyResponse{
		SerialNumber:      serial,
		DeviceState:       string(state),
		Restrictions:      tpl.Restrictions,
		LockScreenMessage: tpl.LockScreenMessage,
		ProtectedPackages: tpl.ProtectedPackages,
	})
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	pending, err := s.engine.PendingCommands(r.Context(), serial)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if pending == nil {
		pending = []store.CommandEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"serial_number": serial,
		"commands":      pending,
	})
}

func (s *Server) handleAckCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.engine.AckCommand(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "command_id": id})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	records, err := s.engine.Audit(r.Context(), serial)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if records == nil {
		records = []store.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"serial_number": serial,
		"records":       records,
	})
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	removedAudit, removedCommands, err := s.engine.DeleteDevice(r.Context(), serial)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"serial_number":         serial,
		"removed_audit_records": removedAudit,
		"removed_commands":      removedCommands,
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.engine.ListDevices(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if devices == nil {
		devices = []store.DeviceStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"total":   len(devices),
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
