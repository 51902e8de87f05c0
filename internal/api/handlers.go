// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/auditrelay/auditrelay/internal/audit"
	"github.com/auditrelay/auditrelay/internal/enrich"
	"github.com/auditrelay/auditrelay/internal/logging"
)

// createEventRequest is the POST /api/v1/audit/events body.
type createEventRequest struct {
	Action       string         `json:"action" validate:"required,max=128"`
	ResourceType string         `json:"resource_type" validate:"required,max=128"`
	ActorID      string         `json:"actor_id" validate:"max=128"`
	ActorEmail   string         `json:"actor_email" validate:"omitempty,email"`
	ResourceID   string         `json:"resource_id" validate:"max=256"`
	OldValues    map[string]any `json:"old_values"`
	NewValues    map[string]any `json:"new_values"`
	Metadata     map[string]any `json:"metadata"`
	Severity     string         `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Status       string         `json:"status" validate:"omitempty,oneof=success failure pending"`
}

// CreateEvent handles POST /api/v1/audit/events. The record is queued for
// shipment and the request returns immediately; delivery is asynchronous.
func (s *Server) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body", err)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	info := enrich.FromRequest(r)
	s.svc.LogAction(r.Context(), audit.Action(req.Action), audit.ResourceType(req.ResourceType), audit.Data{
		ActorID:    req.ActorID,
		ActorEmail: req.ActorEmail,
		ResourceID: req.ResourceID,
		OldValues:  req.OldValues,
		NewValues:  req.NewValues,
		Metadata:   req.Metadata,
		ClientIP:   info.IP,
		UserAgent:  info.UserAgent,
		Severity:   audit.Severity(req.Severity),
		Status:     audit.Status(req.Status),
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"queue":  s.svc.QueueLen(),
	})
}

// ListEvents handles GET /api/v1/audit/events with optional filters.
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		ActorID:      r.URL.Query().Get("actor_id"),
		Action:       audit.Action(r.URL.Query().Get("action")),
		ResourceType: audit.ResourceType(r.URL.Query().Get("resource_type")),
		Severity:     audit.Severity(r.URL.Query().Get("severity")),
		Limit:        getIntParam(r, "limit", audit.DefaultQueryLimit),
	}

	if v := r.URL.Query().Get("date_from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.DateFrom = &t
		}
	}
	if v := r.URL.Query().Get("date_to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.DateTo = &t
		}
	}

	records := s.svc.Filter(r.Context(), filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// ExportEvents handles GET /api/v1/audit/export?format=json|csv.
func (s *Server) ExportEvents(w http.ResponseWriter, r *http.Request) {
	format := audit.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = audit.ExportJSON
	}
	if format != audit.ExportJSON && format != audit.ExportCSV {
		respondError(w, http.StatusBadRequest, "INVALID_FORMAT", "format must be json or csv", nil)
		return
	}
	limit := getIntParam(r, "limit", audit.DefaultExportLimit)

	out := s.svc.Export(r.Context(), format, limit)

	filename := "audit-records." + string(format)
	contentType := "application/json"
	if format == audit.ExportCSV {
		contentType = "text/csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(out)); err != nil {
		logging.Warn().Err(err).Msg("Failed to write export response")
	}
}

// PruneEvents handles DELETE /api/v1/audit/events?older_than_days=N.
func (s *Server) PruneEvents(w http.ResponseWriter, r *http.Request) {
	days := getIntParam(r, "older_than_days", 0)
	if days <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_DAYS", "older_than_days must be a positive integer", nil)
		return
	}

	result := s.svc.PruneOlderThan(r.Context(), days)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

// ListFallback handles GET /api/v1/audit/fallback, exposing records
// retained locally after failed shipments.
func (s *Server) ListFallback(w http.ResponseWriter, r *http.Request) {
	records := s.svc.ReadFallback(r.Context())
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// ClearFallback handles DELETE /api/v1/audit/fallback.
func (s *Server) ClearFallback(w http.ResponseWriter, r *http.Request) {
	s.svc.ClearFallback(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"queue":  s.svc.QueueLen(),
	})
}

func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("API error")
	}
	writeJSON(w, status, map[string]any{
		"error": apiError{Code: code, Message: message},
	})
}
