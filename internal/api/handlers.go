// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/coachware/warmup/internal/warming"
)

type warmRequest struct {
	SubjectID string            `json:"subject_id"`
	Priority  string            `json:"priority"`
	Context   map[string]string `json:"context"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Queue       warming.QueueStatus             `json:"queue"`
	Degradation map[string]warming.AspectHealth `json:"degradation"`
	Maintenance *maintenanceStatus              `json:"maintenance,omitempty"`
}

type maintenanceStatus struct {
	LastRun     time.Time `json:"last_run"`
	LastOutcome string    `json:"last_outcome,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports not-ready while cache warming is critically degraded.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.orch.Degradation().Level(warming.AspectCacheWarming) == warming.LevelCritical {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Queue:       s.orch.QueueStatus(),
		Degradation: s.orch.Degradation().Snapshot(),
	}
	if s.maint != nil {
		last, outcome := s.maint.LastRun()
		ms := &maintenanceStatus{LastRun: last}
		if outcome != nil {
			ms.LastOutcome = outcome.Error()
		}
		resp.Maintenance = ms
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := warming.StatsQuery{
		Type: warming.EventType(r.URL.Query().Get("type")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		q.Since = ts
	}
	s.writeJSON(w, http.StatusOK, s.orch.GetStats(q))
}

func (s *Server) handleWarmApp(w http.ResponseWriter, _ *http.Request) {
	ack, err := s.orch.WarmApp()
	if err != nil {
		s.writeWarmError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, ack)
}

func (s *Server) handleWarmSubject(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeWarmRequest(w, r)
	if !ok {
		return
	}
	priority, err := warming.ParsePriority(req.Priority)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := s.orch.WarmSubject(req.SubjectID, priority, req.Context)
	if err != nil {
		s.writeWarmError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, ack)
}

func (s *Server) handleSmartWarm(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeWarmRequest(w, r)
	if !ok {
		return
	}
	ack, err := s.orch.SmartWarm(req.SubjectID, req.Context)
	if err != nil {
		s.writeWarmError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, ack)
}

func (s *Server) handleProgressiveWarm(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeWarmRequest(w, r)
	if !ok {
		return
	}
	ack, err := s.orch.ProgressiveWarm(req.SubjectID, nil)
	if err != nil {
		s.writeWarmError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, ack)
}

func (s *Server) handleRecover(w http.ResponseWriter, _ *http.Request) {
	s.orch.ForceRecovery()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "recovered"})
}

func (s *Server) handleRemoveSubject(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	if !s.orch.RemoveSubject(subjectID) {
		s.writeError(w, http.StatusNotFound, "subject not queued")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleMaintenanceRun(w http.ResponseWriter, r *http.Request) {
	if s.maint == nil {
		s.writeError(w, http.StatusNotFound, "maintenance disabled")
		return
	}
	s.maint.Tick(r.Context())
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) decodeWarmRequest(w http.ResponseWriter, r *http.Request) (*warmRequest, bool) {
	var req warmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if req.SubjectID == "" {
		s.writeError(w, http.StatusBadRequest, "subject_id is required")
		return nil, false
	}
	return &req, true
}

// writeWarmError maps engine errors to HTTP status codes.
func (s *Server) writeWarmError(w http.ResponseWriter, err error) {
	var verr *warming.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, warming.ErrDuplicateSubject):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, warming.ErrQueueFull):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, warming.ErrDegraded):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Warm request failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
