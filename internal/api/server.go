// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

// Package api exposes the operational HTTP surface: warm triggers, queue
// status, stats, recovery, health and Prometheus metrics. It is an internal
// ops API, not a user-facing one.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/coachware/warmup/internal/warming"
)

// Config holds the HTTP server settings.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// Maintenance is the scheduler surface the API needs.
type Maintenance interface {
	Tick(ctx context.Context)
	LastRun() (time.Time, error)
}

// Server wires the handlers into a chi router and manages the listener
// lifecycle.
type Server struct {
	cfg    Config
	orch   *warming.Orchestrator
	maint  Maintenance
	logger zerolog.Logger
	http   *http.Server
}

// NewServer builds the server. maint may be nil when maintenance is
// disabled.
func NewServer(cfg Config, orch *warming.Orchestrator, maint Maintenance, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		orch:   orch,
		maint:  maint,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed separately for httptest.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if s.cfg.Timeout > 0 {
		r.Use(chimiddleware.Timeout(s.cfg.Timeout))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/warming", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStats)
		r.Post("/app", s.handleWarmApp)
		r.Post("/warm", s.handleWarmSubject)
		r.Post("/smart", s.handleSmartWarm)
		r.Post("/progressive", s.handleProgressiveWarm)
		r.Post("/recover", s.handleRecover)
		r.Delete("/queue/{subjectID}", s.handleRemoveSubject)
		r.Post("/maintenance/run", s.handleMaintenanceRun)
	})

	return r
}

// Start begins serving. It blocks until the listener stops.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("Ops API listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
