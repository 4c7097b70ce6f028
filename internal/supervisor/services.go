// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/coachware/warmup/internal/api"
	"github.com/coachware/warmup/internal/warming"
)

// DispatcherService runs the warming orchestrator's dispatch loop as a
// supervised service.
type DispatcherService struct {
	orch *warming.Orchestrator
}

// NewDispatcherService wraps the orchestrator.
func NewDispatcherService(orch *warming.Orchestrator) *DispatcherService {
	return &DispatcherService{orch: orch}
}

// Serve implements suture.Service.
func (s *DispatcherService) Serve(ctx context.Context) error {
	if err := s.orch.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}
	<-ctx.Done()
	if err := s.orch.Stop(); err != nil {
		return fmt.Errorf("stopping orchestrator: %w", err)
	}
	return nil
}

func (s *DispatcherService) String() string { return "warming-dispatcher" }

// MaintenanceService runs the periodic maintenance scheduler.
type MaintenanceService struct {
	sched *warming.MaintenanceScheduler
}

// NewMaintenanceService wraps the scheduler.
func NewMaintenanceService(sched *warming.MaintenanceScheduler) *MaintenanceService {
	return &MaintenanceService{sched: sched}
}

// Serve implements suture.Service.
func (s *MaintenanceService) Serve(ctx context.Context) error {
	if err := s.sched.Start(ctx); err != nil {
		return fmt.Errorf("starting maintenance scheduler: %w", err)
	}
	<-ctx.Done()
	if err := s.sched.Stop(); err != nil {
		return fmt.Errorf("stopping maintenance scheduler: %w", err)
	}
	return nil
}

func (s *MaintenanceService) String() string { return "maintenance-scheduler" }

// HTTPService runs the ops API server and drains it on shutdown.
type HTTPService struct {
	server       *api.Server
	drainTimeout time.Duration
}

// NewHTTPService wraps the API server. drainTimeout bounds graceful
// shutdown; zero means 10 seconds.
func NewHTTPService(server *api.Server, drainTimeout time.Duration) *HTTPService {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, drainTimeout: drainTimeout}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
		drainCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
		defer cancel()
		if err := s.server.Shutdown(drainCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}

func (s *HTTPService) String() string { return "ops-api" }

// StoreService holds a warm store open for the life of the tree and closes
// it on shutdown, after the warming layer has stopped issuing writes.
type StoreService struct {
	name   string
	closer interface{ Close() error }
}

// NewStoreService wraps a store whose Close must run at shutdown.
func NewStoreService(name string, closer interface{ Close() error }) *StoreService {
	return &StoreService{name: name, closer: closer}
}

// Serve implements suture.Service.
func (s *StoreService) Serve(ctx context.Context) error {
	<-ctx.Done()
	if err := s.closer.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", s.name, err)
	}
	return nil
}

func (s *StoreService) String() string { return s.name }
