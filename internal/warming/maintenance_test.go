// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/coachware/warmup/internal/logging"
)

func testMaintenanceConfig() MaintenanceConfig {
	cfg := DefaultMaintenanceConfig()
	cfg.Interval = time.Hour // ticks driven manually in tests
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	cfg.RunTimeout = time.Second
	return cfg
}

func newMaintenance(t *testing.T, backend CacheBackend, provider SubjectProvider, cfg MaintenanceConfig) (*MaintenanceScheduler, *Orchestrator) {
	t.Helper()
	o := NewOrchestrator(testOrchestratorConfig(), backend, provider, nil, logging.NewTestLogger(io.Discard))
	s := NewMaintenanceScheduler(cfg, o, provider, logging.NewTestLogger(io.Discard))
	// Midday, outside quiet hours.
	s.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }
	return s, o
}

func lastMaintenanceEvent(t *testing.T, o *Orchestrator) WarmingEvent {
	t.Helper()
	events := o.GetStats(StatsQuery{Type: EventMaintenance, Limit: 1}).Events
	if len(events) != 1 {
		t.Fatalf("maintenance events = %d, want 1", len(events))
	}
	return events[0]
}

func TestMaintenanceQuietHoursSkip(t *testing.T) {
	s, o := newMaintenance(t, &fakeBackend{}, nil, testMaintenanceConfig())
	s.now = func() time.Time { return time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC) }

	s.Tick(context.Background())

	evt := lastMaintenanceEvent(t, o)
	if evt.Maintenance.SkipReason != "quiet_hours" {
		t.Errorf("skip reason = %q, want quiet_hours", evt.Maintenance.SkipReason)
	}
}

func TestMaintenanceQuietHoursWindow(t *testing.T) {
	s, _ := newMaintenance(t, &fakeBackend{}, nil, testMaintenanceConfig())

	// Default window is 22-6.
	for _, hour := range []int{22, 23, 0, 3, 5} {
		if !s.inQuietHours(hour) {
			t.Errorf("inQuietHours(%d) = false, want true", hour)
		}
	}
	for _, hour := range []int{6, 12, 21} {
		if s.inQuietHours(hour) {
			t.Errorf("inQuietHours(%d) = true, want false", hour)
		}
	}
}

func TestMaintenanceHighLoadSkip(t *testing.T) {
	backend := &fakeBackend{stats: BackendStats{HitRate: 95}}
	s, o := newMaintenance(t, backend, nil, testMaintenanceConfig())

	// Fill the queue past 80% of its capacity of 20.
	for i := 0; i < 17; i++ {
		o.WarmSubject(fmt.Sprintf("u%d", i), PriorityNormal, nil)
	}

	s.Tick(context.Background())

	evt := lastMaintenanceEvent(t, o)
	if evt.Maintenance.SkipReason != "high_load" {
		t.Errorf("skip reason = %q, want high_load", evt.Maintenance.SkipReason)
	}
}

func TestMaintenanceHealthyRun(t *testing.T) {
	backend := &fakeBackend{stats: BackendStats{HitRate: 92}}
	provider := SubjectProviderFunc(func() (string, bool) { return "coach1", true })
	s, o := newMaintenance(t, backend, provider, testMaintenanceConfig())

	s.Tick(context.Background())

	evt := lastMaintenanceEvent(t, o)
	if !evt.Success {
		t.Errorf("event = %+v, want success", evt)
	}
	if evt.Maintenance.Triggered != "" {
		t.Errorf("triggered = %q on healthy backend, want none", evt.Maintenance.Triggered)
	}
	if st := o.QueueStatus(); st.High+st.Normal+st.Low != 0 {
		t.Error("healthy run queued a warm")
	}
}

func TestMaintenanceWarningTriggersSmartWarm(t *testing.T) {
	backend := &fakeBackend{stats: BackendStats{HitRate: 55}}
	provider := SubjectProviderFunc(func() (string, bool) { return "coach1", true })
	s, o := newMaintenance(t, backend, provider, testMaintenanceConfig())

	s.Tick(context.Background())

	evt := lastMaintenanceEvent(t, o)
	if evt.Maintenance.Triggered != StrategyTargeted {
		t.Errorf("triggered = %q, want targeted", evt.Maintenance.Triggered)
	}
	if st := o.QueueStatus(); st.High+st.Normal+st.Low != 1 {
		t.Error("warning-level health did not queue a warm")
	}
}

func TestMaintenanceCriticalTriggersProgressive(t *testing.T) {
	backend := &fakeBackend{stats: BackendStats{HitRate: 25}}
	provider := SubjectProviderFunc(func() (string, bool) { return "coach1", true })
	s, o := newMaintenance(t, backend, provider, testMaintenanceConfig())

	s.Tick(context.Background())

	evt := lastMaintenanceEvent(t, o)
	if evt.Maintenance.Triggered != StrategyProgressive {
		t.Errorf("triggered = %q, want progressive", evt.Maintenance.Triggered)
	}
	if st := o.QueueStatus(); st.High != 1 {
		t.Errorf("high depth = %d, want 1 (progressive starts at critical phase)", st.High)
	}
}

func TestMaintenanceNoCurrentSubject(t *testing.T) {
	backend := &fakeBackend{stats: BackendStats{HitRate: 25}}
	provider := SubjectProviderFunc(func() (string, bool) { return "", false })
	s, o := newMaintenance(t, backend, provider, testMaintenanceConfig())

	s.Tick(context.Background())

	evt := lastMaintenanceEvent(t, o)
	if !evt.Success {
		t.Errorf("event = %+v, want success with no subject to warm", evt)
	}
	if st := o.QueueStatus(); st.High+st.Normal+st.Low != 0 {
		t.Error("queued a warm with no current subject")
	}
}

func TestMaintenanceRetriesThenAlerts(t *testing.T) {
	backend := &fakeBackend{statsErr: errors.New("backend unreachable")}
	s, o := newMaintenance(t, backend, nil, testMaintenanceConfig())

	s.Tick(context.Background())

	evt := lastMaintenanceEvent(t, o)
	if evt.Success {
		t.Error("event success = true, want false after exhausted retries")
	}
	if !evt.Maintenance.Alert {
		t.Error("alert flag not set after exhausted retries")
	}

	if _, err := s.LastRun(); err == nil {
		t.Error("LastRun outcome = nil, want error")
	}
}

func TestMaintenancePrunesStaleItems(t *testing.T) {
	backend := &fakeBackend{stats: BackendStats{HitRate: 95}}
	cfg := testMaintenanceConfig()
	cfg.StaleAfter = time.Millisecond
	s, o := newMaintenance(t, backend, nil, cfg)

	o.WarmSubject("u1", PriorityLow, nil)
	time.Sleep(5 * time.Millisecond)

	s.Tick(context.Background())

	if st := o.QueueStatus(); st.Low != 0 {
		t.Errorf("low depth = %d after stale prune, want 0", st.Low)
	}
}

func TestMaintenanceStartStop(t *testing.T) {
	s, _ := newMaintenance(t, &fakeBackend{stats: BackendStats{HitRate: 95}}, nil, testMaintenanceConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Errorf("second Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
