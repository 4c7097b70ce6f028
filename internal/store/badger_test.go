// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package store

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/coachware/warmup/internal/logging"
	"github.com/coachware/warmup/internal/warming"
)

func testSource() *StaticSource {
	return &StaticSource{
		Subjects: map[string]map[string][]byte{
			"coach1": {
				"profile":     []byte(`{"name":"Coach One"}`),
				"todays_plan": []byte(`{"workouts":3}`),
				"history":     []byte(`[{"week":1}]`),
			},
		},
		Shared: map[string][]byte{
			"exercise_catalog": []byte(`["squat","bench"]`),
		},
	}
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(Options{
		Path: t.TempDir(),
		TTL:  time.Minute,
	}, testSource(), logging.NewTestLogger(io.Discard))
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerWarmSubjectAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	result, err := s.WarmSubject(ctx, "coach1", warming.PriorityHigh)
	if err != nil {
		t.Fatalf("WarmSubject: %v", err)
	}
	if result.Entries != 3 {
		t.Errorf("Entries = %d, want 3 at full scope", result.Entries)
	}

	got, err := s.Get(ctx, "subject:coach1:profile")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"name":"Coach One"}` {
		t.Errorf("Get = %s", got)
	}
}

func TestBadgerScopeByPriority(t *testing.T) {
	s := newTestStore(t)

	result, err := s.WarmSubject(context.Background(), "coach1", warming.PriorityLow)
	if err != nil {
		t.Fatalf("WarmSubject: %v", err)
	}
	if result.Entries != 2 {
		t.Errorf("Entries = %d at essential scope, want 2", result.Entries)
	}
	if _, err := s.Get(context.Background(), "subject:coach1:history"); !errors.Is(err, ErrNotWarmed) {
		t.Errorf("history err = %v, want ErrNotWarmed at essential scope", err)
	}
}

func TestBadgerWarmShared(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.WarmShared(ctx); err != nil {
		t.Fatalf("WarmShared: %v", err)
	}
	if _, err := s.Get(ctx, "shared:exercise_catalog"); err != nil {
		t.Errorf("Get shared: %v", err)
	}
}

func TestBadgerUnknownSubjectIsTerminal(t *testing.T) {
	s := newTestStore(t)

	_, err := s.WarmSubject(context.Background(), "ghost", warming.PriorityNormal)
	if err == nil {
		t.Fatal("expected error for unknown subject")
	}
	if warming.IsRetriable(err) {
		t.Errorf("unknown subject error %v is retriable, want terminal", err)
	}
}

func TestBadgerStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.WarmSubject(ctx, "coach1", warming.PriorityHigh)
	s.Get(ctx, "subject:coach1:profile")
	s.Get(ctx, "subject:coach1:missing")

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Keys != 3 {
		t.Errorf("Keys = %d, want 3", stats.Keys)
	}
	if stats.HitRate != 50 {
		t.Errorf("HitRate = %v, want 50", stats.HitRate)
	}
}

func TestBadgerInMemory(t *testing.T) {
	s, err := NewBadgerStore(Options{InMemory: true, TTL: time.Minute}, testSource(), logging.NewTestLogger(io.Discard))
	if err != nil {
		t.Fatalf("NewBadgerStore in-memory: %v", err)
	}
	defer s.Close()

	if _, err := s.WarmShared(context.Background()); err != nil {
		t.Fatalf("WarmShared: %v", err)
	}
	if _, err := s.Get(context.Background(), "shared:exercise_catalog"); err != nil {
		t.Errorf("Get: %v", err)
	}
}

func TestBadgerSourceFailure(t *testing.T) {
	src := testSource()
	src.Err = errors.New("platform api down")
	s, err := NewBadgerStore(Options{InMemory: true, TTL: time.Minute}, src, logging.NewTestLogger(io.Discard))
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	defer s.Close()

	_, err = s.WarmSubject(context.Background(), "coach1", warming.PriorityNormal)
	var berr *warming.BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("err = %v, want BackendError", err)
	}
	if !warming.IsRetriable(err) {
		t.Error("source outage should be retriable")
	}

	stats, _ := s.Stats(context.Background())
	if stats.Errors == 0 {
		t.Error("Errors = 0 after source failure, want > 0")
	}
}
