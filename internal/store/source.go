// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

// Package store implements the warm store: the cache the warming engine
// populates, backed by BadgerDB on disk or a TTL map in memory, fed from a
// pluggable data source.
package store

import (
	"context"

	"github.com/coachware/warmup/internal/warming"
)

// Scope controls how much of a subject's data a warm fetches.
type Scope string

const (
	// ScopeEssential is the minimum useful set: profile and today's plan.
	ScopeEssential Scope = "essential"

	// ScopeStandard adds recent history and progress summaries.
	ScopeStandard Scope = "standard"

	// ScopeFull adds analytics and extended history.
	ScopeFull Scope = "full"
)

// ScopeForPriority maps warm priority to fetch scope. Low-priority and
// degraded warms fetch essentials only.
func ScopeForPriority(p warming.Priority) Scope {
	switch p {
	case warming.PriorityHigh:
		return ScopeFull
	case warming.PriorityLow:
		return ScopeEssential
	default:
		return ScopeStandard
	}
}

// DataSource produces the payloads the warm store caches. Implementations
// talk to the fitness platform's internal services.
type DataSource interface {
	// SubjectPayloads returns cacheable payloads for one subject, keyed by
	// entry name (e.g. "profile", "todays_plan", "history").
	SubjectPayloads(ctx context.Context, subjectID string, scope Scope) (map[string][]byte, error)

	// SharedPayloads returns process-wide payloads (exercise catalog,
	// program templates).
	SharedPayloads(ctx context.Context) (map[string][]byte, error)
}

// StaticSource is a fixture DataSource serving fixed payloads. Used in
// tests and development mode.
type StaticSource struct {
	Subjects map[string]map[string][]byte
	Shared   map[string][]byte
	Err      error
}

// SubjectPayloads returns the configured payloads for the subject, filtered
// down to the essential entries at essential scope.
func (s *StaticSource) SubjectPayloads(_ context.Context, subjectID string, scope Scope) (map[string][]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	all, ok := s.Subjects[subjectID]
	if !ok {
		return nil, &warming.ValidationError{Field: "subject_id", Reason: "unknown subject"}
	}
	if scope != ScopeEssential {
		return all, nil
	}
	essentials := make(map[string][]byte)
	for _, key := range []string{"profile", "todays_plan"} {
		if v, ok := all[key]; ok {
			essentials[key] = v
		}
	}
	return essentials, nil
}

func (s *StaticSource) SharedPayloads(context.Context) (map[string][]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Shared, nil
}
