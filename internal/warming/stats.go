// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"sync"
	"time"
)

// EventType tags a WarmingEvent with the operation that produced it.
type EventType string

const (
	EventAppInit         EventType = "app_init"
	EventSubjectWarm     EventType = "subject_warm"
	EventSmartWarm       EventType = "smart_warm"
	EventProgressiveWarm EventType = "progressive_warm"
	EventMaintenance     EventType = "maintenance"
)

// SubjectDetail carries the fields specific to subject warm events.
type SubjectDetail struct {
	SubjectID string   `json:"subject_id"`
	Priority  Priority `json:"priority"`
	Attempts  int      `json:"attempts"`
	Entries   int      `json:"entries,omitempty"`
}

// SmartDetail carries the analyzer verdict behind a smart warm.
type SmartDetail struct {
	SubjectID string   `json:"subject_id"`
	Score     float64  `json:"score"`
	Strategy  Strategy `json:"strategy"`
}

// ProgressiveDetail summarizes phase execution for a progressive warm.
type ProgressiveDetail struct {
	SubjectID    string `json:"subject_id"`
	PhasesRun    int    `json:"phases_run"`
	PhasesFailed int    `json:"phases_failed"`
	Aborted      bool   `json:"aborted,omitempty"`
}

// MaintenanceDetail summarizes one maintenance tick.
type MaintenanceDetail struct {
	HitRate    float64  `json:"hit_rate"`
	Triggered  Strategy `json:"triggered,omitempty"`
	SkipReason string   `json:"skip_reason,omitempty"`
	Alert      bool     `json:"alert,omitempty"`
}

// WarmingEvent is one recorded outcome. Exactly one detail pointer matching
// Type is set; the rest are nil.
type WarmingEvent struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMS int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"error_kind,omitempty"`

	Subject     *SubjectDetail     `json:"subject,omitempty"`
	Smart       *SmartDetail       `json:"smart,omitempty"`
	Progressive *ProgressiveDetail `json:"progressive,omitempty"`
	Maintenance *MaintenanceDetail `json:"maintenance,omitempty"`
}

// StatsQuery filters GetStats results. Zero values mean no filter.
type StatsQuery struct {
	Type  EventType
	Since time.Time
	Limit int
}

// StatsSummary aggregates the retained history.
type StatsSummary struct {
	Total         int            `json:"total"`
	Successes     int            `json:"successes"`
	Failures      int            `json:"failures"`
	ByType        map[string]int `json:"by_type"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// StatsTracker keeps a bounded ring of warming events. When full, the oldest
// event is overwritten; the history never grows past its capacity.
type StatsTracker struct {
	mu    sync.Mutex
	ring  []WarmingEvent
	next  int
	count int
}

// NewStatsTracker creates a tracker retaining up to maxHistory events.
func NewStatsTracker(maxHistory int) *StatsTracker {
	if maxHistory <= 0 {
		maxHistory = 500
	}
	return &StatsTracker{ring: make([]WarmingEvent, maxHistory)}
}

// Record appends an event, evicting the oldest when at capacity. Events with
// a zero timestamp are stamped on entry.
func (s *StatsTracker) Record(evt WarmingEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring[s.next] = evt
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
}

// GetStats returns retained events newest first, filtered by the query.
func (s *StatsTracker) GetStats(q StatsQuery) []WarmingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := q.Limit
	if limit <= 0 || limit > s.count {
		limit = s.count
	}

	out := make([]WarmingEvent, 0, limit)
	for i := 1; i <= s.count && len(out) < limit; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		evt := s.ring[idx]
		if q.Type != "" && evt.Type != q.Type {
			continue
		}
		if !q.Since.IsZero() && evt.Timestamp.Before(q.Since) {
			// Ring is time-ordered; everything older also fails the filter.
			break
		}
		out = append(out, evt)
	}
	return out
}

// Summary aggregates everything currently retained.
func (s *StatsTracker) Summary() StatsSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := StatsSummary{ByType: make(map[string]int)}
	var totalMS int64
	for i := 1; i <= s.count; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		evt := s.ring[idx]
		sum.Total++
		if evt.Success {
			sum.Successes++
		} else {
			sum.Failures++
		}
		sum.ByType[string(evt.Type)]++
		totalMS += evt.DurationMS
	}
	if sum.Total > 0 {
		sum.AvgDurationMS = float64(totalMS) / float64(sum.Total)
	}
	return sum
}

// Len returns the number of retained events.
func (s *StatsTracker) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Clear drops all retained events.
func (s *StatsTracker) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
	s.count = 0
}
