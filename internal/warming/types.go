// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"fmt"
	"strings"
	"time"
)

// Priority orders warming requests. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
)

// String returns the lowercase name used in logs, metrics and the API.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the priority name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON accepts a priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePriority(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority converts a priority name to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("invalid priority %q", s)
	}
}

// Strategy names how aggressively a warm proceeds.
type Strategy string

const (
	StrategyBasic       Strategy = "basic"
	StrategyTargeted    Strategy = "targeted"
	StrategyProgressive Strategy = "progressive"
)

// OpKind tags a queue item with the operation that produced it.
type OpKind string

const (
	OpAppInit     OpKind = "app_init"
	OpSubject     OpKind = "subject"
	OpSmart       OpKind = "smart"
	OpProgressive OpKind = "progressive"
	OpMaintenance OpKind = "maintenance"
)

// QueueItem is a pending warming request. A given subject appears in at most
// one priority bucket, the retry-wait set, or the active set at any time.
type QueueItem struct {
	ID         string
	SubjectID  string
	Priority   Priority
	Kind       OpKind
	Context    map[string]string
	Plan       *ProgressivePlan // non-nil only for progressive warms
	EnqueuedAt time.Time
	RetryCount int
	MaxRetries int
}

// ProgressivePlan describes the phases of a progressive warm. Phases execute
// sequentially within a single execution unit; a critical phase failure
// aborts the remaining phases unless ContinueOnCriticalFailure is set.
type ProgressivePlan struct {
	Phases                    []Phase
	ContinueOnCriticalFailure bool
}

// Phase is one step of a progressive warm.
type Phase struct {
	Name     string
	Delay    time.Duration
	Priority Priority
	Critical bool
}

// DefaultProgressivePlan returns the standard 3-phase plan: critical data
// first, then analytics, then extended history, with increasing delay and
// decreasing priority.
func DefaultProgressivePlan() *ProgressivePlan {
	return &ProgressivePlan{
		Phases: []Phase{
			{Name: "critical", Delay: 0, Priority: PriorityHigh, Critical: true},
			{Name: "analytics", Delay: 2 * time.Second, Priority: PriorityNormal},
			{Name: "extended", Delay: 5 * time.Second, Priority: PriorityLow},
		},
	}
}

// ServiceAspect identifies an independently degradable part of the engine.
type ServiceAspect string

const (
	AspectCacheWarming    ServiceAspect = "cache_warming"
	AspectQueueProcessing ServiceAspect = "queue_processing"
	AspectSmartAnalysis   ServiceAspect = "smart_analysis"
)

// Aspects lists all service aspects.
var Aspects = []ServiceAspect{AspectCacheWarming, AspectQueueProcessing, AspectSmartAnalysis}

// DegradationLevel is a per-aspect health tier.
type DegradationLevel int

const (
	LevelNone DegradationLevel = iota
	LevelPartial
	LevelSevere
	LevelCritical
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelPartial:
		return "partial"
	case LevelSevere:
		return "severe"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// FallbackMode names the behavior modification applied while degraded.
type FallbackMode string

const (
	FallbackNone          FallbackMode = "none"
	FallbackReducedScope  FallbackMode = "reduced_scope"
	FallbackEssentialOnly FallbackMode = "essential_only"
	FallbackMinimal       FallbackMode = "minimal"
)

// ContextSnapshot bundles the signals the analyzer scores. It is an immutable
// value: build one per call, never share a mutable instance across calls.
type ContextSnapshot struct {
	// Hour of day, 0-23.
	Hour int

	// Day of week.
	Day time.Weekday

	// CurrentPage and PreviousPage are UI page identifiers.
	CurrentPage  string
	PreviousPage string

	// PreferredPriority is the caller-supplied override signal. Zero means
	// no preference (treated as normal).
	PreferredPriority Priority

	// Patterns carries aggregated behavior-pattern weights keyed by pattern
	// name. Optional; a versioned snapshot owned by the caller.
	Patterns map[string]float64
}

// BackendStats is the health summary a CacheBackend reports.
type BackendStats struct {
	// HitRate as a percentage, 0-100.
	HitRate float64 `json:"hit_rate"`

	// Keys is the number of warmed entries currently stored.
	Keys int64 `json:"keys"`

	// Errors counts backend-side failures since start.
	Errors int64 `json:"errors"`
}
