// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"time"
)

// Analyzer term weights. Page context dominates because the page a coach is
// on is the strongest predictor of which data they need next.
const (
	weightTime = 0.3
	weightDay  = 0.2
	weightPage = 0.4
	weightPref = 0.1

	highScoreCutoff = 0.75
	lowScoreCutoff  = 0.40
)

// HourWindow is an inclusive hour-of-day range that may wrap past midnight.
type HourWindow struct {
	Start int
	End   int
}

// Contains reports whether the hour falls inside the window, handling wraps
// such as 22-05.
func (w HourWindow) Contains(hour int) bool {
	if w.Start <= w.End {
		return hour >= w.Start && hour <= w.End
	}
	return hour >= w.Start || hour <= w.End
}

// AnalyzerConfig holds the already-parsed signal classifications the
// analyzer scores against.
type AnalyzerConfig struct {
	PeakWindows    []HourWindow
	OffWindows     []HourWindow
	ActiveDays     []time.Weekday
	PrimaryPages   []string
	SecondaryPages []string
}

// DefaultAnalyzerConfig returns the coaching-app defaults: commute and
// evening peaks, overnight off hours, weekday activity, and the workout
// logging surfaces as primary pages.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		PeakWindows: []HourWindow{{Start: 6, End: 9}, {Start: 17, End: 20}},
		OffWindows:  []HourWindow{{Start: 22, End: 5}},
		ActiveDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
		PrimaryPages:   []string{"LogWorkout", "Dashboard", "ClientDetail"},
		SecondaryPages: []string{"Progress", "Schedule", "Messages"},
	}
}

// Analysis is the analyzer's verdict for one snapshot.
type Analysis struct {
	Priority        Priority `json:"priority"`
	Score           float64  `json:"score"`
	Strategy        Strategy `json:"strategy"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// ContextAnalyzer scores warming urgency from temporal, navigational and
// preference signals. It holds only immutable configuration, so a single
// instance is safe for concurrent use.
type ContextAnalyzer struct {
	cfg          AnalyzerConfig
	primaryPages map[string]bool
	secondary    map[string]bool
	activeDays   map[time.Weekday]bool
}

// NewContextAnalyzer builds an analyzer from parsed configuration.
func NewContextAnalyzer(cfg AnalyzerConfig) *ContextAnalyzer {
	a := &ContextAnalyzer{
		cfg:          cfg,
		primaryPages: make(map[string]bool, len(cfg.PrimaryPages)),
		secondary:    make(map[string]bool, len(cfg.SecondaryPages)),
		activeDays:   make(map[time.Weekday]bool, len(cfg.ActiveDays)),
	}
	for _, p := range cfg.PrimaryPages {
		a.primaryPages[p] = true
	}
	for _, p := range cfg.SecondaryPages {
		a.secondary[p] = true
	}
	for _, d := range cfg.ActiveDays {
		a.activeDays[d] = true
	}
	return a
}

// DeterminePriority scores a snapshot and picks priority and strategy.
// Deterministic and side-effect-free: identical snapshots yield identical
// results.
func (a *ContextAnalyzer) DeterminePriority(snap ContextSnapshot) Analysis {
	timeTerm := a.timeTerm(snap.Hour)
	dayTerm := a.dayTerm(snap.Day)
	pageTerm := a.pageTerm(snap.CurrentPage, snap.PreviousPage)
	prefTerm := snap.PreferredPriority
	if prefTerm < PriorityLow || prefTerm > PriorityHigh {
		prefTerm = PriorityNormal
	}

	score := weightTime*normalize(timeTerm) +
		weightDay*normalize(dayTerm) +
		weightPage*normalize(pageTerm) +
		weightPref*normalize(prefTerm)

	priority := PriorityNormal
	switch {
	case score >= highScoreCutoff:
		priority = PriorityHigh
	case score <= lowScoreCutoff:
		priority = PriorityLow
	}

	onPrimary := a.primaryPages[snap.CurrentPage]
	inPeak := timeTerm == PriorityHigh
	strategy := StrategyBasic
	switch {
	case onPrimary && inPeak:
		strategy = StrategyProgressive
	case onPrimary || inPeak:
		strategy = StrategyTargeted
	}

	return Analysis{
		Priority:        priority,
		Score:           score,
		Strategy:        strategy,
		Recommendations: a.recommendations(snap, timeTerm, onPrimary),
	}
}

// normalize maps a three-level term onto [0, 1].
func normalize(p Priority) float64 {
	return float64(p-1) / 2
}

func (a *ContextAnalyzer) timeTerm(hour int) Priority {
	for _, w := range a.cfg.PeakWindows {
		if w.Contains(hour) {
			return PriorityHigh
		}
	}
	for _, w := range a.cfg.OffWindows {
		if w.Contains(hour) {
			return PriorityLow
		}
	}
	return PriorityNormal
}

func (a *ContextAnalyzer) dayTerm(day time.Weekday) Priority {
	if a.activeDays[day] {
		return PriorityHigh
	}
	return PriorityNormal
}

// pageTerm classifies the current page and applies a one-level boost when
// the coach navigated here from a primary page.
func (a *ContextAnalyzer) pageTerm(current, previous string) Priority {
	term := PriorityLow
	switch {
	case a.primaryPages[current]:
		term = PriorityHigh
	case a.secondary[current]:
		term = PriorityNormal
	}
	if a.primaryPages[previous] && term < PriorityHigh {
		term++
	}
	return term
}

func (a *ContextAnalyzer) recommendations(snap ContextSnapshot, timeTerm Priority, onPrimary bool) []string {
	var recs []string
	if onPrimary {
		recs = append(recs, "preload_page_data")
	}
	if timeTerm == PriorityHigh {
		recs = append(recs, "extend_cache_ttl")
	}
	if timeTerm == PriorityLow {
		recs = append(recs, "defer_noncritical")
	}
	if w, ok := snap.Patterns["frequent_logger"]; ok && w >= 0.5 {
		recs = append(recs, "prewarm_workout_history")
	}
	return recs
}
