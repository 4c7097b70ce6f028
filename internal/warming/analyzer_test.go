// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"reflect"
	"testing"
	"time"
)

func TestAnalyzerMorningWorkoutLogging(t *testing.T) {
	a := NewContextAnalyzer(DefaultAnalyzerConfig())

	got := a.DeterminePriority(ContextSnapshot{
		Hour:        7,
		Day:         time.Tuesday,
		CurrentPage: "LogWorkout",
	})

	if got.Priority != PriorityHigh {
		t.Errorf("priority = %s, want high", got.Priority)
	}
	if got.Strategy != StrategyProgressive {
		t.Errorf("strategy = %s, want progressive", got.Strategy)
	}
	if got.Score < highScoreCutoff {
		t.Errorf("score = %v, want >= %v", got.Score, highScoreCutoff)
	}
}

func TestAnalyzerDeterminism(t *testing.T) {
	a := NewContextAnalyzer(DefaultAnalyzerConfig())
	snap := ContextSnapshot{
		Hour:              18,
		Day:               time.Saturday,
		CurrentPage:       "Progress",
		PreviousPage:      "Dashboard",
		PreferredPriority: PriorityHigh,
		Patterns:          map[string]float64{"frequent_logger": 0.8},
	}

	first := a.DeterminePriority(snap)
	second := a.DeterminePriority(snap)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("non-deterministic analysis: %+v vs %+v", first, second)
	}
}

func TestAnalyzerScoring(t *testing.T) {
	a := NewContextAnalyzer(DefaultAnalyzerConfig())

	tests := []struct {
		name         string
		snap         ContextSnapshot
		wantPriority Priority
		wantStrategy Strategy
	}{
		{
			name:         "off hours unknown page",
			snap:         ContextSnapshot{Hour: 23, Day: time.Sunday, CurrentPage: "Settings"},
			wantPriority: PriorityLow,
			wantStrategy: StrategyBasic,
		},
		{
			name:         "peak hours secondary page weekend",
			snap:         ContextSnapshot{Hour: 18, Day: time.Saturday, CurrentPage: "Schedule"},
			wantPriority: PriorityNormal,
			wantStrategy: StrategyTargeted,
		},
		{
			name:         "peak hours secondary page weekday",
			snap:         ContextSnapshot{Hour: 18, Day: time.Wednesday, CurrentPage: "Schedule"},
			wantPriority: PriorityHigh,
			wantStrategy: StrategyTargeted,
		},
		{
			name:         "primary page off peak",
			snap:         ContextSnapshot{Hour: 13, Day: time.Monday, CurrentPage: "Dashboard"},
			wantPriority: PriorityHigh,
			wantStrategy: StrategyTargeted,
		},
		{
			name:         "weekend midday nothing special",
			snap:         ContextSnapshot{Hour: 14, Day: time.Sunday, CurrentPage: "Messages"},
			wantPriority: PriorityNormal,
			wantStrategy: StrategyBasic,
		},
		{
			name: "previous primary page boosts unknown page",
			snap: ContextSnapshot{
				Hour: 14, Day: time.Sunday,
				CurrentPage: "Settings", PreviousPage: "LogWorkout",
			},
			wantPriority: PriorityNormal,
			wantStrategy: StrategyBasic,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.DeterminePriority(tt.snap)
			if got.Priority != tt.wantPriority {
				t.Errorf("priority = %s, want %s (score %v)", got.Priority, tt.wantPriority, got.Score)
			}
			if got.Strategy != tt.wantStrategy {
				t.Errorf("strategy = %s, want %s", got.Strategy, tt.wantStrategy)
			}
		})
	}
}

func TestAnalyzerPageBoost(t *testing.T) {
	a := NewContextAnalyzer(DefaultAnalyzerConfig())

	plain := a.pageTerm("Settings", "")
	boosted := a.pageTerm("Settings", "Dashboard")
	if plain != PriorityLow || boosted != PriorityNormal {
		t.Errorf("pageTerm boost = %s -> %s, want low -> normal", plain, boosted)
	}

	// Already High stays High.
	if got := a.pageTerm("Dashboard", "LogWorkout"); got != PriorityHigh {
		t.Errorf("pageTerm = %s, want high", got)
	}
}

func TestAnalyzerPreferredPriority(t *testing.T) {
	a := NewContextAnalyzer(DefaultAnalyzerConfig())

	base := ContextSnapshot{Hour: 18, Day: time.Wednesday, CurrentPage: "Schedule"}
	low := base
	low.PreferredPriority = PriorityLow
	high := base
	high.PreferredPriority = PriorityHigh

	if a.DeterminePriority(low).Score >= a.DeterminePriority(high).Score {
		t.Error("preferred priority did not shift the score")
	}
}

func TestHourWindowWrap(t *testing.T) {
	w := HourWindow{Start: 22, End: 5}

	for _, h := range []int{22, 23, 0, 3, 5} {
		if !w.Contains(h) {
			t.Errorf("Contains(%d) = false, want true", h)
		}
	}
	for _, h := range []int{6, 12, 21} {
		if w.Contains(h) {
			t.Errorf("Contains(%d) = true, want false", h)
		}
	}
}
