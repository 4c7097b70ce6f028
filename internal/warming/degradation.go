// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coachware/warmup/internal/cache"
	"github.com/coachware/warmup/internal/metrics"
)

// DegradationConfig sets the rolling window and the error-rate fractions at
// which each level engages. Thresholds must be strictly increasing.
type DegradationConfig struct {
	Window     time.Duration
	Buckets    int
	MinSamples int

	PartialThreshold  float64
	SevereThreshold   float64
	CriticalThreshold float64
}

// DefaultDegradationConfig returns the standard 5-minute window with
// 0.2/0.4/0.6 escalation thresholds.
func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		Window:            5 * time.Minute,
		Buckets:           10,
		MinSamples:        2,
		PartialThreshold:  0.2,
		SevereThreshold:   0.4,
		CriticalThreshold: 0.6,
	}
}

// FallbackDecision is the permission verdict for one operation.
type FallbackDecision struct {
	Degraded      bool             `json:"degraded"`
	CanProceed    bool             `json:"can_proceed"`
	Level         DegradationLevel `json:"-"`
	LevelName     string           `json:"level"`
	Fallback      FallbackMode     `json:"fallback"`
	Modifications []string         `json:"modifications,omitempty"`
}

// AspectHealth is the per-aspect summary exposed by Snapshot.
type AspectHealth struct {
	Level     string  `json:"level"`
	ErrorRate float64 `json:"error_rate"`
	Samples   int     `json:"samples"`
}

// DegradationManager tracks a rolling error rate per service aspect and
// derives a degradation level from it. Levels follow the observed rate in
// both directions: sustained successes age failures out of the window and
// the level recovers on its own. ForceRecovery is the manual override.
type DegradationManager struct {
	cfg    DegradationConfig
	logger zerolog.Logger

	mu      sync.Mutex
	windows map[ServiceAspect]*cache.OutcomeWindow
	levels  map[ServiceAspect]DegradationLevel
}

// NewDegradationManager creates a manager with all aspects at LevelNone.
func NewDegradationManager(cfg DegradationConfig, logger zerolog.Logger) *DegradationManager {
	if cfg.Window <= 0 {
		cfg = DefaultDegradationConfig()
	}
	m := &DegradationManager{
		cfg:     cfg,
		logger:  logger.With().Str("component", "degradation").Logger(),
		windows: make(map[ServiceAspect]*cache.OutcomeWindow, len(Aspects)),
		levels:  make(map[ServiceAspect]DegradationLevel, len(Aspects)),
	}
	for _, aspect := range Aspects {
		m.windows[aspect] = cache.NewOutcomeWindow(cfg.Window, cfg.Buckets)
		m.levels[aspect] = LevelNone
		metrics.DegradationLevel.WithLabelValues(string(aspect)).Set(0)
	}
	return m
}

// RecordOutcome feeds one observed success or failure into the aspect's
// rolling window and recomputes its level.
func (m *DegradationManager) RecordOutcome(aspect ServiceAspect, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[aspect]
	if !ok {
		return
	}
	w.Record(success)
	m.recomputeLocked(aspect)
}

// CheckAndFallback decides whether an operation may proceed and which
// modifications apply. Essential operations are never blocked outright;
// at Critical they run in minimal mode instead.
func (m *DegradationManager) CheckAndFallback(aspect ServiceAspect, essential bool) FallbackDecision {
	m.mu.Lock()
	level := m.levels[aspect]
	m.mu.Unlock()

	d := FallbackDecision{
		Degraded:   level > LevelNone,
		CanProceed: true,
		Level:      level,
		LevelName:  level.String(),
		Fallback:   FallbackNone,
	}

	switch level {
	case LevelPartial:
		d.Fallback = FallbackReducedScope
		d.Modifications = []string{"disable_smart_scoring", "reduce_scope"}
	case LevelSevere:
		d.Fallback = FallbackEssentialOnly
		d.Modifications = []string{"disable_smart_scoring", "essential_data_only", "skip_optional_phases"}
	case LevelCritical:
		if essential {
			d.Fallback = FallbackMinimal
			d.Modifications = []string{"minimal_mode"}
		} else {
			d.CanProceed = false
			d.Fallback = FallbackMinimal
		}
	}

	outcome := "permitted"
	if !d.CanProceed {
		outcome = "blocked"
	} else if d.Degraded {
		outcome = "modified"
	}
	metrics.DegradedOperations.WithLabelValues(string(aspect), outcome).Inc()
	return d
}

// Level returns the current level for an aspect.
func (m *DegradationManager) Level(aspect ServiceAspect) DegradationLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[aspect]
}

// Snapshot returns per-aspect health for the status API.
func (m *DegradationManager) Snapshot() map[string]AspectHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]AspectHealth, len(Aspects))
	for _, aspect := range Aspects {
		rate, samples := m.windows[aspect].ErrorRate()
		out[string(aspect)] = AspectHealth{
			Level:     m.levels[aspect].String(),
			ErrorRate: rate,
			Samples:   int(samples),
		}
	}
	return out
}

// ForceRecovery resets every aspect to LevelNone and clears the windows.
// Meant for operator use after the underlying backend issue is resolved.
func (m *DegradationManager) ForceRecovery() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, aspect := range Aspects {
		m.windows[aspect].Reset()
		if m.levels[aspect] != LevelNone {
			m.logger.Info().
				Str("aspect", string(aspect)).
				Str("from", m.levels[aspect].String()).
				Msg("Forced recovery")
		}
		m.levels[aspect] = LevelNone
		metrics.DegradationLevel.WithLabelValues(string(aspect)).Set(0)
	}
}

func (m *DegradationManager) recomputeLocked(aspect ServiceAspect) {
	rate, n := m.windows[aspect].ErrorRate()
	samples := int(n)

	level := LevelNone
	if samples >= m.cfg.MinSamples {
		switch {
		case rate > m.cfg.CriticalThreshold:
			level = LevelCritical
		case rate > m.cfg.SevereThreshold:
			level = LevelSevere
		case rate > m.cfg.PartialThreshold:
			level = LevelPartial
		}
	}

	prev := m.levels[aspect]
	if level == prev {
		return
	}
	m.levels[aspect] = level
	metrics.DegradationLevel.WithLabelValues(string(aspect)).Set(float64(level))

	evt := m.logger.Warn()
	if level < prev {
		evt = m.logger.Info()
	}
	evt.
		Str("aspect", string(aspect)).
		Str("from", prev.String()).
		Str("to", level.String()).
		Float64("error_rate", rate).
		Int("samples", samples).
		Msg("Degradation level changed")
}
