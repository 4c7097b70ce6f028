// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coachware/warmup/internal/metrics"
)

// MaintenanceConfig tunes the periodic health-check-and-warm routine.
type MaintenanceConfig struct {
	Interval time.Duration

	// Quiet hours suppress maintenance ticks. The window is [QuietStart,
	// QuietEnd) in local hours and may wrap past midnight. Equal values
	// disable quiet hours.
	QuietStart int
	QuietEnd   int

	// Hit-rate percentages driving the warm strategy choice.
	HitRateWarn     float64
	HitRateCritical float64

	// HighLoadFraction of queue capacity above which a tick is skipped.
	HighLoadFraction float64

	// Run-failure retry policy: fixed delay, not exponential. Maintenance
	// is periodic anyway; the next tick is the real backstop.
	MaxRetries int
	RetryDelay time.Duration

	RunTimeout time.Duration
	StaleAfter time.Duration
}

// DefaultMaintenanceConfig returns 15-minute ticks with overnight quiet
// hours.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Interval:         15 * time.Minute,
		QuietStart:       22,
		QuietEnd:         6,
		HitRateWarn:      70,
		HitRateCritical:  40,
		HighLoadFraction: 0.8,
		MaxRetries:       2,
		RetryDelay:       30 * time.Second,
		RunTimeout:       2 * time.Minute,
		StaleAfter:       30 * time.Minute,
	}
}

// MaintenanceScheduler periodically checks backend health, triggers
// automatic warming when the hit rate sags, and prunes stale queue items.
// At most one run is in progress at a time; overlapping ticks are skipped.
type MaintenanceScheduler struct {
	cfg      MaintenanceConfig
	orch     *Orchestrator
	provider SubjectProvider
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	inRun   bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastRun     time.Time
	lastOutcome error

	// swappable in tests
	now func() time.Time
}

// NewMaintenanceScheduler creates the scheduler. It does not start ticking
// until Start is called.
func NewMaintenanceScheduler(cfg MaintenanceConfig, orch *Orchestrator, provider SubjectProvider, logger zerolog.Logger) *MaintenanceScheduler {
	if cfg.Interval <= 0 {
		cfg = DefaultMaintenanceConfig()
	}
	return &MaintenanceScheduler{
		cfg:      cfg,
		orch:     orch,
		provider: provider,
		logger:   logger.With().Str("component", "maintenance").Logger(),
		now:      time.Now,
	}
}

// Start launches the tick loop.
func (s *MaintenanceScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Int("quiet_start", s.cfg.QuietStart).
		Int("quiet_end", s.cfg.QuietEnd).
		Msg("Starting maintenance loop")

	go s.loop(ctx)
	return nil
}

// Stop halts ticking. An in-progress run finishes on its own timeout.
func (s *MaintenanceScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	s.logger.Info().Msg("Maintenance loop stopped")
	return nil
}

// LastRun reports the most recent completed run and its outcome.
func (s *MaintenanceScheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastOutcome
}

func (s *MaintenanceScheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick executes one maintenance cycle unless a skip condition holds. It is
// exported so the ops API can trigger a run on demand.
func (s *MaintenanceScheduler) Tick(ctx context.Context) {
	if reason := s.skipReason(); reason != "" {
		metrics.MaintenanceSkips.WithLabelValues(reason).Inc()
		s.logger.Debug().Str("reason", reason).Msg("Maintenance tick skipped")
		s.orch.RecordMaintenance(WarmingEvent{
			Success:     true,
			Maintenance: &MaintenanceDetail{SkipReason: reason},
		})
		return
	}

	s.mu.Lock()
	s.inRun = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inRun = false
		s.mu.Unlock()
	}()

	start := time.Now()
	detail, err := s.runWithRetries(ctx)
	elapsed := time.Since(start)
	metrics.MaintenanceDuration.Observe(elapsed.Seconds())

	s.mu.Lock()
	s.lastRun = s.now()
	s.lastOutcome = err
	s.mu.Unlock()

	if err != nil {
		metrics.MaintenanceRuns.WithLabelValues("failure").Inc()
		detail.Alert = true
		s.orch.RecordMaintenance(WarmingEvent{
			DurationMS:  elapsed.Milliseconds(),
			Success:     false,
			ErrorKind:   ErrorKind(err),
			Maintenance: detail,
		})
		s.orch.PublishAlert(Alert{
			Source:    "maintenance",
			Message:   fmt.Sprintf("maintenance run failed after %d attempts: %v", s.cfg.MaxRetries+1, err),
			ErrorKind: ErrorKind(err),
		})
		s.logger.Error().Err(err).Msg("Maintenance run failed, giving up until next tick")
		return
	}

	metrics.MaintenanceRuns.WithLabelValues("success").Inc()
	s.orch.RecordMaintenance(WarmingEvent{
		DurationMS:  elapsed.Milliseconds(),
		Success:     true,
		Maintenance: detail,
	})
}

// skipReason returns a non-empty reason when the tick should not run.
func (s *MaintenanceScheduler) skipReason() string {
	s.mu.Lock()
	inRun := s.inRun
	s.mu.Unlock()
	if inRun {
		return "run_in_progress"
	}

	if s.inQuietHours(s.now().Hour()) {
		return "quiet_hours"
	}

	st := s.orch.QueueStatus()
	maxSize, maxConcurrent := s.orch.QueueLimits()
	queued := st.High + st.Normal + st.Low
	if float64(queued) >= s.cfg.HighLoadFraction*float64(maxSize) || st.Active >= maxConcurrent {
		return "high_load"
	}
	return ""
}

func (s *MaintenanceScheduler) inQuietHours(hour int) bool {
	if s.cfg.QuietStart == s.cfg.QuietEnd {
		return false
	}
	w := HourWindow{Start: s.cfg.QuietStart, End: s.cfg.QuietEnd - 1}
	if s.cfg.QuietEnd == 0 {
		w.End = 23
	}
	return w.Contains(hour)
}

// runWithRetries runs the maintenance routine, retrying failures with a
// fixed delay up to MaxRetries times.
func (s *MaintenanceScheduler) runWithRetries(ctx context.Context) (*MaintenanceDetail, error) {
	var detail *MaintenanceDetail
	var err error

	for attempt := 0; ; attempt++ {
		detail, err = s.runOnce(ctx)
		if err == nil {
			return detail, nil
		}
		if attempt >= s.cfg.MaxRetries {
			return detail, err
		}

		s.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("retry_delay", s.cfg.RetryDelay).
			Msg("Maintenance run failed, retrying")

		select {
		case <-time.After(s.cfg.RetryDelay):
		case <-s.stopCh:
			return detail, err
		case <-ctx.Done():
			return detail, ctx.Err()
		}
	}
}

// runOnce is a single bounded maintenance pass: health check, warm trigger,
// stale cleanup.
func (s *MaintenanceScheduler) runOnce(ctx context.Context) (*MaintenanceDetail, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	detail := &MaintenanceDetail{}

	stats, err := s.orch.Backend().Stats(runCtx)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return detail, ErrMaintenanceTimeout
		}
		return detail, fmt.Errorf("backend health check: %w", err)
	}
	detail.HitRate = stats.HitRate

	if strategy := s.strategyFor(stats); strategy != "" {
		detail.Triggered = strategy
		if err := s.triggerWarm(strategy); err != nil {
			return detail, err
		}
	}

	if pruned := s.orch.PruneStaleQueue(s.cfg.StaleAfter); pruned > 0 {
		s.logger.Info().Int("pruned", pruned).Msg("Removed stale queue items")
	}

	if runCtx.Err() != nil {
		return detail, ErrMaintenanceTimeout
	}
	return detail, nil
}

// strategyFor maps backend health to a warm strategy. Empty means healthy,
// no warm needed.
func (s *MaintenanceScheduler) strategyFor(stats BackendStats) Strategy {
	switch {
	case stats.HitRate < s.cfg.HitRateCritical:
		return StrategyProgressive
	case stats.HitRate < s.cfg.HitRateWarn:
		return StrategyTargeted
	case stats.Errors > 0:
		return StrategyBasic
	default:
		return ""
	}
}

// triggerWarm requests an automatic warm for the current subject. No known
// subject means nothing to warm; duplicates mean a warm is already pending.
// Neither fails the run.
func (s *MaintenanceScheduler) triggerWarm(strategy Strategy) error {
	if s.provider == nil {
		return nil
	}
	subjectID, ok := s.provider.Current()
	if !ok {
		return nil
	}

	var err error
	switch strategy {
	case StrategyProgressive:
		_, err = s.orch.ProgressiveWarm(subjectID, nil)
	case StrategyTargeted:
		_, err = s.orch.SmartWarm(subjectID, nil)
	default:
		_, err = s.orch.WarmSubject(subjectID, PriorityNormal, nil)
	}

	if err != nil && !errors.Is(err, ErrDuplicateSubject) {
		return fmt.Errorf("trigger %s warm: %w", strategy, err)
	}

	s.logger.Info().
		Str("subject_id", subjectID).
		Str("strategy", string(strategy)).
		Msg("Health-triggered warm requested")
	return nil
}
