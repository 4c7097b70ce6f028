// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coachware/warmup/internal/metrics"
)

// Context map keys recognized by SmartWarm.
const (
	CtxCurrentPage       = "current_page"
	CtxPreviousPage      = "previous_page"
	CtxPreferredPriority = "preferred_priority"
)

// OrchestratorConfig bundles the tunables for the whole warming engine.
type OrchestratorConfig struct {
	Queue       QueueConfig
	Analyzer    AnalyzerConfig
	Degradation DegradationConfig
	MaxHistory  int
}

// Stats is the full observability snapshot returned by GetStats.
type Stats struct {
	Summary     StatsSummary            `json:"summary"`
	Events      []WarmingEvent          `json:"events"`
	Queue       QueueStatus             `json:"queue"`
	Degradation map[string]AspectHealth `json:"degradation"`
}

// itemResult carries per-item execution detail from the execution callback
// to the outcome callback. Keyed by item ID; written before the outcome
// fires and removed when it does.
type itemResult struct {
	entries     int
	smart       *SmartDetail
	progressive *ProgressiveDetail
}

// Orchestrator is the public entry point of the warming engine. All warm
// operations enqueue and return an acknowledgement; outcomes surface through
// stats, events and logs, never back to the original caller.
type Orchestrator struct {
	backend     CacheBackend
	provider    SubjectProvider
	analyzer    *ContextAnalyzer
	degradation *DegradationManager
	queue       *PriorityQueue
	stats       *StatsTracker
	bus         *EventBus
	logger      zerolog.Logger

	resultsMu sync.Mutex
	results   map[string]*itemResult

	appWarmed bool
	appMu     sync.Mutex

	// swappable in tests
	now func() time.Time
}

// NewOrchestrator wires the engine together. provider and bus may be nil.
func NewOrchestrator(cfg OrchestratorConfig, backend CacheBackend, provider SubjectProvider, bus *EventBus, logger zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		backend:     backend,
		provider:    provider,
		analyzer:    NewContextAnalyzer(cfg.Analyzer),
		degradation: NewDegradationManager(cfg.Degradation, logger),
		stats:       NewStatsTracker(cfg.MaxHistory),
		bus:         bus,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		results:     make(map[string]*itemResult),
		now:         time.Now,
	}
	o.queue = NewPriorityQueue(cfg.Queue, o.execute, o.onOutcome, logger)
	// Items cancelled before dispatch never reach onOutcome; release their
	// stashed details here.
	o.queue.OnCancel(func(item *QueueItem) { o.dropResult(item.ID) })
	return o
}

// Start launches the queue's dispatch loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.queue.Start(ctx)
}

// Stop drains in-flight work and halts dispatching.
func (o *Orchestrator) Stop() error {
	return o.queue.Stop()
}

// WarmApp requests the app-initialization warm: shared data once per process,
// plus a high-priority warm for the current subject when one is known. The
// shared warm is skipped on repeat calls; the subject warm is not.
func (o *Orchestrator) WarmApp() (*Ack, error) {
	o.appMu.Lock()
	first := !o.appWarmed
	o.appWarmed = true
	o.appMu.Unlock()

	var ack *Ack
	if first {
		a, err := o.queue.Enqueue("app:shared", PriorityHigh, nil, EnqueueOptions{Kind: OpAppInit, MaxRetries: -1})
		o.recordEnqueue(err)
		if err != nil {
			o.appMu.Lock()
			o.appWarmed = false
			o.appMu.Unlock()
			return nil, err
		}
		ack = a
	}

	if o.provider != nil {
		if subjectID, ok := o.provider.Current(); ok {
			a, err := o.WarmSubject(subjectID, PriorityHigh, nil)
			if err == nil && ack == nil {
				ack = a
			}
		}
	}

	if ack == nil {
		// Repeat call with no current subject: nothing to do.
		return nil, ErrDuplicateSubject
	}
	return ack, nil
}

// WarmSubject enqueues a warm for one subject at the given priority.
func (o *Orchestrator) WarmSubject(subjectID string, priority Priority, itemCtx map[string]string) (*Ack, error) {
	d := o.degradation.CheckAndFallback(AspectQueueProcessing, priority == PriorityHigh)
	if !d.CanProceed {
		metrics.WarmOperations.WithLabelValues(string(OpSubject), "refused").Inc()
		return nil, ErrDegraded
	}

	ack, err := o.queue.Enqueue(subjectID, priority, itemCtx, EnqueueOptions{Kind: OpSubject, MaxRetries: -1})
	o.recordEnqueue(err)
	if err != nil {
		return nil, err
	}
	return ack, nil
}

// SmartWarm scores the caller's context and enqueues at the computed
// priority. A progressive verdict upgrades the request to a progressive
// warm. While smart analysis is degraded, scoring is skipped and the warm
// falls back to a plain normal-priority enqueue.
func (o *Orchestrator) SmartWarm(subjectID string, itemCtx map[string]string) (*Ack, error) {
	d := o.degradation.CheckAndFallback(AspectSmartAnalysis, false)
	if !d.CanProceed || d.Fallback == FallbackEssentialOnly || d.Fallback == FallbackReducedScope {
		o.logger.Debug().
			Str("subject_id", subjectID).
			Str("level", d.LevelName).
			Msg("Smart scoring disabled while degraded, using basic warm")
		return o.WarmSubject(subjectID, PriorityNormal, itemCtx)
	}

	analysis := o.analyzer.DeterminePriority(o.snapshotFrom(itemCtx))

	if analysis.Strategy == StrategyProgressive {
		return o.progressiveWarm(subjectID, nil, itemCtx)
	}

	ack, err := o.queue.Enqueue(subjectID, analysis.Priority, itemCtx, EnqueueOptions{Kind: OpSmart, MaxRetries: -1})
	o.recordEnqueue(err)
	if err != nil {
		return nil, err
	}
	o.stashResult(ack.ID, &itemResult{smart: &SmartDetail{
		SubjectID: subjectID,
		Score:     analysis.Score,
		Strategy:  analysis.Strategy,
	}})
	return ack, nil
}

// ProgressiveWarm enqueues a phased warm: critical data first, then
// analytics, then extended history. A nil plan uses the default 3 phases.
func (o *Orchestrator) ProgressiveWarm(subjectID string, plan *ProgressivePlan) (*Ack, error) {
	return o.progressiveWarm(subjectID, plan, nil)
}

// progressiveWarm carries the caller's context through smart-warm upgrades
// so the queued item and its events keep the page and preference detail.
func (o *Orchestrator) progressiveWarm(subjectID string, plan *ProgressivePlan, itemCtx map[string]string) (*Ack, error) {
	d := o.degradation.CheckAndFallback(AspectCacheWarming, false)
	if !d.CanProceed {
		metrics.WarmOperations.WithLabelValues(string(OpProgressive), "refused").Inc()
		return nil, ErrDegraded
	}
	if plan == nil {
		plan = DefaultProgressivePlan()
	}
	if len(plan.Phases) == 0 {
		return nil, &ValidationError{Field: "plan", Reason: "must contain at least one phase"}
	}

	ack, err := o.queue.Enqueue(subjectID, plan.Phases[0].Priority, itemCtx, EnqueueOptions{
		Kind: OpProgressive,
		Plan: plan,
		// Phases handle their own partial failure; retrying the whole plan
		// would re-run completed phases.
		MaxRetries: 0,
	})
	o.recordEnqueue(err)
	if err != nil {
		return nil, err
	}
	return ack, nil
}

// QueueStatus exposes the queue snapshot.
func (o *Orchestrator) QueueStatus() QueueStatus {
	return o.queue.Status()
}

// QueueLimits reports the queue's capacity and concurrency bounds.
func (o *Orchestrator) QueueLimits() (maxQueueSize, maxConcurrent int) {
	return o.queue.Limits()
}

// PruneStaleQueue drops queued items older than maxAge.
func (o *Orchestrator) PruneStaleQueue(maxAge time.Duration) int {
	return o.queue.PruneStale(maxAge)
}

// RecordMaintenance records a maintenance event and publishes it.
func (o *Orchestrator) RecordMaintenance(evt WarmingEvent) {
	evt.Type = EventMaintenance
	o.stats.Record(evt)
	if o.bus != nil {
		o.bus.PublishEvent(evt)
	}
}

// PublishAlert forwards a high-severity alert to the event bus.
func (o *Orchestrator) PublishAlert(alert Alert) {
	if o.bus != nil {
		o.bus.PublishAlert(alert)
	}
}

// RemoveSubject cancels a queued warm.
func (o *Orchestrator) RemoveSubject(subjectID string) bool {
	return o.queue.RemoveSubject(subjectID)
}

// GetStats returns the observability snapshot, with events filtered by q.
func (o *Orchestrator) GetStats(q StatsQuery) Stats {
	return Stats{
		Summary:     o.stats.Summary(),
		Events:      o.stats.GetStats(q),
		Queue:       o.queue.Status(),
		Degradation: o.degradation.Snapshot(),
	}
}

// Degradation exposes the degradation manager for maintenance and the API.
func (o *Orchestrator) Degradation() *DegradationManager {
	return o.degradation
}

// Backend exposes the cache backend for maintenance health checks.
func (o *Orchestrator) Backend() CacheBackend {
	return o.backend
}

// ForceRecovery resets every degradation aspect to healthy.
func (o *Orchestrator) ForceRecovery() {
	o.degradation.ForceRecovery()
	o.logger.Info().Msg("Degradation state reset by operator")
}

// execute is the queue's execution callback: one attempt for one item.
func (o *Orchestrator) execute(ctx context.Context, item *QueueItem) error {
	d := o.degradation.CheckAndFallback(AspectCacheWarming, item.Kind == OpAppInit || item.Priority == PriorityHigh)
	if !d.CanProceed {
		return ErrDegraded
	}

	switch item.Kind {
	case OpAppInit:
		result, err := o.backend.WarmShared(ctx)
		if err != nil {
			return err
		}
		o.mergeEntries(item.ID, result)
		return nil
	case OpProgressive:
		return o.executeProgressive(ctx, item, d)
	default:
		result, err := o.backend.WarmSubject(ctx, item.SubjectID, effectivePriority(item.Priority, d))
		if err != nil {
			return err
		}
		o.mergeEntries(item.ID, result)
		return nil
	}
}

// executeProgressive runs the item's phases sequentially inside a single
// execution unit. Non-critical phase failures are recorded and skipped;
// a critical phase failure aborts the remainder unless the plan says to
// continue. While degraded with skip_optional_phases, only critical phases
// run.
func (o *Orchestrator) executeProgressive(ctx context.Context, item *QueueItem, d FallbackDecision) error {
	plan := item.Plan
	if plan == nil {
		plan = DefaultProgressivePlan()
	}
	skipOptional := d.Fallback == FallbackEssentialOnly || d.Fallback == FallbackMinimal

	detail := &ProgressiveDetail{SubjectID: item.SubjectID}
	var criticalErr error

	for _, phase := range plan.Phases {
		if skipOptional && !phase.Critical {
			continue
		}
		if phase.Delay > 0 {
			select {
			case <-time.After(phase.Delay):
			case <-ctx.Done():
				criticalErr = ctx.Err()
				detail.Aborted = true
				break
			}
			if criticalErr != nil {
				break
			}
		}

		result, err := o.backend.WarmSubject(ctx, item.SubjectID, phase.Priority)
		detail.PhasesRun++
		if err != nil {
			detail.PhasesFailed++
			o.logger.Warn().
				Err(err).
				Str("subject_id", item.SubjectID).
				Str("phase", phase.Name).
				Bool("critical", phase.Critical).
				Msg("Progressive phase failed")
			if phase.Critical && !plan.ContinueOnCriticalFailure {
				criticalErr = err
				detail.Aborted = true
				break
			}
			continue
		}
		o.mergeEntries(item.ID, result)
	}

	o.stashResult(item.ID, &itemResult{progressive: detail})
	return criticalErr
}

// onOutcome is the queue's terminal-outcome callback: records the event,
// feeds degradation, and publishes to the bus. Every outcome scores the
// cache-warming aspect; smart-initiated items also score smart analysis,
// and retry exhaustion counts against queue processing.
func (o *Orchestrator) onOutcome(item *QueueItem, err error, attempts int, duration time.Duration) {
	success := err == nil
	o.degradation.RecordOutcome(AspectCacheWarming, success)
	if item.Kind == OpSmart {
		o.degradation.RecordOutcome(AspectSmartAnalysis, success)
	}
	if !success && IsRetriable(err) && attempts > item.MaxRetries {
		o.degradation.RecordOutcome(AspectQueueProcessing, false)
	}

	result := "success"
	if !success {
		result = "failure"
	}
	metrics.WarmOperations.WithLabelValues(string(item.Kind), result).Inc()

	evt := WarmingEvent{
		Type:       eventTypeFor(item.Kind),
		DurationMS: duration.Milliseconds(),
		Success:    success,
		ErrorKind:  ErrorKind(err),
	}

	stashed := o.popResult(item.ID)
	switch {
	case stashed != nil && stashed.progressive != nil:
		evt.Progressive = stashed.progressive
	case stashed != nil && stashed.smart != nil:
		evt.Smart = stashed.smart
	default:
		detail := &SubjectDetail{
			SubjectID: item.SubjectID,
			Priority:  item.Priority,
			Attempts:  attempts,
		}
		if stashed != nil {
			detail.Entries = stashed.entries
		}
		evt.Subject = detail
	}

	o.stats.Record(evt)
	if o.bus != nil {
		o.bus.PublishEvent(evt)
	}
}

func (o *Orchestrator) snapshotFrom(itemCtx map[string]string) ContextSnapshot {
	now := o.now()
	snap := ContextSnapshot{
		Hour: now.Hour(),
		Day:  now.Weekday(),
	}
	if itemCtx == nil {
		return snap
	}
	snap.CurrentPage = itemCtx[CtxCurrentPage]
	snap.PreviousPage = itemCtx[CtxPreviousPage]
	if raw, ok := itemCtx[CtxPreferredPriority]; ok {
		if p, err := ParsePriority(raw); err == nil {
			snap.PreferredPriority = p
		} else if n, err := strconv.Atoi(raw); err == nil {
			snap.PreferredPriority = Priority(n)
		}
	}
	return snap
}

// recordEnqueue feeds admission results into the queue-processing aspect.
// Capacity refusals are queue failures; duplicate and validation rejections
// say nothing about queue health and are not recorded.
func (o *Orchestrator) recordEnqueue(err error) {
	switch {
	case err == nil:
		o.degradation.RecordOutcome(AspectQueueProcessing, true)
	case errors.Is(err, ErrQueueFull):
		o.degradation.RecordOutcome(AspectQueueProcessing, false)
	}
}

func (o *Orchestrator) stashResult(itemID string, r *itemResult) {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	if existing, ok := o.results[itemID]; ok {
		if r.smart != nil {
			existing.smart = r.smart
		}
		if r.progressive != nil {
			existing.progressive = r.progressive
		}
		if r.entries > 0 {
			existing.entries += r.entries
		}
		return
	}
	o.results[itemID] = r
}

func (o *Orchestrator) mergeEntries(itemID string, result *WarmResult) {
	if result == nil {
		return
	}
	o.stashResult(itemID, &itemResult{entries: result.Entries})
}

func (o *Orchestrator) popResult(itemID string) *itemResult {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	r := o.results[itemID]
	delete(o.results, itemID)
	return r
}

func (o *Orchestrator) dropResult(itemID string) {
	o.resultsMu.Lock()
	delete(o.results, itemID)
	o.resultsMu.Unlock()
}

// effectivePriority narrows backend scope while degraded. The backend
// treats Low as essentials-only.
func effectivePriority(p Priority, d FallbackDecision) Priority {
	switch d.Fallback {
	case FallbackEssentialOnly, FallbackMinimal:
		return PriorityLow
	case FallbackReducedScope:
		if p > PriorityNormal {
			return PriorityNormal
		}
	}
	return p
}

func eventTypeFor(kind OpKind) EventType {
	switch kind {
	case OpAppInit:
		return EventAppInit
	case OpSmart:
		return EventSmartWarm
	case OpProgressive:
		return EventProgressiveWarm
	case OpMaintenance:
		return EventMaintenance
	default:
		return EventSubjectWarm
	}
}
