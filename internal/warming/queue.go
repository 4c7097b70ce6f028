// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/coachware/warmup/internal/metrics"
)

// ExecuteFunc runs one warming request. It is invoked from an execution-unit
// goroutine and may block at the backend call boundary.
type ExecuteFunc func(ctx context.Context, item *QueueItem) error

// OutcomeFunc is notified once per terminal outcome (success, permanent
// failure, or retry exhaustion). Retriable failures that will be retried do
// not produce an outcome.
type OutcomeFunc func(item *QueueItem, err error, attempts int, duration time.Duration)

// QueueConfig configures the priority queue and its dispatch loop.
type QueueConfig struct {
	MaxQueueSize      int
	MaxConcurrent     int
	DispatchInterval  time.Duration
	MaxRetries        int
	BaseRetryDelay    time.Duration
	MaxRetryDelay     time.Duration
	ReinsertFront     bool
	MaxWarmsPerSecond float64
}

func (c *QueueConfig) applyDefaults() {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 50
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = 500 * time.Millisecond
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
}

// QueueCounters are the monotonic counters exposed by Status.
type QueueCounters struct {
	TotalQueued         int64 `json:"total_queued"`
	TotalProcessed      int64 `json:"total_processed"`
	TotalFailed         int64 `json:"total_failed"`
	OverflowCount       int64 `json:"overflow_count"`
	Evictions           int64 `json:"evictions"`
	DuplicatesPrevented int64 `json:"duplicates_prevented"`
	RetriesScheduled    int64 `json:"retries_scheduled"`
}

// QueueStatus is a point-in-time snapshot of queue state.
type QueueStatus struct {
	High         int           `json:"high"`
	Normal       int           `json:"normal"`
	Low          int           `json:"low"`
	Active       int           `json:"active"`
	WaitingRetry int           `json:"waiting_retry"`
	Processing   bool          `json:"processing"`
	Counters     QueueCounters `json:"counters"`
}

// Ack acknowledges an accepted enqueue. It reports where the item landed,
// not the eventual warm outcome; outcomes surface via stats and events.
type Ack struct {
	ID       string   `json:"id"`
	Subject  string   `json:"subject_id"`
	Priority Priority `json:"priority"`
	Position int      `json:"position"`
}

// EnqueueOptions carries optional per-item settings.
type EnqueueOptions struct {
	// Kind defaults to OpSubject.
	Kind OpKind

	// Plan attaches a progressive plan to the item.
	Plan *ProgressivePlan

	// MaxRetries overrides the queue default when >= 0. Use -1 to inherit.
	MaxRetries int
}

// PriorityQueue holds pending warming requests in three FIFO priority
// buckets and dispatches them under a concurrency cap.
//
// A single dispatch loop owns all bucket mutation ordering; enqueue calls
// from any goroutine serialize on the queue mutex, so concurrent callers
// cannot corrupt bucket state or the dedup check. Execution units run as
// independent goroutines bounded by MaxConcurrent.
//
// Subject lifecycle: bucket -> active -> (done | waiting retry -> bucket).
// A subject is in exactly one of those places at a time, which is what makes
// the dedup check sufficient to prevent duplicate in-flight work.
type PriorityQueue struct {
	cfg     QueueConfig
	exec    ExecuteFunc
	outcome OutcomeFunc
	logger  zerolog.Logger
	limiter *rate.Limiter

	mu       sync.Mutex
	buckets  map[Priority][]*QueueItem
	active   map[string]struct{}
	waiting  map[string]*retryWait
	counters QueueCounters
	running  bool

	// cancel, when set, observes items that leave the queue without a
	// terminal outcome (removal, clear, prune, eviction, shutdown of a
	// retry wait). Invoked with the queue mutex held; the callback must
	// not re-enter the queue.
	cancel func(item *QueueItem)

	stopCh chan struct{}
	doneCh chan struct{}
	wakeCh chan struct{}
	wg     sync.WaitGroup
}

// NewPriorityQueue creates a queue. exec is required; outcome may be nil.
func NewPriorityQueue(cfg QueueConfig, exec ExecuteFunc, outcome OutcomeFunc, logger zerolog.Logger) *PriorityQueue {
	cfg.applyDefaults()

	var limiter *rate.Limiter
	if cfg.MaxWarmsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxWarmsPerSecond), 1)
	}

	return &PriorityQueue{
		cfg:     cfg,
		exec:    exec,
		outcome: outcome,
		logger:  logger.With().Str("component", "warming-queue").Logger(),
		limiter: limiter,
		buckets: map[Priority][]*QueueItem{
			PriorityHigh:   {},
			PriorityNormal: {},
			PriorityLow:    {},
		},
		active:  make(map[string]struct{}),
		waiting: make(map[string]*retryWait),
		wakeCh:  make(chan struct{}, 1),
	}
}

// retryWait parks an item between a failed attempt and its reinsertion.
type retryWait struct {
	timer *time.Timer
	item  *QueueItem
}

// OnCancel registers the cancellation observer. Set once, before Start.
func (q *PriorityQueue) OnCancel(fn func(item *QueueItem)) {
	q.mu.Lock()
	q.cancel = fn
	q.mu.Unlock()
}

// cancelLocked notifies the observer of an abandoned item. Caller holds mu.
func (q *PriorityQueue) cancelLocked(item *QueueItem) {
	if q.cancel != nil {
		q.cancel(item)
	}
}

// Start launches the dispatch loop. The context bounds the lifetime of all
// execution units.
func (q *PriorityQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	q.logger.Info().
		Int("max_queue_size", q.cfg.MaxQueueSize).
		Int("max_concurrent", q.cfg.MaxConcurrent).
		Dur("dispatch_interval", q.cfg.DispatchInterval).
		Msg("Starting dispatch loop")

	go q.dispatchLoop(ctx)
	return nil
}

// Stop halts dispatching, cancels pending retry reinsertions, and waits for
// in-flight execution units to complete. Active warms cannot be cancelled;
// they run to their natural end.
func (q *PriorityQueue) Stop() error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	for subject, w := range q.waiting {
		w.timer.Stop()
		q.cancelLocked(w.item)
		delete(q.waiting, subject)
	}
	stopCh, doneCh := q.stopCh, q.doneCh
	q.mu.Unlock()

	close(stopCh)
	<-doneCh
	q.wg.Wait()

	q.logger.Info().Msg("Dispatch loop stopped")
	return nil
}

// Enqueue validates and admits a warming request.
//
// Returns ErrDuplicateSubject when the subject is already queued, waiting on
// a retry, or active. Returns ErrQueueFull when the queue is at capacity and
// no low-priority item can be evicted. A *ValidationError rejects a missing
// subject id.
func (q *PriorityQueue) Enqueue(subjectID string, priority Priority, itemCtx map[string]string, opts EnqueueOptions) (*Ack, error) {
	if subjectID == "" {
		return nil, &ValidationError{Field: "subject_id", Reason: "must not be empty"}
	}
	if priority < PriorityLow || priority > PriorityHigh {
		return nil, &ValidationError{Field: "priority", Reason: "unknown priority value"}
	}
	kind := opts.Kind
	if kind == "" {
		kind = OpSubject
	}
	maxRetries := q.cfg.MaxRetries
	if opts.MaxRetries >= 0 {
		maxRetries = opts.MaxRetries
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.subjectKnownLocked(subjectID) {
		q.counters.DuplicatesPrevented++
		metrics.DuplicatesPrevented.Inc()
		return nil, ErrDuplicateSubject
	}

	if q.totalQueuedLocked() >= q.cfg.MaxQueueSize {
		if !q.evictOldestLowLocked() {
			q.counters.OverflowCount++
			metrics.QueueOverflows.Inc()
			q.logger.Warn().Str("subject_id", subjectID).Msg("Queue overflow, request rejected")
			return nil, ErrQueueFull
		}
	}

	item := &QueueItem{
		ID:         uuid.New().String(),
		SubjectID:  subjectID,
		Priority:   priority,
		Kind:       kind,
		Context:    itemCtx,
		Plan:       opts.Plan,
		EnqueuedAt: time.Now(),
		MaxRetries: maxRetries,
	}
	q.buckets[priority] = append(q.buckets[priority], item)
	q.counters.TotalQueued++
	q.updateDepthMetricsLocked()

	ack := &Ack{
		ID:       item.ID,
		Subject:  subjectID,
		Priority: priority,
		Position: q.positionLocked(item),
	}

	q.logger.Debug().
		Str("subject_id", subjectID).
		Str("priority", priority.String()).
		Int("position", ack.Position).
		Msg("Warming request queued")

	q.wake()
	return ack, nil
}

// RemoveSubject removes a queued or retry-waiting subject. Active subjects
// are a no-op (an in-flight unit cannot be cancelled) and return false.
func (q *PriorityQueue) RemoveSubject(subjectID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if w, ok := q.waiting[subjectID]; ok {
		w.timer.Stop()
		q.cancelLocked(w.item)
		delete(q.waiting, subjectID)
		return true
	}

	for priority, bucket := range q.buckets {
		for i, item := range bucket {
			if item.SubjectID == subjectID {
				q.buckets[priority] = append(bucket[:i], bucket[i+1:]...)
				q.cancelLocked(item)
				q.updateDepthMetricsLocked()
				return true
			}
		}
	}
	return false
}

// Clear empties one priority bucket and returns the number of items removed.
func (q *PriorityQueue) Clear(priority Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.buckets[priority])
	for _, item := range q.buckets[priority] {
		q.cancelLocked(item)
	}
	q.buckets[priority] = nil
	q.updateDepthMetricsLocked()
	return n
}

// ClearAll empties every bucket. Active and retry-waiting items are
// untouched.
func (q *PriorityQueue) ClearAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for priority := range q.buckets {
		n += len(q.buckets[priority])
		for _, item := range q.buckets[priority] {
			q.cancelLocked(item)
		}
		q.buckets[priority] = nil
	}
	q.updateDepthMetricsLocked()
	return n
}

// PruneStale removes queued items older than maxAge. Active and
// retry-waiting items are untouched. Returns the number removed.
func (q *PriorityQueue) PruneStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for priority, bucket := range q.buckets {
		kept := bucket[:0]
		for _, item := range bucket {
			if item.EnqueuedAt.Before(cutoff) {
				q.cancelLocked(item)
				removed++
				continue
			}
			kept = append(kept, item)
		}
		q.buckets[priority] = kept
	}
	if removed > 0 {
		q.updateDepthMetricsLocked()
	}
	return removed
}

// Limits reports the configured capacity and concurrency bounds.
func (q *PriorityQueue) Limits() (maxQueueSize, maxConcurrent int) {
	return q.cfg.MaxQueueSize, q.cfg.MaxConcurrent
}

// Status returns a snapshot of queue state and counters.
func (q *PriorityQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStatus{
		High:         len(q.buckets[PriorityHigh]),
		Normal:       len(q.buckets[PriorityNormal]),
		Low:          len(q.buckets[PriorityLow]),
		Active:       len(q.active),
		WaitingRetry: len(q.waiting),
		Processing:   q.running,
		Counters:     q.counters,
	}
}

// dispatchLoop is the single goroutine that moves items from buckets to
// execution units. It ticks at DispatchInterval and also wakes on enqueue
// and retry reinsertion.
func (q *PriorityQueue) dispatchLoop(ctx context.Context) {
	defer close(q.doneCh)

	ticker := time.NewTicker(q.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		q.dispatch(ctx)

		select {
		case <-ticker.C:
		case <-q.wakeCh:
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// dispatch starts execution units while capacity and work remain.
func (q *PriorityQueue) dispatch(ctx context.Context) {
	for {
		q.mu.Lock()
		if !q.running || len(q.active) >= q.cfg.MaxConcurrent {
			q.mu.Unlock()
			return
		}
		item := q.popLocked()
		if item == nil {
			q.mu.Unlock()
			return
		}
		if q.limiter != nil && !q.limiter.Allow() {
			// Over the dispatch rate; put the item back and wait for the
			// next tick.
			q.pushFrontLocked(item)
			q.mu.Unlock()
			return
		}
		q.active[item.SubjectID] = struct{}{}
		q.updateDepthMetricsLocked()
		metrics.ActiveWarms.Set(float64(len(q.active)))
		q.mu.Unlock()

		q.wg.Add(1)
		go q.run(ctx, item)
	}
}

// run is one execution unit: a single attempt for a single item, plus the
// retry decision for its failure.
func (q *PriorityQueue) run(ctx context.Context, item *QueueItem) {
	defer q.wg.Done()

	start := time.Now()
	err := q.exec(ctx, item)
	duration := time.Since(start)

	metrics.WarmDuration.WithLabelValues(item.Priority.String()).Observe(duration.Seconds())

	if err == nil {
		q.finish(item, nil, duration)
		return
	}

	if IsRetriable(err) && item.RetryCount < item.MaxRetries {
		q.scheduleRetry(item, err)
		return
	}

	if item.RetryCount >= item.MaxRetries && IsRetriable(err) {
		metrics.RetriesExhausted.Inc()
	}
	q.finish(item, err, duration)
}

// finish records a terminal outcome and frees the subject.
func (q *PriorityQueue) finish(item *QueueItem, err error, duration time.Duration) {
	q.mu.Lock()
	delete(q.active, item.SubjectID)
	if err == nil {
		q.counters.TotalProcessed++
	} else {
		q.counters.TotalFailed++
	}
	metrics.ActiveWarms.Set(float64(len(q.active)))
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn().
			Err(err).
			Str("subject_id", item.SubjectID).
			Int("attempts", item.RetryCount+1).
			Msg("Warming failed permanently")
	}

	if q.outcome != nil {
		q.outcome(item, err, item.RetryCount+1, duration)
	}
	q.wake()
}

// scheduleRetry parks the subject in the retry-wait set and reinserts it
// into its bucket after the backoff delay. Retried items re-enter at the
// front of their bucket by default, taking precedence over fresh
// same-priority work.
func (q *PriorityQueue) scheduleRetry(item *QueueItem, cause error) {
	item.RetryCount++
	delay := q.backoffDelay(item.RetryCount)

	q.mu.Lock()
	if !q.running {
		// Shutting down; treat as a permanent failure so the outcome is
		// not lost.
		delete(q.active, item.SubjectID)
		q.counters.TotalFailed++
		q.mu.Unlock()
		if q.outcome != nil {
			q.outcome(item, cause, item.RetryCount, 0)
		}
		return
	}
	delete(q.active, item.SubjectID)
	metrics.ActiveWarms.Set(float64(len(q.active)))
	q.counters.RetriesScheduled++
	metrics.RetriesScheduled.Inc()

	q.waiting[item.SubjectID] = &retryWait{
		timer: time.AfterFunc(delay, func() { q.reinsert(item) }),
		item:  item,
	}
	q.mu.Unlock()

	q.logger.Debug().
		Err(cause).
		Str("subject_id", item.SubjectID).
		Int("retry", item.RetryCount).
		Dur("delay", delay).
		Msg("Retry scheduled")
}

// reinsert moves a retry-waiting item back into its priority bucket.
func (q *PriorityQueue) reinsert(item *QueueItem) {
	q.mu.Lock()
	if _, ok := q.waiting[item.SubjectID]; !ok {
		// Cancelled by RemoveSubject or Stop.
		q.mu.Unlock()
		return
	}
	delete(q.waiting, item.SubjectID)

	if q.cfg.ReinsertFront {
		q.pushFrontLocked(item)
	} else {
		q.buckets[item.Priority] = append(q.buckets[item.Priority], item)
	}
	q.updateDepthMetricsLocked()
	q.mu.Unlock()

	q.wake()
}

// backoffDelay computes baseDelay * 2^retryCount, capped at MaxRetryDelay.
func (q *PriorityQueue) backoffDelay(retryCount int) time.Duration {
	delay := q.cfg.BaseRetryDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= q.cfg.MaxRetryDelay {
			return q.cfg.MaxRetryDelay
		}
	}
	return delay
}

// popLocked removes the next item in strict High -> Normal -> Low order,
// FIFO within a bucket.
func (q *PriorityQueue) popLocked() *QueueItem {
	for _, priority := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		bucket := q.buckets[priority]
		if len(bucket) > 0 {
			item := bucket[0]
			q.buckets[priority] = bucket[1:]
			return item
		}
	}
	return nil
}

func (q *PriorityQueue) pushFrontLocked(item *QueueItem) {
	q.buckets[item.Priority] = append([]*QueueItem{item}, q.buckets[item.Priority]...)
}

// evictOldestLowLocked drops the oldest low-priority item to make room.
// Returns false when the low bucket is empty.
func (q *PriorityQueue) evictOldestLowLocked() bool {
	bucket := q.buckets[PriorityLow]
	if len(bucket) == 0 {
		return false
	}
	evicted := bucket[0]
	q.buckets[PriorityLow] = bucket[1:]
	q.cancelLocked(evicted)
	q.counters.Evictions++
	metrics.QueueEvictions.Inc()

	q.logger.Debug().
		Str("subject_id", evicted.SubjectID).
		Msg("Evicted oldest low-priority item for new work")
	return true
}

func (q *PriorityQueue) subjectKnownLocked(subjectID string) bool {
	if _, ok := q.active[subjectID]; ok {
		return true
	}
	if _, ok := q.waiting[subjectID]; ok {
		return true
	}
	for _, bucket := range q.buckets {
		for _, item := range bucket {
			if item.SubjectID == subjectID {
				return true
			}
		}
	}
	return false
}

func (q *PriorityQueue) totalQueuedLocked() int {
	return len(q.buckets[PriorityHigh]) + len(q.buckets[PriorityNormal]) + len(q.buckets[PriorityLow])
}

// positionLocked returns the item's 1-based place in dispatch order.
func (q *PriorityQueue) positionLocked(target *QueueItem) int {
	pos := 0
	for _, priority := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		for _, item := range q.buckets[priority] {
			pos++
			if item.ID == target.ID {
				return pos
			}
		}
	}
	return pos
}

func (q *PriorityQueue) updateDepthMetricsLocked() {
	metrics.QueueDepth.WithLabelValues("high").Set(float64(len(q.buckets[PriorityHigh])))
	metrics.QueueDepth.WithLabelValues("normal").Set(float64(len(q.buckets[PriorityNormal])))
	metrics.QueueDepth.WithLabelValues("low").Set(float64(len(q.buckets[PriorityLow])))
}

// wake nudges the dispatch loop without waiting for the next tick.
func (q *PriorityQueue) wake() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}
