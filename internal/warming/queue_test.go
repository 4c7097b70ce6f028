// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coachware/warmup/internal/logging"
)

func testQueueConfig() QueueConfig {
	return QueueConfig{
		MaxQueueSize:     10,
		MaxConcurrent:    3,
		DispatchInterval: 5 * time.Millisecond,
		MaxRetries:       3,
		BaseRetryDelay:   time.Millisecond,
		MaxRetryDelay:    20 * time.Millisecond,
		ReinsertFront:    true,
	}
}

func noRetry() EnqueueOptions { return EnqueueOptions{MaxRetries: 0} }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestQueueEnqueueValidation(t *testing.T) {
	q := NewPriorityQueue(testQueueConfig(), func(context.Context, *QueueItem) error { return nil }, nil, logging.NewTestLogger(io.Discard))

	if _, err := q.Enqueue("", PriorityHigh, nil, EnqueueOptions{MaxRetries: -1}); err == nil {
		t.Error("expected error for empty subject id")
	}
	var verr *ValidationError
	if _, err := q.Enqueue("u1", Priority(9), nil, EnqueueOptions{MaxRetries: -1}); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for bad priority, got %v", err)
	}
}

func TestQueueDuplicatePrevention(t *testing.T) {
	q := NewPriorityQueue(testQueueConfig(), func(context.Context, *QueueItem) error { return nil }, nil, logging.NewTestLogger(io.Discard))

	if _, err := q.Enqueue("u1", PriorityNormal, nil, noRetry()); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := q.Enqueue("u1", PriorityHigh, nil, noRetry()); !errors.Is(err, ErrDuplicateSubject) {
		t.Errorf("second enqueue err = %v, want ErrDuplicateSubject", err)
	}

	st := q.Status()
	if st.Counters.DuplicatesPrevented != 1 {
		t.Errorf("DuplicatesPrevented = %d, want 1", st.Counters.DuplicatesPrevented)
	}
	if st.High+st.Normal+st.Low != 1 {
		t.Errorf("queued = %d, want 1", st.High+st.Normal+st.Low)
	}
}

func TestQueueAckPosition(t *testing.T) {
	q := NewPriorityQueue(testQueueConfig(), func(context.Context, *QueueItem) error { return nil }, nil, logging.NewTestLogger(io.Discard))

	ackLow, _ := q.Enqueue("low1", PriorityLow, nil, noRetry())
	if ackLow.Position != 1 {
		t.Errorf("low position = %d, want 1", ackLow.Position)
	}
	ackHigh, _ := q.Enqueue("high1", PriorityHigh, nil, noRetry())
	if ackHigh.Position != 1 {
		t.Errorf("high position = %d, want 1 (dispatches before queued low)", ackHigh.Position)
	}
	ackNorm, _ := q.Enqueue("norm1", PriorityNormal, nil, noRetry())
	if ackNorm.Position != 2 {
		t.Errorf("normal position = %d, want 2", ackNorm.Position)
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxConcurrent = 1

	var mu sync.Mutex
	var order []string
	q := NewPriorityQueue(cfg, func(_ context.Context, item *QueueItem) error {
		mu.Lock()
		order = append(order, item.SubjectID)
		mu.Unlock()
		return nil
	}, nil, logging.NewTestLogger(io.Discard))

	// Queue before starting so dispatch order is purely priority-driven.
	q.Enqueue("low1", PriorityLow, nil, noRetry())
	q.Enqueue("norm1", PriorityNormal, nil, noRetry())
	q.Enqueue("high1", PriorityHigh, nil, noRetry())
	q.Enqueue("high2", PriorityHigh, nil, noRetry())
	q.Enqueue("norm2", PriorityNormal, nil, noRetry())

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return q.Status().Counters.TotalProcessed == 5
	}, "queue did not drain")
	q.Stop()

	want := []string{"high1", "high2", "norm1", "norm2", "low1"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("processed %d items, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestQueueOverflowEvictsOldestLow(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxQueueSize = 3

	q := NewPriorityQueue(cfg, func(context.Context, *QueueItem) error { return nil }, nil, logging.NewTestLogger(io.Discard))

	q.Enqueue("low1", PriorityLow, nil, noRetry())
	q.Enqueue("low2", PriorityLow, nil, noRetry())
	q.Enqueue("norm1", PriorityNormal, nil, noRetry())

	// Full; a high-priority arrival should push out low1.
	if _, err := q.Enqueue("high1", PriorityHigh, nil, noRetry()); err != nil {
		t.Fatalf("enqueue at capacity: %v", err)
	}

	st := q.Status()
	if st.Low != 1 {
		t.Errorf("low depth = %d, want 1", st.Low)
	}
	if st.Counters.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", st.Counters.Evictions)
	}

	// low1 is gone, so it no longer trips the dedup check; the re-enqueue
	// evicts low2 to make room.
	if _, err := q.Enqueue("low1", PriorityLow, nil, noRetry()); err != nil {
		t.Errorf("re-enqueue evicted subject: %v", err)
	}
}

func TestQueueOverflowRejectsWhenNothingEvictable(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxQueueSize = 2

	q := NewPriorityQueue(cfg, func(context.Context, *QueueItem) error { return nil }, nil, logging.NewTestLogger(io.Discard))

	q.Enqueue("high1", PriorityHigh, nil, noRetry())
	q.Enqueue("norm1", PriorityNormal, nil, noRetry())

	if _, err := q.Enqueue("high2", PriorityHigh, nil, noRetry()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
	if st := q.Status(); st.Counters.OverflowCount != 1 {
		t.Errorf("OverflowCount = %d, want 1", st.Counters.OverflowCount)
	}
}

func TestQueueConcurrencyBound(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxConcurrent = 2

	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	q := NewPriorityQueue(cfg, func(_ context.Context, _ *QueueItem) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return nil
	}, nil, logging.NewTestLogger(io.Discard))

	for i := 0; i < 6; i++ {
		q.Enqueue(fmt.Sprintf("u%d", i), PriorityNormal, nil, noRetry())
	}
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, time.Second, func() bool { return inFlight.Load() == 2 }, "never reached the concurrency cap")
	// Give the dispatcher a few ticks to (incorrectly) start more.
	time.Sleep(30 * time.Millisecond)
	close(release)

	waitFor(t, time.Second, func() bool {
		return q.Status().Counters.TotalProcessed == 6
	}, "queue did not drain")
	q.Stop()

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestQueueRetryWithBackoff(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxRetries = 2

	var attempts atomic.Int32
	outcomeCh := make(chan error, 1)
	q := NewPriorityQueue(cfg,
		func(context.Context, *QueueItem) error {
			attempts.Add(1)
			return errors.New("transient backend hiccup")
		},
		func(_ *QueueItem, err error, n int, _ time.Duration) {
			if n != 3 {
				t.Errorf("outcome attempts = %d, want 3", n)
			}
			outcomeCh <- err
		},
		logging.NewTestLogger(io.Discard))

	q.Enqueue("u1", PriorityHigh, nil, EnqueueOptions{MaxRetries: -1})
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-outcomeCh:
		if err == nil {
			t.Error("expected a failure outcome")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome after retries exhausted")
	}
	q.Stop()

	if n := attempts.Load(); n != 3 {
		t.Errorf("attempts = %d, want 3 (1 initial + 2 retries)", n)
	}
	st := q.Status()
	if st.Counters.RetriesScheduled != 2 {
		t.Errorf("RetriesScheduled = %d, want 2", st.Counters.RetriesScheduled)
	}
	if st.Counters.TotalFailed != 1 {
		t.Errorf("TotalFailed = %d, want 1", st.Counters.TotalFailed)
	}
}

func TestQueueRetrySucceedsOnSecondAttempt(t *testing.T) {
	var attempts atomic.Int32
	outcomeCh := make(chan error, 1)
	q := NewPriorityQueue(testQueueConfig(),
		func(context.Context, *QueueItem) error {
			if attempts.Add(1) == 1 {
				return errors.New("transient")
			}
			return nil
		},
		func(_ *QueueItem, err error, _ int, _ time.Duration) { outcomeCh <- err },
		logging.NewTestLogger(io.Discard))

	q.Enqueue("u1", PriorityNormal, nil, EnqueueOptions{MaxRetries: -1})
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-outcomeCh:
		if err != nil {
			t.Errorf("outcome err = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome")
	}
	q.Stop()

	st := q.Status()
	if st.Counters.TotalProcessed != 1 || st.Counters.TotalFailed != 0 {
		t.Errorf("processed/failed = %d/%d, want 1/0", st.Counters.TotalProcessed, st.Counters.TotalFailed)
	}
}

func TestQueueValidationErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	outcomeCh := make(chan struct{}, 1)
	q := NewPriorityQueue(testQueueConfig(),
		func(context.Context, *QueueItem) error {
			attempts.Add(1)
			return &ValidationError{Field: "subject_id", Reason: "unknown subject"}
		},
		func(*QueueItem, error, int, time.Duration) { outcomeCh <- struct{}{} },
		logging.NewTestLogger(io.Discard))

	q.Enqueue("ghost", PriorityHigh, nil, EnqueueOptions{MaxRetries: -1})
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-outcomeCh:
	case <-time.After(time.Second):
		t.Fatal("no outcome")
	}
	q.Stop()

	if n := attempts.Load(); n != 1 {
		t.Errorf("attempts = %d, want 1 (validation errors are terminal)", n)
	}
}

func TestQueueRetryWaitCountsForDedup(t *testing.T) {
	cfg := testQueueConfig()
	cfg.BaseRetryDelay = 200 * time.Millisecond
	cfg.MaxRetryDelay = 400 * time.Millisecond

	firstAttempt := make(chan struct{}, 1)
	q := NewPriorityQueue(cfg, func(context.Context, *QueueItem) error {
		select {
		case firstAttempt <- struct{}{}:
		default:
		}
		return errors.New("transient")
	}, nil, logging.NewTestLogger(io.Discard))

	q.Enqueue("u1", PriorityNormal, nil, EnqueueOptions{MaxRetries: -1})
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-firstAttempt
	waitFor(t, time.Second, func() bool { return q.Status().WaitingRetry == 1 }, "item never entered retry wait")

	if _, err := q.Enqueue("u1", PriorityHigh, nil, noRetry()); !errors.Is(err, ErrDuplicateSubject) {
		t.Errorf("err = %v, want ErrDuplicateSubject while waiting on retry", err)
	}
	q.Stop()
}

func TestQueueRemoveSubject(t *testing.T) {
	q := NewPriorityQueue(testQueueConfig(), func(context.Context, *QueueItem) error { return nil }, nil, logging.NewTestLogger(io.Discard))

	q.Enqueue("u1", PriorityNormal, nil, noRetry())
	q.Enqueue("u2", PriorityLow, nil, noRetry())

	if !q.RemoveSubject("u1") {
		t.Error("RemoveSubject(u1) = false, want true")
	}
	if q.RemoveSubject("u1") {
		t.Error("second RemoveSubject(u1) = true, want false")
	}
	if st := q.Status(); st.Normal != 0 || st.Low != 1 {
		t.Errorf("depths = normal %d low %d, want 0, 1", st.Normal, st.Low)
	}
}

func TestQueueClear(t *testing.T) {
	q := NewPriorityQueue(testQueueConfig(), func(context.Context, *QueueItem) error { return nil }, nil, logging.NewTestLogger(io.Discard))

	q.Enqueue("u1", PriorityHigh, nil, noRetry())
	q.Enqueue("u2", PriorityNormal, nil, noRetry())
	q.Enqueue("u3", PriorityLow, nil, noRetry())

	if n := q.Clear(PriorityLow); n != 1 {
		t.Errorf("Clear(low) = %d, want 1", n)
	}
	if n := q.ClearAll(); n != 2 {
		t.Errorf("ClearAll = %d, want 2", n)
	}
	if st := q.Status(); st.High+st.Normal+st.Low != 0 {
		t.Error("queue not empty after ClearAll")
	}
}

func TestQueueBackoffDelay(t *testing.T) {
	cfg := QueueConfig{BaseRetryDelay: time.Second, MaxRetryDelay: 30 * time.Second}
	q := NewPriorityQueue(cfg, func(context.Context, *QueueItem) error { return nil }, nil, logging.NewTestLogger(io.Discard))

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := q.backoffDelay(tt.retryCount); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestQueueStopIsIdempotent(t *testing.T) {
	q := NewPriorityQueue(testQueueConfig(), func(context.Context, *QueueItem) error { return nil }, nil, logging.NewTestLogger(io.Discard))

	if err := q.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := q.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
