// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package cache

import (
	"sync"
	"time"
)

// OutcomeWindow tracks success/failure outcomes over a sliding time window.
// The window is divided into buckets forming a circular buffer; expired
// buckets are zeroed as time advances, so memory stays O(buckets).
//
// The degradation manager uses one window per service aspect to compute a
// rolling error rate.
type OutcomeWindow struct {
	mu         sync.Mutex
	successes  []int64
	failures   []int64
	bucketSize time.Duration
	numBuckets int
	current    int
	lastUpdate time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewOutcomeWindow creates a window of the given total duration divided into
// numBuckets buckets.
func NewOutcomeWindow(window time.Duration, numBuckets int) *OutcomeWindow {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}

	return &OutcomeWindow{
		successes:  make([]int64, numBuckets),
		failures:   make([]int64, numBuckets),
		bucketSize: window / time.Duration(numBuckets),
		numBuckets: numBuckets,
		lastUpdate: time.Now(),
		now:        time.Now,
	}
}

// Record adds one outcome to the current bucket.
func (w *OutcomeWindow) Record(success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.advance()
	if success {
		w.successes[w.current]++
	} else {
		w.failures[w.current]++
	}
}

// Totals returns the success and failure counts within the window.
func (w *OutcomeWindow) Totals() (successes, failures int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.advance()
	for i := 0; i < w.numBuckets; i++ {
		successes += w.successes[i]
		failures += w.failures[i]
	}
	return successes, failures
}

// ErrorRate returns failures/(successes+failures) within the window, and the
// total sample count. Rate is 0 when the window is empty.
func (w *OutcomeWindow) ErrorRate() (rate float64, samples int64) {
	successes, failures := w.Totals()
	samples = successes + failures
	if samples == 0 {
		return 0, 0
	}
	return float64(failures) / float64(samples), samples
}

// Reset clears all buckets.
func (w *OutcomeWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.successes {
		w.successes[i] = 0
		w.failures[i] = 0
	}
	w.current = 0
	w.lastUpdate = w.now()
}

// advance rotates the circular buffer forward. Must be called with mu held.
func (w *OutcomeWindow) advance() {
	now := w.now()
	elapsed := now.Sub(w.lastUpdate)

	bucketsElapsed := int(elapsed / w.bucketSize)
	if bucketsElapsed <= 0 {
		return
	}

	if bucketsElapsed >= w.numBuckets {
		for i := range w.successes {
			w.successes[i] = 0
			w.failures[i] = 0
		}
		w.current = 0
		w.lastUpdate = now
		return
	}

	for i := 0; i < bucketsElapsed; i++ {
		w.current = (w.current + 1) % w.numBuckets
		w.successes[w.current] = 0
		w.failures[w.current] = 0
	}
	w.lastUpdate = w.lastUpdate.Add(time.Duration(bucketsElapsed) * w.bucketSize)
}
