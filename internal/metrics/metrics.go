// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

// Package metrics exposes Prometheus instrumentation for the warming engine:
// queue depth, active warms, warm latency, retries, degradation levels,
// circuit breaker state, maintenance and store outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warmup_queue_depth",
			Help: "Current number of queued warming requests per priority bucket",
		},
		[]string{"priority"},
	)

	ActiveWarms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warmup_active_warms",
			Help: "Current number of executing warm operations",
		},
	)

	QueueOverflows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmup_queue_overflows_total",
			Help: "Total number of enqueues rejected because the queue was full with no evictable item",
		},
	)

	QueueEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmup_queue_evictions_total",
			Help: "Total number of low-priority items evicted to admit higher-priority work",
		},
	)

	DuplicatesPrevented = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmup_duplicates_prevented_total",
			Help: "Total number of enqueues rejected by subject deduplication",
		},
	)

	// Warm operation metrics
	WarmOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_operations_total",
			Help: "Total warm operations by type and result",
		},
		[]string{"type", "result"}, // type: app_init, subject, smart, progressive, maintenance
	)

	WarmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warmup_operation_duration_seconds",
			Help:    "Duration of warm operations in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"priority"},
	)

	RetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmup_retries_scheduled_total",
			Help: "Total number of retry reinsertions scheduled after retriable failures",
		},
	)

	RetriesExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmup_retries_exhausted_total",
			Help: "Total number of items dropped after exhausting their retry budget",
		},
	)

	// Degradation metrics
	DegradationLevel = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warmup_degradation_level",
			Help: "Current degradation level per service aspect (0=none, 1=partial, 2=severe, 3=critical)",
		},
		[]string{"aspect"},
	)

	DegradedOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_degraded_operations_total",
			Help: "Operations checked against the degradation manager, by outcome",
		},
		[]string{"aspect", "outcome"}, // outcome: allowed, modified, blocked
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warmup_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	BreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)

	// Maintenance metrics
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_maintenance_runs_total",
			Help: "Maintenance tick outcomes",
		},
		[]string{"result"}, // result: success, failure, timeout
	)

	MaintenanceSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_maintenance_skips_total",
			Help: "Maintenance ticks skipped, by reason",
		},
		[]string{"reason"}, // reason: in_progress, quiet_hours, high_load
	)

	MaintenanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warmup_maintenance_duration_seconds",
			Help:    "Duration of maintenance runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
	)

	// Store metrics
	StoreHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmup_store_hits_total",
			Help: "Warm store lookup hits",
		},
	)

	StoreMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmup_store_misses_total",
			Help: "Warm store lookup misses",
		},
	)

	StoreWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmup_store_writes_total",
			Help: "Warm store entries written by warm operations",
		},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_events_published_total",
			Help: "Warming events published to the event bus, by type",
		},
		[]string{"type"},
	)
)
