// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/coachware/warmup/internal/metrics"
)

// WarmResult summarizes one completed warm operation.
type WarmResult struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// CacheBackend performs the actual cache population. Implementations must be
// idempotent and safe to call concurrently for different subjects.
type CacheBackend interface {
	// WarmSubject populates the cache for one subject. Priority may reduce
	// scope: Low warms essentials only.
	WarmSubject(ctx context.Context, subjectID string, priority Priority) (*WarmResult, error)

	// WarmShared populates process-wide shared data (exercise catalog,
	// program templates).
	WarmShared(ctx context.Context) (*WarmResult, error)

	// Stats reports backend health for maintenance decisions.
	Stats(ctx context.Context) (BackendStats, error)
}

// SubjectProvider exposes the subject currently using the app, when known.
type SubjectProvider interface {
	Current() (string, bool)
}

// SubjectProviderFunc adapts a function to SubjectProvider.
type SubjectProviderFunc func() (string, bool)

func (f SubjectProviderFunc) Current() (string, bool) { return f() }

// BreakerConfig tunes the circuit breaker around the cache backend.
type BreakerConfig struct {
	MinRequests  uint32
	FailureRatio float64
	Interval     time.Duration
	Timeout      time.Duration
}

// DefaultBreakerConfig opens after a 60% failure rate over at least 10
// requests, with a 2 minute recovery timeout.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MinRequests:  10,
		FailureRatio: 0.6,
		Interval:     time.Minute,
		Timeout:      2 * time.Minute,
	}
}

// BreakerBackend wraps a CacheBackend with circuit breaker protection so a
// struggling data source is not hammered by queued warm work.
//
// The breaker uses real time for its interval and timeout calculations. The
// timing controls recovery, not data integrity; tests exercise the wrapped
// backend directly.
type BreakerBackend struct {
	backend CacheBackend
	cb      *gobreaker.CircuitBreaker[*WarmResult]
	name    string
	logger  zerolog.Logger
}

// NewBreakerBackend creates the wrapper.
func NewBreakerBackend(backend CacheBackend, cfg BreakerConfig, logger zerolog.Logger) *BreakerBackend {
	if cfg.MinRequests == 0 {
		cfg = DefaultBreakerConfig()
	}
	name := "cache-backend"
	log := logger.With().Str("component", "breaker").Logger()

	metrics.BreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*WarmResult](gobreaker.Settings{
		Name:     name,
		Interval: cfg.Interval,
		Timeout:  cfg.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			trip := ratio >= cfg.FailureRatio
			if trip {
				log.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).
					Msg("Opening circuit to cache backend")
			}
			return trip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			log.Info().Str("from", fromStr).Str("to", toStr).Msg("Breaker state transition")
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.BreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerBackend{backend: backend, cb: cb, name: name, logger: log}
}

// State returns the breaker state name for the status API.
func (b *BreakerBackend) State() string { return stateToString(b.cb.State()) }

func (b *BreakerBackend) execute(op string, fn func() (*WarmResult, error)) (*WarmResult, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.BreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			return nil, &BackendError{Op: op, Err: err}
		}
		metrics.BreakerRequests.WithLabelValues(b.name, "failure").Inc()
		var berr *BackendError
		if errors.As(err, &berr) {
			return nil, err
		}
		return nil, &BackendError{Op: op, Err: err}
	}
	metrics.BreakerRequests.WithLabelValues(b.name, "success").Inc()
	return result, nil
}

// WarmSubject warms one subject with breaker protection.
func (b *BreakerBackend) WarmSubject(ctx context.Context, subjectID string, priority Priority) (*WarmResult, error) {
	return b.execute("warm_subject", func() (*WarmResult, error) {
		return b.backend.WarmSubject(ctx, subjectID, priority)
	})
}

// WarmShared warms shared data with breaker protection.
func (b *BreakerBackend) WarmShared(ctx context.Context) (*WarmResult, error) {
	return b.execute("warm_shared", func() (*WarmResult, error) {
		return b.backend.WarmShared(ctx)
	})
}

// Stats passes through to the wrapped backend. Health queries stay cheap and
// read-only, so they bypass the breaker.
func (b *BreakerBackend) Stats(ctx context.Context) (BackendStats, error) {
	return b.backend.Stats(ctx)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
