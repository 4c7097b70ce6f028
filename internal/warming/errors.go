// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSubject is returned when a subject is already queued,
	// waiting on a retry, or actively being warmed.
	ErrDuplicateSubject = errors.New("subject already queued or in flight")

	// ErrQueueFull is returned when the queue is at capacity and holds no
	// evictable low-priority item.
	ErrQueueFull = errors.New("warming queue full")

	// ErrDegraded is returned when the degradation manager refuses a
	// non-essential operation at critical level.
	ErrDegraded = errors.New("operation refused: service critically degraded")

	// ErrMaintenanceTimeout marks a maintenance run aborted by its deadline.
	ErrMaintenanceTimeout = errors.New("maintenance run exceeded its time budget")

	// ErrNotRunning is returned by operations that need a started component.
	ErrNotRunning = errors.New("component not running")
)

// ValidationError rejects malformed input synchronously at the call boundary.
// Validation failures are never queued and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BackendError wraps a failure reported by the cache backend. Backend errors
// are retriable by default; Fatal marks ones that retrying cannot fix.
type BackendError struct {
	Op    string
	Err   error
	Fatal bool
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsRetriable classifies an execution failure. Validation errors and fatal
// backend errors are terminal; everything else gets the retry/backoff path.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return false
	}
	var berr *BackendError
	if errors.As(err, &berr) {
		return !berr.Fatal
	}
	if errors.Is(err, ErrDegraded) {
		return false
	}
	return true
}

// ErrorKind returns the short classification name recorded on events.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDegraded):
		return "degraded"
	case errors.Is(err, ErrQueueFull):
		return "capacity"
	case errors.Is(err, ErrDuplicateSubject):
		return "duplicate"
	case errors.Is(err, ErrMaintenanceTimeout):
		return "maintenance_timeout"
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return "validation"
	}
	var berr *BackendError
	if errors.As(err, &berr) {
		if berr.Fatal {
			return "backend_fatal"
		}
		return "backend"
	}
	return "internal"
}
