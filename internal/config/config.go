// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

// Package config defines the Warmup configuration surface and its koanf-based
// layered loader (defaults -> YAML file -> environment variables).
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Warmup server.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Source      SourceConfig      `koanf:"source"`
	Store       StoreConfig       `koanf:"store"`
	Warming     WarmingConfig     `koanf:"warming"`
	Analyzer    AnalyzerConfig    `koanf:"analyzer"`
	Degradation DegradationConfig `koanf:"degradation"`
	Maintenance MaintenanceConfig `koanf:"maintenance"`
	Breaker     BreakerConfig     `koanf:"breaker"`
}

// ServerConfig holds the operational HTTP API settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// LoggingConfig mirrors internal/logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SourceConfig points the warm store at the coaching platform's internal API.
type SourceConfig struct {
	// BaseURL of the platform internal API. Empty switches the server to a
	// static development fixture source.
	BaseURL string `koanf:"base_url"`

	// APIKey is the service-to-service bearer token.
	APIKey string `koanf:"api_key"`

	// Timeout bounds each payload fetch.
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// StoreConfig configures the local warm store.
type StoreConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is true.
	Path string `koanf:"path"`

	// InMemory switches the store to a non-persistent in-memory backend.
	InMemory bool `koanf:"in_memory"`

	// TTL is how long a warmed entry stays fresh.
	TTL time.Duration `koanf:"ttl" validate:"min=1s"`
}

// WarmingConfig configures the priority queue and dispatch loop.
type WarmingConfig struct {
	// MaxQueueSize is the total capacity across all priority buckets.
	MaxQueueSize int `koanf:"max_queue_size" validate:"min=1"`

	// MaxConcurrent bounds the number of simultaneously executing warms.
	MaxConcurrent int `koanf:"max_concurrent" validate:"min=1"`

	// DispatchInterval is the dispatch loop tick.
	DispatchInterval time.Duration `koanf:"dispatch_interval" validate:"min=1ms"`

	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `koanf:"max_retries" validate:"min=0"`

	// BaseRetryDelay seeds the exponential backoff (base * 2^retryCount).
	BaseRetryDelay time.Duration `koanf:"base_retry_delay" validate:"min=1ms"`

	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration `koanf:"max_retry_delay" validate:"min=1ms"`

	// RetryReinsertFront controls where a retried item re-enters its bucket.
	// Front (the default) favors fast recovery of a struggling subject at the
	// cost of delaying freshly enqueued same-priority work.
	RetryReinsertFront bool `koanf:"retry_reinsert_front"`

	// MaxWarmsPerSecond rate-limits dispatches. 0 disables the limiter.
	MaxWarmsPerSecond float64 `koanf:"max_warms_per_second" validate:"min=0"`

	// MaxHistorySize bounds the warming event ring buffer.
	MaxHistorySize int `koanf:"max_history_size" validate:"min=1"`
}

// AnalyzerConfig configures the context analyzer's scoring windows.
// Hour windows use "HH-HH" notation; a window may wrap past midnight.
type AnalyzerConfig struct {
	PeakHours      []string `koanf:"peak_hours"`
	OffHours       []string `koanf:"off_hours"`
	ActiveDays     []string `koanf:"active_days"`
	PrimaryPages   []string `koanf:"primary_pages"`
	SecondaryPages []string `koanf:"secondary_pages"`
}

// DegradationConfig configures the per-aspect health tracker.
type DegradationConfig struct {
	// Window is the rolling window over which error rates are measured.
	Window time.Duration `koanf:"window" validate:"min=1s"`

	// Buckets divides the window for the sliding counters.
	Buckets int `koanf:"buckets" validate:"min=1"`

	// MinSamples is the minimum number of observed outcomes before a level
	// change is considered.
	MinSamples int `koanf:"min_samples" validate:"min=1"`

	// Level thresholds as error-rate fractions in (0, 1].
	PartialThreshold  float64 `koanf:"partial_threshold" validate:"gt=0,lte=1"`
	SevereThreshold   float64 `koanf:"severe_threshold" validate:"gt=0,lte=1"`
	CriticalThreshold float64 `koanf:"critical_threshold" validate:"gt=0,lte=1"`
}

// MaintenanceConfig configures the periodic maintenance scheduler.
type MaintenanceConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval" validate:"min=1m"`

	// QuietStart/QuietEnd bound the quiet-hours window (wall-clock hours,
	// may wrap past midnight). Equal values disable quiet hours.
	QuietStart int `koanf:"quiet_start" validate:"min=0,max=23"`
	QuietEnd   int `koanf:"quiet_end" validate:"min=0,max=23"`

	// HitRateWarn/HitRateCritical are backend hit-rate percentages below
	// which automatic warming is triggered (smart and progressive
	// respectively).
	HitRateWarn     float64 `koanf:"hit_rate_warn" validate:"min=0,max=100"`
	HitRateCritical float64 `koanf:"hit_rate_critical" validate:"min=0,max=100"`

	// HighLoadFraction skips a tick when queued items exceed this fraction
	// of MaxQueueSize.
	HighLoadFraction float64 `koanf:"high_load_fraction" validate:"gt=0,lte=1"`

	// MaxRetries and RetryDelay govern retrying a failed maintenance run
	// within a tick (fixed delay, no backoff).
	MaxRetries int           `koanf:"max_retries" validate:"min=0"`
	RetryDelay time.Duration `koanf:"retry_delay" validate:"min=1ms"`

	// RunTimeout aborts a maintenance run that exceeds it.
	RunTimeout time.Duration `koanf:"run_timeout" validate:"min=1s"`

	// StaleAfter is the age past which queued items are cleaned up.
	StaleAfter time.Duration `koanf:"stale_after" validate:"min=1m"`
}

// BreakerConfig configures the circuit breaker guarding the cache backend.
type BreakerConfig struct {
	Enabled bool `koanf:"enabled"`

	// MinRequests is the minimum sample before the breaker can trip.
	MinRequests uint32 `koanf:"min_requests" validate:"min=1"`

	// FailureRatio at or above which the breaker opens.
	FailureRatio float64 `koanf:"failure_ratio" validate:"gt=0,lte=1"`

	// Interval resets the closed-state counts; Timeout is the open->half-open
	// recovery wait.
	Interval time.Duration `koanf:"interval" validate:"min=1s"`
	Timeout  time.Duration `koanf:"timeout" validate:"min=1s"`
}

// Default returns a Config with all documented defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8642,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Source: SourceConfig{
			BaseURL: "",
			APIKey:  "",
			Timeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Path:     "/data/warmup",
			InMemory: false,
			TTL:      15 * time.Minute,
		},
		Warming: WarmingConfig{
			MaxQueueSize:       50,
			MaxConcurrent:      3,
			DispatchInterval:   500 * time.Millisecond,
			MaxRetries:         3,
			BaseRetryDelay:     time.Second,
			MaxRetryDelay:      30 * time.Second,
			RetryReinsertFront: true,
			MaxWarmsPerSecond:  0, // unlimited
			MaxHistorySize:     500,
		},
		Analyzer: AnalyzerConfig{
			PeakHours:      []string{"06-09", "17-20"},
			OffHours:       []string{"22-05"},
			ActiveDays:     []string{"mon", "tue", "wed", "thu", "fri"},
			PrimaryPages:   []string{"LogWorkout", "Dashboard", "ClientDetail"},
			SecondaryPages: []string{"Progress", "Schedule", "Messages"},
		},
		Degradation: DegradationConfig{
			Window:            5 * time.Minute,
			Buckets:           10,
			MinSamples:        2,
			PartialThreshold:  0.2,
			SevereThreshold:   0.4,
			CriticalThreshold: 0.6,
		},
		Maintenance: MaintenanceConfig{
			Enabled:          true,
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
		},
		Breaker: BreakerConfig{
			Enabled:      true,
			MinRequests:  10,
			FailureRatio: 0.6,
			Interval:     time.Minute,
			Timeout:      2 * time.Minute,
		},
	}
}

// Validate checks struct tags plus the cross-field constraints the tags
// cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if c.Warming.MaxRetryDelay < c.Warming.BaseRetryDelay {
		return fmt.Errorf("warming.max_retry_delay (%s) must be >= warming.base_retry_delay (%s)",
			c.Warming.MaxRetryDelay, c.Warming.BaseRetryDelay)
	}
	if c.Degradation.PartialThreshold >= c.Degradation.SevereThreshold ||
		c.Degradation.SevereThreshold >= c.Degradation.CriticalThreshold {
		return fmt.Errorf("degradation thresholds must be strictly increasing: partial=%v severe=%v critical=%v",
			c.Degradation.PartialThreshold, c.Degradation.SevereThreshold, c.Degradation.CriticalThreshold)
	}
	if c.Maintenance.HitRateCritical > c.Maintenance.HitRateWarn {
		return fmt.Errorf("maintenance.hit_rate_critical (%v) must be <= maintenance.hit_rate_warn (%v)",
			c.Maintenance.HitRateCritical, c.Maintenance.HitRateWarn)
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}

	for _, field := range []struct {
		name    string
		windows []string
	}{
		{"analyzer.peak_hours", c.Analyzer.PeakHours},
		{"analyzer.off_hours", c.Analyzer.OffHours},
	} {
		for _, w := range field.windows {
			if _, _, err := ParseHourWindow(w); err != nil {
				return fmt.Errorf("%s: %w", field.name, err)
			}
		}
	}
	for _, d := range c.Analyzer.ActiveDays {
		if _, err := ParseDay(d); err != nil {
			return fmt.Errorf("analyzer.active_days: %w", err)
		}
	}

	return nil
}

// ParseHourWindow parses "HH-HH" into start and end hours. The window is
// inclusive of both endpoints and may wrap past midnight ("22-05").
func ParseHourWindow(s string) (start, end int, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid hour window %q, want \"HH-HH\"", s)
	}
	start, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || start < 0 || start > 23 {
		return 0, 0, fmt.Errorf("invalid start hour in window %q", s)
	}
	end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || end < 0 || end > 23 {
		return 0, 0, fmt.Errorf("invalid end hour in window %q", s)
	}
	return start, end, nil
}

// ParseDay parses a short or long weekday name into a time.Weekday.
func ParseDay(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sun", "sunday":
		return time.Sunday, nil
	case "mon", "monday":
		return time.Monday, nil
	case "tue", "tues", "tuesday":
		return time.Tuesday, nil
	case "wed", "wednesday":
		return time.Wednesday, nil
	case "thu", "thur", "thursday":
		return time.Thursday, nil
	case "fri", "friday":
		return time.Friday, nil
	case "sat", "saturday":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("invalid day name %q", s)
	}
}
