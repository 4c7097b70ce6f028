// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"warmup.yaml",
	"warmup.yml",
	"/etc/warmup/config.yaml",
	"/etc/warmup/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "WARMUP_CONFIG"

// Load builds the configuration from layered sources, highest priority last:
//
//  1. Built-in defaults (Default())
//  2. Optional YAML config file
//  3. Environment variables via the explicit transform map
//
// The result is validated before being returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// supplied via environment variables.
var sliceConfigPaths = []string{
	"analyzer.peak_hours",
	"analyzer.off_hours",
	"analyzer.active_days",
	"analyzer.primary_pages",
	"analyzer.secondary_pages",
}

// processSliceFields converts comma-separated env values into slices for the
// known slice fields. YAML-sourced slices pass through untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped so stray environment noise cannot leak into
// the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Platform source
		"source_base_url": "source.base_url",
		"source_api_key":  "source.api_key",
		"source_timeout":  "source.timeout",

		// Store
		"store_path":      "store.path",
		"store_in_memory": "store.in_memory",
		"store_ttl":       "store.ttl",

		// Warming queue
		"warming_max_queue_size":       "warming.max_queue_size",
		"warming_max_concurrent":       "warming.max_concurrent",
		"warming_dispatch_interval":    "warming.dispatch_interval",
		"warming_max_retries":          "warming.max_retries",
		"warming_base_retry_delay":     "warming.base_retry_delay",
		"warming_max_retry_delay":      "warming.max_retry_delay",
		"warming_retry_reinsert_front": "warming.retry_reinsert_front",
		"warming_max_warms_per_sec":    "warming.max_warms_per_second",
		"warming_max_history_size":     "warming.max_history_size",

		// Analyzer
		"analyzer_peak_hours":      "analyzer.peak_hours",
		"analyzer_off_hours":       "analyzer.off_hours",
		"analyzer_active_days":     "analyzer.active_days",
		"analyzer_primary_pages":   "analyzer.primary_pages",
		"analyzer_secondary_pages": "analyzer.secondary_pages",

		// Degradation
		"degradation_window":             "degradation.window",
		"degradation_buckets":            "degradation.buckets",
		"degradation_min_samples":        "degradation.min_samples",
		"degradation_partial_threshold":  "degradation.partial_threshold",
		"degradation_severe_threshold":   "degradation.severe_threshold",
		"degradation_critical_threshold": "degradation.critical_threshold",

		// Maintenance
		"maintenance_enabled":            "maintenance.enabled",
		"maintenance_interval":           "maintenance.interval",
		"maintenance_quiet_start":        "maintenance.quiet_start",
		"maintenance_quiet_end":          "maintenance.quiet_end",
		"maintenance_hit_rate_warn":      "maintenance.hit_rate_warn",
		"maintenance_hit_rate_critical":  "maintenance.hit_rate_critical",
		"maintenance_high_load_fraction": "maintenance.high_load_fraction",
		"maintenance_max_retries":        "maintenance.max_retries",
		"maintenance_retry_delay":        "maintenance.retry_delay",
		"maintenance_run_timeout":        "maintenance.run_timeout",
		"maintenance_stale_after":        "maintenance.stale_after",

		// Circuit breaker
		"breaker_enabled":       "breaker.enabled",
		"breaker_min_requests":  "breaker.min_requests",
		"breaker_failure_ratio": "breaker.failure_ratio",
		"breaker_interval":      "breaker.interval",
		"breaker_timeout":       "breaker.timeout",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
