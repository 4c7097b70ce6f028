// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

// Command server runs the Warmup daemon: the background cache-warming
// scheduler for the Coachware fitness platform. It wires configuration,
// the warm store, the warming orchestrator, the maintenance scheduler and
// the ops HTTP API under a supervision tree, then serves until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/coachware/warmup/internal/api"
	"github.com/coachware/warmup/internal/config"
	"github.com/coachware/warmup/internal/logging"
	"github.com/coachware/warmup/internal/store"
	"github.com/coachware/warmup/internal/supervisor"
	"github.com/coachware/warmup/internal/warming"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.With().Str("version", version).Logger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Warmup exited with error")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, provider := buildSource(cfg, logger)

	backend, closer, err := buildStore(cfg, source, logger)
	if err != nil {
		return fmt.Errorf("building warm store: %w", err)
	}

	guarded := backend
	if cfg.Breaker.Enabled {
		guarded = warming.NewBreakerBackend(backend, warming.BreakerConfig{
			MinRequests:  cfg.Breaker.MinRequests,
			FailureRatio: cfg.Breaker.FailureRatio,
			Interval:     cfg.Breaker.Interval,
			Timeout:      cfg.Breaker.Timeout,
		}, logger)
	}

	bus := warming.NewEventBus(logger)
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn().Err(err).Msg("Event bus close failed")
		}
	}()

	analyzerCfg, err := buildAnalyzerConfig(cfg.Analyzer)
	if err != nil {
		return fmt.Errorf("building analyzer config: %w", err)
	}

	orch := warming.NewOrchestrator(warming.OrchestratorConfig{
		Queue: warming.QueueConfig{
			MaxQueueSize:      cfg.Warming.MaxQueueSize,
			MaxConcurrent:     cfg.Warming.MaxConcurrent,
			DispatchInterval:  cfg.Warming.DispatchInterval,
			MaxRetries:        cfg.Warming.MaxRetries,
			BaseRetryDelay:    cfg.Warming.BaseRetryDelay,
			MaxRetryDelay:     cfg.Warming.MaxRetryDelay,
			ReinsertFront:     cfg.Warming.RetryReinsertFront,
			MaxWarmsPerSecond: cfg.Warming.MaxWarmsPerSecond,
		},
		Analyzer: analyzerCfg,
		Degradation: warming.DegradationConfig{
			Window:            cfg.Degradation.Window,
			Buckets:           cfg.Degradation.Buckets,
			MinSamples:        cfg.Degradation.MinSamples,
			PartialThreshold:  cfg.Degradation.PartialThreshold,
			SevereThreshold:   cfg.Degradation.SevereThreshold,
			CriticalThreshold: cfg.Degradation.CriticalThreshold,
		},
		MaxHistory: cfg.Warming.MaxHistorySize,
	}, guarded, provider, bus, logger)

	var maint *warming.MaintenanceScheduler
	if cfg.Maintenance.Enabled {
		maint = warming.NewMaintenanceScheduler(warming.MaintenanceConfig{
			Interval:         cfg.Maintenance.Interval,
			QuietStart:       cfg.Maintenance.QuietStart,
			QuietEnd:         cfg.Maintenance.QuietEnd,
			HitRateWarn:      cfg.Maintenance.HitRateWarn,
			HitRateCritical:  cfg.Maintenance.HitRateCritical,
			HighLoadFraction: cfg.Maintenance.HighLoadFraction,
			MaxRetries:       cfg.Maintenance.MaxRetries,
			RetryDelay:       cfg.Maintenance.RetryDelay,
			RunTimeout:       cfg.Maintenance.RunTimeout,
			StaleAfter:       cfg.Maintenance.StaleAfter,
		}, orch, provider, logger)
	}

	var apiMaint api.Maintenance
	if maint != nil {
		apiMaint = maint
	}
	srv := api.NewServer(api.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Timeout: cfg.Server.Timeout,
	}, orch, apiMaint, logger)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddStorageService(supervisor.NewStoreService("warm-store", closer))
	tree.AddWarmingService(supervisor.NewDispatcherService(orch))
	if maint != nil {
		tree.AddWarmingService(supervisor.NewMaintenanceService(maint))
	}
	tree.AddAPIService(supervisor.NewHTTPService(srv, 10*time.Second))

	logger.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Bool("maintenance", cfg.Maintenance.Enabled).
		Bool("breaker", cfg.Breaker.Enabled).
		Bool("in_memory_store", cfg.Store.InMemory).
		Msg("Warmup starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("Warmup stopped")
	return nil
}

// buildSource picks the data source and subject provider. Without a platform
// base URL the server runs in development mode against static fixtures.
func buildSource(cfg *config.Config, logger zerolog.Logger) (store.DataSource, warming.SubjectProvider) {
	if cfg.Source.BaseURL != "" {
		platform := store.NewPlatformSource(cfg.Source.BaseURL, cfg.Source.APIKey, cfg.Source.Timeout, logger)
		return platform, store.NewActiveSubjectProvider(platform, cfg.Source.Timeout)
	}

	logger.Warn().Msg("No platform source configured, serving development fixtures")
	return devSource(), warming.SubjectProviderFunc(func() (string, bool) {
		return "demo-coach", true
	})
}

// buildStore builds the warm store per configuration. The returned closer
// releases the store at shutdown.
func buildStore(cfg *config.Config, source store.DataSource, logger zerolog.Logger) (warming.CacheBackend, interface{ Close() error }, error) {
	if cfg.Store.InMemory {
		mem := store.NewMemoryStore(cfg.Store.TTL, source)
		return mem, mem, nil
	}

	bs, err := store.NewBadgerStore(store.Options{
		Path:       cfg.Store.Path,
		TTL:        cfg.Store.TTL,
		GCInterval: 10 * time.Minute,
	}, source, logger)
	if err != nil {
		return nil, nil, err
	}
	return bs, bs, nil
}

// buildAnalyzerConfig parses the string-form analyzer configuration into the
// analyzer's typed form.
func buildAnalyzerConfig(cfg config.AnalyzerConfig) (warming.AnalyzerConfig, error) {
	out := warming.AnalyzerConfig{
		PrimaryPages:   cfg.PrimaryPages,
		SecondaryPages: cfg.SecondaryPages,
	}

	for _, w := range cfg.PeakHours {
		start, end, err := config.ParseHourWindow(w)
		if err != nil {
			return out, fmt.Errorf("peak hours: %w", err)
		}
		out.PeakWindows = append(out.PeakWindows, warming.HourWindow{Start: start, End: end})
	}
	for _, w := range cfg.OffHours {
		start, end, err := config.ParseHourWindow(w)
		if err != nil {
			return out, fmt.Errorf("off hours: %w", err)
		}
		out.OffWindows = append(out.OffWindows, warming.HourWindow{Start: start, End: end})
	}
	for _, d := range cfg.ActiveDays {
		day, err := config.ParseDay(d)
		if err != nil {
			return out, fmt.Errorf("active days: %w", err)
		}
		out.ActiveDays = append(out.ActiveDays, day)
	}
	return out, nil
}

// devSource returns the fixture data served in development mode.
func devSource() store.DataSource {
	return &store.StaticSource{
		Subjects: map[string]map[string][]byte{
			"demo-coach": {
				"profile":     []byte(`{"id":"demo-coach","name":"Demo Coach"}`),
				"todays_plan": []byte(`{"sessions":[]}`),
				"history":     []byte(`[]`),
			},
		},
		Shared: map[string][]byte{
			"exercise_catalog":  []byte(`[]`),
			"program_templates": []byte(`[]`),
		},
	}
}
