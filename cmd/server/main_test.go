// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package main

import (
	"io"
	"testing"
	"time"

	"github.com/coachware/warmup/internal/config"
	"github.com/coachware/warmup/internal/logging"
	"github.com/coachware/warmup/internal/warming"
)

func TestBuildAnalyzerConfig(t *testing.T) {
	got, err := buildAnalyzerConfig(config.Default().Analyzer)
	if err != nil {
		t.Fatalf("buildAnalyzerConfig: %v", err)
	}

	if len(got.PeakWindows) != 2 || got.PeakWindows[0] != (warming.HourWindow{Start: 6, End: 9}) {
		t.Errorf("PeakWindows = %+v", got.PeakWindows)
	}
	if len(got.OffWindows) != 1 || got.OffWindows[0] != (warming.HourWindow{Start: 22, End: 5}) {
		t.Errorf("OffWindows = %+v", got.OffWindows)
	}
	if len(got.ActiveDays) != 5 || got.ActiveDays[0] != time.Monday {
		t.Errorf("ActiveDays = %v", got.ActiveDays)
	}
	if len(got.PrimaryPages) != 3 {
		t.Errorf("PrimaryPages = %v", got.PrimaryPages)
	}
}

func TestBuildAnalyzerConfigRejectsBadWindow(t *testing.T) {
	cfg := config.Default().Analyzer
	cfg.PeakHours = []string{"26-99"}

	if _, err := buildAnalyzerConfig(cfg); err == nil {
		t.Error("expected error for invalid hour window")
	}
}

func TestBuildSourceFallsBackToFixtures(t *testing.T) {
	cfg := config.Default()
	cfg.Source.BaseURL = ""

	source, provider := buildSource(cfg, logging.NewTestLogger(io.Discard))
	if source == nil {
		t.Fatal("source is nil")
	}
	if id, ok := provider.Current(); !ok || id != "demo-coach" {
		t.Errorf("Current() = %q, %v, want demo-coach", id, ok)
	}
}

func TestBuildStoreInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Store.InMemory = true

	backend, closer, err := buildStore(cfg, devSource(), logging.NewTestLogger(io.Discard))
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	if backend == nil || closer == nil {
		t.Fatal("backend or closer is nil")
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
