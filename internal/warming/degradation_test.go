// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"io"
	"testing"

	"github.com/coachware/warmup/internal/logging"
)

func TestDegradationEscalation(t *testing.T) {
	m := NewDegradationManager(DefaultDegradationConfig(), logging.NewTestLogger(io.Discard))

	if m.Level(AspectCacheWarming) != LevelNone {
		t.Fatal("expected LevelNone at start")
	}

	// One failure is below MinSamples; the level must not move yet.
	m.RecordOutcome(AspectCacheWarming, false)
	if got := m.Level(AspectCacheWarming); got != LevelNone {
		t.Errorf("level after 1 failure = %s, want none", got)
	}

	// Second consecutive failure pushes the error rate past every
	// threshold with enough samples to act on.
	m.RecordOutcome(AspectCacheWarming, false)
	if got := m.Level(AspectCacheWarming); got == LevelNone {
		t.Error("level still none after 2 consecutive failures")
	}

	m.RecordOutcome(AspectCacheWarming, false)
	d := m.CheckAndFallback(AspectCacheWarming, false)
	if !d.Degraded {
		t.Error("Degraded = false after sustained failures")
	}
	if len(d.Modifications) == 0 && d.CanProceed {
		t.Error("expected scope-reduction modifications while degraded")
	}

	// Other aspects are independent.
	if got := m.Level(AspectSmartAnalysis); got != LevelNone {
		t.Errorf("smart analysis level = %s, want none", got)
	}
}

func TestDegradationLevelsFollowErrorRate(t *testing.T) {
	m := NewDegradationManager(DefaultDegradationConfig(), logging.NewTestLogger(io.Discard))

	// 3 failures out of 10 = 0.3, between T1 and T2.
	for i := 0; i < 7; i++ {
		m.RecordOutcome(AspectQueueProcessing, true)
	}
	for i := 0; i < 3; i++ {
		m.RecordOutcome(AspectQueueProcessing, false)
	}
	if got := m.Level(AspectQueueProcessing); got != LevelPartial {
		t.Errorf("level at 30%% errors = %s, want partial", got)
	}

	// Push past T2.
	for i := 0; i < 3; i++ {
		m.RecordOutcome(AspectQueueProcessing, false)
	}
	if got := m.Level(AspectQueueProcessing); got != LevelSevere {
		t.Errorf("level at ~46%% errors = %s, want severe", got)
	}

	// Sustained successes dilute the rate back down.
	for i := 0; i < 30; i++ {
		m.RecordOutcome(AspectQueueProcessing, true)
	}
	if got := m.Level(AspectQueueProcessing); got != LevelNone {
		t.Errorf("level after recovery = %s, want none", got)
	}
}

func TestDegradationCriticalBlocksNonEssential(t *testing.T) {
	m := NewDegradationManager(DefaultDegradationConfig(), logging.NewTestLogger(io.Discard))

	for i := 0; i < 5; i++ {
		m.RecordOutcome(AspectCacheWarming, false)
	}
	if got := m.Level(AspectCacheWarming); got != LevelCritical {
		t.Fatalf("level = %s, want critical", got)
	}

	optional := m.CheckAndFallback(AspectCacheWarming, false)
	if optional.CanProceed {
		t.Error("non-essential operation permitted at critical level")
	}

	essential := m.CheckAndFallback(AspectCacheWarming, true)
	if !essential.CanProceed {
		t.Error("essential operation blocked at critical level")
	}
	if essential.Fallback != FallbackMinimal {
		t.Errorf("essential fallback = %s, want minimal", essential.Fallback)
	}
}

func TestDegradationForceRecovery(t *testing.T) {
	m := NewDegradationManager(DefaultDegradationConfig(), logging.NewTestLogger(io.Discard))

	for i := 0; i < 5; i++ {
		m.RecordOutcome(AspectCacheWarming, false)
		m.RecordOutcome(AspectSmartAnalysis, false)
	}

	m.ForceRecovery()
	for _, aspect := range Aspects {
		if got := m.Level(aspect); got != LevelNone {
			t.Errorf("%s level = %s after ForceRecovery, want none", aspect, got)
		}
	}

	// The windows were cleared too; one new failure must not re-escalate.
	m.RecordOutcome(AspectCacheWarming, false)
	if got := m.Level(AspectCacheWarming); got != LevelNone {
		t.Errorf("level = %s after single post-recovery failure, want none", got)
	}
}

func TestDegradationSnapshot(t *testing.T) {
	m := NewDegradationManager(DefaultDegradationConfig(), logging.NewTestLogger(io.Discard))

	m.RecordOutcome(AspectCacheWarming, false)
	m.RecordOutcome(AspectCacheWarming, false)

	snap := m.Snapshot()
	if len(snap) != len(Aspects) {
		t.Fatalf("snapshot has %d aspects, want %d", len(snap), len(Aspects))
	}
	cw := snap[string(AspectCacheWarming)]
	if cw.Samples != 2 || cw.ErrorRate != 1.0 {
		t.Errorf("cache_warming health = %+v, want 2 samples at rate 1.0", cw)
	}
}
