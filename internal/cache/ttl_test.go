// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package cache

import (
	"testing"
	"time"
)

func TestTTLSetGet(t *testing.T) {
	c := NewTTL(time.Minute)
	defer c.Close()

	c.Set("subject:u1", []byte("payload"))

	got, ok := c.Get("subject:u1")
	if !ok {
		t.Fatal("expected hit for fresh entry")
	}
	if string(got) != "payload" {
		t.Errorf("got %q, want %q", got, "payload")
	}
}

func TestTTLExpiration(t *testing.T) {
	c := NewTTL(time.Minute)
	defer c.Close()

	c.SetWithTTL("subject:u1", []byte("payload"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("subject:u1"); ok {
		t.Error("expected miss for expired entry")
	}

	_, misses, evictions := c.Stats()
	if misses != 1 {
		t.Errorf("misses = %d, want 1", misses)
	}
	if evictions != 1 {
		t.Errorf("evictions = %d, want 1", evictions)
	}
}

func TestTTLHitRate(t *testing.T) {
	c := NewTTL(time.Minute)
	defer c.Close()

	c.Set("a", []byte("1"))
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	if rate := c.HitRate(); rate < 66 || rate > 67 {
		t.Errorf("HitRate = %v, want ~66.7", rate)
	}
}

func TestTTLDeleteAndClear(t *testing.T) {
	c := NewTTL(time.Minute)
	defer c.Close()

	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Delete("a")

	if _, ok := c.Get("a"); ok {
		t.Error("expected miss after Delete")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len = %d after Clear, want 0", c.Len())
	}
}
