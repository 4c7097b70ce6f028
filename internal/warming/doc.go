// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

// Package warming implements the cache warming engine: a three-bucket
// priority queue with a concurrency-bounded dispatch loop, a context
// analyzer that scores warming urgency, a degradation manager that tracks
// per-aspect health, the orchestrator tying them together, and a
// maintenance scheduler that keeps the cache warm in the background.
//
// All public warm operations are asynchronous: they enqueue and return an
// acknowledgement, and outcomes surface through the stats tracker and the
// event bus.
package warming
