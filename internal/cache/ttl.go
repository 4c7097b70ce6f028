// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

// Package cache provides the small in-memory data structures the warming
// engine is built on: a TTL cache used by the in-memory warm store and a
// sliding-window outcome tracker used for rolling error rates.
package cache

import (
	"sync"
	"time"
)

// Entry is a cached item with an expiration time.
type Entry struct {
	Data      []byte
	ExpiresAt time.Time
}

// TTL is a thread-safe in-memory cache with per-entry expiration. A
// background goroutine sweeps expired entries every cleanupInterval until
// Close is called.
type TTL struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	stopCh  chan struct{}
	once    sync.Once

	hits      int64
	misses    int64
	evictions int64
}

const cleanupInterval = 5 * time.Minute

// NewTTL creates a TTL cache with the given default entry lifetime.
func NewTTL(ttl time.Duration) *TTL {
	c := &TTL{
		entries: make(map[string]Entry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get retrieves a value by key. Expired entries are removed and counted as
// misses.
func (c *TTL) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.misses++
		c.evictions++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return entry.Data, true
}

// Set stores a value with the default TTL.
func (c *TTL) Set(key string, data []byte) {
	c.SetWithTTL(key, data, c.ttl)
}

// SetWithTTL stores a value with a custom TTL.
func (c *TTL) SetWithTTL(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Data: data, ExpiresAt: time.Now().Add(ttl)}
}

// Delete removes a key.
func (c *TTL) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *TTL) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Len returns the current entry count, including not-yet-swept expired
// entries.
func (c *TTL) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats reports hit/miss/eviction counts since creation.
func (c *TTL) Stats() (hits, misses, evictions int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, c.evictions
}

// HitRate returns the hit rate as a percentage, 0 when nothing was looked up.
func (c *TTL) HitRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total) * 100
}

// Close stops the background cleanup goroutine.
func (c *TTL) Close() {
	c.once.Do(func() { close(c.stopCh) })
}

func (c *TTL) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *TTL) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			c.evictions++
		}
	}
}
