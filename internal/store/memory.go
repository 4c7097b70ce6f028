// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package store

import (
	"context"
	"errors"
	"time"

	"github.com/coachware/warmup/internal/cache"
	"github.com/coachware/warmup/internal/metrics"
	"github.com/coachware/warmup/internal/warming"
)

// MemoryStore is a non-persistent warm store backed by an in-process TTL
// cache. It serves development mode and tests; production uses BadgerStore.
type MemoryStore struct {
	cache  *cache.TTL
	source DataSource
	ttl    time.Duration
}

// NewMemoryStore creates the store.
func NewMemoryStore(ttl time.Duration, source DataSource) *MemoryStore {
	return &MemoryStore{
		cache:  cache.NewTTL(ttl),
		source: source,
		ttl:    ttl,
	}
}

// WarmSubject fetches and caches one subject's payloads.
func (s *MemoryStore) WarmSubject(ctx context.Context, subjectID string, priority warming.Priority) (*warming.WarmResult, error) {
	payloads, err := s.source.SubjectPayloads(ctx, subjectID, ScopeForPriority(priority))
	if err != nil {
		var verr *warming.ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		return nil, &warming.BackendError{Op: "fetch_subject", Err: err}
	}
	return s.write(subjectKeyPrefix+subjectID+":", payloads), nil
}

// WarmShared fetches and caches process-wide shared data.
func (s *MemoryStore) WarmShared(ctx context.Context) (*warming.WarmResult, error) {
	payloads, err := s.source.SharedPayloads(ctx)
	if err != nil {
		return nil, &warming.BackendError{Op: "fetch_shared", Err: err}
	}
	return s.write(sharedKeyPrefix, payloads), nil
}

// Get returns a warmed entry or ErrNotWarmed.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := s.cache.Get(key)
	if !ok {
		metrics.StoreMisses.Inc()
		return nil, ErrNotWarmed
	}
	metrics.StoreHits.Inc()
	return value, nil
}

// Stats reports the cache's hit rate and size.
func (s *MemoryStore) Stats(context.Context) (warming.BackendStats, error) {
	return warming.BackendStats{
		HitRate: s.cache.HitRate(),
		Keys:    int64(s.cache.Len()),
	}, nil
}

// Close releases the cache's sweep goroutine.
func (s *MemoryStore) Close() error {
	s.cache.Close()
	return nil
}

func (s *MemoryStore) write(prefix string, payloads map[string][]byte) *warming.WarmResult {
	result := &warming.WarmResult{}
	for name, data := range payloads {
		s.cache.Set(prefix+name, data)
		result.Entries++
		result.Bytes += int64(len(data))
	}
	metrics.StoreWrites.Add(float64(result.Entries))
	return result
}
