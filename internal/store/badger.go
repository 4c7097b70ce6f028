// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/coachware/warmup/internal/metrics"
	"github.com/coachware/warmup/internal/warming"
)

// Key prefixes for BadgerDB storage.
const (
	subjectKeyPrefix = "subject:"
	sharedKeyPrefix  = "shared:"
)

// ErrNotWarmed is returned by Get when the key has no fresh entry.
var ErrNotWarmed = errors.New("entry not warmed")

// Options configures a BadgerStore.
type Options struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path     string
	InMemory bool

	// TTL is how long warmed entries stay fresh.
	TTL time.Duration

	// GCInterval is how often the value log garbage collector runs.
	// Zero disables GC (in-memory mode needs none).
	GCInterval time.Duration
}

// BadgerStore is the durable warm store. It implements warming.CacheBackend
// by fetching payloads from the DataSource and writing them with a TTL, and
// serves reads for anything already warmed.
type BadgerStore struct {
	db     *badger.DB
	source DataSource
	ttl    time.Duration
	logger zerolog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	errs      atomic.Int64
	gcStopCh  chan struct{}
	gcDoneCh  chan struct{}
	gcStarted bool
}

// NewBadgerStore opens the database and returns the store.
func NewBadgerStore(opts Options, source DataSource, logger zerolog.Logger) (*BadgerStore, error) {
	log := logger.With().Str("component", "store").Logger()

	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(&badgerLogger{logger: log})
	if opts.InMemory {
		badgerOpts.Dir = ""
		badgerOpts.ValueDir = ""
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open warm store: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		source: source,
		ttl:    opts.TTL,
		logger: log,
	}
	if !opts.InMemory && opts.GCInterval > 0 {
		s.gcStopCh = make(chan struct{})
		s.gcDoneCh = make(chan struct{})
		s.gcStarted = true
		go s.gcLoop(opts.GCInterval)
	}
	return s, nil
}

// WarmSubject fetches the subject's payloads at the scope implied by
// priority and writes them with the store TTL.
func (s *BadgerStore) WarmSubject(ctx context.Context, subjectID string, priority warming.Priority) (*warming.WarmResult, error) {
	payloads, err := s.source.SubjectPayloads(ctx, subjectID, ScopeForPriority(priority))
	if err != nil {
		s.errs.Add(1)
		return nil, s.wrapSourceErr("fetch_subject", err)
	}
	return s.write(subjectKeyPrefix+subjectID+":", payloads)
}

// WarmShared fetches and stores process-wide shared data.
func (s *BadgerStore) WarmShared(ctx context.Context) (*warming.WarmResult, error) {
	payloads, err := s.source.SharedPayloads(ctx)
	if err != nil {
		s.errs.Add(1)
		return nil, s.wrapSourceErr("fetch_shared", err)
	}
	return s.write(sharedKeyPrefix, payloads)
}

// Get returns a warmed entry. Key format matches the warm writes:
// "subject:<id>:<entry>" or "shared:<entry>".
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotWarmed
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotWarmed) {
			s.misses.Add(1)
			metrics.StoreMisses.Inc()
			return nil, ErrNotWarmed
		}
		s.errs.Add(1)
		return nil, &warming.BackendError{Op: "get", Err: err}
	}
	s.hits.Add(1)
	metrics.StoreHits.Inc()
	return value, nil
}

// Stats reports hit rate, key count and error count.
func (s *BadgerStore) Stats(ctx context.Context) (warming.BackendStats, error) {
	keys, err := s.countKeys()
	if err != nil {
		return warming.BackendStats{}, &warming.BackendError{Op: "stats", Err: err}
	}

	hits, misses := s.hits.Load(), s.misses.Load()
	rate := float64(0)
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses) * 100
	}
	return warming.BackendStats{
		HitRate: rate,
		Keys:    keys,
		Errors:  s.errs.Load(),
	}, nil
}

// Close stops the GC loop and closes the database.
func (s *BadgerStore) Close() error {
	if s.gcStarted {
		close(s.gcStopCh)
		<-s.gcDoneCh
	}
	return s.db.Close()
}

func (s *BadgerStore) write(prefix string, payloads map[string][]byte) (*warming.WarmResult, error) {
	result := &warming.WarmResult{}

	err := s.db.Update(func(txn *badger.Txn) error {
		for name, data := range payloads {
			entry := badger.NewEntry([]byte(prefix+name), data)
			if s.ttl > 0 {
				entry = entry.WithTTL(s.ttl)
			}
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
			result.Entries++
			result.Bytes += int64(len(data))
		}
		return nil
	})
	if err != nil {
		s.errs.Add(1)
		return nil, &warming.BackendError{Op: "write", Err: err}
	}

	metrics.StoreWrites.Add(float64(result.Entries))
	return result, nil
}

func (s *BadgerStore) countKeys() (int64, error) {
	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *BadgerStore) wrapSourceErr(op string, err error) error {
	var verr *warming.ValidationError
	if errors.As(err, &verr) {
		// Unknown subjects are not retriable.
		return err
	}
	return &warming.BackendError{Op: op, Err: err}
}

func (s *BadgerStore) gcLoop(interval time.Duration) {
	defer close(s.gcDoneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Badger asks for repeated calls while GC makes progress.
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		case <-s.gcStopCh:
			return
		}
	}
}

// badgerLogger adapts badger's logging onto zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), args...)
}
