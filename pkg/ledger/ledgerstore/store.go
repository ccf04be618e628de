// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ledgerstore persists audit ledger entries in BadgerDB.
//
// Entries are written under sequence-numbered keys so iteration order is
// append order. The store is a durability layer only: chain semantics
// (hashing, linkage, verification) live in the ledger package, and a chain
// loaded from disk is re-verified by ledger.Restore before use.
package ledgerstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/harmonyedu/trustcore/pkg/ledger"
)

// entryPrefix namespaces ledger entries within the database.
const entryPrefix = "entry/"

var (
	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("ledger store is closed")

	// ErrEntryCorrupted is returned when a persisted entry fails to decode.
	ErrEntryCorrupted = errors.New("persisted ledger entry corrupted")
)

// Config holds configuration for a ledger store.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites enables synchronous writes. An audit trail should not
	// lose acknowledged entries on crash, so production keeps this on.
	SyncWrites bool

	// Logger receives store and BadgerDB events. Nil disables logging.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC
	// rewrites a value log file. Zero means 0.5.
	GCDiscardRatio float64
}

// DefaultConfig returns the production configuration: durable synchronous
// writes and a five-minute GC interval.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store is a durable, append-ordered record of ledger entries. It
// implements ledger.Store. Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	seq    atomic.Uint64
	closed atomic.Bool

	gcStop chan struct{}
	gcDone sync.WaitGroup
}

// Open opens (or creates) the store and positions the sequence counter
// after the last persisted entry.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("ledgerstore: path is required for persistent mode")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.GCDiscardRatio == 0 {
		cfg.GCDiscardRatio = 0.5
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: cfg.Logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening ledger store: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger,
		gcStop: make(chan struct{}),
	}

	last, err := s.lastSequence()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.seq.Store(last)

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcDone.Add(1)
		go s.gcLoop(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	s.logger.Info("ledger store opened",
		"path", cfg.Path,
		"in_memory", cfg.InMemory,
		"entries", last,
	)
	return s, nil
}

// Append persists one entry under the next sequence key. Implements
// ledger.Store.
func (s *Store) Append(entry ledger.Entry) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding ledger entry: %w", err)
	}

	seq := s.seq.Add(1)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(seq), value)
	})
	if err != nil {
		return fmt.Errorf("writing ledger entry %d: %w", seq, err)
	}
	return nil
}

// Load returns all persisted entries in append order. Callers should pass
// the result to ledger.Restore, which re-verifies the chain.
func (s *Store) Load() ([]ledger.Entry, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	var entries []ledger.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var e ledger.Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("%w: key %q: %v", ErrEntryCorrupted, item.Key(), err)
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Len returns the number of persisted entries.
func (s *Store) Len() uint64 {
	return s.seq.Load()
}

// Close stops the GC loop and closes the database. Idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.gcStop)
	s.gcDone.Wait()
	return s.db.Close()
}

// lastSequence finds the highest persisted sequence number, or zero.
func (s *Store) lastSequence() (uint64, error) {
	var last uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts past the prefix range; seek to the
		// highest possible key within it.
		seek := append([]byte(entryPrefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if it.Valid() {
			key := it.Item().Key()
			if len(key) == len(entryPrefix)+8 {
				last = binary.BigEndian.Uint64(key[len(entryPrefix):])
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning ledger store: %w", err)
	}
	return last, nil
}

// gcLoop periodically reclaims value log space.
func (s *Store) gcLoop(interval time.Duration, discardRatio float64) {
	defer s.gcDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is nothing
			// to reclaim; that is the common case, not a failure.
			err := s.db.RunValueLogGC(discardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("ledger store GC failed", "error", err)
			}
		}
	}
}

// entryKey builds the big-endian sequence key for an entry.
func entryKey(seq uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], seq)
	return key
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
