// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ledger implements a tamper-evident, append-only audit log.
//
// Every entry carries the hash of its predecessor and its own content hash
// computed over a canonical serialization, so editing any entry in place
// without recomputing the whole suffix is detectable by verification. The
// chain gives tamper-evidence, not tamper-prevention: a writer who can
// rewrite history can recompute all downstream hashes.
//
// The ledger is single-writer, in-process state. Appends are strictly
// ordered under the ledger's mutex; reads return snapshots.
package ledger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/harmonyedu/trustcore/pkg/integrity"
	"github.com/harmonyedu/trustcore/pkg/telemetry"
)

// genesisSeed is the public seed behind the genesis hash. Persisted chains
// depend on it; changing it invalidates every existing chain.
const genesisSeed = "HARMONY_TEACHER_API_GENESIS"

// entryTimeFormat renders timestamps for hashing: RFC 3339 UTC with
// microsecond precision. Fixed width keeps the hash input byte-stable.
const entryTimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// ErrChainCorrupted is the sentinel behind chain verification failures.
var ErrChainCorrupted = errors.New("audit chain corrupted")

// ChainBreakError locates a verification failure within the chain.
type ChainBreakError struct {
	Index  int    // position of the offending entry
	Reason string // what failed: content hash or linkage
}

// Error implements the error interface.
func (e *ChainBreakError) Error() string {
	return fmt.Sprintf("audit chain corrupted at entry %d: %s", e.Index, e.Reason)
}

// Unwrap returns the sentinel error.
func (e *ChainBreakError) Unwrap() error {
	return ErrChainCorrupted
}

// Entry is a single immutable audit record. EntryHash is a pure function
// of every other field (PreviousHash included); any mutation after
// creation makes verification fail.
type Entry struct {
	Timestamp    time.Time      `json:"timestamp"`
	Actor        string         `json:"actor"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource"`
	Details      map[string]any `json:"details"`
	PreviousHash string         `json:"previous_hash"`
	EntryHash    string         `json:"entry_hash"`
}

// computeHash recomputes the entry's content hash from its other fields.
func (e *Entry) computeHash() (string, error) {
	content := map[string]any{
		"timestamp":     e.Timestamp.Format(entryTimeFormat),
		"actor":         e.Actor,
		"action":        e.Action,
		"resource":      e.Resource,
		"details":       e.Details,
		"previous_hash": e.PreviousHash,
	}
	return integrity.HashStructured(content)
}

// VerifyEntry checks that the entry's stored hash matches its recomputed
// content hash.
func (e *Entry) VerifyEntry() bool {
	computed, err := e.computeHash()
	return err == nil && computed == e.EntryHash
}

// Store receives entries as they are appended, for durable persistence.
// Append must be atomic: either the entry is persisted or an error is
// returned and the in-memory chain is left unchanged.
type Store interface {
	Append(entry Entry) error
}

// Filter selects entries in Query. Zero-value fields match everything;
// set fields are combined conjunctively.
type Filter struct {
	Actor    string
	Resource string
	Action   string
}

// Config configures a Ledger.
type Config struct {
	// Clock overrides time.Now, for tests.
	Clock func() time.Time

	// Logger receives append events at debug level. Nil disables logging.
	Logger *slog.Logger

	// Store, if non-nil, durably persists each entry before it is
	// committed to the in-memory chain.
	Store Store
}

// Ledger is the append-only hash chain. Safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	clock   func() time.Time
	logger  *slog.Logger
	store   Store
}

// New returns an empty Ledger.
func New(cfg Config) *Ledger {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ledger{
		clock:  cfg.Clock,
		logger: cfg.Logger,
		store:  cfg.Store,
	}
}

// GenesisHash returns the fixed hash the first entry links to. It is
// distinct from any real entry hash because no entry serializes to the
// bare seed string.
func GenesisHash() string {
	return integrity.HashBytes([]byte(genesisSeed))
}

// Append records an action and returns the created entry.
//
// PreviousHash is the most recent entry's hash, or the genesis hash for an
// empty chain. Entries acquire their position atomically: concurrent
// appends serialize under the ledger mutex. Details are deep-copied at
// append time; the only failure modes are unserializable detail values and
// a persistence error from the configured store, in which case the chain
// is unchanged.
func (l *Ledger) Append(actor, action, resource string, details map[string]any) (Entry, error) {
	if details == nil {
		details = map[string]any{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	previous := GenesisHash()
	if n := len(l.entries); n > 0 {
		previous = l.entries[n-1].EntryHash
	}

	entry := Entry{
		Timestamp:    l.clock().UTC().Truncate(time.Microsecond),
		Actor:        actor,
		Action:       action,
		Resource:     resource,
		Details:      copyDetails(details),
		PreviousHash: previous,
	}
	hash, err := entry.computeHash()
	if err != nil {
		return Entry{}, fmt.Errorf("hashing ledger entry: %w", err)
	}
	entry.EntryHash = hash

	if l.store != nil {
		if err := l.store.Append(entry); err != nil {
			return Entry{}, fmt.Errorf("persisting ledger entry: %w", err)
		}
	}

	l.entries = append(l.entries, entry)
	telemetry.LedgerAppends.Inc()
	l.logger.Debug("ledger append",
		"actor", actor,
		"action", action,
		"resource", resource,
		"entry_hash", entry.EntryHash,
	)
	return copyEntry(entry), nil
}

// VerifyChain walks the whole chain from genesis and reports whether it is
// intact. An empty chain is trivially valid. Use Verify for the location
// and reason of a failure.
func (l *Ledger) VerifyChain() bool {
	err := l.Verify()
	result := "ok"
	if err != nil {
		result = "corrupted"
	}
	telemetry.ChainVerifications.WithLabelValues(result).Inc()
	return err == nil
}

// Verify walks the chain from genesis and returns a ChainBreakError
// locating the first entry whose content hash or linkage does not verify,
// or nil if the chain is intact.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	expectedPrevious := GenesisHash()
	for i := range l.entries {
		e := &l.entries[i]
		if e.PreviousHash != expectedPrevious {
			return &ChainBreakError{Index: i, Reason: "previous_hash does not match predecessor"}
		}
		if !e.VerifyEntry() {
			return &ChainBreakError{Index: i, Reason: "entry_hash does not match content"}
		}
		expectedPrevious = e.EntryHash
	}
	return nil
}

// Query returns entries matching the filter, in append order, as copies.
func (l *Ledger) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for i := range l.entries {
		e := &l.entries[i]
		if f.Actor != "" && e.Actor != f.Actor {
			continue
		}
		if f.Resource != "" && e.Resource != f.Resource {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		out = append(out, copyEntry(*e))
	}
	return out
}

// Entries returns a snapshot of the whole chain in append order.
func (l *Ledger) Entries() []Entry {
	return l.Query(Filter{})
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Restore replaces the chain with entries previously produced by this
// ledger (e.g. loaded from a Store). The restored chain is verified before
// it is adopted; a broken chain is rejected with a ChainBreakError and the
// ledger is left unchanged. Restore is only valid on an empty ledger.
func (l *Ledger) Restore(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) != 0 {
		return errors.New("restore requires an empty ledger")
	}

	expectedPrevious := GenesisHash()
	restored := make([]Entry, 0, len(entries))
	for i := range entries {
		e := copyEntry(entries[i])
		if e.PreviousHash != expectedPrevious {
			return &ChainBreakError{Index: i, Reason: "previous_hash does not match predecessor"}
		}
		if !e.VerifyEntry() {
			return &ChainBreakError{Index: i, Reason: "entry_hash does not match content"}
		}
		expectedPrevious = e.EntryHash
		restored = append(restored, e)
	}
	l.entries = restored
	return nil
}

// copyEntry returns a deep copy of an entry.
func copyEntry(e Entry) Entry {
	e.Details = copyDetails(e.Details)
	return e
}

// copyDetails deep-copies a details map, including nested maps and slices.
func copyDetails(details map[string]any) map[string]any {
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyDetails(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
