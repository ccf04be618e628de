// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vault stores subject-scoped records encrypted at rest in
// BadgerDB, with every access gated by consent and recorded in the audit
// ledger.
//
// A record is written under the key purpose's current active key; the
// envelope persisted to disk records which key encrypted it, so reads
// keep working across key rotations. The subject ID, scope, and record
// name are bound into the ciphertext as associated data: moving an
// envelope between subjects or renaming it makes decryption fail
// authentication.
//
// Document reads additionally pass the decrypted content through the
// compliance guard, so prohibited content cannot leave the vault even if
// it was stored before the policy would have caught it.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harmonyedu/trustcore/pkg/compliance"
	"github.com/harmonyedu/trustcore/pkg/consent"
	"github.com/harmonyedu/trustcore/pkg/encryption"
	"github.com/harmonyedu/trustcore/pkg/keyring"
	"github.com/harmonyedu/trustcore/pkg/ledger"
)

const (
	// recordPrefix namespaces vault records within the database.
	recordPrefix = "record/"

	// KeyPurpose is the keyring purpose tag for vault encryption keys.
	// Callers must provision an active key for it before the first Put.
	KeyPurpose = "vault"

	tracerName = "trustcore/vault"
)

var (
	// ErrClosed is returned for operations on a closed vault.
	ErrClosed = errors.New("vault is closed")

	// ErrRecordNotFound is returned when no record exists for the
	// subject/name pair.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordCorrupted is returned when a persisted envelope fails to
	// decode. Decryption failures surface encryption.ErrAuthenticationFailed
	// instead, since they indicate tampering with the ciphertext rather
	// than the envelope.
	ErrRecordCorrupted = errors.New("persisted record corrupted")
)

// envelope is the persisted form of a record. Ciphertext and nonce are
// opaque; everything else is plaintext metadata bound into the
// ciphertext's associated data or needed to select the decryption key.
type envelope struct {
	KeyID      string        `json:"key_id"`
	Scope      consent.Scope `json:"scope"`
	Nonce      []byte        `json:"nonce"`
	Ciphertext []byte        `json:"ciphertext"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Config configures a Vault.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites enables synchronous writes. Production keeps this on.
	SyncWrites bool

	// Consent gates every read and write. Required.
	Consent *consent.Registry

	// Keys provides the active encryption key and retired keys for
	// historical records. Required.
	Keys *keyring.Manager

	// Ledger records every vault access. Required.
	Ledger *ledger.Ledger

	// Guard validates decrypted documents before they leave the vault.
	// Required.
	Guard *compliance.Guard

	// Logger receives vault and BadgerDB events. Nil disables logging.
	Logger *slog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Vault is the encrypted record store. Safe for concurrent use.
type Vault struct {
	db      *badger.DB
	consent *consent.Registry
	keys    *keyring.Manager
	ledger  *ledger.Ledger
	guard   *compliance.Guard
	cipher  *encryption.Service
	logger  *slog.Logger
	clock   func() time.Time
	closed  atomic.Bool
}

// Open opens (or creates) the vault.
func Open(cfg Config) (*Vault, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("vault: path is required for persistent mode")
	}
	if cfg.Consent == nil || cfg.Keys == nil || cfg.Ledger == nil || cfg.Guard == nil {
		return nil, errors.New("vault: consent, keys, ledger, and guard are all required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	cipher, err := encryption.NewService(encryption.DefaultKeySizeBits)
	if err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: cfg.Logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening vault: %w", err)
	}

	cfg.Logger.Info("vault opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &Vault{
		db:      db,
		consent: cfg.Consent,
		keys:    cfg.Keys,
		ledger:  cfg.Ledger,
		guard:   cfg.Guard,
		cipher:  cipher,
		logger:  cfg.Logger,
		clock:   cfg.Clock,
	}, nil
}

// Put encrypts plaintext under the active vault key and persists it for
// the subject. The write requires a valid grant for the scope and is
// recorded in the audit ledger under the given actor.
//
// An existing record with the same subject and name is overwritten; the
// prior version is not retained (the audit ledger still shows it was
// written).
func (v *Vault) Put(ctx context.Context, actor, subjectID string, scope consent.Scope, name string, plaintext []byte) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "vault.Put",
		trace.WithAttributes(
			attribute.String("scope", string(scope)),
			attribute.Int("plaintext_bytes", len(plaintext)),
		))
	defer span.End()

	if v.closed.Load() {
		span.SetStatus(codes.Error, "closed")
		return ErrClosed
	}
	if err := v.consent.Require(subjectID, scope); err != nil {
		span.SetStatus(codes.Error, "consent denied")
		return err
	}

	keyID, key, err := v.keys.ActiveKey(KeyPurpose)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no active key")
		return err
	}

	nonce, ciphertext, err := v.cipher.Encrypt(plaintext, key, associatedData(subjectID, scope, name))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encrypt failed")
		return err
	}

	value, err := json.Marshal(envelope{
		KeyID:      keyID,
		Scope:      scope,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		CreatedAt:  v.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding record envelope: %w", err)
	}

	err = v.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(subjectID, name), value)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("writing record %s/%s: %w", subjectID, name, err)
	}

	if _, err := v.ledger.Append(actor, "vault.put", subjectID+"/"+name, map[string]any{
		"scope":  string(scope),
		"key_id": keyID,
	}); err != nil {
		// The record is persisted but the access is not yet auditable;
		// surface this as a failure so the caller knows the trail is
		// incomplete.
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit append failed")
		return fmt.Errorf("recording vault write: %w", err)
	}

	span.SetAttributes(attribute.String("key_id", keyID))
	return nil
}

// Get decrypts and returns the record's plaintext. The read requires a
// valid grant for the scope the record was stored under and is recorded
// in the audit ledger under the given actor.
//
// Records encrypted under retired keys remain readable: the envelope
// names its key, and retired keys stay retrievable from the keyring.
func (v *Vault) Get(ctx context.Context, actor, subjectID, name string) ([]byte, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "vault.Get")
	defer span.End()

	if v.closed.Load() {
		span.SetStatus(codes.Error, "closed")
		return nil, ErrClosed
	}

	env, err := v.loadEnvelope(subjectID, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}

	// Consent is checked against the scope the record was stored under,
	// not a caller-supplied one, so a caller cannot launder a record
	// into a less protected scope.
	if err := v.consent.Require(subjectID, env.Scope); err != nil {
		span.SetStatus(codes.Error, "consent denied")
		return nil, err
	}

	key, err := v.keys.Key(env.KeyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "key lookup failed")
		return nil, err
	}

	plaintext, err := v.cipher.Decrypt(env.Nonce, env.Ciphertext, key, associatedData(subjectID, env.Scope, name))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decrypt failed")
		return nil, err
	}

	if _, err := v.ledger.Append(actor, "vault.get", subjectID+"/"+name, map[string]any{
		"scope":  string(env.Scope),
		"key_id": env.KeyID,
	}); err != nil {
		return nil, fmt.Errorf("recording vault read: %w", err)
	}
	return plaintext, nil
}

// PutDocument marshals a structured document and stores it via Put.
func (v *Vault) PutDocument(ctx context.Context, actor, subjectID string, scope consent.Scope, name string, doc map[string]any) error {
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	return v.Put(ctx, actor, subjectID, scope, name, plaintext)
}

// GetDocument retrieves a structured document and validates it against
// the compliance guard before returning it. A document that violates the
// policy is not returned, even though it decrypted successfully: the
// guard runs at every boundary, including this one.
func (v *Vault) GetDocument(ctx context.Context, actor, subjectID, name string) (map[string]any, error) {
	plaintext, err := v.Get(ctx, actor, subjectID, name)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrRecordCorrupted, subjectID, name, err)
	}
	if err := v.guard.Validate(doc, "vault:"+subjectID+"/"+name); err != nil {
		return nil, err
	}
	return doc, nil
}

// List returns the names of the subject's records, in key order. Listing
// reveals only names, not content, and is not consent-gated.
func (v *Vault) List(subjectID string) ([]string, error) {
	if v.closed.Load() {
		return nil, ErrClosed
	}

	prefix := []byte(recordPrefix + subjectID + "/")
	var names []string
	err := v.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			names = append(names, strings.TrimPrefix(key, string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing records for %s: %w", subjectID, err)
	}
	return names, nil
}

// Close closes the database. Idempotent.
func (v *Vault) Close() error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}
	return v.db.Close()
}

// loadEnvelope reads and decodes one record envelope.
func (v *Vault) loadEnvelope(subjectID, name string) (envelope, error) {
	var env envelope
	err := v.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(subjectID, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrRecordNotFound, subjectID, name)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &env); err != nil {
				return fmt.Errorf("%w: %s/%s: %v", ErrRecordCorrupted, subjectID, name, err)
			}
			return nil
		})
	})
	if err != nil {
		return envelope{}, err
	}
	return env, nil
}

// associatedData binds the record's identity into the ciphertext.
func associatedData(subjectID string, scope consent.Scope, name string) []byte {
	return []byte(subjectID + "/" + string(scope) + "/" + name)
}

// recordKey builds the database key for a record.
func recordKey(subjectID, name string) []byte {
	return []byte(recordPrefix + subjectID + "/" + name)
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
