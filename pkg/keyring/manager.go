// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package keyring manages symmetric key lifecycle: generation, versioning,
// and rotation.
//
// Raw key material is owned exclusively by the Manager and held at rest in
// memguard enclaves (encrypted, mlocked memory). Exactly one key per
// purpose is active at a time; generating a new key for a purpose retires
// the previous one. Retired keys are never deleted and remain retrievable
// for decrypting historical data. Key transitions only run forward:
// active → retired, never back.
package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/harmonyedu/trustcore/pkg/telemetry"
)

const (
	// DefaultRotationPeriod is how long a key stays active before
	// RotateIfDue considers it due. 90 days, configurable per Manager.
	DefaultRotationPeriod = 90 * 24 * time.Hour

	// keyLen is the raw key length in bytes (256 bits).
	keyLen = 32

	// keyIDLen is the number of random bytes behind a key ID. Encoded as
	// 22 chars of unpadded base64url.
	keyIDLen = 16
)

var (
	// ErrNoActiveKey is returned when a purpose has no active key. The
	// caller must provision one with GenerateKey; the manager never
	// auto-heals this.
	ErrNoActiveKey = errors.New("no active key: generate one first")

	// ErrKeyNotFound is returned for unknown key IDs.
	ErrKeyNotFound = errors.New("key not found")

	// ErrEmptyPurpose is returned when a purpose tag is missing.
	ErrEmptyPurpose = errors.New("purpose must not be empty")
)

// memguardInit arms memguard's interrupt handler once per process so
// enclaves are wiped on SIGINT/SIGTERM.
var memguardInit sync.Once

// Metadata describes a key without exposing its material.
type Metadata struct {
	KeyID     string    `json:"key_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
	Purpose   string    `json:"purpose"`
}

// Config configures a Manager.
type Config struct {
	// RotationPeriod is the active lifetime of a key before RotateIfDue
	// rotates it. Zero means DefaultRotationPeriod.
	RotationPeriod time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time

	// Logger receives lifecycle events. Nil disables logging.
	Logger *slog.Logger
}

// Manager owns key material and metadata for all purposes.
//
// All methods are safe for concurrent use. Key bytes returned by ActiveKey
// and Key are copies owned by the caller; the caller should zero them when
// done.
type Manager struct {
	mu              sync.RWMutex
	rotationPeriod  time.Duration
	clock           func() time.Time
	logger          *slog.Logger
	enclaves        map[string]*memguard.Enclave
	meta            map[string]*Metadata
	activeByPurpose map[string]string
}

// NewManager returns a Manager with the given configuration.
func NewManager(cfg Config) *Manager {
	memguardInit.Do(memguard.CatchInterrupt)

	if cfg.RotationPeriod <= 0 {
		cfg.RotationPeriod = DefaultRotationPeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		rotationPeriod:  cfg.RotationPeriod,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		enclaves:        make(map[string]*memguard.Enclave),
		meta:            make(map[string]*Metadata),
		activeByPurpose: make(map[string]string),
	}
}

// GenerateKey creates a new 256-bit key for the purpose, retires the
// previously active key for that purpose if any, and returns the new key's
// ID.
func (m *Manager) GenerateKey(purpose string) (string, error) {
	if purpose == "" {
		return "", ErrEmptyPurpose
	}

	keyID, err := newKeyID()
	if err != nil {
		return "", err
	}
	material := make([]byte, keyLen)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return "", fmt.Errorf("key generation failed: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	rotated := false
	if prevID, ok := m.activeByPurpose[purpose]; ok {
		m.meta[prevID].Active = false
		rotated = true
	}

	// NewEnclave wipes the source slice after sealing.
	m.enclaves[keyID] = memguard.NewEnclave(material)
	m.meta[keyID] = &Metadata{
		KeyID:     keyID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.rotationPeriod),
		Active:    true,
		Purpose:   purpose,
	}
	m.activeByPurpose[purpose] = keyID

	if rotated {
		telemetry.KeyRotations.Inc()
	}
	m.logger.Info("generated key",
		"key_id", keyID,
		"purpose", purpose,
		"expires_at", m.meta[keyID].ExpiresAt,
		"rotated", rotated,
	)
	return keyID, nil
}

// ActiveKey returns the ID and material of the purpose's active key.
// Returns ErrNoActiveKey if none has been generated yet.
func (m *Manager) ActiveKey(purpose string) (string, []byte, error) {
	m.mu.RLock()
	keyID, ok := m.activeByPurpose[purpose]
	m.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("%w (purpose %q)", ErrNoActiveKey, purpose)
	}

	key, err := m.Key(keyID)
	if err != nil {
		return "", nil, err
	}
	return keyID, key, nil
}

// Key returns the material of the key with the given ID, active or
// retired. Retired keys stay retrievable indefinitely so historical
// ciphertexts remain decryptable. Returns ErrKeyNotFound for unknown IDs.
func (m *Manager) Key(keyID string) ([]byte, error) {
	m.mu.RLock()
	enclave, ok := m.enclaves[keyID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, keyID)
	}

	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()

	key := make([]byte, buf.Size())
	copy(key, buf.Bytes())
	return key, nil
}

// RotateIfDue rotates the purpose's active key when the clock has passed
// its expiry, and reports whether a rotation happened.
//
// Calling when no rotation is due is a no-op, so this is safe to call on a
// periodic tick. A purpose with no active key reports false without error;
// provisioning is the caller's decision, not a tick's.
func (m *Manager) RotateIfDue(purpose string) (bool, error) {
	m.mu.RLock()
	keyID, ok := m.activeByPurpose[purpose]
	var due bool
	if ok {
		due = !m.clock().UTC().Before(m.meta[keyID].ExpiresAt)
	}
	m.mu.RUnlock()

	if !ok || !due {
		return false, nil
	}

	// GenerateKey re-checks under the write lock; a concurrent rotation
	// between the peek above and here just means the new key is fresh and
	// this rotation still proceeds safely.
	if _, err := m.GenerateKey(purpose); err != nil {
		return false, err
	}
	m.logger.Info("rotated key", "purpose", purpose, "retired_key_id", keyID)
	return true, nil
}

// ListKeys returns metadata for every key, keyed by ID. Raw key bytes are
// never included. The returned map is a snapshot.
func (m *Manager) ListKeys() map[string]Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Metadata, len(m.meta))
	for id, meta := range m.meta {
		out[id] = *meta
	}
	return out
}

// Purge wipes all enclave-backed key material process-wide. Intended for
// graceful shutdown; existing Managers are unusable afterwards.
func Purge() {
	memguard.Purge()
}

// newKeyID returns a 22-char unpadded base64url token over 128 random bits.
func newKeyID() (string, error) {
	raw := make([]byte, keyIDLen)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("key id generation failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
