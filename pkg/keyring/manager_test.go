// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package keyring

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock for rotation tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestActiveKeyBeforeGenerate(t *testing.T) {
	m := NewManager(Config{})

	_, _, err := m.ActiveKey("encryption")
	assert.True(t, errors.Is(err, ErrNoActiveKey))
}

func TestGenerateKeyActivates(t *testing.T) {
	m := NewManager(Config{})

	keyID, err := m.GenerateKey("encryption")
	require.NoError(t, err)
	assert.Len(t, keyID, 22, "key IDs are 22-char base64url tokens")

	gotID, key, err := m.ActiveKey("encryption")
	require.NoError(t, err)
	assert.Equal(t, keyID, gotID)
	assert.Len(t, key, 32)
}

func TestGenerateKeyEmptyPurpose(t *testing.T) {
	m := NewManager(Config{})
	_, err := m.GenerateKey("")
	assert.ErrorIs(t, err, ErrEmptyPurpose)
}

func TestSecondGenerateRetiresFirst(t *testing.T) {
	m := NewManager(Config{})

	first, err := m.GenerateKey("encryption")
	require.NoError(t, err)
	firstKey, err := m.Key(first)
	require.NoError(t, err)

	second, err := m.GenerateKey("encryption")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// Exactly one active key for the purpose.
	keys := m.ListKeys()
	require.Len(t, keys, 2)
	assert.False(t, keys[first].Active)
	assert.True(t, keys[second].Active)

	activeID, _, err := m.ActiveKey("encryption")
	require.NoError(t, err)
	assert.Equal(t, second, activeID)

	// Retired key material stays retrievable for historical decryption.
	retrieved, err := m.Key(first)
	require.NoError(t, err)
	assert.Equal(t, firstKey, retrieved)
}

func TestPurposesAreIndependent(t *testing.T) {
	m := NewManager(Config{})

	encID, err := m.GenerateKey("encryption")
	require.NoError(t, err)
	signID, err := m.GenerateKey("signing")
	require.NoError(t, err)

	keys := m.ListKeys()
	assert.True(t, keys[encID].Active)
	assert.True(t, keys[signID].Active)
}

func TestKeyUnknownID(t *testing.T) {
	m := NewManager(Config{})
	_, err := m.Key("nope")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestRotateIfDue(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	m := NewManager(Config{
		RotationPeriod: 90 * 24 * time.Hour,
		Clock:          clock.Now,
	})

	// No active key: a tick is a no-op, not an error.
	rotated, err := m.RotateIfDue("encryption")
	require.NoError(t, err)
	assert.False(t, rotated)

	first, err := m.GenerateKey("encryption")
	require.NoError(t, err)

	// Not due yet.
	clock.Advance(89 * 24 * time.Hour)
	rotated, err = m.RotateIfDue("encryption")
	require.NoError(t, err)
	assert.False(t, rotated)

	// Due: rotates once, then the fresh key is not due.
	clock.Advance(48 * time.Hour)
	rotated, err = m.RotateIfDue("encryption")
	require.NoError(t, err)
	assert.True(t, rotated)

	rotated, err = m.RotateIfDue("encryption")
	require.NoError(t, err)
	assert.False(t, rotated, "rotation must be idempotent on repeated ticks")

	activeID, _, err := m.ActiveKey("encryption")
	require.NoError(t, err)
	assert.NotEqual(t, first, activeID)

	// The retired key remains readable.
	_, err = m.Key(first)
	assert.NoError(t, err)
}

func TestListKeysIsMetadataOnlySnapshot(t *testing.T) {
	m := NewManager(Config{})
	id, err := m.GenerateKey("encryption")
	require.NoError(t, err)

	keys := m.ListKeys()
	meta := keys[id]
	assert.Equal(t, "encryption", meta.Purpose)
	assert.True(t, meta.ExpiresAt.After(meta.CreatedAt))

	// Mutating the snapshot must not affect the manager.
	meta.Active = false
	keys[id] = meta
	fresh := m.ListKeys()
	assert.True(t, fresh[id].Active)
}

func TestConcurrentGenerateAndRead(t *testing.T) {
	m := NewManager(Config{})
	_, err := m.GenerateKey("encryption")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, genErr := m.GenerateKey("encryption")
			assert.NoError(t, genErr)
		}()
		go func() {
			defer wg.Done()
			_, _, readErr := m.ActiveKey("encryption")
			assert.NoError(t, readErr)
		}()
	}
	wg.Wait()

	active := 0
	for _, meta := range m.ListKeys() {
		if meta.Active {
			active++
		}
	}
	assert.Equal(t, 1, active, "exactly one key may be active per purpose")
}
