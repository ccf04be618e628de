// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledgerstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonyedu/trustcore/pkg/ledger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndLoadPreservesOrder(t *testing.T) {
	store := openTestStore(t)

	l := ledger.New(ledger.Config{Store: store})
	for i := 0; i < 10; i++ {
		_, err := l.Append("svc", "tick", "clock", map[string]any{"i": i})
		require.NoError(t, err)
	}

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 10)
	assert.Equal(t, l.Entries(), loaded, "load must return the chain in append order")
}

func TestLoadedChainRestoresAndVerifies(t *testing.T) {
	store := openTestStore(t)

	writer := ledger.New(ledger.Config{Store: store})
	for i := 0; i < 5; i++ {
		_, err := writer.Append("teacher-1", "read", "lesson:1", nil)
		require.NoError(t, err)
	}

	loaded, err := store.Load()
	require.NoError(t, err)

	reader := ledger.New(ledger.Config{})
	require.NoError(t, reader.Restore(loaded))
	assert.True(t, reader.VerifyChain())
	assert.Equal(t, 5, reader.Len())
}

func TestReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0 // no GC churn in tests
	store, err := Open(cfg)
	require.NoError(t, err)

	l := ledger.New(ledger.Config{Store: store})
	for i := 0; i < 3; i++ {
		_, err := l.Append("a", "act", "r", nil)
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, uint64(3), reopened.Len())

	// New appends land after the persisted chain.
	loaded, err := reopened.Load()
	require.NoError(t, err)
	cont := ledger.New(ledger.Config{Store: reopened})
	require.NoError(t, cont.Restore(loaded))
	_, err = cont.Append("a", "act", "r", nil)
	require.NoError(t, err)

	final, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, final, 4)

	check := ledger.New(ledger.Config{})
	require.NoError(t, check.Restore(final))
	assert.True(t, check.VerifyChain())
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Append(ledger.Entry{}), ErrStoreClosed)
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.NoError(t, store.Close(), "close is idempotent")
}

func TestPersistentModeRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
