// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, cfg TrustcoreConfig) string {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "trustcore.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Storage.SyncWrites, "the audit trail defaults to durable writes")
	assert.Equal(t, 90, cfg.Keyring.RotationDays)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileRoundTrip(t *testing.T) {
	want := DefaultConfig()
	want.Logging.Level = "debug"
	want.Keyring.RotationDays = 30

	got, err := LoadFile(writeConfig(t, want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadFileValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	_, err := LoadFile(writeConfig(t, cfg))
	assert.Error(t, err, "unknown log level")

	cfg = DefaultConfig()
	cfg.Storage.LedgerPath = ""
	_, err = LoadFile(writeConfig(t, cfg))
	assert.Error(t, err, "ledger path is required")

	cfg = DefaultConfig()
	cfg.Keyring.RotationDays = 0
	_, err = LoadFile(writeConfig(t, cfg))
	assert.Error(t, err, "rotation period must be at least a day")
}

func TestLoadFileMissingOrMalformed(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: ["), 0644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trustcore.yaml")
	require.NoError(t, createDefault(path))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
