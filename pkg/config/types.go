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

	"github.com/go-playground/validator/v10"
)

// TrustcoreConfig is the on-disk configuration for the trust core and
// its CLI. Loaded from ~/.trustcore/trustcore.yaml.
type TrustcoreConfig struct {
	// Storage: where the ledger and vault databases live.
	Storage StorageConfig `yaml:"storage"`

	// Keyring: key lifecycle settings.
	Keyring KeyringConfig `yaml:"keyring"`

	// Logging: output destinations and verbosity.
	Logging LoggingConfig `yaml:"logging"`
}

type StorageConfig struct {
	// LedgerPath is the BadgerDB directory for the audit ledger.
	LedgerPath string `yaml:"ledger_path" validate:"required"`

	// VaultPath is the BadgerDB directory for encrypted records.
	VaultPath string `yaml:"vault_path" validate:"required"`

	// SyncWrites keeps writes synchronous. Turning this off trades
	// crash durability for speed; the audit trail should keep it on.
	SyncWrites bool `yaml:"sync_writes"`
}

type KeyringConfig struct {
	// RotationDays is the active lifetime of an encryption key before
	// rotation is due.
	RotationDays int `yaml:"rotation_days" validate:"gte=1,lte=365"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// LogDir enables file logging when set. Supports ~ expansion.
	LogDir string `yaml:"log_dir,omitempty"`

	// JSON formats stderr output as JSON.
	JSON bool `yaml:"json"`
}

// Validate checks the configuration's structural constraints.
func (c *TrustcoreConfig) Validate() error {
	return validator.New().Struct(c)
}

// DefaultConfig returns the configuration written on first run:
// everything under ~/.trustcore, durable writes, 90-day key rotation.
func DefaultConfig() TrustcoreConfig {
	base := ".trustcore"
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".trustcore")
	}
	return TrustcoreConfig{
		Storage: StorageConfig{
			LedgerPath: filepath.Join(base, "ledger"),
			VaultPath:  filepath.Join(base, "vault"),
			SyncWrites: true,
		},
		Keyring: KeyringConfig{
			RotationDays: 90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			LogDir: filepath.Join(base, "logs"),
		},
	}
}
