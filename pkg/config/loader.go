// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the trust core's on-disk configuration.
//
// The configuration lives at ~/.trustcore/trustcore.yaml and is created
// with defaults on first run. Load populates the Global singleton once
// per process; LoadFile parses an explicit path without touching the
// singleton, for tests and the CLI's --config override.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// Global is the singleton configuration instance.
	Global TrustcoreConfig
	once   sync.Once
)

// Load ensures the config is loaded into the Global variable. The file
// is read and validated at most once per process; later calls return
// the first call's result.
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not find the user's home directory: %w", err)
	}
	configPath := filepath.Join(home, ".trustcore", "trustcore.yaml")
	// create it if it doesn't exist
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return err
		}
	}
	cfg, err := LoadFile(configPath)
	if err != nil {
		return err
	}
	Global = cfg
	return nil
}

// LoadFile reads and validates a configuration file without touching
// the Global singleton.
func LoadFile(path string) (TrustcoreConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TrustcoreConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	var cfg TrustcoreConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return TrustcoreConfig{}, fmt.Errorf("failed to parse the config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return TrustcoreConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
