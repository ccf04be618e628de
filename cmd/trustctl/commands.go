// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harmonyedu/trustcore/pkg/config"
	"github.com/harmonyedu/trustcore/pkg/logging"
)

// --- Global Command Variables ---
var (
	configPath    string
	hashAlgorithm string
	deriveSalt    string
	deriveRounds  int
	ledgerFilter  struct {
		actor    string
		resource string
		action   string
	}

	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "trustctl",
		Short: "A cli for the trust core: audit ledger, policy checks, and key tooling",
		Long: `trustctl inspects and verifies the trust core's on-disk state:
the hash-chained audit ledger, the embedded output-compliance policy,
and content digests.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return err
			}
			logger = logging.New(logging.Config{
				Level:   logging.ParseLevel(config.Global.Logging.Level),
				LogDir:  config.Global.Logging.LogDir,
				Service: "trustctl",
				JSON:    config.Global.Logging.JSON,
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	// --- Ledger ---
	ledgerCmd = &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and verify the audit ledger",
	}
	ledgerVerifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Verify the full hash chain of the persisted audit ledger",
		RunE:  runLedgerVerify,
	}
	ledgerShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print audit ledger entries, optionally filtered",
		RunE:  runLedgerShow,
	}

	// --- Policy ---
	policyCmd = &cobra.Command{
		Use:   "policy",
		Short: "Work with the embedded output-compliance policy",
	}
	policyCheckCmd = &cobra.Command{
		Use:   "check [json file]",
		Short: "Validate a JSON document against the compliance policy",
		Args:  cobra.ExactArgs(1),
		RunE:  runPolicyCheck,
	}
	policyShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the embedded policy and its digest",
		RunE:  runPolicyShow,
	}

	// --- Hashing / Keys ---
	hashCmd = &cobra.Command{
		Use:   "hash [file]",
		Short: "Print the content digest of a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runHash,
	}
	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "Key material tooling",
	}
	keysDeriveCmd = &cobra.Command{
		Use:   "derive",
		Short: "Derive a key from a password read on stdin",
		RunE:  runKeysDerive,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to a config file (default ~/.trustcore/trustcore.yaml)")

	ledgerShowCmd.Flags().StringVar(&ledgerFilter.actor, "actor", "", "filter by actor")
	ledgerShowCmd.Flags().StringVar(&ledgerFilter.resource, "resource", "", "filter by resource")
	ledgerShowCmd.Flags().StringVar(&ledgerFilter.action, "action", "", "filter by action")
	ledgerCmd.AddCommand(ledgerVerifyCmd, ledgerShowCmd)

	policyCmd.AddCommand(policyCheckCmd, policyShowCmd)

	hashCmd.Flags().StringVar(&hashAlgorithm, "algorithm", "sha256",
		"digest algorithm: sha256 or blake2b")

	keysDeriveCmd.Flags().StringVar(&deriveSalt, "salt", "", "salt, hex encoded (required)")
	keysDeriveCmd.Flags().IntVar(&deriveRounds, "iterations", 0,
		"PBKDF2 iteration count (default 480000)")
	_ = keysDeriveCmd.MarkFlagRequired("salt")
	keysCmd.AddCommand(keysDeriveCmd)

	rootCmd.AddCommand(ledgerCmd, policyCmd, hashCmd, keysCmd)
}

// loadConfig populates config.Global, honoring the --config override.
func loadConfig() error {
	if configPath != "" {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		config.Global = cfg
		return nil
	}
	if err := config.Load(); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	return nil
}
