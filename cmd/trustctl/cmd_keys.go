// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harmonyedu/trustcore/pkg/encryption"
	"github.com/harmonyedu/trustcore/pkg/integrity"
)

func runHash(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	switch hashAlgorithm {
	case "sha256":
		fmt.Println(integrity.HashBytes(data))
	case "blake2b":
		fmt.Println(integrity.HashLargeContent(data))
	default:
		return fmt.Errorf("unsupported algorithm %q (sha256 or blake2b)", hashAlgorithm)
	}
	return nil
}

func runKeysDerive(cmd *cobra.Command, args []string) error {
	salt, err := hex.DecodeString(deriveSalt)
	if err != nil {
		return fmt.Errorf("salt must be hex encoded: %w", err)
	}

	// Read the password from stdin so it never appears in shell history
	// or the process list.
	fmt.Fprint(os.Stderr, "password: ")
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")

	key, err := encryption.DeriveKeyFromPassword(password, salt, deriveRounds)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(key))
	return nil
}
