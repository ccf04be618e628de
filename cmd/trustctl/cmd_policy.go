// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harmonyedu/trustcore/pkg/compliance"
	"github.com/harmonyedu/trustcore/pkg/compliance/enforcement"
	"github.com/harmonyedu/trustcore/pkg/integrity"
)

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing document: %w", err)
	}

	guard, err := compliance.NewGuard()
	if err != nil {
		return err
	}
	if err := guard.Validate(doc, "trustctl policy check: "+args[0]); err != nil {
		logger.Warn("policy check failed", "file", args[0], "error", err)
		return err
	}
	fmt.Println("ok: document passes the compliance policy")
	return nil
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	// The digest lets operators confirm which policy a binary carries.
	digest := integrity.HashBytes(enforcement.ProhibitedOutputPolicy)
	fmt.Printf("policy sha256: %s\n\n", digest)
	fmt.Print(string(enforcement.ProhibitedOutputPolicy))
	return nil
}
