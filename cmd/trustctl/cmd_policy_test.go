// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonyedu/trustcore/pkg/compliance"
	"github.com/harmonyedu/trustcore/pkg/logging"
)

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestPolicyCheckCommand(t *testing.T) {
	logger = logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger = nil })

	err := runPolicyCheck(policyCheckCmd, []string{
		writeDoc(t, `{"summary": "worked well with the group today"}`),
	})
	assert.NoError(t, err)

	err = runPolicyCheck(policyCheckCmd, []string{
		writeDoc(t, `{"note": "possible adhd indicators"}`),
	})
	assert.True(t, errors.Is(err, compliance.ErrViolation))

	err = runPolicyCheck(policyCheckCmd, []string{
		writeDoc(t, `not json`),
	})
	assert.Error(t, err)

	err = runPolicyCheck(policyCheckCmd, []string{
		filepath.Join(t.TempDir(), "missing.json"),
	})
	assert.Error(t, err)
}

func TestHashCommand(t *testing.T) {
	path := writeDoc(t, "content")

	hashAlgorithm = "sha256"
	assert.NoError(t, runHash(hashCmd, []string{path}))

	hashAlgorithm = "blake2b"
	assert.NoError(t, runHash(hashCmd, []string{path}))

	hashAlgorithm = "md5"
	assert.Error(t, runHash(hashCmd, []string{path}))
	hashAlgorithm = "sha256"
}
