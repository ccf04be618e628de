// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package integrity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytesDeterminism(t *testing.T) {
	data := []byte("the quick brown fox")

	first := HashBytes(data)
	second := HashBytes(data)

	assert.Equal(t, first, second, "same input must hash identically")
	assert.Len(t, first, 64, "SHA-256 hex digest is 64 chars")
	assert.NotEqual(t, first, HashBytes([]byte("the quick brown fix")))
}

func TestHashBytesKnownVector(t *testing.T) {
	// SHA-256 of the empty string is a published constant.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashBytes(nil))
}

func TestHashStructuredKeyOrderIndependence(t *testing.T) {
	a := map[string]any{
		"actor":  "teacher-7",
		"action": "read",
		"nested": map[string]any{"z": 1, "a": 2},
	}
	b := map[string]any{
		"nested": map[string]any{"a": 2, "z": 1},
		"action": "read",
		"actor":  "teacher-7",
	}

	ha, err := HashStructured(a)
	require.NoError(t, err)
	hb, err := HashStructured(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb, "structurally equal values must hash identically")
}

func TestHashStructuredDistinguishesValues(t *testing.T) {
	ha, err := HashStructured(map[string]any{"k": 1})
	require.NoError(t, err)
	hb, err := HashStructured(map[string]any{"k": 2})
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestHashStructuredUnserializable(t *testing.T) {
	_, err := HashStructured(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestHashLargeContent(t *testing.T) {
	digest := HashLargeContent([]byte("bulk content"))
	assert.Len(t, digest, 128, "BLAKE2b-512 hex digest is 128 chars")
	assert.Equal(t, digest, HashLargeContent([]byte("bulk content")))
}

func TestVerify(t *testing.T) {
	data := []byte("payload")

	tests := []struct {
		name      string
		digest    string
		algorithm Algorithm
		wantOK    bool
		wantErr   error
	}{
		{
			name:      "sha256 match",
			digest:    HashBytes(data),
			algorithm: AlgorithmSHA256,
			wantOK:    true,
		},
		{
			name:      "sha256 mismatch",
			digest:    HashBytes([]byte("other")),
			algorithm: AlgorithmSHA256,
			wantOK:    false,
		},
		{
			name:      "blake2b match",
			digest:    HashLargeContent(data),
			algorithm: AlgorithmBLAKE2b,
			wantOK:    true,
		},
		{
			name:      "unknown algorithm is a usage error",
			digest:    HashBytes(data),
			algorithm: Algorithm("md5"),
			wantOK:    false,
			wantErr:   ErrUnsupportedAlgorithm,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := Verify(data, tc.digest, tc.algorithm)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantErr != nil {
				assert.True(t, errors.Is(err, tc.wantErr))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCanonicalJSONStable(t *testing.T) {
	value := map[string]any{"b": []any{1, "two"}, "a": "x & y"}

	first, err := CanonicalJSON(value)
	require.NoError(t, err)
	second, err := CanonicalJSON(value)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, `{"a":"x & y","b":[1,"two"]}`, string(first),
		"keys sorted, compact separators, no HTML escaping")
}
