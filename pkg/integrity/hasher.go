// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package integrity provides deterministic hashing primitives for data
// integrity and provenance.
//
// SHA-256 is the general-purpose digest used for hash chaining and
// verification; BLAKE2b-512 is offered as a faster alternative for bulk
// content. Structured values are hashed over a canonical serialization
// (object keys sorted, no insignificant whitespace) so that two
// structurally equal values always produce the same digest regardless of
// map insertion order.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Algorithm names accepted by Verify.
type Algorithm string

const (
	// AlgorithmSHA256 is the 256-bit digest used for chaining and general
	// integrity checks.
	AlgorithmSHA256 Algorithm = "sha256"

	// AlgorithmBLAKE2b is the 512-bit digest used for bulk content.
	AlgorithmBLAKE2b Algorithm = "blake2b"
)

// ErrUnsupportedAlgorithm is returned when Verify is asked for an algorithm
// it does not implement. This is a usage error, distinct from a digest
// mismatch (which reports false with a nil error).
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// HashBytes returns the hex-encoded SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashStructured returns the hex-encoded SHA-256 digest of a structured
// value's canonical serialization.
//
// The value is serialized with CanonicalJSON before hashing, so permuting
// map key insertion order does not change the result. Values that cannot be
// serialized (channels, funcs, cyclic structures) return an error.
func HashStructured(value any) (string, error) {
	canonical, err := CanonicalJSON(value)
	if err != nil {
		return "", err
	}
	return HashBytes(canonical), nil
}

// HashLargeContent returns the hex-encoded BLAKE2b-512 digest of data.
//
// BLAKE2b is substantially faster than SHA-256 on large inputs and is used
// only where explicitly requested; it does not replace SHA-256 for chaining.
func HashLargeContent(data []byte) string {
	sum := blake2b.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of data under the named algorithm and
// compares it against expectedDigest in constant time.
//
// A mismatch reports (false, nil). An unknown algorithm name reports
// (false, ErrUnsupportedAlgorithm) so callers can distinguish a usage error
// from a hash mismatch.
func Verify(data []byte, expectedDigest string, algorithm Algorithm) (bool, error) {
	var computed string
	switch algorithm {
	case AlgorithmSHA256:
		computed = HashBytes(data)
	case AlgorithmBLAKE2b:
		computed = HashLargeContent(data)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expectedDigest)) == 1, nil
}

// CanonicalJSON serializes a value to its canonical JSON form: object keys
// sorted lexicographically, compact separators, no HTML escaping, no
// trailing newline.
//
// encoding/json already sorts map keys; this helper additionally disables
// HTML escaping (so `&`, `<`, `>` hash identically across languages) and
// strips the encoder's trailing newline. The resulting byte sequence is the
// interoperability format for structured hashing and must not change.
func CanonicalJSON(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("canonical serialization failed: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
