// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package encryption provides authenticated symmetric encryption and
// password-based key derivation.
//
// All encryption is AES-GCM with a fresh random 96-bit nonce per call.
// Nonces are always generated internally and never accepted from callers on
// the encrypt path, which structurally rules out nonce reuse under a key.
// Decryption failures are reported uniformly as ErrAuthenticationFailed
// regardless of cause (corrupt ciphertext, wrong key, or mismatched
// associated data) so the error cannot be used as an oracle.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultKeySizeBits is the recommended key size.
	DefaultKeySizeBits = 256

	// NonceSize is the AES-GCM nonce size in bytes (96 bits).
	NonceSize = 12

	// DefaultPBKDF2Iterations is the default PBKDF2 work factor.
	DefaultPBKDF2Iterations = 480_000

	// derivedKeyLen is the PBKDF2 output length in bytes (256 bits).
	derivedKeyLen = 32
)

var (
	// ErrAuthenticationFailed is returned whenever decryption does not
	// verify. It deliberately carries no detail about the cause.
	ErrAuthenticationFailed = errors.New("decryption failed: authentication error")

	// ErrInvalidKeySize is returned for key sizes AES does not support.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrEmptySalt is returned when key derivation is attempted without a
	// caller-supplied salt.
	ErrEmptySalt = errors.New("salt must not be empty")
)

// Service performs authenticated encryption with a configured key size.
//
// The zero value is not usable; construct with NewService. Service is
// stateless and safe for concurrent use.
type Service struct {
	keyBytes int
}

// NewService returns a Service for the given key size in bits.
// Supported sizes are 128, 192, and 256 (the AES variants).
func NewService(keySizeBits int) (*Service, error) {
	switch keySizeBits {
	case 128, 192, 256:
		return &Service{keyBytes: keySizeBits / 8}, nil
	default:
		return nil, fmt.Errorf("%w: %d bits", ErrInvalidKeySize, keySizeBits)
	}
}

// KeySize returns the configured key size in bytes.
func (s *Service) KeySize() int {
	return s.keyBytes
}

// GenerateKey returns a cryptographically secure random key of the
// configured size.
func (s *Service) GenerateKey() ([]byte, error) {
	key := make([]byte, s.keyBytes)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under key with AES-GCM and returns the generated
// nonce alongside the ciphertext (which includes the authentication tag).
//
// associatedData, if non-nil, is authenticated but not encrypted; the same
// bytes must be presented again at decryption time.
func (s *Service) Encrypt(plaintext, key, associatedData []byte) (nonce, ciphertext []byte, err error) {
	aead, err := s.newAEAD(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("nonce generation failed: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, associatedData)
	return nonce, ciphertext, nil
}

// Decrypt opens ciphertext produced by Encrypt.
//
// Any verification failure, including a tampered ciphertext, a wrong key of
// valid length, or mismatched associated data, returns
// ErrAuthenticationFailed with no further distinction.
func (s *Service) Decrypt(nonce, ciphertext, key, associatedData []byte) ([]byte, error) {
	aead, err := s.newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, ErrAuthenticationFailed
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		// Uniform error: do not leak whether the tag, key, or associated
		// data was at fault.
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// newAEAD builds the AES-GCM AEAD for a key of the configured size.
func (s *Service) newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != s.keyBytes {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeySize, len(key), s.keyBytes)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySize, err)
	}
	return cipher.NewGCM(block)
}

// DeriveKeyFromPassword derives a 256-bit key from a password using
// PBKDF2-HMAC-SHA256.
//
// The same password, salt, and iteration count always yield the same key;
// different salts yield independent keys even for identical passwords. The
// salt must be unique per password and non-empty. If iterations is not
// positive, DefaultPBKDF2Iterations is used.
func DeriveKeyFromPassword(password string, salt []byte, iterations int) ([]byte, error) {
	if len(salt) == 0 {
		return nil, ErrEmptySalt
	}
	if iterations <= 0 {
		iterations = DefaultPBKDF2Iterations
	}
	return pbkdf2.Key([]byte(password), salt, iterations, derivedKeyLen, sha256.New), nil
}
