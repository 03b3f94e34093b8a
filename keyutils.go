// keyutils.go: Random material, fingerprints and key helpers.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	goerrors "github.com/agilira/go-errors"
)

// GetKeyFingerprint returns a short identifier for a key or digest.
//
// The first 8 bytes of SHA-256 are rendered as 16 hex characters, which is
// enough to tell files apart in logs without exposing anything useful.
// An empty input gives an empty string.
func GetKeyFingerprint(key []byte) string {
	if len(key) == 0 {
		return ""
	}
	hash := sha256.Sum256(key)
	return fmt.Sprintf("%016x", hash[:8])
}

// GeneratePassword returns n random bytes suitable as a password key for the
// given cipher. n <= 0 means the cipher's maximum key length.
func GeneratePassword(name CipherName, n int) ([]byte, error) {
	if n <= 0 {
		n = name.MaxKeyLen()
	}
	if n <= 0 || (name.MaxKeyLen() > 0 && n > name.MaxKeyLen()) {
		return nil, newError(ErrInvalidKey, ErrCodeInvalidKey,
			fmt.Sprintf("%s cannot take a %d byte password", name, n))
	}
	return randomBytes(n)
}

func randomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, newError(ErrInvalidConfig, ErrCodeInvalidConfig, "random length must be positive")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, goerrors.Wrap(err, ErrCodeRandom, "failed to read random bytes")
	}
	return b, nil
}
