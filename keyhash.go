// keyhash.go: Pluggable hashing for key commitments.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"crypto/sha1" //nolint:gosec // SHA1 is a selectable commitment hash kept for existing files
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// HashName identifies a key commitment hash.
type HashName string

const (
	HashSHA1    HashName = "SHA1"
	HashSHA256  HashName = "SHA256"
	HashSHA512  HashName = "SHA512"
	HashBLAKE2b HashName = "BLAKE2b"
)

// Hash argument names.
const (
	HashArgTruncate   = "truncate"    // SHA512: "224" or "256"
	HashArgDigestBits = "digest_bits" // BLAKE2b: 256, 384 or 512
)

// HashProvider builds a hash for a commitment.
type HashProvider interface {
	New(name HashName, args map[string]string) (hash.Hash, error)
}

// HashProviderFunc adapts a function to HashProvider.
type HashProviderFunc func(name HashName, args map[string]string) (hash.Hash, error)

// New calls f.
func (f HashProviderFunc) New(name HashName, args map[string]string) (hash.Hash, error) {
	return f(name, args)
}

// DefaultHashProvider knows SHA1, SHA256, SHA512 and BLAKE2b.
var DefaultHashProvider HashProvider = HashProviderFunc(newStdHash)

func newStdHash(name HashName, args map[string]string) (hash.Hash, error) {
	switch name {
	case HashSHA1:
		return sha1.New(), nil //nolint:gosec
	case HashSHA256:
		return sha256.New(), nil
	case HashSHA512:
		switch args[HashArgTruncate] {
		case "":
			return sha512.New(), nil
		case "224":
			return sha512.New512_224(), nil
		case "256":
			return sha512.New512_256(), nil
		default:
			return nil, newError(ErrInvalidConfig, ErrCodeInvalidConfig,
				fmt.Sprintf("SHA512 truncate %q", args[HashArgTruncate]))
		}
	case HashBLAKE2b:
		bits := 512
		if v, ok := args[HashArgDigestBits]; ok {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n%8 != 0 || n > 512 {
				return nil, newError(ErrInvalidConfig, ErrCodeInvalidConfig,
					fmt.Sprintf("BLAKE2b digest_bits %q", v))
			}
			bits = n
		}
		h, err := blake2b.New(bits/8, nil)
		if err != nil {
			return nil, wrapError(ErrInvalidConfig, err, ErrCodeInvalidConfig, "failed to create BLAKE2b")
		}
		return h, nil
	}
	return nil, newError(ErrUnsupportedHash, ErrCodeUnsupportedHash, fmt.Sprintf("unknown hash %q", name))
}

// commitKey computes H(...H(key || salt)) with iterations rounds. The input
// buffer is wiped before returning.
func commitKey(hp HashProvider, name HashName, args map[string]string, iterations int, key, salt []byte) ([]byte, error) {
	if iterations < 1 {
		iterations = 1
	}
	data := make([]byte, 0, len(key)+len(salt))
	data = append(data, key...)
	data = append(data, salt...)
	defer Zeroize(data)

	var digest []byte
	for i := 0; i < iterations; i++ {
		h, err := hp.New(name, args)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			h.Write(data)
		} else {
			h.Write(digest)
		}
		digest = h.Sum(nil)
	}
	return digest, nil
}
