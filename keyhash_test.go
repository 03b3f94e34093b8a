// keyhash_test.go: Tests for key commitment hashing.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"crypto/sha256"
	"hash"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitKeySingleRound(t *testing.T) {
	got, err := commitKey(DefaultHashProvider, HashSHA256, nil, 1, []byte("key"), []byte("salt"))
	require.NoError(t, err)
	want := sha256.Sum256([]byte("keysalt"))
	assert.Equal(t, want[:], got)
}

func TestCommitKeyIterations(t *testing.T) {
	got, err := commitKey(DefaultHashProvider, HashSHA256, nil, 3, []byte("key"), nil)
	require.NoError(t, err)

	d1 := sha256.Sum256([]byte("key"))
	d2 := sha256.Sum256(d1[:])
	d3 := sha256.Sum256(d2[:])
	assert.Equal(t, d3[:], got)
}

func TestCommitKeyLeavesInputIntact(t *testing.T) {
	key := []byte("password")
	salt := []byte("salt")
	_, err := commitKey(DefaultHashProvider, HashSHA1, nil, 2, key, salt)
	require.NoError(t, err)
	assert.Equal(t, []byte("password"), key)
	assert.Equal(t, []byte("salt"), salt)
}

func TestDefaultHashProvider(t *testing.T) {
	tests := []struct {
		name    HashName
		args    map[string]string
		size    int
		wantErr error
	}{
		{HashSHA1, nil, 20, nil},
		{HashSHA256, nil, 32, nil},
		{HashSHA512, nil, 64, nil},
		{HashSHA512, map[string]string{HashArgTruncate: "224"}, 28, nil},
		{HashSHA512, map[string]string{HashArgTruncate: "256"}, 32, nil},
		{HashSHA512, map[string]string{HashArgTruncate: "100"}, 0, ErrInvalidConfig},
		{HashBLAKE2b, nil, 64, nil},
		{HashBLAKE2b, map[string]string{HashArgDigestBits: "256"}, 32, nil},
		{HashBLAKE2b, map[string]string{HashArgDigestBits: "7"}, 0, ErrInvalidConfig},
		{HashName("MD5"), nil, 0, ErrUnsupportedHash},
	}
	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			h, err := DefaultHashProvider.New(tt.name, tt.args)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, h.Size())
		})
	}
}

func TestCustomHashProvider(t *testing.T) {
	calls := 0
	hp := HashProviderFunc(func(name HashName, args map[string]string) (hash.Hash, error) {
		calls++
		return sha256.New(), nil
	})
	_, err := commitKey(hp, "CUSTOM", nil, 4, []byte("k"), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}
