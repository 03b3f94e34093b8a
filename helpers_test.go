// helpers_test.go: Shared fixtures for the cipherman tests.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/absfs/memfs"
	"github.com/stretchr/testify/require"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyErr  error
)

// testRSAKey returns a shared 1024 bit key. Tests must not erase it.
func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		testKey, testKeyErr = rsa.GenerateKey(rand.Reader, 1024)
	})
	require.NoError(t, testKeyErr)
	return testKey
}

// testKeystore returns a fresh PEM copy of the shared key.
func testKeystore(t *testing.T, passphrase []byte) []byte {
	t.Helper()
	data, err := EncodeRSAKeystore(testRSAKey(t), passphrase)
	require.NoError(t, err)
	return data
}

func newTestFS(t *testing.T) FileSystem {
	t.Helper()
	fs, err := memfs.NewFS()
	require.NoError(t, err)
	return fs
}

func writeTestFile(t *testing.T, fs FileSystem, name string, data []byte) {
	t.Helper()
	f, err := fs.Create(name)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func readTestFile(t *testing.T, fs FileSystem, name string) []byte {
	t.Helper()
	f, err := fs.Open(name)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

// randomPlaintext returns n random bytes that do not end in NUL.
func randomPlaintext(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	if n > 0 && b[n-1] == 0 {
		b[n-1] = 1
	}
	return b
}

// newPasswordFile builds an unlocked, committed cipher file.
func newPasswordFile(t *testing.T, cfg CipherConfig, password []byte, opts ...Option) *CipherFile {
	t.Helper()
	cf, err := NewCipherFile(cfg, opts...)
	require.NoError(t, err)
	ok, err := cf.SetKey(password)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, cf.Unlock(password, nil))
	t.Cleanup(cf.Lock)
	return cf
}

// newRSAFile builds an unlocked RSA cipher file over the shared key.
func newRSAFile(t *testing.T, name CipherName, opts ...Option) *CipherFile {
	t.Helper()
	cf, err := NewCipherFile(CipherConfig{CipherName: name, KeyType: KeyTypeRSAKeystore}, opts...)
	require.NoError(t, err)
	require.NoError(t, cf.Unlock(testKeystore(t, nil), nil))
	t.Cleanup(cf.Lock)
	return cf
}

// xorPrimitive is an unpadded, length preserving test cipher that sleeps a
// random moment per call so concurrent chunks finish out of order.
type xorPrimitive struct {
	key   byte
	delay bool
}

func (p *xorPrimitive) Limits() Limits { return Limits{PaddingUnit: -1} }

func (p *xorPrimitive) Encrypt(in []byte) ([]byte, error) { return p.xor(in), nil }

func (p *xorPrimitive) Decrypt(in []byte) ([]byte, error) { return p.xor(in), nil }

func (p *xorPrimitive) xor(in []byte) []byte {
	if p.delay {
		n, _ := rand.Int(rand.Reader, big.NewInt(2000))
		time.Sleep(time.Duration(n.Int64()) * time.Microsecond)
	}
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ p.key
	}
	return out
}

const cipherXOR CipherName = "XOR-TEST"

// xorRegistry returns a registry that also knows cipherXOR.
func xorRegistry(t *testing.T, delay bool) *ProviderRegistry {
	t.Helper()
	r := NewProviderRegistry(nil)
	require.NoError(t, r.Register(cipherXOR, ProviderFunc(func(_ CipherName, key *KeyMaterial, _ CipherArgs) (Primitive, error) {
		if key == nil || len(key.Raw) == 0 {
			return nil, newError(ErrInvalidKey, ErrCodeInvalidKey, "xor needs a key byte")
		}
		return &xorPrimitive{key: key.Raw[0], delay: delay}, nil
	})))
	return r
}

func xorBytes(in []byte, key byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ key
	}
	return out
}

const cipherFailing CipherName = "FAILING-TEST"

var errUnplugged = errors.New("device unplugged")

// failingPrimitive is an unpadded identity cipher that fails on inputs longer
// than limit bytes.
type failingPrimitive struct {
	limit int
}

func (p failingPrimitive) Limits() Limits { return Limits{PaddingUnit: -1} }

func (p failingPrimitive) Encrypt(in []byte) ([]byte, error) { return p.run(in) }

func (p failingPrimitive) Decrypt(in []byte) ([]byte, error) { return p.run(in) }

func (p failingPrimitive) run(in []byte) ([]byte, error) {
	if len(in) > p.limit {
		return nil, errUnplugged
	}
	return cloneBytes(in), nil
}

// newFailingFile builds an unlocked cipher file over failingPrimitive.
func newFailingFile(t *testing.T, iters, limit int, opts ...Option) *CipherFile {
	t.Helper()
	r := NewProviderRegistry(nil)
	require.NoError(t, r.Register(cipherFailing, ProviderFunc(func(CipherName, *KeyMaterial, CipherArgs) (Primitive, error) {
		return failingPrimitive{limit: limit}, nil
	})))
	return newPasswordFile(t, CipherConfig{CipherName: cipherFailing, IterCount: iters}, []byte("pw"), append(opts, WithProvider(r))...)
}
