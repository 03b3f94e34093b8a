// cipherfile_test.go: Tests for cipher file configuration and key lifecycle.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingErase wraps SecureErase and keeps the erased password buffers.
type recordingErase struct {
	mu     sync.Mutex
	calls  int
	erased [][]byte
}

func (r *recordingErase) Erase(km *KeyMaterial) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	raw := km.Raw
	SecureErase.Erase(km)
	r.erased = append(r.erased, raw)
}

func TestNewCipherFileDefaults(t *testing.T) {
	cf, err := NewCipherFile(CipherConfig{CipherName: CipherAES256})
	require.NoError(t, err)

	assert.True(t, cf.Locked())
	assert.Equal(t, 1, cf.IterCount)
	assert.Equal(t, KeyTypePassword, cf.KeyType)
	assert.Equal(t, HashSHA256, cf.KeyHashName)
	assert.Equal(t, 1, cf.KeyHashIterCount)
	assert.Equal(t, DefaultPasswordSaltLen, cf.PasswordSaltLen)
	assert.Equal(t, DefaultContentEncoding, cf.ContentEncoding)
	assert.Nil(t, cf.KeyHash)
	assert.Nil(t, cf.PasswordSalt)
	assert.Equal(t, Limits{}, cf.Limits())
}

func TestNewCipherFileValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CipherConfig
		wantErr error
	}{
		{"missing cipher", CipherConfig{}, ErrInvalidConfig},
		{"negative iterations", CipherConfig{CipherName: CipherAES128, IterCount: -1}, ErrInvalidConfig},
		{"negative hash iterations", CipherConfig{CipherName: CipherAES128, KeyHashIterCount: -2}, ErrInvalidConfig},
		{"unknown key type", CipherConfig{CipherName: CipherAES128, KeyType: "TOKEN"}, ErrInvalidConfig},
		{"negative salt length", CipherConfig{CipherName: CipherAES128, PasswordSaltLen: -1}, ErrInvalidConfig},
		{"unknown cipher", CipherConfig{CipherName: "ROT13"}, ErrUnsupportedCipher},
		{"unknown hash", CipherConfig{CipherName: CipherAES128, KeyHashName: "MD5"}, ErrUnsupportedHash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCipherFile(tt.cfg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSetKeyCommitsOnce(t *testing.T) {
	cf, err := NewCipherFile(CipherConfig{CipherName: CipherAES256})
	require.NoError(t, err)

	ok, err := cf.SetKey(nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, cf.KeyHash)

	ok, err = cf.SetKey([]byte("first"))
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, cf.PasswordSalt, DefaultPasswordSaltLen)
	require.Len(t, cf.KeyHash, 32)
	hash := append([]byte{}, cf.KeyHash...)
	salt := append([]byte{}, cf.PasswordSalt...)

	ok, err = cf.SetKey([]byte("second"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, hash, cf.KeyHash)
	assert.Equal(t, salt, cf.PasswordSalt)
	assert.True(t, cf.Locked(), "SetKey does not unlock")
}

func TestSetKeyKeepsExistingSalt(t *testing.T) {
	salt := []byte("0123456789abcdef")
	cf, err := NewCipherFile(CipherConfig{CipherName: CipherAES128, PasswordSalt: salt})
	require.NoError(t, err)
	_, err = cf.SetKey([]byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, salt, cf.PasswordSalt)

	want, err := commitKey(DefaultHashProvider, HashSHA256, nil, 1, []byte("pw"), salt)
	require.NoError(t, err)
	assert.Equal(t, want, cf.KeyHash)
}

func TestSetKeyKeystoreHasNoSalt(t *testing.T) {
	cf, err := NewCipherFile(CipherConfig{CipherName: CipherPKCS1OAEP, KeyType: KeyTypeRSAKeystore})
	require.NoError(t, err)
	ok, err := cf.SetKey([]byte("keystore bytes"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, cf.PasswordSalt)
	assert.True(t, cf.ValidateKey([]byte("keystore bytes")))
}

func TestValidateKey(t *testing.T) {
	cf, err := NewCipherFile(CipherConfig{CipherName: CipherAES128, KeyHashIterCount: 5})
	require.NoError(t, err)
	assert.True(t, cf.ValidateKey([]byte("anything")), "no commitment accepts every key")

	_, err = cf.SetKey([]byte("correct"))
	require.NoError(t, err)
	assert.True(t, cf.ValidateKey([]byte("correct")))
	assert.False(t, cf.ValidateKey([]byte("wrong")))
	assert.False(t, cf.ValidateKey(nil))
	assert.False(t, cf.ValidateKey(bytes.Repeat([]byte("x"), 17)), "longer than the AES-128 key")
}

func TestUnlockAndLock(t *testing.T) {
	rec := &recordingErase{}
	cf, err := NewCipherFile(CipherConfig{CipherName: CipherAES256}, WithErasePolicy(rec))
	require.NoError(t, err)

	password := []byte("password")
	require.NoError(t, cf.Unlock(password, nil))
	assert.False(t, cf.Locked())
	assert.Equal(t, Limits{PaddingUnit: 16}, cf.Limits())

	cf.Lock()
	assert.True(t, cf.Locked())
	cf.Lock()
	assert.True(t, cf.Locked(), "lock is idempotent")

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, make([]byte, len(password)), rec.erased[0], "resident copy is zeroed")
	assert.Equal(t, []byte("password"), password, "caller's key is untouched")
	assert.Equal(t, Limits{}, cf.Limits())
}

func TestUnlockRejectsUnusableKeys(t *testing.T) {
	cf, err := NewCipherFile(CipherConfig{CipherName: CipherAES128})
	require.NoError(t, err)

	assert.ErrorIs(t, cf.Unlock(nil, nil), ErrInvalidKey)
	assert.ErrorIs(t, cf.Unlock(bytes.Repeat([]byte("k"), 17), nil), ErrInvalidKey)
	assert.True(t, cf.Locked())

	rsaFile, err := NewCipherFile(CipherConfig{CipherName: CipherPKCS1OAEP, KeyType: KeyTypeRSAKeystore})
	require.NoError(t, err)
	assert.ErrorIs(t, rsaFile.Unlock([]byte("not a keystore"), nil), ErrInvalidKey)
	assert.True(t, rsaFile.Locked())
}

func TestLockedFileRejectsCrypto(t *testing.T) {
	cf, err := NewCipherFile(CipherConfig{CipherName: CipherAES256})
	require.NoError(t, err)

	_, err = cf.EncryptBytes([]byte("x"))
	assert.ErrorIs(t, err, ErrLocked)
	_, err = cf.DecryptBytes([]byte("x"))
	assert.ErrorIs(t, err, ErrLocked)
	_, err = cf.EncryptStream(bytes.NewReader(nil), 16, nil, 0, 1)
	assert.ErrorIs(t, err, ErrLocked)
	_, err = cf.Sign([]byte("x"))
	assert.ErrorIs(t, err, ErrLocked)
}

func TestEncryptBytesRoundTrip(t *testing.T) {
	for _, name := range []CipherName{CipherDES, CipherDES3, CipherAES128, CipherAES192, CipherAES256} {
		for _, mode := range []string{ModeECB, ModeCBC, ModeCTR} {
			t.Run(string(name)+"/"+mode, func(t *testing.T) {
				args, err := NewBlockArgs(name, mode)
				require.NoError(t, err)
				cf := newPasswordFile(t, CipherConfig{CipherName: name, CipherArgs: args, IterCount: 3}, []byte("pw"))

				plain := []byte("a value that is not block aligned")
				ct, err := cf.EncryptBytes(plain)
				require.NoError(t, err)
				assert.Zero(t, len(ct)%name.Padding())

				got, err := cf.DecryptBytes(ct)
				require.NoError(t, err)
				assert.Equal(t, plain, got)
			})
		}
	}
}

func TestEncryptBytesRSA(t *testing.T) {
	for _, name := range []CipherName{CipherPKCS1OAEP, CipherPKCS1v15} {
		t.Run(string(name), func(t *testing.T) {
			cf := newRSAFile(t, name)
			ct, err := cf.EncryptBytes([]byte("secret.txt"))
			require.NoError(t, err)
			got, err := cf.DecryptBytes(ct)
			require.NoError(t, err)
			assert.Equal(t, []byte("secret.txt"), got)
		})
	}
}

func TestIteratedRSAIsRejected(t *testing.T) {
	cf, err := NewCipherFile(CipherConfig{CipherName: CipherPKCS1OAEP, KeyType: KeyTypeRSAKeystore, IterCount: 2})
	require.NoError(t, err)
	require.NoError(t, cf.Unlock(testKeystore(t, nil), nil))
	defer cf.Lock()

	_, err = cf.EncryptBytes([]byte("x"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = cf.EncryptStream(bytes.NewReader([]byte("x")), 16, nil, 1, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDecryptBytesStripsTrailingNUL(t *testing.T) {
	cf := newPasswordFile(t, CipherConfig{CipherName: CipherAES128}, []byte("pw"))
	ct, err := cf.EncryptBytes([]byte("abc\x00"))
	require.NoError(t, err)
	got, err := cf.DecryptBytes(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestPublicKeystoreCannotDecrypt(t *testing.T) {
	pub, err := EncodeRSAPublicKey(&testRSAKey(t).PublicKey)
	require.NoError(t, err)
	cf, err := NewCipherFile(CipherConfig{CipherName: CipherPKCS1OAEP, KeyType: KeyTypeRSAKeystore})
	require.NoError(t, err)
	require.NoError(t, cf.Unlock(pub, nil))
	defer cf.Lock()

	assert.True(t, cf.Limits().CannotDecrypt)
	ct, err := cf.EncryptBytes([]byte("x"))
	require.NoError(t, err)
	_, err = cf.DecryptBytes(ct)
	assert.ErrorIs(t, err, ErrCannotDecrypt)
	_, err = cf.DecryptStream(bytes.NewReader(ct), len(ct), nil, 1, 1)
	assert.ErrorIs(t, err, ErrCannotDecrypt)
}

func TestSignVerify(t *testing.T) {
	cf := newRSAFile(t, CipherPKCS1v15)
	sig, err := cf.Sign([]byte("document"))
	require.NoError(t, err)
	assert.NoError(t, cf.Verify([]byte("document"), sig))
	assert.Error(t, cf.Verify([]byte("other"), sig))

	aes := newPasswordFile(t, CipherConfig{CipherName: CipherAES128}, []byte("pw"))
	_, err = aes.Sign([]byte("document"))
	assert.ErrorIs(t, err, ErrNotSigner)
	assert.ErrorIs(t, aes.Verify([]byte("document"), sig), ErrNotSigner)
}

func TestCipherFileJSONHasNoKey(t *testing.T) {
	cf := newPasswordFile(t, CipherConfig{CipherName: CipherAES128, ContentType: "application/test"}, []byte("pw"))
	data, err := json.Marshal(cf)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "AES-128", fields["cipher_name"])
	assert.Equal(t, "PASSWORD", fields["key_type"])
	assert.Contains(t, fields, "key_hash")
	assert.Contains(t, fields, "password_salt")
	assert.NotContains(t, fields, "key")
	assert.NotContains(t, string(data), `"pw"`)
}

func TestEncryptBytesConcurrent(t *testing.T) {
	cf := newPasswordFile(t, CipherConfig{CipherName: CipherAES256}, []byte("pw"))
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct, err := cf.EncryptBytes([]byte("concurrent value"))
			if err != nil {
				errs <- err
				return
			}
			if _, err := cf.DecryptBytes(ct); err != nil {
				errs <- err
			}
			_ = cf.Locked()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
