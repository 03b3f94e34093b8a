// stream_test.go: Tests for chunked stream encryption.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/absfs/absfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackingFS records files created and removed through it.
type trackingFS struct {
	FileSystem

	mu      sync.Mutex
	created []string
	removed []string
}

func (f *trackingFS) Create(name string) (absfs.File, error) {
	f.mu.Lock()
	f.created = append(f.created, name)
	f.mu.Unlock()
	return f.FileSystem.Create(name)
}

func (f *trackingFS) Remove(name string) error {
	f.mu.Lock()
	f.removed = append(f.removed, name)
	f.mu.Unlock()
	return f.FileSystem.Remove(name)
}

func (f *trackingFS) spills() (created, removed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range f.created {
		if strings.Contains(name, "cipherman-spill-") {
			created = append(created, name)
		}
	}
	for _, name := range f.removed {
		if strings.Contains(name, "cipherman-spill-") {
			removed = append(removed, name)
		}
	}
	return created, removed
}

func drain(t *testing.T, s *ChunkStream) []byte {
	t.Helper()
	var out bytes.Buffer
	_, err := s.WriteTo(&out)
	require.NoError(t, err)
	return out.Bytes()
}

func TestStreamRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		mode  string
		iters int
		size  int
		chunk int
	}{
		{"ECB single pass", ModeECB, 1, 1000, 64},
		{"ECB three passes", ModeECB, 3, 1000, 64},
		{"CBC two passes", ModeCBC, 2, 5000, 512},
		{"CTR two passes", ModeCTR, 2, 333, 32},
		{"aligned input", ModeECB, 2, 1024, 256},
		{"one short chunk", ModeCBC, 1, 5, 2048},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &trackingFS{FileSystem: newTestFS(t)}
			args, err := NewBlockArgs(CipherAES256, tt.mode)
			require.NoError(t, err)
			cf := newPasswordFile(t, CipherConfig{CipherName: CipherAES256, CipherArgs: args, IterCount: tt.iters},
				[]byte("stream password"), WithFileSystem(fs))

			plain := randomPlaintext(t, tt.size)
			enc, err := cf.EncryptStream(bytes.NewReader(plain), tt.chunk, nil, int64(tt.size), 1)
			require.NoError(t, err)
			ct := drain(t, enc)
			assert.Zero(t, len(ct)%16)
			assert.GreaterOrEqual(t, len(ct), tt.size)

			dec, err := cf.DecryptStream(bytes.NewReader(ct), tt.chunk, nil, int64(len(ct)), 1)
			require.NoError(t, err)
			got := drain(t, dec)
			require.Len(t, got, len(ct), "stream decryption keeps the padding")
			assert.Equal(t, plain, got[:tt.size])
			assert.Equal(t, make([]byte, len(ct)-tt.size), got[tt.size:])

			created, removed := fs.spills()
			assert.Len(t, created, 2*(tt.iters-1))
			assert.ElementsMatch(t, created, removed, "every spill file is removed")
		})
	}
}

func TestStreamConcurrencyKeepsOrder(t *testing.T) {
	cf := newPasswordFile(t, CipherConfig{CipherName: cipherXOR}, []byte{0x5A}, WithProvider(xorRegistry(t, true)))

	plain := randomPlaintext(t, 200*16+7)
	s, err := cf.EncryptStream(bytes.NewReader(plain), 16, nil, int64(len(plain)), 8)
	require.NoError(t, err)

	var chunks [][]byte
	for chunk, err := range s.All() {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 201)
	assert.Len(t, chunks[200], 7, "unpadded cipher leaves the tail short")
	assert.Equal(t, xorBytes(plain, 0x5A), bytes.Join(chunks, nil))
}

func TestStreamConcurrencyWithIterations(t *testing.T) {
	fs := &trackingFS{FileSystem: newTestFS(t)}
	cf := newPasswordFile(t, CipherConfig{CipherName: cipherXOR, IterCount: 3}, []byte{0x0F},
		WithProvider(xorRegistry(t, true)), WithFileSystem(fs))

	plain := randomPlaintext(t, 4000)
	s, err := cf.EncryptStream(bytes.NewReader(plain), 100, nil, int64(len(plain)), 4)
	require.NoError(t, err)
	// Three XOR passes equal one.
	assert.Equal(t, xorBytes(plain, 0x0F), drain(t, s))

	created, removed := fs.spills()
	assert.Len(t, created, 2)
	assert.ElementsMatch(t, created, removed)
}

func TestStreamRejectsConcurrencyForPaddedCipher(t *testing.T) {
	cf := newPasswordFile(t, CipherConfig{CipherName: CipherAES128}, []byte("pw"))
	_, err := cf.EncryptStream(bytes.NewReader([]byte("data")), 16, nil, 4, 4)
	assert.ErrorIs(t, err, ErrConcurrencyUnsupported)
	assert.True(t, IsConfigError(err))
	_, err = cf.DecryptStream(bytes.NewReader(make([]byte, 16)), 16, nil, 16, 2)
	assert.ErrorIs(t, err, ErrConcurrencyUnsupported)

	s, err := cf.EncryptStream(bytes.NewReader([]byte("data")), 16, nil, 4, 0)
	require.NoError(t, err, "concurrency below one means one")
	s.Close()
}

func TestStreamRSAConcurrent(t *testing.T) {
	cf := newRSAFile(t, CipherPKCS1OAEP)
	limits := cf.Limits()

	plain := randomPlaintext(t, 1000)
	enc, err := cf.EncryptStream(bytes.NewReader(plain), limits.MaxPlaintextLen, nil, int64(len(plain)), 4)
	require.NoError(t, err)
	ct := drain(t, enc)
	chunks := (len(plain) + limits.MaxPlaintextLen - 1) / limits.MaxPlaintextLen
	assert.Len(t, ct, chunks*limits.DecryptLen)

	dec, err := cf.DecryptStream(bytes.NewReader(ct), limits.DecryptLen, nil, int64(len(ct)), 4)
	require.NoError(t, err)
	assert.Equal(t, plain, drain(t, dec))
}

func TestStreamChunkLimits(t *testing.T) {
	cf := newRSAFile(t, CipherPKCS1OAEP)
	limits := cf.Limits()

	_, err := cf.EncryptStream(bytes.NewReader(nil), limits.MaxPlaintextLen+1, nil, 0, 1)
	assert.ErrorIs(t, err, ErrChunkTooLarge)
	_, err = cf.DecryptStream(bytes.NewReader(nil), limits.DecryptLen+1, nil, 0, 1)
	assert.ErrorIs(t, err, ErrChunkTooLarge)
	_, err = cf.EncryptStream(bytes.NewReader(nil), 0, nil, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
	_, err = cf.DecryptStream(bytes.NewReader(nil), -1, nil, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestStreamCorruptCiphertext(t *testing.T) {
	cf := newRSAFile(t, CipherPKCS1OAEP)
	unit := cf.Limits().DecryptLen
	dec, err := cf.DecryptStream(bytes.NewReader(make([]byte, 2*unit)), unit, nil, int64(2*unit), 1)
	require.NoError(t, err)

	_, err = dec.Next()
	assert.ErrorIs(t, err, ErrDecryptFailed)
	_, again := dec.Next()
	assert.Equal(t, err, again, "errors are sticky")
}

func TestStreamCancellation(t *testing.T) {
	cf := newPasswordFile(t, CipherConfig{CipherName: CipherAES128}, []byte("pw"))
	progress := NewProgress(0, "job")
	require.NoError(t, progress.Start(0, nil, ""))

	s, err := cf.EncryptStream(bytes.NewReader(make([]byte, 1024)), 16, progress, 1024, 1)
	require.NoError(t, err)
	_, err = s.Next()
	require.NoError(t, err)

	progress.Cancel()
	_, err = s.Next()
	assert.ErrorIs(t, err, ErrInterrupted)
	_, err = s.Next()
	assert.ErrorIs(t, err, ErrInterrupted)
}

func TestStreamCancellationDuringIterations(t *testing.T) {
	fs := &trackingFS{FileSystem: newTestFS(t)}
	cf := newPasswordFile(t, CipherConfig{CipherName: CipherAES128, IterCount: 3}, []byte("pw"), WithFileSystem(fs))
	progress := NewProgress(0, "job")
	require.NoError(t, progress.Start(0, nil, ""))
	progress.Cancel()

	s, err := cf.EncryptStream(bytes.NewReader(make([]byte, 1024)), 16, progress, 1024, 1)
	require.NoError(t, err)
	_, err = s.Next()
	assert.True(t, IsCanceled(err))

	created, _ := fs.spills()
	assert.Empty(t, created, "no pass runs after cancellation")
}

func TestStreamIterationProgress(t *testing.T) {
	fs := newTestFS(t)
	cf := newPasswordFile(t, CipherConfig{CipherName: CipherAES128, IterCount: 3}, []byte("pw"), WithFileSystem(fs))
	root := NewProgress(0, "root")
	require.NoError(t, root.Start(0, nil, ""))

	s, err := cf.EncryptStream(bytes.NewReader(make([]byte, 640)), 64, root, 640, 1)
	require.NoError(t, err)
	drain(t, s)

	assert.Equal(t, ProgressRunning, root.Status(), "iteration nodes resume the caller's node")
	assert.Len(t, root.Nodes(), 1)
}

func TestStreamCloseRemovesSpill(t *testing.T) {
	fs := &trackingFS{FileSystem: newTestFS(t)}
	cf := newPasswordFile(t, CipherConfig{CipherName: CipherAES128, IterCount: 2}, []byte("pw"), WithFileSystem(fs))

	s, err := cf.EncryptStream(bytes.NewReader(make([]byte, 4096)), 64, nil, 4096, 1)
	require.NoError(t, err)
	_, err = s.Next()
	require.NoError(t, err)

	created, removed := fs.spills()
	require.Len(t, created, 1)
	assert.Empty(t, removed, "spill is live while the final pass reads it")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")
	created, removed = fs.spills()
	assert.ElementsMatch(t, created, removed)

	_, err = s.Next()
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestStreamEmptyInput(t *testing.T) {
	cf := newPasswordFile(t, CipherConfig{CipherName: CipherAES128}, []byte("pw"))
	s, err := cf.EncryptStream(bytes.NewReader(nil), 16, nil, 0, 1)
	require.NoError(t, err)
	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestStreamIteratedChunkAlignment(t *testing.T) {
	cf := newPasswordFile(t, CipherConfig{CipherName: CipherAES128, IterCount: 2}, []byte("pw"), WithFileSystem(newTestFS(t)))
	plain := randomPlaintext(t, 100)

	_, err := cf.EncryptStream(bytes.NewReader(plain), 20, nil, 100, 1)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
	_, err = cf.DecryptStream(bytes.NewReader(make([]byte, 112)), 20, nil, 112, 1)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)

	enc, err := cf.EncryptStream(bytes.NewReader(plain), 32, nil, 100, 1)
	require.NoError(t, err)
	ct := drain(t, enc)
	require.Len(t, ct, 112)
	dec, err := cf.DecryptStream(bytes.NewReader(ct), 32, nil, int64(len(ct)), 1)
	require.NoError(t, err)
	assert.Equal(t, plain, drain(t, dec)[:100])

	single := newPasswordFile(t, CipherConfig{CipherName: CipherAES128}, []byte("pw"))
	_, err = single.EncryptStream(bytes.NewReader(plain), 20, nil, 100, 1)
	assert.NoError(t, err, "a single pass pads each chunk on its own")
}

// withIterations returns an unlocked copy of cf's configuration that runs
// iters passes.
func withIterations(t *testing.T, cf *CipherFile, password []byte, iters int, opts ...Option) *CipherFile {
	t.Helper()
	cfg := cf.CipherConfig.clone()
	cfg.IterCount = iters
	out, err := NewCipherFile(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, out.Unlock(password, nil))
	t.Cleanup(out.Lock)
	return out
}

func TestIterationCountMustMatch(t *testing.T) {
	tests := []struct {
		name      string
		enc, dec  int
		recovered bool
	}{
		{"one and one", 1, 1, true},
		{"two and two", 2, 2, true},
		{"three and three", 3, 3, true},
		{"one then two", 1, 2, false},
		{"two then one", 2, 1, false},
		{"three then two", 3, 2, false},
		{"two then three", 2, 3, false},
	}
	password := []byte("iteration pw")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newTestFS(t)
			args, err := NewBlockArgs(CipherAES128, ModeCBC)
			require.NoError(t, err)
			encrypter := newPasswordFile(t, CipherConfig{CipherName: CipherAES128, CipherArgs: args, IterCount: tt.enc},
				password, WithFileSystem(fs))
			decrypter := withIterations(t, encrypter, password, tt.dec, WithFileSystem(fs))

			t.Run("stream", func(t *testing.T) {
				plain := randomPlaintext(t, 256)
				enc, err := encrypter.EncryptStream(bytes.NewReader(plain), 64, nil, 256, 1)
				require.NoError(t, err)
				ct := drain(t, enc)
				require.Len(t, ct, 256)

				dec, err := decrypter.DecryptStream(bytes.NewReader(ct), 64, nil, 256, 1)
				require.NoError(t, err)
				got := drain(t, dec)
				if tt.recovered {
					assert.Equal(t, plain, got)
				} else {
					assert.NotEqual(t, plain, got)
				}
			})

			t.Run("bytes", func(t *testing.T) {
				plain := randomPlaintext(t, 100)
				ct, err := encrypter.EncryptBytes(plain)
				require.NoError(t, err)

				got, err := decrypter.DecryptBytes(ct)
				require.NoError(t, err)
				if tt.recovered {
					assert.Equal(t, plain, got)
				} else {
					assert.NotEqual(t, plain, got)
				}
			})
		})
	}
}

func TestStreamIterationFailureResumesCaller(t *testing.T) {
	fs := &trackingFS{FileSystem: newTestFS(t)}
	cf := newFailingFile(t, 3, 16, WithFileSystem(fs))
	root := NewProgress(0, "root")
	require.NoError(t, root.Start(0, nil, ""))

	s, err := cf.EncryptStream(bytes.NewReader(make([]byte, 640)), 64, root, 640, 1)
	require.NoError(t, err)
	_, err = s.Next()
	assert.ErrorIs(t, err, errUnplugged)
	require.NoError(t, s.Close())

	assert.Equal(t, ProgressRunning, root.Status())
	assert.Len(t, root.Nodes(), 1)
	created, removed := fs.spills()
	assert.ElementsMatch(t, created, removed)
}
