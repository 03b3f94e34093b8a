// protect.go: Self-describing encrypted container for single files.
//
// A container is the magic "CM", base64 of the JSON metadata, a newline, and
// the ciphertext chunks:
//
//	CM<base64(metadata)>\n<chunk><chunk>...<chunk>
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"path/filepath"
	"time"
	"unicode/utf8"

	timecache "github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// Content type discriminators.
const (
	ContentTypeProtect     = "application/cm-protect"
	ContentTypeTableRecord = "application/cm-table-record"
)

const (
	containerMagic = "CM"
	maxHeaderLen   = 1 << 20
)

// ProtectFile is an encrypted container for one file.
//
// Build one with NewProtectFile to pack, or OpenProtectFile to inspect and
// unpack an existing container. Each instance packs at most one source.
type ProtectFile struct {
	CipherFile

	Filename  []byte    `json:"filename,omitempty"`
	TotalSize int64     `json:"total_size"`
	CRC32     uint32    `json:"crc32"`
	PackedAt  time.Time `json:"packed_at,omitzero"`

	path string
}

// ContainerInfo summarizes container metadata without needing a key.
type ContainerInfo struct {
	Path       string
	CipherName CipherName
	KeyType    KeyType
	IterCount  int
	TotalSize  int64
	CRC32      uint32
	PackedAt   time.Time
	HasKeyHash bool
}

// NewProtectFile creates a container with cf's configuration. If cf is
// unlocked, its key is made resident in the container too.
func NewProtectFile(cf *CipherFile) (*ProtectFile, error) {
	d := cf.derive(ContentTypeProtect)
	pf := &ProtectFile{CipherFile: CipherFile{CipherConfig: d.CipherConfig, opts: d.opts}}
	if !cf.Locked() {
		if err := cf.shareKeyWith(&pf.CipherFile); err != nil {
			return nil, err
		}
	}
	return pf, nil
}

// OpenProtectFile reads the header of the container at path. The body is
// not read until UnpackTo.
func OpenProtectFile(path string, opts ...Option) (*ProtectFile, error) {
	o := buildOptions(opts)
	f, err := o.fs.Open(path)
	if err != nil {
		return nil, ioError(err, "failed to open container")
	}
	defer f.Close()

	header, err := readContainerHeader(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	pf, err := decodeProtectHeader(header, opts)
	if err != nil {
		return nil, err
	}
	pf.path = path
	return pf, nil
}

// readContainerHeader checks the magic and returns the base64 metadata line.
func readContainerHeader(r *bufio.Reader) ([]byte, error) {
	magic := make([]byte, len(containerMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != containerMagic {
		return nil, newError(ErrInvalidMagic, ErrCodeInvalidMagic, "not a protected container")
	}

	var line []byte
	for {
		frag, err := r.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > maxHeaderLen {
			return nil, newError(ErrInvalidHeader, ErrCodeInvalidHeader, "header line too long")
		}
		if err == nil {
			return line[:len(line)-1], nil
		}
		if err != bufio.ErrBufferFull {
			return nil, newError(ErrInvalidHeader, ErrCodeInvalidHeader, "header is not terminated")
		}
	}
}

func decodeProtectHeader(header []byte, opts []Option) (*ProtectFile, error) {
	raw, err := base64.StdEncoding.DecodeString(string(header))
	if err != nil {
		return nil, wrapError(ErrInvalidHeader, err, ErrCodeInvalidHeader, "header is not base64")
	}
	return decodeProtectJSON(raw, opts)
}

func decodeProtectJSON(raw []byte, opts []Option) (*ProtectFile, error) {
	pf := &ProtectFile{}
	if err := json.Unmarshal(raw, pf); err != nil {
		return nil, wrapError(ErrInvalidHeader, err, ErrCodeInvalidHeader, "invalid header metadata")
	}
	if pf.ContentType != ContentTypeProtect {
		return nil, newError(ErrContentTypeMismatch, ErrCodeContentType,
			fmt.Sprintf("content type %q is not %q", pf.ContentType, ContentTypeProtect))
	}
	if err := pf.initDecoded(opts); err != nil {
		return nil, err
	}
	return pf, nil
}

// encodeHeader renders the metadata line without the trailing newline.
func (pf *ProtectFile) encodeHeader() ([]byte, error) {
	raw, err := json.Marshal(pf)
	if err != nil {
		return nil, wrapError(ErrInvalidHeader, err, ErrCodeInvalidHeader, "failed to encode metadata")
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// Path returns the container path for opened containers.
func (pf *ProtectFile) Path() string {
	return pf.path
}

// Info summarizes the metadata.
func (pf *ProtectFile) Info() ContainerInfo {
	return ContainerInfo{
		Path:       pf.path,
		CipherName: pf.CipherName,
		KeyType:    pf.KeyType,
		IterCount:  pf.IterCount,
		TotalSize:  pf.TotalSize,
		CRC32:      pf.CRC32,
		PackedAt:   pf.PackedAt,
		HasKeyHash: pf.KeyHash != nil,
	}
}

// TryUnlockFromCipherFile unlocks the container with other's resident key.
//
// Key types must match. Keystore keys are borrowed as they are. Password keys
// are copied after checking them against the container's commitment. A key
// that does not fit reports false; no error is returned.
func (pf *ProtectFile) TryUnlockFromCipherFile(other *CipherFile) bool {
	if other == nil || pf.KeyType != other.KeyType {
		return false
	}
	other.mu.RLock()
	km := other.residentLocked()
	other.mu.RUnlock()
	if km == nil {
		return false
	}
	if !pf.KeyType.IsFile() && !pf.ValidateKey(km.Raw) {
		return false
	}
	if err := other.shareKeyWith(&pf.CipherFile); err != nil {
		pf.logger().Debug("unlock from cipher file failed", "error", err)
		return false
	}
	return true
}

// DecryptFilename returns the original base name of the packed file, or ""
// if none is stored.
func (pf *ProtectFile) DecryptFilename() (string, error) {
	if pf.Filename == nil {
		return "", nil
	}
	name, err := pf.DecryptBytes(pf.Filename)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(name) {
		return "", newError(ErrDecryptFailed, ErrCodeDecrypt, "file name is not valid UTF-8")
	}
	return string(name), nil
}

// PackTo encrypts src into a container at dst.
//
// The source is read twice: once for the CRC32 and once to encrypt. Progress
// is reported on progress (or on a child node if progress is already
// running). chunkSize is clamped to the cipher's per-call limit. dst only
// appears once the container is complete.
func (pf *ProtectFile) PackTo(src, dst string, progress *Progress, chunkSize int) (err error) {
	if chunkSize <= 0 {
		return newError(ErrInvalidChunkSize, ErrCodeInvalidChunk, fmt.Sprintf("chunk size %d", chunkSize))
	}
	limits, err := pf.unlockedLimits()
	if err != nil {
		return err
	}
	if progress.Canceled() {
		return newError(ErrInterrupted, ErrCodeInterrupted, "pack cancelled")
	}
	fs := pf.opts.fs
	info, err := fs.Stat(src)
	if err != nil {
		return ioError(err, "failed to stat source")
	}
	if info.Size() == 0 {
		return newError(ErrEmptySource, ErrCodeEmptySource, fmt.Sprintf("%s is empty", src))
	}
	pf.TotalSize = info.Size()

	p, err := orNewProgress(progress).StartOrSub(pf.TotalSize, "encrypting", FormatFileSize, "File Size")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			p.Abandon()
		}
	}()
	if pf.Filename, err = pf.EncryptBytes([]byte(filepath.Base(src))); err != nil {
		return err
	}
	if pf.CRC32, err = pf.checksum(src, chunkSize, p); err != nil {
		return err
	}
	pf.PackedAt = timecache.CachedTime().UTC()
	header, err := pf.encodeHeader()
	if err != nil {
		return err
	}

	in, err := fs.Open(src)
	if err != nil {
		return ioError(err, "failed to open source")
	}
	defer in.Close()

	if limits.MaxPlaintextLen > 0 && limits.MaxPlaintextLen < chunkSize {
		chunkSize = limits.MaxPlaintextLen
	}
	chunkSize = alignChunk(chunkSize, limits.PaddingUnit)
	if err := p.Restart(chunkCount(pf.TotalSize, chunkSize), nil, blocksUnit(chunkSize)); err != nil {
		return err
	}
	stream, err := pf.EncryptStream(in, chunkSize, p, pf.TotalSize, pf.workersFor(limits))
	if err != nil {
		return err
	}
	defer stream.Close()

	err = pf.writeAtomically(dst, func(w io.Writer) error {
		if _, err := io.WriteString(w, containerMagic); err != nil {
			return err
		}
		if _, err := w.Write(header); err != nil {
			return err
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
		var written int64
		for {
			chunk, err := stream.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := w.Write(chunk); err != nil {
				return ioError(err, "failed to write container")
			}
			written += int64(len(chunk))
			if err := p.Step(1, "encrypting... "+FormatFileSize(written)); err != nil {
				return err
			}
		}
	})
	if err != nil {
		return err
	}
	pf.logger().Info("container packed", "source", src, "dest", dst, "size", pf.TotalSize)
	return p.Complete()
}

func (pf *ProtectFile) checksum(src string, chunkSize int, p *Progress) (uint32, error) {
	f, err := pf.opts.fs.Open(src)
	if err != nil {
		return 0, ioError(err, "failed to open source")
	}
	defer f.Close()

	buf := getChunkBuffer(chunkSize)
	defer putChunkBuffer(buf)
	var crc uint32
	for {
		n, err := io.ReadFull(f, *buf)
		if n > 0 {
			crc = crc32.Update(crc, crc32.IEEETable, (*buf)[:n])
			if err := p.Step(int64(n), fmt.Sprintf("computing checksum... CRC32: %d", crc)); err != nil {
				return 0, err
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return crc, nil
		}
		if err != nil {
			return 0, ioError(err, "failed to read source")
		}
	}
}

// UnpackTo decrypts an opened container into dst and verifies the CRC32.
// On any failure, checksum mismatch included, dst is left untouched.
func (pf *ProtectFile) UnpackTo(dst string, progress *Progress, chunkSize int) (err error) {
	if pf.path == "" {
		return newError(ErrInvalidConfig, ErrCodeInvalidConfig, "container was not opened from a file")
	}
	if chunkSize <= 0 {
		return newError(ErrInvalidChunkSize, ErrCodeInvalidChunk, fmt.Sprintf("chunk size %d", chunkSize))
	}
	limits, err := pf.unlockedLimits()
	if err != nil {
		return err
	}
	if progress.Canceled() {
		return newError(ErrInterrupted, ErrCodeInterrupted, "unpack cancelled")
	}
	p, err := orNewProgress(progress).StartOrSub(0, "decrypting and verifying", nil, "")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			p.Abandon()
		}
	}()

	in, err := pf.opts.fs.Open(pf.path)
	if err != nil {
		return ioError(err, "failed to open container")
	}
	defer in.Close()
	br := bufio.NewReader(in)
	if _, err := readContainerHeader(br); err != nil {
		return err
	}

	if limits.DecryptLen > 0 {
		chunkSize = limits.DecryptLen
	}
	chunkSize = alignChunk(chunkSize, limits.PaddingUnit)
	if err := p.Restart(chunkCount(pf.TotalSize, chunkSize), nil, blocksUnit(chunkSize)); err != nil {
		return err
	}
	stream, err := pf.DecryptStream(br, chunkSize, p, pf.TotalSize, pf.workersFor(limits))
	if err != nil {
		return err
	}
	defer stream.Close()

	err = pf.writeAtomically(dst, func(w io.Writer) error {
		var current int64
		crc := crc32.NewIEEE()
		for {
			chunk, err := stream.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			if remaining := pf.TotalSize - current; int64(len(chunk)) > remaining {
				chunk = chunk[:remaining]
			}
			current += int64(len(chunk))
			crc.Write(chunk)
			if _, err := w.Write(chunk); err != nil {
				return ioError(err, "failed to write plaintext")
			}
			if err := p.Step(1, "decrypting and verifying... "+FormatFileSize(current)); err != nil {
				return err
			}
		}
		if current != pf.TotalSize || crc.Sum32() != pf.CRC32 {
			return newError(ErrChecksumMismatch, ErrCodeChecksum,
				fmt.Sprintf("expected %d bytes with CRC32 %d, got %d bytes with CRC32 %d",
					pf.TotalSize, pf.CRC32, current, crc.Sum32()))
		}
		return nil
	})
	if err != nil {
		return err
	}
	pf.logger().Info("container unpacked", "container", pf.path, "dest", dst, "size", pf.TotalSize)
	return p.Complete()
}

func (pf *ProtectFile) workersFor(limits Limits) int {
	if limits.PaddingUnit > 0 {
		return 1
	}
	return pf.opts.workerCount()
}

// writeAtomically runs fill against a temporary sibling of dst and renames
// it into place only if fill succeeds.
func (pf *ProtectFile) writeAtomically(dst string, fill func(w io.Writer) error) (err error) {
	fs := pf.opts.fs
	tmp := dst + ".tmp-" + uuid.NewString()
	f, err := fs.Create(tmp)
	if err != nil {
		return ioError(err, "failed to create destination")
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			if rmErr := fs.Remove(tmp); rmErr != nil {
				pf.logger().Warn("failed to remove temporary file", "path", tmp, "error", rmErr)
			}
		}
	}()

	bw := bufio.NewWriterSize(f, 64*1024)
	if err = fill(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return ioError(err, "failed to flush destination")
	}
	if err = f.Close(); err != nil {
		return ioError(err, "failed to close destination")
	}
	if err = fs.Rename(tmp, dst); err != nil {
		return ioError(err, "failed to move destination into place")
	}
	return nil
}

// alignChunk rounds chunkSize down to a whole number of padding units so
// only the last chunk of a container is ever padded.
func alignChunk(chunkSize, unit int) int {
	if unit <= 0 {
		return chunkSize
	}
	if chunkSize < unit {
		return unit
	}
	return chunkSize - chunkSize%unit
}

func chunkCount(total int64, chunkSize int) int64 {
	return (total + int64(chunkSize) - 1) / int64(chunkSize)
}

// MarshalHeader renders the full container header line (magic, base64
// metadata, newline).
func (pf *ProtectFile) MarshalHeader() ([]byte, error) {
	header, err := pf.encodeHeader()
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteString(containerMagic)
	b.Write(header)
	b.WriteByte('\n')
	return b.Bytes(), nil
}
