// stream.go: Chunked streaming encryption and decryption.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type cryptMode int

const (
	modeEncrypt cryptMode = iota
	modeDecrypt
)

func (m cryptMode) String() string {
	if m == modeEncrypt {
		return "encrypting"
	}
	return "decrypting"
}

// ChunkStream is a finite, non-restartable sequence of processed chunks.
//
// Work starts on the first call to Next. With iter_count > 1 that first call
// runs every intermediate pass over the whole input, spilling to a temporary
// file, before the final pass starts yielding. Chunks come out in input
// order. Close releases workers and spill files; it is safe to call at any
// point and more than once.
type ChunkStream struct {
	c           *CipherFile
	mode        cryptMode
	src         io.Reader
	chunkSize   int
	progress    *Progress
	total       int64
	concurrency int
	padding     int

	started bool
	pass    *chunkPass
	spill   absfs.File
	spillAt string
	err     error
}

// EncryptStream returns a stream of encrypted chunks read from r in
// chunkSize pieces. total is the input size used for progress reporting
// (0 if unknown). concurrency > 1 is only accepted for unpadded ciphers.
//
// The stream is checked eagerly: a locked file, a chunk size above the
// cipher's per-call limit or illegal concurrency fail here, before any
// input is read.
func (c *CipherFile) EncryptStream(r io.Reader, chunkSize int, progress *Progress, total int64, concurrency int) (*ChunkStream, error) {
	limits, err := c.unlockedLimits()
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		return nil, newError(ErrInvalidChunkSize, ErrCodeInvalidChunk, fmt.Sprintf("chunk size %d", chunkSize))
	}
	if limits.MaxPlaintextLen > 0 && limits.MaxPlaintextLen < chunkSize {
		return nil, newError(ErrChunkTooLarge, ErrCodeChunkTooLarge,
			fmt.Sprintf("chunk size %d exceeds the %d byte encrypt limit", chunkSize, limits.MaxPlaintextLen))
	}
	return c.newStream(modeEncrypt, r, chunkSize, progress, total, concurrency, limits)
}

// DecryptStream returns a stream of decrypted chunks. Chunks are not
// unpadded; callers that know the plaintext length truncate the tail.
func (c *CipherFile) DecryptStream(r io.Reader, chunkSize int, progress *Progress, total int64, concurrency int) (*ChunkStream, error) {
	limits, err := c.unlockedLimits()
	if err != nil {
		return nil, err
	}
	if limits.CannotDecrypt {
		return nil, newError(ErrCannotDecrypt, ErrCodeCannotDecrypt, "resident key cannot decrypt")
	}
	if chunkSize <= 0 {
		return nil, newError(ErrInvalidChunkSize, ErrCodeInvalidChunk, fmt.Sprintf("chunk size %d", chunkSize))
	}
	if limits.DecryptLen > 0 && limits.DecryptLen < chunkSize {
		return nil, newError(ErrChunkTooLarge, ErrCodeChunkTooLarge,
			fmt.Sprintf("chunk size %d exceeds the %d byte decrypt unit", chunkSize, limits.DecryptLen))
	}
	return c.newStream(modeDecrypt, r, chunkSize, progress, total, concurrency, limits)
}

func (c *CipherFile) newStream(mode cryptMode, r io.Reader, chunkSize int, progress *Progress, total int64, concurrency int, limits Limits) (*ChunkStream, error) {
	if err := c.checkIterations(limits); err != nil {
		return nil, err
	}
	// Every pass pads its chunks, so later passes only line up with the
	// first when chunks are whole units.
	if c.IterCount > 1 && limits.PaddingUnit > 0 && chunkSize%limits.PaddingUnit != 0 {
		return nil, newError(ErrInvalidChunkSize, ErrCodeInvalidChunk,
			fmt.Sprintf("chunk size %d is not a multiple of the %d byte unit needed for %d passes",
				chunkSize, limits.PaddingUnit, c.IterCount))
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 1 && limits.PaddingUnit > 0 {
		return nil, newError(ErrConcurrencyUnsupported, ErrCodeConcurrency,
			fmt.Sprintf("%s is chained and cannot run %d workers", c.CipherName, concurrency))
	}
	return &ChunkStream{
		c:           c,
		mode:        mode,
		src:         r,
		chunkSize:   chunkSize,
		progress:    orNewProgress(progress),
		total:       total,
		concurrency: concurrency,
		padding:     limits.PaddingUnit,
	}, nil
}

// Next returns the next chunk, or io.EOF once the sequence is exhausted.
// Any other error ends the stream; later calls return the same error.
func (s *ChunkStream) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !s.started {
		s.started = true
		if err := s.prepare(); err != nil {
			return nil, s.fail(err)
		}
	}
	if s.progress.Canceled() {
		return nil, s.fail(newError(ErrInterrupted, ErrCodeInterrupted, "stream cancelled"))
	}

	chunk, err := s.pass.next()
	if err == io.EOF {
		s.release()
		s.err = io.EOF
		return nil, io.EOF
	}
	if err != nil {
		return nil, s.fail(err)
	}
	return chunk, nil
}

// All iterates the remaining chunks. Iteration stops after the first error,
// which is yielded; io.EOF is not. The stream is closed when the loop ends.
func (s *ChunkStream) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		defer s.Close()
		for {
			chunk, err := s.Next()
			if err == io.EOF {
				return
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

// WriteTo drains the stream into w.
func (s *ChunkStream) WriteTo(w io.Writer) (int64, error) {
	defer s.Close()
	var n int64
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		m, err := w.Write(chunk)
		n += int64(m)
		if err != nil {
			return n, ioError(err, "failed to write chunk")
		}
	}
}

// Close stops the stream and removes any spill file.
func (s *ChunkStream) Close() error {
	if s.err == nil {
		s.err = os.ErrClosed
	}
	return s.release()
}

func (s *ChunkStream) fail(err error) error {
	s.err = err
	s.release()
	return err
}

func (s *ChunkStream) release() error {
	var errs []error
	if s.pass != nil {
		errs = append(errs, s.pass.close())
		s.pass = nil
	}
	errs = append(errs, s.dropSpill())
	return errors.Join(errs...)
}

func (s *ChunkStream) dropSpill() error {
	if s.spill == nil {
		return nil
	}
	f, name := s.spill, s.spillAt
	s.spill, s.spillAt = nil, ""
	return s.c.removeSpill(f, name)
}

// prepare runs the intermediate passes and opens the final one.
func (s *ChunkStream) prepare() error {
	if s.progress.Canceled() {
		return newError(ErrInterrupted, ErrCodeInterrupted, "stream cancelled")
	}
	if passes := s.c.IterCount - 1; passes > 0 {
		if err := s.runIterations(passes); err != nil {
			return err
		}
	}
	prim, err := s.c.primitive()
	if err != nil {
		return err
	}
	s.pass = newChunkPass(s.src, s.chunkSize, s.op(prim), s.padding, s.concurrency)
	return nil
}

func (s *ChunkStream) runIterations(passes int) (err error) {
	iterProgress, err := s.progress.StartOrSub(int64(passes), "", nil, "")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			iterProgress.Abandon()
		}
	}()
	log := s.c.logger()
	for i := 0; i < passes; i++ {
		title := fmt.Sprintf("%s, %d passes left", s.mode, passes-i)
		passProgress, err := iterProgress.StartOrSub(s.total/int64(s.chunkSize), title, nil, blocksUnit(s.chunkSize))
		if err != nil {
			return err
		}
		log.Debug("iteration pass started", "mode", s.mode.String(), "pass", i+1, "of", passes)

		spill, name, err := s.c.createSpill()
		if err != nil {
			return err
		}
		if err := s.runPass(spill, passProgress); err != nil {
			_ = s.c.removeSpill(spill, name)
			return err
		}
		if err := passProgress.Complete(); err != nil {
			_ = s.c.removeSpill(spill, name)
			return err
		}
		if err := s.dropSpill(); err != nil {
			log.Warn("failed to remove spill file", "error", err)
		}
		if _, err := spill.Seek(0, io.SeekStart); err != nil {
			_ = s.c.removeSpill(spill, name)
			return ioError(err, "failed to rewind spill file")
		}
		s.spill, s.spillAt, s.src = spill, name, spill

		if err := iterProgress.Step(1, ""); err != nil {
			return err
		}
	}
	return iterProgress.Complete()
}

// runPass processes the current source completely into w.
func (s *ChunkStream) runPass(w io.Writer, progress *Progress) error {
	prim, err := s.c.primitive()
	if err != nil {
		return err
	}
	pass := newChunkPass(s.src, s.chunkSize, s.op(prim), s.padding, s.concurrency)
	defer pass.close()

	var done int64
	for {
		chunk, err := pass.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			return ioError(err, "failed to write spill file")
		}
		done += int64(s.chunkSize)
		msg := fmt.Sprintf("%s... %s / %s", s.mode, FormatFileSize(done), FormatFileSize(s.total))
		if err := progress.Step(1, msg); err != nil {
			return err
		}
	}
}

func (s *ChunkStream) op(prim Primitive) func([]byte) ([]byte, error) {
	if s.mode == modeEncrypt {
		return func(b []byte) ([]byte, error) {
			out, err := prim.Encrypt(b)
			if err != nil {
				return nil, classify(err, ErrInvalidConfig, ErrCodeEncrypt, "chunk encryption failed")
			}
			return out, nil
		}
	}
	return func(b []byte) ([]byte, error) {
		out, err := prim.Decrypt(b)
		if err != nil {
			return nil, classify(err, ErrDecryptFailed, ErrCodeDecrypt, "chunk decryption failed")
		}
		return out, nil
	}
}

// createSpill opens a fresh temporary file owned by one stream.
func (c *CipherFile) createSpill() (absfs.File, string, error) {
	fs := c.opts.fs
	dir := fs.TempDir()
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, "", ioError(err, "failed to create temp dir")
	}
	name := filepath.Join(dir, "cipherman-spill-"+uuid.NewString())
	f, err := fs.Create(name)
	if err != nil {
		return nil, "", ioError(err, "failed to create spill file")
	}
	c.logger().Debug("spill file created", "path", name)
	return f, name, nil
}

func (c *CipherFile) removeSpill(f absfs.File, name string) error {
	closeErr := f.Close()
	if err := c.opts.fs.Remove(name); err != nil {
		c.logger().Warn("failed to remove spill file", "path", name, "error", err)
		return ioError(err, "failed to remove spill file")
	}
	c.logger().Debug("spill file removed", "path", name)
	if closeErr != nil {
		return ioError(closeErr, "failed to close spill file")
	}
	return nil
}

// chunkResult is the outcome of one chunk job.
type chunkResult struct {
	data []byte
	err  error
}

// chunkPass reads fixed size chunks and applies fn, either inline or on a
// bounded pool of workers whose results are drained in FIFO order.
type chunkPass struct {
	r         io.Reader
	chunkSize int
	fn        func([]byte) ([]byte, error)
	padding   int
	workers   int

	eof     bool
	pending []chan chunkResult
	group   *errgroup.Group
}

func newChunkPass(r io.Reader, chunkSize int, fn func([]byte) ([]byte, error), padding, workers int) *chunkPass {
	p := &chunkPass{r: r, chunkSize: chunkSize, fn: fn, padding: padding, workers: workers}
	if workers > 1 {
		p.group = &errgroup.Group{}
		p.group.SetLimit(workers)
	}
	return p
}

// read returns the next chunk in a pooled buffer, or nil at end of input.
func (p *chunkPass) read() (*[]byte, error) {
	if p.eof {
		return nil, nil
	}
	buf := getChunkBuffer(p.chunkSize)
	n, err := io.ReadFull(p.r, *buf)
	switch {
	case err == io.EOF:
		p.eof = true
		putChunkBuffer(buf)
		return nil, nil
	case err == io.ErrUnexpectedEOF:
		p.eof = true
	case err != nil:
		putChunkBuffer(buf)
		return nil, ioError(err, "failed to read chunk")
	}
	*buf = (*buf)[:n]
	return buf, nil
}

func (p *chunkPass) apply(buf *[]byte) ([]byte, error) {
	defer putChunkBuffer(buf)
	return p.fn(padChunk(*buf, p.padding))
}

func (p *chunkPass) next() ([]byte, error) {
	if p.group == nil {
		buf, err := p.read()
		if err != nil {
			return nil, err
		}
		if buf == nil {
			return nil, io.EOF
		}
		return p.apply(buf)
	}

	for len(p.pending) < p.workers {
		buf, err := p.read()
		if err != nil {
			return nil, err
		}
		if buf == nil {
			break
		}
		p.submit(buf)
	}
	if len(p.pending) == 0 {
		return nil, io.EOF
	}
	res := <-p.pending[0]
	p.pending[0] = nil
	p.pending = p.pending[1:]
	return res.data, res.err
}

func (p *chunkPass) submit(buf *[]byte) {
	ch := make(chan chunkResult, 1)
	p.pending = append(p.pending, ch)
	p.group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				ch <- chunkResult{err: fmt.Errorf("panic in chunk worker: %v", r)}
			}
		}()
		data, err := p.apply(buf)
		ch <- chunkResult{data: data, err: err}
		return nil
	})
}

// close waits for in-flight workers. Their results are discarded.
func (p *chunkPass) close() error {
	if p.group != nil {
		_ = p.group.Wait()
		p.pending = nil
	}
	return nil
}
