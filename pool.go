// pool.go: Buffer pooling for chunk I/O
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"sync"
)

// DefaultChunkSize is the chunk size used by the console front-end and by
// helpers that take no explicit size.
const DefaultChunkSize = 2048

var (
	// Chunk buffers up to 64 KiB are pooled; larger chunks are allocated directly.
	smallChunkPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 4*1024)
			return &buf
		},
	}

	largeChunkPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 64*1024)
			return &buf
		},
	}
)

// getChunkBuffer returns a buffer of length size. Plaintext passes through
// these buffers, so putChunkBuffer always clears them.
func getChunkBuffer(size int) *[]byte {
	switch {
	case size <= 4*1024:
		buf := smallChunkPool.Get().(*[]byte)
		*buf = (*buf)[:size]
		return buf
	case size <= 64*1024:
		buf := largeChunkPool.Get().(*[]byte)
		*buf = (*buf)[:size]
		return buf
	default:
		buf := make([]byte, size)
		return &buf
	}
}

// clearBuffer zeroes buf with an unrolled loop for large buffers.
func clearBuffer(buf []byte) {
	if len(buf) <= 64 {
		for i := range buf {
			buf[i] = 0
		}
		return
	}

	i := 0
	for i < len(buf)-7 {
		buf[i] = 0
		buf[i+1] = 0
		buf[i+2] = 0
		buf[i+3] = 0
		buf[i+4] = 0
		buf[i+5] = 0
		buf[i+6] = 0
		buf[i+7] = 0
		i += 8
	}
	for i < len(buf) {
		buf[i] = 0
		i++
	}
}

// putChunkBuffer clears the whole capacity and returns pooled sizes.
func putChunkBuffer(buf *[]byte) {
	if buf == nil {
		return
	}
	full := (*buf)[:cap(*buf)]
	clearBuffer(full)

	switch cap(*buf) {
	case 4 * 1024:
		smallChunkPool.Put(buf)
	case 64 * 1024:
		largeChunkPool.Put(buf)
	}
}
