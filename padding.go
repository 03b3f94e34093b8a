// padding.go: Zero padding and key fitting helpers.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"bytes"
	"fmt"
)

// FixedBytes zero-pads data to a multiple of unit that is at least minLen
// bytes long. A data length that is already a positive multiple of unit and
// not below minLen is returned unchanged. maxLen <= 0 means unbounded;
// otherwise a result longer than maxLen is an error, as is unit <= 0.
func FixedBytes(data []byte, unit, minLen, maxLen int) ([]byte, error) {
	if unit <= 0 {
		return nil, newError(ErrInvalidConfig, ErrCodeInvalidConfig,
			fmt.Sprintf("padding unit must be positive, got %d", unit))
	}
	if maxLen > 0 && minLen > maxLen {
		return nil, newError(ErrInvalidConfig, ErrCodeInvalidConfig,
			fmt.Sprintf("min length %d exceeds max length %d", minLen, maxLen))
	}

	n := len(data)
	target := n
	if rem := n % unit; rem != 0 || n == 0 {
		target = n + unit - rem
	}
	for target < minLen {
		target += unit
	}
	if maxLen > 0 && target > maxLen {
		return nil, newError(ErrInvalidKey, ErrCodeInvalidKey,
			fmt.Sprintf("length %d does not fit in [%d, %d]", n, minLen, maxLen))
	}
	if target == n {
		return data, nil
	}
	out := make([]byte, target)
	copy(out, data)
	return out, nil
}

// padChunk pads a chunk in place when its backing array has room, otherwise
// it allocates. A non-positive unit leaves the chunk untouched.
func padChunk(chunk []byte, unit int) []byte {
	if unit <= 0 {
		return chunk
	}
	rem := len(chunk) % unit
	if rem == 0 && len(chunk) > 0 {
		return chunk
	}
	target := len(chunk) + unit - rem
	if cap(chunk) >= target {
		tail := chunk[len(chunk):target]
		clearBuffer(tail)
		return chunk[:target]
	}
	out := make([]byte, target)
	copy(out, chunk)
	return out
}

// stripZeroPadding removes trailing NUL bytes. Plaintext that genuinely ends
// in NUL loses those bytes; the container format keeps total_size for that.
func stripZeroPadding(data []byte) []byte {
	return bytes.TrimRight(data, "\x00")
}
