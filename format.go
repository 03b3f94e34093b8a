// format.go: Human readable sizes for progress reporting.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import "fmt"

var fileSizeUnits = [...]string{"B", "KB", "MB", "GB"}

// FormatFileSize renders a byte count with 1000-based units and two decimals,
// e.g. 10000 -> "10.00 KB". It satisfies Formatter.
func FormatFileSize(value int64) string {
	size := float64(value)
	sign := ""
	if value < 0 {
		size = -size
		sign = "-"
	}
	i := 0
	for size >= 1000 && i < len(fileSizeUnits)-1 {
		size /= 1000
		i++
	}
	return fmt.Sprintf("%s%.2f %s", sign, size, fileSizeUnits[i])
}

// blocksUnit describes progress counted in chunks of chunkSize bytes.
func blocksUnit(chunkSize int) string {
	return fmt.Sprintf("blocks (%d bytes)", chunkSize)
}
