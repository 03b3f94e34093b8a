// table_record.go: Encrypted table of string cells.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"fmt"
	"iter"
	"unicode/utf8"
)

// TableRecordFile stores a table of individually encrypted cells. Rows may
// have different lengths. Empty cells are stored as empty values and are
// never encrypted.
type TableRecordFile struct {
	CipherFile

	Records [][][]byte `json:"records"`
}

// NewTableRecordFile creates an empty table with cf's configuration. If cf is
// unlocked, its key is made resident in the table too.
func NewTableRecordFile(cf *CipherFile) (*TableRecordFile, error) {
	d := cf.derive(ContentTypeTableRecord)
	t := &TableRecordFile{CipherFile: CipherFile{CipherConfig: d.CipherConfig, opts: d.opts}}
	if !cf.Locked() {
		if err := cf.shareKeyWith(&t.CipherFile); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Rows decrypts the table one row at a time. Iteration stops after the first
// error.
func (t *TableRecordFile) Rows() iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		for _, row := range t.Records {
			values := make([]string, len(row))
			for i, cell := range row {
				v, err := t.decryptCell(cell)
				if err != nil {
					yield(nil, err)
					return
				}
				values[i] = v
			}
			if !yield(values, nil) {
				return
			}
		}
	}
}

// Sum counts the non-empty cells.
func (t *TableRecordFile) Sum() int {
	n := 0
	for _, row := range t.Records {
		for _, cell := range row {
			if len(cell) > 0 {
				n++
			}
		}
	}
	return n
}

// Cell returns the decrypted value at row, col (both zero-based). ok is
// false when the cell lies outside the table.
func (t *TableRecordFile) Cell(row, col int) (value string, ok bool, err error) {
	if row < 0 || col < 0 || row >= len(t.Records) || col >= len(t.Records[row]) {
		return "", false, nil
	}
	value, err = t.decryptCell(t.Records[row][col])
	if err != nil {
		return "", true, err
	}
	return value, true, nil
}

// SetCell encrypts value into row, col, growing the table as needed.
func (t *TableRecordFile) SetCell(row, col int, value string) error {
	if row < 0 || col < 0 {
		return newError(ErrInvalidConfig, ErrCodeInvalidConfig, fmt.Sprintf("invalid cell %d,%d", row, col))
	}
	cell, err := t.encryptCell(value)
	if err != nil {
		return err
	}
	for len(t.Records) <= row {
		t.Records = append(t.Records, [][]byte{})
	}
	for len(t.Records[row]) <= col {
		t.Records[row] = append(t.Records[row], []byte{})
	}
	t.Records[row][col] = cell
	return nil
}

// AppendRow encrypts values into a new last row.
func (t *TableRecordFile) AppendRow(values []string) error {
	row := make([][]byte, len(values))
	for i, v := range values {
		cell, err := t.encryptCell(v)
		if err != nil {
			return err
		}
		row[i] = cell
	}
	t.Records = append(t.Records, row)
	return nil
}

func (t *TableRecordFile) encryptCell(value string) ([]byte, error) {
	if value == "" {
		return []byte{}, nil
	}
	return t.EncryptBytes([]byte(value))
}

func (t *TableRecordFile) decryptCell(cell []byte) (string, error) {
	if len(cell) == 0 {
		return "", nil
	}
	plain, err := t.DecryptBytes(cell)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plain) {
		return "", newError(ErrDecryptFailed, ErrCodeDecrypt, "cell is not valid UTF-8")
	}
	return string(plain), nil
}
