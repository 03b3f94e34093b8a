// load.go: Load and save cipher documents by content type.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"encoding/json"
	"fmt"
)

// Document is a cipher file of a known content type: *ProtectFile or
// *TableRecordFile.
type Document interface {
	Locked() bool
	Lock()
	Unlock(key, passphrase []byte) error
	ValidateKey(key []byte) bool
	base() *CipherFile
}

func (c *CipherFile) base() *CipherFile { return c }

// LoadDocument decodes a JSON document and returns the type named by its
// content_type. The result is locked.
func LoadDocument(data []byte, opts ...Option) (Document, error) {
	var head struct {
		ContentType *string `json:"content_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, wrapError(ErrInvalidHeader, err, ErrCodeInvalidHeader, "document is not valid JSON")
	}
	if head.ContentType == nil || *head.ContentType == "" {
		return nil, newError(ErrMissingContentType, ErrCodeMissingType, "document has no content_type")
	}

	switch *head.ContentType {
	case ContentTypeProtect:
		return decodeProtectJSON(data, opts)
	case ContentTypeTableRecord:
		t := &TableRecordFile{}
		if err := json.Unmarshal(data, t); err != nil {
			return nil, wrapError(ErrInvalidHeader, err, ErrCodeInvalidHeader, "invalid table document")
		}
		if err := t.initDecoded(opts); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, newError(ErrUnknownContentType, ErrCodeUnknownType,
			fmt.Sprintf("no document type for %q", *head.ContentType))
	}
}

// MarshalDocument encodes doc as JSON. Resident keys are never written.
func MarshalDocument(doc Document) ([]byte, error) {
	if doc == nil || doc.base().ContentType == "" {
		return nil, newError(ErrMissingContentType, ErrCodeMissingType, "document has no content_type")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, wrapError(ErrInvalidHeader, err, ErrCodeInvalidHeader, "failed to encode document")
	}
	return data, nil
}
