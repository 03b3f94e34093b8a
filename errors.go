// errors.go: Sentinel errors, error codes and classification helpers.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"errors"
	"fmt"

	goerrors "github.com/agilira/go-errors"
)

// Public standard errors.
// Cipher, container and progress failures wrap one of them so callers can
// classify with errors.Is(). Filesystem failures keep their own identity.
var (
	// Configuration errors: the caller asked for something that cannot work.

	// ErrInvalidConfig is returned when a CipherConfig field is out of range.
	ErrInvalidConfig = errors.New("cipherman: invalid configuration")

	// ErrInvalidChunkSize is returned when a chunk size is not positive.
	ErrInvalidChunkSize = errors.New("cipherman: invalid chunk size")

	// ErrChunkTooLarge is returned when a chunk size exceeds what the cipher
	// can encrypt or decrypt in one call.
	ErrChunkTooLarge = errors.New("cipherman: chunk size exceeds cipher limit")

	// ErrEmptySource is returned when packing an empty file.
	ErrEmptySource = errors.New("cipherman: source is empty")

	// ErrConcurrencyUnsupported is returned when concurrency > 1 is requested
	// for a padded (chained) cipher.
	ErrConcurrencyUnsupported = errors.New("cipherman: concurrency requires an unpadded cipher")

	// ErrInvalidCipherArgs is returned when cipher_args are malformed.
	ErrInvalidCipherArgs = errors.New("cipherman: invalid cipher arguments")

	// ErrInvalidKey is returned when key material cannot build the cipher.
	ErrInvalidKey = errors.New("cipherman: invalid key")

	// State errors: the object is not in a state that permits the operation.

	// ErrLocked is returned when an operation needs the resident key.
	ErrLocked = errors.New("cipherman: cipher file is locked")

	// ErrCannotDecrypt is returned when the resident key can only encrypt.
	ErrCannotDecrypt = errors.New("cipherman: key cannot decrypt")

	// ErrInvalidMagic is returned when a container does not start with "CM".
	ErrInvalidMagic = errors.New("cipherman: invalid container magic")

	// ErrInvalidHeader is returned when container metadata cannot be decoded.
	ErrInvalidHeader = errors.New("cipherman: invalid container header")

	// ErrContentTypeMismatch is returned when a document is not of the expected kind.
	ErrContentTypeMismatch = errors.New("cipherman: content type mismatch")

	// ErrChecksumMismatch is returned when the recovered plaintext does not
	// match the stored CRC32.
	ErrChecksumMismatch = errors.New("cipherman: checksum mismatch")

	// ErrDecryptFailed is returned when a ciphertext cannot be decrypted.
	ErrDecryptFailed = errors.New("cipherman: decryption failed")

	// ErrProgressState is returned on an illegal progress transition.
	ErrProgressState = errors.New("cipherman: illegal progress state")

	// Capability errors.

	// ErrUnsupportedCipher is returned for a cipher name no provider knows.
	ErrUnsupportedCipher = errors.New("cipherman: unsupported cipher")

	// ErrUnsupportedHash is returned for an unknown key hash name.
	ErrUnsupportedHash = errors.New("cipherman: unsupported hash")

	// ErrNotSigner is returned when the cipher has no sign/verify capability.
	ErrNotSigner = errors.New("cipherman: cipher cannot sign")

	// Load errors.

	// ErrMissingContentType is returned when a document has no content_type.
	ErrMissingContentType = errors.New("cipherman: missing content type")

	// ErrUnknownContentType is returned when content_type names no document kind.
	ErrUnknownContentType = errors.New("cipherman: unknown content type")

	// ErrInterrupted is returned when a progress node has been cancelled.
	// It is an expected outcome, not a failure.
	ErrInterrupted = errors.New("cipherman: interrupted")
)

// Error codes for rich error handling
const (
	ErrCodeInvalidConfig     = "CIPHERMAN_INVALID_CONFIG"
	ErrCodeInvalidChunk      = "CIPHERMAN_INVALID_CHUNK_SIZE"
	ErrCodeChunkTooLarge     = "CIPHERMAN_CHUNK_TOO_LARGE"
	ErrCodeEmptySource       = "CIPHERMAN_EMPTY_SOURCE"
	ErrCodeConcurrency       = "CIPHERMAN_CONCURRENCY_UNSUPPORTED"
	ErrCodeCipherArgs        = "CIPHERMAN_INVALID_CIPHER_ARGS"
	ErrCodeInvalidKey        = "CIPHERMAN_INVALID_KEY"
	ErrCodeLocked            = "CIPHERMAN_LOCKED"
	ErrCodeCannotDecrypt     = "CIPHERMAN_CANNOT_DECRYPT"
	ErrCodeInvalidMagic      = "CIPHERMAN_INVALID_MAGIC"
	ErrCodeInvalidHeader     = "CIPHERMAN_INVALID_HEADER"
	ErrCodeContentType       = "CIPHERMAN_CONTENT_TYPE_MISMATCH"
	ErrCodeChecksum          = "CIPHERMAN_CHECKSUM_MISMATCH"
	ErrCodeDecrypt           = "CIPHERMAN_DECRYPT"
	ErrCodeEncrypt           = "CIPHERMAN_ENCRYPT"
	ErrCodeProgressState     = "CIPHERMAN_PROGRESS_STATE"
	ErrCodeUnsupportedCipher = "CIPHERMAN_UNSUPPORTED_CIPHER"
	ErrCodeUnsupportedHash   = "CIPHERMAN_UNSUPPORTED_HASH"
	ErrCodeNotSigner         = "CIPHERMAN_NOT_SIGNER"
	ErrCodeMissingType       = "CIPHERMAN_MISSING_CONTENT_TYPE"
	ErrCodeUnknownType       = "CIPHERMAN_UNKNOWN_CONTENT_TYPE"
	ErrCodeInterrupted       = "CIPHERMAN_INTERRUPTED"
	ErrCodeIO                = "CIPHERMAN_IO"
	ErrCodeRandom            = "CIPHERMAN_RANDOM"
)

// newError builds an error that matches sentinel with errors.Is and carries a
// rich go-errors value with the given code.
func newError(sentinel error, code goerrors.ErrorCode, msg string) error {
	richErr := goerrors.New(code, msg)
	return fmt.Errorf("%w: %w", sentinel, richErr)
}

// wrapError is newError with an underlying cause.
func wrapError(sentinel error, cause error, code goerrors.ErrorCode, msg string) error {
	richErr := goerrors.Wrap(cause, code, msg)
	return fmt.Errorf("%w: %w", sentinel, richErr)
}

// ioError wraps a filesystem failure. I/O errors keep their own identity
// (os.ErrNotExist etc.) instead of being mapped onto a sentinel.
func ioError(cause error, msg string) error {
	return goerrors.Wrap(cause, ErrCodeIO, msg)
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidChunkSize) ||
		errors.Is(err, ErrChunkTooLarge) ||
		errors.Is(err, ErrEmptySource) ||
		errors.Is(err, ErrConcurrencyUnsupported) ||
		errors.Is(err, ErrInvalidCipherArgs) ||
		errors.Is(err, ErrInvalidKey)
}

// IsStateError reports whether err is a state or integrity error.
func IsStateError(err error) bool {
	return errors.Is(err, ErrLocked) ||
		errors.Is(err, ErrCannotDecrypt) ||
		errors.Is(err, ErrInvalidMagic) ||
		errors.Is(err, ErrInvalidHeader) ||
		errors.Is(err, ErrContentTypeMismatch) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrDecryptFailed) ||
		errors.Is(err, ErrProgressState)
}

// IsCapabilityError reports whether err names an unsupported algorithm.
func IsCapabilityError(err error) bool {
	return errors.Is(err, ErrUnsupportedCipher) ||
		errors.Is(err, ErrUnsupportedHash) ||
		errors.Is(err, ErrNotSigner)
}

// IsCanceled reports whether err is the result of a user cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrInterrupted)
}
