// cipherfile.go: Cipher configuration, key lifecycle and single-value crypto.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"

	goerrors "github.com/agilira/go-errors"
)

// Defaults applied by NewCipherFile.
const (
	DefaultContentEncoding = "utf-8"
	DefaultPasswordSaltLen = 16
	DefaultKeyHashName     = HashSHA256
)

// CipherConfig is the persisted, non-secret part of a cipher file.
// Field names are the on-disk JSON keys.
type CipherConfig struct {
	ContentType      string            `json:"content_type"`
	ContentEncoding  string            `json:"content_encoding"`
	CipherName       CipherName        `json:"cipher_name"`
	CipherArgs       CipherArgs        `json:"cipher_args,omitempty"`
	IterCount        int               `json:"iter_count"`
	KeyType          KeyType           `json:"key_type"`
	KeyHash          []byte            `json:"key_hash,omitempty"`
	KeyHashName      HashName          `json:"key_hash_name"`
	KeyHashArgs      map[string]string `json:"key_hash_args,omitempty"`
	KeyHashIterCount int               `json:"key_hash_iter_count"`
	PasswordSalt     []byte            `json:"password_salt,omitempty"`
	PasswordSaltLen  int               `json:"password_salt_len"`
}

// applyDefaults fills zero fields.
func (c *CipherConfig) applyDefaults() {
	if c.ContentEncoding == "" {
		c.ContentEncoding = DefaultContentEncoding
	}
	if c.IterCount == 0 {
		c.IterCount = 1
	}
	if c.KeyType == "" {
		c.KeyType = KeyTypePassword
	}
	if c.KeyHashName == "" {
		c.KeyHashName = DefaultKeyHashName
	}
	if c.KeyHashIterCount == 0 {
		c.KeyHashIterCount = 1
	}
	if c.PasswordSaltLen == 0 {
		c.PasswordSaltLen = DefaultPasswordSaltLen
	}
}

// Validate checks field ranges. It does not check that a provider exists for
// the cipher; that happens on unlock.
func (c *CipherConfig) Validate() error {
	if c.CipherName == "" {
		return newError(ErrInvalidConfig, ErrCodeInvalidConfig, "cipher_name is required")
	}
	if c.IterCount < 1 {
		return newError(ErrInvalidConfig, ErrCodeInvalidConfig,
			fmt.Sprintf("iter_count must be positive, got %d", c.IterCount))
	}
	if !c.KeyType.Valid() {
		return newError(ErrInvalidConfig, ErrCodeInvalidConfig, fmt.Sprintf("unknown key_type %q", c.KeyType))
	}
	if c.KeyHashIterCount < 1 {
		return newError(ErrInvalidConfig, ErrCodeInvalidConfig,
			fmt.Sprintf("key_hash_iter_count must be positive, got %d", c.KeyHashIterCount))
	}
	if c.KeyType.NeedSaltProtect() && c.PasswordSalt == nil && c.PasswordSaltLen < 1 {
		return newError(ErrInvalidConfig, ErrCodeInvalidConfig,
			fmt.Sprintf("password_salt_len must be positive, got %d", c.PasswordSaltLen))
	}
	return nil
}

// clone returns a deep copy.
func (c *CipherConfig) clone() CipherConfig {
	out := *c
	out.CipherArgs = c.CipherArgs.Clone()
	out.KeyHashArgs = cloneStringMap(c.KeyHashArgs)
	out.KeyHash = cloneBytes(c.KeyHash)
	out.PasswordSalt = cloneBytes(c.PasswordSalt)
	return out
}

// CipherFile binds a cipher configuration to an optional resident key.
//
// A new file is locked. SetKey commits a key digest once, Unlock makes a key
// resident so the file can encrypt and decrypt, and Lock erases it again
// according to the erase policy. Unlock and Lock on one file must not race
// with each other; crypto calls on an unlocked file may run concurrently
// with polling accessors.
type CipherFile struct {
	CipherConfig

	mu      sync.RWMutex
	key     *KeyMaterial
	ownsKey bool
	limits  Limits
	opts    options
}

// NewCipherFile creates a locked cipher file. Zero config fields take their
// defaults (iter_count 1, PASSWORD keys, SHA256 commitments, 16 byte salt).
func NewCipherFile(cfg CipherConfig, opts ...Option) (*CipherFile, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &CipherFile{CipherConfig: cfg, opts: buildOptions(opts)}
	if err := c.checkCapabilities(); err != nil {
		return nil, err
	}
	return c, nil
}

// checkCapabilities rejects unknown cipher and hash names up front.
func (c *CipherFile) checkCapabilities() error {
	if s, ok := c.opts.provider.(interface{ Supports(CipherName) bool }); ok && !s.Supports(c.CipherName) {
		return newError(ErrUnsupportedCipher, ErrCodeUnsupportedCipher, fmt.Sprintf("unknown cipher %q", c.CipherName))
	}
	if _, err := c.opts.hashes.New(c.KeyHashName, c.KeyHashArgs); err != nil {
		return err
	}
	return nil
}

// SetOptions replaces runtime collaborators, e.g. after decoding a file.
func (c *CipherFile) SetOptions(opts ...Option) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, opt := range opts {
		if opt != nil {
			opt(&c.opts)
		}
	}
}

// initDecoded prepares a file decoded from JSON.
func (c *CipherFile) initDecoded(opts []Option) error {
	c.opts = buildOptions(opts)
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}
	return c.checkCapabilities()
}

func (c *CipherFile) logger() *slog.Logger {
	return c.opts.logger.With("cipher", string(c.CipherName), "file", c.Fingerprint())
}

// Fingerprint identifies the file in logs by its key commitment.
func (c *CipherFile) Fingerprint() string {
	return GetKeyFingerprint(c.KeyHash)
}

// Locked reports whether no usable key is resident. A borrowed keystore key
// counts as gone once the file that owns it has been locked.
func (c *CipherFile) Locked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.residentLocked() == nil
}

func (c *CipherFile) residentLocked() *KeyMaterial {
	if c.key == nil || c.key.erased() {
		return nil
	}
	return c.key
}

// Limits returns the constraints resolved at unlock. A locked file reports
// zero limits.
func (c *CipherFile) Limits() Limits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limits
}

// Lock drops the resident key, erasing it if this file owns it. Locking a
// locked file does nothing.
func (c *CipherFile) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lockLocked()
}

func (c *CipherFile) lockLocked() {
	if c.key == nil {
		return
	}
	if c.ownsKey {
		c.opts.erase.Erase(c.key)
	}
	c.key = nil
	c.ownsKey = false
	c.limits = Limits{}
	c.logger().Debug("cipher file locked")
}

// Close locks the file.
func (c *CipherFile) Close() error {
	c.Lock()
	return nil
}

// Unlock makes key resident. For PASSWORD files key is the password; for
// RSA_KEYSTORE files it is a PEM or DER keystore and passphrase, if any,
// decrypts it. The primitive is built once to validate the key and resolve
// its limits; failure leaves the file locked and returns ErrInvalidKey (or a
// more specific configuration/capability error).
//
// Unlock does not check the key commitment; use ValidateKey for that.
func (c *CipherFile) Unlock(key, passphrase []byte) error {
	var (
		km  *KeyMaterial
		err error
	)
	switch c.KeyType {
	case KeyTypePassword:
		if key == nil {
			return newError(ErrInvalidKey, ErrCodeInvalidKey, "password cannot be nil")
		}
		km = &KeyMaterial{Raw: cloneBytes(key)}
	case KeyTypeRSAKeystore:
		km, err = ImportRSAKeystore(key, passphrase)
		if err != nil {
			return err
		}
	default:
		return newError(ErrInvalidConfig, ErrCodeInvalidConfig, fmt.Sprintf("unknown key_type %q", c.KeyType))
	}
	return c.adopt(km, true)
}

// adopt resolves the primitive for km and makes it resident.
func (c *CipherFile) adopt(km *KeyMaterial, owned bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prim, err := c.opts.provider.Construct(c.CipherName, km, c.CipherArgs)
	if err != nil {
		if owned {
			c.opts.erase.Erase(km)
		}
		return classify(err, ErrInvalidKey, ErrCodeInvalidKey, "key cannot build the cipher")
	}

	c.lockLocked()
	c.key = km
	c.ownsKey = owned
	c.limits = prim.Limits()
	c.logger().Debug("cipher file unlocked",
		"key_type", string(c.KeyType),
		"max_plaintext_len", c.limits.MaxPlaintextLen,
		"decrypt_len", c.limits.DecryptLen)
	return nil
}

// SetKey commits key: a salt is generated if the key type needs one and
// none exists, then key_hash is computed. It returns false without changing
// anything if a commitment already exists or key is nil. An unusable hash
// configuration is returned as an error.
func (c *CipherFile) SetKey(key []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.KeyHash != nil || key == nil {
		return false, nil
	}
	salt := c.PasswordSalt
	if salt == nil && c.KeyType.NeedSaltProtect() {
		fresh, err := randomBytes(c.PasswordSaltLen)
		if err != nil {
			return false, err
		}
		salt = fresh
	}
	digest, err := c.commit(key, salt)
	if err != nil {
		return false, err
	}
	c.PasswordSalt = salt
	c.KeyHash = digest
	return true, nil
}

// ValidateKey reports whether key matches the stored commitment. Keys that
// are too long for the cipher are rejected without hashing. Without a
// commitment every key is accepted.
func (c *CipherFile) ValidateKey(key []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.KeyHash == nil {
		return true
	}
	if key == nil {
		return false
	}
	if maxLen := c.CipherName.MaxKeyLen(); maxLen > 0 && len(key) > maxLen {
		return false
	}
	digest, err := c.commit(key, c.PasswordSalt)
	if err != nil {
		c.logger().Warn("key validation failed", "error", err)
		return false
	}
	return subtle.ConstantTimeCompare(digest, c.KeyHash) == 1
}

func (c *CipherFile) commit(key, salt []byte) ([]byte, error) {
	if !c.KeyType.NeedSaltProtect() {
		salt = nil
	}
	return commitKey(c.opts.hashes, c.KeyHashName, c.KeyHashArgs, c.KeyHashIterCount, key, salt)
}

// primitive builds a fresh primitive for the resident key. Chained modes
// start from the configured IV on every call.
func (c *CipherFile) primitive() (Primitive, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key := c.residentLocked()
	if key == nil {
		return nil, newError(ErrLocked, ErrCodeLocked, "unlock the cipher file first")
	}
	prim, err := c.opts.provider.Construct(c.CipherName, key, c.CipherArgs)
	if err != nil {
		return nil, classify(err, ErrInvalidKey, ErrCodeInvalidKey, "key cannot build the cipher")
	}
	return prim, nil
}

// unlockedLimits returns the resolved limits or ErrLocked.
func (c *CipherFile) unlockedLimits() (Limits, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.residentLocked() == nil {
		return Limits{}, newError(ErrLocked, ErrCodeLocked, "unlock the cipher file first")
	}
	return c.limits, nil
}

// checkIterations rejects iter_count > 1 for ciphers whose output is longer
// than their input: later passes could never be decrypted chunk by chunk.
func (c *CipherFile) checkIterations(limits Limits) error {
	if c.IterCount > 1 && limits.DecryptLen > 0 {
		return newError(ErrInvalidConfig, ErrCodeInvalidConfig,
			fmt.Sprintf("%s cannot run %d passes", c.CipherName, c.IterCount))
	}
	return nil
}

// EncryptBytes zero-pads data to the cipher's unit and encrypts it
// iter_count times.
func (c *CipherFile) EncryptBytes(data []byte) ([]byte, error) {
	limits, err := c.unlockedLimits()
	if err != nil {
		return nil, err
	}
	if err := c.checkIterations(limits); err != nil {
		return nil, err
	}
	if limits.PaddingUnit > 0 {
		if data, err = FixedBytes(data, limits.PaddingUnit, 0, 0); err != nil {
			return nil, err
		}
	}
	for i := 0; i < c.IterCount; i++ {
		prim, err := c.primitive()
		if err != nil {
			return nil, err
		}
		if data, err = prim.Encrypt(data); err != nil {
			return nil, classify(err, ErrInvalidConfig, ErrCodeEncrypt, "encryption failed")
		}
	}
	return data, nil
}

// DecryptBytes reverses EncryptBytes. Trailing NUL bytes are stripped for
// padded ciphers, including NULs that were part of the plaintext.
func (c *CipherFile) DecryptBytes(data []byte) ([]byte, error) {
	limits, err := c.unlockedLimits()
	if err != nil {
		return nil, err
	}
	if limits.CannotDecrypt {
		return nil, newError(ErrCannotDecrypt, ErrCodeCannotDecrypt, "resident key cannot decrypt")
	}
	if err := c.checkIterations(limits); err != nil {
		return nil, err
	}
	for i := 0; i < c.IterCount; i++ {
		prim, err := c.primitive()
		if err != nil {
			return nil, err
		}
		if data, err = prim.Decrypt(data); err != nil {
			return nil, classify(err, ErrDecryptFailed, ErrCodeDecrypt, "decryption failed")
		}
	}
	if limits.PaddingUnit > 0 {
		return stripZeroPadding(data), nil
	}
	return data, nil
}

// Sign signs data when the cipher has the signature capability.
func (c *CipherFile) Sign(data []byte) ([]byte, error) {
	prim, err := c.primitive()
	if err != nil {
		return nil, err
	}
	signer, ok := prim.(Signer)
	if !ok {
		return nil, newError(ErrNotSigner, ErrCodeNotSigner, string(c.CipherName))
	}
	return signer.Sign(data)
}

// Verify checks a signature produced by Sign.
func (c *CipherFile) Verify(data, signature []byte) error {
	prim, err := c.primitive()
	if err != nil {
		return err
	}
	signer, ok := prim.(Signer)
	if !ok {
		return newError(ErrNotSigner, ErrCodeNotSigner, string(c.CipherName))
	}
	return signer.Verify(data, signature)
}

// derive creates a locked file with a copy of c's configuration and
// content type set to contentType.
func (c *CipherFile) derive(contentType string) *CipherFile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := &CipherFile{CipherConfig: c.CipherConfig.clone(), opts: c.opts}
	d.ContentType = contentType
	return d
}

// shareKeyWith makes c's resident key resident in dst too. Password keys are
// copied and owned by dst; keystore keys are borrowed and never erased by dst.
func (c *CipherFile) shareKeyWith(dst *CipherFile) error {
	c.mu.RLock()
	km := c.residentLocked()
	c.mu.RUnlock()
	if km == nil {
		return newError(ErrLocked, ErrCodeLocked, "source cipher file is locked")
	}
	if km.Raw != nil {
		return dst.adopt(&KeyMaterial{Raw: cloneBytes(km.Raw)}, true)
	}
	return dst.adopt(&KeyMaterial{Private: km.Private, Public: km.Public}, false)
}

// classify keeps errors that already carry one of this package's sentinels
// and wraps anything else (provider errors) with sentinel.
func classify(err error, sentinel error, code goerrors.ErrorCode, msg string) error {
	if IsConfigError(err) || IsStateError(err) || IsCapabilityError(err) || IsCanceled(err) {
		return err
	}
	return wrapError(sentinel, err, code, msg)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
