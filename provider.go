// provider.go: Cipher primitive providers and the provider registry.
//
// Built-in providers cover the DES, AES and RSA variants. Custom providers can
// be registered per cipher name, and the registry can hold a go-plugins
// manager whose plugins serve the cipher named after them.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"

	goplugins "github.com/agilira/go-plugins"
)

// PrimitiveProvider constructs primitives for unlocked keys.
type PrimitiveProvider interface {
	Construct(name CipherName, key *KeyMaterial, args CipherArgs) (Primitive, error)
}

// ProviderFunc adapts a function to PrimitiveProvider.
type ProviderFunc func(name CipherName, key *KeyMaterial, args CipherArgs) (Primitive, error)

// Construct calls f.
func (f ProviderFunc) Construct(name CipherName, key *KeyMaterial, args CipherArgs) (Primitive, error) {
	return f(name, key, args)
}

// PrimitiveRequest is the request type exchanged with provider plugins.
type PrimitiveRequest struct {
	Operation  string     `json:"operation"` // encrypt, decrypt, sign, verify
	CipherName CipherName `json:"cipher_name"`
	CipherArgs CipherArgs `json:"cipher_args"`
	KeyID      string     `json:"key_id"` // fingerprint, never the key itself
	Data       []byte     `json:"data"`
	Signature  []byte     `json:"signature,omitempty"`
}

// PrimitiveResponse is the response type exchanged with provider plugins.
type PrimitiveResponse struct {
	Success bool   `json:"success"`
	Data    []byte `json:"data"`
	Error   string `json:"error"`
}

// ProviderRegistry maps cipher names to providers.
type ProviderRegistry struct {
	mu            sync.RWMutex
	pluginManager *goplugins.Manager[PrimitiveRequest, PrimitiveResponse] // Plugin manager for external providers
	providers     map[CipherName]PrimitiveProvider
}

// NewProviderRegistry creates a registry preloaded with the built-in
// providers. pluginManager may be nil.
func NewProviderRegistry(pluginManager *goplugins.Manager[PrimitiveRequest, PrimitiveResponse]) *ProviderRegistry {
	r := &ProviderRegistry{
		pluginManager: pluginManager,
		providers:     make(map[CipherName]PrimitiveProvider, len(CipherNames)),
	}
	for _, name := range []CipherName{CipherDES, CipherDES3, CipherAES128, CipherAES192, CipherAES256} {
		r.providers[name] = ProviderFunc(newBlockPrimitive)
	}
	r.providers[CipherPKCS1OAEP] = ProviderFunc(newRSAPrimitive)
	r.providers[CipherPKCS1v15] = ProviderFunc(newRSAPrimitive)
	return r
}

var defaultRegistry = NewProviderRegistry(nil)

// DefaultProviders returns the shared registry used when no provider option
// is given.
func DefaultProviders() *ProviderRegistry {
	return defaultRegistry
}

// Register installs provider for name, replacing any previous one.
func (r *ProviderRegistry) Register(name CipherName, provider PrimitiveProvider) error {
	if provider == nil {
		return newError(ErrInvalidConfig, ErrCodeInvalidConfig, "provider cannot be nil")
	}
	if name == "" {
		return newError(ErrInvalidConfig, ErrCodeInvalidConfig, "cipher name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
	return nil
}

// Supports reports whether a provider is registered for name, either locally
// or as a plugin of the same name.
func (r *ProviderRegistry) Supports(name CipherName) bool {
	r.mu.RLock()
	_, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return true
	}
	_, ok = r.plugin(name)
	return ok
}

func (r *ProviderRegistry) plugin(name CipherName) (goplugins.Plugin[PrimitiveRequest, PrimitiveResponse], bool) {
	if r.pluginManager == nil || name == "" {
		return nil, false
	}
	p, err := r.pluginManager.GetPlugin(string(name))
	if err != nil {
		return nil, false
	}
	return p, true
}

// PluginManager returns the plugin manager given at construction, if any.
func (r *ProviderRegistry) PluginManager() *goplugins.Manager[PrimitiveRequest, PrimitiveResponse] {
	return r.pluginManager
}

// Construct resolves the provider for name and builds a primitive. Local
// providers win over plugins.
func (r *ProviderRegistry) Construct(name CipherName, key *KeyMaterial, args CipherArgs) (Primitive, error) {
	r.mu.RLock()
	provider, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return provider.Construct(name, key, args)
	}
	if p, ok := r.plugin(name); ok {
		return newPluginPrimitive(r.pluginManager, p.Info(), name, key, args)
	}
	return nil, newError(ErrUnsupportedCipher, ErrCodeUnsupportedCipher, fmt.Sprintf("no provider for %q", name))
}

// Close closes every registered provider that implements io.Closer.
func (r *ProviderRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, provider := range r.providers {
		if c, ok := provider.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close provider %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Plugin operations and the metadata keys a plugin may use to report its
// limits. Missing limits mean an unpadded cipher without size bounds.
const (
	OpEncrypt = "encrypt"
	OpDecrypt = "decrypt"
	OpSign    = "sign"
	OpVerify  = "verify"

	MetaPaddingUnit     = "padding_unit"
	MetaMaxPlaintextLen = "max_plaintext_len"
	MetaDecryptLen      = "decrypt_len"
)

// pluginPrimitive runs every operation through the plugin manager. The key
// never crosses the plugin boundary; the plugin receives its fingerprint and
// resolves the key on its side.
type pluginPrimitive struct {
	manager *goplugins.Manager[PrimitiveRequest, PrimitiveResponse]
	name    CipherName
	args    CipherArgs
	keyID   string
	limits  Limits
}

// pluginSigner is a pluginPrimitive whose plugin lists the sign capability.
type pluginSigner struct {
	*pluginPrimitive
}

func newPluginPrimitive(manager *goplugins.Manager[PrimitiveRequest, PrimitiveResponse], info goplugins.PluginInfo, name CipherName, key *KeyMaterial, args CipherArgs) (Primitive, error) {
	keyID := pluginKeyID(key)
	if keyID == "" {
		return nil, newError(ErrInvalidKey, ErrCodeInvalidKey, fmt.Sprintf("%s needs a key", name))
	}
	limits, err := pluginLimits(info.Metadata)
	if err != nil {
		return nil, wrapError(ErrInvalidConfig, err, ErrCodeInvalidConfig,
			fmt.Sprintf("plugin %s reports bad limits", info.Name))
	}
	// A plugin listing no capabilities encrypts and decrypts.
	caps := info.Capabilities
	if (len(caps) > 0 && !slices.Contains(caps, OpDecrypt)) || (key.Raw == nil && key.Private == nil) {
		limits.CannotDecrypt = true
	}

	p := &pluginPrimitive{manager: manager, name: name, args: args.Clone(), keyID: keyID, limits: limits}
	if slices.Contains(caps, OpSign) {
		return pluginSigner{p}, nil
	}
	return p, nil
}

func pluginKeyID(key *KeyMaterial) string {
	if key == nil {
		return ""
	}
	if key.Raw != nil {
		return GetKeyFingerprint(key.Raw)
	}
	if pub := key.RSAPublic(); pub != nil && pub.N != nil {
		return GetKeyFingerprint(pub.N.Bytes())
	}
	return ""
}

func pluginLimits(meta map[string]string) (Limits, error) {
	limits := Limits{PaddingUnit: -1}
	for key, dst := range map[string]*int{
		MetaPaddingUnit:     &limits.PaddingUnit,
		MetaMaxPlaintextLen: &limits.MaxPlaintextLen,
		MetaDecryptLen:      &limits.DecryptLen,
	} {
		v, ok := meta[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Limits{}, fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return limits, nil
}

func (p *pluginPrimitive) Limits() Limits {
	return p.limits
}

func (p *pluginPrimitive) Encrypt(plaintext []byte) ([]byte, error) {
	out, err := p.execute(OpEncrypt, plaintext, nil)
	if err != nil {
		return nil, wrapError(ErrInvalidConfig, err, ErrCodeEncrypt, fmt.Sprintf("plugin %s encryption failed", p.name))
	}
	return out, nil
}

func (p *pluginPrimitive) Decrypt(ciphertext []byte) ([]byte, error) {
	if p.limits.CannotDecrypt {
		return nil, newError(ErrCannotDecrypt, ErrCodeCannotDecrypt, fmt.Sprintf("plugin %s cannot decrypt", p.name))
	}
	out, err := p.execute(OpDecrypt, ciphertext, nil)
	if err != nil {
		return nil, wrapError(ErrDecryptFailed, err, ErrCodeDecrypt, fmt.Sprintf("plugin %s decryption failed", p.name))
	}
	return out, nil
}

func (p pluginSigner) Sign(data []byte) ([]byte, error) {
	sig, err := p.execute(OpSign, data, nil)
	if err != nil {
		return nil, wrapError(ErrInvalidKey, err, ErrCodeInvalidKey, fmt.Sprintf("plugin %s signing failed", p.name))
	}
	return sig, nil
}

func (p pluginSigner) Verify(data, signature []byte) error {
	if _, err := p.execute(OpVerify, data, signature); err != nil {
		return wrapError(ErrDecryptFailed, err, ErrCodeDecrypt, "signature verification failed")
	}
	return nil
}

// execute sends one request and copies the reply, so callers may recycle it.
func (p *pluginPrimitive) execute(op string, data, signature []byte) ([]byte, error) {
	resp, err := p.manager.Execute(context.Background(), string(p.name), PrimitiveRequest{
		Operation:  op,
		CipherName: p.name,
		CipherArgs: p.args,
		KeyID:      p.keyID,
		Data:       data,
		Signature:  signature,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		if resp.Error == "" {
			resp.Error = "plugin reported failure"
		}
		return nil, errors.New(resp.Error)
	}
	return cloneBytes(resp.Data), nil
}
