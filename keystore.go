// keystore.go: RSA keystore import, export and generation.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// PEM block types.
const (
	pemRSAPrivate = "RSA PRIVATE KEY"
	pemPrivate    = "PRIVATE KEY"
	pemEncrypted  = "ENCRYPTED PRIVATE KEY"
	pemPublic     = "PUBLIC KEY"
	pemRSAPublic  = "RSA PUBLIC KEY"
)

// ImportRSAKeystore parses an RSA key from PEM or raw DER.
//
// Accepted forms are PKCS#1 and PKCS#8 private keys, PKIX and PKCS#1 public
// keys, and legacy passphrase-protected PEM ("Proc-Type: 4,ENCRYPTED").
// Failures are ErrInvalidKey.
func ImportRSAKeystore(data, passphrase []byte) (*KeyMaterial, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return parseRSADER(data)
	}

	der := block.Bytes
	//nolint:staticcheck // legacy encrypted PEM is the only passphrase format the standard library reads
	if x509.IsEncryptedPEMBlock(block) {
		if len(passphrase) == 0 {
			return nil, newError(ErrInvalidKey, ErrCodeInvalidKey, "keystore is encrypted and no passphrase was given")
		}
		//nolint:staticcheck
		plain, err := x509.DecryptPEMBlock(block, passphrase)
		if err != nil {
			return nil, wrapError(ErrInvalidKey, err, ErrCodeInvalidKey, "failed to decrypt keystore")
		}
		der = plain
	}

	switch block.Type {
	case pemRSAPrivate:
		priv, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, wrapError(ErrInvalidKey, err, ErrCodeInvalidKey, "invalid PKCS#1 private key")
		}
		return &KeyMaterial{Private: priv}, nil
	case pemPrivate:
		return parsePKCS8(der)
	case pemPublic:
		return parsePKIX(der)
	case pemRSAPublic:
		pub, err := x509.ParsePKCS1PublicKey(der)
		if err != nil {
			return nil, wrapError(ErrInvalidKey, err, ErrCodeInvalidKey, "invalid PKCS#1 public key")
		}
		return &KeyMaterial{Public: pub}, nil
	case pemEncrypted:
		return nil, newError(ErrInvalidKey, ErrCodeInvalidKey, "encrypted PKCS#8 keystores are not supported")
	default:
		return nil, newError(ErrInvalidKey, ErrCodeInvalidKey, fmt.Sprintf("unexpected PEM block %q", block.Type))
	}
}

func parseRSADER(der []byte) (*KeyMaterial, error) {
	if priv, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return &KeyMaterial{Private: priv}, nil
	}
	if km, err := parsePKCS8(der); err == nil {
		return km, nil
	}
	if km, err := parsePKIX(der); err == nil {
		return km, nil
	}
	if pub, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return &KeyMaterial{Public: pub}, nil
	}
	return nil, newError(ErrInvalidKey, ErrCodeInvalidKey, "data is neither PEM nor a DER encoded RSA key")
}

func parsePKCS8(der []byte) (*KeyMaterial, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, wrapError(ErrInvalidKey, err, ErrCodeInvalidKey, "invalid PKCS#8 private key")
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, newError(ErrInvalidKey, ErrCodeInvalidKey, fmt.Sprintf("PKCS#8 key is %T, not RSA", key))
	}
	return &KeyMaterial{Private: priv}, nil
}

func parsePKIX(der []byte) (*KeyMaterial, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, wrapError(ErrInvalidKey, err, ErrCodeInvalidKey, "invalid PKIX public key")
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, newError(ErrInvalidKey, ErrCodeInvalidKey, fmt.Sprintf("public key is %T, not RSA", key))
	}
	return &KeyMaterial{Public: pub}, nil
}

// EncodeRSAKeystore renders a private key as PKCS#1 PEM, encrypted with
// AES-256 when passphrase is not empty.
func EncodeRSAKeystore(priv *rsa.PrivateKey, passphrase []byte) ([]byte, error) {
	if priv == nil {
		return nil, newError(ErrInvalidKey, ErrCodeInvalidKey, "nil private key")
	}
	der := x509.MarshalPKCS1PrivateKey(priv)
	defer Zeroize(der)

	if len(passphrase) == 0 {
		return pem.EncodeToMemory(&pem.Block{Type: pemRSAPrivate, Bytes: der}), nil
	}
	//nolint:staticcheck // see ImportRSAKeystore
	block, err := x509.EncryptPEMBlock(rand.Reader, pemRSAPrivate, der, passphrase, x509.PEMCipherAES256)
	if err != nil {
		return nil, wrapError(ErrInvalidKey, err, ErrCodeInvalidKey, "failed to encrypt keystore")
	}
	return pem.EncodeToMemory(block), nil
}

// EncodeRSAPublicKey renders the public half of a key as PKIX PEM.
func EncodeRSAPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, wrapError(ErrInvalidKey, err, ErrCodeInvalidKey, "failed to encode public key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublic, Bytes: der}), nil
}

// GenerateRSAKeystore creates a new RSA key and returns it as PEM.
func GenerateRSAKeystore(bits int, passphrase []byte) ([]byte, error) {
	if bits < 1024 {
		return nil, newError(ErrInvalidConfig, ErrCodeInvalidConfig, fmt.Sprintf("RSA key size %d is too small", bits))
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, wrapError(ErrInvalidKey, err, ErrCodeInvalidKey, "failed to generate RSA key")
	}
	defer SecureErase.Erase(&KeyMaterial{Private: priv})
	return EncodeRSAKeystore(priv, passphrase)
}
