// erase.go: Secure erasure of resident key material.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"crypto/rsa"
	"math/big"
)

// KeyMaterial is the resident form of an unlocked key: raw bytes for
// password keys, an RSA key for keystore keys.
type KeyMaterial struct {
	Raw     []byte
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// RSAPublic returns the public half of the RSA key, if any.
func (k *KeyMaterial) RSAPublic() *rsa.PublicKey {
	if k.Private != nil {
		return &k.Private.PublicKey
	}
	return k.Public
}

// erased reports whether the private exponent has been wiped. Files that
// borrow a keystore key keep its pointer after the owner erases it.
func (k *KeyMaterial) erased() bool {
	return k.Private != nil && (k.Private.D == nil || k.Private.D.Sign() == 0)
}

// ErasePolicy decides what happens to key material when a file is locked.
// It is injected per CipherFile with WithErasePolicy.
type ErasePolicy interface {
	Erase(km *KeyMaterial)
}

// SecureErase overwrites raw key bytes and the words of every RSA private
// value before the key is dropped.
var SecureErase ErasePolicy = secureErase{}

// NoErase only drops references. Useful for hosts that share key buffers
// with code they do not own.
var NoErase ErasePolicy = noErase{}

type secureErase struct{}

func (secureErase) Erase(km *KeyMaterial) {
	if km == nil {
		return
	}
	Zeroize(km.Raw)
	if priv := km.Private; priv != nil {
		zeroBig(priv.D)
		for _, p := range priv.Primes {
			zeroBig(p)
		}
		zeroBig(priv.Precomputed.Dp)
		zeroBig(priv.Precomputed.Dq)
		zeroBig(priv.Precomputed.Qinv)
		priv.Precomputed = rsa.PrecomputedValues{}
	}
	km.Raw = nil
	km.Private = nil
	km.Public = nil
}

type noErase struct{}

func (noErase) Erase(km *KeyMaterial) {
	if km == nil {
		return
	}
	km.Raw = nil
	km.Private = nil
	km.Public = nil
}

// Zeroize overwrites b with zeros in place.
func Zeroize(b []byte) {
	clearBuffer(b)
}

func zeroBig(n *big.Int) {
	if n == nil {
		return
	}
	words := n.Bits()
	for i := range words {
		words[i] = 0
	}
	n.SetInt64(0)
}
