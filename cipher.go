// cipher.go: Cipher names, capability interfaces and built-in primitives.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"strings"
)

// CipherName identifies a cipher variant. The string values are part of the
// persisted format.
type CipherName string

const (
	CipherDES       CipherName = "DES"
	CipherDES3      CipherName = "DES3"
	CipherAES128    CipherName = "AES-128"
	CipherAES192    CipherName = "AES-192"
	CipherAES256    CipherName = "AES-256"
	CipherPKCS1OAEP CipherName = "PKCS1-OAEP"
	CipherPKCS1v15  CipherName = "PKCS1-5"
)

// CipherNames lists every built-in cipher.
var CipherNames = []CipherName{
	CipherDES, CipherDES3, CipherAES128, CipherAES192, CipherAES256,
	CipherPKCS1OAEP, CipherPKCS1v15,
}

// Padding returns the zero-padding unit of the cipher, or -1 for schemes that
// take unpadded input.
func (c CipherName) Padding() int {
	switch c {
	case CipherDES, CipherDES3:
		return des.BlockSize
	case CipherAES128, CipherAES192, CipherAES256:
		return aes.BlockSize
	default:
		return -1
	}
}

// MaxKeyLen is the longest password a symmetric cipher accepts, or 0 when the
// cipher takes a keystore.
func (c CipherName) MaxKeyLen() int {
	switch c {
	case CipherDES:
		return 8
	case CipherDES3:
		return 24
	case CipherAES128:
		return 16
	case CipherAES192:
		return 24
	case CipherAES256:
		return 32
	default:
		return 0
	}
}

// Valid reports whether c is a built-in cipher name.
func (c CipherName) Valid() bool {
	for _, n := range CipherNames {
		if n == c {
			return true
		}
	}
	return false
}

// KeyType describes where key material comes from.
type KeyType string

const (
	KeyTypePassword    KeyType = "PASSWORD"
	KeyTypeRSAKeystore KeyType = "RSA_KEYSTORE"
)

// NeedSaltProtect reports whether key commitments for this type are salted.
func (k KeyType) NeedSaltProtect() bool {
	return k == KeyTypePassword
}

// IsFile reports whether the key comes from a file rather than user input.
func (k KeyType) IsFile() bool {
	return k != KeyTypePassword
}

// Valid reports whether k is a known key type.
func (k KeyType) Valid() bool {
	return k == KeyTypePassword || k == KeyTypeRSAKeystore
}

// Cipher argument names understood by the built-in primitives.
const (
	ArgMode     = "mode"      // ECB (default), CBC or CTR
	ArgIV       = "iv"        // hex, one block
	ArgHash     = "hash"      // OAEP hash, default SHA1
	ArgSignHash = "sign_hash" // PKCS#1 v1.5 signature hash, default SHA256
)

// Block modes.
const (
	ModeECB = "ECB"
	ModeCBC = "CBC"
	ModeCTR = "CTR"
)

// CipherArgs are extra primitive parameters stored with the file and passed
// to the provider verbatim.
type CipherArgs map[string]string

// Get returns the value for key, or def when unset.
func (a CipherArgs) Get(key, def string) string {
	if v, ok := a[key]; ok && v != "" {
		return v
	}
	return def
}

// Clone returns an independent copy.
func (a CipherArgs) Clone() CipherArgs {
	if a == nil {
		return nil
	}
	out := make(CipherArgs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// NewBlockArgs builds arguments for a chained block mode with a random IV.
func NewBlockArgs(name CipherName, mode string) (CipherArgs, error) {
	unit := name.Padding()
	if unit <= 0 {
		return nil, newError(ErrInvalidCipherArgs, ErrCodeCipherArgs,
			fmt.Sprintf("%s is not a block cipher", name))
	}
	mode = strings.ToUpper(mode)
	if mode == "" || mode == ModeECB {
		return CipherArgs{ArgMode: ModeECB}, nil
	}
	iv, err := randomBytes(unit)
	if err != nil {
		return nil, err
	}
	return CipherArgs{ArgMode: mode, ArgIV: hex.EncodeToString(iv)}, nil
}

// Limits are the per-key constraints of a primitive.
type Limits struct {
	PaddingUnit     int  // zero-padding unit, <= 0 for none
	MaxPlaintextLen int  // longest single Encrypt input, 0 for unlimited
	DecryptLen      int  // exact ciphertext unit for Decrypt, 0 for any
	CannotDecrypt   bool // the key can only encrypt
}

// Primitive is a cipher bound to one key.
//
// Chained modes keep state between calls, so a Primitive is used by one
// stream pass at a time unless its padding unit is <= 0. Encrypt and Decrypt
// must return fresh slices; their input buffers are recycled.
type Primitive interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	Limits() Limits
}

// Signer is the optional signature capability of a Primitive.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	Verify(data, signature []byte) error
}

type blockPrimitive struct {
	block cipher.Block
	mode  string
	iv    []byte
	enc   cipher.BlockMode
	dec   cipher.BlockMode
	encS  cipher.Stream
	decS  cipher.Stream
}

func newBlockPrimitive(name CipherName, key *KeyMaterial, args CipherArgs) (Primitive, error) {
	if key == nil || key.Raw == nil {
		return nil, newError(ErrInvalidKey, ErrCodeInvalidKey, fmt.Sprintf("%s needs a password key", name))
	}

	var (
		block cipher.Block
		err   error
	)
	switch name {
	case CipherDES:
		k, ferr := FixedBytes(key.Raw, 8, 8, 8)
		if ferr != nil {
			return nil, ferr
		}
		block, err = des.NewCipher(k)
	case CipherDES3:
		k, ferr := FixedBytes(key.Raw, 8, 16, 24)
		if ferr != nil {
			return nil, ferr
		}
		if len(k) == 16 {
			k = append(k[:16:16], k[:8]...)
		}
		block, err = des.NewTripleDESCipher(k)
	case CipherAES128, CipherAES192, CipherAES256:
		size := name.MaxKeyLen()
		k, ferr := FixedBytes(key.Raw, 8, size, size)
		if ferr != nil {
			return nil, ferr
		}
		block, err = aes.NewCipher(k)
	default:
		return nil, newError(ErrUnsupportedCipher, ErrCodeUnsupportedCipher, string(name))
	}
	if err != nil {
		return nil, wrapError(ErrInvalidKey, err, ErrCodeInvalidKey, "failed to create block cipher")
	}

	p := &blockPrimitive{block: block, mode: strings.ToUpper(args.Get(ArgMode, ModeECB))}
	switch p.mode {
	case ModeECB:
	case ModeCBC, ModeCTR:
		iv, err := hex.DecodeString(args.Get(ArgIV, ""))
		if err != nil {
			return nil, wrapError(ErrInvalidCipherArgs, err, ErrCodeCipherArgs, "iv is not hex")
		}
		if len(iv) != block.BlockSize() {
			return nil, newError(ErrInvalidCipherArgs, ErrCodeCipherArgs,
				fmt.Sprintf("%s needs a %d byte iv, got %d", p.mode, block.BlockSize(), len(iv)))
		}
		p.iv = iv
	default:
		return nil, newError(ErrInvalidCipherArgs, ErrCodeCipherArgs, fmt.Sprintf("unknown mode %q", p.mode))
	}
	return p, nil
}

func (p *blockPrimitive) Limits() Limits {
	return Limits{PaddingUnit: p.block.BlockSize()}
}

func (p *blockPrimitive) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	switch p.mode {
	case ModeCTR:
		if p.encS == nil {
			p.encS = cipher.NewCTR(p.block, p.iv)
		}
		p.encS.XORKeyStream(out, plaintext)
		return out, nil
	}
	if len(plaintext)%p.block.BlockSize() != 0 {
		return nil, newError(ErrInvalidConfig, ErrCodeEncrypt,
			fmt.Sprintf("input length %d is not a multiple of the block size", len(plaintext)))
	}
	switch p.mode {
	case ModeCBC:
		if p.enc == nil {
			p.enc = cipher.NewCBCEncrypter(p.block, p.iv)
		}
		p.enc.CryptBlocks(out, plaintext)
	default:
		bs := p.block.BlockSize()
		for i := 0; i < len(plaintext); i += bs {
			p.block.Encrypt(out[i:i+bs], plaintext[i:i+bs])
		}
	}
	return out, nil
}

func (p *blockPrimitive) Decrypt(ciphertext []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	switch p.mode {
	case ModeCTR:
		if p.decS == nil {
			p.decS = cipher.NewCTR(p.block, p.iv)
		}
		p.decS.XORKeyStream(out, ciphertext)
		return out, nil
	}
	if len(ciphertext)%p.block.BlockSize() != 0 {
		return nil, newError(ErrDecryptFailed, ErrCodeDecrypt,
			fmt.Sprintf("ciphertext length %d is not a multiple of the block size", len(ciphertext)))
	}
	switch p.mode {
	case ModeCBC:
		if p.dec == nil {
			p.dec = cipher.NewCBCDecrypter(p.block, p.iv)
		}
		p.dec.CryptBlocks(out, ciphertext)
	default:
		bs := p.block.BlockSize()
		for i := 0; i < len(ciphertext); i += bs {
			p.block.Decrypt(out[i:i+bs], ciphertext[i:i+bs])
		}
	}
	return out, nil
}

type rsaPrimitive struct {
	scheme   CipherName
	pub      *rsa.PublicKey
	priv     *rsa.PrivateKey
	hash     crypto.Hash
	signHash crypto.Hash
	limits   Limits
}

func newRSAPrimitive(name CipherName, key *KeyMaterial, args CipherArgs) (Primitive, error) {
	if key == nil || key.RSAPublic() == nil {
		return nil, newError(ErrInvalidKey, ErrCodeInvalidKey, fmt.Sprintf("%s needs an RSA keystore", name))
	}
	hash, err := cryptoHash(args.Get(ArgHash, string(HashSHA1)))
	if err != nil {
		return nil, err
	}
	signHash, err := cryptoHash(args.Get(ArgSignHash, string(HashSHA256)))
	if err != nil {
		return nil, err
	}

	p := &rsaPrimitive{scheme: name, pub: key.RSAPublic(), priv: key.Private, hash: hash, signHash: signHash}
	k := p.pub.Size()
	switch name {
	case CipherPKCS1OAEP:
		h := hash.Size()
		p.limits = Limits{
			PaddingUnit:     -1,
			MaxPlaintextLen: k - 2*h - 2,
			DecryptLen:      k,
			CannotDecrypt:   k < h+2,
		}
	case CipherPKCS1v15:
		p.limits = Limits{PaddingUnit: -1, MaxPlaintextLen: k - 11, DecryptLen: k}
	default:
		return nil, newError(ErrUnsupportedCipher, ErrCodeUnsupportedCipher, string(name))
	}
	if p.priv == nil {
		p.limits.CannotDecrypt = true
	}
	if p.limits.MaxPlaintextLen <= 0 {
		return nil, newError(ErrInvalidKey, ErrCodeInvalidKey,
			fmt.Sprintf("%d bit modulus is too small for %s", p.pub.N.BitLen(), name))
	}
	return p, nil
}

func (p *rsaPrimitive) Limits() Limits {
	return p.limits
}

func (p *rsaPrimitive) Encrypt(plaintext []byte) ([]byte, error) {
	var (
		out []byte
		err error
	)
	if p.scheme == CipherPKCS1OAEP {
		out, err = rsa.EncryptOAEP(p.hash.New(), rand.Reader, p.pub, plaintext, nil)
	} else {
		out, err = rsa.EncryptPKCS1v15(rand.Reader, p.pub, plaintext)
	}
	if err != nil {
		return nil, wrapError(ErrInvalidConfig, err, ErrCodeEncrypt, "rsa encryption failed")
	}
	return out, nil
}

func (p *rsaPrimitive) Decrypt(ciphertext []byte) ([]byte, error) {
	if p.priv == nil {
		return nil, newError(ErrCannotDecrypt, ErrCodeCannotDecrypt, "public key cannot decrypt")
	}
	var (
		out []byte
		err error
	)
	if p.scheme == CipherPKCS1OAEP {
		out, err = rsa.DecryptOAEP(p.hash.New(), nil, p.priv, ciphertext, nil)
	} else {
		out, err = rsa.DecryptPKCS1v15(nil, p.priv, ciphertext)
	}
	if err != nil {
		return nil, wrapError(ErrDecryptFailed, err, ErrCodeDecrypt, "rsa decryption failed")
	}
	return out, nil
}

func (p *rsaPrimitive) Sign(data []byte) ([]byte, error) {
	if p.priv == nil {
		return nil, newError(ErrCannotDecrypt, ErrCodeCannotDecrypt, "public key cannot sign")
	}
	h := p.signHash.New()
	h.Write(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, p.priv, p.signHash, h.Sum(nil))
	if err != nil {
		return nil, wrapError(ErrInvalidKey, err, ErrCodeInvalidKey, "rsa signing failed")
	}
	return sig, nil
}

func (p *rsaPrimitive) Verify(data, signature []byte) error {
	h := p.signHash.New()
	h.Write(data)
	if err := rsa.VerifyPKCS1v15(p.pub, p.signHash, h.Sum(nil), signature); err != nil {
		return wrapError(ErrDecryptFailed, err, ErrCodeDecrypt, "signature verification failed")
	}
	return nil
}

// cryptoHash maps a hash name onto the standard library's registry.
func cryptoHash(name string) (crypto.Hash, error) {
	switch HashName(name) {
	case HashSHA1:
		return crypto.SHA1, nil
	case HashSHA256:
		return crypto.SHA256, nil
	case HashSHA512:
		return crypto.SHA512, nil
	}
	return 0, newError(ErrUnsupportedHash, ErrCodeUnsupportedHash,
		fmt.Sprintf("hash %q is not available for RSA", name))
}
