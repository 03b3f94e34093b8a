// Package cipherman provides symmetric and RSA cipher files, a streaming
// chunk cipher engine and an encrypted single-file container.
//
// The package is built around three pieces:
//   - CipherFile: a cipher configuration (DES, DES3, AES-128/192/256,
//     PKCS1-OAEP, PKCS1-5) with an optional resident key, a salted key
//     commitment and byte and stream encryption
//   - ProtectFile: the "CM" container, a base64 JSON header followed by
//     ciphertext chunks, with CRC32 verification on unpack
//   - Progress: a pollable progress tree shared between a worker and a UI
//
// # Quick Start
//
// Protecting a file with a password:
//
//	cf, err := cipherman.NewCipherFile(cipherman.CipherConfig{
//		CipherName: cipherman.CipherAES256,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	password := []byte("correct horse battery staple")
//	if _, err := cf.SetKey(password); err != nil {
//		log.Fatal(err)
//	}
//	if err := cf.Unlock(password, nil); err != nil {
//		log.Fatal(err)
//	}
//	defer cf.Lock()
//
//	pf, err := cipherman.NewProtectFile(cf)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pf.Lock()
//	progress := cipherman.NewProgress(0, "protect")
//	if err := pf.PackTo("report.pdf", "report.pdf.cm", progress, cipherman.DefaultChunkSize); err != nil {
//		log.Fatal(err)
//	}
//
// Unpacking it again:
//
//	pf, err := cipherman.OpenProtectFile("report.pdf.cm")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if !pf.ValidateKey(password) {
//		log.Fatal("wrong password")
//	}
//	if err := pf.Unlock(password, nil); err != nil {
//		log.Fatal(err)
//	}
//	defer pf.Lock()
//	name, _ := pf.DecryptFilename()
//	err = pf.UnpackTo(name, nil, cipherman.DefaultChunkSize)
//
// # Streams
//
// EncryptStream and DecryptStream return a *ChunkStream, a finite,
// non-restartable sequence of chunks read with Next (io.EOF at the end) or
// ranged over with All. With iter_count > 1 all passes but the last are
// spilled to temporary files, and padded ciphers need a chunk size that is a
// multiple of their unit. Unpadded ciphers (RSA) may encrypt chunks on
// several workers; results are still returned in input order.
//
// Padded block ciphers zero-pad each chunk. Decryption does not remove the
// padding of streams; ProtectFile truncates to the recorded size instead.
// DecryptBytes strips trailing NUL bytes, which is lossy for values that
// really end in NUL.
//
// # Error Handling
//
// Cipher, container and progress failures wrap one of the package sentinels
// and carry a github.com/agilira/go-errors code:
//
//	if err := pf.UnpackTo(dst, nil, cipherman.DefaultChunkSize); err != nil {
//		switch {
//		case errors.Is(err, cipherman.ErrChecksumMismatch):
//			// corrupted container or wrong key
//		case cipherman.IsCanceled(err):
//			// the user cancelled the progress
//		}
//	}
//
// # Extension Points
//
// Cipher primitives come from a PrimitiveProvider (the default
// ProviderRegistry knows the built-in names), key commitments from a
// HashProvider, key erasure from an ErasePolicy and all file access goes
// through a FileSystem, so containers can live on any absfs filesystem.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package cipherman
