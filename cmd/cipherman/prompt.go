// prompt.go: Key input for the cipherman commands.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/agilira/cipherman"
	"golang.org/x/term"
)

const (
	passwordEnv   = "CIPHERMAN_PASSWORD"
	passphraseEnv = "CIPHERMAN_KEYSTORE_PASSPHRASE"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// promptPassword reads a password from the environment or the terminal. With
// confirm set the password is asked twice.
func promptPassword(confirm bool) ([]byte, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return []byte(pw), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("no terminal for the password prompt, set %s", passwordEnv)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := readPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, errors.New("password cannot be empty")
	}
	if !confirm {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Repeat password: ")
	again, err := readPassword(fd)
	fmt.Fprintln(os.Stderr)
	defer cipherman.Zeroize(again)
	if err != nil {
		cipherman.Zeroize(pw)
		return nil, err
	}
	if !bytes.Equal(pw, again) {
		cipherman.Zeroize(pw)
		return nil, errors.New("passwords do not match")
	}
	return pw, nil
}

// keyInput returns the key and passphrase for keyType. RSA keys come from the
// keystore file, optionally protected by CIPHERMAN_KEYSTORE_PASSPHRASE.
func keyInput(keyType cipherman.KeyType, keystore string, confirm bool) (key, passphrase []byte, err error) {
	if keyType != cipherman.KeyTypeRSAKeystore {
		key, err = promptPassword(confirm)
		return key, nil, err
	}
	if keystore == "" {
		return nil, nil, errors.New("--keystore is required for RSA ciphers")
	}
	key, err = os.ReadFile(keystore)
	if err != nil {
		return nil, nil, err
	}
	if pp, ok := os.LookupEnv(passphraseEnv); ok {
		passphrase = []byte(pp)
	}
	return key, passphrase, nil
}
