// keygen.go: The keygen command.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"os"

	"github.com/agilira/cipherman"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	keygenBits   int
	keygenPublic string

	keygenCmd = &cobra.Command{
		Use:   "keygen <keystore>",
		Short: "Generate an RSA keystore",
		Long: `Generate an RSA private key in PKCS#1 PEM. The key is encrypted when
CIPHERMAN_KEYSTORE_PASSPHRASE is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var passphrase []byte
			if pp, ok := os.LookupEnv(passphraseEnv); ok {
				passphrase = []byte(pp)
			}
			pemData, err := cipherman.GenerateRSAKeystore(keygenBits, passphrase)
			if err != nil {
				return err
			}
			defer cipherman.Zeroize(pemData)
			if err := os.WriteFile(args[0], pemData, 0o600); err != nil {
				return err
			}
			cmd.Println(color.GreenString("✓") + " Wrote " + color.YellowString(args[0]))

			if keygenPublic == "" {
				return nil
			}
			km, err := cipherman.ImportRSAKeystore(pemData, passphrase)
			if err != nil {
				return err
			}
			defer cipherman.SecureErase.Erase(km)
			pub, err := cipherman.EncodeRSAPublicKey(km.RSAPublic())
			if err != nil {
				return err
			}
			if err := os.WriteFile(keygenPublic, pub, 0o644); err != nil {
				return err
			}
			cmd.Println(color.CyanString("→") + " Public key in " + color.YellowString(keygenPublic))
			return nil
		},
	}
)

func init() {
	keygenCmd.Flags().IntVarP(&keygenBits, "bits", "b", 2048, "RSA modulus size")
	keygenCmd.Flags().StringVar(&keygenPublic, "public", "", "also write the public key here")
}
