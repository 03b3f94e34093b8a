// protect.go: The protect command.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/agilira/cipherman"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	protectCipher     string
	protectMode       string
	protectIterations int
	protectHash       string
	protectHashIters  int
	protectKeystore   string

	protectCmd = &cobra.Command{
		Use:   "protect <file> [container]",
		Short: "Encrypt a file into a container",
		Long: `Encrypt a file into a self-describing container.

The container defaults to <file>.cm. Block ciphers are zero-padded per chunk
and run on one worker; RSA ciphers need --keystore and run on --workers.

Examples:
  cipherman protect report.pdf
  cipherman protect --cipher AES-128 --mode CBC report.pdf out.cm
  cipherman protect --cipher PKCS1-OAEP --keystore key.pem report.pdf`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			dst := src + ".cm"
			if len(args) == 2 {
				dst = args[1]
			}
			return runProtect(cmd, src, dst)
		},
	}
)

func init() {
	protectCmd.Flags().StringVarP(&protectCipher, "cipher", "c", string(cipherman.CipherAES256), "cipher name")
	protectCmd.Flags().StringVar(&protectMode, "mode", cipherman.ModeECB, "block mode for DES/AES: ECB, CBC or CTR")
	protectCmd.Flags().IntVarP(&protectIterations, "iterations", "i", 1, "encryption passes")
	protectCmd.Flags().StringVar(&protectHash, "hash", string(cipherman.DefaultKeyHashName), "key commitment hash")
	protectCmd.Flags().IntVar(&protectHashIters, "hash-iterations", 1, "key commitment hash rounds")
	protectCmd.Flags().StringVarP(&protectKeystore, "keystore", "k", "", "RSA keystore (PEM or DER)")
}

func runProtect(cmd *cobra.Command, src, dst string) error {
	cfg := cipherman.CipherConfig{
		CipherName:       cipherman.CipherName(protectCipher),
		IterCount:        protectIterations,
		KeyType:          cipherman.KeyTypePassword,
		KeyHashName:      cipherman.HashName(protectHash),
		KeyHashIterCount: protectHashIters,
	}
	if cfg.CipherName.Padding() > 0 {
		args, err := cipherman.NewBlockArgs(cfg.CipherName, protectMode)
		if err != nil {
			return err
		}
		cfg.CipherArgs = args
	} else {
		cfg.KeyType = cipherman.KeyTypeRSAKeystore
	}

	opts := libraryOptions()
	cf, err := cipherman.NewCipherFile(cfg, opts...)
	if err != nil {
		return err
	}
	defer cf.Lock()

	key, passphrase, err := keyInput(cfg.KeyType, protectKeystore, true)
	if err != nil {
		return err
	}
	defer cipherman.Zeroize(key)
	if _, err := cf.SetKey(key); err != nil {
		return err
	}
	if err := cf.Unlock(key, passphrase); err != nil {
		return err
	}

	pf, err := cipherman.NewProtectFile(cf)
	if err != nil {
		return err
	}
	defer pf.Lock()

	progress := cipherman.NewProgress(0, "protect")
	err = runWithProgress(progress, func() error {
		return pf.PackTo(src, dst, progress, chunkSize)
	})
	if err != nil {
		if cipherman.IsCanceled(err) {
			cmd.PrintErrln(color.YellowString("!") + " cancelled, " + dst + " was not written")
			return nil
		}
		return err
	}

	cmd.Println(color.GreenString("✓") + " Protected " + color.YellowString(src) + " into " + color.YellowString(dst))
	cmd.Println(color.CyanString("→") + " " + cipherman.FormatFileSize(pf.TotalSize) + " with " + protectCipher)
	return nil
}
