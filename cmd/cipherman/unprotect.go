// unprotect.go: The unprotect command.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"path/filepath"

	"github.com/agilira/cipherman"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	unprotectKeystore string

	unprotectCmd = &cobra.Command{
		Use:   "unprotect <container> [file]",
		Short: "Decrypt a container and verify its checksum",
		Long: `Decrypt a container. Without a target, the file is restored next to the
container under its original name.

Examples:
  cipherman unprotect report.pdf.cm
  cipherman unprotect --keystore key.pem report.pdf.cm restored.pdf`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := ""
			if len(args) == 2 {
				dst = args[1]
			}
			return runUnprotect(cmd, args[0], dst)
		},
	}
)

func init() {
	unprotectCmd.Flags().StringVarP(&unprotectKeystore, "keystore", "k", "", "RSA keystore (PEM or DER)")
}

func runUnprotect(cmd *cobra.Command, src, dst string) error {
	pf, err := cipherman.OpenProtectFile(src, libraryOptions()...)
	if err != nil {
		return err
	}
	defer pf.Lock()

	key, passphrase, err := keyInput(pf.KeyType, unprotectKeystore, false)
	if err != nil {
		return err
	}
	defer cipherman.Zeroize(key)
	if !pf.ValidateKey(key) {
		return errors.New("wrong password or keystore")
	}
	if err := pf.Unlock(key, passphrase); err != nil {
		return err
	}

	if dst == "" {
		name, err := pf.DecryptFilename()
		if err != nil {
			return err
		}
		if name == "" {
			return errors.New("container stores no file name, pass a target file")
		}
		dst = filepath.Join(filepath.Dir(src), filepath.Base(name))
	}

	progress := cipherman.NewProgress(0, "unprotect")
	err = runWithProgress(progress, func() error {
		return pf.UnpackTo(dst, progress, chunkSize)
	})
	if err != nil {
		if cipherman.IsCanceled(err) {
			cmd.PrintErrln(color.YellowString("!") + " cancelled, " + dst + " was not written")
			return nil
		}
		return err
	}

	cmd.Println(color.GreenString("✓") + " Restored " + color.YellowString(dst))
	cmd.Println(color.CyanString("→") + " " + cipherman.FormatFileSize(pf.TotalSize) + ", CRC32 verified")
	return nil
}
