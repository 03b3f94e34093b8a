// info.go: The info command.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"time"

	"github.com/agilira/cipherman"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <container>",
	Short: "Show container metadata without decrypting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pf, err := cipherman.OpenProtectFile(args[0], libraryOptions()...)
		if err != nil {
			return err
		}
		info := pf.Info()

		field := func(name, value string) {
			cmd.Println(color.CyanString("→") + " " + fmt.Sprintf("%-12s", name) + value)
		}
		cmd.Println(color.GreenString("✓") + " " + color.YellowString(info.Path))
		field("cipher", string(info.CipherName))
		field("key type", string(info.KeyType))
		field("passes", fmt.Sprint(info.IterCount))
		field("size", cipherman.FormatFileSize(info.TotalSize))
		field("crc32", fmt.Sprintf("%08x", info.CRC32))
		if !info.PackedAt.IsZero() {
			field("packed at", info.PackedAt.Local().Format(time.RFC3339))
		}
		if info.HasKeyHash {
			field("key check", "yes ("+pf.Fingerprint()+")")
		} else {
			field("key check", color.YellowString("none"))
		}
		return nil
	},
}
