// main.go: cipherman command line entry point.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/agilira/cipherman"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	verbose   bool
	chunkSize int
	workers   int

	rootCmd = &cobra.Command{
		Use:   "cipherman",
		Short: "Protect files with password or RSA keystore encryption",
		Long: `cipherman packs a file into a self-describing encrypted container and
unpacks it again, verifying the CRC32 of the recovered data.

Passwords are read from the CIPHERMAN_PASSWORD environment variable or
prompted for on the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log library activity to stderr")
	rootCmd.PersistentFlags().IntVar(&chunkSize, "chunk-size", cipherman.DefaultChunkSize, "bytes per encrypted chunk")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "workers for unpadded ciphers (0 = CPU count)")

	rootCmd.AddCommand(protectCmd)
	rootCmd.AddCommand(unprotectCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(keygenCmd)
}

// libraryOptions builds the options shared by every command.
func libraryOptions() []cipherman.Option {
	var w io.Writer = io.Discard
	level := slog.LevelInfo
	if verbose {
		w = os.Stderr
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return []cipherman.Option{
		cipherman.WithLogger(logger),
		cipherman.WithWorkers(workers),
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("✗")+" "+err.Error())
		os.Exit(1)
	}
}
