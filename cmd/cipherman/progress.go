// progress.go: Spinner rendering of a progress tree.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/agilira/cipherman"
	"github.com/briandowns/spinner"
)

const pollInterval = 100 * time.Millisecond

// runWithProgress runs fn in the background and renders progress until it
// returns. An interrupt cancels the progress tree; fn is expected to notice
// and return ErrInterrupted.
func runWithProgress(progress *cipherman.Progress, fn func() error) error {
	s := spinner.New(spinner.CharSets[14], pollInterval, spinner.WithWriter(os.Stderr))
	s.Suffix = " starting..."
	s.Start()
	defer s.Stop()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	done := make(chan error, 1)
	go func() { done <- fn() }()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-interrupts:
			progress.Cancel()
		case <-ticker.C:
			suffix := " " + describe(progress.Snapshot())
			s.Lock()
			s.Suffix = suffix
			s.Unlock()
		}
	}
}

// describe renders one status line for the deepest active node.
func describe(snap cipherman.ProgressSnapshot) string {
	line := snap.Title
	if snap.Total > 0 {
		line += fmt.Sprintf(" %s / %s %s", snap.CurrentStr, snap.TotalStr, snap.Unit)
	} else if snap.Current > 0 {
		line += fmt.Sprintf(" %s %s", snap.CurrentStr, snap.Unit)
	}
	if snap.LastMsg != "" {
		line += " (" + snap.LastMsg + ")"
	}
	if snap.Canceled {
		line += " cancelling..."
	}
	return line
}
