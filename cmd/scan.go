// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var scanTimeout time.Duration

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Check whether the peripheral is advertising",
	Long: `Scan for the peripheral's advertisements without connecting.

This is the same presence check used while waiting for a restarted
peripheral to come back.

Exit codes:
  0 - Peripheral found
  1 - Peripheral not found within the timeout
  2 - Scan error`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 10*time.Second, "How long to scan")
}

func runScan(cmd *cobra.Command, args []string) error {
	addr, err := requireAddress()
	if err != nil {
		return err
	}

	factory, _, info, err := transportFactory()
	if err != nil {
		return err
	}
	t, err := factory()
	if err != nil {
		return err
	}
	defer t.Disconnect()

	fmt.Printf("Scanning for %s (%s, %s)...\n", addr, info, scanTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout+5*time.Second)
	defer cancel()

	found, err := t.ScanForPresence(ctx, addr, scanTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan error: %v\n", err)
		os.Exit(2)
	}
	if !found {
		fmt.Println(warningStyle.Render("NOT FOUND"))
		os.Exit(1)
	}

	fmt.Println(valueStyle.Render("FOUND"))
	return nil
}
