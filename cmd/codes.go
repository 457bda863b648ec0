// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/aquaclean/pkg/errcodes"
)

var errorCodesCmd = &cobra.Command{
	Use:   "error-codes [code]",
	Short: "List operator error codes and their hints",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runErrorCodes,
}

func init() {
	rootCmd.AddCommand(errorCodesCmd)
}

func runErrorCodes(cmd *cobra.Command, args []string) error {
	codes := errcodes.All()
	if len(args) == 1 {
		c, ok := errcodes.Lookup(strings.ToUpper(args[0]))
		if !ok {
			return fmt.Errorf("unknown error code %q", args[0])
		}
		codes = []errcodes.Code{c}
	}

	if jsonOutput {
		return printJSON(codes)
	}

	category := ""
	for _, c := range codes {
		if c.Category != category {
			category = c.Category
			fmt.Println()
			fmt.Println(titleStyle.Render(category))
		}
		fmt.Printf("%s %s %s\n", labelStyle.Render(c.ID), headerStyle.Render(fmt.Sprintf("%-8s", c.Severity)), c.Message)
		if c.Hint != "" {
			fmt.Printf("      %s\n", c.Hint)
		}
	}
	return nil
}
