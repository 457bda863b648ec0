// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// AquaClean - Geberit AquaClean BLE client
//
// A CLI tool for monitoring and controlling AquaClean shower toilets over
// Bluetooth Low Energy, locally or through a Bluetooth proxy.

package main

import (
	"os"

	"github.com/Thermoquad/aquaclean/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
}
