// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Peripheral flags
	address string
	adapter string

	// Proxy connection flags
	proxyURL      string
	proxyPort     string
	baudRate      int
	proxyUsername string
	noSSLVerify   bool

	// Session flags
	pollInterval time.Duration

	// Output flags
	logLevel   string
	logFormat  string
	jsonOutput bool
)

var log = logrus.StandardLogger()

var rootCmd = &cobra.Command{
	Use:   "aquaclean",
	Short: "Geberit AquaClean BLE client",
	Long: `AquaClean - A CLI tool for monitoring and controlling Geberit AquaClean
shower toilets over Bluetooth Low Energy.

The peripheral is reached either through the local BlueZ adapter or through
a Bluetooth proxy attached over USB serial or WebSocket.

Connection modes:
  Local:     --address 38:AB:41:2A:0D:67 [--adapter hci0]
  Serial:    --address ... --proxy-port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --address ... --proxy-url ws://host/path [--username user]

The address and proxy URL may also be set with AQUACLEAN_ADDRESS and
AQUACLEAN_PROXY_URL. For WebSocket authentication, the password is read from
the AQUACLEAN_PROXY_PASSWORD environment variable, or prompted interactively
if not set. The --password flag is intentionally not provided to avoid
leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&address, "address", "a", os.Getenv("AQUACLEAN_ADDRESS"), "Peripheral Bluetooth address")
	rootCmd.PersistentFlags().StringVar(&adapter, "adapter", "hci0", "Local Bluetooth adapter")

	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy-url", "u", os.Getenv("AQUACLEAN_PROXY_URL"), "Proxy WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVarP(&proxyPort, "proxy-port", "p", "", "Proxy serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial proxy only)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&noSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().DurationVar(&pollInterval, "poll-interval", 2500*time.Millisecond, "State polling interval (0 pauses polling)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

func setup(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch logFormat {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format: %s (use text or json)", logFormat)
	}

	if pollInterval < 0 {
		return invalidPollInterval(pollInterval)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
