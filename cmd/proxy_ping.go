// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/aquaclean/pkg/errcodes"
	"github.com/Thermoquad/aquaclean/pkg/transport"
)

var (
	proxyPingTimeout time.Duration
	proxyPingCount   int
)

var proxyPingCmd = &cobra.Command{
	Use:   "proxy-ping",
	Short: "Test the Bluetooth proxy link by sending PING",
	Long: `Send PING messages to the Bluetooth proxy and wait for PONG.

The proxy answers PING itself without touching the radio, so this checks
the serial or WebSocket link, HTTP Basic authentication and framing in
isolation from the peripheral.

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runProxyPing,
}

func init() {
	rootCmd.AddCommand(proxyPingCmd)
	proxyPingCmd.Flags().DurationVar(&proxyPingTimeout, "timeout", 5*time.Second, "Timeout for each ping")
	proxyPingCmd.Flags().IntVar(&proxyPingCount, "count", 3, "Number of pings to send")
}

func runProxyPing(cmd *cobra.Command, args []string) error {
	dial, info, err := proxyDialer()
	if err != nil {
		return err
	}
	if dial == nil {
		return &usageError{code: errcodes.InvalidConnectionMode, details: "proxy-ping needs --proxy-url or --proxy-port"}
	}

	proxy := transport.NewProxy(dial, log)
	defer proxy.Disconnect()

	fmt.Printf("AquaClean - Proxy Ping Test\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Timeout: %s per ping\n", proxyPingTimeout)
	fmt.Printf("Count: %d pings\n\n", proxyPingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= proxyPingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, proxyPingCount)

		ctx, cancel := context.WithTimeout(context.Background(), proxyPingTimeout)
		start := time.Now()
		pong, err := proxy.Ping(ctx)
		cancel()

		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
			if errcodes.Classify(err) == errcodes.ProxyUnreachable {
				fmt.Fprintln(os.Stderr, renderRecord(errcodes.FromError(err)))
				os.Exit(2)
			}
		} else {
			fmt.Printf("PONG from proxy %s, uptime=%s, rtt=%v\n",
				pong.Firmware, pong.Uptime.Round(time.Second), time.Since(start).Round(time.Millisecond))
			successCount++
		}

		if i < proxyPingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		proxyPingCount, successCount, float64(failCount)/float64(proxyPingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
