// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/aquaclean/pkg/bridge"
	"github.com/Thermoquad/aquaclean/pkg/errcodes"
	"github.com/Thermoquad/aquaclean/pkg/transport"
)

var proxyLogDuration time.Duration

var proxyLogCmd = &cobra.Command{
	Use:   "proxy-log",
	Short: "Display raw proxy link traffic in human-readable format",
	Long: `Open the proxy link without connecting to a peripheral and print every
decoded message as it arrives.

Useful for checking link stability, and for watching notifications while
another host drives the proxy.

Exit codes:
  0 - Duration elapsed (or Ctrl+C)
  1 - Link closed or failed
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runProxyLog,
}

func init() {
	rootCmd.AddCommand(proxyLogCmd)
	proxyLogCmd.Flags().DurationVar(&proxyLogDuration, "duration", 0, "Stop after this long (0 runs until Ctrl+C)")
}

func runProxyLog(cmd *cobra.Command, args []string) error {
	dial, info, err := proxyDialer()
	if err != nil {
		return err
	}
	if dial == nil {
		return &usageError{code: errcodes.InvalidConnectionMode, details: "proxy-log needs --proxy-url or --proxy-port"}
	}

	ctx, cancel := signalContext(proxyLogDuration)
	defer cancel()

	link, err := dial(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer link.Close()

	fmt.Printf("AquaClean - Proxy Link Log\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	go func() {
		<-ctx.Done()
		link.Close()
	}()

	received := 0
	for {
		pkt, err := link.Receive()
		var corrupt *transport.CorruptPacketError
		if errors.As(err, &corrupt) {
			fmt.Println(errorStyle.Render(fmt.Sprintf("[ERROR] %v", corrupt.Err)))
			continue
		}
		if err != nil {
			fmt.Printf("\n%d messages received\n", received)
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, transport.ErrLinkClosed) {
				fmt.Println("Connection closed")
			} else {
				fmt.Printf("Read error: %v\n", err)
			}
			os.Exit(1)
		}

		received++
		fmt.Println(bridge.FormatPacket(pkt))
	}
}

// signalContext is cancelled on Ctrl+C, and after d when d is positive
func signalContext(d time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signalNotifyContext()
	if d <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return ctx, func() {
		cancel()
		stop()
	}
}
