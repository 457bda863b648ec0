// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/aquaclean/pkg/client"
	"github.com/Thermoquad/aquaclean/pkg/errcodes"
	"github.com/Thermoquad/aquaclean/pkg/recovery"
	"github.com/Thermoquad/aquaclean/pkg/transport"
)

// connectTimeout bounds connect plus the identification calls of one-shot commands
const connectTimeout = 60 * time.Second

// usageError carries an operator-facing error code
type usageError struct {
	code    errcodes.Code
	details string
}

func (e *usageError) Error() string {
	return fmt.Sprintf("%s: %s", e.code.Message, e.details)
}

func (e *usageError) ErrorCode() errcodes.Code {
	return e.code
}

func invalidPollInterval(d time.Duration) error {
	return &usageError{code: errcodes.ConfigPollInterval, details: d.String()}
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("AQUACLEAN_PROXY_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// requireAddress validates the --address flag
func requireAddress() (string, error) {
	if address == "" {
		return "", &usageError{code: errcodes.ConfigAddress, details: "--address or AQUACLEAN_ADDRESS must be set"}
	}
	if _, err := net.ParseMAC(address); err != nil {
		return "", &usageError{code: errcodes.ConfigAddress, details: err.Error()}
	}
	return strings.ToUpper(address), nil
}

// proxyDialer returns the proxy link dialer selected by flags, or nil for
// local mode.
func proxyDialer() (transport.LinkDialer, string, error) {
	if proxyURL != "" && proxyPort != "" {
		return nil, "", &usageError{code: errcodes.InvalidConnectionMode, details: "--proxy-url and --proxy-port are mutually exclusive"}
	}

	if proxyURL != "" {
		opts := transport.WebSocketOptions{Username: proxyUsername, SkipSSLVerify: noSSLVerify}
		if proxyUsername != "" {
			password, err := GetPassword()
			if err != nil {
				return nil, "", err
			}
			opts.Password = password
		}
		return transport.WebSocketDialer(proxyURL, opts), fmt.Sprintf("WebSocket proxy: %s", proxyURL), nil
	}

	if proxyPort != "" {
		return transport.SerialDialer(proxyPort, baudRate), fmt.Sprintf("Serial proxy: %s @ %d baud", proxyPort, baudRate), nil
	}

	return nil, "", nil
}

// transportFactory resolves the connection flags once and returns a factory
// producing a fresh transport per session, plus the local scanner used when
// a proxy cannot be reached during recovery.
func transportFactory() (func() (transport.Transport, error), recovery.Scanner, string, error) {
	dial, info, err := proxyDialer()
	if err != nil {
		return nil, nil, "", err
	}

	if dial == nil {
		info = fmt.Sprintf("Local adapter: %s", adapter)
		return func() (transport.Transport, error) {
			return transport.NewBlueZ(adapter, log), nil
		}, nil, info, nil
	}

	return func() (transport.Transport, error) {
		return transport.NewProxy(dial, log), nil
	}, transport.NewBlueZ(adapter, log), info, nil
}

// withClient connects a client for one command and disconnects afterwards
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
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

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	log.WithField("connection", info).Debugf("Connecting to %s", addr)

	c := client.New(t, log)
	if err := c.Connect(ctx, addr); err != nil {
		_ = c.Disconnect()
		return err
	}
	defer c.Disconnect()

	return fn(ctx, c)
}
