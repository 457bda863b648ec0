// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport carries 20-byte datagrams between the host and an
// AquaClean peripheral.
//
// Two implementations satisfy Transport: BlueZ drives the local Bluetooth
// adapter over D-Bus, and Proxy relays through a Bluetooth proxy reachable
// over a serial or WebSocket link. Protocol code never looks at which one
// it holds.
package transport

import (
	"context"
	"time"
)

// Kind tells local and proxied transports apart
type Kind int

// Transport kinds
const (
	KindLocal Kind = iota
	KindProxy
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindProxy:
		return "proxy"
	default:
		return "unknown"
	}
}

// Transport is a connection to one peripheral
type Transport interface {
	// Connect fails with *DeviceNotFoundError or *ConnectTimeoutError
	// when the peripheral cannot be reached.
	Connect(ctx context.Context, address string) error

	// Write sends one datagram to the first bulk write characteristic.
	Write(ctx context.Context, datagram []byte) error

	// Subscribe delivers notifications from all bulk read characteristics
	// to handler. The handler may be called from any goroutine.
	Subscribe(handler func(datagram []byte)) error

	Disconnect() error

	// OnDisconnect registers a callback for link loss not initiated
	// through Disconnect.
	OnDisconnect(func(err error))

	// ScanForPresence reports whether address is advertising within
	// timeout. It does not need an open connection.
	ScanForPresence(ctx context.Context, address string, timeout time.Duration) (bool, error)

	// Name is the peripheral's advertised name once connected.
	Name() string

	Kind() Kind
}
