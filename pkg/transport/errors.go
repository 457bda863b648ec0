// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/aquaclean/pkg/errcodes"
)

var (
	// ErrNotConnected is returned by Write and Subscribe before Connect
	ErrNotConnected = errors.New("transport not connected")
	// ErrClosed is returned once the underlying link has gone away
	ErrClosed = errors.New("transport closed")
)

// DeviceNotFoundError means the peripheral is not advertising
type DeviceNotFoundError struct {
	Address string
	Kind    Kind
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("AquaClean device with address %s not found (%s)", e.Address, e.Kind)
}

// ErrorCode implements errcodes.Coded
func (e *DeviceNotFoundError) ErrorCode() errcodes.Code {
	if e.Kind == KindProxy {
		return errcodes.BLENotFoundProxy
	}
	return errcodes.BLENotFoundLocal
}

// ConnectTimeoutError means the peripheral did not accept the connection in time
type ConnectTimeoutError struct {
	Address string
	Err     error
}

func (e *ConnectTimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection to %s timed out: %v", e.Address, e.Err)
	}
	return fmt.Sprintf("connection to %s timed out", e.Address)
}

func (e *ConnectTimeoutError) Unwrap() error {
	return e.Err
}

// ErrorCode implements errcodes.Coded
func (e *ConnectTimeoutError) ErrorCode() errcodes.Code {
	return errcodes.BLEConnectTimeout
}

// ProxyError is a failure talking to the Bluetooth proxy itself
type ProxyError struct {
	Op   string
	Code errcodes.Code
	Err  error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s: %v", e.Op, e.Err)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// ErrorCode implements errcodes.Coded
func (e *ProxyError) ErrorCode() errcodes.Code {
	if e.Code.ID == "" {
		return errcodes.ProxyUnreachable
	}
	return e.Code
}

// GATTError is a failure in a GATT operation on an open connection
type GATTError struct {
	Op   string
	Code errcodes.Code
	Err  error
}

func (e *GATTError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GATTError) Unwrap() error {
	return e.Err
}

// ErrorCode implements errcodes.Coded
func (e *GATTError) ErrorCode() errcodes.Code {
	return e.Code
}

// IsConnectError reports whether err is a failure to establish the
// connection, as opposed to a failure of an established one.
func IsConnectError(err error) bool {
	var notFound *DeviceNotFoundError
	var timeout *ConnectTimeoutError
	var proxy *ProxyError
	return errors.As(err, &notFound) || errors.As(err, &timeout) || errors.As(err, &proxy)
}
