// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge implements the wire protocol spoken with a Bluetooth proxy.
//
// A proxy is a small BLE-capable board reachable over USB serial or a
// WebSocket. It holds the BLE connection to the peripheral on behalf of the
// host and relays GATT writes and notifications. Packets are byte-stuffed
// between START and END: [length u16 BE][CBOR][CRC u16 BE], where the CBOR
// body is the array [type, {int: value}].
package bridge

import "github.com/Thermoquad/aquaclean/pkg/crc16"

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Packet size limits
const (
	MaxPayloadSize = 512
	lengthSize     = 2
	crcSize        = 2
	MaxPacketSize  = lengthSize + MaxPayloadSize + crcSize
)

// crcInitial seeds the link CRC-16-CCITT
const crcInitial = crc16.SeedCCITTFalse

// Message types - host to proxy 0x01-0x0F
const (
	MsgConnect    = 0x01
	MsgSubscribe  = 0x02
	MsgWrite      = 0x03
	MsgDisconnect = 0x04
	MsgScan       = 0x05
	MsgPing       = 0x06
)

// Message types - proxy to host 0x81-0x8F
const (
	MsgConnectResult   = 0x81
	MsgSubscribeResult = 0x82
	MsgNotify          = 0x83
	MsgDisconnected    = 0x84
	MsgScanResult      = 0x85
	MsgPong            = 0x86
)

// Payload map keys
const (
	KeyAddress  = 0 // CONNECT, SCAN
	KeyTimeout  = 1 // CONNECT, SCAN (milliseconds)
	KeyOK       = 0 // CONNECT_RESULT, SUBSCRIBE_RESULT
	KeyName     = 1 // CONNECT_RESULT
	KeyCode     = 2 // CONNECT_RESULT
	KeyText     = 3 // CONNECT_RESULT, SUBSCRIBE_RESULT, DISCONNECTED
	KeyUUIDs    = 0 // SUBSCRIBE
	KeyUUID     = 0 // WRITE, NOTIFY
	KeyData     = 1 // WRITE, NOTIFY
	KeyFound    = 0 // SCAN_RESULT
	KeyRSSI     = 4 // SCAN_RESULT
	KeyUptime   = 5 // PONG (milliseconds)
	KeyFirmware = 6 // PONG
)

// Connect result codes reported by the proxy
const (
	ConnectOK       = 0
	ConnectNotFound = 1
	ConnectTimeout  = 2
	ConnectBLEError = 3
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLengthHi
	stateLengthLo
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)
