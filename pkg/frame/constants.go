// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package frame implements the AquaClean transport layer: 20-byte BLE
// datagrams, reassembly of multi-frame transactions with flow-control
// acknowledgments, and the engine that drives both from a notification
// stream.
package frame

// Datagram geometry
const (
	DatagramSize          = 20
	SinglePayloadSize     = 19
	SequencedPayloadSize  = 18
	AckBitmapSize         = 8
	MaxTransactionFrames  = AckBitmapSize * 8
	defaultUnackdLimit    = 8
	outboundBacklogLength = 255
)

// Header byte layout (MSB to LSB): type:3, has-message-type:1, reserved:1,
// sub-index-or-count:2, count-flag:1
const (
	headerTypeShift      = 5
	headerTypeMask       = 0x07
	headerMessageTypeBit = 0x10
	headerSubIndexShift  = 1
	headerSubIndexMask   = 0x03
	headerCountBit       = 0x01
)

// Type identifies the frame variant carried by a datagram
type Type uint8

// Frame types
const (
	TypeSingle      Type = 0
	TypeFirst       Type = 1
	TypeConsecutive Type = 2
	TypeControl     Type = 3
	TypeInfo        Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeSingle:
		return "SINGLE"
	case TypeFirst:
		return "FIRST"
	case TypeConsecutive:
		return "CONS"
	case TypeControl:
		return "CONTROL"
	case TypeInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// infoTypeHandshake marks the info frames counted during the post-connect burst
const infoTypeHandshake = 1
