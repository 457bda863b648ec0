// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import "time"

// Packet is one decoded bridge message
type Packet struct {
	msgType   uint8
	payload   map[int]any
	raw       []byte // CBOR bytes as received
	crc       uint16
	timestamp time.Time
}

// NewPacket creates a packet from message type and payload map
func NewPacket(msgType uint8, payload map[int]any) *Packet {
	return &Packet{msgType: msgType, payload: payload, timestamp: time.Now()}
}

// Type returns the packet's message type
func (p *Packet) Type() uint8 {
	return p.msgType
}

// PayloadMap returns the decoded payload (nil for empty payloads)
func (p *Packet) PayloadMap() map[int]any {
	return p.payload
}

// Raw returns the CBOR bytes the packet was decoded from
func (p *Packet) Raw() []byte {
	return p.raw
}

// CRC returns the packet's CRC value
func (p *Packet) CRC() uint16 {
	return p.crc
}

// Timestamp returns the packet's decode timestamp
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// IsResponse reports whether the packet travels proxy to host
func (p *Packet) IsResponse() bool {
	return p.msgType&0x80 != 0
}
