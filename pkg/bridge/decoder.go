// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"time"
)

// Decoder implements the bridge packet decoder state machine
type Decoder struct {
	state      int
	buffer     []byte // unstuffed length + payload, CRC'd on completion
	length     int
	crc        uint16
	escapeNext bool
}

// NewDecoder creates a new protocol decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:  stateIdle,
		buffer: make([]byte, 0, MaxPacketSize),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.length = 0
	d.crc = 0
	d.escapeNext = false
}

// Decode feeds a chunk of link bytes through the decoder. Complete packets
// are returned in order; errors for corrupt packets are returned alongside
// and do not stop decoding of the rest of the chunk.
func (d *Decoder) Decode(data []byte) ([]*Packet, []error) {
	var packets []*Packet
	var errs []error
	for _, b := range data {
		p, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if p != nil {
			packets = append(packets, p)
		}
	}
	return packets, errs
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed packet, or nil if the packet is incomplete.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	// Framing bytes are never escaped on the wire
	switch b {
	case StartByte:
		d.Reset()
		d.state = stateLengthHi
		return nil, nil
	case EndByte:
		return d.finish()
	case EscByte:
		d.escapeNext = true
		return nil, nil
	}

	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	switch d.state {
	case stateIdle:
		return nil, nil

	case stateLengthHi:
		d.buffer = append(d.buffer, b)
		d.length = int(b) << 8
		d.state = stateLengthLo

	case stateLengthLo:
		d.buffer = append(d.buffer, b)
		d.length |= int(b)
		if d.length == 0 || d.length > MaxPayloadSize {
			n := d.length
			d.Reset()
			return nil, fmt.Errorf("invalid length: %d (max %d)", n, MaxPayloadSize)
		}
		d.state = statePayload

	case statePayload:
		d.buffer = append(d.buffer, b)
		if len(d.buffer)-lengthSize >= d.length {
			d.state = stateCRC1
		}

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2

	case stateCRC2:
		d.crc |= uint16(b)
		d.state = stateEnd

	default:
		d.Reset()
		return nil, fmt.Errorf("unexpected byte 0x%02X after CRC", b)
	}
	return nil, nil
}

func (d *Decoder) finish() (*Packet, error) {
	defer d.Reset()

	switch d.state {
	case stateEnd:
	case stateIdle:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected END byte in state %d", d.state)
	}

	calculated := CalculateCRC(d.buffer)
	if calculated != d.crc {
		return nil, fmt.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", calculated, d.crc)
	}

	raw := append([]byte(nil), d.buffer[lengthSize:]...)
	msgType, payload, err := ParseCBORMessage(raw)
	if err != nil {
		return nil, err
	}
	return &Packet{
		msgType:   msgType,
		payload:   payload,
		raw:       raw,
		crc:       d.crc,
		timestamp: time.Now(),
	}, nil
}
