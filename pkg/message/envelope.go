// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package message

import (
	"fmt"
)

// Envelope is the CRC-protected message container carried inside a
// reassembled transaction.
//
// Wire layout: id, segment, length (2 bytes BE), crc (2 bytes BE), body.
type Envelope struct {
	ID      uint8
	Segment uint8
	Length  uint16
	CRC     uint16
	Body    []byte
}

// NewEnvelope builds an envelope around body and computes its checksum
func NewEnvelope(id, segment uint8, body []byte) (*Envelope, error) {
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("envelope body too large: %d bytes (max %d)", len(body), MaxBodySize)
	}
	b := make([]byte, len(body))
	copy(b, body)
	return &Envelope{
		ID:      id,
		Segment: segment,
		Length:  uint16(len(b)),
		CRC:     CRC16(b),
		Body:    b,
	}, nil
}

// ParseEnvelope reads an envelope from data. The declared length is clamped
// to MaxBodySize and to the bytes actually present.
func ParseEnvelope(data []byte) (*Envelope, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("envelope too short: %d bytes (need %d)", len(data), HeaderSize)
	}

	e := &Envelope{
		ID:      data[0],
		Segment: data[1],
		Length:  uint16(data[2])<<8 | uint16(data[3]),
		CRC:     uint16(data[4])<<8 | uint16(data[5]),
	}

	n := int(e.Length)
	if n > MaxBodySize {
		n = MaxBodySize
	}
	if avail := len(data) - HeaderSize; n > avail {
		n = avail
	}
	e.Length = uint16(n)
	e.Body = make([]byte, n)
	copy(e.Body, data[HeaderSize:HeaderSize+n])

	return e, nil
}

// IsValid reports whether the stored checksum matches the body
func (e *Envelope) IsValid() bool {
	return CRC16(e.Body[:e.Length]) == e.CRC
}

// Header returns the 6 header bytes
func (e *Envelope) Header() []byte {
	return []byte{
		e.ID,
		e.Segment,
		byte(e.Length >> 8),
		byte(e.Length),
		byte(e.CRC >> 8),
		byte(e.CRC),
	}
}

// Bytes returns the full fixed-size serialization: header plus a zero
// padded body area of MaxBodySize bytes.
func (e *Envelope) Bytes() []byte {
	out := make([]byte, HeaderSize+MaxBodySize)
	copy(out, e.Header())
	copy(out[HeaderSize:], e.Body)
	return out
}

// Compact returns header followed by the used part of the body only
func (e *Envelope) Compact() []byte {
	out := make([]byte, 0, HeaderSize+int(e.Length))
	out = append(out, e.Header()...)
	return append(out, e.Body[:e.Length]...)
}

func (e *Envelope) String() string {
	return fmt.Sprintf("%s seg=0x%02X len=%d crc=0x%04X valid=%t",
		FormatID(e.ID), e.Segment, e.Length, e.CRC, e.IsValid())
}
