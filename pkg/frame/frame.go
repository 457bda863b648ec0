// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrDatagramSize is returned when a datagram is not exactly DatagramSize bytes
	ErrDatagramSize = errors.New("datagram must be 20 bytes")

	// ErrPayloadTooLarge is returned when an outbound payload does not fit a single frame
	ErrPayloadTooLarge = errors.New("payload does not fit a single frame")
)

// UnknownTypeError reports a header byte with an unassigned frame type
type UnknownTypeError struct {
	Header byte
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown frame type %d in header 0x%02X", (e.Header>>headerTypeShift)&headerTypeMask, e.Header)
}

// Datagram is one BLE write or notification
type Datagram [DatagramSize]byte

// Header holds the fields common to every frame
type Header struct {
	Type            Type
	HasMessageType  bool
	SubIndexOrCount uint8
	IsCount         bool
}

// ParseHeader splits a header byte into its fields
func ParseHeader(b byte) Header {
	return Header{
		Type:            Type((b >> headerTypeShift) & headerTypeMask),
		HasMessageType:  b&headerMessageTypeBit != 0,
		SubIndexOrCount: (b >> headerSubIndexShift) & headerSubIndexMask,
		IsCount:         b&headerCountBit != 0,
	}
}

// Byte packs the header fields back into a header byte
func (h Header) Byte() byte {
	b := byte(h.Type&headerTypeMask) << headerTypeShift
	if h.HasMessageType {
		b |= headerMessageTypeBit
	}
	b |= (h.SubIndexOrCount & headerSubIndexMask) << headerSubIndexShift
	if h.IsCount {
		b |= headerCountBit
	}
	return b
}

// Frame is a typed view of one datagram
type Frame interface {
	Header() Header
	Bytes() Datagram
}

// Single carries a whole message, or one of up to four sub-frames
type Single struct {
	Hdr     Header
	Payload [SinglePayloadSize]byte
}

func (f *Single) Header() Header { return f.Hdr }

func (f *Single) Bytes() Datagram {
	var d Datagram
	d[0] = f.Hdr.Byte()
	copy(d[1:], f.Payload[:])
	return d
}

// Sequenced is a First or Consecutive frame. For First, Seq holds the
// frame count of the transaction; for Consecutive it is the frame index.
type Sequenced struct {
	Hdr     Header
	Seq     uint8
	Payload [SequencedPayloadSize]byte
}

func (f *Sequenced) Header() Header { return f.Hdr }

func (f *Sequenced) Bytes() Datagram {
	var d Datagram
	d[0] = f.Hdr.Byte()
	d[1] = f.Seq
	copy(d[2:], f.Payload[:])
	return d
}

// FlowControl acknowledges received frames of a transaction
type FlowControl struct {
	Hdr              Header
	ErrorCode        uint8
	UnackdFrameLimit uint8
	LatencyMs        uint8
	Bitmask          [AckBitmapSize]byte
}

func (f *FlowControl) Header() Header { return f.Hdr }

func (f *FlowControl) Bytes() Datagram {
	var d Datagram
	d[0] = f.Hdr.Byte()
	d[1] = f.ErrorCode
	d[2] = f.UnackdFrameLimit
	d[3] = f.LatencyMs
	copy(d[4:], f.Bitmask[:])
	return d
}

// Info carries handshake metadata sent by the peripheral after connect
type Info struct {
	Hdr            Header
	InfoType       uint8
	ProtoVersion   uint8
	MaxPacketLen   uint8
	MaxPacketCount uint8
	CapaFlags0     uint8
	CapaFlags1     uint8
	ModeFlags0     uint8
	ModeFlags1     uint8
	CtrlFlags0     uint8
	CtrlFlags1     uint8
	Cmd            uint8
	RsHi           uint8
	RsLo           uint8
	TsHi           uint8
	TsLo           uint8
}

func (f *Info) Header() Header { return f.Hdr }

func (f *Info) Bytes() Datagram {
	var d Datagram
	d[0] = f.Hdr.Byte()
	copy(d[1:], []byte{
		f.InfoType, f.ProtoVersion, f.MaxPacketLen, f.MaxPacketCount,
		f.CapaFlags0, f.CapaFlags1, f.ModeFlags0, f.ModeFlags1,
		f.CtrlFlags0, f.CtrlFlags1, f.Cmd, f.RsHi, f.RsLo, f.TsHi, f.TsLo,
	})
	return d
}

// Timestamp returns the peripheral tick counter carried in the frame
func (f *Info) Timestamp() uint16 {
	return uint16(f.TsHi)<<8 | uint16(f.TsLo)
}

// Decode interprets a datagram
func Decode(data []byte) (Frame, error) {
	if len(data) != DatagramSize {
		return nil, fmt.Errorf("%w: got %d", ErrDatagramSize, len(data))
	}

	hdr := ParseHeader(data[0])

	switch hdr.Type {
	case TypeSingle:
		f := &Single{Hdr: hdr}
		copy(f.Payload[:], data[1:])
		return f, nil

	case TypeFirst, TypeConsecutive:
		f := &Sequenced{Hdr: hdr, Seq: data[1]}
		copy(f.Payload[:], data[2:])
		return f, nil

	case TypeControl:
		f := &FlowControl{
			Hdr:              hdr,
			ErrorCode:        data[1],
			UnackdFrameLimit: data[2],
			LatencyMs:        data[3],
		}
		copy(f.Bitmask[:], data[4:4+AckBitmapSize])
		return f, nil

	case TypeInfo:
		return &Info{
			Hdr:            hdr,
			InfoType:       data[1],
			ProtoVersion:   data[2],
			MaxPacketLen:   data[3],
			MaxPacketCount: data[4],
			CapaFlags0:     data[5],
			CapaFlags1:     data[6],
			ModeFlags0:     data[7],
			ModeFlags1:     data[8],
			CtrlFlags0:     data[9],
			CtrlFlags1:     data[10],
			Cmd:            data[11],
			RsHi:           data[12],
			RsLo:           data[13],
			TsHi:           data[14],
			TsLo:           data[15],
		}, nil

	default:
		return nil, &UnknownTypeError{Header: data[0]}
	}
}
