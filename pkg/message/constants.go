// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package message implements the AquaClean message layer: the CRC-protected
// envelope that travels inside a reassembled frame transaction, and the codec
// that turns request bodies into envelopes and completed transactions into
// call results.
package message

// Envelope geometry
const (
	HeaderSize  = 6
	MaxBodySize = 256
)

// Message IDs
const (
	IDPlainRequest  = 0x01
	IDPlainResponse = 0x02
	IDPlainNotify   = 0x03
	IDCrcRequest    = 0x04
	IDCrcResponse   = 0x05
	IDCrcNotify     = 0x06
)

// RequestSegment is sent with every outbound call
const RequestSegment = 0xFF

// FormatID returns the human-readable name for a message id
func FormatID(id uint8) string {
	switch id {
	case IDPlainRequest:
		return "PLAIN_REQ"
	case IDPlainResponse:
		return "PLAIN_RSP"
	case IDPlainNotify:
		return "PLAIN_NTF"
	case IDCrcRequest:
		return "CRC_REQ"
	case IDCrcResponse:
		return "CRC_RSP"
	case IDCrcNotify:
		return "CRC_NTF"
	default:
		return "UNKNOWN"
	}
}
