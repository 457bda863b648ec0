// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"encoding/binary"
	"fmt"
)

// Encode creates a complete wire-formatted packet including framing and
// byte stuffing.
func Encode(msgType uint8, payload map[int]any) ([]byte, error) {
	body, err := encodeCBORMessage(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR payload: %w", err)
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("CBOR payload too large: %d bytes (max %d)", len(body), MaxPayloadSize)
	}

	// length + CBOR is what gets CRC'd and stuffed
	data := make([]byte, lengthSize, lengthSize+len(body)+crcSize)
	binary.BigEndian.PutUint16(data, uint16(len(body)))
	data = append(data, body...)

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc))

	stuffed := stuffBytes(data)
	packet := make([]byte, 0, len(stuffed)+2)
	packet = append(packet, StartByte)
	packet = append(packet, stuffed...)
	packet = append(packet, EndByte)
	return packet, nil
}

// EncodePacket encodes an existing Packet back to wire format
func EncodePacket(p *Packet) ([]byte, error) {
	return Encode(p.msgType, p.payload)
}

// stuffBytes replaces START, END and ESC with ESC + (byte XOR EscXor)
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}
