// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
)

// EncodeSingle wraps payload into a Single frame announcing a one-frame
// transaction. Payloads longer than SinglePayloadSize are rejected.
func EncodeSingle(payload []byte) (Datagram, error) {
	if len(payload) > SinglePayloadSize {
		return Datagram{}, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), SinglePayloadSize)
	}

	f := &Single{
		Hdr: Header{
			Type:           TypeSingle,
			HasMessageType: true,
			IsCount:        true,
		},
	}
	copy(f.Payload[:], payload)
	return f.Bytes(), nil
}

// EncodeFlowControl builds the acknowledgment frame for a reassembly bitmap
func EncodeFlowControl(bitmap [AckBitmapSize]byte) Datagram {
	f := &FlowControl{
		Hdr: Header{
			Type:           TypeControl,
			HasMessageType: true,
		},
		UnackdFrameLimit: defaultUnackdLimit,
		Bitmask:          bitmap,
	}
	return f.Bytes()
}

// TrimPadding drops trailing zero bytes located past limit.
//
// The peripheral zero-fills envelope bodies that end early, so a request
// whose tail past the single-frame limit is all zeros is sent without it.
// Non-zero bytes are never removed.
func TrimPadding(data []byte, limit int) []byte {
	end := len(data)
	for end > limit && data[end-1] == 0 {
		end--
	}
	return data[:end]
}
