// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ParseCBORMessage parses a bridge CBOR message: [msg_type, payload_map].
// The payload map is nil for empty payloads.
func ParseCBORMessage(data []byte) (msgType uint8, payload map[int]any, err error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty CBOR payload")
	}

	var msg []any
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	v, ok := msg[0].(uint64)
	if !ok {
		return 0, nil, fmt.Errorf("expected uint for message type, got %T", msg[0])
	}
	if v > 255 {
		return 0, nil, fmt.Errorf("message type out of range: %d", v)
	}
	msgType = uint8(v)

	if msg[1] == nil {
		return msgType, nil, nil
	}

	m, ok := msg[1].(map[any]any)
	if !ok {
		return 0, nil, fmt.Errorf("expected map or nil for payload, got %T", msg[1])
	}
	payload = make(map[int]any, len(m))
	for key, val := range m {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return msgType, payload, nil
}

func encodeCBORMessage(msgType uint8, payload map[int]any) ([]byte, error) {
	var msg any
	if len(payload) == 0 {
		msg = []any{uint64(msgType), nil}
	} else {
		msg = []any{uint64(msgType), payload}
	}
	return cbor.Marshal(msg)
}

// Map value extraction helpers

// GetMapUint extracts a uint64 from a CBOR map by key
func GetMapUint(m map[int]any, key int) (uint64, bool) {
	switch val := m[key].(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
	}
	return 0, false
}

// GetMapInt extracts an int64 from a CBOR map by key
func GetMapInt(m map[int]any, key int) (int64, bool) {
	switch val := m[key].(type) {
	case int64:
		return val, true
	case uint64:
		return int64(val), true
	}
	return 0, false
}

// GetMapBool extracts a bool from a CBOR map by key
func GetMapBool(m map[int]any, key int) (bool, bool) {
	val, ok := m[key].(bool)
	return val, ok
}

// GetMapBytes extracts a []byte from a CBOR map by key
func GetMapBytes(m map[int]any, key int) ([]byte, bool) {
	val, ok := m[key].([]byte)
	return val, ok
}

// GetMapString extracts a string from a CBOR map by key
func GetMapString(m map[int]any, key int) (string, bool) {
	val, ok := m[key].(string)
	return val, ok
}

// GetMapStrings extracts a string array from a CBOR map by key
func GetMapStrings(m map[int]any, key int) ([]string, bool) {
	raw, ok := m[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
