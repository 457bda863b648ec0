// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X)", timestamp, FormatMessageType(p.msgType), p.msgType)
	if len(p.payload) > 0 {
		result += " " + FormatPayloadMap(p.payload)
	}
	return result
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	case MsgConnect:
		return "CONNECT"
	case MsgSubscribe:
		return "SUBSCRIBE"
	case MsgWrite:
		return "WRITE"
	case MsgDisconnect:
		return "DISCONNECT"
	case MsgScan:
		return "SCAN"
	case MsgPing:
		return "PING"

	case MsgConnectResult:
		return "CONNECT_RESULT"
	case MsgSubscribeResult:
		return "SUBSCRIBE_RESULT"
	case MsgNotify:
		return "NOTIFY"
	case MsgDisconnected:
		return "DISCONNECTED"
	case MsgScanResult:
		return "SCAN_RESULT"
	case MsgPong:
		return "PONG"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", msgType)
	}
}

// FormatPayloadMap renders a payload map with keys in ascending order
func FormatPayloadMap(m map[int]any) string {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		switch v := m[k].(type) {
		case []byte:
			parts[i] = fmt.Sprintf("%d=%x", k, v)
		default:
			parts[i] = fmt.Sprintf("%d=%v", k, v)
		}
	}
	return "{" + strings.Join(parts, " ") + "}"
}
