// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"encoding/hex"
	"fmt"
)

// Format renders a frame as a single human-readable line
func Format(f Frame) string {
	h := f.Header()
	prefix := fmt.Sprintf("%-7s sub=%d count=%t msgtype=%t", h.Type, h.SubIndexOrCount, h.IsCount, h.HasMessageType)

	switch v := f.(type) {
	case *Single:
		return fmt.Sprintf("%s payload=%s", prefix, hex.EncodeToString(v.Payload[:]))
	case *Sequenced:
		label := "index"
		if h.Type == TypeFirst {
			label = "frames"
		}
		return fmt.Sprintf("%s %s=%d payload=%s", prefix, label, v.Seq, hex.EncodeToString(v.Payload[:]))
	case *FlowControl:
		return fmt.Sprintf("%s err=%d limit=%d latency=%dms bitmap=%s",
			prefix, v.ErrorCode, v.UnackdFrameLimit, v.LatencyMs, hex.EncodeToString(v.Bitmask[:]))
	case *Info:
		return fmt.Sprintf("%s type=%d proto=%d maxlen=%d maxcount=%d rs=%d%d ts=%d",
			prefix, v.InfoType, v.ProtoVersion, v.MaxPacketLen, v.MaxPacketCount, v.RsHi, v.RsLo, v.Timestamp())
	default:
		return prefix
	}
}
