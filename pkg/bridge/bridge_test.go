// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_KnownValues(t *testing.T) {
	assert.Equal(t, uint16(crcInitial), CalculateCRC(nil))
	// Standard CRC-16-CCITT (FALSE) check value
	assert.Equal(t, uint16(0x29B1), CalculateCRC([]byte("123456789")))
}

// ============================================================
// Encoder / Decoder Tests
// ============================================================

func decodeAll(t *testing.T, wire []byte) []*Packet {
	t.Helper()
	packets, errs := NewDecoder().Decode(wire)
	require.Empty(t, errs)
	return packets
}

func TestEncode_Framing(t *testing.T) {
	wire, err := Encode(MsgPing, nil)
	require.NoError(t, err)

	assert.Equal(t, byte(StartByte), wire[0])
	assert.Equal(t, byte(EndByte), wire[len(wire)-1])
	// [0x06, null] is 3 CBOR bytes: 0x82 0x06 0xF6
	assert.Equal(t, []byte{0x00, 0x03, 0x82, 0x06, 0xF6}, wire[1:6])
}

func TestDecoder_Messages(t *testing.T) {
	tests := []struct {
		name   string
		packet *Packet
	}{
		{"connect", NewConnect("AA:BB:CC:DD:EE:FF", 10*time.Second)},
		{"subscribe", NewSubscribe([]string{"3334429d-90f3-4c41-a02d-5cb3a53e0000"})},
		{"write", NewWrite("3334429d-90f3-4c41-a02d-5cb3a13e0000", bytes.Repeat([]byte{0x7E}, 20))},
		{"disconnect", NewDisconnect()},
		{"scan", NewScan("AA:BB:CC:DD:EE:FF", 2*time.Second)},
		{"ping", NewPing()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := EncodePacket(tt.packet)
			require.NoError(t, err)

			packets := decodeAll(t, wire)
			require.Len(t, packets, 1)
			assert.Equal(t, tt.packet.Type(), packets[0].Type())
			assert.Equal(t, len(tt.packet.PayloadMap()), len(packets[0].PayloadMap()))
		})
	}
}

func TestDecoder_ByteStuffing(t *testing.T) {
	data := []byte{StartByte, EndByte, EscByte, 0x00, 0x20}
	wire, err := Encode(MsgNotify, map[int]any{KeyUUID: "x", KeyData: data})
	require.NoError(t, err)

	// Only the outer framing bytes appear unescaped
	assert.Equal(t, 1, bytes.Count(wire, []byte{StartByte}))
	assert.Equal(t, 1, bytes.Count(wire, []byte{EndByte}))

	packets := decodeAll(t, wire)
	require.Len(t, packets, 1)
	n, err := packets[0].AsNotification()
	require.NoError(t, err)
	assert.Equal(t, data, n.Data)
	assert.Equal(t, "x", n.UUID)
}

func TestDecoder_SplitAcrossChunks(t *testing.T) {
	wire, err := Encode(MsgScanResult, map[int]any{KeyFound: true, KeyRSSI: -71})
	require.NoError(t, err)

	d := NewDecoder()
	var got []*Packet
	for _, b := range wire {
		p, err := d.DecodeByte(b)
		require.NoError(t, err)
		if p != nil {
			got = append(got, p)
		}
	}
	require.Len(t, got, 1)

	r, err := got[0].AsScanResult()
	require.NoError(t, err)
	assert.True(t, r.Found)
	assert.Equal(t, int64(-71), r.RSSI)
}

func TestDecoder_TwoPacketsOneChunk(t *testing.T) {
	a, _ := Encode(MsgPong, map[int]any{KeyUptime: uint64(1500), KeyFirmware: "1.2.0"})
	b, _ := Encode(MsgDisconnected, map[int]any{KeyText: "link lost"})

	packets := decodeAll(t, append(a, b...))
	require.Len(t, packets, 2)

	pong, err := packets[0].AsPong()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, pong.Uptime)
	assert.Equal(t, "1.2.0", pong.Firmware)
	assert.Equal(t, "link lost", packets[1].DisconnectReason())
}

func TestDecoder_CRCMismatch(t *testing.T) {
	wire, _ := Encode(MsgPing, nil)
	wire[len(wire)-2] ^= 0x01

	packets, errs := NewDecoder().Decode(wire)
	assert.Empty(t, packets)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "CRC mismatch")
}

func TestDecoder_ResyncAfterGarbage(t *testing.T) {
	wire, _ := Encode(MsgPing, nil)
	stream := append([]byte{0x01, 0x02, StartByte, 0x00}, wire...)

	packets, errs := NewDecoder().Decode(stream)
	assert.Empty(t, errs)
	require.Len(t, packets, 1)
	assert.Equal(t, uint8(MsgPing), packets[0].Type())
}

func TestDecoder_InvalidLength(t *testing.T) {
	_, errs := NewDecoder().Decode([]byte{StartByte, 0x00, 0x00})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "invalid length")
}

func TestDecoder_UnexpectedEnd(t *testing.T) {
	_, errs := NewDecoder().Decode([]byte{StartByte, 0x00, 0x05, 0x82, EndByte})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "unexpected END")
}

func TestEncode_TooLarge(t *testing.T) {
	_, err := Encode(MsgWrite, map[int]any{KeyData: make([]byte, MaxPayloadSize)})
	assert.Error(t, err)
}

// ============================================================
// Typed Payload Tests
// ============================================================

func TestAsConnectResult(t *testing.T) {
	wire, _ := Encode(MsgConnectResult, map[int]any{KeyOK: false, KeyCode: uint64(ConnectNotFound), KeyText: "not advertising"})
	p := decodeAll(t, wire)[0]

	r, err := p.AsConnectResult()
	require.NoError(t, err)
	assert.False(t, r.OK)
	assert.Equal(t, uint64(ConnectNotFound), r.Code)
	assert.Equal(t, "not advertising", r.Text)

	_, err = p.AsPong()
	assert.Error(t, err)
}

func TestAsSubscribeResult(t *testing.T) {
	wire, _ := Encode(MsgSubscribeResult, map[int]any{KeyOK: true})
	ok, text, err := decodeAll(t, wire)[0].AsSubscribeResult()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, text)
}

func TestGetMapStrings(t *testing.T) {
	wire, _ := EncodePacket(NewSubscribe([]string{"a", "b"}))
	uuids, ok := GetMapStrings(decodeAll(t, wire)[0].PayloadMap(), KeyUUIDs)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, uuids)
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatMessageType(t *testing.T) {
	assert.Equal(t, "CONNECT_RESULT", FormatMessageType(MsgConnectResult))
	assert.Equal(t, "UNKNOWN_0x42", FormatMessageType(0x42))
}

func TestFormatPacket(t *testing.T) {
	p := NewWrite("u", []byte{0x11, 0x04})
	s := FormatPacket(p)
	assert.Contains(t, s, "WRITE (0x03)")
	assert.Contains(t, s, "{0=u 1=1104}")
}
