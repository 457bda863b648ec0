// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"time"
)

// ============================================================
// Host to proxy
// ============================================================

// NewConnect asks the proxy to connect to a BLE address
func NewConnect(address string, timeout time.Duration) *Packet {
	return NewPacket(MsgConnect, map[int]any{
		KeyAddress: address,
		KeyTimeout: uint64(timeout.Milliseconds()),
	})
}

// NewSubscribe asks the proxy to enable notifications on characteristics
func NewSubscribe(uuids []string) *Packet {
	list := make([]any, len(uuids))
	for i, u := range uuids {
		list[i] = u
	}
	return NewPacket(MsgSubscribe, map[int]any{KeyUUIDs: list})
}

// NewWrite asks the proxy to write data to a characteristic
func NewWrite(uuid string, data []byte) *Packet {
	return NewPacket(MsgWrite, map[int]any{KeyUUID: uuid, KeyData: data})
}

// NewDisconnect asks the proxy to drop the BLE connection
func NewDisconnect() *Packet {
	return NewPacket(MsgDisconnect, nil)
}

// NewScan asks the proxy whether address is advertising
func NewScan(address string, timeout time.Duration) *Packet {
	return NewPacket(MsgScan, map[int]any{
		KeyAddress: address,
		KeyTimeout: uint64(timeout.Milliseconds()),
	})
}

// NewPing checks the proxy is alive
func NewPing() *Packet {
	return NewPacket(MsgPing, nil)
}

// ============================================================
// Proxy to host
// ============================================================

// ConnectResult is the decoded CONNECT_RESULT payload
type ConnectResult struct {
	OK   bool
	Name string
	Code uint64
	Text string
}

// Notification is the decoded NOTIFY payload
type Notification struct {
	UUID string
	Data []byte
}

// ScanResult is the decoded SCAN_RESULT payload
type ScanResult struct {
	Found bool
	RSSI  int64
}

// Pong is the decoded PONG payload
type Pong struct {
	Uptime   time.Duration
	Firmware string
}

func expectType(p *Packet, want uint8) error {
	if p.msgType != want {
		return fmt.Errorf("expected %s, got %s", FormatMessageType(want), FormatMessageType(p.msgType))
	}
	return nil
}

// AsConnectResult decodes a CONNECT_RESULT packet
func (p *Packet) AsConnectResult() (ConnectResult, error) {
	if err := expectType(p, MsgConnectResult); err != nil {
		return ConnectResult{}, err
	}
	var r ConnectResult
	r.OK, _ = GetMapBool(p.payload, KeyOK)
	r.Name, _ = GetMapString(p.payload, KeyName)
	r.Code, _ = GetMapUint(p.payload, KeyCode)
	r.Text, _ = GetMapString(p.payload, KeyText)
	return r, nil
}

// AsSubscribeResult decodes a SUBSCRIBE_RESULT packet
func (p *Packet) AsSubscribeResult() (ok bool, text string, err error) {
	if err := expectType(p, MsgSubscribeResult); err != nil {
		return false, "", err
	}
	ok, _ = GetMapBool(p.payload, KeyOK)
	text, _ = GetMapString(p.payload, KeyText)
	return ok, text, nil
}

// AsNotification decodes a NOTIFY packet
func (p *Packet) AsNotification() (Notification, error) {
	if err := expectType(p, MsgNotify); err != nil {
		return Notification{}, err
	}
	uuid, _ := GetMapString(p.payload, KeyUUID)
	data, ok := GetMapBytes(p.payload, KeyData)
	if !ok {
		return Notification{}, fmt.Errorf("NOTIFY without data")
	}
	return Notification{UUID: uuid, Data: data}, nil
}

// AsScanResult decodes a SCAN_RESULT packet
func (p *Packet) AsScanResult() (ScanResult, error) {
	if err := expectType(p, MsgScanResult); err != nil {
		return ScanResult{}, err
	}
	var r ScanResult
	r.Found, _ = GetMapBool(p.payload, KeyFound)
	r.RSSI, _ = GetMapInt(p.payload, KeyRSSI)
	return r, nil
}

// AsPong decodes a PONG packet
func (p *Packet) AsPong() (Pong, error) {
	if err := expectType(p, MsgPong); err != nil {
		return Pong{}, err
	}
	var r Pong
	if ms, ok := GetMapUint(p.payload, KeyUptime); ok {
		r.Uptime = time.Duration(ms) * time.Millisecond
	}
	r.Firmware, _ = GetMapString(p.payload, KeyFirmware)
	return r, nil
}

// DisconnectReason returns the DISCONNECTED reason text
func (p *Packet) DisconnectReason() string {
	s, _ := GetMapString(p.payload, KeyText)
	return s
}
