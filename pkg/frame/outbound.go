// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

// Outbound transmission states
const (
	TxIdle    = 0
	TxWaiting = 2
)

// backlogAcked marks a frame the peripheral has acknowledged
const backlogAcked = 0xFF

// OutboundTracker follows acknowledgments for a multi-frame send.
//
// Requests always fit a single frame, so in practice the tracker only sees
// the peripheral's own flow-control frames and stays idle.
type OutboundTracker struct {
	State            int
	FrameCount       int
	LatencyMs        int
	UnackdFrameLimit int
	HasMessageType   bool
	DataLen          int

	ackedBitmask [outboundBacklogLength]byte
	backlog      [outboundBacklogLength]byte
}

// Begin arms the tracker for a send of n frames
func (t *OutboundTracker) Begin(n, dataLen int) {
	*t = OutboundTracker{FrameCount: n, DataLen: dataLen, HasMessageType: true}
	for i := 0; i < n && i < outboundBacklogLength; i++ {
		t.backlog[i] = 1
	}
}

// HandleControl applies a flow-control frame. It returns true once every
// frame of the current send has been acknowledged.
func (t *OutboundTracker) HandleControl(fc *FlowControl) bool {
	if fc.ErrorCode != 0 || t.State != TxIdle {
		return false
	}

	copy(t.ackedBitmask[:], fc.Bitmask[:])
	t.markAcked()

	if t.highestAcked() == t.FrameCount {
		t.FrameCount = 0
		t.State = TxIdle
		return true
	}

	t.LatencyMs = max(int(fc.LatencyMs), 10)
	t.UnackdFrameLimit = int(fc.UnackdFrameLimit)
	t.State = TxWaiting
	return false
}

// ValidAck reports whether bitmask only acknowledges frames that were sent
func (t *OutboundTracker) ValidAck(bitmask [AckBitmapSize]byte) bool {
	for i := 0; i < t.FrameCount && i < MaxTransactionFrames; i++ {
		if bitmask[i/8]&(1<<(i%8)) != 0 && t.backlog[i] == 0 {
			return false
		}
	}
	return true
}

func (t *OutboundTracker) markAcked() {
	for i := 0; i < t.FrameCount && i < outboundBacklogLength; i++ {
		if t.ackedBitmask[i/8]&(1<<(i%8)) != 0 {
			t.backlog[i] = backlogAcked
		}
	}
}

func (t *OutboundTracker) highestAcked() int {
	n := 0
	for n < t.FrameCount && t.backlog[n] == backlogAcked {
		n++
	}
	return n
}
