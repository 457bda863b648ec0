// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Four-frame GetSystemParameterList response as received from a peripheral
var capturedFrames = []string{
	"170500004210690001010d3d0700000000000100",
	"1200000002000000000300000000040000000005",
	"1400000000060000000000000000000000000000",
	"160000000000000000000000000000006f000000",
}

const capturedTransaction = "0500004210690001010d3d070000000000010000000002000000000300000000040000000005000000000600000000000000000000000000000000000000000000000000000000006f000000"

type recordingWriter struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (w *recordingWriter) Write(_ context.Context, d []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, append([]byte(nil), d...))
	return nil
}

func (w *recordingWriter) all() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]byte(nil), w.writes...)
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func infoDatagram(infoType byte) []byte {
	d := make([]byte, DatagramSize)
	d[0] = 0x90
	d[1] = infoType
	return d
}

// ============================================================
// Dispatch Tests
// ============================================================

func TestEngine_CapturedTransaction(t *testing.T) {
	w := &recordingWriter{}
	e := NewEngine(w, quietLogger())

	var got [][]byte
	e.OnTransaction(func(d []byte) { got = append(got, d) })

	for _, s := range capturedFrames {
		require.NoError(t, e.Process(mustHex(t, s)))
	}

	require.Len(t, got, 1)
	require.Len(t, got[0], len(capturedFrames)*SinglePayloadSize)
	assert.Equal(t, mustHex(t, capturedTransaction), got[0])

	writes := w.all()
	require.Len(t, writes, 1)
	assert.Equal(t, mustHex(t, "700008000f000000000000000000000000000000"), writes[0])

	stats := e.Stats()
	assert.Equal(t, uint64(4), stats.Datagrams)
	assert.Equal(t, uint64(4), stats.SingleFrames)
	assert.Equal(t, uint64(1), stats.Transactions)
	assert.Equal(t, uint64(1), stats.AcksSent)
}

func TestEngine_SubFramesBeforeCountFrame(t *testing.T) {
	w := &recordingWriter{}
	e := NewEngine(w, quietLogger())

	var got [][]byte
	e.OnTransaction(func(d []byte) { got = append(got, d) })

	order := []int{2, 1, 3, 0}
	for _, i := range order {
		require.NoError(t, e.Process(mustHex(t, capturedFrames[i])))
	}

	require.Len(t, got, 1)
	assert.Equal(t, mustHex(t, capturedTransaction), got[0])
}

func TestEngine_FirstAndConsecutive(t *testing.T) {
	w := &recordingWriter{}
	e := NewEngine(w, quietLogger())

	var got []byte
	e.OnTransaction(func(d []byte) { got = d })

	first := &Sequenced{Hdr: Header{Type: TypeFirst, HasMessageType: true}, Seq: 3}
	first.Payload[0] = 0xA0
	cons1 := &Sequenced{Hdr: Header{Type: TypeConsecutive, HasMessageType: true}, Seq: 1}
	cons1.Payload[0] = 0xA1
	cons2 := &Sequenced{Hdr: Header{Type: TypeConsecutive, HasMessageType: true}, Seq: 2}
	cons2.Payload[0] = 0xA2

	for _, f := range []Frame{first, cons2, cons1} {
		d := f.Bytes()
		require.NoError(t, e.Process(d[:]))
	}

	require.Len(t, got, 3*SequencedPayloadSize)
	assert.Equal(t, byte(0xA0), got[0])
	assert.Equal(t, byte(0xA1), got[SequencedPayloadSize])
	assert.Equal(t, byte(0xA2), got[2*SequencedPayloadSize])
}

func TestEngine_WrongLengthRejected(t *testing.T) {
	e := NewEngine(&recordingWriter{}, quietLogger())
	err := e.Process(make([]byte, 19))
	assert.ErrorIs(t, err, ErrDatagramSize)
	assert.Equal(t, uint64(1), e.Stats().DecodeErrors)
}

func TestEngine_ControlFrameDormant(t *testing.T) {
	w := &recordingWriter{}
	e := NewEngine(w, quietLogger())

	require.NoError(t, e.Process(mustHex(t, "70000c27010000000000000000b7090100000df3")))
	assert.Empty(t, w.all())
	assert.Equal(t, uint64(1), e.Stats().ControlFrames)
}

func TestEngine_AckWriteFailureLogged(t *testing.T) {
	log, hook := test.NewNullLogger()
	w := &recordingWriter{err: errors.New("gatt write failed")}
	e := NewEngine(w, log)

	var done bool
	e.OnTransaction(func([]byte) { done = true })

	d, err := EncodeSingle([]byte{0x05})
	require.NoError(t, err)
	require.NoError(t, e.Process(d[:]))

	assert.True(t, done)
	assert.Equal(t, uint64(1), e.Stats().WriteErrors)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

// ============================================================
// Worker Tests
// ============================================================

func TestEngine_FeedAndRun(t *testing.T) {
	w := &recordingWriter{}
	e := NewEngine(w, quietLogger())

	got := make(chan []byte, 1)
	e.OnTransaction(func(d []byte) { got <- d })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	// A single producer goroutine mirrors a transport callback
	go func() {
		for _, s := range capturedFrames {
			d := mustHex(t, s)
			if err := e.Feed(d); err != nil {
				return
			}
		}
	}()

	select {
	case d := <-got:
		assert.Equal(t, mustHex(t, capturedTransaction), d)
	case <-time.After(2 * time.Second):
		t.Fatal("transaction not completed")
	}
}

func TestEngine_FeedAfterStop(t *testing.T) {
	e := NewEngine(&recordingWriter{}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// Fill the queue so the next Feed has to observe the stop
	for len(e.queue) < queueDepth {
		e.queue <- make([]byte, DatagramSize)
	}
	assert.ErrorIs(t, e.Feed(make([]byte, DatagramSize)), ErrEngineStopped)
}

func TestEngine_RunTwice(t *testing.T) {
	e := NewEngine(&recordingWriter{}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go e.Run(ctx)
	require.Eventually(t, func() bool { return e.running.Load() }, time.Second, 5*time.Millisecond)
	assert.Error(t, e.Run(ctx))
}

// ============================================================
// Handshake Tests
// ============================================================

func TestEngine_AwaitHandshake_TenInfoFrames(t *testing.T) {
	e := NewEngine(&recordingWriter{}, quietLogger())
	e.HandshakePoll = 5 * time.Millisecond

	for i := 0; i < 10; i++ {
		require.NoError(t, e.Process(infoDatagram(1)))
	}

	start := time.Now()
	require.NoError(t, e.AwaitHandshake(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Zero(t, e.InfoFrames())
}

func TestEngine_AwaitHandshake_Silence(t *testing.T) {
	e := NewEngine(&recordingWriter{}, quietLogger())
	e.HandshakePoll = 5 * time.Millisecond

	require.NoError(t, e.Process(infoDatagram(1)))

	start := time.Now()
	require.NoError(t, e.AwaitHandshake(context.Background()))
	elapsed := time.Since(start)

	// 21 unchanged polls after the first observation
	assert.GreaterOrEqual(t, elapsed, 21*e.HandshakePoll)
	assert.Zero(t, e.InfoFrames())
}

func TestEngine_AwaitHandshake_OtherInfoTypesIgnored(t *testing.T) {
	e := NewEngine(&recordingWriter{}, quietLogger())
	require.NoError(t, e.Process(infoDatagram(2)))
	assert.Zero(t, e.InfoFrames())
	assert.Equal(t, uint64(1), e.Stats().InfoFrames)
}

func TestEngine_AwaitHandshake_Cancelled(t *testing.T) {
	e := NewEngine(&recordingWriter{}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.AwaitHandshake(ctx), context.Canceled)
}

// ============================================================
// Send Tests
// ============================================================

func TestEngine_SendRequest(t *testing.T) {
	w := &recordingWriter{}
	e := NewEngine(w, quietLogger())

	require.NoError(t, e.SendRequest(context.Background(), mustHex(t, "04ff00116ee101010d0d08000102030405060900000000")))
	writes := w.all()
	require.Len(t, writes, 1)
	assert.Equal(t, mustHex(t, "1104ff00116ee101010d0d080001020304050609"), writes[0])
	assert.Equal(t, uint64(1), e.Stats().RequestsSent)
}

func TestEngine_SendRequestTooLarge(t *testing.T) {
	w := &recordingWriter{}
	e := NewEngine(w, quietLogger())

	envelope := make([]byte, 24)
	envelope[23] = 0x01
	err := e.SendRequest(context.Background(), envelope)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Empty(t, w.all())
}
