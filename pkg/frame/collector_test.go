// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectorRecorder struct {
	acks      [][AckBitmapSize]byte
	completed [][]byte
}

func newRecordingCollector() (*Collector, *collectorRecorder) {
	c := NewCollector()
	r := &collectorRecorder{}
	c.OnAck(func(b [AckBitmapSize]byte) { r.acks = append(r.acks, b) })
	c.OnComplete(func(d []byte) { r.completed = append(r.completed, d) })
	return c, r
}

func framePayload(i int) []byte {
	return bytes.Repeat([]byte{byte(i + 1)}, SequencedPayloadSize)
}

func expectedConcat(n int) []byte {
	var out []byte
	for i := 0; i < n; i++ {
		out = append(out, framePayload(i)...)
	}
	return out
}

// ============================================================
// Reassembly Tests
// ============================================================

func TestCollector_AnyPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for n := 1; n <= MaxTransactionFrames; n++ {
		c, r := newRecordingCollector()
		require.NoError(t, c.StartTransaction(n))

		for _, i := range rng.Perm(n) {
			require.NoError(t, c.AddFrame(i, framePayload(i)))
		}

		require.Len(t, r.completed, 1, "n=%d", n)
		assert.Equal(t, expectedConcat(n), r.completed[0], "n=%d", n)
		assert.False(t, c.InProgress())
	}
}

func TestCollector_AckCadence(t *testing.T) {
	c, r := newRecordingCollector()
	require.NoError(t, c.StartTransaction(9))

	for i := 0; i < 9; i++ {
		require.NoError(t, c.AddFrame(i, framePayload(i)))
	}

	require.Len(t, r.acks, 3)
	assert.Equal(t, [8]byte{0x0F}, r.acks[0])
	assert.Equal(t, [8]byte{0xFF}, r.acks[1])
	assert.Equal(t, [8]byte{0xFF, 0x01}, r.acks[2])
	require.Len(t, r.completed, 1)
}

func TestCollector_AckBeforeComplete(t *testing.T) {
	c := NewCollector()
	var order []string
	c.OnAck(func([AckBitmapSize]byte) { order = append(order, "ack") })
	c.OnComplete(func([]byte) { order = append(order, "complete") })

	require.NoError(t, c.StartTransaction(1))
	require.NoError(t, c.AddFrame(0, []byte{1}))

	assert.Equal(t, []string{"ack", "complete"}, order)
}

func TestCollector_HandlersInSubscriptionOrder(t *testing.T) {
	c := NewCollector()
	var order []int
	for i := 0; i < 3; i++ {
		c.OnComplete(func([]byte) { order = append(order, i) })
	}

	require.NoError(t, c.StartTransaction(1))
	require.NoError(t, c.AddFrame(0, []byte{1}))
	assert.Equal(t, []int{0, 1, 2}, order)
}

// ============================================================
// Pending Buffer Tests
// ============================================================

func TestCollector_PendingReplayedInArrivalOrder(t *testing.T) {
	c, r := newRecordingCollector()

	for _, i := range []int{4, 2, 0, 1, 3} {
		require.NoError(t, c.AddFrame(i, framePayload(i)))
	}
	assert.Equal(t, 5, c.Pending())
	assert.Empty(t, r.acks)

	require.NoError(t, c.StartTransaction(6))

	// The ack after the fourth replayed frame shows which frames came first
	require.Len(t, r.acks, 1)
	assert.Equal(t, [8]byte{0x17}, r.acks[0])
	assert.Empty(t, r.completed)
	assert.Zero(t, c.Pending())

	require.NoError(t, c.AddFrame(5, framePayload(5)))
	require.Len(t, r.completed, 1)
	assert.Equal(t, expectedConcat(6), r.completed[0])
}

func TestCollector_PendingDuplicateKeepsPosition(t *testing.T) {
	c, r := newRecordingCollector()

	require.NoError(t, c.AddFrame(1, []byte{0xAA}))
	require.NoError(t, c.AddFrame(0, []byte{0xBB}))
	require.NoError(t, c.AddFrame(1, []byte{0xCC}))
	assert.Equal(t, 2, c.Pending())

	require.NoError(t, c.StartTransaction(2))
	require.Len(t, r.completed, 1)
	assert.Equal(t, []byte{0xBB, 0xCC}, r.completed[0])
}

func TestCollector_PendingCompletesOnStart(t *testing.T) {
	c, r := newRecordingCollector()

	require.NoError(t, c.AddFrame(1, framePayload(1)))
	require.NoError(t, c.StartTransaction(2))
	assert.Empty(t, r.completed)

	require.NoError(t, c.AddFrame(0, framePayload(0)))
	require.Len(t, r.completed, 1)
	assert.Equal(t, expectedConcat(2), r.completed[0])
}

// ============================================================
// Edge Cases
// ============================================================

func TestCollector_RestartDiscardsPartial(t *testing.T) {
	c, r := newRecordingCollector()

	require.NoError(t, c.StartTransaction(3))
	require.NoError(t, c.AddFrame(0, []byte{0x01}))
	require.NoError(t, c.AddFrame(1, []byte{0x02}))

	require.NoError(t, c.StartTransaction(2))
	require.NoError(t, c.AddFrame(0, []byte{0x10}))
	require.NoError(t, c.AddFrame(1, []byte{0x20}))

	require.Len(t, r.completed, 1)
	assert.Equal(t, []byte{0x10, 0x20}, r.completed[0])
}

func TestCollector_DuplicateFrameDoesNotComplete(t *testing.T) {
	c, r := newRecordingCollector()
	require.NoError(t, c.StartTransaction(2))
	require.NoError(t, c.AddFrame(0, []byte{1}))
	require.NoError(t, c.AddFrame(0, []byte{1}))
	assert.Empty(t, r.completed)
	assert.True(t, c.InProgress())
}

func TestCollector_IndexOutOfRange(t *testing.T) {
	c, _ := newRecordingCollector()
	require.NoError(t, c.StartTransaction(2))
	assert.Error(t, c.AddFrame(2, []byte{1}))
	assert.Error(t, c.AddFrame(-1, []byte{1}))
}

func TestCollector_InvalidCount(t *testing.T) {
	c := NewCollector()
	assert.Error(t, c.StartTransaction(0))
	assert.Error(t, c.StartTransaction(MaxTransactionFrames+1))
	assert.False(t, c.InProgress())
}

func TestCollector_PayloadCopied(t *testing.T) {
	c, r := newRecordingCollector()
	buf := []byte{1, 2, 3}

	require.NoError(t, c.StartTransaction(2))
	require.NoError(t, c.AddFrame(0, buf))
	buf[0] = 9
	require.NoError(t, c.AddFrame(1, []byte{4}))

	assert.Equal(t, []byte{1, 2, 3, 4}, r.completed[0])
}

// ============================================================
// Randomized Tests
// ============================================================

// TestCollector_Randomized interleaves pending frames, restarts and
// permutations. FUZZ_ROUNDS and FUZZ_SEED override the defaults.
func TestCollector_Randomized(t *testing.T) {
	rounds := 500
	if s := os.Getenv("FUZZ_ROUNDS"); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			rounds = v
		}
	}
	seed := time.Now().UnixNano()
	if s := os.Getenv("FUZZ_SEED"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			seed = v
		}
	}
	t.Logf("seed=%d rounds=%d", seed, rounds)
	rng := rand.New(rand.NewSource(seed))

	for round := 0; round < rounds; round++ {
		n := rng.Intn(MaxTransactionFrames) + 1
		c, r := newRecordingCollector()

		perm := rng.Perm(n)
		early := rng.Intn(n + 1)
		if early == n {
			early = n - 1
		}

		for _, i := range perm[:early] {
			require.NoError(t, c.AddFrame(i, framePayload(i)))
		}
		require.NoError(t, c.StartTransaction(n))
		for _, i := range perm[early:] {
			require.NoError(t, c.AddFrame(i, framePayload(i)))
		}

		require.Len(t, r.completed, 1, "round %d n=%d early=%d", round, n, early)
		assert.Equal(t, expectedConcat(n), r.completed[0])

		wantAcks := n/ackEvery + 1
		if n%ackEvery == 0 {
			wantAcks = n / ackEvery
		}
		assert.Len(t, r.acks, wantAcks, "round %d n=%d", round, n)
	}
}
