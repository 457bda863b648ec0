// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"errors"
	"fmt"
)

// ackEvery is the number of collected frames between two acknowledgments
const ackEvery = 4

type pendingFrame struct {
	index   int
	payload []byte
}

// Collector reassembles the frames of one transaction.
//
// Only one transaction is open at a time. Frames that arrive before the
// frame announcing the transaction are held back and replayed, in arrival
// order, once it is started. Starting a new transaction discards a partial
// one.
//
// A Collector is not safe for concurrent use. Handlers run synchronously, in
// subscription order, before AddFrame or StartTransaction returns.
type Collector struct {
	expected   int
	collected  map[int][]byte
	bitmap     [AckBitmapSize]byte
	inProgress bool
	pending    []pendingFrame

	ackHandlers      []func(bitmap [AckBitmapSize]byte)
	completeHandlers []func(data []byte)
}

// NewCollector creates an idle collector
func NewCollector() *Collector {
	return &Collector{
		collected: make(map[int][]byte),
	}
}

// OnAck subscribes to acknowledgment bitmaps
func (c *Collector) OnAck(fn func(bitmap [AckBitmapSize]byte)) {
	c.ackHandlers = append(c.ackHandlers, fn)
}

// OnComplete subscribes to completed transactions
func (c *Collector) OnComplete(fn func(data []byte)) {
	c.completeHandlers = append(c.completeHandlers, fn)
}

// InProgress reports whether a transaction is open
func (c *Collector) InProgress() bool {
	return c.inProgress
}

// Expected returns the frame count of the open transaction
func (c *Collector) Expected() int {
	return c.expected
}

// Pending returns the number of frames waiting for a transaction to start
func (c *Collector) Pending() int {
	return len(c.pending)
}

// StartTransaction opens a transaction of n frames and replays any frames
// buffered before it.
func (c *Collector) StartTransaction(n int) error {
	if n < 1 || n > MaxTransactionFrames {
		return fmt.Errorf("invalid transaction frame count %d (1-%d)", n, MaxTransactionFrames)
	}

	c.collected = make(map[int][]byte, n)
	c.expected = n
	c.bitmap = [AckBitmapSize]byte{}
	c.inProgress = true

	var errs []error
	replay := c.pending
	c.pending = nil
	for _, p := range replay {
		if err := c.AddFrame(p.index, p.payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddFrame stores the payload of frame index
func (c *Collector) AddFrame(index int, payload []byte) error {
	if !c.inProgress {
		c.buffer(index, payload)
		return nil
	}

	if index < 0 || index >= c.expected {
		return fmt.Errorf("frame index %d outside transaction of %d frames", index, c.expected)
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	c.collected[index] = data
	c.bitmap[index/8] |= 1 << (index % 8)

	n := len(c.collected)
	if n%ackEvery == 0 || n == c.expected {
		bitmap := c.bitmap
		for _, fn := range c.ackHandlers {
			fn(bitmap)
		}
	}

	if n != c.expected {
		return nil
	}

	var out []byte
	for i := 0; i < c.expected; i++ {
		out = append(out, c.collected[i]...)
	}

	c.inProgress = false
	c.pending = nil

	for _, fn := range c.completeHandlers {
		fn(out)
	}
	return nil
}

// buffer keeps a frame for replay. A repeated index replaces the payload
// but keeps its original position.
func (c *Collector) buffer(index int, payload []byte) {
	data := make([]byte, len(payload))
	copy(data, payload)

	for i := range c.pending {
		if c.pending[i].index == index {
			c.pending[i].payload = data
			return
		}
	}
	c.pending = append(c.pending, pendingFrame{index: index, payload: data})
}
