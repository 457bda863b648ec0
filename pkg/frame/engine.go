// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Handshake thresholds
const (
	HandshakePollInterval = 100 * time.Millisecond
	handshakeInfoFrames   = 10
	handshakeIdlePolls    = 20
)

// queueDepth bounds the datagrams waiting for the worker
const queueDepth = 256

// ErrEngineStopped is returned by Feed once the worker has exited
var ErrEngineStopped = errors.New("frame engine stopped")

// Writer sends one datagram to the peripheral
type Writer interface {
	Write(ctx context.Context, datagram []byte) error
}

// Engine turns the inbound datagram stream into completed transactions and
// sends requests as single frames.
//
// Feed may be called from any goroutine. Datagrams are processed one at a
// time, in arrival order, by the goroutine running Run.
type Engine struct {
	// HandshakePoll is the polling period of AwaitHandshake
	HandshakePoll time.Duration

	w   Writer
	log logrus.FieldLogger

	collector *Collector
	outbound  OutboundTracker
	infoCount atomic.Int32

	queue   chan []byte
	done    chan struct{}
	running atomic.Bool

	mu         sync.Mutex
	txHandlers []func(data []byte)
	stats      *Statistics

	// context of the running worker, used for ack writes
	runCtx context.Context
}

// NewEngine creates an engine writing through w
func NewEngine(w Writer, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}

	e := &Engine{
		HandshakePoll: HandshakePollInterval,
		w:             w,
		log:           log.WithField("component", "frame"),
		collector:     NewCollector(),
		queue:         make(chan []byte, queueDepth),
		done:          make(chan struct{}),
		stats:         NewStatistics(),
		runCtx:        context.Background(),
	}

	e.collector.OnAck(e.sendAck)
	e.collector.OnComplete(e.transactionComplete)

	return e
}

// OnTransaction subscribes to completed transactions. Handlers run on the
// worker goroutine in subscription order.
func (e *Engine) OnTransaction(fn func(data []byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txHandlers = append(e.txHandlers, fn)
}

// Run processes queued datagrams until ctx is done
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("frame engine already running")
	}
	defer close(e.done)

	e.runCtx = ctx

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-e.queue:
			if err := e.Process(data); err != nil {
				e.log.WithError(err).Debug("dropping datagram")
			}
		}
	}
}

// Feed queues a datagram received from the transport
func (e *Engine) Feed(data []byte) error {
	d := make([]byte, len(data))
	copy(d, data)

	select {
	case e.queue <- d:
		return nil
	case <-e.done:
		return ErrEngineStopped
	}
}

// Process handles one datagram. It must only be called from a single
// goroutine; Run does this for queued datagrams.
func (e *Engine) Process(data []byte) error {
	f, err := Decode(data)

	e.mu.Lock()
	e.stats.countFrame(f, err)
	e.mu.Unlock()

	if err != nil {
		return err
	}

	e.log.WithField("raw", hex.EncodeToString(data)).Trace(Format(f))

	if err := e.dispatch(f); err != nil {
		e.mu.Lock()
		e.stats.ReassemblyErrors++
		e.mu.Unlock()
		return err
	}
	return nil
}

func (e *Engine) dispatch(f Frame) error {
	switch v := f.(type) {
	case *Single:
		if v.Hdr.IsCount {
			if err := e.collector.StartTransaction(int(v.Hdr.SubIndexOrCount) + 1); err != nil {
				return err
			}
			return e.collector.AddFrame(0, v.Payload[:])
		}
		return e.collector.AddFrame(int(v.Hdr.SubIndexOrCount), v.Payload[:])

	case *Sequenced:
		if v.Hdr.Type == TypeFirst {
			if err := e.collector.StartTransaction(int(v.Seq)); err != nil {
				return err
			}
			return e.collector.AddFrame(0, v.Payload[:])
		}
		return e.collector.AddFrame(int(v.Seq), v.Payload[:])

	case *FlowControl:
		e.handleControl(v)
		return nil

	case *Info:
		if v.InfoType == infoTypeHandshake {
			e.log.WithFields(logrus.Fields{
				"protocol": v.ProtoVersion,
				"rs":       fmt.Sprintf("%d%d", v.RsHi, v.RsLo),
				"ts":       v.Timestamp(),
			}).Debug("info frame received")
			e.infoCount.Add(1)
		}
		return nil

	default:
		return fmt.Errorf("unhandled frame %T", f)
	}
}

func (e *Engine) handleControl(fc *FlowControl) {
	if !e.outbound.ValidAck(fc.Bitmask) {
		e.mu.Lock()
		e.stats.InvalidOutboundAck++
		e.mu.Unlock()
		e.log.WithField("bitmap", hex.EncodeToString(fc.Bitmask[:])).Debug("ack for frames that were not sent")
	}

	if e.outbound.HandleControl(fc) {
		e.mu.Lock()
		e.stats.OutboundCompleted++
		e.mu.Unlock()
		e.log.Debug("outbound message acknowledged")
		return
	}

	if e.outbound.State == TxWaiting {
		e.log.WithFields(logrus.Fields{
			"acked":   e.outbound.highestAcked(),
			"frames":  e.outbound.FrameCount,
			"latency": e.outbound.LatencyMs,
		}).Debug("waiting for outbound acks")
	}
}

func (e *Engine) sendAck(bitmap [AckBitmapSize]byte) {
	d := EncodeFlowControl(bitmap)

	e.log.WithField("bitmap", hex.EncodeToString(bitmap[:])).Debug("sending flow control")

	err := e.w.Write(e.runCtx, d[:])

	e.mu.Lock()
	if err != nil {
		e.stats.WriteErrors++
	} else {
		e.stats.AcksSent++
	}
	e.mu.Unlock()

	if err != nil {
		e.log.WithError(err).Warn("failed to send flow control frame")
	}
}

func (e *Engine) transactionComplete(data []byte) {
	e.mu.Lock()
	e.stats.Transactions++
	e.stats.TransactionBytes += uint64(len(data))
	handlers := make([]func([]byte), len(e.txHandlers))
	copy(handlers, e.txHandlers)
	e.mu.Unlock()

	e.log.WithField("bytes", len(data)).Debug("transaction complete")

	for _, fn := range handlers {
		fn(data)
	}
}

// SendRequest writes an encoded request envelope as one Single frame
func (e *Engine) SendRequest(ctx context.Context, envelope []byte) error {
	d, err := EncodeSingle(TrimPadding(envelope, SinglePayloadSize))
	if err != nil {
		return err
	}

	e.log.WithField("raw", hex.EncodeToString(d[:])).Trace("sending request frame")

	err = e.w.Write(ctx, d[:])

	e.mu.Lock()
	if err != nil {
		e.stats.WriteErrors++
	} else {
		e.stats.RequestsSent++
	}
	e.mu.Unlock()

	return err
}

// AwaitHandshake waits for the info-frame burst that follows a connect. It
// returns after 10 info frames, or once no new info frame has arrived for
// more than 20 polls.
func (e *Engine) AwaitHandshake(ctx context.Context) error {
	ticker := time.NewTicker(e.HandshakePoll)
	defer ticker.Stop()

	last := int32(-1)
	unchanged := 0

	for {
		n := e.infoCount.Load()
		if n >= handshakeInfoFrames {
			break
		}
		if n == last {
			unchanged++
		}
		if unchanged > handshakeIdlePolls {
			break
		}
		last = n

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	e.log.WithField("info_frames", e.infoCount.Load()).Debug("handshake complete")
	e.infoCount.Store(0)
	return nil
}

// InfoFrames returns the info frames counted since the last handshake
func (e *Engine) InfoFrames() int {
	return int(e.infoCount.Load())
}

// Stats returns a snapshot of the engine counters
func (e *Engine) Stats() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.stats
}
