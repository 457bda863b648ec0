// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package client issues remote procedure calls to an AquaClean peripheral.
//
// BaseClient owns one connection: a transport, the frame engine fed by it,
// and a gate that keeps at most one call in flight. Since no two calls are
// ever outstanding, the next completed transaction after a request is its
// response. Client adds the typed API and state tracking on top.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/aquaclean/pkg/api"
	"github.com/Thermoquad/aquaclean/pkg/errcodes"
	"github.com/Thermoquad/aquaclean/pkg/frame"
	"github.com/Thermoquad/aquaclean/pkg/message"
	"github.com/Thermoquad/aquaclean/pkg/transport"
)

// DefaultCallTimeout bounds the wait for a response
const DefaultCallTimeout = 5 * time.Second

// PeripheralTimeout means the peripheral stopped answering requests
type PeripheralTimeout struct {
	DeviceName    string
	DeviceAddress string
}

func (e *PeripheralTimeout) Error() string {
	return fmt.Sprintf("No response from BLE peripheral '%s' (%s). Usually a restart of the BLE peripheral is required.",
		e.DeviceName, e.DeviceAddress)
}

// ErrorCode implements errcodes.Coded
func (e *PeripheralTimeout) ErrorCode() errcodes.Code {
	return errcodes.BLEConnectTimeout
}

// LinkError is a call that failed because the link to the peripheral did:
// the request could not be written, or the connection dropped while the
// response was outstanding.
type LinkError struct {
	Call string
	Op   string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Call, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// BaseClient correlates requests with responses on one connection
type BaseClient struct {
	// CallTimeout bounds each Call
	CallTimeout time.Duration
	// HandshakePoll overrides the engine's handshake polling period
	HandshakePoll time.Duration

	t   transport.Transport
	log logrus.FieldLogger

	gate    sync.Mutex
	results chan []byte

	mu           sync.Mutex
	engine       *frame.Engine
	stopEngine   context.CancelFunc
	down         chan struct{}
	address      string
	onDisconnect []func(error)

	connected atomic.Bool
}

// NewBaseClient creates a client speaking through t
func NewBaseClient(t transport.Transport, log logrus.FieldLogger) *BaseClient {
	if log == nil {
		log = logrus.StandardLogger()
	}

	b := &BaseClient{
		CallTimeout:   DefaultCallTimeout,
		HandshakePoll: frame.HandshakePollInterval,
		t:             t,
		log:           log.WithField("component", "client"),
		results:       make(chan []byte, 1),
	}
	t.OnDisconnect(b.transportLost)
	return b
}

// Transport returns the transport the client speaks through
func (b *BaseClient) Transport() transport.Transport {
	return b.t
}

// Address is the peripheral address of the current connection
func (b *BaseClient) Address() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.address
}

// Connected reports whether Connect succeeded and the link is still up
func (b *BaseClient) Connected() bool {
	return b.connected.Load()
}

// OnDisconnect registers a callback for link loss
func (b *BaseClient) OnDisconnect(f func(err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDisconnect = append(b.onDisconnect, f)
}

// Connect opens the transport, starts the frame engine and waits for the
// peripheral's info-frame burst.
func (b *BaseClient) Connect(ctx context.Context, address string) error {
	engine := frame.NewEngine(b.t, b.log)
	engine.HandshakePoll = b.HandshakePoll
	engine.OnTransaction(b.transactionComplete)

	if err := b.t.Connect(ctx, address); err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(context.Background())
	go func() {
		if err := engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			b.log.WithError(err).Warn("frame engine stopped")
		}
	}()

	b.mu.Lock()
	b.engine = engine
	b.stopEngine = stop
	b.address = address
	b.down = make(chan struct{})
	b.mu.Unlock()

	err := b.t.Subscribe(func(datagram []byte) {
		if err := engine.Feed(datagram); err != nil {
			b.log.WithError(err).Debug("datagram dropped")
		}
	})
	if err != nil {
		b.shutdown()
		return err
	}

	if err := engine.AwaitHandshake(ctx); err != nil {
		b.shutdown()
		return err
	}

	b.connected.Store(true)
	b.log.WithFields(logrus.Fields{"address": address, "name": b.t.Name()}).Info("Peripheral ready")
	return nil
}

// Disconnect stops the engine and closes the transport
func (b *BaseClient) Disconnect() error {
	b.connected.Store(false)
	b.shutdown()
	return b.t.Disconnect()
}

func (b *BaseClient) shutdown() {
	b.mu.Lock()
	stop := b.stopEngine
	b.stopEngine = nil
	if b.down != nil {
		close(b.down)
		b.down = nil
	}
	b.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (b *BaseClient) transportLost(err error) {
	if !b.connected.Swap(false) {
		return
	}
	b.shutdown()

	b.mu.Lock()
	handlers := append([]func(error){}, b.onDisconnect...)
	b.mu.Unlock()

	b.log.WithError(err).Warn("Connection lost")
	for _, h := range handlers {
		h(err)
	}
}

// transactionComplete runs on the engine worker
func (b *BaseClient) transactionComplete(data []byte) {
	select {
	case b.results <- data:
	default:
		b.log.WithField("bytes", len(data)).Debug("unsolicited transaction dropped")
	}
}

// Stats returns the frame engine counters of the current connection
func (b *BaseClient) Stats() frame.Statistics {
	b.mu.Lock()
	engine := b.engine
	b.mu.Unlock()

	if engine == nil {
		return *frame.NewStatistics()
	}
	return engine.Stats()
}

// Call sends one request and returns the result bytes of its response.
// Concurrent callers are served one at a time.
func (b *BaseClient) Call(ctx context.Context, attr api.Attribute, payload []byte) ([]byte, error) {
	b.gate.Lock()
	defer b.gate.Unlock()

	if !b.connected.Load() {
		return nil, &LinkError{Call: attr.Name(), Op: "call", Err: transport.ErrNotConnected}
	}
	if len(payload) > 0xFF {
		return nil, fmt.Errorf("%s: payload too large: %d bytes", attr.Name(), len(payload))
	}

	body := make([]byte, 0, 4+len(payload))
	body = append(body, attr.Node, attr.Context, attr.Procedure, byte(len(payload)))
	body = append(body, payload...)

	request, err := message.BuildRequest(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", attr.Name(), err)
	}

	b.mu.Lock()
	engine := b.engine
	down := b.down
	b.mu.Unlock()

	// Anything completed before this request is not its response
	select {
	case <-b.results:
	default:
	}

	log := b.log.WithField("call", attr.Name())
	log.Debug("Sending request")

	if err := engine.SendRequest(ctx, request); err != nil {
		if errors.Is(err, frame.ErrPayloadTooLarge) || ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", attr.Name(), err)
		}
		return nil, &LinkError{Call: attr.Name(), Op: "write", Err: err}
	}

	timer := time.NewTimer(b.CallTimeout)
	defer timer.Stop()

	select {
	case data := <-b.results:
		mc, err := message.Parse(data, log)
		if err != nil {
			return nil, err
		}
		if mc.Context != attr.Context || mc.Procedure != attr.Procedure {
			log.WithField("response", mc.String()).Debug("Response opcode differs from request")
		}
		return mc.Result, nil

	case <-timer.C:
		err := &PeripheralTimeout{DeviceName: b.t.Name(), DeviceAddress: b.Address()}
		log.Error(err.Error())
		return nil, err

	case <-down:
		return nil, &LinkError{Call: attr.Name(), Op: "read", Err: transport.ErrNotConnected}

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallAPI is Call for a prepared api.Call
func (b *BaseClient) CallAPI(ctx context.Context, c api.Call) ([]byte, error) {
	return b.Call(ctx, c.Attr, c.Payload)
}
