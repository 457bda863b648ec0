// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/aquaclean/pkg/bridge"
	"github.com/Thermoquad/aquaclean/pkg/errcodes"
)

// Proxy timings
const (
	DefaultConnectTimeout = 10 * time.Second
	proxyRequestTimeout   = 5 * time.Second
	proxyResponseSlack    = 5 * time.Second
)

// Proxy is a Transport relayed through a Bluetooth proxy
type Proxy struct {
	dial           LinkDialer
	log            logrus.FieldLogger
	ConnectTimeout time.Duration

	// dialMu serializes dials; mu is never held across one
	dialMu sync.Mutex

	mu           sync.Mutex
	link         Link
	linkDone     chan struct{}
	closes       uint64
	connected    bool
	name         string
	handler      func([]byte)
	onDisconnect []func(error)

	reqMu   sync.Mutex
	waitMu  sync.Mutex
	waiters map[uint8]chan *bridge.Packet
}

// NewProxy creates a proxy transport. dial is invoked whenever a link is
// needed and none is open.
func NewProxy(dial LinkDialer, log logrus.FieldLogger) *Proxy {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Proxy{
		dial:           dial,
		log:            log.WithField("component", "proxy"),
		ConnectTimeout: DefaultConnectTimeout,
		waiters:        make(map[uint8]chan *bridge.Packet),
	}
}

// Kind implements Transport
func (p *Proxy) Kind() Kind {
	return KindProxy
}

// Name implements Transport
func (p *Proxy) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// OnDisconnect implements Transport
func (p *Proxy) OnDisconnect(f func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDisconnect = append(p.onDisconnect, f)
}

// Connect implements Transport
func (p *Proxy) Connect(ctx context.Context, address string) error {
	if err := p.ensureLink(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.ConnectTimeout+proxyResponseSlack)
	defer cancel()

	resp, err := p.roundTrip(ctx, bridge.NewConnect(address, p.ConnectTimeout), bridge.MsgConnectResult)
	if err != nil {
		return err
	}
	r, err := resp.AsConnectResult()
	if err != nil {
		return &ProxyError{Op: "connect", Code: errcodes.ProxyBLEError, Err: err}
	}

	if !r.OK {
		switch r.Code {
		case bridge.ConnectNotFound:
			return &DeviceNotFoundError{Address: address, Kind: KindProxy}
		case bridge.ConnectTimeout:
			return &ConnectTimeoutError{Address: address, Err: errors.New(r.Text)}
		default:
			return &ProxyError{Op: "connect", Code: errcodes.ProxyBLEError, Err: fmt.Errorf("code %d: %s", r.Code, r.Text)}
		}
	}

	p.mu.Lock()
	p.connected = true
	p.name = r.Name
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"address": address, "name": r.Name}).Info("Connected through proxy")
	return nil
}

// Subscribe implements Transport
func (p *Proxy) Subscribe(handler func(datagram []byte)) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return ErrNotConnected
	}
	p.handler = handler
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), proxyRequestTimeout)
	defer cancel()

	resp, err := p.roundTrip(ctx, bridge.NewSubscribe(uuidStrings(BulkReadUUIDs)), bridge.MsgSubscribeResult)
	if err != nil {
		return err
	}
	ok, text, err := resp.AsSubscribeResult()
	if err != nil {
		return err
	}
	if !ok {
		return &GATTError{Op: "subscribe", Code: errcodes.ProxySubscribeFailed, Err: errors.New(text)}
	}
	return nil
}

// Write implements Transport. The proxy does not acknowledge writes.
func (p *Proxy) Write(ctx context.Context, datagram []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	if err := p.send(bridge.NewWrite(WriteUUID.String(), datagram)); err != nil {
		return &GATTError{Op: "write", Code: errcodes.ProxyWriteTimeout, Err: err}
	}
	return nil
}

// Disconnect implements Transport
func (p *Proxy) Disconnect() error {
	p.mu.Lock()
	link := p.link
	wasConnected := p.connected
	p.connected = false
	p.handler = nil
	p.closes++
	p.mu.Unlock()

	if link == nil {
		return nil
	}
	if wasConnected {
		if err := p.send(bridge.NewDisconnect()); err != nil {
			p.log.WithError(err).Debug("DISCONNECT not delivered")
		}
	}

	p.mu.Lock()
	if p.link == link {
		p.link = nil
	}
	p.mu.Unlock()
	return link.Close()
}

// ScanForPresence implements Transport
func (p *Proxy) ScanForPresence(ctx context.Context, address string, timeout time.Duration) (bool, error) {
	if err := p.ensureLink(ctx); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+proxyResponseSlack)
	defer cancel()

	resp, err := p.roundTrip(ctx, bridge.NewScan(address, timeout), bridge.MsgScanResult)
	if err != nil {
		return false, err
	}
	r, err := resp.AsScanResult()
	if err != nil {
		return false, err
	}
	p.log.WithFields(logrus.Fields{"address": address, "found": r.Found, "rssi": r.RSSI}).Debug("Scan result")
	return r.Found, nil
}

// Ping checks the proxy is alive and reports its uptime and firmware
func (p *Proxy) Ping(ctx context.Context) (bridge.Pong, error) {
	if err := p.ensureLink(ctx); err != nil {
		return bridge.Pong{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, proxyRequestTimeout)
	defer cancel()

	resp, err := p.roundTrip(ctx, bridge.NewPing(), bridge.MsgPong)
	if err != nil {
		return bridge.Pong{}, err
	}
	return resp.AsPong()
}

// ensureLink dials the proxy if no link is open. A dial that loses a
// race with Disconnect is closed instead of installed.
func (p *Proxy) ensureLink(ctx context.Context) error {
	p.dialMu.Lock()
	defer p.dialMu.Unlock()

	p.mu.Lock()
	open := p.link != nil
	closes := p.closes
	p.mu.Unlock()
	if open {
		return nil
	}

	link, err := p.dial(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &ProxyError{Op: "dial", Code: errcodes.ProxyTimeout, Err: err}
		}
		return &ProxyError{Op: "dial", Code: errcodes.ProxyUnreachable, Err: err}
	}

	p.mu.Lock()
	if p.closes != closes {
		p.mu.Unlock()
		_ = link.Close()
		return &ProxyError{Op: "dial", Code: errcodes.ProxyUnreachable, Err: ErrClosed}
	}
	p.link = link
	p.linkDone = make(chan struct{})
	done := p.linkDone
	p.mu.Unlock()

	go p.readLoop(link, done)
	return nil
}

func (p *Proxy) readLoop(link Link, done chan struct{}) {
	defer close(done)

	for {
		pkt, err := link.Receive()
		var corrupt *CorruptPacketError
		switch {
		case errors.As(err, &corrupt):
			p.log.WithError(corrupt.Err).Warn("Dropped corrupt proxy packet")
		case err != nil:
			p.linkLost(link, err)
			return
		default:
			p.dispatch(pkt)
		}
	}
}

func (p *Proxy) dispatch(pkt *bridge.Packet) {
	p.log.WithField("dir", "rx").Trace(bridge.FormatPacket(pkt))

	switch pkt.Type() {
	case bridge.MsgNotify:
		n, err := pkt.AsNotification()
		if err != nil {
			p.log.WithError(err).Warn("Malformed notification")
			return
		}
		if !isBulkRead(n.UUID) {
			return
		}
		p.mu.Lock()
		handler := p.handler
		p.mu.Unlock()
		if handler != nil {
			handler(n.Data)
		}

	case bridge.MsgDisconnected:
		p.bleLost(&GATTError{Op: "link", Code: errcodes.BLEDisconnected, Err: errors.New(pkt.DisconnectReason())})

	default:
		p.waitMu.Lock()
		ch, ok := p.waiters[pkt.Type()]
		p.waitMu.Unlock()
		if !ok {
			p.log.WithField("type", bridge.FormatMessageType(pkt.Type())).Debug("Unsolicited proxy packet")
			return
		}
		select {
		case ch <- pkt:
		default:
		}
	}
}

// linkLost handles the link dropping underneath us
func (p *Proxy) linkLost(link Link, err error) {
	p.mu.Lock()
	if p.link != link {
		// closed through Disconnect
		p.mu.Unlock()
		return
	}
	p.link = nil
	p.mu.Unlock()
	_ = link.Close()

	p.log.WithError(err).Warn("Proxy link lost")
	p.bleLost(&ProxyError{Op: "read", Code: errcodes.ProxyWorkerError, Err: err})
}

// bleLost fires the disconnect handlers once per connection
func (p *Proxy) bleLost(err error) {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return
	}
	p.connected = false
	handlers := append([]func(error){}, p.onDisconnect...)
	p.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

// roundTrip sends pkt and waits for the first packet of type want
func (p *Proxy) roundTrip(ctx context.Context, pkt *bridge.Packet, want uint8) (*bridge.Packet, error) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()

	p.mu.Lock()
	done := p.linkDone
	p.mu.Unlock()

	ch := make(chan *bridge.Packet, 1)
	p.waitMu.Lock()
	p.waiters[want] = ch
	p.waitMu.Unlock()
	defer func() {
		p.waitMu.Lock()
		delete(p.waiters, want)
		p.waitMu.Unlock()
	}()

	op := bridge.FormatMessageType(pkt.Type())
	if err := p.send(pkt); err != nil {
		return nil, &ProxyError{Op: op, Code: errcodes.ProxyUnreachable, Err: err}
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-done:
		return nil, &ProxyError{Op: op, Code: errcodes.ProxyUnreachable, Err: ErrClosed}
	case <-ctx.Done():
		return nil, &ProxyError{Op: op, Code: errcodes.ProxyTimeout, Err: ctx.Err()}
	}
}

func (p *Proxy) send(pkt *bridge.Packet) error {
	p.mu.Lock()
	link := p.link
	p.mu.Unlock()
	if link == nil {
		return ErrClosed
	}
	return link.Send(pkt)
}
