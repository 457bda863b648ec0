// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transporttest provides an in-memory transport that behaves like an
// AquaClean peripheral, for use in tests.
package transporttest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/aquaclean/pkg/frame"
	"github.com/Thermoquad/aquaclean/pkg/message"
	"github.com/Thermoquad/aquaclean/pkg/transport"
)

// Request is one call received by the peripheral
type Request struct {
	Node      uint8
	Context   uint8
	Procedure uint8
	Payload   []byte
}

// Responder answers a request. Returning ok=false leaves it unanswered.
type Responder func(r Request) (result []byte, ok bool)

// Peripheral implements transport.Transport
type Peripheral struct {
	// DeviceName is reported by Name once connected
	DeviceName string
	// InfoFrames is the number of handshake info frames sent on Subscribe
	InfoFrames int
	// ConnectErr is returned by Connect when set
	ConnectErr error
	// Present is returned by ScanForPresence
	Present bool
	// ScanErr is returned by ScanForPresence when set
	ScanErr error
	// TransportKind is returned by Kind
	TransportKind transport.Kind

	mu        sync.Mutex
	respond   Responder
	handler   func([]byte)
	lost      []func(error)
	connected bool
	requests  []Request
	acks      int
	connects  int
	scans     int
	closes    int
	writeErr  error
}

// New creates a connected-on-demand peripheral answering with respond
func New(respond Responder) *Peripheral {
	return &Peripheral{
		DeviceName: "Geberit AC PRO",
		InfoFrames: 10,
		Present:    true,
		respond:    respond,
	}
}

// SetResponder replaces the responder
func (p *Peripheral) SetResponder(r Responder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.respond = r
}

func (p *Peripheral) Connect(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	if p.ConnectErr != nil {
		return p.ConnectErr
	}
	p.connected = true
	return nil
}

func (p *Peripheral) Subscribe(handler func([]byte)) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return transport.ErrNotConnected
	}
	p.handler = handler
	n := p.InfoFrames
	p.mu.Unlock()

	go func() {
		for i := 0; i < n; i++ {
			d := make([]byte, frame.DatagramSize)
			d[0] = 0x90
			d[1] = 1
			handler(d)
		}
	}()
	return nil
}

func (p *Peripheral) Write(_ context.Context, d []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return transport.ErrNotConnected
	}

	f, err := frame.Decode(d)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if _, ok := f.(*frame.FlowControl); ok {
		p.acks++
		p.mu.Unlock()
		return nil
	}

	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return err
	}

	single, ok := f.(*frame.Single)
	if !ok {
		p.mu.Unlock()
		return errors.New("unexpected frame from host")
	}

	env, err := message.ParseEnvelope(single.Payload[:])
	if err != nil || len(env.Body) < 4 {
		p.mu.Unlock()
		return errors.New("malformed request envelope")
	}

	body := env.Body
	r := Request{Node: body[0], Context: body[1], Procedure: body[2]}
	if n := int(body[3]); 4+n <= len(body) {
		r.Payload = append([]byte(nil), body[4:4+n]...)
	} else {
		r.Payload = append([]byte(nil), body[4:]...)
	}
	p.requests = append(p.requests, r)
	respond := p.respond
	handler := p.handler
	p.mu.Unlock()

	if respond == nil || handler == nil {
		return nil
	}
	result, ok := respond(r)
	if !ok {
		return nil
	}
	for _, datagram := range ResponseFrames(r.Context, r.Procedure, result) {
		handler(datagram)
	}
	return nil
}

func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	p.connected = false
	p.handler = nil
	return nil
}

func (p *Peripheral) OnDisconnect(f func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lost = append(p.lost, f)
}

func (p *Peripheral) ScanForPresence(_ context.Context, _ string, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scans++
	return p.Present, p.ScanErr
}

func (p *Peripheral) Name() string {
	return p.DeviceName
}

func (p *Peripheral) Kind() transport.Kind {
	return p.TransportKind
}

// Drop simulates the peripheral going away
func (p *Peripheral) Drop(err error) {
	p.mu.Lock()
	p.connected = false
	p.handler = nil
	lost := append([]func(error){}, p.lost...)
	p.mu.Unlock()

	for _, f := range lost {
		f(err)
	}
}

// FailWrites makes request writes fail with err while the peripheral keeps
// reporting itself connected. Acks still go through. nil restores writes.
func (p *Peripheral) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// SetPresent changes the result of ScanForPresence
func (p *Peripheral) SetPresent(present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Present = present
}

// Requests returns the calls received so far
func (p *Peripheral) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// Acks returns the number of flow control frames received
func (p *Peripheral) Acks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acks
}

// Connects returns the number of Connect calls
func (p *Peripheral) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

// Scans returns the number of ScanForPresence calls
func (p *Peripheral) Scans() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scans
}

// Disconnects returns the number of Disconnect calls
func (p *Peripheral) Disconnects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// ResponseFrames encodes a response carrying result as First and
// Consecutive frames.
func ResponseFrames(context, procedure uint8, result []byte) [][]byte {
	body := make([]byte, 0, 5+len(result))
	body = append(body, 0x00, 0x01, context, procedure, byte(len(result)))
	body = append(body, result...)

	env, err := message.NewEnvelope(message.IDCrcResponse, 0, body)
	if err != nil {
		panic(err)
	}
	data := env.Compact()

	n := (len(data) + frame.SequencedPayloadSize - 1) / frame.SequencedPayloadSize
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		f := &frame.Sequenced{Hdr: frame.Header{Type: frame.TypeConsecutive, HasMessageType: true}, Seq: uint8(i)}
		if i == 0 {
			f.Hdr.Type = frame.TypeFirst
			f.Seq = uint8(n)
		}
		copy(f.Payload[:], data[i*frame.SequencedPayloadSize:])
		d := f.Bytes()
		frames = append(frames, d[:])
	}
	return frames
}

// ParameterList encodes a GetSystemParameterList result
func ParameterList(ids []uint8, values map[uint8]uint32) []byte {
	out := []byte{byte(len(ids))}
	for _, id := range ids {
		v := values[id]
		out = append(out, id, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	return out
}
