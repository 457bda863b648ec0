// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"

	"github.com/Thermoquad/aquaclean/pkg/bridge"
)

// Link carries bridge packets between the host and a Bluetooth proxy
type Link interface {
	Send(pkt *bridge.Packet) error

	// Receive blocks for the next packet. A *CorruptPacketError only
	// reports data that was skipped; any other error ends the link.
	Receive() (*bridge.Packet, error)

	Close() error
}

// LinkDialer opens a fresh link to the proxy
type LinkDialer func(ctx context.Context) (Link, error)

// ErrLinkClosed is returned by Receive once the proxy closed the link
var ErrLinkClosed = errors.New("proxy link closed")

// CorruptPacketError reports framed data that did not decode
type CorruptPacketError struct {
	Err error
}

func (e *CorruptPacketError) Error() string {
	return fmt.Sprintf("corrupt proxy packet: %v", e.Err)
}

func (e *CorruptPacketError) Unwrap() error {
	return e.Err
}

// inbox queues what one read produced until Receive hands it out
type inbox struct {
	dec     *bridge.Decoder
	packets []*bridge.Packet
	corrupt []error
}

func newInbox() inbox {
	return inbox{dec: bridge.NewDecoder()}
}

func (in *inbox) feed(data []byte) {
	packets, errs := in.dec.Decode(data)
	in.packets = append(in.packets, packets...)
	in.corrupt = append(in.corrupt, errs...)
}

func (in *inbox) next() (*bridge.Packet, bool, error) {
	if len(in.corrupt) > 0 {
		err := in.corrupt[0]
		in.corrupt = in.corrupt[1:]
		return nil, true, &CorruptPacketError{Err: err}
	}
	if len(in.packets) > 0 {
		p := in.packets[0]
		in.packets = in.packets[1:]
		return p, true, nil
	}
	return nil, false, nil
}

// ============================================================
// Byte stream links
// ============================================================

// streamReadSize is the chunk read from a stream per call
const streamReadSize = 512

// StreamLink frames packets over a byte stream. Packet boundaries are
// found by the bridge decoder, so reads may split or join packets freely.
type StreamLink struct {
	rw io.ReadWriteCloser

	in      inbox
	buf     []byte
	readErr error

	writeMu sync.Mutex
}

// NewStreamLink frames packets over rw
func NewStreamLink(rw io.ReadWriteCloser) *StreamLink {
	return &StreamLink{rw: rw, in: newInbox(), buf: make([]byte, streamReadSize)}
}

// Send implements Link
func (l *StreamLink) Send(pkt *bridge.Packet) error {
	wire, err := bridge.EncodePacket(pkt)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err = l.rw.Write(wire)
	return err
}

// Receive implements Link. It must not be called concurrently.
func (l *StreamLink) Receive() (*bridge.Packet, error) {
	for {
		if p, ok, err := l.in.next(); ok {
			return p, err
		}
		if l.readErr != nil {
			return nil, l.readErr
		}

		n, err := l.rw.Read(l.buf)
		if n > 0 {
			l.in.feed(l.buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrLinkClosed
			}
			// Packets completed by the last read go out first
			l.readErr = err
		}
	}
}

// Close implements Link
func (l *StreamLink) Close() error {
	return l.rw.Close()
}

// OpenSerial opens a USB serial proxy at baudRate, 8N1
func OpenSerial(portName string, baudRate int) (*StreamLink, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	return NewStreamLink(port), nil
}

// SerialDialer returns a LinkDialer opening portName at baudRate
func SerialDialer(portName string, baudRate int) LinkDialer {
	return func(context.Context) (Link, error) {
		l, err := OpenSerial(portName, baudRate)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// ============================================================
// WebSocket links
// ============================================================

// WebSocketLink sends each packet as one binary message. Text messages
// carry the proxy's own log lines and are skipped.
type WebSocketLink struct {
	conn *websocket.Conn
	in   inbox

	writeMu sync.Mutex
}

// Send implements Link
func (w *WebSocketLink) Send(pkt *bridge.Packet) error {
	wire, err := bridge.EncodePacket(pkt)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, wire)
}

// Receive implements Link. It must not be called concurrently.
func (w *WebSocketLink) Receive() (*bridge.Packet, error) {
	for {
		if p, ok, err := w.in.next(); ok {
			return p, err
		}

		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("%w: %v", ErrLinkClosed, err)
			}
			return nil, err
		}
		if kind == websocket.BinaryMessage {
			w.in.feed(data)
		}
	}
}

// Close implements Link
func (w *WebSocketLink) Close() error {
	return w.conn.Close()
}

// WebSocketOptions configures DialWebSocket
type WebSocketOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
}

// webSocketDialTimeout bounds the whole dial when ctx has no deadline
const webSocketDialTimeout = 15 * time.Second

// DialWebSocket connects to a proxy at a ws:// or wss:// URL, with HTTP
// Basic auth when a username and password are given.
func DialWebSocket(ctx context.Context, rawURL string, opts WebSocketOptions) (*WebSocketLink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported proxy URL scheme %q (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.SkipSSLVerify}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, webSocketDialTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, basicAuth(opts.Username, opts.Password))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("proxy handshake failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("proxy dial failed: %w", err)
	}
	return &WebSocketLink{conn: conn, in: newInbox()}, nil
}

func basicAuth(username, password string) http.Header {
	h := http.Header{}
	if username == "" || password == "" {
		return h
	}
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	h.Set("Authorization", "Basic "+token)
	return h
}

// WebSocketDialer returns a LinkDialer connecting to rawURL
func WebSocketDialer(rawURL string, opts WebSocketOptions) LinkDialer {
	return func(ctx context.Context) (Link, error) {
		l, err := DialWebSocket(ctx, rawURL, opts)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}
