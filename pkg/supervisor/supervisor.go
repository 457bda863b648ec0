// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package supervisor keeps a session with the peripheral alive.
//
// The Supervisor connects, polls the device state at an adjustable interval
// and reacts to failures: a silent peripheral or a dropped link starts a
// recovery, connect failures are retried after a cooldown, and anything else
// stops the loop.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/aquaclean/pkg/api"
	"github.com/Thermoquad/aquaclean/pkg/client"
	"github.com/Thermoquad/aquaclean/pkg/errcodes"
	"github.com/Thermoquad/aquaclean/pkg/recovery"
	"github.com/Thermoquad/aquaclean/pkg/transport"
)

// Sink receives everything the supervisor observes
type Sink interface {
	client.Listener
	recovery.Sink
	ConnectionState(state State)
}

// TransportFactory creates the transport for a new session
type TransportFactory func() (transport.Transport, error)

// Config holds the session timings
type Config struct {
	Address         string
	PollInterval    time.Duration
	ConnectCooldown time.Duration
	CallTimeout     time.Duration
	HandshakePoll   time.Duration
	CommandSettle   time.Duration
	Recovery        recovery.Config
}

// DefaultConfig returns the standard timings for address
func DefaultConfig(address string) Config {
	return Config{
		Address:         address,
		PollInterval:    2500 * time.Millisecond,
		ConnectCooldown: 30 * time.Second,
		CallTimeout:     client.DefaultCallTimeout,
		CommandSettle:   client.DefaultCommandSettle,
		Recovery:        recovery.DefaultConfig(address),
	}
}

// LinkLostError reports a link that dropped during a session
type LinkLostError struct {
	Err error
}

func (e *LinkLostError) Error() string {
	if e.Err == nil {
		return "connection lost"
	}
	return fmt.Sprintf("connection lost: %v", e.Err)
}

func (e *LinkLostError) Unwrap() error {
	return e.Err
}

// ErrorCode implements errcodes.Coded
func (e *LinkLostError) ErrorCode() errcodes.Code {
	return errcodes.BLEDisconnected
}

// Supervisor runs the session loop
type Supervisor struct {
	// Clock times cooldowns and recovery; defaults to the wall clock
	Clock recovery.Clock

	cfg          Config
	newTransport TransportFactory
	fallback     recovery.Scanner
	sink         Sink
	log          logrus.FieldLogger

	wake      chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	reconnect atomic.Bool

	mu       sync.Mutex
	interval time.Duration
	enabled  bool
	snap     Snapshot
	counters Counters
	active   *client.Client
}

// New creates a supervisor. fallback, when non-nil, scans for presence if
// the session transport is a proxy that cannot be reached during recovery.
func New(cfg Config, factory TransportFactory, fallback recovery.Scanner, sink Sink, log logrus.FieldLogger) *Supervisor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Recovery.Address == "" {
		cfg.Recovery.Address = cfg.Address
	}
	return &Supervisor{
		Clock:        recovery.SystemClock,
		cfg:          cfg,
		newTransport: factory,
		fallback:     fallback,
		sink:         sink,
		log:          log.WithField("component", "supervisor"),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		interval:     cfg.PollInterval,
		enabled:      true,
		snap:         Snapshot{State: StateStandby},
	}
}

// ============================================================
// Signals
// ============================================================

func (s *Supervisor) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Reconnect drops the current session and connects again
func (s *Supervisor) Reconnect() {
	s.reconnect.Store(true)
	s.notify()
}

// SetPollInterval changes the polling period without reconnecting. Zero
// pauses polling and keeps the connection.
func (s *Supervisor) SetPollInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
	s.notify()
}

// PollInterval returns the current polling period
func (s *Supervisor) PollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetEnabled connects or parks the supervisor in Standby
func (s *Supervisor) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	s.notify()
}

func (s *Supervisor) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Shutdown stops Run
func (s *Supervisor) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// ============================================================
// State
// ============================================================

// State returns the current phase
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.State
}

// Snapshot returns the cached device view
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	if snap.Identification != nil {
		id := *snap.Identification
		snap.Identification = &id
	}
	if snap.LastError != nil {
		rec := *snap.LastError
		snap.LastError = &rec
	}
	return snap
}

// Counters returns the session counters
func (s *Supervisor) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Client returns the client of the live session, or nil
func (s *Supervisor) Client() *client.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	prev := s.snap.State
	s.snap.State = st
	s.snap.Connected = st == StatePolling
	s.mu.Unlock()

	if prev == st {
		return
	}
	s.log.WithFields(logrus.Fields{"from": prev, "to": st}).Debug("state change")
	s.sink.ConnectionState(st)
}

func (s *Supervisor) count(f func(c *Counters)) {
	s.mu.Lock()
	f(&s.counters)
	s.mu.Unlock()
}

func (s *Supervisor) report(rec errcodes.Record) {
	s.mu.Lock()
	s.snap.LastError = &rec
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"code": rec.Code.ID, "details": rec.Details}).Warn(rec.Code.Message)
	s.sink.Error(rec)
}

func (s *Supervisor) progress(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.log.Info(msg)
	s.sink.Progress(msg)
}

// ============================================================
// Session loop
// ============================================================

// Run drives sessions until Shutdown or ctx is done, which return nil. Any
// failure outside the recoverable classes stops the loop and is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer s.setState(StateStopped)

	for ctx.Err() == nil {
		if !s.isEnabled() {
			s.setState(StateStandby)
			select {
			case <-ctx.Done():
			case <-s.wake:
			}
			continue
		}

		s.reconnect.Store(false)
		s.setState(StateConnecting)

		t, c, err := s.connect(ctx)
		if err == nil {
			err = s.poll(ctx, c)
			s.endSession(c)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}

		if err := s.handleFailure(ctx, t, err); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) connect(ctx context.Context) (transport.Transport, *client.Client, error) {
	t, err := s.newTransport()
	if err != nil {
		return nil, nil, err
	}

	c := client.New(t, s.log)
	c.CallTimeout = s.cfg.CallTimeout
	c.CommandSettle = s.cfg.CommandSettle
	if s.cfg.HandshakePoll > 0 {
		c.HandshakePoll = s.cfg.HandshakePoll
	}
	c.AddListener(listener{s})

	s.progress("Connecting to %s over %s", s.cfg.Address, t.Kind())

	if err := c.Connect(ctx, s.cfg.Address); err != nil {
		s.count(func(c *Counters) { c.ConnectFailures++ })
		_ = c.Disconnect()
		return t, nil, err
	}

	s.count(func(c *Counters) { c.Connects++ })
	s.mu.Lock()
	s.active = c
	s.mu.Unlock()
	return t, c, nil
}

func (s *Supervisor) endSession(c *client.Client) {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()

	if err := c.Disconnect(); err != nil {
		s.log.WithError(err).Debug("disconnect failed")
	}
}

// poll returns nil when the session should end without a failure
func (s *Supervisor) poll(ctx context.Context, c *client.Client) error {
	lost := make(chan error, 1)
	c.OnDisconnect(func(err error) {
		select {
		case lost <- err:
		default:
		}
	})

	s.setState(StatePolling)

	for {
		interval := s.PollInterval()

		if interval > 0 {
			if _, err := c.PollState(ctx); err != nil {
				s.count(func(c *Counters) { c.PollErrors++ })
				if ctx.Err() == nil && (isLinkFailure(err) || !c.Connected()) {
					return &LinkLostError{Err: err}
				}
				return err
			}
			s.mu.Lock()
			s.counters.Polls++
			s.snap.LastPoll = time.Now()
			s.mu.Unlock()
		}

		if done, err := s.waitTick(ctx, interval, lost); done {
			return err
		}
	}
}

// waitTick waits for the next poll. done is set when the session should end.
func (s *Supervisor) waitTick(ctx context.Context, interval time.Duration, lost <-chan error) (done bool, err error) {
	var tick <-chan time.Time
	if interval > 0 {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		tick = timer.C
	}

	select {
	case <-ctx.Done():
		return true, ctx.Err()

	case err := <-lost:
		return true, &LinkLostError{Err: err}

	case <-s.wake:
		if s.reconnect.Swap(false) {
			s.progress("Reconnecting on request")
			return true, nil
		}
		if !s.isEnabled() {
			s.progress("Connection disabled")
			return true, nil
		}
		return false, nil

	case <-tick:
		return false, nil
	}
}

// isLinkFailure reports whether a call failed because the link did. The
// transport may still claim to be connected while it tears down.
func isLinkFailure(err error) bool {
	var link *client.LinkError
	var gatt *transport.GATTError
	return errors.As(err, &link) || errors.As(err, &gatt) ||
		errors.Is(err, transport.ErrNotConnected) ||
		errors.Is(err, transport.ErrClosed) ||
		errors.Is(err, transport.ErrLinkClosed)
}

func (s *Supervisor) handleFailure(ctx context.Context, t transport.Transport, err error) error {
	var timeout *client.PeripheralTimeout
	var linkLost *LinkLostError

	// Calls made while connecting can fail on the link too
	if !errors.As(err, &linkLost) && !errors.As(err, &timeout) && isLinkFailure(err) && !transport.IsConnectError(err) {
		err = &LinkLostError{Err: err}
	}

	switch {
	case errors.As(err, &timeout), errors.As(err, &linkLost):
		if timeout != nil {
			s.count(func(c *Counters) { c.Timeouts++ })
		} else {
			s.count(func(c *Counters) { c.LinkLosses++ })
		}
		s.report(errcodes.FromError(err))
		return s.recover(ctx, t)

	case transport.IsConnectError(err):
		s.report(errcodes.FromError(err))
		s.cooldown(ctx)
		return nil

	default:
		s.report(errcodes.New(errcodes.Fatal, err.Error()))
		return err
	}
}

func (s *Supervisor) recover(ctx context.Context, t transport.Transport) error {
	s.setState(StateRecovering)

	// Scanning may reopen what endSession closed; the transport is not
	// reused after recovery, so release it here.
	defer func() {
		if err := t.Disconnect(); err != nil {
			s.log.WithError(err).Debug("releasing recovery transport failed")
		}
	}()

	m := recovery.New(s.cfg.Recovery, t, s.fallback, recoverySink{s}, s.log)
	m.Clock = s.Clock

	err := m.Run(ctx)
	if err == nil {
		s.count(func(c *Counters) { c.Recoveries++ })
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	var exhausted *recovery.RecoveryExhausted
	if errors.As(err, &exhausted) {
		// Already reported by the machine; keep trying at the slower pace
		s.cooldown(ctx)
		return nil
	}
	return err
}

func (s *Supervisor) cooldown(ctx context.Context) {
	s.setState(StateBackoffRetry)
	s.progress("Retrying in %s", s.cfg.ConnectCooldown)

	deadline := s.Clock.After(s.cfg.ConnectCooldown)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-s.wake:
			if s.reconnect.Swap(false) || !s.isEnabled() {
				return
			}
		}
	}
}

// recoverySink records recovery errors in the snapshot
type recoverySink struct {
	s *Supervisor
}

func (r recoverySink) Progress(msg string) { r.s.sink.Progress(msg) }

func (r recoverySink) Error(rec errcodes.Record) { r.s.report(rec) }

// listener caches client events and forwards them to the sink
type listener struct {
	s *Supervisor
}

func (l listener) DeviceState(change client.DeviceStateChange) {
	l.s.mu.Lock()
	change.Apply(&l.s.snap.Device)
	l.s.snap.HaveDevice = true
	l.s.mu.Unlock()
	l.s.sink.DeviceState(change)
}

func (l listener) Identification(id api.DeviceIdentification) {
	l.s.mu.Lock()
	l.s.snap.Identification = &id
	l.s.mu.Unlock()
	l.s.sink.Identification(id)
}

func (l listener) InitialOperationDate(date string) {
	l.s.mu.Lock()
	l.s.snap.InitialOperationDate = date
	l.s.mu.Unlock()
	l.s.sink.InitialOperationDate(date)
}

func (l listener) SOCVersions(v string) {
	l.s.mu.Lock()
	l.s.snap.SOCVersions = v
	l.s.mu.Unlock()
	l.s.sink.SOCVersions(v)
}
