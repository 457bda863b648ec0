// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package recovery waits out a peripheral restart.
//
// When the peripheral stops answering it usually reboots. The Machine polls
// its presence until it disappears, then until it reappears, and returns
// once a reconnect is likely to succeed.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/aquaclean/pkg/errcodes"
	"github.com/Thermoquad/aquaclean/pkg/transport"
)

// State is the phase of a recovery
type State int

const (
	StateConnected State = iota
	StateAwaitingDisappearance
	StateAwaitingReappearance
	StateGivingUp
)

var stateNames = [...]string{"CONNECTED", "AWAITING_DISAPPEARANCE", "AWAITING_REAPPEARANCE", "GIVING_UP"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE_%d", int(s))
}

// Scanner reports whether the peripheral is advertising
type Scanner interface {
	ScanForPresence(ctx context.Context, address string, timeout time.Duration) (bool, error)
	Kind() transport.Kind
}

// Sink receives the recovery narrative and error records
type Sink interface {
	Progress(message string)
	Error(rec errcodes.Record)
}

// Clock abstracts time for tests
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

// Config holds the recovery timings
type Config struct {
	Address      string
	PollInterval time.Duration
	ScanTimeout  time.Duration
	DisappearCap time.Duration
	ReappearCap  time.Duration
	SettleDelay  time.Duration
}

// DefaultConfig returns the standard timings for address
func DefaultConfig(address string) Config {
	return Config{
		Address:      address,
		PollInterval: 2 * time.Second,
		ScanTimeout:  1500 * time.Millisecond,
		DisappearCap: 120 * time.Second,
		ReappearCap:  120 * time.Second,
		SettleDelay:  2 * time.Second,
	}
}

// RecoveryExhausted means the peripheral did not come back
type RecoveryExhausted struct {
	Address string
	Waited  time.Duration
	Kind    transport.Kind
}

func (e *RecoveryExhausted) Error() string {
	return fmt.Sprintf("device %s did not reappear within %s", e.Address, e.Waited)
}

// ErrorCode implements errcodes.Coded
func (e *RecoveryExhausted) ErrorCode() errcodes.Code {
	if e.Kind == transport.KindProxy {
		return errcodes.RecoveryNoReappearProxy
	}
	return errcodes.RecoveryNoReappearLocal
}

// Machine runs one recovery at a time
type Machine struct {
	// Clock defaults to SystemClock
	Clock Clock

	cfg      Config
	primary  Scanner
	fallback Scanner
	sink     Sink
	log      logrus.FieldLogger

	mu     sync.Mutex
	state  State
	active Scanner
}

// New creates a machine scanning with primary. When primary is a proxy and
// its scan fails, fallback (may be nil) takes over.
func New(cfg Config, primary, fallback Scanner, sink Sink, log logrus.FieldLogger) *Machine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Machine{
		Clock:    SystemClock,
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		sink:     sink,
		log:      log.WithField("component", "recovery"),
		state:    StateConnected,
	}
}

// State returns the current phase
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev != s {
		m.log.WithFields(logrus.Fields{"from": prev, "to": s}).Debug("state change")
	}
}

func (m *Machine) scanner() Scanner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Machine) progress(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	m.log.Info(msg)
	if m.sink != nil {
		m.sink.Progress(msg)
	}
}

func (m *Machine) report(rec errcodes.Record) {
	if m.sink != nil {
		m.sink.Error(rec)
	}
}

// Run waits for the peripheral to disappear and come back. It returns nil
// when a reconnect should be attempted, *RecoveryExhausted when the
// peripheral stayed away past the reappearance cap, or the context error.
func (m *Machine) Run(ctx context.Context) error {
	m.mu.Lock()
	m.active = m.primary
	m.mu.Unlock()

	addr := m.cfg.Address

	m.setState(StateAwaitingDisappearance)
	m.progress("Peripheral %s stopped responding, waiting for it to restart...", addr)

	gone, err := m.await(ctx, false, m.cfg.DisappearCap)
	if err != nil {
		return err
	}
	if gone {
		m.progress("Peripheral %s went offline", addr)
	} else {
		code := errcodes.RecoveryNoDisappearLocal
		if m.scanner().Kind() == transport.KindProxy {
			code = errcodes.RecoveryNoDisappearProxy
		}
		m.log.WithField("waited", m.cfg.DisappearCap).Warn("peripheral never went offline, continuing")
		m.report(errcodes.New(code, fmt.Sprintf("%s still present after %s", addr, m.cfg.DisappearCap)))
	}

	m.setState(StateAwaitingReappearance)
	m.progress("Waiting for %s to power back on...", addr)

	back, err := m.await(ctx, true, m.cfg.ReappearCap)
	if err != nil {
		return err
	}
	if !back {
		m.setState(StateGivingUp)
		exhausted := &RecoveryExhausted{Address: addr, Waited: m.cfg.ReappearCap, Kind: m.scanner().Kind()}
		m.log.Warn(exhausted.Error())
		m.report(errcodes.FromError(exhausted))
		return exhausted
	}

	m.progress("Peripheral %s is back, reconnecting in %s", addr, m.cfg.SettleDelay)
	if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
		return err
	}

	m.setState(StateConnected)
	return nil
}

// await polls presence until it equals want or limit elapses
func (m *Machine) await(ctx context.Context, want bool, limit time.Duration) (bool, error) {
	deadline := m.Clock.Now().Add(limit)

	for {
		present, err := m.scan(ctx)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			m.log.WithError(err).Debug("presence scan failed")
		} else if present == want {
			return true, nil
		}

		if !m.Clock.Now().Before(deadline) {
			return false, nil
		}
		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			return false, err
		}
	}
}

func (m *Machine) scan(ctx context.Context) (bool, error) {
	s := m.scanner()
	present, err := s.ScanForPresence(ctx, m.cfg.Address, m.cfg.ScanTimeout)
	if err == nil || ctx.Err() != nil {
		return present, err
	}

	if s != m.primary || s.Kind() != transport.KindProxy || m.fallback == nil {
		return false, err
	}

	m.log.WithError(err).Warn("proxy scan failed, falling back to the local adapter")
	m.report(errcodes.New(errcodes.RecoveryProxyFallback, err.Error()))

	m.mu.Lock()
	m.active = m.fallback
	m.mu.Unlock()

	return m.fallback.ScanForPresence(ctx, m.cfg.Address, m.cfg.ScanTimeout)
}

func (m *Machine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.Clock.After(d):
		return nil
	}
}
