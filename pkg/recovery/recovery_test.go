// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/aquaclean/pkg/errcodes"
	"github.com/Thermoquad/aquaclean/pkg/transport"
)

const addr = "38:AB:41:2A:0D:67"

// fakeClock jumps forward on every After
type fakeClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
}

func newFakeClock() *fakeClock {
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &fakeClock{start: t, now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) elapsed() time.Duration {
	return c.Now().Sub(c.start)
}

// scriptedScanner answers from a function of elapsed fake time
type scriptedScanner struct {
	kind    transport.Kind
	clock   *fakeClock
	present func(elapsed time.Duration) bool
	err     error
	calls   int
}

func (s *scriptedScanner) ScanForPresence(context.Context, string, time.Duration) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.present(s.clock.elapsed()), nil
}

func (s *scriptedScanner) Kind() transport.Kind { return s.kind }

type recordingSink struct {
	progress []string
	records  []errcodes.Record
}

func (s *recordingSink) Progress(m string) { s.progress = append(s.progress, m) }
func (s *recordingSink) Error(r errcodes.Record) { s.records = append(s.records, r) }
func (s *recordingSink) codes() (ids []string) {
	for _, r := range s.records {
		ids = append(ids, r.Code.ID)
	}
	return ids
}

func newMachine(clock *fakeClock, primary, fallback Scanner, sink Sink) *Machine {
	log, _ := test.NewNullLogger()
	m := New(DefaultConfig(addr), primary, fallback, sink, log)
	m.Clock = clock
	return m
}

// ============================================================
// Scenario Tests
// ============================================================

func TestMachine_RestartScenario(t *testing.T) {
	clock := newFakeClock()
	scanner := &scriptedScanner{kind: transport.KindLocal, clock: clock, present: func(e time.Duration) bool {
		return e < 3*time.Second || e >= 40*time.Second
	}}
	sink := &recordingSink{}
	m := newMachine(clock, scanner, nil, sink)

	require.NoError(t, m.Run(context.Background()))

	assert.InDelta(t, 42.0, clock.elapsed().Seconds(), 0.5)
	assert.Equal(t, StateConnected, m.State())
	assert.Empty(t, sink.records)
	assert.NotEmpty(t, sink.progress)
}

func TestMachine_NeverDisappears(t *testing.T) {
	clock := newFakeClock()
	scanner := &scriptedScanner{kind: transport.KindLocal, clock: clock, present: func(time.Duration) bool { return true }}
	sink := &recordingSink{}
	m := newMachine(clock, scanner, nil, sink)

	require.NoError(t, m.Run(context.Background()))

	// Disappearance cap, then immediate reappearance and settle
	assert.InDelta(t, 122.0, clock.elapsed().Seconds(), 0.5)
	assert.Equal(t, []string{"E2003"}, sink.codes())
	assert.Equal(t, errcodes.SeverityWarning, sink.records[0].Code.Severity)
}

func TestMachine_NeverReappears(t *testing.T) {
	clock := newFakeClock()
	scanner := &scriptedScanner{kind: transport.KindProxy, clock: clock, present: func(time.Duration) bool { return false }}
	sink := &recordingSink{}
	m := newMachine(clock, scanner, nil, sink)

	err := m.Run(context.Background())

	var ex *RecoveryExhausted
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, addr, ex.Address)
	assert.Equal(t, errcodes.RecoveryNoReappearProxy, errcodes.Classify(err))
	assert.Equal(t, StateGivingUp, m.State())
	assert.Equal(t, []string{"E2002"}, sink.codes())
	assert.LessOrEqual(t, clock.elapsed(), 122*time.Second)
}

func TestMachine_ProxyFallsBackToLocal(t *testing.T) {
	clock := newFakeClock()
	proxy := &scriptedScanner{kind: transport.KindProxy, clock: clock, err: errors.New("connection refused")}
	local := &scriptedScanner{kind: transport.KindLocal, clock: clock, present: func(e time.Duration) bool {
		return e < 3*time.Second || e >= 10*time.Second
	}}
	sink := &recordingSink{}
	m := newMachine(clock, proxy, local, sink)

	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, 1, proxy.calls)
	assert.Greater(t, local.calls, 1)
	assert.Equal(t, []string{"E2005"}, sink.codes())
}

func TestMachine_LocalScanErrorsAreNotAbsence(t *testing.T) {
	clock := newFakeClock()
	local := &scriptedScanner{kind: transport.KindLocal, clock: clock, err: errors.New("adapter busy")}
	sink := &recordingSink{}
	m := newMachine(clock, local, nil, sink)

	err := m.Run(context.Background())

	var ex *RecoveryExhausted
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, []string{"E2003", "E2004"}, sink.codes())
}

func TestMachine_Cancelled(t *testing.T) {
	clock := newFakeClock()
	scanner := &scriptedScanner{kind: transport.KindLocal, clock: clock, present: func(time.Duration) bool { return true }}
	m := newMachine(clock, scanner, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Run(ctx), context.Canceled)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "AWAITING_REAPPEARANCE", StateAwaitingReappearance.String())
	assert.Equal(t, "STATE_9", State(9).String())
}
