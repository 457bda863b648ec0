// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/aquaclean/pkg/api"
	"github.com/Thermoquad/aquaclean/pkg/client"
	"github.com/Thermoquad/aquaclean/pkg/errcodes"
	"github.com/Thermoquad/aquaclean/pkg/transport"
	"github.com/Thermoquad/aquaclean/pkg/transport/transporttest"
)

const addr = "38:AB:41:2A:0D:67"

// jumpClock advances instantly on every After
type jumpClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *jumpClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *jumpClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type recordingSink struct {
	mu      sync.Mutex
	states  []State
	records []errcodes.Record
	changes []client.DeviceStateChange
	ids     int
}

func (s *recordingSink) DeviceState(c client.DeviceStateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
}

func (s *recordingSink) Identification(api.DeviceIdentification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids++
}

func (s *recordingSink) InitialOperationDate(string) {}
func (s *recordingSink) SOCVersions(string) {}
func (s *recordingSink) Progress(string) {}

func (s *recordingSink) Error(r errcodes.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *recordingSink) ConnectionState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *recordingSink) codes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, r := range s.records {
		ids = append(ids, r.Code.ID)
	}
	return ids
}

func (s *recordingSink) sawState(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.states {
		if x == st {
			return true
		}
	}
	return false
}

// device answers every call except the polls it was told to ignore
type device struct {
	mu          sync.Mutex
	ignorePolls int
}

func (d *device) ignoreNextPolls(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ignorePolls = n
}

func (d *device) respond(r transporttest.Request) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.Context == api.AttrGetSystemParameterList.Context && r.Procedure == api.AttrGetSystemParameterList.Procedure {
		if d.ignorePolls > 0 {
			d.ignorePolls--
			return nil, false
		}
		n := int(r.Payload[0])
		return transporttest.ParameterList(r.Payload[1:1+n], map[uint8]uint32{api.ParamUserSitting: 1}), true
	}
	if r.Context == api.AttrGetDeviceIdentification.Context && r.Procedure == api.AttrGetDeviceIdentification.Procedure {
		return []byte("146.21x.xx.1"), true
	}
	return []byte{}, true
}

func testConfig() Config {
	cfg := DefaultConfig(addr)
	cfg.PollInterval = 5 * time.Millisecond
	cfg.CallTimeout = 50 * time.Millisecond
	cfg.HandshakePoll = time.Millisecond
	cfg.CommandSettle = 0
	return cfg
}

type harness struct {
	sup  *Supervisor
	sink *recordingSink
	dev  *device
	p    *transporttest.Peripheral
	done chan error
}

func start(t *testing.T, cfg Config, factory TransportFactory, p *transporttest.Peripheral, dev *device) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	sink := &recordingSink{}

	if factory == nil {
		factory = func() (transport.Transport, error) { return p, nil }
	}

	sup := New(cfg, factory, nil, sink, log)
	sup.Clock = &jumpClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}

	h := &harness{sup: sup, sink: sink, dev: dev, p: p, done: make(chan error, 1)}
	go func() { h.done <- sup.Run(context.Background()) }()

	t.Cleanup(func() {
		sup.Shutdown()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("supervisor did not stop")
		}
	})
	return h
}

func newDevice() (*device, *transporttest.Peripheral) {
	d := &device{}
	return d, transporttest.New(d.respond)
}

func (h *harness) waitPolls(t *testing.T, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return h.sup.Counters().Polls >= n }, 2*time.Second, time.Millisecond)
}

// ============================================================
// Session Tests
// ============================================================

func TestSupervisor_ConnectAndPoll(t *testing.T) {
	dev, p := newDevice()
	h := start(t, testConfig(), nil, p, dev)

	h.waitPolls(t, 3)

	snap := h.sup.Snapshot()
	assert.Equal(t, StatePolling, snap.State)
	assert.True(t, snap.Connected)
	assert.True(t, snap.HaveDevice)
	assert.True(t, snap.Device.UserSitting)
	require.NotNil(t, snap.Identification)
	assert.Equal(t, "146.21x.xx.1", snap.Identification.SapNumber)
	assert.NotNil(t, h.sup.Client())

	// State is unchanged after the first poll, so only one change is emitted
	h.sink.mu.Lock()
	assert.Len(t, h.sink.changes, 1)
	h.sink.mu.Unlock()
}

func TestSupervisor_ShutdownStops(t *testing.T) {
	dev, p := newDevice()
	h := start(t, testConfig(), nil, p, dev)
	h.waitPolls(t, 1)

	h.sup.Shutdown()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StateStopped, h.sup.State())
	assert.Nil(t, h.sup.Client())
}

func TestSupervisor_TimeoutStartsRecovery(t *testing.T) {
	dev, p := newDevice()
	h := start(t, testConfig(), nil, p, dev)
	h.waitPolls(t, 1)

	dev.ignoreNextPolls(1)

	require.Eventually(t, func() bool { return h.sup.Counters().Connects >= 2 }, 2*time.Second, time.Millisecond)

	c := h.sup.Counters()
	assert.Equal(t, uint64(1), c.Timeouts)
	assert.Equal(t, uint64(1), c.Recoveries)

	assert.True(t, h.sink.sawState(StateRecovering))
	// The fake peripheral never stops advertising
	assert.Equal(t, []string{"E0003", "E2003"}, h.sink.codes())

	// Once by the ended session, once after the recovery scans
	assert.Equal(t, 2, p.Disconnects())
}

func TestSupervisor_WriteFailureStartsRecovery(t *testing.T) {
	dev, p := newDevice()
	h := start(t, testConfig(), nil, p, dev)
	h.waitPolls(t, 1)

	// The transport still reports connected while its writes fail
	p.FailWrites(errors.New("write: Not connected"))
	require.Eventually(t, func() bool { return h.sink.sawState(StateRecovering) }, 2*time.Second, time.Millisecond)
	p.FailWrites(nil)

	require.Eventually(t, func() bool { return h.sup.Counters().Connects >= 2 }, 2*time.Second, time.Millisecond)

	select {
	case err := <-h.done:
		h.done <- err
		t.Fatalf("supervisor stopped: %v", err)
	default:
	}

	assert.GreaterOrEqual(t, h.sup.Counters().LinkLosses, uint64(1))
	assert.Contains(t, h.sink.codes(), "E0008")
	assert.NotContains(t, h.sink.codes(), "E7003")
}

func TestIsLinkFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"client link error", &client.LinkError{Call: "GetSystemParameterList", Op: "write", Err: errors.New("write: Not connected")}, true},
		{"gatt write", &transport.GATTError{Op: "write", Code: errcodes.BLEWriteFailed, Err: errors.New("Not connected")}, true},
		{"not connected", transport.ErrNotConnected, true},
		{"link closed", transport.ErrLinkClosed, true},
		{"protocol", errors.New("body too short"), false},
		{"context", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isLinkFailure(tt.err))
		})
	}
}

func TestSupervisor_LinkLossStartsRecovery(t *testing.T) {
	dev, p := newDevice()
	cfg := testConfig()
	cfg.PollInterval = time.Hour
	h := start(t, cfg, nil, p, dev)
	h.waitPolls(t, 1)

	p.Drop(errors.New("supervision timeout"))

	require.Eventually(t, func() bool { return h.sup.Counters().Connects >= 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), h.sup.Counters().LinkLosses)
	assert.Contains(t, h.sink.codes(), "E0008")
}

func TestSupervisor_ConnectErrorCoolsDown(t *testing.T) {
	dev, p := newDevice()

	var mu sync.Mutex
	attempts := 0
	factory := func() (transport.Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			p.ConnectErr = &transport.DeviceNotFoundError{Address: addr, Kind: transport.KindLocal}
		} else {
			p.ConnectErr = nil
		}
		return p, nil
	}

	h := start(t, testConfig(), factory, p, dev)
	h.waitPolls(t, 1)

	assert.True(t, h.sink.sawState(StateBackoffRetry))
	assert.Equal(t, []string{"E0001"}, h.sink.codes())
	assert.Equal(t, uint64(1), h.sup.Counters().ConnectFailures)
	assert.Equal(t, uint64(1), h.sup.Counters().Connects)
}

func TestSupervisor_FatalError(t *testing.T) {
	dev, p := newDevice()
	p.ConnectErr = errors.New("permission denied")

	h := start(t, testConfig(), nil, p, dev)

	select {
	case err := <-h.done:
		assert.EqualError(t, err, "permission denied")
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{"E7003"}, h.sink.codes())
	assert.Equal(t, StateStopped, h.sup.State())
}

// ============================================================
// Signal Tests
// ============================================================

func TestSupervisor_Reconnect(t *testing.T) {
	dev, p := newDevice()
	h := start(t, testConfig(), nil, p, dev)
	h.waitPolls(t, 1)

	h.sup.Reconnect()

	require.Eventually(t, func() bool { return h.sup.Counters().Connects == 2 }, 2*time.Second, time.Millisecond)
	assert.False(t, h.sink.sawState(StateRecovering))
	assert.Empty(t, h.sink.codes())
}

func TestSupervisor_PollIntervalZeroPauses(t *testing.T) {
	dev, p := newDevice()
	h := start(t, testConfig(), nil, p, dev)
	h.waitPolls(t, 1)

	h.sup.SetPollInterval(0)
	time.Sleep(20 * time.Millisecond)
	before := len(p.Requests())
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, len(p.Requests()))
	assert.Equal(t, StatePolling, h.sup.State())

	polls := h.sup.Counters().Polls
	h.sup.SetPollInterval(5 * time.Millisecond)
	h.waitPolls(t, polls+2)
	assert.Equal(t, uint64(1), h.sup.Counters().Connects)
}

func TestSupervisor_Standby(t *testing.T) {
	dev, p := newDevice()
	h := start(t, testConfig(), nil, p, dev)
	h.waitPolls(t, 1)

	h.sup.SetEnabled(false)
	require.Eventually(t, func() bool { return h.sup.State() == StateStandby }, 2*time.Second, time.Millisecond)
	assert.Nil(t, h.sup.Client())

	h.sup.SetEnabled(true)
	require.Eventually(t, func() bool { return h.sup.Counters().Connects == 2 }, 2*time.Second, time.Millisecond)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "BACKOFF_RETRY", StateBackoffRetry.String())
	assert.Equal(t, "STATE_42", State(42).String())
}
