// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/aquaclean/pkg/api"
	"github.com/Thermoquad/aquaclean/pkg/transport"
)

// DefaultCommandSettle is the pause after a SetCommand before the next call
const DefaultCommandSettle = time.Second

// Listener receives the events produced by Client
type Listener interface {
	DeviceState(change DeviceStateChange)
	Identification(id api.DeviceIdentification)
	InitialOperationDate(date string)
	SOCVersions(versions string)
}

// Client is the typed API of one AquaClean peripheral
type Client struct {
	*BaseClient

	// CommandSettle is slept after each SetCommand
	CommandSettle time.Duration

	mu        sync.Mutex
	listeners []Listener
	last      *DeviceState
}

// New creates a client speaking through t
func New(t transport.Transport, log logrus.FieldLogger) *Client {
	return &Client{
		BaseClient:    NewBaseClient(t, log),
		CommandSettle: DefaultCommandSettle,
	}
}

// AddListener subscribes l to client events. Listeners are called in
// subscription order on the goroutine that produced the event.
func (c *Client) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Client) each(fn func(Listener)) {
	c.mu.Lock()
	ls := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range ls {
		fn(l)
	}
}

// Connect connects to address, then reads the SOC versions, the device
// identification and the initial operation date, emitting one event each.
func (c *Client) Connect(ctx context.Context, address string) error {
	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()

	if err := c.BaseClient.Connect(ctx, address); err != nil {
		return err
	}

	versions, err := c.GetSOCApplicationVersions(ctx)
	if err != nil {
		return err
	}
	c.each(func(l Listener) { l.SOCVersions(versions) })

	id, err := c.GetDeviceIdentification(ctx)
	if err != nil {
		return err
	}
	c.each(func(l Listener) { l.Identification(*id) })

	date, err := c.GetDeviceInitialOperationDate(ctx)
	if err != nil {
		return err
	}
	c.each(func(l Listener) { l.InitialOperationDate(date) })

	return nil
}

// PollState reads the state parameters and emits the fields that changed
// since the previous poll. The first poll after Connect emits every field.
func (c *Client) PollState(ctx context.Context) (DeviceState, error) {
	list, err := c.GetSystemParameterList(ctx, api.StatePollParameters...)
	if err != nil {
		return DeviceState{}, err
	}

	// The device answers in request order; the first four entries are the flags
	cur := DeviceState{
		UserSitting:       list.At(0) != 0,
		AnalShowerRunning: list.At(1) != 0,
		LadyShowerRunning: list.At(2) != 0,
		DryerRunning:      list.At(3) != 0,
	}

	c.mu.Lock()
	change := Diff(c.last, cur)
	c.last = &cur
	c.mu.Unlock()

	if !change.Empty() {
		c.log.WithField("change", change.String()).Debug("Device state changed")
		c.each(func(l Listener) { l.DeviceState(change) })
	}
	return cur, nil
}

// LastState returns the state of the most recent poll
func (c *Client) LastState() (DeviceState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return DeviceState{}, false
	}
	return *c.last, true
}

// GetSystemParameterList reads up to 12 system parameters
func (c *Client) GetSystemParameterList(ctx context.Context, ids ...uint8) (*api.SystemParameterList, error) {
	data, err := c.CallAPI(ctx, api.GetSystemParameterList(ids...))
	if err != nil {
		return nil, err
	}
	return api.ParseSystemParameterList(data)
}

// GetDeviceIdentification reads the SAP number, serial number, production
// date and description.
func (c *Client) GetDeviceIdentification(ctx context.Context) (*api.DeviceIdentification, error) {
	data, err := c.CallAPI(ctx, api.GetDeviceIdentification())
	if err != nil {
		return nil, err
	}
	return api.ParseDeviceIdentification(data)
}

// GetDeviceInitialOperationDate reads the date the device was first used
func (c *Client) GetDeviceInitialOperationDate(ctx context.Context) (string, error) {
	data, err := c.CallAPI(ctx, api.GetDeviceInitialOperationDate())
	if err != nil {
		return "", err
	}
	return api.ParseInitialOperationDate(data), nil
}

// GetSOCApplicationVersions reads the firmware versions of the device's SOCs
func (c *Client) GetSOCApplicationVersions(ctx context.Context) (string, error) {
	data, err := c.CallAPI(ctx, api.GetSOCApplicationVersions())
	if err != nil {
		return "", err
	}
	return api.FormatSOCVersions(data), nil
}

// GetStatisticsDescale reads the descaling counters
func (c *Client) GetStatisticsDescale(ctx context.Context) (*api.StatisticsDescale, error) {
	data, err := c.CallAPI(ctx, api.GetStatisticsDescale())
	if err != nil {
		return nil, err
	}
	return api.ParseStatisticsDescale(data)
}

// GetStoredProfileSetting reads setting from the default profile
func (c *Client) GetStoredProfileSetting(ctx context.Context, setting api.ProfileSetting) (int, error) {
	data, err := c.CallAPI(ctx, api.GetStoredProfileSetting(api.DefaultProfile, setting))
	if err != nil {
		return 0, err
	}
	return api.ParseStoredProfileSetting(data)
}

// SetStoredProfileSetting writes setting in the default profile
func (c *Client) SetStoredProfileSetting(ctx context.Context, setting api.ProfileSetting, value uint16) error {
	_, err := c.CallAPI(ctx, api.SetStoredProfileSetting(setting, value))
	return err
}

// SetCommand executes a device command, then waits CommandSettle
func (c *Client) SetCommand(ctx context.Context, cmd api.Command) error {
	if _, err := c.CallAPI(ctx, api.SetCommand(cmd)); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}

	if c.CommandSettle <= 0 {
		return nil
	}

	t := time.NewTimer(c.CommandSettle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ToggleLidPosition opens or closes the lid
func (c *Client) ToggleLidPosition(ctx context.Context) error {
	return c.SetCommand(ctx, api.CmdToggleLidPosition)
}

// ToggleAnalShower starts or stops the rear shower
func (c *Client) ToggleAnalShower(ctx context.Context) error {
	return c.SetCommand(ctx, api.CmdToggleAnalShower)
}

// ToggleLadyShower starts or stops the lady shower
func (c *Client) ToggleLadyShower(ctx context.Context) error {
	return c.SetCommand(ctx, api.CmdToggleLadyShower)
}

// ToggleDryer starts or stops the dryer
func (c *Client) ToggleDryer(ctx context.Context) error {
	return c.SetCommand(ctx, api.CmdToggleDryer)
}

// ToggleOrientationLight switches the orientation light
func (c *Client) ToggleOrientationLight(ctx context.Context) error {
	return c.SetCommand(ctx, api.CmdToggleOrientationLight)
}

// TriggerFlush flushes the toilet
func (c *Client) TriggerFlush(ctx context.Context) error {
	return c.SetCommand(ctx, api.CmdTriggerFlushManually)
}
