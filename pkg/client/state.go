// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"fmt"
	"strings"
)

// DeviceState is a full snapshot of the polled device flags
type DeviceState struct {
	UserSitting       bool `json:"is_user_sitting"`
	AnalShowerRunning bool `json:"is_anal_shower_running"`
	LadyShowerRunning bool `json:"is_lady_shower_running"`
	DryerRunning      bool `json:"is_dryer_running"`
}

// DeviceStateChange carries only the fields that changed. A nil field is
// unchanged since the previous emission.
type DeviceStateChange struct {
	UserSitting       *bool `json:"is_user_sitting,omitempty"`
	AnalShowerRunning *bool `json:"is_anal_shower_running,omitempty"`
	LadyShowerRunning *bool `json:"is_lady_shower_running,omitempty"`
	DryerRunning      *bool `json:"is_dryer_running,omitempty"`
}

// Empty reports whether no field changed
func (c DeviceStateChange) Empty() bool {
	return c.UserSitting == nil && c.AnalShowerRunning == nil &&
		c.LadyShowerRunning == nil && c.DryerRunning == nil
}

// Apply merges the change into s
func (c DeviceStateChange) Apply(s *DeviceState) {
	if c.UserSitting != nil {
		s.UserSitting = *c.UserSitting
	}
	if c.AnalShowerRunning != nil {
		s.AnalShowerRunning = *c.AnalShowerRunning
	}
	if c.LadyShowerRunning != nil {
		s.LadyShowerRunning = *c.LadyShowerRunning
	}
	if c.DryerRunning != nil {
		s.DryerRunning = *c.DryerRunning
	}
}

func (c DeviceStateChange) String() string {
	var parts []string
	add := func(name string, v *bool) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s=%t", name, *v))
		}
	}
	add("user_sitting", c.UserSitting)
	add("anal_shower", c.AnalShowerRunning)
	add("lady_shower", c.LadyShowerRunning)
	add("dryer", c.DryerRunning)
	if len(parts) == 0 {
		return "no change"
	}
	return strings.Join(parts, " ")
}

// Diff returns the fields of cur that differ from prev. With no previous
// state every field is reported.
func Diff(prev *DeviceState, cur DeviceState) DeviceStateChange {
	pick := func(changed bool, v bool) *bool {
		if !changed {
			return nil
		}
		return &v
	}

	if prev == nil {
		return DeviceStateChange{
			UserSitting:       pick(true, cur.UserSitting),
			AnalShowerRunning: pick(true, cur.AnalShowerRunning),
			LadyShowerRunning: pick(true, cur.LadyShowerRunning),
			DryerRunning:      pick(true, cur.DryerRunning),
		}
	}

	return DeviceStateChange{
		UserSitting:       pick(prev.UserSitting != cur.UserSitting, cur.UserSitting),
		AnalShowerRunning: pick(prev.AnalShowerRunning != cur.AnalShowerRunning, cur.AnalShowerRunning),
		LadyShowerRunning: pick(prev.LadyShowerRunning != cur.LadyShowerRunning, cur.LadyShowerRunning),
		DryerRunning:      pick(prev.DryerRunning != cur.DryerRunning, cur.DryerRunning),
	}
}
