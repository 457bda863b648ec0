// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package supervisor

import (
	"fmt"
	"time"

	"github.com/Thermoquad/aquaclean/pkg/api"
	"github.com/Thermoquad/aquaclean/pkg/client"
	"github.com/Thermoquad/aquaclean/pkg/errcodes"
)

// State is the phase of the session loop
type State int

const (
	StateStandby State = iota
	StateConnecting
	StatePolling
	StateRecovering
	StateBackoffRetry
	StateStopped
)

var stateNames = [...]string{"STANDBY", "CONNECTING", "POLLING", "RECOVERING", "BACKOFF_RETRY", "STOPPED"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE_%d", int(s))
}

// Snapshot is the last known view of the peripheral
type Snapshot struct {
	State                State                     `json:"state"`
	Connected            bool                      `json:"connected"`
	Device               client.DeviceState        `json:"device"`
	HaveDevice           bool                      `json:"have_device"`
	Identification       *api.DeviceIdentification `json:"identification,omitempty"`
	InitialOperationDate string                    `json:"initial_operation_date,omitempty"`
	SOCVersions          string                    `json:"soc_versions,omitempty"`
	LastPoll             time.Time                 `json:"last_poll"`
	LastError            *errcodes.Record          `json:"last_error,omitempty"`
}

// Counters tracks session activity
type Counters struct {
	Connects        uint64 `json:"connects"`
	ConnectFailures uint64 `json:"connect_failures"`
	Timeouts        uint64 `json:"timeouts"`
	LinkLosses      uint64 `json:"link_losses"`
	Recoveries      uint64 `json:"recoveries"`
	Polls           uint64 `json:"polls"`
	PollErrors      uint64 `json:"poll_errors"`
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
