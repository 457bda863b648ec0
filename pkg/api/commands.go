// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"fmt"
	"sort"
	"strings"
)

// Command is a one-byte action executed through SetCommand
type Command uint8

// Commands
const (
	CmdToggleAnalShower            Command = 0
	CmdToggleLadyShower            Command = 1
	CmdToggleDryer                 Command = 2
	CmdStartCleaningDevice         Command = 4
	CmdExecuteNextCleaningStep     Command = 5
	CmdPrepareDescaling            Command = 6
	CmdConfirmDescaling            Command = 7
	CmdCancelDescaling             Command = 8
	CmdPostponeDescaling           Command = 9
	CmdToggleLidPosition           Command = 10
	CmdToggleOrientationLight      Command = 20
	CmdStartLidPositionCalibration Command = 33
	CmdLidPositionOffsetSave       Command = 34
	CmdLidPositionOffsetIncrement  Command = 35
	CmdLidPositionOffsetDecrement  Command = 36
	CmdTriggerFlushManually        Command = 37
	CmdResetFilterCounter          Command = 47
)

var commandNames = map[Command]string{
	CmdToggleAnalShower:            "ToggleAnalShower",
	CmdToggleLadyShower:            "ToggleLadyShower",
	CmdToggleDryer:                 "ToggleDryer",
	CmdStartCleaningDevice:         "StartCleaningDevice",
	CmdExecuteNextCleaningStep:     "ExecuteNextCleaningStep",
	CmdPrepareDescaling:            "PrepareDescaling",
	CmdConfirmDescaling:            "ConfirmDescaling",
	CmdCancelDescaling:             "CancelDescaling",
	CmdPostponeDescaling:           "PostponeDescaling",
	CmdToggleLidPosition:           "ToggleLidPosition",
	CmdToggleOrientationLight:      "ToggleOrientationLight",
	CmdStartLidPositionCalibration: "StartLidPositionCalibration",
	CmdLidPositionOffsetSave:       "LidPositionOffsetSave",
	CmdLidPositionOffsetIncrement:  "LidPositionOffsetIncrement",
	CmdLidPositionOffsetDecrement:  "LidPositionOffsetDecrement",
	CmdTriggerFlushManually:        "TriggerFlushManually",
	CmdResetFilterCounter:          "ResetFilterCounter",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

// ParseCommand resolves a command by name (case-insensitive) or number
func ParseCommand(s string) (Command, error) {
	for c, n := range commandNames {
		if strings.EqualFold(n, s) {
			return c, nil
		}
	}
	var v uint8
	if _, err := fmt.Sscanf(s, "%d", &v); err == nil {
		if _, ok := commandNames[Command(v)]; ok {
			return Command(v), nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

// CommandNames returns all command names in numeric order
func CommandNames() []string {
	cmds := make([]Command, 0, len(commandNames))
	for c := range commandNames {
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i] < cmds[j] })

	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = commandNames[c]
	}
	return names
}

// SetCommand builds the call executing c
func SetCommand(c Command) Call {
	return Call{Attr: AttrSetCommand, Payload: []byte{byte(c)}}
}
