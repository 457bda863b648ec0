// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ProfileSetting identifies a value stored in a user profile
type ProfileSetting uint8

// Profile settings
const (
	ProfileOdourExtraction    ProfileSetting = 0
	ProfileOscillatorState    ProfileSetting = 1
	ProfileAnalShowerPressure ProfileSetting = 2
	ProfileLadyShowerPressure ProfileSetting = 3
	ProfileAnalShowerPosition ProfileSetting = 4
	ProfileLadyShowerPosition ProfileSetting = 5
	ProfileWaterTemperature   ProfileSetting = 6
	ProfileWcSeatHeat         ProfileSetting = 7
	ProfileDryerTemperature   ProfileSetting = 8
	ProfileDryerState         ProfileSetting = 9
	ProfileSystemFlush        ProfileSetting = 10
)

var profileNames = []string{
	"OdourExtraction",
	"OscillatorState",
	"AnalShowerPressure",
	"LadyShowerPressure",
	"AnalShowerPosition",
	"LadyShowerPosition",
	"WaterTemperature",
	"WcSeatHeat",
	"DryerTemperature",
	"DryerState",
	"SystemFlush",
}

func (p ProfileSetting) String() string {
	if int(p) < len(profileNames) {
		return profileNames[p]
	}
	return fmt.Sprintf("ProfileSetting(%d)", uint8(p))
}

// ParseProfileSetting resolves a setting by name (case-insensitive)
func ParseProfileSetting(s string) (ProfileSetting, error) {
	for i, n := range profileNames {
		if strings.EqualFold(n, s) {
			return ProfileSetting(i), nil
		}
	}
	return 0, fmt.Errorf("unknown profile setting %q", s)
}

// ProfileSettingNames returns all setting names in numeric order
func ProfileSettingNames() []string {
	return append([]string(nil), profileNames...)
}

// DefaultProfile is the profile written by SetStoredProfileSetting
const DefaultProfile = 0

// GetStoredProfileSetting builds the call reading setting from a profile
func GetStoredProfileSetting(profile uint8, setting ProfileSetting) Call {
	return Call{Attr: AttrGetStoredProfileSetting, Payload: []byte{profile, byte(setting)}}
}

// SetStoredProfileSetting builds the call writing value to the default profile
func SetStoredProfileSetting(setting ProfileSetting, value uint16) Call {
	payload := []byte{DefaultProfile, byte(setting), 0, 0}
	binary.LittleEndian.PutUint16(payload[2:], value)
	return Call{Attr: AttrSetStoredProfileSetting, Payload: payload}
}

// ParseStoredProfileSetting decodes the 2-byte little-endian setting value
func ParseStoredProfileSetting(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("profile setting result too short: %d bytes", len(data))
	}
	return int(binary.LittleEndian.Uint16(data)), nil
}
