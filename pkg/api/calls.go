// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// System parameter IDs
const (
	ParamUserSitting       = 0
	ParamAnalShower        = 1
	ParamLadyShower        = 2
	ParamDryer             = 3
	ParamDescalingState    = 4
	ParamDescalingDuration = 5
	ParamLastErrorCode     = 6
	ParamOrientationLight  = 9
)

// maxParameters is the most IDs one GetSystemParameterList call can carry
const maxParameters = 12

// parameterEntrySize is one result entry: ID byte plus a uint32 value
const parameterEntrySize = 5

// StatePollParameters is the parameter set read on every state poll
var StatePollParameters = []uint8{0, 1, 2, 3, 4, 5, 7, 9}

// GetSystemParameterList builds the call reading up to 12 parameters
func GetSystemParameterList(ids ...uint8) Call {
	n := min(len(ids), maxParameters)
	payload := make([]byte, maxParameters+1)
	payload[0] = byte(n)
	copy(payload[1:], ids[:n])
	return Call{Attr: AttrGetSystemParameterList, Payload: payload}
}

// Parameter is one entry of a system parameter list
type Parameter struct {
	ID    uint8
	Value uint32
}

// SystemParameterList is the result of GetSystemParameterList
type SystemParameterList struct {
	Header     uint8
	Parameters []Parameter
}

// ParseSystemParameterList decodes entries in request order
func ParseSystemParameterList(data []byte) (*SystemParameterList, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("system parameter list is empty")
	}

	count := (len(data) - 1) / parameterEntrySize
	list := &SystemParameterList{
		Header:     data[0],
		Parameters: make([]Parameter, count),
	}
	for i := 0; i < count; i++ {
		off := 1 + i*parameterEntrySize
		list.Parameters[i] = Parameter{
			ID:    data[off],
			Value: binary.LittleEndian.Uint32(data[off+1:]),
		}
	}
	return list, nil
}

// Value returns the value reported for parameter id
func (l *SystemParameterList) Value(id uint8) (uint32, bool) {
	for _, p := range l.Parameters {
		if p.ID == id {
			return p.Value, true
		}
	}
	return 0, false
}

// At returns the value at position i of the request
func (l *SystemParameterList) At(i int) uint32 {
	if i < 0 || i >= len(l.Parameters) {
		return 0
	}
	return l.Parameters[i].Value
}

// GetDeviceIdentification builds the identification call
func GetDeviceIdentification() Call {
	return Call{Attr: AttrGetDeviceIdentification, Payload: []byte{}}
}

// Identification field widths
const (
	sapNumberSize      = 12
	serialNumberSize   = 20
	productionDateSize = 10
	descriptionSize    = 40
)

// DeviceIdentification describes the peripheral hardware
type DeviceIdentification struct {
	SapNumber      string `json:"sap_number"`
	SerialNumber   string `json:"serial_number"`
	ProductionDate string `json:"production_date"`
	Description    string `json:"description"`
}

// ParseDeviceIdentification decodes the fixed-width identification strings
func ParseDeviceIdentification(data []byte) (*DeviceIdentification, error) {
	want := sapNumberSize + serialNumberSize + productionDateSize + descriptionSize
	if len(data) < sapNumberSize {
		return nil, fmt.Errorf("identification too short: %d bytes (want %d)", len(data), want)
	}

	pos := 0
	next := func(n int) string {
		end := min(pos+n, len(data))
		s := cleanString(data[pos:end])
		pos = end
		return s
	}

	return &DeviceIdentification{
		SapNumber:      next(sapNumberSize),
		SerialNumber:   next(serialNumberSize),
		ProductionDate: next(productionDateSize),
		Description:    next(descriptionSize),
	}, nil
}

// GetDeviceInitialOperationDate builds the initial operation date call
func GetDeviceInitialOperationDate() Call {
	return Call{Attr: AttrGetDeviceInitialOperationDate, Payload: []byte{}}
}

// ParseInitialOperationDate returns the date string reported by the peripheral
func ParseInitialOperationDate(data []byte) string {
	return cleanString(data)
}

// GetSOCApplicationVersions builds the firmware version call
func GetSOCApplicationVersions() Call {
	return Call{Attr: AttrGetSOCApplicationVersions, Payload: []byte{}}
}

// FormatSOCVersions renders the version blob as upper-case hex
func FormatSOCVersions(data []byte) string {
	return strings.ToUpper(fmt.Sprintf("%x", data))
}

// GetStatisticsDescale builds the descale statistics call
func GetStatisticsDescale() Call {
	return Call{Attr: AttrGetStatisticsDescale, Payload: []byte{}}
}

// statisticsDescaleSize is the encoded size of StatisticsDescale
const statisticsDescaleSize = 1 + 2 + 2 + 1 + 4 + 4 + 2

// StatisticsDescale reports the descaling counters
type StatisticsDescale struct {
	UnpostedShowerCycles          uint8  `json:"unposted_shower_cycles"`
	DaysUntilNextDescale          uint16 `json:"days_until_next_descale"`
	DaysUntilShowerRestricted     uint16 `json:"days_until_shower_restricted"`
	ShowerCyclesUntilConfirmation uint8  `json:"shower_cycles_until_confirmation"`
	DateTimeAtLastDescale         uint32 `json:"date_time_at_last_descale"`
	DateTimeAtLastDescalePrompt   uint32 `json:"date_time_at_last_descale_prompt"`
	NumberOfDescaleCycles         uint16 `json:"number_of_descale_cycles"`
}

// LastDescale returns DateTimeAtLastDescale as a time, treating it as Unix seconds
func (s *StatisticsDescale) LastDescale() time.Time {
	return time.Unix(int64(s.DateTimeAtLastDescale), 0).UTC()
}

// ParseStatisticsDescale decodes the little-endian descale record
func ParseStatisticsDescale(data []byte) (*StatisticsDescale, error) {
	if len(data) < statisticsDescaleSize {
		return nil, fmt.Errorf("descale statistics too short: %d bytes (want %d)", len(data), statisticsDescaleSize)
	}

	le := binary.LittleEndian
	return &StatisticsDescale{
		UnpostedShowerCycles:          data[0],
		DaysUntilNextDescale:          le.Uint16(data[1:]),
		DaysUntilShowerRestricted:     le.Uint16(data[3:]),
		ShowerCyclesUntilConfirmation: data[5],
		DateTimeAtLastDescale:         le.Uint32(data[6:]),
		DateTimeAtLastDescalePrompt:   le.Uint32(data[10:]),
		NumberOfDescaleCycles:         le.Uint16(data[14:]),
	}, nil
}

// cleanString drops NUL bytes and surrounding whitespace
func cleanString(b []byte) string {
	return strings.TrimSpace(strings.ReplaceAll(string(b), "\x00", ""))
}
