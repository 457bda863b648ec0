// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package errcodes is the catalogue of operator-facing error codes.
//
// Codes have the form E<category><number>: E0xxx BLE, E1xxx proxy,
// E2xxx recovery, E3xxx command, E4xxx request validation, E6xxx
// configuration and E7xxx internal errors.
package errcodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Severity of a code
type Severity string

// Severities
const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Code is one catalogue entry
type Code struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Hint     string   `json:"hint,omitempty"`
}

func (c Code) String() string {
	return fmt.Sprintf("%s %s", c.ID, c.Message)
}

// IsZero reports whether c is the "no error" code
func (c Code) IsZero() bool {
	return c.ID == "" || c.ID == None.ID
}

// Coded is implemented by errors that know their catalogue entry
type Coded interface {
	ErrorCode() Code
}

// Record is one occurrence of a code
type Record struct {
	Code      Code
	Details   string
	Timestamp time.Time
}

// New records an occurrence of c now
func New(c Code, details string) Record {
	return Record{Code: c, Details: details, Timestamp: time.Now().UTC()}
}

// FromError records err under the code it classifies as
func FromError(err error) Record {
	if err == nil {
		return New(None, "")
	}
	return New(Classify(err), err.Error())
}

// Message is the code message with details appended
func (r Record) Message() string {
	if r.Details == "" {
		return r.Code.Message
	}
	return r.Code.Message + ": " + r.Details
}

// CLI renders the record for terminal output
func (r Record) CLI() string {
	s := fmt.Sprintf("%s [%s]: %s", r.Code.Severity, r.Code.ID, r.Message())
	if r.Code.Hint != "" {
		s += "\n  Hint: " + r.Code.Hint
	}
	return s
}

type recordJSON struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Severity  string `json:"severity"`
	Timestamp string `json:"timestamp,omitempty"`
}

// MarshalJSON encodes the record as {code, message, hint, severity, timestamp}
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Code:     r.Code.ID,
		Message:  r.Message(),
		Hint:     r.Code.Hint,
		Severity: string(r.Code.Severity),
	}
	if !r.Timestamp.IsZero() {
		out.Timestamp = r.Timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// JSON is MarshalJSON as a string
func (r Record) JSON() string {
	b, err := r.MarshalJSON()
	if err != nil {
		return fmt.Sprintf(`{"code":%q}`, r.Code.ID)
	}
	return string(b)
}

// Classify maps an error onto a catalogue entry. Errors implementing Coded
// anywhere in their chain win; otherwise context errors map to timeouts and
// the rest to General.
func Classify(err error) Code {
	if err == nil {
		return None
	}

	var coded Coded
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return BLEConnectTimeout
	case errors.Is(err, context.Canceled):
		return ShutdownTimeout
	}
	return General
}

// Lookup finds a code by ID
func Lookup(id string) (Code, bool) {
	for _, c := range All() {
		if c.ID == id {
			return c, true
		}
	}
	return Code{}, false
}
