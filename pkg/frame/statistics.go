// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"time"
)

// Statistics tracks datagram traffic handled by an Engine
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Inbound
	Datagrams          uint64
	SingleFrames       uint64
	FirstFrames        uint64
	ConsecutiveFrames  uint64
	ControlFrames      uint64
	InfoFrames         uint64
	DecodeErrors       uint64
	ReassemblyErrors   uint64
	Transactions       uint64
	TransactionBytes   uint64
	OutboundCompleted  uint64
	InvalidOutboundAck uint64

	// Outbound
	RequestsSent uint64
	AcksSent     uint64
	WriteErrors  uint64

	// Rates (calculated)
	DatagramRate float64 // datagrams/sec
	ErrorRate    float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// countFrame updates the per-type counters for a decoded datagram
func (s *Statistics) countFrame(f Frame, decodeErr error) {
	s.Datagrams++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		s.DecodeErrors++
		return
	}

	switch f.Header().Type {
	case TypeSingle:
		s.SingleFrames++
	case TypeFirst:
		s.FirstFrames++
	case TypeConsecutive:
		s.ConsecutiveFrames++
	case TypeControl:
		s.ControlFrames++
	case TypeInfo:
		s.InfoFrames++
	}
}

// CalculateRates calculates datagram and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.DatagramRate = float64(s.Datagrams) / elapsed
		s.ErrorRate = float64(s.DecodeErrors+s.ReassemblyErrors+s.WriteErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Frame Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Datagrams:       %8d\n", s.Datagrams)
	result += fmt.Sprintf("  Single:          %6d\n", s.SingleFrames)
	result += fmt.Sprintf("  First:           %6d\n", s.FirstFrames)
	result += fmt.Sprintf("  Consecutive:     %6d\n", s.ConsecutiveFrames)
	result += fmt.Sprintf("  Control:         %6d\n", s.ControlFrames)
	result += fmt.Sprintf("  Info:            %6d\n", s.InfoFrames)
	result += fmt.Sprintf("Transactions:    %8d (%d bytes)\n", s.Transactions, s.TransactionBytes)
	result += fmt.Sprintf("Requests Sent:   %8d\n", s.RequestsSent)
	result += fmt.Sprintf("Acks Sent:       %8d\n", s.AcksSent)

	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.ReassemblyErrors > 0 {
		result += fmt.Sprintf("Reassembly Errs: %8d\n", s.ReassemblyErrors)
	}
	if s.WriteErrors > 0 {
		result += fmt.Sprintf("Write Errors:    %8d\n", s.WriteErrors)
	}
	if s.InvalidOutboundAck > 0 {
		result += fmt.Sprintf("Invalid Acks:    %8d\n", s.InvalidOutboundAck)
	}

	result += fmt.Sprintf("Datagram Rate:   %8.1f dgrams/sec\n", s.DatagramRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "=======================================\n"

	return result
}
