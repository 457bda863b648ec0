// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package message

import (
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Context is the correlation record extracted from a completed response
type Context struct {
	Context   uint8
	Procedure uint8
	Result    []byte
}

func (c *Context) String() string {
	return fmt.Sprintf("ctx=0x%02X proc=0x%02X result=%s", c.Context, c.Procedure, hex.EncodeToString(c.Result))
}

// ProtocolError reports a message the codec cannot handle
type ProtocolError struct {
	ID     uint8
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (message id 0x%02X): %s", e.ID, e.Reason)
}

// BuildRequest wraps a call body into a CRC request envelope and returns the
// header followed by the body.
func BuildRequest(body []byte) ([]byte, error) {
	if HeaderSize+len(body) > MaxBodySize {
		return nil, fmt.Errorf("request too large: %d bytes (max %d)", HeaderSize+len(body), MaxBodySize)
	}
	e, err := NewEnvelope(IDCrcRequest, RequestSegment, body)
	if err != nil {
		return nil, err
	}
	return e.Compact(), nil
}

// Parse decodes a completed transaction into a Context.
//
// A checksum mismatch is logged and otherwise ignored: the firmware sends
// notify envelopes with a wrong CRC from time to time.
func Parse(data []byte, log logrus.FieldLogger) (*Context, error) {
	if len(data) == 0 {
		return nil, &ProtocolError{Reason: "empty transaction"}
	}

	switch id := data[0]; id {
	case IDCrcResponse, IDCrcNotify:
		e, err := ParseEnvelope(data)
		if err != nil {
			return nil, &ProtocolError{ID: id, Reason: err.Error()}
		}
		if !e.IsValid() && log != nil {
			log.WithFields(logrus.Fields{
				"id":       FormatID(id),
				"expected": fmt.Sprintf("0x%04X", CRC16(e.Body)),
				"got":      fmt.Sprintf("0x%04X", e.CRC),
			}).Warn("envelope CRC mismatch")
		}
		return contextFromBody(id, e.Body)

	case IDPlainRequest, IDPlainResponse, IDPlainNotify:
		return nil, &ProtocolError{ID: id, Reason: "plain messages are not supported"}

	default:
		return nil, &ProtocolError{ID: id, Reason: "unknown message id"}
	}
}

func contextFromBody(id uint8, body []byte) (*Context, error) {
	if len(body) < 5 {
		return nil, &ProtocolError{ID: id, Reason: fmt.Sprintf("body too short: %d bytes", len(body))}
	}

	argLen := int(body[4])
	end := 5 + argLen
	if end > len(body) {
		end = len(body)
	}

	result := make([]byte, end-5)
	copy(result, body[5:end])

	return &Context{
		Context:   body[2],
		Procedure: body[3],
		Result:    result,
	}, nil
}
