// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api describes the remote procedures offered by an AquaClean
// peripheral: their opcodes, request payloads and result layouts.
package api

import (
	"fmt"
)

// Attribute identifies one remote procedure
type Attribute struct {
	Context   uint8
	Procedure uint8
	Node      uint8
}

func (a Attribute) String() string {
	return fmt.Sprintf("ctx=0x%02X proc=0x%02X node=0x%02X", a.Context, a.Procedure, a.Node)
}

// Known procedures
var (
	AttrGetSystemParameterList        = Attribute{Context: 0x01, Procedure: 0x0D, Node: 0x01}
	AttrGetDeviceIdentification       = Attribute{Context: 0x00, Procedure: 0x82, Node: 0x01}
	AttrGetDeviceInitialOperationDate = Attribute{Context: 0x00, Procedure: 0x86, Node: 0x01}
	AttrGetSOCApplicationVersions     = Attribute{Context: 0x01, Procedure: 0x81, Node: 0x01}
	AttrGetStatisticsDescale          = Attribute{Context: 0x01, Procedure: 0x45, Node: 0x01}
	AttrGetStoredProfileSetting       = Attribute{Context: 0x01, Procedure: 0x53, Node: 0x01}
	AttrSetStoredProfileSetting       = Attribute{Context: 0x01, Procedure: 0x54, Node: 0x01}
	AttrSetCommand                    = Attribute{Context: 0x01, Procedure: 0x09, Node: 0x00}
)

var attributeNames = map[Attribute]string{
	AttrGetSystemParameterList:        "GetSystemParameterList",
	AttrGetDeviceIdentification:       "GetDeviceIdentification",
	AttrGetDeviceInitialOperationDate: "GetDeviceInitialOperationDate",
	AttrGetSOCApplicationVersions:     "GetSOCApplicationVersions",
	AttrGetStatisticsDescale:          "GetStatisticsDescale",
	AttrGetStoredProfileSetting:       "GetStoredProfileSetting",
	AttrSetStoredProfileSetting:       "SetStoredProfileSetting",
	AttrSetCommand:                    "SetCommand",
}

// Name returns the procedure name, or the raw opcode if unknown
func (a Attribute) Name() string {
	if n, ok := attributeNames[a]; ok {
		return n
	}
	return a.String()
}

// Lookup finds the known procedure answering with context and procedure.
// Responses do not carry the node byte.
func Lookup(context, procedure uint8) (Attribute, bool) {
	for a := range attributeNames {
		if a.Context == context && a.Procedure == procedure {
			return a, true
		}
	}
	return Attribute{}, false
}

// Call is a request ready to be sent
type Call struct {
	Attr    Attribute
	Payload []byte
}

func (c Call) String() string {
	return fmt.Sprintf("%s (%d byte payload)", c.Attr.Name(), len(c.Payload))
}
