// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import "github.com/Thermoquad/aquaclean/pkg/crc16"

// CalculateCRC is the link checksum over the length prefix and CBOR body
func CalculateCRC(data []byte) uint16 {
	return crc16.Checksum(crcInitial, data)
}
