// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package message

import "github.com/Thermoquad/aquaclean/pkg/crc16"

// crcInitial is the accumulator seed used by the peripheral firmware
const crcInitial = 0x1234

// CRC16 computes the envelope checksum over data. It is CRC-16/CCITT with
// the firmware's own seed, which matches none of the catalogued variants.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(crcInitial, data)
}
