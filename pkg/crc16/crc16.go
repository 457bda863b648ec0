// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package crc16 computes CRC-16/CCITT checksums: polynomial 0x1021, MSB
// first, no reflection and no final XOR. Only the seed varies between the
// bridge link (0xFFFF, CCITT-FALSE) and the peripheral envelope (0x1234).
package crc16

// Polynomial is the CCITT generator polynomial
const Polynomial = 0x1021

// Seeds used on the wire
const (
	SeedCCITTFalse = 0xFFFF
	SeedXModem     = 0x0000
)

var table = makeTable()

func makeTable() [256]uint16 {
	var t [256]uint16
	for i := range t {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ Polynomial
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// Checksum returns the CRC of data starting from seed
func Checksum(seed uint16, data []byte) uint16 {
	return Update(seed, data)
}

// Update continues a running CRC over data
func Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ table[byte(crc>>8)^b]
	}
	return crc
}
