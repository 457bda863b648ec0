// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"strings"

	"github.com/google/uuid"
)

// GATT service and characteristics of the AquaClean bulk channel
var (
	ServiceUUID = uuid.MustParse("3334429d-90f3-4c41-a02d-5cb3a03e0000")

	BulkWriteUUIDs = []uuid.UUID{
		uuid.MustParse("3334429d-90f3-4c41-a02d-5cb3a13e0000"),
		uuid.MustParse("3334429d-90f3-4c41-a02d-5cb3a23e0000"),
		uuid.MustParse("3334429d-90f3-4c41-a02d-5cb3a33e0000"),
		uuid.MustParse("3334429d-90f3-4c41-a02d-5cb3a43e0000"),
	}

	BulkReadUUIDs = []uuid.UUID{
		uuid.MustParse("3334429d-90f3-4c41-a02d-5cb3a53e0000"),
		uuid.MustParse("3334429d-90f3-4c41-a02d-5cb3a63e0000"),
		uuid.MustParse("3334429d-90f3-4c41-a02d-5cb3a73e0000"),
		uuid.MustParse("3334429d-90f3-4c41-a02d-5cb3a83e0000"),
	}
)

// WriteUUID is the characteristic every request is written to
var WriteUUID = BulkWriteUUIDs[0]

// isBulkRead reports whether s names one of the bulk read characteristics
func isBulkRead(s string) bool {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	for _, r := range BulkReadUUIDs {
		if u == r {
			return true
		}
	}
	return false
}

func uuidStrings(list []uuid.UUID) []string {
	out := make([]string, len(list))
	for i, u := range list {
		out[i] = u.String()
	}
	return out
}
