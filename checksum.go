// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "hash/crc32"

// sectorChecksum computes the CRC-32 (IEEE 802.3 polynomial) used for
// per-sector and attributes-file integrity checks.
func sectorChecksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
