// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"io"
)

// extHeader is the 12-byte wrapper common to both HET and BET tables.
type extHeader struct {
	Signature uint32
	Version   uint32
	DataSize  uint32
}

// hetHeader is the typed body header following the extended header.
type hetHeader struct {
	TableSize      uint32
	MaxFileCount   uint32
	HashTableSize  uint32 // bytes
	HashEntrySize  uint32 // bits
	TotalIndexSize uint32 // bits
	IndexSizeExtra uint32 // bits
	IndexSize      uint32 // bits
	BlockTableSize uint32 // bytes
}

// hetTable is the V3+ replacement for the classic hash table: a bit-packed
// fingerprint array keyed by jenkinsHash, paired with a bit-packed file
// index array at the same slot position.
type hetTable struct {
	header      hetHeader
	hashTable   []byte // bit-packed fingerprints, hashEntrySize bits each
	fileIndices []byte // bit-packed indices, indexSize bits each
}

// readHetTable loads and decodes the HET table at offset. key is
// hash("(hash table)", FILE_KEY) for archives that encrypt it, or 0.
func readHetTable(r io.ReadSeeker, offset int64, compressedSize uint32, key uint32) (*hetTable, error) {
	body, err := readExtTable(r, offset, compressedSize, key, hetSignature, "het")
	if err != nil {
		return nil, err
	}
	if len(body) < 32 {
		return nil, newErr(KindInvalidFormat, "read_het", "", nil)
	}

	h := hetHeader{
		TableSize:      binary.LittleEndian.Uint32(body[0:4]),
		MaxFileCount:   binary.LittleEndian.Uint32(body[4:8]),
		HashTableSize:  binary.LittleEndian.Uint32(body[8:12]),
		HashEntrySize:  binary.LittleEndian.Uint32(body[12:16]),
		TotalIndexSize: binary.LittleEndian.Uint32(body[16:20]),
		IndexSizeExtra: binary.LittleEndian.Uint32(body[20:24]),
		IndexSize:      binary.LittleEndian.Uint32(body[24:28]),
		BlockTableSize: binary.LittleEndian.Uint32(body[28:32]),
	}

	rest := body[32:]
	hashEnd := int(h.HashTableSize)
	if hashEnd > len(rest) {
		return nil, newErr(KindInvalidFormat, "read_het", "", nil)
	}
	idxBytes := int((uint64(h.TotalIndexSize) + 7) / 8)
	if hashEnd+idxBytes > len(rest) {
		return nil, newErr(KindInvalidFormat, "read_het", "", nil)
	}

	return &hetTable{
		header:      h,
		hashTable:   rest[:hashEnd],
		fileIndices: rest[hashEnd : hashEnd+idxBytes],
	}, nil
}

// findFile looks up name and returns its block index, per the HET lookup
// procedure: fingerprint match on the probed slot, then the file index read
// from the parallel index array at the same slot.
func (t *hetTable) findFile(name string) (uint32, bool) {
	if t.header.HashEntrySize == 0 || t.header.HashEntrySize > 63 {
		return 0, false
	}
	h := jenkinsHash(name)
	slotCount := uint64(t.header.HashTableSize) * 8 / uint64(t.header.HashEntrySize)
	if slotCount == 0 {
		return 0, false
	}
	fingerprintMask := (uint64(1) << t.header.HashEntrySize) - 1
	probe := h % slotCount
	fingerprint := h & fingerprintMask

	stored, ok := readBits(t.hashTable, probe*uint64(t.header.HashEntrySize), t.header.HashEntrySize)
	if !ok || stored != fingerprint {
		return 0, false
	}

	index, ok := readBits(t.fileIndices, probe*uint64(t.header.IndexSize), t.header.IndexSize)
	if !ok || index >= uint64(t.header.MaxFileCount) {
		return 0, false
	}
	return uint32(index), true
}

// betHeader is the typed body header following the extended header.
type betHeader struct {
	TableSize         uint32
	FileCount         uint32
	Unknown08         uint32
	TableEntrySize    uint32
	BitIndexFilePos   uint32
	BitIndexFileSize  uint32
	BitIndexCmpSize   uint32
	BitIndexFlagIndex uint32
	BitIndexUnknown   uint32
	BitCountFilePos   uint32
	BitCountFileSize  uint32
	BitCountCmpSize   uint32
	BitCountFlagIndex uint32
	BitCountUnknown   uint32
	TotalBetHashSize  uint32
	BetHashSizeExtra  uint32
	BetHashSize       uint32
	BetHashArraySize  uint32
	FlagCount         uint32
}

const betHeaderSize = 19 * 4

// betTable is the V3+ replacement for the classic block table.
type betTable struct {
	header    betHeader
	fileFlags []uint32
	fileTable []byte
	betHashes []uint64
}

// betFileInfo is a decoded BET record.
type betFileInfo struct {
	FilePos        uint64
	FileSize       uint64
	CompressedSize uint64
	Flags          uint32
}

func readBetTable(r io.ReadSeeker, offset int64, compressedSize uint32, key uint32) (*betTable, error) {
	body, err := readExtTable(r, offset, compressedSize, key, betSignature, "bet")
	if err != nil {
		return nil, err
	}
	if len(body) < betHeaderSize {
		return nil, newErr(KindInvalidFormat, "read_bet", "", nil)
	}

	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(body[off : off+4]) }
	h := betHeader{
		TableSize:         u32(0),
		FileCount:         u32(4),
		Unknown08:         u32(8),
		TableEntrySize:    u32(12),
		BitIndexFilePos:   u32(16),
		BitIndexFileSize:  u32(20),
		BitIndexCmpSize:   u32(24),
		BitIndexFlagIndex: u32(28),
		BitIndexUnknown:   u32(32),
		BitCountFilePos:   u32(36),
		BitCountFileSize:  u32(40),
		BitCountCmpSize:   u32(44),
		BitCountFlagIndex: u32(48),
		BitCountUnknown:   u32(52),
		TotalBetHashSize:  u32(56),
		BetHashSizeExtra:  u32(60),
		BetHashSize:       u32(64),
		BetHashArraySize:  u32(68),
		FlagCount:         u32(72),
	}

	cursor := body[betHeaderSize:]

	flags := make([]uint32, h.FlagCount)
	for i := range flags {
		if len(cursor) < 4 {
			return nil, newErr(KindInvalidFormat, "read_bet", "", nil)
		}
		flags[i] = binary.LittleEndian.Uint32(cursor[:4])
		cursor = cursor[4:]
	}

	tableBytes := int((uint64(h.FileCount)*uint64(h.TableEntrySize) + 7) / 8)
	if len(cursor) < tableBytes {
		return nil, newErr(KindInvalidFormat, "read_bet", "", nil)
	}
	fileTable := cursor[:tableBytes]
	cursor = cursor[tableBytes:]

	hashCount := h.BetHashArraySize / 8
	hashes := make([]uint64, hashCount)
	for i := range hashes {
		if len(cursor) < 8 {
			return nil, newErr(KindInvalidFormat, "read_bet", "", nil)
		}
		hashes[i] = binary.LittleEndian.Uint64(cursor[:8])
		cursor = cursor[8:]
	}

	return &betTable{header: h, fileFlags: flags, fileTable: fileTable, betHashes: hashes}, nil
}

// fileInfo decodes the bit-packed record for file index and resolves its
// flags through the flags array.
func (t *betTable) fileInfo(index uint32) (*betFileInfo, bool) {
	if index >= t.header.FileCount || t.header.TableEntrySize == 0 || t.header.TableEntrySize > 63 {
		return nil, false
	}
	entry, ok := readBits(t.fileTable, uint64(index)*uint64(t.header.TableEntrySize), t.header.TableEntrySize)
	if !ok {
		return nil, false
	}

	extract := func(bitIndex, bitCount uint32) uint64 {
		mask := uint64(1)<<bitCount - 1
		return (entry >> bitIndex) & mask
	}

	flagIndex := uint32(extract(t.header.BitIndexFlagIndex, t.header.BitCountFlagIndex))
	var flags uint32
	if flagIndex < t.header.FlagCount {
		flags = t.fileFlags[flagIndex]
	}

	return &betFileInfo{
		FilePos:        extract(t.header.BitIndexFilePos, t.header.BitCountFilePos),
		FileSize:       extract(t.header.BitIndexFileSize, t.header.BitCountFileSize),
		CompressedSize: extract(t.header.BitIndexCmpSize, t.header.BitCountCmpSize),
		Flags:          flags,
	}, true
}

// readExtTable implements the shared HET/BET read procedure: read
// compressed_size bytes, verify the 12-byte extended header, decrypt if
// keyed, decompress if the declared data_size exceeds the bytes read, and
// return the typed body (everything after the 12-byte extended header).
func readExtTable(r io.ReadSeeker, offset int64, compressedSize uint32, key uint32, wantSig uint32, op string) ([]byte, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, newErr(KindIo, op, "", err)
	}
	data := make([]byte, compressedSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, newErr(KindIo, op, "", err)
	}
	if len(data) < 12 {
		return nil, newErr(KindInvalidFormat, op, "", nil)
	}

	if key != 0 {
		decryptBytes(data[12:], key)
	}

	sig := binary.LittleEndian.Uint32(data[0:4])
	if sig != wantSig {
		return nil, newErr(KindInvalidFormat, op, "", nil)
	}
	dataSize := binary.LittleEndian.Uint32(data[8:12])

	plainLen := int(dataSize) + 12
	if plainLen > len(data) {
		if len(data) <= 12 {
			return nil, newErr(KindInvalidFormat, op, "", nil)
		}
		method := data[12]
		decompressed, err := decompressPayload(data[13:], method, int(dataSize))
		if err != nil {
			return nil, err
		}
		return decompressed, nil
	}

	return data[12 : 12+int(dataSize)], nil
}

// readBits reads a little-endian bit-packed field of width bits starting at
// bitOffset within data. Width is limited to 63 bits so the accumulator
// always fits in a uint64.
func readBits(data []byte, bitOffset uint64, width uint32) (uint64, bool) {
	if width == 0 || width > 63 {
		return 0, false
	}
	byteOffset := bitOffset / 8
	bitShift := bitOffset % 8
	needed := int((bitShift+uint64(width)+7)/8)
	if int(byteOffset)+needed > len(data) {
		return 0, false
	}

	var value uint64
	for i := 0; i < needed && i < 8; i++ {
		value |= uint64(data[int(byteOffset)+i]) << (8 * i)
	}
	value >>= bitShift
	if needed > 8 {
		value |= uint64(data[int(byteOffset)+8]) << (64 - bitShift)
	}
	mask := uint64(1)<<width - 1
	return value & mask, true
}
