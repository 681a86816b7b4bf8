// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestV3FormatRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	testFile := filepath.Join(tmpDir, "test.txt")
	content := []byte("V3 format test content, stored via the classic tables only.")
	require.NoError(t, os.WriteFile(testFile, content, 0644))

	mpqPath := filepath.Join(tmpDir, "test_v3.mpq")
	archive, err := CreateWithVersion(mpqPath, 10, FormatV3)
	require.NoError(t, err)
	require.NoError(t, archive.AddFile(testFile, "Data\\Test.txt"))
	require.NoError(t, archive.Close())

	readArchive, err := Open(mpqPath)
	require.NoError(t, err)
	defer readArchive.Close()

	assert.True(t, readArchive.HasFile("Data\\Test.txt"))

	extractPath := filepath.Join(tmpDir, "extracted.txt")
	require.NoError(t, readArchive.ExtractFile("Data\\Test.txt", extractPath))

	extracted, err := os.ReadFile(extractPath)
	require.NoError(t, err)
	assert.Equal(t, content, extracted)
}

func TestDuplicateFileRejectedAtAddFile(t *testing.T) {
	tmpDir := t.TempDir()

	testFile := filepath.Join(tmpDir, "test.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("data"), 0644))

	mpqPath := filepath.Join(tmpDir, "dup.mpq")
	archive, err := Create(mpqPath, 10)
	require.NoError(t, err)

	require.NoError(t, archive.AddFile(testFile, "Data\\Test.txt"))

	err = archive.AddFile(testFile, "data\\test.txt") // same name, different case
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKind(KindDuplicateFile)))
}

func TestDuplicateFileRejectedAtHashTable(t *testing.T) {
	tmpDir := t.TempDir()
	mpqPath := filepath.Join(tmpDir, "dup_table.mpq")

	archive, err := CreateWithVersion(mpqPath, 10, FormatV1)
	require.NoError(t, err)

	// addToHashTable expects the table pre-seeded with empty markers, which
	// writeArchive normally does before inserting any file.
	for i := range archive.hashTable {
		archive.hashTable[i].BlockIndex = hashTableEmpty
	}

	require.NoError(t, archive.addToHashTable("Some\\File.txt", 0, 0))

	err = archive.addToHashTable("Some\\File.txt", 1, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKind(KindDuplicateFile)))
}

func TestParseListfile(t *testing.T) {
	data := []byte("War3.mpq\r\n; this is a comment\r\n#another comment\r\n\r\nunits\\footman.mdx;metadata here\r\nscripts\\common.j\r\n")

	names := parseListfile(data)
	assert.Equal(t, []string{"War3.mpq", "units\\footman.mdx", "scripts\\common.j"}, names)
}

func TestBuildListfileRoundTrip(t *testing.T) {
	names := []string{"a.txt", "dir\\b.txt", "(listfile)"}
	built := buildListfile(names)
	parsed := parseListfile(built)
	assert.Equal(t, names, parsed)
}

func TestListFilesExcludesSpecialFiles(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("data"), 0644))

	mpqPath := filepath.Join(tmpDir, "listfiles.mpq")
	archive, err := Create(mpqPath, 10)
	require.NoError(t, err)
	require.NoError(t, archive.AddFile(testFile, "Data\\Test.txt"))
	require.NoError(t, archive.Close())

	readArchive, err := Open(mpqPath)
	require.NoError(t, err)
	defer readArchive.Close()

	names, err := readArchive.ListFiles()
	require.NoError(t, err)
	assert.Contains(t, names, "Data\\Test.txt")
	assert.NotContains(t, names, "(listfile)")
	assert.NotContains(t, names, "(attributes)")

	allNames, err := readArchive.ListFilesAll()
	require.NoError(t, err)
	assert.Contains(t, allNames, "(listfile)")
}

func TestVerifySignatureNoSignatureFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("data"), 0644))

	mpqPath := filepath.Join(tmpDir, "unsigned.mpq")
	archive, err := Create(mpqPath, 10)
	require.NoError(t, err)
	require.NoError(t, archive.AddFile(testFile, "Data\\Test.txt"))
	require.NoError(t, archive.Close())

	readArchive, err := Open(mpqPath)
	require.NoError(t, err)
	defer readArchive.Close()

	status, err := readArchive.VerifySignature()
	require.NoError(t, err)
	assert.Equal(t, SignatureNone, status)
}

func TestDebugHashMatchesInternalSlots(t *testing.T) {
	name := "Data\\Test.txt"
	assert.Equal(t, uint64(hashString(name, hashTypeNameA)), DebugHash(name, "name_a"))
	assert.Equal(t, uint64(hashString(name, hashTypeNameB)), DebugHash(name, "name_b"))
	assert.Equal(t, uint64(hashString(name, hashTypeFileKey)), DebugHash(name, "file_key"))
	assert.Equal(t, jenkinsHash(name), DebugHash(name, "jenkins"))
	assert.Equal(t, uint64(0), DebugHash(name, "not_a_real_slot"))
}

func TestJenkinsHashStableAndCaseInsensitive(t *testing.T) {
	h1 := jenkinsHash("Units\\Footman.mdx")
	h2 := jenkinsHash("units/footman.mdx")
	assert.Equal(t, h1, h2, "jenkinsHash should normalize case and slashes like hashString")

	h3 := jenkinsHash("Units\\Peasant.mdx")
	assert.NotEqual(t, h1, h3)
}

// TestHetBetLookup builds a minimal synthetic HET/BET pair directly (rather
// than via the writer, which never emits them - see DESIGN.md) to verify the
// bit-packed read/probe logic against a known-good record.
func TestHetBetLookup(t *testing.T) {
	const name = "Data\\Known.txt"
	const fileIndex = uint32(3)

	h := jenkinsHash(name)
	const hashEntrySize = 8 // bits per fingerprint
	const indexSize = 8     // bits per file index
	slotCount := uint64(64)

	fingerprintMask := uint64(1)<<hashEntrySize - 1
	probe := h % slotCount
	fingerprint := h & fingerprintMask

	hashBytes := make([]byte, slotCount*hashEntrySize/8)
	hashBytes[probe] = byte(fingerprint)

	indexBytes := make([]byte, slotCount*indexSize/8)
	indexBytes[probe] = byte(fileIndex)

	// Force the unknown name's own slot to a mismatching fingerprint so the
	// negative lookup below is deterministic even if it happens to share a
	// probe slot with the known name.
	const unknownName = "Data\\Unknown.txt"
	hUnknown := jenkinsHash(unknownName)
	probeUnknown := hUnknown % slotCount
	fingerprintUnknown := byte(hUnknown & fingerprintMask)
	if probeUnknown != probe {
		hashBytes[probeUnknown] = fingerprintUnknown + 1
	} else if hashBytes[probe] == fingerprintUnknown {
		hashBytes[probe] = fingerprintUnknown + 1
	}

	ht := &hetTable{
		header: hetHeader{
			MaxFileCount:   16,
			HashTableSize:  uint32(len(hashBytes)),
			HashEntrySize:  hashEntrySize,
			TotalIndexSize: uint32(len(indexBytes)) * 8,
			IndexSize:      indexSize,
		},
		hashTable:   hashBytes,
		fileIndices: indexBytes,
	}

	gotIndex, ok := ht.findFile(name)
	require.True(t, ok)
	assert.Equal(t, fileIndex, gotIndex)

	_, ok = ht.findFile("Data\\Unknown.txt")
	assert.False(t, ok)

	bt := &betTable{
		header: betHeader{
			FileCount:         16,
			TableEntrySize:    40,
			BitIndexFilePos:   0,
			BitCountFilePos:   20,
			BitIndexFileSize:  20,
			BitCountFileSize:  16,
			BitIndexCmpSize:   0,
			BitCountCmpSize:   0,
			BitIndexFlagIndex: 36,
			BitCountFlagIndex: 4,
			FlagCount:         2,
		},
		fileFlags: []uint32{0, fileExists | fileCompress},
		fileTable: make([]byte, 16*40/8),
	}

	entry := uint64(0x1234) | uint64(100)<<20 | uint64(1)<<36
	for bit := uint32(0); bit < 40; bit++ {
		if entry&(1<<bit) == 0 {
			continue
		}
		bitPos := uint64(fileIndex)*40 + uint64(bit)
		bt.fileTable[bitPos/8] |= 1 << (bitPos % 8)
	}

	info, ok := bt.fileInfo(fileIndex)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1234), info.FilePos)
	assert.Equal(t, uint64(100), info.FileSize)
	assert.Equal(t, fileExists|fileCompress, info.Flags)

	entry2 := info.toFileEntry()
	assert.Equal(t, uint64(0x1234), entry2.FilePos)
}

func TestCompressSectorDataPicksSmaller(t *testing.T) {
	zeros := make([]byte, 4096)
	compressed, err := compressSectorData(zeros)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(zeros))

	decompressed, err := decompressData(compressed, uint32(len(zeros)))
	require.NoError(t, err)
	assert.Equal(t, zeros, decompressed)
}

// TestSectorCRCFailureReportsSectorIndex drives Archive.readSectors directly
// with a hand-built single-sector buffer whose stored CRC doesn't match its
// payload, so the mismatch is deterministic rather than depending on where a
// corrupted byte happens to land in a real archive.
func TestSectorCRCFailureReportsSectorIndex(t *testing.T) {
	a := &Archive{mode: "r", sectorSize: defaultSectorSize}

	payload := make([]byte, defaultSectorSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	offsetTableSize := uint32(8) // one sector: 2 offsets
	crcTableSize := uint32(4)
	crcTableEnd := offsetTableSize + crcTableSize

	buf := make([]byte, crcTableEnd+uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[0:4], crcTableEnd)
	binary.LittleEndian.PutUint32(buf[4:8], crcTableEnd+uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[8:12], sectorChecksum(payload)+1) // deliberately wrong
	copy(buf[crcTableEnd:], payload)

	block := &fileEntry{
		FileSize:       uint32(len(payload)),
		CompressedSize: uint32(len(buf)),
		Flags:          fileSectorCRC,
	}

	_, err := a.readSectors("Data\\Test.bin", buf, block, 0)
	require.Error(t, err)

	var mpqErr *Error
	require.True(t, errors.As(err, &mpqErr))
	assert.Equal(t, KindChecksumMismatch, mpqErr.Kind)
	assert.True(t, mpqErr.HasSector)
	assert.Equal(t, 0, mpqErr.SectorIndex)
}
