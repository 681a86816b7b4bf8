// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"io"
)

// MPQ format constants
const (
	// Magic signature "MPQ\x1A" in little-endian
	mpqMagic = 0x1A51504D
	// Magic signature "MPQ\x1B" for a user-data prefix
	mpqUserDataMagic = 0x1B51504D

	// Format versions
	formatVersion1 = 0 // Original format (up to 4GB)
	formatVersion2 = 1 // Extended format (Burning Crusade+)
	formatVersion3 = 2 // HET/BET format (Cataclysm+)
	formatVersion4 = 3 // MD5-protected format (Cataclysm+)

	// Header sizes
	headerSizeV1 = 0x20 // 32 bytes
	headerSizeV2 = 0x2C // 44 bytes
	headerSizeV3 = 0x44 // 68 bytes
	headerSizeV4 = 0xD0 // 208 bytes

	// Header alignment used when scanning for the archive's header
	headerAlignment = 0x200

	// Block table entry flags
	fileImplode      = 0x00000100 // Imploded (PKWARE compression)
	fileCompress     = 0x00000200 // Compressed (multi-algorithm)
	fileEncrypted    = 0x00010000 // Encrypted
	fileFixKey       = 0x00020000 // Key adjusted by block offset
	filePatchFile    = 0x00100000 // Patch file
	fileSingleUnit   = 0x01000000 // Single unit (not split into sectors)
	fileDeleteMarker = 0x02000000 // File is a deletion marker
	fileSectorCRC    = 0x04000000 // Sector CRC values after data
	fileExists       = 0x80000000 // File exists

	// Hash table entry constants
	hashTableEmpty   = 0xFFFFFFFF
	hashTableDeleted = 0xFFFFFFFE

	// Locale
	localeNeutral = 0x00000000

	// Default sector size (4096 bytes = 512 << 3)
	defaultSectorSizeShift = 3
	defaultSectorSize      = 512 << defaultSectorSizeShift

	// HET/BET extended header signatures
	hetSignature = 0x1A544548 // "HET\x1A"
	betSignature = 0x1A544542 // "BET\x1A"
)

// userDataHeader is the optional 12-byte prefix preceding the real MPQ
// header, used when an archive is embedded inside a larger container such
// as an installer or self-extracting executable.
type userDataHeader struct {
	Signature          uint32
	UserDataSize       uint32
	HeaderOffset       uint32
	UserDataHeaderSize uint32
}

// baseHeader is the MPQ archive header (V1 format - 32 bytes)
type baseHeader struct {
	Magic            uint32 // "MPQ\x1A"
	HeaderSize       uint32 // Size of this header
	ArchiveSize      uint32 // Size of the entire archive (deprecated from V2 on)
	FormatVersion    uint16 // Format version (0=V1, 1=V2, 2=V3, 3=V4)
	SectorSizeShift  uint16 // Power of 2 for sector size
	HashTableOffset  uint32 // Offset to hash table (low 32 bits)
	BlockTableOffset uint32 // Offset to block table (low 32 bits)
	HashTableSize    uint32 // Number of entries in hash table
	BlockTableSize   uint32 // Number of entries in block table
}

// extendedHeader contains V2 extended header fields (12 bytes)
type extendedHeader struct {
	HiBlockTableOffset64 uint64 // 64-bit offset to the hi-block table
	HashTableOffsetHi    uint16 // High 16 bits of hash table offset
	BlockTableOffsetHi   uint16 // High 16 bits of block table offset
}

// v3Header contains V3 extended header fields (24 bytes)
type v3Header struct {
	ArchiveSize64 uint64 // 64-bit archive size
	BetTablePos   uint64 // Offset to BET table (includes its extended header)
	HetTablePos   uint64 // Offset to HET table
}

// v4Header contains V4 extended header fields (140 bytes): compressed
// sizes for every table plus six MD5 digests. Reading these fields is
// supported; writing them is not (see DESIGN.md).
type v4Header struct {
	HashTableSize64    uint64
	BlockTableSize64   uint64
	HiBlockTableSize64 uint64
	HetTableSize64     uint64
	BetTableSize64     uint64
	RawChunkSize       uint32
	MD5BlockTable      [16]byte
	MD5HashTable       [16]byte
	MD5HiBlockTable    [16]byte
	MD5BetTable        [16]byte
	MD5HetTable        [16]byte
	MD5MpqHeader       [16]byte
}

// archiveHeader combines all four MPQ header generations plus the
// archive's absolute offset within its byte source.
type archiveHeader struct {
	baseHeader
	extendedHeader
	v3Header
	v4Header

	// ArchiveOffset is the absolute byte offset at which this header (and
	// thus the archive) begins within the underlying file. Table and file
	// positions stored in the header are relative to this offset.
	ArchiveOffset uint64

	// UserData is the parsed user-data prefix, if one was present.
	UserData *userDataHeader
}

// getHashTableOffset64 returns the full 64-bit hash table offset
func (h *archiveHeader) getHashTableOffset64() uint64 {
	if h.FormatVersion >= formatVersion2 {
		return uint64(h.HashTableOffset) | (uint64(h.HashTableOffsetHi) << 32)
	}
	return uint64(h.HashTableOffset)
}

// getBlockTableOffset64 returns the full 64-bit block table offset
func (h *archiveHeader) getBlockTableOffset64() uint64 {
	if h.FormatVersion >= formatVersion2 {
		return uint64(h.BlockTableOffset) | (uint64(h.BlockTableOffsetHi) << 32)
	}
	return uint64(h.BlockTableOffset)
}

// setHashTableOffset64 sets the hash table offset
func (h *archiveHeader) setHashTableOffset64(offset uint64) {
	h.HashTableOffset = uint32(offset)
	h.HashTableOffsetHi = uint16(offset >> 32)
}

// setBlockTableOffset64 sets the block table offset
func (h *archiveHeader) setBlockTableOffset64(offset uint64) {
	h.BlockTableOffset = uint32(offset)
	h.BlockTableOffsetHi = uint16(offset >> 32)
}

// getHetTablePos64 returns the HET table position, or 0 if absent.
func (h *archiveHeader) getHetTablePos64() uint64 {
	if h.FormatVersion >= formatVersion3 {
		return h.HetTablePos
	}
	return 0
}

// getBetTablePos64 returns the BET table position, or 0 if absent.
func (h *archiveHeader) getBetTablePos64() uint64 {
	if h.FormatVersion >= formatVersion3 {
		return h.BetTablePos
	}
	return 0
}

// sectorSize returns 512 << block_size_shift.
func (h *archiveHeader) sectorSize() uint32 {
	return 512 << h.SectorSizeShift
}

// hashTableEntry represents an entry in the hash table
type hashTableEntry struct {
	HashA      uint32 // First hash of the file name
	HashB      uint32 // Second hash of the file name
	Locale     uint16 // Locale ID
	Platform   uint16 // Platform ID (0 = default)
	BlockIndex uint32 // Index into the block table
}

// blockTableEntry represents an entry in the block table
type blockTableEntry struct {
	FilePos        uint32 // Offset of the file data (low 32 bits)
	CompressedSize uint32 // Compressed file size
	FileSize       uint32 // Uncompressed file size
	Flags          uint32 // File flags
}

// blockTableEntryEx extends blockTableEntry with 64-bit offset support
type blockTableEntryEx struct {
	blockTableEntry
	FilePosHi uint16 // High 16 bits of file offset (from extended block table)
}

// getFilePos64 returns the full 64-bit file position
func (b *blockTableEntryEx) getFilePos64() uint64 {
	return uint64(b.FilePos) | (uint64(b.FilePosHi) << 32)
}

// setFilePos64 sets the file position
func (b *blockTableEntryEx) setFilePos64(pos uint64) {
	b.FilePos = uint32(pos)
	b.FilePosHi = uint16(pos >> 32)
}

// findArchiveHeader scans r at 512-byte-aligned offsets looking for either
// the MPQ signature directly or a user-data prefix pointing to one. Archives
// are not required to begin at offset 0: installers and self-extracting
// executables commonly prepend arbitrary bytes.
func findArchiveHeader(r io.ReadSeeker) (*archiveHeader, error) {
	fileSize, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, newErr(KindIo, "find_header", "", err)
	}

	for offset := int64(0); offset < fileSize; offset += headerAlignment {
		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			return nil, newErr(KindIo, "find_header", "", err)
		}

		var sig uint32
		if err := binary.Read(r, binary.LittleEndian, &sig); err != nil {
			continue
		}

		switch sig {
		case mpqMagic:
			if _, err := r.Seek(offset, io.SeekStart); err != nil {
				return nil, newErr(KindIo, "find_header", "", err)
			}
			header, err := readArchiveHeader(r)
			if err != nil {
				return nil, err
			}
			header.ArchiveOffset = uint64(offset)
			return header, nil

		case mpqUserDataMagic:
			ud := &userDataHeader{Signature: sig}
			if err := binary.Read(r, binary.LittleEndian, &ud.UserDataSize); err != nil {
				continue
			}
			if err := binary.Read(r, binary.LittleEndian, &ud.HeaderOffset); err != nil {
				continue
			}
			if err := binary.Read(r, binary.LittleEndian, &ud.UserDataHeaderSize); err != nil {
				continue
			}

			mpqOffset := offset + int64(ud.HeaderOffset)
			if mpqOffset < 0 || mpqOffset >= fileSize {
				continue
			}
			if _, err := r.Seek(mpqOffset, io.SeekStart); err != nil {
				continue
			}
			var mpqSig uint32
			if err := binary.Read(r, binary.LittleEndian, &mpqSig); err != nil || mpqSig != mpqMagic {
				continue
			}
			if _, err := r.Seek(mpqOffset, io.SeekStart); err != nil {
				return nil, newErr(KindIo, "find_header", "", err)
			}
			header, err := readArchiveHeader(r)
			if err != nil {
				return nil, err
			}
			header.ArchiveOffset = uint64(mpqOffset)
			header.UserData = ud
			return header, nil
		}
	}

	return nil, newErr(KindInvalidFormat, "find_header", "", nil)
}

// readArchiveHeader reads the MPQ header from a reader positioned at its
// start, decoding only the extension fields the declared format_version
// actually carries.
func readArchiveHeader(r io.ReadSeeker) (*archiveHeader, error) {
	h := &archiveHeader{}

	if err := binary.Read(r, binary.LittleEndian, &h.baseHeader); err != nil {
		return nil, newErr(KindIo, "read_header", "", err)
	}

	if h.Magic != mpqMagic {
		return nil, newErr(KindInvalidFormat, "read_header", "", nil)
	}
	if h.HeaderSize < headerSizeV1 {
		return nil, newErr(KindInvalidFormat, "read_header", "", nil)
	}
	if h.FormatVersion > formatVersion4 {
		return nil, newErr(KindUnsupportedVersion, "read_header", "", nil)
	}

	if h.FormatVersion >= formatVersion4 && h.HeaderSize < headerSizeV4 {
		return nil, newErr(KindInvalidFormat, "read_header", "", nil)
	}
	if h.FormatVersion >= formatVersion3 && h.HeaderSize < headerSizeV3 {
		return nil, newErr(KindInvalidFormat, "read_header", "", nil)
	}
	if h.FormatVersion >= formatVersion2 && h.HeaderSize < headerSizeV2 {
		return nil, newErr(KindInvalidFormat, "read_header", "", nil)
	}

	if h.FormatVersion >= formatVersion2 && h.HeaderSize >= headerSizeV2 {
		if err := binary.Read(r, binary.LittleEndian, &h.extendedHeader); err != nil {
			return nil, newErr(KindIo, "read_header", "", err)
		}
	}

	if h.FormatVersion >= formatVersion3 && h.HeaderSize >= headerSizeV3 {
		if err := binary.Read(r, binary.LittleEndian, &h.v3Header); err != nil {
			return nil, newErr(KindIo, "read_header", "", err)
		}
	}

	if h.FormatVersion >= formatVersion4 && h.HeaderSize >= headerSizeV4 {
		if err := binary.Read(r, binary.LittleEndian, &h.v4Header); err != nil {
			return nil, newErr(KindIo, "read_header", "", err)
		}
	}

	return h, nil
}

// writeArchiveHeader writes the MPQ header to a writer. V1, V2 and V3
// headers can be produced (see DESIGN.md); the V4 extension fields are
// never written.
func writeArchiveHeader(w io.Writer, h *archiveHeader) error {
	if err := binary.Write(w, binary.LittleEndian, &h.baseHeader); err != nil {
		return err
	}

	if h.FormatVersion >= formatVersion2 {
		if err := binary.Write(w, binary.LittleEndian, &h.extendedHeader); err != nil {
			return err
		}
	}

	if h.FormatVersion >= formatVersion3 {
		if err := binary.Write(w, binary.LittleEndian, &h.v3Header); err != nil {
			return err
		}
	}

	return nil
}

// readUint32Array reads an array of uint32 values
func readUint32Array(r io.Reader, data []uint32) error {
	return binary.Read(r, binary.LittleEndian, data)
}

// readUint16Array reads an array of uint16 values
func readUint16Array(r io.Reader, data []uint16) error {
	return binary.Read(r, binary.LittleEndian, data)
}

// writeUint32Array writes an array of uint32 values
func writeUint32Array(w io.Writer, data []uint32) error {
	return binary.Write(w, binary.LittleEndian, data)
}

// writeUint16Array writes an array of uint16 values
func writeUint16Array(w io.Writer, data []uint16) error {
	return binary.Write(w, binary.LittleEndian, data)
}
