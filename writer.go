// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"os"
)

// writeArchive writes the complete MPQ archive: file data first, then the
// (listfile) and (attributes) special files, then the hash/block tables
// and header. Only V1-V3 archives are ever produced; V3's HET/BET tables
// are never written (see DESIGN.md) so a V3-tagged archive here carries
// only the classic tables, which StormLib-derived readers accept.
func (a *Archive) writeArchive() error {
	file, err := os.Create(a.tempPath)
	if err != nil {
		return newErr(KindIo, "write_archive", a.tempPath, err)
	}
	defer file.Close()

	for i := range a.hashTable {
		a.hashTable[i] = hashTableEntry{
			HashA:      0xFFFFFFFF,
			HashB:      0xFFFFFFFF,
			Locale:     0xFFFF,
			Platform:   0xFFFF,
			BlockIndex: hashTableEmpty,
		}
	}

	headerSize := a.header.HeaderSize
	if _, err := file.Seek(int64(headerSize), 0); err != nil {
		return newErr(KindIo, "write_archive", "", err)
	}

	actualFileCount := len(a.pendingFiles)
	totalBlockCount := actualFileCount
	if actualFileCount > 0 {
		totalBlockCount += 2 // (listfile), (attributes)
	}

	a.blockTable = make([]blockTableEntryEx, 0, totalBlockCount)
	var listFileNames []string
	attributes := newAttributesWriter(totalBlockCount)
	needsHiBlockTable := false

	for i, pf := range a.pendingFiles {
		filePos, err := file.Seek(0, 1)
		if err != nil {
			return newErr(KindIo, "write_archive", pf.mpqPath, err)
		}
		if filePos > 0xFFFFFFFF {
			needsHiBlockTable = true
		}

		if pf.isDeleteMarker {
			blockEntry := blockTableEntryEx{
				blockTableEntry: blockTableEntry{
					FilePos: uint32(filePos),
					Flags:   fileDeleteMarker | fileExists,
				},
				FilePosHi: uint16(filePos >> 32),
			}
			a.blockTable = append(a.blockTable, blockEntry)
			if err := a.addToHashTable(pf.mpqPath, uint32(len(a.blockTable)-1), pf.locale); err != nil {
				return err
			}
			listFileNames = append(listFileNames, pf.mpqPath)
			continue
		}

		var dataToWrite []byte
		var flags uint32 = fileExists
		var compressedSize uint32

		useSectors := len(pf.data) > int(a.sectorSize)
		useSectorCRC := pf.generateCRC

		if pf.encrypt {
			flags |= fileEncrypted
			if pf.useFixKey {
				flags |= fileFixKey
			}
		}
		key := getFileKey(pf.mpqPath, uint64(filePos), uint32(len(pf.data)), flags)

		if useSectors {
			dataToWrite, compressedSize, err = a.writeSectoredFile(pf.data, useSectorCRC, pf.encrypt, key)
			if err != nil {
				return err
			}
			flags |= fileCompress
			if useSectorCRC {
				flags |= fileSectorCRC
			}
		} else {
			compressedData, err := compressSectorData(pf.data)
			if err != nil {
				return err
			}

			flags |= fileSingleUnit

			if len(compressedData) < len(pf.data) {
				dataToWrite = compressedData
				flags |= fileCompress
			} else {
				dataToWrite = append([]byte(nil), pf.data...)
			}

			if useSectorCRC {
				crc := sectorChecksum(dataToWrite)
				crcBytes := make([]byte, 4)
				binary.LittleEndian.PutUint32(crcBytes, crc)
				dataToWrite = append(dataToWrite, crcBytes...)
				flags |= fileSectorCRC
			}

			if pf.encrypt {
				encryptBytes(dataToWrite, key)
			}

			compressedSize = uint32(len(dataToWrite))
		}

		if pf.isPatchFile {
			flags |= filePatchFile
		}

		if _, err := file.Write(dataToWrite); err != nil {
			return newErr(KindIo, "write_archive", pf.mpqPath, err)
		}

		blockEntry := blockTableEntryEx{
			blockTableEntry: blockTableEntry{
				FilePos:        uint32(filePos),
				CompressedSize: compressedSize,
				FileSize:       uint32(len(pf.data)),
				Flags:          flags,
			},
			FilePosHi: uint16(filePos >> 32),
		}
		a.blockTable = append(a.blockTable, blockEntry)
		attributes.setEntry(i, pf.data)

		if err := a.addToHashTable(pf.mpqPath, uint32(len(a.blockTable)-1), pf.locale); err != nil {
			return err
		}

		listFileNames = append(listFileNames, pf.mpqPath)
	}

	if len(listFileNames) > 0 {
		listFileNames = append(listFileNames, "(listfile)")
		listFileData := buildListfile(listFileNames)
		listFilePos, _ := file.Seek(0, 1)
		if listFilePos > 0xFFFFFFFF {
			needsHiBlockTable = true
		}

		compressedListFile, err := compressSectorData(listFileData)
		if err != nil {
			return err
		}

		var dataToWrite []byte
		var flags uint32 = fileExists | fileSingleUnit
		if len(compressedListFile) < len(listFileData) {
			dataToWrite = compressedListFile
			flags |= fileCompress
		} else {
			dataToWrite = listFileData
		}

		if _, err := file.Write(dataToWrite); err != nil {
			return newErr(KindIo, "write_archive", "(listfile)", err)
		}

		blockEntry := blockTableEntryEx{
			blockTableEntry: blockTableEntry{
				FilePos:        uint32(listFilePos),
				CompressedSize: uint32(len(dataToWrite)),
				FileSize:       uint32(len(listFileData)),
				Flags:          flags,
			},
			FilePosHi: uint16(listFilePos >> 32),
		}
		a.blockTable = append(a.blockTable, blockEntry)

		listFileIndex := len(a.pendingFiles)
		attributes.setEntry(listFileIndex, listFileData)

		if err := a.addToHashTable("(listfile)", uint32(len(a.blockTable)-1), 0); err != nil {
			return err
		}
	}

	attributesIndex := len(a.pendingFiles)
	if len(listFileNames) > 0 {
		attributesIndex++
	}
	attributes.setEntry(attributesIndex, nil)

	attributesData, err := attributes.build()
	if err != nil {
		return err
	}
	if len(attributesData) > 0 {
		attrPos, _ := file.Seek(0, 1)
		if attrPos > 0xFFFFFFFF {
			needsHiBlockTable = true
		}

		compressedAttributes, err := compressSectorData(attributesData)
		if err != nil {
			return err
		}

		var attrToWrite []byte
		var attrFlags uint32 = fileExists | fileSingleUnit
		if len(compressedAttributes) < len(attributesData) {
			attrToWrite = compressedAttributes
			attrFlags |= fileCompress
		} else {
			attrToWrite = attributesData
		}

		if _, err := file.Write(attrToWrite); err != nil {
			return newErr(KindIo, "write_archive", "(attributes)", err)
		}

		blockEntry := blockTableEntryEx{
			blockTableEntry: blockTableEntry{
				FilePos:        uint32(attrPos),
				CompressedSize: uint32(len(attrToWrite)),
				FileSize:       uint32(len(attributesData)),
				Flags:          attrFlags,
			},
			FilePosHi: uint16(attrPos >> 32),
		}
		a.blockTable = append(a.blockTable, blockEntry)

		if err := a.addToHashTable("(attributes)", uint32(len(a.blockTable)-1), 0); err != nil {
			return err
		}
	}

	hashTableOffset, _ := file.Seek(0, 1)

	hashTableData := make([]uint32, len(a.hashTable)*4)
	for i, entry := range a.hashTable {
		hashTableData[i*4] = entry.HashA
		hashTableData[i*4+1] = entry.HashB
		hashTableData[i*4+2] = uint32(entry.Locale) | (uint32(entry.Platform) << 16)
		hashTableData[i*4+3] = entry.BlockIndex
	}
	encryptBlock(hashTableData, hashString("(hash table)", hashTypeFileKey))

	if err := writeUint32Array(file, hashTableData); err != nil {
		return newErr(KindIo, "write_archive", "hash_table", err)
	}

	blockTableOffset, _ := file.Seek(0, 1)

	blockTableData := make([]uint32, len(a.blockTable)*4)
	for i, entry := range a.blockTable {
		blockTableData[i*4] = entry.FilePos
		blockTableData[i*4+1] = entry.CompressedSize
		blockTableData[i*4+2] = entry.FileSize
		blockTableData[i*4+3] = entry.Flags
	}
	encryptBlock(blockTableData, hashString("(block table)", hashTypeFileKey))

	if err := writeUint32Array(file, blockTableData); err != nil {
		return newErr(KindIo, "write_archive", "block_table", err)
	}

	var hiBlockTableOffset int64
	if a.formatVersion != FormatV1 && needsHiBlockTable {
		hiBlockTableOffset, _ = file.Seek(0, 1)

		hiBlockTable := make([]uint16, len(a.blockTable))
		for i, entry := range a.blockTable {
			hiBlockTable[i] = entry.FilePosHi
		}

		if err := writeUint16Array(file, hiBlockTable); err != nil {
			return newErr(KindIo, "write_archive", "hi_block_table", err)
		}
	}

	totalFileSize, _ := file.Seek(0, 1)
	archiveSize := uint32(totalFileSize)

	a.header.setHashTableOffset64(uint64(hashTableOffset))
	a.header.setBlockTableOffset64(uint64(blockTableOffset))
	a.header.BlockTableSize = uint32(len(a.blockTable))
	a.header.ArchiveSize = archiveSize

	if a.formatVersion != FormatV1 {
		if needsHiBlockTable {
			a.header.HiBlockTableOffset64 = uint64(hiBlockTableOffset)
		} else {
			a.header.HiBlockTableOffset64 = 0
		}
	}
	if a.formatVersion == FormatV3 {
		a.header.ArchiveSize64 = uint64(totalFileSize)
	}

	if _, err := file.Seek(0, 0); err != nil {
		return newErr(KindIo, "write_archive", "", err)
	}

	if err := writeArchiveHeader(file, a.header); err != nil {
		return newErr(KindIo, "write_archive", "", err)
	}

	return nil
}

// writeSectoredFile writes file data in sectors with an optional CRC table.
// When encrypt is set, each sector is encrypted with key+i after
// compression, and the offset table (and CRC table, if present) are
// encrypted with key-1, mirroring readSectors' decryption order. Returns
// the complete data buffer (offset table, optional CRC table, then sector
// payloads) and its size.
func (a *Archive) writeSectoredFile(data []byte, useCRC bool, encrypt bool, key uint32) ([]byte, uint32, error) {
	numSectors := (uint32(len(data)) + a.sectorSize - 1) / a.sectorSize

	offsetTable := make([]uint32, numSectors+1)
	sectorCRCs := make([]uint32, 0, numSectors)
	sectors := make([][]byte, numSectors)

	offsetTableSize := (numSectors + 1) * 4
	var crcTableSize uint32
	if useCRC {
		crcTableSize = numSectors * 4
	}

	currentOffset := offsetTableSize + crcTableSize

	for i := uint32(0); i < numSectors; i++ {
		start := i * a.sectorSize
		end := start + a.sectorSize
		if end > uint32(len(data)) {
			end = uint32(len(data))
		}

		sectorData := data[start:end]

		if useCRC {
			sectorCRCs = append(sectorCRCs, sectorChecksum(sectorData))
		}

		compressed, err := compressSectorData(sectorData)
		if err != nil {
			return nil, 0, err
		}

		var sectorOutput []byte
		if len(compressed) < len(sectorData) {
			sectorOutput = compressed
		} else {
			sectorOutput = append([]byte(nil), sectorData...)
		}

		if encrypt {
			encryptBytes(sectorOutput, key+i)
		}
		sectors[i] = sectorOutput

		offsetTable[i] = currentOffset
		currentOffset += uint32(len(sectors[i]))
	}

	offsetTable[numSectors] = currentOffset

	if encrypt {
		encryptBlock(offsetTable, key-1)
		if useCRC {
			encryptBlock(sectorCRCs, key-1+numSectors)
		}
	}

	totalSize := currentOffset
	result := make([]byte, totalSize)

	offset := uint32(0)
	for _, off := range offsetTable {
		binary.LittleEndian.PutUint32(result[offset:], off)
		offset += 4
	}

	if useCRC {
		for _, crc := range sectorCRCs {
			binary.LittleEndian.PutUint32(result[offset:], crc)
			offset += 4
		}
	}

	for _, sector := range sectors {
		copy(result[offset:], sector)
		offset += uint32(len(sector))
	}

	return result, totalSize, nil
}

// addToHashTable inserts mpqPath into the hash table via open-addressing
// probe, rejecting a name whose (hashA, hashB, locale) triple already
// occupies a live slot.
func (a *Archive) addToHashTable(mpqPath string, blockIndex uint32, locale uint16) error {
	hashA := hashString(mpqPath, hashTypeNameA)
	hashB := hashString(mpqPath, hashTypeNameB)
	startIndex := hashString(mpqPath, hashTypeTableOffset) % a.header.HashTableSize

	for i := uint32(0); i < a.header.HashTableSize; i++ {
		idx := (startIndex + i) % a.header.HashTableSize
		entry := &a.hashTable[idx]

		if entry.BlockIndex == hashTableEmpty || entry.BlockIndex == hashTableDeleted {
			entry.HashA = hashA
			entry.HashB = hashB
			entry.Locale = locale
			entry.Platform = 0
			entry.BlockIndex = blockIndex
			return nil
		}

		if entry.HashA == hashA && entry.HashB == hashB && entry.Locale == locale {
			return newErr(KindDuplicateFile, "add_file", mpqPath, nil)
		}
	}

	return newErr(KindInvalidFormat, "add_file", mpqPath, nil)
}
