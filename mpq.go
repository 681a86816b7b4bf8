// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FormatVersion specifies which MPQ format version to use when creating archives.
type FormatVersion int

const (
	// FormatV1 creates archives using the original MPQ format (up to 4GB).
	// Compatible with all games that use MPQ.
	FormatV1 FormatVersion = 0

	// FormatV2 creates archives using the extended format (>4GB support).
	// Compatible with WoW: The Burning Crusade and later.
	FormatV2 FormatVersion = 1

	// FormatV3 creates archives with a V3 header. Reading V3 archives,
	// including their HET/BET tables, is fully supported; the writer emits
	// only the classic hash/block tables for them (no HET/BET tables) and
	// never the V4 MD5 header protection.
	FormatV3 FormatVersion = 2
)

// Archive represents an MPQ archive.
type Archive struct {
	file          *os.File
	path          string
	tempPath      string
	mode          string // "r" for read, "w" for write
	header        *archiveHeader
	hashTable     []hashTableEntry
	blockTable    []blockTableEntryEx
	hetTable      *hetTable
	betTable      *betTable
	pendingFiles  []pendingFile
	sectorSize    uint32
	formatVersion FormatVersion
	log           *zap.SugaredLogger
}

// pendingFile represents a file to be added to the archive.
type pendingFile struct {
	srcPath        string
	mpqPath        string
	data           []byte
	generateCRC    bool   // Whether to generate sector CRC for this file
	isPatchFile    bool   // Mark as a patch file (FILE_PATCH_FILE)
	isDeleteMarker bool   // Mark as a deletion marker (FILE_DELETE_MARKER)
	encrypt        bool   // Encrypt the file's sectors/single-unit payload
	useFixKey      bool   // Adjust the encryption key by the file's block offset (FIX_KEY)
	locale         uint16 // Locale tag for the hash-table entry; 0 is neutral/wildcard
}

// AddOptions controls how AddFileWithAdvancedOptions writes a pending file.
type AddOptions struct {
	// GenerateCRC enables the per-sector (or single-unit) checksum trailer.
	GenerateCRC bool
	// Encrypt enables per-sector (or single-unit) encryption of the file's data.
	Encrypt bool
	// FixKey adjusts the encryption key by the file's offset within the
	// archive, per the FIX_KEY block flag. Only meaningful when Encrypt is set.
	FixKey bool
	// Locale tags the hash-table entry for this file. 0 (the default) is
	// the neutral locale, which matches any lookup locale.
	Locale uint16
}

// fileEntry is the resolved location and metadata for a single archive
// member, regardless of whether it was found via the classic block table
// or a BET record.
type fileEntry struct {
	FilePos        uint64
	CompressedSize uint32
	FileSize       uint32
	Flags          uint32
}

func (b *blockTableEntryEx) toFileEntry() *fileEntry {
	return &fileEntry{
		FilePos:        b.getFilePos64(),
		CompressedSize: b.CompressedSize,
		FileSize:       b.FileSize,
		Flags:          b.Flags,
	}
}

func (b *betFileInfo) toFileEntry() *fileEntry {
	return &fileEntry{
		FilePos:        b.FilePos,
		CompressedSize: uint32(b.CompressedSize),
		FileSize:       uint32(b.FileSize),
		Flags:          b.Flags,
	}
}

// Create creates a new MPQ archive using V1 format.
// The maxFiles parameter specifies the maximum number of files the archive can hold.
func Create(path string, maxFiles int) (*Archive, error) {
	return CreateWithVersion(path, maxFiles, FormatV1)
}

// CreateV2 creates a new MPQ archive using V2 format.
// V2 format supports archives larger than 4GB and is compatible with
// WoW: The Burning Crusade and later.
func CreateV2(path string, maxFiles int) (*Archive, error) {
	return CreateWithVersion(path, maxFiles, FormatV2)
}

// CreateWithVersion creates a new MPQ archive with the specified format version.
func CreateWithVersion(path string, maxFiles int, version FormatVersion) (*Archive, error) {
	if version < FormatV1 || version > FormatV3 {
		return nil, newErr(KindUnsupported, "create", path, nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, newErr(KindIo, "create", path, err)
	}

	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, "mpq_*.tmp")
	if err != nil {
		return nil, newErr(KindIo, "create", path, err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()

	hashTableSize := nextPowerOf2(uint32(maxFiles * 2))
	if hashTableSize < 16 {
		hashTableSize = 16
	}

	var headerSize uint32
	var formatVer uint16
	switch version {
	case FormatV3:
		headerSize = headerSizeV3
		formatVer = formatVersion3
	case FormatV2:
		headerSize = headerSizeV2
		formatVer = formatVersion2
	default:
		headerSize = headerSizeV1
		formatVer = formatVersion1
	}

	header := &archiveHeader{
		baseHeader: baseHeader{
			Magic:           mpqMagic,
			HeaderSize:      headerSize,
			FormatVersion:   formatVer,
			SectorSizeShift: defaultSectorSizeShift,
			HashTableSize:   hashTableSize,
			BlockTableSize:  0,
		},
	}

	return &Archive{
		path:          path,
		tempPath:      tempPath,
		mode:          "w",
		header:        header,
		hashTable:     make([]hashTableEntry, hashTableSize),
		blockTable:    make([]blockTableEntryEx, 0, maxFiles),
		pendingFiles:  make([]pendingFile, 0, maxFiles),
		sectorSize:    defaultSectorSize,
		formatVersion: version,
	}, nil
}

// Open opens an existing MPQ archive for reading. Supports all four
// format generations; V3 and V4 archives additionally load their HET/BET
// tables when present.
func Open(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, newErr(KindIo, "open", path, err)
	}

	header, err := findArchiveHeader(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	a := &Archive{
		file:       file,
		path:       path,
		mode:       "r",
		header:     header,
		sectorSize: header.sectorSize(),
	}

	if header.HashTableSize > 0 {
		if err := a.loadClassicTables(); err != nil {
			file.Close()
			return nil, err
		}
	}

	if header.FormatVersion >= formatVersion3 {
		if err := a.loadExtendedTables(); err != nil {
			file.Close()
			return nil, err
		}
	}

	return a, nil
}

// loadClassicTables reads and decrypts the V1+ hash and block tables, and
// the V2+ hi-block table extension.
func (a *Archive) loadClassicTables() error {
	header := a.header
	file := a.file

	hashTableOffset := header.getHashTableOffset64() + header.ArchiveOffset
	if _, err := file.Seek(int64(hashTableOffset), io.SeekStart); err != nil {
		return newErr(KindIo, "open", "hash_table", err)
	}

	hashTableData := make([]uint32, header.HashTableSize*4)
	if err := readUint32Array(file, hashTableData); err != nil {
		return newErr(KindIo, "open", "hash_table", err)
	}
	decryptBlock(hashTableData, hashString("(hash table)", hashTypeFileKey))

	hashTable := make([]hashTableEntry, header.HashTableSize)
	for i := range hashTable {
		hashTable[i] = hashTableEntry{
			HashA:      hashTableData[i*4],
			HashB:      hashTableData[i*4+1],
			Locale:     uint16(hashTableData[i*4+2] & 0xFFFF),
			Platform:   uint16(hashTableData[i*4+2] >> 16),
			BlockIndex: hashTableData[i*4+3],
		}
	}

	blockTableOffset := header.getBlockTableOffset64() + header.ArchiveOffset
	if _, err := file.Seek(int64(blockTableOffset), io.SeekStart); err != nil {
		return newErr(KindIo, "open", "block_table", err)
	}

	blockTableData := make([]uint32, header.BlockTableSize*4)
	if err := readUint32Array(file, blockTableData); err != nil {
		return newErr(KindIo, "open", "block_table", err)
	}
	decryptBlock(blockTableData, hashString("(block table)", hashTypeFileKey))

	blockTable := make([]blockTableEntryEx, header.BlockTableSize)
	for i := range blockTable {
		blockTable[i] = blockTableEntryEx{
			blockTableEntry: blockTableEntry{
				FilePos:        blockTableData[i*4],
				CompressedSize: blockTableData[i*4+1],
				FileSize:       blockTableData[i*4+2],
				Flags:          blockTableData[i*4+3],
			},
		}
	}

	if header.FormatVersion >= formatVersion2 && header.HiBlockTableOffset64 != 0 {
		hiBlockOffset := header.HiBlockTableOffset64 + header.ArchiveOffset
		if _, err := file.Seek(int64(hiBlockOffset), io.SeekStart); err != nil {
			return newErr(KindIo, "open", "hi_block_table", err)
		}

		hiBlockTable := make([]uint16, header.BlockTableSize)
		if err := readUint16Array(file, hiBlockTable); err != nil {
			return newErr(KindIo, "open", "hi_block_table", err)
		}

		for i := range blockTable {
			blockTable[i].FilePosHi = hiBlockTable[i]
		}
	}

	a.hashTable = hashTable
	a.blockTable = blockTable
	return nil
}

// loadExtendedTables reads the HET and BET tables for V3+ archives. Their
// compressed size is taken from the V4 header extension when present;
// otherwise it's inferred from the nearest following table offset, since a
// pure V3 header has no compressed-size field of its own.
func (a *Archive) loadExtendedTables() error {
	header := a.header
	hetPos := header.getHetTablePos64()
	betPos := header.getBetTablePos64()
	if hetPos == 0 && betPos == 0 {
		return nil
	}

	archiveEnd, err := a.archiveEndOffset()
	if err != nil {
		return err
	}

	key := hashString("(hash table)", hashTypeFileKey)

	if hetPos != 0 {
		size := header.HetTableSize64
		if size == 0 {
			size = a.inferTableExtent(hetPos, archiveEnd)
		}
		t, err := readHetTable(a.file, int64(hetPos+header.ArchiveOffset), uint32(size), key)
		if err != nil {
			a.logger().Warnw("failed to load HET table", "error", err)
		} else {
			a.hetTable = t
		}
	}

	if betPos != 0 {
		size := header.BetTableSize64
		if size == 0 {
			size = a.inferTableExtent(betPos, archiveEnd)
		}
		t, err := readBetTable(a.file, int64(betPos+header.ArchiveOffset), uint32(size), key)
		if err != nil {
			a.logger().Warnw("failed to load BET table", "error", err)
		} else {
			a.betTable = t
		}
	}

	return nil
}

// archiveEndOffset returns the archive-relative offset of the end of the
// archive, used as the default boundary for inferTableExtent.
func (a *Archive) archiveEndOffset() (uint64, error) {
	info, err := a.file.Stat()
	if err != nil {
		return 0, newErr(KindIo, "open", "", err)
	}
	size := uint64(info.Size())
	if size <= a.header.ArchiveOffset {
		return 0, nil
	}
	return size - a.header.ArchiveOffset, nil
}

// inferTableExtent picks the nearest known table boundary after pos as the
// table's end, for header generations that don't carry an explicit
// compressed-size field for HET/BET.
func (a *Archive) inferTableExtent(pos uint64, archiveEnd uint64) uint64 {
	h := a.header
	candidates := []uint64{
		h.getHashTableOffset64(),
		h.getBlockTableOffset64(),
		h.getHetTablePos64(),
		h.getBetTablePos64(),
		archiveEnd,
	}

	best := archiveEnd
	for _, c := range candidates {
		if c > pos && c < best {
			best = c
		}
	}
	if best <= pos {
		return 0
	}
	return best - pos
}

// AddFile adds a file to the archive.
// The srcPath is the path to the file on disk.
// The mpqPath is the path within the archive (use backslashes or forward slashes).
// This method is only valid for archives opened with Create.
func (a *Archive) AddFile(srcPath, mpqPath string) error {
	return a.AddFileWithOptions(srcPath, mpqPath, false)
}

// AddFileWithCRC adds a file to the archive with sector CRC generation enabled.
// The srcPath is the path to the file on disk.
// The mpqPath is the path within the archive (use backslashes or forward slashes).
// This method is only valid for archives opened with Create.
func (a *Archive) AddFileWithCRC(srcPath, mpqPath string) error {
	return a.AddFileWithOptions(srcPath, mpqPath, true)
}

// AddFileWithOptions adds a file to the archive with specified options.
func (a *Archive) AddFileWithOptions(srcPath, mpqPath string, generateCRC bool) error {
	return a.AddFileWithAdvancedOptions(srcPath, mpqPath, AddOptions{GenerateCRC: generateCRC})
}

// AddFileWithAdvancedOptions adds a file to the archive with full control
// over CRC, encryption and locale tagging. The srcPath is the path to the
// file on disk; mpqPath is the path within the archive (use backslashes or
// forward slashes). This method is only valid for archives opened with
// Create.
func (a *Archive) AddFileWithAdvancedOptions(srcPath, mpqPath string, opts AddOptions) error {
	if a.mode != "w" {
		return newErr(KindIo, "add_file", mpqPath, nil)
	}

	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return newErr(KindIo, "add_file", srcPath, err)
	}

	if a.hasPendingFile(mpqPath, opts.Locale) {
		return newErr(KindDuplicateFile, "add_file", mpqPath, nil)
	}

	a.pendingFiles = append(a.pendingFiles, pendingFile{
		srcPath:     srcPath,
		mpqPath:     mpqPath,
		data:        data,
		generateCRC: opts.GenerateCRC,
		encrypt:     opts.Encrypt,
		useFixKey:   opts.FixKey,
		locale:      opts.Locale,
	})

	return nil
}

// AddPatchFile adds a file marked as a patch file (FILE_PATCH_FILE).
// Patch files are typically used in MPQ patch archives.
func (a *Archive) AddPatchFile(srcPath, mpqPath string) error {
	if a.mode != "w" {
		return newErr(KindIo, "add_patch_file", mpqPath, nil)
	}

	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return newErr(KindIo, "add_patch_file", srcPath, err)
	}

	if a.hasPendingFile(mpqPath, 0) {
		return newErr(KindDuplicateFile, "add_patch_file", mpqPath, nil)
	}

	a.pendingFiles = append(a.pendingFiles, pendingFile{
		srcPath:     srcPath,
		mpqPath:     mpqPath,
		data:        data,
		isPatchFile: true,
	})

	return nil
}

// AddDeleteMarker adds a deletion marker for a file.
// This is used in patch archives to indicate that a file should be deleted.
func (a *Archive) AddDeleteMarker(mpqPath string) error {
	if a.mode != "w" {
		return newErr(KindIo, "add_delete_marker", mpqPath, nil)
	}

	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	if a.hasPendingFile(mpqPath, 0) {
		return newErr(KindDuplicateFile, "add_delete_marker", mpqPath, nil)
	}

	a.pendingFiles = append(a.pendingFiles, pendingFile{
		mpqPath:        mpqPath,
		data:           nil,
		isDeleteMarker: true,
	})

	return nil
}

// hasPendingFile reports whether a pending file already occupies the same
// (name, locale) slot, matching the classic table's duplicate rule.
func (a *Archive) hasPendingFile(mpqPath string, locale uint16) bool {
	for _, f := range a.pendingFiles {
		if strings.EqualFold(f.mpqPath, mpqPath) && f.locale == locale {
			return true
		}
	}
	return false
}

// ExtractFile extracts a file from the archive to the specified destination.
// The mpqPath is the path within the archive (use backslashes or forward slashes).
func (a *Archive) ExtractFile(mpqPath, destPath string) error {
	return a.ExtractFileLocale(mpqPath, destPath, 0)
}

// ExtractFileLocale is ExtractFile with an explicit lookup locale; 0 matches
// any entry's locale, per the classic table's locale-aware match rule.
func (a *Archive) ExtractFileLocale(mpqPath, destPath string, locale uint16) error {
	if a.mode != "r" {
		return newErr(KindIo, "extract_file", mpqPath, nil)
	}

	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	block, err := a.findFileLocale(mpqPath, locale)
	if err != nil {
		return err
	}

	fileData, err := a.readFileData(mpqPath, block)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return newErr(KindIo, "extract_file", destPath, err)
	}

	if err := os.WriteFile(destPath, fileData, 0644); err != nil {
		return newErr(KindIo, "extract_file", destPath, err)
	}

	return nil
}

// readFileData implements the file reader procedure: resolve the
// encryption key, then dispatch to the single-unit or sectored path.
func (a *Archive) readFileData(mpqPath string, block *fileEntry) ([]byte, error) {
	filePos := block.FilePos + a.header.ArchiveOffset
	if _, err := a.file.Seek(int64(filePos), io.SeekStart); err != nil {
		return nil, newErr(KindIo, "extract_file", mpqPath, err)
	}

	compressedData := make([]byte, block.CompressedSize)
	if _, err := io.ReadFull(a.file, compressedData); err != nil {
		return nil, newErr(KindIo, "extract_file", mpqPath, err)
	}

	var key uint32
	if block.Flags&fileEncrypted != 0 {
		key = getFileKey(mpqPath, block.FilePos, block.FileSize, block.Flags)
	}

	if block.Flags&fileSingleUnit != 0 {
		return a.readSingleUnit(mpqPath, compressedData, block, key)
	}
	return a.readSectors(mpqPath, compressedData, block, key)
}

// readSingleUnit handles a file stored as one unit (no sector directory).
func (a *Archive) readSingleUnit(mpqPath string, data []byte, block *fileEntry, key uint32) ([]byte, error) {
	if block.Flags&fileEncrypted != 0 {
		decryptBytes(data, key)
	}

	if block.Flags&fileCompress != 0 && block.CompressedSize < block.FileSize {
		decompressed, err := decompressData(data, block.FileSize)
		if err != nil {
			return nil, err
		}
		data = decompressed
	}

	if block.Flags&fileSectorCRC != 0 {
		if len(data) < 4 {
			return nil, newErr(KindInvalidFormat, "extract_file", mpqPath, nil)
		}
		payload := data[:len(data)-4]
		expected := binary.LittleEndian.Uint32(data[len(data)-4:])
		actual := sectorChecksum(payload)
		if actual != expected {
			return nil, newChecksumErr("extract_file", mpqPath, expected, actual, 0, false)
		}
		return payload, nil
	}

	return data, nil
}

// readSectors handles a sectored file: a sector-offset directory, an
// optional sector CRC table, then per-sector [decrypt, decompress, CRC].
func (a *Archive) readSectors(mpqPath string, data []byte, block *fileEntry, key uint32) ([]byte, error) {
	numSectors := (block.FileSize + a.sectorSize - 1) / a.sectorSize
	offsetTableSize := (numSectors + 1) * 4

	if uint32(len(data)) < offsetTableSize {
		return nil, newErr(KindInvalidFormat, "extract_file", mpqPath, nil)
	}

	offsetTable := make([]uint32, numSectors+1)
	for i := range offsetTable {
		offsetTable[i] = binary.LittleEndian.Uint32(data[i*4 : i*4+4])
	}
	if block.Flags&fileEncrypted != 0 {
		decryptBlock(offsetTable, key-1)
	}

	var sectorCRCs []uint32
	if block.Flags&fileSectorCRC != 0 {
		crcTableSize := numSectors * 4
		crcTableEnd := offsetTableSize + crcTableSize
		if offsetTable[0] >= crcTableEnd && uint32(len(data)) >= crcTableEnd {
			sectorCRCs = make([]uint32, numSectors)
			for i := uint32(0); i < numSectors; i++ {
				start := offsetTableSize + i*4
				sectorCRCs[i] = binary.LittleEndian.Uint32(data[start : start+4])
			}
			if block.Flags&fileEncrypted != 0 {
				decryptBlock(sectorCRCs, key-1+numSectors)
			}
		}
	}

	result := make([]byte, 0, block.FileSize)

	for i := uint32(0); i < numSectors; i++ {
		sectorStart := offsetTable[i]
		sectorEnd := offsetTable[i+1]

		if sectorStart > uint32(len(data)) || sectorEnd > uint32(len(data)) || sectorEnd < sectorStart {
			return nil, newErr(KindInvalidFormat, "extract_file", mpqPath, nil)
		}

		sectorData := make([]byte, sectorEnd-sectorStart)
		copy(sectorData, data[sectorStart:sectorEnd])

		if block.Flags&fileEncrypted != 0 {
			decryptBytes(sectorData, key+i)
		}

		expectedSize := a.sectorSize
		if i == numSectors-1 {
			expectedSize = block.FileSize - i*a.sectorSize
		}

		var sectorOutput []byte
		if block.Flags&fileCompress != 0 && uint32(len(sectorData)) < expectedSize {
			decompressed, err := decompressData(sectorData, expectedSize)
			if err != nil {
				return nil, err
			}
			sectorOutput = decompressed
		} else {
			sectorOutput = sectorData
		}

		if len(sectorCRCs) > 0 {
			actual := sectorChecksum(sectorOutput)
			expected := sectorCRCs[i]
			if actual != expected {
				return nil, newChecksumErr("extract_file", mpqPath, expected, actual, int(i), true)
			}
		}

		result = append(result, sectorOutput...)
	}

	return result, nil
}

// ListFiles returns the list of member files in the archive by reading the
// (listfile), excluding the well-known special files themselves.
func (a *Archive) ListFiles() ([]string, error) {
	names, err := a.listAllFiles()
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := getSpecialFileInfo(name); ok {
			continue
		}
		files = append(files, name)
	}
	return files, nil
}

// ListFilesAll returns every name recorded in the (listfile), including
// special-file names such as (listfile) itself.
func (a *Archive) ListFilesAll() ([]string, error) {
	return a.listAllFiles()
}

func (a *Archive) listAllFiles() ([]string, error) {
	if a.mode != "r" {
		return nil, newErr(KindIo, "list_files", "", nil)
	}

	tmpFile, err := os.CreateTemp("", "mpq_listfile_*")
	if err != nil {
		return nil, newErr(KindIo, "list_files", "", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	if err := a.ExtractFile("(listfile)", tmpPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, newErr(KindIo, "list_files", "", err)
	}

	return parseListfile(data), nil
}

// HasFile returns true if the archive contains the specified file.
// The mpqPath is the path within the archive (use backslashes or forward slashes).
// Files marked as deletion markers return false.
func (a *Archive) HasFile(mpqPath string) bool {
	return a.HasFileLocale(mpqPath, 0)
}

// HasFileLocale is HasFile with an explicit lookup locale; 0 matches any
// entry's locale, per the classic table's locale-aware match rule.
func (a *Archive) HasFileLocale(mpqPath string, locale uint16) bool {
	if a.mode == "w" {
		mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")
		for _, f := range a.pendingFiles {
			if strings.EqualFold(f.mpqPath, mpqPath) && localeMatches(locale, f.locale) {
				return !f.isDeleteMarker
			}
		}
		return false
	}

	block, err := a.findFileLocale(mpqPath, locale)
	if err != nil {
		return false
	}
	return block.Flags&fileDeleteMarker == 0
}

// IsDeleteMarker returns true if the file is marked for deletion (used in patches).
func (a *Archive) IsDeleteMarker(mpqPath string) bool {
	if a.mode != "r" {
		return false
	}

	block, err := a.findFile(mpqPath)
	if err != nil {
		return false
	}

	return block.Flags&fileDeleteMarker != 0
}

// IsPatchFile returns true if the file is marked as a patch file.
func (a *Archive) IsPatchFile(mpqPath string) bool {
	if a.mode != "r" {
		return false
	}

	block, err := a.findFile(mpqPath)
	if err != nil {
		return false
	}

	return block.Flags&filePatchFile != 0
}

// Close closes the archive. For archives opened with Create, this writes
// the archive to disk.
func (a *Archive) Close() error {
	if a.mode == "r" {
		if a.file != nil {
			return a.file.Close()
		}
		return nil
	}

	if err := a.writeArchive(); err != nil {
		os.Remove(a.tempPath)
		return err
	}

	os.Remove(a.path)
	if err := os.Rename(a.tempPath, a.path); err != nil {
		if err := copyFile(a.tempPath, a.path); err != nil {
			os.Remove(a.tempPath)
			return newErr(KindIo, "close", a.path, err)
		}
		os.Remove(a.tempPath)
	}

	return nil
}

// findFile looks up a file by name, preferring the HET/BET tables when
// loaded and falling back to the classic hash/block table. The lookup
// locale is neutral (0), which matches any entry's locale.
func (a *Archive) findFile(mpqPath string) (*fileEntry, error) {
	return a.findFileLocale(mpqPath, 0)
}

// findFileLocale looks up a file by name and locale. A query locale of 0
// matches any entry; an entry locale of 0 matches any query; otherwise the
// locales must be equal. The HET/BET path has no locale dimension and is
// tried first regardless of the requested locale.
func (a *Archive) findFileLocale(mpqPath string, locale uint16) (*fileEntry, error) {
	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	if a.hetTable != nil && a.betTable != nil {
		if index, ok := a.hetTable.findFile(mpqPath); ok {
			if info, ok := a.betTable.fileInfo(index); ok {
				return info.toFileEntry(), nil
			}
		}
	}

	if len(a.hashTable) > 0 {
		if block, ok := a.findFileClassic(mpqPath, locale); ok {
			return block.toFileEntry(), nil
		}
	}

	return nil, newErr(KindFileNotFound, "find_file", mpqPath, nil)
}

// findFileClassic performs the open-addressing probe over the classic hash
// table, per the fixed three-hash scheme (table offset, name A, name B),
// accepting any table entry whose locale matches per localeMatches.
func (a *Archive) findFileClassic(mpqPath string, locale uint16) (*blockTableEntryEx, bool) {
	hashA := hashString(mpqPath, hashTypeNameA)
	hashB := hashString(mpqPath, hashTypeNameB)
	startIndex := hashString(mpqPath, hashTypeTableOffset) % a.header.HashTableSize

	for i := uint32(0); i < a.header.HashTableSize; i++ {
		idx := (startIndex + i) % a.header.HashTableSize
		entry := &a.hashTable[idx]

		if entry.BlockIndex == hashTableEmpty {
			break
		}
		if entry.BlockIndex == hashTableDeleted {
			continue
		}
		if entry.HashA == hashA && entry.HashB == hashB && localeMatches(locale, entry.Locale) {
			if entry.BlockIndex < uint32(len(a.blockTable)) {
				block := &a.blockTable[entry.BlockIndex]
				if block.Flags&fileExists != 0 {
					return block, true
				}
			}
		}
	}

	return nil, false
}

// localeMatches implements the classic table's locale-aware match rule: a
// neutral locale (0) on either side matches anything, otherwise the two
// locales must be equal.
func localeMatches(query, entry uint16) bool {
	return query == 0 || entry == 0 || query == entry
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// readPatchMetadata reads the (patch_metadata) special file if present.
// Returns nil, nil if the file doesn't exist; returns an error if it can't
// be read or is shorter than 36 bytes.
func (a *Archive) readPatchMetadata() (*PatchMetadata, error) {
	if a.mode != "r" {
		return nil, newErr(KindIo, "read_patch_metadata", "", nil)
	}

	block, err := a.findFile("(patch_metadata)")
	if err != nil {
		return nil, nil
	}

	metadataBytes, err := a.readFileData("(patch_metadata)", block)
	if err != nil {
		return nil, err
	}

	if len(metadataBytes) < 36 {
		return nil, newErr(KindInvalidFormat, "read_patch_metadata", "", nil)
	}

	meta := &PatchMetadata{}
	copy(meta.BaseMD5[:], metadataBytes[0:16])
	copy(meta.PatchMD5[:], metadataBytes[16:32])
	meta.BaseFileSize = binary.LittleEndian.Uint32(metadataBytes[32:36])

	return meta, nil
}

// PatchMetadata contains information about a patch file.
type PatchMetadata struct {
	BaseMD5      [16]byte // MD5 of the base file this patch applies to
	PatchMD5     [16]byte // MD5 of the patch file itself
	BaseFileSize uint32   // Size of base file
}
