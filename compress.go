// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"compress/bzip2"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz/lzma"
)

// Compression method flags. LZMA's value (0x12) is not a bit combination of
// the others; archives never set it alongside another flag.
const (
	compressionHuffman   = 0x01 // Huffman (WAVE files only) - unsupported
	compressionZlib      = 0x02
	compressionPKWare    = 0x08 // PKWare DCL (implode) - unsupported
	compressionBzip2     = 0x10
	compressionLZMA      = 0x12
	compressionSparse    = 0x20
	compressionADPCMMono = 0x40 // unsupported
	compressionADPCM     = 0x80 // unsupported stereo
)

// compressSectorData compresses a single sector's worth of data, trying
// zlib and the sparse/RLE codec and keeping whichever is smaller, prefixed
// with its compression-method byte. The writer never emits multi-compression
// envelopes; each sector picks exactly one codec.
func compressSectorData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(compressionZlib)

	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, newErr(KindCompressionError, "compress", "", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, newErr(KindCompressionError, "compress", "", err)
	}
	if err := w.Close(); err != nil {
		return nil, newErr(KindCompressionError, "compress", "", err)
	}
	zlibOut := buf.Bytes()

	sparseOut := append([]byte{compressionSparse}, compressSparse(data)...)
	if len(sparseOut) < len(zlibOut) {
		return sparseOut, nil
	}
	return zlibOut, nil
}

// decompressData decompresses a sector or single-unit payload whose leading
// byte is a compression-method flag, possibly a bitmask naming several
// methods applied in sequence. data must still include that leading byte;
// it is stripped here, not by the caller.
func decompressData(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) == 0 {
		return nil, newErr(KindCompressionError, "decompress", "", nil)
	}

	method := data[0]
	payload := data[1:]

	if method == 0 {
		return payload, nil
	}

	return decompressPayload(payload, method, int(uncompressedSize))
}

// decompressPayload decompresses payload (the compression-method byte
// already stripped) according to method, which is either a single codec
// flag or a bitmask naming a multi-compression envelope.
func decompressPayload(payload []byte, method byte, expectedSize int) ([]byte, error) {
	switch method {
	case 0:
		return payload, nil
	case compressionZlib:
		return decompressZlib(payload, expectedSize)
	case compressionBzip2:
		return decompressBzip2(payload, expectedSize)
	case compressionLZMA:
		return decompressLZMA(payload, expectedSize)
	case compressionSparse:
		return decompressSparse(payload, expectedSize)
	case compressionHuffman:
		return nil, newErr(KindUnsupported, "decompress", "huffman", nil)
	case compressionPKWare:
		return nil, newErr(KindUnsupported, "decompress", "pkware", nil)
	case compressionADPCMMono:
		return nil, newErr(KindUnsupported, "decompress", "adpcm_mono", nil)
	case compressionADPCM:
		return nil, newErr(KindUnsupported, "decompress", "adpcm_stereo", nil)
	default:
		return decompressMultiple(payload, method, expectedSize)
	}
}

// decompressMultiple handles a bitmask of compression flags applied in
// sequence at write time; decompression runs the outermost codec first.
// Huffman and ADPCM only ever combine with each other (wave codecs this
// package does not implement), so any bitmask naming them here is
// Unsupported rather than partially handled.
func decompressMultiple(payload []byte, flags byte, expectedSize int) ([]byte, error) {
	if flags&(compressionHuffman|compressionADPCMMono|compressionADPCM) != 0 {
		return nil, newErr(KindUnsupported, "decompress", "huffman_or_adpcm_combination", nil)
	}

	switch {
	case flags&compressionBzip2 != 0:
		return decompressBzip2(payload, expectedSize)
	case flags&compressionZlib != 0:
		return decompressZlib(payload, expectedSize)
	case flags&compressionSparse != 0:
		return decompressSparse(payload, expectedSize)
	case flags&compressionPKWare != 0:
		return nil, newErr(KindUnsupported, "decompress", "pkware", nil)
	}

	return nil, newErr(KindCompressionError, "decompress", "", nil)
}

func decompressZlib(data []byte, expectedSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, newErr(KindCompressionError, "decompress_zlib", "", err)
	}
	defer r.Close()

	result := make([]byte, expectedSize)
	n, err := io.ReadFull(r, result)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, newErr(KindCompressionError, "decompress_zlib", "", err)
	}
	return result[:n], nil
}

func decompressBzip2(data []byte, expectedSize int) ([]byte, error) {
	r := bzip2.NewReader(bytes.NewReader(data))

	result := make([]byte, expectedSize)
	n, err := io.ReadFull(r, result)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, newErr(KindCompressionError, "decompress_bzip2", "", err)
	}
	return result[:n], nil
}

// decompressLZMA decompresses the raw LZMA1 stream MPQ embeds: a 5-byte
// properties header (1 properties byte + 4-byte little-endian dictionary
// size) directly followed by the compressed bytes, with no embedded
// uncompressed-size field - this package relies on expectedSize instead.
func decompressLZMA(data []byte, expectedSize int) ([]byte, error) {
	if len(data) < 5 {
		return nil, newErr(KindCompressionError, "decompress_lzma", "", nil)
	}

	props, err := lzma.NewProperties(data[0])
	if err != nil {
		return nil, newErr(KindCompressionError, "decompress_lzma", "", err)
	}
	dictCap := int(uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16 | uint32(data[4])<<24)
	if dictCap < lzma.MinDictCap {
		dictCap = lzma.MinDictCap
	}

	cfg := lzma.ReaderConfig{DictCap: dictCap, Properties: &props, SizeInHeader: false, EOSMarker: false}
	r, err := cfg.NewReader(bytes.NewReader(data[5:]))
	if err != nil {
		return nil, newErr(KindCompressionError, "decompress_lzma", "", err)
	}

	result := make([]byte, expectedSize)
	n, err := io.ReadFull(r, result)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, newErr(KindCompressionError, "decompress_lzma", "", err)
	}
	return result[:n], nil
}

// decompressSparse decodes the sparse/RLE format: a control byte with the
// high bit set encodes a run of (control & 0x7F) zero bytes; otherwise it
// is a literal byte count followed by that many bytes. 0xFF terminates the
// stream early.
func decompressSparse(data []byte, expectedSize int) ([]byte, error) {
	output := make([]byte, 0, expectedSize)
	pos := 0

	for pos < len(data) && len(output) < expectedSize {
		control := data[pos]
		pos++

		if control == 0xFF {
			break
		}

		if control&0x80 != 0 {
			count := int(control & 0x7F)
			for i := 0; i < count; i++ {
				output = append(output, 0)
			}
			continue
		}

		count := int(control)
		if pos+count > len(data) {
			return nil, newErr(KindCompressionError, "decompress_sparse", "", nil)
		}
		output = append(output, data[pos:pos+count]...)
		pos += count
	}

	if len(output) < expectedSize {
		output = append(output, make([]byte, expectedSize-len(output))...)
	}
	return output, nil
}

// compressSparse encodes data with the sparse/RLE format, run-length
// encoding zero bytes and chunking literal runs to the 7-bit count limit.
// Zero runs are chunked at 126 so no run control byte equals the 0xFF
// terminator.
func compressSparse(data []byte) []byte {
	var output []byte
	pos := 0

	for pos < len(data) {
		zeroStart := pos
		for pos < len(data) && data[pos] == 0 {
			pos++
		}
		zeroCount := pos - zeroStart
		for zeroCount > 0 {
			chunk := zeroCount
			if chunk > 0x7E {
				chunk = 0x7E
			}
			output = append(output, 0x80|byte(chunk))
			zeroCount -= chunk
		}

		dataStart := pos
		for pos < len(data) && data[pos] != 0 && pos-dataStart < 0x7F {
			pos++
		}
		dataCount := pos - dataStart
		if dataCount > 0 {
			output = append(output, byte(dataCount))
			output = append(output, data[dataStart:pos]...)
		}
	}

	output = append(output, 0xFF)
	return output
}
