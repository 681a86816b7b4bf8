// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "fmt"

// Kind classifies an *Error by the failure category it represents.
type Kind int

const (
	// KindIo is an underlying source I/O failure.
	KindIo Kind = iota
	// KindInvalidFormat is a static structural violation of the archive.
	KindInvalidFormat
	// KindUnsupportedVersion is a format_version this package does not decode.
	KindUnsupportedVersion
	// KindUnsupported is a codec or feature deliberately not implemented.
	KindUnsupported
	// KindFileNotFound is a named file absent from the archive's tables.
	KindFileNotFound
	// KindChecksumMismatch is a single-unit or per-sector CRC failure.
	KindChecksumMismatch
	// KindCompressionError is a codec-originated decode/encode failure.
	KindCompressionError
	// KindCryptoError is a signature verification failure.
	KindCryptoError
	// KindDuplicateFile is a writer-side duplicate (name_a, name_b, locale).
	KindDuplicateFile
)

func (k Kind) String() string {
	switch k {
	case KindIo:
		return "io"
	case KindInvalidFormat:
		return "invalid format"
	case KindUnsupportedVersion:
		return "unsupported version"
	case KindUnsupported:
		return "unsupported"
	case KindFileNotFound:
		return "file not found"
	case KindChecksumMismatch:
		return "checksum mismatch"
	case KindCompressionError:
		return "compression error"
	case KindCryptoError:
		return "crypto error"
	case KindDuplicateFile:
		return "duplicate file"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by every fallible operation in this
// package. Use errors.As to recover the Kind and any structured fields.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "open", "read_file"
	Name string // file or table name involved, if any
	Err  error  // wrapped cause, if any

	// Expected/Actual are populated for KindChecksumMismatch.
	Expected uint32
	Actual   uint32

	// SectorIndex is populated for KindChecksumMismatch on sectored files.
	SectorIndex int
	HasSector   bool
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Name != "" {
		msg += " (" + e.Name + ")"
	}
	if e.Kind == KindChecksumMismatch {
		if e.HasSector {
			msg += fmt.Sprintf(": sector %d expected 0x%08X got 0x%08X", e.SectorIndex, e.Expected, e.Actual)
		} else {
			msg += fmt.Sprintf(": expected 0x%08X got 0x%08X", e.Expected, e.Actual)
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target shares this error's Kind, so callers can write
// errors.Is(err, mpq.ErrKind(mpq.KindFileNotFound)).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// ErrKind constructs a sentinel *Error usable with errors.Is to test kind.
func ErrKind(k Kind) error { return &Error{Kind: k} }

func newErr(kind Kind, op, name string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Name: name, Err: cause}
}

func newChecksumErr(op, name string, expected, actual uint32, sectorIndex int, hasSector bool) *Error {
	return &Error{
		Kind:        KindChecksumMismatch,
		Op:          op,
		Name:        name,
		Expected:    expected,
		Actual:      actual,
		SectorIndex: sectorIndex,
		HasSector:   hasSector,
	}
}
