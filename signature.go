// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"crypto/md5"
	"io"
	"math/big"
)

// SignatureStatus is the outcome of verifying an archive's (signature) file
// against the well-known Blizzard public keys. It is a product status, not
// an error: a tampered archive still reads structurally, but reports
// WeakInvalid or StrongInvalid here.
type SignatureStatus int

const (
	SignatureNone SignatureStatus = iota
	SignatureWeakValid
	SignatureWeakInvalid
	SignatureStrongValid
	SignatureStrongInvalid
	SignatureStrongNoKey
)

func (s SignatureStatus) String() string {
	switch s {
	case SignatureNone:
		return "none"
	case SignatureWeakValid:
		return "weak_valid"
	case SignatureWeakInvalid:
		return "weak_invalid"
	case SignatureStrongValid:
		return "strong_valid"
	case SignatureStrongInvalid:
		return "strong_invalid"
	case SignatureStrongNoKey:
		return "strong_no_key"
	default:
		return "unknown"
	}
}

const (
	weakSignatureSize     = 64
	strongSignatureMagic  = 0x4E474953 // "NGIS"
	strongSignatureBody   = 256
	strongSignatureHeader = 4
)

// blizzardWeakPublicKeyN is the well-known 512-bit RSA modulus Blizzard uses
// for weak signatures, in hex.
const blizzardWeakPublicKeyN = "C20E0798D2889FBD71F78A37E5BCC4915C4C66EFD16AE9E27CFF68608E40C2875BE6EDC6D36134C0036837657AD78640BD0CF86FAD148B633B8044B5BA0ACC1B"

const blizzardWeakPublicKeyE = 0x10001

// md5DigestInfo is the PKCS#1 v1.5 DigestInfo prefix for MD5.
var md5DigestInfo = []byte{
	0x30, 0x20,
	0x30, 0x0C,
	0x06, 0x08,
	0x2A, 0x86, 0x48, 0x86, 0xF7, 0x0D, 0x02, 0x05,
	0x05, 0x00,
	0x04, 0x10,
}

// VerifySignature checks the archive's (signature) special file, if any,
// against the Blizzard weak-signature public key. Strong signatures are
// detected but always report StrongNoKey, per the non-goal on implementing
// strong-signature verification.
func (a *Archive) VerifySignature() (SignatureStatus, error) {
	block, err := a.findFile("(signature)")
	if err != nil {
		return SignatureNone, nil
	}

	filePos := int64(block.FilePos) + int64(a.header.ArchiveOffset)

	data, err := a.readFileData("(signature)", block)
	if err != nil {
		return SignatureNone, err
	}

	if len(data) >= strongSignatureHeader {
		if binaryLE32(data) == strongSignatureMagic && len(data) >= strongSignatureHeader+strongSignatureBody {
			return SignatureStrongNoKey, nil
		}
	}

	if len(data) < weakSignatureSize {
		return SignatureNone, nil
	}

	valid, err := verifyWeakSignature(a.file, a.header.ArchiveOffset, filePos, data[:weakSignatureSize])
	if err != nil {
		return SignatureNone, err
	}
	if valid {
		return SignatureWeakValid, nil
	}
	return SignatureWeakInvalid, nil
}

func binaryLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// verifyWeakSignature computes MD5 over the archive bytes from its header
// offset up to (but excluding) the signature file's own region, then
// checks the stored 64-byte signature against the Blizzard weak public key
// using textbook RSA with PKCS#1 v1.5 padding.
func verifyWeakSignature(r io.ReadSeeker, archiveOffset uint64, sigFilePos int64, signature []byte) (bool, error) {
	if _, err := r.Seek(int64(archiveOffset), io.SeekStart); err != nil {
		return false, newErr(KindIo, "verify_signature", "", err)
	}

	hasher := md5.New()
	toHash := sigFilePos - int64(archiveOffset)
	if _, err := io.CopyN(hasher, r, toHash); err != nil {
		return false, newErr(KindIo, "verify_signature", "", err)
	}
	hash := hasher.Sum(nil)

	n := new(big.Int)
	n.SetString(blizzardWeakPublicKeyN, 16)
	e := big.NewInt(blizzardWeakPublicKeyE)

	sigBE := make([]byte, len(signature))
	for i, b := range signature {
		sigBE[len(signature)-1-i] = b
	}
	sigInt := new(big.Int).SetBytes(sigBE)

	decrypted := new(big.Int).Exp(sigInt, e, n)
	decryptedBytes := decrypted.Bytes()

	return verifyPKCS1v15MD5(decryptedBytes, hash), nil
}

// verifyPKCS1v15MD5 checks the 0x00 0x01 FF...FF 0x00 DigestInfo(MD5) hash
// structure against an expected digest.
func verifyPKCS1v15MD5(decrypted, expectedHash []byte) bool {
	minLen := 11 + len(md5DigestInfo) + 16
	if len(decrypted) < minLen-2 {
		return false
	}

	// big.Int.Bytes() drops a leading 0x00 byte; restore it.
	if len(decrypted) == 0 || decrypted[0] != 0x00 {
		decrypted = append([]byte{0x00}, decrypted...)
	}

	if len(decrypted) < 2 || decrypted[0] != 0x00 || decrypted[1] != 0x01 {
		return false
	}

	sep := -1
	for i := 2; i < len(decrypted); i++ {
		if decrypted[i] == 0x00 {
			sep = i
			break
		}
		if decrypted[i] != 0xFF {
			return false
		}
	}
	if sep < 0 {
		return false
	}

	digestStart := sep + 1
	if digestStart+len(md5DigestInfo)+16 != len(decrypted) {
		return false
	}
	for i, b := range md5DigestInfo {
		if decrypted[digestStart+i] != b {
			return false
		}
	}

	hashStart := digestStart + len(md5DigestInfo)
	for i, b := range expectedHash {
		if decrypted[hashStart+i] != b {
			return false
		}
	}
	return true
}
