// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq provides pure Go support for reading and writing MPQ (Mo'PaQ) archives.

MPQ is an archive format created by Blizzard Entertainment, used in games like
Diablo, StarCraft, Warcraft III, and World of Warcraft. This package reads all
four format generations (V1 through V4) and writes V1-V3.

# Features

  - Read MPQ format V1 through V4, including the bit-packed HET/BET tables
    introduced in V3
  - Write MPQ format V1 through V3 (V4's full MD5 protection is not produced)
  - Zlib, BZip2, LZMA, and sparse/RLE codecs on the read path; the writer
    emits zlib or sparse/RLE, whichever is smaller for each sector
  - Per-sector and single-unit encryption, including the FIX_KEY key
    adjustment
  - Weak digital signature verification against the well-known Blizzard
    public key; strong signatures are detected but reported as unverified
  - Listfile and patch-chain support

# Basic Usage

Creating an archive:

	archive, err := mpq.Create("patch.mpq", 100)
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	err = archive.AddFile("local/file.txt", "Data\\file.txt")
	if err != nil {
		log.Fatal(err)
	}

Reading an archive:

	archive, err := mpq.Open("game.mpq")
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	if archive.HasFile("Data\\file.txt") {
		err = archive.ExtractFile("Data\\file.txt", "output/file.txt")
		if err != nil {
			log.Fatal(err)
		}
	}

# Format Versions

Use [Create] for V1 format (compatible with all games) or [CreateV2] for
V2 format (required for archives >4GB, compatible with WoW: TBC and later).
Opening an archive auto-detects its version; V3/V4 archives load their
HET/BET tables transparently alongside the classic hash/block tables.

# Path Conventions

MPQ archives use backslash (\) as the path separator. This package automatically
converts forward slashes to backslashes, so both formats work:

	archive.AddFile("src.txt", "Data\\SubDir\\file.txt")  // Native MPQ format
	archive.AddFile("src.txt", "Data/SubDir/file.txt")    // Also works

# Non-goals

This package does not implement the PKWare DCL, Huffman, or ADPCM codecs
(files using them report [KindUnsupported] rather than decoding); does not
produce V4's MD5-protected header; and does not support editing an existing
archive in place - [Create]/[CreateV2] always build a fresh archive.
*/
package mpq
