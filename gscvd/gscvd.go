// Copyright 2024 The vboot authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gscvd builds and validates the verification data record a Google
// security chip reads to attest the read-only portion of an AP firmware
// image.
//
// The record lives at the start of the RO_GSCVD flash map area: a fixed
// header carrying board identity, the list of protected flash ranges and
// their combined digest, a signature over header and ranges by the platform
// key, and the packed root key whose digest the chip holds in fuses. The
// platform keyblock is stored immediately after the record, so validation
// walks root key, keyblock, platform key, record, ranges.
package gscvd

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/transparency-dev/vboot/api"
	"github.com/transparency-dev/vboot/vboot"
)

// Magic identifies a verification data record ("5afe" on the wire).
const Magic = 0x65666135

// InitialRollbackCounter is stamped into new records. The chip refuses
// records carrying a counter below the one it has seen, so the value bumps
// only when the record semantics change incompatibly.
const InitialRollbackCounter = 1

// Version of the record layout.
const (
	VersionMajor = 1
	VersionMinor = 0
)

const (
	// HeaderSize is the fixed size of a verification data header, up to
	// but not including the ranges, signature body and key material that
	// follow it.
	HeaderSize = 152

	// MaxRanges bounds the number of protected ranges a record may carry.
	MaxRanges = 32

	// RangeSize is the serialized size of one protected range.
	RangeSize = 8
)

// Record offsets of the embedded signature and root key headers, exported
// for containment checks against the record size.
const (
	SignatureOffset = 28
	RootKeyOffset   = 52
)

// Scalar field offsets within the header.
const (
	sizeOffset         = 4
	majorVersionOffset = 6
	minorVersionOffset = 8
	rollbackOffset     = 10
	boardIDOffset      = 12
	flagsOffset        = 16
	fmapLocationOffset = 20
	hashAlgOffset      = 24
	rangesDigestOffset = 84
	rangeCountOffset   = 148
)

// Flash map area names the record is defined against.
const (
	areaGSCVD = "RO_GSCVD"
	areaWPRO  = "WP_RO"
)

var (
	// ErrMagic means the bytes at the record location are not a
	// verification data record.
	ErrMagic = errors.New("gscvd: bad verification data magic")

	// ErrFormat covers structural damage: impossible sizes, truncated
	// buffers, ranges escaping the record.
	ErrFormat = errors.New("gscvd: malformed verification data")

	// ErrRangeCount means the declared range count is zero or above
	// MaxRanges.
	ErrRangeCount = errors.New("gscvd: range count out of bounds")

	// ErrRange means a protected range is outside the write-protected
	// region or collides with the record area or another range.
	ErrRange = errors.New("gscvd: bad protected range")

	// ErrFmapLocation means the flash map is not where the record says it
	// was when the record was signed.
	ErrFmapLocation = errors.New("gscvd: flash map location mismatch")

	// ErrNoArea means the image's flash map lacks an area the record
	// needs.
	ErrNoArea = errors.New("gscvd: flash map area missing")

	// ErrKeyMismatch means the signing key offered does not correspond to
	// the data key bound by the platform keyblock.
	ErrKeyMismatch = errors.New("gscvd: signer does not match keyblock data key")
)

// Range is one protected span of the flash image, in absolute image offsets.
type Range struct {
	Offset uint32
	Size   uint32
}

// VerificationData is a parsed record. Size covers the whole record:
// header, ranges, signature body and root key material. The Signature and
// RootKey record offsets are relative to SignatureOffset and RootKeyOffset
// respectively, as everywhere else.
type VerificationData struct {
	Size            uint16
	MajorVersion    uint16
	MinorVersion    uint16
	RollbackCounter uint16
	BoardID         uint32
	Flags           uint32
	FmapLocation    uint32
	HashAlg         api.HashAlg
	Signature       api.Signature
	RootKey         api.PackedKey
	RangesDigest    [api.MaxDigestSize]byte
	Ranges          []Range

	// RootKeyBody is the packed root key material, aliasing the buffer
	// the record was parsed from or built into.
	RootKeyBody []byte
}

// SignedSize returns the number of record bytes the signature covers: the
// header and the ranges, not the bodies that follow them.
func (vd *VerificationData) SignedSize() int {
	return HeaderSize + len(vd.Ranges)*RangeSize
}

// Parse reads and structurally validates the verification data record at
// the start of buf. The embedded signature and root key claims are checked
// for containment within the declared record size, so a caller may follow
// them into buf afterwards. Cryptographic checks belong to Validate.
func Parse(buf []byte) (*VerificationData, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFormat, len(buf))
	}
	if binary.LittleEndian.Uint32(buf) != Magic {
		return nil, ErrMagic
	}
	if v := binary.LittleEndian.Uint16(buf[majorVersionOffset:]); v != VersionMajor {
		return nil, fmt.Errorf("%w: unsupported layout version %d", ErrFormat, v)
	}
	size := binary.LittleEndian.Uint16(buf[sizeOffset:])
	if int(size) < HeaderSize || int(size) > len(buf) {
		return nil, fmt.Errorf("%w: size %d outside %d byte buffer", ErrFormat, size, len(buf))
	}
	count := binary.LittleEndian.Uint32(buf[rangeCountOffset:])
	if count == 0 || count > MaxRanges {
		return nil, fmt.Errorf("%w: %d", ErrRangeCount, count)
	}
	if HeaderSize+int(count)*RangeSize > int(size) {
		return nil, fmt.Errorf("%w: %d ranges escape %d byte record", ErrFormat, count, size)
	}

	sig, err := api.ParseSignature(buf[SignatureOffset:])
	if err != nil {
		return nil, err
	}
	key, err := api.ParsePackedKey(buf[RootKeyOffset:])
	if err != nil {
		return nil, err
	}
	if err := vboot.VerifySignatureInside(uint64(size), SignatureOffset, sig); err != nil {
		return nil, fmt.Errorf("verification data signature: %w", err)
	}
	if err := vboot.VerifyPackedKeyInside(uint64(size), RootKeyOffset, key); err != nil {
		return nil, fmt.Errorf("verification data root key: %w", err)
	}

	vd := &VerificationData{
		Size:            size,
		MajorVersion:    binary.LittleEndian.Uint16(buf[majorVersionOffset:]),
		MinorVersion:    binary.LittleEndian.Uint16(buf[minorVersionOffset:]),
		RollbackCounter: binary.LittleEndian.Uint16(buf[rollbackOffset:]),
		BoardID:         binary.LittleEndian.Uint32(buf[boardIDOffset:]),
		Flags:           binary.LittleEndian.Uint32(buf[flagsOffset:]),
		FmapLocation:    binary.LittleEndian.Uint32(buf[fmapLocationOffset:]),
		HashAlg:         api.HashAlg(binary.LittleEndian.Uint32(buf[hashAlgOffset:])),
		Signature:       sig,
		RootKey:         key,
		Ranges:          make([]Range, count),
		RootKeyBody:     key.KeyMaterial(buf, RootKeyOffset),
	}
	copy(vd.RangesDigest[:], buf[rangesDigestOffset:rangeCountOffset])
	for i := range vd.Ranges {
		off := HeaderSize + i*RangeSize
		vd.Ranges[i] = Range{
			Offset: binary.LittleEndian.Uint32(buf[off:]),
			Size:   binary.LittleEndian.Uint32(buf[off+4:]),
		}
	}
	return vd, nil
}

// put serializes the header and ranges into b, which must hold at least
// SignedSize bytes. The signature body and key material beyond are the
// builder's to fill.
func (vd *VerificationData) put(b []byte) {
	clear(b[:HeaderSize])
	binary.LittleEndian.PutUint32(b, Magic)
	binary.LittleEndian.PutUint16(b[sizeOffset:], vd.Size)
	binary.LittleEndian.PutUint16(b[majorVersionOffset:], vd.MajorVersion)
	binary.LittleEndian.PutUint16(b[minorVersionOffset:], vd.MinorVersion)
	binary.LittleEndian.PutUint16(b[rollbackOffset:], vd.RollbackCounter)
	binary.LittleEndian.PutUint32(b[boardIDOffset:], vd.BoardID)
	binary.LittleEndian.PutUint32(b[flagsOffset:], vd.Flags)
	binary.LittleEndian.PutUint32(b[fmapLocationOffset:], vd.FmapLocation)
	binary.LittleEndian.PutUint32(b[hashAlgOffset:], uint32(vd.HashAlg))
	vd.Signature.Put(b[SignatureOffset:])
	vd.RootKey.Put(b[RootKeyOffset:])
	copy(b[rangesDigestOffset:rangeCountOffset], vd.RangesDigest[:])
	binary.LittleEndian.PutUint32(b[rangeCountOffset:], uint32(len(vd.Ranges)))
	for i, r := range vd.Ranges {
		off := HeaderSize + i*RangeSize
		binary.LittleEndian.PutUint32(b[off:], r.Offset)
		binary.LittleEndian.PutUint32(b[off+4:], r.Size)
	}
}
