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

package api

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Record sizes. Reserved fields are written as zero and ignored on read.
const (
	// SignatureSize is the fixed size of a signature record header.
	SignatureSize = 24

	// PackedKeySize is the fixed size of a packed key record header.
	PackedKeySize = 32

	// KeyblockSize is the fixed size of a keyblock header, up to but not
	// including the key data and signature bodies it points at.
	KeyblockSize = 104

	// KernelPreambleSize is the fixed size of a kernel preamble header.
	KernelPreambleSize = 88
)

// KeyblockMagic identifies a keyblock record.
var KeyblockMagic = []byte("CHROMEOS")

// Keyblock header versions understood by this package.
const (
	KeyblockVersionMajor = 2
	KeyblockVersionMinor = 1
)

// Keyblock flags, constraining the boot modes a data key may be used in.
// Each mode has a pair of bits so that "don't care" is expressible.
const (
	KeyblockFlagDeveloper0 = 1 << iota // valid when developer mode is off
	KeyblockFlagDeveloper1             // valid when developer mode is on
	KeyblockFlagRecovery0              // valid when recovery mode is off
	KeyblockFlagRecovery1              // valid when recovery mode is on
)

// Signature is a detached signature record. The variable-length signature
// body lives at SigOffset bytes from the start of the record itself, and
// DataSize declares how many bytes of the signed object the signature
// covers. SigSize is only trustworthy once it has been checked against the
// size the key's algorithm mandates.
type Signature struct {
	SigOffset uint32
	SigSize   uint32
	DataSize  uint32
}

// ParseSignature reads a signature record from the start of b.
func ParseSignature(b []byte) (Signature, error) {
	if len(b) < SignatureSize {
		return Signature{}, fmt.Errorf("truncated signature record: %d bytes", len(b))
	}
	return Signature{
		SigOffset: binary.LittleEndian.Uint32(b[0:]),
		SigSize:   binary.LittleEndian.Uint32(b[8:]),
		DataSize:  binary.LittleEndian.Uint32(b[16:]),
	}, nil
}

// Put serializes s into b, which must hold at least SignatureSize bytes.
func (s Signature) Put(b []byte) {
	_ = b[:SignatureSize]
	clear(b[:SignatureSize])
	binary.LittleEndian.PutUint32(b[0:], s.SigOffset)
	binary.LittleEndian.PutUint32(b[8:], s.SigSize)
	binary.LittleEndian.PutUint32(b[16:], s.DataSize)
}

// Marshal returns the serialized record header.
func (s Signature) Marshal() []byte {
	b := make([]byte, SignatureSize)
	s.Put(b)
	return b
}

// Body returns the signature body within parent, where off is the offset of
// the signature record in parent. The claim must have passed a containment
// check first; Body performs no validation of its own.
func (s Signature) Body(parent []byte, off uint64) []byte {
	start := off + uint64(s.SigOffset)
	return parent[start : start+uint64(s.SigSize)]
}

// PackedKey is a serialized public key record. The key material lives at
// KeyOffset bytes from the start of the record: the raw big-endian RSA
// modulus, KeySize bytes long. The public exponent is fixed at 65537.
type PackedKey struct {
	KeyOffset  uint32
	KeySize    uint32
	Algorithm  CryptoAlg
	KeyVersion uint32
}

// ParsePackedKey reads a packed key record from the start of b.
func ParsePackedKey(b []byte) (PackedKey, error) {
	if len(b) < PackedKeySize {
		return PackedKey{}, fmt.Errorf("truncated packed key record: %d bytes", len(b))
	}
	return PackedKey{
		KeyOffset:  binary.LittleEndian.Uint32(b[0:]),
		KeySize:    binary.LittleEndian.Uint32(b[8:]),
		Algorithm:  CryptoAlg(binary.LittleEndian.Uint32(b[16:])),
		KeyVersion: binary.LittleEndian.Uint32(b[24:]),
	}, nil
}

// Put serializes k into b, which must hold at least PackedKeySize bytes.
func (k PackedKey) Put(b []byte) {
	_ = b[:PackedKeySize]
	clear(b[:PackedKeySize])
	binary.LittleEndian.PutUint32(b[0:], k.KeyOffset)
	binary.LittleEndian.PutUint32(b[8:], k.KeySize)
	binary.LittleEndian.PutUint32(b[16:], uint32(k.Algorithm))
	binary.LittleEndian.PutUint32(b[24:], k.KeyVersion)
}

// Marshal returns the serialized record header.
func (k PackedKey) Marshal() []byte {
	b := make([]byte, PackedKeySize)
	k.Put(b)
	return b
}

// KeyMaterial returns the key material within parent, where off is the
// offset of the packed key record in parent. The claim must have passed a
// containment check first.
func (k PackedKey) KeyMaterial(parent []byte, off uint64) []byte {
	start := off + uint64(k.KeyOffset)
	return parent[start : start+uint64(k.KeySize)]
}

// Keyblock binds a data key to a signature (or bare hash) by a higher-level
// key. Size covers the whole block including key data and signature bodies;
// the Signature and Hash records sit at fixed offsets inside the header and
// their bodies follow it.
type Keyblock struct {
	VersionMajor uint32
	VersionMinor uint32
	Size         uint32
	Signature    Signature // verified with the enclosing key
	Hash         Signature // SHA-512 self-hash, for unsigned blocks
	Flags        uint32
	DataKey      PackedKey
}

// Field offsets within a keyblock header. The record offsets are exported
// for containment checks against the block and its signed region.
const (
	keyblockVersionMajorOffset = 8
	keyblockVersionMinorOffset = 12
	keyblockSizeOffset         = 16
	keyblockFlagsOffset        = 68

	KeyblockSignatureOffset = 20
	KeyblockHashOffset      = 44
	KeyblockDataKeyOffset   = 72
)

// ParseKeyblock reads a keyblock header from the start of b. Only the magic
// is validated here; structural and signature checks belong to the engine.
func ParseKeyblock(b []byte) (Keyblock, error) {
	if len(b) < KeyblockSize {
		return Keyblock{}, fmt.Errorf("truncated keyblock: %d bytes", len(b))
	}
	if !bytes.Equal(b[:8], KeyblockMagic) {
		return Keyblock{}, fmt.Errorf("bad keyblock magic %q", b[:8])
	}
	sig, err := ParseSignature(b[KeyblockSignatureOffset:])
	if err != nil {
		return Keyblock{}, err
	}
	hash, err := ParseSignature(b[KeyblockHashOffset:])
	if err != nil {
		return Keyblock{}, err
	}
	key, err := ParsePackedKey(b[KeyblockDataKeyOffset:])
	if err != nil {
		return Keyblock{}, err
	}
	return Keyblock{
		VersionMajor: binary.LittleEndian.Uint32(b[keyblockVersionMajorOffset:]),
		VersionMinor: binary.LittleEndian.Uint32(b[keyblockVersionMinorOffset:]),
		Size:         binary.LittleEndian.Uint32(b[keyblockSizeOffset:]),
		Signature:    sig,
		Hash:         hash,
		Flags:        binary.LittleEndian.Uint32(b[keyblockFlagsOffset:]),
		DataKey:      key,
	}, nil
}

// Put serializes the keyblock header into b, which must hold at least
// KeyblockSize bytes.
func (k Keyblock) Put(b []byte) {
	_ = b[:KeyblockSize]
	clear(b[:KeyblockSize])
	copy(b, KeyblockMagic)
	binary.LittleEndian.PutUint32(b[keyblockVersionMajorOffset:], k.VersionMajor)
	binary.LittleEndian.PutUint32(b[keyblockVersionMinorOffset:], k.VersionMinor)
	binary.LittleEndian.PutUint32(b[keyblockSizeOffset:], k.Size)
	k.Signature.Put(b[KeyblockSignatureOffset:])
	k.Hash.Put(b[KeyblockHashOffset:])
	binary.LittleEndian.PutUint32(b[keyblockFlagsOffset:], k.Flags)
	k.DataKey.Put(b[KeyblockDataKeyOffset:])
}

// KernelPreamble describes a kernel body: where to load it, where the
// bootloader sits inside it, and the detached signature covering it. The
// preamble itself is signed by the keyblock's data key.
type KernelPreamble struct {
	Size              uint32
	Signature         Signature // covers the header, verified with the data key
	KernelVersion     uint32
	BodyLoadAddress   uint32
	BootloaderAddress uint32
	BootloaderSize    uint32
	BodySignature     Signature // covers the kernel body, stored for later use
}

// Field offsets within a kernel preamble header. The record offsets are
// exported for containment checks against the signed region.
const (
	preambleKernelVersionOffset     = 32
	preambleBodyLoadAddressOffset   = 40
	preambleBootloaderAddressOffset = 48
	preambleBootloaderSizeOffset    = 56

	KernelPreambleSignatureOffset     = 8
	KernelPreambleBodySignatureOffset = 64
)

// ParseKernelPreamble reads a kernel preamble header from the start of b.
func ParseKernelPreamble(b []byte) (KernelPreamble, error) {
	if len(b) < KernelPreambleSize {
		return KernelPreamble{}, fmt.Errorf("truncated kernel preamble: %d bytes", len(b))
	}
	sig, err := ParseSignature(b[KernelPreambleSignatureOffset:])
	if err != nil {
		return KernelPreamble{}, err
	}
	bodySig, err := ParseSignature(b[KernelPreambleBodySignatureOffset:])
	if err != nil {
		return KernelPreamble{}, err
	}
	return KernelPreamble{
		Size:              binary.LittleEndian.Uint32(b[0:]),
		Signature:         sig,
		KernelVersion:     binary.LittleEndian.Uint32(b[preambleKernelVersionOffset:]),
		BodyLoadAddress:   binary.LittleEndian.Uint32(b[preambleBodyLoadAddressOffset:]),
		BootloaderAddress: binary.LittleEndian.Uint32(b[preambleBootloaderAddressOffset:]),
		BootloaderSize:    binary.LittleEndian.Uint32(b[preambleBootloaderSizeOffset:]),
		BodySignature:     bodySig,
	}, nil
}

// Put serializes the preamble header into b, which must hold at least
// KernelPreambleSize bytes.
func (p KernelPreamble) Put(b []byte) {
	_ = b[:KernelPreambleSize]
	clear(b[:KernelPreambleSize])
	binary.LittleEndian.PutUint32(b[0:], p.Size)
	p.Signature.Put(b[KernelPreambleSignatureOffset:])
	binary.LittleEndian.PutUint32(b[preambleKernelVersionOffset:], p.KernelVersion)
	binary.LittleEndian.PutUint32(b[preambleBodyLoadAddressOffset:], p.BodyLoadAddress)
	binary.LittleEndian.PutUint32(b[preambleBootloaderAddressOffset:], p.BootloaderAddress)
	binary.LittleEndian.PutUint32(b[preambleBootloaderSizeOffset:], p.BootloaderSize)
	p.BodySignature.Put(b[KernelPreambleBodySignatureOffset:])
}
