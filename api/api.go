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

// Package api defines the persisted structures exchanged between the signing
// tools and the verification engine: packed keys, detached signatures, key
// blocks and kernel preambles, together with the algorithm identifiers they
// carry.
//
// All multi-byte fields are little-endian, fixed width and 32-bit aligned.
// Offsets inside a record are always relative to the start of that record,
// never absolute, so that a consumer can bounds-check them before touching
// the bytes they point at. Every structure here must be treated as
// attacker-controlled until it has been validated.
package api

// CryptoAlg identifies a signature scheme and hash combination, as carried in
// the algorithm field of a packed key. Any unrecognized value decomposes to
// the invalid members of SigAlg and HashAlg rather than to undefined
// behavior.
type CryptoAlg uint32

const (
	AlgRSA1024SHA1 CryptoAlg = iota
	AlgRSA1024SHA256
	AlgRSA1024SHA512
	AlgRSA2048SHA1
	AlgRSA2048SHA256
	AlgRSA2048SHA512
	AlgRSA4096SHA1
	AlgRSA4096SHA256
	AlgRSA4096SHA512
	AlgRSA8192SHA1
	AlgRSA8192SHA256
	AlgRSA8192SHA512

	AlgCount
)

// SigAlg returns the signature algorithm for a combined identifier, or
// SigInvalid if the identifier is not recognized.
func (a CryptoAlg) SigAlg() SigAlg {
	if a >= AlgCount {
		return SigInvalid
	}
	return SigRSA1024 + SigAlg(a/3)
}

// HashAlg returns the hash algorithm for a combined identifier, or
// HashInvalid if the identifier is not recognized.
func (a CryptoAlg) HashAlg() HashAlg {
	if a >= AlgCount {
		return HashInvalid
	}
	switch a % 3 {
	case 0:
		return HashSHA1
	case 1:
		return HashSHA256
	default:
		return HashSHA512
	}
}

// SigAlg identifies a signature algorithm.
type SigAlg uint32

const (
	SigInvalid SigAlg = iota
	SigNone
	SigRSA1024
	SigRSA2048
	SigRSA4096
	SigRSA8192
)

// SigSize returns the exact signature body size in bytes mandated by the
// algorithm, or 0 if the algorithm is not recognized or carries no
// signature. A signature claiming any other body size is malformed.
func (s SigAlg) SigSize() uint32 {
	switch s {
	case SigRSA1024:
		return 1024 / 8
	case SigRSA2048:
		return 2048 / 8
	case SigRSA4096:
		return 4096 / 8
	case SigRSA8192:
		return 8192 / 8
	default:
		return 0
	}
}

// HashAlg identifies a hash algorithm.
type HashAlg uint32

const (
	HashInvalid HashAlg = iota
	HashSHA1
	HashSHA256
	HashSHA512
	HashSHA224
	HashSHA384
)

// MaxDigestSize is the size of the largest supported digest.
const MaxDigestSize = 64

// Size returns the digest size in bytes. Zero is the sentinel for an
// unrecognized algorithm.
func (h HashAlg) Size() uint32 {
	switch h {
	case HashSHA1:
		return 20
	case HashSHA224:
		return 28
	case HashSHA256:
		return 32
	case HashSHA384:
		return 48
	case HashSHA512:
		return 64
	default:
		return 0
	}
}

func (h HashAlg) String() string {
	switch h {
	case HashSHA1:
		return "SHA1"
	case HashSHA224:
		return "SHA224"
	case HashSHA256:
		return "SHA256"
	case HashSHA384:
		return "SHA384"
	case HashSHA512:
		return "SHA512"
	default:
		return "invalid"
	}
}
