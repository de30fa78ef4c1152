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

package vboot

import "github.com/transparency-dev/vboot/api"

// VerifyMemberInside proves the claim that a member structure, and the
// variable-length trailing data it points at, lie fully inside a parent
// region. memberOff is relative to the start of the parent; dataOff is
// relative to the start of the member. All arithmetic is over explicit
// offsets with wraparound checks, so no claim can be validated by an
// overflowed sum.
//
// Bounds use ≤ throughout: a zero-size member or data region exactly at the
// end of its parent is legal.
func VerifyMemberInside(parentBase, parentSize, memberOff, memberSize, dataOff, dataSize uint64) error {
	if parentBase+parentSize < parentBase {
		return ErrParentWraps
	}

	memberEnd := memberOff + memberSize
	if memberEnd < memberOff {
		return ErrMemberWraps
	}
	if memberOff > parentSize || memberEnd > parentSize {
		return ErrMemberOutside
	}

	// Trailing data must begin at or after the end of the member it is
	// attached to; equality is allowed.
	if dataSize > 0 && dataOff < memberSize {
		return ErrDataOverlap
	}

	dataStart := memberOff + dataOff
	dataEnd := dataStart + dataSize
	if dataStart < memberOff || dataEnd < dataStart {
		return ErrDataWraps
	}
	if dataStart > parentSize || dataEnd > parentSize {
		return ErrDataOutside
	}

	return nil
}

// VerifyPackedKeyInside verifies that the packed key record at keyOff inside
// a parent of parentSize bytes, together with the key material it points at,
// lies fully inside the parent.
func VerifyPackedKeyInside(parentSize, keyOff uint64, key api.PackedKey) error {
	return VerifyMemberInside(0, parentSize, keyOff, api.PackedKeySize,
		uint64(key.KeyOffset), uint64(key.KeySize))
}

// VerifySignatureInside verifies that the signature record at sigOff inside
// a parent of parentSize bytes, together with the signature body it points
// at, lies fully inside the parent.
func VerifySignatureInside(parentSize, sigOff uint64, sig api.Signature) error {
	return VerifyMemberInside(0, parentSize, sigOff, api.SignatureSize,
		uint64(sig.SigOffset), uint64(sig.SigSize))
}
