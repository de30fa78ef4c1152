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

import (
	"crypto/subtle"

	"github.com/transparency-dev/vboot/api"
)

// SafeCompare reports whether a and b are equal, in time independent of
// their contents. Buffers of different lengths compare unequal.
func SafeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Hash is a digest tagged with the algorithm that produced it. Only the
// first Alg.Size() bytes of Digest are meaningful; the rest are zero.
type Hash struct {
	Alg    api.HashAlg
	Digest [api.MaxDigestSize]byte
}

// HashCalculate computes the software digest of data.
func HashCalculate(alg api.HashAlg, data []byte) (*Hash, error) {
	h := &Hash{Alg: alg}
	if err := DigestBuffer(data, alg, h.Digest[:]); err != nil {
		return nil, err
	}
	return h, nil
}

// Verify recomputes the digest of data and compares it against h in
// constant time, returning ErrVerification on mismatch.
func (h *Hash) Verify(data []byte) error {
	got, err := HashCalculate(h.Alg, data)
	if err != nil {
		return err
	}
	if !SafeCompare(got.Digest[:], h.Digest[:]) {
		return ErrVerification
	}
	return nil
}
