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
	"crypto/rsa"
	"math/big"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/vboot/api"
)

// rsaExponent is the public exponent of every packed key. Key material
// carries only the modulus.
const rsaExponent = 65537

// PublicKey is an unpacked, validated verification key.
type PublicKey struct {
	Key     *rsa.PublicKey
	SigAlg  api.SigAlg
	HashAlg api.HashAlg
	Version uint32

	// AllowHWCrypto permits hardware engines to be consulted when
	// verifying with this key. It is key policy, set by the caller from
	// platform state, never from the packed record itself.
	AllowHWCrypto bool
}

// SigSize returns the signature body size mandated by the key's algorithm.
func (k *PublicKey) SigSize() uint32 {
	return k.SigAlg.SigSize()
}

// UnpackKey parses and validates the packed key record at the start of buf.
// The algorithm must be recognized, the declared key size must match the
// modulus size the algorithm mandates, the key material must be 32-bit
// aligned and must lie inside buf.
func UnpackKey(buf []byte) (*PublicKey, error) {
	pk, err := api.ParsePackedKey(buf)
	if err != nil {
		return nil, err
	}

	sigAlg := pk.Algorithm.SigAlg()
	hashAlg := pk.Algorithm.HashAlg()
	if sigAlg == api.SigInvalid || hashAlg == api.HashInvalid {
		klog.V(2).Infof("unpack key: unrecognized algorithm %d", pk.Algorithm)
		return nil, ErrKeyAlgorithm
	}
	if pk.KeySize != sigAlg.SigSize() {
		klog.V(2).Infof("unpack key: key size %d, algorithm wants %d", pk.KeySize, sigAlg.SigSize())
		return nil, ErrKeySize
	}
	if pk.KeyOffset%4 != 0 {
		return nil, ErrKeyAlign
	}
	if err := VerifyPackedKeyInside(uint64(len(buf)), 0, pk); err != nil {
		return nil, err
	}

	n := new(big.Int).SetBytes(pk.KeyMaterial(buf, 0))
	return &PublicKey{
		Key:     &rsa.PublicKey{N: n, E: rsaExponent},
		SigAlg:  sigAlg,
		HashAlg: hashAlg,
		Version: pk.KeyVersion,
	}, nil
}

// PackKey serializes a public key into a packed key record for embedding in
// signed structures. The inverse of UnpackKey, used by the signing tools.
func PackKey(key *rsa.PublicKey, alg api.CryptoAlg, version uint32) []byte {
	modulus := key.N.Bytes()
	size := alg.SigAlg().SigSize()
	// Preserve leading zero bytes of the modulus.
	pad := int(size) - len(modulus)

	b := make([]byte, api.PackedKeySize+int(size))
	api.PackedKey{
		KeyOffset:  api.PackedKeySize,
		KeySize:    size,
		Algorithm:  alg,
		KeyVersion: version,
	}.Put(b)
	copy(b[api.PackedKeySize+pad:], modulus)
	return b
}
