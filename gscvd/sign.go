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

package gscvd

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/transparency-dev/vboot/api"
	"github.com/transparency-dev/vboot/vboot"
)

// PrivateKey is a signing key paired with the algorithm identifiers its
// signatures are verified under. Signing is a tool-side concern; the
// verification engine never holds one of these.
type PrivateKey struct {
	RSA     *rsa.PrivateKey
	SigAlg  api.SigAlg
	HashAlg api.HashAlg
}

// SigSize returns the signature body size the key produces.
func (k *PrivateKey) SigSize() uint32 {
	return k.SigAlg.SigSize()
}

func signerHash(alg api.HashAlg) (crypto.Hash, error) {
	switch alg {
	case api.HashSHA1:
		return crypto.SHA1, nil
	case api.HashSHA224:
		return crypto.SHA224, nil
	case api.HashSHA256:
		return crypto.SHA256, nil
	case api.HashSHA384:
		return crypto.SHA384, nil
	case api.HashSHA512:
		return crypto.SHA512, nil
	default:
		return 0, vboot.ErrUnsupportedAlgorithm
	}
}

func sigAlgForModulus(bytes int) (api.SigAlg, error) {
	switch bytes {
	case 1024 / 8:
		return api.SigRSA1024, nil
	case 2048 / 8:
		return api.SigRSA2048, nil
	case 4096 / 8:
		return api.SigRSA4096, nil
	case 8192 / 8:
		return api.SigRSA8192, nil
	default:
		return api.SigInvalid, fmt.Errorf("gscvd: no algorithm for a %d bit modulus", bytes*8)
	}
}

// ParsePrivateKey loads an RSA private key from PEM (PKCS#1 or PKCS#8).
// The signature algorithm follows from the modulus size; hashAlg selects
// the digest the key signs over. The public exponent must be 65537, the
// only exponent packed keys can express.
func ParsePrivateKey(pemBytes []byte, hashAlg api.HashAlg) (*PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("gscvd: no PEM block in key input")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		any, err8 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err8 != nil {
			return nil, fmt.Errorf("gscvd: parsing private key: %v", err)
		}
		rk, ok := any.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("gscvd: private key is %T, want RSA", any)
		}
		key = rk
	}
	if key.PublicKey.E != 65537 {
		return nil, fmt.Errorf("gscvd: unsupported public exponent %d", key.PublicKey.E)
	}
	sigAlg, err := sigAlgForModulus(key.Size())
	if err != nil {
		return nil, err
	}
	if _, err := signerHash(hashAlg); err != nil {
		return nil, err
	}
	return &PrivateKey{RSA: key, SigAlg: sigAlg, HashAlg: hashAlg}, nil
}

// Sign returns the raw PKCS#1 v1.5 signature body over data.
func (k *PrivateKey) Sign(data []byte) ([]byte, error) {
	ch, err := signerHash(k.HashAlg)
	if err != nil {
		return nil, err
	}
	h, err := vboot.HashCalculate(k.HashAlg, data)
	if err != nil {
		return nil, err
	}
	return rsa.SignPKCS1v15(nil, k.RSA, ch, h.Digest[:k.HashAlg.Size()])
}

// CreateKeyblock packs dataKey into a keyblock signed by signer. The
// self-hash record is always filled in, so the block is also usable in
// flows that check the hash instead of the signature. A nil signer leaves
// the signature record empty, producing a hash-only block.
func CreateKeyblock(dataKey []byte, signer *PrivateKey, flags uint32) ([]byte, error) {
	pk, err := api.ParsePackedKey(dataKey)
	if err != nil {
		return nil, err
	}
	if err := vboot.VerifyPackedKeyInside(uint64(len(dataKey)), 0, pk); err != nil {
		return nil, fmt.Errorf("data key: %w", err)
	}
	material := pk.KeyMaterial(dataKey, 0)

	signedSize := api.KeyblockSize + len(material)
	hashSize := int(api.HashSHA512.Size())
	sigSize := 0
	if signer != nil {
		sigSize = int(signer.SigSize())
	}
	total := signedSize + hashSize + sigSize

	b := make([]byte, total)
	kb := api.Keyblock{
		VersionMajor: api.KeyblockVersionMajor,
		VersionMinor: api.KeyblockVersionMinor,
		Size:         uint32(total),
		Hash: api.Signature{
			SigOffset: uint32(signedSize - api.KeyblockHashOffset),
			SigSize:   uint32(hashSize),
			DataSize:  uint32(signedSize),
		},
		Flags: flags,
		DataKey: api.PackedKey{
			KeyOffset:  api.KeyblockSize - api.KeyblockDataKeyOffset,
			KeySize:    pk.KeySize,
			Algorithm:  pk.Algorithm,
			KeyVersion: pk.KeyVersion,
		},
	}
	if signer != nil {
		kb.Signature = api.Signature{
			SigOffset: uint32(signedSize + hashSize - api.KeyblockSignatureOffset),
			SigSize:   uint32(sigSize),
			DataSize:  uint32(signedSize),
		}
	}
	kb.Put(b)
	copy(b[api.KeyblockSize:], material)

	if err := vboot.DigestBuffer(b[:signedSize], api.HashSHA512, b[signedSize:signedSize+hashSize]); err != nil {
		return nil, err
	}
	if signer != nil {
		body, err := signer.Sign(b[:signedSize])
		if err != nil {
			return nil, err
		}
		copy(b[signedSize+hashSize:], body)
	}
	return b, nil
}

// RootKeyDigest returns the SHA-256 digest of the key material in a packed
// key record, the value a security chip compares against its fused copy.
func RootKeyDigest(packed []byte) ([]byte, error) {
	pk, err := api.ParsePackedKey(packed)
	if err != nil {
		return nil, err
	}
	if err := vboot.VerifyPackedKeyInside(uint64(len(packed)), 0, pk); err != nil {
		return nil, err
	}
	h, err := vboot.HashCalculate(api.HashSHA256, pk.KeyMaterial(packed, 0))
	if err != nil {
		return nil, err
	}
	return h.Digest[:api.HashSHA256.Size()], nil
}
