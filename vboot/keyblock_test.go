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
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/transparency-dev/vboot/api"
)

const (
	testDataKeySize = 256 // RSA-2048 modulus

	// Signed region: header plus data key material. The hash and signature
	// bodies follow it, outside the coverage of either.
	testKeyblockSigned = api.KeyblockSize + testDataKeySize
	testKeyblockSize   = testKeyblockSigned + 64 + 256
)

// buildKeyblock assembles a correctly signed keyblock for the process test
// key. mutate edits the header before it is hashed and signed, so structural
// attacks carry a valid signature; tamper edits raw bytes afterwards.
func buildKeyblock(t *testing.T, mutate func(*api.Keyblock), tamper func([]byte)) []byte {
	t.Helper()
	priv := testRSAKey(t)

	kb := api.Keyblock{
		VersionMajor: api.KeyblockVersionMajor,
		VersionMinor: api.KeyblockVersionMinor,
		Size:         testKeyblockSize,
		Signature: api.Signature{
			SigOffset: testKeyblockSigned + 64 - api.KeyblockSignatureOffset,
			SigSize:   256,
			DataSize:  testKeyblockSigned,
		},
		Hash: api.Signature{
			SigOffset: testKeyblockSigned - api.KeyblockHashOffset,
			SigSize:   64,
			DataSize:  testKeyblockSigned,
		},
		Flags: api.KeyblockFlagDeveloper1 | api.KeyblockFlagRecovery0,
		DataKey: api.PackedKey{
			KeyOffset:  api.PackedKeySize,
			KeySize:    testDataKeySize,
			Algorithm:  api.AlgRSA2048SHA256,
			KeyVersion: 2,
		},
	}
	if mutate != nil {
		mutate(&kb)
	}

	block := make([]byte, testKeyblockSize)
	kb.Put(block)
	copy(block[api.KeyblockSize:], PackKey(&priv.PublicKey, api.AlgRSA2048SHA256, 2)[api.PackedKeySize:])

	hashed := int(kb.Hash.DataSize)
	if hashed > len(block) {
		hashed = len(block)
	}
	sum := sha512.Sum512(block[:hashed])
	if off := api.KeyblockHashOffset + int(kb.Hash.SigOffset); off+len(sum) <= len(block) {
		copy(block[off:], sum[:])
	}

	signed := int(kb.Signature.DataSize)
	if signed > len(block) {
		signed = len(block)
	}
	digest := sha256.Sum256(block[:signed])
	raw, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("Failed to sign keyblock: %v", err)
	}
	if off := api.KeyblockSignatureOffset + int(kb.Signature.SigOffset); off+len(raw) <= len(block) {
		copy(block[off:], raw)
	}

	if tamper != nil {
		tamper(block)
	}
	return block
}

func TestVerifyKeyblock(t *testing.T) {
	key := testPublicKey(t, false)

	t.Run("valid keyblock", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		block := buildKeyblock(t, nil, nil)

		kb, err := VerifyKeyblock(block, key, &wb)
		if err != nil {
			t.Fatalf("VerifyKeyblock: %v", err)
		}
		if got, want := kb.Flags, uint32(api.KeyblockFlagDeveloper1|api.KeyblockFlagRecovery0); got != want {
			t.Errorf("Got flags %#x, want %#x", got, want)
		}
		if got, want := kb.VersionMinor, uint32(api.KeyblockVersionMinor); got != want {
			t.Errorf("Got minor version %d, want %d", got, want)
		}

		// The data key record and its material survive as an unpackable key.
		dataKey, err := UnpackKey(block[api.KeyblockDataKeyOffset:kb.Signature.DataSize])
		if err != nil {
			t.Fatalf("UnpackKey(data key): %v", err)
		}
		if got, want := dataKey.Version, uint32(2); got != want {
			t.Errorf("Got data key version %d, want %d", got, want)
		}
		if dataKey.Key.N.Cmp(testRSAKey(t).N) != 0 {
			t.Error("Got wrong data key modulus")
		}
	})

	for _, test := range []struct {
		name   string
		mutate func(*api.Keyblock)
		tamper func([]byte)
		want   error // nil means any non-nil error is accepted
	}{
		{
			name:   "corrupt magic",
			tamper: func(b []byte) { b[0] ^= 1 },
		},
		{
			name:   "unsupported major version",
			mutate: func(kb *api.Keyblock) { kb.VersionMajor = 3 },
		},
		{
			name:   "declared size exceeds buffer",
			mutate: func(kb *api.Keyblock) { kb.Size = testKeyblockSize + 1 },
		},
		{
			name:   "signature body outside block",
			mutate: func(kb *api.Keyblock) { kb.Signature.SigOffset = testKeyblockSize },
			want:   ErrDataOutside,
		},
		{
			name:   "signed region smaller than header",
			mutate: func(kb *api.Keyblock) { kb.Signature.DataSize = api.KeyblockSize - 4 },
		},
		{
			name:   "signature size does not match key",
			mutate: func(kb *api.Keyblock) { kb.Signature.SigSize = 128 },
			want:   ErrSigSize,
		},
		{
			name:   "tampered flags",
			tamper: func(b []byte) { b[68] ^= 1 },
			want:   ErrVerification,
		},
		{
			name:   "tampered key material",
			tamper: func(b []byte) { b[api.KeyblockSize+5] ^= 1 },
			want:   ErrVerification,
		},
		{
			name: "data key escapes signed region",
			// Validly signed, so only the containment check can catch it.
			mutate: func(kb *api.Keyblock) { kb.DataKey.KeyOffset += 4 },
			want:   ErrDataOutside,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
			block := buildKeyblock(t, test.mutate, test.tamper)

			_, err := VerifyKeyblock(block, key, &wb)
			if err == nil {
				t.Fatal("Got nil error, want error")
			}
			if test.want != nil && !errors.Is(err, test.want) {
				t.Fatalf("Got %v, want %v", err, test.want)
			}
		})
	}

	t.Run("wrong key", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		otherKey, err := UnpackKey(PackKey(&other.PublicKey, api.AlgRSA2048SHA256, 1))
		if err != nil {
			t.Fatalf("UnpackKey: %v", err)
		}

		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		block := buildKeyblock(t, nil, nil)
		if _, err := VerifyKeyblock(block, otherKey, &wb); !errors.Is(err, ErrVerification) {
			t.Fatalf("Got %v, want %v", err, ErrVerification)
		}
	})

	t.Run("truncated buffer", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		block := buildKeyblock(t, nil, nil)
		if _, err := VerifyKeyblock(block[:testKeyblockSize-1], key, &wb); err == nil {
			t.Fatal("Got nil error, want error")
		}
	})
}

func TestVerifyKeyblockHash(t *testing.T) {
	t.Run("valid hash", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		block := buildKeyblock(t, nil, nil)

		kb, err := VerifyKeyblockHash(block, &wb)
		if err != nil {
			t.Fatalf("VerifyKeyblockHash: %v", err)
		}
		if got, want := kb.DataKey.KeyVersion, uint32(2); got != want {
			t.Errorf("Got data key version %d, want %d", got, want)
		}
	})

	for _, test := range []struct {
		name   string
		mutate func(*api.Keyblock)
		tamper func([]byte)
		want   error
	}{
		{
			name:   "tampered key material",
			tamper: func(b []byte) { b[api.KeyblockSize+5] ^= 1 },
			want:   ErrVerification,
		},
		{
			name:   "tampered hash body",
			tamper: func(b []byte) { b[testKeyblockSigned] ^= 1 },
			want:   ErrVerification,
		},
		{
			name:   "wrong hash size",
			mutate: func(kb *api.Keyblock) { kb.Hash.SigSize = 32 },
			want:   ErrSigSize,
		},
		{
			name: "hashed region beyond block",
			tamper: func(b []byte) {
				binary.LittleEndian.PutUint32(b[api.KeyblockHashOffset+16:], testKeyblockSize+1)
			},
			want: ErrNotEnoughData,
		},
		{
			name:   "data key escapes hashed region",
			mutate: func(kb *api.Keyblock) { kb.DataKey.KeyOffset += 4 },
			want:   ErrDataOutside,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
			block := buildKeyblock(t, test.mutate, test.tamper)

			if _, err := VerifyKeyblockHash(block, &wb); !errors.Is(err, test.want) {
				t.Fatalf("Got %v, want %v", err, test.want)
			}
		})
	}

	t.Run("workbuf too small", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, 16))
		block := buildKeyblock(t, nil, nil)
		if _, err := VerifyKeyblockHash(block, &wb); !errors.Is(err, ErrWorkbufFull) {
			t.Fatalf("Got %v, want %v", err, ErrWorkbufFull)
		}
	})
}
