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
	"errors"
	"sync"
	"testing"

	"github.com/transparency-dev/vboot/api"
	"github.com/transparency-dev/vboot/hwcrypto"
	"github.com/transparency-dev/vboot/hwcrypto/testonly"
)

var (
	rsaTestKeyOnce sync.Once
	rsaTestKey     *rsa.PrivateKey
	rsaTestKeyErr  error
)

// testRSAKey returns a process-wide RSA-2048 test key; generating one per
// subtest would dominate the test runtime.
func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	rsaTestKeyOnce.Do(func() {
		rsaTestKey, rsaTestKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if rsaTestKeyErr != nil {
		t.Fatalf("Failed to generate test key: %v", rsaTestKeyErr)
	}
	return rsaTestKey
}

// testPublicKey unpacks the test key the way production callers receive
// theirs, through the packed record format.
func testPublicKey(t *testing.T, hwAllowed bool) *PublicKey {
	t.Helper()
	key, err := UnpackKey(PackKey(&testRSAKey(t).PublicKey, api.AlgRSA2048SHA256, 1))
	if err != nil {
		t.Fatalf("Failed to unpack test key: %v", err)
	}
	key.AllowHWCrypto = hwAllowed
	return key
}

// signBuf signs digest and returns a signature record with the body placed
// directly after it, declaring dataSize signed bytes.
func signBuf(t *testing.T, digest []byte, dataSize uint32) []byte {
	t.Helper()
	raw, err := rsa.SignPKCS1v15(rand.Reader, testRSAKey(t), crypto.SHA256, digest)
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}
	b := api.Signature{
		SigOffset: api.SignatureSize,
		SigSize:   uint32(len(raw)),
		DataSize:  dataSize,
	}.Marshal()
	return append(b, raw...)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestVerifyDigest(t *testing.T) {
	data := []byte("This is some test data to sign.\x00")
	digest := sha256.Sum256(data)
	key := testPublicKey(t, false)

	t.Run("good signature", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		sig := signBuf(t, digest[:], uint32(len(data)))
		if err := VerifyDigest(key, sig, digest[:], &wb); err != nil {
			t.Fatalf("VerifyDigest: %v", err)
		}
		if !allZero(sig[api.SignatureSize:]) {
			t.Error("Got intact signature body after verification, want destroyed")
		}
	})

	t.Run("verification destroys the signature", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		sig := signBuf(t, digest[:], uint32(len(data)))
		if err := VerifyDigest(key, sig, digest[:], &wb); err != nil {
			t.Fatalf("First VerifyDigest: %v", err)
		}
		if err := VerifyDigest(key, sig, digest[:], &wb); !errors.Is(err, ErrVerification) {
			t.Fatalf("Second VerifyDigest: got %v, want %v", err, ErrVerification)
		}
	})

	t.Run("wrong signature size", func(t *testing.T) {
		e := &testonly.Engine{}
		testonly.Install(t, e)
		hwKey := testPublicKey(t, true)

		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		sig := signBuf(t, digest[:], uint32(len(data)))
		s, err := api.ParseSignature(sig)
		if err != nil {
			t.Fatal(err)
		}
		s.SigSize = 128
		s.Put(sig)

		if err := VerifyDigest(hwKey, sig, digest[:], &wb); !errors.Is(err, ErrSigSize) {
			t.Fatalf("Got %v, want %v", err, ErrSigSize)
		}
		// Rejected on the declared size alone, before any engine call.
		if e.VerifyCalls != 0 {
			t.Errorf("Got %d engine calls, want 0", e.VerifyCalls)
		}
	})

	t.Run("signature body outside buffer", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		sig := signBuf(t, digest[:], uint32(len(data)))
		s, err := api.ParseSignature(sig)
		if err != nil {
			t.Fatal(err)
		}
		s.SigOffset = uint32(len(sig))
		s.Put(sig)

		if err := VerifyDigest(key, sig, digest[:], &wb); !errors.Is(err, ErrDataOutside) {
			t.Fatalf("Got %v, want %v", err, ErrDataOutside)
		}
	})

	t.Run("wrong digest", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		sig := signBuf(t, digest[:], uint32(len(data)))
		bad := digest
		bad[0] ^= 1
		if err := VerifyDigest(key, sig, bad[:], &wb); !errors.Is(err, ErrVerification) {
			t.Fatalf("Got %v, want %v", err, ErrVerification)
		}
	})

	t.Run("workbuf too small", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, 16))
		sig := signBuf(t, digest[:], uint32(len(data)))
		if err := VerifyDigest(key, sig, digest[:], &wb); !errors.Is(err, ErrWorkbufFull) {
			t.Fatalf("Got %v, want %v", err, ErrWorkbufFull)
		}
	})

	t.Run("truncated record", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		if err := VerifyDigest(key, make([]byte, api.SignatureSize-1), digest[:], &wb); err == nil {
			t.Fatal("Got nil error for truncated record, want error")
		}
	})
}

func TestVerifyDigestHardware(t *testing.T) {
	data := []byte("This is some test data to sign.\x00")
	digest := sha256.Sum256(data)
	errBoom := errors.New("engine failure")

	for _, test := range []struct {
		name            string
		engine          *testonly.Engine
		hwAllowed       bool
		want            error
		wantVerifyCalls int
	}{
		{
			name:            "engine verifies",
			engine:          &testonly.Engine{},
			hwAllowed:       true,
			wantVerifyCalls: 1,
		},
		{
			name:            "engine unsupported falls back to software",
			engine:          &testonly.Engine{VerifyErr: hwcrypto.ErrUnsupported},
			hwAllowed:       true,
			wantVerifyCalls: 1,
		},
		{
			name:            "engine failure is final",
			engine:          &testonly.Engine{VerifyErr: errBoom},
			hwAllowed:       true,
			want:            errBoom,
			wantVerifyCalls: 1,
		},
		{
			name:   "hardware not allowed by key",
			engine: &testonly.Engine{},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			testonly.Install(t, test.engine)
			key := testPublicKey(t, test.hwAllowed)

			wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
			sig := signBuf(t, digest[:], uint32(len(data)))

			if err := VerifyDigest(key, sig, digest[:], &wb); !errors.Is(err, test.want) {
				t.Fatalf("Got %v, want %v", err, test.want)
			}
			if got, want := test.engine.VerifyCalls, test.wantVerifyCalls; got != want {
				t.Errorf("Got %d engine calls, want %d", got, want)
			}
			if test.want == nil && !allZero(sig[api.SignatureSize:]) {
				t.Error("Got intact signature body after verification, want destroyed")
			}
		})
	}
}

func TestVerifyData(t *testing.T) {
	data := []byte("This is some test data to sign.\x00")
	digest := sha256.Sum256(data)
	key := testPublicKey(t, false)

	t.Run("good data", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		sig := signBuf(t, digest[:], uint32(len(data)))
		if err := VerifyData(data, sig, key, &wb); err != nil {
			t.Fatalf("VerifyData: %v", err)
		}
		// Scratch came from a local descriptor copy.
		if got, want := wb.Avail(), uint32(VerifyDataWorkbufBytes); got != want {
			t.Errorf("Got avail %d after verify, want %d", got, want)
		}
	})

	t.Run("trailing bytes beyond signed size are ignored", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		sig := signBuf(t, digest[:], uint32(len(data)))
		extended := append(append([]byte{}, data...), 0xde, 0xad)
		if err := VerifyData(extended, sig, key, &wb); err != nil {
			t.Fatalf("VerifyData: %v", err)
		}
	})

	t.Run("declared size exceeds buffer", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		sig := signBuf(t, digest[:], uint32(len(data))+1)
		if err := VerifyData(data, sig, key, &wb); !errors.Is(err, ErrNotEnoughData) {
			t.Fatalf("Got %v, want %v", err, ErrNotEnoughData)
		}
	})

	t.Run("tampered data", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		sig := signBuf(t, digest[:], uint32(len(data)))
		bad := append([]byte{}, data...)
		bad[3] ^= 1
		if err := VerifyData(bad, sig, key, &wb); !errors.Is(err, ErrVerification) {
			t.Fatalf("Got %v, want %v", err, ErrVerification)
		}
	})

	t.Run("unsupported digest algorithm", func(t *testing.T) {
		badKey := *key
		badKey.HashAlg = api.HashInvalid
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		sig := signBuf(t, digest[:], uint32(len(data)))
		if err := VerifyData(data, sig, &badKey, &wb); !errors.Is(err, ErrUnsupportedAlgorithm) {
			t.Fatalf("Got %v, want %v", err, ErrUnsupportedAlgorithm)
		}
	})

	t.Run("truncated record", func(t *testing.T) {
		wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
		if err := VerifyData(data, make([]byte, 10), key, &wb); err == nil {
			t.Fatal("Got nil error for truncated record, want error")
		}
	})
}

func TestVerifyDataHardwareDigest(t *testing.T) {
	data := []byte("This is some test data to sign.\x00")
	digest := sha256.Sum256(data)
	errBoom := errors.New("engine failure")

	for _, test := range []struct {
		name              string
		engine            *testonly.Engine
		want              error
		wantFinalizeCalls int
		wantVerifyCalls   int
	}{
		{
			name:              "hardware digest and verify",
			engine:            &testonly.Engine{},
			wantFinalizeCalls: 1,
			wantVerifyCalls:   1,
		},
		{
			name:            "digest init unsupported, software digest",
			engine:          &testonly.Engine{DigestInitErr: hwcrypto.ErrUnsupported},
			wantVerifyCalls: 1,
		},
		{
			name:   "digest init failure",
			engine: &testonly.Engine{DigestInitErr: errBoom},
			want:   errBoom,
		},
		{
			name:   "digest extend failure",
			engine: &testonly.Engine{DigestExtendErr: errBoom},
			want:   errBoom,
		},
		{
			name:   "digest finalize failure",
			engine: &testonly.Engine{DigestFinalizeErr: errBoom},
			want:   errBoom,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			testonly.Install(t, test.engine)
			key := testPublicKey(t, true)

			wb := NewWorkbuf(make([]byte, VerifyDataWorkbufBytes))
			sig := signBuf(t, digest[:], uint32(len(data)))

			if err := VerifyData(data, sig, key, &wb); !errors.Is(err, test.want) {
				t.Fatalf("Got %v, want %v", err, test.want)
			}
			if got, want := test.engine.FinalizeCalls, test.wantFinalizeCalls; got != want {
				t.Errorf("Got %d finalize calls, want %d", got, want)
			}
			if got, want := test.engine.VerifyCalls, test.wantVerifyCalls; got != want {
				t.Errorf("Got %d verify calls, want %d", got, want)
			}
		})
	}
}
