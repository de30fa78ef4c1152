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
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/transparency-dev/vboot/api"
	"github.com/transparency-dev/vboot/hwcrypto"
	"github.com/transparency-dev/vboot/hwcrypto/testonly"
)

func TestDigestKnownVectors(t *testing.T) {
	for _, test := range []struct {
		alg  api.HashAlg
		want string
	}{
		{api.HashSHA1, "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{api.HashSHA224, "23097d223405d8228642a477bda255b32aadbce4bda0b3f7e36c9da7"},
		{api.HashSHA256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{api.HashSHA384, "cb00753f45a35e8bb5a03d699ac65007272c32ab0eded1631a8b605a43ff5bed8086072ba1e7cc2358baeca134c825a7"},
		{api.HashSHA512, "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f"},
	} {
		t.Run(test.alg.String(), func(t *testing.T) {
			want, err := hex.DecodeString(test.want)
			if err != nil {
				t.Fatal(err)
			}

			// Overfill the output buffer to prove the tail is zeroed.
			out := bytes.Repeat([]byte{0xff}, api.MaxDigestSize)
			if err := DigestBuffer([]byte("abc"), test.alg, out); err != nil {
				t.Fatalf("DigestBuffer: %v", err)
			}

			if diff := cmp.Diff(out[:len(want)], want); diff != "" {
				t.Errorf("Got digest diff: %s", diff)
			}
			for i := len(want); i < len(out); i++ {
				if out[i] != 0 {
					t.Fatalf("Got out[%d] = %#x, want zero padding", i, out[i])
				}
			}
		})
	}
}

func TestDigestChunkInvariance(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i * 7)
	}

	var oneShot [api.MaxDigestSize]byte
	if err := DigestBuffer(data, api.HashSHA256, oneShot[:]); err != nil {
		t.Fatalf("DigestBuffer: %v", err)
	}

	for _, chunk := range []int{1, 7, 64, 1000} {
		dc, err := NewDigest(api.HashSHA256, false, uint32(len(data)))
		if err != nil {
			t.Fatalf("NewDigest: %v", err)
		}
		for off := 0; off < len(data); off += chunk {
			end := off + chunk
			if end > len(data) {
				end = len(data)
			}
			if err := dc.Extend(data[off:end]); err != nil {
				t.Fatalf("Extend: %v", err)
			}
		}
		var got [api.MaxDigestSize]byte
		if err := dc.Finalize(got[:]); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
		if got != oneShot {
			t.Errorf("Got different digest with chunk size %d", chunk)
		}
	}
}

func TestDigestFinalizeShortBuffer(t *testing.T) {
	dc, err := NewDigest(api.HashSHA256, false, 3)
	if err != nil {
		t.Fatalf("NewDigest: %v", err)
	}
	if err := dc.Extend([]byte("abc")); err != nil {
		t.Fatalf("Extend: %v", err)
	}

	out := make([]byte, api.HashSHA256.Size()-1)
	if err := dc.Finalize(out); err == nil {
		t.Fatal("Got nil error for short buffer, want error")
	}
}

func TestNewDigestUnsupportedAlgorithm(t *testing.T) {
	for _, alg := range []api.HashAlg{api.HashInvalid, api.HashAlg(99)} {
		if _, err := NewDigest(alg, false, 0); !errors.Is(err, ErrUnsupportedAlgorithm) {
			t.Errorf("NewDigest(%d): got %v, want %v", alg, err, ErrUnsupportedAlgorithm)
		}
	}
}

func TestDigestHardwareEngine(t *testing.T) {
	data := []byte("This is some test data to sign.\x00")

	var sw [api.MaxDigestSize]byte
	if err := DigestBuffer(data, api.HashSHA256, sw[:]); err != nil {
		t.Fatalf("DigestBuffer: %v", err)
	}

	errBoom := errors.New("engine failure")

	for _, test := range []struct {
		name          string
		engine        *testonly.Engine
		hwAllowed     bool
		wantInitErr   error
		wantHW        bool
		wantInitCalls int
	}{
		{
			name:          "engine takes the session",
			engine:        &testonly.Engine{},
			hwAllowed:     true,
			wantHW:        true,
			wantInitCalls: 1,
		},
		{
			name:          "engine unsupported falls back",
			engine:        &testonly.Engine{DigestInitErr: hwcrypto.ErrUnsupported},
			hwAllowed:     true,
			wantInitCalls: 1,
		},
		{
			name:          "engine failure is fatal",
			engine:        &testonly.Engine{DigestInitErr: errBoom},
			hwAllowed:     true,
			wantInitErr:   errBoom,
			wantInitCalls: 1,
		},
		{
			name:      "hardware not allowed",
			engine:    &testonly.Engine{},
			hwAllowed: false,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			testonly.Install(t, test.engine)

			dc, err := NewDigest(api.HashSHA256, test.hwAllowed, uint32(len(data)))
			if !errors.Is(err, test.wantInitErr) {
				t.Fatalf("NewDigest: got %v, want %v", err, test.wantInitErr)
			}
			if got, want := test.engine.InitCalls, test.wantInitCalls; got != want {
				t.Errorf("Got %d init calls, want %d", got, want)
			}
			if test.wantInitErr != nil {
				return
			}

			if err := dc.Extend(data); err != nil {
				t.Fatalf("Extend: %v", err)
			}
			var got [api.MaxDigestSize]byte
			if err := dc.Finalize(got[:]); err != nil {
				t.Fatalf("Finalize: %v", err)
			}
			if got != sw {
				t.Errorf("Got digest mismatch against software result")
			}

			wantFinalize := 0
			if test.wantHW {
				wantFinalize = 1
			}
			if got, want := test.engine.FinalizeCalls, wantFinalize; got != want {
				t.Errorf("Got %d finalize calls, want %d", got, want)
			}
		})
	}
}

func TestDigestHardwareEngineMidstreamFailure(t *testing.T) {
	errBoom := errors.New("engine failure")

	e := &testonly.Engine{DigestExtendErr: errBoom}
	testonly.Install(t, e)

	dc, err := NewDigest(api.HashSHA256, true, 16)
	if err != nil {
		t.Fatalf("NewDigest: %v", err)
	}
	if err := dc.Extend(make([]byte, 16)); !errors.Is(err, errBoom) {
		t.Fatalf("Extend: got %v, want %v", err, errBoom)
	}

	e = &testonly.Engine{DigestFinalizeErr: errBoom}
	testonly.Install(t, e)

	dc, err = NewDigest(api.HashSHA256, true, 16)
	if err != nil {
		t.Fatalf("NewDigest: %v", err)
	}
	if err := dc.Extend(make([]byte, 16)); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if err := dc.Finalize(make([]byte, api.MaxDigestSize)); !errors.Is(err, errBoom) {
		t.Fatalf("Finalize: got %v, want %v", err, errBoom)
	}
}

func TestDigestBufferStaysInSoftware(t *testing.T) {
	e := &testonly.Engine{}
	testonly.Install(t, e)

	var out [api.MaxDigestSize]byte
	if err := DigestBuffer([]byte("abc"), api.HashSHA256, out[:]); err != nil {
		t.Fatalf("DigestBuffer: %v", err)
	}
	if e.InitCalls != 0 {
		t.Errorf("Got %d init calls, want 0", e.InitCalls)
	}
}
