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

package rpmb_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/transparency-dev/vboot/rpmb"
	"github.com/transparency-dev/vboot/rpmb/testonly"
)

var testMACKey = bytes.Repeat([]byte{0x42}, 32)

func testPartition(t *testing.T, card rpmb.Card) *rpmb.RPMB {
	t.Helper()
	p, err := rpmb.Init(card, testMACKey, 0, false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return p
}

func TestInit(t *testing.T) {
	if _, err := rpmb.Init(nil, testMACKey, 0, false); err == nil {
		t.Error("Got nil error for nil card, want error")
	}
	if _, err := rpmb.Init(testonly.NewMemCard(), testMACKey[:16], 0, false); err == nil {
		t.Error("Got nil error for short key, want error")
	}
	if _, err := rpmb.Init(testonly.NewMemCard(), testMACKey, 0, false); err != nil {
		t.Errorf("Init: %v", err)
	}
}

func TestProgramKey(t *testing.T) {
	card := testonly.NewMemCard()
	p := testPartition(t, card)

	// A fresh card reports its key as not yet programmed; the probe must
	// be unauthenticated since the card cannot MAC a response yet.
	_, err := p.Counter(false)
	if !rpmb.IsKeyNotProgrammed(err) {
		t.Fatalf("Got %v, want key-not-programmed result", err)
	}

	if err := p.ProgramKey(); err != nil {
		t.Fatalf("ProgramKey: %v", err)
	}

	n, err := p.Counter(true)
	if err != nil {
		t.Fatalf("Counter: %v", err)
	}
	if n != 0 {
		t.Errorf("Got counter %d, want 0", n)
	}

	// Programming twice must fail.
	if err := p.ProgramKey(); err == nil {
		t.Fatal("Got nil error for second ProgramKey, want error")
	}
}

func TestWriteRead(t *testing.T) {
	card := testonly.NewMemCard()
	p := testPartition(t, card)
	if err := p.ProgramKey(); err != nil {
		t.Fatalf("ProgramKey: %v", err)
	}

	data := []byte("rollback version epoch 7")
	if err := p.Write(3, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, len(data))
	if err := p.Read(3, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf, data) {
		t.Fatalf("Got %q, want %q", buf, data)
	}

	// Each authenticated write advances the counter exactly once.
	if err := p.Write(4, []byte{1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	n, err := p.Counter(true)
	if err != nil {
		t.Fatalf("Counter: %v", err)
	}
	if n != 2 {
		t.Errorf("Got counter %d, want 2", n)
	}
}

func TestWriteCounterMismatch(t *testing.T) {
	card := testonly.NewMemCard()
	p := testPartition(t, card)
	if err := p.ProgramKey(); err != nil {
		t.Fatalf("ProgramKey: %v", err)
	}

	card.SkipIncrement = true
	err := p.Write(3, []byte{1})
	if err == nil || !strings.Contains(err.Error(), "counter mismatch") {
		t.Fatalf("Got %v, want write counter mismatch", err)
	}
}

func TestWrongKey(t *testing.T) {
	card := testonly.NewMemCard()
	p := testPartition(t, card)
	if err := p.ProgramKey(); err != nil {
		t.Fatalf("ProgramKey: %v", err)
	}

	other, err := rpmb.Init(card, bytes.Repeat([]byte{0x47}, 32), 0, false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := other.Read(3, make([]byte, 4)); err == nil {
		t.Fatal("Got nil error with wrong MAC key, want error")
	}
}

func TestInitDummyWrite(t *testing.T) {
	card := testonly.NewMemCard()

	// Pre-program through a throwaway instance.
	p := testPartition(t, card)
	if err := p.ProgramKey(); err != nil {
		t.Fatalf("ProgramKey: %v", err)
	}

	// On a programmed card the mitigation write commits and advances the
	// counter.
	if _, err := rpmb.Init(card, testMACKey, 0, true); err != nil {
		t.Fatalf("Init with dummy write: %v", err)
	}
	if card.Counter != 1 {
		t.Errorf("Got counter %d, want 1", card.Counter)
	}

	// On a fresh card the mitigation write cannot authenticate.
	if _, err := rpmb.Init(testonly.NewMemCard(), testMACKey, 0, true); err == nil {
		t.Fatal("Got nil error for dummy write on fresh card, want error")
	}
}

func TestTransferTooLarge(t *testing.T) {
	p := testPartition(t, testonly.NewMemCard())
	if err := p.Write(0, make([]byte, 257)); err == nil {
		t.Fatal("Got nil error for oversized transfer, want error")
	}
}

func TestUninitialized(t *testing.T) {
	p := &rpmb.RPMB{}
	if err := p.Read(0, make([]byte, 4)); err == nil {
		t.Fatal("Got nil error for uninitialized instance, want error")
	}
}
