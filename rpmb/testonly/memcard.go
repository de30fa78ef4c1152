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

// Package testonly provides an in-memory RPMB card for tests.
package testonly

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/transparency-dev/vboot/rpmb"
)

// macRegion is the length of the MAC'd tail of a data frame: every field
// from Data onward, per JESD84-B51.
const macRegion = 284

// MemCard emulates the card side of the RPMB protocol: key programming, a
// monotonic write counter, per-sector storage and response MACs. It
// implements rpmb.Card.
type MemCard struct {
	Key        [32]byte
	Programmed bool
	Counter    uint32
	Sectors    map[uint16][256]byte

	// SkipIncrement makes writes succeed without bumping the counter,
	// emulating the replayable behavior the write path must detect.
	SkipIncrement bool

	pending    []*rpmb.DataFrame
	lastResult *rpmb.DataFrame
}

// NewMemCard creates a new in-memory card with an unprogrammed key.
func NewMemCard() *MemCard {
	return &MemCard{Sectors: make(map[uint16][256]byte)}
}

func (c *MemCard) seal(f *rpmb.DataFrame) {
	mac := hmac.New(sha256.New, c.Key[:])
	mac.Write(f.Bytes()[rpmb.FrameLength-macRegion:])
	copy(f.KeyMAC[:], mac.Sum(nil))
}

func (c *MemCard) checkMAC(f *rpmb.DataFrame) bool {
	mac := hmac.New(sha256.New, c.Key[:])
	mac.Write(f.Bytes()[rpmb.FrameLength-macRegion:])

	// The MAC'd region excludes KeyMAC itself, so comparing against the
	// received field is sound.
	return hmac.Equal(f.KeyMAC[:], mac.Sum(nil))
}

// WriteRPMB handles one request frame the way a card does.
func (c *MemCard) WriteRPMB(buf []byte, rel bool) error {
	f := &rpmb.DataFrame{}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, f); err != nil {
		return err
	}

	addr := binary.BigEndian.Uint16(f.Address[:])

	switch f.Req {
	case rpmb.AuthenticationKeyProgramming:
		res := &rpmb.DataFrame{Resp: rpmb.AuthenticationKeyProgramming}
		if c.Programmed {
			binary.BigEndian.PutUint16(res.Result[:], rpmb.GeneralFailure)
		} else {
			c.Key = f.KeyMAC
			c.Programmed = true
		}
		c.lastResult = res

	case rpmb.WriteCounterRead:
		res := &rpmb.DataFrame{Resp: rpmb.WriteCounterRead, Nonce: f.Nonce}
		binary.BigEndian.PutUint32(res.WriteCounter[:], c.Counter)
		if !c.Programmed {
			binary.BigEndian.PutUint16(res.Result[:], rpmb.AuthenticationKeyNotYetProgrammed)
		}
		c.seal(res)
		c.pending = append(c.pending, res)

	case rpmb.AuthenticatedDataWrite:
		res := &rpmb.DataFrame{Resp: rpmb.AuthenticatedDataWrite, Address: f.Address}
		switch {
		case !c.Programmed:
			binary.BigEndian.PutUint16(res.Result[:], rpmb.AuthenticationKeyNotYetProgrammed)
		case !c.checkMAC(f):
			binary.BigEndian.PutUint16(res.Result[:], rpmb.AuthenticationFailure)
		case f.Counter() != c.Counter:
			binary.BigEndian.PutUint16(res.Result[:], rpmb.CounterFailure)
		default:
			c.Sectors[addr] = f.Data
			if !c.SkipIncrement {
				c.Counter++
			}
		}
		binary.BigEndian.PutUint32(res.WriteCounter[:], c.Counter)
		c.seal(res)
		c.lastResult = res

	case rpmb.AuthenticatedDataRead:
		res := &rpmb.DataFrame{Resp: rpmb.AuthenticatedDataRead, Nonce: f.Nonce, Address: f.Address}
		res.Data = c.Sectors[addr]
		if !c.Programmed {
			binary.BigEndian.PutUint16(res.Result[:], rpmb.AuthenticationKeyNotYetProgrammed)
		}
		c.seal(res)
		c.pending = append(c.pending, res)

	case rpmb.ResultRead:
		if c.lastResult != nil {
			c.pending = append(c.pending, c.lastResult)
			c.lastResult = nil
		}
	}

	return nil
}

// ReadRPMB returns the next queued response frame.
func (c *MemCard) ReadRPMB(buf []byte) error {
	if len(c.pending) == 0 {
		return errors.New("no pending response")
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	copy(buf, f.Bytes())
	return nil
}
