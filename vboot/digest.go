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
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/vboot/api"
	"github.com/transparency-dev/vboot/hwcrypto"
)

// engineOr runs a hardware engine attempt, falling back to sw only when the
// attempt reports hwcrypto.ErrUnsupported. Any other outcome — success or
// failure — stands: an engine that started work and then failed may have
// left inconsistent state, so it is never retried in software.
func engineOr(attempt, sw func() error) error {
	if err := attempt(); !errors.Is(err, hwcrypto.ErrUnsupported) {
		return err
	}
	return sw()
}

func newHash(alg api.HashAlg) (hash.Hash, error) {
	switch alg {
	case api.HashSHA1:
		return sha1.New(), nil
	case api.HashSHA224:
		return sha256.New224(), nil
	case api.HashSHA256:
		return sha256.New(), nil
	case api.HashSHA384:
		return sha512.New384(), nil
	case api.HashSHA512:
		return sha512.New(), nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// DigestContext is a running digest over a byte range. It is created by
// NewDigest, fed with Extend and consumed by Finalize.
type DigestContext struct {
	alg api.HashAlg
	hw  hwcrypto.DigestEngine // set when the hardware engine took the session
	h   hash.Hash
}

// NewDigest starts a digest session for alg over dataSize total bytes.
//
// When hwAllowed is set and a hardware digest engine is registered it is
// tried first: "unsupported" falls back transparently to software, while any
// other engine failure is fatal and propagates. An unrecognized algorithm
// fails with ErrUnsupportedAlgorithm.
func NewDigest(alg api.HashAlg, hwAllowed bool, dataSize uint32) (*DigestContext, error) {
	dc := &DigestContext{alg: alg}

	attempt := func() error {
		if !hwAllowed {
			return hwcrypto.ErrUnsupported
		}
		e := hwcrypto.Digest()
		if e == nil {
			return hwcrypto.ErrUnsupported
		}
		if err := e.DigestInit(alg, dataSize); err != nil {
			if errors.Is(err, hwcrypto.ErrUnsupported) {
				klog.V(2).Infof("hardware digest does not support %v, using software", alg)
			}
			return err
		}
		klog.V(2).Infof("using hardware digest engine for %v", alg)
		dc.hw = e
		return nil
	}
	sw := func() error {
		h, err := newHash(alg)
		dc.h = h
		return err
	}

	if err := engineOr(attempt, sw); err != nil {
		return nil, err
	}
	return dc, nil
}

// Extend folds one more chunk into the running digest. It may be called any
// number of times; the digest is invariant under chunking.
func (dc *DigestContext) Extend(buf []byte) error {
	if dc.hw != nil {
		return dc.hw.DigestExtend(buf)
	}
	dc.h.Write(buf)
	return nil
}

// Finalize consumes the context and writes the digest to out. out must hold
// at least the algorithm's digest size; any space beyond it is zero-filled,
// never left uninitialized.
func (dc *DigestContext) Finalize(out []byte) error {
	size := dc.alg.Size()
	if uint32(len(out)) < size {
		return fmt.Errorf("digest buffer too small: %d < %d", len(out), size)
	}
	if dc.hw != nil {
		if err := dc.hw.DigestFinalize(out[:size]); err != nil {
			return err
		}
	} else {
		dc.h.Sum(out[:0])
	}
	clear(out[size:])
	return nil
}

// DigestBuffer computes the software digest of data in one shot, composing
// init, extend and finalize for callers that hold the whole range in memory.
func DigestBuffer(data []byte, alg api.HashAlg, out []byte) error {
	dc, err := NewDigest(alg, false, uint32(len(data)))
	if err != nil {
		return err
	}
	if err := dc.Extend(data); err != nil {
		return err
	}
	return dc.Finalize(out)
}
