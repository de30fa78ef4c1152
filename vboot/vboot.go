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

// Package vboot implements the bounded-memory verification engine of a
// verified boot chain: a fixed-capacity scratch arena, containment checks
// proving that claimed sub-structures lie inside their parent buffers, a
// digest pipeline with an optional hardware fast path, and the signature
// verification built on top of them.
//
// Every input is attacker-controlled until proven otherwise. The engine
// never trusts a declared offset or size before a containment check, never
// allocates outside the caller's arena, and reports each distinct way an
// input can be malformed as a distinct error.
package vboot

import "errors"

// Containment failures, one per check, so callers can diagnose which
// invariant a malformed input violated.
var (
	ErrParentWraps   = errors.New("vboot: parent region wraps")
	ErrMemberWraps   = errors.New("vboot: member size wraps")
	ErrMemberOutside = errors.New("vboot: member outside parent")
	ErrDataOverlap   = errors.New("vboot: data overlaps member")
	ErrDataWraps     = errors.New("vboot: data size wraps")
	ErrDataOutside   = errors.New("vboot: data outside parent")
)

var (
	// ErrWorkbufFull reports that an arena allocation exceeded the
	// remaining capacity.
	ErrWorkbufFull = errors.New("vboot: workbuf exhausted")

	// ErrAlignNoRoom reports a span too small to absorb its alignment
	// padding.
	ErrAlignNoRoom = errors.New("vboot: no room to align offset")

	// ErrAlignSize reports that a span holds fewer than the wanted bytes
	// once aligned.
	ErrAlignSize = errors.New("vboot: size too small after alignment")
)

var (
	// ErrUnsupportedAlgorithm reports an unrecognized digest or signature
	// algorithm identifier.
	ErrUnsupportedAlgorithm = errors.New("vboot: unsupported algorithm")

	// ErrSigSize reports a signature whose declared body size does not
	// equal the size mandated by the key's algorithm.
	ErrSigSize = errors.New("vboot: signature size mismatch for algorithm")

	// ErrNotEnoughData reports a signature claiming to cover more data
	// than was supplied.
	ErrNotEnoughData = errors.New("vboot: data buffer smaller than signed data")

	// ErrVerification reports a cryptographic mismatch. It is deliberately
	// opaque: nothing about why the check failed is exposed, to avoid
	// leaking oracle information to an attacker probing the verifier.
	ErrVerification = errors.New("vboot: verification error")
)

// Packed key unpacking failures.
var (
	ErrKeyAlgorithm = errors.New("vboot: unsupported key algorithm")
	ErrKeySize      = errors.New("vboot: key size mismatch for algorithm")
	ErrKeyAlign     = errors.New("vboot: key material misaligned")
)
