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

// Package hwcrypto defines the interfaces to optional hardware crypto
// engines, and the registration points the verification engine consults.
//
// An engine reports ErrUnsupported for any operation it cannot serve; the
// caller then takes the software path instead. Any other error is fatal and
// propagates: an engine that started work and then failed may have left
// inconsistent state, so it is never silently retried in software.
package hwcrypto

import (
	"errors"

	"github.com/transparency-dev/vboot/api"
)

// ErrUnsupported is returned by an engine for an algorithm or operation it
// cannot serve. It is the only engine result that permits software fallback.
var ErrUnsupported = errors.New("hwcrypto: not supported")

// DigestEngine is a hardware digest session. One session runs at a time,
// matching the single-threaded boot execution model.
type DigestEngine interface {
	// DigestInit begins a session for alg over dataSize total bytes.
	DigestInit(alg api.HashAlg, dataSize uint32) error

	// DigestExtend folds one more chunk into the running state.
	DigestExtend(buf []byte) error

	// DigestFinalize consumes the session and writes the digest to out,
	// whose length equals the algorithm's digest size exactly.
	DigestFinalize(out []byte) error
}

// Verifier is a hardware RSA signature check.
type Verifier interface {
	// VerifyRSA checks sig over digest with the raw big-endian modulus of
	// a key using sigAlg and hashAlg. The contents of sig afterwards are
	// unspecified.
	VerifyRSA(sigAlg api.SigAlg, hashAlg api.HashAlg, modulus, sig, digest []byte) error
}

var (
	digestEngine DigestEngine
	rsaVerifier  Verifier
)

// RegisterDigestEngine installs the platform digest engine, typically from
// an init function of a hardware build. A nil engine uninstalls.
func RegisterDigestEngine(e DigestEngine) { digestEngine = e }

// Digest returns the registered digest engine, or nil when absent. Absence
// behaves exactly as ErrUnsupported.
func Digest() DigestEngine { return digestEngine }

// RegisterVerifier installs the platform RSA engine. A nil verifier
// uninstalls.
func RegisterVerifier(v Verifier) { rsaVerifier = v }

// RSA returns the registered RSA engine, or nil when absent.
func RSA() Verifier { return rsaVerifier }
