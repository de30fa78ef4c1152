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

// Package testonly provides a scriptable hardware crypto engine for tests.
package testonly

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"math/big"
	"testing"

	"github.com/transparency-dev/vboot/api"
	"github.com/transparency-dev/vboot/hwcrypto"
)

// Engine implements hwcrypto.DigestEngine and hwcrypto.Verifier in software.
// Each operation can be scripted to fail, and counts its calls, so tests can
// drive the fallback logic and assert which paths ran.
//
// With no scripted errors the engine computes real digests and performs real
// PKCS#1 v1.5 checks, so a passing verification through it is meaningful.
type Engine struct {
	// Scripted results. A nil error means the real computation runs;
	// hwcrypto.ErrUnsupported triggers software fallback in the caller.
	DigestInitErr     error
	DigestExtendErr   error
	DigestFinalizeErr error
	VerifyErr         error

	// Call counts, including calls that returned a scripted error.
	InitCalls     int
	ExtendCalls   int
	FinalizeCalls int
	VerifyCalls   int

	h hash.Hash
}

func (e *Engine) DigestInit(alg api.HashAlg, dataSize uint32) error {
	e.InitCalls++

	if e.DigestInitErr != nil {
		return e.DigestInitErr
	}

	switch alg {
	case api.HashSHA1:
		e.h = sha1.New()
	case api.HashSHA224:
		e.h = sha256.New224()
	case api.HashSHA256:
		e.h = sha256.New()
	case api.HashSHA384:
		e.h = sha512.New384()
	case api.HashSHA512:
		e.h = sha512.New()
	default:
		return hwcrypto.ErrUnsupported
	}

	return nil
}

func (e *Engine) DigestExtend(buf []byte) error {
	e.ExtendCalls++

	if e.DigestExtendErr != nil {
		return e.DigestExtendErr
	}

	e.h.Write(buf)

	return nil
}

func (e *Engine) DigestFinalize(out []byte) error {
	e.FinalizeCalls++

	if e.DigestFinalizeErr != nil {
		return e.DigestFinalizeErr
	}

	e.h.Sum(out[:0])

	return nil
}

func (e *Engine) VerifyRSA(sigAlg api.SigAlg, hashAlg api.HashAlg, modulus, sig, digest []byte) error {
	e.VerifyCalls++

	if e.VerifyErr != nil {
		return e.VerifyErr
	}

	var ch crypto.Hash

	switch hashAlg {
	case api.HashSHA1:
		ch = crypto.SHA1
	case api.HashSHA224:
		ch = crypto.SHA224
	case api.HashSHA256:
		ch = crypto.SHA256
	case api.HashSHA384:
		ch = crypto.SHA384
	case api.HashSHA512:
		ch = crypto.SHA512
	default:
		return hwcrypto.ErrUnsupported
	}

	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulus),
		E: 65537,
	}

	return rsa.VerifyPKCS1v15(pub, ch, digest, sig)
}

// Install registers e as both the digest engine and the RSA verifier for the
// duration of the test, restoring whatever was registered before.
func Install(t *testing.T, e *Engine) {
	t.Helper()

	prevDigest := hwcrypto.Digest()
	prevRSA := hwcrypto.RSA()

	hwcrypto.RegisterDigestEngine(e)
	hwcrypto.RegisterVerifier(e)

	t.Cleanup(func() {
		hwcrypto.RegisterDigestEngine(prevDigest)
		hwcrypto.RegisterVerifier(prevRSA)
	})
}
