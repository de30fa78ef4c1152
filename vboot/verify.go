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
	"crypto/rsa"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/vboot/api"
	"github.com/transparency-dev/vboot/hwcrypto"
)

// VerifyDataWorkbufBytes is the arena capacity VerifyData needs in the worst
// case: digest scratch plus signature scratch for the largest key.
const VerifyDataWorkbufBytes = api.MaxDigestSize + 8192/8

func cryptoHash(alg api.HashAlg) crypto.Hash {
	switch alg {
	case api.HashSHA1:
		return crypto.SHA1
	case api.HashSHA224:
		return crypto.SHA224
	case api.HashSHA256:
		return crypto.SHA256
	case api.HashSHA384:
		return crypto.SHA384
	case api.HashSHA512:
		return crypto.SHA512
	default:
		return 0
	}
}

// VerifyDigest verifies that the signature record at the start of sig signs
// digest under key. The declared signature body size must exactly equal the
// size mandated by the key's algorithm; that is checked before any
// cryptographic work.
//
// A signature is destroyed in the process of being verified: both the
// hardware and the software path consume the signature body as scratch, so a
// caller that needs to verify the same signature twice must keep its own
// copy. A mismatch is reported as the opaque ErrVerification.
func VerifyDigest(key *PublicKey, sig []byte, digest []byte, wb *Workbuf) error {
	s, err := api.ParseSignature(sig)
	if err != nil {
		return err
	}
	if s.SigSize != key.SigSize() {
		klog.V(2).Infof("wrong signature size for algorithm: sig_size=%d, expected %d", s.SigSize, key.SigSize())
		return ErrSigSize
	}
	if err := VerifySignatureInside(uint64(len(sig)), 0, s); err != nil {
		return err
	}
	body := s.Body(sig, 0)

	attempt := func() error {
		if !key.AllowHWCrypto {
			return hwcrypto.ErrUnsupported
		}
		v := hwcrypto.RSA()
		if v == nil {
			return hwcrypto.ErrUnsupported
		}
		err := v.VerifyRSA(key.SigAlg, key.HashAlg, key.Key.N.Bytes(), body, digest)
		if errors.Is(err, hwcrypto.ErrUnsupported) {
			klog.V(2).Infof("hardware RSA verification not supported")
			return err
		}
		clear(body)
		klog.V(2).Infof("hardware RSA engine verdict: %v", err)
		return err
	}
	sw := func() error {
		return rsaVerifyDigest(key, body, digest, wb)
	}
	return engineOr(attempt, sw)
}

// rsaVerifyDigest is the software signature check. It copies the signature
// body into arena scratch for the primitive and clobbers the original, so
// the destructive contract holds on this path too.
func rsaVerifyDigest(key *PublicKey, body, digest []byte, wb *Workbuf) error {
	wblocal := *wb
	scratch, err := wblocal.Alloc(key.SigSize())
	if err != nil {
		return fmt.Errorf("rsa scratch: %w", err)
	}
	copy(scratch, body)
	clear(body)

	if err := rsa.VerifyPKCS1v15(key.Key, cryptoHash(key.HashAlg), digest, scratch); err != nil {
		klog.V(2).Infof("signature does not verify")
		return ErrVerification
	}
	return nil
}

// VerifyData verifies that the signature record at the start of sig signs
// the first sig.data_size bytes of data under key. Digest scratch comes from
// a local copy of the arena descriptor, so the caller's cursor is never
// moved by this call.
//
// The signature body is destroyed by verification, as for VerifyDigest.
func VerifyData(data []byte, sig []byte, key *PublicKey, wb *Workbuf) error {
	wblocal := *wb

	s, err := api.ParseSignature(sig)
	if err != nil {
		return err
	}
	if uint64(s.DataSize) > uint64(len(data)) {
		klog.V(2).Infof("data buffer smaller than signed data: %d < %d", len(data), s.DataSize)
		return ErrNotEnoughData
	}

	digestSize := key.HashAlg.Size()
	if digestSize == 0 {
		return ErrUnsupportedAlgorithm
	}
	digest, err := wblocal.Alloc(digestSize)
	if err != nil {
		return fmt.Errorf("digest scratch: %w", err)
	}

	dc, err := NewDigest(key.HashAlg, key.AllowHWCrypto, s.DataSize)
	if err != nil {
		return err
	}
	if err := dc.Extend(data[:s.DataSize]); err != nil {
		return err
	}
	if err := dc.Finalize(digest); err != nil {
		return err
	}

	return VerifyDigest(key, sig, digest, &wblocal)
}
