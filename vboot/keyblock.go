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
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/vboot/api"
)

// checkKeyblock runs the structural checks shared by the signature and hash
// variants, against the signature record at sigOff.
func checkKeyblock(block []byte, sigOff uint64, sig api.Signature, kb api.Keyblock) error {
	if kb.VersionMajor != api.KeyblockVersionMajor {
		return fmt.Errorf("unsupported keyblock version %d.%d", kb.VersionMajor, kb.VersionMinor)
	}
	if uint64(kb.Size) > uint64(len(block)) {
		return fmt.Errorf("keyblock size %d exceeds buffer %d", kb.Size, len(block))
	}
	if err := VerifySignatureInside(uint64(kb.Size), sigOff, sig); err != nil {
		return fmt.Errorf("keyblock signature: %w", err)
	}
	if sig.DataSize < api.KeyblockSize {
		return fmt.Errorf("keyblock signed region %d smaller than header", sig.DataSize)
	}
	return nil
}

// VerifyKeyblock checks that the keyblock at the start of block is correctly
// signed by key and that its data key lies inside the signed region,
// returning the parsed keyblock. The keyblock's signature body is consumed
// by verification, as for VerifyDigest.
func VerifyKeyblock(block []byte, key *PublicKey, wb *Workbuf) (*api.Keyblock, error) {
	kb, err := api.ParseKeyblock(block)
	if err != nil {
		return nil, err
	}
	if err := checkKeyblock(block, api.KeyblockSignatureOffset, kb.Signature, kb); err != nil {
		klog.V(2).Infof("keyblock structure: %v", err)
		return nil, err
	}

	if err := VerifyData(block[:kb.Size], block[api.KeyblockSignatureOffset:kb.Size], key, wb); err != nil {
		return nil, err
	}

	// The data key must itself lie inside the region the signature covers,
	// or an attacker could attach an unsigned key to a signed header.
	if err := VerifyPackedKeyInside(uint64(kb.Signature.DataSize), api.KeyblockDataKeyOffset, kb.DataKey); err != nil {
		klog.V(2).Infof("keyblock data key outside signed region: %v", err)
		return nil, fmt.Errorf("keyblock data key: %w", err)
	}
	return &kb, nil
}

// VerifyKeyblockHash checks the keyblock against its self-hash instead of a
// signature. It proves integrity only, not authenticity; it is for unsigned
// blocks in developer flows.
func VerifyKeyblockHash(block []byte, wb *Workbuf) (*api.Keyblock, error) {
	kb, err := api.ParseKeyblock(block)
	if err != nil {
		return nil, err
	}
	if err := checkKeyblock(block, api.KeyblockHashOffset, kb.Hash, kb); err != nil {
		klog.V(2).Infof("keyblock structure: %v", err)
		return nil, err
	}
	if kb.Hash.SigSize != api.HashSHA512.Size() {
		return nil, ErrSigSize
	}
	if kb.Hash.DataSize > kb.Size {
		return nil, ErrNotEnoughData
	}

	wblocal := *wb
	digest, err := wblocal.Alloc(api.HashSHA512.Size())
	if err != nil {
		return nil, fmt.Errorf("digest scratch: %w", err)
	}
	if err := DigestBuffer(block[:kb.Hash.DataSize], api.HashSHA512, digest); err != nil {
		return nil, err
	}
	if !SafeCompare(digest, kb.Hash.Body(block, api.KeyblockHashOffset)) {
		klog.V(2).Infof("keyblock hash does not verify")
		return nil, ErrVerification
	}

	if err := VerifyPackedKeyInside(uint64(kb.Hash.DataSize), api.KeyblockDataKeyOffset, kb.DataKey); err != nil {
		return nil, fmt.Errorf("keyblock data key: %w", err)
	}
	return &kb, nil
}
