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

// VerifyKernelPreamble checks that the kernel preamble at the start of buf
// is correctly signed by key, normally the data key of an already verified
// keyblock, and that the body signature it stores lies inside the signed
// region. The kernel body itself is verified separately by the caller, with
// VerifyData against the returned BodySignature.
//
// The preamble's signature body is consumed by verification, as for
// VerifyDigest.
func VerifyKernelPreamble(buf []byte, key *PublicKey, wb *Workbuf) (*api.KernelPreamble, error) {
	p, err := api.ParseKernelPreamble(buf)
	if err != nil {
		return nil, err
	}
	if p.Size < api.KernelPreambleSize {
		return nil, fmt.Errorf("preamble size %d smaller than header", p.Size)
	}
	if uint64(p.Size) > uint64(len(buf)) {
		return nil, fmt.Errorf("preamble size %d exceeds buffer %d", p.Size, len(buf))
	}
	if err := VerifySignatureInside(uint64(p.Size), api.KernelPreambleSignatureOffset, p.Signature); err != nil {
		klog.V(2).Infof("preamble signature: %v", err)
		return nil, fmt.Errorf("preamble signature: %w", err)
	}
	if p.Signature.DataSize < api.KernelPreambleSize {
		return nil, fmt.Errorf("preamble signed region %d smaller than header", p.Signature.DataSize)
	}

	if err := VerifyData(buf[:p.Size], buf[api.KernelPreambleSignatureOffset:p.Size], key, wb); err != nil {
		return nil, err
	}

	// The stored body signature must be covered by the preamble signature,
	// or an attacker could swap in their own body signature.
	if err := VerifySignatureInside(uint64(p.Signature.DataSize), api.KernelPreambleBodySignatureOffset, p.BodySignature); err != nil {
		klog.V(2).Infof("preamble body signature outside signed region: %v", err)
		return nil, fmt.Errorf("preamble body signature: %w", err)
	}
	return &p, nil
}
