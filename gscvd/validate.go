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

package gscvd

import (
	"bytes"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/vboot/api"
	"github.com/transparency-dev/vboot/fmap"
	"github.com/transparency-dev/vboot/vboot"
)

// Validate checks the verification data embedded in image end to end: the
// record's structure, that the flash map has not moved, that the protected
// ranges still hash to the recorded digest, that the keyblock is signed by
// the root key the record carries, and that the record is signed by the
// keyblock's data key. When rootKeyDigest is non-empty it must be the
// SHA-256 of the embedded root key material, standing in for the copy the
// chip holds in fuses. The image is not modified; verification scratch
// works on copies.
func Validate(image []byte, rootKeyDigest []byte) (*VerificationData, error) {
	m, fmapOff, err := fmap.Find(image)
	if err != nil {
		return nil, err
	}
	a, ok := m.FindArea(areaGSCVD)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoArea, areaGSCVD)
	}
	area := image[a.Offset : uint64(a.Offset)+uint64(a.Size)]

	vd, err := Parse(area)
	if err != nil {
		return nil, err
	}
	if vd.FmapLocation != uint32(fmapOff) {
		klog.V(2).Infof("flash map at %#x, verification data expects %#x", fmapOff, vd.FmapLocation)
		return nil, ErrFmapLocation
	}
	if err := verifyRanges(vd.Ranges, m, a); err != nil {
		return nil, err
	}
	digest, err := digestRanges(image, vd.Ranges, vd.HashAlg)
	if err != nil {
		return nil, err
	}
	if !vboot.SafeCompare(digest[:], vd.RangesDigest[:]) {
		klog.V(2).Infof("ranges digest mismatch")
		return nil, vboot.ErrVerification
	}

	if len(rootKeyDigest) > 0 {
		h := &vboot.Hash{Alg: api.HashSHA256}
		copy(h.Digest[:], rootKeyDigest)
		if err := h.Verify(vd.RootKeyBody); err != nil {
			klog.V(2).Infof("root key digest mismatch")
			return nil, fmt.Errorf("root key: %w", err)
		}
	}
	rootPub, err := vboot.UnpackKey(area[RootKeyOffset:vd.Size])
	if err != nil {
		return nil, fmt.Errorf("root key: %w", err)
	}

	kbStart := uint64(vd.Size)
	if kbStart+api.KeyblockSize > uint64(len(area)) {
		return nil, fmt.Errorf("%w: no room for a keyblock after the record", ErrFormat)
	}
	// Verification consumes signature bodies, so both the keyblock and
	// the record are checked on copies, leaving the image intact.
	block := bytes.Clone(area[kbStart:])
	wb := vboot.NewWorkbuf(make([]byte, vboot.VerifyDataWorkbufBytes))
	kb, err := vboot.VerifyKeyblock(block, rootPub, &wb)
	if err != nil {
		return nil, fmt.Errorf("platform keyblock: %w", err)
	}
	dataPub, err := vboot.UnpackKey(block[api.KeyblockDataKeyOffset:kb.Signature.DataSize])
	if err != nil {
		return nil, fmt.Errorf("platform key: %w", err)
	}

	record := bytes.Clone(area[:vd.Size])
	if err := vboot.VerifyData(record[:vd.SignedSize()], record[SignatureOffset:], dataPub, &wb); err != nil {
		return nil, fmt.Errorf("verification data signature: %w", err)
	}

	klog.V(2).Infof("verification data valid: board %#x, rollback %d, %d ranges",
		vd.BoardID, vd.RollbackCounter, len(vd.Ranges))
	return vd, nil
}
