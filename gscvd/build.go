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
	"math"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/vboot/api"
	"github.com/transparency-dev/vboot/fmap"
	"github.com/transparency-dev/vboot/vboot"
)

// BuildParams names everything that goes into a fresh verification data
// record besides the image itself.
type BuildParams struct {
	// BoardID is the board identity the chip compares against its own.
	BoardID uint32

	// Ranges are the flash spans the record attests, in image offsets.
	Ranges []Range

	// RootKey is the packed root key whose digest the chip holds.
	RootKey []byte

	// Keyblock is the platform keyblock, signed by the root key.
	Keyblock []byte

	// Signer is the platform private key matching the keyblock's data
	// key; it signs the record.
	Signer *PrivateKey
}

// Build assembles, signs and embeds a verification data record for image,
// overwriting the start of the image's RO_GSCVD area with the record
// followed by the keyblock. The keyblock's signature by the root key and
// the signer's correspondence to the keyblock's data key are checked
// before anything is written. Returns the embedded record.
func Build(image []byte, p BuildParams) (*VerificationData, error) {
	rootPub, err := vboot.UnpackKey(p.RootKey)
	if err != nil {
		return nil, fmt.Errorf("root key: %w", err)
	}

	// Verification consumes the signature body, and the data key is read
	// out of the block afterwards, so work on a copy.
	block := bytes.Clone(p.Keyblock)
	wb := vboot.NewWorkbuf(make([]byte, vboot.VerifyDataWorkbufBytes))
	kb, err := vboot.VerifyKeyblock(block, rootPub, &wb)
	if err != nil {
		return nil, fmt.Errorf("platform keyblock: %w", err)
	}
	dataPub, err := vboot.UnpackKey(block[api.KeyblockDataKeyOffset:kb.Signature.DataSize])
	if err != nil {
		return nil, fmt.Errorf("platform key: %w", err)
	}
	if p.Signer == nil || p.Signer.RSA.N.Cmp(dataPub.Key.N) != 0 ||
		p.Signer.SigAlg != dataPub.SigAlg || p.Signer.HashAlg != dataPub.HashAlg {
		return nil, ErrKeyMismatch
	}

	m, fmapOff, err := fmap.Find(image)
	if err != nil {
		return nil, err
	}
	area, ok := m.FindArea(areaGSCVD)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoArea, areaGSCVD)
	}
	if err := verifyRanges(p.Ranges, m, area); err != nil {
		return nil, err
	}
	digest, err := digestRanges(image, p.Ranges, api.HashSHA256)
	if err != nil {
		return nil, err
	}

	rk, err := api.ParsePackedKey(p.RootKey)
	if err != nil {
		return nil, err
	}
	material := rk.KeyMaterial(p.RootKey, 0)

	rangesSize := len(p.Ranges) * RangeSize
	signedSize := HeaderSize + rangesSize
	sigSize := int(p.Signer.SigSize())
	total := signedSize + sigSize + len(material)
	if total > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d byte record overflows the size field", ErrFormat, total)
	}
	if uint64(total+len(p.Keyblock)) > uint64(area.Size) {
		return nil, fmt.Errorf("gscvd: %q too small: need %d bytes, have %d", areaGSCVD, total+len(p.Keyblock), area.Size)
	}

	vd := &VerificationData{
		Size:            uint16(total),
		MajorVersion:    VersionMajor,
		MinorVersion:    VersionMinor,
		RollbackCounter: InitialRollbackCounter,
		BoardID:         p.BoardID,
		FmapLocation:    uint32(fmapOff),
		HashAlg:         api.HashSHA256,
		Signature: api.Signature{
			SigOffset: uint32(signedSize - SignatureOffset),
			SigSize:   uint32(sigSize),
			DataSize:  uint32(signedSize),
		},
		RootKey: api.PackedKey{
			KeyOffset:  uint32(signedSize + sigSize - RootKeyOffset),
			KeySize:    rk.KeySize,
			Algorithm:  rk.Algorithm,
			KeyVersion: rk.KeyVersion,
		},
		RangesDigest: digest,
		Ranges:       p.Ranges,
	}

	blob := make([]byte, total)
	vd.put(blob)
	copy(blob[signedSize+sigSize:], material)
	body, err := p.Signer.Sign(blob[:signedSize])
	if err != nil {
		return nil, err
	}
	copy(blob[signedSize:], body)
	vd.RootKeyBody = blob[signedSize+sigSize:]

	dst := image[area.Offset : uint64(area.Offset)+uint64(area.Size)]
	copy(dst, blob)
	copy(dst[total:], p.Keyblock)

	klog.V(2).Infof("verification data built: board %#x, %d ranges, %d+%d bytes in %q",
		p.BoardID, len(p.Ranges), total, len(p.Keyblock), areaGSCVD)
	return vd, nil
}
