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

//go:build tamago
// +build tamago

package hwcrypto

import (
	"errors"

	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/transparency-dev/vboot/api"
)

// dcpEngine hashes through the i.MX6UL Data Co-Processor. The peripheral
// digests a single contiguous DMA region, so extends accumulate in memory
// and the hardware runs once at finalize.
//
// The DCP only implements SHA-256; every other algorithm falls back to
// software via ErrUnsupported.
type dcpEngine struct {
	buf  []byte
	open bool
}

func (d *dcpEngine) DigestInit(alg api.HashAlg, dataSize uint32) error {
	if alg != api.HashSHA256 {
		return ErrUnsupported
	}

	d.buf = make([]byte, 0, dataSize)
	d.open = true

	return nil
}

func (d *dcpEngine) DigestExtend(buf []byte) error {
	if !d.open {
		return errors.New("hwcrypto: extend without init")
	}

	d.buf = append(d.buf, buf...)

	return nil
}

func (d *dcpEngine) DigestFinalize(out []byte) error {
	if !d.open {
		return errors.New("hwcrypto: finalize without init")
	}

	d.open = false

	sum, err := imx6ul.DCP.Sum256(d.buf)

	if err != nil {
		return err
	}

	copy(out, sum[:])

	return nil
}

func init() {
	if imx6ul.Native && imx6ul.DCP != nil {
		imx6ul.DCP.Init()
		RegisterDigestEngine(&dcpEngine{})
	}
}
