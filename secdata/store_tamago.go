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

package secdata

import (
	"bytes"
	"crypto/aes"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/usbarmory/tamago/soc/nxp/imx6ul"
	"github.com/usbarmory/tamago/soc/nxp/usdhc"

	"github.com/usbarmory/crucible/otp"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/vboot/rpmb"
)

const (
	diversifierMAC = "vbootRollbackMAC"
	iter           = 4096

	// RPMB OTP flag bank
	rpmbFuseBank = 4
	// RPMB OTP flag word
	rpmbFuseWord = 6
)

// Open initializes the RPMB backed store on an internal eMMC, deriving the
// partition MAC key from the hardware unique key.
//
// On a card whose authentication key was never programmed the key is
// programmed first, after fusing an OTP bit recording the fact; a fused
// bit with an unprogrammed card means the eMMC was replaced to intercept
// ProgramKey(), and is fatal.
func Open(card *usdhc.USDHC) (*RPMBStore, error) {
	if !imx6ul.Native || imx6ul.DCP == nil {
		return nil, errors.New("RPMB key derivation requires the hardware DCP")
	}

	imx6ul.DCP.Init()

	// derive key for RPMB MAC generation
	dk, err := imx6ul.DCP.DeriveKey([]byte(diversifierMAC), make([]byte, aes.BlockSize), -1)

	if err != nil {
		return nil, fmt.Errorf("could not derive RPMB key (%v)", err)
	}

	uid := imx6ul.UniqueID()

	partition, err := rpmb.Init(
		card,
		pbkdf2.Key(dk, uid[:], iter, sha256.Size, sha256.New),
		dummySector,
		false,
	)

	if err != nil {
		return nil, err
	}

	_, err = partition.Counter(false)

	switch {
	case rpmb.IsKeyNotProgrammed(err):
		// Fuse a bit to indicate previous key programming to prevent
		// malicious eMMC replacement to intercept ProgramKey().
		//
		// If already fused refuse to do any programming and bail.
		if res, err := otp.ReadOCOTP(rpmbFuseBank, rpmbFuseWord, 0, 1); err != nil || bytes.Equal(res, []byte{1}) {
			return nil, fmt.Errorf("could not read RPMB program key flag (%x, %v)", res, err)
		}

		if err := otp.BlowOCOTP(rpmbFuseBank, rpmbFuseWord, 0, 1, []byte{1}); err != nil {
			return nil, fmt.Errorf("could not fuse RPMB program key flag (%v)", err)
		}

		klog.Infof("RPMB authentication key not yet programmed, programming")

		if err := partition.ProgramKey(); err != nil {
			return nil, errors.New("could not program RPMB key")
		}
	case err != nil:
		return nil, err
	}

	// invalidate uncommitted writes (CVE-2020-13799)
	if err := partition.Write(dummySector, nil); err != nil {
		return nil, err
	}

	return NewRPMBStore(partition), nil
}
