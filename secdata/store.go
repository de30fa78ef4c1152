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

package secdata

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/vboot/rpmb"
)

// Space identifies one secure storage space.
type Space uint16

const (
	SpaceFirmware Space = iota
	SpaceKernel
	SpaceFWMP
)

// Store reads and writes the raw bytes of secure storage spaces. The
// backing medium must be tamper-evident for the rollback protection to
// mean anything; the CRC guards only against corruption.
type Store interface {
	ReadSpace(space Space, buf []byte) error
	WriteSpace(space Space, buf []byte) error
}

// RPMB sector assignment, one space per 256-byte sector.
const (
	// RPMB sector for CVE-2020-13799 mitigation
	dummySector = 0
	// RPMB sector for the firmware rollback space
	firmwareSector = 1
	// RPMB sector for the kernel rollback space
	kernelSector = 2
	// RPMB sector for the firmware management parameters
	fwmpSector = 3
)

// RPMBStore is a Store backed by the replay-protected partition of an
// eMMC.
type RPMBStore struct {
	partition *rpmb.RPMB
}

// NewRPMBStore returns a Store over an initialized RPMB partition.
func NewRPMBStore(partition *rpmb.RPMB) *RPMBStore {
	return &RPMBStore{partition: partition}
}

func sector(space Space) (uint16, error) {
	switch space {
	case SpaceFirmware:
		return firmwareSector, nil
	case SpaceKernel:
		return kernelSector, nil
	case SpaceFWMP:
		return fwmpSector, nil
	}

	return 0, fmt.Errorf("secdata: unknown space %d", space)
}

// ReadSpace reads len(buf) bytes from the sector assigned to space.
func (s *RPMBStore) ReadSpace(space Space, buf []byte) error {
	offset, err := sector(space)
	if err != nil {
		return err
	}
	return s.partition.Read(offset, buf)
}

// WriteSpace writes buf to the sector assigned to space with an
// authenticated, counter-protected write.
func (s *RPMBStore) WriteSpace(space Space, buf []byte) error {
	offset, err := sector(space)
	if err != nil {
		return err
	}
	return s.partition.Write(offset, buf)
}

// ReadFirmware reads and validates the firmware space.
func ReadFirmware(s Store) (*Firmware, error) {
	buf := make([]byte, FirmwareSize)
	if err := s.ReadSpace(SpaceFirmware, buf); err != nil {
		return nil, err
	}
	return ParseFirmware(buf)
}

// CommitFirmware writes the firmware space back if it has pending
// changes. An unchanged space costs no storage write.
func CommitFirmware(s Store, f *Firmware) error {
	if !f.Dirty() {
		return nil
	}
	if err := s.WriteSpace(SpaceFirmware, f.Marshal()); err != nil {
		return err
	}
	f.markClean()

	klog.V(2).Infof("firmware space committed: flags %#02x, versions %#08x", f.Flags(), f.Versions())
	return nil
}

// ReadKernel reads and validates the kernel space.
func ReadKernel(s Store) (*Kernel, error) {
	buf := make([]byte, KernelSize)
	if err := s.ReadSpace(SpaceKernel, buf); err != nil {
		return nil, err
	}
	return ParseKernel(buf)
}

// CommitKernel writes the kernel space back if it has pending changes.
func CommitKernel(s Store, k *Kernel) error {
	if !k.Dirty() {
		return nil
	}
	if err := s.WriteSpace(SpaceKernel, k.Marshal()); err != nil {
		return err
	}
	k.markClean()

	klog.V(2).Infof("kernel space committed: versions %#08x", k.Versions())
	return nil
}

// ReadFWMP reads and validates the FWMP space. The boot path never
// writes it back.
func ReadFWMP(s Store) (*FWMP, error) {
	buf := make([]byte, FWMPMaxSize)
	if err := s.ReadSpace(SpaceFWMP, buf); err != nil {
		return nil, err
	}
	return ParseFWMP(buf)
}
