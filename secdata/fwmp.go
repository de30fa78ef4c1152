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

import "encoding/binary"

// FWMP space flags.
const (
	FWMPDevDisableBoot        = 1 << 0
	FWMPDevDisableRecovery    = 1 << 1
	FWMPDevEnableUSB          = 1 << 2
	FWMPDevEnableLegacy       = 1 << 3
	FWMPDevEnableOfficialOnly = 1 << 4
	FWMPDevUseKeyHash         = 1 << 5
)

// FWMP space sizes. The structure carries its own size so it can grow;
// anything past the version 1.0 fields is covered by the CRC but has no
// meaning here.
//
// Layout: crc8 u8, struct_size u8, struct_version u8, reserved u8,
// flags u32, dev_key_hash [32]u8. Flags little-endian, CRC over
// struct_version onward.
const (
	FWMPMinSize = 40
	FWMPMaxSize = 64
)

// Major version 1, minor version 0. A higher minor version stays
// readable; a different major version does not.
const fwmpStructVersion = 0x10

// FWMP holds the firmware management parameters: policy restricting
// developer mode, written by the platform owner and read-only to the
// boot path.
type FWMP struct {
	Flags      uint32
	DevKeyHash [32]byte
}

// ParseFWMP validates and decodes a stored FWMP space. buf may be longer
// than the structure's declared size.
func ParseFWMP(buf []byte) (*FWMP, error) {
	if len(buf) < FWMPMinSize {
		return nil, ErrSize
	}

	size := int(buf[1])
	if size < FWMPMinSize || size > FWMPMaxSize || size > len(buf) {
		return nil, ErrSize
	}
	if buf[0] != crc8(buf[2:size]) {
		return nil, ErrCRC
	}
	if buf[2]>>4 != fwmpStructVersion>>4 {
		return nil, ErrVersion
	}

	f := &FWMP{
		Flags: binary.LittleEndian.Uint32(buf[4:]),
	}
	copy(f.DevKeyHash[:], buf[8:40])

	return f, nil
}

// Marshal serializes the space as a version 1.0 structure.
func (f *FWMP) Marshal() []byte {
	buf := make([]byte, FWMPMinSize)
	buf[1] = FWMPMinSize
	buf[2] = fwmpStructVersion
	binary.LittleEndian.PutUint32(buf[4:], f.Flags)
	copy(buf[8:40], f.DevKeyHash[:])
	buf[0] = crc8(buf[2:FWMPMinSize])
	return buf
}
