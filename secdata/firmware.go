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

// Firmware space flags.
const (
	// FirmwareFlagLastBootDeveloper is set when the previous boot ran in
	// developer mode.
	FirmwareFlagLastBootDeveloper = 1 << 0

	// FirmwareFlagDevMode is the virtual developer mode switch.
	FirmwareFlagDevMode = 1 << 1
)

// FirmwareSize is the length of a serialized firmware space.
//
// Layout: struct_version u8, flags u8, fw_versions u32, reserved [3]u8,
// crc8 u8. All integers little-endian, CRC over everything before it.
const FirmwareSize = 10

const firmwareStructVersion = 2

// Firmware is the firmware rollback space: the developer mode flags and
// the combined data key/firmware version epoch.
//
// The zero value is a freshly created space. Mutations go through the
// setters so that an unchanged value never marks the space dirty.
type Firmware struct {
	flags    uint8
	versions uint32
	dirty    bool
}

// NewFirmware returns a freshly initialized firmware space, marked dirty
// so the first commit writes it out.
func NewFirmware() *Firmware {
	return &Firmware{dirty: true}
}

// ParseFirmware validates and decodes a stored firmware space.
func ParseFirmware(buf []byte) (*Firmware, error) {
	if len(buf) != FirmwareSize {
		return nil, ErrSize
	}
	if buf[FirmwareSize-1] != crc8(buf[:FirmwareSize-1]) {
		return nil, ErrCRC
	}
	if buf[0] != firmwareStructVersion {
		return nil, ErrVersion
	}

	return &Firmware{
		flags:    buf[1],
		versions: binary.LittleEndian.Uint32(buf[2:]),
	}, nil
}

// Marshal serializes the space, recomputing its CRC.
func (f *Firmware) Marshal() []byte {
	buf := make([]byte, FirmwareSize)
	buf[0] = firmwareStructVersion
	buf[1] = f.flags
	binary.LittleEndian.PutUint32(buf[2:], f.versions)
	buf[FirmwareSize-1] = crc8(buf[:FirmwareSize-1])
	return buf
}

// Flags returns the space flags.
func (f *Firmware) Flags() uint8 { return f.flags }

// SetFlags updates the space flags.
func (f *Firmware) SetFlags(v uint8) {
	if f.flags == v {
		return
	}
	f.flags = v
	f.dirty = true
}

// Versions returns the combined firmware rollback version epoch.
func (f *Firmware) Versions() uint32 { return f.versions }

// SetVersions updates the combined firmware rollback version epoch.
func (f *Firmware) SetVersions(v uint32) {
	if f.versions == v {
		return
	}
	f.versions = v
	f.dirty = true
}

// Dirty reports whether the space has changes not yet committed.
func (f *Firmware) Dirty() bool { return f.dirty }

func (f *Firmware) markClean() { f.dirty = false }
