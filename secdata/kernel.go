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

// KernelSize is the length of a serialized kernel space.
//
// Layout: struct_version u8, uid u32, kernel_versions u32, reserved [3]u8,
// crc8 u8. All integers little-endian, CRC over everything before it.
const KernelSize = 13

const (
	kernelStructVersion = 2

	// "GRWL", distinguishes the space from anything else living at the
	// same storage index.
	kernelUID = 0x4752574c
)

// Kernel is the kernel rollback space: the combined data key/kernel
// version epoch, tagged with a unique ID so a redefined space is detected
// rather than misread.
type Kernel struct {
	versions uint32
	dirty    bool
}

// NewKernel returns a freshly initialized kernel space, marked dirty so
// the first commit writes it out.
func NewKernel() *Kernel {
	return &Kernel{dirty: true}
}

// ParseKernel validates and decodes a stored kernel space.
func ParseKernel(buf []byte) (*Kernel, error) {
	if len(buf) != KernelSize {
		return nil, ErrSize
	}
	if buf[KernelSize-1] != crc8(buf[:KernelSize-1]) {
		return nil, ErrCRC
	}
	if buf[0] != kernelStructVersion {
		return nil, ErrVersion
	}
	if binary.LittleEndian.Uint32(buf[1:]) != kernelUID {
		return nil, ErrUID
	}

	return &Kernel{
		versions: binary.LittleEndian.Uint32(buf[5:]),
	}, nil
}

// Marshal serializes the space, recomputing its CRC.
func (k *Kernel) Marshal() []byte {
	buf := make([]byte, KernelSize)
	buf[0] = kernelStructVersion
	binary.LittleEndian.PutUint32(buf[1:], kernelUID)
	binary.LittleEndian.PutUint32(buf[5:], k.versions)
	buf[KernelSize-1] = crc8(buf[:KernelSize-1])
	return buf
}

// Versions returns the combined kernel rollback version epoch.
func (k *Kernel) Versions() uint32 { return k.versions }

// SetVersions updates the combined kernel rollback version epoch.
func (k *Kernel) SetVersions(v uint32) {
	if k.versions == v {
		return
	}
	k.versions = v
	k.dirty = true
}

// Dirty reports whether the space has changes not yet committed.
func (k *Kernel) Dirty() bool { return k.dirty }

func (k *Kernel) markClean() { k.dirty = false }
