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

// Package secdata implements the secure non-volatile spaces holding boot
// state that must survive reboots and resist rollback: firmware and kernel
// version epochs and the firmware management parameters (FWMP).
//
// Each space is a small fixed-layout structure guarded by a CRC-8, read
// from and committed to tamper-evident storage. A space never shrinks a
// stored version and a commit is skipped entirely when nothing changed, so
// storage write cycles are only ever spent on real state transitions.
package secdata

import "errors"

var (
	// ErrSize reports a space buffer of the wrong length or a structure
	// declaring an out-of-range size.
	ErrSize = errors.New("secdata: bad space size")

	// ErrCRC reports CRC-8 mismatch, i.e. a corrupt space.
	ErrCRC = errors.New("secdata: bad CRC")

	// ErrVersion reports a space written by an incompatible structure
	// version.
	ErrVersion = errors.New("secdata: incompatible struct version")

	// ErrUID reports a kernel space whose unique ID does not match,
	// meaning the space was redefined by other software.
	ErrUID = errors.New("secdata: unexpected UID")
)

// RollbackVersion packs a key version and an image version into the
// combined epoch stored in the firmware and kernel spaces. The key version
// occupies the high half so a key rollover dominates any image version.
func RollbackVersion(keyVersion, imageVersion uint32) uint32 {
	return keyVersion<<16 | imageVersion&0xffff
}
