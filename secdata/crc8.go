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

// crc8 computes the CRC-8 of data using x^8 + x^2 + x + 1 (ITU version),
// MSB first, zero initial value. It guards spaces against storage
// corruption, not tampering.
func crc8(data []byte) uint8 {
	crc := uint32(0)

	for _, b := range data {
		crc ^= uint32(b) << 8

		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc ^= 0x1070 << 3
			}
			crc <<= 1
		}
	}

	return uint8(crc >> 8)
}
