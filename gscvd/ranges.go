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
	"fmt"
	"strconv"
	"strings"

	"github.com/transparency-dev/vboot/api"
	"github.com/transparency-dev/vboot/fmap"
	"github.com/transparency-dev/vboot/vboot"
)

func parseHex(s string) (uint32, error) {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

// ParseRanges parses a comma-separated list of hexadecimal offset:size
// pairs, as accepted on tool command lines: "0x1000:0x800,0x3000:0x100".
// The 0x prefixes are optional; the values are hexadecimal either way.
func ParseRanges(s string) ([]Range, error) {
	var out []Range
	for _, field := range strings.Split(s, ",") {
		off, size, ok := strings.Cut(field, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrRange, field)
		}
		r := Range{}
		var err error
		if r.Offset, err = parseHex(off); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrRange, field, err)
		}
		if r.Size, err = parseHex(size); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrRange, field, err)
		}
		out = append(out, r)
	}
	if len(out) > MaxRanges {
		return nil, fmt.Errorf("%w: %d > %d", ErrRangeCount, len(out), MaxRanges)
	}
	return out, nil
}

// rangeFits reports whether r lies entirely within a, where ending flush
// with the area is allowed.
func rangeFits(r Range, a *fmap.Area) bool {
	lo := uint64(a.Offset)
	hi := lo + uint64(a.Size)
	start := uint64(r.Offset)
	end := start + uint64(r.Size)
	return start >= lo && start <= hi && end >= lo && end <= hi
}

// rangesOverlap reports whether a and b share any byte. Adjacent ranges do
// not overlap; an empty range inside another does.
func rangesOverlap(a, b Range) bool {
	aEnd := uint64(a.Offset) + uint64(a.Size)
	bEnd := uint64(b.Offset) + uint64(b.Size)
	return !(aEnd <= uint64(b.Offset) || bEnd <= uint64(a.Offset))
}

// verifyRanges checks that every range lies inside the write-protected
// region and overlaps neither the verification data area nor any other
// range.
func verifyRanges(ranges []Range, m *fmap.Map, gscvd *fmap.Area) error {
	if len(ranges) == 0 || len(ranges) > MaxRanges {
		return fmt.Errorf("%w: %d", ErrRangeCount, len(ranges))
	}
	wpro, ok := m.FindArea(areaWPRO)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoArea, areaWPRO)
	}
	reserved := Range{Offset: gscvd.Offset, Size: gscvd.Size}
	for i, r := range ranges {
		if !rangeFits(r, wpro) {
			return fmt.Errorf("%w: %#x+%#x outside %q", ErrRange, r.Offset, r.Size, areaWPRO)
		}
		if rangesOverlap(r, reserved) {
			return fmt.Errorf("%w: %#x+%#x overlaps %q", ErrRange, r.Offset, r.Size, areaGSCVD)
		}
		for _, q := range ranges[i+1:] {
			if rangesOverlap(r, q) {
				return fmt.Errorf("%w: %#x+%#x overlaps %#x+%#x", ErrRange, r.Offset, r.Size, q.Offset, q.Size)
			}
		}
	}
	return nil
}

// digestRanges folds every range of image into one digest, in listed order,
// zero-padded to the full digest field. The ranges must already have been
// validated against the image's flash map.
func digestRanges(image []byte, ranges []Range, alg api.HashAlg) ([api.MaxDigestSize]byte, error) {
	var out [api.MaxDigestSize]byte
	dc, err := vboot.NewDigest(alg, false, 0)
	if err != nil {
		return out, err
	}
	for _, r := range ranges {
		start := uint64(r.Offset)
		if err := dc.Extend(image[start : start+uint64(r.Size)]); err != nil {
			return out, err
		}
	}
	if err := dc.Finalize(out[:]); err != nil {
		return out, err
	}
	return out, nil
}
