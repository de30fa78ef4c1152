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

// Package fmap reads the flash map embedded in a firmware image: a
// "__FMAP__" tagged table of named areas describing the flash layout.
package fmap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/vboot/vboot"
)

const (
	// Signature tags a flash map header.
	Signature = "__FMAP__"

	// VersionMajor is the only structure version understood here.
	VersionMajor = 1

	// NameLen is the fixed length of the map and area name fields,
	// NUL padded.
	NameLen = 32

	// HeaderSize is the length of a serialized flash map header.
	HeaderSize = 56

	// AreaSize is the length of one serialized area record.
	AreaSize = 42
)

// Area flags.
const (
	AreaStatic     = 1 << 0
	AreaCompressed = 1 << 1
	AreaRO         = 1 << 2
	AreaPreserve   = 1 << 3
)

var (
	// ErrNotFound means no flash map was located in the image.
	ErrNotFound = errors.New("fmap: no flash map found")

	// ErrFormat means a flash map was located but is malformed.
	ErrFormat = errors.New("fmap: malformed flash map")
)

// Area is one named region of the flash layout. Offset is relative to the
// start of flash.
type Area struct {
	Offset uint32
	Size   uint32
	Name   string
	Flags  uint16
}

// Map is a parsed flash map.
type Map struct {
	VerMajor uint8
	VerMinor uint8

	// Base and Size describe the flash the map was built for.
	Base uint64
	Size uint32

	Name  string
	Areas []Area
}

func fixedName(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}

func putFixedName(dst []byte, name string) {
	copy(dst, name)
}

// Parse decodes a flash map starting at the beginning of buf. Trailing
// bytes beyond the area table are ignored.
func Parse(buf []byte) (*Map, error) {
	if len(buf) < HeaderSize {
		return nil, ErrFormat
	}
	if string(buf[0:8]) != Signature {
		return nil, ErrFormat
	}

	m := &Map{
		VerMajor: buf[8],
		VerMinor: buf[9],
		Base:     binary.LittleEndian.Uint64(buf[10:]),
		Size:     binary.LittleEndian.Uint32(buf[18:]),
		Name:     fixedName(buf[22:54]),
	}

	if m.VerMajor != VersionMajor {
		return nil, fmt.Errorf("%w: version %d.%d", ErrFormat, m.VerMajor, m.VerMinor)
	}

	nAreas := int(binary.LittleEndian.Uint16(buf[54:]))
	if len(buf) < HeaderSize+nAreas*AreaSize {
		return nil, fmt.Errorf("%w: truncated area table", ErrFormat)
	}

	m.Areas = make([]Area, nAreas)
	for i := range m.Areas {
		a := buf[HeaderSize+i*AreaSize:]
		m.Areas[i] = Area{
			Offset: binary.LittleEndian.Uint32(a[0:]),
			Size:   binary.LittleEndian.Uint32(a[4:]),
			Name:   fixedName(a[8:40]),
			Flags:  binary.LittleEndian.Uint16(a[40:]),
		}
	}

	return m, nil
}

// Marshal serializes the map header and area table.
func (m *Map) Marshal() []byte {
	buf := make([]byte, HeaderSize+len(m.Areas)*AreaSize)

	copy(buf[0:8], Signature)
	buf[8] = m.VerMajor
	buf[9] = m.VerMinor
	binary.LittleEndian.PutUint64(buf[10:], m.Base)
	binary.LittleEndian.PutUint32(buf[18:], m.Size)
	putFixedName(buf[22:54], m.Name)
	binary.LittleEndian.PutUint16(buf[54:], uint16(len(m.Areas)))

	for i, a := range m.Areas {
		b := buf[HeaderSize+i*AreaSize:]
		binary.LittleEndian.PutUint32(b[0:], a.Offset)
		binary.LittleEndian.PutUint32(b[4:], a.Size)
		putFixedName(b[8:40], a.Name)
		binary.LittleEndian.PutUint16(b[40:], a.Flags)
	}

	return buf
}

// FindArea returns the first area with the given name.
func (m *Map) FindArea(name string) (*Area, bool) {
	for i := range m.Areas {
		if m.Areas[i].Name == name {
			return &m.Areas[i], true
		}
	}
	return nil, false
}

// Find scans image for its flash map and parses it, returning the map and
// the offset it was found at. Signature hits with the wrong structure
// version are skipped; the first hit with the right version must parse,
// and every area it declares must lie inside the image.
func Find(image []byte) (*Map, int, error) {
	sig := []byte(Signature)

	for off := 0; off+HeaderSize <= len(image); {
		i := bytes.Index(image[off:], sig)
		if i < 0 {
			break
		}
		pos := off + i
		if pos+HeaderSize > len(image) {
			break
		}
		if image[pos+8] != VersionMajor {
			off = pos + 1
			continue
		}

		m, err := Parse(image[pos:])
		if err != nil {
			return nil, 0, fmt.Errorf("flash map at %#x: %w", pos, err)
		}
		for _, a := range m.Areas {
			err := vboot.VerifyMemberInside(0, uint64(len(image)),
				uint64(a.Offset), uint64(a.Size), 0, 0)
			if err != nil {
				return nil, 0, fmt.Errorf("flash map area %q: %w", a.Name, err)
			}
		}

		klog.V(2).Infof("flash map %q at %#x: %d areas", m.Name, pos, len(m.Areas))
		return m, pos, nil
	}

	return nil, 0, ErrNotFound
}
