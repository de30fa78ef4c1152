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

package vboot

// WorkbufAlign is the alignment of every workbuf allocation boundary. It is
// large enough that any native scalar overlaid on arena memory is naturally
// aligned.
const WorkbufAlign = 16

func wbRoundUp(n uint32) uint32 {
	return (n + WorkbufAlign - 1) &^ (WorkbufAlign - 1)
}

// Workbuf is a fixed-capacity scratch arena carved out of one caller-owned
// buffer. Allocation is a bump of a cursor; release rewinds it. There is no
// per-allocation bookkeeping, so release order must exactly mirror
// allocation order (strict LIFO) — releasing a size that does not match the
// most recent live allocation silently corrupts the cursor.
//
// A Workbuf copied by value shares the underlying buffer but snapshots the
// cursor: allocations made through the copy are implicitly released when the
// copy is discarded. Verification entry points rely on this to scope their
// scratch to the call without touching the caller's cursor.
//
// A Workbuf must not be shared across goroutines; each verification session
// owns its arena exclusively.
type Workbuf struct {
	buf  []byte
	next int
}

// NewWorkbuf returns an arena over buf. The base of the usable region is
// aligned by construction (indices into an owned buffer start at zero); a
// buffer smaller than one aligned allocation is not an error, allocations
// from it simply fail.
func NewWorkbuf(buf []byte) Workbuf {
	return Workbuf{buf: buf}
}

// Avail returns the remaining capacity in bytes.
func (w *Workbuf) Avail() uint32 {
	return uint32(len(w.buf) - w.next)
}

// Alloc carves size bytes (rounded up to WorkbufAlign) from the arena. On
// failure the cursor is unchanged. The returned memory is not zeroed.
func (w *Workbuf) Alloc(size uint32) ([]byte, error) {
	n := wbRoundUp(size)
	if n < size || int(n) > len(w.buf)-w.next {
		return nil, ErrWorkbufFull
	}
	b := w.buf[w.next : w.next+int(size) : w.next+int(n)]
	w.next += int(n)
	return b, nil
}

// Free releases the most recent live allocation, which must have been made
// with the same size. A mismatched size is not detected here; it corrupts
// the cursor for every later operation.
func (w *Workbuf) Free(size uint32) {
	w.next -= int(wbRoundUp(size))
}

// Realloc is Free(oldSize) followed by Alloc(newSize) and is guaranteed to
// return the same base address whenever it succeeds, since the freed region
// is immediately re-claimed from the same cursor. On failure the arena is
// left in the freed state: the old allocation is gone.
func (w *Workbuf) Realloc(oldSize, newSize uint32) ([]byte, error) {
	w.Free(oldSize)
	return w.Alloc(newSize)
}

// Align advances off to the next multiple of align (a power of two),
// shrinking size by the bytes skipped. It fails with ErrAlignNoRoom if the
// span cannot absorb the alignment padding, and with ErrAlignSize if fewer
// than wantSize bytes remain once aligned; off and size are returned
// unchanged on failure.
func Align(off uint64, size uint32, align, wantSize uint32) (uint64, uint32, error) {
	if rem := uint32(off & uint64(align-1)); rem != 0 {
		pad := align - rem
		if size < pad {
			return off, size, ErrAlignNoRoom
		}
		off += uint64(pad)
		size -= pad
	}
	if size < wantSize {
		return off, size, ErrAlignSize
	}
	return off, size, nil
}
