// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package emfx

import (
	"bytes"
	"encoding/binary"
	"math"
)

// fixWriter builds little-endian chunked fixtures for the reader tests.
type fixWriter struct {
	bytes.Buffer
}

func (w *fixWriter) u8(v uint8) { w.WriteByte(v) }

func (w *fixWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func (w *fixWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func (w *fixWriter) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *fixWriter) vec3(x, y, z float32) {
	w.f32(x)
	w.f32(y)
	w.f32(z)
}

func (w *fixWriter) quat(x, y, z, q float32) {
	w.f32(x)
	w.f32(y)
	w.f32(z)
	w.f32(q)
}

func (w *fixWriter) quat16(x, y, z, q int16) {
	w.u16(uint16(x))
	w.u16(uint16(y))
	w.u16(uint16(z))
	w.u16(uint16(q))
}

// str writes a u32 length-prefixed string.
func (w *fixWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.WriteString(s)
}

// fileHeader starts a fixture with the 8-byte format header.
func fileHeader(fourcc [4]byte) *fixWriter {
	w := &fixWriter{}
	w.Write(fourcc[:])
	w.u8(1) // hi version
	w.u8(0) // lo version
	w.u8(0) // little endian
	w.u8(0) // mul order
	return w
}

// chunk appends a framed chunk with the payload's exact size.
func (w *fixWriter) chunk(id, version uint32, payload []byte) {
	w.chunkSized(id, version, uint32(len(payload)), payload)
}

// chunkSized appends a framed chunk with an explicit declared size,
// which may disagree with the payload length for mismatch tests.
func (w *fixWriter) chunkSized(id, version, size uint32, payload []byte) {
	w.u32(id)
	w.u32(size)
	w.u32(version)
	w.Write(payload)
}
