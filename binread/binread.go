// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package binread provides endian-aware primitive reads over a seekable
// byte source. A default byte order is chosen at construction and used by
// the plain read entry points; the *With variants take an explicit order.
package binread

import (
	"encoding/binary"
	"io"
	"math"

	"golang.org/x/text/encoding/unicode"
)

// Reader wraps an io.ReadSeeker with buffered primitive decoding.
type Reader struct {
	r     io.ReadSeeker
	order binary.ByteOrder
	buf   [8]byte
}

// New returns a Reader over r using order for the plain read methods.
func New(r io.ReadSeeker, order binary.ByteOrder) *Reader {
	return &Reader{r: r, order: order}
}

// NewLE returns a little-endian Reader, the common case for the archive
// and table formats handled by this module.
func NewLE(r io.ReadSeeker) *Reader {
	return New(r, binary.LittleEndian)
}

// ReadBytes reads exactly n bytes. A short read surfaces as
// io.ErrUnexpectedEOF, or as io.EOF when no byte was left to read.
func (br *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(br.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFull fills dst entirely from the source.
func (br *Reader) ReadFull(dst []byte) error {
	_, err := io.ReadFull(br.r, dst)
	return err
}

// ReadUint8 reads a single byte.
func (br *Reader) ReadUint8() (uint8, error) {
	if _, err := io.ReadFull(br.r, br.buf[:1]); err != nil {
		return 0, err
	}
	return br.buf[0], nil
}

// ReadUint16 reads a 16-bit value using the default byte order.
func (br *Reader) ReadUint16() (uint16, error) {
	return br.ReadUint16With(br.order)
}

// ReadUint16With reads a 16-bit value using the given byte order.
func (br *Reader) ReadUint16With(order binary.ByteOrder) (uint16, error) {
	if _, err := io.ReadFull(br.r, br.buf[:2]); err != nil {
		return 0, err
	}
	return order.Uint16(br.buf[:2]), nil
}

// ReadUint32 reads a 32-bit value using the default byte order.
func (br *Reader) ReadUint32() (uint32, error) {
	return br.ReadUint32With(br.order)
}

// ReadUint32With reads a 32-bit value using the given byte order.
func (br *Reader) ReadUint32With(order binary.ByteOrder) (uint32, error) {
	if _, err := io.ReadFull(br.r, br.buf[:4]); err != nil {
		return 0, err
	}
	return order.Uint32(br.buf[:4]), nil
}

// ReadInt32 reads a signed 32-bit value using the default byte order.
func (br *Reader) ReadInt32() (int32, error) {
	v, err := br.ReadUint32()
	return int32(v), err
}

// ReadFloat32 reads an IEEE-754 single using the default byte order.
func (br *Reader) ReadFloat32() (float32, error) {
	return br.ReadFloat32With(br.order)
}

// ReadFloat32With reads an IEEE-754 single using the given byte order.
func (br *Reader) ReadFloat32With(order binary.ByteOrder) (float32, error) {
	v, err := br.ReadUint32With(order)
	return math.Float32frombits(v), err
}

// ReadString reads n raw bytes and decodes them as lossy UTF-8.
func (br *Reader) ReadString(n int) (string, error) {
	buf, err := br.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return LossyString(buf), nil
}

// Seek repositions the read cursor.
func (br *Reader) Seek(offset int64, whence int) (int64, error) {
	return br.r.Seek(offset, whence)
}

// Position reports the current cursor offset from the start.
func (br *Reader) Position() (int64, error) {
	return br.r.Seek(0, io.SeekCurrent)
}

// Remaining reports how many bytes are left until the end of the source.
func (br *Reader) Remaining() (int64, error) {
	cur, err := br.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := br.r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := br.r.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end - cur, nil
}

// LossyString decodes b as UTF-8, substituting the replacement rune for
// invalid byte sequences. Name fields inside game archives occasionally
// carry CP949 bytes; they must never fail a parse.
func LossyString(b []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
