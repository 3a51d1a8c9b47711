// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package emfx reads the chunked model and motion formats of the game
// client: XAC actors, XSM skeletal motions and XPM progressive morph
// motions. The three formats share one skeleton: an 8-byte header
// carrying a fourcc and version, then a stream of (id, size, version)
// framed chunks until end of file. Every chunk either selects a typed
// decoder or is kept as an opaque raw chunk of its declared size.
package emfx

import (
	"errors"
	"io"

	"github.com/tosview/tosview/binread"
)

// File type fourcc values.
var (
	FourCCActor       = [4]byte{'X', 'A', 'C', ' '}
	FourCCMotion      = [4]byte{'X', 'S', 'M', ' '}
	FourCCMorphMotion = [4]byte{'X', 'P', 'M', ' '}
)

// Errors shared by the three readers.
var (
	// ErrBadFourCC is returned when the file header does not carry the
	// expected fourcc.
	ErrBadFourCC = errors.New("emfx: unexpected fourcc")

	// ErrBigEndian is returned for files flagged as big-endian; only
	// little-endian assets exist in the wild and anything else is
	// rejected.
	ErrBigEndian = errors.New("emfx: big-endian files are not supported")

	// ErrChunkOverrun is returned when a typed decoder consumed more
	// bytes than the chunk declared.
	ErrChunkOverrun = errors.New("emfx: chunk decoder read past declared size")
)

// Chunk identifiers shared across the format family.
const (
	ChunkMotionEventTable = 50
	ChunkTimestamp        = 51
)

// Header is the common 8-byte file header.
type Header struct {
	FourCC    [4]byte `json:"fourcc"`
	HiVersion uint8   `json:"hi_version"`
	LoVersion uint8   `json:"lo_version"`

	// 0 means little-endian; anything else is rejected.
	Endian uint8 `json:"endian"`

	// Matrix multiplication order: 0 = scale/rot/translate,
	// 1 = rot/scale/translate.
	MulOrder uint8 `json:"mul_order"`
}

// ChunkHeader frames every chunk payload.
type ChunkHeader struct {
	ID uint32 `json:"chunk_id"`

	// Payload size in bytes, excluding this frame.
	Size uint32 `json:"size_in_bytes"`

	Version uint32 `json:"version"`
}

// RawChunk preserves a chunk this reader has no typed decoder for.
type RawChunk struct {
	Header ChunkHeader `json:"header"`
	Data   []byte      `json:"-"`
}

// Vector3 is a 3D vector with float components.
type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Vector3U16 is a compressed vector with 16-bit components.
type Vector3U16 struct {
	X uint16 `json:"x"`
	Y uint16 `json:"y"`
	Z uint16 `json:"z"`
}

// Vector3U8 is a compressed vector with 8-bit components.
type Vector3U8 struct {
	X uint8 `json:"x"`
	Y uint8 `json:"y"`
	Z uint8 `json:"z"`
}

// Quaternion with float components.
type Quaternion struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// Quaternion16 is a compressed quaternion with signed 16-bit components.
type Quaternion16 struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
	Z int16 `json:"z"`
	W int16 `json:"w"`
}

// Decompress expands the 16-bit components into the [-1, 1] float range.
func (q Quaternion16) Decompress() Quaternion {
	const scale = 1.0 / 32767.0
	return Quaternion{
		X: float32(q.X) * scale,
		Y: float32(q.Y) * scale,
		Z: float32(q.Z) * scale,
		W: float32(q.W) * scale,
	}
}

// Color is an RGBA color in the [0, 1] range.
type Color struct {
	R float32 `json:"r"`
	G float32 `json:"g"`
	B float32 `json:"b"`
	A float32 `json:"a"`
}

// readFileHeader reads and validates the 8-byte header.
func readFileHeader(br *binread.Reader, want [4]byte) (Header, error) {
	var h Header
	if err := br.ReadFull(h.FourCC[:]); err != nil {
		return h, err
	}
	var err error
	if h.HiVersion, err = br.ReadUint8(); err != nil {
		return h, err
	}
	if h.LoVersion, err = br.ReadUint8(); err != nil {
		return h, err
	}
	if h.Endian, err = br.ReadUint8(); err != nil {
		return h, err
	}
	if h.MulOrder, err = br.ReadUint8(); err != nil {
		return h, err
	}
	if h.FourCC != want {
		return h, ErrBadFourCC
	}
	if h.Endian != 0 {
		return h, ErrBigEndian
	}
	return h, nil
}

// readChunks drives the framing loop. decode is called with the cursor
// at the chunk payload; it may consume up to ch.Size bytes. A decoder
// that reads less leaves the remainder to be skipped here; one that
// reads more is a format error.
func readChunks(br *binread.Reader, decode func(ch ChunkHeader) error) error {
	for {
		ch, err := readChunkHeader(br)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		start, err := br.Position()
		if err != nil {
			return err
		}
		if err := decode(ch); err != nil {
			return err
		}
		pos, err := br.Position()
		if err != nil {
			return err
		}
		consumed := pos - start
		if consumed > int64(ch.Size) {
			return ErrChunkOverrun
		}
		if consumed < int64(ch.Size) {
			if _, err := br.Seek(start+int64(ch.Size), io.SeekStart); err != nil {
				return err
			}
		}
	}
}

func readChunkHeader(br *binread.Reader) (ChunkHeader, error) {
	var ch ChunkHeader
	var err error
	if ch.ID, err = br.ReadUint32(); err != nil {
		return ch, err
	}
	if ch.Size, err = br.ReadUint32(); err != nil {
		return ch, err
	}
	if ch.Version, err = br.ReadUint32(); err != nil {
		return ch, err
	}
	return ch, nil
}

// readRawChunk captures the remaining payload of a chunk, clamped to the
// bytes actually left in the source so a truncated trailing chunk still
// round-trips.
func readRawChunk(br *binread.Reader, ch ChunkHeader) (RawChunk, error) {
	rem, err := br.Remaining()
	if err != nil {
		return RawChunk{}, err
	}
	n := int64(ch.Size)
	if n > rem {
		n = rem
	}
	data, err := br.ReadBytes(int(n))
	if err != nil {
		return RawChunk{}, err
	}
	return RawChunk{Header: ch, Data: data}, nil
}

// readLenString reads a u32 length-prefixed string, decoded lossily.
func readLenString(br *binread.Reader) (string, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return "", err
	}
	return br.ReadString(int(n))
}

func readVector3(br *binread.Reader) (Vector3, error) {
	var v Vector3
	var err error
	if v.X, err = br.ReadFloat32(); err != nil {
		return v, err
	}
	if v.Y, err = br.ReadFloat32(); err != nil {
		return v, err
	}
	v.Z, err = br.ReadFloat32()
	return v, err
}

func readVector3U16(br *binread.Reader) (Vector3U16, error) {
	var v Vector3U16
	var err error
	if v.X, err = br.ReadUint16(); err != nil {
		return v, err
	}
	if v.Y, err = br.ReadUint16(); err != nil {
		return v, err
	}
	v.Z, err = br.ReadUint16()
	return v, err
}

func readVector3U8(br *binread.Reader) (Vector3U8, error) {
	var v Vector3U8
	var err error
	if v.X, err = br.ReadUint8(); err != nil {
		return v, err
	}
	if v.Y, err = br.ReadUint8(); err != nil {
		return v, err
	}
	v.Z, err = br.ReadUint8()
	return v, err
}

func readQuaternion(br *binread.Reader) (Quaternion, error) {
	var q Quaternion
	var err error
	if q.X, err = br.ReadFloat32(); err != nil {
		return q, err
	}
	if q.Y, err = br.ReadFloat32(); err != nil {
		return q, err
	}
	if q.Z, err = br.ReadFloat32(); err != nil {
		return q, err
	}
	q.W, err = br.ReadFloat32()
	return q, err
}

func readQuaternion16(br *binread.Reader) (Quaternion16, error) {
	var q Quaternion16
	read := func(dst *int16) error {
		v, err := br.ReadUint16()
		*dst = int16(v)
		return err
	}
	if err := read(&q.X); err != nil {
		return q, err
	}
	if err := read(&q.Y); err != nil {
		return q, err
	}
	if err := read(&q.Z); err != nil {
		return q, err
	}
	err := read(&q.W)
	return q, err
}

func readColor(br *binread.Reader) (Color, error) {
	var c Color
	var err error
	if c.R, err = br.ReadFloat32(); err != nil {
		return c, err
	}
	if c.G, err = br.ReadFloat32(); err != nil {
		return c, err
	}
	if c.B, err = br.ReadFloat32(); err != nil {
		return c, err
	}
	c.A, err = br.ReadFloat32()
	return c, err
}

func readBool(br *binread.Reader) (bool, error) {
	b, err := br.ReadUint8()
	return b != 0, err
}

func skip(br *binread.Reader, n int64) error {
	_, err := br.Seek(n, io.SeekCurrent)
	return err
}
