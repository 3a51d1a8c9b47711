// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package ipf reads IPF archives, the packaging format used by the game
// client. An archive is trailer-indexed: the last 24 bytes locate the
// entry table, and each entry points at a payload that is encrypted with
// a PKZIP-style stream cipher and compressed with raw deflate.
package ipf

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/flate"

	"github.com/tosview/tosview/binread"
)

// TrailerSize is the fixed size of the archive trailer at end of file.
const TrailerSize = 24

// Magic terminates every IPF trailer. The bytes coincide with the ZIP
// end-of-central-directory signature.
var Magic = [4]byte{0x50, 0x4B, 0x05, 0x06}

// Errors returned while opening or extracting from an archive.
var (
	// ErrInvalidMagic is returned when the trailer magic does not match.
	ErrInvalidMagic = errors.New("ipf: invalid trailer magic")

	// ErrTooSmall is returned when the input is shorter than the trailer.
	ErrTooSmall = errors.New("ipf: file smaller than trailer")

	// ErrTableOutOfRange is returned when the file-table offset points
	// outside the archive.
	ErrTableOutOfRange = errors.New("ipf: file table offset out of range")

	// ErrEntryOutOfRange is returned for an entry index outside the table
	// or a payload that does not fit inside the archive.
	ErrEntryOutOfRange = errors.New("ipf: entry out of range")

	// ErrDecompress is returned when the deflate stream cannot be fully
	// inflated to the advertised uncompressed size.
	ErrDecompress = errors.New("ipf: decompression failed")
)

// skipExts are entry extensions whose payloads are stored already
// encoded: they are returned verbatim, never decrypted or decompressed.
var skipExts = map[string]bool{
	".fsb": true,
	".jpg": true,
	".mp3": true,
}

// Trailer is the 24-byte structure at the end of every archive.
type Trailer struct {
	// Number of entries in the file table.
	FileCount uint16 `json:"file_count"`

	// Absolute offset of the file table.
	FileTablePointer uint32 `json:"file_table_pointer"`

	Padding uint16 `json:"padding"`

	// Absolute offset of the archive header region.
	HeaderPointer uint32 `json:"header_pointer"`

	// Magic, must equal 50 4B 05 06.
	Magic [4]byte `json:"magic"`

	// Version this archive patches the client up from.
	VersionToPatch uint32 `json:"version_to_patch"`

	// Version this archive patches the client up to. Gates decryption:
	// payloads are enciphered only when this is 0 or above 11000.
	NewVersion uint32 `json:"new_version"`
}

// Entry describes one file stored in an archive.
type Entry struct {
	// Length in bytes of the in-archive directory path.
	DirectoryNameLength uint16 `json:"directory_name_length"`

	// CRC32 of the stored payload.
	CRC32 uint32 `json:"crc32"`

	// Size of the payload as stored.
	CompressedSize uint32 `json:"file_size_compressed"`

	// Size of the payload after inflation.
	UncompressedSize uint32 `json:"file_size_uncompressed"`

	// Absolute offset of the payload inside the archive.
	FileOffset uint32 `json:"file_pointer"`

	// Length in bytes of the container name.
	ContainerNameLength uint16 `json:"container_name_length"`

	// Logical archive name, e.g. "xml_client.ipf".
	ContainerName string `json:"container_name"`

	// Forward-slash separated path of the file inside the archive. The
	// index builder rewrites this to the final path component once the
	// entry is placed in the virtual tree.
	DirectoryName string `json:"directory_name"`
}

// IsStoredRaw reports whether the entry's payload bypasses the cipher and
// deflate, based on its final path extension.
func (e *Entry) IsStoredRaw() bool {
	name := e.DirectoryName
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return false
	}
	return skipExts[strings.ToLower(name[dot:])]
}

// Archive is an open IPF archive. The whole file is visible as a single
// read-only byte slice (memory-mapped when opened from disk), so
// extraction needs no shared seek state and is safe for concurrent use.
type Archive struct {
	Trailer Trailer `json:"trailer"`
	Entries []Entry `json:"entries"`

	// Path of the backing file, empty when parsed from memory.
	Path string `json:"path,omitempty"`

	data mmap.MMap
	buf  []byte
	f    *os.File
}

// Open memory-maps the named archive file and parses its trailer and
// entry table. The returned Archive must be closed with Close.
func Open(name string) (*Archive, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	a := &Archive{Path: name, data: data, buf: data, f: f}
	if err := a.parse(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// NewBytes parses an archive held in memory. The Archive borrows data;
// the caller must not mutate it afterwards.
func NewBytes(data []byte) (*Archive, error) {
	a := &Archive{buf: data}
	if err := a.parse(); err != nil {
		return nil, err
	}
	return a, nil
}

// Close unmaps and closes the backing file, if any.
func (a *Archive) Close() error {
	var err error
	if a.data != nil {
		err = a.data.Unmap()
		a.data = nil
	}
	if a.f != nil {
		if cerr := a.f.Close(); err == nil {
			err = cerr
		}
		a.f = nil
	}
	return err
}

func (a *Archive) parse() error {
	if len(a.buf) < TrailerSize {
		return ErrTooSmall
	}
	br := binread.NewLE(bytes.NewReader(a.buf))
	if _, err := br.Seek(-TrailerSize, io.SeekEnd); err != nil {
		return err
	}
	if err := a.readTrailer(br); err != nil {
		return err
	}
	return a.readEntries(br)
}

func (a *Archive) readTrailer(br *binread.Reader) error {
	t := &a.Trailer
	var err error
	read32 := func(dst *uint32) {
		if err == nil {
			*dst, err = br.ReadUint32()
		}
	}
	read16 := func(dst *uint16) {
		if err == nil {
			*dst, err = br.ReadUint16()
		}
	}
	read16(&t.FileCount)
	read32(&t.FileTablePointer)
	read16(&t.Padding)
	read32(&t.HeaderPointer)
	if err == nil {
		err = br.ReadFull(t.Magic[:])
	}
	read32(&t.VersionToPatch)
	read32(&t.NewVersion)
	if err != nil {
		return err
	}
	if t.Magic != Magic {
		return ErrInvalidMagic
	}
	if int64(t.FileTablePointer) > int64(len(a.buf)) {
		return ErrTableOutOfRange
	}
	return nil
}

func (a *Archive) readEntries(br *binread.Reader) error {
	if _, err := br.Seek(int64(a.Trailer.FileTablePointer), io.SeekStart); err != nil {
		return err
	}
	a.Entries = make([]Entry, 0, a.Trailer.FileCount)
	for i := uint16(0); i < a.Trailer.FileCount; i++ {
		var e Entry
		var err error
		if e.DirectoryNameLength, err = br.ReadUint16(); err != nil {
			return err
		}
		if e.CRC32, err = br.ReadUint32(); err != nil {
			return err
		}
		if e.CompressedSize, err = br.ReadUint32(); err != nil {
			return err
		}
		if e.UncompressedSize, err = br.ReadUint32(); err != nil {
			return err
		}
		if e.FileOffset, err = br.ReadUint32(); err != nil {
			return err
		}
		if e.ContainerNameLength, err = br.ReadUint16(); err != nil {
			return err
		}
		if e.ContainerName, err = br.ReadString(int(e.ContainerNameLength)); err != nil {
			return err
		}
		if e.DirectoryName, err = br.ReadString(int(e.DirectoryNameLength)); err != nil {
			return err
		}
		a.Entries = append(a.Entries, e)
	}
	return nil
}

// Extract returns the decoded payload of the entry at index i.
//
// Entries whose extension is in the skip set come back verbatim. All
// other payloads are deciphered (subject to the trailer's version gate)
// and inflated to exactly UncompressedSize bytes, except that when the
// gate disables the cipher, a payload whose stored length is at least
// UncompressedSize is returned as stored. The returned slice is
// always a fresh allocation; the archive mapping is never exposed.
func (a *Archive) Extract(i int) ([]byte, error) {
	if i < 0 || i >= len(a.Entries) {
		return nil, ErrEntryOutOfRange
	}
	return a.ExtractEntry(&a.Entries[i])
}

// ExtractEntry decodes the payload of e, which must belong to this
// archive.
func (a *Archive) ExtractEntry(e *Entry) ([]byte, error) {
	off := int64(e.FileOffset)
	end := off + int64(e.CompressedSize)
	if off < 0 || end > int64(len(a.buf)) {
		return nil, ErrEntryOutOfRange
	}
	data := make([]byte, e.CompressedSize)
	copy(data, a.buf[off:end])

	if e.IsStoredRaw() {
		return data, nil
	}

	enciphered := a.Trailer.NewVersion == 0 || a.Trailer.NewVersion > 11000
	if enciphered {
		decrypt(data)
	} else if uint32(len(data)) >= e.UncompressedSize {
		// Old archives store some payloads without either transform.
		return data, nil
	}
	return inflate(data, e.UncompressedSize)
}

// inflate decompresses a raw deflate stream into a buffer pre-sized to
// the advertised uncompressed size.
func inflate(data []byte, uncompressedSize uint32) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(fr, out); err != nil {
		return nil, ErrDecompress
	}
	return out, nil
}
