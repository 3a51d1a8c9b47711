// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package ies reads IES tables, the XOR-obfuscated tabular data format of
// the game client. A table is a fixed header, a run of column
// descriptors, and fixed-count rows whose cells are laid out in a
// bespoke sorted-column order with numeric cells before string cells.
package ies

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/tosview/tosview/binread"
)

// xorKey obfuscates every column name and string cell on disk.
const xorKey = 0x01

// sentinelBits marks an absent numeric cell.
const sentinelBits = 0xFFFFFFFF

// Errors returned by the parser.
var (
	// ErrColumnCountMismatch is returned when the numeric and string
	// column counts do not add up to the total column count.
	ErrColumnCountMismatch = errors.New("ies: column counts do not sum to num_column")

	// ErrBadColumnType is returned for a type word outside {0, 1, 2}.
	ErrBadColumnType = errors.New("ies: invalid column type")
)

// ColumnType discriminates how a column's cells are stored.
type ColumnType uint16

// Column types as stored in the type-data word.
const (
	Float           ColumnType = 0
	String          ColumnType = 1
	SecondaryString ColumnType = 2
)

// class orders float columns before primary strings before secondary
// strings, the ordering rows are physically laid out in.
func (c ColumnType) class() int {
	if c == Float {
		return 0
	}
	if c == String {
		return 1
	}
	return 2
}

// IsString reports whether the column stores length-prefixed text.
func (c ColumnType) IsString() bool { return c != Float }

// Header is the fixed-size structure at the start of every table.
type Header struct {
	// Plaintext identifier of the table's id space.
	IDSpace string `json:"id_space"`

	// Plaintext identifier of the table's key space.
	KeySpace string `json:"key_space"`

	Version uint16 `json:"version"`
	Padding uint16 `json:"padding"`

	// Byte size of the column descriptor region.
	InfoSize uint32 `json:"info_size"`

	// Byte size of the row region.
	DataSize uint32 `json:"data_size"`

	TotalSize  uint32 `json:"total_size"`
	UseClassID uint8  `json:"use_class_id"`

	// Opaque; carries a format flag in some corpora.
	Padding2 uint8 `json:"padding2"`

	// Number of rows.
	NumField uint16 `json:"num_field"`

	// Number of columns.
	NumColumn uint16 `json:"num_column"`

	// Number of numeric columns.
	NumColumnNumber uint16 `json:"num_column_number"`

	// Number of string columns (primary plus secondary).
	NumColumnString uint16 `json:"num_column_string"`

	// Opaque, see Padding2.
	Padding3 uint16 `json:"padding3"`
}

// Column is one de-obfuscated column descriptor.
type Column struct {
	// Public column name, e.g. "ClassName".
	Name string `json:"name"`

	// Internal key name.
	Key string `json:"key"`

	Type   ColumnType `json:"type"`
	Access uint16     `json:"access"`
	Sync   uint16     `json:"sync"`

	// Declaration index; orders columns within their type class.
	DeclIndex uint16 `json:"decl_index"`
}

// Value is one decoded row cell. A numeric cell carries both the float
// and its truncated integer form, or neither when the on-disk bits equal
// the absence sentinel. A string cell carries only Str, nil when empty.
type Value struct {
	Float *float32 `json:"value_float,omitempty"`
	Int   *uint32  `json:"value_int,omitempty"`
	Str   *string  `json:"value_string,omitempty"`
}

// IsEmpty reports whether the cell holds no value.
func (v Value) IsEmpty() bool {
	return v.Float == nil && v.Int == nil && v.Str == nil
}

// Row is one decoded table row. Values aligns index-for-index with the
// table's sorted Columns slice.
type Row struct {
	// Leading four-byte row index.
	Index int32 `json:"index"`

	// The length-prefixed obfuscated short text that precedes the cells.
	Name string `json:"name"`

	Values []Value `json:"values"`
}

// Table is a fully decoded IES file. Columns is in sorted order: floats
// first, then primary strings, then secondary strings, each class
// ordered by declaration index.
type Table struct {
	Header  Header   `json:"header"`
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Open reads and parses the named IES file.
func Open(name string) (*Table, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a table held in memory.
func Parse(data []byte) (*Table, error) {
	br := binread.NewLE(bytes.NewReader(data))
	t := &Table{}
	if err := t.readHeader(br); err != nil {
		return nil, err
	}
	if err := t.readColumns(br); err != nil {
		return nil, err
	}
	if err := t.readRows(br); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) readHeader(br *binread.Reader) error {
	id, err := br.ReadBytes(64)
	if err != nil {
		return err
	}
	key, err := br.ReadBytes(64)
	if err != nil {
		return err
	}
	h := &t.Header
	h.IDSpace = trimPadded(id)
	h.KeySpace = trimPadded(key)

	read16 := func(dst *uint16) {
		if err == nil {
			*dst, err = br.ReadUint16()
		}
	}
	read32 := func(dst *uint32) {
		if err == nil {
			*dst, err = br.ReadUint32()
		}
	}
	read16(&h.Version)
	read16(&h.Padding)
	read32(&h.InfoSize)
	read32(&h.DataSize)
	read32(&h.TotalSize)
	if err == nil {
		h.UseClassID, err = br.ReadUint8()
	}
	if err == nil {
		h.Padding2, err = br.ReadUint8()
	}
	read16(&h.NumField)
	read16(&h.NumColumn)
	read16(&h.NumColumnNumber)
	read16(&h.NumColumnString)
	read16(&h.Padding3)
	if err != nil {
		return err
	}
	if h.NumColumnNumber+h.NumColumnString != h.NumColumn {
		return ErrColumnCountMismatch
	}
	return nil
}

func (t *Table) readColumns(br *binread.Reader) error {
	t.Columns = make([]Column, 0, t.Header.NumColumn)
	for i := uint16(0); i < t.Header.NumColumn; i++ {
		name, err := br.ReadBytes(64)
		if err != nil {
			return err
		}
		key, err := br.ReadBytes(64)
		if err != nil {
			return err
		}
		c := Column{
			Name: decodeName(name),
			Key:  decodeName(key),
		}
		typ, err := br.ReadUint16()
		if err != nil {
			return err
		}
		if typ > uint16(SecondaryString) {
			return ErrBadColumnType
		}
		c.Type = ColumnType(typ)
		if c.Access, err = br.ReadUint16(); err != nil {
			return err
		}
		if c.Sync, err = br.ReadUint16(); err != nil {
			return err
		}
		if c.DeclIndex, err = br.ReadUint16(); err != nil {
			return err
		}
		t.Columns = append(t.Columns, c)
	}

	// Floats before primary strings before secondary strings; stable by
	// declaration index inside each class. Rows are stored in this order.
	sort.SliceStable(t.Columns, func(i, j int) bool {
		a, b := &t.Columns[i], &t.Columns[j]
		if a.Type.class() != b.Type.class() {
			return a.Type.class() < b.Type.class()
		}
		return a.DeclIndex < b.DeclIndex
	})
	return nil
}

func (t *Table) readRows(br *binread.Reader) error {
	t.Rows = make([]Row, 0, t.Header.NumField)
	for i := uint16(0); i < t.Header.NumField; i++ {
		var row Row
		idx, err := br.ReadInt32()
		if err != nil {
			return err
		}
		row.Index = idx
		if row.Name, err = readObfuscatedString(br); err != nil {
			return err
		}

		row.Values = make([]Value, 0, len(t.Columns))
		for ci := range t.Columns {
			var v Value
			if t.Columns[ci].Type == Float {
				bits, err := br.ReadUint32()
				if err != nil {
					return err
				}
				if bits != sentinelBits {
					f := math.Float32frombits(bits)
					u := truncUint32(f)
					v.Float = &f
					v.Int = &u
				}
			} else {
				s, err := readObfuscatedString(br)
				if err != nil {
					return err
				}
				if s != "" {
					v.Str = &s
				}
			}
			row.Values = append(row.Values, v)
		}

		// One trailing padding byte per string column.
		if _, err := br.Seek(int64(t.Header.NumColumnString), io.SeekCurrent); err != nil {
			return err
		}
		t.Rows = append(t.Rows, row)
	}
	return nil
}

// MeshPaths derives a mapping from lower-cased, slash-normalized mesh
// name to path for tables carrying the public columns "Mesh" and "Path".
// Rows with an empty mesh or path cell are skipped. An empty map is
// returned when either column is missing.
func (t *Table) MeshPaths() map[string]string {
	meshIdx, pathIdx := -1, -1
	for i := range t.Columns {
		switch t.Columns[i].Name {
		case "Mesh":
			meshIdx = i
		case "Path":
			pathIdx = i
		}
	}
	m := make(map[string]string)
	if meshIdx < 0 || pathIdx < 0 {
		return m
	}
	for ri := range t.Rows {
		row := &t.Rows[ri]
		mesh := row.stringAt(meshIdx)
		path := row.stringAt(pathIdx)
		if mesh == "" || path == "" {
			continue
		}
		mesh = strings.ToLower(strings.ReplaceAll(mesh, `\`, "/"))
		m[mesh] = strings.ReplaceAll(path, `\`, "/")
	}
	return m
}

// Cell returns the value under the named column (public name first,
// internal key as fallback) for the given row, or nil when either the
// column or the row does not exist.
func (t *Table) Cell(column string, row int) *Value {
	if row < 0 || row >= len(t.Rows) {
		return nil
	}
	ci := -1
	for i := range t.Columns {
		if t.Columns[i].Name == column {
			ci = i
			break
		}
	}
	if ci < 0 {
		for i := range t.Columns {
			if t.Columns[i].Key == column {
				ci = i
				break
			}
		}
	}
	if ci < 0 {
		return nil
	}
	return &t.Rows[row].Values[ci]
}

func (r *Row) stringAt(i int) string {
	if i < 0 || i >= len(r.Values) || r.Values[i].Str == nil {
		return ""
	}
	return *r.Values[i].Str
}

// readObfuscatedString reads a u16 length followed by that many XOR'd
// bytes.
func readObfuscatedString(br *binread.Reader) (string, error) {
	n, err := br.ReadUint16()
	if err != nil {
		return "", err
	}
	buf, err := br.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return decodeText(buf), nil
}

// decodeText de-obfuscates a string cell: XOR every byte, drop trailing
// NULs, decode lossily.
func decodeText(b []byte) string {
	plain := xorBytes(b)
	end := len(plain)
	for end > 0 && plain[end-1] == 0 {
		end--
	}
	return binread.LossyString(plain[:end])
}

// decodeName de-obfuscates a 64-byte padded name field, trimming the
// trailing non-printable padding.
func decodeName(b []byte) string {
	plain := xorBytes(b)
	end := len(plain)
	for end > 0 && !printable(plain[end-1]) {
		end--
	}
	return binread.LossyString(plain[:end])
}

// trimPadded trims trailing NUL padding from a plaintext fixed field.
func trimPadded(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return binread.LossyString(b[:end])
}

// xorBytes applies the obfuscation key to a copy of b. Applying it twice
// reproduces the input exactly.
func xorBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = c ^ xorKey
	}
	return out
}

func printable(b byte) bool {
	return (b >= 0x20 && b < 0x7F) || b == '\t' || b == '\n' || b == '\r'
}

// truncUint32 mirrors a saturating float-to-integer cast: negatives clamp
// to zero, overflow clamps to the maximum.
func truncUint32(f float32) uint32 {
	if f != f || f <= 0 {
		return 0
	}
	if float64(f) >= float64(math.MaxUint32) {
		return math.MaxUint32
	}
	return uint32(f)
}
