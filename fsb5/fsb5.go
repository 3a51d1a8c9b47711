// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package fsb5 parses the structure of FSB5 sound banks: the bank
// header, the packed sample headers with their extra-parameter chunks,
// the name table, and the per-sample data framing. Audio decoding is out
// of scope; vorbis payloads are split into packets but never decoded.
package fsb5

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/tosview/tosview/binread"
)

// Magic identifies an FSB5 bank.
var Magic = [4]byte{'F', 'S', 'B', '5'}

// ErrInvalidMagic is returned when the bank does not start with "FSB5".
var ErrInvalidMagic = errors.New("fsb5: invalid magic")

// Mode is the audio coding of every sample in the bank.
type Mode uint32

// Sample coding modes.
const (
	ModeNone     Mode = 0
	ModePCM8     Mode = 1
	ModePCM16    Mode = 2
	ModePCM24    Mode = 3
	ModePCM32    Mode = 4
	ModePCMFloat Mode = 5
	ModeGCADPCM  Mode = 6
	ModeIMAADPCM Mode = 7
	ModeVAG      Mode = 8
	ModeHEVAG    Mode = 9
	ModeXMA      Mode = 10
	ModeMPEG     Mode = 11
	ModeCELT     Mode = 12
	ModeAT9      Mode = 13
	ModeXWMA     Mode = 14
	ModeVorbis   Mode = 15
)

// Extra-parameter chunk types.
const (
	ChunkChannels   = 1
	ChunkFrequency  = 2
	ChunkLoop       = 3
	ChunkXMASeek    = 6
	ChunkDSPCoeff   = 7
	ChunkXWMAData   = 10
	ChunkVorbisData = 11
)

// Header is the fixed bank header.
type Header struct {
	ID               [4]byte `json:"id"`
	Version          int32   `json:"version"`
	NumSamples       int32   `json:"num_samples"`
	SampleHeaderSize int32   `json:"sample_header_size"`
	NameTableSize    int32   `json:"name_table_size"`
	DataSize         int32   `json:"data_size"`
	Mode             Mode    `json:"mode"`

	Zero  [8]byte  `json:"-"`
	Hash  [16]byte `json:"hash"`
	Dummy [8]byte  `json:"-"`

	// Present only in version 0 banks.
	Unknown uint32 `json:"unknown,omitempty"`
}

// SampleBits is the unpacked 64-bit sample header bitfield.
type SampleBits struct {
	ExtraParams bool `json:"extra_params"`

	// Frequency code, mapped to Hz by FrequencyHz.
	Frequency uint8 `json:"frequency"`

	TwoChannels bool `json:"two_channels"`

	// Data offset in 16-byte units from the start of the sample data
	// region.
	DataOffset uint32 `json:"data_offset"`

	Samples uint32 `json:"samples"`
}

// FrequencyHz maps the packed frequency code to a sample rate, or 0 for
// an unknown code.
func (b SampleBits) FrequencyHz() uint32 {
	switch b.Frequency {
	case 1:
		return 8000
	case 2:
		return 11000
	case 3:
		return 11025
	case 4:
		return 16000
	case 5:
		return 22050
	case 6:
		return 24000
	case 7:
		return 32000
	case 8:
		return 44100
	case 9:
		return 48000
	}
	return 0
}

// Loop is a loop-point extra chunk.
type Loop struct {
	Start uint32 `json:"loop_start"`
	End   uint32 `json:"loop_end"`
}

// VorbisPacketInfo locates one vorbis packet inside the sample data.
type VorbisPacketInfo struct {
	Offset          uint32  `json:"offset"`
	GranulePosition *uint32 `json:"granule_position,omitempty"`
}

// VorbisSetup is the vorbis-data extra chunk.
type VorbisSetup struct {
	CRC32   uint32             `json:"crc32"`
	Packets []VorbisPacketInfo `json:"packets"`
}

// ExtraChunk is one decoded extra-parameter chunk. Exactly one typed
// field is set, matching Type; unrecognised chunks keep their raw bytes.
type ExtraChunk struct {
	Type uint8 `json:"type"`

	Channels  *uint8       `json:"channels,omitempty"`
	Frequency *uint32      `json:"frequency,omitempty"`
	Loop      *Loop        `json:"loop,omitempty"`
	Vorbis    *VorbisSetup `json:"vorbis,omitempty"`
	Raw       []byte       `json:"-"`
}

// SampleHeader is one sample's bitfield plus extra chunks.
type SampleHeader struct {
	Bits        SampleBits   `json:"bits"`
	ExtraChunks []ExtraChunk `json:"extra_chunks,omitempty"`
}

// NameTableEntry pairs a name with its offset inside the name table.
type NameTableEntry struct {
	NameStart uint32 `json:"name_start"`
	Name      string `json:"name"`
}

// VorbisPacket is one framed packet of a vorbis sample.
type VorbisPacket struct {
	Audio bool   `json:"audio"`
	R     uint8  `json:"r"`
	Data  []byte `json:"-"`
}

// SampleData is one sample's payload: packets for vorbis banks, raw
// bytes otherwise.
type SampleData struct {
	Packets []VorbisPacket `json:"packets,omitempty"`
	Raw     []byte         `json:"-"`
}

// Bank is a fully parsed FSB5 file.
type Bank struct {
	Header        Header           `json:"header"`
	SampleHeaders []SampleHeader   `json:"sample_headers"`
	NameTable     []NameTableEntry `json:"name_table,omitempty"`
	SampleData    []SampleData     `json:"-"`
}

// Open reads and parses the named bank file.
func Open(name string) (*Bank, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a bank held in memory.
func Parse(data []byte) (*Bank, error) {
	br := binread.NewLE(bytes.NewReader(data))
	b := &Bank{}
	if err := b.readHeader(br); err != nil {
		return nil, err
	}
	if err := b.readSampleHeaders(br); err != nil {
		return nil, err
	}
	if err := b.readNameTable(br); err != nil {
		return nil, err
	}
	if err := b.readSampleData(br); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bank) readHeader(br *binread.Reader) error {
	h := &b.Header
	if err := br.ReadFull(h.ID[:]); err != nil {
		return err
	}
	if h.ID != Magic {
		return ErrInvalidMagic
	}
	var err error
	read32 := func(dst *int32) {
		if err == nil {
			*dst, err = br.ReadInt32()
		}
	}
	read32(&h.Version)
	read32(&h.NumSamples)
	read32(&h.SampleHeaderSize)
	read32(&h.NameTableSize)
	read32(&h.DataSize)
	if err == nil {
		var m uint32
		m, err = br.ReadUint32()
		h.Mode = Mode(m)
	}
	if err != nil {
		return err
	}
	if err := br.ReadFull(h.Zero[:]); err != nil {
		return err
	}
	if err := br.ReadFull(h.Hash[:]); err != nil {
		return err
	}
	if err := br.ReadFull(h.Dummy[:]); err != nil {
		return err
	}
	if h.Version == 0 {
		if h.Unknown, err = br.ReadUint32(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bank) readSampleHeaders(br *binread.Reader) error {
	for i := int32(0); i < b.Header.NumSamples; i++ {
		lo, err := br.ReadUint32()
		if err != nil {
			return err
		}
		hi, err := br.ReadUint32()
		if err != nil {
			return err
		}
		raw := uint64(hi)<<32 | uint64(lo)
		sh := SampleHeader{
			Bits: SampleBits{
				ExtraParams: raw&0x1 != 0,
				Frequency:   uint8((raw >> 1) & 0xF),
				TwoChannels: (raw>>5)&0x1 != 0,
				DataOffset:  uint32((raw >> 6) & 0x0FFF_FFFF),
				Samples:     uint32((raw >> 34) & 0x3FFF_FFFF),
			},
		}
		if sh.Bits.ExtraParams {
			if sh.ExtraChunks, err = readExtraChunks(br); err != nil {
				return err
			}
		}
		b.SampleHeaders = append(b.SampleHeaders, sh)
	}
	return nil
}

func readExtraChunks(br *binread.Reader) ([]ExtraChunk, error) {
	var chunks []ExtraChunk
	for next := true; next; {
		raw, err := br.ReadUint32()
		if err != nil {
			return nil, err
		}
		next = raw&0x1 != 0
		size := (raw >> 1) & 0x00FF_FFFF
		typ := uint8((raw >> 25) & 0x7F)

		c := ExtraChunk{Type: typ}
		switch typ {
		case ChunkChannels:
			v, err := br.ReadUint8()
			if err != nil {
				return nil, err
			}
			c.Channels = &v
		case ChunkFrequency:
			v, err := br.ReadUint32()
			if err != nil {
				return nil, err
			}
			c.Frequency = &v
		case ChunkLoop:
			var l Loop
			if l.Start, err = br.ReadUint32(); err != nil {
				return nil, err
			}
			if l.End, err = br.ReadUint32(); err != nil {
				return nil, err
			}
			c.Loop = &l
		case ChunkVorbisData:
			v := &VorbisSetup{}
			if v.CRC32, err = br.ReadUint32(); err != nil {
				return nil, err
			}
			remain := int64(size) - 4
			for remain > 0 {
				var p VorbisPacketInfo
				if p.Offset, err = br.ReadUint32(); err != nil {
					return nil, err
				}
				if remain > 4 {
					g, err := br.ReadUint32()
					if err != nil {
						return nil, err
					}
					p.GranulePosition = &g
				}
				v.Packets = append(v.Packets, p)
				remain -= 8
			}
			c.Vorbis = v
		default:
			if c.Raw, err = br.ReadBytes(int(size)); err != nil {
				return nil, err
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func (b *Bank) readNameTable(br *binread.Reader) error {
	if b.Header.NameTableSize <= 0 {
		return nil
	}
	tableStart, err := br.Position()
	if err != nil {
		return err
	}
	starts := make([]uint32, 0, b.Header.NumSamples)
	for i := int32(0); i < b.Header.NumSamples; i++ {
		s, err := br.ReadUint32()
		if err != nil {
			return err
		}
		starts = append(starts, s)
	}
	for _, start := range starts {
		if _, err := br.Seek(tableStart+int64(start), io.SeekStart); err != nil {
			return err
		}
		var buf []byte
		for {
			c, err := br.ReadUint8()
			if err != nil {
				return err
			}
			if c == 0 {
				break
			}
			buf = append(buf, c)
		}
		b.NameTable = append(b.NameTable, NameTableEntry{
			NameStart: start,
			Name:      binread.LossyString(buf),
		})
	}
	return nil
}

func (b *Bank) readSampleData(br *binread.Reader) error {
	// The data region starts after the fixed header, the sample headers
	// and the name table; skip whatever padding is left. Version 0 banks
	// carry four more header bytes (Header.Unknown).
	headerSize := int64(60)
	if b.Header.Version == 0 {
		headerSize += 4
	}
	dataStart := headerSize + int64(b.Header.SampleHeaderSize) + int64(b.Header.NameTableSize)
	if _, err := br.Seek(dataStart, io.SeekStart); err != nil {
		return err
	}

	for i := int32(0); i < b.Header.NumSamples; i++ {
		start := dataStart + int64(b.SampleHeaders[i].Bits.DataOffset)*16
		end := dataStart + int64(b.Header.DataSize)
		if i+1 < b.Header.NumSamples {
			end = dataStart + int64(b.SampleHeaders[i+1].Bits.DataOffset)*16
		}
		if end < start {
			end = start
		}
		size := end - start
		if _, err := br.Seek(start, io.SeekStart); err != nil {
			return err
		}

		var sd SampleData
		if b.Header.Mode == ModeVorbis {
			remaining := size
			for remaining > 0 {
				packetSize, err := br.ReadUint16()
				if err != nil || packetSize == 0 {
					break
				}
				remaining -= 2
				flags, err := br.ReadUint8()
				if err != nil {
					return err
				}
				remaining--
				p := VorbisPacket{
					Audio: flags&0x01 != 0,
					R:     (flags >> 1) & 0x7F,
				}
				dataLen := int(packetSize) - 1
				if dataLen < 0 {
					dataLen = 0
				}
				if p.Data, err = br.ReadBytes(dataLen); err != nil {
					return err
				}
				remaining -= int64(dataLen)
				sd.Packets = append(sd.Packets, p)
			}
		} else {
			var err error
			if sd.Raw, err = br.ReadBytes(int(size)); err != nil {
				return err
			}
		}
		b.SampleData = append(b.SampleData, sd)
	}
	return nil
}
