// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fsb5

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type bankWriter struct {
	bytes.Buffer
}

func (w *bankWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func (w *bankWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func (w *bankWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

// sampleBits packs the 64-bit sample header bitfield.
func sampleBits(extraParams bool, frequency uint8, twoChannels bool, dataOffset, samples uint32) uint64 {
	var v uint64
	if extraParams {
		v |= 1
	}
	v |= uint64(frequency&0xF) << 1
	if twoChannels {
		v |= 1 << 5
	}
	v |= uint64(dataOffset&0x0FFF_FFFF) << 6
	v |= uint64(samples&0x3FFF_FFFF) << 34
	return v
}

// buildBank assembles a two-sample PCM16 bank with a name table.
func buildBank(t *testing.T) []byte {
	t.Helper()
	var w bankWriter

	// Sample headers: two plain bitfields (8 bytes each), the second
	// carrying a frequency extra chunk (4 + 4 bytes).
	var sh bankWriter
	sh.u64(sampleBits(false, 8, true, 0, 100))
	sh.u64(sampleBits(true, 9, false, 1, 50))
	sh.u32(0<<0 | 4<<1 | ChunkFrequency<<25) // final chunk, size 4
	sh.u32(48000)

	// Name table: per-sample start offsets then NUL-terminated names.
	var names bankWriter
	names.u32(8)
	names.u32(8 + 6)
	names.WriteString("voice\x00")
	names.WriteString("music\x00")

	data := []byte("0123456789abcdefXYZWVUTSRQPONMLK") // two 16-byte blocks

	w.Write(Magic[:])
	w.u32(1) // version
	w.u32(2) // num samples
	w.u32(uint32(sh.Len()))
	w.u32(uint32(names.Len()))
	w.u32(uint32(len(data)))
	w.u32(uint32(ModePCM16))
	w.Write(make([]byte, 8))  // zero
	w.Write(make([]byte, 16)) // hash
	w.Write(make([]byte, 8))  // dummy
	w.Write(sh.Bytes())
	w.Write(names.Bytes())
	w.Write(data)
	return w.Bytes()
}

func TestParseBank(t *testing.T) {
	b, err := Parse(buildBank(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if b.Header.NumSamples != 2 || b.Header.Mode != ModePCM16 {
		t.Fatalf("header = %+v", b.Header)
	}
	if len(b.SampleHeaders) != 2 {
		t.Fatalf("%d sample headers", len(b.SampleHeaders))
	}

	first := b.SampleHeaders[0]
	if first.Bits.FrequencyHz() != 44100 || !first.Bits.TwoChannels || first.Bits.Samples != 100 {
		t.Fatalf("first sample bits = %+v", first.Bits)
	}
	if len(first.ExtraChunks) != 0 {
		t.Fatalf("first sample extra chunks = %+v", first.ExtraChunks)
	}

	second := b.SampleHeaders[1]
	if len(second.ExtraChunks) != 1 || second.ExtraChunks[0].Frequency == nil {
		t.Fatalf("second sample extra chunks = %+v", second.ExtraChunks)
	}
	if *second.ExtraChunks[0].Frequency != 48000 {
		t.Fatalf("frequency chunk = %d", *second.ExtraChunks[0].Frequency)
	}

	wantNames := []string{"voice", "music"}
	for i, e := range b.NameTable {
		if e.Name != wantNames[i] {
			t.Fatalf("name %d = %q, want %q", i, e.Name, wantNames[i])
		}
	}

	// Sample data slicing by 16-byte offsets.
	if len(b.SampleData) != 2 {
		t.Fatalf("%d sample payloads", len(b.SampleData))
	}
	if string(b.SampleData[0].Raw) != "0123456789abcdef" {
		t.Fatalf("sample 0 data = %q", b.SampleData[0].Raw)
	}
	if string(b.SampleData[1].Raw) != "XYZWVUTSRQPONMLK" {
		t.Fatalf("sample 1 data = %q", b.SampleData[1].Raw)
	}
}

func TestInvalidMagic(t *testing.T) {
	img := buildBank(t)
	img[0] = 'X'
	if _, err := Parse(img); err != ErrInvalidMagic {
		t.Fatalf("bad magic: got %v, want ErrInvalidMagic", err)
	}
}

func TestFrequencyCodes(t *testing.T) {
	want := map[uint8]uint32{
		1: 8000, 2: 11000, 3: 11025, 4: 16000, 5: 22050,
		6: 24000, 7: 32000, 8: 44100, 9: 48000, 12: 0,
	}
	for code, hz := range want {
		if got := (SampleBits{Frequency: code}).FrequencyHz(); got != hz {
			t.Errorf("FrequencyHz(%d) = %d, want %d", code, got, hz)
		}
	}
}
