// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package emfx

import (
	"math"
	"testing"
)

func motionInfoPayload(version uint32) []byte {
	p := &fixWriter{}
	if version >= 2 {
		p.f32(1.0) // importance factor
		p.f32(0.1) // max acceptable error
	}
	p.u32(30) // fps
	if version >= 3 {
		p.u32(0x7) // motion extraction mask
	}
	p.u8(3) // exporter hi
	p.u8(9) // exporter lo
	p.u8(0)
	p.u8(0)
	p.str("3D Studio MAX 7")
	p.str("walk.max")
	p.str("2015-01-01")
	p.str("walk_loop")
	return p.Bytes()
}

func TestMotionInfoVersions(t *testing.T) {
	for _, version := range []uint32{1, 2, 3} {
		w := fileHeader(FourCCMotion)
		w.chunk(XSMChunkInfo, version, motionInfoPayload(version))
		m, err := ParseMotion(w.Bytes())
		if err != nil {
			t.Fatalf("v%d: ParseMotion: %v", version, err)
		}
		if m.Info == nil {
			t.Fatalf("v%d: no info decoded", version)
		}
		if m.Info.FPS != 30 || m.Info.MotionName != "walk_loop" {
			t.Fatalf("v%d: info = %+v", version, m.Info)
		}
		if version >= 2 && m.Info.MaxAcceptableError != 0.1 {
			t.Fatalf("v%d: max error = %v", version, m.Info.MaxAcceptableError)
		}
		if version >= 3 && m.Info.MotionExtractionMask != 0x7 {
			t.Fatalf("v%d: extraction mask = %v", version, m.Info.MotionExtractionMask)
		}
	}
}

func subMotionPayload(compressed bool) []byte {
	p := &fixWriter{}
	p.u32(1) // one sub-motion
	writeQuat := func() {
		if compressed {
			p.quat16(0, 0, 0, 32767)
		} else {
			p.quat(0, 0, 0, 1)
		}
	}
	writeQuat() // pose rot
	writeQuat() // bind pose rot
	writeQuat() // pose scale rot
	writeQuat() // bind pose scale rot
	p.vec3(0, 1, 0) // pose pos
	p.vec3(1, 1, 1) // pose scale
	p.vec3(0, 0, 0) // bind pose pos
	p.vec3(1, 1, 1) // bind pose scale
	p.u32(1)        // pos keys
	p.u32(2)        // rot keys
	p.u32(0)        // scale keys
	p.u32(0)        // scale rot keys
	p.f32(0.05)     // max error
	p.str("bone_spine")
	// One position key.
	p.vec3(0, 1, 0)
	p.f32(0)
	// Two rotation keys.
	for i := 0; i < 2; i++ {
		if compressed {
			p.quat16(0, 0, 0, 32767)
		} else {
			p.quat(0, 0, 0, 1)
		}
		p.f32(float32(i))
	}
	return p.Bytes()
}

func TestSubMotionsUncompressed(t *testing.T) {
	w := fileHeader(FourCCMotion)
	w.chunk(XSMChunkSubMotions, 1, subMotionPayload(false))
	m, err := ParseMotion(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(m.SubMotions) != 1 {
		t.Fatalf("%d sub-motions", len(m.SubMotions))
	}
	sm := m.SubMotions[0]
	if sm.Compressed {
		t.Fatal("v1 sub-motion flagged compressed")
	}
	if sm.Name != "bone_spine" || len(sm.PosKeys) != 1 || len(sm.RotKeys) != 2 {
		t.Fatalf("sub-motion = %+v", sm)
	}
	if sm.PoseRot.W != 1 {
		t.Fatalf("pose rot = %+v", sm.PoseRot)
	}
}

func TestSubMotionsCompressed(t *testing.T) {
	w := fileHeader(FourCCMotion)
	w.chunk(XSMChunkSubMotions, 2, subMotionPayload(true))
	m, err := ParseMotion(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	sm := m.SubMotions[0]
	if !sm.Compressed {
		t.Fatal("v2 sub-motion not flagged compressed")
	}
	// 32767 decompresses to exactly 1.0.
	if math.Abs(float64(sm.PoseRot.W)-1.0) > 1e-6 {
		t.Fatalf("decompressed pose rot w = %v", sm.PoseRot.W)
	}
	if len(sm.RotKeys) != 2 || sm.RotKeys[1].Time != 1 {
		t.Fatalf("rot keys = %+v", sm.RotKeys)
	}
}

func TestMotionEventTableOpaque(t *testing.T) {
	w := fileHeader(FourCCMotion)
	w.chunk(ChunkMotionEventTable, 2, []byte{9, 9, 9})
	m, err := ParseMotion(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Unknown) != 1 || m.Unknown[0].Header.ID != ChunkMotionEventTable {
		t.Fatalf("unknown chunks = %+v", m.Unknown)
	}
}

func TestWaveletInfo(t *testing.T) {
	p := &fixWriter{}
	p.u32(1) // num chunks
	p.u32(8) // samples per chunk
	p.u32(64)
	p.u32(64)
	p.u32(0)
	p.u32(2) // rot tracks
	p.u32(0) // scale rot tracks
	p.u32(0) // scale tracks
	p.u32(2) // pos tracks
	p.u32(16)
	p.u32(128)
	p.u32(200)
	p.u32(400)
	p.u32(0)
	p.u32(1) // one sub-motion
	p.f32(0.01)
	p.f32(0.01)
	p.f32(0.01)
	p.f32(0.033)
	p.f32(0.26)
	p.f32(1.0)
	p.u8(0) // haar
	p.u8(0) // huffman
	p.u8(0)
	p.u8(0)
	// Mapping.
	p.u16(0)
	p.u16(0)
	p.u16(0xFFFF)
	p.u16(0xFFFF)
	// Wavelet sub-motion.
	for i := 0; i < 4; i++ {
		p.quat16(0, 0, 0, 32767)
	}
	p.vec3(0, 0, 0)
	p.vec3(1, 1, 1)
	p.vec3(0, 0, 0)
	p.vec3(1, 1, 1)
	p.f32(0.1)
	p.str("pelvis")
	// One compressed chunk with 4+2 data bytes.
	p.f32(1)
	p.f32(1)
	p.f32(1)
	p.f32(0)
	p.u32(4)
	p.u32(2)
	p.u32(0)
	p.u32(16)
	p.u32(32)
	p.u32(0)
	p.Write([]byte{1, 2, 3, 4})
	p.Write([]byte{5, 6})

	w := fileHeader(FourCCMotion)
	w.chunk(XSMChunkWaveletInfo, 1, p.Bytes())
	m, err := ParseMotion(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	wi := m.WaveletInfo
	if wi == nil {
		t.Fatal("no wavelet info decoded")
	}
	if wi.NumSubMotions != 1 || len(wi.SubMotions) != 1 || wi.SubMotions[0].Name != "pelvis" {
		t.Fatalf("wavelet info = %+v", wi)
	}
	if len(wi.Chunks) != 1 || len(wi.Chunks[0].RotData) != 4 || len(wi.Chunks[0].PosData) != 2 {
		t.Fatalf("wavelet chunks = %+v", wi.Chunks)
	}
}
