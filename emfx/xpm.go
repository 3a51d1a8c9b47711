// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package emfx

import (
	"bytes"
	"os"

	"github.com/tosview/tosview/binread"
)

// XPM chunk identifiers.
const (
	XPMChunkSubMotion  = 100
	XPMChunkInfo       = 101
	XPMChunkSubMotions = 102
)

// MorphMotionInfo is the decoded morph motion info chunk (id 101).
type MorphMotionInfo struct {
	FPS uint32 `json:"fps"`

	ExporterHiVersion uint8 `json:"exporter_hi_version"`
	ExporterLoVersion uint8 `json:"exporter_lo_version"`

	SourceApp        string `json:"source_app"`
	OriginalFileName string `json:"original_file_name"`
	CompilationDate  string `json:"compilation_date"`
	MotionName       string `json:"motion_name"`
}

// UShortKey is a packed morph weight keyframe. The 16-bit value maps
// linearly onto the sub-motion's weight range.
type UShortKey struct {
	Time  float32 `json:"time"`
	Value uint16  `json:"value"`
}

// Unpack expands the packed value into the [min, max] weight range.
func (k UShortKey) Unpack(min, max float32) float32 {
	return min + (float32(k.Value)/65535.0)*(max-min)
}

// ProgressiveSubMotion animates one morph target's weight over time.
type ProgressiveSubMotion struct {
	PoseWeight float32 `json:"pose_weight"`
	MinWeight  float32 `json:"min_weight"`
	MaxWeight  float32 `json:"max_weight"`

	// Zero for plain morph targets, a bit set for phoneme motions.
	PhonemeSets uint32 `json:"phoneme_sets"`

	NumKeys uint32 `json:"num_keys"`

	Name string `json:"name"`

	Keys []UShortKey `json:"keys,omitempty"`
}

// IsPhonemeMotion reports whether the sub-motion drives a phoneme set.
func (p *ProgressiveSubMotion) IsPhonemeMotion() bool {
	return p.PhonemeSets != 0
}

// MorphMotion is a fully decoded XPM file.
type MorphMotion struct {
	Header Header `json:"header"`

	Info       *MorphMotionInfo       `json:"info,omitempty"`
	SubMotions []ProgressiveSubMotion `json:"sub_motions"`

	Unknown []RawChunk `json:"-"`
}

// OpenMorphMotion reads and parses the named XPM file.
func OpenMorphMotion(name string) (*MorphMotion, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return ParseMorphMotion(data)
}

// ParseMorphMotion decodes an XPM morph motion held in memory.
func ParseMorphMotion(data []byte) (*MorphMotion, error) {
	br := binread.NewLE(bytes.NewReader(data))
	h, err := readFileHeader(br, FourCCMorphMotion)
	if err != nil {
		return nil, err
	}
	m := &MorphMotion{Header: h}
	err = readChunks(br, func(ch ChunkHeader) error {
		return m.decodeChunk(br, ch)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MorphMotion) decodeChunk(br *binread.Reader, ch ChunkHeader) error {
	switch {
	case ch.ID == XPMChunkInfo && ch.Version == 1:
		info, err := readMorphMotionInfo(br)
		if err != nil {
			return err
		}
		m.Info = info
		return nil

	case ch.ID == XPMChunkSubMotions && ch.Version == 1:
		return m.readSubMotions(br)
	}

	raw, err := readRawChunk(br, ch)
	if err != nil {
		return err
	}
	m.Unknown = append(m.Unknown, raw)
	return nil
}

// readMorphMotionInfo reads the fixed info fields and the four trailing
// strings. The FPS word is read exactly once.
func readMorphMotionInfo(br *binread.Reader) (*MorphMotionInfo, error) {
	info := &MorphMotionInfo{}
	var err error
	if info.FPS, err = br.ReadUint32(); err != nil {
		return nil, err
	}
	if info.ExporterHiVersion, err = br.ReadUint8(); err != nil {
		return nil, err
	}
	if info.ExporterLoVersion, err = br.ReadUint8(); err != nil {
		return nil, err
	}
	if err = skip(br, 2); err != nil {
		return nil, err
	}
	if info.SourceApp, err = readLenString(br); err != nil {
		return nil, err
	}
	if info.OriginalFileName, err = readLenString(br); err != nil {
		return nil, err
	}
	if info.CompilationDate, err = readLenString(br); err != nil {
		return nil, err
	}
	info.MotionName, err = readLenString(br)
	return info, err
}

func (m *MorphMotion) readSubMotions(br *binread.Reader) error {
	num, err := br.ReadUint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < num; i++ {
		sm, err := readProgressiveSubMotion(br)
		if err != nil {
			return err
		}
		m.SubMotions = append(m.SubMotions, sm)
	}
	return nil
}

func readProgressiveSubMotion(br *binread.Reader) (ProgressiveSubMotion, error) {
	var sm ProgressiveSubMotion
	var err error
	if sm.PoseWeight, err = br.ReadFloat32(); err != nil {
		return sm, err
	}
	if sm.MinWeight, err = br.ReadFloat32(); err != nil {
		return sm, err
	}
	if sm.MaxWeight, err = br.ReadFloat32(); err != nil {
		return sm, err
	}
	if sm.PhonemeSets, err = br.ReadUint32(); err != nil {
		return sm, err
	}
	if sm.NumKeys, err = br.ReadUint32(); err != nil {
		return sm, err
	}
	if sm.Name, err = readLenString(br); err != nil {
		return sm, err
	}
	sm.Keys = make([]UShortKey, 0, sm.NumKeys)
	for i := uint32(0); i < sm.NumKeys; i++ {
		var k UShortKey
		if k.Time, err = br.ReadFloat32(); err != nil {
			return sm, err
		}
		if k.Value, err = br.ReadUint16(); err != nil {
			return sm, err
		}
		if err = skip(br, 2); err != nil {
			return sm, err
		}
		sm.Keys = append(sm.Keys, k)
	}
	return sm, nil
}
