// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package emfx

import (
	"bytes"
	"os"

	"github.com/tosview/tosview/binread"
)

// XSM chunk identifiers.
const (
	XSMChunkSubMotion   = 200
	XSMChunkInfo        = 201
	XSMChunkSubMotions  = 202
	XSMChunkWaveletInfo = 203
)

// MotionInfo is the decoded motion info chunk (id 201). Versions 2 and 3
// add the importance/error pair and the motion extraction mask.
type MotionInfo struct {
	Version uint32 `json:"version"`

	// v2 and later.
	ImportanceFactor   float32 `json:"importance_factor,omitempty"`
	MaxAcceptableError float32 `json:"max_acceptable_error,omitempty"`

	FPS uint32 `json:"fps"`

	// v3 only.
	MotionExtractionMask uint32 `json:"motion_extraction_mask,omitempty"`

	ExporterHiVersion uint8 `json:"exporter_hi_version"`
	ExporterLoVersion uint8 `json:"exporter_lo_version"`

	SourceApp        string `json:"source_app"`
	OriginalFileName string `json:"original_file_name"`
	CompilationDate  string `json:"compilation_date"`
	MotionName       string `json:"motion_name"`
}

// Vector3Key is a timed vector keyframe.
type Vector3Key struct {
	Value Vector3 `json:"value"`
	Time  float32 `json:"time"`
}

// QuaternionKey is a timed rotation keyframe. Keys read from the 16-bit
// packed layout are decompressed into float components.
type QuaternionKey struct {
	Value Quaternion `json:"value"`
	Time  float32    `json:"time"`
}

// SkeletalSubMotion animates one skeleton node. Version 1 stores poses
// and rotation keys as full-precision quaternions, version 2 packs them
// into 16-bit components; both decode into the same representation, with
// Compressed recording the on-disk form.
type SkeletalSubMotion struct {
	Compressed bool `json:"compressed"`

	PoseRot          Quaternion `json:"pose_rot"`
	BindPoseRot      Quaternion `json:"bind_pose_rot"`
	PoseScaleRot     Quaternion `json:"pose_scale_rot"`
	BindPoseScaleRot Quaternion `json:"bind_pose_scale_rot"`

	PosePos        Vector3 `json:"pose_pos"`
	PoseScale      Vector3 `json:"pose_scale"`
	BindPosePos    Vector3 `json:"bind_pose_pos"`
	BindPoseScale  Vector3 `json:"bind_pose_scale"`

	NumPosKeys      uint32 `json:"num_pos_keys"`
	NumRotKeys      uint32 `json:"num_rot_keys"`
	NumScaleKeys    uint32 `json:"num_scale_keys"`
	NumScaleRotKeys uint32 `json:"num_scale_rot_keys"`

	MaxError float32 `json:"max_error"`

	Name string `json:"name"`

	PosKeys      []Vector3Key    `json:"-"`
	RotKeys      []QuaternionKey `json:"-"`
	ScaleKeys    []Vector3Key    `json:"-"`
	ScaleRotKeys []QuaternionKey `json:"-"`
}

// WaveletMapping relates a sub-motion to its track indices.
type WaveletMapping struct {
	PosIndex      uint16 `json:"pos_index"`
	RotIndex      uint16 `json:"rot_index"`
	ScaleRotIndex uint16 `json:"scale_rot_index"`
	ScaleIndex    uint16 `json:"scale_index"`
}

// WaveletSubMotion is the pose block of one wavelet-compressed
// sub-motion.
type WaveletSubMotion struct {
	PoseRot          Quaternion `json:"pose_rot"`
	BindPoseRot      Quaternion `json:"bind_pose_rot"`
	PoseScaleRot     Quaternion `json:"pose_scale_rot"`
	BindPoseScaleRot Quaternion `json:"bind_pose_scale_rot"`

	PosePos       Vector3 `json:"pose_pos"`
	PoseScale     Vector3 `json:"pose_scale"`
	BindPosePos   Vector3 `json:"bind_pose_pos"`
	BindPoseScale Vector3 `json:"bind_pose_scale"`

	MaxError float32 `json:"max_error"`

	Name string `json:"name"`
}

// WaveletChunk is one compressed keyframe window.
type WaveletChunk struct {
	RotQuantScale   float32 `json:"rot_quant_scale"`
	PosQuantScale   float32 `json:"pos_quant_scale"`
	ScaleQuantScale float32 `json:"scale_quant_scale"`
	StartTime       float32 `json:"start_time"`

	CompressedRotNumBytes   uint32 `json:"compressed_rot_num_bytes"`
	CompressedPosNumBytes   uint32 `json:"compressed_pos_num_bytes"`
	CompressedScaleNumBytes uint32 `json:"compressed_scale_num_bytes"`
	CompressedPosNumBits    uint32 `json:"compressed_pos_num_bits"`
	CompressedRotNumBits    uint32 `json:"compressed_rot_num_bits"`
	CompressedScaleNumBits  uint32 `json:"compressed_scale_num_bits"`

	RotData   []byte `json:"-"`
	PosData   []byte `json:"-"`
	ScaleData []byte `json:"-"`
}

// WaveletInfo is the decoded wavelet sub-motions chunk (id 203). The
// compressed track data is carried structurally; this reader does not
// run the wavelet decompressor.
type WaveletInfo struct {
	NumChunks       uint32 `json:"num_chunks"`
	SamplesPerChunk uint32 `json:"samples_per_chunk"`

	DecompressedRotNumBytes   uint32 `json:"decompressed_rot_num_bytes"`
	DecompressedPosNumBytes   uint32 `json:"decompressed_pos_num_bytes"`
	DecompressedScaleNumBytes uint32 `json:"decompressed_scale_num_bytes"`

	NumRotTracks      uint32 `json:"num_rot_tracks"`
	NumScaleRotTracks uint32 `json:"num_scale_rot_tracks"`
	NumScaleTracks    uint32 `json:"num_scale_tracks"`
	NumPosTracks      uint32 `json:"num_pos_tracks"`

	ChunkOverhead    uint32 `json:"chunk_overhead"`
	CompressedSize   uint32 `json:"compressed_size"`
	OptimizedSize    uint32 `json:"optimized_size"`
	UncompressedSize uint32 `json:"uncompressed_size"`
	ScaleRotOffset   uint32 `json:"scale_rot_offset"`
	NumSubMotions    uint32 `json:"num_sub_motions"`

	PosQuantFactor   float32 `json:"pos_quant_factor"`
	RotQuantFactor   float32 `json:"rot_quant_factor"`
	ScaleQuantFactor float32 `json:"scale_quant_factor"`
	SampleSpacing    float32 `json:"sample_spacing"`
	SecondsPerChunk  float32 `json:"seconds_per_chunk"`
	MaxTime          float32 `json:"max_time"`

	WaveletID    uint8 `json:"wavelet_id"`
	CompressorID uint8 `json:"compressor_id"`

	Mappings   []WaveletMapping   `json:"mappings,omitempty"`
	SubMotions []WaveletSubMotion `json:"sub_motions,omitempty"`
	Chunks     []WaveletChunk     `json:"chunks,omitempty"`
}

// Motion is a fully decoded XSM file.
type Motion struct {
	Header Header `json:"header"`

	Info        *MotionInfo         `json:"info,omitempty"`
	SubMotions  []SkeletalSubMotion `json:"sub_motions"`
	WaveletInfo *WaveletInfo        `json:"wavelet_info,omitempty"`

	Unknown []RawChunk `json:"-"`
}

// OpenMotion reads and parses the named XSM file.
func OpenMotion(name string) (*Motion, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return ParseMotion(data)
}

// ParseMotion decodes an XSM motion held in memory.
func ParseMotion(data []byte) (*Motion, error) {
	br := binread.NewLE(bytes.NewReader(data))
	h, err := readFileHeader(br, FourCCMotion)
	if err != nil {
		return nil, err
	}
	m := &Motion{Header: h}
	err = readChunks(br, func(ch ChunkHeader) error {
		return m.decodeChunk(br, ch)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Motion) decodeChunk(br *binread.Reader, ch ChunkHeader) error {
	switch {
	case ch.ID == XSMChunkInfo && ch.Version >= 1 && ch.Version <= 3:
		info, err := readMotionInfo(br, ch.Version)
		if err != nil {
			return err
		}
		m.Info = info
		return nil

	case ch.ID == XSMChunkSubMotions && (ch.Version == 1 || ch.Version == 2):
		return m.readSubMotions(br, ch.Version)

	case ch.ID == XSMChunkWaveletInfo && ch.Version == 1:
		wi, err := readWaveletInfo(br)
		if err != nil {
			return err
		}
		m.WaveletInfo = wi
		return nil
	}

	raw, err := readRawChunk(br, ch)
	if err != nil {
		return err
	}
	m.Unknown = append(m.Unknown, raw)
	return nil
}

func readMotionInfo(br *binread.Reader, version uint32) (*MotionInfo, error) {
	info := &MotionInfo{Version: version}
	var err error
	if version >= 2 {
		if info.ImportanceFactor, err = br.ReadFloat32(); err != nil {
			return nil, err
		}
		if info.MaxAcceptableError, err = br.ReadFloat32(); err != nil {
			return nil, err
		}
	}
	if info.FPS, err = br.ReadUint32(); err != nil {
		return nil, err
	}
	if version >= 3 {
		if info.MotionExtractionMask, err = br.ReadUint32(); err != nil {
			return nil, err
		}
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

func (m *Motion) readSubMotions(br *binread.Reader, version uint32) error {
	num, err := br.ReadUint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < num; i++ {
		sm, err := readSkeletalSubMotion(br, version)
		if err != nil {
			return err
		}
		m.SubMotions = append(m.SubMotions, sm)
	}
	return nil
}

func readSkeletalSubMotion(br *binread.Reader, version uint32) (SkeletalSubMotion, error) {
	sm := SkeletalSubMotion{Compressed: version >= 2}
	var err error

	readQuat := func(dst *Quaternion) error {
		if sm.Compressed {
			q, err := readQuaternion16(br)
			if err != nil {
				return err
			}
			*dst = q.Decompress()
			return nil
		}
		q, err := readQuaternion(br)
		*dst = q
		return err
	}

	if err = readQuat(&sm.PoseRot); err != nil {
		return sm, err
	}
	if err = readQuat(&sm.BindPoseRot); err != nil {
		return sm, err
	}
	if err = readQuat(&sm.PoseScaleRot); err != nil {
		return sm, err
	}
	if err = readQuat(&sm.BindPoseScaleRot); err != nil {
		return sm, err
	}
	if sm.PosePos, err = readVector3(br); err != nil {
		return sm, err
	}
	if sm.PoseScale, err = readVector3(br); err != nil {
		return sm, err
	}
	if sm.BindPosePos, err = readVector3(br); err != nil {
		return sm, err
	}
	if sm.BindPoseScale, err = readVector3(br); err != nil {
		return sm, err
	}
	if sm.NumPosKeys, err = br.ReadUint32(); err != nil {
		return sm, err
	}
	if sm.NumRotKeys, err = br.ReadUint32(); err != nil {
		return sm, err
	}
	if sm.NumScaleKeys, err = br.ReadUint32(); err != nil {
		return sm, err
	}
	if sm.NumScaleRotKeys, err = br.ReadUint32(); err != nil {
		return sm, err
	}
	if sm.MaxError, err = br.ReadFloat32(); err != nil {
		return sm, err
	}
	if sm.Name, err = readLenString(br); err != nil {
		return sm, err
	}

	readRotKeys := func(n uint32) ([]QuaternionKey, error) {
		keys := make([]QuaternionKey, 0, n)
		for i := uint32(0); i < n; i++ {
			var k QuaternionKey
			if err := readQuat(&k.Value); err != nil {
				return nil, err
			}
			if k.Time, err = br.ReadFloat32(); err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
		return keys, nil
	}
	readVecKeys := func(n uint32) ([]Vector3Key, error) {
		keys := make([]Vector3Key, 0, n)
		for i := uint32(0); i < n; i++ {
			var k Vector3Key
			if k.Value, err = readVector3(br); err != nil {
				return nil, err
			}
			if k.Time, err = br.ReadFloat32(); err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
		return keys, nil
	}

	if sm.PosKeys, err = readVecKeys(sm.NumPosKeys); err != nil {
		return sm, err
	}
	if sm.RotKeys, err = readRotKeys(sm.NumRotKeys); err != nil {
		return sm, err
	}
	if sm.ScaleKeys, err = readVecKeys(sm.NumScaleKeys); err != nil {
		return sm, err
	}
	if sm.ScaleRotKeys, err = readRotKeys(sm.NumScaleRotKeys); err != nil {
		return sm, err
	}
	return sm, nil
}

func readWaveletInfo(br *binread.Reader) (*WaveletInfo, error) {
	wi := &WaveletInfo{}
	var err error
	read32 := func(dst *uint32) {
		if err == nil {
			*dst, err = br.ReadUint32()
		}
	}
	readF := func(dst *float32) {
		if err == nil {
			*dst, err = br.ReadFloat32()
		}
	}
	read32(&wi.NumChunks)
	read32(&wi.SamplesPerChunk)
	read32(&wi.DecompressedRotNumBytes)
	read32(&wi.DecompressedPosNumBytes)
	read32(&wi.DecompressedScaleNumBytes)
	read32(&wi.NumRotTracks)
	read32(&wi.NumScaleRotTracks)
	read32(&wi.NumScaleTracks)
	read32(&wi.NumPosTracks)
	read32(&wi.ChunkOverhead)
	read32(&wi.CompressedSize)
	read32(&wi.OptimizedSize)
	read32(&wi.UncompressedSize)
	read32(&wi.ScaleRotOffset)
	read32(&wi.NumSubMotions)
	readF(&wi.PosQuantFactor)
	readF(&wi.RotQuantFactor)
	readF(&wi.ScaleQuantFactor)
	readF(&wi.SampleSpacing)
	readF(&wi.SecondsPerChunk)
	readF(&wi.MaxTime)
	if err != nil {
		return nil, err
	}
	if wi.WaveletID, err = br.ReadUint8(); err != nil {
		return nil, err
	}
	if wi.CompressorID, err = br.ReadUint8(); err != nil {
		return nil, err
	}
	if err = skip(br, 2); err != nil {
		return nil, err
	}

	for i := uint32(0); i < wi.NumSubMotions; i++ {
		var wm WaveletMapping
		if wm.PosIndex, err = br.ReadUint16(); err != nil {
			return nil, err
		}
		if wm.RotIndex, err = br.ReadUint16(); err != nil {
			return nil, err
		}
		if wm.ScaleRotIndex, err = br.ReadUint16(); err != nil {
			return nil, err
		}
		if wm.ScaleIndex, err = br.ReadUint16(); err != nil {
			return nil, err
		}
		wi.Mappings = append(wi.Mappings, wm)
	}

	for i := uint32(0); i < wi.NumSubMotions; i++ {
		var sm WaveletSubMotion
		readQ16 := func(dst *Quaternion) error {
			q, err := readQuaternion16(br)
			if err != nil {
				return err
			}
			*dst = q.Decompress()
			return nil
		}
		if err = readQ16(&sm.PoseRot); err != nil {
			return nil, err
		}
		if err = readQ16(&sm.BindPoseRot); err != nil {
			return nil, err
		}
		if err = readQ16(&sm.PoseScaleRot); err != nil {
			return nil, err
		}
		if err = readQ16(&sm.BindPoseScaleRot); err != nil {
			return nil, err
		}
		if sm.PosePos, err = readVector3(br); err != nil {
			return nil, err
		}
		if sm.PoseScale, err = readVector3(br); err != nil {
			return nil, err
		}
		if sm.BindPosePos, err = readVector3(br); err != nil {
			return nil, err
		}
		if sm.BindPoseScale, err = readVector3(br); err != nil {
			return nil, err
		}
		if sm.MaxError, err = br.ReadFloat32(); err != nil {
			return nil, err
		}
		if sm.Name, err = readLenString(br); err != nil {
			return nil, err
		}
		wi.SubMotions = append(wi.SubMotions, sm)
	}

	for i := uint32(0); i < wi.NumChunks; i++ {
		var wc WaveletChunk
		readF2 := func(dst *float32) {
			if err == nil {
				*dst, err = br.ReadFloat32()
			}
		}
		read322 := func(dst *uint32) {
			if err == nil {
				*dst, err = br.ReadUint32()
			}
		}
		readF2(&wc.RotQuantScale)
		readF2(&wc.PosQuantScale)
		readF2(&wc.ScaleQuantScale)
		readF2(&wc.StartTime)
		read322(&wc.CompressedRotNumBytes)
		read322(&wc.CompressedPosNumBytes)
		read322(&wc.CompressedScaleNumBytes)
		read322(&wc.CompressedPosNumBits)
		read322(&wc.CompressedRotNumBits)
		read322(&wc.CompressedScaleNumBits)
		if err != nil {
			return nil, err
		}
		if wc.RotData, err = br.ReadBytes(int(wc.CompressedRotNumBytes)); err != nil {
			return nil, err
		}
		if wc.PosData, err = br.ReadBytes(int(wc.CompressedPosNumBytes)); err != nil {
			return nil, err
		}
		if wc.ScaleData, err = br.ReadBytes(int(wc.CompressedScaleNumBytes)); err != nil {
			return nil, err
		}
		wi.Chunks = append(wi.Chunks, wc)
	}
	return wi, nil
}
