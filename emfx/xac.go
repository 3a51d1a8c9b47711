// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package emfx

import (
	"bytes"
	"os"

	"github.com/tosview/tosview/binread"
)

// XAC chunk identifiers.
const (
	XACChunkNode              = 0
	XACChunkMesh              = 1
	XACChunkSkinningInfo      = 2
	XACChunkStdMaterial       = 3
	XACChunkStdMaterialLayer  = 4
	XACChunkFXMaterial        = 5
	XACChunkLimit             = 6
	XACChunkInfo              = 7
	XACChunkMeshLODLevels     = 8
	XACChunkStdMorphTarget    = 9
	XACChunkNodeGroups        = 10
	XACChunkNodes             = 11
	XACChunkStdMorphTargets   = 12
	XACChunkMaterialInfo      = 13
	XACChunkNodeMotionSources = 14
	XACChunkAttachmentNodes   = 15
)

// Vertex attribute layer type identifiers.
const (
	AttribPositions             = 0
	AttribNormals               = 1
	AttribTangents              = 2
	AttribUVCoords              = 3
	AttribColors32              = 4
	AttribOriginalVertexNumbers = 5
	AttribColors128             = 6
	AttribBitangents            = 7
)

// AttributeStride reports the per-vertex byte size a scene projector
// uses when decoding a vertex attribute layer of the given type, or 0
// for an unknown type.
func AttributeStride(layerTypeID uint32) int {
	switch layerTypeID {
	case AttribPositions, AttribNormals, AttribBitangents:
		return 12
	case AttribTangents, AttribColors128:
		return 16
	case AttribUVCoords:
		return 8
	case AttribColors32, AttribOriginalVertexNumbers:
		return 4
	}
	return 0
}

// ActorInfo is the decoded info chunk (id 7). Field availability grows
// with the chunk version; absent fields stay zero.
type ActorInfo struct {
	Version uint32 `json:"version"`

	// v4 only.
	NumLODs uint32 `json:"num_lods,omitempty"`

	// v1 and v2.
	RepositioningMask      uint32 `json:"repositioning_mask,omitempty"`
	RepositioningNodeIndex uint32 `json:"repositioning_node_index,omitempty"`

	// v3 and v4.
	TrajectoryNodeIndex       uint32 `json:"trajectory_node_index,omitempty"`
	MotionExtractionNodeIndex uint32 `json:"motion_extraction_node_index,omitempty"`

	// v3 only.
	MotionExtractionMask uint32 `json:"motion_extraction_mask,omitempty"`

	ExporterHiVersion uint8 `json:"exporter_hi_version"`
	ExporterLoVersion uint8 `json:"exporter_lo_version"`

	// v2 and later.
	RetargetRootOffset float32 `json:"retarget_root_offset,omitempty"`

	SourceApp        string `json:"source_app"`
	OriginalFileName string `json:"original_file_name"`
	CompilationDate  string `json:"compilation_date"`
	ActorName        string `json:"actor_name"`
}

// Node is one skeleton node. Single-node chunks (id 0) come in four
// versions; the flat nodes chunk (id 11) embeds the v4 layout.
type Node struct {
	LocalQuat  Quaternion `json:"local_quat"`
	ScaleRot   Quaternion `json:"scale_rot"`
	LocalPos   Vector3    `json:"local_pos"`
	LocalScale Vector3    `json:"local_scale"`
	Shear      Vector3    `json:"shear"`

	SkeletalLODs uint32 `json:"skeletal_lods"`

	// v4 only.
	MotionLODs uint32 `json:"motion_lods,omitempty"`

	ParentIndex uint32 `json:"parent_index"`

	// v4 only.
	NumChildren uint32 `json:"num_children,omitempty"`

	// v2 and later.
	Flags uint8 `json:"flags,omitempty"`

	// Oriented bounding box, v3 and later.
	OBB [16]float32 `json:"obb,omitempty"`

	// Automatic motion LOD importance, v4 only.
	ImportanceFactor float32 `json:"importance_factor,omitempty"`

	Name string `json:"name"`
}

// VertexAttributeLayer carries one attribute's raw per-vertex bytes.
// Decoding into semantic vectors is deferred to a scene projector via
// AttributeStride.
type VertexAttributeLayer struct {
	LayerTypeID        uint32 `json:"layer_type_id"`
	AttribSizeInBytes  uint32 `json:"attrib_size_in_bytes"`
	EnableDeformations bool   `json:"enable_deformations"`
	IsScale            bool   `json:"is_scale"`
	Data               []byte `json:"-"`
}

// SubMesh is one material-homogeneous piece of a mesh.
type SubMesh struct {
	NumIndices    uint32   `json:"num_indices"`
	NumVerts      uint32   `json:"num_verts"`
	MaterialIndex uint32   `json:"material_index"`
	NumBones      uint32   `json:"num_bones"`
	Indices       []uint32 `json:"-"`
	Bones         []uint32 `json:"-"`
}

// Mesh is the decoded mesh chunk (id 1).
type Mesh struct {
	Version   uint32 `json:"version"`
	NodeIndex uint32 `json:"node_index"`

	// v2 only.
	LOD uint32 `json:"lod,omitempty"`

	NumOrgVerts     uint32 `json:"num_org_verts"`
	TotalVerts      uint32 `json:"total_verts"`
	TotalIndices    uint32 `json:"total_indices"`
	NumSubMeshes    uint32 `json:"num_sub_meshes"`
	NumLayers       uint32 `json:"num_layers"`
	IsCollisionMesh bool   `json:"is_collision_mesh"`

	Layers    []VertexAttributeLayer `json:"layers"`
	SubMeshes []SubMesh              `json:"sub_meshes"`
}

// SkinInfluence binds a vertex to a node with a weight.
type SkinInfluence struct {
	Weight     float32 `json:"weight"`
	NodeNumber uint32  `json:"node_number"`
}

// SkinRange locates one vertex's influences inside the flat array.
type SkinRange struct {
	StartIndex  uint32 `json:"start_index"`
	NumElements uint32 `json:"num_elements"`
}

// SkinningInfo is the decoded skinning chunk (id 2). Version 1 stores
// per-vertex influence lists on disk; they are normalized here into the
// flat influence array plus per-vertex ranges that versions 2+ use, so
// the two representations are interchangeable downstream.
type SkinningInfo struct {
	Version   uint32 `json:"version"`
	NodeIndex uint32 `json:"node_index"`

	// v4 only.
	LOD uint32 `json:"lod,omitempty"`

	// v3 and later.
	NumLocalBones uint32 `json:"num_local_bones,omitempty"`

	NumTotalInfluences uint32 `json:"num_total_influences"`
	IsForCollisionMesh bool   `json:"is_for_collision_mesh"`

	Influences []SkinInfluence `json:"-"`
	Table      []SkinRange     `json:"-"`
}

// MaterialLayer is one texture layer of a standard material (id 4, or
// embedded in id 3 from version 2 on).
type MaterialLayer struct {
	Amount          float32 `json:"amount"`
	UOffset         float32 `json:"u_offset"`
	VOffset         float32 `json:"v_offset"`
	UTiling         float32 `json:"u_tiling"`
	VTiling         float32 `json:"v_tiling"`
	RotationRadians float32 `json:"rotation_radians"`

	// Parent material number; 0 means the first material.
	MaterialNumber uint16 `json:"material_number"`

	MapType uint8 `json:"map_type"`

	// v2 only.
	BlendMode uint8 `json:"blend_mode,omitempty"`

	Texture string `json:"texture"`
}

// StandardMaterial is the decoded standard material chunk (id 3).
type StandardMaterial struct {
	Version uint32 `json:"version"`

	// v3 only.
	LOD uint32 `json:"lod,omitempty"`

	Ambient  Color `json:"ambient"`
	Diffuse  Color `json:"diffuse"`
	Specular Color `json:"specular"`
	Emissive Color `json:"emissive"`

	Shine         float32 `json:"shine"`
	ShineStrength float32 `json:"shine_strength"`
	Opacity       float32 `json:"opacity"`
	IOR           float32 `json:"ior"`

	DoubleSided      bool  `json:"double_sided"`
	Wireframe        bool  `json:"wireframe"`
	TransparencyType uint8 `json:"transparency_type"`

	Name string `json:"name"`

	// Embedded layers, v2 and later.
	Layers []MaterialLayer `json:"layers,omitempty"`
}

// FX material parameters.
type (
	FXIntParameter struct {
		Value int32  `json:"value"`
		Name  string `json:"name"`
	}
	FXFloatParameter struct {
		Value float32 `json:"value"`
		Name  string  `json:"name"`
	}
	FXColorParameter struct {
		Value Color  `json:"value"`
		Name  string `json:"name"`
	}
	FXBoolParameter struct {
		Value bool   `json:"value"`
		Name  string `json:"name"`
	}
	FXVector3Parameter struct {
		Value Vector3 `json:"value"`
		Name  string  `json:"name"`
	}
	FXBitmapParameter struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
)

// FXMaterial is the decoded FX material chunk (id 5). The parameter set
// grows with the version.
type FXMaterial struct {
	Version uint32 `json:"version"`

	// v3 only.
	LOD uint32 `json:"lod,omitempty"`

	Name            string `json:"name"`
	EffectFile      string `json:"effect_file"`
	ShaderTechnique string `json:"shader_technique"`

	IntParams     []FXIntParameter     `json:"int_params,omitempty"`
	FloatParams   []FXFloatParameter   `json:"float_params,omitempty"`
	ColorParams   []FXColorParameter   `json:"color_params,omitempty"`
	BoolParams    []FXBoolParameter    `json:"bool_params,omitempty"`
	Vector3Params []FXVector3Parameter `json:"vector3_params,omitempty"`
	BitmapParams  []FXBitmapParameter  `json:"bitmap_params,omitempty"`
}

// TransformLimit is the decoded transform limit chunk (id 6).
type TransformLimit struct {
	TranslationMin Vector3 `json:"translation_min"`
	TranslationMax Vector3 `json:"translation_max"`
	RotationMin    Vector3 `json:"rotation_min"`
	RotationMax    Vector3 `json:"rotation_max"`
	ScaleMin       Vector3 `json:"scale_min"`
	ScaleMax       Vector3 `json:"scale_max"`

	// Per-axis enable flags for T/R/S.
	LimitFlags [9]uint8 `json:"limit_flags"`

	NodeNumber uint32 `json:"node_number"`
}

// MeshLODLevel embeds a lower-resolution model (id 8).
type MeshLODLevel struct {
	LODLevel uint32 `json:"lod_level"`
	Model    []byte `json:"-"`
}

// MorphTargetMeshDeltas is a per-node block of packed vertex deltas.
type MorphTargetMeshDeltas struct {
	NodeIndex uint32 `json:"node_index"`

	// Range the 16-bit position deltas are packed into.
	MinValue float32 `json:"min_value"`
	MaxValue float32 `json:"max_value"`

	NumVertices uint32 `json:"num_vertices"`

	PositionDeltas []Vector3U16 `json:"-"`
	NormalDeltas   []Vector3U8  `json:"-"`
	TangentDeltas  []Vector3U8  `json:"-"`
	VertexNumbers  []uint32     `json:"-"`
}

// MorphTargetTransform is a per-node transform delta.
type MorphTargetTransform struct {
	NodeIndex     uint32     `json:"node_index"`
	Rotation      Quaternion `json:"rotation"`
	ScaleRotation Quaternion `json:"scale_rotation"`
	Position      Vector3    `json:"position"`
	Scale         Vector3    `json:"scale"`
}

// MorphTarget is one progressive morph target (id 9, or repeated inside
// id 12).
type MorphTarget struct {
	RangeMin            float32 `json:"range_min"`
	RangeMax            float32 `json:"range_max"`
	LOD                 uint32  `json:"lod"`
	NumMeshDeformDeltas uint32  `json:"num_mesh_deform_deltas"`
	NumTransformations  uint32  `json:"num_transformations"`
	PhonemeSets         uint32  `json:"phoneme_sets"`

	Name string `json:"name"`

	MeshDeltas []MorphTargetMeshDeltas `json:"mesh_deltas,omitempty"`
	Transforms []MorphTargetTransform  `json:"transforms,omitempty"`
}

// NodeGroup is an ordered set of nodes toggled as a unit (id 10).
type NodeGroup struct {
	DisabledOnDefault bool     `json:"disabled_on_default"`
	Name              string   `json:"name"`
	Nodes             []uint16 `json:"nodes"`
}

// MaterialInfo carries material counts (id 13).
type MaterialInfo struct {
	Version uint32 `json:"version"`

	// v2 only.
	LOD uint32 `json:"lod,omitempty"`

	NumTotalMaterials    uint32 `json:"num_total_materials"`
	NumStandardMaterials uint32 `json:"num_standard_materials"`
	NumFXMaterials       uint32 `json:"num_fx_materials"`
}

// Actor is a fully decoded XAC file.
type Actor struct {
	Header Header `json:"header"`

	Info *ActorInfo `json:"info,omitempty"`

	// Skeleton nodes from single-node chunks and the flat nodes chunk.
	Nodes        []Node `json:"nodes"`
	NumRootNodes uint32 `json:"num_root_nodes"`

	Meshes        []Mesh         `json:"meshes"`
	SkinningInfos []SkinningInfo `json:"skinning_infos"`

	MaterialInfo      *MaterialInfo      `json:"material_info,omitempty"`
	StandardMaterials []StandardMaterial `json:"standard_materials"`
	MaterialLayers    []MaterialLayer    `json:"material_layers,omitempty"`
	FXMaterials       []FXMaterial       `json:"fx_materials"`

	Limits        []TransformLimit `json:"limits,omitempty"`
	MeshLODLevels []MeshLODLevel   `json:"mesh_lod_levels,omitempty"`
	MorphTargets  []MorphTarget    `json:"morph_targets,omitempty"`
	NodeGroups    []NodeGroup      `json:"node_groups,omitempty"`

	NodeMotionSources []uint16 `json:"node_motion_sources,omitempty"`
	AttachmentNodes   []uint16 `json:"attachment_nodes,omitempty"`

	Unknown []RawChunk `json:"-"`
}

// OpenActor reads and parses the named XAC file.
func OpenActor(name string) (*Actor, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return ParseActor(data)
}

// ParseActor decodes an XAC actor held in memory.
func ParseActor(data []byte) (*Actor, error) {
	br := binread.NewLE(bytes.NewReader(data))
	h, err := readFileHeader(br, FourCCActor)
	if err != nil {
		return nil, err
	}
	a := &Actor{Header: h}
	err = readChunks(br, func(ch ChunkHeader) error {
		return a.decodeChunk(br, ch)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Actor) decodeChunk(br *binread.Reader, ch ChunkHeader) error {
	switch {
	case ch.ID == XACChunkInfo && ch.Version >= 1 && ch.Version <= 4:
		info, err := readActorInfo(br, ch.Version)
		if err != nil {
			return err
		}
		a.Info = info
		return nil

	case ch.ID == XACChunkNode && ch.Version >= 1 && ch.Version <= 4:
		n, err := readNode(br, ch.Version)
		if err != nil {
			return err
		}
		a.Nodes = append(a.Nodes, n)
		return nil

	case ch.ID == XACChunkNodes && ch.Version == 1:
		return a.readNodes(br)

	case ch.ID == XACChunkMesh && (ch.Version == 1 || ch.Version == 2):
		m, err := readMesh(br, ch.Version)
		if err != nil {
			return err
		}
		a.Meshes = append(a.Meshes, m)
		return nil

	case ch.ID == XACChunkSkinningInfo && ch.Version >= 1 && ch.Version <= 4:
		s, err := readSkinningInfo(br, ch)
		if err != nil {
			return err
		}
		a.SkinningInfos = append(a.SkinningInfos, s)
		return nil

	case ch.ID == XACChunkStdMaterial && ch.Version >= 1 && ch.Version <= 3:
		m, err := readStandardMaterial(br, ch.Version)
		if err != nil {
			return err
		}
		a.StandardMaterials = append(a.StandardMaterials, m)
		return nil

	case ch.ID == XACChunkStdMaterialLayer && (ch.Version == 1 || ch.Version == 2):
		l, err := readMaterialLayer(br, ch.Version)
		if err != nil {
			return err
		}
		a.MaterialLayers = append(a.MaterialLayers, l)
		return nil

	case ch.ID == XACChunkFXMaterial && ch.Version >= 1 && ch.Version <= 3:
		m, err := readFXMaterial(br, ch.Version)
		if err != nil {
			return err
		}
		a.FXMaterials = append(a.FXMaterials, m)
		return nil

	case ch.ID == XACChunkLimit && ch.Version == 1:
		l, err := readTransformLimit(br)
		if err != nil {
			return err
		}
		a.Limits = append(a.Limits, l)
		return nil

	case ch.ID == XACChunkMeshLODLevels && ch.Version == 1:
		l, err := readMeshLODLevel(br)
		if err != nil {
			return err
		}
		a.MeshLODLevels = append(a.MeshLODLevels, l)
		return nil

	case ch.ID == XACChunkStdMorphTarget && ch.Version == 1:
		t, err := readMorphTarget(br)
		if err != nil {
			return err
		}
		a.MorphTargets = append(a.MorphTargets, t)
		return nil

	case ch.ID == XACChunkStdMorphTargets && ch.Version == 1:
		return a.readMorphTargets(br)

	case ch.ID == XACChunkNodeGroups && ch.Version == 1:
		g, err := readNodeGroup(br)
		if err != nil {
			return err
		}
		a.NodeGroups = append(a.NodeGroups, g)
		return nil

	case ch.ID == XACChunkMaterialInfo && (ch.Version == 1 || ch.Version == 2):
		mi, err := readMaterialInfo(br, ch.Version)
		if err != nil {
			return err
		}
		a.MaterialInfo = &mi
		return nil

	case ch.ID == XACChunkNodeMotionSources && ch.Version == 1:
		idx, err := readUint16List(br)
		if err != nil {
			return err
		}
		a.NodeMotionSources = idx
		return nil

	case ch.ID == XACChunkAttachmentNodes && ch.Version == 1:
		idx, err := readUint16List(br)
		if err != nil {
			return err
		}
		a.AttachmentNodes = idx
		return nil
	}

	raw, err := readRawChunk(br, ch)
	if err != nil {
		return err
	}
	a.Unknown = append(a.Unknown, raw)
	return nil
}

func readActorInfo(br *binread.Reader, version uint32) (*ActorInfo, error) {
	info := &ActorInfo{Version: version}
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
	read8 := func(dst *uint8) {
		if err == nil {
			*dst, err = br.ReadUint8()
		}
	}

	switch version {
	case 1:
		read32(&info.RepositioningMask)
		read32(&info.RepositioningNodeIndex)
		read8(&info.ExporterHiVersion)
		read8(&info.ExporterLoVersion)
	case 2:
		read32(&info.RepositioningMask)
		read32(&info.RepositioningNodeIndex)
		read8(&info.ExporterHiVersion)
		read8(&info.ExporterLoVersion)
		readF(&info.RetargetRootOffset)
	case 3:
		read32(&info.TrajectoryNodeIndex)
		read32(&info.MotionExtractionNodeIndex)
		read32(&info.MotionExtractionMask)
		read8(&info.ExporterHiVersion)
		read8(&info.ExporterLoVersion)
		readF(&info.RetargetRootOffset)
	case 4:
		read32(&info.NumLODs)
		read32(&info.TrajectoryNodeIndex)
		read32(&info.MotionExtractionNodeIndex)
		read8(&info.ExporterHiVersion)
		read8(&info.ExporterLoVersion)
		readF(&info.RetargetRootOffset)
	}
	if err == nil {
		err = skip(br, 2) // alignment padding
	}
	if err != nil {
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
	if info.ActorName, err = readLenString(br); err != nil {
		return nil, err
	}
	return info, nil
}

func readNode(br *binread.Reader, version uint32) (Node, error) {
	var n Node
	var err error
	if n.LocalQuat, err = readQuaternion(br); err != nil {
		return n, err
	}
	if n.ScaleRot, err = readQuaternion(br); err != nil {
		return n, err
	}
	if n.LocalPos, err = readVector3(br); err != nil {
		return n, err
	}
	if n.LocalScale, err = readVector3(br); err != nil {
		return n, err
	}
	if n.Shear, err = readVector3(br); err != nil {
		return n, err
	}
	if n.SkeletalLODs, err = br.ReadUint32(); err != nil {
		return n, err
	}
	if version == 4 {
		if n.MotionLODs, err = br.ReadUint32(); err != nil {
			return n, err
		}
	}
	if n.ParentIndex, err = br.ReadUint32(); err != nil {
		return n, err
	}
	if version == 4 {
		if n.NumChildren, err = br.ReadUint32(); err != nil {
			return n, err
		}
	}
	if version >= 2 {
		if n.Flags, err = br.ReadUint8(); err != nil {
			return n, err
		}
	}
	if version >= 3 {
		for i := range n.OBB {
			if n.OBB[i], err = br.ReadFloat32(); err != nil {
				return n, err
			}
		}
	}
	if version == 4 {
		if n.ImportanceFactor, err = br.ReadFloat32(); err != nil {
			return n, err
		}
	}
	if version >= 2 {
		if err = skip(br, 3); err != nil {
			return n, err
		}
	}
	n.Name, err = readLenString(br)
	return n, err
}

func (a *Actor) readNodes(br *binread.Reader) error {
	numNodes, err := br.ReadUint32()
	if err != nil {
		return err
	}
	if a.NumRootNodes, err = br.ReadUint32(); err != nil {
		return err
	}
	for i := uint32(0); i < numNodes; i++ {
		n, err := readNode(br, 4)
		if err != nil {
			return err
		}
		a.Nodes = append(a.Nodes, n)
	}
	return nil
}

func readMesh(br *binread.Reader, version uint32) (Mesh, error) {
	m := Mesh{Version: version}
	var err error
	if m.NodeIndex, err = br.ReadUint32(); err != nil {
		return m, err
	}
	if version == 2 {
		if m.LOD, err = br.ReadUint32(); err != nil {
			return m, err
		}
	}
	if m.NumOrgVerts, err = br.ReadUint32(); err != nil {
		return m, err
	}
	if m.TotalVerts, err = br.ReadUint32(); err != nil {
		return m, err
	}
	if m.TotalIndices, err = br.ReadUint32(); err != nil {
		return m, err
	}
	if m.NumSubMeshes, err = br.ReadUint32(); err != nil {
		return m, err
	}
	if m.NumLayers, err = br.ReadUint32(); err != nil {
		return m, err
	}
	if m.IsCollisionMesh, err = readBool(br); err != nil {
		return m, err
	}
	if err = skip(br, 3); err != nil {
		return m, err
	}

	m.Layers = make([]VertexAttributeLayer, 0, m.NumLayers)
	for i := uint32(0); i < m.NumLayers; i++ {
		var l VertexAttributeLayer
		if l.LayerTypeID, err = br.ReadUint32(); err != nil {
			return m, err
		}
		if l.AttribSizeInBytes, err = br.ReadUint32(); err != nil {
			return m, err
		}
		if l.EnableDeformations, err = readBool(br); err != nil {
			return m, err
		}
		if l.IsScale, err = readBool(br); err != nil {
			return m, err
		}
		if err = skip(br, 2); err != nil {
			return m, err
		}
		if l.Data, err = br.ReadBytes(int(l.AttribSizeInBytes * m.TotalVerts)); err != nil {
			return m, err
		}
		m.Layers = append(m.Layers, l)
	}

	m.SubMeshes = make([]SubMesh, 0, m.NumSubMeshes)
	for i := uint32(0); i < m.NumSubMeshes; i++ {
		var s SubMesh
		if s.NumIndices, err = br.ReadUint32(); err != nil {
			return m, err
		}
		if s.NumVerts, err = br.ReadUint32(); err != nil {
			return m, err
		}
		if s.MaterialIndex, err = br.ReadUint32(); err != nil {
			return m, err
		}
		if s.NumBones, err = br.ReadUint32(); err != nil {
			return m, err
		}
		if s.Indices, err = readUint32List(br, s.NumIndices); err != nil {
			return m, err
		}
		if s.Bones, err = readUint32List(br, s.NumBones); err != nil {
			return m, err
		}
		m.SubMeshes = append(m.SubMeshes, s)
	}
	return m, nil
}

func readSkinningInfo(br *binread.Reader, ch ChunkHeader) (SkinningInfo, error) {
	s := SkinningInfo{Version: ch.Version}
	start, err := br.Position()
	if err != nil {
		return s, err
	}
	if s.NodeIndex, err = br.ReadUint32(); err != nil {
		return s, err
	}
	if ch.Version == 4 {
		if s.LOD, err = br.ReadUint32(); err != nil {
			return s, err
		}
	}
	if ch.Version >= 3 {
		if s.NumLocalBones, err = br.ReadUint32(); err != nil {
			return s, err
		}
	}

	if ch.Version == 1 {
		// Per-vertex influence lists, converted into the flat array plus
		// range table layout of the later versions.
		if s.IsForCollisionMesh, err = readBool(br); err != nil {
			return s, err
		}
		if err = skip(br, 3); err != nil {
			return s, err
		}
		for {
			pos, err := br.Position()
			if err != nil {
				return s, err
			}
			if pos-start >= int64(ch.Size) {
				break
			}
			count, err := br.ReadUint8()
			if err != nil {
				return s, err
			}
			rng := SkinRange{StartIndex: uint32(len(s.Influences)), NumElements: uint32(count)}
			for j := uint8(0); j < count; j++ {
				inf, err := readSkinInfluence(br)
				if err != nil {
					return s, err
				}
				s.Influences = append(s.Influences, inf)
			}
			s.Table = append(s.Table, rng)
		}
		s.NumTotalInfluences = uint32(len(s.Influences))
		return s, nil
	}

	if s.NumTotalInfluences, err = br.ReadUint32(); err != nil {
		return s, err
	}
	if s.IsForCollisionMesh, err = readBool(br); err != nil {
		return s, err
	}
	if err = skip(br, 3); err != nil {
		return s, err
	}
	s.Influences = make([]SkinInfluence, 0, s.NumTotalInfluences)
	for i := uint32(0); i < s.NumTotalInfluences; i++ {
		inf, err := readSkinInfluence(br)
		if err != nil {
			return s, err
		}
		s.Influences = append(s.Influences, inf)
	}

	// The remainder of the chunk is the per-vertex (start, count) table;
	// its length is the mesh's original vertex count.
	pos, err := br.Position()
	if err != nil {
		return s, err
	}
	remaining := int64(ch.Size) - (pos - start)
	for remaining >= 8 {
		var r SkinRange
		if r.StartIndex, err = br.ReadUint32(); err != nil {
			return s, err
		}
		if r.NumElements, err = br.ReadUint32(); err != nil {
			return s, err
		}
		s.Table = append(s.Table, r)
		remaining -= 8
	}
	return s, nil
}

func readSkinInfluence(br *binread.Reader) (SkinInfluence, error) {
	var inf SkinInfluence
	var err error
	if inf.Weight, err = br.ReadFloat32(); err != nil {
		return inf, err
	}
	inf.NodeNumber, err = br.ReadUint32()
	return inf, err
}

func readStandardMaterial(br *binread.Reader, version uint32) (StandardMaterial, error) {
	m := StandardMaterial{Version: version}
	var err error
	if version == 3 {
		if m.LOD, err = br.ReadUint32(); err != nil {
			return m, err
		}
	}
	if m.Ambient, err = readColor(br); err != nil {
		return m, err
	}
	if m.Diffuse, err = readColor(br); err != nil {
		return m, err
	}
	if m.Specular, err = readColor(br); err != nil {
		return m, err
	}
	if m.Emissive, err = readColor(br); err != nil {
		return m, err
	}
	if m.Shine, err = br.ReadFloat32(); err != nil {
		return m, err
	}
	if m.ShineStrength, err = br.ReadFloat32(); err != nil {
		return m, err
	}
	if m.Opacity, err = br.ReadFloat32(); err != nil {
		return m, err
	}
	if m.IOR, err = br.ReadFloat32(); err != nil {
		return m, err
	}
	if m.DoubleSided, err = readBool(br); err != nil {
		return m, err
	}
	if m.Wireframe, err = readBool(br); err != nil {
		return m, err
	}
	if m.TransparencyType, err = br.ReadUint8(); err != nil {
		return m, err
	}
	numLayers, err := br.ReadUint8() // padding byte in v1
	if err != nil {
		return m, err
	}
	if m.Name, err = readLenString(br); err != nil {
		return m, err
	}
	if version >= 2 {
		for i := uint8(0); i < numLayers; i++ {
			l, err := readMaterialLayer(br, 2)
			if err != nil {
				return m, err
			}
			m.Layers = append(m.Layers, l)
		}
	}
	return m, nil
}

func readMaterialLayer(br *binread.Reader, version uint32) (MaterialLayer, error) {
	var l MaterialLayer
	var err error
	readF := func(dst *float32) {
		if err == nil {
			*dst, err = br.ReadFloat32()
		}
	}
	readF(&l.Amount)
	readF(&l.UOffset)
	readF(&l.VOffset)
	readF(&l.UTiling)
	readF(&l.VTiling)
	readF(&l.RotationRadians)
	if err != nil {
		return l, err
	}
	if l.MaterialNumber, err = br.ReadUint16(); err != nil {
		return l, err
	}
	if l.MapType, err = br.ReadUint8(); err != nil {
		return l, err
	}
	// v1 carries an alignment byte where v2 stores the blend mode.
	b, err := br.ReadUint8()
	if err != nil {
		return l, err
	}
	if version >= 2 {
		l.BlendMode = b
	}
	l.Texture, err = readLenString(br)
	return l, err
}

func readFXMaterial(br *binread.Reader, version uint32) (FXMaterial, error) {
	m := FXMaterial{Version: version}
	var err error
	read32 := func(dst *uint32) {
		if err == nil {
			*dst, err = br.ReadUint32()
		}
	}

	var numInt, numFloat, numColor, numBool, numVector3, numBitmap uint32
	if version == 3 {
		read32(&m.LOD)
	}
	read32(&numInt)
	read32(&numFloat)
	read32(&numColor)
	if version >= 2 {
		read32(&numBool)
		read32(&numVector3)
	}
	read32(&numBitmap)
	if err != nil {
		return m, err
	}

	if m.Name, err = readLenString(br); err != nil {
		return m, err
	}
	if m.EffectFile, err = readLenString(br); err != nil {
		return m, err
	}
	if m.ShaderTechnique, err = readLenString(br); err != nil {
		return m, err
	}

	for i := uint32(0); i < numInt; i++ {
		var p FXIntParameter
		v, err := br.ReadUint32()
		if err != nil {
			return m, err
		}
		p.Value = int32(v)
		if p.Name, err = readLenString(br); err != nil {
			return m, err
		}
		m.IntParams = append(m.IntParams, p)
	}
	for i := uint32(0); i < numFloat; i++ {
		var p FXFloatParameter
		if p.Value, err = br.ReadFloat32(); err != nil {
			return m, err
		}
		if p.Name, err = readLenString(br); err != nil {
			return m, err
		}
		m.FloatParams = append(m.FloatParams, p)
	}
	for i := uint32(0); i < numColor; i++ {
		var p FXColorParameter
		if p.Value, err = readColor(br); err != nil {
			return m, err
		}
		if p.Name, err = readLenString(br); err != nil {
			return m, err
		}
		m.ColorParams = append(m.ColorParams, p)
	}
	for i := uint32(0); i < numBool; i++ {
		var p FXBoolParameter
		if p.Value, err = readBool(br); err != nil {
			return m, err
		}
		if p.Name, err = readLenString(br); err != nil {
			return m, err
		}
		m.BoolParams = append(m.BoolParams, p)
	}
	for i := uint32(0); i < numVector3; i++ {
		var p FXVector3Parameter
		if p.Value, err = readVector3(br); err != nil {
			return m, err
		}
		if p.Name, err = readLenString(br); err != nil {
			return m, err
		}
		m.Vector3Params = append(m.Vector3Params, p)
	}
	for i := uint32(0); i < numBitmap; i++ {
		var p FXBitmapParameter
		if p.Name, err = readLenString(br); err != nil {
			return m, err
		}
		if p.Value, err = readLenString(br); err != nil {
			return m, err
		}
		m.BitmapParams = append(m.BitmapParams, p)
	}
	return m, nil
}

func readTransformLimit(br *binread.Reader) (TransformLimit, error) {
	var l TransformLimit
	var err error
	readVec := func(dst *Vector3) {
		if err == nil {
			*dst, err = readVector3(br)
		}
	}
	readVec(&l.TranslationMin)
	readVec(&l.TranslationMax)
	readVec(&l.RotationMin)
	readVec(&l.RotationMax)
	readVec(&l.ScaleMin)
	readVec(&l.ScaleMax)
	if err != nil {
		return l, err
	}
	if err = br.ReadFull(l.LimitFlags[:]); err != nil {
		return l, err
	}
	l.NodeNumber, err = br.ReadUint32()
	return l, err
}

func readMeshLODLevel(br *binread.Reader) (MeshLODLevel, error) {
	var l MeshLODLevel
	var err error
	if l.LODLevel, err = br.ReadUint32(); err != nil {
		return l, err
	}
	size, err := br.ReadUint32()
	if err != nil {
		return l, err
	}
	l.Model, err = br.ReadBytes(int(size))
	return l, err
}

func readMorphTarget(br *binread.Reader) (MorphTarget, error) {
	var t MorphTarget
	var err error
	if t.RangeMin, err = br.ReadFloat32(); err != nil {
		return t, err
	}
	if t.RangeMax, err = br.ReadFloat32(); err != nil {
		return t, err
	}
	if t.LOD, err = br.ReadUint32(); err != nil {
		return t, err
	}
	if t.NumMeshDeformDeltas, err = br.ReadUint32(); err != nil {
		return t, err
	}
	if t.NumTransformations, err = br.ReadUint32(); err != nil {
		return t, err
	}
	if t.PhonemeSets, err = br.ReadUint32(); err != nil {
		return t, err
	}
	if t.Name, err = readLenString(br); err != nil {
		return t, err
	}

	for i := uint32(0); i < t.NumMeshDeformDeltas; i++ {
		var d MorphTargetMeshDeltas
		if d.NodeIndex, err = br.ReadUint32(); err != nil {
			return t, err
		}
		if d.MinValue, err = br.ReadFloat32(); err != nil {
			return t, err
		}
		if d.MaxValue, err = br.ReadFloat32(); err != nil {
			return t, err
		}
		if d.NumVertices, err = br.ReadUint32(); err != nil {
			return t, err
		}
		for j := uint32(0); j < d.NumVertices; j++ {
			v, err := readVector3U16(br)
			if err != nil {
				return t, err
			}
			d.PositionDeltas = append(d.PositionDeltas, v)
		}
		for j := uint32(0); j < d.NumVertices; j++ {
			v, err := readVector3U8(br)
			if err != nil {
				return t, err
			}
			d.NormalDeltas = append(d.NormalDeltas, v)
		}
		for j := uint32(0); j < d.NumVertices; j++ {
			v, err := readVector3U8(br)
			if err != nil {
				return t, err
			}
			d.TangentDeltas = append(d.TangentDeltas, v)
		}
		if d.VertexNumbers, err = readUint32List(br, d.NumVertices); err != nil {
			return t, err
		}
		t.MeshDeltas = append(t.MeshDeltas, d)
	}

	for i := uint32(0); i < t.NumTransformations; i++ {
		var tr MorphTargetTransform
		if tr.NodeIndex, err = br.ReadUint32(); err != nil {
			return t, err
		}
		if tr.Rotation, err = readQuaternion(br); err != nil {
			return t, err
		}
		if tr.ScaleRotation, err = readQuaternion(br); err != nil {
			return t, err
		}
		if tr.Position, err = readVector3(br); err != nil {
			return t, err
		}
		if tr.Scale, err = readVector3(br); err != nil {
			return t, err
		}
		t.Transforms = append(t.Transforms, tr)
	}
	return t, nil
}

func (a *Actor) readMorphTargets(br *binread.Reader) error {
	num, err := br.ReadUint32()
	if err != nil {
		return err
	}
	if _, err := br.ReadUint32(); err != nil { // container LOD
		return err
	}
	for i := uint32(0); i < num; i++ {
		t, err := readMorphTarget(br)
		if err != nil {
			return err
		}
		a.MorphTargets = append(a.MorphTargets, t)
	}
	return nil
}

func readNodeGroup(br *binread.Reader) (NodeGroup, error) {
	var g NodeGroup
	numNodes, err := br.ReadUint16()
	if err != nil {
		return g, err
	}
	if g.DisabledOnDefault, err = readBool(br); err != nil {
		return g, err
	}
	if g.Name, err = readLenString(br); err != nil {
		return g, err
	}
	g.Nodes = make([]uint16, 0, numNodes)
	for i := uint16(0); i < numNodes; i++ {
		v, err := br.ReadUint16()
		if err != nil {
			return g, err
		}
		g.Nodes = append(g.Nodes, v)
	}
	return g, nil
}

func readMaterialInfo(br *binread.Reader, version uint32) (MaterialInfo, error) {
	mi := MaterialInfo{Version: version}
	var err error
	if version == 2 {
		if mi.LOD, err = br.ReadUint32(); err != nil {
			return mi, err
		}
	}
	if mi.NumTotalMaterials, err = br.ReadUint32(); err != nil {
		return mi, err
	}
	if mi.NumStandardMaterials, err = br.ReadUint32(); err != nil {
		return mi, err
	}
	mi.NumFXMaterials, err = br.ReadUint32()
	return mi, err
}

func readUint16List(br *binread.Reader) ([]uint16, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]uint16, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := br.ReadUint16()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func readUint32List(br *binread.Reader, n uint32) ([]uint32, error) {
	out := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := br.ReadUint32()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
