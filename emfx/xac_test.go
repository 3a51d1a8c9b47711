// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package emfx

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestActorHeaderValidation(t *testing.T) {
	w := fileHeader([4]byte{'X', 'X', 'X', 'X'})
	if _, err := ParseActor(w.Bytes()); err != ErrBadFourCC {
		t.Fatalf("wrong fourcc: got %v, want ErrBadFourCC", err)
	}

	w = &fixWriter{}
	w.Write(FourCCActor[:])
	w.u8(1)
	w.u8(0)
	w.u8(1) // big endian flag
	w.u8(0)
	if _, err := ParseActor(w.Bytes()); err != ErrBigEndian {
		t.Fatalf("big endian: got %v, want ErrBigEndian", err)
	}
}

func TestEmptyActor(t *testing.T) {
	a, err := ParseActor(fileHeader(FourCCActor).Bytes())
	if err != nil {
		t.Fatalf("ParseActor: %v", err)
	}
	if len(a.Nodes) != 0 || a.Info != nil {
		t.Fatalf("empty actor decoded content: %+v", a)
	}
}

// materialInfoPayload is the 12-byte v1 material info body.
func materialInfoPayload(total, std, fx uint32) []byte {
	p := &fixWriter{}
	p.u32(total)
	p.u32(std)
	p.u32(fx)
	return p.Bytes()
}

func TestChunkResync(t *testing.T) {
	// The material info chunk declares 16 bytes but its decoder consumes
	// only 12; the loop must still land on the next chunk.
	w := fileHeader(FourCCActor)
	payload := append(materialInfoPayload(3, 2, 1), 0xDE, 0xAD, 0xBE, 0xEF)
	w.chunk(XACChunkMaterialInfo, 1, payload)

	next := &fixWriter{}
	next.u32(2)
	next.u16(3)
	next.u16(5)
	w.chunk(XACChunkNodeMotionSources, 1, next.Bytes())

	a, err := ParseActor(w.Bytes())
	if err != nil {
		t.Fatalf("ParseActor: %v", err)
	}
	if a.MaterialInfo == nil || a.MaterialInfo.NumTotalMaterials != 3 {
		t.Fatalf("material info = %+v", a.MaterialInfo)
	}
	if diff := cmp.Diff([]uint16{3, 5}, a.NodeMotionSources); diff != "" {
		t.Fatalf("node motion sources after resync (-want +got):\n%s", diff)
	}
}

func TestChunkOverrun(t *testing.T) {
	// Declared size 8, but the v1 decoder needs 12 bytes.
	w := fileHeader(FourCCActor)
	w.chunkSized(XACChunkMaterialInfo, 1, 8, materialInfoPayload(3, 2, 1))
	if _, err := ParseActor(w.Bytes()); err != ErrChunkOverrun {
		t.Fatalf("overrun: got %v, want ErrChunkOverrun", err)
	}
}

func nodePayload(version uint32, name string) []byte {
	p := &fixWriter{}
	p.quat(0, 0, 0, 1) // local quat
	p.quat(0, 0, 0, 1) // scale rot
	p.vec3(1, 2, 3)    // local pos
	p.vec3(1, 1, 1)    // local scale
	p.vec3(0, 0, 0)    // shear
	p.u32(0xFFFFFFFF)  // skeletal lods
	if version == 4 {
		p.u32(0xFFFFFFFF) // motion lods
	}
	p.u32(7) // parent index
	if version == 4 {
		p.u32(0) // num children
	}
	if version >= 2 {
		p.u8(1) // flags
	}
	if version >= 3 {
		for i := 0; i < 16; i++ {
			p.f32(0)
		}
	}
	if version == 4 {
		p.f32(1) // importance factor
	}
	if version >= 2 {
		p.u8(0)
		p.u8(0)
		p.u8(0)
	}
	p.str(name)
	return p.Bytes()
}

func TestNodeChunkVersions(t *testing.T) {
	for _, version := range []uint32{1, 2, 3, 4} {
		w := fileHeader(FourCCActor)
		w.chunk(XACChunkNode, version, nodePayload(version, "bone_l_hand"))
		a, err := ParseActor(w.Bytes())
		if err != nil {
			t.Fatalf("v%d: ParseActor: %v", version, err)
		}
		if len(a.Nodes) != 1 {
			t.Fatalf("v%d: %d nodes", version, len(a.Nodes))
		}
		n := a.Nodes[0]
		if n.Name != "bone_l_hand" || n.ParentIndex != 7 {
			t.Fatalf("v%d: node = %+v", version, n)
		}
		if n.LocalPos != (Vector3{1, 2, 3}) {
			t.Fatalf("v%d: local pos = %+v", version, n.LocalPos)
		}
	}
}

func TestNodesChunk(t *testing.T) {
	w := fileHeader(FourCCActor)
	p := &fixWriter{}
	p.u32(2) // num nodes
	p.u32(1) // num root nodes
	p.Write(nodePayload(4, "root"))
	p.Write(nodePayload(4, "child"))
	w.chunk(XACChunkNodes, 1, p.Bytes())

	a, err := ParseActor(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Nodes) != 2 || a.NumRootNodes != 1 {
		t.Fatalf("nodes = %d, roots = %d", len(a.Nodes), a.NumRootNodes)
	}
	if a.Nodes[1].Name != "child" {
		t.Fatalf("second node = %q", a.Nodes[1].Name)
	}
}

func meshPayload(t *testing.T) []byte {
	p := &fixWriter{}
	p.u32(4) // node index
	p.u32(2) // num org verts
	p.u32(2) // total verts
	p.u32(3) // total indices
	p.u32(1) // num sub meshes
	p.u32(1) // num layers
	p.u8(0)  // not a collision mesh
	p.u8(0)
	p.u8(0)
	p.u8(0)

	// One position layer, 12 bytes per vertex.
	p.u32(AttribPositions)
	p.u32(12)
	p.u8(1) // enable deformations
	p.u8(0) // is scale
	p.u8(0)
	p.u8(0)
	p.vec3(0, 0, 0)
	p.vec3(1, 1, 1)

	// One submesh: 3 indices, 2 verts, material 0, 1 bone.
	p.u32(3)
	p.u32(2)
	p.u32(0)
	p.u32(1)
	p.u32(0)
	p.u32(1)
	p.u32(2)
	p.u32(9) // bone
	return p.Bytes()
}

func TestMeshChunk(t *testing.T) {
	w := fileHeader(FourCCActor)
	w.chunk(XACChunkMesh, 1, meshPayload(t))
	a, err := ParseActor(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Meshes) != 1 {
		t.Fatalf("%d meshes", len(a.Meshes))
	}
	m := a.Meshes[0]
	if m.NodeIndex != 4 || m.TotalVerts != 2 || len(m.Layers) != 1 || len(m.SubMeshes) != 1 {
		t.Fatalf("mesh = %+v", m)
	}
	if got := len(m.Layers[0].Data); got != 24 {
		t.Fatalf("layer bytes = %d, want 24", got)
	}
	if diff := cmp.Diff([]uint32{0, 1, 2}, m.SubMeshes[0].Indices); diff != "" {
		t.Fatalf("indices (-want +got):\n%s", diff)
	}
	if stride := AttributeStride(m.Layers[0].LayerTypeID); stride != 12 {
		t.Fatalf("position stride = %d", stride)
	}
}

func TestSkinningInfoFlat(t *testing.T) {
	// Version 2: flat influence array plus a per-vertex range table.
	p := &fixWriter{}
	p.u32(4) // node index
	p.u32(3) // total influences
	p.u8(0)  // not collision
	p.u8(0)
	p.u8(0)
	p.u8(0)
	p.f32(0.75)
	p.u32(1)
	p.f32(0.25)
	p.u32(2)
	p.f32(1.0)
	p.u32(3)
	// Table for two original vertices.
	p.u32(0)
	p.u32(2)
	p.u32(2)
	p.u32(1)

	w := fileHeader(FourCCActor)
	w.chunk(XACChunkSkinningInfo, 2, p.Bytes())
	a, err := ParseActor(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(a.SkinningInfos) != 1 {
		t.Fatalf("%d skinning infos", len(a.SkinningInfos))
	}
	s := a.SkinningInfos[0]
	if s.NumTotalInfluences != 3 || len(s.Influences) != 3 {
		t.Fatalf("influences = %+v", s)
	}
	want := []SkinRange{{0, 2}, {2, 1}}
	if diff := cmp.Diff(want, s.Table); diff != "" {
		t.Fatalf("table (-want +got):\n%s", diff)
	}
}

func TestSkinningInfoV1Normalized(t *testing.T) {
	// Version 1 stores per-vertex lists; the decoder must normalize them
	// into the flat array plus range table form.
	p := &fixWriter{}
	p.u32(4) // node index
	p.u8(0)  // not collision
	p.u8(0)
	p.u8(0)
	p.u8(0)
	p.u8(2) // vertex 0: two influences
	p.f32(0.5)
	p.u32(1)
	p.f32(0.5)
	p.u32(2)
	p.u8(1) // vertex 1: one influence
	p.f32(1.0)
	p.u32(3)

	w := fileHeader(FourCCActor)
	w.chunk(XACChunkSkinningInfo, 1, p.Bytes())
	a, err := ParseActor(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	s := a.SkinningInfos[0]
	if s.NumTotalInfluences != 3 {
		t.Fatalf("total influences = %d", s.NumTotalInfluences)
	}
	want := []SkinRange{{0, 2}, {2, 1}}
	if diff := cmp.Diff(want, s.Table); diff != "" {
		t.Fatalf("normalized table (-want +got):\n%s", diff)
	}
	if s.Influences[2].NodeNumber != 3 {
		t.Fatalf("influences = %+v", s.Influences)
	}
}

func TestStandardMaterialWithLayers(t *testing.T) {
	p := &fixWriter{}
	for i := 0; i < 4; i++ { // ambient, diffuse, specular, emissive
		p.quat(0.1, 0.2, 0.3, 1)
	}
	p.f32(0.5)  // shine
	p.f32(1.0)  // shine strength
	p.f32(1.0)  // opacity
	p.f32(1.5)  // ior
	p.u8(1)     // double sided
	p.u8(0)     // wireframe
	p.u8('F')   // transparency type
	p.u8(1)     // one layer
	p.str("body_mat")
	// Embedded v2 layer.
	p.f32(1)
	p.f32(0)
	p.f32(0)
	p.f32(1)
	p.f32(1)
	p.f32(0)
	p.u16(0)
	p.u8(2) // diffuse map
	p.u8(0) // blend mode
	p.str("body_diff.dds")

	w := fileHeader(FourCCActor)
	w.chunk(XACChunkStdMaterial, 2, p.Bytes())
	a, err := ParseActor(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(a.StandardMaterials) != 1 {
		t.Fatalf("%d materials", len(a.StandardMaterials))
	}
	m := a.StandardMaterials[0]
	if m.Name != "body_mat" || !m.DoubleSided || len(m.Layers) != 1 {
		t.Fatalf("material = %+v", m)
	}
	if m.Layers[0].Texture != "body_diff.dds" {
		t.Fatalf("layer = %+v", m.Layers[0])
	}
}

func TestUnknownChunkPreserved(t *testing.T) {
	w := fileHeader(FourCCActor)
	w.chunk(999, 1, []byte{1, 2, 3, 4})
	a, err := ParseActor(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Unknown) != 1 || a.Unknown[0].Header.ID != 999 || len(a.Unknown[0].Data) != 4 {
		t.Fatalf("unknown chunks = %+v", a.Unknown)
	}
}

func TestAttributeStride(t *testing.T) {
	tests := []struct {
		id   uint32
		want int
	}{
		{AttribPositions, 12},
		{AttribNormals, 12},
		{AttribTangents, 16},
		{AttribUVCoords, 8},
		{AttribColors32, 4},
		{AttribOriginalVertexNumbers, 4},
		{AttribColors128, 16},
		{AttribBitangents, 12},
		{42, 0},
	}
	for _, tt := range tests {
		if got := AttributeStride(tt.id); got != tt.want {
			t.Errorf("AttributeStride(%d) = %d, want %d", tt.id, got, tt.want)
		}
	}
}
