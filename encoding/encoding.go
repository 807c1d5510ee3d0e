// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package encoding builds the packed geometry streams consumed by the
// visibility pipeline: vertex positions, triangles with cluster-local
// indices, cluster descriptors and instances. A Resolver in the renderer
// package lays the streams out in a single GPU buffer.
package encoding

import (
	"structs"

	"honnef.co/go/visbuf/vmath"
)

// A PackedTriangle stores three cluster-local vertex indices in the low
// three bytes, index 0 in the lowest. Local indices fit in a byte because
// clusters hold at most MaxClusterVertices vertices.
type PackedTriangle uint32

func NewPackedTriangle(i0, i1, i2 uint8) PackedTriangle {
	return PackedTriangle(uint32(i0) | uint32(i1)<<8 | uint32(i2)<<16)
}

func (t PackedTriangle) Indices() (uint8, uint8, uint8) {
	return uint8(t), uint8(t >> 8), uint8(t >> 16)
}

// A Cluster describes one cluster's slice of the position and triangle
// streams. It is written verbatim into the geometry buffer and must be
// kept in sync with the definition in shaders/src/shared/geometry.wgsl.
type Cluster struct {
	_ structs.HostLayout

	// Index of the cluster's first vertex in the position stream.
	FirstVertex uint32
	// Number of vertices, at most MaxClusterVertices.
	VertexCount uint32
	// Index of the cluster's first triangle in the triangle stream.
	FirstTriangle uint32
	// Number of triangles, at most MaxClusterTriangles.
	TriangleCount uint32
}

// An Instance places a mesh's clusters in the world. Written verbatim into
// the geometry buffer; must be kept in sync with
// shaders/src/shared/geometry.wgsl. The expansion stage only reads World;
// the cluster range is what visible-set builders enumerate.
type Instance struct {
	_ structs.HostLayout

	World        vmath.Mat4
	FirstCluster uint32
	ClusterCount uint32
	_            uint32 // padding
	_            uint32 // padding
}

// A Mesh identifies a contiguous range of clusters produced by EncodeMesh
// or EncodeCluster calls.
type Mesh struct {
	FirstCluster uint32
	ClusterCount uint32
}

// A Position is a vertex position in object space.
type Position struct {
	_ structs.HostLayout

	X, Y, Z float32
}

type Encoding struct {
	Positions []Position
	Triangles []PackedTriangle
	Clusters  []Cluster
	Instances []Instance
}

func (enc *Encoding) Reset() {
	enc.Positions = enc.Positions[:0]
	enc.Triangles = enc.Triangles[:0]
	enc.Clusters = enc.Clusters[:0]
	enc.Instances = enc.Instances[:0]
}

func (enc *Encoding) IsEmpty() bool {
	return len(enc.Clusters) == 0
}

// EncodeInstance appends an instance of a mesh with the given world
// transform.
func (enc *Encoding) EncodeInstance(mesh Mesh, world vmath.Mat4) {
	enc.Instances = append(enc.Instances, Instance{
		World:        world,
		FirstCluster: mesh.FirstCluster,
		ClusterCount: mesh.ClusterCount,
	})
}

// Append concatenates other onto enc, rewriting stream offsets so the
// appended clusters and instances keep referring to their own data.
func (enc *Encoding) Append(other *Encoding) {
	positionBase := uint32(len(enc.Positions))
	triangleBase := uint32(len(enc.Triangles))
	clusterBase := uint32(len(enc.Clusters))

	enc.Positions = append(enc.Positions, other.Positions...)
	enc.Triangles = append(enc.Triangles, other.Triangles...)
	for _, c := range other.Clusters {
		c.FirstVertex += positionBase
		c.FirstTriangle += triangleBase
		enc.Clusters = append(enc.Clusters, c)
	}
	for _, inst := range other.Instances {
		inst.FirstCluster += clusterBase
		enc.Instances = append(enc.Instances, inst)
	}
}

func (enc *Encoding) appendCluster(positions []Position, tris []PackedTriangle) {
	enc.Clusters = append(enc.Clusters, Cluster{
		FirstVertex:   uint32(len(enc.Positions)),
		VertexCount:   uint32(len(positions)),
		FirstTriangle: uint32(len(enc.Triangles)),
		TriangleCount: uint32(len(tris)),
	})
	enc.Positions = append(enc.Positions, positions...)
	enc.Triangles = append(enc.Triangles, tris...)
}
