// Copyright 2023 the Vello Authors
// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"
	"unsafe"

	"honnef.co/go/visbuf/encoding"
	"honnef.co/go/visbuf/mem"
	"honnef.co/go/visbuf/vmath"
)

type WorkgroupSize [3]uint32

// ConfigUniform contains uniform render configuration data used by all GPU
// stages.
//
// This data structure must be kept in sync with the definition in
// `shaders/src/shared/config.wgsl`.
type ConfigUniform struct {
	_ structs.HostLayout

	// Combined view-projection transform, applied after each instance's
	// world transform.
	Camera vmath.Mat4
	// Width of the target in pixels.
	TargetWidth uint32
	// Height of the target in pixels.
	TargetHeight uint32
	// Number of visible cluster references.
	NumVisible uint32
	// Size of the triangle soup allocation (in [SoupTriangle]s).
	SoupSize uint32
	// Layout of packed geometry data.
	Layout GeometryLayout
}

// GeometryLayout locates the geometry streams within the packed geometry
// buffer. Offsets are in u32 words.
type GeometryLayout struct {
	_ structs.HostLayout

	// Number of clusters.
	NumClusters uint32
	// Number of instances.
	NumInstances uint32
	// Start of the cluster descriptor stream.
	ClusterBase uint32
	// Start of the vertex position stream.
	PositionBase uint32
	// Start of the packed triangle stream.
	TriangleBase uint32
	// Start of the instance stream.
	InstanceBase uint32
	_            uint32 // padding
	_            uint32 // padding
}

type RenderConfig struct {
	gpu             ConfigUniform
	workgroupCounts WorkgroupCounts
	bufferSizes     BufferSizes
}

func NewRenderConfig(arena *mem.Arena, layout *GeometryLayout, numVisible uint32, params *RenderParams) *RenderConfig {
	soupSize := params.SoupCapacity
	if soupSize == 0 {
		// Every visible cluster emits at most MaxClusterTriangles
		// primitives, so this bound can never overflow. Callers cap it via
		// SoupCapacity to trade memory for the failure path.
		soupSize = numVisible * encoding.MaxClusterTriangles
	}
	workgroupCounts := NewWorkgroupCounts(numVisible)
	bufferSizes := NewBufferSizes(numVisible, soupSize, params.Width, params.Height)
	out := mem.New[RenderConfig](arena)
	*out = RenderConfig{
		gpu: ConfigUniform{
			Camera:       params.Camera,
			TargetWidth:  params.Width,
			TargetHeight: params.Height,
			NumVisible:   numVisible,
			SoupSize:     soupSize,
			Layout:       *layout,
		},
		workgroupCounts: workgroupCounts,
		bufferSizes:     bufferSizes,
	}
	return out
}

func NewBufferSizes(numVisible, soupSize, width, height uint32) BufferSizes {
	return BufferSizes{
		VisibleClusters: NewBufferSize[VisibleCluster](numVisible),
		BumpAlloc:       NewBufferSize[BumpAllocators](1),
		IndirectCount:   NewBufferSize[IndirectCount](1),
		DrawArgs:        NewBufferSize[DrawIndirectArgs](1),
		Soup:            NewBufferSize[SoupTriangle](soupSize),
		Visibility:      NewBufferSize[uint64](width * height),
	}
}

func NewWorkgroupCounts(numVisible uint32) WorkgroupCounts {
	return WorkgroupCounts{
		// One workgroup per visible cluster reference.
		ClusterExpand: [3]uint32{numVisible, 1, 1},
		RasterSetup:   [3]uint32{1, 1, 1},
	}
}

// Workgroup sizes of the compute stages. These must be kept in sync with
// the workgroup_size attributes in the shaders.
const clusterExpandWg = 128
const rasterFineWg = 256

type BufferSizes struct {
	// Known size buffers
	VisibleClusters BufferSize[VisibleCluster]
	BumpAlloc       BufferSize[BumpAllocators]
	IndirectCount   BufferSize[IndirectCount]
	DrawArgs        BufferSize[DrawIndirectArgs]
	Visibility      BufferSize[uint64]
	// Bump allocated buffers
	Soup BufferSize[SoupTriangle]
}

type WorkgroupCounts struct {
	ClusterExpand WorkgroupSize
	RasterSetup   WorkgroupSize
	// Note `rasterFine` must use an indirect dispatch, and the hardware
	// strategy's draw an indirect draw.
}

// BumpAllocators mirrors the GPU-side bump allocator state. The expansion
// stage reserves soup space here; the setup stage turns the final count
// into indirect dispatch and draw arguments.
//
// This data structure must be kept in sync with the definition in
// `shaders/src/shared/bump.wgsl`.
type BumpAllocators struct {
	_ structs.HostLayout

	// Bitmask of stages whose allocation failed.
	Failed uint32
	// Number of triangles written to the soup.
	Triangles uint32
}

// Failure bits in [BumpAllocators].Failed.
const (
	StageClusterExpand = 0x1
)

type BufferSize[T any] uint32

func NewBufferSize[T any](x uint32) BufferSize[T] {
	return BufferSize[T](max(x, 1))
}

func (s BufferSize[T]) sizeInBytes() uint32 {
	return uint32(s) * uint32(unsafe.Sizeof(*new(T)))
}

// IndirectCount stores indirect dispatch size values.
//
// The original plan was to reuse [BumpAllocators], but the WebGPU
// compatible usage list rules forbid that being used as indirect counts
// while also bound as writable.
type IndirectCount struct {
	_ structs.HostLayout

	X uint32
	Y uint32
	Z uint32
	_ uint32 // padding
}

// DrawIndirectArgs stores indirect draw arguments for the hardware
// strategy's vertex-pulling draw: three vertices per soup triangle, one
// instance.
type DrawIndirectArgs struct {
	_ structs.HostLayout

	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}
