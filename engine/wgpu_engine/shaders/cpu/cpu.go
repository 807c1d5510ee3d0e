// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package cpu provides CPU implementations of the pipeline's shaders.
//
// These stages intentionally replicate the GPU shaders as serial loops
// instead of using more CPU-friendly alternatives. They're a debug tool,
// not a viable fallback.
package cpu

import (
	"fmt"
	"math"
	"unsafe"

	"honnef.co/go/safeish"
	"honnef.co/go/visbuf/encoding"
	"honnef.co/go/visbuf/renderer"
	"honnef.co/go/visbuf/vmath"
)

// WG_SIZE is the workgroup size of the fine rasterizer.
const WG_SIZE = 256

func assert(b bool) {
	if !b {
		panic("failed assert")
	}
}

type CPUBinding interface {
	// One of CPUBuffer, CPUTexture
}

type CPUBuffer []byte

// CPUTexture stands in for the hardware strategy's rg32uint target, one
// visibility word per pixel in row-major order.
type CPUTexture struct {
	Width  int
	Height int
	Pixels []uint64
}

// XXX move this into safeish
func fromBytes[E any, T *E](b []byte) T {
	if uintptr(len(b)) < unsafe.Sizeof(*new(E)) {
		panic(fmt.Sprintf(
			"buffer of size %d cannot represent object of size %d", len(b), unsafe.Sizeof(*new(E))))
	}

	return safeish.Cast[T](&b[0])
}

func readCluster(geometry []uint32, layout *renderer.GeometryLayout, ix uint32) encoding.Cluster {
	base := layout.ClusterBase + ix*4
	return encoding.Cluster{
		FirstVertex:   geometry[base],
		VertexCount:   geometry[base+1],
		FirstTriangle: geometry[base+2],
		TriangleCount: geometry[base+3],
	}
}

func readWorld(geometry []uint32, layout *renderer.GeometryLayout, ix uint32) vmath.Mat4 {
	base := layout.InstanceBase + ix*20
	var m vmath.Mat4
	for i := range m.Cols {
		m.Cols[i] = math.Float32frombits(geometry[base+uint32(i)])
	}
	return m
}

func readPosition(geometry []uint32, layout *renderer.GeometryLayout, ix uint32) vmath.Vec3 {
	base := layout.PositionBase + ix*3
	return vmath.Vec3{
		X: math.Float32frombits(geometry[base]),
		Y: math.Float32frombits(geometry[base+1]),
		Z: math.Float32frombits(geometry[base+2]),
	}
}

func ClusterExpand(_ uint32, resources []CPUBinding) {
	config := fromBytes[renderer.ConfigUniform](resources[0].(CPUBuffer))
	geometry := safeish.SliceCast[[]uint32](resources[1].(CPUBuffer))
	visible := safeish.SliceCast[[]renderer.VisibleCluster](resources[2].(CPUBuffer))
	bump := fromBytes[renderer.BumpAllocators](resources[3].(CPUBuffer))
	soup := safeish.SliceCast[[]renderer.SoupTriangle](resources[4].(CPUBuffer))

	var clip [encoding.MaxClusterVertices]vmath.Vec4
	for vis_ix := range config.NumVisible {
		vis := visible[vis_ix]
		cluster := readCluster(geometry, &config.Layout, vis.Cluster)
		mvp := config.Camera.Mul(readWorld(geometry, &config.Layout, vis.Instance))
		for i := range cluster.VertexCount {
			clip[i] = mvp.MulPoint(readPosition(geometry, &config.Layout, cluster.FirstVertex+i))
		}

		// The counter keeps the attempted total even on overflow, so
		// callers know what capacity a retry needs.
		base := bump.Triangles
		bump.Triangles += cluster.TriangleCount
		if base+cluster.TriangleCount > config.SoupSize {
			bump.Failed |= renderer.StageClusterExpand
			continue
		}
		for t := range cluster.TriangleCount {
			packed := encoding.PackedTriangle(geometry[config.Layout.TriangleBase+cluster.FirstTriangle+t])
			i0, i1, i2 := packed.Indices()
			soup[base+t] = renderer.SoupTriangle{
				Cluster:  vis_ix,
				Triangle: t,
				P0:       clip[i0],
				P1:       clip[i1],
				P2:       clip[i2],
			}
		}
	}
}

func RasterSetup(_ uint32, resources []CPUBinding) {
	bump := fromBytes[renderer.BumpAllocators](resources[1].(CPUBuffer))
	indirect := fromBytes[renderer.IndirectCount](resources[2].(CPUBuffer))
	draw := fromBytes[renderer.DrawIndirectArgs](resources[3].(CPUBuffer))

	n := bump.Triangles
	if bump.Failed != 0 {
		n = 0
	}
	indirect.X = (n + WG_SIZE - 1) / WG_SIZE
	indirect.Y = 1
	indirect.Z = 1
	draw.VertexCount = n * 3
	draw.InstanceCount = 1
	draw.FirstVertex = 0
	draw.FirstInstance = 0
}

func RasterFine(_ uint32, resources []CPUBinding) {
	config := fromBytes[renderer.ConfigUniform](resources[0].(CPUBuffer))
	soup := safeish.SliceCast[[]renderer.SoupTriangle](resources[1].(CPUBuffer))
	bump := fromBytes[renderer.BumpAllocators](resources[2].(CPUBuffer))
	words := safeish.SliceCast[[]uint64](resources[3].(CPUBuffer))

	n := bump.Triangles
	if bump.Failed != 0 {
		n = 0
	}
	for ix := range n {
		rasterize(config, &soup[ix], words)
	}
}

// VisibilityDraw models the hardware strategy's draw. Resolving with a
// plain max on the full word subsumes the depth unit's compare, so the
// output matches the software strategy's exactly.
func VisibilityDraw(numTris uint32, resources []CPUBinding) {
	config := fromBytes[renderer.ConfigUniform](resources[0].(CPUBuffer))
	soup := safeish.SliceCast[[]renderer.SoupTriangle](resources[1].(CPUBuffer))
	target := resources[2].(CPUTexture)

	assert(target.Width == int(config.TargetWidth) && target.Height == int(config.TargetHeight))
	for ix := range numTris {
		rasterize(config, &soup[ix], target.Pixels)
	}
}

func cross2(ax, ay, bx, by float32) float32 {
	return ax*by - ay*bx
}

// rasterize is the serial mirror of the per-triangle loop in the fine
// rasterizer, shared by both strategies' twins. All arithmetic stays in
// float32 to reproduce the shader's results.
func rasterize(config *renderer.ConfigUniform, tri *renderer.SoupTriangle, words []uint64) {
	// Triangles crossing w = 0 would need clipping; drop them whole.
	if tri.P0.W <= 0 || tri.P1.W <= 0 || tri.P2.W <= 0 {
		return
	}
	width := float32(config.TargetWidth)
	height := float32(config.TargetHeight)
	n0 := vmath.Vec3{X: tri.P0.X / tri.P0.W, Y: tri.P0.Y / tri.P0.W, Z: tri.P0.Z / tri.P0.W}
	n1 := vmath.Vec3{X: tri.P1.X / tri.P1.W, Y: tri.P1.Y / tri.P1.W, Z: tri.P1.Z / tri.P1.W}
	n2 := vmath.Vec3{X: tri.P2.X / tri.P2.W, Y: tri.P2.Y / tri.P2.W, Z: tri.P2.Z / tri.P2.W}
	s0x, s0y := (n0.X*0.5+0.5)*width, (0.5-n0.Y*0.5)*height
	s1x, s1y := (n1.X*0.5+0.5)*width, (0.5-n1.Y*0.5)*height
	s2x, s2y := (n2.X*0.5+0.5)*width, (0.5-n2.Y*0.5)*height
	// Screen y grows downward, so front faces wind clockwise here and
	// have negative area.
	e := cross2(s1x-s0x, s1y-s0y, s2x-s0x, s2y-s0y)
	if e >= 0 {
		return
	}
	x0 := uint32(vmath.Clamp32(vmath.Floor32(min(s0x, s1x, s2x)), 0, width))
	y0 := uint32(vmath.Clamp32(vmath.Floor32(min(s0y, s1y, s2y)), 0, height))
	x1 := uint32(vmath.Clamp32(vmath.Ceil32(max(s0x, s1x, s2x)), 0, width))
	y1 := uint32(vmath.Clamp32(vmath.Ceil32(max(s0y, s1y, s2y)), 0, height))

	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			qx, qy := float32(x)+0.5, float32(y)+0.5
			w0 := cross2(s2x-s1x, s2y-s1y, qx-s1x, qy-s1y)
			w1 := cross2(s0x-s2x, s0y-s2y, qx-s2x, qy-s2y)
			w2 := cross2(s1x-s0x, s1y-s0y, qx-s0x, qy-s0y)
			if w0 > 0 || w1 > 0 || w2 > 0 {
				continue
			}
			z := (w0*n0.Z + w1*n1.Z + w2*n2.Z) / e
			// Emulate depth clipping: without it, surfaces beyond the
			// far plane would clamp onto it.
			if z < 0 || z > 1 {
				continue
			}
			word := uint64(renderer.PackVisibility(renderer.QuantizeDepth(z), tri.Cluster, tri.Triangle))
			pix := y*config.TargetWidth + x
			if word > words[pix] {
				words[pix] = word
			}
		}
	}
}
