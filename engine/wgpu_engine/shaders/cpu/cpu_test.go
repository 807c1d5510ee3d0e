// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"slices"
	"testing"

	"honnef.co/go/safeish"
	"honnef.co/go/visbuf/encoding"
	"honnef.co/go/visbuf/renderer"
	"honnef.co/go/visbuf/vmath"
)

const testSize = 8

func bufOf[T any](s []T) CPUBuffer {
	return CPUBuffer(safeish.SliceCast[[]byte](s))
}

// triangleScene encodes one instance of a front-facing triangle spanning
// the middle of the target, at the given depth.
func triangleScene(t *testing.T, z float32) *encoding.Encoding {
	t.Helper()
	enc := &encoding.Encoding{}
	mesh, err := enc.EncodeCluster([]encoding.Position{
		{X: -0.5, Y: -0.5, Z: z},
		{X: 0.5, Y: -0.5, Z: z},
		{X: 0, Y: 0.5, Z: z},
	}, [][3]uint32{{0, 1, 2}})
	if err != nil {
		t.Fatalf("EncodeCluster: %v", err)
	}
	enc.EncodeInstance(mesh, vmath.Identity)
	return enc
}

// expand resolves an encoding and runs ClusterExpand over all of its
// instances' clusters.
func expand(t *testing.T, enc *encoding.Encoding, soupSize uint32) (renderer.ConfigUniform, []renderer.SoupTriangle, []renderer.BumpAllocators) {
	t.Helper()
	layout, geometry := renderer.NewResolver().Resolve(enc)
	visible := renderer.AllVisible(enc)
	config := []renderer.ConfigUniform{{
		Camera:       vmath.Identity,
		TargetWidth:  testSize,
		TargetHeight: testSize,
		NumVisible:   uint32(len(visible)),
		SoupSize:     soupSize,
		Layout:       layout,
	}}
	bump := []renderer.BumpAllocators{{}}
	soup := make([]renderer.SoupTriangle, soupSize)
	ClusterExpand(config[0].NumVisible, []CPUBinding{
		bufOf(config), CPUBuffer(geometry), bufOf(visible), bufOf(bump), bufOf(soup),
	})
	return config[0], soup, bump
}

func TestClusterExpand(t *testing.T) {
	enc := triangleScene(t, 0.5)
	_, soup, bump := expand(t, enc, 4)

	if bump[0].Failed != 0 {
		t.Fatalf("Failed = %#x, want 0", bump[0].Failed)
	}
	if bump[0].Triangles != 1 {
		t.Fatalf("Triangles = %d, want 1", bump[0].Triangles)
	}
	tri := soup[0]
	if tri.Cluster != 0 || tri.Triangle != 0 {
		t.Errorf("ids = (%d, %d), want (0, 0)", tri.Cluster, tri.Triangle)
	}
	// Identity camera and world: clip space equals object space with w 1.
	want := vmath.Vec4{X: -0.5, Y: -0.5, Z: 0.5, W: 1}
	if tri.P0 != want {
		t.Errorf("P0 = %v, want %v", tri.P0, want)
	}
	if tri.P2.Y != 0.5 || tri.P2.W != 1 {
		t.Errorf("P2 = %v", tri.P2)
	}
}

func TestClusterExpandInstancing(t *testing.T) {
	enc := triangleScene(t, 0.25)
	mesh := encoding.Mesh{FirstCluster: 0, ClusterCount: 1}
	enc.EncodeInstance(mesh, vmath.Translate(0, 0, 0.5))
	_, soup, bump := expand(t, enc, 8)

	if bump[0].Triangles != 2 {
		t.Fatalf("Triangles = %d, want 2", bump[0].Triangles)
	}
	// Both entries come from the mesh's cluster 0, but the ids must be
	// their visible list slots so the word stays unique per instance.
	if soup[0].Cluster != 0 || soup[1].Cluster != 1 {
		t.Errorf("cluster ids = %d, %d, want 0, 1", soup[0].Cluster, soup[1].Cluster)
	}
	if soup[0].P0.Z != 0.25 || soup[1].P0.Z != 0.75 {
		t.Errorf("depths = %v, %v, want 0.25, 0.75", soup[0].P0.Z, soup[1].P0.Z)
	}
}

func TestClusterExpandOverflow(t *testing.T) {
	enc := triangleScene(t, 0.5)
	enc.EncodeInstance(encoding.Mesh{FirstCluster: 0, ClusterCount: 1}, vmath.Identity)
	_, soup, bump := expand(t, enc, 1)

	if bump[0].Failed&renderer.StageClusterExpand == 0 {
		t.Fatalf("Failed = %#x, want the expand stage's bit", bump[0].Failed)
	}
	if bump[0].Triangles != 2 {
		t.Errorf("Triangles = %d, want the attempted total 2", bump[0].Triangles)
	}
	// The first cluster fit and still wrote its triangle.
	if soup[0].Triangle != 0 || soup[0].P0.W != 1 {
		t.Errorf("soup[0] = %+v", soup[0])
	}
}

func TestRasterSetup(t *testing.T) {
	config := []renderer.ConfigUniform{{}}
	bump := []renderer.BumpAllocators{{Triangles: 600}}
	indirect := []renderer.IndirectCount{{}}
	draw := []renderer.DrawIndirectArgs{{}}
	bindings := []CPUBinding{bufOf(config), bufOf(bump), bufOf(indirect), bufOf(draw)}

	RasterSetup(1, bindings)
	if indirect[0].X != 3 || indirect[0].Y != 1 || indirect[0].Z != 1 {
		t.Errorf("indirect = %+v, want 3 workgroups of %d", indirect[0], WG_SIZE)
	}
	if draw[0].VertexCount != 1800 || draw[0].InstanceCount != 1 {
		t.Errorf("draw = %+v", draw[0])
	}

	bump[0].Failed = renderer.StageClusterExpand
	RasterSetup(1, bindings)
	if indirect[0].X != 0 || draw[0].VertexCount != 0 {
		t.Errorf("an overflowed frame must draw nothing, got %+v, %+v", indirect[0], draw[0])
	}
}

func TestRasterFine(t *testing.T) {
	enc := triangleScene(t, 0.5)
	config, soup, bump := expand(t, enc, 4)
	words := make([]uint64, testSize*testSize)
	RasterFine(1, []CPUBinding{bufOf([]renderer.ConfigUniform{config}), bufOf(soup), bufOf(bump), bufOf(words)})

	want := uint64(renderer.PackVisibility(renderer.QuantizeDepth(0.5), 0, 0))
	if center := words[4*testSize+4]; center != want {
		t.Errorf("center pixel = %#x, want %#x", center, want)
	}
	if words[0] != 0 {
		t.Errorf("corner pixel = %#x, want background", words[0])
	}
	covered := 0
	for _, w := range words {
		if w != 0 {
			covered++
		}
	}
	if covered == 0 || covered == len(words) {
		t.Errorf("covered %d of %d pixels", covered, len(words))
	}
}

func TestRasterFineDepthResolve(t *testing.T) {
	enc := triangleScene(t, 0.2)
	enc.EncodeInstance(encoding.Mesh{FirstCluster: 0, ClusterCount: 1}, vmath.Translate(0, 0, 0.4))
	config, soup, bump := expand(t, enc, 4)

	want := uint64(renderer.PackVisibility(renderer.QuantizeDepth(0.2), 0, 0))
	for name, entries := range map[string][]renderer.SoupTriangle{
		"near first": {soup[0], soup[1]},
		"far first":  {soup[1], soup[0]},
	} {
		words := make([]uint64, testSize*testSize)
		RasterFine(1, []CPUBinding{bufOf([]renderer.ConfigUniform{config}), bufOf(entries), bufOf(bump), bufOf(words)})
		if got := words[4*testSize+4]; got != want {
			t.Errorf("%s: center pixel = %#x, want the near fragment %#x", name, got, want)
		}
	}
}

func TestStrategyParity(t *testing.T) {
	enc := triangleScene(t, 0.2)
	enc.EncodeInstance(encoding.Mesh{FirstCluster: 0, ClusterCount: 1}, vmath.Translate(0.2, 0.1, 0.4))
	config, soup, bump := expand(t, enc, 8)

	indirect := []renderer.IndirectCount{{}}
	draw := []renderer.DrawIndirectArgs{{}}
	RasterSetup(1, []CPUBinding{bufOf([]renderer.ConfigUniform{config}), bufOf(bump), bufOf(indirect), bufOf(draw)})

	words := make([]uint64, testSize*testSize)
	RasterFine(indirect[0].X, []CPUBinding{bufOf([]renderer.ConfigUniform{config}), bufOf(soup), bufOf(bump), bufOf(words)})

	target := CPUTexture{Width: testSize, Height: testSize, Pixels: make([]uint64, testSize*testSize)}
	VisibilityDraw(draw[0].VertexCount/3, []CPUBinding{bufOf([]renderer.ConfigUniform{config}), bufOf(soup), target})

	if !slices.Equal(words, target.Pixels) {
		t.Errorf("the strategies disagree")
	}
	if slices.Max(words) == 0 {
		t.Errorf("nothing was rasterized")
	}
}
