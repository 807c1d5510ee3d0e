// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package visbuf

import (
	"slices"
	"testing"

	"honnef.co/go/visbuf/encoding"
	"honnef.co/go/visbuf/engine/wgpu_engine"
	"honnef.co/go/visbuf/renderer"
	"honnef.co/go/visbuf/vmath"
)

func encodeTriangle(t *testing.T, z float32) *encoding.Encoding {
	t.Helper()
	enc := &encoding.Encoding{}
	mesh, err := enc.EncodeCluster(
		[]encoding.Position{
			{X: -0.5, Y: -0.5, Z: z},
			{X: 0.5, Y: -0.5, Z: z},
			{X: 0, Y: 0.5, Z: z},
		},
		[][3]uint32{{0, 1, 2}},
	)
	if err != nil {
		t.Fatalf("EncodeCluster: %v", err)
	}
	enc.EncodeInstance(mesh, vmath.Identity)
	return enc
}

func testParams() *renderer.RenderParams {
	return &renderer.RenderParams{
		Width:  8,
		Height: 8,
		Camera: vmath.Identity,
	}
}

func TestRender(t *testing.T) {
	r := New(nil, &wgpu_engine.RendererOptions{UseCPU: true})
	img, stats, err := r.Render(nil, encodeTriangle(t, 0.5), testParams())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if stats.SoupOverflow || stats.SoupTriangles != 1 {
		t.Errorf("stats = %+v, want 1 triangle and no overflow", stats)
	}
	word, ok := img.At(4, 4)
	if !ok {
		t.Fatal("center pixel resolved to background")
	}
	if want := renderer.PackVisibility(renderer.QuantizeDepth(0.5), 0, 0); word != want {
		t.Errorf("center word = %#x, want %#x", word, want)
	}
}

func TestRenderReusesRenderer(t *testing.T) {
	// Frames share one renderer; outputs must outlive the next frame.
	r := New(nil, &wgpu_engine.RendererOptions{UseCPU: true})
	first, _, err := r.Render(nil, encodeTriangle(t, 0.5), testParams())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	words := slices.Clone(first.Words)
	second, _, err := r.Render(nil, encodeTriangle(t, 0.5), testParams())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !slices.Equal(words, first.Words) {
		t.Error("first frame changed after rendering the second")
	}
	if !slices.Equal(first.Words, second.Words) {
		t.Error("identical frames rendered different words")
	}
}

func TestRenderVisibleSubset(t *testing.T) {
	enc := encodeTriangle(t, 0.5)
	enc.EncodeInstance(encoding.Mesh{FirstCluster: 0, ClusterCount: 1}, vmath.Identity)

	r := New(nil, &wgpu_engine.RendererOptions{UseCPU: true})
	visible := renderer.AllVisible(enc)[:1]
	_, stats, err := r.RenderVisible(nil, enc, visible, testParams())
	if err != nil {
		t.Fatalf("RenderVisible: %v", err)
	}
	if stats.SoupTriangles != 1 {
		t.Errorf("rendered %d triangles, want only the visible instance's", stats.SoupTriangles)
	}
}
