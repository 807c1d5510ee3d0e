// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package wgpu_engine

import (
	"slices"
	"testing"

	"honnef.co/go/visbuf/encoding"
	"honnef.co/go/visbuf/mem"
	"honnef.co/go/visbuf/profiler"
	"honnef.co/go/visbuf/renderer"
	"honnef.co/go/visbuf/vmath"
)

const testSize = 8

var bothStrategies = []renderer.Strategy{
	renderer.StrategySoftwareAtomic,
	renderer.StrategyHardwareDepth,
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return New(nil, &RendererOptions{UseCPU: true})
}

// centerTriangle is a front-facing triangle spanning the middle of the
// target at the given depth.
func centerTriangle(z float32) []encoding.Position {
	return []encoding.Position{
		{X: -0.5, Y: -0.5, Z: z},
		{X: 0.5, Y: -0.5, Z: z},
		{X: 0, Y: 0.5, Z: z},
	}
}

func encodeTriangle(t *testing.T, z float32) *encoding.Encoding {
	t.Helper()
	enc := &encoding.Encoding{}
	mesh, err := enc.EncodeCluster(centerTriangle(z), [][3]uint32{{0, 1, 2}})
	if err != nil {
		t.Fatalf("EncodeCluster: %v", err)
	}
	enc.EncodeInstance(mesh, vmath.Identity)
	return enc
}

func testParams(strategy renderer.Strategy) *renderer.RenderParams {
	return &renderer.RenderParams{
		Width:    testSize,
		Height:   testSize,
		Camera:   vmath.Identity,
		Strategy: strategy,
	}
}

func render(t *testing.T, eng *Engine, enc *encoding.Encoding, params *renderer.RenderParams) (*renderer.VisibilityImage, RenderStats) {
	t.Helper()
	img, stats, err := eng.RenderVisibility(mem.NewArena(), nil, enc, renderer.AllVisible(enc), params, nil)
	if err != nil {
		t.Fatalf("RenderVisibility: %v", err)
	}
	return img, stats
}

func TestRenderVisibility(t *testing.T) {
	for _, strategy := range bothStrategies {
		t.Run(strategy.String(), func(t *testing.T) {
			eng := testEngine(t)
			img, stats := render(t, eng, encodeTriangle(t, 0.5), testParams(strategy))

			if stats.SoupOverflow || stats.SoupTriangles != 1 {
				t.Errorf("stats = %+v, want 1 triangle and no overflow", stats)
			}
			word, ok := img.At(testSize/2, testSize/2)
			if !ok {
				t.Fatal("center pixel resolved to background")
			}
			if want := renderer.PackVisibility(renderer.QuantizeDepth(0.5), 0, 0); word != want {
				t.Errorf("center word = %#x, want %#x", word, want)
			}
			if _, ok := img.At(0, 0); ok {
				t.Error("corner pixel covered, want background")
			}
		})
	}
}

func TestStrategyParity(t *testing.T) {
	enc := &encoding.Encoding{}
	positions := slices.Concat(centerTriangle(0.75), centerTriangle(0.25), centerTriangle(0.5))
	mesh, err := enc.EncodeCluster(positions, [][3]uint32{{0, 1, 2}, {3, 4, 5}, {6, 7, 8}})
	if err != nil {
		t.Fatalf("EncodeCluster: %v", err)
	}
	enc.EncodeInstance(mesh, vmath.Identity)
	enc.EncodeInstance(mesh, vmath.Translate(0.25, 0.25, -0.125))

	eng := testEngine(t)
	soft, _ := render(t, eng, enc, testParams(renderer.StrategySoftwareAtomic))
	hard, _ := render(t, eng, enc, testParams(renderer.StrategyHardwareDepth))

	if slices.Max(soft.Words) == 0 {
		t.Fatal("scene resolved to background everywhere")
	}
	if !slices.Equal(soft.Words, hard.Words) {
		t.Error("strategies resolved different images")
	}
}

// Three fragments of one cluster land on the same pixel; the word with
// the highest depth code, the nearest surface, must win under both
// strategies.
func TestNearestTriangleWins(t *testing.T) {
	enc := &encoding.Encoding{}
	positions := slices.Concat(centerTriangle(0.75), centerTriangle(0.25), centerTriangle(0.5))
	mesh, err := enc.EncodeCluster(positions, [][3]uint32{{0, 1, 2}, {3, 4, 5}, {6, 7, 8}})
	if err != nil {
		t.Fatalf("EncodeCluster: %v", err)
	}
	enc.EncodeInstance(mesh, vmath.Identity)

	for _, strategy := range bothStrategies {
		t.Run(strategy.String(), func(t *testing.T) {
			img, _ := render(t, testEngine(t), enc, testParams(strategy))
			word, ok := img.At(testSize/2, testSize/2)
			if !ok {
				t.Fatal("center pixel resolved to background")
			}
			if word.Triangle() != 1 {
				t.Errorf("resolved triangle %d, want 1, the nearest", word.Triangle())
			}
			if word.Depth() != renderer.QuantizeDepth(0.25) {
				t.Errorf("resolved depth %#x, want %#x", word.Depth(), renderer.QuantizeDepth(0.25))
			}
		})
	}
}

func TestInstancing(t *testing.T) {
	enc := &encoding.Encoding{}
	mesh, err := enc.EncodeCluster(centerTriangle(0.5), [][3]uint32{{0, 1, 2}})
	if err != nil {
		t.Fatalf("EncodeCluster: %v", err)
	}
	enc.EncodeInstance(mesh, vmath.Identity)
	enc.EncodeInstance(mesh, vmath.Translate(0, 0, -0.25))

	img, stats := render(t, testEngine(t), enc, testParams(renderer.StrategySoftwareAtomic))
	if stats.SoupTriangles != 2 {
		t.Errorf("SoupTriangles = %d, want 2", stats.SoupTriangles)
	}
	word, ok := img.At(testSize/2, testSize/2)
	if !ok {
		t.Fatal("center pixel resolved to background")
	}
	// Words identify clusters by their slot in the visible list, so the
	// two instances of the one encoded cluster stay distinguishable.
	if word.Cluster() != 1 {
		t.Errorf("resolved cluster %d, want visible slot 1", word.Cluster())
	}
	if word.Depth() != renderer.QuantizeDepth(0.25) {
		t.Errorf("resolved depth %#x, want %#x", word.Depth(), renderer.QuantizeDepth(0.25))
	}
}

func TestVisibleSubset(t *testing.T) {
	enc := &encoding.Encoding{}
	mesh, err := enc.EncodeCluster(centerTriangle(0.5), [][3]uint32{{0, 1, 2}})
	if err != nil {
		t.Fatalf("EncodeCluster: %v", err)
	}
	enc.EncodeInstance(mesh, vmath.Identity)
	enc.EncodeInstance(mesh, vmath.Translate(0, 0, -0.25))

	eng := testEngine(t)
	visible := renderer.AllVisible(enc)[1:]
	img, stats, err := eng.RenderVisibility(mem.NewArena(), nil, enc, visible, testParams(renderer.StrategySoftwareAtomic), nil)
	if err != nil {
		t.Fatalf("RenderVisibility: %v", err)
	}
	if stats.SoupTriangles != 1 {
		t.Errorf("SoupTriangles = %d, want 1, the culled instance must not expand", stats.SoupTriangles)
	}
	word, ok := img.At(testSize/2, testSize/2)
	if !ok {
		t.Fatal("center pixel resolved to background")
	}
	if word.Cluster() != 0 {
		t.Errorf("resolved cluster %d, want slot 0 of the subset", word.Cluster())
	}
	if word.Depth() != renderer.QuantizeDepth(0.25) {
		t.Errorf("resolved depth %#x, want %#x", word.Depth(), renderer.QuantizeDepth(0.25))
	}
}

func TestSoupOverflow(t *testing.T) {
	enc := &encoding.Encoding{}
	mesh, err := enc.EncodeCluster(centerTriangle(0.5), [][3]uint32{{0, 1, 2}})
	if err != nil {
		t.Fatalf("EncodeCluster: %v", err)
	}
	enc.EncodeInstance(mesh, vmath.Identity)
	enc.EncodeInstance(mesh, vmath.Translate(0, 0, -0.25))

	params := testParams(renderer.StrategySoftwareAtomic)
	params.SoupCapacity = 1
	img, stats := render(t, testEngine(t), enc, params)

	if !stats.SoupOverflow {
		t.Error("overflow not reported")
	}
	if stats.SoupTriangles != 2 {
		t.Errorf("SoupTriangles = %d, want the attempted total 2", stats.SoupTriangles)
	}
	if slices.Max(img.Words) != 0 {
		t.Error("overflowed frame drew fragments, want background everywhere")
	}
}

func TestReadVisibilityConsumes(t *testing.T) {
	eng := testEngine(t)
	arena := mem.NewArena()
	enc := encodeTriangle(t, 0.5)
	params := testParams(renderer.StrategySoftwareAtomic)
	params.Readback = true

	recording, targets := renderer.RenderVisibility(arena, enc, eng.resolver, eng.fullShaders, renderer.AllVisible(enc), params, false, profiler.Nop)
	eng.RunRecording(arena, nil, &recording, nil, "test", nil)

	if _, err := eng.ReadVisibility(&targets); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if _, err := eng.ReadVisibility(&targets); err == nil {
		t.Fatal("second read succeeded, want error")
	}
}

func TestReadVisibilityWithoutReadback(t *testing.T) {
	eng := testEngine(t)
	arena := mem.NewArena()
	enc := encodeTriangle(t, 0.5)

	recording, targets := renderer.RenderVisibility(arena, enc, eng.resolver, eng.fullShaders, renderer.AllVisible(enc), testParams(renderer.StrategySoftwareAtomic), false, profiler.Nop)
	eng.RunRecording(arena, nil, &recording, nil, "test", nil)

	if _, err := eng.ReadVisibility(&targets); err == nil {
		t.Fatal("read succeeded without readback")
	}
}
