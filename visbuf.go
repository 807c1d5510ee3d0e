// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package visbuf renders visibility buffers from clustered triangle
// meshes: one 64-bit word per pixel, naming the nearest triangle and
// carrying its quantized depth.
//
// Geometry is encoded with [encoding.Encoding] and rendered through a
// [Renderer], either on a WebGPU device or entirely on the CPU. The
// subpackages expose the moving parts for hosts that need more control:
// renderer records frames as engine-agnostic command streams,
// engine/wgpu_engine executes them.
package visbuf

import (
	"honnef.co/go/visbuf/encoding"
	"honnef.co/go/visbuf/engine/wgpu_engine"
	"honnef.co/go/visbuf/mem"
	"honnef.co/go/visbuf/renderer"
	"honnef.co/go/wgpu"
)

// A Renderer renders visibility frames. It owns the engine and a frame
// arena; the arena is reset at the start of every frame, rendered images
// are copied out and stay valid.
//
// A Renderer is not safe for concurrent use.
type Renderer struct {
	eng   *wgpu_engine.Engine
	arena *mem.Arena
}

// New creates a renderer on dev. With options.UseCPU the device may be
// nil and frames run entirely on the host.
func New(dev *wgpu.Device, options *wgpu_engine.RendererOptions) *Renderer {
	return &Renderer{
		eng:   wgpu_engine.New(dev, options),
		arena: mem.NewArena(),
	}
}

// Render renders one frame of enc with every cluster instance visible.
func (r *Renderer) Render(
	queue *wgpu.Queue,
	enc *encoding.Encoding,
	params *renderer.RenderParams,
) (*renderer.VisibilityImage, wgpu_engine.RenderStats, error) {
	return r.RenderVisible(queue, enc, renderer.AllVisible(enc), params)
}

// RenderVisible renders one frame of enc restricted to the clusters in
// visible, usually a culler's output.
func (r *Renderer) RenderVisible(
	queue *wgpu.Queue,
	enc *encoding.Encoding,
	visible []renderer.VisibleCluster,
	params *renderer.RenderParams,
) (*renderer.VisibilityImage, wgpu_engine.RenderStats, error) {
	r.arena.Reset()
	return r.eng.RenderVisibility(r.arena, queue, enc, visible, params, nil)
}
