// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package shaders describes the renderer's WGSL shaders: binding
// layouts, workgroup sizes, and the preprocessed source for each stage.
package shaders

type BindType int

const (
	Buffer BindType = iota + 1
	BufReadOnly
	Uniform
	Image
	ImageRead
)

func (typ BindType) IsMutable() bool {
	return typ == Buffer || typ == Image
}

// ComputeShader describes one compute stage. Bindings lists the entries
// of bind group 0 in binding order; workgroup memory is declared in the
// WGSL itself.
type ComputeShader struct {
	Name          string
	WorkgroupSize [3]uint32
	Bindings      []BindType
	WGSL          WGSLSource
}

// RenderShader describes a vertex/fragment pair with entry points
// vs_main and fs_main. The color and depth formats aren't part of the
// description; the engine fixes them when it builds the pipeline.
type RenderShader struct {
	Name     string
	Bindings []BindType
	WGSL     WGSLSource
}

type WGSLSource struct {
	Code []byte
}
