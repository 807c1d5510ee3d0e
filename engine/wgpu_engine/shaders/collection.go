// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package shaders

import _ "embed"

//go:generate go run honnef.co/go/visbuf/internal/cmd/compile-shaders -in ../../../shaders/src -out ./wgsl

var (
	//go:embed wgsl/cluster_expand.wgsl
	clusterExpandWGSL []byte

	//go:embed wgsl/raster_setup.wgsl
	rasterSetupWGSL []byte

	//go:embed wgsl/raster_fine.wgsl
	rasterFineWGSL []byte

	//go:embed wgsl/visibility_draw.wgsl
	visibilityDrawWGSL []byte
)

// Collection holds every shader the renderer dispatches. Its field names
// match those of renderer.FullShaders; the engine maps one to the other
// by reflection.
var Collection = struct {
	ClusterExpand  ComputeShader
	RasterSetup    ComputeShader
	RasterFine     ComputeShader
	VisibilityDraw RenderShader
}{
	ClusterExpand: ComputeShader{
		Name:          "cluster_expand",
		WorkgroupSize: [3]uint32{128, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, BufReadOnly, Buffer, Buffer},
		WGSL:          WGSLSource{Code: clusterExpandWGSL},
	},
	RasterSetup: ComputeShader{
		Name:          "raster_setup",
		WorkgroupSize: [3]uint32{1, 1, 1},
		Bindings:      []BindType{Uniform, Buffer, Buffer, Buffer},
		WGSL:          WGSLSource{Code: rasterSetupWGSL},
	},
	RasterFine: ComputeShader{
		Name:          "raster_fine",
		WorkgroupSize: [3]uint32{256, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, Buffer, Buffer},
		WGSL:          WGSLSource{Code: rasterFineWGSL},
	},
	VisibilityDraw: RenderShader{
		Name:     "visibility_draw",
		Bindings: []BindType{Uniform, BufReadOnly},
		WGSL:     WGSLSource{Code: visibilityDrawWGSL},
	},
}
