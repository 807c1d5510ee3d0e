// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"fmt"

	"honnef.co/go/safeish"
	"honnef.co/go/visbuf/encoding"
	"honnef.co/go/visbuf/mem"
	"honnef.co/go/visbuf/profiler"
	"honnef.co/go/visbuf/vmath"
)

type FullShaders struct {
	ClusterExpand ShaderID
	RasterSetup   ShaderID
	RasterFine    ShaderID
	// VisibilityDraw is the hardware strategy's render pipeline. It lives
	// in the same ID space as the compute shaders; engines register it
	// with the render pipeline instead of a compute pipeline.
	VisibilityDraw ShaderID
}

// A Strategy selects how fragments resolve into the visibility image. It
// is fixed when a frame is recorded; the two strategies produce the same
// words, stored differently.
type Strategy uint8

const (
	// StrategyHardwareDepth draws the soup through the fixed-function
	// depth unit, writing the word as two u32 channels of an rg32uint
	// target with the quantized depth in the depth buffer.
	StrategyHardwareDepth Strategy = iota
	// StrategySoftwareAtomic dispatches a compute pass that commits words
	// with a 64-bit atomic max into a one-word-per-pixel buffer.
	StrategySoftwareAtomic
)

func (s Strategy) String() string {
	switch s {
	case StrategyHardwareDepth:
		return "hardware-depth"
	case StrategySoftwareAtomic:
		return "software-atomic"
	default:
		return "unknown"
	}
}

type RenderParams struct {
	Width  uint32
	Height uint32
	// Camera is the combined view-projection transform.
	Camera   vmath.Mat4
	Strategy Strategy
	// SoupCapacity caps the triangle soup allocation in triangles. Zero
	// sizes the soup for the worst case, which cannot overflow; a smaller
	// cap trades memory for the bump failure path.
	SoupCapacity uint32
	// Readback copies the resolved output to host-readable memory after
	// the encode pass: the word buffer under the software strategy, the
	// color target under the hardware one.
	Readback bool
}

// VisibilityTargets hands the recorded frame's outputs to downstream
// passes. Only the fields matching Strategy are valid: Words for the
// software strategy, Image and Depth for the hardware one.
type VisibilityTargets struct {
	Strategy Strategy
	Width    uint32
	Height   uint32

	Bump  BufferProxy
	Words BufferProxy
	Image ImageProxy
	Depth ImageProxy
}

// RenderVisibility records a full visibility frame over the encoded
// geometry: resolve and upload, cluster expansion, indirect argument
// setup, then the strategy's encode pass. visible is the culler's output;
// use [AllVisible] to skip culling. With robust, the bump buffer is
// downloaded so the caller can detect soup overflow after execution.
func RenderVisibility(
	arena *mem.Arena,
	enc *encoding.Encoding,
	resolver *Resolver,
	shaders *FullShaders,
	visible []VisibleCluster,
	params *RenderParams,
	robust bool,
	pgroup profiler.ProfilerGroup,
) (Recording, VisibilityTargets) {
	pgroup = pgroup.Start("RenderVisibility")
	defer pgroup.End()

	// The cluster field of the visibility word indexes into visible.
	if len(visible) > MaxClusterIndex+1 {
		panic(fmt.Sprintf("%d visible clusters don't fit the cluster field", len(visible)))
	}

	var recording Recording
	layout, packed := resolver.Resolve(enc)

	config := NewRenderConfig(arena, &layout, uint32(len(visible)), params)
	bufferSizes := &config.bufferSizes
	wgCounts := &config.workgroupCounts

	geometryBuf := recording.Upload(arena, "geometry", packed)
	configBuf := recording.UploadUniform(arena, "config", safeish.AsBytes(&config.gpu))
	visibleBuf := recording.Upload(arena, "visibleClusters", safeish.SliceCast[[]byte](visible))

	bumpBuf := NewBufferProxy(uint64(bufferSizes.BumpAlloc.sizeInBytes()), "bumpBuf")
	recording.ClearAll(arena, bumpBuf)
	soupBuf := NewBufferProxy(uint64(bufferSizes.Soup.sizeInBytes()), "soupBuf")
	recording.Dispatch(
		arena,
		shaders.ClusterExpand,
		wgCounts.ClusterExpand,
		mem.MakeSlice(arena, []ResourceProxy{
			configBuf.Resource(),
			geometryBuf.Resource(),
			visibleBuf.Resource(),
			bumpBuf.Resource(),
			soupBuf.Resource(),
		}),
	)
	recording.FreeResource(arena, visibleBuf.Resource())

	indirectCountBuf := NewBufferProxy(uint64(bufferSizes.IndirectCount.sizeInBytes()), "indirectCountBuf")
	drawArgsBuf := NewBufferProxy(uint64(bufferSizes.DrawArgs.sizeInBytes()), "drawArgsBuf")
	recording.Dispatch(
		arena,
		shaders.RasterSetup,
		wgCounts.RasterSetup,
		mem.MakeSlice(arena, []ResourceProxy{
			configBuf.Resource(),
			bumpBuf.Resource(),
			indirectCountBuf.Resource(),
			drawArgsBuf.Resource(),
		}),
	)

	targets := VisibilityTargets{
		Strategy: params.Strategy,
		Width:    params.Width,
		Height:   params.Height,
		Bump:     bumpBuf,
	}
	switch params.Strategy {
	case StrategySoftwareAtomic:
		wordsBuf := NewBufferProxy(uint64(bufferSizes.Visibility.sizeInBytes()), "visibilityBuf")
		recording.ClearAll(arena, wordsBuf)
		recording.DispatchIndirect(
			arena,
			shaders.RasterFine,
			indirectCountBuf,
			0,
			mem.MakeSlice(arena, []ResourceProxy{
				configBuf.Resource(),
				soupBuf.Resource(),
				bumpBuf.Resource(),
				wordsBuf.Resource(),
			}),
		)
		targets.Words = wordsBuf
	case StrategyHardwareDepth:
		targets.Image = NewImageProxy(params.Width, params.Height, Rg32Uint)
		targets.Depth = NewImageProxy(params.Width, params.Height, Depth32Float)
		recording.Draw(
			arena,
			shaders.VisibilityDraw,
			drawArgsBuf,
			0,
			mem.MakeSlice(arena, []ResourceProxy{
				configBuf.Resource(),
				soupBuf.Resource(),
			}),
			targets.Image,
			targets.Depth,
		)
	default:
		panic("unhandled strategy")
	}
	recording.FreeResource(arena, indirectCountBuf.Resource())
	recording.FreeResource(arena, drawArgsBuf.Resource())
	recording.FreeResource(arena, geometryBuf.Resource())
	recording.FreeResource(arena, soupBuf.Resource())
	recording.FreeResource(arena, configBuf.Resource())

	if params.Readback {
		switch params.Strategy {
		case StrategySoftwareAtomic:
			recording.Download(arena, targets.Words)
		case StrategyHardwareDepth:
			recording.DownloadImage(arena, targets.Image)
		}
	}
	if robust {
		recording.Download(arena, bumpBuf)
	}
	return recording, targets
}
