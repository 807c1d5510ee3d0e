// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"sync/atomic"
)

// A VisibilityWord is the per-pixel value produced by the visibility pass.
// From most to least significant bit it packs
//
//	depth    30 bits
//	cluster  27 bits
//	triangle  7 bits
//
// Depth occupies the most significant bits so that comparing two words as
// plain u64 compares depth first: resolving a pixel with an unsigned max is
// then exactly a depth test, with ties falling through to the cluster and
// triangle bits. That makes the resolve a commutative, associative,
// idempotent operation, which is what lets fragments commit in any order,
// concurrently and repeatedly, and still produce one deterministic image.
//
// The definition must be kept in sync with shaders/src/shared/visibility.wgsl.
type VisibilityWord uint64

const (
	depthBits    = 30
	clusterBits  = 27
	triangleBits = 7

	depthShift   = clusterBits + triangleBits
	clusterShift = triangleBits

	// MaxQuantizedDepth is the largest quantized depth value.
	MaxQuantizedDepth = 1<<depthBits - 1
	// MaxClusterIndex is the largest encodable cluster index.
	MaxClusterIndex = 1<<clusterBits - 1
	// MaxTriangleIndex is the largest encodable triangle index.
	MaxTriangleIndex = 1<<triangleBits - 1
)

// PackVisibility packs a quantized depth, a cluster index and a triangle
// index into a word. Fields are masked to their widths; the encoder
// validates ranges long before values get here.
func PackVisibility(depth, cluster, tri uint32) VisibilityWord {
	return VisibilityWord(depth&MaxQuantizedDepth)<<depthShift |
		VisibilityWord(cluster&MaxClusterIndex)<<clusterShift |
		VisibilityWord(tri&MaxTriangleIndex)
}

func (w VisibilityWord) Depth() uint32 {
	return uint32(w >> depthShift)
}

func (w VisibilityWord) Cluster() uint32 {
	return uint32(w>>clusterShift) & MaxClusterIndex
}

func (w VisibilityWord) Triangle() uint32 {
	return uint32(w) & MaxTriangleIndex
}

// QuantizeDepth maps an NDC depth in [0, 1], 0 at the near plane, to a
// quantized depth code. The mapping is monotonic and inverted: the near
// plane maps to MaxQuantizedDepth and the far plane to 0, so a larger code
// is a nearer surface and the max-resolve in Commit keeps the nearest
// fragment. Inputs outside [0, 1] are clamped. The arithmetic is float32
// and truncates, matching the shader's u32 conversion bit for bit.
func QuantizeDepth(z float32) uint32 {
	if z < 0 {
		z = 0
	} else if z > 1 {
		z = 1
	}
	return min(uint32((1-z)*(1<<depthBits)), MaxQuantizedDepth)
}

// DequantizeDepth returns the NDC depth at the center of the code's
// quantization bucket.
func DequantizeDepth(q uint32) float32 {
	if q > MaxQuantizedDepth {
		q = MaxQuantizedDepth
	}
	return float32(1 - (float64(q)+0.5)/(1<<depthBits))
}

// A VisibilityImage is the host-side view of a resolved frame. Both resolve
// strategies read back into this form: one word per pixel, row-major, zero
// meaning no fragment covered the pixel. A fragment exactly at the far
// plane from cluster 0, triangle 0 also packs to zero and cannot be told
// apart from background.
type VisibilityImage struct {
	Width  uint32
	Height uint32
	Words  []uint64
}

func NewVisibilityImage(width, height uint32) *VisibilityImage {
	return &VisibilityImage{
		Width:  width,
		Height: height,
		Words:  make([]uint64, int(width)*int(height)),
	}
}

func (img *VisibilityImage) Clear() {
	clear(img.Words)
}

// Commit merges a fragment's word into the pixel with an atomic max. It is
// safe for concurrent use and mirrors the software strategy's atomicMax;
// committing the same word twice, or committing losers in any order, leaves
// the pixel unchanged.
func (img *VisibilityImage) Commit(x, y uint32, w VisibilityWord) {
	p := &img.Words[y*img.Width+x]
	for {
		old := atomic.LoadUint64(p)
		if uint64(w) <= old {
			return
		}
		if atomic.CompareAndSwapUint64(p, old, uint64(w)) {
			return
		}
	}
}

// At returns the resolved word for a pixel. ok is false if no fragment
// covered it.
func (img *VisibilityImage) At(x, y uint32) (VisibilityWord, bool) {
	w := VisibilityWord(img.Words[y*img.Width+x])
	return w, w != 0
}
