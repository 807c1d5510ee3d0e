// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gfx

import (
	"encoding/binary"
	"image"

	"honnef.co/go/visbuf/renderer"
)

// DebugRGBA renders a visibility image as false color, one hue per
// visible-cluster slot with the lightness varying per triangle.
// Background pixels stay transparent black.
func DebugRGBA(img *renderer.VisibilityImage) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, int(img.Width), int(img.Height)))
	// Frames tend to cover many pixels with few distinct words.
	memo := map[renderer.VisibilityWord][4]uint8{}
	for y := range int(img.Height) {
		for x := range int(img.Width) {
			word, ok := img.At(uint32(x), uint32(y))
			if !ok {
				continue
			}
			px, ok := memo[word]
			if !ok {
				c := TriangleColor(word.Cluster(), word.Triangle())
				px = SRGB8(&c)
				memo[word] = px
			}
			copy(out.Pix[out.PixOffset(x, y):], px[:])
		}
	}
	return out
}

// DepthImage renders the depth codes of a visibility image as 16-bit
// grayscale. Nearer surfaces are brighter; the background is black.
func DepthImage(img *renderer.VisibilityImage) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, int(img.Width), int(img.Height)))
	for y := range int(img.Height) {
		for x := range int(img.Width) {
			word, ok := img.At(uint32(x), uint32(y))
			if !ok {
				continue
			}
			// Keep the most significant bits of the 30-bit code.
			v := uint16(word.Depth() >> 14)
			binary.BigEndian.PutUint16(out.Pix[out.PixOffset(x, y):], v)
		}
	}
	return out
}
