// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package gfx turns resolved visibility images into ordinary Go images
// for debugging and golden tests.
package gfx

import (
	"math"

	"honnef.co/go/color"
)

// goldenAngle is 360° / φ², the hue step that keeps successive palette
// entries far apart for any prefix length.
const goldenAngle = 137.50776405003785

// ClusterColor returns the debug color for a visible-cluster slot.
// Successive slots take golden-angle steps around the Oklch hue circle,
// so clusters that ended up next to each other on screen rarely share a
// similar hue.
func ClusterColor(slot uint32) color.Color {
	hue := math.Mod(float64(slot)*goldenAngle, 360)
	return color.Color{
		Space:  color.Oklch,
		Values: [4]float64{0.72, 0.12, hue, 1},
	}
}

// TriangleColor is ClusterColor with the lightness stepped by the
// triangle index, making the facets inside a cluster distinguishable.
func TriangleColor(slot, tri uint32) color.Color {
	c := ClusterColor(slot)
	c.Values[0] = 0.55 + 0.3*float64(tri&3)/3
	return c
}

// SRGB8 encodes a color as 8-bit sRGB with straight alpha.
func SRGB8(c *color.Color) [4]uint8 {
	cc := c.Convert(color.SRGB)
	return [4]uint8{
		encodeByte(cc.Values[0]),
		encodeByte(cc.Values[1]),
		encodeByte(cc.Values[2]),
		encodeByte(cc.Values[3]),
	}
}

// Premul32 returns a color as premultiplied linear RGBA, the layout
// shading passes consume.
func Premul32(c *color.Color) [4]float32 {
	cc := c.Convert(color.LinearSRGB)
	r := cc.Values[0]
	g := cc.Values[1]
	b := cc.Values[2]
	a := cc.Values[3]

	return [4]float32{
		float32(r * a),
		float32(g * a),
		float32(b * a),
		float32(a),
	}
}

func encodeByte(v float64) uint8 {
	// Oklch colors at high chroma can convert to out-of-gamut sRGB.
	return uint8(math.Min(math.Max(v, 0), 1)*255 + 0.5)
}
