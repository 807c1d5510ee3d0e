// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gfx

import (
	"image/color"
	"testing"

	"honnef.co/go/visbuf/renderer"
)

func testImage(t *testing.T) *renderer.VisibilityImage {
	t.Helper()
	img := renderer.NewVisibilityImage(4, 4)
	img.Words[0] = uint64(renderer.PackVisibility(renderer.QuantizeDepth(0.25), 0, 0))
	img.Words[1] = uint64(renderer.PackVisibility(renderer.QuantizeDepth(0.75), 1, 2))
	return img
}

func TestDebugRGBA(t *testing.T) {
	out := DebugRGBA(testImage(t))
	if got, want := out.Bounds().Dx(), 4; got != want {
		t.Fatalf("got width %d, want %d", got, want)
	}
	a := out.RGBAAt(0, 0)
	b := out.RGBAAt(1, 0)
	if a == (color.RGBA{}) || b == (color.RGBA{}) {
		t.Fatalf("covered pixels came out empty: %v, %v", a, b)
	}
	if a == b {
		t.Fatalf("distinct words share color %v", a)
	}
	if got := out.RGBAAt(2, 0); got != (color.RGBA{}) {
		t.Fatalf("background pixel has color %v", got)
	}
}

func TestDepthImage(t *testing.T) {
	out := DepthImage(testImage(t))
	near := out.Gray16At(0, 0).Y
	far := out.Gray16At(1, 0).Y
	if near <= far {
		t.Fatalf("near depth %d not brighter than far depth %d", near, far)
	}
	if far == 0 {
		t.Fatal("covered pixel rendered as background")
	}
	if got := out.Gray16At(2, 0).Y; got != 0 {
		t.Fatalf("background pixel has depth %d", got)
	}
}
