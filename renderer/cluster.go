// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"

	"honnef.co/go/visbuf/encoding"
	"honnef.co/go/visbuf/vmath"
)

// A VisibleCluster references one cluster of one instance. The expansion
// stage consumes one of these per workgroup. Building the visible set is
// the culler's job and outside this module; hosts usually start with every
// cluster of every instance.
//
// This data structure must be kept in sync with the definition in
// shaders/src/shared/geometry.wgsl.
type VisibleCluster struct {
	_ structs.HostLayout

	// Index into the instance stream.
	Instance uint32
	// Global index into the cluster stream.
	Cluster uint32
}

// AllVisible enumerates every cluster of every instance: the visible set
// to render when no culling runs.
func AllVisible(enc *encoding.Encoding) []VisibleCluster {
	var n int
	for _, inst := range enc.Instances {
		n += int(inst.ClusterCount)
	}
	visible := make([]VisibleCluster, 0, n)
	for i, inst := range enc.Instances {
		for c := uint32(0); c < inst.ClusterCount; c++ {
			visible = append(visible, VisibleCluster{
				Instance: uint32(i),
				Cluster:  inst.FirstCluster + c,
			})
		}
	}
	return visible
}

// A SoupTriangle is one expanded primitive: clip-space corner positions
// plus the identity the encode stage packs into the visibility word.
//
// This data structure must be kept in sync with the definition in
// shaders/src/shared/geometry.wgsl.
type SoupTriangle struct {
	_ structs.HostLayout

	// Index of the producing entry in the visible list. Identifying
	// clusters by visible-list slot rather than by global index keeps
	// ids unique when one mesh is instanced more than once; consumers
	// map a slot back to {instance, cluster} through the list.
	Cluster uint32
	// Index of the triangle within its cluster.
	Triangle uint32
	_        uint32 // padding
	_        uint32 // padding
	P0       vmath.Vec4
	P1       vmath.Vec4
	P2       vmath.Vec4
}
