// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package encoding

import (
	"errors"
	"fmt"
)

// Cluster budgets. The expansion stage sizes one workgroup per cluster for
// these bounds and never subdivides, so every encode path enforces them:
// geometry that does not fit is rejected here, up front, instead of being
// truncated during a frame.
const (
	MaxClusterVertices  = 64
	MaxClusterTriangles = 126
)

var (
	ErrTooManyVertices  = errors.New("cluster exceeds vertex budget")
	ErrTooManyTriangles = errors.New("cluster exceeds triangle budget")
	ErrIndexOutOfRange  = errors.New("triangle index out of range")
	ErrRaggedIndices    = errors.New("index count is not a multiple of three")
)

// EncodeCluster appends a single pre-built cluster. The triangles index
// into positions. The cluster is validated against the budgets; on error
// nothing is appended.
func (enc *Encoding) EncodeCluster(positions []Position, tris [][3]uint32) (Mesh, error) {
	if len(positions) > MaxClusterVertices {
		return Mesh{}, fmt.Errorf("%w: %d vertices, limit %d", ErrTooManyVertices, len(positions), MaxClusterVertices)
	}
	if len(tris) > MaxClusterTriangles {
		return Mesh{}, fmt.Errorf("%w: %d triangles, limit %d", ErrTooManyTriangles, len(tris), MaxClusterTriangles)
	}
	packed := make([]PackedTriangle, len(tris))
	for i, tri := range tris {
		for _, idx := range tri {
			if idx >= uint32(len(positions)) {
				return Mesh{}, fmt.Errorf("%w: index %d in a cluster of %d vertices", ErrIndexOutOfRange, idx, len(positions))
			}
		}
		packed[i] = NewPackedTriangle(uint8(tri[0]), uint8(tri[1]), uint8(tri[2]))
	}
	mesh := Mesh{FirstCluster: uint32(len(enc.Clusters)), ClusterCount: 1}
	enc.appendCluster(positions, packed)
	return mesh, nil
}

// EncodeMesh splits an indexed triangle mesh into clusters. Triangles are
// taken in order and greedily packed until the next one would overflow a
// budget; referenced positions are copied into each cluster's local vertex
// block. Clusters produced here always satisfy the budgets.
func (enc *Encoding) EncodeMesh(positions []Position, indices []uint32) (Mesh, error) {
	if len(indices)%3 != 0 {
		return Mesh{}, fmt.Errorf("%w: %d indices", ErrRaggedIndices, len(indices))
	}
	for _, idx := range indices {
		if idx >= uint32(len(positions)) {
			return Mesh{}, fmt.Errorf("%w: index %d in a mesh of %d vertices", ErrIndexOutOfRange, idx, len(positions))
		}
	}

	mesh := Mesh{FirstCluster: uint32(len(enc.Clusters))}

	var (
		local    = make(map[uint32]uint8)
		verts    []Position
		tris     []PackedTriangle
		localIdx = func(global uint32) uint8 {
			if l, ok := local[global]; ok {
				return l
			}
			l := uint8(len(verts))
			local[global] = l
			verts = append(verts, positions[global])
			return l
		}
	)
	flush := func() {
		if len(tris) == 0 {
			return
		}
		enc.appendCluster(verts, tris)
		mesh.ClusterCount++
		clear(local)
		verts = verts[:0]
		tris = tris[:0]
	}

	for i := 0; i < len(indices); i += 3 {
		tri := [3]uint32{indices[i], indices[i+1], indices[i+2]}
		fresh := 0
		for j, idx := range tri {
			seen := false
			if _, ok := local[idx]; ok {
				seen = true
			}
			for k := 0; k < j; k++ {
				if tri[k] == idx {
					seen = true
				}
			}
			if !seen {
				fresh++
			}
		}
		if len(tris) == MaxClusterTriangles || len(verts)+fresh > MaxClusterVertices {
			flush()
		}
		tris = append(tris, NewPackedTriangle(localIdx(tri[0]), localIdx(tri[1]), localIdx(tri[2])))
	}
	flush()
	return mesh, nil
}
