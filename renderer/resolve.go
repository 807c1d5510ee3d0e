package renderer

import (
	"slices"
	"unsafe"

	"honnef.co/go/safeish"
	"honnef.co/go/visbuf/encoding"
)

// A Resolver packs encodings into geometry buffers, reusing its scratch
// allocation across frames.
type Resolver struct {
	packed []byte
}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve packs an encoding's streams into a single geometry buffer. The
// returned layout locates each stream in u32 words, matching how the
// shaders index the buffer. The returned slice is only valid until the
// next call.
func (r *Resolver) Resolve(enc *encoding.Encoding) (GeometryLayout, []byte) {
	validateEncoding(enc)
	data := r.packed[:0]
	bufferSize := computeGeometryBufferSize(enc)
	data = slices.Grow(data, bufferSize)
	layout := GeometryLayout{
		NumClusters:  uint32(len(enc.Clusters)),
		NumInstances: uint32(len(enc.Instances)),
	}
	// Cluster descriptor stream
	layout.ClusterBase = sizeToWords(len(data))
	data = append(data, safeish.SliceCast[[]byte](enc.Clusters)...)
	// Vertex position stream
	layout.PositionBase = sizeToWords(len(data))
	data = append(data, safeish.SliceCast[[]byte](enc.Positions)...)
	// Packed triangle stream
	layout.TriangleBase = sizeToWords(len(data))
	data = append(data, safeish.SliceCast[[]byte](enc.Triangles)...)
	// Instance stream
	layout.InstanceBase = sizeToWords(len(data))
	data = append(data, safeish.SliceCast[[]byte](enc.Instances)...)
	if bufferSize != len(data) {
		panic("invalid encoding")
	}
	r.packed = data
	return layout, data
}

// validateEncoding checks stream cross-references. The encoding package
// cannot produce violations; these guard hand-built encodings before the
// GPU indexes out of bounds.
func validateEncoding(enc *encoding.Encoding) {
	for _, c := range enc.Clusters {
		if c.VertexCount > encoding.MaxClusterVertices ||
			c.TriangleCount > encoding.MaxClusterTriangles ||
			uint64(c.FirstVertex)+uint64(c.VertexCount) > uint64(len(enc.Positions)) ||
			uint64(c.FirstTriangle)+uint64(c.TriangleCount) > uint64(len(enc.Triangles)) {
			panic("invalid encoding")
		}
	}
	for _, inst := range enc.Instances {
		if uint64(inst.FirstCluster)+uint64(inst.ClusterCount) > uint64(len(enc.Clusters)) {
			panic("invalid encoding")
		}
	}
}

func computeGeometryBufferSize(enc *encoding.Encoding) int {
	return sliceSizeInBytes(enc.Clusters) +
		sliceSizeInBytes(enc.Positions) +
		sliceSizeInBytes(enc.Triangles) +
		sliceSizeInBytes(enc.Instances)
}

func sizeToWords(n int) uint32 {
	return uint32(n) / 4
}

func sliceSizeInBytes[E any, T ~[]E](slice T) int {
	return len(slice) * int(unsafe.Sizeof(*new(E)))
}
