package vmath

import (
	"math"
	"structs"
)

const Epsilon = 1e-12

func Abs32(f float32) float32 {
	return float32(math.Abs(float64(f)))
}

func Min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func Max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func Clamp32(x, lo, hi float32) float32 {
	return Min32(Max32(x, lo), hi)
}

func Floor32(f float32) float32 {
	return float32(math.Floor(float64(f)))
}

func Ceil32(f float32) float32 {
	return float32(math.Ceil(float64(f)))
}

func Round32(f float32) float32 {
	return float32(math.Round(float64(f)))
}

func Sqrt32(f float32) float32 {
	return float32(math.Sqrt(float64(f)))
}

// Vec3 is a host-side three-component vector. It has no GPU layout
// guarantees; GPU-visible data uses Vec4.
type Vec3 struct {
	X, Y, Z float32
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Dot(o Vec3) float32 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Length() float32 {
	return Sqrt32(v.Dot(v))
}

func (v Vec3) Normalize() Vec3 {
	l := v.Length()
	if l == 0 {
		return Vec3{}
	}
	return Vec3{v.X / l, v.Y / l, v.Z / l}
}

// Vec4 matches a WGSL vec4<f32>.
type Vec4 struct {
	_ structs.HostLayout

	X, Y, Z, W float32
}

func (v Vec4) Add(o Vec4) Vec4 {
	return Vec4{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z, W: v.W + o.W}
}

func (v Vec4) Scale(s float32) Vec4 {
	return Vec4{X: v.X * s, Y: v.Y * s, Z: v.Z * s, W: v.W * s}
}

// Mat4 matches a WGSL mat4x4<f32>: sixteen floats in column-major order,
// element (row, col) at Cols[col*4+row].
type Mat4 struct {
	_ structs.HostLayout

	Cols [16]float32
}

var Identity = Mat4{
	Cols: [16]float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	},
}

func (m Mat4) Mul(o Mat4) Mat4 {
	var out Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m.Cols[k*4+row] * o.Cols[col*4+k]
			}
			out.Cols[col*4+row] = sum
		}
	}
	return out
}

func (m Mat4) MulVec4(v Vec4) Vec4 {
	return Vec4{
		X: m.Cols[0]*v.X + m.Cols[4]*v.Y + m.Cols[8]*v.Z + m.Cols[12]*v.W,
		Y: m.Cols[1]*v.X + m.Cols[5]*v.Y + m.Cols[9]*v.Z + m.Cols[13]*v.W,
		Z: m.Cols[2]*v.X + m.Cols[6]*v.Y + m.Cols[10]*v.Z + m.Cols[14]*v.W,
		W: m.Cols[3]*v.X + m.Cols[7]*v.Y + m.Cols[11]*v.Z + m.Cols[15]*v.W,
	}
}

// MulPoint transforms a position, treating it as (x, y, z, 1).
func (m Mat4) MulPoint(v Vec3) Vec4 {
	return m.MulVec4(Vec4{X: v.X, Y: v.Y, Z: v.Z, W: 1})
}

func Translate(x, y, z float32) Mat4 {
	m := Identity
	m.Cols[12] = x
	m.Cols[13] = y
	m.Cols[14] = z
	return m
}

func Scale(x, y, z float32) Mat4 {
	var m Mat4
	m.Cols[0] = x
	m.Cols[5] = y
	m.Cols[10] = z
	m.Cols[15] = 1
	return m
}

func RotateY(angle float32) Mat4 {
	s := float32(math.Sin(float64(angle)))
	c := float32(math.Cos(float64(angle)))
	m := Identity
	m.Cols[0] = c
	m.Cols[2] = -s
	m.Cols[8] = s
	m.Cols[10] = c
	return m
}

// Perspective returns a right-handed projection looking down -Z, mapping
// depth to [0, 1]: z = -near lands on 0, z = -far on 1.
func Perspective(fovY, aspect, near, far float32) Mat4 {
	f := float32(1 / math.Tan(float64(fovY)/2))
	var m Mat4
	m.Cols[0] = f / aspect
	m.Cols[5] = f
	m.Cols[10] = far / (near - far)
	m.Cols[11] = -1
	m.Cols[14] = near * far / (near - far)
	return m
}

// Orthographic returns a right-handed projection with depth mapped to
// [0, 1] like Perspective.
func Orthographic(left, right, bottom, top, near, far float32) Mat4 {
	var m Mat4
	m.Cols[0] = 2 / (right - left)
	m.Cols[5] = 2 / (top - bottom)
	m.Cols[10] = -1 / (far - near)
	m.Cols[12] = -(right + left) / (right - left)
	m.Cols[13] = -(top + bottom) / (top - bottom)
	m.Cols[14] = -near / (far - near)
	m.Cols[15] = 1
	return m
}

func LookAt(eye, center, up Vec3) Mat4 {
	f := center.Sub(eye).Normalize()
	s := f.Cross(up).Normalize()
	u := s.Cross(f)
	var m Mat4
	m.Cols[0] = s.X
	m.Cols[1] = u.X
	m.Cols[2] = -f.X
	m.Cols[4] = s.Y
	m.Cols[5] = u.Y
	m.Cols[6] = -f.Y
	m.Cols[8] = s.Z
	m.Cols[9] = u.Z
	m.Cols[10] = -f.Z
	m.Cols[12] = -s.Dot(eye)
	m.Cols[13] = -u.Dot(eye)
	m.Cols[14] = f.Dot(eye)
	m.Cols[15] = 1
	return m
}

func AlignUp(len int, alignment int) int {
	return (len + alignment - 1) & -alignment
}

// TODO(dh): make AlignUp generic and remove AlignUp32
func AlignUp32(len uint32, alignment uint32) uint32 {
	return (len + alignment - 1) & -alignment
}
