package frames

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Matrix is a 4x4 homogeneous transform stored row-major:
// m00,m01,m02,m03, m10,m11,m12,m13, m20,... m33.
// The translation lives in elements 3, 7 and 11.
type Matrix [16]float64

// RigidTolerance is the tolerance used by IsRigid when checking the rotation
// block for orthonormality and unit determinant.
const RigidTolerance = 0.01

// Identity returns the 4x4 identity transform.
func Identity() Matrix {
	return Matrix{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns a pure translation transform.
func Translation(x, y, z float64) Matrix {
	m := Identity()
	m[3], m[7], m[11] = x, y, z
	return m
}

// At returns the element at row r, column c.
func (m Matrix) At(r, c int) float64 {
	return m[r*4+c]
}

// Mul returns m·n. With m a parent's world transform and n a child's local
// transform the result is the child's world transform.
func (m Matrix) Mul(n Matrix) Matrix {
	a := mat.NewDense(4, 4, m[:])
	b := mat.NewDense(4, 4, n[:])

	var prod mat.Dense
	prod.Mul(a, b)

	var out Matrix
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = prod.At(r, c)
		}
	}
	return out
}

// Compose multiplies the given matrices left to right. Compose() is the
// identity.
func Compose(ms ...Matrix) Matrix {
	out := Identity()
	for _, m := range ms {
		out = out.Mul(m)
	}
	return out
}

// Apply transforms a point (w=1).
func (m Matrix) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3],
		Y: m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7],
		Z: m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11],
	}
}

// ApplyDirection transforms a direction (w=0); the translation is ignored.
func (m Matrix) ApplyDirection(d r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*d.X + m[1]*d.Y + m[2]*d.Z,
		Y: m[4]*d.X + m[5]*d.Y + m[6]*d.Z,
		Z: m[8]*d.X + m[9]*d.Y + m[10]*d.Z,
	}
}

// Origin returns the translation component, i.e. where the frame's origin
// lands in its parent.
func (m Matrix) Origin() r3.Vec {
	return r3.Vec{X: m[3], Y: m[7], Z: m[11]}
}

// ApproxEqual reports whether every element of m and n differs by at most tol.
func (m Matrix) ApproxEqual(n Matrix, tol float64) bool {
	for i := range m {
		if math.Abs(m[i]-n[i]) > tol {
			return false
		}
	}
	return true
}

// IsRigid reports whether m is a proper rigid transform: orthonormal rotation
// block with determinant 1 and a bottom row of [0 0 0 1].
//
// The graph never rejects or renormalises a non-rigid matrix; this is a
// diagnostic for callers that want to warn about distorted inputs.
func (m Matrix) IsRigid() bool {
	if m[12] != 0 || m[13] != 0 || m[14] != 0 || math.Abs(m[15]-1) > 0.001 {
		return false
	}

	rot := mat.NewDense(3, 3, []float64{
		m[0], m[1], m[2],
		m[4], m[5], m[6],
		m[8], m[9], m[10],
	})
	if math.Abs(mat.Det(rot)-1) > RigidTolerance {
		return false
	}

	// R·Rᵀ must be the identity
	var rrt mat.Dense
	rrt.Mul(rot, rot.T())
	return mat.EqualApprox(&rrt, mat.NewDiagDense(3, []float64{1, 1, 1}), RigidTolerance)
}
