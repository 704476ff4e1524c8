package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"
)

// rotZ90 rotates +X onto +Y.
var rotZ90 = Matrix{
	0, -1, 0, 0,
	1, 0, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

func TestMatrix_MulIdentity(t *testing.T) {
	m := Translation(1, 2, 3).Mul(rotZ90)

	assert.Equal(t, m, Identity().Mul(m))
	assert.Equal(t, m, m.Mul(Identity()))
}

func TestMatrix_MulOrder(t *testing.T) {
	// parent rotates, child translates along its own X: the child's origin
	// ends up on the parent's Y axis.
	world := rotZ90.Mul(Translation(10, 0, 0))

	got := world.Origin()
	assert.InDelta(t, 0, got.X, 1e-12)
	assert.InDelta(t, 10, got.Y, 1e-12)
	assert.InDelta(t, 0, got.Z, 1e-12)

	// the other order only translates
	other := Translation(10, 0, 0).Mul(rotZ90)
	assert.Equal(t, r3.Vec{X: 10}, other.Origin())
}

func TestCompose(t *testing.T) {
	assert.Equal(t, Identity(), Compose())

	a, b, c := Translation(1, 0, 0), rotZ90, Translation(0, 0, 5)
	assert.True(t, Compose(a, b, c).ApproxEqual(a.Mul(b).Mul(c), 1e-12))
	assert.True(t, Compose(a, b, c).ApproxEqual(a.Mul(b.Mul(c)), 1e-12))
}

func TestMatrix_Apply(t *testing.T) {
	m := Translation(1, 2, 3).Mul(rotZ90)

	p := m.Apply(r3.Vec{X: 1})
	assert.InDelta(t, 1, p.X, 1e-12)
	assert.InDelta(t, 3, p.Y, 1e-12)
	assert.InDelta(t, 3, p.Z, 1e-12)

	d := m.ApplyDirection(r3.Vec{X: 1})
	assert.InDelta(t, 0, d.X, 1e-12)
	assert.InDelta(t, 1, d.Y, 1e-12)
	assert.InDelta(t, 0, d.Z, 1e-12)
}

func TestMatrix_IsRigid(t *testing.T) {
	tests := []struct {
		name string
		m    Matrix
		want bool
	}{
		{"identity", Identity(), true},
		{"rotation plus translation", Translation(4, 5, 6).Mul(rotZ90), true},
		{"uniform scale", Matrix{2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 1}, false},
		{"reflection", Matrix{-1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}, false},
		{"shear", Matrix{1, 0.5, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}, false},
		{"projective row", Matrix{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0.1, 0, 0, 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.m.IsRigid())
		})
	}
}

func TestMatrix_NonRigidPropagates(t *testing.T) {
	scale := Matrix{2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 1}
	world := scale.Mul(Translation(1, 1, 1))

	// no renormalisation: the scale distorts the child's translation
	assert.Equal(t, r3.Vec{X: 2, Y: 2, Z: 2}, world.Origin())
}
