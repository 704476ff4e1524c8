package viewpoint

import (
	"math"
	"sync"

	"github.com/dgmato/PercutaneousNavigation/internal/frames"
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultFocalDistance is how far in front of the camera the focal point is
// placed, in millimetres.
const DefaultFocalDistance = 100.0

// CameraState is what a renderer needs to draw the view.
type CameraState struct {
	Frame      string        `json:"frame,omitempty"`
	Position   r3.Vec        `json:"position"`
	FocalPoint r3.Vec        `json:"focal_point"`
	ViewUp     r3.Vec        `json:"view_up"`
	View       frames.Matrix `json:"view"`
	Updates    uint64        `json:"updates"`
}

// SceneCamera is the default Camera. The driving pose's origin is the eye,
// its +Z axis is the viewing direction and its +Y axis is up.
type SceneCamera struct {
	focalDistance float64

	mu    sync.Mutex
	state CameraState
}

// NewSceneCamera returns a camera at the origin looking down +Z.
func NewSceneCamera(focalDistance float64) *SceneCamera {
	if focalDistance <= 0 {
		focalDistance = DefaultFocalDistance
	}
	c := &SceneCamera{focalDistance: focalDistance}
	c.state = c.stateFor(CameraState{
		FocalPoint: r3.Vec{Z: focalDistance},
		ViewUp:     r3.Vec{Y: 1},
	}, frames.Identity())
	return c
}

// BindToFrame records the driving frame's name.
func (c *SceneCamera) BindToFrame(name string) {
	c.mu.Lock()
	c.state.Frame = name
	c.mu.Unlock()
}

// Unbind clears the driving frame. The last pose is kept.
func (c *SceneCamera) Unbind() {
	c.mu.Lock()
	c.state.Frame = ""
	c.mu.Unlock()
}

// UpdatePose moves the camera to world.
func (c *SceneCamera) UpdatePose(world frames.Matrix) {
	c.mu.Lock()
	next := c.stateFor(c.state, world)
	next.Frame = c.state.Frame
	next.Updates = c.state.Updates + 1
	c.state = next
	c.mu.Unlock()
}

// State returns the current camera parameters.
func (c *SceneCamera) State() CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// stateFor derives the camera from world. A pose whose rotation collapses
// the viewing or up axis keeps prev's direction for that axis, and a view
// matrix that cannot be built keeps prev's, so the state stays finite.
func (c *SceneCamera) stateFor(prev CameraState, world frames.Matrix) CameraState {
	eye := world.Origin()
	focal := world.Apply(r3.Vec{Z: c.focalDistance})
	if r3.Norm(r3.Sub(focal, eye)) == 0 {
		focal = r3.Add(eye, r3.Sub(prev.FocalPoint, prev.Position))
	}
	up := prev.ViewUp
	if y := world.ApplyDirection(r3.Vec{Y: 1}); r3.Norm(y) > 0 {
		up = r3.Unit(y)
	}

	view := mgl64.LookAtV(toMgl(eye), toMgl(focal), toMgl(up))

	// mgl64 matrices are column-major.
	var m frames.Matrix
	for r := 0; r < 4; r++ {
		for col := 0; col < 4; col++ {
			m[r*4+col] = view.At(r, col)
		}
	}
	if !finite(m[:]) {
		m = prev.View
	}
	return CameraState{
		Position:   eye,
		FocalPoint: focal,
		ViewUp:     up,
		View:       m,
	}
}

func finite(vs []float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func toMgl(v r3.Vec) mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}
