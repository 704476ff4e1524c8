package frames

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// Fiducial is a named point with a fixed local coordinate and an optional
// attaching frame. Attaching only changes which frame the point rides on;
// the local coordinate never changes.
type Fiducial struct {
	name  string
	local r3.Vec

	mu    sync.Mutex
	frame ID
}

// NewFiducial creates an unattached fiducial at the given local coordinate.
func NewFiducial(name string, local r3.Vec) *Fiducial {
	return &Fiducial{name: name, local: local, frame: None}
}

// Name returns the fiducial's label.
func (f *Fiducial) Name() string { return f.name }

// Local returns the fixed local coordinate.
func (f *Fiducial) Local() r3.Vec { return f.local }

// Attach moves the fiducial onto frame id; None detaches it.
func (f *Fiducial) Attach(id ID) {
	f.mu.Lock()
	f.frame = id
	f.mu.Unlock()
}

// Frame returns the attaching frame, or None.
func (f *Fiducial) Frame() ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

// World returns the fiducial's position in world coordinates. An unattached
// fiducial's local coordinate is already in world coordinates.
func (f *Fiducial) World(g *Graph) r3.Vec {
	id := f.Frame()
	if id == None {
		return f.local
	}
	return g.WorldPose(id).Apply(f.local)
}
