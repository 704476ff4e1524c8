// Package viewpoint makes a camera ride on an instrument. A fixed offset
// frame is parented under the instrument's tracking frame; while active, the
// controller pushes the offset frame's world pose to the camera on every
// change.
package viewpoint

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgmato/PercutaneousNavigation/internal/frames"
	"github.com/dgmato/PercutaneousNavigation/internal/monitoring"
)

// ErrUnbound is returned by Start when no offset frame or camera is set.
var ErrUnbound = errors.New("viewpoint: controller not bound")

// Camera is a view whose pose can be driven by a frame.
type Camera interface {
	BindToFrame(name string)
	Unbind()
	UpdatePose(world frames.Matrix)
}

// Controller drives one camera from whichever offset frame was bound last.
type Controller struct {
	graph  *frames.Graph
	camera Camera

	mu     sync.Mutex
	offset frames.ID
	token  frames.Token
	active bool
}

// NewController returns an idle controller for cam.
func NewController(g *frames.Graph, cam Camera) *Controller {
	return &Controller{graph: g, camera: cam, offset: frames.None}
}

// FollowWithOffset parents offset under tracked, so the offset frame moves
// rigidly with the instrument.
func (c *Controller) FollowWithOffset(tracked, offset frames.ID) {
	c.graph.SetParent(offset, tracked)
}

// BindCamera selects the frame whose world pose drives the camera. It takes
// effect on the next Start.
func (c *Controller) BindCamera(offset frames.ID) {
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
}

// Offset returns the bound offset frame, or frames.None.
func (c *Controller) Offset() frames.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Start binds the camera to the offset frame, pushes its current pose and
// follows it from then on. Starting an active controller is a no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		monitoring.Warnf("viewpoint: start ignored, already following %q", c.graph.Name(c.offset))
		return nil
	}
	if c.camera == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: no camera", ErrUnbound)
	}
	if c.offset == frames.None {
		c.mu.Unlock()
		return fmt.Errorf("%w: no offset frame", ErrUnbound)
	}
	offset := c.offset
	name := c.graph.Name(offset)
	c.camera.BindToFrame(name)
	// Subscribe under c.mu so a concurrent Stop always sees the token.
	c.token = c.graph.Subscribe(offset, func(frames.ID) {
		c.camera.UpdatePose(c.graph.WorldPose(offset))
	})
	c.active = true
	c.mu.Unlock()

	c.camera.UpdatePose(c.graph.WorldPose(offset))
	monitoring.Logf("viewpoint: following %q", name)
	return nil
}

// Stop detaches the camera. Stopping an idle controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	token := c.token
	c.token = 0
	c.active = false
	c.mu.Unlock()

	c.graph.Unsubscribe(token)
	c.camera.Unbind()
	monitoring.Logf("viewpoint: stopped")
}

// Active reports whether the camera is following a frame.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
