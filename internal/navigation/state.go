package navigation

import (
	"github.com/dgmato/PercutaneousNavigation/internal/proximity"
	"github.com/dgmato/PercutaneousNavigation/internal/topology"
	"github.com/dgmato/PercutaneousNavigation/internal/viewpoint"
	"gonum.org/v1/gonum/spatial/r3"
)

// State is a snapshot of the session for display.
type State struct {
	Mode           topology.Mode          `json:"mode"`
	Enabled        Features               `json:"enabled"`
	Selections     map[string]string      `json:"selections"`
	Locked         []topology.Role        `json:"locked,omitempty"`
	Missing        []string               `json:"missing,omitempty"`
	DistanceActive bool                   `json:"distance_active"`
	DistanceLabel  string                 `json:"distance_label"`
	Distance       *proximity.Reading     `json:"distance,omitempty"`
	Segment        [2]r3.Vec              `json:"segment"`
	Viewpoint      Instrument             `json:"viewpoint,omitempty"`
	Camera         *viewpoint.CameraState `json:"camera,omitempty"`
	Visible        map[string]bool        `json:"visible"`
}

type cameraStater interface {
	State() viewpoint.CameraState
}

// State returns the current session snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	st := State{
		Mode:       s.builder.Mode(),
		Enabled:    s.featuresLocked(),
		Selections: make(map[string]string, len(s.resolved)),
		Locked:     sortedRoles(s.locked),
		Viewpoint:  s.activeView,
		Visible: map[string]bool{
			topology.BoneModel.String():       !s.hidden[topology.BoneModel],
			topology.SoftTissueModel.String(): !s.hidden[topology.SoftTissueModel],
		},
	}
	for role, id := range s.resolved {
		st.Selections[role.String()] = s.graph.Name(id)
	}
	for _, w := range s.missing {
		st.Missing = append(st.Missing, w.String())
	}
	s.mu.Unlock()

	st.DistanceActive = s.monitor.Active()
	st.DistanceLabel = s.label.Text()
	if r, ok := s.monitor.Last(); ok {
		st.Distance = &r
	}
	st.Segment[0], st.Segment[1] = s.monitor.Line().Vertices()
	if cs, ok := s.camera.(cameraStater); ok {
		c := cs.State()
		st.Camera = &c
	}
	return st
}
