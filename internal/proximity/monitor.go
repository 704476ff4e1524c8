// Package proximity measures the distance between an instrument tip and a
// planned target while the instrument moves. The monitor subscribes to the
// instrument's tracking frame and recomputes synchronously on every pose
// change: no buffering, no coalescing.
package proximity

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/frames"
	"github.com/dgmato/PercutaneousNavigation/internal/monitoring"
	"github.com/dgmato/PercutaneousNavigation/internal/timeutil"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrUnbound is returned when the monitor is started before its driving
// frame, tip offset or label sink has been set.
var ErrUnbound = errors.New("proximity: monitor not bound")

// Names of the long-lived display objects owned by a Monitor.
const (
	TipName     = "Tip"
	TargetName  = "Target"
	SegmentName = "Line"
)

// Reading is one tip-to-target measurement.
type Reading struct {
	Source   string    `json:"source"`
	Distance float64   `json:"distance_mm"`
	Tip      r3.Vec    `json:"tip"`
	Target   r3.Vec    `json:"target"`
	At       time.Time `json:"at"`
}

// Label formats the distance the way it is displayed.
func (r Reading) Label() string {
	return fmt.Sprintf("%.1f", r.Distance)
}

// Listener receives every reading after the label and segment are updated.
type Listener interface {
	OnReading(Reading)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Reading)

// OnReading calls f.
func (f ListenerFunc) OnReading(r Reading) { f(r) }

// Monitor keeps a label and a line segment in sync with the distance from
// the Tip fiducial to the Target fiducial.
type Monitor struct {
	graph  *frames.Graph
	clock  timeutil.Clock
	tip    *frames.Fiducial
	target *frames.Fiducial
	line   *Segment

	mu        sync.Mutex
	source    string
	tipOffset frames.ID
	driving   frames.ID
	label     LabelSink
	listeners []Listener
	token     frames.Token
	active    bool
	last      *Reading
}

// NewMonitor returns an idle monitor. The Tip fiducial sits at the origin of
// whatever tip offset frame is bound; the Target fiducial sits at
// targetLocal and stays unattached until AttachTarget.
func NewMonitor(g *frames.Graph, clock timeutil.Clock, targetLocal r3.Vec) *Monitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Monitor{
		graph:     g,
		clock:     clock,
		tip:       frames.NewFiducial(TipName, r3.Vec{}),
		target:    frames.NewFiducial(TargetName, targetLocal),
		line:      NewSegment(SegmentName),
		tipOffset: frames.None,
		driving:   frames.None,
	}
}

// Bind selects the instrument to measure. source names the instrument in
// readings, tipOffset carries the Tip fiducial and driving is the frame
// whose changes trigger a recompute. A new binding takes effect on the next
// Start.
func (m *Monitor) Bind(source string, tipOffset, driving frames.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
	m.tipOffset = tipOffset
	m.driving = driving
}

// AttachTarget moves the Target fiducial onto frame id.
func (m *Monitor) AttachTarget(id frames.ID) {
	m.target.Attach(id)
}

// SetLabel sets the sink that receives the formatted distance.
func (m *Monitor) SetLabel(sink LabelSink) {
	m.mu.Lock()
	m.label = sink
	m.mu.Unlock()
}

// AddListener registers l for every subsequent reading.
func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// checkBoundLocked reports which part of the binding is missing. Caller
// holds m.mu.
func (m *Monitor) checkBoundLocked() error {
	var missing []string
	if m.driving == frames.None {
		missing = append(missing, "driving frame")
	}
	if m.tipOffset == frames.None {
		missing = append(missing, "tip offset")
	}
	if m.label == nil {
		missing = append(missing, "label sink")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", ErrUnbound, missing)
	}
	return nil
}

// Start attaches the Tip fiducial and subscribes to the driving frame.
// Starting an active monitor is a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		monitoring.Warnf("proximity: start ignored, already observing %q", m.source)
		return nil
	}
	if err := m.checkBoundLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.tip.Attach(m.tipOffset)
	driving := m.driving
	source := m.source
	// Subscribe under m.mu so a concurrent Stop always sees the token.
	// Graph.Subscribe never calls back, so this cannot deadlock.
	m.token = m.graph.Subscribe(driving, func(frames.ID) { m.recompute() })
	m.active = true
	m.mu.Unlock()

	monitoring.Logf("proximity: observing %q via %q", source, m.graph.Name(driving))
	return nil
}

// Stop removes the subscription. Stopping an idle monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		monitoring.Warnf("proximity: stop ignored, not observing")
		return
	}
	token := m.token
	m.token = 0
	m.active = false
	m.mu.Unlock()

	m.graph.Unsubscribe(token)
	monitoring.Logf("proximity: stopped")
}

// Active reports whether the monitor is subscribed.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Compute runs one recompute on demand, without subscribing.
func (m *Monitor) Compute() (Reading, error) {
	m.mu.Lock()
	if err := m.checkBoundLocked(); err != nil {
		m.mu.Unlock()
		return Reading{}, err
	}
	m.tip.Attach(m.tipOffset)
	m.mu.Unlock()
	return m.recompute(), nil
}

func (m *Monitor) recompute() Reading {
	tip := m.tip.World(m.graph)
	target := m.target.World(m.graph)

	m.mu.Lock()
	r := Reading{
		Source:   m.source,
		Distance: r3.Norm(r3.Sub(tip, target)),
		Tip:      tip,
		Target:   target,
		At:       m.clock.Now(),
	}
	if m.label != nil {
		m.label.SetText(r.Label())
	}
	m.line.Set(tip, target)
	m.last = &r
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnReading(r)
	}
	return r
}

// Last returns the most recent reading, if any.
func (m *Monitor) Last() (Reading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Reading{}, false
	}
	return *m.last, true
}

// Tip returns the Tip fiducial.
func (m *Monitor) Tip() *frames.Fiducial { return m.tip }

// Target returns the Target fiducial.
func (m *Monitor) Target() *frames.Fiducial { return m.target }

// Line returns the tip-to-target segment.
func (m *Monitor) Line() *Segment { return m.line }
