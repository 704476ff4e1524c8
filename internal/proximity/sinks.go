package proximity

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// LabelSink is a write-only text display for the formatted distance.
type LabelSink interface {
	SetText(text string)
}

// LabelFunc adapts a function to LabelSink.
type LabelFunc func(text string)

// SetText calls f.
func (f LabelFunc) SetText(text string) { f(text) }

// TextLabel is a LabelSink that keeps the last text for later display.
type TextLabel struct {
	mu   sync.Mutex
	text string
}

// NewTextLabel returns a label showing "-", the placeholder shown before the
// first measurement.
func NewTextLabel() *TextLabel {
	return &TextLabel{text: "-"}
}

// SetText stores text.
func (l *TextLabel) SetText(text string) {
	l.mu.Lock()
	l.text = text
	l.mu.Unlock()
}

// Text returns the last stored text.
func (l *TextLabel) Text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.text
}

// Segment is the renderable two-point line between tip and target. It is
// created once and its vertices are overwritten on every recompute.
type Segment struct {
	name string

	mu      sync.Mutex
	a, b    r3.Vec
	version uint64
}

// NewSegment returns a segment with both vertices at the origin.
func NewSegment(name string) *Segment {
	return &Segment{name: name}
}

// Name returns the segment's name.
func (s *Segment) Name() string { return s.name }

// Set overwrites both vertices.
func (s *Segment) Set(a, b r3.Vec) {
	s.mu.Lock()
	s.a, s.b = a, b
	s.version++
	s.mu.Unlock()
}

// Vertices returns the current vertices.
func (s *Segment) Vertices() (a, b r3.Vec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a, s.b
}

// Version counts how many times the vertices were written.
func (s *Segment) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}
