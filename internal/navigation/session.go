// Package navigation is the operator-facing session: it resolves which frame
// plays each role, gates the registration, navigation, distance and
// viewpoint actions on what has been resolved, and records what happened.
package navigation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/config"
	"github.com/dgmato/PercutaneousNavigation/internal/frames"
	"github.com/dgmato/PercutaneousNavigation/internal/monitoring"
	"github.com/dgmato/PercutaneousNavigation/internal/proximity"
	"github.com/dgmato/PercutaneousNavigation/internal/timeutil"
	"github.com/dgmato/PercutaneousNavigation/internal/topology"
	"github.com/dgmato/PercutaneousNavigation/internal/viewpoint"
)

var (
	// ErrFeatureDisabled is returned when an action's prerequisites are not
	// resolved yet.
	ErrFeatureDisabled = errors.New("navigation: feature disabled")
	// ErrViewpointBusy is returned when one instrument's viewpoint is
	// requested while the other's is active.
	ErrViewpointBusy = errors.New("navigation: other viewpoint active")
	// ErrNotSelectable is returned when selecting a role whose frame is
	// fixed by configuration.
	ErrNotSelectable = errors.New("navigation: role is not operator-selectable")
	// ErrSelectionLocked is returned when selecting a role after the step
	// that uses it has been applied.
	ErrSelectionLocked = errors.New("navigation: selection locked")
	// ErrUnknownFrame is returned for a frame name the graph does not have.
	ErrUnknownFrame = errors.New("navigation: unknown frame")
	// ErrNotOwned is returned when defining a frame the operator does not
	// own: tracked frames, model frames and camera offsets.
	ErrNotOwned = errors.New("navigation: frame is not operator-defined")
	// ErrFrameInUse is returned when selecting a frame that already plays
	// another role.
	ErrFrameInUse = errors.New("navigation: frame already plays another role")
)

// SampleBuffer is how many readings may wait for the recorder before new
// ones are dropped.
const SampleBuffer = 256

// Instrument names a tracked tool.
type Instrument string

const (
	Needle  Instrument = "needle"
	Pointer Instrument = "pointer"
)

// ParseInstrument accepts "needle" or "pointer".
func ParseInstrument(s string) (Instrument, error) {
	switch Instrument(s) {
	case Needle, Pointer:
		return Instrument(s), nil
	}
	return "", fmt.Errorf("unknown instrument %q", s)
}

// Recorder persists session events. Errors are logged and never interrupt
// navigation.
type Recorder interface {
	RecordTransition(mode topology.Mode, at time.Time) error
	RecordSample(r proximity.Reading) error
}

// MissingNodeWarning reports a tracked frame that has not been published.
type MissingNodeWarning struct {
	Role  topology.Role
	Frame string
}

func (w MissingNodeWarning) String() string {
	return fmt.Sprintf("%s frame %q was not found", w.Role, w.Frame)
}

// Options configures a Session.
type Options struct {
	Config   *config.NavigationConfig
	Graph    *frames.Graph
	Clock    timeutil.Clock
	Camera   viewpoint.Camera // defaults to a SceneCamera
	Recorder Recorder         // optional
}

// Session owns the topology builder, the proximity monitor and the
// viewpoint controller for one frame graph.
type Session struct {
	graph     *frames.Graph
	clock     timeutil.Clock
	bindings  map[topology.Role]config.Binding
	builder   *topology.Builder
	monitor   *proximity.Monitor
	label     *proximity.TextLabel
	viewpoint *viewpoint.Controller
	camera    viewpoint.Camera
	recorder  Recorder

	needleCamera  frames.ID
	pointerCamera frames.ID

	queueMu   sync.RWMutex
	samples   chan sampleJob // nil without a recorder or once closed
	recording sync.WaitGroup

	mu         sync.Mutex
	resolved   topology.Frames
	locked     map[topology.Role]bool
	missing    []MissingNodeWarning
	activeView Instrument
	hidden     map[topology.Role]bool
	defined    map[string]bool
	dropped    uint64
}

// sampleJob is a reading to record, or a flush marker when done is set.
type sampleJob struct {
	reading proximity.Reading
	done    chan struct{}
}

// NewSession creates the owned frames and camera offsets in the graph and
// resolves every role it can.
func NewSession(opts Options) (*Session, error) {
	if opts.Graph == nil {
		return nil, errors.New("navigation: nil graph")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.EmptyConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("navigation: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	camera := opts.Camera
	if camera == nil {
		camera = viewpoint.NewSceneCamera(cfg.GetFocalDistance())
	}

	s := &Session{
		graph:     opts.Graph,
		clock:     clock,
		bindings:  cfg.GetBindings(),
		builder:   topology.NewBuilder(opts.Graph),
		monitor:   proximity.NewMonitor(opts.Graph, clock, cfg.GetTargetPoint()),
		label:     proximity.NewTextLabel(),
		viewpoint: viewpoint.NewController(opts.Graph, camera),
		camera:    camera,
		recorder:  opts.Recorder,
		resolved:  make(topology.Frames),
		locked:    make(map[topology.Role]bool),
		hidden:    make(map[topology.Role]bool),
		defined:   make(map[string]bool),
	}

	nc, pc := cfg.GetNeedleCamera(), cfg.GetPointerCamera()
	s.needleCamera, _ = s.graph.GetOrCreate(nc.Frame, nc.Local())
	s.pointerCamera, _ = s.graph.GetOrCreate(pc.Frame, pc.Local())

	for _, role := range topology.Roles() {
		b := s.bindings[role]
		if b.Kind != config.KindOwned {
			continue
		}
		id, created := s.graph.GetOrCreate(b.Frame, b.Local())
		if !created {
			monitoring.Logf("navigation: reusing existing frame %q for %s", b.Frame, role)
		}
		s.resolved[role] = id
	}

	s.monitor.SetLabel(s.label)
	if s.recorder != nil {
		s.samples = make(chan sampleJob, SampleBuffer)
		s.recording.Add(1)
		go s.recordSamples()
		s.monitor.AddListener(proximity.ListenerFunc(s.queueSample))
	}

	s.Refresh()
	return s, nil
}

// queueSample runs on the notifying goroutine and never blocks it. Readings
// that do not fit in the buffer are dropped and counted.
func (s *Session) queueSample(r proximity.Reading) {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.samples == nil {
		return
	}
	select {
	case s.samples <- sampleJob{reading: r}:
	default:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		if n == 1 || n%100 == 0 {
			monitoring.Warnf("navigation: recorder behind, %d samples dropped", n)
		}
	}
}

func (s *Session) recordSamples() {
	defer s.recording.Done()
	for job := range s.samples {
		if job.done != nil {
			close(job.done)
			continue
		}
		if err := s.recorder.RecordSample(job.reading); err != nil {
			monitoring.Warnf("navigation: recording sample: %v", err)
		}
	}
}

// Flush waits until every reading queued so far has been handed to the
// recorder. It returns at once when there is no recorder or the session is
// closed.
func (s *Session) Flush() {
	s.queueMu.RLock()
	if s.samples == nil {
		s.queueMu.RUnlock()
		return
	}
	done := make(chan struct{})
	s.samples <- sampleJob{done: done}
	s.queueMu.RUnlock()
	<-done
}

// DroppedSamples returns how many readings were not recorded because the
// recorder fell behind.
func (s *Session) DroppedSamples() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Refresh looks up tracked frames again and applies configured default
// selections that have appeared since the last call. It returns the tracked
// frames that are still missing.
func (s *Session) Refresh() []MissingNodeWarning {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []MissingNodeWarning
	for _, role := range topology.Roles() {
		b := s.bindings[role]
		switch b.Kind {
		case config.KindTracked:
			id, ok := s.graph.Lookup(b.Frame)
			if !ok {
				missing = append(missing, MissingNodeWarning{Role: role, Frame: b.Frame})
				continue
			}
			s.resolved[role] = id
		case config.KindSelect:
			if b.Frame == "" || s.resolved.Get(role) != frames.None {
				continue
			}
			id, ok := s.graph.Lookup(b.Frame)
			if !ok {
				continue
			}
			if err := s.checkSelectableLocked(role, id); err != nil {
				monitoring.Warnf("navigation: default %s selection skipped: %v", role, err)
				continue
			}
			s.resolved[role] = id
		}
	}

	if !sameWarnings(missing, s.missing) {
		for _, w := range missing {
			monitoring.Warnf("navigation: %s", w)
		}
	}
	s.missing = missing
	return append([]MissingNodeWarning(nil), missing...)
}

func sameWarnings(a, b []MissingNodeWarning) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Select assigns an operator-selectable role. An empty name clears the
// selection.
func (s *Session) Select(role topology.Role, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bindings[role].Fixed() {
		return fmt.Errorf("%w: %s", ErrNotSelectable, role)
	}
	if s.locked[role] {
		return fmt.Errorf("%w: %s", ErrSelectionLocked, role)
	}
	if name == "" {
		delete(s.resolved, role)
		return nil
	}
	id, ok := s.graph.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFrame, name)
	}
	if err := s.checkSelectableLocked(role, id); err != nil {
		return err
	}
	s.resolved[role] = id
	monitoring.Logf("navigation: %s -> %q", role, name)
	return nil
}

// checkSelectableLocked refuses a frame that is a camera offset, is bound
// to another role by configuration or is already selected for another role.
// Recipes assume every role has its own frame. Caller holds s.mu.
func (s *Session) checkSelectableLocked(role topology.Role, id frames.ID) error {
	name := s.graph.Name(id)
	if id == s.needleCamera || id == s.pointerCamera {
		return fmt.Errorf("%w: %q is a camera offset", ErrFrameInUse, name)
	}
	for other, b := range s.bindings {
		if other != role && b.Fixed() && b.Frame == name {
			return fmt.Errorf("%w: %q is the %s frame", ErrFrameInUse, name, other)
		}
	}
	for other, cur := range s.resolved {
		if other != role && cur == id {
			return fmt.Errorf("%w: %q is already the %s frame", ErrFrameInUse, name, other)
		}
	}
	return nil
}

// DefineFrame creates or overwrites an operator-defined frame, such as a
// tip calibration. Configured frames, camera offsets and frames created by
// anyone else are refused.
func (s *Session) DefineFrame(name string, m frames.Matrix) (frames.ID, error) {
	if name == "" {
		return frames.None, fmt.Errorf("%w: empty name", ErrUnknownFrame)
	}
	if s.reserved(name) {
		return frames.None, fmt.Errorf("%w: %q", ErrNotOwned, name)
	}

	s.mu.Lock()
	if _, exists := s.graph.Lookup(name); exists && !s.defined[name] {
		s.mu.Unlock()
		return frames.None, fmt.Errorf("%w: %q was created by a tracking source", ErrNotOwned, name)
	}
	s.defined[name] = true
	s.mu.Unlock()

	if !m.IsRigid() {
		monitoring.Warnf("navigation: frame %q is not a rigid transform", name)
	}
	id, created := s.graph.GetOrCreate(name, m)
	if !created {
		s.graph.SetLocal(id, m)
	}
	return id, nil
}

// reserved reports whether name is an owned or tracked binding frame or a
// camera offset.
func (s *Session) reserved(name string) bool {
	if name == s.graph.Name(s.needleCamera) || name == s.graph.Name(s.pointerCamera) {
		return true
	}
	for _, b := range s.bindings {
		if b.Fixed() && b.Frame == name {
			return true
		}
	}
	return false
}

// Writable reports whether a tracking source may write name's local
// matrix. Model frames, camera offsets and operator-defined frames are
// refused; tracked frames and frames nobody has claimed are allowed.
func (s *Session) Writable(name string) bool {
	for _, b := range s.bindings {
		if b.Frame != name {
			continue
		}
		if b.Kind == config.KindTracked {
			return true
		}
		if b.Kind == config.KindOwned {
			return false
		}
	}
	if name == s.graph.Name(s.needleCamera) || name == s.graph.Name(s.pointerCamera) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.defined[name]
}

// Features reports which actions are currently available.
type Features struct {
	Registration     bool `json:"registration"`
	Navigation       bool `json:"navigation"`
	Distance         bool `json:"distance"`
	NeedleViewpoint  bool `json:"needle_viewpoint"`
	PointerViewpoint bool `json:"pointer_viewpoint"`
}

func (s *Session) featuresLocked() Features {
	has := func(roles ...topology.Role) bool {
		for _, r := range roles {
			if s.resolved.Get(r) == frames.None {
				return false
			}
		}
		return true
	}
	mode := s.builder.Mode()
	return Features{
		Registration:     mode != topology.NavigationMode && len(topology.Registration.Missing(s.resolved)) == 0,
		Navigation:       len(topology.Navigation.Missing(s.resolved)) == 0,
		Distance:         has(topology.NeedleTip, topology.NeedleTracking, topology.PatientReference),
		NeedleViewpoint:  has(topology.NeedleTracking),
		PointerViewpoint: has(topology.PointerTracking),
	}
}

// Enabled reports which actions are currently available.
func (s *Session) Enabled() Features {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.featuresLocked()
}

// ApplyRegistration builds the registration topology and locks the tip
// selections.
func (s *Session) ApplyRegistration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.builder.EnterRegistration(s.resolved); err != nil {
		if errors.Is(err, topology.ErrMissingRole) {
			return fmt.Errorf("%w: %v", ErrFeatureDisabled, err)
		}
		return err
	}
	s.locked[topology.PointerTip] = true
	s.locked[topology.NeedleTip] = true
	s.recordTransition(topology.RegistrationMode)
	return nil
}

// ApplyNavigation resets and builds the navigation topology and locks the
// patient reference selection.
func (s *Session) ApplyNavigation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.builder.EnterNavigation(s.resolved); err != nil {
		if errors.Is(err, topology.ErrMissingRole) {
			return fmt.Errorf("%w: %v", ErrFeatureDisabled, err)
		}
		return err
	}
	s.locked[topology.PatientReference] = true
	s.recordTransition(topology.NavigationMode)
	return nil
}

func (s *Session) recordTransition(mode topology.Mode) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordTransition(mode, s.clock.Now()); err != nil {
		monitoring.Warnf("navigation: recording transition: %v", err)
	}
}

// bindDistanceLocked points the monitor at the needle and the target at the
// patient reference. Caller holds s.mu.
func (s *Session) bindDistanceLocked() error {
	if !s.featuresLocked().Distance {
		return fmt.Errorf("%w: distance needs needle tip, needle tracking and patient reference", ErrFeatureDisabled)
	}
	s.monitor.AttachTarget(s.resolved[topology.PatientReference])
	s.monitor.Bind(string(Needle), s.resolved[topology.NeedleTip], s.resolved[topology.NeedleTracking])
	return nil
}

// StartDistance starts following the needle tip to target distance.
func (s *Session) StartDistance() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bindDistanceLocked(); err != nil {
		return err
	}
	return s.monitor.Start()
}

// StopDistance stops following the distance. The last label and segment
// stay as they were.
func (s *Session) StopDistance() {
	s.monitor.Stop()
}

// MeasureOnce computes the distance immediately without subscribing.
func (s *Session) MeasureOnce() (proximity.Reading, error) {
	s.mu.Lock()
	err := s.bindDistanceLocked()
	s.mu.Unlock()
	if err != nil {
		return proximity.Reading{}, err
	}
	return s.monitor.Compute()
}

// ToggleViewpoint turns the instrument's camera on or off and reports
// whether it is now on. Only one instrument's viewpoint can be on.
func (s *Session) ToggleViewpoint(inst Instrument) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeView == inst {
		s.viewpoint.Stop()
		s.activeView = ""
		return false, nil
	}
	if s.activeView != "" {
		return false, fmt.Errorf("%w: %s", ErrViewpointBusy, s.activeView)
	}

	var tracked, offset frames.ID
	switch inst {
	case Needle:
		tracked, offset = s.resolved.Get(topology.NeedleTracking), s.needleCamera
	case Pointer:
		tracked, offset = s.resolved.Get(topology.PointerTracking), s.pointerCamera
	default:
		return false, fmt.Errorf("unknown instrument %q", inst)
	}
	if tracked == frames.None {
		return false, fmt.Errorf("%w: %s tracking frame not resolved", ErrFeatureDisabled, inst)
	}

	s.viewpoint.FollowWithOffset(tracked, offset)
	s.viewpoint.BindCamera(offset)
	if err := s.viewpoint.Start(); err != nil {
		return false, err
	}
	s.activeView = inst
	return true, nil
}

// ToggleVisibility flips whether an anatomy model is shown and reports the
// new visibility.
func (s *Session) ToggleVisibility(role topology.Role) (bool, error) {
	if role != topology.BoneModel && role != topology.SoftTissueModel {
		return false, fmt.Errorf("visibility applies to anatomy models, not %s", role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hidden[role] = !s.hidden[role]
	return !s.hidden[role], nil
}

// Close stops the monitor and the viewpoint, then waits for queued samples
// to be recorded. Close is idempotent.
func (s *Session) Close() {
	if s.monitor.Active() {
		s.monitor.Stop()
	}
	s.mu.Lock()
	if s.activeView != "" {
		s.viewpoint.Stop()
		s.activeView = ""
	}
	s.mu.Unlock()

	s.queueMu.Lock()
	if s.samples != nil {
		close(s.samples)
		s.samples = nil
	}
	s.queueMu.Unlock()
	s.recording.Wait()
}

// Graph returns the session's frame graph.
func (s *Session) Graph() *frames.Graph { return s.graph }

// Monitor returns the proximity monitor, e.g. to add listeners.
func (s *Session) Monitor() *proximity.Monitor { return s.monitor }

// Mode returns the topology mode.
func (s *Session) Mode() topology.Mode { return s.builder.Mode() }

// Frame returns the frame resolved for role, or frames.None.
func (s *Session) Frame(role topology.Role) frames.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved.Get(role)
}

func sortedRoles(m map[topology.Role]bool) []topology.Role {
	out := make([]topology.Role, 0, len(m))
	for r, ok := range m {
		if ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
