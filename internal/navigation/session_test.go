package navigation

import (
	"sync"
	"testing"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/config"
	"github.com/dgmato/PercutaneousNavigation/internal/frames"
	"github.com/dgmato/PercutaneousNavigation/internal/monitoring"
	"github.com/dgmato/PercutaneousNavigation/internal/proximity"
	"github.com/dgmato/PercutaneousNavigation/internal/timeutil"
	"github.com/dgmato/PercutaneousNavigation/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func init() {
	monitoring.SetLogger(nil)
}

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []topology.Mode
	samples     []proximity.Reading
}

func (r *fakeRecorder) RecordTransition(mode topology.Mode, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, mode)
	return nil
}

func (r *fakeRecorder) RecordSample(rd proximity.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, rd)
	return nil
}

var trackedFrames = []string{"PointerToTracker", "TrackerToReference", "NeedleToTracker", "ReferenceToTracker"}

func newSession(t *testing.T, cfg *config.NavigationConfig) (*Session, *frames.Graph, *fakeRecorder) {
	t.Helper()
	g := frames.NewGraph()
	rec := &fakeRecorder{}
	s, err := NewSession(Options{
		Config:   cfg,
		Graph:    g,
		Clock:    timeutil.NewMockClock(time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)),
		Recorder: rec,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, g, rec
}

// publish stands in for a tracking source announcing its frames.
func publish(g *frames.Graph, names ...string) {
	for _, n := range names {
		g.GetOrCreate(n, frames.Identity())
	}
}

func TestNewSession_CreatesOwnedFrames(t *testing.T) {
	s, g, _ := newSession(t, nil)

	for _, name := range []string{"PointerModel", "NeedleModel", "BoneModel", "SoftTissueModel", "needleCameraToNeedle", "pointerCameraToPointer"} {
		_, ok := g.Lookup(name)
		assert.True(t, ok, "frame %q should exist", name)
	}
	for _, name := range trackedFrames {
		_, ok := g.Lookup(name)
		assert.False(t, ok, "tracked frame %q must not be created", name)
	}

	cam, _ := g.Lookup("needleCameraToNeedle")
	assert.Equal(t, 60.72, g.Local(cam)[3])
	assert.Equal(t, s.Frame(topology.BoneModel), mustLookup(t, g, "BoneModel"))
}

func mustLookup(t *testing.T, g *frames.Graph, name string) frames.ID {
	t.Helper()
	id, ok := g.Lookup(name)
	require.True(t, ok, name)
	return id
}

func TestRefresh_ReportsMissingTrackedFrames(t *testing.T) {
	s, g, _ := newSession(t, nil)

	missing := s.Refresh()
	require.Len(t, missing, 4)
	assert.Equal(t, "NeedleToTracker", missing[2].Frame)
	assert.Equal(t, topology.NeedleTracking, missing[2].Role)
	assert.Equal(t, Features{}, s.Enabled())

	publish(g, trackedFrames...)
	assert.Empty(t, s.Refresh())
	f := s.Enabled()
	assert.True(t, f.NeedleViewpoint)
	assert.True(t, f.PointerViewpoint)
	assert.False(t, f.Registration, "tips not selected yet")
}

func TestSelect(t *testing.T) {
	s, g, _ := newSession(t, nil)
	publish(g, trackedFrames...)
	s.Refresh()

	assert.ErrorIs(t, s.Select(topology.NeedleTracking, "NeedleToTracker"), ErrNotSelectable)
	assert.ErrorIs(t, s.Select(topology.NeedleTip, "NoSuchFrame"), ErrUnknownFrame)

	_, err := s.DefineFrame("NeedleToTracker", frames.Identity())
	assert.ErrorIs(t, err, ErrNotOwned)

	_, err = s.DefineFrame("NeedleTipToNeedle", frames.Translation(0, 0, -100))
	require.NoError(t, err)
	require.NoError(t, s.Select(topology.NeedleTip, "NeedleTipToNeedle"))
	assert.Equal(t, "NeedleTipToNeedle", s.State().Selections["needle-tip"])

	require.NoError(t, s.Select(topology.NeedleTip, ""))
	assert.Equal(t, frames.None, s.Frame(topology.NeedleTip))
}

func TestDefaultSelectionResolvesOnRefresh(t *testing.T) {
	cfg := config.EmptyConfig()
	cfg.Bindings = map[string]config.Binding{
		"patient-reference": {Frame: "PatientToReference", Kind: config.KindSelect},
	}
	s, g, _ := newSession(t, cfg)
	assert.Equal(t, frames.None, s.Frame(topology.PatientReference))

	publish(g, "PatientToReference")
	s.Refresh()
	assert.Equal(t, mustLookup(t, g, "PatientToReference"), s.Frame(topology.PatientReference))
}

func TestScenario_RegistrationNavigationDistanceViewpoint(t *testing.T) {
	s, g, rec := newSession(t, nil)
	publish(g, trackedFrames...)
	s.Refresh()

	_, err := s.DefineFrame("NeedleTipToNeedle", frames.Translation(0, 0, -100))
	require.NoError(t, err)
	_, err = s.DefineFrame("PointerTipToPointer", frames.Translation(0, 0, -150))
	require.NoError(t, err)
	require.NoError(t, s.Select(topology.NeedleTip, "NeedleTipToNeedle"))
	require.NoError(t, s.Select(topology.PointerTip, "PointerTipToPointer"))

	// Registration
	require.True(t, s.Enabled().Registration)
	assert.False(t, s.Enabled().Navigation)
	assert.ErrorIs(t, s.ApplyNavigation(), ErrFeatureDisabled)
	require.NoError(t, s.ApplyRegistration())
	assert.Equal(t, topology.RegistrationMode, s.Mode())
	assert.ErrorIs(t, s.Select(topology.NeedleTip, "PointerTipToPointer"), ErrSelectionLocked)
	assert.Equal(t, mustLookup(t, g, "TrackerToReference"), g.Root(s.Frame(topology.PointerModel)))

	// Navigation
	assert.ErrorIs(t, s.StartDistance(), ErrFeatureDisabled)
	_, err = s.DefineFrame("PatientToReference", frames.Translation(0, 50, 0))
	require.NoError(t, err)
	require.NoError(t, s.Select(topology.PatientReference, "PatientToReference"))
	require.NoError(t, s.ApplyNavigation())
	assert.Equal(t, topology.NavigationMode, s.Mode())
	assert.False(t, s.Enabled().Registration)
	assert.ErrorIs(t, s.ApplyRegistration(), topology.ErrInvalidTransition)
	assert.Equal(t, []topology.Mode{topology.RegistrationMode, topology.NavigationMode}, rec.transitions)
	assert.Equal(t, mustLookup(t, g, "ReferenceToTracker"), g.Root(s.Frame(topology.BoneModel)))
	assert.True(t, g.Acyclic())

	// Distance
	require.NoError(t, s.StartDistance())
	needle := mustLookup(t, g, "NeedleToTracker")
	g.SetLocal(needle, frames.Translation(3, 54, 100))

	st := s.State()
	assert.True(t, st.DistanceActive)
	assert.Equal(t, "5.0", st.DistanceLabel)
	require.NotNil(t, st.Distance)
	assert.Equal(t, "needle", st.Distance.Source)
	assert.Equal(t, [2]r3.Vec{{X: 3, Y: 54}, {Y: 50}}, st.Segment)
	s.Flush()
	require.Len(t, rec.samples, 1)
	assert.InDelta(t, 5.0, rec.samples[0].Distance, 1e-9)

	s.StopDistance()
	g.SetLocal(needle, frames.Translation(0, 0, 0))
	s.Flush()
	assert.Len(t, rec.samples, 1)
	assert.Equal(t, "5.0", s.State().DistanceLabel)

	// Viewpoints are mutually exclusive.
	on, err := s.ToggleViewpoint(Needle)
	require.NoError(t, err)
	assert.True(t, on)
	_, err = s.ToggleViewpoint(Pointer)
	assert.ErrorIs(t, err, ErrViewpointBusy)
	st = s.State()
	assert.Equal(t, Needle, st.Viewpoint)
	require.NotNil(t, st.Camera)
	assert.Equal(t, "needleCameraToNeedle", st.Camera.Frame)
	assert.Equal(t, needle, g.Parent(mustLookup(t, g, "needleCameraToNeedle")))

	on, err = s.ToggleViewpoint(Needle)
	require.NoError(t, err)
	assert.False(t, on)
	on, err = s.ToggleViewpoint(Pointer)
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, "pointerCameraToPointer", s.State().Camera.Frame)
}

func TestMeasureOnce(t *testing.T) {
	s, g, rec := newSession(t, nil)
	publish(g, trackedFrames...)
	s.Refresh()

	_, err := s.MeasureOnce()
	assert.ErrorIs(t, err, ErrFeatureDisabled)

	_, err = s.DefineFrame("NeedleTipToNeedle", frames.Identity())
	require.NoError(t, err)
	_, err = s.DefineFrame("PatientToReference", frames.Translation(0, 0, 20))
	require.NoError(t, err)
	require.NoError(t, s.Select(topology.NeedleTip, "NeedleTipToNeedle"))
	require.NoError(t, s.Select(topology.PatientReference, "PatientToReference"))

	// Before navigation the tip frame is not under the tracking frame, so
	// only the target's parenting matters here.
	r, err := s.MeasureOnce()
	require.NoError(t, err)
	assert.InDelta(t, 20.0, r.Distance, 1e-9)
	assert.False(t, s.State().DistanceActive)
	s.Flush()
	assert.Len(t, rec.samples, 1)
}

func TestToggleViewpoint_Disabled(t *testing.T) {
	s, _, _ := newSession(t, nil)
	_, err := s.ToggleViewpoint(Needle)
	assert.ErrorIs(t, err, ErrFeatureDisabled)
	_, err = ParseInstrument("scalpel")
	assert.Error(t, err)
}

func TestToggleVisibility(t *testing.T) {
	s, _, _ := newSession(t, nil)

	visible, err := s.ToggleVisibility(topology.SoftTissueModel)
	require.NoError(t, err)
	assert.False(t, visible)
	assert.False(t, s.State().Visible["soft-tissue-model"])
	assert.True(t, s.State().Visible["bone-model"])

	visible, err = s.ToggleVisibility(topology.SoftTissueModel)
	require.NoError(t, err)
	assert.True(t, visible)

	_, err = s.ToggleVisibility(topology.NeedleModel)
	assert.Error(t, err)
}

func TestSelect_RefusesFrameOfAnotherRole(t *testing.T) {
	s, g, _ := newSession(t, nil)
	publish(g, trackedFrames...)
	s.Refresh()

	tests := []struct {
		name  string
		role  topology.Role
		frame string
	}{
		{"tip is the tracking frame", topology.NeedleTip, "NeedleToTracker"},
		{"tip is the tracker base", topology.PointerTip, "TrackerToReference"},
		{"reference is an anatomy model", topology.PatientReference, "BoneModel"},
		{"reference is its own tracking frame", topology.PatientReference, "ReferenceToTracker"},
		{"tip is a camera offset", topology.NeedleTip, "needleCameraToNeedle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.Select(tt.role, tt.frame), ErrFrameInUse)
			assert.Equal(t, frames.None, s.Frame(tt.role))
		})
	}

	_, err := s.DefineFrame("SharedTip", frames.Identity())
	require.NoError(t, err)
	require.NoError(t, s.Select(topology.NeedleTip, "SharedTip"))
	assert.ErrorIs(t, s.Select(topology.PointerTip, "SharedTip"), ErrFrameInUse)
	// Reselecting the same role is fine.
	require.NoError(t, s.Select(topology.NeedleTip, "SharedTip"))
}

func TestApply_StaysAcyclicAfterRefusedSelections(t *testing.T) {
	s, g, _ := newSession(t, nil)
	publish(g, trackedFrames...)
	s.Refresh()

	assert.Error(t, s.Select(topology.NeedleTip, "NeedleToTracker"))
	assert.Error(t, s.Select(topology.PatientReference, "BoneModel"))
	assert.ErrorIs(t, s.ApplyRegistration(), ErrFeatureDisabled)
	assert.ErrorIs(t, s.ApplyNavigation(), ErrFeatureDisabled)
	assert.True(t, g.Acyclic())

	needle := mustLookup(t, g, "NeedleToTracker")
	assert.NotPanics(t, func() { g.SetLocal(needle, frames.Translation(1, 2, 3)) })
}

func TestDefaultSelectionConflictIsSkipped(t *testing.T) {
	cfg := config.EmptyConfig()
	cfg.Bindings = map[string]config.Binding{
		"needle-tracking": {Frame: "NeedleToTracker", Kind: config.KindTracked},
		"needle-tip":      {Frame: "NeedleToTracker", Kind: config.KindSelect},
	}
	s, g, _ := newSession(t, cfg)
	publish(g, "NeedleToTracker")
	s.Refresh()

	assert.Equal(t, mustLookup(t, g, "NeedleToTracker"), s.Frame(topology.NeedleTracking))
	assert.Equal(t, frames.None, s.Frame(topology.NeedleTip))
}

func TestDefineFrame_OnlyOperatorFrames(t *testing.T) {
	s, g, _ := newSession(t, nil)
	publish(g, trackedFrames...)
	publish(g, "ExtraToolToTracker")

	for _, name := range []string{"NeedleToTracker", "BoneModel", "NeedleModel", "needleCameraToNeedle", "pointerCameraToPointer", "ExtraToolToTracker"} {
		_, err := s.DefineFrame(name, frames.Translation(99, 0, 0))
		assert.ErrorIs(t, err, ErrNotOwned, name)
		assert.NotEqual(t, 99.0, g.Local(mustLookup(t, g, name))[3], name)
	}

	id, err := s.DefineFrame("NeedleTipToNeedle", frames.Translation(0, 0, -100))
	require.NoError(t, err)
	again, err := s.DefineFrame("NeedleTipToNeedle", frames.Translation(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, -90.0, g.Local(id)[11])
}

func TestWritable(t *testing.T) {
	s, _, _ := newSession(t, nil)
	_, err := s.DefineFrame("NeedleTipToNeedle", frames.Identity())
	require.NoError(t, err)

	for name, want := range map[string]bool{
		"NeedleToTracker":        true,
		"TrackerToReference":     true,
		"ExtraToolToTracker":     true,
		"BoneModel":              false,
		"PointerModel":           false,
		"needleCameraToNeedle":   false,
		"pointerCameraToPointer": false,
		"NeedleTipToNeedle":      false,
	} {
		assert.Equal(t, want, s.Writable(name), name)
	}
}

// gatedRecorder blocks every sample until release is closed.
type gatedRecorder struct {
	fakeRecorder
	release chan struct{}
}

func (r *gatedRecorder) RecordSample(rd proximity.Reading) error {
	<-r.release
	return r.fakeRecorder.RecordSample(rd)
}

func TestSlowRecorderDoesNotBlockTracking(t *testing.T) {
	g := frames.NewGraph()
	rec := &gatedRecorder{release: make(chan struct{})}
	s, err := NewSession(Options{Graph: g, Recorder: rec})
	require.NoError(t, err)
	publish(g, trackedFrames...)
	s.Refresh()
	_, err = s.DefineFrame("NeedleTipToNeedle", frames.Identity())
	require.NoError(t, err)
	_, err = s.DefineFrame("PatientToReference", frames.Identity())
	require.NoError(t, err)
	require.NoError(t, s.Select(topology.NeedleTip, "NeedleTipToNeedle"))
	require.NoError(t, s.Select(topology.PatientReference, "PatientToReference"))
	require.NoError(t, s.StartDistance())

	needle := mustLookup(t, g, "NeedleToTracker")
	const updates = SampleBuffer + 10
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < updates; i++ {
			g.SetLocal(needle, frames.Translation(float64(i), 0, 0))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tracking updates blocked on the recorder")
	}

	dropped := s.DroppedSamples()
	assert.GreaterOrEqual(t, dropped, uint64(updates-SampleBuffer-1))

	close(rec.release)
	s.Close()
	assert.Len(t, rec.samples, updates-int(dropped))
	s.Close()
	s.Flush()
}
