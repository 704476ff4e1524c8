package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgmato/PercutaneousNavigation/internal/frames"
)

var rotX90 = frames.Matrix{
	1, 0, 0, 0,
	0, 0, -1, 0,
	0, 1, 0, 0,
	0, 0, 0, 1,
}

// scene registers one frame per role. Tracking frames get distinct
// non-identity locals so composition mistakes show up.
func scene(t *testing.T) (*frames.Graph, Frames) {
	t.Helper()
	g := frames.NewGraph()
	locals := map[Role]frames.Matrix{
		PointerTip:        frames.Translation(0, 0, 120),
		PointerTracking:   frames.Translation(100, 0, 0).Mul(rotX90),
		TrackerBase:       frames.Translation(0, 50, 0),
		NeedleTip:         frames.Translation(0, 0, 60),
		NeedleTracking:    frames.Translation(-20, 10, 5),
		PatientReference:  frames.Translation(1, 2, 3),
		ReferenceTracking: frames.Translation(0, 0, -40),
	}
	fs := make(Frames)
	for _, r := range Roles() {
		m, ok := locals[r]
		if !ok {
			m = frames.Identity()
		}
		fs[r], _ = g.GetOrCreate(r.String(), m)
	}
	return g, fs
}

func chainContains(g *frames.Graph, id, needle frames.ID) bool {
	for _, a := range g.Ancestors(id) {
		if a == needle {
			return true
		}
	}
	return false
}

func TestRole_ParseRoundTrip(t *testing.T) {
	for _, r := range Roles() {
		parsed, err := ParseRole(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, parsed)
	}
	_, err := ParseRole("camera")
	assert.Error(t, err)
}

func TestRecipe_RegistrationPose(t *testing.T) {
	g, fs := scene(t)

	require.NoError(t, Registration.Apply(g, fs))
	require.True(t, g.Acyclic())

	want := frames.Compose(
		g.WorldPose(fs[TrackerBase]),
		g.Local(fs[PointerTracking]),
		g.Local(fs[PointerTip]),
	)
	assert.True(t, g.WorldPose(fs[PointerModel]).ApproxEqual(want, 1e-9))
	assert.Equal(t, fs[TrackerBase], g.Root(fs[PointerModel]))
	assert.Equal(t, fs[NeedleTracking], g.Root(fs[NeedleModel]))
}

func TestRecipe_ApplyIsAllOrNothing(t *testing.T) {
	g, fs := scene(t)
	delete(fs, TrackerBase)

	err := Registration.Apply(g, fs)
	require.ErrorIs(t, err, ErrMissingRole)
	assert.Equal(t, frames.None, g.Parent(fs[PointerModel]), "no link applied on failure")
	assert.Equal(t, []Role{TrackerBase}, Registration.Missing(fs))
}

func TestReset_Idempotent(t *testing.T) {
	g, fs := scene(t)
	require.NoError(t, Registration.Apply(g, fs))

	Reset(g, fs)
	Reset(g, fs)

	for _, r := range Roles() {
		assert.Equal(t, frames.None, g.Parent(fs[r]), "role %s still parented", r)
	}
}

func TestBuilder_RegistrationThenNavigation(t *testing.T) {
	g, fs := scene(t)
	b := NewBuilder(g)
	require.Equal(t, Uninitialized, b.Mode())

	require.NoError(t, b.EnterRegistration(fs))
	assert.Equal(t, RegistrationMode, b.Mode())
	assert.True(t, chainContains(g, fs[PointerModel], fs[TrackerBase]))
	boneBefore := g.WorldPose(fs[BoneModel])

	require.NoError(t, b.EnterNavigation(fs))
	assert.Equal(t, NavigationMode, b.Mode())
	require.True(t, g.Acyclic())

	// anatomy now rides the patient reference chain
	for _, r := range []Role{BoneModel, SoftTissueModel} {
		assert.Equal(t, fs[ReferenceTracking], g.Root(fs[r]), "%s root", r)
	}
	want := frames.Compose(g.Local(fs[ReferenceTracking]), g.Local(fs[PatientReference]))
	assert.True(t, g.WorldPose(fs[BoneModel]).ApproxEqual(want, 1e-9))
	assert.False(t, g.WorldPose(fs[BoneModel]).ApproxEqual(boneBefore, 1e-9))

	// no model keeps the tracker base in its chain
	for _, r := range []Role{PointerModel, NeedleModel, BoneModel, SoftTissueModel} {
		assert.False(t, chainContains(g, fs[r], fs[TrackerBase]), "%s still under tracker base", r)
	}
	assert.Equal(t, fs[PointerTracking], g.Root(fs[PointerModel]))
}

func TestBuilder_NavigationFollowsPatientReference(t *testing.T) {
	g, fs := scene(t)
	b := NewBuilder(g)
	require.NoError(t, b.EnterNavigation(fs))

	g.SetLocal(fs[PatientReference], frames.Translation(10, 0, 0))
	got := g.WorldPose(fs[SoftTissueModel]).Origin()
	assert.InDelta(t, 10, got.X, 1e-9)
	assert.InDelta(t, -40, got.Z, 1e-9)
}

func TestBuilder_NoWayBackToRegistration(t *testing.T) {
	g, fs := scene(t)
	b := NewBuilder(g)
	require.NoError(t, b.EnterNavigation(fs))

	err := b.EnterRegistration(fs)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, NavigationMode, b.Mode())
	assert.Equal(t, frames.None, g.Parent(fs[PointerTracking]))
}

func TestBuilder_RegistrationDoesNotReset(t *testing.T) {
	g, fs := scene(t)
	b := NewBuilder(g)

	// parenting that neither recipe touches survives registration
	g.SetParent(fs[BoneModel], fs[PatientReference])
	require.NoError(t, b.EnterRegistration(fs))
	assert.Equal(t, fs[PatientReference], g.Parent(fs[BoneModel]))
}

func TestBuilder_NavigationReentry(t *testing.T) {
	g, fs := scene(t)
	b := NewBuilder(g)
	require.NoError(t, b.EnterNavigation(fs))
	first := g.Snapshot()

	require.NoError(t, b.EnterNavigation(fs))
	assert.Equal(t, first, g.Snapshot())
}

func TestBuilder_NavigationMissingRoleLeavesGraph(t *testing.T) {
	g, fs := scene(t)
	b := NewBuilder(g)
	require.NoError(t, b.EnterRegistration(fs))
	delete(fs, PatientReference)

	err := b.EnterNavigation(fs)
	require.ErrorIs(t, err, ErrMissingRole)
	assert.Equal(t, RegistrationMode, b.Mode())
	assert.Equal(t, fs[TrackerBase], g.Parent(fs[PointerTracking]), "failed navigation must not reset")
}

func TestRecipe_SharedFrameIsConflict(t *testing.T) {
	g, fs := scene(t)
	fs[NeedleTip] = fs[NeedleTracking]

	err := NewBuilder(g).EnterRegistration(fs)
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "needle-tip")
	assert.True(t, g.Acyclic())
	assert.Equal(t, frames.None, g.Parent(fs[NeedleModel]), "a refused recipe must not touch the graph")

	fs, _ = sceneFrames(g)
	fs[PatientReference] = fs[BoneModel]
	b := NewBuilder(g)
	require.ErrorIs(t, b.EnterNavigation(fs), ErrConflict)
	assert.Equal(t, Uninitialized, b.Mode())
	assert.True(t, g.Acyclic())
}

func TestRecipe_CycleThroughOutsideParent(t *testing.T) {
	g, fs := scene(t)
	// Something outside the recipes hung the tracker base under the pointer model.
	g.SetParent(fs[TrackerBase], fs[PointerModel])

	require.ErrorIs(t, Registration.Check(g, fs, false), ErrConflict)
	require.ErrorIs(t, NewBuilder(g).EnterRegistration(fs), ErrConflict)
	assert.True(t, g.Acyclic())

	// Navigation does not use the tracker base, so the same graph is fine.
	require.NoError(t, Navigation.Check(g, fs, true))
}

// sceneFrames re-resolves every role of a graph built by scene.
func sceneFrames(g *frames.Graph) (Frames, bool) {
	fs := make(Frames)
	for _, r := range Roles() {
		id, ok := g.Lookup(r.String())
		if !ok {
			return nil, false
		}
		fs[r] = id
	}
	return fs, true
}
