package db

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/monitoring"
	"github.com/dgmato/PercutaneousNavigation/internal/proximity"
	"github.com/dgmato/PercutaneousNavigation/internal/topology"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// reopening an up-to-date database is a no-op
	require.NoError(t, db.MigrateUp(MigrationsFS()))
}

func TestMigrateDown_DropsTables(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.MigrateDown(MigrationsFS()))

	_, err := db.StartSession(t0)
	assert.Error(t, err)

	version, _, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestSessions_StartEndLatest(t *testing.T) {
	db := newTestDB(t)

	_, err := db.LatestSession()
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := db.StartSession(t0)
	require.NoError(t, err)
	second, err := db.StartSession(t0.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	require.NoError(t, db.EndSession(first, t0.Add(30*time.Minute)))
	assert.ErrorIs(t, db.EndSession("nope", t0), ErrNotFound)

	latest, err := db.LatestSession()
	require.NoError(t, err)
	assert.Equal(t, second, latest.ID)
	assert.Nil(t, latest.EndedAt)

	all, err := db.Sessions()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second, all[0].ID)
	assert.Equal(t, first, all[1].ID)
	require.NotNil(t, all[1].EndedAt)
	assert.True(t, all[1].EndedAt.Equal(t0.Add(30*time.Minute)))
}

func TestRecorder_TransitionsAndSamples(t *testing.T) {
	db := newTestDB(t)
	id, err := db.StartSession(t0)
	require.NoError(t, err)
	rec := db.NewRecorder(id)
	assert.Equal(t, id, rec.SessionID())

	require.NoError(t, rec.RecordTransition(topology.RegistrationMode, t0.Add(time.Second)))
	require.NoError(t, rec.RecordTransition(topology.NavigationMode, t0.Add(2*time.Second)))

	for i := 0; i < 5; i++ {
		require.NoError(t, rec.RecordSample(proximity.Reading{
			Source:   "needle",
			Distance: float64(10 - i),
			Tip:      r3.Vec{X: float64(i)},
			Target:   r3.Vec{Y: 50},
			At:       t0.Add(time.Duration(10+i) * time.Second),
		}))
	}

	transitions, err := db.Transitions(id)
	require.NoError(t, err)
	want := []Transition{
		{Mode: topology.RegistrationMode.String(), At: t0.Add(time.Second)},
		{Mode: topology.NavigationMode.String(), At: t0.Add(2 * time.Second)},
	}
	if diff := cmp.Diff(want, transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}

	all, err := db.Samples(id, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, 10.0, all[0].Distance)
	assert.Equal(t, r3.Vec{Y: 50}, all[0].Target)

	recent, err := db.Samples(id, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 7.0, recent[0].Distance)
	assert.Equal(t, 6.0, recent[1].Distance)
	assert.Equal(t, r3.Vec{X: 4}, recent[1].Tip)
	assert.True(t, recent[0].At.Before(recent[1].At))
}

func TestRecordSample_UnknownSessionRejected(t *testing.T) {
	db := newTestDB(t)
	err := db.RecordSample("missing", proximity.Reading{Source: "needle", At: t0})
	assert.Error(t, err)
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1 (dirty: false)")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 0")

	out.Reset()
	assert.Error(t, RunMigrateCommand([]string{"bogus"}, path, &out))
	assert.Contains(t, out.String(), "Usage: percnav migrate")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force", "x"}, path, &out))
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	_, err := db.StartSession(t0)
	require.NoError(t, err)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment; filename=backup-")
	assert.NotZero(t, w.Body.Len())
}
