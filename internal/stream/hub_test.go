package stream

import (
	"testing"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/monitoring"
	"github.com/dgmato/PercutaneousNavigation/internal/proximity"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func init() {
	monitoring.SetLogger(nil)
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func reading(d float64) proximity.Reading {
	return proximity.Reading{
		Source:   "needle",
		Distance: d,
		Tip:      r3.Vec{X: 3, Y: 54},
		Target:   r3.Vec{Y: 50},
		At:       t0,
	}
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub(4)
	_, a := h.Subscribe()
	_, b := h.Subscribe()

	h.OnReading(reading(5))

	assert.Equal(t, 5.0, (<-a).Distance)
	assert.Equal(t, 5.0, (<-b).Distance)
	assert.Equal(t, HubStats{Watchers: 2, Published: 1}, h.Stats())
}

func TestHub_LateSubscriberGetsLatest(t *testing.T) {
	h := NewHub(4)
	h.OnReading(reading(7))
	h.OnReading(reading(6))

	_, ch := h.Subscribe()
	require.Len(t, ch, 1)
	assert.Equal(t, 6.0, (<-ch).Distance)
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := NewHub(1)
	_, ch := h.Subscribe()

	h.OnReading(reading(1))
	h.OnReading(reading(2)) // buffer full

	assert.Equal(t, 1.0, (<-ch).Distance)
	assert.Equal(t, uint64(1), h.Stats().Dropped)
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	h := NewHub(0)
	id, ch := h.Subscribe()
	h.Unsubscribe(id)
	h.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)

	_, other := h.Subscribe()
	h.Close()
	h.Close()
	_, ok = <-other
	assert.False(t, ok)

	_, late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	assert.Equal(t, 0, h.Stats().Watchers)

	h.OnReading(reading(1)) // no-op once closed
	assert.Equal(t, uint64(0), h.Stats().Published)
}

func TestReadingStructRoundTrip(t *testing.T) {
	in := reading(5)
	msg, err := ReadingToStruct(in)
	require.NoError(t, err)
	assert.Equal(t, "5.0", msg.GetFields()["label"].GetStringValue())

	out, err := ReadingFromStruct(msg)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("reading mismatch (-want +got):\n%s", diff)
	}
}
