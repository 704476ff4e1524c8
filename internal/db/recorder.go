package db

import (
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/proximity"
	"github.com/dgmato/PercutaneousNavigation/internal/topology"
)

// Recorder writes one session's events.
type Recorder struct {
	db        *DB
	sessionID string
}

// NewRecorder returns a recorder bound to sessionID.
func (db *DB) NewRecorder(sessionID string) *Recorder {
	return &Recorder{db: db, sessionID: sessionID}
}

// SessionID returns the session the recorder writes to.
func (r *Recorder) SessionID() string { return r.sessionID }

func (r *Recorder) RecordTransition(mode topology.Mode, at time.Time) error {
	return r.db.RecordTransition(r.sessionID, mode, at)
}

func (r *Recorder) RecordSample(reading proximity.Reading) error {
	return r.db.RecordSample(r.sessionID, reading)
}
