package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/proximity"
	"github.com/dgmato/PercutaneousNavigation/internal/topology"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
)

// Session is one run of the navigation service.
type Session struct {
	ID        string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Transition is a recorded topology mode change.
type Transition struct {
	Mode string    `json:"mode"`
	At   time.Time `json:"at"`
}

// Sample is a recorded distance reading.
type Sample struct {
	Instrument string    `json:"instrument"`
	Distance   float64   `json:"distance_mm"`
	Tip        r3.Vec    `json:"tip"`
	Target     r3.Vec    `json:"target"`
	At         time.Time `json:"at"`
}

// StartSession creates a session row and returns its id.
func (db *DB) StartSession(at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO sessions (session_id, started_at) VALUES (?, ?)`, id, toNanos(at))
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(id string, at time.Time) error {
	res, err := db.Exec(`UPDATE sessions SET ended_at = ? WHERE session_id = ?`, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordTransition stores a mode change for the session.
func (db *DB) RecordTransition(sessionID string, mode topology.Mode, at time.Time) error {
	_, err := db.Exec(`INSERT INTO mode_transitions (session_id, mode, at) VALUES (?, ?, ?)`,
		sessionID, mode.String(), toNanos(at))
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// RecordSample stores a distance reading for the session.
func (db *DB) RecordSample(sessionID string, r proximity.Reading) error {
	_, err := db.Exec(`INSERT INTO distance_samples
		(session_id, instrument, distance_mm, tip_x, tip_y, tip_z, target_x, target_y, target_z, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, r.Source, r.Distance,
		r.Tip.X, r.Tip.Y, r.Tip.Z,
		r.Target.X, r.Target.Y, r.Target.Z,
		toNanos(r.At))
	if err != nil {
		return fmt.Errorf("record sample: %w", err)
	}
	return nil
}

// Samples returns the most recent limit samples of a session in
// chronological order. limit <= 0 returns all of them.
func (db *DB) Samples(sessionID string, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT instrument, distance_mm, tip_x, tip_y, tip_z, target_x, target_y, target_z, at
		FROM (
			SELECT * FROM distance_samples
			WHERE session_id = ?
			ORDER BY at DESC, sample_id DESC
			LIMIT ?
		)
		ORDER BY at ASC, sample_id ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		var at int64
		if err := rows.Scan(&s.Instrument, &s.Distance,
			&s.Tip.X, &s.Tip.Y, &s.Tip.Z,
			&s.Target.X, &s.Target.Y, &s.Target.Z, &at); err != nil {
			return nil, err
		}
		s.At = fromNanos(at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Transitions returns a session's mode changes in order.
func (db *DB) Transitions(sessionID string) ([]Transition, error) {
	rows, err := db.Query(`SELECT mode, at FROM mode_transitions
		WHERE session_id = ? ORDER BY at ASC, transition_id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var at int64
		if err := rows.Scan(&t.Mode, &at); err != nil {
			return nil, err
		}
		t.At = fromNanos(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Sessions lists sessions, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`SELECT session_id, started_at, ended_at FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestSession returns the most recently started session.
func (db *DB) LatestSession() (Session, error) {
	row := db.QueryRow(`SELECT session_id, started_at, ended_at FROM sessions ORDER BY started_at DESC LIMIT 1`)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var s Session
	var started int64
	var ended sql.NullInt64
	if err := sc.Scan(&s.ID, &started, &ended); err != nil {
		return Session{}, err
	}
	s.StartedAt = fromNanos(started)
	if ended.Valid {
		t := fromNanos(ended.Int64)
		s.EndedAt = &t
	}
	return s, nil
}
