package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/tws/internal/sensor"
	"github.com/banshee-data/tws/internal/tracking"
)

// ErrNoSessions is returned by LatestSession on an empty database.
var ErrNoSessions = errors.New("no recording sessions")

// Session is one tracker run.
type Session struct {
	ID        string  `json:"session_id"`
	Source    string  `json:"source"`
	Model     string  `json:"model"`
	StartedAt float64 `json:"started_at"`
}

// RetiredTrack is the final state of a pruned track.
type RetiredTrack struct {
	TrackID    uint32              `json:"track_id"`
	TruthID    uint32              `json:"truth_id"`
	FinalState tracking.TrackState `json:"final_state"`
	Hits       int                 `json:"hits"`
	Misses     int                 `json:"misses"`
	LastUpdate float64             `json:"last_update"`
	PrunedAt   float64             `json:"pruned_at"`
}

// Recorder writes one session's activity. It satisfies pipeline.Recorder.
type Recorder struct {
	db        *DB
	sessionID string
}

// StartSession creates a session row and returns its recorder.
func (db *DB) StartSession(source, model string, startedAt float64) (*Recorder, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, source, model, started_at) VALUES (?, ?, ?, ?)`,
		id, source, model, startedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Recorder{db: db, sessionID: id}, nil
}

// SessionID returns the session's UUID.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// RecordPlot stores one received plot with its association outcome.
func (r *Recorder) RecordPlot(m sensor.Measurement, a tracking.Association) error {
	_, err := r.db.Exec(
		`INSERT INTO plots (
			session_id, plot_id, x, y, z, velocity, heading, timestamp,
			track_id, new_track, distance_sq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.sessionID, m.ID, m.X, m.Y, m.Z, m.Velocity, m.Heading, m.Timestamp,
		a.TrackID, a.New, a.DistanceSquared,
	)
	return err
}

// RecordScan stores the live track states at a scan boundary and the final
// state of every track pruned at it, in one transaction.
func (r *Recorder) RecordScan(now float64, live, pruned []tracking.TrackSnapshot) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(live) > 0 {
		stmt, err := tx.Prepare(
			`INSERT INTO track_states (
				session_id, track_id, scan_time, state, x, y, vx, vy, hits, misses
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, s := range live {
			if _, err := stmt.Exec(r.sessionID, s.ID, now, string(s.State),
				s.X, s.Y, s.VX, s.VY, s.Hits, s.Misses); err != nil {
				return fmt.Errorf("insert state of track %d: %w", s.ID, err)
			}
		}
	}

	for _, s := range pruned {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO tracks (
				session_id, track_id, truth_id, final_state, hits, misses, last_update, pruned_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.sessionID, s.ID, s.TruthID, string(s.State), s.Hits, s.Misses, s.LastUpdate, now,
		); err != nil {
			return fmt.Errorf("insert retired track %d: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// Sessions returns all sessions, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(
		`SELECT session_id, source, model, started_at FROM sessions ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Source, &s.Model, &s.StartedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// LatestSession returns the most recently started session.
func (db *DB) LatestSession() (Session, error) {
	var s Session
	err := db.QueryRow(
		`SELECT session_id, source, model, started_at FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT 1`,
	).Scan(&s.ID, &s.Source, &s.Model, &s.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoSessions
	}
	return s, err
}

// SessionPlots returns a session's plots in timestamp order.
func (db *DB) SessionPlots(sessionID string) ([]sensor.Measurement, error) {
	rows, err := db.Query(
		`SELECT plot_id, x, y, z, velocity, heading, timestamp FROM plots
		 WHERE session_id = ? ORDER BY timestamp, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plots []sensor.Measurement
	for rows.Next() {
		var m sensor.Measurement
		if err := rows.Scan(&m.ID, &m.X, &m.Y, &m.Z, &m.Velocity, &m.Heading, &m.Timestamp); err != nil {
			return nil, err
		}
		plots = append(plots, m)
	}
	return plots, rows.Err()
}

// TrackPaths returns each track's recorded positions in scan order, keyed
// by track id.
func (db *DB) TrackPaths(sessionID string) (map[uint32][]tracking.TrackPoint, error) {
	rows, err := db.Query(
		`SELECT track_id, x, y, scan_time FROM track_states
		 WHERE session_id = ? ORDER BY track_id, scan_time`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[uint32][]tracking.TrackPoint)
	for rows.Next() {
		var id uint32
		var p tracking.TrackPoint
		if err := rows.Scan(&id, &p.X, &p.Y, &p.Timestamp); err != nil {
			return nil, err
		}
		paths[id] = append(paths[id], p)
	}
	return paths, rows.Err()
}

// RetiredTracks returns the pruned tracks of a session by track id.
func (db *DB) RetiredTracks(sessionID string) ([]RetiredTrack, error) {
	rows, err := db.Query(
		`SELECT track_id, truth_id, final_state, hits, misses, last_update, pruned_at
		 FROM tracks WHERE session_id = ? ORDER BY track_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RetiredTrack
	for rows.Next() {
		var t RetiredTrack
		var state string
		if err := rows.Scan(&t.TrackID, &t.TruthID, &state, &t.Hits, &t.Misses, &t.LastUpdate, &t.PrunedAt); err != nil {
			return nil, err
		}
		t.FinalState = tracking.TrackState(state)
		out = append(out, t)
	}
	return out, rows.Err()
}
