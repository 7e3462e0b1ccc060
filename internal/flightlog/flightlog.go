// Package flightlog persists landing sessions and their per-cycle
// snapshots to sqlite for post-flight analysis.
package flightlog

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/avioncargo/precland/internal/loop"
	"github.com/avioncargo/precland/internal/monitoring"
)

type FlightDB struct {
	*sql.DB
}

// schema.sql defines the session and cycle tables.
//
//go:embed schema.sql
var schemaSQL string

// NewFlightDB opens (creating if needed) the flight log at path. Use
// ":memory:" for an ephemeral log.
func NewFlightDB(path string) (*FlightDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err = db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize flight log schema: %w", err)
	}

	monitoring.Logf("[flightlog] database ready at %s", path)
	return &FlightDB{db}, nil
}

// StartSession creates the session row.
func (fdb *FlightDB) StartSession(sessionID, notes string) error {
	_, err := fdb.Exec(`INSERT INTO sessions (id, notes) VALUES (?, ?)`, sessionID, notes)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

// EndSession stamps the end time and the final counters.
func (fdb *FlightDB) EndSession(sessionID string, stats loop.StatsSnapshot) error {
	_, err := fdb.Exec(`
		UPDATE sessions
		SET
			ended_at = UNIXEPOCH('subsec'),
			frames_processed = ?,
			frames_with_detection = ?,
			commands_sent = ?,
			transmit_failures = ?,
			frame_misses = ?
		WHERE id = ?
	`, stats.FramesProcessed, stats.FramesWithDetection, stats.CommandsSent,
		stats.TransmitFailures, stats.FrameMisses, sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// RecordSnapshot stores one per-cycle snapshot.
func (fdb *FlightDB) RecordSnapshot(snap loop.Snapshot) error {
	_, err := fdb.Exec(`
		INSERT INTO cycles (
			session_id, seq, cycle_time, has_target, target_id,
			distance_m, bearing_h_rad, bearing_v_rad,
			command_valid, link_connected, fps
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.SessionID, snap.Seq, float64(snap.Time.UnixMicro())/1e6,
		snap.Target.HasTarget, snap.Target.SelectedID,
		snap.Target.Pose.Distance, snap.Target.Pose.BearingH, snap.Target.Pose.BearingV,
		snap.LastCommand.Valid, snap.Link.Connected, snap.Stats.FPS)
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

// CycleRow is one stored cycle.
type CycleRow struct {
	ID            int64   `json:"id"`
	SessionID     string  `json:"session_id"`
	Seq           uint64  `json:"seq"`
	CycleTime     float64 `json:"cycle_time"`
	HasTarget     bool    `json:"has_target"`
	TargetID      int     `json:"target_id"`
	DistanceM     float64 `json:"distance_m"`
	BearingHRad   float64 `json:"bearing_h_rad"`
	BearingVRad   float64 `json:"bearing_v_rad"`
	CommandValid  bool    `json:"command_valid"`
	LinkConnected bool    `json:"link_connected"`
	FPS           float64 `json:"fps"`
}

// RecentCycles returns the newest cycles for a session, newest first.
func (fdb *FlightDB) RecentCycles(sessionID string, limit int) ([]CycleRow, error) {
	rows, err := fdb.Query(`
		SELECT id, session_id, seq, cycle_time, has_target, target_id,
		       distance_m, bearing_h_rad, bearing_v_rad,
		       command_valid, link_connected, fps
		FROM cycles
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var out []CycleRow
	for rows.Next() {
		var c CycleRow
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Seq, &c.CycleTime,
			&c.HasTarget, &c.TargetID, &c.DistanceM, &c.BearingHRad,
			&c.BearingVRad, &c.CommandValid, &c.LinkConnected, &c.FPS); err != nil {
			return nil, fmt.Errorf("failed to scan cycle row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SessionRow is one stored session summary.
type SessionRow struct {
	ID                  string   `json:"id"`
	StartedAt           float64  `json:"started_at"`
	EndedAt             *float64 `json:"ended_at,omitempty"`
	FramesProcessed     int64    `json:"frames_processed"`
	FramesWithDetection int64    `json:"frames_with_detection"`
	CommandsSent        int64    `json:"commands_sent"`
	TransmitFailures    int64    `json:"transmit_failures"`
	FrameMisses         int64    `json:"frame_misses"`
	Notes               string   `json:"notes"`
}

// Sessions returns stored sessions, newest first.
func (fdb *FlightDB) Sessions(limit int) ([]SessionRow, error) {
	rows, err := fdb.Query(`
		SELECT id, started_at, ended_at, frames_processed, frames_with_detection,
		       commands_sent, transmit_failures, frame_misses, notes
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var s SessionRow
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.EndedAt, &s.FramesProcessed,
			&s.FramesWithDetection, &s.CommandsSent, &s.TransmitFailures,
			&s.FrameMisses, &s.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
