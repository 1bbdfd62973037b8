package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rollcall/internal/attendance"
)

// SessionRecord is the audit entry of one attendance session
type SessionRecord struct {
	ID              string
	CourseID        string
	HallName        string
	CameraCount     int
	SubjectCount    int
	Cycles          uint64
	StartedAt       time.Time
	StopRequestedAt *time.Time
	TerminatedAt    *time.Time
}

// RecordStart inserts the audit entry for a newly started session
func (d *Database) RecordStart(ctx context.Context, info attendance.SessionInfo) error {
	query := `INSERT INTO attendance_sessions
		(id, course_id, hall_name, camera_count, subject_count, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query, info.ID, info.CourseID, info.HallName,
		info.CameraCount, info.SubjectCount, info.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// RecordStop marks when the session was asked to stop
func (d *Database) RecordStop(ctx context.Context, sessionID string) error {
	return d.touchSession(ctx,
		`UPDATE attendance_sessions SET stop_requested_at = ? WHERE id = ? AND stop_requested_at IS NULL`,
		time.Now().UTC(), sessionID)
}

// RecordTermination marks the session as terminated after cycles cycles
func (d *Database) RecordTermination(ctx context.Context, sessionID string, cycles uint64) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE attendance_sessions SET terminated_at = ?, cycles = ? WHERE id = ?`,
		time.Now().UTC(), int64(cycles), sessionID)
	if err != nil {
		return fmt.Errorf("failed to record session termination: %w", err)
	}
	return nil
}

func (d *Database) touchSession(ctx context.Context, query string, at time.Time, sessionID string) error {
	if _, err := d.db.ExecContext(ctx, query, at, sessionID); err != nil {
		return fmt.Errorf("failed to update session %s: %w", sessionID, err)
	}
	return nil
}

// GetSession retrieves one audit entry
func (d *Database) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	rows, err := d.db.QueryContext(ctx, sessionSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	defer rows.Close()

	records, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return records[0], nil
}

// ListSessions returns audit entries, newest first, optionally filtered by course
func (d *Database) ListSessions(ctx context.Context, courseID string, limit int) ([]*SessionRecord, error) {
	query := sessionSelect + ` WHERE 1=1`
	args := []interface{}{}

	if courseID != "" {
		query += " AND course_id = ?"
		args = append(args, courseID)
	}

	query += " ORDER BY started_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// MarkInterrupted closes audit entries left open by a previous process,
// such as after a crash. It returns how many entries were closed.
func (d *Database) MarkInterrupted(ctx context.Context) (int64, error) {
	result, err := d.db.ExecContext(ctx,
		`UPDATE attendance_sessions SET terminated_at = ? WHERE terminated_at IS NULL`,
		time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to close interrupted sessions: %w", err)
	}
	return result.RowsAffected()
}

const sessionSelect = `SELECT id, course_id, hall_name, camera_count, subject_count, cycles,
	started_at, stop_requested_at, terminated_at FROM attendance_sessions`

func scanSessions(rows *sql.Rows) ([]*SessionRecord, error) {
	var records []*SessionRecord
	for rows.Next() {
		var (
			rec           SessionRecord
			cycles        int64
			stopRequested sql.NullTime
			terminated    sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.CourseID, &rec.HallName, &rec.CameraCount, &rec.SubjectCount,
			&cycles, &rec.StartedAt, &stopRequested, &terminated); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		rec.Cycles = uint64(cycles)
		if stopRequested.Valid {
			t := stopRequested.Time
			rec.StopRequestedAt = &t
		}
		if terminated.Valid {
			t := terminated.Time
			rec.TerminatedAt = &t
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return records, nil
}
