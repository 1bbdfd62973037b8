package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rollcall/internal/attendance"
)

// StudentRecord represents a student stored in the database
type StudentRecord struct {
	ID        string
	FirstName string
	LastName  string
	// Encoding is the face embedding; nil until the student has been enrolled biometrically
	Encoding  []float64
	CreatedAt time.Time
}

// DisplayName returns "First Last"
func (s *StudentRecord) DisplayName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// SaveCourse saves or renames a course
func (d *Database) SaveCourse(ctx context.Context, id, name string) error {
	query := `INSERT INTO courses (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`

	if _, err := d.db.ExecContext(ctx, query, id, name, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save course: %w", err)
	}
	return nil
}

// SaveStudent saves or updates a student
func (d *Database) SaveStudent(ctx context.Context, student *StudentRecord) error {
	var encoding sql.NullString
	if len(student.Encoding) > 0 {
		raw, err := json.Marshal(student.Encoding)
		if err != nil {
			return fmt.Errorf("failed to marshal encoding: %w", err)
		}
		encoding = sql.NullString{String: string(raw), Valid: true}
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO students (id, first_name, last_name, encoding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			encoding = excluded.encoding`

	_, err := d.db.ExecContext(ctx, query, student.ID, student.FirstName, student.LastName, encoding, student.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save student: %w", err)
	}
	return nil
}

// GetStudent retrieves a student by ID
func (d *Database) GetStudent(ctx context.Context, id string) (*StudentRecord, error) {
	query := `SELECT id, first_name, last_name, encoding, created_at FROM students WHERE id = ?`

	var (
		student  StudentRecord
		encoding sql.NullString
	)
	err := d.db.QueryRowContext(ctx, query, id).Scan(&student.ID, &student.FirstName, &student.LastName, &encoding, &student.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrStudentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", err)
	}

	if encoding.Valid {
		if err := json.Unmarshal([]byte(encoding.String), &student.Encoding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal encoding: %w", err)
		}
	}
	return &student, nil
}

// Enroll adds a student to a course. Enrolling twice is a no-op.
func (d *Database) Enroll(ctx context.Context, courseID, studentID string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO enrollments (course_id, student_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		courseID, studentID)
	if err != nil {
		return fmt.Errorf("failed to enroll student: %w", err)
	}
	return nil
}

// GetSubjects returns the course's students that have a face encoding,
// ordered by student id. Students without an encoding cannot be recognized
// and are left out.
func (d *Database) GetSubjects(ctx context.Context, courseID string) ([]attendance.Subject, error) {
	query := `SELECT s.id, s.first_name, s.last_name, s.encoding
		FROM students s
		JOIN enrollments e ON e.student_id = s.id
		WHERE e.course_id = ? AND s.encoding IS NOT NULL
		ORDER BY s.id`

	rows, err := d.db.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrolled students: %w", err)
	}
	defer rows.Close()

	var subjects []attendance.Subject
	for rows.Next() {
		var (
			student  StudentRecord
			encoding string
		)
		if err := rows.Scan(&student.ID, &student.FirstName, &student.LastName, &encoding); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		if err := json.Unmarshal([]byte(encoding), &student.Encoding); err != nil {
			d.logger.Warn("skipping student with malformed encoding", "student_id", student.ID, "error", err)
			continue
		}
		subjects = append(subjects, attendance.Subject{
			ID:                student.ID,
			DisplayName:       student.DisplayName(),
			ReferenceEncoding: student.Encoding,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list enrolled students: %w", err)
	}
	return subjects, nil
}
