package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"rollcall/internal/attendance"
	"rollcall/internal/database"
)

// DefaultHistoryLimit caps History results when the request sets no limit
const DefaultHistoryLimit = 20

// SessionRegistry is the subset of attendance.Registry the service drives
type SessionRegistry interface {
	Start(ctx context.Context, courseID, hallName string) (*attendance.Session, error)
	Stop(ctx context.Context, courseID, recipient string) error
	Get(courseID string) (*attendance.Session, bool)
	List() []attendance.SessionInfo
}

// SessionHistory reads the session audit log
type SessionHistory interface {
	ListSessions(ctx context.Context, courseID string, limit int) ([]*database.SessionRecord, error)
}

// StartPayload starts attendance for a course in a hall
type StartPayload struct {
	CourseID string `json:"course_id" validate:"required,max=64,excludesall=/\\"`
	HallName string `json:"hall_name" validate:"required,max=64"`
}

// StopPayload stops attendance for a course. Recipient is an e-mail address
// or telegram:<chat id>; empty means the configured default.
type StopPayload struct {
	CourseID  string `json:"course_id" validate:"required,max=64,excludesall=/\\"`
	Recipient string `json:"recipient,omitempty" validate:"omitempty,max=254"`
}

// HistoryPayload selects audit entries for a course
type HistoryPayload struct {
	CourseID string `validate:"required,max=64,excludesall=/\\"`
	Limit    int    `validate:"gte=0,lte=500"`
}

// SessionView is the wire form of a session snapshot
type SessionView struct {
	ID           string  `json:"id"`
	CourseID     string  `json:"course_id"`
	HallName     string  `json:"hall_name"`
	State        string  `json:"state"`
	CameraCount  int     `json:"camera_count"`
	SubjectCount int     `json:"subject_count"`
	Cycles       uint64  `json:"cycles"`
	StartedAt    string  `json:"started_at"`
	LastCycleAt  *string `json:"last_cycle_at,omitempty"`
}

// HistoryEntry is the wire form of an audit log entry
type HistoryEntry struct {
	ID              string  `json:"id"`
	CourseID        string  `json:"course_id"`
	HallName        string  `json:"hall_name"`
	CameraCount     int     `json:"camera_count"`
	SubjectCount    int     `json:"subject_count"`
	Cycles          uint64  `json:"cycles"`
	StartedAt       string  `json:"started_at"`
	StopRequestedAt *string `json:"stop_requested_at,omitempty"`
	TerminatedAt    *string `json:"terminated_at,omitempty"`
}

// AttendanceImplementation implements the attendance service
type AttendanceImplementation struct {
	registry SessionRegistry
	history  SessionHistory
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAttendanceService creates a new attendance service implementation.
// history may be nil, in which case History reports an internal error.
func NewAttendanceService(registry SessionRegistry, history SessionHistory, logger *slog.Logger) *AttendanceImplementation {
	return &AttendanceImplementation{
		registry: registry,
		history:  history,
		validate: validator.New(),
		logger:   logger.With("component", "attendance_service"),
	}
}

// Start launches a session for the course
func (a *AttendanceImplementation) Start(ctx context.Context, p *StartPayload) (*SessionView, error) {
	if err := a.check(p); err != nil {
		return nil, err
	}

	session, err := a.registry.Start(ctx, p.CourseID, p.HallName)
	if err != nil {
		return nil, a.translate(p.CourseID, err)
	}

	return toSessionView(session.Info()), nil
}

// Stop signals the course's session to finish
func (a *AttendanceImplementation) Stop(ctx context.Context, p *StopPayload) error {
	if err := a.check(p); err != nil {
		return err
	}

	if err := a.registry.Stop(ctx, p.CourseID, p.Recipient); err != nil {
		return a.translate(p.CourseID, err)
	}
	return nil
}

// Get returns the running session of a course
func (a *AttendanceImplementation) Get(ctx context.Context, courseID string) (*SessionView, error) {
	session, ok := a.registry.Get(courseID)
	if !ok {
		return nil, &NotFoundError{Message: "Attendance not running", ID: courseID}
	}
	return toSessionView(session.Info()), nil
}

// List returns all running sessions ordered by course id
func (a *AttendanceImplementation) List(ctx context.Context) ([]*SessionView, error) {
	infos := a.registry.List()
	result := make([]*SessionView, len(infos))
	for i, info := range infos {
		result[i] = toSessionView(info)
	}
	return result, nil
}

// History returns past and current sessions of a course, newest first
func (a *AttendanceImplementation) History(ctx context.Context, p *HistoryPayload) ([]*HistoryEntry, error) {
	if err := a.check(p); err != nil {
		return nil, err
	}
	if a.history == nil {
		return nil, &InternalError{Message: "Session history unavailable"}
	}

	limit := p.Limit
	if limit == 0 {
		limit = DefaultHistoryLimit
	}

	records, err := a.history.ListSessions(ctx, p.CourseID, limit)
	if err != nil {
		a.logger.Error("failed to list sessions", "course_id", p.CourseID, "error", err)
		return nil, &InternalError{Message: "Failed to list sessions", Details: stringPtr(err.Error())}
	}

	result := make([]*HistoryEntry, len(records))
	for i, rec := range records {
		result[i] = toHistoryEntry(rec)
	}
	return result, nil
}

func (a *AttendanceImplementation) check(payload any) error {
	if err := a.validate.Struct(payload); err != nil {
		return &BadRequestError{Message: "Invalid request", Details: stringPtr(err.Error())}
	}
	return nil
}

func (a *AttendanceImplementation) translate(courseID string, err error) error {
	switch {
	case errors.Is(err, attendance.ErrAlreadyRunning):
		return &ConflictError{Message: "Attendance already running", ID: courseID}
	case errors.Is(err, attendance.ErrNotRunning):
		return &NotFoundError{Message: "Attendance not running", ID: courseID}
	case errors.Is(err, attendance.ErrNoCameras):
		return &UnprocessableError{Message: "No cameras found for hall", ID: courseID}
	case errors.Is(err, attendance.ErrNoSubjects):
		return &UnprocessableError{Message: "No subjects enrolled in course", ID: courseID}
	case errors.Is(err, attendance.ErrRegistryClosed):
		return &UnavailableError{Message: "Shutting down"}
	default:
		a.logger.Error("attendance request failed", "course_id", courseID, "error", err)
		return &InternalError{Message: "Attendance request failed", Details: stringPtr(err.Error())}
	}
}

func toSessionView(info attendance.SessionInfo) *SessionView {
	view := &SessionView{
		ID:           info.ID,
		CourseID:     info.CourseID,
		HallName:     info.HallName,
		State:        info.State.String(),
		CameraCount:  info.CameraCount,
		SubjectCount: info.SubjectCount,
		Cycles:       info.Cycles,
		StartedAt:    info.StartedAt.Format(time.RFC3339),
	}
	if !info.LastCycleAt.IsZero() {
		view.LastCycleAt = formatTime(&info.LastCycleAt)
	}
	return view
}

func toHistoryEntry(rec *database.SessionRecord) *HistoryEntry {
	return &HistoryEntry{
		ID:              rec.ID,
		CourseID:        rec.CourseID,
		HallName:        rec.HallName,
		CameraCount:     rec.CameraCount,
		SubjectCount:    rec.SubjectCount,
		Cycles:          rec.Cycles,
		StartedAt:       rec.StartedAt.Format(time.RFC3339),
		StopRequestedAt: formatTime(rec.StopRequestedAt),
		TerminatedAt:    formatTime(rec.TerminatedAt),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
