package attendance

import (
	"errors"
	"fmt"
)

// Errors returned synchronously by Registry.Start and Registry.Stop.
var (
	// ErrAlreadyRunning is returned when a session for the course is already active.
	ErrAlreadyRunning = errors.New("attendance already running")

	// ErrNotRunning is returned when stopping a course that has no active session.
	ErrNotRunning = errors.New("attendance not running")

	// ErrNoCameras is returned when the hall resolves to an empty camera set.
	ErrNoCameras = errors.New("no cameras found for hall")

	// ErrNoSubjects is returned when the course has no enrollable students.
	ErrNoSubjects = errors.New("no subjects enrolled in course")
)

// Errors logged and absorbed by the session loop.
var (
	ErrCaptureFailure     = errors.New("capture failed")
	ErrRecognitionFailure = errors.New("recognition failed")
	ErrPersistence        = errors.New("roster persistence failed")
	ErrDeliveryFailure    = errors.New("roster delivery failed")
)

// CourseError adds course and operation context to one of the error kinds above
type CourseError struct {
	CourseID string
	Op       string
	Kind     error
	Err      error
}

func (e *CourseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.CourseID, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.CourseID, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As
func (e *CourseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func courseErr(courseID, op string, kind, err error) *CourseError {
	return &CourseError{CourseID: courseID, Op: op, Kind: kind, Err: err}
}
