package attendance

import (
	"net/url"
	"strings"
	"time"
)

// Subject is an enrollable student of a course
type Subject struct {
	ID          string
	DisplayName string
	// ReferenceEncoding is the biometric descriptor the recognizer matches
	// against. Nil when the student has not been embedded yet.
	ReferenceEncoding []float64
}

// CameraEndpoint identifies one hall camera and how to reach it
type CameraEndpoint struct {
	ID       string
	Username string
	Password string
	Address  string
}

// ImageHandle is the storage location of one captured still
type ImageHandle struct {
	CameraID string
	Path     string
}

// CycleResult maps subject id to display name for one polling cycle
type CycleResult map[string]string

// Merge copies every entry of other into r, overwriting existing ids
func (r CycleResult) Merge(other map[string]string) {
	for id, name := range other {
		r[id] = name
	}
}

// RosterRow is one persisted attendance line
type RosterRow struct {
	SubjectID   string
	DisplayName string
	Timestamp   time.Time
}

// SessionState is the lifecycle stage of a session loop
type SessionState int

const (
	StateInitializing SessionState = iota
	StateRunning
	StateDraining
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// SessionInfo is a read-only snapshot of a session
type SessionInfo struct {
	ID           string
	CourseID     string
	HallName     string
	State        SessionState
	CameraCount  int
	SubjectCount int
	Cycles       uint64
	StartedAt    time.Time
	LastCycleAt  time.Time
}

// NormalizeHallName canonicalises hall names, which are matched case-insensitively
func NormalizeHallName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// CourseDirName encodes a course id as a single path segment. Distinct ids
// always map to distinct segments, and no id escapes its parent directory.
func CourseDirName(courseID string) string {
	switch courseID {
	case "":
		return "%"
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(courseID)
}
