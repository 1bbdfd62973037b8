package attendance

import "context"

// EnrollmentLookup resolves the students enrolled in a course
type EnrollmentLookup interface {
	// GetSubjects returns the course's enrollable subjects in a stable order
	GetSubjects(ctx context.Context, courseID string) ([]Subject, error)
}

// HallLookup resolves the cameras installed in a hall
type HallLookup interface {
	// GetCameras returns the cameras of the hall; hallName is already normalised
	GetCameras(ctx context.Context, hallName string) ([]CameraEndpoint, error)
}

// Capturer produces one still image from a camera
type Capturer interface {
	// Capture grabs a frame and stores it under the session tag (the course id)
	Capture(ctx context.Context, endpoint CameraEndpoint, sessionTag string) (ImageHandle, error)
}

// Recognizer identifies enrolled subjects in a captured image.
// Implementations may call a remote service, a local model or an external
// process; the session loop makes no assumption about the mechanism.
type Recognizer interface {
	// Recognize returns the detected subjects as id -> display name
	Recognize(ctx context.Context, image ImageHandle, subjects []Subject) (map[string]string, error)
}

// RosterStore persists the per-course roster artifact
type RosterStore interface {
	// LoadRoster returns the subject ids already recorded for the course.
	// A missing artifact is an empty roster, not an error.
	LoadRoster(ctx context.Context, courseID string) (map[string]struct{}, error)

	// AppendRows appends rows to the course's artifact, creating it if needed
	AppendRows(ctx context.Context, courseID string, rows []RosterRow) error

	// Location returns where the course's artifact lives
	Location(courseID string) string
}

// ArtifactSealer is implemented by roster stores that can detach a finished
// artifact from its course. A draining session seals its artifact before
// delivery, so a session restarted on the same course writes a fresh one
// and discarding the sealed copy never touches it.
type ArtifactSealer interface {
	// Seal moves the course's artifact aside under sessionID and returns its
	// new location, or "" when nothing was recorded
	Seal(ctx context.Context, courseID, sessionID string) (string, error)

	// Discard removes an artifact returned by Seal
	Discard(ctx context.Context, location string) error
}

// Deliverer sends the finished roster artifact to a recipient
type Deliverer interface {
	Deliver(ctx context.Context, courseID, artifactLocation, recipient string) error
}

// Cleaner clears per-course working storage once a session terminates.
// Sealed roster artifacts are discarded separately.
type Cleaner interface {
	ClearWorkingStorage(ctx context.Context, courseID string) error
}

// SessionRecorder keeps an audit trail of session lifecycles. Optional.
type SessionRecorder interface {
	RecordStart(ctx context.Context, info SessionInfo) error
	RecordStop(ctx context.Context, sessionID string) error
	RecordTermination(ctx context.Context, sessionID string, cycles uint64) error
}

// EventHandler receives session events
type EventHandler interface {
	OnSessionEvent(event *Event)
}
