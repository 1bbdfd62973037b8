package ws

import (
	"time"

	"rollcall/internal/attendance"
)

// SessionMessage is the JSON frame pushed to attendance feed subscribers
type SessionMessage struct {
	Type      string    `json:"type"` // "started", "cycle", "stopping", "terminated"
	SessionID string    `json:"session_id"`
	CourseID  string    `json:"course_id"`
	HallName  string    `json:"hall_name"`
	Timestamp time.Time `json:"timestamp"`

	Cycle      uint64            `json:"cycle,omitempty"`
	Captured   int               `json:"captured,omitempty"`
	Recognized int               `json:"recognized,omitempty"`
	Detected   map[string]string `json:"detected,omitempty"`
	Committed  int               `json:"committed,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// NewSessionMessage converts a session event to its wire form
func NewSessionMessage(event *attendance.Event) *SessionMessage {
	return &SessionMessage{
		Type:       string(event.Type),
		SessionID:  event.SessionID,
		CourseID:   event.CourseID,
		HallName:   event.HallName,
		Timestamp:  event.Timestamp,
		Cycle:      event.Cycle,
		Captured:   event.Captured,
		Recognized: event.Recognized,
		Detected:   event.Detected,
		Committed:  event.Committed,
		Error:      event.Err,
	}
}
