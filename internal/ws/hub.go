package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rollcall/internal/attendance"
)

// AllCourses is the subscription key of clients following every course
const AllCourses = "*"

const writeWait = 10 * time.Second

// client wraps a connection; gorilla allows one concurrent writer
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// AttendanceHub fans session events out to WebSocket subscribers
type AttendanceHub struct {
	// clients maps course_id -> set of connections
	clients map[string]map[*client]bool
	mu      sync.RWMutex

	events chan *attendance.Event
	logger *slog.Logger
}

// NewAttendanceHub creates a new attendance hub
func NewAttendanceHub(logger *slog.Logger) *AttendanceHub {
	return &AttendanceHub{
		clients: make(map[string]map[*client]bool),
		events:  make(chan *attendance.Event, 256),
		logger:  logger.With("component", "ws_hub"),
	}
}

// OnSessionEvent queues event for broadcast. It never blocks the
// publishing session; events are dropped while the queue is full.
func (h *AttendanceHub) OnSessionEvent(event *attendance.Event) {
	select {
	case h.events <- event:
	default:
		h.logger.Warn("dropping session event, broadcast queue full",
			"course_id", event.CourseID, "type", event.Type)
	}
}

// Run broadcasts queued events until ctx is done
func (h *AttendanceHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.events:
			h.broadcastEvent(event)
		}
	}
}

func (h *AttendanceHub) broadcastEvent(event *attendance.Event) {
	if !h.HasClients(event.CourseID) && !h.HasClients(AllCourses) {
		return
	}

	data, err := json.Marshal(NewSessionMessage(event))
	if err != nil {
		h.logger.Error("failed to marshal session message", "error", err)
		return
	}
	h.Broadcast(event.CourseID, data)
	h.Broadcast(AllCourses, data)
}

// register adds a connection for a specific course
func (h *AttendanceHub) register(courseID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[courseID] == nil {
		h.clients[courseID] = make(map[*client]bool)
	}
	h.clients[courseID][c] = true
	h.logger.Debug("client registered", "course_id", courseID, "total", len(h.clients[courseID]))
}

// unregister removes a connection for a specific course
func (h *AttendanceHub) unregister(courseID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[courseID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, courseID)
		}
		h.logger.Debug("client unregistered", "course_id", courseID)
	}
}

// HasClients returns true if there are any clients connected for a course
func (h *AttendanceHub) HasClients(courseID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.clients[courseID]
	return ok && len(conns) > 0
}

// Broadcast sends a message to all clients subscribed to a course
func (h *AttendanceHub) Broadcast(courseID string, message []byte) {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients[courseID]))
	for c := range h.clients[courseID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(websocket.TextMessage, message); err != nil {
			h.logger.Debug("error sending to client", "course_id", courseID, "error", err)
			h.unregister(courseID, c)
			c.conn.Close()
		}
	}
}

// ClientCount returns the total number of connected clients
func (h *AttendanceHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

func (h *AttendanceHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for courseID, conns := range h.clients {
		for c := range conns {
			_ = c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			c.conn.Close()
		}
		delete(h.clients, courseID)
	}
}
