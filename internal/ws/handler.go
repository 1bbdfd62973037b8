package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// RoutePrefix is where the attendance feed is mounted
const RoutePrefix = "/ws/attendance/"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades attendance feed requests
type Handler struct {
	hub *AttendanceHub
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *AttendanceHub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP handles /ws/attendance/{course_id}. Without a course id the
// client follows every course.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	courseID := strings.Trim(strings.TrimPrefix(r.URL.Path, RoutePrefix), "/")
	if courseID == "" || r.URL.Path == strings.TrimSuffix(RoutePrefix, "/") {
		courseID = AllCourses
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.hub.logger.Info("feed subscriber connected", "course_id", courseID, "remote_addr", r.RemoteAddr)

	c := &client{conn: conn}
	h.hub.register(courseID, c)

	go h.readPump(courseID, c)
}

// readPump keeps the connection alive and detects client disconnection
func (h *Handler) readPump(courseID string, c *client) {
	defer func() {
		h.hub.unregister(courseID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	done := make(chan struct{})
	defer func() {
		ticker.Stop()
		close(done)
	}()

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.hub.logger.Debug("feed read error", "course_id", courseID, "error", err)
			}
			return
		}
	}
}
