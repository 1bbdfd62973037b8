package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"
	goa "goa.design/goa/v3/pkg"

	"rollcall/internal/services"
	"rollcall/internal/ws"
)

// decodeFunc builds an endpoint payload from the request and its path variables
type decodeFunc func(r *http.Request, vars map[string]string) (any, error)

// mount records one route for the startup log
type mount struct {
	Method  string
	Pattern string
}

// server mounts goa endpoints on a goa muxer
type server struct {
	mux    goahttp.Muxer
	logger *slog.Logger
	Mounts []mount
}

// newHTTPHandler builds the API handler: the goa muxer wrapped with the goa
// log and request id middlewares, and the WebSocket feed mounted beside it.
func newHTTPHandler(health *services.HealthEndpoints, attendance *services.AttendanceEndpoints, directory *services.DirectoryEndpoints, feed http.Handler, logger *slog.Logger, debug bool) (http.Handler, []mount) {
	// Setup goa log adapter.
	adapter := middleware.NewLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))

	s := &server{mux: goahttp.NewMuxer(), logger: logger}

	s.handle("GET", "/healthz", health.Healthz, noPayload, http.StatusOK)
	s.handle("GET", "/readyz", health.Readyz, noPayload, http.StatusOK)

	s.handle("POST", "/api/v1/attendance/start", attendance.Start, decodeBody[services.StartPayload], http.StatusAccepted)
	s.handle("POST", "/api/v1/attendance/stop", attendance.Stop, decodeBody[services.StopPayload], http.StatusAccepted)
	s.handle("GET", "/api/v1/attendance", attendance.List, noPayload, http.StatusOK)
	s.handle("GET", "/api/v1/attendance/{courseID}", attendance.Get, decodeID("courseID"), http.StatusOK)
	s.handle("GET", "/api/v1/attendance/{courseID}/history", attendance.History, decodeHistory, http.StatusOK)

	s.handle("GET", "/api/v1/halls", directory.ListHalls, noPayload, http.StatusOK)
	s.handle("POST", "/api/v1/halls", directory.CreateHall, decodeBody[services.HallPayload], http.StatusCreated)
	s.handle("PUT", "/api/v1/cameras/{id}", directory.PutCamera, decodeCamera, http.StatusOK)
	s.handle("GET", "/api/v1/cameras/{id}", directory.GetCamera, decodeID("id"), http.StatusOK)
	s.handle("DELETE", "/api/v1/cameras/{id}", directory.DeleteCamera, decodeID("id"), http.StatusNoContent)
	s.handle("PUT", "/api/v1/courses/{id}", directory.PutCourse, decodeCourse, http.StatusNoContent)
	s.handle("POST", "/api/v1/courses/{id}/enrollments", directory.Enroll, decodeEnrollment, http.StatusNoContent)
	s.handle("PUT", "/api/v1/students/{id}", directory.PutStudent, decodeStudent, http.StatusOK)
	s.handle("GET", "/api/v1/students/{id}", directory.GetStudent, decodeID("id"), http.StatusOK)

	// Wrap the multiplexer with additional middlewares. Middlewares mounted
	// here apply to all the service endpoints.
	var handler http.Handler = s.mux
	{
		if debug {
			handler = httpmdlwr.Debug(s.mux, os.Stdout)(handler)
		}
		handler = httpmdlwr.Log(adapter)(handler)
		handler = httpmdlwr.RequestID()(handler)
	}

	// The feed needs the raw connection for the upgrade, so it stays
	// outside the middleware chain.
	root := http.NewServeMux()
	root.Handle("/", handler)
	root.Handle(ws.RoutePrefix, feed)
	s.Mounts = append(s.Mounts, mount{Method: "GET", Pattern: ws.RoutePrefix + "{courseID}"})

	return root, s.Mounts
}

func (s *server) handle(method, pattern string, endpoint goa.Endpoint, decode decodeFunc, status int) {
	s.Mounts = append(s.Mounts, mount{Method: method, Pattern: pattern})
	s.mux.Handle(method, pattern, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		payload, err := decode(r, s.mux.Vars(r))
		if err != nil {
			s.encodeError(ctx, w, err)
			return
		}

		res, err := endpoint(ctx, payload)
		if err != nil {
			s.encodeError(ctx, w, err)
			return
		}

		if res == nil || status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}
		enc := goahttp.ResponseEncoder(ctx, w)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := enc.Encode(res); err != nil {
			s.logger.Error("failed to encode response", "path", r.URL.Path, "error", err)
		}
	})
}

// errorBody is the JSON body of every failed request
type errorBody struct {
	ID    string `json:"id,omitempty"`
	Error error  `json:"error"`
}

// encodeError writes err with its mapped status. The request id is echoed so
// client reports can be correlated with the logs.
func (s *server) encodeError(ctx context.Context, w http.ResponseWriter, err error) {
	id, _ := ctx.Value(middleware.RequestIDKey).(string)
	status := services.StatusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", id, "status", status, "error", err)
	}

	enc := goahttp.ResponseEncoder(ctx, w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	var body any = errorBody{ID: id, Error: err}
	var sc services.StatusCoder
	if !errors.As(err, &sc) {
		body = map[string]string{"id": id, "message": err.Error()}
	}
	_ = enc.Encode(body)
}

func noPayload(r *http.Request, vars map[string]string) (any, error) {
	return nil, nil
}

func decodeBody[T any](r *http.Request, vars map[string]string) (any, error) {
	payload := new(T)
	if err := decodeInto(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func decodeInto(r *http.Request, payload any) error {
	if err := goahttp.RequestDecoder(r).Decode(payload); err != nil {
		details := err.Error()
		if errors.Is(err, io.EOF) {
			details = "empty body"
		}
		return &services.BadRequestError{Message: "Invalid request body", Details: &details}
	}
	return nil
}

func decodeID(name string) decodeFunc {
	return func(r *http.Request, vars map[string]string) (any, error) {
		return &services.IDPayload{ID: vars[name]}, nil
	}
}

func decodeHistory(r *http.Request, vars map[string]string) (any, error) {
	payload := &services.HistoryPayload{CourseID: vars["courseID"]}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			details := "limit must be an integer"
			return nil, &services.BadRequestError{Message: "Invalid query", Details: &details}
		}
		payload.Limit = limit
	}
	return payload, nil
}

func decodeCamera(r *http.Request, vars map[string]string) (any, error) {
	payload := &services.CameraPayload{}
	if err := decodeInto(r, payload); err != nil {
		return nil, err
	}
	payload.ID = vars["id"]
	return payload, nil
}

func decodeCourse(r *http.Request, vars map[string]string) (any, error) {
	payload := &services.CoursePayload{}
	if err := decodeInto(r, payload); err != nil {
		return nil, err
	}
	payload.ID = vars["id"]
	return payload, nil
}

func decodeStudent(r *http.Request, vars map[string]string) (any, error) {
	payload := &services.StudentPayload{}
	if err := decodeInto(r, payload); err != nil {
		return nil, err
	}
	payload.ID = vars["id"]
	return payload, nil
}

func decodeEnrollment(r *http.Request, vars map[string]string) (any, error) {
	payload := &services.EnrollPayload{}
	if err := decodeInto(r, payload); err != nil {
		return nil, err
	}
	payload.CourseID = vars["id"]
	return payload, nil
}

// handleHTTPServer starts the HTTP server on addr. It shuts down the server
// once ctx is cancelled.
func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, mounts []mount, wg *sync.WaitGroup, errc chan error, logger *slog.Logger) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}
	for _, m := range mounts {
		logger.Debug("HTTP route mounted", "method", m.Method, "pattern", m.Pattern)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Info("HTTP server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down HTTP server", "addr", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown", "error", err)
		}
	}()
}
