package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  string
	body   map[string]string
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

func newTestClient(t *testing.T, status int, reply string) (*client, *recorder) {
	t.Helper()
	calls := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		calls.mu.Lock()
		calls.calls = append(calls.calls, rec)
		calls.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return newClient("http", u.Host, 5, false), calls
}

func TestRunCommands(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		method string
		path   string
		query  string
		body   map[string]string
	}{
		{"start", []string{"start", "CS101", "HALL-A"}, "POST", "/api/v1/attendance/start", "",
			map[string]string{"course_id": "CS101", "hall_name": "HALL-A"}},
		{"stop with recipient", []string{"stop", "CS101", "telegram:42"}, "POST", "/api/v1/attendance/stop", "",
			map[string]string{"course_id": "CS101", "recipient": "telegram:42"}},
		{"stop", []string{"stop", "CS101"}, "POST", "/api/v1/attendance/stop", "",
			map[string]string{"course_id": "CS101"}},
		{"status all", []string{"status"}, "GET", "/api/v1/attendance", "", nil},
		{"status one", []string{"status", "CS101"}, "GET", "/api/v1/attendance/CS101", "", nil},
		{"history", []string{"history", "CS101", "5"}, "GET", "/api/v1/attendance/CS101/history", "limit=5", nil},
		{"health", []string{"health"}, "GET", "/readyz", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, calls := newTestClient(t, http.StatusOK, `{"ok":true}`)

			var out bytes.Buffer
			require.NoError(t, run(context.Background(), c, tt.args, &out))

			all := calls.all()
			require.Len(t, all, 1)
			got := all[0]
			assert.Equal(t, tt.method, got.method)
			assert.Equal(t, tt.path, got.path)
			assert.Equal(t, tt.query, got.query)
			assert.Equal(t, tt.body, got.body)
			assert.Contains(t, out.String(), `"ok": true`)
		})
	}
}

func TestRunReportsServerErrors(t *testing.T) {
	c, _ := newTestClient(t, http.StatusConflict, `{"error":{"message":"Attendance already running","id":"CS101"}}`)

	err := run(context.Background(), c, []string{"start", "CS101", "HALL-A"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "Attendance already running")
}

func TestRunRejectsBadArguments(t *testing.T) {
	c, calls := newTestClient(t, http.StatusOK, "")

	for _, args := range [][]string{
		{"start", "CS101"},
		{"stop"},
		{"history", "CS101", "many"},
		{"teleport"},
	} {
		assert.Error(t, run(context.Background(), c, args, &bytes.Buffer{}), "%v", args)
	}
	assert.Empty(t, calls.all())
}

func TestRunEmptyResponsePrintsStatus(t *testing.T) {
	c, _ := newTestClient(t, http.StatusAccepted, "")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), c, []string{"stop", "CS101"}, &out))
	assert.Equal(t, "202 Accepted\n", out.String())
}
