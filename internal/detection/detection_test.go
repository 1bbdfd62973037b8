package detection

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"rollcall/internal/attendance"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testImage(t *testing.T) attendance.ImageHandle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "screenshot.jpg")
	require.NoError(t, os.WriteFile(path, []byte("\xff\xd8jpeg"), 0o644))
	return attendance.ImageHandle{CameraID: "cam-1", Path: path}
}

func testSubjects() []attendance.Subject {
	return []attendance.Subject{
		{ID: "S1", DisplayName: "Alice Smith", ReferenceEncoding: []float64{0.1, 0.2}},
		{ID: "S2", DisplayName: "Bob Jones", ReferenceEncoding: []float64{0.3, 0.4}},
		{ID: "S3", DisplayName: "Carol White"},
	}
}

func TestFilterMatches(t *testing.T) {
	matches := []Match{
		{ID: "S1", Name: "alice", Similarity: 0.8},
		{ID: "S2", Similarity: 0.1},
		{ID: "X9", Name: "stranger", Similarity: 0.9},
		{ID: "S3"},
	}

	found := filterMatches(matches, testSubjects(), 0.3)

	assert.Equal(t, map[string]string{"S1": "Alice Smith", "S3": "Carol White"}, found)
}

func TestToPayloadSkipsSubjectsWithoutEncoding(t *testing.T) {
	payload := toPayload(testSubjects())

	require.Len(t, payload, 2)
	assert.Equal(t, "S1", payload[0].ID)
	assert.Equal(t, "Alice Smith", payload[0].Name)
}

func TestNew(t *testing.T) {
	_, err := New(Config{Backend: "http"}, setupTestLogger())
	assert.Error(t, err)

	_, err = New(Config{Backend: "carrier-pigeon", Endpoint: "x"}, setupTestLogger())
	assert.Error(t, err)

	r, err := New(Config{Backend: "HTTP", Endpoint: "http://localhost:8000"}, setupTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &HTTPRecognizer{}, r)

	r, err = New(Config{Backend: "exec", Command: "python3 recognition.py"}, setupTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &ExecRecognizer{}, r)
}

func TestHTTPRecognizer_Recognize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recognize", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "\xff\xd8jpeg", string(data))
		assert.Equal(t, "screenshot.jpg", header.Filename)

		var subjects []subjectPayload
		assert.NoError(t, json.Unmarshal([]byte(r.FormValue("subjects")), &subjects))
		assert.Len(t, subjects, 2)

		_ = json.NewEncoder(w).Encode(RecognitionResult{
			Matches: []Match{
				{ID: "S1", Similarity: 0.91},
				{ID: "S2", Similarity: 0.12},
			},
			FaceCount: 4,
		})
	}))
	defer server.Close()

	r := NewHTTPRecognizer(Config{Endpoint: server.URL + "/", Timeout: 5 * time.Second, SimilarityThreshold: 0.5}, setupTestLogger())

	found, err := r.Recognize(context.Background(), testImage(t), testSubjects())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"S1": "Alice Smith"}, found)
}

func TestHTTPRecognizer_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := NewHTTPRecognizer(Config{Endpoint: server.URL, Timeout: 5 * time.Second}, setupTestLogger())

	_, err := r.Recognize(context.Background(), testImage(t), testSubjects())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestHTTPRecognizer_MissingImage(t *testing.T) {
	r := NewHTTPRecognizer(Config{Endpoint: "http://127.0.0.1:1", Timeout: time.Second}, setupTestLogger())

	_, err := r.Recognize(context.Background(), attendance.ImageHandle{Path: "/nonexistent.jpg"}, testSubjects())
	assert.Error(t, err)
}

func TestHTTPRecognizer_CheckHealth(t *testing.T) {
	status := "healthy"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: status, ModelLoaded: true})
	}))
	defer server.Close()

	r := NewHTTPRecognizer(Config{Endpoint: server.URL, Timeout: 5 * time.Second}, setupTestLogger())

	require.NoError(t, r.CheckHealth(context.Background()))
	assert.True(t, r.IsHealthy())

	status = "degraded"
	assert.Error(t, r.CheckHealth(context.Background()))
	assert.False(t, r.IsHealthy())
}

// startRecognitionServer serves Recognize through an unknown-service
// handler plus the standard health service
func startRecognitionServer(t *testing.T, reply map[string]any) (string, *health.Server) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := func(srv any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		assert.Equal(t, recognizeMethod, method)

		req := &structpb.Struct{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		assert.Equal(t, "cam-1", req.Fields["camera_id"].GetStringValue())
		assert.NotEmpty(t, req.Fields["image"].GetStringValue())
		assert.Len(t, req.Fields["subjects"].GetListValue().GetValues(), 2)

		out, err := structpb.NewStruct(reply)
		if err != nil {
			return err
		}
		return stream.SendMsg(out)
	}

	server := grpc.NewServer(grpc.UnknownServiceHandler(handler))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	hs.SetServingStatus(RecognitionServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	return lis.Addr().String(), hs
}

func TestGRPCRecognizer_Recognize(t *testing.T) {
	addr, _ := startRecognitionServer(t, map[string]any{
		"matches": []any{
			map[string]any{"id": "S2", "similarity": 0.77},
			map[string]any{"id": "S1", "similarity": 0.05},
		},
		"face_count": 2,
	})

	r, err := NewGRPCRecognizer(Config{Endpoint: addr, Timeout: 5 * time.Second, SimilarityThreshold: 0.3}, setupTestLogger())
	require.NoError(t, err)
	defer r.Close()

	found, err := r.Recognize(context.Background(), testImage(t), testSubjects())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"S2": "Bob Jones"}, found)
}

func TestGRPCRecognizer_CheckHealth(t *testing.T) {
	addr, hs := startRecognitionServer(t, map[string]any{})

	r, err := NewGRPCRecognizer(Config{Endpoint: addr, Timeout: 5 * time.Second}, setupTestLogger())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.CheckHealth(context.Background()))

	hs.SetServingStatus(RecognitionServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	assert.Error(t, r.CheckHealth(context.Background()))
}

func fakeProgram(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "recognize.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecRecognizer_Recognize(t *testing.T) {
	// Echo progress noise, then the detections, then a non-JSON dict dump
	program := fakeProgram(t, `
cat > /dev/null
echo "loading model..."
echo '{"S1": "alice", "X9": "stranger"}'
echo "{'S1': 'alice'}"
`)
	r, err := NewExecRecognizer(Config{Command: program, Timeout: 5 * time.Second}, setupTestLogger())
	require.NoError(t, err)

	found, err := r.Recognize(context.Background(), testImage(t), testSubjects())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"S1": "Alice Smith"}, found)
}

func TestExecRecognizer_ReceivesImagePathAndSubjects(t *testing.T) {
	dir := t.TempDir()
	program := fakeProgram(t, `
cat > "`+dir+`/stdin.json"
for last; do :; done
echo "$last" > "`+dir+`/arg.txt"
echo '{}'
`)
	r, err := NewExecRecognizer(Config{Command: program, Timeout: 5 * time.Second}, setupTestLogger())
	require.NoError(t, err)

	image := testImage(t)
	found, err := r.Recognize(context.Background(), image, testSubjects())
	require.NoError(t, err)
	assert.Empty(t, found)

	arg, err := os.ReadFile(filepath.Join(dir, "arg.txt"))
	require.NoError(t, err)
	assert.Equal(t, image.Path+"\n", string(arg))

	var subjects []subjectPayload
	stdin, err := os.ReadFile(filepath.Join(dir, "stdin.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(stdin, &subjects))
	assert.Len(t, subjects, 2)
}

func TestExecRecognizer_Failure(t *testing.T) {
	program := fakeProgram(t, `echo "CUDA out of memory" >&2; exit 3`)
	r, err := NewExecRecognizer(Config{Command: program, Timeout: 5 * time.Second}, setupTestLogger())
	require.NoError(t, err)

	_, err = r.Recognize(context.Background(), testImage(t), testSubjects())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestExecRecognizer_NoDetectionObject(t *testing.T) {
	program := fakeProgram(t, `cat > /dev/null; echo "no faces"`)
	r, err := NewExecRecognizer(Config{Command: program, Timeout: 5 * time.Second}, setupTestLogger())
	require.NoError(t, err)

	_, err = r.Recognize(context.Background(), testImage(t), testSubjects())
	assert.Error(t, err)
}

func TestNewExecRecognizerRequiresCommand(t *testing.T) {
	_, err := NewExecRecognizer(Config{Command: "  "}, setupTestLogger())
	assert.Error(t, err)
}
