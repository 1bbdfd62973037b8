package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rollcall/internal/attendance"
)

// HTTPRecognizer calls a recognition service over HTTP. Each image is
// posted to /recognize as multipart form data together with the subjects
// to match against.
type HTTPRecognizer struct {
	endpoint  string
	client    *http.Client
	threshold float64
	logger    *slog.Logger

	mu         sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

// HealthResponse is the body returned by the service's /health endpoint
type HealthResponse struct {
	Status      string `json:"status"`
	Device      string `json:"device"`
	ModelLoaded bool   `json:"model_loaded"`
}

// NewHTTPRecognizer creates an HTTP recognition client
func NewHTTPRecognizer(config Config, logger *slog.Logger) *HTTPRecognizer {
	return &HTTPRecognizer{
		endpoint:  strings.TrimRight(config.Endpoint, "/"),
		threshold: config.SimilarityThreshold,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger.With("component", "http_recognizer"),
	}
}

// Recognize sends image to the service and returns the enrolled subjects it matched
func (r *HTTPRecognizer) Recognize(ctx context.Context, image attendance.ImageHandle, subjects []attendance.Subject) (map[string]string, error) {
	imageData, err := os.ReadFile(image.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	body, contentType, err := buildRecognizeForm(filepath.Base(image.Path), imageData, subjects)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/recognize", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result RecognitionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode recognize response: %w", err)
	}

	found := filterMatches(result.Matches, subjects, r.threshold)
	r.logger.Debug("recognition result",
		"camera_id", image.CameraID,
		"faces", result.FaceCount,
		"matched", len(found),
		"inference_ms", result.InferenceTimeMs)
	return found, nil
}

// buildRecognizeForm encodes the image as part "file" and the subjects as
// JSON in part "subjects"
func buildRecognizeForm(filename string, imageData []byte, subjects []attendance.Subject) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, "", fmt.Errorf("failed to write image data: %w", err)
	}

	payload, err := json.Marshal(toPayload(subjects))
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode subjects: %w", err)
	}
	if err := writer.WriteField("subjects", string(payload)); err != nil {
		return nil, "", fmt.Errorf("failed to write subjects field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// IsHealthy returns the outcome of the last health check
func (r *HTTPRecognizer) IsHealthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthy
}

// CheckHealth checks if the recognition service is available
func (r *HTTPRecognizer) CheckHealth(ctx context.Context) error {
	healthy, err := r.checkHealth(ctx)

	r.mu.Lock()
	r.healthy = healthy
	r.lastHealth = time.Now()
	r.mu.Unlock()

	return err
}

func (r *HTTPRecognizer) checkHealth(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, fmt.Errorf("failed to decode health response: %w", err)
	}

	if health.Status != "healthy" || !health.ModelLoaded {
		return false, fmt.Errorf("service unhealthy: status=%s, model_loaded=%v", health.Status, health.ModelLoaded)
	}
	return true, nil
}

// Close releases idle connections
func (r *HTTPRecognizer) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
