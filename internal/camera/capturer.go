package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/attendance"
)

// Defaults for hall IP cameras
const (
	DefaultRTSPPort   = 554
	DefaultStreamPath = "/stream1"
	DefaultTransport  = "tcp"
	DefaultTimeout    = 15 * time.Second
)

// Config controls how stills are grabbed from camera streams
type Config struct {
	FFmpegPath string
	RTSPPort   int
	StreamPath string
	Transport  string
	Timeout    time.Duration
}

// FFmpegCapturer grabs a single JPEG frame per call by running ffmpeg
// against the camera's stream and writing the frame into the workspace.
type FFmpegCapturer struct {
	config    Config
	workspace *Workspace
	logger    *slog.Logger
}

// NewFFmpegCapturer creates a capturer writing into workspace
func NewFFmpegCapturer(config Config, workspace *Workspace, logger *slog.Logger) *FFmpegCapturer {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.RTSPPort == 0 {
		config.RTSPPort = DefaultRTSPPort
	}
	if config.StreamPath == "" {
		config.StreamPath = DefaultStreamPath
	}
	if config.Transport == "" {
		config.Transport = DefaultTransport
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &FFmpegCapturer{
		config:    config,
		workspace: workspace,
		logger:    logger.With("component", "ffmpeg_capturer"),
	}
}

// Capture takes one still from endpoint and stores it under the course's
// screenshot directory. sessionTag is the course id.
func (c *FFmpegCapturer) Capture(ctx context.Context, endpoint attendance.CameraEndpoint, sessionTag string) (attendance.ImageHandle, error) {
	dir, err := c.workspace.EnsureScreenshotDir(sessionTag)
	if err != nil {
		return attendance.ImageHandle{}, err
	}

	output := filepath.Join(dir, screenshotName(time.Now()))
	source := c.SourceURL(endpoint)

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.config.FFmpegPath, c.args(source, output)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.logger.Debug("taking screenshot", "camera_id", endpoint.ID, "output", output)

	if err := cmd.Run(); err != nil {
		_ = os.Remove(output)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return attendance.ImageHandle{}, fmt.Errorf("ffmpeg timed out after %s for camera %s", c.config.Timeout, endpoint.ID)
		}
		return attendance.ImageHandle{}, fmt.Errorf("ffmpeg failed for camera %s: %w (stderr: %s)",
			endpoint.ID, err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(output)
	if err != nil {
		return attendance.ImageHandle{}, fmt.Errorf("screenshot for camera %s not written: %w", endpoint.ID, err)
	}
	if info.Size() == 0 {
		_ = os.Remove(output)
		return attendance.ImageHandle{}, fmt.Errorf("screenshot for camera %s is empty", endpoint.ID)
	}

	return attendance.ImageHandle{CameraID: endpoint.ID, Path: output}, nil
}

// SourceURL returns the ffmpeg input for endpoint. Addresses that already
// are URLs or device paths are used as-is; bare hosts become an RTSP URL
// carrying the endpoint's credentials.
func (c *FFmpegCapturer) SourceURL(endpoint attendance.CameraEndpoint) string {
	addr := strings.TrimSpace(endpoint.Address)
	if isNetworkSource(addr) || isDevicePath(addr) {
		return addr
	}

	host := addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		host = net.JoinHostPort(addr, strconv.Itoa(c.config.RTSPPort))
	}

	u := url.URL{
		Scheme: "rtsp",
		Host:   host,
		Path:   c.config.StreamPath,
	}
	if endpoint.Username != "" {
		u.User = url.UserPassword(endpoint.Username, endpoint.Password)
	}
	return u.String()
}

func (c *FFmpegCapturer) args(source, output string) []string {
	var args []string
	switch {
	case strings.HasPrefix(source, "rtsp://"):
		args = []string{"-rtsp_transport", c.config.Transport, "-i", source}
	case isDevicePath(source):
		args = []string{"-f", "v4l2", "-i", source}
	default:
		args = []string{"-i", source}
	}

	return append([]string{"-hide_banner", "-loglevel", "error", "-y"},
		append(args,
			"-frames:v", "1", // single frame
			"-q:v", "2", // high quality JPEG
			output,
		)...)
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

func isDevicePath(device string) bool {
	return strings.HasPrefix(device, "/dev/")
}

func screenshotName(now time.Time) string {
	ts := now.UTC().Format("2006-01-02T15-04-05.000Z")
	return fmt.Sprintf("screenshot-%s-%s.jpg", ts, uuid.NewString()[:8])
}
