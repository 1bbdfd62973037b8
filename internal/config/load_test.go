package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv sets environment variables for the duration of the test.
func setupEnv(t *testing.T, envVars map[string]string) {
	t.Helper()
	for k, v := range envVars {
		t.Setenv(k, v)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rollcall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "rollcall.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Second, cfg.Attendance.CycleInterval)
	assert.Equal(t, 3, cfg.Attendance.RecognitionConcurrency)
	assert.Equal(t, "ffmpeg", cfg.Capture.FFmpegPath)
	assert.Equal(t, 554, cfg.Capture.RTSPPort)
	assert.Equal(t, "/stream1", cfg.Capture.StreamPath)
	assert.Equal(t, "http", cfg.Recognition.Backend)
	assert.InDelta(t, 0.3, cfg.Recognition.SimilarityThreshold, 1e-9)
	assert.False(t, cfg.Delivery.SMTP.Enabled())
	assert.False(t, cfg.Delivery.Telegram.Enabled())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	setupEnv(t, map[string]string{
		"ROLLCALL_SERVER_PORT":                        "9090",
		"ROLLCALL_SERVER_LOG_LEVEL":                   "debug",
		"ROLLCALL_ATTENDANCE_CYCLE_INTERVAL":          "2s",
		"ROLLCALL_ATTENDANCE_RECOGNITION_CONCURRENCY": "5",
		"ROLLCALL_RECOGNITION_BACKEND":                "grpc",
		"ROLLCALL_RECOGNITION_ENDPOINT":               "recognizer:50051",
		"ROLLCALL_DELIVERY_DEFAULT_RECIPIENT":         "registrar@example.edu",
		"ROLLCALL_DELIVERY_SMTP_HOST":                 "smtp.example.edu",
		"ROLLCALL_DELIVERY_TELEGRAM_BOT_TOKEN":        "123:abc",
		"ROLLCALL_DELIVERY_TELEGRAM_CONTROL_CHATS":    "42,-100200",
	})

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Attendance.CycleInterval)
	assert.Equal(t, 5, cfg.Attendance.RecognitionConcurrency)
	assert.Equal(t, "grpc", cfg.Recognition.Backend)
	assert.Equal(t, "recognizer:50051", cfg.Recognition.Endpoint)
	assert.Equal(t, "registrar@example.edu", cfg.Delivery.DefaultRecipient)
	assert.True(t, cfg.Delivery.SMTP.Enabled())
	assert.True(t, cfg.Delivery.Telegram.Enabled())
	assert.Equal(t, []string{"42", "-100200"}, cfg.Delivery.Telegram.ControlChats)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 7000
attendance:
  cycle_interval: 30s
  work_dir: /var/lib/rollcall
recognition:
  backend: exec
  command: python3 recognize.py
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Attendance.CycleInterval)
	assert.Equal(t, "/var/lib/rollcall", cfg.Attendance.WorkDir)
	assert.Equal(t, "exec", cfg.Recognition.Backend)
	assert.Equal(t, "python3 recognize.py", cfg.Recognition.Command)
}

func TestLoad_EnvironmentBeatsFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 7000\n")
	setupEnv(t, map[string]string{"ROLLCALL_SERVER_PORT": "7100"})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Server.Port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"ROLLCALL_SERVER_PORT": "70000"}},
		{"unknown log level", map[string]string{"ROLLCALL_SERVER_LOG_LEVEL": "verbose"}},
		{"zero concurrency", map[string]string{"ROLLCALL_ATTENDANCE_RECOGNITION_CONCURRENCY": "0"}},
		{"unknown backend", map[string]string{"ROLLCALL_RECOGNITION_BACKEND": "carrier-pigeon"}},
		{"exec without command", map[string]string{"ROLLCALL_RECOGNITION_BACKEND": "exec"}},
		{"threshold above one", map[string]string{"ROLLCALL_RECOGNITION_SIMILARITY_THRESHOLD": "1.5"}},
		{"bad transport", map[string]string{"ROLLCALL_CAPTURE_TRANSPORT": "sctp"}},
		{"non-numeric control chat", map[string]string{"ROLLCALL_DELIVERY_TELEGRAM_CONTROL_CHATS": "@channel"}},
		{"bad sender address", map[string]string{"ROLLCALL_DELIVERY_SMTP_FROM": "not-an-address"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupEnv(t, tt.env)

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}
