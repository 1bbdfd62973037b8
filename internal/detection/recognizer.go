package detection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rollcall/internal/attendance"
)

// Supported recognition backends
const (
	BackendHTTP = "http"
	BackendGRPC = "grpc"
	BackendExec = "exec"
)

// DefaultSimilarityThreshold is the minimum match similarity accepted from
// backends that report one
const DefaultSimilarityThreshold = 0.3

// Config selects and configures the recognition backend
type Config struct {
	Backend             string
	Endpoint            string
	Command             string
	Timeout             time.Duration
	SimilarityThreshold float64
}

// Recognizer is a recognition backend the attendance loop can call
type Recognizer interface {
	attendance.Recognizer

	// CheckHealth reports whether the backend can currently serve requests
	CheckHealth(ctx context.Context) error

	Close() error
}

// New creates the recognizer named by config.Backend
func New(config Config, logger *slog.Logger) (Recognizer, error) {
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	switch strings.ToLower(config.Backend) {
	case BackendHTTP, "":
		if config.Endpoint == "" {
			return nil, fmt.Errorf("http recognizer requires an endpoint")
		}
		return NewHTTPRecognizer(config, logger), nil
	case BackendGRPC:
		if config.Endpoint == "" {
			return nil, fmt.Errorf("grpc recognizer requires an endpoint")
		}
		return NewGRPCRecognizer(config, logger)
	case BackendExec:
		return NewExecRecognizer(config, logger)
	default:
		return nil, fmt.Errorf("unknown recognition backend %q", config.Backend)
	}
}
