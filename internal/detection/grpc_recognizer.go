package detection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"rollcall/internal/attendance"
)

// Fully qualified gRPC names of the recognition service
const (
	RecognitionServiceName = "rollcall.recognition.v1.RecognitionService"
	recognizeMethod        = "/" + RecognitionServiceName + "/Recognize"
)

// GRPCRecognizer calls a recognition service over gRPC. Requests and
// replies are google.protobuf.Struct messages mirroring the HTTP backend's
// JSON bodies, so the service needs no generated stubs on this side.
type GRPCRecognizer struct {
	endpoint  string
	conn      *grpc.ClientConn
	health    healthpb.HealthClient
	timeout   time.Duration
	threshold float64
	logger    *slog.Logger
}

// NewGRPCRecognizer creates a gRPC recognition client. The connection is
// established lazily on first use.
func NewGRPCRecognizer(config Config, logger *slog.Logger) (*GRPCRecognizer, error) {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.NewClient(config.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", config.Endpoint, err)
	}

	return &GRPCRecognizer{
		endpoint:  config.Endpoint,
		conn:      conn,
		health:    healthpb.NewHealthClient(conn),
		timeout:   config.Timeout,
		threshold: config.SimilarityThreshold,
		logger:    logger.With("component", "grpc_recognizer", "endpoint", config.Endpoint),
	}, nil
}

// Recognize sends image to the service and returns the enrolled subjects it matched
func (r *GRPCRecognizer) Recognize(ctx context.Context, image attendance.ImageHandle, subjects []attendance.Subject) (map[string]string, error) {
	imageData, err := os.ReadFile(image.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	req, err := recognizeRequest(image.CameraID, imageData, subjects)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reply := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, recognizeMethod, req, reply); err != nil {
		return nil, fmt.Errorf("recognize rpc failed: %w", err)
	}

	result, err := decodeRecognizeReply(reply)
	if err != nil {
		return nil, err
	}

	found := filterMatches(result.Matches, subjects, r.threshold)
	r.logger.Debug("recognition result",
		"camera_id", image.CameraID,
		"faces", result.FaceCount,
		"matched", len(found),
		"inference_ms", result.InferenceTimeMs)
	return found, nil
}

func recognizeRequest(cameraID string, imageData []byte, subjects []attendance.Subject) (*structpb.Struct, error) {
	payload := toPayload(subjects)
	list := make([]any, 0, len(payload))
	for _, s := range payload {
		encoding := make([]any, len(s.Encoding))
		for i, v := range s.Encoding {
			encoding[i] = v
		}
		list = append(list, map[string]any{
			"id":       s.ID,
			"name":     s.Name,
			"encoding": encoding,
		})
	}

	req, err := structpb.NewStruct(map[string]any{
		"camera_id": cameraID,
		"image":     base64.StdEncoding.EncodeToString(imageData),
		"subjects":  list,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build recognize request: %w", err)
	}
	return req, nil
}

// decodeRecognizeReply maps the reply struct onto RecognitionResult via its
// JSON form
func decodeRecognizeReply(reply *structpb.Struct) (RecognitionResult, error) {
	var result RecognitionResult
	raw, err := protojson.Marshal(reply)
	if err != nil {
		return result, fmt.Errorf("failed to encode recognize reply: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("failed to decode recognize reply: %w", err)
	}
	return result, nil
}

// CheckHealth queries the standard gRPC health service for the recognition service
func (r *GRPCRecognizer) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := r.health.Check(ctx, &healthpb.HealthCheckRequest{Service: RecognitionServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service not serving: %s", resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection
func (r *GRPCRecognizer) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
