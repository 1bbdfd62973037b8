package detection

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"rollcall/internal/attendance"
)

// ExecRecognizer runs an external recognition program once per image. The
// program receives the image path as its last argument and the subjects as
// a JSON array on stdin. The last line of stdout holding a JSON object is
// read as the id -> name detection map.
type ExecRecognizer struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecRecognizer creates a recognizer around config.Command, split on whitespace
func NewExecRecognizer(config Config, logger *slog.Logger) (*ExecRecognizer, error) {
	command := strings.Fields(config.Command)
	if len(command) == 0 {
		return nil, errors.New("exec recognizer requires a command")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &ExecRecognizer{
		command: command,
		timeout: config.Timeout,
		logger:  logger.With("component", "exec_recognizer", "command", command[0]),
	}, nil
}

// Recognize runs the program against image
func (r *ExecRecognizer) Recognize(ctx context.Context, image attendance.ImageHandle, subjects []attendance.Subject) (map[string]string, error) {
	input, err := json.Marshal(toPayload(subjects))
	if err != nil {
		return nil, fmt.Errorf("failed to encode subjects: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append(append([]string(nil), r.command[1:]...), image.Path)
	cmd := exec.CommandContext(ctx, r.command[0], args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("recognition process timed out after %s", r.timeout)
		}
		return nil, fmt.Errorf("recognition process failed: %w (stderr: %s)", err, lastLines(stderr.String(), 5))
	}

	found, err := parseDetections(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	// The program may report ids it was not given; only enrolled ones count.
	enrolled := make(map[string]string, len(subjects))
	for _, s := range subjects {
		enrolled[s.ID] = s.DisplayName
	}
	for id := range found {
		name, ok := enrolled[id]
		if !ok {
			r.logger.Debug("dropping unknown subject from recognition output", "subject_id", id)
			delete(found, id)
			continue
		}
		found[id] = name
	}
	return found, nil
}

// parseDetections returns the last line of output that decodes as a JSON
// object of strings. Lines that merely look like objects, such as a
// language-native dict dump, are skipped.
func parseDetections(output []byte) (map[string]string, error) {
	var candidates []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			candidates = append(candidates, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recognition output: %w", err)
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		found := make(map[string]string)
		if err := json.Unmarshal([]byte(candidates[i]), &found); err == nil {
			return found, nil
		}
	}
	return nil, errors.New("recognition output contained no detection object")
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// CheckHealth verifies the program can be found
func (r *ExecRecognizer) CheckHealth(ctx context.Context) error {
	if _, err := exec.LookPath(r.command[0]); err != nil {
		return fmt.Errorf("recognition command not available: %w", err)
	}
	return nil
}

// Close is a no-op
func (r *ExecRecognizer) Close() error { return nil }
