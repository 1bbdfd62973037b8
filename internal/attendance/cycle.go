package attendance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eapache/queue"
	"golang.org/x/sync/errgroup"
)

// DefaultRecognitionConcurrency bounds simultaneous recognizer calls per cycle
const DefaultRecognitionConcurrency = 3

// CycleReport summarises one capture → recognize → aggregate pass
type CycleReport struct {
	Captured   int
	Recognized int
	Result     CycleResult
	Committed  int
	Err        error // persistence failure, if any
}

// CycleRunner executes polling cycles. Captures fan out one goroutine per
// camera with no cap; recognition runs in batches of at most concurrency
// images, each batch fully settling before the next one starts.
type CycleRunner struct {
	capturer    Capturer
	recognizer  Recognizer
	aggregator  *Aggregator
	concurrency int
	logger      *slog.Logger
}

// NewCycleRunner creates a cycle runner. A non-positive concurrency falls
// back to DefaultRecognitionConcurrency.
func NewCycleRunner(capturer Capturer, recognizer Recognizer, aggregator *Aggregator, concurrency int, logger *slog.Logger) *CycleRunner {
	if concurrency <= 0 {
		concurrency = DefaultRecognitionConcurrency
	}
	return &CycleRunner{
		capturer:    capturer,
		recognizer:  recognizer,
		aggregator:  aggregator,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run executes one full cycle. Individual capture and recognition failures
// are logged and skipped; a persistence failure is logged and reported in
// CycleReport.Err. Nothing here aborts the session.
func (c *CycleRunner) Run(ctx context.Context, courseID string, cameras []CameraEndpoint, subjects []Subject) CycleReport {
	logger := c.logger.With("course_id", courseID)

	images := c.captureAll(ctx, logger, courseID, cameras)
	logger.Debug("captures settled", "cameras", len(cameras), "images", len(images))

	result, recognized := c.recognizeAll(ctx, logger, images, subjects)

	report := CycleReport{
		Captured:   len(images),
		Recognized: recognized,
		Result:     result,
	}

	if len(result) == 0 {
		logger.Info("no students found in any camera view this cycle")
		return report
	}

	committed, err := c.aggregator.Commit(ctx, courseID, result)
	if err != nil {
		logger.Error("failed to commit cycle result", "detected", len(result), "error", err)
		report.Err = err
		return report
	}
	report.Committed = committed
	logger.Info("cycle committed", "detected", len(result), "new_rows", committed)
	return report
}

// captureAll grabs one still per camera in parallel and returns the
// successful handles in camera order
func (c *CycleRunner) captureAll(ctx context.Context, logger *slog.Logger, courseID string, cameras []CameraEndpoint) []ImageHandle {
	slots := make([]*ImageHandle, len(cameras))

	var g errgroup.Group
	for i, cam := range cameras {
		g.Go(func() error {
			handle, err := c.capture(ctx, cam, courseID)
			if err != nil {
				logger.Warn("camera capture failed", "camera_id", cam.ID, "error", err)
				return nil
			}
			slots[i] = &handle
			return nil
		})
	}
	_ = g.Wait()

	images := make([]ImageHandle, 0, len(cameras))
	for _, h := range slots {
		if h != nil {
			images = append(images, *h)
		}
	}
	return images
}

// recognizeAll drains images through the recognizer in fixed-size batches
// and merges detections with last-write-wins on subject id. Within a batch
// results are applied in image order, so the outcome does not depend on
// which call finished first.
func (c *CycleRunner) recognizeAll(ctx context.Context, logger *slog.Logger, images []ImageHandle, subjects []Subject) (CycleResult, int) {
	pending := queue.New()
	for _, img := range images {
		pending.Add(img)
	}

	result := make(CycleResult)
	recognized := 0

	for pending.Length() > 0 {
		n := min(c.concurrency, pending.Length())
		batch := make([]ImageHandle, n)
		for i := range batch {
			batch[i] = pending.Remove().(ImageHandle)
		}

		detections := make([]map[string]string, n)
		var g errgroup.Group
		for i, img := range batch {
			g.Go(func() error {
				found, err := c.recognize(ctx, img, subjects)
				if err != nil {
					logger.Warn("recognition failed", "camera_id", img.CameraID, "image", img.Path, "error", err)
					return nil
				}
				detections[i] = found
				return nil
			})
		}
		_ = g.Wait()

		for i, found := range detections {
			if found == nil {
				continue
			}
			recognized++
			logger.Debug("found students in one view", "camera_id", batch[i].CameraID, "students", found)
			result.Merge(found)
		}
	}

	return result, recognized
}

func (c *CycleRunner) capture(ctx context.Context, cam CameraEndpoint, courseID string) (handle ImageHandle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrCaptureFailure, r)
		}
	}()

	handle, err = c.capturer.Capture(ctx, cam, courseID)
	if err != nil {
		return ImageHandle{}, fmt.Errorf("%w: %w", ErrCaptureFailure, err)
	}
	return handle, nil
}

func (c *CycleRunner) recognize(ctx context.Context, img ImageHandle, subjects []Subject) (found map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrRecognitionFailure, r)
		}
	}()

	found, err = c.recognizer.Recognize(ctx, img, subjects)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecognitionFailure, err)
	}
	if found == nil {
		found = map[string]string{}
	}
	return found, nil
}
