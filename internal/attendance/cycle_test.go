package attendance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleRunner_CaptureFailureDoesNotAbortCycle(t *testing.T) {
	capturer := captureFunc(func(ctx context.Context, endpoint CameraEndpoint, tag string) (ImageHandle, error) {
		if endpoint.ID == "2" {
			return ImageHandle{}, errCameraOffline
		}
		return ImageHandle{CameraID: endpoint.ID, Path: endpoint.ID + ".jpg"}, nil
	})
	recognizer := recognizeFunc(func(ctx context.Context, img ImageHandle, subs []Subject) (map[string]string, error) {
		switch img.CameraID {
		case "1":
			return map[string]string{"S1": "Alice"}, nil
		case "3":
			return map[string]string{"S3": "Carol"}, nil
		}
		return nil, nil
	})
	store := newMemoryStore()
	runner := NewCycleRunner(capturer, recognizer, NewAggregator(store, setupTestLogger()), 3, setupTestLogger())

	report := runner.Run(context.Background(), "CS101", cameras("1", "2", "3"), subjects("S1", "Alice", "S3", "Carol"))

	assert.Equal(t, 2, report.Captured)
	assert.Equal(t, 2, report.Recognized)
	assert.Equal(t, CycleResult{"S1": "Alice", "S3": "Carol"}, report.Result)
	assert.Equal(t, 2, report.Committed)
	assert.NoError(t, report.Err)

	rows := store.rowsFor("CS101")
	require.Len(t, rows, 2)
	assert.Equal(t, "S1", rows[0].SubjectID)
	assert.Equal(t, "S3", rows[1].SubjectID)
}

func TestCycleRunner_RecognitionFailuresAndPanicsAreSkipped(t *testing.T) {
	recognizer := recognizeFunc(func(ctx context.Context, img ImageHandle, subs []Subject) (map[string]string, error) {
		switch img.CameraID {
		case "1":
			return nil, errors.New("recognizer unreachable")
		case "2":
			panic("corrupt image")
		}
		return map[string]string{"S3": "Carol"}, nil
	})
	store := newMemoryStore()
	runner := NewCycleRunner(pathCapturer(), recognizer, NewAggregator(store, setupTestLogger()), 3, setupTestLogger())

	report := runner.Run(context.Background(), "CS101", cameras("1", "2", "3"), subjects("S3", "Carol"))

	assert.Equal(t, 3, report.Captured)
	assert.Equal(t, 1, report.Recognized)
	assert.Equal(t, CycleResult{"S3": "Carol"}, report.Result)
	assert.Len(t, store.rowsFor("CS101"), 1)
}

func TestCycleRunner_CapturePanicIsCaptureFailure(t *testing.T) {
	runner := NewCycleRunner(nil, nil, nil, 1, setupTestLogger())
	capturer := captureFunc(func(ctx context.Context, endpoint CameraEndpoint, tag string) (ImageHandle, error) {
		panic("driver crashed")
	})
	runner.capturer = capturer

	_, err := runner.capture(context.Background(), CameraEndpoint{ID: "1"}, "CS101")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCaptureFailure)
}

func TestCycleRunner_NoImagesCommitsNothing(t *testing.T) {
	capturer := captureFunc(func(ctx context.Context, endpoint CameraEndpoint, tag string) (ImageHandle, error) {
		return ImageHandle{}, errCameraOffline
	})
	var calls atomic.Int32
	recognizer := recognizeFunc(func(ctx context.Context, img ImageHandle, subs []Subject) (map[string]string, error) {
		calls.Add(1)
		return nil, nil
	})
	store := newMemoryStore()
	runner := NewCycleRunner(capturer, recognizer, NewAggregator(store, setupTestLogger()), 3, setupTestLogger())

	report := runner.Run(context.Background(), "CS101", cameras("1", "2"), subjects("S1", "Alice"))

	assert.Zero(t, report.Captured)
	assert.Empty(t, report.Result)
	assert.Zero(t, calls.Load())
	assert.Empty(t, store.rowsFor("CS101"))
}

func TestCycleRunner_RecognitionRunsInBatches(t *testing.T) {
	var (
		mu       sync.Mutex
		active   int
		peak     int
		started  []string
		finished = make(map[string]int) // camera id -> finish order
		order    int
	)

	recognizer := recognizeFunc(func(ctx context.Context, img ImageHandle, subs []Subject) (map[string]string, error) {
		mu.Lock()
		active++
		peak = max(peak, active)
		started = append(started, img.CameraID)
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		active--
		order++
		finished[img.CameraID] = order
		mu.Unlock()
		return map[string]string{"S" + img.CameraID: "Student " + img.CameraID}, nil
	})

	store := newMemoryStore()
	runner := NewCycleRunner(pathCapturer(), recognizer, NewAggregator(store, setupTestLogger()), 3, setupTestLogger())

	report := runner.Run(context.Background(), "CS101", cameras("1", "2", "3", "4", "5"), subjects("S1", "Student 1"))

	assert.Equal(t, 5, report.Recognized)
	assert.Len(t, report.Result, 5)
	assert.LessOrEqual(t, peak, 3)

	// Images 4 and 5 form the second batch; they may only start after
	// images 1-3 have all finished.
	require.Len(t, started, 5)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, started[:3])
	assert.ElementsMatch(t, []string{"4", "5"}, started[3:])
	for _, first := range []string{"1", "2", "3"} {
		for _, second := range []string{"4", "5"} {
			assert.Less(t, finished[first], finished[second])
		}
	}
}

func TestCycleRunner_LastWriteWinsAcrossBatches(t *testing.T) {
	recognizer := recognizeFunc(func(ctx context.Context, img ImageHandle, subs []Subject) (map[string]string, error) {
		if img.CameraID == "1" {
			return map[string]string{"A": "Alice"}, nil
		}
		return map[string]string{"A": "Alicia"}, nil
	})
	runner := NewCycleRunner(pathCapturer(), recognizer, NewAggregator(newMemoryStore(), setupTestLogger()), 1, setupTestLogger())

	report := runner.Run(context.Background(), "CS101", cameras("1", "2"), subjects("A", "Alice"))

	assert.Equal(t, CycleResult{"A": "Alicia"}, report.Result)
}

func TestCycleRunner_WithinBatchMergeFollowsImageOrder(t *testing.T) {
	// Image 1 finishes last but image 2 still wins because it comes later
	// in camera order.
	recognizer := recognizeFunc(func(ctx context.Context, img ImageHandle, subs []Subject) (map[string]string, error) {
		if img.CameraID == "1" {
			time.Sleep(30 * time.Millisecond)
			return map[string]string{"A": "Alice"}, nil
		}
		return map[string]string{"A": "Alicia"}, nil
	})
	runner := NewCycleRunner(pathCapturer(), recognizer, NewAggregator(newMemoryStore(), setupTestLogger()), 3, setupTestLogger())

	report := runner.Run(context.Background(), "CS101", cameras("1", "2"), subjects("A", "Alice"))

	assert.Equal(t, CycleResult{"A": "Alicia"}, report.Result)
}

func TestCycleRunner_PersistenceFailureIsReported(t *testing.T) {
	store := newMemoryStore()
	store.saveErr = errors.New("disk full")
	recognizer := recognizeFunc(func(ctx context.Context, img ImageHandle, subs []Subject) (map[string]string, error) {
		return map[string]string{"S1": "Alice"}, nil
	})
	runner := NewCycleRunner(pathCapturer(), recognizer, NewAggregator(store, setupTestLogger()), 3, setupTestLogger())

	report := runner.Run(context.Background(), "CS101", cameras("1"), subjects("S1", "Alice"))

	require.Error(t, report.Err)
	assert.ErrorIs(t, report.Err, ErrPersistence)
	assert.Zero(t, report.Committed)
}

func TestCycleResult_Merge(t *testing.T) {
	result := CycleResult{}
	result.Merge(map[string]string{"A": "Alice", "B": "Bob"})
	result.Merge(map[string]string{"A": "Alicia"})

	assert.Equal(t, CycleResult{"A": "Alicia", "B": "Bob"}, result)
}
