package attendance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventLog records collaborator calls in order across goroutines
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeHalls struct {
	cameras map[string][]CameraEndpoint
	err     error
}

func (f *fakeHalls) GetCameras(ctx context.Context, hallName string) ([]CameraEndpoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cameras[hallName], nil
}

type fakeEnrollment struct {
	subjects map[string][]Subject
	err      error
}

func (f *fakeEnrollment) GetSubjects(ctx context.Context, courseID string) ([]Subject, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.subjects[courseID], nil
}

type captureFunc func(ctx context.Context, endpoint CameraEndpoint, sessionTag string) (ImageHandle, error)

func (f captureFunc) Capture(ctx context.Context, endpoint CameraEndpoint, sessionTag string) (ImageHandle, error) {
	return f(ctx, endpoint, sessionTag)
}

// pathCapturer returns "<tag>/<camera id>.jpg" for every camera
func pathCapturer() captureFunc {
	return func(ctx context.Context, endpoint CameraEndpoint, sessionTag string) (ImageHandle, error) {
		return ImageHandle{CameraID: endpoint.ID, Path: sessionTag + "/" + endpoint.ID + ".jpg"}, nil
	}
}

type recognizeFunc func(ctx context.Context, image ImageHandle, subjects []Subject) (map[string]string, error)

func (f recognizeFunc) Recognize(ctx context.Context, image ImageHandle, subjects []Subject) (map[string]string, error) {
	return f(ctx, image, subjects)
}

// memoryStore is an in-memory RosterStore
type memoryStore struct {
	mu      sync.Mutex
	rows    map[string][]RosterRow
	loadErr error
	saveErr error
	log     *eventLog
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string][]RosterRow)}
}

func (m *memoryStore) LoadRoster(ctx context.Context, courseID string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	ids := make(map[string]struct{})
	for _, row := range m.rows[courseID] {
		ids[row.SubjectID] = struct{}{}
	}
	return ids, nil
}

func (m *memoryStore) AppendRows(ctx context.Context, courseID string, rows []RosterRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.rows[courseID] = append(m.rows[courseID], rows...)
	if m.log != nil {
		m.log.add("append %s %d", courseID, len(rows))
	}
	return nil
}

func (m *memoryStore) Location(courseID string) string {
	return "mem://" + courseID
}

func (m *memoryStore) rowsFor(courseID string) []RosterRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RosterRow(nil), m.rows[courseID]...)
}

// sealingStore is a memoryStore whose artifacts can be sealed per session
type sealingStore struct {
	*memoryStore
	sealed map[string][]RosterRow
}

func newSealingStore(log *eventLog) *sealingStore {
	store := newMemoryStore()
	store.log = log
	return &sealingStore{memoryStore: store, sealed: make(map[string][]RosterRow)}
}

func (s *sealingStore) Seal(ctx context.Context, courseID, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[courseID]
	if len(rows) == 0 {
		return "", nil
	}
	location := "mem://" + courseID + "/" + sessionID
	s.sealed[location] = rows
	delete(s.rows, courseID)
	s.log.add("seal %s", location)
	return location, nil
}

func (s *sealingStore) Discard(ctx context.Context, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sealed, location)
	s.log.add("discard %s", location)
	return nil
}

func (s *sealingStore) sealedRows(location string) []RosterRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RosterRow(nil), s.sealed[location]...)
}

type deliverFunc func(ctx context.Context, courseID, artifactLocation, recipient string) error

func (f deliverFunc) Deliver(ctx context.Context, courseID, artifactLocation, recipient string) error {
	return f(ctx, courseID, artifactLocation, recipient)
}

// fakeRecorder logs lifecycle records. When startGate is set, RecordStart
// signals entered and blocks until the gate is closed.
type fakeRecorder struct {
	log       *eventLog
	entered   chan struct{}
	startGate chan struct{}
}

func (r *fakeRecorder) RecordStart(ctx context.Context, info SessionInfo) error {
	if r.startGate != nil {
		r.entered <- struct{}{}
		<-r.startGate
	}
	r.log.add("record start %s", info.ID)
	return nil
}

func (r *fakeRecorder) RecordStop(ctx context.Context, sessionID string) error {
	r.log.add("record stop %s", sessionID)
	return nil
}

func (r *fakeRecorder) RecordTermination(ctx context.Context, sessionID string, cycles uint64) error {
	r.log.add("record termination %s", sessionID)
	return nil
}

type fakeDeliverer struct {
	log *eventLog
	err error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, courseID, artifactLocation, recipient string) error {
	f.log.add("deliver %s %s %s", courseID, artifactLocation, recipient)
	return f.err
}

type fakeCleaner struct {
	log *eventLog
}

func (f *fakeCleaner) ClearWorkingStorage(ctx context.Context, courseID string) error {
	f.log.add("cleanup %s", courseID)
	return nil
}

var errCameraOffline = errors.New("camera offline")

func cameras(ids ...string) []CameraEndpoint {
	out := make([]CameraEndpoint, 0, len(ids))
	for _, id := range ids {
		out = append(out, CameraEndpoint{ID: id, Username: "admin", Password: "secret", Address: "10.0.0." + id})
	}
	return out
}

func subjects(pairs ...string) []Subject {
	out := make([]Subject, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Subject{ID: pairs[i], DisplayName: pairs[i+1], ReferenceEncoding: []float64{0.1, 0.2}})
	}
	return out
}
