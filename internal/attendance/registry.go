package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCycleInterval is the pause between two polling cycles
const DefaultCycleInterval = 15 * time.Second

// ErrRegistryClosed is returned by Start after Close has been called
var ErrRegistryClosed = errors.New("attendance registry closed")

// RegistryConfig tunes the sessions a registry launches
type RegistryConfig struct {
	// CycleInterval is the delay between cycles. Zero means DefaultCycleInterval.
	CycleInterval time.Duration

	// RecognitionConcurrency caps simultaneous recognizer calls within a cycle.
	// Zero means DefaultRecognitionConcurrency.
	RecognitionConcurrency int

	// DefaultRecipient receives the roster when Stop names none
	DefaultRecipient string
}

// Dependencies are the collaborators a registry wires into its sessions.
// Deliverer, Cleaner, Recorder and Bus are optional.
type Dependencies struct {
	Enrollment EnrollmentLookup
	Halls      HallLookup
	Capturer   Capturer
	Recognizer Recognizer
	Store      RosterStore
	Deliverer  Deliverer
	Cleaner    Cleaner
	Recorder   SessionRecorder
	Bus        *EventBus
}

// Registry is the process-wide table of active attendance sessions, keyed
// by course id. It is the only way to start or stop a session and the sole
// authority on whether a course's attendance is running.
type Registry struct {
	deps       Dependencies
	config     RegistryConfig
	aggregator *Aggregator
	runner     *CycleRunner
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	starting map[string]struct{}
	closed   bool

	// ctx outlives start requests; sessions run under it
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a registry
func NewRegistry(deps Dependencies, config RegistryConfig, logger *slog.Logger) *Registry {
	if config.CycleInterval <= 0 {
		config.CycleInterval = DefaultCycleInterval
	}
	if config.RecognitionConcurrency <= 0 {
		config.RecognitionConcurrency = DefaultRecognitionConcurrency
	}

	aggregator := NewAggregator(deps.Store, logger)
	runner := NewCycleRunner(deps.Capturer, deps.Recognizer, aggregator, config.RecognitionConcurrency,
		logger.With("component", "cycle_runner"))
	ctx, cancel := context.WithCancel(context.Background())

	return &Registry{
		deps:       deps,
		config:     config,
		aggregator: aggregator,
		runner:     runner,
		logger:     logger.With("component", "attendance_registry"),
		sessions:   make(map[string]*Session),
		starting:   make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start resolves the hall's cameras and the course's subjects, registers a
// new session and launches its loop in the background. It returns as soon
// as the loop is launched; the first cycle completes later.
//
// A course that is already running, or currently being started by another
// call, yields ErrAlreadyRunning. An empty camera set yields ErrNoCameras and
// an empty subject list ErrNoSubjects; in both cases nothing is registered.
func (r *Registry) Start(ctx context.Context, courseID, hallName string) (*Session, error) {
	hall := NormalizeHallName(hallName)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if _, running := r.sessions[courseID]; running {
		r.mu.Unlock()
		return nil, courseErr(courseID, "start", ErrAlreadyRunning, nil)
	}
	if _, pending := r.starting[courseID]; pending {
		r.mu.Unlock()
		return nil, courseErr(courseID, "start", ErrAlreadyRunning, nil)
	}
	r.starting[courseID] = struct{}{}
	r.mu.Unlock()

	cameras, subjects, err := r.resolve(ctx, courseID, hall)
	if err != nil {
		r.mu.Lock()
		delete(r.starting, courseID)
		r.mu.Unlock()
		r.logger.Warn("attendance start rejected", "course_id", courseID, "hall", hall, "error", err)
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		id:        id,
		courseID:  courseID,
		hallName:  hall,
		cameras:   cameras,
		subjects:  subjects,
		startedAt: time.Now(),
		runner:    r.runner,
		interval:  r.config.CycleInterval,
		final: finalizer{
			aggregator:       r.aggregator,
			store:            r.deps.Store,
			deliverer:        r.deps.Deliverer,
			cleaner:          r.deps.Cleaner,
			recorder:         r.deps.Recorder,
			defaultRecipient: r.config.DefaultRecipient,
		},
		bus:    r.deps.Bus,
		logger: r.logger.With("course_id", courseID, "hall", hall, "session_id", id),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		state:  StateInitializing,
	}

	// Recorded before the session becomes visible, so a Stop always finds
	// its start entry.
	if r.deps.Recorder != nil {
		if err := r.deps.Recorder.RecordStart(ctx, s.Info()); err != nil {
			s.logger.Warn("failed to record session start", "error", err)
		}
	}

	r.mu.Lock()
	delete(r.starting, courseID)
	if r.closed {
		r.mu.Unlock()
		if r.deps.Recorder != nil {
			if err := r.deps.Recorder.RecordTermination(ctx, id, 0); err != nil {
				s.logger.Warn("failed to record session termination", "error", err)
			}
		}
		return nil, ErrRegistryClosed
	}
	r.sessions[courseID] = s
	r.wg.Add(1)
	r.mu.Unlock()

	r.deps.Bus.Publish(&Event{
		Type:      EventStarted,
		SessionID: id,
		CourseID:  courseID,
		HallName:  hall,
		Timestamp: s.startedAt,
	})

	go func() {
		defer r.wg.Done()
		s.run(r.ctx)
	}()

	s.logger.Info("attendance service started")
	return s, nil
}

func (r *Registry) resolve(ctx context.Context, courseID, hall string) ([]CameraEndpoint, []Subject, error) {
	cameras, err := r.deps.Halls.GetCameras(ctx, hall)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve cameras for hall %s: %w", hall, err)
	}
	if len(cameras) == 0 {
		return nil, nil, courseErr(courseID, "start", ErrNoCameras, fmt.Errorf("hall %s", hall))
	}

	subjects, err := r.deps.Enrollment.GetSubjects(ctx, courseID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve subjects for course %s: %w", courseID, err)
	}
	if len(subjects) == 0 {
		return nil, nil, courseErr(courseID, "start", ErrNoSubjects, nil)
	}

	return cameras, subjects, nil
}

// Stop unregisters the course's session and signals its loop. It returns
// immediately: the in-flight cycle still completes, then the roster is
// delivered to recipient (or the default recipient) and working storage is
// cleared. The course can be started again as soon as Stop returns.
func (r *Registry) Stop(ctx context.Context, courseID, recipient string) error {
	r.mu.Lock()
	s, ok := r.sessions[courseID]
	if !ok {
		r.mu.Unlock()
		return courseErr(courseID, "stop", ErrNotRunning, nil)
	}
	delete(r.sessions, courseID)
	r.mu.Unlock()

	s.requestStop(recipient)

	if r.deps.Recorder != nil {
		if err := r.deps.Recorder.RecordStop(ctx, s.id); err != nil {
			s.logger.Warn("failed to record session stop", "error", err)
		}
	}

	r.deps.Bus.Publish(&Event{
		Type:      EventStopping,
		SessionID: s.id,
		CourseID:  courseID,
		HallName:  s.hallName,
		Timestamp: time.Now(),
	})

	s.logger.Info("received stop request, session will finish its current cycle")
	return nil
}

// IsRunning reports whether courseID has a registered session
func (r *Registry) IsRunning(courseID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[courseID]
	return ok
}

// Get returns the registered session for courseID
func (r *Registry) Get(courseID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[courseID]
	return s, ok
}

// List returns snapshots of all registered sessions ordered by course id
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CourseID < infos[j].CourseID })
	return infos
}

// Close stops every session and waits for their loops, including sessions
// already draining from earlier Stop calls, to terminate. If ctx expires
// first, in-flight work is cancelled and ctx's error is returned.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for courseID, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, courseID)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.requestStop("")
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	defer r.cancel()
	select {
	case <-done:
		r.logger.Info("closed all attendance sessions", "stopped", len(sessions))
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
