package attendance

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Session owns one course's polling loop. It is created by Registry.Start
// and only the registry can stop it. The loop runs on its own goroutine;
// callers observe it through Info and Done, never by joining it.
type Session struct {
	id        string
	courseID  string
	hallName  string
	cameras   []CameraEndpoint
	subjects  []Subject
	startedAt time.Time

	runner   *CycleRunner
	interval time.Duration
	final    finalizer
	bus      *EventBus
	logger   *slog.Logger

	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
	mu        sync.RWMutex
	state     SessionState
	recipient string
	cycles    uint64
	lastCycle time.Time
}

// finalizer holds the collaborators run while draining
type finalizer struct {
	aggregator       *Aggregator
	store            RosterStore
	deliverer        Deliverer
	cleaner          Cleaner
	recorder         SessionRecorder
	defaultRecipient string
}

// ID returns the session's unique identifier
func (s *Session) ID() string { return s.id }

// CourseID returns the course the session takes attendance for
func (s *Session) CourseID() string { return s.courseID }

// Done is closed once the session reaches StateTerminated
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		ID:           s.id,
		CourseID:     s.courseID,
		HallName:     s.hallName,
		State:        s.state,
		CameraCount:  len(s.cameras),
		SubjectCount: len(s.subjects),
		Cycles:       s.cycles,
		StartedAt:    s.startedAt,
		LastCycleAt:  s.lastCycle,
	}
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// requestStop signals the loop to exit after its in-flight cycle. Only the
// first call's recipient is kept.
func (s *Session) requestStop(recipient string) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.recipient = recipient
		s.mu.Unlock()
		close(s.stopCh)
	})
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// run is the polling loop: cycle, wait, repeat until stopped, then drain.
// Stop is only observed between cycles, never inside one.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	s.setState(StateRunning)
	s.logger.Info("attendance loop started",
		"cameras", len(s.cameras),
		"subjects", len(s.subjects),
		"interval", s.interval)

	for !s.stopRequested() && ctx.Err() == nil {
		s.runCycle(ctx)

		if !s.wait(ctx) {
			break
		}
	}

	s.drain(ctx)
}

func (s *Session) runCycle(ctx context.Context) {
	s.mu.Lock()
	s.cycles++
	cycle := s.cycles
	s.mu.Unlock()

	logger := s.logger.With("cycle", cycle)
	logger.Info("starting attendance check")

	report := s.runner.Run(ctx, s.courseID, s.cameras, s.subjects)

	now := time.Now()
	s.mu.Lock()
	s.lastCycle = now
	s.mu.Unlock()

	event := &Event{
		Type:       EventCycle,
		SessionID:  s.id,
		CourseID:   s.courseID,
		HallName:   s.hallName,
		Timestamp:  now,
		Cycle:      cycle,
		Captured:   report.Captured,
		Recognized: report.Recognized,
		Detected:   report.Result,
		Committed:  report.Committed,
	}
	if report.Err != nil {
		event.Err = report.Err.Error()
	}
	s.bus.Publish(event)
}

// wait sleeps for the inter-cycle delay. It reports false when a stop or
// shutdown arrives first.
func (s *Session) wait(ctx context.Context) bool {
	s.logger.Debug("waiting for next check", "interval", s.interval)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	select {
	case <-s.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// drain runs finalisation: deliver the roster, clear working storage,
// record termination. Failures are logged; the session terminates anyway.
func (s *Session) drain(ctx context.Context) {
	s.setState(StateDraining)
	s.logger.Info("attendance loop stopped, finalising")

	s.mu.RLock()
	recipient := s.recipient
	cycles := s.cycles
	s.mu.RUnlock()
	if recipient == "" {
		recipient = s.final.defaultRecipient
	}

	s.finishArtifact(ctx, recipient)

	if s.final.cleaner != nil {
		if err := s.final.cleaner.ClearWorkingStorage(ctx, s.courseID); err != nil {
			s.logger.Error("failed to clear working storage", "error", err)
		}
	}

	if s.final.recorder != nil {
		if err := s.final.recorder.RecordTermination(ctx, s.id, cycles); err != nil {
			s.logger.Warn("failed to record session termination", "error", err)
		}
	}

	s.setState(StateTerminated)
	s.bus.Publish(&Event{
		Type:      EventTerminated,
		SessionID: s.id,
		CourseID:  s.courseID,
		HallName:  s.hallName,
		Timestamp: time.Now(),
		Cycle:     cycles,
	})
	s.logger.Info("attendance session terminated", "cycles", cycles)
}

// finishArtifact delivers the roster. Stores that can seal get their
// artifact sealed first and the sealed copy discarded afterwards, leaving
// the course's live artifact to whichever session runs next.
func (s *Session) finishArtifact(ctx context.Context, recipient string) {
	sealer, ok := s.final.store.(ArtifactSealer)
	if !ok {
		s.deliver(ctx, s.final.aggregator.Location(s.courseID), recipient, s.hasRoster(ctx))
		return
	}

	location, err := sealer.Seal(ctx, s.courseID, s.id)
	if err != nil {
		s.logger.Error("failed to seal attendance report", "error", courseErr(s.courseID, "seal", ErrPersistence, err))
		s.deliver(ctx, s.final.aggregator.Location(s.courseID), recipient, true)
		return
	}

	s.deliver(ctx, location, recipient, location != "")

	if location == "" {
		return
	}
	if err := sealer.Discard(ctx, location); err != nil {
		s.logger.Error("failed to discard attendance report", "artifact", location, "error", err)
	}
}

// hasRoster reports whether anything was recorded for the course. A read
// failure counts as recorded so delivery is still attempted.
func (s *Session) hasRoster(ctx context.Context) bool {
	if s.final.store == nil {
		return true
	}
	rows, err := s.final.store.LoadRoster(ctx, s.courseID)
	return err != nil || len(rows) > 0
}

func (s *Session) deliver(ctx context.Context, location, recipient string, recorded bool) {
	if s.final.deliverer == nil {
		return
	}
	if recipient == "" {
		s.logger.Warn("no recipient for attendance report, skipping delivery")
		return
	}

	// An empty roster sends nothing, not an empty report.
	if !recorded {
		s.logger.Info("no attendance recorded, nothing to deliver")
		return
	}

	if err := s.final.deliverer.Deliver(ctx, s.courseID, location, recipient); err != nil {
		s.logger.Error("failed to deliver attendance report",
			"recipient", recipient,
			"error", courseErr(s.courseID, "deliver", ErrDeliveryFailure, err))
		return
	}
	s.logger.Info("attendance report delivered", "recipient", recipient, "artifact", location)
}
