package attendance

import (
	"sync"
	"time"
)

// EventType names a session event
type EventType string

const (
	EventStarted    EventType = "started"
	EventCycle      EventType = "cycle"
	EventStopping   EventType = "stopping"
	EventTerminated EventType = "terminated"
)

// Event describes a session lifecycle transition or a completed cycle
type Event struct {
	Type      EventType
	SessionID string
	CourseID  string
	HallName  string
	Timestamp time.Time

	// Cycle fields, set for EventCycle only
	Cycle      uint64
	Captured   int
	Recognized int
	Detected   CycleResult
	Committed  int
	Err        string
}

// EventBus provides pub/sub for session events.
// Handlers run synchronously on the publishing goroutine so that a course's
// events are delivered in order; they must not block.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	courseFilter string // Empty string means receive all courses
	channel      chan *Event
	handler      EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for events from all courses.
// Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler EventHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeCourse registers a handler for events of a single course
func (b *EventBus) SubscribeCourse(courseID string, handler EventHandler) func() {
	return b.add(&eventSubscription{courseFilter: courseID, handler: handler})
}

// SubscribeChannel returns a buffered channel receiving events of courseID
// (all courses when empty). Events are dropped while the channel is full.
func (b *EventBus) SubscribeChannel(courseID string, bufferSize int) (<-chan *Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *Event, bufferSize)
	sub := &eventSubscription{
		courseFilter: courseID,
		channel:      ch,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

func (b *EventBus) add(sub *eventSubscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish sends an event to all matching subscribers
func (b *EventBus) Publish(event *Event) {
	if b == nil || event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.courseFilter != "" && sub.courseFilter != event.CourseID {
			continue
		}

		if sub.handler != nil {
			sub.handler.OnSessionEvent(event)
		} else if sub.channel != nil {
			select {
			case sub.channel <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
