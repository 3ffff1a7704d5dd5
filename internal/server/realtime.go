package server

import (
	"context"
	"sync"
	"time"
)

const (
	// RealtimeEventCurriculumChanged is emitted after every committed or
	// staged mutation of a course tree.
	RealtimeEventCurriculumChanged = "curriculum-change"
	realtimeEventHeartbeat         = "heartbeat"
)

// RealtimeMessage notifies subscribed editor views that a course tree
// changed and should be re-read.
type RealtimeMessage struct {
	CourseID  string
	EventType string
	Timestamp time.Time
}

// RealtimeDispatcher fans course-change events out to the editor views
// subscribed to that course. Multiple views of one course share the same
// live store; this is how they all learn to re-render.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

// NewRealtimeDispatcher constructs a dispatcher.
func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for one course's change events. The
// returned cleanup runs automatically when ctx is done.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, courseID string) (<-chan RealtimeMessage, func()) {
	if courseID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(courseID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(courseID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to every subscriber of its course. Slow
// subscribers drop messages rather than block the mutation path.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.CourseID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.CourseID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(courseID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[courseID]; !ok {
		d.subscribers[courseID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[courseID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(courseID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[courseID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, courseID)
		}
	}
	d.mu.Unlock()
}
