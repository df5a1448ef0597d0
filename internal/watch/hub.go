package watch

import (
	"sync"
	"time"
)

const defaultSubscriberBuffer = 64

// EventType names a watcher transition.
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventRunFinished EventType = "run_finished"
	EventRearmed     EventType = "rearmed"
	EventStopped     EventType = "stopped"
)

// Event is published to status subscribers on every state transition.
type Event struct {
	Type      EventType `json:"type"`
	State     State     `json:"state"`
	RunID     string    `json:"run_id,omitempty"`
	Trigger   Trigger   `json:"trigger,omitempty"`
	Files     []string  `json:"files,omitempty"`
	Succeeded *bool     `json:"succeeded,omitempty"`
	Error     string    `json:"error,omitempty"`
	Pending   int       `json:"pending"`
	Time      time.Time `json:"time"`
}

// Hub fans events out to subscribers. Publishing never blocks: a subscriber whose
// buffer is full misses the event.
type Hub struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	closed      bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[int]chan Event)}
}

// Publish delivers event to every subscriber that has room for it.
func (hub *Hub) Publish(event Event) {
	if hub == nil {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.closed {
		return
	}
	for _, subscriber := range hub.subscribers {
		select {
		case subscriber <- event:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function closes the channel.
func (hub *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, defaultSubscriberBuffer)
	if hub == nil {
		close(ch)
		return ch, func() {}
	}

	hub.mu.Lock()
	if hub.closed {
		hub.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	hub.nextID++
	id := hub.nextID
	hub.subscribers[id] = ch
	hub.mu.Unlock()

	cancel := func() {
		hub.mu.Lock()
		if subscriber, ok := hub.subscribers[id]; ok {
			delete(hub.subscribers, id)
			close(subscriber)
		}
		hub.mu.Unlock()
	}
	return ch, cancel
}

// Close closes every subscriber channel. Later subscribers get a closed channel.
func (hub *Hub) Close() {
	if hub == nil {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.closed {
		return
	}
	hub.closed = true
	for id, subscriber := range hub.subscribers {
		delete(hub.subscribers, id)
		close(subscriber)
	}
}
