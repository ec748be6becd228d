// Package events provides an in-process bus that carries operation outcomes
// from the controller and server to interested consumers.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type identifies what happened.
type Type string

// Daemon lifecycle.
const (
	DaemonStarted  Type = "daemon.started"
	DaemonShutdown Type = "daemon.shutdown"
)

// Task control outcomes.
const (
	TaskAdded         Type = "task.added"
	TaskPaused        Type = "task.paused"
	TaskResumed       Type = "task.resumed"
	TaskRemoved       Type = "task.removed"
	SpeedLimitChanged Type = "task.limit.changed"
)

// Outcomes observed while polling a single task.
const (
	TaskCompleted Type = "task.completed"
	TaskFailed    Type = "task.failed"
	// TaskRelocated is published after a completed file was moved into
	// its destination folder.
	TaskRelocated Type = "task.relocated"
)

// OperationFailed is published when a daemon call fails. Data carries
// "op" and "error".
const OperationFailed Type = "operation.failed"

// Event is one published occurrence. GID is empty for daemon-wide events.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	GID       string         `json:"gid,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscription is a channel that receives events.
type Subscription <-chan Event

type subscriber struct {
	ch     chan Event
	types  map[Type]bool // nil receives everything
	closed bool
}

// Bus fans published events out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	closed      bool
	logger      zerolog.Logger
	bufferSize  int
}

// Option is a functional option for configuring the bus.
type Option func(*Bus)

// WithLogger sets the logger for the bus.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithBufferSize sets the channel buffer size for subscribers.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		b.bufferSize = size
	}
}

const defaultBufferSize = 64

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:     zerolog.Nop(),
		bufferSize: defaultBufferSize,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe registers a subscriber for the given types, or for every type
// when none are given. Subscribing to a closed bus returns a closed channel.
func (b *Bus) Subscribe(types ...Type) Subscription {
	s := &subscriber{ch: make(chan Event, b.bufferSize)}
	if len(types) > 0 {
		s.types = make(map[Type]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(s.ch)
		return s.ch
	}
	b.subscribers = append(b.subscribers, s)
	return s.ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown or
// already removed subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subscribers {
		if s.ch != sub {
			continue
		}
		if !s.closed {
			close(s.ch)
			s.closed = true
		}
		b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
		return
	}
}

// Publish delivers event to every matching subscriber without blocking.
// A subscriber whose buffer is full misses the event.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, s := range b.subscribers {
		if s.closed || (s.types != nil && !s.types[event.Type]) {
			continue
		}

		select {
		case s.ch <- event:
		default:
			b.logger.Warn().
				Str("type", string(event.Type)).
				Str("gid", event.GID).
				Msg("event dropped, subscriber buffer full")
		}
	}

	b.logger.Debug().
		Str("type", string(event.Type)).
		Str("gid", event.GID).
		Msg("event published")
}

// Close closes every subscriber channel. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subscribers {
		if !s.closed {
			close(s.ch)
			s.closed = true
		}
	}
	b.subscribers = nil
	b.closed = true
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
