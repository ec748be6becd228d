// Package timeline keeps a bounded, in-memory record of recent bridge
// operations for display. Nothing is persisted.
package timeline

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/ghermez/ariabridge/internal/events"
)

// Entry is one timeline record.
type Entry struct {
	ID        string         `json:"id"`
	Type      events.Type    `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	GID       string         `json:"gid,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Recorder records and retrieves timeline entries.
type Recorder interface {
	// Record adds an entry, evicting the oldest one when full.
	Record(entry Entry)

	// All returns every entry, newest first.
	All() []Entry

	// ByGID returns the entries of one task, newest first.
	ByGID(gid string) []Entry

	// Clear removes every entry of one task.
	Clear(gid string)
}

type recorder struct {
	mu         sync.RWMutex
	entries    []Entry // oldest first
	logger     zerolog.Logger
	maxEntries int
}

// Option is a functional option for configuring the recorder.
type Option func(*recorder)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *recorder) {
		r.logger = logger
	}
}

// WithMaxEntries sets how many entries are retained.
func WithMaxEntries(n int) Option {
	return func(r *recorder) {
		if n > 0 {
			r.maxEntries = n
		}
	}
}

// DefaultMaxEntries is the default capacity of a recorder.
const DefaultMaxEntries = 500

// NewRecorder creates an in-memory recorder.
func NewRecorder(opts ...Option) Recorder {
	r := &recorder{
		logger:     zerolog.Nop(),
		maxEntries: DefaultMaxEntries,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *recorder) Record(entry Entry) {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	if over := len(r.entries) - r.maxEntries; over > 0 {
		r.entries = append(r.entries[:0:0], r.entries[over:]...)
	}
	r.mu.Unlock()

	r.logger.Debug().
		Str("id", entry.ID).
		Str("type", string(entry.Type)).
		Str("gid", entry.GID).
		Str("message", entry.Message).
		Msg("timeline entry recorded")
}

func (r *recorder) All() []Entry {
	return r.filter(func(Entry) bool { return true })
}

func (r *recorder) ByGID(gid string) []Entry {
	return r.filter(func(e Entry) bool { return e.GID == gid })
}

func (r *recorder) Clear(gid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.GID != gid {
			kept = append(kept, e)
		}
	}
	clear(r.entries[len(kept):])
	r.entries = kept
}

// filter returns matching entries newest first. The result is never nil.
func (r *recorder) filter(match func(Entry) bool) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		if match(r.entries[i]) {
			out = append(out, r.entries[i])
		}
	}
	return out
}
