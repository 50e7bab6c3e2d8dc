// Package audit persists task state transitions.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jllopis/agora/pkg/task"
)

// Event is one persisted state transition.
type Event struct {
	TaskID    string    `json:"task_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Forced    bool      `json:"forced"`
	Timestamp time.Time `json:"timestamp"`
}

// FromRecord converts a state machine record.
func FromRecord(taskID string, rec task.Record) Event {
	return Event{
		TaskID:    taskID,
		From:      string(rec.From),
		To:        string(rec.To),
		Reason:    rec.Reason,
		Forced:    rec.Forced,
		Timestamp: normalizeTime(rec.Timestamp),
	}
}

// Store persists transition events.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter limits event queries.
type Filter struct {
	TaskID     string
	To         string
	ForcedOnly bool
	Limit      int
}

// MemoryStore keeps events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered events in insertion order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if filter.TaskID != "" && ev.TaskID != filter.TaskID {
			continue
		}
		if filter.To != "" && ev.To != filter.To {
			continue
		}
		if filter.ForcedOnly && !ev.Forced {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// DefaultBuffer is the Recorder queue size.
const DefaultBuffer = 256

// Recorder writes transitions to a Store from a background goroutine so
// observers never block the task manager. Events are dropped with a warning
// when the queue is full.
type Recorder struct {
	store Store
	log   *slog.Logger
	queue chan Event
	done  chan struct{}
	once  sync.Once

	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a recorder over store. buffer <= 0 uses DefaultBuffer.
func NewRecorder(store Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	r := &Recorder{
		store: store,
		log:   slog.Default(),
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go r.loop()
	return r
}

// Observe implements task.TransitionObserver.
func (r *Recorder) Observe(taskID string, rec task.Record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- FromRecord(taskID, rec):
	default:
		r.dropped.Add(1)
		r.log.Warn("audit.drop", slog.String("task_id", taskID), slog.String("to", string(rec.To)))
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting events and waits until queued ones are written.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	<-r.done
}

func (r *Recorder) loop() {
	defer close(r.done)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.Record(ctx, ev); err != nil {
			r.log.Error("audit.record.failed",
				slog.String("task_id", ev.TaskID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
