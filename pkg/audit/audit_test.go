package audit

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/task"
)

func sampleEvents() []Event {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return []Event{
		{TaskID: "t1", From: "unknown", To: "submitted", Reason: "initial state", Timestamp: now},
		{TaskID: "t1", From: "submitted", To: "working", Timestamp: now.Add(time.Millisecond)},
		{TaskID: "t2", From: "unknown", To: "submitted", Reason: "initial state", Timestamp: now},
		{TaskID: "t1", From: "working", To: "failed", Reason: "[FORCED] recovery", Forced: true, Timestamp: now.Add(2 * time.Millisecond)},
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range sampleEvents() {
		if err := store.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"submitted", "working", "submitted", "failed"}},
		{"by task", Filter{TaskID: "t1"}, []string{"submitted", "working", "failed"}},
		{"by target", Filter{To: "submitted"}, []string{"submitted", "submitted"}},
		{"forced only", Filter{ForcedOnly: true}, []string{"failed"}},
		{"limit", Filter{TaskID: "t1", Limit: 2}, []string{"submitted", "working"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := store.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(events) != len(tt.want) {
				t.Fatalf("expected %d events, got %d", len(tt.want), len(events))
			}
			for i, ev := range events {
				if ev.To != tt.want[i] {
					t.Fatalf("event %d: got %s, want %s", i, ev.To, tt.want[i])
				}
			}
		})
	}

	forced, _ := store.List(ctx, Filter{ForcedOnly: true})
	if !forced[0].Forced || forced[0].Reason != "[FORCED] recovery" || forced[0].Timestamp.IsZero() {
		t.Fatalf("unexpected forced event %+v", forced[0])
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", "file:agora_audit_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	exerciseStore(t, store)
}

func TestNewSQLiteStoreRejectsNil(t *testing.T) {
	if _, err := NewSQLiteStore(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestRecorderPersistsStateMachineTransitions(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, 0)

	sm := task.NewStateMachine("task-1", rec.Observe)
	if _, err := sm.TransitionTo(a2a.TaskStateWorking, "executing"); err != nil {
		t.Fatal(err)
	}
	sm.ForceTransition(a2a.TaskStateFailed, "provider crashed")
	rec.Close()
	rec.Close()

	events, err := store.List(context.Background(), Filter{TaskID: "task-1"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"submitted", "working", "failed"}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), events)
	}
	for i, ev := range events {
		if ev.To != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, ev.To, want[i])
		}
	}
	if !events[2].Forced {
		t.Fatal("forced transition not flagged")
	}

	sm.ForceTransition(a2a.TaskStateCanceled, "after close")
	if got, _ := store.List(context.Background(), Filter{}); len(got) != 3 {
		t.Fatalf("closed recorder must ignore events, got %d", len(got))
	}
}

type blockingStore struct {
	MemoryStore
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) Record(ctx context.Context, ev Event) error {
	s.once.Do(func() { <-s.release })
	return s.MemoryStore.Record(ctx, ev)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	rec := NewRecorder(store, 1)
	for i := 0; i < 10; i++ {
		rec.Observe("t", task.Record{From: a2a.TaskStateSubmitted, To: a2a.TaskStateWorking})
	}
	if rec.Dropped() == 0 {
		t.Fatal("expected dropped events with a full queue")
	}
	close(store.release)
	rec.Close()
	events, _ := store.List(context.Background(), Filter{})
	if int64(len(events))+rec.Dropped() != 10 {
		t.Fatalf("recorded %d + dropped %d != 10", len(events), rec.Dropped())
	}
}
