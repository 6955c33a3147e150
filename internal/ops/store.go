package ops

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/operon-dev/operon/internal/streaming"
	"github.com/operon-dev/operon/pkg/schema"
)

// Listener receives a snapshot of the full operation collection after every
// mutation. Snapshots are deep copies; listeners cannot corrupt store state.
type Listener func(operations []*Operation)

// Store is an in-memory registry of tracked operations. All mutations are
// serialized by an internal mutex; every mutation notifies subscribers
// synchronously and publishes a StreamEvent to the hub.
//
// Unknown ids are a silent no-op for every mutation, and mutations on an
// already-terminal operation are ignored.
type Store struct {
	mu    sync.Mutex
	byID  map[string]*Operation
	order []string // most-recent-first

	listenerSeq uint64
	listeners   map[uint64]Listener

	hub    streaming.EventHub
	logger *slog.Logger
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithHub publishes a StreamEvent for every mutation.
func WithHub(hub streaming.EventHub) StoreOption {
	return func(s *Store) { s.hub = hub }
}

// WithLogger replaces the store logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		byID:      make(map[string]*Operation),
		listeners: make(map[uint64]Listener),
		logger:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add creates an operation in status pending with progress 0 and one initial
// log entry, inserts it at the front of the collection, and returns its id.
func (s *Store) Add(meta Metadata) string {
	now := time.Now().UTC()
	op := &Operation{
		ID:          uuid.NewString(),
		Name:        meta.Name,
		Description: meta.Description,
		Category:    meta.Category,
		Status:      schema.StatusPending,
		Progress:    0,
		Logs:        []LogEntry{{Timestamp: now, Message: "operation created: " + meta.Name}},
		StartedAt:   now,
	}

	s.mu.Lock()
	s.byID[op.ID] = op
	s.order = append([]string{op.ID}, s.order...)
	snapshot := s.snapshotLocked()
	event := s.eventLocked(op, schema.EventOperationAdded)
	s.mu.Unlock()

	s.notify(snapshot, event)
	return op.ID
}

// Update merges descriptive fields. Silent no-op on unknown id.
func (s *Store) Update(id string, u Update) {
	s.mu.Lock()
	op, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if u.Name != nil {
		op.Name = *u.Name
	}
	if u.Description != nil {
		op.Description = *u.Description
	}
	if u.Category != nil {
		op.Category = *u.Category
	}
	snapshot := s.snapshotLocked()
	event := s.eventLocked(op, schema.EventOperationUpdated)
	s.mu.Unlock()

	s.notify(snapshot, event)
}

// AppendLog appends one timestamped entry to the operation's log.
// Existing entries are never removed. Silent no-op on unknown id.
func (s *Store) AppendLog(id, message string) {
	s.mu.Lock()
	op, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	op.Logs = append(op.Logs, LogEntry{Timestamp: time.Now().UTC(), Message: message})
	snapshot := s.snapshotLocked()
	event := s.eventLocked(op, schema.EventOperationUpdated)
	s.mu.Unlock()

	s.notify(snapshot, event)
}

// SetProgress clamps value into [0,100], stores it, and marks the operation
// running. Ignored once the operation is terminal.
func (s *Store) SetProgress(id string, value int) {
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}

	s.mu.Lock()
	op, ok := s.byID[id]
	if !ok || op.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	op.Progress = value
	op.Status = schema.StatusRunning
	snapshot := s.snapshotLocked()
	event := s.eventLocked(op, schema.EventOperationUpdated)
	s.mu.Unlock()

	s.notify(snapshot, event)
}

// Complete marks the operation completed with progress 100, stores the result,
// and appends a completion log entry. Ignored once terminal, so calling it
// twice leaves the same observable state.
func (s *Store) Complete(id string, result any) {
	now := time.Now().UTC()

	s.mu.Lock()
	op, ok := s.byID[id]
	if !ok || op.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	op.Status = schema.StatusCompleted
	op.Progress = 100
	op.Result = result
	op.CompletedAt = &now
	op.Logs = append(op.Logs, LogEntry{Timestamp: now, Message: "operation completed"})
	snapshot := s.snapshotLocked()
	event := s.eventLocked(op, schema.EventOperationCompleted)
	s.mu.Unlock()

	s.notify(snapshot, event)
}

// Fail marks the operation failed with the given error message. Progress is
// frozen at its last value. Ignored once terminal.
func (s *Store) Fail(id, errorMessage string) {
	now := time.Now().UTC()

	s.mu.Lock()
	op, ok := s.byID[id]
	if !ok || op.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	op.Status = schema.StatusFailed
	op.Error = errorMessage
	op.CompletedAt = &now
	op.Logs = append(op.Logs, LogEntry{Timestamp: now, Message: "operation failed: " + errorMessage})
	snapshot := s.snapshotLocked()
	event := s.eventLocked(op, schema.EventOperationFailed)
	s.mu.Unlock()

	s.notify(snapshot, event)
}

// Cancel marks the operation cancelled. Ignored once terminal.
func (s *Store) Cancel(id string) {
	now := time.Now().UTC()

	s.mu.Lock()
	op, ok := s.byID[id]
	if !ok || op.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	op.Status = schema.StatusCancelled
	op.CompletedAt = &now
	op.Logs = append(op.Logs, LogEntry{Timestamp: now, Message: "operation cancelled"})
	snapshot := s.snapshotLocked()
	event := s.eventLocked(op, schema.EventOperationCancelled)
	s.mu.Unlock()

	s.notify(snapshot, event)
}

// Remove deletes the record entirely. Silent no-op on unknown id.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	op, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	snapshot := s.snapshotLocked()
	event := s.eventLocked(op, schema.EventOperationRemoved)
	s.mu.Unlock()

	s.notify(snapshot, event)
}

// ClearTerminal deletes every completed, failed, or cancelled operation.
func (s *Store) ClearTerminal() {
	s.mu.Lock()
	kept := s.order[:0]
	for _, id := range s.order {
		if op := s.byID[id]; op != nil && op.Status.IsTerminal() {
			delete(s.byID, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot, nil)
}

// Get returns a copy of the operation, or nil if unknown.
func (s *Store) Get(id string) *Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.byID[id]
	if !ok {
		return nil
	}
	return op.clone()
}

// List returns copies of all operations, most-recent-first.
func (s *Store) List() []*Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// OverallProgress is the arithmetic mean of progress over all non-terminal
// operations, or 100 when none are active.
func (s *Store) OverallProgress() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum, active := 0, 0
	for _, op := range s.byID {
		if op.Status.IsTerminal() {
			continue
		}
		sum += op.Progress
		active++
	}
	if active == 0 {
		return 100
	}
	return sum / active
}

// Subscribe registers a listener invoked synchronously after every mutation.
// The returned function removes the listener.
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	s.listenerSeq++
	id := s.listenerSeq
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// snapshotLocked deep-copies the collection in iteration order.
func (s *Store) snapshotLocked() []*Operation {
	out := make([]*Operation, 0, len(s.order))
	for _, id := range s.order {
		if op, ok := s.byID[id]; ok {
			out = append(out, op.clone())
		}
	}
	return out
}

func (s *Store) eventLocked(op *Operation, eventType string) *streaming.StreamEvent {
	if s.hub == nil {
		return nil
	}
	return &streaming.StreamEvent{
		OperationID: op.ID,
		EventType:   eventType,
		Payload:     op.clone(),
	}
}

// notify delivers the snapshot to every listener and publishes the event.
// Listener panics are caught and logged so one faulty subscriber cannot block
// the others.
func (s *Store) notify(snapshot []*Operation, event *streaming.StreamEvent) {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		s.deliver(l, snapshot)
	}

	if s.hub != nil && event != nil {
		_ = s.hub.Publish(context.Background(), *event)
	}
}

func (s *Store) deliver(l Listener, snapshot []*Operation) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("operation listener panicked", slog.Any("panic", r))
		}
	}()
	l(snapshot)
}
