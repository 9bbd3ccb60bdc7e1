// Package memory provides an in-memory penguiflow.Store: a mutex-guarded
// map keyed by trace id, holding each trace's event history plus remote
// bindings. Intended for tests and single-process deployments that don't
// need persistence across restarts.
package memory

import (
	"context"
	"sync"

	"github.com/penguiflow/penguiflow"
)

// Store is a thread-safe, process-local penguiflow.Store. Data is lost on
// process exit; suitable for tests and short-lived single-process flows.
type Store struct {
	mu       sync.RWMutex
	events   map[string][]penguiflow.StoredEvent
	bindings map[string]penguiflow.RemoteBinding
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		events:   make(map[string][]penguiflow.StoredEvent),
		bindings: make(map[string]penguiflow.RemoteBinding),
	}
}

// SaveEvent implements penguiflow.Store.
func (s *Store) SaveEvent(_ context.Context, event penguiflow.StoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.TraceID] = append(s.events[event.TraceID], event)
	return nil
}

// LoadHistory implements penguiflow.Store.
func (s *Store) LoadHistory(_ context.Context, traceID string) ([]penguiflow.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[traceID]
	out := make([]penguiflow.StoredEvent, len(events))
	copy(out, events)
	return out, nil
}

// SaveRemoteBinding implements penguiflow.Store.
func (s *Store) SaveRemoteBinding(_ context.Context, binding penguiflow.RemoteBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[binding.TraceID] = binding
	return nil
}

// Binding returns the remote binding saved for traceID, if any.
func (s *Store) Binding(traceID string) (penguiflow.RemoteBinding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[traceID]
	return b, ok
}
