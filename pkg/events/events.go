// Package events defines the lifecycle events emitted by syncs and restores.
package events

import (
	"context"
	"sync"
	"time"
)

const (
	SnapshotCompleted = "snapshot.completed"
	SnapshotFailed    = "snapshot.failed"
	RestoreCompleted  = "restore.completed"
	RestoreFailed     = "restore.failed"
)

// Event is a lifecycle notification for downstream consumers.
type Event struct {
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	SnapshotID string         `json:"snapshot_id,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	Status     string         `json:"status,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, evt *Event) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, *Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *evt)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the published event types in order.
func (r *Recorder) Types() []string {
	var types []string
	for _, e := range r.Events() {
		types = append(types, e.Type)
	}
	return types
}
