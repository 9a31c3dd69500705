package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobKind names a kind of background request, e.g. "reindex_datasets".
type JobKind string

// Handler executes one background request. key identifies its target.
type Handler func(ctx context.Context, key string) error

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// jobKey is the deduplication identity of a request.
type jobKey struct {
	kind JobKind
	key  string
}

// TaskState holds the runtime state of one submitted request.
type TaskState struct {
	ID          string
	Kind        JobKind
	Key         string
	Status      TaskStatus
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       error

	mu sync.RWMutex
}

func newTaskState(kind JobKind, key string) *TaskState {
	return &TaskState{
		ID:         uuid.NewString(),
		Kind:       kind,
		Key:        key,
		Status:     TaskStatusPending,
		EnqueuedAt: time.Now(),
	}
}

// GetStatus returns the current status (thread-safe).
func (ts *TaskState) GetStatus() TaskStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Status
}

// SetStatus updates the status and timestamps (thread-safe).
func (ts *TaskState) SetStatus(status TaskStatus) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.Status = status
	now := time.Now()

	switch status {
	case TaskStatusRunning:
		ts.StartedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		ts.CompletedAt = &now
	}
}

// SetError sets the error (thread-safe).
func (ts *TaskState) SetError(err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Error = err
}

// GetError returns the error (thread-safe).
func (ts *TaskState) GetError() error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Error
}
