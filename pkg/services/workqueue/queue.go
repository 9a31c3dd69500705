package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/logging"
	"github.com/ekaya-inc/catalog-mirror/pkg/retry"
)

// ErrQueueClosed is returned when enqueueing after Close.
var ErrQueueClosed = errors.New("work queue closed")

// Queue runs background requests in-process. It guarantees at most one
// pending request per (kind, key): a request leaves the pending set the
// moment a worker starts it, so a new submission for the same target while
// it runs is accepted and queued behind it.
type Queue struct {
	mu       sync.Mutex
	handlers map[JobKind]Handler
	tasks    []*TaskState // pending and running, in submission order
	pending  map[jobKey]*TaskState
	closed   bool

	strategy    ConcurrencyStrategy
	retryConfig *retry.Config

	// idle is closed whenever no task is pending or running
	idle chan struct{}
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	completed int
	failed    int
	lastErr   error

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithRetryConfig sets how transient handler failures are retried.
// A config with MaxRetries 0 disables retries.
func WithRetryConfig(cfg *retry.Config) QueueOption {
	return func(q *Queue) {
		q.retryConfig = cfg
	}
}

// New creates a work queue. The default strategy serializes each job kind.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		handlers:    make(map[JobKind]Handler),
		pending:     make(map[jobKey]*TaskState),
		strategy:    NewSerializedStrategy(),
		retryConfig: retry.DefaultConfig(),
		idle:        idle,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Register installs the handler for a job kind.
func (q *Queue) Register(kind JobKind, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = handler
}

// EnqueueIfNotQueued submits (kind, key) unless an equivalent request is
// already pending. Reports whether a new request was accepted.
func (q *Queue) EnqueueIfNotQueued(ctx context.Context, kind JobKind, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrQueueClosed
	}
	if _, ok := q.handlers[kind]; !ok {
		return false, fmt.Errorf("no handler registered for job kind %q", kind)
	}

	k := jobKey{kind: kind, key: key}
	if _, ok := q.pending[k]; ok {
		q.logger.Debug("Request already pending, not enqueued",
			zap.String("kind", string(kind)),
			zap.String("key", key))
		return false, nil
	}

	state := newTaskState(kind, key)
	q.pending[k] = state
	q.tasks = append(q.tasks, state)
	q.markBusyLocked()

	q.logger.Info("Request enqueued",
		zap.String("task_id", state.ID),
		zap.String("kind", string(kind)),
		zap.String("key", key))

	q.tryStartTasksLocked()
	return true, nil
}

// tryStartTasksLocked starts every pending task the strategy admits.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.closed {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}
		if !q.strategy.CanStart(ts.Kind) {
			continue
		}

		q.strategy.OnStart(ts.Kind)
		delete(q.pending, jobKey{kind: ts.Kind, key: ts.Key})
		ts.SetStatus(TaskStatusRunning)

		q.logger.Info("Starting request",
			zap.String("task_id", ts.ID),
			zap.String("kind", string(ts.Kind)),
			zap.String("key", ts.Key))

		q.wg.Add(1)
		go q.runTask(ts, q.handlers[ts.Kind])
	}
}

func (q *Queue) runTask(ts *TaskState, handler Handler) {
	defer q.wg.Done()

	attempt := 0
	err := retry.Do(q.ctx, q.retryConfig, func() error {
		attempt++
		err := handler(q.ctx, ts.Key)
		if err != nil && retry.IsRetryable(err) {
			q.logger.Warn("Retryable error in request",
				zap.String("task_id", ts.ID),
				zap.String("kind", string(ts.Kind)),
				zap.Int("attempt", attempt),
				logging.Error(err))
		}
		return err
	})

	q.completeTask(ts, err)
}

func (q *Queue) completeTask(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete(ts.Kind)

	switch {
	case err == nil:
		ts.SetStatus(TaskStatusCompleted)
		q.completed++
		q.logger.Info("Request completed",
			zap.String("task_id", ts.ID),
			zap.String("kind", string(ts.Kind)),
			zap.String("key", ts.Key))
	case errors.Is(err, context.Canceled):
		ts.SetStatus(TaskStatusCancelled)
		q.logger.Info("Request cancelled",
			zap.String("task_id", ts.ID),
			zap.String("kind", string(ts.Kind)))
	default:
		ts.SetStatus(TaskStatusFailed)
		ts.SetError(err)
		q.failed++
		q.lastErr = err
		q.logger.Error("Request failed",
			zap.String("task_id", ts.ID),
			zap.String("kind", string(ts.Kind)),
			zap.String("key", ts.Key),
			logging.Error(err))
	}

	q.removeTaskLocked(ts)
	q.tryStartTasksLocked()
	q.markIdleIfDoneLocked()
}

func (q *Queue) removeTaskLocked(ts *TaskState) {
	for i, t := range q.tasks {
		if t == ts {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}

// markBusyLocked reopens the idle channel if it was closed.
func (q *Queue) markBusyLocked() {
	select {
	case <-q.idle:
		q.idle = make(chan struct{})
	default:
	}
}

func (q *Queue) markIdleIfDoneLocked() {
	if len(q.tasks) > 0 {
		return
	}
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

// Wait blocks until no request is pending or running, or ctx is done.
// Returns the most recent request failure, if any.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.lastErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting requests, cancels running handlers and waits for them
// to return. Pending requests are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cancel()

	kept := q.tasks[:0]
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
			delete(q.pending, jobKey{kind: ts.Kind, key: ts.Key})
			continue
		}
		kept = append(kept, ts)
	}
	q.tasks = kept
	q.markIdleIfDoneLocked()
	q.mu.Unlock()

	q.logger.Info("Work queue closed, waiting for running requests")
	q.wg.Wait()
}

// Progress returns queue statistics.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{Completed: q.completed, Failed: q.failed}
	for _, ts := range q.tasks {
		switch ts.GetStatus() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		}
	}
	return p
}

// Progress holds queue statistics.
type Progress struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
