package workqueue

import "sync"

// ConcurrencyStrategy controls how requests are allowed to start concurrently.
type ConcurrencyStrategy interface {
	CanStart(kind JobKind) bool
	OnStart(kind JobKind)
	OnComplete(kind JobKind)
}

// SerializedStrategy runs at most one request of each kind at a time.
// Requests of different kinds run in parallel.
type SerializedStrategy struct {
	mu      sync.Mutex
	running map[JobKind]bool
}

func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{running: make(map[JobKind]bool)}
}

func (s *SerializedStrategy) CanStart(kind JobKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running[kind]
}

func (s *SerializedStrategy) OnStart(kind JobKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[kind] = true
}

func (s *SerializedStrategy) OnComplete(kind JobKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, kind)
}

// ThrottledStrategy runs up to maxConcurrent requests of any kind.
type ThrottledStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	running       int
}

// NewThrottledStrategy creates a strategy bounded by maxConcurrent (minimum 1).
func NewThrottledStrategy(maxConcurrent int) *ThrottledStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledStrategy{maxConcurrent: maxConcurrent}
}

func (s *ThrottledStrategy) CanStart(JobKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running < s.maxConcurrent
}

func (s *ThrottledStrategy) OnStart(JobKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
}

func (s *ThrottledStrategy) OnComplete(JobKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
}
