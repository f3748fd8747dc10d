// Package schedule runs one-shot delayed tasks that can be cancelled
// individually or all at once.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pairbot/pkg/logger"
)

// ErrClosed is returned when scheduling on a closed Scheduler.
var ErrClosed = errors.New("scheduler closed")

// Task is the work run when a timer fires. ctx is cancelled when the
// scheduler closes while the task is running.
type Task func(ctx context.Context)

// Scheduler owns pending timers. Close cancels everything that has not fired
// yet; pending tasks are dropped, not persisted.
type Scheduler struct {
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*time.Timer
	closed  bool
	running sync.WaitGroup
}

func New(log *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:     logger.OrDefault(log, "schedule"),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uint64]*time.Timer),
	}
}

// After runs task once after delay and returns its id.
func (s *Scheduler) After(delay time.Duration, task Task) (uint64, error) {
	if task == nil {
		return 0, errors.New("task is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	id := s.nextID
	s.nextID++

	s.pending[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if _, ok := s.pending[id]; !ok || s.closed {
			s.mu.Unlock()
			return
		}
		delete(s.pending, id)
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		task(s.ctx)
	})

	return id, nil
}

// Cancel stops a pending task. It reports false when the task already fired
// or was unknown.
func (s *Scheduler) Cancel(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	return timer.Stop()
}

// Pending returns how many tasks have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close drops pending tasks, cancels running ones and waits for them.
// It returns the number of dropped tasks.
func (s *Scheduler) Close() int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.closed = true

	dropped := 0
	for id, timer := range s.pending {
		if timer.Stop() {
			dropped++
		}
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.running.Wait()

	if dropped > 0 {
		s.log.Info("Dropped pending scheduled tasks", "count", dropped)
	}

	return dropped
}
