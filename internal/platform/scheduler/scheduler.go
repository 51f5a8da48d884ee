// Package scheduler provides an in-memory, de-duplicating timer scheduler.
// Each task is keyed by an ID; scheduling an ID that already has a pending
// timer is a no-op, so concurrent producers (an immediate dispatch and a
// recovery sweep, for example) cannot start duplicate work for the same task.
// The scheduler is derived state: it can be rebuilt at any time from the
// durable store and must never be treated as the source of truth.
package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskFunc is the unit of work fired when a timer elapses.
type TaskFunc func()

// Scheduler maps task IDs to pending timers. The entry for an ID is removed
// right before its task runs, so a task may reschedule itself under the same
// ID from inside its own TaskFunc.
type Scheduler struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{timers: make(map[uuid.UUID]*time.Timer)}
}

// Schedule arms a timer for the given task ID. It returns false without
// scheduling anything when a timer for that ID is already pending.
func (s *Scheduler) Schedule(id uuid.UUID, delay time.Duration, fn TaskFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, pending := s.timers[id]; pending {
		return false
	}

	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		fn()
	})
	return true
}

// Cancel stops a pending timer. It returns false when no timer was pending
// for the ID. A task whose function has already started is not interrupted.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, id)
	return true
}

// Pending reports whether a timer is currently armed for the ID.
func (s *Scheduler) Pending(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Clear stops every pending timer. Used on shutdown.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
