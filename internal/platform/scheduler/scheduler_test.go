package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSchedule_FiresTask(t *testing.T) {
	s := New()
	var fired atomic.Int32
	id := uuid.New()

	if ok := s.Schedule(id, time.Millisecond, func() { fired.Add(1) }); !ok {
		t.Fatal("expected schedule to succeed")
	}

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fired.Load() != 1 {
		t.Fatalf("expected task to fire once, fired %d times", fired.Load())
	}
	if s.Pending(id) {
		t.Error("expected entry to be cleared after firing")
	}
}

func TestSchedule_DuplicateIsNoOp(t *testing.T) {
	s := New()
	defer s.Clear()
	id := uuid.New()

	if ok := s.Schedule(id, time.Hour, func() {}); !ok {
		t.Fatal("first schedule should succeed")
	}
	if ok := s.Schedule(id, time.Millisecond, func() { t.Error("duplicate task must not run") }); ok {
		t.Fatal("second schedule for the same id should be a no-op")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 pending timer, got %d", s.Len())
	}
}

func TestSchedule_RescheduleFromInsideTask(t *testing.T) {
	s := New()
	defer s.Clear()
	var fired atomic.Int32
	id := uuid.New()

	s.Schedule(id, time.Millisecond, func() {
		fired.Add(1)
		// The guard entry is cleared before the task runs, so the task can
		// re-arm itself under the same ID.
		if ok := s.Schedule(id, time.Hour, func() {}); !ok {
			t.Error("reschedule from inside task should succeed")
		}
	})

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fired.Load() != 1 {
		t.Fatal("task did not fire")
	}
	if !s.Pending(id) {
		t.Error("expected rescheduled timer to be pending")
	}
}

func TestCancel(t *testing.T) {
	s := New()
	id := uuid.New()

	s.Schedule(id, time.Hour, func() { t.Error("cancelled task must not run") })
	if ok := s.Cancel(id); !ok {
		t.Fatal("expected cancel to succeed")
	}
	if s.Pending(id) {
		t.Error("expected no pending timer after cancel")
	}
	if ok := s.Cancel(id); ok {
		t.Error("cancelling an absent id should return false")
	}
}

func TestClear_StopsEverything(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.Schedule(uuid.New(), time.Hour, func() { t.Error("cleared task must not run") })
	}
	if s.Len() != 5 {
		t.Fatalf("expected 5 pending timers, got %d", s.Len())
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected 0 pending timers after clear, got %d", s.Len())
	}
}
