package engine

import (
	"testing"
	"time"
)

func TestManualSchedulerFireAndCancel(t *testing.T) {
	sched := NewManualScheduler()

	fired := []int{}
	h1 := sched.Schedule(func() { fired = append(fired, 1) })
	sched.Schedule(func() { fired = append(fired, 2) })
	sched.Cancel(h1)

	sched.Fire()
	if len(fired) != 1 || fired[0] != 2 {
		t.Fatalf("fired = %v, want [2]", fired)
	}
	if sched.PendingCount() != 0 {
		t.Fatalf("pending after fire = %d, want 0", sched.PendingCount())
	}
}

func TestTimerSchedulerFires(t *testing.T) {
	sched := NewTimerScheduler(time.Millisecond)
	done := make(chan struct{})
	sched.Schedule(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer flush never fired")
	}
}

func TestTimerSchedulerCancel(t *testing.T) {
	sched := NewTimerScheduler(10 * time.Millisecond)
	fired := make(chan struct{}, 1)
	h := sched.Schedule(func() { fired <- struct{}{} })
	sched.Cancel(h)

	select {
	case <-fired:
		t.Fatalf("canceled flush fired anyway")
	case <-time.After(50 * time.Millisecond):
	}
}
