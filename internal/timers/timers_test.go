package timers

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_OneShot(t *testing.T) {
	s := NewScheduler(nil)
	var fires atomic.Int32
	s.StartCadence(10*time.Millisecond, func() { fires.Add(1) })

	time.Sleep(100 * time.Millisecond)
	if got := fires.Load(); got != 1 {
		t.Errorf("one-shot timer fired %d times, want 1", got)
	}
}

func TestScheduler_SelfReschedule(t *testing.T) {
	s := NewScheduler(nil)
	var fires atomic.Int32
	var tick func()
	tick = func() {
		if fires.Add(1) < 3 {
			s.StartCadence(5*time.Millisecond, tick)
		}
	}
	s.StartCadence(5*time.Millisecond, tick)

	deadline := time.Now().Add(time.Second)
	for fires.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fires.Load(); got != 3 {
		t.Errorf("self-rescheduling fired %d times, want 3", got)
	}
}

func TestScheduler_StartReplacesPending(t *testing.T) {
	s := NewScheduler(nil)
	var first atomic.Bool
	s.StartCadence(50*time.Millisecond, func() { first.Store(true) })

	fired := make(chan struct{})
	s.StartCadence(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("replacement timer never fired")
	}
	time.Sleep(100 * time.Millisecond)
	if first.Load() {
		t.Error("replaced timer still fired")
	}
}

func TestScheduler_RefreshDisabled(t *testing.T) {
	s := NewScheduler(nil)
	fired := make(chan struct{}, 1)
	s.StartRefresh(0, func() { fired <- struct{}{} })

	select {
	case <-fired:
		t.Error("disabled refresh timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduler_Stop(t *testing.T) {
	s := NewScheduler(nil)
	fired := make(chan struct{}, 1)
	s.StartCadence(20*time.Millisecond, func() { fired <- struct{}{} })
	s.StartRefresh(20*time.Millisecond, func() { fired <- struct{}{} })
	s.StopAll()

	select {
	case <-fired:
		t.Error("stopped timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}
