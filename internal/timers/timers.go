// Package timers provides the two cancellable, self-rescheduling
// one-shot timers that drive the slideshow: the cadence timer and the
// refresh timer. One-shot timers (not intervals) cannot overlap a fire
// with a long-running cycle; the fired callback re-arms itself if
// recurrence is desired.
package timers

import (
	"log/slog"
	"sync"
	"time"
)

type Scheduler struct {
	log *slog.Logger

	mu      sync.Mutex
	cadence *time.Timer
	refresh *time.Timer
}

func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{log: log}
}

// StartCadence cancels any existing cadence timer and arms a new
// one-shot. The callback must re-arm if it wants recurrence.
func (s *Scheduler) StartCadence(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cadence != nil {
		s.cadence.Stop()
	}
	s.cadence = time.AfterFunc(d, f)
}

// StartRefresh cancels any existing refresh timer and arms a new
// one-shot. An interval of zero or less disables the refresh timer
// entirely.
func (s *Scheduler) StartRefresh(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
	if d <= 0 {
		s.log.Info("Refresh timer disabled", "interval", d)
		return
	}
	s.refresh = time.AfterFunc(d, f)
}

func (s *Scheduler) StopCadence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cadence != nil {
		s.cadence.Stop()
		s.cadence = nil
	}
}

func (s *Scheduler) StopRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
}

// StopAll cancels both timers.
func (s *Scheduler) StopAll() {
	s.StopCadence()
	s.StopRefresh()
}
