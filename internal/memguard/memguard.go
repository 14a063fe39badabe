// Package memguard samples heap usage on a fixed interval and applies
// backpressure through registered callbacks when a threshold is
// breached. A cooldown between triggers is the anti-thrashing
// invariant: pressure may persist across samples, but callbacks fire
// at most once per cooldown window.
package memguard

import (
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Config for the memory guard.
type Config struct {
	Interval  time.Duration
	Threshold float64 // heap-used / heap-total ratio, (0, 1]
	Cooldown  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = 0.8
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
}

// Guard runs the sampling loop. Construct with New, register
// callbacks, then Start.
type Guard struct {
	cfg Config
	log *slog.Logger

	// ratioFunc is swapped in tests to force a heap ratio.
	ratioFunc func() float64

	mu          sync.Mutex
	callbacks   []func()
	lastTrigger time.Time

	stop chan struct{}
	done chan struct{}
}

func New(cfg Config, log *slog.Logger) *Guard {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Guard{
		cfg:       cfg,
		log:       log,
		ratioFunc: heapRatio,
	}
}

func heapRatio() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return 0
	}
	return float64(ms.HeapAlloc) / float64(ms.HeapSys)
}

// OnPressure registers a callback invoked on threshold breach. A
// panic in one callback is caught and logged and does not prevent
// subsequent callbacks from running.
func (g *Guard) OnPressure(f func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, f)
}

// Start launches the sampling loop. Repeated calls while running are
// no-ops.
func (g *Guard) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil {
		return
	}
	g.stop = make(chan struct{})
	g.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(g.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				g.Sample()
			}
		}
	}(g.stop, g.done)
}

// Stop halts the sampling loop and waits for it to exit.
func (g *Guard) Stop() {
	g.mu.Lock()
	stop, done := g.stop, g.done
	g.stop, g.done = nil, nil
	g.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Sample reads the heap ratio once, logs it, and triggers the pressure
// callbacks when the ratio exceeds the threshold and the cooldown has
// elapsed since the last trigger. A GC pass is requested after the
// callbacks run.
func (g *Guard) Sample() {
	ratio := g.ratioFunc()
	g.log.Debug("Heap sample", "ratio", ratio, "threshold", g.cfg.Threshold)

	if ratio <= g.cfg.Threshold {
		return
	}

	g.mu.Lock()
	if time.Since(g.lastTrigger) < g.cfg.Cooldown {
		g.mu.Unlock()
		return
	}
	g.lastTrigger = time.Now()
	callbacks := make([]func(), len(g.callbacks))
	copy(callbacks, g.callbacks)
	g.mu.Unlock()

	g.log.Warn("Memory pressure detected", "ratio", ratio, "callbacks", len(callbacks))
	for _, f := range callbacks {
		g.runCallback(f)
	}

	runtime.GC()
	debug.FreeOSMemory()
}

func (g *Guard) runCallback(f func()) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("Pressure callback panicked", "panic", r)
		}
	}()
	f()
}
