// Package sequence resolves a fetched photo list into a display order
// and walks it as a ring. It optionally filters out items already
// shown before a restart, backed by a persisted tracker file.
package sequence

import (
	"log/slog"
	"math/rand"
	"sort"
	"strings"

	"github.com/photokiosk/photokiosk/internal/photo"
)

// Order selects how a prepared list is arranged.
type Order string

const (
	OrderRandom   Order = "random"
	OrderName     Order = "name"
	OrderCreated  Order = "created"
	OrderModified Order = "modified"
)

// Config for the sequence engine. Each field is defaulted at
// construction, not at use sites.
type Config struct {
	Order   Order
	Reverse bool

	// ShowAllBeforeRestart filters out already-shown paths on prepare
	// and persists each shown path to TrackerPath.
	ShowAllBeforeRestart bool
	TrackerPath          string
}

// Engine owns the prepared list and its cursor. The cursor is always
// in [0, len]; reading past the end wraps to 0.
type Engine struct {
	cfg    Config
	log    *slog.Logger
	items  []photo.Item
	cursor int

	tracker *Tracker
}

func NewEngine(cfg Config, log *slog.Logger) *Engine {
	if cfg.Order == "" {
		cfg.Order = OrderCreated
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{cfg: cfg, log: log}
	if cfg.ShowAllBeforeRestart {
		e.tracker = NewTracker(cfg.TrackerPath, log)
	}
	return e
}

// Prepare replaces the list wholesale: filters already-shown paths
// when enabled, then shuffles or sorts, and resets the cursor to 0.
// Returns the prepared list.
func (e *Engine) Prepare(items []photo.Item) []photo.Item {
	if e.tracker != nil {
		before := len(items)
		items = e.tracker.Filter(items)
		if skipped := before - len(items); skipped > 0 {
			e.log.Info("Skipped already shown files", "count", skipped)
		}
	}

	switch e.cfg.Order {
	case OrderRandom:
		rand.Shuffle(len(items), func(i, j int) {
			items[i], items[j] = items[j], items[i]
		})
	case OrderName:
		sort.SliceStable(items, func(i, j int) bool {
			return strings.ToLower(items[i].Path) < strings.ToLower(items[j].Path)
		})
	case OrderCreated:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Created < items[j].Created
		})
	case OrderModified:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Modified < items[j].Modified
		})
	}

	if e.cfg.Reverse && e.cfg.Order != OrderRandom {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}

	e.items = items
	e.cursor = 0
	return items
}

// Next returns the item at the cursor and advances it. The list is a
// ring: reaching the end wraps to the start, never exhausting.
func (e *Engine) Next() (photo.Item, bool) {
	if len(e.items) == 0 {
		return photo.Item{}, false
	}
	if e.cursor >= len(e.items) {
		e.log.Info("Reached end of list, wrapping around", "total", len(e.items))
		e.cursor = 0
	}
	item := e.items[e.cursor]
	e.cursor++
	return item, true
}

// Previous reproduces the image shown before the current one. Next
// increments the cursor after returning, so stepping back two
// positions (floored at 0) and calling Next again yields it. The
// floor-at-zero edge behavior at the start of the list is part of the
// contract.
func (e *Engine) Previous() (photo.Item, bool) {
	e.cursor -= 2
	if e.cursor < 0 {
		e.cursor = 0
	}
	return e.Next()
}

// Reset moves the cursor back to the start.
func (e *Engine) Reset() {
	e.cursor = 0
}

func (e *Engine) IsEmpty() bool {
	return len(e.items) == 0
}

func (e *Engine) Len() int {
	return len(e.items)
}

// Cursor exposes the position for external preservation logic across
// refreshes.
func (e *Engine) Cursor() int {
	return e.cursor
}

// SetCursor restores a preserved position. Out-of-range values are
// clamped to the valid [0, len] window.
func (e *Engine) SetCursor(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(e.items) {
		pos = len(e.items)
	}
	e.cursor = pos
}

// AddShown persists a displayed path. Best effort.
func (e *Engine) AddShown(path string) {
	if e.tracker != nil {
		e.tracker.Add(path)
	}
}

// ResetTracker clears the persisted shown set at the start of a fresh
// full-coverage cycle.
func (e *Engine) ResetTracker() {
	if e.tracker != nil {
		e.tracker.Reset()
	}
}
