package sequence

import (
	"bufio"
	"log/slog"
	"os"
	"sync"

	"github.com/photokiosk/photokiosk/internal/errutil"
	"github.com/photokiosk/photokiosk/internal/photo"
)

// Tracker is the persisted set of previously-shown paths, backed by an
// append-only newline-delimited file. The file may accumulate
// duplicate lines across restarts; only the in-memory set membership
// is authoritative.
type Tracker struct {
	path string
	log  *slog.Logger

	mu     sync.Mutex
	shown  map[string]struct{}
	loaded bool
}

func NewTracker(path string, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		path:  path,
		log:   log,
		shown: make(map[string]struct{}),
	}
}

// load reads the tracker file into the set. Lazy: called on first use.
// A missing file is an empty set.
func (t *Tracker) load() {
	if t.loaded {
		return
	}
	t.loaded = true

	f, err := os.Open(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.log.Warn("Failed to read tracker file", "path", t.path, "error", err)
		}
		return
	}
	defer func() {
		errutil.LogMsg(t.log, f.Close(), "Failed to close tracker file")
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			t.shown[line] = struct{}{}
		}
	}
	errutil.LogMsg(t.log, scanner.Err(), "Failed to scan tracker file", "path", t.path)
	t.log.Info("Loaded tracker", "path", t.path, "count", len(t.shown))
}

// Filter returns the items whose paths are not in the shown set.
func (t *Tracker) Filter(items []photo.Item) []photo.Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.load()

	if len(t.shown) == 0 {
		return items
	}
	out := items[:0:0]
	for _, it := range items {
		if _, ok := t.shown[it.Path]; !ok {
			out = append(out, it)
		}
	}
	return out
}

// Add appends a path to the tracker file and the in-memory set.
// The file is created exclusively when absent so a concurrently
// created file is never clobbered. Best effort: failures are logged,
// never returned.
func (t *Tracker) Add(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.load()

	if _, ok := t.shown[path]; ok {
		return
	}
	t.shown[path] = struct{}{}

	f, err := os.OpenFile(t.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if os.IsNotExist(err) {
		f, err = os.OpenFile(t.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			// Lost the creation race; the file exists now.
			f, err = os.OpenFile(t.path, os.O_WRONLY|os.O_APPEND, 0o644)
		}
	}
	if err != nil {
		t.log.Warn("Failed to open tracker file", "path", t.path, "error", err)
		return
	}
	defer func() {
		errutil.LogMsg(t.log, f.Close(), "Failed to close tracker file")
	}()

	if _, err := f.WriteString(path + "\n"); err != nil {
		t.log.Warn("Failed to append to tracker file", "path", t.path, "error", err)
	}
}

// Reset truncates the file and clears the set.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.shown = make(map[string]struct{})
	t.loaded = true
	if err := os.WriteFile(t.path, []byte(""), 0o644); err != nil {
		t.log.Warn("Failed to truncate tracker file", "path", t.path, "error", err)
		return
	}
	t.log.Info("Tracker reset", "path", t.path)
}
