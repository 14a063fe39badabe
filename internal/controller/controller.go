// Package controller orchestrates the slideshow: fetch, order, cache,
// display, refresh. It is the sole producer of events on the
// notification surface and expects no replies from the display layer.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/photokiosk/photokiosk/internal/diskcache"
	"github.com/photokiosk/photokiosk/internal/photo"
	"github.com/photokiosk/photokiosk/internal/sequence"
	"github.com/photokiosk/photokiosk/internal/synoclient"
	"github.com/photokiosk/photokiosk/internal/timers"
	"github.com/photokiosk/photokiosk/internal/transform"
)

// State of the slideshow lifecycle.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateDisplaying
	StateRetryWait
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateDisplaying:
		return "displaying"
	case StateRetryWait:
		return "retry-wait"
	default:
		return "unknown"
	}
}

// Event names emitted on the notification surface.
const (
	EventNeedsConfig  = "needs-config"
	EventFileList     = "file-list"
	EventReady        = "ready"
	EventDisplayImage = "display-image"
)

// NotifyFunc receives events for the display layer.
type NotifyFunc func(event string, payload any)

// FileListPayload accompanies EventFileList.
type FileListPayload struct {
	Items []photo.Item `json:"items"`
}

// ReadyPayload accompanies EventReady.
type ReadyPayload struct {
	Identifier string `json:"identifier"`
}

// DisplayPayload accompanies EventDisplayImage. Index is the 1-based
// position within the prepared list.
type DisplayPayload struct {
	Identifier string `json:"identifier"`
	Path       string `json:"path"`
	Data       string `json:"data"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
}

// Fetcher is the photo source surface the controller consumes.
type Fetcher interface {
	FetchPhotos(ctx context.Context, cfg synoclient.Config) []photo.Item
	Download(ctx context.Context, url string) []byte
	IsReady() bool
}

// SnapshotStore persists the last good photo list for offline starts.
type SnapshotStore interface {
	Save(ctx context.Context, items []photo.Item) error
	Load(ctx context.Context) ([]photo.Item, error)
}

// Config for the controller. Fields are defaulted at construction.
type Config struct {
	Identifier      string
	SlideInterval   time.Duration
	RefreshInterval time.Duration
	RetryDelay      time.Duration

	// LocalDir is the base directory for local-only items (items with
	// no remote URL).
	LocalDir string
}

func (c *Config) applyDefaults() {
	if c.Identifier == "" {
		c.Identifier = "photokiosk"
	}
	if c.SlideInterval <= 0 {
		c.SlideInterval = 10 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Minute
	}
}

// Status is a point-in-time view for the status endpoint.
type Status struct {
	State      string `json:"state"`
	Path       string `json:"path,omitempty"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	CacheFiles int    `json:"cacheFiles"`
	CacheBytes int64  `json:"cacheBytes"`
}

// Controller is the top-level state machine. All sequencing state is
// mutated under one mutex; network and disk I/O during a tick happens
// while holding it, matching the single-control-thread discipline of
// the pipeline.
type Controller struct {
	cfg       Config
	remote    synoclient.Config
	log       *slog.Logger
	source    Fetcher
	seq       *sequence.Engine
	cache     *diskcache.Cache
	transform *transform.Transformer
	sched     *timers.Scheduler
	snapshot  SnapshotStore
	notify    NotifyFunc

	mu           sync.Mutex
	state        State
	served       int
	retryPending bool

	stMu           sync.Mutex
	current        photo.Item
	currentPayload string
	hasCurrent     bool
	lastStatus     Status
}

func New(
	cfg Config,
	remote synoclient.Config,
	src Fetcher,
	seq *sequence.Engine,
	cache *diskcache.Cache,
	tf *transform.Transformer,
	sched *timers.Scheduler,
	snapshot SnapshotStore,
	notify NotifyFunc,
	log *slog.Logger,
) *Controller {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	if notify == nil {
		notify = func(string, any) {}
	}
	return &Controller{
		cfg:       cfg,
		remote:    remote,
		log:       log,
		source:    src,
		seq:       seq,
		cache:     cache,
		transform: tf,
		sched:     sched,
		snapshot:  snapshot,
		notify:    notify,
		state:     StateIdle,
	}
}

// Init validates configuration, performs the initial fetch, primes the
// cache preload and starts both cadences. A missing remote URL halts
// with a needs-config signal instead of retrying silently.
func (c *Controller) Init(ctx context.Context) {
	if c.remote.BaseURL == "" {
		c.log.Error("No remote URL configured")
		c.setState(StateIdle)
		c.notify(EventNeedsConfig, nil)
		return
	}

	c.mu.Lock()
	c.state = StateLoading
	prepared := c.loadAndPrepare(ctx)
	if len(prepared) == 0 {
		c.scheduleRetryLocked()
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	c.mu.Unlock()
	c.publishStatus()

	c.notify(EventReady, ReadyPayload{Identifier: c.cfg.Identifier})

	go c.cache.Preload(ctx, prepared, c.preloadFetch)

	c.sched.StartCadence(c.cfg.SlideInterval, func() { c.Advance(ctx) })
	c.sched.StartRefresh(c.cfg.RefreshInterval, func() { c.Refresh(ctx) })
}

// loadAndPrepare fetches, falls back to the snapshot when the remote
// yields nothing, prepares the sequence and emits the file list.
// Caller holds c.mu.
func (c *Controller) loadAndPrepare(ctx context.Context) []photo.Item {
	items := c.source.FetchPhotos(ctx, c.remote)
	if len(items) == 0 && c.snapshot != nil {
		stored, err := c.snapshot.Load(ctx)
		if err != nil {
			c.log.Warn("Snapshot load failed", "error", err)
		} else if len(stored) > 0 {
			c.log.Info("Remote empty, using stored snapshot", "count", len(stored))
			items = stored
		}
	} else if len(items) > 0 && c.snapshot != nil {
		if err := c.snapshot.Save(ctx, items); err != nil {
			c.log.Warn("Snapshot save failed", "error", err)
		}
	}

	prepared := c.seq.Prepare(items)
	c.notify(EventFileList, FileListPayload{Items: prepared})
	return prepared
}

// scheduleRetryLocked arms at most one outstanding retry. Caller holds
// c.mu.
func (c *Controller) scheduleRetryLocked() {
	c.state = StateRetryWait
	c.publishStatusLocked()
	if c.retryPending {
		return
	}
	c.retryPending = true
	c.log.Warn("No images available, retrying later", "delay", c.cfg.RetryDelay)
	time.AfterFunc(c.cfg.RetryDelay, func() {
		c.mu.Lock()
		c.retryPending = false
		c.mu.Unlock()
		c.Refresh(context.Background())
	})
}

// preloadFetch downloads one item's bytes and wraps them as a payload
// for the cache preloader.
func (c *Controller) preloadFetch(ctx context.Context, item photo.Item) (string, error) {
	data := c.source.Download(ctx, item.URL)
	if data == nil {
		return "", errors.New("download failed")
	}
	return transform.DataURL(transform.ContentTypeByExt(item.Path), data), nil
}

// Advance is the cadence tick: pick the next item, resolve its
// payload, emit the display event and re-arm the cadence timer.
func (c *Controller) Advance(ctx context.Context) {
	defer c.sched.StartCadence(c.cfg.SlideInterval, func() { c.Advance(ctx) })

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seq.IsEmpty() {
		if prepared := c.loadAndPrepare(ctx); len(prepared) == 0 {
			c.scheduleRetryLocked()
			return
		}
		c.state = StateReady
	}

	item, ok := c.seq.Next()
	if !ok {
		return
	}
	wrapped := c.seq.Cursor() == 1 && c.served > 0
	c.served++

	c.displayLocked(ctx, item, wrapped)
}

// displayLocked resolves the payload and emits the display event.
// Caller holds c.mu.
func (c *Controller) displayLocked(ctx context.Context, item photo.Item, wrapped bool) {
	payload, ok := c.resolvePayload(ctx, item)
	if !ok {
		c.log.Warn("Failed to resolve payload, skipping", "path", item.Path)
		return
	}

	c.state = StateDisplaying
	index := c.seq.Cursor()
	total := c.seq.Len()

	c.stMu.Lock()
	c.current = item
	c.currentPayload = payload
	c.hasCurrent = true
	c.stMu.Unlock()
	c.publishStatusLocked()

	c.notify(EventDisplayImage, DisplayPayload{
		Identifier: c.cfg.Identifier,
		Path:       item.Path,
		Data:       payload,
		Index:      index,
		Total:      total,
	})

	c.seq.AddShown(item.Path)
	if wrapped {
		c.seq.ResetTracker()
	}
}

// resolvePayload turns an item into a deliverable payload: remote
// items go through the cache-aware download path, videos are passed
// through by path for out-of-band playback, local images are rendered
// from disk.
func (c *Controller) resolvePayload(ctx context.Context, item photo.Item) (string, bool) {
	switch {
	case item.URL != "":
		return c.transform.RenderRemote(ctx, item, c.cache, c.source.Download)
	case photo.IsVideo(item.Path):
		// The display layer plays videos itself, keyed off the path.
		return "", true
	default:
		return c.transform.Render(filepath.Join(c.cfg.LocalDir, item.Path))
	}
}

// Refresh re-fetches the library, re-prepares the list and preserves
// the previous cursor position when it still fits, then re-arms the
// refresh timer.
func (c *Controller) Refresh(ctx context.Context) {
	defer c.sched.StartRefresh(c.cfg.RefreshInterval, func() { c.Refresh(ctx) })

	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.seq.Cursor()
	prepared := c.loadAndPrepare(ctx)
	if len(prepared) == 0 {
		c.scheduleRetryLocked()
		return
	}

	if old < c.seq.Len() {
		c.seq.SetCursor(old)
		c.log.Info("Preserved cursor position after refresh", "cursor", old, "total", c.seq.Len())
	} else {
		c.log.Info("Cursor reset after refresh", "previous", old, "total", c.seq.Len())
	}
	c.state = StateReady
	c.publishStatusLocked()
}

// Next advances the slideshow immediately, outside the cadence.
func (c *Controller) Next(ctx context.Context) {
	c.Advance(ctx)
}

// Previous steps back to the image shown before the current one and
// re-arms the cadence so the manual step gets a full display window.
func (c *Controller) Previous(ctx context.Context) {
	defer c.sched.StartCadence(c.cfg.SlideInterval, func() { c.Advance(ctx) })

	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.seq.Previous()
	if !ok {
		return
	}
	c.displayLocked(ctx, item, false)
}

// Pause stops both timers.
func (c *Controller) Pause() {
	c.sched.StopAll()
	c.setState(StateReady)
	c.log.Info("Slideshow paused")
}

// Play re-arms both timers with their configured intervals.
func (c *Controller) Play(ctx context.Context) {
	c.sched.StartCadence(c.cfg.SlideInterval, func() { c.Advance(ctx) })
	c.sched.StartRefresh(c.cfg.RefreshInterval, func() { c.Refresh(ctx) })
	c.setState(StateDisplaying)
	c.log.Info("Slideshow resumed")
}

// Stop halts all timers.
func (c *Controller) Stop() {
	c.sched.StopAll()
	c.setState(StateIdle)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.publishStatus()
}

// publishStatus refreshes the lock-free status view consumed by the
// HTTP handler without touching sequencing state.
func (c *Controller) publishStatus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishStatusLocked()
}

func (c *Controller) publishStatusLocked() {
	files, bytes := c.cache.Stats()
	st := Status{
		State:      c.state.String(),
		Index:      c.seq.Cursor(),
		Total:      c.seq.Len(),
		CacheFiles: files,
		CacheBytes: bytes,
	}
	c.stMu.Lock()
	if c.hasCurrent {
		st.Path = c.current.Path
	}
	c.lastStatus = st
	c.stMu.Unlock()
}

// Status returns the last published status without blocking on the
// control mutex.
func (c *Controller) Status() Status {
	c.stMu.Lock()
	defer c.stMu.Unlock()
	return c.lastStatus
}

// CurrentPayload returns the payload of the image on display.
func (c *Controller) CurrentPayload() (string, bool) {
	c.stMu.Lock()
	defer c.stMu.Unlock()
	return c.currentPayload, c.hasCurrent
}
