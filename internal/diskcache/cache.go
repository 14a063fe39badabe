// Package diskcache implements a bounded, content-addressed disk cache
// for display payloads.
//
// Keys are derived as MD5 of the caller-supplied identifier and used as
// flat filenames under the cache directory. A running ledger
// approximates the total bytes on disk; it is recomputed on
// initialization and maintained incrementally afterwards. When a write
// pushes the ledger past the configured maximum, eviction runs as a
// detached background task: callers must not assume eviction has
// completed by the time Set returns.
package diskcache

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/photokiosk/photokiosk/internal/errutil"
	"github.com/photokiosk/photokiosk/internal/hashutil"
	"github.com/photokiosk/photokiosk/internal/photo"
)

// headroomFactor keeps eviction from re-triggering on every small
// write: eviction drains the ledger to 90% of the maximum.
const headroomFactor = 0.9

// Config for the disk cache. Fields are defaulted at construction.
type Config struct {
	Dir      string
	MaxBytes int64

	// PreloadCount caps how many items one Preload call may warm.
	PreloadCount int

	// PreloadDelay is slept between successful preloads, rate-limiting
	// for constrained hardware.
	PreloadDelay time.Duration

	// FetchTimeout is the per-item watchdog applied to the preload
	// fetch function.
	FetchTimeout time.Duration

	// ExistTTL bounds how long a positive in-memory existence flag is
	// trusted before re-probing disk.
	ExistTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 500 * 1024 * 1024
	}
	if c.PreloadCount <= 0 {
		c.PreloadCount = 50
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.ExistTTL <= 0 {
		c.ExistTTL = time.Hour
	}
}

// FetchFunc produces the payload for one item during preload.
type FetchFunc func(ctx context.Context, item photo.Item) (string, error)

// Cache is safe for concurrent use. The ledger is a best-effort
// approximation while background eviction is in flight.
type Cache struct {
	cfg Config
	log *slog.Logger

	ledger atomic.Int64

	mu     sync.Mutex
	exists map[string]time.Time // key -> flag expiry

	preloading atomic.Bool
	evicting   atomic.Bool
}

func New(cfg Config, log *slog.Logger) *Cache {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		cfg:    cfg,
		log:    log,
		exists: make(map[string]time.Time),
	}
}

// Initialize creates the cache directory and recomputes the ledger by
// scanning it. A missing directory is created, not an error.
func (c *Cache) Initialize() error {
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return err
	}

	var total int64
	var count int
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// File vanished between listing and stat.
			continue
		}
		total += info.Size()
		count++
	}
	c.ledger.Store(total)
	c.log.Info("Cache initialized", "dir", c.cfg.Dir, "files", count, "bytes", total)
	return nil
}

func (c *Cache) path(id string) string {
	return filepath.Join(c.cfg.Dir, hashutil.CacheKey(id))
}

// Has reports whether the identifier is present, consulting the
// in-memory flag before probing disk.
func (c *Cache) Has(id string) bool {
	key := hashutil.CacheKey(id)

	c.mu.Lock()
	expiry, flagged := c.exists[key]
	c.mu.Unlock()
	if flagged && time.Now().Before(expiry) {
		return true
	}

	if _, err := os.Stat(filepath.Join(c.cfg.Dir, key)); err != nil {
		return false
	}
	c.markExists(key)
	return true
}

// Get returns the payload for the identifier, or false on a miss. A
// read failure after a positive flag is a stale entry: the flag is
// evicted and the call misses rather than erroring.
func (c *Cache) Get(id string) (string, bool) {
	key := hashutil.CacheKey(id)
	path := filepath.Join(c.cfg.Dir, key)

	c.mu.Lock()
	expiry, flagged := c.exists[key]
	c.mu.Unlock()

	if flagged && time.Now().Before(expiry) {
		data, err := os.ReadFile(path)
		if err != nil {
			c.log.Warn("Stale cache flag, evicting", "key", key, "error", err)
			c.mu.Lock()
			delete(c.exists, key)
			c.mu.Unlock()
			return "", false
		}
		return string(data), true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	c.markExists(key)
	return string(data), true
}

func (c *Cache) markExists(key string) {
	c.mu.Lock()
	c.exists[key] = time.Now().Add(c.cfg.ExistTTL)
	c.mu.Unlock()
}

// Set writes the payload, marks existence and grows the ledger. The
// write is temp-then-rename so an entry is never partially visible.
// If the ledger now exceeds the maximum, eviction is scheduled in the
// background; Set never blocks on it and reports the write alone.
func (c *Cache) Set(id string, payload string) bool {
	key := hashutil.CacheKey(id)
	path := filepath.Join(c.cfg.Dir, key)

	tmp, err := os.CreateTemp(c.cfg.Dir, "put-*")
	if err != nil {
		c.log.Warn("Failed to create temp cache file", "error", err)
		return false
	}
	defer func() {
		errutil.LogMsg(c.log, os.RemoveAll(tmp.Name()), "Failed to remove temp file")
	}()

	if _, err := tmp.WriteString(payload); err != nil {
		errutil.LogMsg(c.log, tmp.Close(), "Failed to close temp file")
		c.log.Warn("Failed to write cache payload", "key", key, "error", err)
		return false
	}
	if err := tmp.Close(); err != nil {
		c.log.Warn("Failed to close cache payload", "key", key, "error", err)
		return false
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		c.log.Warn("Failed to publish cache payload", "key", key, "error", err)
		return false
	}

	c.markExists(key)
	size := c.ledger.Add(int64(len(payload)))

	if size > c.cfg.MaxBytes {
		go c.EvictOldFiles()
	}
	return true
}

// EvictOldFiles deletes oldest-by-mtime files until the ledger falls
// to 90% of the maximum. Cheap no-op when already under the maximum,
// so it is safe to call speculatively from a memory-pressure callback.
// Only one pass runs at a time.
func (c *Cache) EvictOldFiles() {
	if c.ledger.Load() <= c.cfg.MaxBytes {
		return
	}
	if !c.evicting.CompareAndSwap(false, true) {
		return
	}
	defer c.evicting.Store(false)

	metas, err := c.scan()
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("Eviction scan failed", "error", err)
		}
		return
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].mtime.Before(metas[j].mtime)
	})

	target := int64(float64(c.cfg.MaxBytes) * headroomFactor)
	removed := 0
	for _, m := range metas {
		if c.ledger.Load() <= target {
			break
		}
		if err := os.Remove(filepath.Join(c.cfg.Dir, m.key)); err != nil {
			if !os.IsNotExist(err) {
				c.log.Warn("Failed to evict cache file", "key", m.key, "error", err)
				continue
			}
		}
		c.ledger.Add(-m.size)
		c.mu.Lock()
		delete(c.exists, m.key)
		c.mu.Unlock()
		removed++
	}
	c.log.Info("Eviction pass finished", "removed", removed, "bytes", c.ledger.Load(), "target", target)
}

type fileMeta struct {
	key   string
	size  int64
	mtime time.Time
}

// scan lists the cache directory and stats every file concurrently.
func (c *Cache) scan() ([]fileMeta, error) {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return nil, err
	}

	metas := make([]fileMeta, len(entries))
	var g errgroup.Group
	g.SetLimit(8)
	for i, entry := range entries {
		if entry.IsDir() {
			continue
		}
		g.Go(func() error {
			info, err := entry.Info()
			if err != nil {
				// Treat a vanished file as nothing to do.
				return nil
			}
			metas[i] = fileMeta{key: entry.Name(), size: info.Size(), mtime: info.ModTime()}
			return nil
		})
	}
	_ = g.Wait()

	out := metas[:0]
	for _, m := range metas {
		if m.key != "" {
			out = append(out, m)
		}
	}
	return out, nil
}

// Preload warms the cache for the given items through a single-worker
// loop. Items without a remote URL are skipped and the queue is capped
// to the configured count. Each fetch runs under the watchdog timeout;
// a fetch that never completes in time is logged and skipped. A second
// concurrent drain is refused. The guard is released even if every
// item fails.
func (c *Cache) Preload(ctx context.Context, items []photo.Item, fetch FetchFunc) {
	queue := make([]photo.Item, 0, c.cfg.PreloadCount)
	for _, it := range items {
		if it.URL == "" {
			continue
		}
		queue = append(queue, it)
		if len(queue) >= c.cfg.PreloadCount {
			break
		}
	}
	if len(queue) == 0 {
		return
	}

	if !c.preloading.CompareAndSwap(false, true) {
		c.log.Debug("Preload already in progress, skipping")
		return
	}
	defer c.preloading.Store(false)

	c.log.Info("Preloading cache", "count", len(queue))
	for _, item := range queue {
		if ctx.Err() != nil {
			return
		}
		if c.Has(item.URL) {
			continue
		}

		payload, ok := c.fetchWithWatchdog(ctx, item, fetch)
		if !ok {
			continue
		}
		c.Set(item.URL, payload)

		if c.cfg.PreloadDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.PreloadDelay):
			}
		}
	}
}

// fetchWithWatchdog awaits the fetch result on a channel with an
// explicit deadline. The underlying work may eventually complete; it
// is treated as failed regardless once the deadline passes.
func (c *Cache) fetchWithWatchdog(ctx context.Context, item photo.Item, fetch FetchFunc) (string, bool) {
	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	type result struct {
		payload string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := fetch(fctx, item)
		done <- result{payload, err}
	}()

	select {
	case <-fctx.Done():
		c.log.Warn("Preload fetch timed out", "path", item.Path)
		return "", false
	case res := <-done:
		if res.err != nil {
			c.log.Warn("Preload fetch failed", "path", item.Path, "error", res.err)
			return "", false
		}
		return res.payload, true
	}
}

// Clear removes every cache file and resets the ledger.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		errutil.LogMsg(c.log, os.Remove(filepath.Join(c.cfg.Dir, entry.Name())), "Failed to remove cache file", "name", entry.Name())
	}
	c.ledger.Store(0)
	c.mu.Lock()
	c.exists = make(map[string]time.Time)
	c.mu.Unlock()
	c.log.Info("Cache cleared", "dir", c.cfg.Dir)
	return nil
}

// Stats returns the current file count and ledger bytes.
func (c *Cache) Stats() (files int, bytes int64) {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				files++
			}
		}
	}
	return files, c.ledger.Load()
}
