package controller

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/photokiosk/photokiosk/internal/diskcache"
	"github.com/photokiosk/photokiosk/internal/photo"
	"github.com/photokiosk/photokiosk/internal/sequence"
	"github.com/photokiosk/photokiosk/internal/synoclient"
	"github.com/photokiosk/photokiosk/internal/timers"
	"github.com/photokiosk/photokiosk/internal/transform"
)

type fakeSource struct {
	mu      sync.Mutex
	items   []photo.Item
	fetches int
}

func (f *fakeSource) FetchPhotos(ctx context.Context, cfg synoclient.Config) []photo.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.items
}

func (f *fakeSource) Download(ctx context.Context, url string) []byte {
	return []byte("image-bytes")
}

func (f *fakeSource) IsReady() bool { return true }

func (f *fakeSource) setItems(items []photo.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
}

type recorder struct {
	mu     sync.Mutex
	events []string
	last   map[string]any
}

func newRecorder() *recorder {
	return &recorder{last: make(map[string]any)}
}

func (r *recorder) notify(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.last[event] = payload
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func (r *recorder) lastPayload(event string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[event]
}

func remoteItems(paths ...string) []photo.Item {
	items := make([]photo.Item, len(paths))
	for i, p := range paths {
		items[i] = photo.Item{
			Path:     "personal/" + p,
			URL:      "http://nas/thumb/" + p,
			Created:  int64(i + 1),
			SourceID: int64(i + 1),
		}
	}
	return items
}

type testEnv struct {
	ctrl    *Controller
	src     *fakeSource
	rec     *recorder
	tracker string
}

func newTestEnv(t *testing.T, seqCfg sequence.Config, items []photo.Item) *testEnv {
	t.Helper()
	dir := t.TempDir()
	if seqCfg.TrackerPath == "" {
		seqCfg.TrackerPath = filepath.Join(dir, "shown.txt")
	}
	if seqCfg.Order == "" {
		seqCfg.Order = sequence.OrderName
	}

	cache := diskcache.New(diskcache.Config{Dir: filepath.Join(dir, "cache"), MaxBytes: 10 * 1024 * 1024}, nil)
	if err := cache.Initialize(); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{items: items}
	rec := newRecorder()
	ctrl := New(
		Config{SlideInterval: time.Hour, RefreshInterval: 0, RetryDelay: time.Hour},
		synoclient.Config{BaseURL: "http://nas:5001/webapi"},
		src,
		sequence.NewEngine(seqCfg, nil),
		cache,
		transform.New(transform.Options{}, nil),
		timers.NewScheduler(nil),
		nil,
		rec.notify,
		nil,
	)
	t.Cleanup(ctrl.Stop)
	return &testEnv{ctrl: ctrl, src: src, rec: rec, tracker: seqCfg.TrackerPath}
}

func TestController_NeedsConfig(t *testing.T) {
	env := newTestEnv(t, sequence.Config{}, nil)
	env.ctrl.remote.BaseURL = ""
	env.ctrl.Init(context.Background())

	if !env.rec.has(EventNeedsConfig) {
		t.Error("needs-config event not emitted")
	}
	if st := env.ctrl.Status(); st.State != "idle" {
		t.Errorf("state = %q, want idle", st.State)
	}
}

func TestController_InitReady(t *testing.T) {
	env := newTestEnv(t, sequence.Config{}, remoteItems("a.jpg", "b.jpg"))
	env.ctrl.Init(context.Background())

	if !env.rec.has(EventFileList) {
		t.Error("file-list event not emitted")
	}
	if !env.rec.has(EventReady) {
		t.Error("ready event not emitted")
	}
	if st := env.ctrl.Status(); st.State != "ready" || st.Total != 2 {
		t.Errorf("status = %+v", st)
	}
}

func TestController_AdvanceDisplays(t *testing.T) {
	env := newTestEnv(t, sequence.Config{}, remoteItems("a.jpg", "b.jpg"))
	env.ctrl.Init(context.Background())
	env.ctrl.Advance(context.Background())

	payload, ok := env.rec.lastPayload(EventDisplayImage).(DisplayPayload)
	if !ok {
		t.Fatal("display-image event not emitted")
	}
	if payload.Path != "personal/a.jpg" {
		t.Errorf("displayed %q, want personal/a.jpg", payload.Path)
	}
	if payload.Index != 1 || payload.Total != 2 {
		t.Errorf("position %d/%d, want 1/2", payload.Index, payload.Total)
	}
	if !strings.HasPrefix(payload.Data, "data:") {
		t.Errorf("payload is not a data URL: %.30s", payload.Data)
	}

	if _, ok := env.ctrl.CurrentPayload(); !ok {
		t.Error("CurrentPayload empty after display")
	}
	if st := env.ctrl.Status(); st.State != "displaying" {
		t.Errorf("state = %q, want displaying", st.State)
	}
}

func TestController_EmptyLoadEntersRetryWait(t *testing.T) {
	env := newTestEnv(t, sequence.Config{}, nil)
	env.ctrl.Init(context.Background())

	if st := env.ctrl.Status(); st.State != "retry-wait" {
		t.Errorf("state = %q, want retry-wait", st.State)
	}
}

func TestController_RefreshPreservesCursor(t *testing.T) {
	env := newTestEnv(t, sequence.Config{}, remoteItems("a.jpg", "b.jpg", "c.jpg"))
	env.ctrl.Init(context.Background())

	env.ctrl.Advance(context.Background())
	env.ctrl.Advance(context.Background())

	env.src.setItems(remoteItems("a.jpg", "b.jpg", "c.jpg", "d.jpg"))
	env.ctrl.Refresh(context.Background())

	if st := env.ctrl.Status(); st.Index != 2 || st.Total != 4 {
		t.Errorf("cursor not preserved: %+v", st)
	}

	// The next displayed image continues the walk.
	env.ctrl.Advance(context.Background())
	payload := env.rec.lastPayload(EventDisplayImage).(DisplayPayload)
	if payload.Path != "personal/c.jpg" {
		t.Errorf("displayed %q after refresh, want personal/c.jpg", payload.Path)
	}
}

func TestController_RefreshResetsCursorWhenListShrinks(t *testing.T) {
	env := newTestEnv(t, sequence.Config{}, remoteItems("a.jpg", "b.jpg", "c.jpg"))
	env.ctrl.Init(context.Background())

	for i := 0; i < 3; i++ {
		env.ctrl.Advance(context.Background())
	}

	env.src.setItems(remoteItems("a.jpg", "b.jpg"))
	env.ctrl.Refresh(context.Background())

	if st := env.ctrl.Status(); st.Index != 0 {
		t.Errorf("cursor = %d after shrink, want 0", st.Index)
	}
}

func TestController_Previous(t *testing.T) {
	env := newTestEnv(t, sequence.Config{}, remoteItems("a.jpg", "b.jpg", "c.jpg"))
	env.ctrl.Init(context.Background())

	env.ctrl.Advance(context.Background())
	env.ctrl.Advance(context.Background())
	env.ctrl.Previous(context.Background())

	payload := env.rec.lastPayload(EventDisplayImage).(DisplayPayload)
	if payload.Path != "personal/a.jpg" {
		t.Errorf("Previous displayed %q, want personal/a.jpg", payload.Path)
	}
}

func TestController_WrapResetsTracker(t *testing.T) {
	env := newTestEnv(t, sequence.Config{ShowAllBeforeRestart: true}, remoteItems("a.jpg", "b.jpg"))
	env.ctrl.Init(context.Background())

	env.ctrl.Advance(context.Background())
	env.ctrl.Advance(context.Background())

	data, err := os.ReadFile(env.tracker)
	if err != nil {
		t.Fatalf("tracker missing: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("tracker empty before wrap")
	}

	// Third advance wraps to the start of a fresh full-coverage cycle.
	env.ctrl.Advance(context.Background())
	data, err = os.ReadFile(env.tracker)
	if err != nil {
		t.Fatalf("tracker missing after wrap: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("tracker not reset after wrap, content %q", string(data))
	}
}

type fakeSnapshot struct {
	stored []photo.Item
	saved  [][]photo.Item
}

func (f *fakeSnapshot) Save(ctx context.Context, items []photo.Item) error {
	f.saved = append(f.saved, items)
	return nil
}

func (f *fakeSnapshot) Load(ctx context.Context) ([]photo.Item, error) {
	return f.stored, nil
}

func TestController_SnapshotFallback(t *testing.T) {
	env := newTestEnv(t, sequence.Config{}, nil)
	snap := &fakeSnapshot{stored: remoteItems("offline.jpg")}
	env.ctrl.snapshot = snap

	env.ctrl.Init(context.Background())

	if st := env.ctrl.Status(); st.Total != 1 {
		t.Errorf("snapshot fallback not used: %+v", st)
	}

	// Once the remote recovers, the snapshot is refreshed.
	env.src.setItems(remoteItems("a.jpg", "b.jpg"))
	env.ctrl.Refresh(context.Background())
	if len(snap.saved) == 0 {
		t.Error("snapshot not saved after successful fetch")
	}
}

func TestController_PausePlay(t *testing.T) {
	env := newTestEnv(t, sequence.Config{}, remoteItems("a.jpg"))
	env.ctrl.Init(context.Background())

	env.ctrl.Pause()
	if st := env.ctrl.Status(); st.State != "ready" {
		t.Errorf("state after pause = %q, want ready", st.State)
	}

	env.ctrl.Play(context.Background())
	if st := env.ctrl.Status(); st.State != "displaying" {
		t.Errorf("state after play = %q, want displaying", st.State)
	}
}
