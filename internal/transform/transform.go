// Package transform turns a photo into a deliverable payload: a
// base64 data URL the display layer can render directly.
package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/singleflight"

	"github.com/photokiosk/photokiosk/internal/diskcache"
	"github.com/photokiosk/photokiosk/internal/photo"
)

// ErrDownloadFailed reports a remote fetch that yielded no bytes.
var ErrDownloadFailed = errors.New("download failed")

// Options bound the resize mode. Zero values fall back to defaults at
// construction.
type Options struct {
	// Resize enables decoding and re-encoding local files to the
	// bounded dimensions. When false raw bytes pass through untouched.
	Resize    bool
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func (o *Options) applyDefaults() {
	if o.MaxWidth <= 0 {
		o.MaxWidth = 1920
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = 1080
	}
	if o.Quality <= 0 {
		o.Quality = 85
	}
}

type Transformer struct {
	opts Options
	log  *slog.Logger

	group singleflight.Group
}

func New(opts Options, log *slog.Logger) *Transformer {
	opts.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Transformer{opts: opts, log: log}
}

// Render produces a payload from a local file. In resize mode the
// image is orientation-normalized, bounded to the configured
// dimensions and re-encoded as JPEG; otherwise the raw bytes are
// wrapped as-is with a content type derived from the extension. Any
// processing error yields ok=false, never an error value.
func (t *Transformer) Render(path string) (string, bool) {
	if !t.opts.Resize {
		data, err := os.ReadFile(path)
		if err != nil {
			t.log.Warn("Failed to read image", "path", path, "error", err)
			return "", false
		}
		return DataURL(ContentTypeByExt(path), data), true
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		t.log.Warn("Failed to decode image", "path", path, "error", err)
		return "", false
	}
	img = imaging.Fit(img, t.opts.MaxWidth, t.opts.MaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(t.opts.Quality)); err != nil {
		t.log.Warn("Failed to encode image", "path", path, "error", err)
		return "", false
	}
	return DataURL("image/jpeg", buf.Bytes()), true
}

// Downloader fetches raw remote bytes, returning nil on failure.
type Downloader func(ctx context.Context, url string) []byte

// RenderRemote resolves a remote item through the cache: a cached
// payload is returned as-is, otherwise the bytes are downloaded,
// wrapped and stored. Concurrent misses for the same URL share one
// download. Local disk is never touched beyond the cache.
func (t *Transformer) RenderRemote(ctx context.Context, item photo.Item, cache *diskcache.Cache, download Downloader) (string, bool) {
	v, err, _ := t.group.Do(item.URL, func() (any, error) {
		if payload, ok := cache.Get(item.URL); ok {
			return payload, nil
		}

		data := download(ctx, item.URL)
		if data == nil {
			return nil, ErrDownloadFailed
		}
		payload := DataURL(ContentTypeByExt(item.Path), data)
		cache.Set(item.URL, payload)
		return payload, nil
	})
	if err != nil {
		t.log.Warn("Remote render failed", "path", item.Path, "error", err)
		return "", false
	}
	return v.(string), true
}

// DataURL wraps raw bytes as a base64 data URL.
func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL splits a payload back into content type and bytes.
func ParseDataURL(payload string) (string, []byte, bool) {
	rest, ok := strings.CutPrefix(payload, "data:")
	if !ok {
		return "", nil, false
	}
	ct, b64, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return "", nil, false
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", nil, false
	}
	return ct, data, true
}

// ContentTypeByExt derives a content type from the file extension,
// defaulting to JPEG for unknown extensions.
func ContentTypeByExt(path string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return "image/jpeg"
}
