// Package source manages the lifecycle of remote photo clients. A
// fresh client is constructed per fetch cycle so album or credential
// changes never leak resolved state across calls.
package source

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/photokiosk/photokiosk/internal/photo"
	"github.com/photokiosk/photokiosk/internal/synoclient"
)

// Manager owns the current client and wraps every fetch error into
// empty-result semantics. Callers treat "no photos" uniformly
// regardless of cause.
type Manager struct {
	http   *http.Client
	log    *slog.Logger
	client *synoclient.Client
}

func NewManager(httpClient *http.Client, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{http: httpClient, log: log}
}

// IsReady reports whether a fetch has been attempted. It is true once
// a client exists, independent of whether authentication succeeded.
func (m *Manager) IsReady() bool {
	return m.client != nil
}

// FetchPhotos resolves the configured selection and returns the photo
// list. It never fails: every error path resolves to an empty slice.
func (m *Manager) FetchPhotos(ctx context.Context, cfg synoclient.Config) []photo.Item {
	m.client = synoclient.New(cfg, m.http, m.log)

	if !m.client.Authenticate(ctx) {
		// Without a share passphrase there is no way to list anything.
		m.log.Error("Authentication failed, no photos available")
		return nil
	}

	switch {
	case len(cfg.Tags) > 0:
		if !m.client.ResolveTags(ctx) {
			m.log.Warn("Tag resolution yielded nothing", "tags", cfg.Tags)
			return nil
		}
	case cfg.Album != "" && cfg.SharePassphrase == "":
		if !m.client.ResolveAlbums(ctx, cfg.Album) {
			m.log.Warn("Album resolution yielded nothing", "album", cfg.Album)
			return nil
		}
	}

	items := m.client.Fetch(ctx)
	if len(items) == 0 {
		m.log.Warn("Remote fetch returned no photos")
		return nil
	}
	return items
}

// Download fetches one thumbnail through the current client. Returns
// nil when no fetch was attempted yet or the download fails.
func (m *Manager) Download(ctx context.Context, url string) []byte {
	if m.client == nil {
		m.log.Warn("Download requested before any fetch")
		return nil
	}
	return m.client.DownloadPhoto(ctx, url)
}
