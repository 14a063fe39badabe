package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/photokiosk/photokiosk/internal/synoclient"
)

// fakeLibrary serves the minimal API surface a fetch cycle touches:
// login, item listing per space, and thumbnail download.
func fakeLibrary(t *testing.T, authOK bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("api") == "SYNO.API.Auth" && q.Get("method") == "login":
			if !authOK {
				writeJSON(t, w, map[string]any{"success": false, "error": map[string]any{"code": 400}})
				return
			}
			writeJSON(t, w, map[string]any{"success": true, "data": map[string]any{"sid": "sid-1"}})
		case q.Get("method") == "list":
			list := []map[string]any{}
			if q.Get("api") == "SYNO.Foto.Browse.Item" {
				list = append(list, map[string]any{
					"id": 1, "filename": "a.jpg", "type": "photo", "time": 100,
				})
			}
			writeJSON(t, w, map[string]any{"success": true, "data": map[string]any{"list": list}})
		case q.Get("api") == "SYNO.Foto.Thumbnail":
			_, _ = w.Write([]byte("thumb-bytes"))
		default:
			writeJSON(t, w, map[string]any{"success": false, "error": map[string]any{"code": 119}})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func TestManager_FetchPhotos(t *testing.T) {
	srv := fakeLibrary(t, true)
	m := NewManager(srv.Client(), nil)

	if m.IsReady() {
		t.Error("manager ready before any fetch")
	}

	items := m.FetchPhotos(context.Background(), synoclient.Config{
		BaseURL: srv.URL, Account: "kiosk", Password: "secret",
	})
	if len(items) != 1 {
		t.Fatalf("fetched %d items, want 1", len(items))
	}
	if items[0].Path != "personal/a.jpg" {
		t.Errorf("item path = %q", items[0].Path)
	}
	if !m.IsReady() {
		t.Error("manager not ready after fetch")
	}
}

func TestManager_FetchPhotosAuthFailure(t *testing.T) {
	srv := fakeLibrary(t, false)
	m := NewManager(srv.Client(), nil)

	items := m.FetchPhotos(context.Background(), synoclient.Config{
		BaseURL: srv.URL, Account: "kiosk", Password: "wrong",
	})
	if items != nil {
		t.Errorf("auth failure returned %d items, want nil", len(items))
	}
}

func TestManager_Download(t *testing.T) {
	srv := fakeLibrary(t, true)
	m := NewManager(srv.Client(), nil)

	if data := m.Download(context.Background(), srv.URL+"/entry.cgi?api=SYNO.Foto.Thumbnail"); data != nil {
		t.Error("download before fetch should return nil")
	}

	m.FetchPhotos(context.Background(), synoclient.Config{
		BaseURL: srv.URL, Account: "kiosk", Password: "secret",
	})
	data := m.Download(context.Background(), srv.URL+"/entry.cgi?api=SYNO.Foto.Thumbnail")
	if string(data) != "thumb-bytes" {
		t.Errorf("download = %q", string(data))
	}
}
