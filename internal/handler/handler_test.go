package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/photokiosk/photokiosk/internal/controller"
	"github.com/photokiosk/photokiosk/internal/transform"
)

type stubProvider struct {
	status  controller.Status
	payload string
	has     bool
}

func (s *stubProvider) Status() controller.Status      { return s.status }
func (s *stubProvider) CurrentPayload() (string, bool) { return s.payload, s.has }

func newTestServer(t *testing.T, p *stubProvider) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewKioskHandler(p, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandler_Status(t *testing.T) {
	p := &stubProvider{status: controller.Status{
		State: "displaying",
		Path:  "personal/a.jpg",
		Index: 3,
		Total: 12,
	}}
	srv := newTestServer(t, p)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got controller.Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got != p.status {
		t.Errorf("status = %+v, want %+v", got, p.status)
	}
}

func TestHandler_CurrentPhoto(t *testing.T) {
	p := &stubProvider{
		payload: transform.DataURL("image/png", []byte("png-bytes")),
		has:     true,
	}
	srv := newTestServer(t, p)

	resp, err := http.Get(srv.URL + "/photo/current")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "png-bytes" {
		t.Errorf("body = %q", string(body))
	}
}

func TestHandler_CurrentPhotoMissing(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	resp, err := http.Get(srv.URL + "/photo/current")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", resp.StatusCode)
	}
}

func TestHandler_CurrentPhotoBadPayload(t *testing.T) {
	srv := newTestServer(t, &stubProvider{payload: "not-a-data-url", has: true})

	resp, err := http.Get(srv.URL + "/photo/current")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status code = %d, want 500", resp.StatusCode)
	}
}
