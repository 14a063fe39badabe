// Package handler exposes the slideshow over a small local HTTP
// surface: a JSON status view and the image currently on display.
package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/photokiosk/photokiosk/internal/controller"
	"github.com/photokiosk/photokiosk/internal/transform"
)

// StatusProvider is the controller surface the handler reads from.
type StatusProvider interface {
	Status() controller.Status
	CurrentPayload() (string, bool)
}

// KioskHandler serves /status and /photo/current.
type KioskHandler struct {
	provider StatusProvider
	log      *slog.Logger
}

func NewKioskHandler(provider StatusProvider, log *slog.Logger) *KioskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &KioskHandler{provider: provider, log: log}
}

// Register attaches the handler's routes to a mux.
func (h *KioskHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /photo/current", h.handleCurrent)
}

func (h *KioskHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.provider.Status()); err != nil {
		h.log.Warn("Failed to encode status", "error", err)
	}
}

func (h *KioskHandler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.provider.CurrentPayload()
	if !ok {
		http.Error(w, "No image on display", http.StatusNotFound)
		return
	}

	ct, data, ok := transform.ParseDataURL(payload)
	if !ok {
		http.Error(w, "Unrenderable payload", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(data); err != nil {
		h.log.Debug("Failed to write image response", "error", err)
	}
}
