package loca

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const refreshTimeout = 60 * time.Second

// Service exposes the device snapshot and a refresh trigger over HTTP.
type Service struct {
	poller *Poller
}

func NewService(poller *Poller) *Service {
	return &Service{poller: poller}
}

func (s *Service) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/loca/devices", s.handleDevices)
	mux.HandleFunc("GET /api/loca/devices/{id}", s.handleDevice)
	mux.HandleFunc("POST /api/loca/refresh", s.handleRefresh)
}

func (s *Service) handleDevices(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"devices":    s.poller.Snapshot(),
		"generation": s.poller.Generation(),
		"state":      s.poller.State(),
	}
	if last := s.poller.LastSuccess(); !last.IsZero() {
		payload["last_success"] = last.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Service) handleDevice(w http.ResponseWriter, r *http.Request) {
	device, ok := s.poller.Device(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	if err := s.poller.Refresh(ctx); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": len(s.poller.Snapshot()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
