package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-link/internal/devicebus"
)

// handleDeviceStatus returns the cached snapshot for a device.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.engine.GetCachedStatus(id)
	if !ok {
		writeNotFound(w, "no status cached for device")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleDeviceCommands lists the commands still tracked for a device.
func (s *Server) handleDeviceCommands(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cmds := s.engine.Commands(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"commands":  cmds,
		"count":     len(cmds),
	})
}

// handleDeviceRefresh publishes a status request and returns the current
// snapshot without waiting for the device to answer.
func (s *Server) handleDeviceRefresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok, err := s.engine.RequestStatus(r.Context(), id)
	switch {
	case errors.Is(err, devicebus.ErrInvalidDeviceID):
		writeBadRequest(w, err.Error())
		return
	case err != nil:
		s.logger.Warn("status request failed", "device_id", id, "error", err)
		writeUnavailable(w, "status request not delivered")
		return
	}

	resp := map[string]any{
		"device_id": id,
		"requested": true,
	}
	if ok {
		resp["status"] = snap
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleDeviceHistory returns recorded status pushes, newest first.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "status history is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("reading status history", "device_id", id, "error", err)
		writeInternalError(w, "failed to read status history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"entries":   entries,
		"count":     len(entries),
	})
}
