package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Voice-platform endpoints
	r.Route("/v1.0", func(r chi.Router) {
		r.Head("/", s.handlePlatformAlive)
		r.Get("/", s.handlePlatformAlive)

		r.Route("/user", func(r chi.Router) {
			r.Post("/unlink", s.handleUnlink)
			r.Get("/devices", s.handleUserDevices)
			r.Post("/devices/query", s.handleDevicesQuery)
			r.Post("/devices/action", s.handleDevicesAction)
		})
	})

	// Operator endpoints
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices/{id}", func(r chi.Router) {
			r.Get("/status", s.handleDeviceStatus)
			r.Get("/commands", s.handleDeviceCommands)
			r.Post("/refresh", s.handleDeviceRefresh)
			r.Get("/history", s.handleDeviceHistory)
		})
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	path := s.wsCfg.Path
	if path == "" {
		path = "/ws"
	}
	r.Get(path, s.handleWebSocket)

	return r
}

// handleHealth reports liveness and transport state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	connected := s.engine.IsConnected()
	state := "ok"
	if !connected {
		state = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    state,
		"version":   s.version,
		"transport": map[string]bool{"connected": connected},
	})
}
