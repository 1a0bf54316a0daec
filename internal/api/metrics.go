package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-link/internal/engine"
	"github.com/nerrad567/gray-logic-link/internal/history"
)

// SystemMetrics is the JSON metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Engine        engine.Stats   `json:"engine"`
	Catalog       CatalogMetrics `json:"catalog"`
	History       *history.Stats `json:"history,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// CatalogMetrics summarises the device catalog.
type CatalogMetrics struct {
	Devices int `json:"devices"`
}

// handleMetrics returns engine and runtime statistics as JSON.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Engine:    s.engine.Stats(),
		Catalog:   CatalogMetrics{Devices: s.catalog.Len()},
	}
	if s.history != nil {
		st := s.history.Stats()
		metrics.History = &st
	}

	writeJSON(w, http.StatusOK, metrics)
}
