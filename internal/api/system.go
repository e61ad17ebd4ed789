package api

import (
	"net/http"
	"time"
)

// handleHealth reports service liveness and basic fleet counts.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	enabled := 0
	for _, dev := range devices {
		if dev.Enabled {
			enabled++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         s.version,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"devices":         len(devices),
		"devices_enabled": enabled,
	})
}
