package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aeolun/squadrelay/pkg/protocol"
)

// RootHandler answers plain HTTP probes on /
func (s *Server) RootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	body := "Server is running!"
	if s.config.ServerName != "" {
		body += " (" + s.config.ServerName + ")"
	}
	_, _ = w.Write([]byte(body))
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.lobby.Stats()
	health := map[string]interface{}{
		"status":            "healthy",
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
		"server_name":       s.config.ServerName,
		"region":            s.info.Region,
		"connections":       s.connections.Count(),
		"sessions":          stats.Sessions,
		"members":           stats.Members,
		"directory_entries": stats.DirectoryEntries,
		"history_enabled":   s.history != nil,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Error("failed to encode health JSON", zap.Error(err))
	}
}

// RoomsJSONHandler serves the public session directory as JSON
func (s *Server) RoomsJSONHandler(w http.ResponseWriter, r *http.Request) {
	entries := s.lobby.Rooms()
	rooms := make([]protocol.RoomInfo, 0, len(entries))
	for _, e := range entries {
		rooms = append(rooms, e.RoomInfo())
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*") // Allow CORS for external websites
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"rooms": rooms,
		"count": len(rooms),
	}); err != nil {
		s.logger.Error("failed to encode rooms JSON", zap.Error(err))
	}
}
