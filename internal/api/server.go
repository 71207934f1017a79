// Package api serves the process status endpoint polled by external
// monitoring.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/arclight-data/frame.capture/internal/detector"
	"github.com/arclight-data/frame.capture/internal/monitoring"
)

// Server exposes decoder statistics and the cumulative lost-packet count
// over HTTP JSON.
type Server struct {
	stats   *detector.DecoderStats
	loss    *detector.LossCounter
	started time.Time
}

// NewServer creates a status server over the given collectors.
func NewServer(stats *detector.DecoderStats, loss *detector.LossCounter) *Server {
	return &Server{stats: stats, loss: loss, started: time.Now()}
}

// Status is the JSON document served at /api/status.
type Status struct {
	PacketsLost uint64                 `json:"packets_lost"`
	Decoder     detector.StatsSnapshot `json:"decoder"`
	Uptime      string                 `json:"uptime"`
}

// RegisterRoutes attaches the status handlers to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := Status{
		PacketsLost: s.loss.Total(),
		Decoder:     s.stats.Snapshot(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		monitoring.Logf("Failed to encode status response: %v", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
