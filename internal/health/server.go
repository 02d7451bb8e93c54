// Package health provides health check and monitoring for the sniper.
//
// This package implements:
//   - HTTP health check endpoint with uptime and the last scan cycle
//   - A status endpoint exposing the shared counters as JSON
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"sniper/internal/booking"

	"go.uber.org/zap"
)

// staleAfter marks the service unhealthy when no scan cycle finished for
// this long. Patrol sleeps are far shorter.
const staleAfter = 5 * time.Minute

// Source is what the endpoints report on. *booking.Manager satisfies it.
type Source interface {
	Snapshot() booking.Snapshot
	Phase() booking.Phase
	Paused() bool
}

// Status represents the application health status.
//
// This is returned by the /health endpoint for monitoring tools.
//
// Fields:
//   - Status: "healthy", "stale" (no recent cycle) or "booked"
//   - Uptime: How long the application has been running
//   - Phase: Current schedule phase
//   - LastCycleTime: When the last scan cycle completed
//   - LastCycleStatus: Outcome of the last cycle
type Status struct {
	Status          string `json:"status"`
	Uptime          string `json:"uptime"`
	Phase           string `json:"phase"`
	Paused          bool   `json:"paused"`
	LastCycleTime   string `json:"last_cycle_time"`
	LastCycleStatus string `json:"last_cycle_status"`
}

// Server serves the health endpoints on its own mux.
type Server struct {
	src    Source
	logger *zap.Logger
	now    func() time.Time
	srv    *http.Server
}

// NewServer creates the health server for port.
func NewServer(src Source, port string, logger *zap.Logger) *Server {
	s := &Server{src: src, logger: logger, now: time.Now}
	s.srv = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// GetStatus returns the current health status.
//
// Returns:
//   - Status: current health status
//   - int: HTTP status code, 503 when stale
func (s *Server) GetStatus() (Status, int) {
	snap := s.src.Snapshot()
	now := s.now()

	st := Status{
		Status:          "healthy",
		Uptime:          now.Sub(snap.StartedAt).Round(time.Second).String(),
		Phase:           string(s.src.Phase()),
		Paused:          s.src.Paused(),
		LastCycleStatus: snap.LastCycle,
	}
	if snap.LastCycle == "" {
		st.LastCycleStatus = "not started"
	}
	if !snap.LastCycleAt.IsZero() {
		st.LastCycleTime = snap.LastCycleAt.Format("2006-01-02 15:04:05")
	}

	code := http.StatusOK
	switch {
	case snap.Success:
		st.Status = "booked"
	case st.Paused:
	case !snap.LastCycleAt.IsZero() && now.Sub(snap.LastCycleAt) > staleAfter:
		st.Status = "stale"
		code = http.StatusServiceUnavailable
	}
	return st, code
}

// Handler exposes the endpoints.
//
// Endpoints:
//   - GET /health: JSON health status
//   - GET /status: JSON snapshot of the shared counters
//
// Example /health response:
//
//	{
//	  "status": "healthy",
//	  "uptime": "1h2m3s",
//	  "phase": "PATROL",
//	  "paused": false,
//	  "last_cycle_time": "2026-03-10 12:00:00",
//	  "last_cycle_status": "scanned"
//	}
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status, code := s.GetStatus()
		writeJSON(w, code, status)
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.src.Snapshot())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start runs the server in a background goroutine and doesn't block.
func (s *Server) Start() {
	go func() {
		s.logger.Info("✓ Health check server started", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("⚠️  Health check server error", zap.Error(err))
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
