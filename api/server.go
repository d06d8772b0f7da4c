// Package api exposes the monitor state over HTTP: snapshot and history
// queries for dashboards, a health endpoint, and a WebSocket feed of
// lifecycle notifications. Reads never block the pipeline; every response is
// built from an engine snapshot or the lock-free history ring.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"mmdvmmon/broadcast"
	"mmdvmmon/engine"
	"mmdvmmon/stats"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server serves the query API and the WebSocket push feed.
type Server struct {
	engine   *engine.Engine
	hub      *broadcast.Hub
	tracker  *stats.Tracker
	router   *chi.Mux
	http     *http.Server
	wsBuffer int
	started  time.Time
}

// NewServer wires the routes. Call Start to begin listening.
func NewServer(listen string, e *engine.Engine, hub *broadcast.Hub, tracker *stats.Tracker, wsBuffer int) *Server {
	s := &Server{
		engine:   e,
		hub:      hub,
		tracker:  tracker,
		router:   chi.NewRouter(),
		wsBuffer: wsBuffer,
		started:  time.Now(),
	}
	s.routes()
	s.http = &http.Server{
		Addr:              listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/qsos/active", s.handleActive)
	s.router.Get("/api/qsos/history", s.handleHistory)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/ws", s.handleWS)
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	log.Printf("API: listening on %s", s.http.Addr)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("API: server stopped: %v", err)
		}
	}()
	return nil
}

// Shutdown drains connections within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ServeHTTP makes the server usable directly in tests via httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: encode response: %v", err)
	}
}

// handleStatus returns the full snapshot: current mode, active contacts,
// history, per-mode activity.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, snap.Active)
}

// handleHistory returns completed contacts newest first; ?limit=N bounds the
// response (default the full ring).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ring := s.engine.History()
	limit := ring.Capacity()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, ring.Recent(limit))
}

type healthResponse struct {
	Healthy     bool              `json:"healthy"`
	Uptime      string            `json:"uptime"`
	ActiveQSOs  int               `json:"active_qsos"`
	Subscribers int               `json:"ws_subscribers"`
	Totals      stats.Totals      `json:"totals"`
	ModeCounts  map[string]uint64 `json:"mode_counts"`
	EventCounts map[string]uint64 `json:"event_counts"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Healthy:     true,
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		ActiveQSOs:  s.engine.ActiveCount(),
		Subscribers: s.hub.SubscriberCount(),
		Totals:      s.tracker.GetTotals(),
		ModeCounts:  s.tracker.GetModeCounts(),
		EventCounts: s.tracker.GetKindCounts(),
	})
}
