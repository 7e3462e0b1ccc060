// Package api exposes the read-only monitoring surface of the landing
// pipeline: current stats, target state and link health as JSON, plus a
// live snapshot tail over SSE.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/avioncargo/precland/internal/flightlog"
	"github.com/avioncargo/precland/internal/loop"
	"github.com/avioncargo/precland/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Sessioner is the slice of the control loop the API reads from.
type Sessioner interface {
	ID() string
	IsRunning() bool
	Stats() loop.StatsSnapshot
	Health() loop.LinkHealth
	Latest() loop.Snapshot
	Subscribe() (string, <-chan loop.Snapshot)
	Unsubscribe(id string)
}

type Server struct {
	session Sessioner
	db      *flightlog.FlightDB
}

// NewServer builds the monitoring server. db may be nil when flight
// logging is disabled; the history endpoints then report 404.
func NewServer(session Sessioner, db *flightlog.FlightDB) *Server {
	return &Server{session: session, db: db}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/target", s.showTarget)
	mux.HandleFunc("/api/health", s.showHealth)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/cycles", s.listCycles)
	mux.HandleFunc("/api/snapshots", s.tailSnapshots)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.requireGet(w, r) {
		return
	}
	if err := json.NewEncoder(w).Encode(s.session.Stats()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
	}
}

func (s *Server) showTarget(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.requireGet(w, r) {
		return
	}

	latest := s.session.Latest()
	payload := map[string]interface{}{
		"has_target":         latest.Target.HasTarget,
		"selected_id":        latest.Target.SelectedID,
		"consecutive_misses": latest.Target.ConsecutiveMisses,
		"last_seen_seq":      latest.Target.LastSeenSeq,
		"pose":               latest.Target.Pose,
		"last_command":       latest.LastCommand,
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write target")
	}
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.requireGet(w, r) {
		return
	}

	stats := s.session.Stats()
	payload := map[string]interface{}{
		"session_id":               s.session.ID(),
		"running":                  s.session.IsRunning(),
		"link":                     s.session.Health(),
		"consecutive_frame_misses": stats.ConsecutiveFrameMisses,
		"fps":                      stats.FPS,
		"version":                  version.Version,
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write health")
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.requireGet(w, r) {
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "Flight log disabled")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	sessions, err := s.db.Sessions(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []flightlog.SessionRow{}
	}
	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write sessions")
	}
}

func (s *Server) listCycles(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.requireGet(w, r) {
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "Flight log disabled")
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = s.session.ID()
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	cycles, err := s.db.RecentCycles(sessionID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve cycles: %v", err))
		return
	}
	if cycles == nil {
		cycles = []flightlog.CycleRow{}
	}
	if err := json.NewEncoder(w).Encode(cycles); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write cycles")
	}
}
