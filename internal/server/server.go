// Package server exposes the capture engine to the browser automation
// driver: the driver pushes request/response events over HTTP while the UI
// test runs, and controls the session lifecycle through the same API.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/cors"

	"github.com/yourorg/tracegen/internal/config"
	"github.com/yourorg/tracegen/internal/recorder"
	"github.com/yourorg/tracegen/internal/store"
)

// Server wraps the capture API handlers.
type Server struct {
	cfg     *config.Config
	rec     *recorder.Recorder
	store   store.Store
	mux     *http.ServeMux
	handler http.Handler
}

// New constructs a Server with routes registered. The store may be nil when
// persistence is disabled; session listing then returns 404.
func New(cfg *config.Config, rec *recorder.Recorder, st store.Store) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if rec == nil {
		return nil, errors.New("recorder is nil")
	}

	srv := &Server{
		cfg:   cfg,
		rec:   rec,
		store: st,
		mux:   http.NewServeMux(),
	}
	srv.registerRoutes()

	origin := cfg.Server.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	srv.handler = cors.New(cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(srv.mux)
	return srv, nil
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe starts the server on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.handler)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/capture/start", s.handleStart)
	s.mux.HandleFunc("/api/capture/stop", s.handleStop)
	s.mux.HandleFunc("/api/capture/stats", s.handleStats)
	s.mux.HandleFunc("/api/events/request", s.handleRequestEvent)
	s.mux.HandleFunc("/api/events/response", s.handleResponseEvent)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	if err := s.rec.Start(req.Name); err != nil {
		if errors.Is(err, recorder.ErrAlreadyCapturing) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "capturing", "name": req.Name})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.rec.Stop()
	if err != nil {
		if errors.Is(err, recorder.ErrNotCapturing) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// nil marshals to JSON null while idle
	writeJSON(w, http.StatusOK, s.rec.Stats())
}

func (s *Server) handleRequestEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var ev recorder.RequestEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.rec.OnRequest(ev)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleResponseEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var ev recorder.ResponseEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.rec.OnResponse(ev)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "persistence disabled", http.StatusNotFound)
		return
	}
	sessions, err := s.store.ListSessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "persistence disabled", http.StatusNotFound)
		return
	}
	id, tail, ok := splitPath(r.URL.Path, "/api/sessions/")
	if !ok || id == "" || tail != "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		sess, err := s.store.GetSession(id)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case http.MethodDelete:
		if err := s.store.DeleteSession(id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func splitPath(fullPath, prefix string) (string, string, bool) {
	if !strings.HasPrefix(fullPath, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(fullPath, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	return id, tail, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
