package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/talefold/talefold/internal/engine"
)

// Server is the talefold HTTP API server.
type Server struct {
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server around a wired engine.
func New(e *engine.Engine, version string) *Server {
	s := &Server{
		engine:  e,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/sessions/{sessionKey}", func(r chi.Router) {
			r.Post("/turns", s.handleTurn)
			r.Post("/message", s.handleMessage)
			r.Post("/select", s.handleSelect)
			r.Post("/reset", s.handleReset)
			r.Get("/state", s.handleState)
			r.Get("/stats", s.handleStats)
		})

		r.Get("/stories", s.handleStories)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.engine.DB.Ping(); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"version":  s.version,
		"uptime":   time.Since(s.started).Seconds(),
		"db":       dbOK,
		"sessions": s.engine.States.Len(),
	})
}
