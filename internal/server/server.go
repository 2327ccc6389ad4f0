package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JoeyEamigh/ccmemory/internal/engine"
	"github.com/JoeyEamigh/ccmemory/internal/store"
)

// Server is the ccmemory HTTP API server.
type Server struct {
	engine  *engine.Engine
	db      *store.DB
	logger  *slog.Logger
	router  chi.Router
	version string
	started time.Time

	searchLimit int
}

// New creates a new Server over the engine's database. searchLimit is the
// result count for /api/search when the request sets none; 0 means 10.
func New(eng *engine.Engine, version string, searchLimit int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if searchLimit <= 0 {
		searchLimit = 10
	}
	s := &Server{
		engine:      eng,
		db:          eng.DB,
		logger:      logger,
		version:     version,
		started:     time.Now(),
		searchLimit: searchLimit,
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

		r.Post("/memories", s.handleCreateMemory)
		r.Get("/memories", s.handleListMemories)
		r.Route("/memories/{memoryID}", func(r chi.Router) {
			r.Get("/", s.handleGetMemory)
			r.Delete("/", s.handleDeleteMemory)
			r.Post("/reinforce", s.handleAdjustSalience(true))
			r.Post("/deemphasize", s.handleAdjustSalience(false))
			r.Post("/supersede", s.handleSupersede)
			r.Get("/superseded-by", s.handleSupersededBy)
			r.Get("/relationships", s.handleGetRelationships)
			r.Get("/related", s.handleGetRelated)
			r.Get("/timeline", s.handleTimeline)
		})

		r.Post("/relationships", s.handleCreateRelationship)
		r.Delete("/relationships/{relationshipID}", s.handleInvalidateRelationship)

		r.Get("/search", s.handleSearch)
		r.Get("/context", s.handleGetContext)

		r.Post("/sessions/init", s.handleSessionInit)
		r.Get("/sessions", s.handleRecentSessions)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Post("/sessions/{sessionID}/end", s.handleEndSession)
		r.Post("/sessions/{sessionID}/usage", s.handleRecordUsage)

		r.Post("/decay/run", s.handleRunDecay)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"uptime":   time.Since(s.started).Seconds(),
		"db":       dbOK,
		"db_path":  s.db.Path,
		"embedder": s.engine.Embedder != nil,
		"decay":    s.engine.Decay.Running(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps store errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidRelationshipType),
		errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, store.ErrDimensionMismatch):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeMessage(w, status, err.Error())
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}
