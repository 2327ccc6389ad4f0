package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JoeyEamigh/ccmemory/internal/store"
)

func (s *Server) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		ProjectID string `json:"project_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.ProjectID == "" {
		writeMessage(w, http.StatusBadRequest, "session_id and project_id required")
		return
	}

	sess, err := s.engine.Sessions.GetOrCreateSession(r.Context(), req.SessionID, req.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.db.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeMessage(w, http.StatusBadRequest, "project parameter required")
		return
	}
	sessions, err := s.db.GetRecentSessions(r.Context(), project, queryInt(r, "limit", 10))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req struct {
		Summary string `json:"summary"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	promoted, err := s.engine.Sessions.EndSession(r.Context(), sessionID, req.Summary)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ended",
		"promoted": promoted,
	})
}

func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemoryID  string          `json:"memory_id"`
		UsageType store.UsageType `json:"usage_type"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.UsageType == "" {
		req.UsageType = store.UsageRecalled
	}
	err := s.engine.Sessions.RecordUsage(r.Context(), chi.URLParam(r, "sessionID"), req.MemoryID, req.UsageType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}
