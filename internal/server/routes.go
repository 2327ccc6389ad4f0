package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JoeyEamigh/ccmemory/internal/engine"
	"github.com/JoeyEamigh/ccmemory/internal/sector"
	"github.com/JoeyEamigh/ccmemory/internal/store"
)

const defaultSalienceStep = 0.1

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		store.MemoryInput
		ProjectID string `json:"project_id"`
		SessionID string `json:"session_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ProjectID == "" {
		writeMessage(w, http.StatusBadRequest, "project_id required")
		return
	}
	if req.Sector != "" {
		sec, err := sector.Parse(string(req.Sector))
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Sector = sec
	}

	res, err := s.engine.Remember(r.Context(), req.MemoryInput, req.ProjectID, req.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{
		ProjectID:         q.Get("project"),
		Tier:              store.Tier(q.Get("tier")),
		IncludeSuperseded: queryBool(r, "include_superseded"),
		Limit:             queryInt(r, "limit", 50),
	}
	if opts.ProjectID == "" {
		writeMessage(w, http.StatusBadRequest, "project parameter required")
		return
	}
	if v := q.Get("sector"); v != "" {
		sec, err := sector.Parse(v)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Sector = sec
	}

	mems, err := s.db.ListMemories(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if mems == nil {
		mems = []*store.Memory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(mems),
		"memories": mems,
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	m, err := s.db.GetMemory(r.Context(), chi.URLParam(r, "memoryID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memoryID")
	hard := queryBool(r, "hard")
	if err := s.db.DeleteMemory(r.Context(), id, hard); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id, "hard": hard})
}

func (s *Server) handleAdjustSalience(reinforce bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := struct {
			Amount *float64 `json:"amount"`
		}{}
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}
		amount := defaultSalienceStep
		if req.Amount != nil {
			amount = *req.Amount
		}

		id := chi.URLParam(r, "memoryID")
		var m *store.Memory
		var err error
		if reinforce {
			m, err = s.db.ReinforceMemory(r.Context(), id, amount)
		} else {
			m, err = s.db.DeemphasizeMemory(r.Context(), id, amount)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func (s *Server) handleSupersede(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewID string `json:"new_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.NewID == "" {
		writeMessage(w, http.StatusBadRequest, "new_id required")
		return
	}
	rel, err := s.db.Supersede(r.Context(), chi.URLParam(r, "memoryID"), req.NewID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (s *Server) handleSupersededBy(w http.ResponseWriter, r *http.Request) {
	m, err := s.db.GetSupersedingMemory(r.Context(), chi.URLParam(r, "memoryID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"superseded_by": m})
}

func (s *Server) handleGetRelationships(w http.ResponseWriter, r *http.Request) {
	rels, err := s.db.GetRelationships(r.Context(), chi.URLParam(r, "memoryID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rels == nil {
		rels = []*store.Relationship{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationships": rels})
}

func (s *Server) handleGetRelated(w http.ResponseWriter, r *http.Request) {
	typ := store.RelationshipType(r.URL.Query().Get("type"))
	related, err := s.db.GetRelatedMemories(r.Context(), chi.URLParam(r, "memoryID"), typ)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if related == nil {
		related = []store.RelatedMemory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"related": related})
}

func (s *Server) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req store.RelationshipInput
	if !decode(w, r, &req) {
		return
	}
	rel, err := s.db.CreateRelationship(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (s *Server) handleInvalidateRelationship(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "relationshipID")
	if err := s.db.InvalidateRelationship(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "id": id})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeMessage(w, http.StatusBadRequest, "q parameter required")
		return
	}
	project := q.Get("project")
	if project == "" {
		writeMessage(w, http.StatusBadRequest, "project parameter required")
		return
	}

	opts := engine.SearchOpts{
		Limit:             queryInt(r, "limit", s.searchLimit),
		IncludeSuperseded: queryBool(r, "include_superseded"),
		Tier:              store.Tier(q.Get("tier")),
		MinScore:          queryFloat(r, "min_score", 0),
	}
	if v := q.Get("sector"); v != "" {
		sec, err := sector.Parse(v)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Sector = sec
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	results, err := s.engine.Search(ctx, query, project, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []engine.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	tl, err := s.engine.Timeline(r.Context(), chi.URLParam(r, "memoryID"), engine.TimelineOpts{
		Before: queryInt(r, "before", 0),
		After:  queryInt(r, "after", 0),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

func (s *Server) handleRunDecay(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Decay.RunOnce(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	if v := r.URL.Query().Get(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}
