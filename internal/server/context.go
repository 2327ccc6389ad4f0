package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/JoeyEamigh/ccmemory/internal/store"
)

const maxContextItems = 15

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeMessage(w, http.StatusBadRequest, "project parameter required")
		return
	}
	text, err := s.buildContext(r.Context(), project, r.URL.Query().Get("session_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"context": text})
}

// buildContext renders the project's most prominent memories and recent
// sessions as markdown for injection at session start.
func (s *Server) buildContext(ctx context.Context, project, currentSessionID string) (string, error) {
	mems, err := s.db.ListMemories(ctx, store.ListOptions{ProjectID: project, Tier: store.TierProject, Limit: 200})
	if err != nil {
		return "", err
	}
	sort.SliceStable(mems, func(i, j int) bool {
		return memoryScore(mems[i]) > memoryScore(mems[j])
	})
	if len(mems) > maxContextItems {
		mems = mems[:maxContextItems]
	}

	var b strings.Builder
	b.WriteString("<context>\n## ccmemory: Project Memory\n")

	if len(mems) > 0 {
		b.WriteString("\n### Memories\n")
		for _, m := range mems {
			text := m.Summary
			if text == "" {
				text = m.Content
			}
			fmt.Fprintf(&b, "- [%s] %s\n", m.Sector, text)
		}
	}

	sessions, err := s.db.GetRecentSessions(ctx, project, 5)
	if err != nil {
		return "", err
	}
	var listed int
	for _, sess := range sessions {
		if sess.ID == currentSessionID {
			continue
		}
		if listed == 0 {
			b.WriteString("\n### Recent Sessions\n")
		}
		listed++
		ts := time.UnixMilli(sess.StartedAt).Format("2006-01-02 15:04")
		summary := sess.Summary
		if summary == "" {
			summary = "active"
			if !sess.Active() {
				summary = "ended"
			}
		}
		fmt.Fprintf(&b, "- [%s] %s\n", ts, summary)
	}

	b.WriteString("</context>")
	return b.String(), nil
}

// memoryScore ranks a memory for context injection priority: salience
// weighted by access frequency, with diminishing returns.
func memoryScore(m *store.Memory) float64 {
	accessBoost := 1.0
	if m.AccessCount > 0 {
		accessBoost = 1.0 + math.Log2(float64(m.AccessCount))
	}
	return m.Salience * accessBoost
}
