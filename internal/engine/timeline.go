package engine

import (
	"context"
	"fmt"

	"github.com/JoeyEamigh/ccmemory/internal/store"
)

// Timeline is the chronological neighborhood of an anchor memory.
type Timeline struct {
	Anchor  *store.Memory   `json:"anchor"`
	Session *store.Session  `json:"session,omitempty"`
	Before  []*store.Memory `json:"before"`
	After   []*store.Memory `json:"after"`
}

// TimelineOpts sets the window size on each side of the anchor.
type TimelineOpts struct {
	Before int
	After  int
}

func (o TimelineOpts) window() (int, int) {
	before, after := o.Before, o.After
	if before <= 0 {
		before = 5
	}
	if after <= 0 {
		after = 5
	}
	return before, after
}

// Timeline returns memories created around the anchor, scoped to the
// session the anchor was created in, or to its project if it has none.
func (e *Engine) Timeline(ctx context.Context, anchorID string, opts TimelineOpts) (*Timeline, error) {
	anchor, err := e.DB.GetMemory(ctx, anchorID)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	sess, err := e.DB.CreatingSession(ctx, anchorID)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}

	sessionID := ""
	if sess != nil {
		sessionID = sess.ID
	}
	before, after := opts.window()
	prev, next, err := e.DB.MemoriesAround(ctx, anchor, sessionID, before, after)
	if err != nil {
		return nil, err
	}
	return &Timeline{
		Anchor:  anchor,
		Session: sess,
		Before:  nonNil(prev),
		After:   nonNil(next),
	}, nil
}

func nonNil(m []*store.Memory) []*store.Memory {
	if m == nil {
		return []*store.Memory{}
	}
	return m
}
