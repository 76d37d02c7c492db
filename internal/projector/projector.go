// Package projector turns the state of an engine session into a Snapshot.
package projector

import (
	"context"

	"go.uber.org/zap"

	"github.com/woxQAQ/rime-bridge/internal/rime"
	"github.com/woxQAQ/rime-bridge/pkg/protocol"
)

// Projector reads commit and context from an engine session.
//
// Each transient engine structure is acquired and released within a single
// helper call, so a structure is always released before the next acquisition.
type Projector struct {
	engine rime.Engine
	logger *zap.Logger
}

// New creates a projector over engine.
func New(engine rime.Engine, logger *zap.Logger) *Projector {
	return &Projector{
		engine: engine,
		logger: logger.With(zap.String("component", "projector")),
	}
}

// Project builds a snapshot of session. It never fails: missing native data
// maps to the snapshot's empty defaults.
func (p *Projector) Project(ctx context.Context, session rime.SessionID) *protocol.Snapshot {
	snap := protocol.EmptySnapshot()
	if p.engine == nil {
		return snap
	}

	p.withCommit(ctx, session, func(c *rime.Commit) {
		if c.Text != nil {
			text := *c.Text
			snap.Committed = &text
		}
	})

	p.withContext(ctx, session, func(c *rime.Context) {
		p.fill(snap, c)
	})

	return snap
}

// withCommit calls fn with the pending commit, if any, and releases it before returning.
func (p *Projector) withCommit(ctx context.Context, session rime.SessionID, fn func(*rime.Commit)) {
	c, ok := p.engine.GetCommit(ctx, session)
	if c == nil {
		return
	}
	defer p.engine.FreeCommit(ctx, c)

	if ok {
		fn(c)
	}
}

// withContext calls fn with the session context and releases it before returning.
func (p *Projector) withContext(ctx context.Context, session rime.SessionID, fn func(*rime.Context)) {
	c, ok := p.engine.GetContext(ctx, session)
	if c == nil {
		return
	}
	defer p.engine.FreeContext(ctx, c)

	if ok {
		fn(c)
	}
}

func (p *Projector) fill(snap *protocol.Snapshot, c *rime.Context) {
	comp := c.Composition
	if comp.Length <= 0 || comp.Preedit == nil {
		return
	}

	preedit := *comp.Preedit
	start, end := p.selection(preedit, comp.SelStart, comp.SelEnd)
	snap.PreeditHead = preedit[:start]
	snap.PreeditBody = preedit[start:end]
	snap.PreeditTail = preedit[end:]
	snap.CursorPos = comp.CursorPos

	menu := c.Menu
	n := menu.NumCandidates
	if n > len(menu.Candidates) {
		n = len(menu.Candidates)
	}
	if n < 0 {
		n = 0
	}

	snap.Candidates = make([]protocol.Candidate, n)
	for i := 0; i < n; i++ {
		snap.Candidates[i] = protocol.Candidate{
			Text:    deref(menu.Candidates[i].Text),
			Comment: deref(menu.Candidates[i].Comment),
		}
	}

	snap.PageNo = menu.PageNo
	snap.IsLastPage = menu.IsLastPage
	snap.HighlightedIndex = menu.HighlightedCandidateIndex

	src := resolveLabels(c)
	snap.SelectLabels = src.labels(n)

	if len(snap.SelectLabels) < n && src.kind != noLabels {
		p.logger.Debug("Fewer select labels than candidates",
			zap.Stringer("source", src.kind),
			zap.Int("labels", len(snap.SelectLabels)),
			zap.Int("candidates", n),
		)
	}
}

// selection bounds the selection offsets to the preedit.
func (p *Projector) selection(preedit string, start, end int) (int, int) {
	n := len(preedit)
	s, e := clamp(start, 0, n), clamp(end, 0, n)
	if e < s {
		e = s
	}
	if s != start || e != end {
		p.logger.Debug("Selection out of range",
			zap.Int("sel_start", start),
			zap.Int("sel_end", end),
			zap.Int("preedit_len", n),
		)
	}
	return s, e
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
