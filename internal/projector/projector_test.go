package projector

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/rime-bridge/internal/rime"
	"github.com/woxQAQ/rime-bridge/internal/rime/rimetest"
	"github.com/woxQAQ/rime-bridge/pkg/protocol"
)

func strPtr(s string) *string { return &s }

func newSession(t *testing.T) (*rimetest.Engine, rime.SessionID, *Projector) {
	t.Helper()
	engine := rimetest.New()
	id := engine.CreateSession(context.Background())
	require.NotZero(t, id)
	return engine, id, New(engine, zaptest.NewLogger(t))
}

func assertEmpty(t *testing.T, snap *protocol.Snapshot) {
	t.Helper()
	assert.Empty(t, snap.PreeditHead)
	assert.Empty(t, snap.PreeditBody)
	assert.Empty(t, snap.PreeditTail)
	assert.Zero(t, snap.CursorPos)
	assert.NotNil(t, snap.Candidates)
	assert.Empty(t, snap.Candidates)
	assert.Zero(t, snap.PageNo)
	assert.True(t, snap.IsLastPage)
	assert.Zero(t, snap.HighlightedIndex)
	assert.NotNil(t, snap.SelectLabels)
	assert.Empty(t, snap.SelectLabels)
}

func TestProjectEmptySession(t *testing.T) {
	engine, id, p := newSession(t)

	snap := p.Project(context.Background(), id)
	assert.Nil(t, snap.Committed)
	assertEmpty(t, snap)
	assert.True(t, engine.Balanced())
}

func TestProjectNilEngine(t *testing.T) {
	p := New(nil, zaptest.NewLogger(t))
	snap := p.Project(context.Background(), 1)
	assert.Nil(t, snap.Committed)
	assertEmpty(t, snap)
}

func TestProjectComposition(t *testing.T) {
	engine, id, p := newSession(t)
	ctx := context.Background()

	require.True(t, engine.SimulateKeySequence(ctx, id, "nihao"))
	snap := p.Project(ctx, id)

	assert.Nil(t, snap.Committed)
	assert.Equal(t, "", snap.PreeditHead)
	assert.Equal(t, "nihao", snap.PreeditBody)
	assert.Equal(t, "", snap.PreeditTail)
	assert.Equal(t, 5, snap.CursorPos)
	assert.Equal(t, 0, snap.PageNo)
	assert.True(t, snap.IsLastPage)
	require.Len(t, snap.Candidates, 3)
	assert.Equal(t, protocol.Candidate{Text: "你好", Comment: ""}, snap.Candidates[0])
	assert.Equal(t, "nǐ hǎo", snap.Candidates[2].Comment)
	assert.Equal(t, []string{"1", "2", "3"}, snap.SelectLabels)

	assert.Empty(t, engine.Violations)
	assert.True(t, engine.Balanced())
}

func TestProjectCommit(t *testing.T) {
	engine, id, p := newSession(t)
	ctx := context.Background()

	engine.SimulateKeySequence(ctx, id, "nihao")
	require.True(t, engine.SelectCandidateOnCurrentPage(ctx, id, 0))

	snap := p.Project(ctx, id)
	require.NotNil(t, snap.Committed)
	assert.Equal(t, "你好", *snap.Committed)
	assertEmpty(t, snap)

	// The commit is consumed by the first projection.
	snap = p.Project(ctx, id)
	assert.Nil(t, snap.Committed)

	assert.Empty(t, engine.Violations)
	commitHeld, contextHeld := engine.Outstanding()
	assert.False(t, commitHeld)
	assert.False(t, contextHeld)
}

func TestProjectCommitWithoutText(t *testing.T) {
	engine := &nullCommitEngine{Engine: rimetest.New()}
	id := engine.CreateSession(context.Background())
	p := New(engine, zaptest.NewLogger(t))

	snap := p.Project(context.Background(), id)
	assert.Nil(t, snap.Committed)
	assert.True(t, engine.freed)
}

// nullCommitEngine reports a pending commit whose text pointer is NULL.
type nullCommitEngine struct {
	*rimetest.Engine
	freed bool
}

func (e *nullCommitEngine) GetCommit(context.Context, rime.SessionID) (*rime.Commit, bool) {
	return &rime.Commit{}, true
}

func (e *nullCommitEngine) FreeCommit(context.Context, *rime.Commit) bool {
	e.freed = true
	return true
}

func TestProjectSplitsAtSelection(t *testing.T) {
	tests := []struct {
		name             string
		preedit          string
		start, end       int
		head, body, tail string
	}{
		{"whole", "ni hao", 0, 6, "", "ni hao", ""},
		{"middle", "ni hao ma", 3, 6, "ni ", "hao", " ma"},
		{"empty selection", "nihao", 2, 2, "ni", "", "hao"},
		{"tail only", "你hao", 3, 6, "你", "hao", ""},
		{"end past preedit", "nihao", 2, 99, "ni", "hao", ""},
		{"negative start", "nihao", -3, 2, "", "ni", "hao"},
		{"inverted", "nihao", 4, 1, "niha", "", "o"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, id, p := newSession(t)
			engine.ContextHook = func(c *rime.Context) {
				c.Composition = rime.Composition{
					Length:    len(tt.preedit),
					CursorPos: 1,
					SelStart:  tt.start,
					SelEnd:    tt.end,
					Preedit:   strPtr(tt.preedit),
				}
			}

			snap := p.Project(context.Background(), id)
			assert.Equal(t, tt.head, snap.PreeditHead)
			assert.Equal(t, tt.body, snap.PreeditBody)
			assert.Equal(t, tt.tail, snap.PreeditTail)
			assert.Equal(t, tt.preedit, snap.Preedit())
			assert.Equal(t, 1, snap.CursorPos)

			if tt.start >= 0 && tt.start <= tt.end && tt.end <= len(tt.preedit) {
				assert.Len(t, snap.PreeditHead, tt.start)
				assert.Len(t, snap.PreeditHead+snap.PreeditBody, tt.end)
			}
		})
	}
}

func TestProjectCompositionPresence(t *testing.T) {
	tests := []struct {
		name string
		comp rime.Composition
	}{
		{"zero length", rime.Composition{Length: 0, Preedit: strPtr("nihao")}},
		{"null preedit", rime.Composition{Length: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, id, p := newSession(t)
			engine.ContextHook = func(c *rime.Context) {
				c.Composition = tt.comp
				c.Menu = rime.Menu{
					PageNo:        2,
					Candidates:    []rime.Candidate{{Text: strPtr("x")}},
					NumCandidates: 1,
				}
			}

			assertEmpty(t, p.Project(context.Background(), id))
		})
	}
}

func TestProjectNullCandidateFields(t *testing.T) {
	engine, id, p := newSession(t)
	engine.ContextHook = func(c *rime.Context) {
		c.Composition = rime.Composition{Length: 2, SelEnd: 2, Preedit: strPtr("ni")}
		c.Menu = rime.Menu{
			NumCandidates:             2,
			HighlightedCandidateIndex: 1,
			PageNo:                    3,
			Candidates: []rime.Candidate{
				{Text: nil, Comment: strPtr("c")},
				{Text: strPtr("泥"), Comment: nil},
			},
		}
	}

	snap := p.Project(context.Background(), id)
	assert.Equal(t, []protocol.Candidate{{Text: "", Comment: "c"}, {Text: "泥", Comment: ""}}, snap.Candidates)
	assert.Equal(t, 1, snap.HighlightedIndex)
	assert.Equal(t, 3, snap.PageNo)
	assert.False(t, snap.IsLastPage)
	assert.Empty(t, snap.SelectLabels)
}

func TestProjectNumCandidatesBeyondArray(t *testing.T) {
	engine, id, p := newSession(t)
	engine.ContextHook = func(c *rime.Context) {
		c.Menu.NumCandidates = 10
	}
	engine.SimulateKeySequence(context.Background(), id, "nihao")

	snap := p.Project(context.Background(), id)
	assert.Len(t, snap.Candidates, 3)
}

func TestProjectExplicitLabels(t *testing.T) {
	engine, id, p := newSession(t)
	engine.Labels = []string{"a", "s"}
	engine.SimulateKeySequence(context.Background(), id, "nihao")

	snap := p.Project(context.Background(), id)
	require.Len(t, snap.Candidates, 3)
	assert.Equal(t, []string{"a", "s", ""}, snap.SelectLabels)
	assert.Len(t, snap.SelectLabels, len(snap.Candidates))
}

func TestProjectShortSelectKeys(t *testing.T) {
	engine, id, p := newSession(t)
	engine.SelectKeys = "12"
	engine.SimulateKeySequence(context.Background(), id, "nihao")

	snap := p.Project(context.Background(), id)
	require.Len(t, snap.Candidates, 3)
	assert.Equal(t, []string{"1", "2"}, snap.SelectLabels)
	assert.Less(t, len(snap.SelectLabels), len(snap.Candidates))
}

func TestProjectPagination(t *testing.T) {
	engine, id, p := newSession(t)
	ctx := context.Background()
	engine.SimulateKeySequence(ctx, id, "ni")

	snap := p.Project(ctx, id)
	assert.Len(t, snap.Candidates, 5)
	assert.False(t, snap.IsLastPage)

	require.True(t, engine.ChangePage(ctx, id, false))
	snap = p.Project(ctx, id)
	assert.Equal(t, 1, snap.PageNo)
	assert.True(t, snap.IsLastPage)
	assert.Equal(t, []protocol.Candidate{{Text: "逆"}, {Text: "妮"}}, snap.Candidates)
	assert.Equal(t, []string{"1", "2"}, snap.SelectLabels)
}

func TestProjectSerializesEveryKey(t *testing.T) {
	_, id, p := newSession(t)

	data, err := json.Marshal(p.Project(context.Background(), id))
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{
		"committed", "preeditHead", "preeditBody", "preeditTail", "cursorPos",
		"candidates", "pageNo", "isLastPage", "highlightedIndex", "selectLabels",
	} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, "null", string(fields["committed"]))
}

func TestProjectReleasesBeforeReacquire(t *testing.T) {
	engine, id, p := newSession(t)
	ctx := context.Background()

	for _, keys := range []string{"n", "i", "hao", " "} {
		engine.SimulateKeySequence(ctx, id, keys)
		p.Project(ctx, id)
	}

	assert.Empty(t, engine.Violations)
	assert.True(t, engine.Balanced())
	assert.Equal(t, 4, engine.Calls["get_context"])
	assert.Equal(t, 4, engine.Calls["free_context"])
}
