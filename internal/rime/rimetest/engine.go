// Package rimetest provides a scripted in-memory rime.Engine for tests.
package rimetest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/woxQAQ/rime-bridge/internal/rime"
)

// ErrUnavailable is returned by Unavailable providers.
var ErrUnavailable = errors.New("rime capability unavailable")

// Entry is a dictionary candidate.
type Entry struct {
	Text    string
	Comment string
}

type session struct {
	input   string
	page    int
	pending *string
	options map[string]bool
}

// Engine is a toy pinyin engine: the composition is the raw key sequence and
// candidates come from Dict, falling back to the input itself.
type Engine struct {
	Dict       map[string][]Entry
	PageSize   int
	SelectKeys string
	// Labels, when set, is exposed as an explicit select label array.
	Labels  []string
	Release string

	SetupErr          error
	InitializeErr     error
	FailCreateSession bool

	// Lost, when set, is reported by Err as a permanent engine failure.
	Lost error

	// ContextHook edits every context before it is returned.
	ContextHook func(c *rime.Context)

	// Calls counts invocations per operation.
	Calls map[string]int
	// Violations records acquisitions made while a previous one was still held.
	Violations []string

	Initialized bool
	Finalized   bool
	Closed      bool

	sessions     map[rime.SessionID]*session
	nextSession  rime.SessionID
	commitHeld   bool
	contextHeld  bool
	commitFrees  int
	contextFrees int
	commitGets   int
	contextGets  int
}

var (
	_ rime.Engine = (*Engine)(nil)
	_ rime.Health = (*Engine)(nil)
)

// New returns an engine with a small pinyin dictionary.
func New() *Engine {
	return &Engine{
		Dict: map[string][]Entry{
			"nihao": {{Text: "你好"}, {Text: "你号"}, {Text: "拟好", Comment: "nǐ hǎo"}},
			"ni":    {{Text: "你"}, {Text: "呢"}, {Text: "泥"}, {Text: "尼"}, {Text: "拟"}, {Text: "逆"}, {Text: "妮"}},
		},
		PageSize:   5,
		SelectKeys: "12345",
		Release:    "1.16.1",
		Calls:      make(map[string]int),
		sessions:   make(map[rime.SessionID]*session),
	}
}

// Provider returns a provider yielding e.
func (e *Engine) Provider() rime.Provider {
	return func(context.Context) (rime.Engine, error) {
		e.record("provide")
		return e, nil
	}
}

// Unavailable returns a provider that always fails.
func Unavailable() rime.Provider {
	return func(context.Context) (rime.Engine, error) {
		return nil, ErrUnavailable
	}
}

// Outstanding reports whether a commit or context is still held.
func (e *Engine) Outstanding() (commit, ctx bool) {
	return e.commitHeld, e.contextHeld
}

// Balanced reports whether every acquired structure was released.
func (e *Engine) Balanced() bool {
	return e.commitGets == e.commitFrees && e.contextGets == e.contextFrees
}

// Sessions returns the number of live sessions.
func (e *Engine) Sessions() int {
	return len(e.sessions)
}

// Option returns an option value set on a session.
func (e *Engine) Option(id rime.SessionID, name string) (bool, bool) {
	s, ok := e.sessions[id]
	if !ok {
		return false, false
	}
	v, ok := s.options[name]
	return v, ok
}

func (e *Engine) record(op string) {
	if e.Calls == nil {
		e.Calls = make(map[string]int)
	}
	e.Calls[op]++
}

func (e *Engine) Setup(_ context.Context, _ rime.Traits) error {
	e.record("setup")
	return e.SetupErr
}

func (e *Engine) Initialize(_ context.Context, _ rime.Traits) error {
	e.record("initialize")
	if e.InitializeErr != nil {
		return e.InitializeErr
	}
	e.Initialized = true
	e.Finalized = false
	return nil
}

func (e *Engine) StartMaintenance(_ context.Context, _ bool) bool {
	e.record("start_maintenance")
	return true
}

func (e *Engine) Finalize(_ context.Context) {
	e.record("finalize")
	e.Initialized = false
	e.Finalized = true
}

func (e *Engine) CreateSession(_ context.Context) rime.SessionID {
	e.record("create_session")
	if e.FailCreateSession {
		return 0
	}
	if e.sessions == nil {
		e.sessions = make(map[rime.SessionID]*session)
	}
	e.nextSession++
	e.sessions[e.nextSession] = &session{options: make(map[string]bool)}
	return e.nextSession
}

func (e *Engine) DestroySession(_ context.Context, id rime.SessionID) bool {
	e.record("destroy_session")
	if _, ok := e.sessions[id]; !ok {
		return false
	}
	delete(e.sessions, id)
	return true
}

func (e *Engine) SimulateKeySequence(_ context.Context, id rime.SessionID, keys string) bool {
	e.record("simulate_key_sequence")
	s, ok := e.sessions[id]
	if !ok {
		return false
	}
	for _, r := range keys {
		switch {
		case r == ' ':
			if cands := e.candidates(s.input); len(cands) > 0 {
				e.commit(s, cands[0].Text)
			}
		case r >= 'a' && r <= 'z':
			s.input += string(r)
			s.page = 0
		}
	}
	return true
}

func (e *Engine) SelectCandidateOnCurrentPage(_ context.Context, id rime.SessionID, index int) bool {
	e.record("select_candidate")
	s, ok := e.sessions[id]
	if !ok || s.input == "" {
		return false
	}
	cands := e.candidates(s.input)
	i := s.page*e.PageSize + index
	if index < 0 || index >= e.PageSize || i >= len(cands) {
		return false
	}
	e.commit(s, cands[i].Text)
	return true
}

func (e *Engine) ChangePage(_ context.Context, id rime.SessionID, backward bool) bool {
	e.record("change_page")
	s, ok := e.sessions[id]
	if !ok || s.input == "" {
		return false
	}
	if backward {
		if s.page == 0 {
			return false
		}
		s.page--
		return true
	}
	if (s.page+1)*e.PageSize >= len(e.candidates(s.input)) {
		return false
	}
	s.page++
	return true
}

func (e *Engine) ClearComposition(_ context.Context, id rime.SessionID) {
	e.record("clear_composition")
	if s, ok := e.sessions[id]; ok {
		s.input = ""
		s.page = 0
	}
}

func (e *Engine) SetOption(_ context.Context, id rime.SessionID, option string, value bool) {
	e.record("set_option")
	if s, ok := e.sessions[id]; ok {
		s.options[option] = value
	}
}

func (e *Engine) GetCommit(_ context.Context, id rime.SessionID) (*rime.Commit, bool) {
	e.record("get_commit")
	if e.commitHeld {
		e.Violations = append(e.Violations, "get_commit while commit held")
	}
	s, ok := e.sessions[id]
	if !ok || s.pending == nil {
		return nil, false
	}
	text := *s.pending
	s.pending = nil
	e.commitHeld = true
	e.commitGets++
	return &rime.Commit{Text: &text}, true
}

func (e *Engine) FreeCommit(_ context.Context, c *rime.Commit) bool {
	e.record("free_commit")
	if c == nil || !e.commitHeld {
		return false
	}
	e.commitHeld = false
	e.commitFrees++
	return true
}

func (e *Engine) GetContext(_ context.Context, id rime.SessionID) (*rime.Context, bool) {
	e.record("get_context")
	if e.contextHeld {
		e.Violations = append(e.Violations, "get_context while context held")
	}
	s, ok := e.sessions[id]
	if !ok {
		return nil, false
	}
	e.contextHeld = true
	e.contextGets++

	c := &rime.Context{}
	if s.input != "" {
		preedit := s.input
		c.Composition = rime.Composition{
			Length:    len(preedit),
			CursorPos: len(preedit),
			SelStart:  0,
			SelEnd:    len(preedit),
			Preedit:   &preedit,
		}
		c.Menu = e.menu(s)
		if e.Labels != nil {
			c.SelectLabels = make([]*string, c.Menu.NumCandidates)
			for i := range c.SelectLabels {
				if i < len(e.Labels) {
					label := e.Labels[i]
					c.SelectLabels[i] = &label
				}
			}
		}
	}

	if e.ContextHook != nil {
		e.ContextHook(c)
	}
	return c, true
}

func (e *Engine) FreeContext(_ context.Context, c *rime.Context) bool {
	e.record("free_context")
	if c == nil || !e.contextHeld {
		return false
	}
	e.contextHeld = false
	e.contextFrees++
	return true
}

func (e *Engine) Version(_ context.Context) string {
	e.record("version")
	return e.Release
}

// Err implements rime.Health.
func (e *Engine) Err() error {
	return e.Lost
}

// Close marks the engine closed, letting tests observe teardown.
func (e *Engine) Close(_ context.Context) error {
	e.record("close")
	e.Closed = true
	return nil
}

func (e *Engine) commit(s *session, text string) {
	s.pending = &text
	s.input = ""
	s.page = 0
}

func (e *Engine) candidates(input string) []Entry {
	if cands, ok := e.Dict[input]; ok {
		return cands
	}
	if input == "" {
		return nil
	}
	return []Entry{{Text: input}}
}

func (e *Engine) menu(s *session) rime.Menu {
	cands := e.candidates(s.input)
	start := s.page * e.PageSize
	end := start + e.PageSize
	if end > len(cands) {
		end = len(cands)
	}

	m := rime.Menu{
		PageSize:   e.PageSize,
		PageNo:     s.page,
		IsLastPage: end >= len(cands),
	}
	for _, c := range cands[start:end] {
		text := c.Text
		entry := rime.Candidate{Text: &text}
		if c.Comment != "" {
			comment := c.Comment
			entry.Comment = &comment
		}
		m.Candidates = append(m.Candidates, entry)
	}
	m.NumCandidates = len(m.Candidates)
	if e.SelectKeys != "" {
		keys := e.SelectKeys
		m.SelectKeys = &keys
	}
	return m
}

// String summarizes the call counts, for test failure messages.
func (e *Engine) String() string {
	var b strings.Builder
	for op, n := range e.Calls {
		fmt.Fprintf(&b, "%s=%d ", op, n)
	}
	return strings.TrimSpace(b.String())
}
