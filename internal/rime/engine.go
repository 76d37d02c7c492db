// Package rime defines the input method engine capability consumed by the
// bridge and the native data it exposes after each interaction.
//
// The engine is librime. Its session state is read through two transient
// structures, Commit and Context, that must be released before they are
// acquired again.
package rime

import "context"

// SessionID identifies an engine session. Zero means no session.
type SessionID uint32

// Traits configures engine data directories and distribution identity.
type Traits struct {
	SharedDataDir        string
	UserDataDir          string
	DistributionName     string
	DistributionCodeName string
	DistributionVersion  string
	AppName              string
	MinLogLevel          int
}

// DefaultTraits returns the fixed configuration the bridge initializes the engine with.
func DefaultTraits() Traits {
	return Traits{
		SharedDataDir:        "/rime",
		UserDataDir:          "/rime_user",
		DistributionName:     "Rime WASM",
		DistributionCodeName: "rime-wasm",
		DistributionVersion:  "1.16.1",
		AppName:              "rime-wasm",
	}
}

// Commit is the engine's commit buffer. Text is nil when the native pointer is NULL.
type Commit struct {
	Text *string
}

// Composition is the in-progress preedit. Offsets are byte offsets into Preedit.
type Composition struct {
	Length    int
	CursorPos int
	SelStart  int
	SelEnd    int
	Preedit   *string
}

// Candidate is one menu entry. Nil fields mirror NULL native pointers.
type Candidate struct {
	Text    *string
	Comment *string
}

// Menu is the current candidate page.
type Menu struct {
	PageSize                  int
	PageNo                    int
	IsLastPage                bool
	HighlightedCandidateIndex int
	NumCandidates             int
	Candidates                []Candidate
	SelectKeys                *string
}

// Context is the engine's context structure.
// SelectLabels is nil when the engine provides no label array; individual
// entries are nil for NULL labels.
type Context struct {
	Composition       Composition
	Menu              Menu
	CommitTextPreview *string
	SelectLabels      []*string
}

// Engine is the fixed operation set of the input method engine.
//
// Implementations are not safe for concurrent use. Boolean results report the
// engine's success flag; failures inside the implementation are logged and
// reported as false.
type Engine interface {
	Setup(ctx context.Context, traits Traits) error
	Initialize(ctx context.Context, traits Traits) error
	// StartMaintenance deploys schemas and dictionaries synchronously.
	StartMaintenance(ctx context.Context, fullCheck bool) bool
	Finalize(ctx context.Context)

	CreateSession(ctx context.Context) SessionID
	DestroySession(ctx context.Context, session SessionID) bool

	SimulateKeySequence(ctx context.Context, session SessionID, keys string) bool
	SelectCandidateOnCurrentPage(ctx context.Context, session SessionID, index int) bool
	ChangePage(ctx context.Context, session SessionID, backward bool) bool
	ClearComposition(ctx context.Context, session SessionID)
	SetOption(ctx context.Context, session SessionID, option string, value bool)

	// GetCommit acquires the commit buffer. It returns false when no commit is
	// pending; the returned Commit, if non-nil, must be passed to FreeCommit.
	GetCommit(ctx context.Context, session SessionID) (*Commit, bool)
	FreeCommit(ctx context.Context, commit *Commit) bool

	// GetContext acquires the context. The returned Context, if non-nil, must
	// be passed to FreeContext before the next acquisition.
	GetContext(ctx context.Context, session SessionID) (*Context, bool)
	FreeContext(ctx context.Context, c *Context) bool

	Version(ctx context.Context) string
}

// Health is implemented by engines that can fail permanently, such as a wasm
// module closed after a timed-out call. Err is nil while the engine is usable.
type Health interface {
	Err() error
}

// Provider obtains the engine capability. An error means the capability is unavailable.
type Provider func(ctx context.Context) (Engine, error)
