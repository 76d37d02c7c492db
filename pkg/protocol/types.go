package protocol

import "encoding/json"

// Wire types for the rime bridge.
// This package defines shared types used across internal packages and by clients.

// Candidate represents one entry of the candidate menu
type Candidate struct {
	Text    string `json:"text"`
	Comment string `json:"comment"`
}

// Snapshot is the normalized projection of an engine session.
// Committed is nil when no commit is pending; it is serialized as null, never omitted.
type Snapshot struct {
	Committed        *string     `json:"committed"`
	PreeditHead      string      `json:"preeditHead"`
	PreeditBody      string      `json:"preeditBody"`
	PreeditTail      string      `json:"preeditTail"`
	CursorPos        int         `json:"cursorPos"`
	Candidates       []Candidate `json:"candidates"`
	PageNo           int         `json:"pageNo"`
	IsLastPage       bool        `json:"isLastPage"`
	HighlightedIndex int         `json:"highlightedIndex"`
	SelectLabels     []string    `json:"selectLabels"`
}

// EmptySnapshot returns a snapshot with every composition, menu and label
// field set to its empty default.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Candidates:   []Candidate{},
		IsLastPage:   true,
		SelectLabels: []string{},
	}
}

// Preedit returns the full composition text.
func (s *Snapshot) Preedit() string {
	return s.PreeditHead + s.PreeditBody + s.PreeditTail
}

// HasComposition reports whether the snapshot carries an in-progress composition.
func (s *Snapshot) HasComposition() bool {
	return s.Preedit() != ""
}

// EmptyObject is returned by mutating operations when there is no engine or session.
const EmptyObject = "{}"

// Op names an exported bridge operation.
type Op string

const (
	OpInitialize    Op = "initialize"
	OpFeedInput     Op = "feedInput"
	OpPickCandidate Op = "pickCandidate"
	OpFlipPage      Op = "flipPage"
	OpClearInput    Op = "clearInput"
	OpSetOption     Op = "setOption"
	OpGetVersion    Op = "getVersion"
	OpDestroy       Op = "destroy"
)

// Request is one call from the host.
// Pointer fields distinguish an absent argument from its zero value.
type Request struct {
	ID       string  `json:"id,omitempty"`
	Op       Op      `json:"op"`
	Keys     *string `json:"keys,omitempty"`
	Index    *int    `json:"index,omitempty"`
	Backward bool    `json:"backward,omitempty"`
	Option   *string `json:"option,omitempty"`
	Value    bool    `json:"value,omitempty"`
}

// Response answers a Request. Result holds the raw operation output
// (snapshot object, status code, version string or null).
type Response struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
