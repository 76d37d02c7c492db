package rime

import (
	abi "github.com/woxQAQ/rime-bridge/api/wasm"
	"github.com/woxQAQ/rime-bridge/internal/wasm"
)

// maxCandidates bounds num_candidates read from guest memory.
const maxCandidates = 1024

// structReader decodes fields of a native struct, keeping the first error.
type structReader struct {
	mem  *wasm.Memory
	base uint32
	err  error
}

func (r *structReader) u32(offset uint32) uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.mem.ReadUint32(r.base + offset)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *structReader) i32(offset uint32) int {
	return int(int32(r.u32(offset)))
}

func (r *structReader) flag(offset uint32) bool {
	return r.u32(offset) != 0
}

func (r *structReader) str(offset uint32) *string {
	return r.strAt(r.u32(offset))
}

func (r *structReader) strAt(ptr uint32) *string {
	if r.err != nil || ptr == 0 {
		return nil
	}
	s, err := r.mem.ReadOptionalCString(ptr)
	if err != nil {
		r.err = err
		return nil
	}
	return s
}

func (r *structReader) at(base uint32) *structReader {
	return &structReader{mem: r.mem, base: base, err: r.err}
}

// decodeCommit reads a RimeCommit at base.
func decodeCommit(mem *wasm.Memory, base uint32) (*Commit, error) {
	r := &structReader{mem: mem, base: base}
	c := &Commit{Text: r.str(abi.CommitText)}
	return c, r.err
}

// decodeContext reads a RimeContext at base, following its pointers.
func decodeContext(mem *wasm.Memory, base uint32) (*Context, error) {
	r := &structReader{mem: mem, base: base}

	comp := r.at(base + abi.ContextComposition)
	c := &Context{
		Composition: Composition{
			Length:    comp.i32(abi.CompositionLength),
			CursorPos: comp.i32(abi.CompositionCursorPos),
			SelStart:  comp.i32(abi.CompositionSelStart),
			SelEnd:    comp.i32(abi.CompositionSelEnd),
			Preedit:   comp.str(abi.CompositionPreedit),
		},
	}
	if comp.err != nil {
		return c, comp.err
	}

	menu := r.at(base + abi.ContextMenu)
	c.Menu = Menu{
		PageSize:                  menu.i32(abi.MenuPageSize),
		PageNo:                    menu.i32(abi.MenuPageNo),
		IsLastPage:                menu.flag(abi.MenuIsLastPage),
		HighlightedCandidateIndex: menu.i32(abi.MenuHighlightedCandidateIndex),
		NumCandidates:             menu.i32(abi.MenuNumCandidates),
		SelectKeys:                menu.str(abi.MenuSelectKeys),
	}

	n := c.Menu.NumCandidates
	if n < 0 {
		n = 0
	}
	if n > maxCandidates {
		n = maxCandidates
	}

	if ptr := menu.u32(abi.MenuCandidates); ptr != 0 && n > 0 {
		c.Menu.Candidates = make([]Candidate, n)
		for i := 0; i < n; i++ {
			cand := menu.at(ptr + uint32(i)*abi.CandidateSize)
			c.Menu.Candidates[i] = Candidate{
				Text:    cand.str(abi.CandidateText),
				Comment: cand.str(abi.CandidateComment),
			}
			if cand.err != nil {
				return c, cand.err
			}
		}
	}
	if menu.err != nil {
		return c, menu.err
	}

	c.CommitTextPreview = r.str(abi.ContextCommitTextPreview)

	if ptr := r.u32(abi.ContextSelectLabels); ptr != 0 {
		labels := r.at(ptr)
		c.SelectLabels = make([]*string, n)
		for i := 0; i < n; i++ {
			c.SelectLabels[i] = labels.str(uint32(i) * abi.PointerSize)
		}
		if labels.err != nil {
			return c, labels.err
		}
	}

	return c, r.err
}
