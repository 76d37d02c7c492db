package projector

import (
	"unicode/utf8"

	"github.com/woxQAQ/rime-bridge/internal/rime"
)

type labelKind int

const (
	noLabels labelKind = iota
	explicitLabels
	selectKeyLabels
)

// labelSource is the origin of select labels for one projection, chosen once
// in priority order: explicit label array, then menu select keys, then none.
type labelSource struct {
	kind     labelKind
	explicit []*string
	keys     string
}

func resolveLabels(c *rime.Context) labelSource {
	switch {
	case c.SelectLabels != nil:
		return labelSource{kind: explicitLabels, explicit: c.SelectLabels}
	case c.Menu.SelectKeys != nil:
		return labelSource{kind: selectKeyLabels, keys: *c.Menu.SelectKeys}
	default:
		return labelSource{kind: noLabels}
	}
}

// labels returns the label list for n candidates.
//
// Explicit labels yield exactly n entries. Select keys yield one label per
// key rune and stop when the keys run out, so the list may be shorter than n.
func (s labelSource) labels(n int) []string {
	out := make([]string, 0, n)

	switch s.kind {
	case explicitLabels:
		for i := 0; i < n; i++ {
			if i < len(s.explicit) && s.explicit[i] != nil {
				out = append(out, *s.explicit[i])
			} else {
				out = append(out, "")
			}
		}
	case selectKeyLabels:
		keys := s.keys
		for i := 0; i < n && keys != ""; i++ {
			_, size := utf8.DecodeRuneInString(keys)
			out = append(out, keys[:size])
			keys = keys[size:]
		}
	}

	return out
}

func (k labelKind) String() string {
	switch k {
	case explicitLabels:
		return "explicit"
	case selectKeyLabels:
		return "select_keys"
	default:
		return "none"
	}
}
