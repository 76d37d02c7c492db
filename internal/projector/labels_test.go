package projector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/woxQAQ/rime-bridge/internal/rime"
)

func TestResolveLabelsPriority(t *testing.T) {
	keys := "asdf"

	src := resolveLabels(&rime.Context{
		SelectLabels: []*string{strPtr("x")},
		Menu:         rime.Menu{SelectKeys: &keys},
	})
	assert.Equal(t, explicitLabels, src.kind)

	src = resolveLabels(&rime.Context{Menu: rime.Menu{SelectKeys: &keys}})
	assert.Equal(t, selectKeyLabels, src.kind)

	src = resolveLabels(&rime.Context{})
	assert.Equal(t, noLabels, src.kind)
	assert.Empty(t, src.labels(3))
}

func TestSelectKeyLabels(t *testing.T) {
	tests := []struct {
		keys string
		n    int
		want []string
	}{
		{"1234567890", 3, []string{"1", "2", "3"}},
		{"12", 5, []string{"1", "2"}},
		{"", 2, []string{}},
		{"①②③", 2, []string{"①", "②"}},
	}

	for _, tt := range tests {
		src := labelSource{kind: selectKeyLabels, keys: tt.keys}
		assert.Equal(t, tt.want, src.labels(tt.n), "keys %q", tt.keys)
	}
}

func TestExplicitLabelsMatchCandidateCount(t *testing.T) {
	src := labelSource{kind: explicitLabels, explicit: []*string{strPtr("a"), nil}}
	assert.Equal(t, []string{"a", "", ""}, src.labels(3))
	assert.Equal(t, []string{"a"}, src.labels(1))
}
