package episodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
)

func sampleLine() domain.PlayLine {
	return domain.PlayLine{Flag: "L1", Episodes: []domain.Episode{
		{RawName: "EP2 end", MatchedLabel: "第02集", Number: 2, ID: "b"},
		{RawName: "EP1", MatchedLabel: "第01集", Number: 1, ID: "a"},
		{RawName: "EP3", MatchedLabel: "第03集", Number: 3, ID: "c"},
	}}
}

func ids(list []domain.Episode) []string {
	out := make([]string, 0, len(list))
	for _, ep := range list {
		out = append(out, ep.ID)
	}
	return out
}

func TestViewSortsAndIsIdempotent(t *testing.T) {
	line := sampleLine()
	asc := View(line, Options{})
	assert.Equal(t, []string{"a", "b", "c"}, ids(asc))
	assert.Equal(t, asc, View(line, Options{}))

	desc := View(line, Options{}.ToggleDescending())
	assert.Equal(t, []string{"c", "b", "a"}, ids(desc))
	assert.Equal(t, desc, View(line, Options{Descending: true}))

	assert.Equal(t, "b", line.Episodes[0].ID, "the line itself is untouched")
}

func TestViewShowRaw(t *testing.T) {
	line := sampleLine()
	raw := View(line, Options{}.ToggleRaw())
	require.Len(t, raw, 3)
	assert.Equal(t, "EP1", raw[0].MatchedLabel)
	assert.Equal(t, "EP2 end", raw[1].MatchedLabel)
	assert.Equal(t, "第02集", line.Episodes[0].MatchedLabel)
}

func TestSlice(t *testing.T) {
	list := make([]domain.Episode, 45)
	for i := range list {
		list[i] = domain.Episode{Number: i + 1}
	}
	assert.Len(t, Slice(list, 0, 20), 20)
	assert.Equal(t, 21, Slice(list, 1, 20)[0].Number)
	assert.Len(t, Slice(list, 2, 20), 5)
	assert.Len(t, Slice(list, 3, 20), 45, "out of range returns the whole list")
	assert.Len(t, Slice(list, -1, 0), 20)
	assert.Nil(t, Slice(nil, 0, 20))
	assert.Equal(t, 3, RangeCount(45, 20))
	assert.Equal(t, 1, RangeCount(0, 20))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "第01集", Label(domain.Episode{MatchedLabel: "第01集", RawName: "x"}))
	assert.Equal(t, "x", Label(domain.Episode{RawName: "x"}))
	assert.Equal(t, DefaultLabel, Label(domain.Episode{}))
}
