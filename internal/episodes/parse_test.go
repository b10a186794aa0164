package episodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
)

func TestParseAlignsFlagsAndURLs(t *testing.T) {
	lines := Parse(
		"线路A$$$线路B",
		"第1集$a1#第2集$a2$$$EP01$b1#EP02$b2#EP03$b3",
		Rules{},
	)
	require.Len(t, lines, 2)

	assert.Equal(t, "线路A", lines[0].Flag)
	require.Len(t, lines[0].Episodes, 2)
	assert.Equal(t, domain.Episode{RawName: "第1集", MatchedLabel: "第01集", Number: 1, Flag: "线路A", ID: "a1"}, lines[0].Episodes[0])

	assert.Equal(t, "线路B", lines[1].Flag)
	require.Len(t, lines[1].Episodes, 3)
	assert.Equal(t, "第03集", lines[1].Episodes[2].MatchedLabel)
	assert.Equal(t, 3, lines[1].Episodes[2].Number)
	assert.Equal(t, "b3", lines[1].Episodes[2].ID)
}

func TestParseDropsMalformedSegments(t *testing.T) {
	lines := Parse("L1", "$noName#noDollar#trailing$#ok$id1# $ # 正片 $ id2 ", Rules{})
	require.Len(t, lines, 1)
	eps := lines[0].Episodes
	require.Len(t, eps, 2)
	assert.Equal(t, "id1", eps[0].ID)
	assert.Equal(t, "正片", eps[1].RawName)
	assert.Equal(t, "id2", eps[1].ID)
}

func TestParsePositionalFallback(t *testing.T) {
	lines := Parse("L1", "正片$x#花絮$y", Rules{})
	require.Len(t, lines, 1)
	eps := lines[0].Episodes
	require.Len(t, eps, 2)
	assert.Equal(t, "正片", eps[0].MatchedLabel)
	assert.Equal(t, 1, eps[0].Number)
	assert.Equal(t, "花絮", eps[1].MatchedLabel)
	assert.Equal(t, 2, eps[1].Number)
}

func TestParseLegacySingleList(t *testing.T) {
	lines := Parse("", "第1集$u1#第2集$u2", Rules{})
	require.Len(t, lines, 1)
	assert.Equal(t, DefaultLineFlag, lines[0].Flag)
	require.Len(t, lines[0].Episodes, 2)
	assert.Equal(t, DefaultLineFlag, lines[0].Episodes[1].Flag)
}

func TestParseLegacyUsesFirstFlag(t *testing.T) {
	// The aligned segment yields nothing, so the whole string becomes one line.
	lines := Parse("高清", "junk$$$#第1集$u1", Rules{})
	require.Len(t, lines, 1)
	assert.Equal(t, "高清", lines[0].Flag)
}

func TestParseEmpty(t *testing.T) {
	assert.Empty(t, Parse("L1", "", Rules{}))
	assert.Empty(t, Parse("", "   ", Rules{}))
	assert.Empty(t, Parse("L1", "nothing-here", Rules{}))
}

func TestParseAppliesCleanAndEpisodeRules(t *testing.T) {
	rules := CompileRules(domain.SearchSettings{
		EpisodeCleanRules: []string{`/\[.*?\]/`},
		EpisodeRules:      []string{`/part(\d+)/i`},
	})
	lines := Parse("L1", "[4K] Part7$p7#[4K]$p0", rules)
	require.Len(t, lines, 1)
	eps := lines[0].Episodes
	require.Len(t, eps, 2)
	assert.Equal(t, "第07集", eps[0].MatchedLabel)
	assert.Equal(t, 7, eps[0].Number)
	assert.Equal(t, "[4K] Part7", eps[0].RawName)
	assert.Equal(t, DefaultLabel, eps[1].MatchedLabel, "name cleaned to nothing")
	assert.Equal(t, 2, eps[1].Number)
}
