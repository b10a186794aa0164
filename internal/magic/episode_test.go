package magic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEpisodeNumber(t *testing.T) {
	rules := CompileReplaceRules([]string{
		`/ep(\d+)/i`,
		`{"pattern":"(\\d+)\\.(\\d+)","replace":"S\\1E\\2"}`,
	})

	tests := []struct {
		name string
		text string
		want int
	}{
		{"season episode", "Show S02E05 1080p", 5},
		{"episode only", "E12", 12},
		{"episode zero clamps", "E0", 1},
		{"chinese ji", "第12集", 12},
		{"chinese hua with spaces", "第 3 话", 3},
		{"chinese hui", "第100回", 100},
		{"rule group", "Ep10", 10},
		{"rule replacement then season episode", "1.07 final", 7},
		{"loose digits", "Vol 42 end", 42},
		{"rule out of range falls through", "Ep00 x", 1},
		{"no digits", "正片", 0},
		{"blank", "  ", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractEpisodeNumber(tc.text, rules))
		})
	}
}

func TestExtractEpisodeNumberWithoutRules(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"第08集", 8},
		{"Episode.12.1080p", 12},
		{"S01E03", 3},
		{"预告", 0},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractEpisodeNumber(tc.text, nil))
		})
	}
}

func TestExtractEpisodeNumberRuleOrder(t *testing.T) {
	// The first rule that yields a usable number wins.
	rules := CompileReplaceRules([]string{`/part(\d+)/i`, `/(\d+)/`})
	assert.Equal(t, 3, ExtractEpisodeNumber("12 Part3", rules))
}
