// Package episodes turns the play_from/play_url strings of a detail payload
// into play lines and projects them for display.
package episodes

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
	"github.com/jenfonro/MeowFilmTV/internal/magic"
)

const (
	LineDelimiter    = "$$$"
	EpisodeDelimiter = "#"
	DefaultLineFlag  = "线路1"
	DefaultLabel     = "正片"
)

// Rules are the compiled magic rules applied to raw episode names.
type Rules struct {
	Clean   []*regexp.Regexp
	Episode []magic.Rule
}

func CompileRules(settings domain.SearchSettings) Rules {
	return Rules{
		Clean:   magic.CompileCleanRules(settings.EpisodeCleanRules),
		Episode: magic.CompileReplaceRules(settings.EpisodeRules),
	}
}

// Parse builds one line per aligned (flag, url segment) pair. When nothing
// parses, the whole url string is read as a single line, which older spiders
// return without play_from.
func Parse(playFrom, playURL string, rules Rules) []domain.PlayLine {
	flags := splitFlags(playFrom)
	urls := strings.Split(playURL, LineDelimiter)

	lines := make([]domain.PlayLine, 0, len(flags))
	for i, flag := range flags {
		if i >= len(urls) {
			break
		}
		part := strings.TrimSpace(urls[i])
		if part == "" {
			continue
		}
		episodes := parseEpisodes(part, flag, rules)
		if len(episodes) == 0 {
			continue
		}
		lines = append(lines, domain.PlayLine{Flag: flag, Episodes: episodes})
	}
	if len(lines) > 0 {
		return lines
	}

	part := strings.TrimSpace(playURL)
	if part == "" {
		return nil
	}
	flag := DefaultLineFlag
	if len(flags) > 0 {
		flag = flags[0]
	}
	episodes := parseEpisodes(part, flag, rules)
	if len(episodes) == 0 {
		return nil
	}
	return []domain.PlayLine{{Flag: flag, Episodes: episodes}}
}

func splitFlags(playFrom string) []string {
	parts := strings.Split(playFrom, LineDelimiter)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if flag := strings.TrimSpace(part); flag != "" {
			out = append(out, flag)
		}
	}
	return out
}

func parseEpisodes(part, flag string, rules Rules) []domain.Episode {
	segments := strings.Split(part, EpisodeDelimiter)
	out := make([]domain.Episode, 0, len(segments))
	for index, segment := range segments {
		s := strings.TrimSpace(segment)
		if s == "" {
			continue
		}
		sep := strings.Index(s, "$")
		if sep <= 0 || sep >= len(s)-1 {
			continue
		}
		rawName := strings.TrimSpace(s[:sep])
		id := strings.TrimSpace(s[sep+1:])
		if id == "" {
			continue
		}
		label, number := matchEpisode(rawName, index+1, rules)
		out = append(out, domain.Episode{
			RawName:      rawName,
			MatchedLabel: label,
			Number:       number,
			Flag:         flag,
			ID:           id,
		})
	}
	return out
}

func matchEpisode(rawName string, position int, rules Rules) (string, int) {
	cleaned := magic.Clean(rawName, rules.Clean)
	picked := magic.ExtractEpisodeNumber(cleaned, rules.Episode)
	if picked > 0 {
		return fmt.Sprintf("第%02d集", picked), picked
	}
	label := cleaned
	if label == "" {
		label = DefaultLabel
	}
	return label, max(position, 1)
}
