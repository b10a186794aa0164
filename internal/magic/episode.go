package magic

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	minEpisodeNumber = 1
	maxEpisodeNumber = 99999
)

var (
	seasonEpisodePattern  = regexp.MustCompile(`(?i)(?:S(\d{1,2}))?\s*E(\d{1,5})`)
	chineseEpisodePattern = regexp.MustCompile(`第\s*(\d{1,5})\s*(?:集|话|回)`)
	looseNumberPattern    = regexp.MustCompile(`(\d{1,5})`)
	nonDigits             = regexp.MustCompile(`\D+`)
)

// ExtractEpisodeNumber picks an episode number out of a cleaned episode name.
// The first strategy that yields a number wins: SxxEyy, 第N集/话/回, the
// configured rules in order, then the first run of digits. The result is
// clamped to [1, 99999]; 0 means no number was found.
func ExtractEpisodeNumber(text string, rules []Rule) int {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0
	}

	if n, ok := matchSeasonEpisode(s); ok {
		return n
	}
	if m := chineseEpisodePattern.FindStringSubmatch(s); m != nil {
		return clampEpisode(m[1])
	}

	for _, rule := range rules {
		m := rule.Pattern.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		if rule.HasReplace {
			rewritten := rule.Pattern.ReplaceAllString(s, rule.Replacement)
			if n, ok := matchSeasonEpisode(rewritten); ok {
				return n
			}
		}
		picked := m[0]
		switch {
		case len(m) > 2 && strings.TrimSpace(m[2]) != "":
			picked = m[2]
		case len(m) > 1 && strings.TrimSpace(m[1]) != "":
			picked = m[1]
		}
		digits := nonDigits.ReplaceAllString(picked, "")
		n, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		if n >= minEpisodeNumber && n <= maxEpisodeNumber {
			return n
		}
	}

	if m := looseNumberPattern.FindStringSubmatch(s); m != nil {
		return clampEpisode(m[1])
	}
	return 0
}

func matchSeasonEpisode(s string) (int, bool) {
	m := seasonEpisodePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	return clampEpisode(m[2]), true
}

func clampEpisode(digits string) int {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	if n < minEpisodeNumber {
		return minEpisodeNumber
	}
	if n > maxEpisodeNumber {
		return maxEpisodeNumber
	}
	return n
}
