package episodes

import (
	"sort"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
)

const DefaultRangeSize = 20

type Options struct {
	ShowRaw    bool
	Descending bool
}

func (o Options) ToggleDescending() Options {
	o.Descending = !o.Descending
	return o
}

func (o Options) ToggleRaw() Options {
	o.ShowRaw = !o.ShowRaw
	return o
}

// View projects a line for display. The line itself is not modified, so
// applying the same options twice yields the same list.
func View(line domain.PlayLine, opts Options) []domain.Episode {
	out := make([]domain.Episode, len(line.Episodes))
	copy(out, line.Episodes)
	if opts.ShowRaw {
		for i := range out {
			out[i].MatchedLabel = out[i].RawName
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if opts.Descending {
			return out[i].Number > out[j].Number
		}
		return out[i].Number < out[j].Number
	})
	return out
}

// RangeCount is the number of range pages a list of n episodes spans.
func RangeCount(n, size int) int {
	if size <= 0 {
		size = DefaultRangeSize
	}
	return max((n+size-1)/size, 1)
}

// Slice returns the rangeIndex-th page. An index past the end returns the
// whole list.
func Slice(list []domain.Episode, rangeIndex, size int) []domain.Episode {
	if len(list) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultRangeSize
	}
	start := max(rangeIndex, 0) * size
	if start >= len(list) {
		return list
	}
	end := min(start+size, len(list))
	return list[start:end]
}

// Label is the text shown on an episode chip.
func Label(ep domain.Episode) string {
	if ep.MatchedLabel != "" {
		return ep.MatchedLabel
	}
	if ep.RawName != "" {
		return ep.RawName
	}
	return DefaultLabel
}
