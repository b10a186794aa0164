package domain

import "strings"

const (
	DefaultSearchThreadCount = 5
	MaxSearchThreadCount     = 50
)

// Session is the working configuration a search or play run needs from the
// MeowFilm server.
type Session struct {
	ServerURL   string         `json:"serverUrl" yaml:"serverUrl"`
	Username    string         `json:"username" yaml:"username"`
	Role        string         `json:"role,omitempty" yaml:"role"`
	SiteName    string         `json:"siteName,omitempty" yaml:"siteName"`
	CatAPIBase  string         `json:"catApiBase" yaml:"catApiBase"`
	TVUser      string         `json:"tvUser,omitempty" yaml:"tvUser"`
	ThreadCount int            `json:"threadCount" yaml:"threadCount"`
	Sites       []Site         `json:"sites" yaml:"sites"`
	Settings    SearchSettings `json:"settings" yaml:"settings"`
}

type SearchSettings struct {
	SiteOrder         []string `json:"siteOrder,omitempty" yaml:"siteOrder"`
	CoverSite         string   `json:"coverSite,omitempty" yaml:"coverSite"`
	EpisodeRules      []string `json:"episodeRules,omitempty" yaml:"episodeRules"`
	EpisodeCleanRules []string `json:"episodeCleanRules,omitempty" yaml:"episodeCleanRules"`
	AggregateRules    []string `json:"aggregateRules,omitempty" yaml:"aggregateRules"`
}

// SearchableSites returns enabled, searchable sites in configuration order.
func (s Session) SearchableSites() []Site {
	out := make([]Site, 0, len(s.Sites))
	for _, site := range s.Sites {
		if site.Searchable() {
			out = append(out, site)
		}
	}
	return out
}

func (s Session) Blank() bool {
	return strings.TrimSpace(s.ServerURL) == "" && strings.TrimSpace(s.Username) == ""
}

// EffectiveThreadCount clamps the configured worker count.
func (s Session) EffectiveThreadCount() int {
	n := s.ThreadCount
	if n <= 0 {
		n = DefaultSearchThreadCount
	}
	if n > MaxSearchThreadCount {
		n = MaxSearchThreadCount
	}
	return n
}

// SiteByKey looks a site up by its key among all configured sites.
func (s Session) SiteByKey(key string) (Site, bool) {
	key = strings.TrimSpace(key)
	for _, site := range s.Sites {
		if site.Key == key {
			return site, true
		}
	}
	return Site{}, false
}
