package domain

import (
	"strings"
	"time"
)

// Site is one spider source as configured on the MeowFilm server.
type Site struct {
	Key     string `json:"key" yaml:"key"`
	Name    string `json:"name" yaml:"name"`
	API     string `json:"api" yaml:"api"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Search  bool   `json:"search" yaml:"search"`
}

func (s Site) Searchable() bool {
	return s.Enabled && s.Search && strings.TrimSpace(s.Key) != ""
}

// DisplayName falls back to the key when the site has no name.
func (s Site) DisplayName() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	return strings.TrimSpace(s.Key)
}

type SearchResultItem struct {
	SiteKey   string `json:"siteKey"`
	SiteName  string `json:"siteName"`
	SpiderAPI string `json:"spiderApi"`
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	Poster    string `json:"poster,omitempty"`
	Remark    string `json:"remark,omitempty"`
	Exact     bool   `json:"exact,omitempty"`
}

// DedupeKey is the identity of an item across site responses.
func (i SearchResultItem) DedupeKey() string {
	return i.SiteKey + "::" + i.VideoID
}

func (i SearchResultItem) SourceRef() SourceRef {
	return SourceRef{
		SiteKey:   i.SiteKey,
		SiteName:  i.SiteName,
		SpiderAPI: i.SpiderAPI,
		VideoID:   i.VideoID,
	}
}

type SourceRef struct {
	SiteKey   string `json:"siteKey"`
	SiteName  string `json:"siteName"`
	SpiderAPI string `json:"spiderApi"`
	VideoID   string `json:"videoId"`
}

func (r SourceRef) Key() string {
	return r.SiteKey + "::" + r.VideoID
}

type RunStatus string

const (
	RunIdle    RunStatus = "idle"
	RunRunning RunStatus = "running"
	RunSettled RunStatus = "settled"
)

// QuerySnapshot is a point-in-time copy of the accumulated state of one query.
type QuerySnapshot struct {
	Key          string             `json:"key"`
	Query        string             `json:"query"`
	RunID        string             `json:"runId,omitempty"`
	Status       RunStatus          `json:"status"`
	Items        []SearchResultItem `json:"items"`
	SiteCounts   map[string]int     `json:"siteCounts"`
	SiteNames    map[string]string  `json:"siteNames"`
	ExactSources []SourceRef        `json:"exactSources"`
	Loading      bool               `json:"loading"`
	Error        string             `json:"error,omitempty"`
	Done         int                `json:"done"`
	Total        int                `json:"total"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// AggregateCard is the synthetic result shown when several sites match the query exactly.
type AggregateCard struct {
	SiteKey  string      `json:"siteKey"`
	SiteName string      `json:"siteName"`
	Title    string      `json:"title"`
	Poster   string      `json:"poster,omitempty"`
	Sources  []SourceRef `json:"sources"`
}

type AggregatedResult struct {
	Title   string      `json:"title"`
	Poster  string      `json:"poster,omitempty"`
	Remark  string      `json:"remark,omitempty"`
	Sources []SourceRef `json:"sources"`
}

type AggregateResponse struct {
	Query     string             `json:"query"`
	Items     []AggregatedResult `json:"items"`
	Errors    []string           `json:"errors,omitempty"`
	Sites     int                `json:"sites"`
	ElapsedMS int64              `json:"elapsedMs"`
}

// SiteDiagnostics reports request health for one site across runs.
type SiteDiagnostics struct {
	Key                 string     `json:"key"`
	Name                string     `json:"name"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs"`
	LastTimeout         bool       `json:"lastTimeout"`
	LastQuery           string     `json:"lastQuery,omitempty"`
	TotalRequests       int64      `json:"totalRequests"`
	TotalFailures       int64      `json:"totalFailures"`
	TimeoutCount        int64      `json:"timeoutCount"`
}
