package domain

import "time"

type Episode struct {
	RawName      string `json:"rawName"`
	MatchedLabel string `json:"matchedLabel"`
	Number       int    `json:"number"`
	Flag         string `json:"flag"`
	ID           string `json:"id"`
}

type PlayLine struct {
	Flag     string    `json:"flag"`
	Episodes []Episode `json:"episodes"`
}

// VideoDetail is the tolerant projection of a spider detail response.
type VideoDetail struct {
	VideoID  string `json:"videoId"`
	Title    string `json:"title"`
	Poster   string `json:"poster,omitempty"`
	Year     string `json:"year,omitempty"`
	TypeName string `json:"typeName,omitempty"`
	Remark   string `json:"remark,omitempty"`
	Content  string `json:"content,omitempty"`
	PlayFrom string `json:"playFrom"`
	PlayURL  string `json:"playUrl"`
}

type PlaybackSource struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type PlayRequest struct {
	SiteKey      string `json:"siteKey"`
	SiteName     string `json:"siteName"`
	SpiderAPI    string `json:"spiderApi"`
	VideoID      string `json:"videoId"`
	Title        string `json:"title"`
	Poster       string `json:"poster,omitempty"`
	Flag         string `json:"flag"`
	EpisodeID    string `json:"episodeId"`
	EpisodeIndex int    `json:"episodeIndex"`
	EpisodeName  string `json:"episodeName"`
}

type HistoryRecord struct {
	ContentKey   string    `json:"contentKey"`
	Title        string    `json:"title"`
	Poster       string    `json:"poster,omitempty"`
	SiteKey      string    `json:"siteKey"`
	SiteName     string    `json:"siteName"`
	SpiderAPI    string    `json:"spiderApi"`
	VideoID      string    `json:"videoId"`
	PlayFlag     string    `json:"playFlag"`
	EpisodeIndex int       `json:"episodeIndex"`
	EpisodeName  string    `json:"episodeName"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
