package spider

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
)

// Spiders disagree on field names; each logical value is read from the first
// non-blank key in its list.
var (
	idKeys       = []string{"vod_id", "id"}
	titleKeys    = []string{"vod_name", "name", "title"}
	posterKeys   = []string{"vod_pic", "pic", "poster"}
	remarkKeys   = []string{"vod_remarks", "remark"}
	yearKeys     = []string{"vod_year", "year"}
	typeKeys     = []string{"vod_class", "vod_type", "type_name", "type"}
	contentKeys  = []string{"vod_content", "content", "desc"}
	playFromKeys = []string{"vod_play_from", "play_from", "vod_playfrom", "vod_play_froms"}
	playURLKeys  = []string{"vod_play_url", "play_url", "vod_playurl", "vod_play_urls"}
	headerPaths  = []string{"header", "headers", "data.header", "data.headers"}
)

func firstString(obj gjson.Result, keys ...string) string {
	for _, key := range keys {
		value := obj.Get(key)
		if !value.Exists() || value.Type == gjson.Null {
			continue
		}
		if s := strings.TrimSpace(value.String()); s != "" {
			return s
		}
	}
	return ""
}

func decodeSearch(body []byte, site domain.Site) ([]domain.SearchResultItem, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidResponse
	}
	list := gjson.GetBytes(body, "list")
	if !list.IsArray() {
		return nil, nil
	}
	entries := list.Array()
	items := make([]domain.SearchResultItem, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsObject() {
			continue
		}
		id := firstString(entry, idKeys...)
		title := firstString(entry, titleKeys...)
		if id == "" || title == "" {
			continue
		}
		items = append(items, domain.SearchResultItem{
			SiteKey:   site.Key,
			SiteName:  site.Name,
			SpiderAPI: site.API,
			VideoID:   id,
			Title:     title,
			Poster:    firstString(entry, posterKeys...),
			Remark:    firstString(entry, remarkKeys...),
		})
	}
	return items, nil
}

func decodeDetail(body []byte, videoID string) (domain.VideoDetail, error) {
	if !gjson.ValidBytes(body) {
		return domain.VideoDetail{}, ErrInvalidResponse
	}
	root := gjson.ParseBytes(body)
	obj := root
	if first := root.Get("list.0"); first.IsObject() {
		obj = first
	} else if data := root.Get("data"); data.IsObject() {
		obj = data
	}
	return domain.VideoDetail{
		VideoID:  strings.TrimSpace(videoID),
		Title:    firstString(obj, titleKeys...),
		Poster:   firstString(obj, posterKeys...),
		Year:     firstString(obj, yearKeys...),
		TypeName: firstString(obj, typeKeys...),
		Remark:   firstString(obj, remarkKeys...),
		Content:  firstString(obj, contentKeys...),
		PlayFrom: firstString(obj, playFromKeys...),
		PlayURL:  firstString(obj, playURLKeys...),
	}, nil
}

func decodePlay(body []byte) (domain.PlaybackSource, error) {
	if !gjson.ValidBytes(body) {
		return domain.PlaybackSource{}, ErrInvalidResponse
	}
	root := gjson.ParseBytes(body)
	playURL := strings.TrimSpace(root.Get("url").String())
	if playURL == "" {
		playURL = strings.TrimSpace(root.Get("data.url").String())
	}
	if playURL == "" {
		return domain.PlaybackSource{}, ErrNoPlayableURL
	}
	return domain.PlaybackSource{URL: playURL, Headers: mergeHeaders(root)}, nil
}

// mergeHeaders collects string-ish header entries from every known location.
// Earlier locations win on key conflicts.
func mergeHeaders(root gjson.Result) map[string]string {
	headers := make(map[string]string)
	for _, path := range headerPaths {
		obj := root.Get(path)
		if !obj.IsObject() {
			continue
		}
		obj.ForEach(func(key, value gjson.Result) bool {
			name := strings.TrimSpace(key.String())
			if name == "" {
				return true
			}
			if value.IsObject() || value.IsArray() || value.Type == gjson.Null {
				return true
			}
			v := value.String()
			if strings.TrimSpace(v) == "" {
				return true
			}
			if _, exists := headers[name]; !exists {
				headers[name] = v
			}
			return true
		})
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}
