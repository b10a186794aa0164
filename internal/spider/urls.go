package spider

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	spiderPathPattern = regexp.MustCompile(`^/[a-f0-9]{10}/spider/`)
	idOnlyPath        = regexp.MustCompile(`^/[a-f0-9]{10}/?$`)
	trailingSpider    = regexp.MustCompile(`/spider/?$`)
	trailingConfig    = regexp.MustCompile(`/(full-config|config|website)/?$`)
)

// NormalizeAPIBase reduces whatever the user pasted (a spider URL, a config
// URL, an id-prefixed base) to the gateway root, always ending in "/".
// It returns "" for input that is not an absolute URL.
func NormalizeAPIBase(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}
	if idx := strings.Index(path, "/spider/"); idx >= 0 {
		path = path[:idx]
		if path == "" {
			path = "/"
		}
	}
	if idOnlyPath.MatchString(path) {
		path = "/"
	}
	path = trailingSpider.ReplaceAllString(path, "/")
	path = trailingConfig.ReplaceAllString(path, "/")
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	return (&url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: path}).String()
}

// IsSpiderPath reports whether api is an id-prefixed runtime spider path.
func IsSpiderPath(api string) bool {
	return spiderPathPattern.MatchString(strings.TrimSpace(api))
}

// SpiderURL resolves "<spiderPath>/<action>" against the gateway root.
func SpiderURL(apiBase, spiderAPI, action string) (string, error) {
	base, err := parseBase(apiBase)
	if err != nil {
		return "", err
	}
	spiderPath := strings.TrimSuffix(strings.TrimSpace(spiderAPI), "/")
	if !IsSpiderPath(spiderPath) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSpiderAPI, spiderAPI)
	}
	ref, err := url.Parse(spiderPath + "/" + strings.TrimSpace(action))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSpiderAPI, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// PlayURL is the gateway-level play endpoint, relative to the normalized base.
func PlayURL(apiBase string) (string, error) {
	base, err := parseBase(apiBase)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(&url.URL{Path: "play"}).String(), nil
}

func parseBase(apiBase string) (*url.URL, error) {
	normalized := NormalizeAPIBase(apiBase)
	if normalized == "" {
		return nil, ErrMissingAPIBase
	}
	base, err := url.Parse(normalized)
	if err != nil {
		return nil, ErrMissingAPIBase
	}
	return base, nil
}
