package player

import (
	"net/url"
	"strings"
	"unicode"
)

const DefaultUserAgent = "MeowFilmTV"

// NormalizeHeaders trims keys and values, drops control characters and
// blank entries, adds a User-Agent when missing and derives Origin from
// Referer when the source did not send one.
func NormalizeHeaders(headers map[string]string, userAgent string) map[string]string {
	out := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		key := strings.TrimSpace(k)
		value := strings.TrimSpace(strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' {
				return ' '
			}
			if unicode.IsControl(r) && r != '\t' {
				return -1
			}
			return r
		}, v))
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	if _, ok := lookup(out, "User-Agent"); !ok {
		ua := strings.TrimSpace(userAgent)
		if ua == "" {
			ua = DefaultUserAgent
		}
		out["User-Agent"] = ua
	}
	if referer, ok := lookup(out, "Referer"); ok {
		if _, hasOrigin := lookup(out, "Origin"); !hasOrigin {
			if origin := originOf(referer); origin != "" {
				out["Origin"] = origin
			}
		}
	}
	return out
}

func lookup(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// originOf keeps scheme and host, plus the port unless it is 80 or 443.
func originOf(referer string) string {
	u, err := url.Parse(strings.TrimSpace(referer))
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return ""
	}
	host := u.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		return u.Scheme + "://" + host + ":" + port
	}
	return u.Scheme + "://" + host
}
