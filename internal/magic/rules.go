// Package magic compiles the user-configured "magic" regex rules used to clean
// episode names, rewrite titles before aggregation and pick episode numbers.
//
// Rules come from remote configuration and are frequently malformed. Every
// rule compiles on its own; a rule that fails to compile is logged and
// dropped without affecting the others.
package magic

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Rule is a compiled replace rule. Rules without a replacement only match.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
	HasReplace  bool
}

var (
	doubledEscape = regexp.MustCompile(`\\\\([dDsSwWbB.()\[\]{}+*?^$|\\\-_/])`)
	pythonBackref = regexp.MustCompile(`\\(\d+)`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

// CompileReplaceRules accepts JSON objects {"pattern","replace","flags"},
// /pattern/flags literals or bare patterns (case-insensitive).
func CompileReplaceRules(raw []string) []Rule {
	out := make([]Rule, 0, len(raw))
	for _, text := range raw {
		rule, ok := compileReplaceRule(text)
		if !ok {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// CompileCleanRules accepts /pattern/flags literals or bare patterns.
func CompileCleanRules(raw []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, text := range raw {
		re, ok := compileCleanRule(text)
		if !ok {
			continue
		}
		out = append(out, re)
	}
	return out
}

func compileReplaceRule(text string) (Rule, bool) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return Rule{}, false
	}

	if strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") && gjson.Valid(raw) {
		parsed := gjson.Parse(raw)
		pattern := parsed.Get("pattern").String()
		if strings.TrimSpace(pattern) == "" {
			return Rule{}, false
		}
		re, err := compileRegex(pattern, parsed.Get("flags").String())
		if err == nil {
			rule := Rule{Pattern: re}
			if replace := parsed.Get("replace").String(); strings.TrimSpace(replace) != "" {
				rule.Replacement = convertBackrefs(replace)
				rule.HasReplace = true
			}
			return rule, true
		}
		logDropped(raw, err)
		// fall through to literal parsing, matching the legacy client
	}

	pattern, flags, isLiteral := splitLiteral(raw)
	if !isLiteral {
		pattern, flags = raw, "i"
	}
	re, err := compileRegex(pattern, flags)
	if err != nil {
		logDropped(raw, err)
		return Rule{}, false
	}
	return Rule{Pattern: re}, true
}

func compileCleanRule(text string) (*regexp.Regexp, bool) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, false
	}
	pattern, flags, isLiteral := splitLiteral(raw)
	if !isLiteral {
		pattern, flags = raw, "i"
	}
	re, err := compileRegex(pattern, flags)
	if err != nil {
		logDropped(raw, err)
		return nil, false
	}
	return re, true
}

// splitLiteral splits "/pattern/flags". The closing slash is the last one.
func splitLiteral(raw string) (pattern, flags string, ok bool) {
	if !strings.HasPrefix(raw, "/") {
		return "", "", false
	}
	last := strings.LastIndex(raw, "/")
	if last <= 0 {
		return "", "", false
	}
	return raw[1:last], raw[last+1:], true
}

func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	normalized := normalizePattern(pattern)
	var prefix strings.Builder
	lower := strings.ToLower(flags)
	for _, flag := range []byte{'i', 'm', 's'} {
		if strings.IndexByte(lower, flag) >= 0 {
			prefix.WriteByte(flag)
		}
	}
	if prefix.Len() > 0 {
		normalized = "(?" + prefix.String() + ")" + normalized
	}
	return regexp.Compile(normalized)
}

// normalizePattern collapses "\\d"-style escapes pasted from JSON or JS
// string literals into a single backslash.
func normalizePattern(pattern string) string {
	if pattern == "" {
		return pattern
	}
	return doubledEscape.ReplaceAllString(pattern, `\${1}`)
}

// convertBackrefs rewrites \1 style group references to ${1}.
func convertBackrefs(replace string) string {
	return pythonBackref.ReplaceAllString(replace, `$${${1}}`)
}

func logDropped(rule string, err error) {
	slog.Debug("magic rule dropped",
		slog.String("rule", truncate(rule, 120)),
		slog.String("error", err.Error()),
	)
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}

// Clean deletes every rule match and collapses whitespace runs.
func Clean(text string, rules []*regexp.Regexp) string {
	out := strings.TrimSpace(text)
	if out == "" {
		return out
	}
	for _, re := range rules {
		out = re.ReplaceAllString(out, "")
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(out, " "))
}

// ApplyReplace runs every rule that carries a replacement, in order.
func ApplyReplace(text string, rules []Rule) string {
	out := text
	for _, rule := range rules {
		if !rule.HasReplace {
			continue
		}
		out = rule.Pattern.ReplaceAllString(out, rule.Replacement)
	}
	return out
}
