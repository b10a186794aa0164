package player

import (
	"errors"
	"fmt"
	"strings"
)

const hevcHint = "提示：当前视频为 HEVC/H.265，可能超出硬解能力（清晰度/10bit/等级）。"

const maxCauseDepth = 3

// EngineError is a failure reported by an engine, with an optional cause
// chain mirroring the renderer's own exception chain.
type EngineError struct {
	Type    string
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Type
}

func (e *EngineError) Unwrap() error { return e.Cause }

func (e *EngineError) TypeName() string { return e.Type }

// ChainError builds an EngineError from a top-level message and a list of
// (type, message) causes, outermost first.
func ChainError(message string, causes ...[2]string) error {
	var cause error
	for i := len(causes) - 1; i >= 0; i-- {
		cause = &EngineError{Type: causes[i][0], Message: causes[i][1], Cause: cause}
	}
	return &EngineError{Type: "PlaybackException", Message: message, Cause: cause}
}

// Describe flattens err and up to three wrapped causes into one line.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var parts []string
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		parts = append(parts, msg)
	}
	cause := errors.Unwrap(err)
	for depth := 0; cause != nil && depth < maxCauseDepth; depth++ {
		part := typeName(cause)
		if msg := strings.TrimSpace(cause.Error()); msg != "" && msg != part {
			part += ": " + msg
		}
		parts = append(parts, part)
		cause = errors.Unwrap(cause)
	}
	if len(parts) == 0 {
		parts = append(parts, typeName(err))
	}
	return strings.Join(distinct(parts), " | ")
}

func typeName(err error) string {
	if named, ok := err.(interface{ TypeName() string }); ok && named.TypeName() != "" {
		return named.TypeName()
	}
	name := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// IsHEVCDecoderFailure reports whether a flattened diagnostic looks like
// the hardware video renderer rejecting an HEVC stream.
func IsHEVCDecoderFailure(diagnostic string) bool {
	lower := strings.ToLower(diagnostic)
	if !strings.Contains(lower, "mediacodecvideorenderer") {
		return false
	}
	return strings.Contains(lower, "video/hevc") || strings.Contains(lower, "hvc1")
}

func withHint(diagnostic string) string {
	return diagnostic + " | " + hevcHint
}
