package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnanalyzable marks a file that cannot be fingerprinted (corrupt,
	// zero duration, no decodable frames). The file is excluded from the run.
	ErrUnanalyzable = errors.New("unanalyzable file")
	// ErrExternalTool marks a failed invocation of ffprobe, ffmpeg or exiftool.
	ErrExternalTool = errors.New("external tool error")
	// ErrToolUnavailable marks a missing external binary. Callers degrade to
	// the levels that do not need the tool.
	ErrToolUnavailable = errors.New("external tool unavailable")
	// ErrCacheCorruption marks a comparison cache that failed validation.
	ErrCacheCorruption = errors.New("cache corruption")
	// ErrCacheUnavailable marks a cache store that cannot be locked or written.
	ErrCacheUnavailable = errors.New("cache unavailable")
	ErrTimeout          = errors.New("timeout")
	ErrConfiguration    = errors.New("configuration error")
	ErrValidation       = errors.New("validation error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRunFatal reports whether err must abort a whole scan. Per-file and
// per-pair failures are recovered locally and never reach this check.
func IsRunFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrCacheUnavailable)
}

// FailureReason maps an error to a short machine-readable reason used in
// reports and log fields.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrToolUnavailable):
		return "tool_unavailable"
	case errors.Is(err, ErrUnanalyzable):
		return "unanalyzable"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	case errors.Is(err, ErrCacheCorruption):
		return "cache_corruption"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "error"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
