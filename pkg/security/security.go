// Package security provides validation, sanitization, and limits for the engagement pipeline.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/engagement-jobs/pkg/core"
)

// Security limits and configuration
const (
	// MaxIDLength is the maximum length for campaign, post and user IDs
	MaxIDLength = 64

	// MaxRetries is the hard limit for retry attempts
	MaxRetries = 100

	// MaxConcurrency is the hard limit for in-flight jobs
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxCursorLength is the maximum length for stored pagination cursors
	MaxCursorLength = 2048
)

// validID matches upstream numeric IDs and slug-style campaign IDs
var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

// ValidateID validates a campaign, post or user identifier
func ValidateID(id string) error {
	if id == "" {
		return core.ErrInvalidID
	}
	if len(id) > MaxIDLength {
		return core.ErrIDTooLong
	}
	if !validID.MatchString(id) {
		return core.ErrInvalidID
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := redactBearer(sanitized.String())

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

var bearerToken = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9%._~+/=\-]+`)

// redactBearer hides credentials that upstream errors sometimes echo back.
func redactBearer(s string) string {
	return bearerToken.ReplaceAllString(s, "${1}[redacted]")
}

// ClampCursor drops cursors that exceed the storage limit. An empty cursor
// restarts pagination, which is safe because ingestion is idempotent.
func ClampCursor(c string) string {
	if len(c) > MaxCursorLength {
		return ""
	}
	return c
}

// ClampRetries ensures retry count is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
