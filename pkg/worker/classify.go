package worker

import (
	"errors"
	"regexp"
	"time"

	"github.com/jdziat/engagement-jobs/pkg/upstream"
)

// ErrorClass is how Base reacts to a failed job.
type ErrorClass int

const (
	// ClassGeneric failures bump the tuple's retry counter.
	ClassGeneric ErrorClass = iota
	// ClassRateLimit failures block the tuple for a cooldown.
	ClassRateLimit
	// ClassCursorExpired failures drop the saved cursor.
	ClassCursorExpired
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassCursorExpired:
		return "cursor_expired"
	default:
		return "generic"
	}
}

var (
	rateLimitPattern = regexp.MustCompile(`(?i)rate.?limit|too many requests|\b429\b`)
	cursorPattern    = regexp.MustCompile(`(?i)(cursor|pagination.?token|next.?token).*(expired|invalid)|(expired|invalid).*(cursor|pagination.?token|next.?token)`)
)

// Classify sorts err into an ErrorClass. Typed upstream errors are checked
// first, then the message text. For rate limits it also returns the retry
// hint, which is zero when none was given.
func Classify(err error) (ErrorClass, time.Duration) {
	if err == nil {
		return ClassGeneric, 0
	}
	if rl, ok := upstream.AsRateLimited(err); ok {
		return ClassRateLimit, rl.RetryAfter
	}
	if errors.Is(err, upstream.ErrCursorExpired) {
		return ClassCursorExpired, 0
	}

	msg := err.Error()
	switch {
	case rateLimitPattern.MatchString(msg):
		return ClassRateLimit, 0
	case cursorPattern.MatchString(msg):
		return ClassCursorExpired, 0
	}
	return ClassGeneric, 0
}
