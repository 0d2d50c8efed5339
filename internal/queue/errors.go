package queue

import (
	"fmt"
	"time"
)

// ValidationError reports a rejected input field. Nothing has been written
// when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

type RateLimitError struct {
	Class      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Class, e.RetryAfter)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
