package store

import (
	"errors"

	"waitlist/queue-service/internal/quota"
)

var (
	ErrQueueNotFound       = errors.New("queue not found")
	ErrEntryNotFound       = errors.New("entry not found")
	ErrMessageNotFound     = errors.New("provider message not found")
	ErrInvalidState        = errors.New("invalid entry state")
	ErrUnknownAction       = errors.New("unknown entry action")
	ErrDuplicateEntry      = errors.New("contact already active in queue")
	ErrActiveEntries       = errors.New("queue has active entries")
	ErrQuotaExceeded       = quota.ErrExceeded
	ErrLocationClosed      = errors.New("location closed")
	ErrSelfCheckInDisabled = errors.New("self check-in disabled")
	ErrAccessDenied        = errors.New("access denied")
	ErrSessionNotFound     = errors.New("session not found")
	ErrBrokenChain         = errors.New("entry event chain broken")
)
