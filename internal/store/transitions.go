package store

import (
	"time"

	"waitlist/queue-service/internal/models"
)

const (
	ActionCall    = "call"
	ActionSeat    = "seat"
	ActionCancel  = "cancel"
	ActionArchive = "archive"
)

var transitionMap = map[string][]models.Status{
	ActionCall:    {models.StatusWaiting, models.StatusNotified},
	ActionSeat:    {models.StatusNotified},
	ActionCancel:  {models.StatusWaiting, models.StatusNotified},
	ActionArchive: {models.StatusWaiting, models.StatusNotified, models.StatusSeated},
}

var targetStatus = map[string]models.Status{
	ActionCall:    models.StatusNotified,
	ActionSeat:    models.StatusSeated,
	ActionCancel:  models.StatusCancelled,
	ActionArchive: models.StatusArchived,
}

var eventTypes = map[string]string{
	ActionCall:    "entry.called",
	ActionSeat:    "entry.seated",
	ActionCancel:  "entry.cancelled",
	ActionArchive: "entry.archived",
}

func KnownAction(action string) bool {
	_, ok := transitionMap[action]
	return ok
}

func ValidTransition(action string, from models.Status) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}

// ApplyTransition moves the entry through the state machine and stamps the
// action's side-effect timestamp. Calling a notified entry again re-notifies it:
// the status stays notified and notifiedAt moves to now.
func ApplyTransition(entry *models.QueueEntry, action string, now time.Time) error {
	if !KnownAction(action) {
		return ErrUnknownAction
	}
	if !ValidTransition(action, entry.Status) {
		return ErrInvalidState
	}
	now = now.UTC()
	switch action {
	case ActionCall:
		entry.NotifiedAt = &now
	case ActionCancel:
		entry.CancelledAt = &now
	}
	entry.Status = targetStatus[action]
	return nil
}

// EventTypeFor names the entry event appended for an action.
func EventTypeFor(action string) string {
	return eventTypes[action]
}
