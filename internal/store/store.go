package store

import (
	"context"
	"time"

	"waitlist/queue-service/internal/hours"
	"waitlist/queue-service/internal/models"
	"waitlist/queue-service/internal/quota"
)

// HistoricalSampleSize bounds how many seated entries feed the historical average.
const HistoricalSampleSize = 100

type CreateEntryInput struct {
	QueueID           string
	BusinessID        string
	PublicToken       string
	Name              string
	Phone             string
	Email             string
	PartySize         int
	SeatingPreference string
	CreatedAt         time.Time
	// Quota is rechecked under the business lock before a ticket is assigned.
	// Nil means unlimited.
	Quota *quota.Window
}

type TransitionInput struct {
	EntryID     string
	PublicToken string
	Action      string
	OccurredAt  time.Time
}

type DeliveryInput struct {
	EntryID   string
	Channel   string
	Status    models.DeliveryStatus
	MessageID string
}

// QueueSnapshot is a consistent read of everything the ETA math needs.
type QueueSnapshot struct {
	Queue models.Queue
	// Entries holds waiting and notified entries ordered by ticket number.
	Entries       []models.QueueEntry
	ServingTicket int
	// ServiceDurations are notifiedAt - createdAt of the latest seated entries, newest first.
	ServiceDurations []time.Duration
}

func (s QueueSnapshot) Waiting() []models.QueueEntry {
	var waiting []models.QueueEntry
	for _, entry := range s.Entries {
		if entry.Status == models.StatusWaiting {
			waiting = append(waiting, entry)
		}
	}
	return waiting
}

type DerivedUpdate struct {
	EntryID       string
	QueuePosition int
	ETAMinutes    int
}

type Session struct {
	SessionID  string
	UserID     string
	BusinessID string
	Role       string
	ExpiresAt  time.Time
}

type Store interface {
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	GetQueueByDisplayToken(ctx context.Context, displayToken string) (models.Queue, error)
	CreateEntry(ctx context.Context, input CreateEntryInput) (models.QueueEntry, error)
	TransitionEntry(ctx context.Context, input TransitionInput) (models.QueueEntry, error)
	GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error)
	LoadSnapshot(ctx context.Context, queueID string) (QueueSnapshot, error)
	EntryStatus(ctx context.Context, publicToken string) (models.QueueEntry, QueueSnapshot, error)
	UpdateDerived(ctx context.Context, queueID string, updates []DerivedUpdate) error
	RecordDelivery(ctx context.Context, input DeliveryInput) error
	ReconcileDelivery(ctx context.Context, providerMessageID string, status models.DeliveryStatus) (models.QueueEntry, error)
	ResetCycle(ctx context.Context, queueID string) (models.Queue, error)
	ListStaleNotified(ctx context.Context, cutoff time.Time, limit int) ([]models.QueueEntry, error)
	ListEntryEvents(ctx context.Context, entryID string) ([]EntryEvent, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)

	quota.PlanSource
	quota.EntryCounter
	hours.Source
}
