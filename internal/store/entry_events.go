package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"waitlist/queue-service/internal/models"
)

const (
	EventEntryCreated   = "entry.created"
	EventDeliveryStatus = "entry.delivery"
)

type EntryEvent struct {
	EntryID   string          `json:"entry_id"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// eventPayload never carries contact details; the event log is readable by staff
// tooling that has no business seeing phone numbers.
type eventPayload struct {
	EntryID        string                `json:"entry_id"`
	QueueID        string                `json:"queue_id"`
	TicketNumber   *int                  `json:"ticket_number,omitempty"`
	Status         models.Status         `json:"status"`
	NotifiedAt     *time.Time            `json:"notified_at,omitempty"`
	CancelledAt    *time.Time            `json:"cancelled_at,omitempty"`
	Channel        string                `json:"channel,omitempty"`
	DeliveryStatus models.DeliveryStatus `json:"delivery_status,omitempty"`
}

func EntryEventPayload(entry models.QueueEntry) ([]byte, error) {
	return json.Marshal(eventPayload{
		EntryID:      entry.EntryID,
		QueueID:      entry.QueueID,
		TicketNumber: entry.TicketNumber,
		Status:       entry.Status,
		NotifiedAt:   entry.NotifiedAt,
		CancelledAt:  entry.CancelledAt,
	})
}

func DeliveryEventPayload(entry models.QueueEntry, channel string, status models.DeliveryStatus) ([]byte, error) {
	return json.Marshal(eventPayload{
		EntryID:        entry.EntryID,
		QueueID:        entry.QueueID,
		TicketNumber:   entry.TicketNumber,
		Status:         entry.Status,
		Channel:        channel,
		DeliveryStatus: status,
	})
}

func ComputeEntryEventHash(prevHash, entryID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, entryID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyEntryEvents walks the chain in seq order and reports the first event
// whose hash or back-link does not match.
func VerifyEntryEvents(events []EntryEvent) error {
	prev := ""
	for i, event := range events {
		if event.Seq != i+1 {
			return fmt.Errorf("%w: seq %d at position %d", ErrBrokenChain, event.Seq, i)
		}
		if event.PrevHash != prev {
			return fmt.Errorf("%w: prev hash mismatch at seq %d", ErrBrokenChain, event.Seq)
		}
		want := ComputeEntryEventHash(event.PrevHash, event.EntryID, event.Type, event.Payload, event.CreatedAt, event.Seq)
		if want != event.Hash {
			return fmt.Errorf("%w: hash mismatch at seq %d", ErrBrokenChain, event.Seq)
		}
		prev = event.Hash
	}
	return nil
}
