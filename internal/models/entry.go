package models

import "time"

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusNotified  Status = "notified"
	StatusSeated    Status = "seated"
	StatusCancelled Status = "cancelled"
	StatusArchived  Status = "archived"
)

// Active reports whether the entry still holds a place in the line.
func (s Status) Active() bool {
	return s == StatusWaiting || s == StatusNotified
}

func (s Status) Terminal() bool {
	return s == StatusSeated || s == StatusCancelled || s == StatusArchived
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

func (d DeliveryStatus) Valid() bool {
	switch d {
	case DeliveryPending, DeliverySent, DeliveryDelivered, DeliveryFailed:
		return true
	default:
		return false
	}
}

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// Delivery is the per-channel bookkeeping used to reconcile provider webhooks.
type Delivery struct {
	Status    DeliveryStatus `json:"status,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
}

type QueueEntry struct {
	EntryID           string     `json:"entry_id"`
	QueueID           string     `json:"queue_id"`
	BusinessID        string     `json:"business_id"`
	PublicToken       string     `json:"-"`
	TicketNumber      *int       `json:"ticket_number"`
	Status            Status     `json:"status"`
	QueuePosition     *int       `json:"queue_position,omitempty"`
	ETAMinutes        *int       `json:"eta_minutes,omitempty"`
	Name              string     `json:"name,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	Email             string     `json:"email,omitempty"`
	PartySize         int        `json:"party_size,omitempty"`
	SeatingPreference string     `json:"seating_preference,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	NotifiedAt        *time.Time `json:"notified_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	SMS               Delivery   `json:"sms"`
	EmailDelivery     Delivery   `json:"email_delivery"`
}

// Ticket returns the ticket number, or 0 when the entry is outside the active cycle.
func (e QueueEntry) Ticket() int {
	if e.TicketNumber == nil {
		return 0
	}
	return *e.TicketNumber
}
