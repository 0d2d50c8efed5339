package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"waitlist/queue-service/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   models.Status
		valid  bool
	}{
		{ActionCall, models.StatusWaiting, true},
		{ActionCall, models.StatusNotified, true},
		{ActionCall, models.StatusSeated, false},
		{ActionSeat, models.StatusNotified, true},
		{ActionSeat, models.StatusWaiting, false},
		{ActionCancel, models.StatusWaiting, true},
		{ActionCancel, models.StatusNotified, true},
		{ActionCancel, models.StatusSeated, false},
		{ActionCancel, models.StatusCancelled, false},
		{ActionArchive, models.StatusWaiting, true},
		{ActionArchive, models.StatusNotified, true},
		{ActionArchive, models.StatusSeated, true},
		{ActionArchive, models.StatusCancelled, false},
		{ActionArchive, models.StatusArchived, false},
		{"unknown", models.StatusWaiting, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestApplyTransitionSideEffects(t *testing.T) {
	ticket := 4
	entry := models.QueueEntry{Status: models.StatusWaiting, TicketNumber: &ticket}
	first := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := ApplyTransition(&entry, ActionCall, first); err != nil {
		t.Fatalf("call: %v", err)
	}
	if entry.Status != models.StatusNotified || entry.NotifiedAt == nil || !entry.NotifiedAt.Equal(first) {
		t.Fatalf("unexpected entry after call: %+v", entry)
	}

	second := first.Add(3 * time.Minute)
	if err := ApplyTransition(&entry, ActionCall, second); err != nil {
		t.Fatalf("re-notify: %v", err)
	}
	if entry.Status != models.StatusNotified || !entry.NotifiedAt.Equal(second) || entry.Ticket() != 4 {
		t.Fatalf("re-notify should refresh notifiedAt only: %+v", entry)
	}

	if err := ApplyTransition(&entry, ActionCancel, second); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if entry.CancelledAt == nil || entry.Status != models.StatusCancelled {
		t.Fatalf("cancel did not stamp cancelledAt: %+v", entry)
	}
}

func TestCancelOnTerminalIsConflict(t *testing.T) {
	for _, status := range []models.Status{models.StatusSeated, models.StatusCancelled, models.StatusArchived} {
		entry := models.QueueEntry{Status: status}
		err := ApplyTransition(&entry, ActionCancel, time.Now())
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("cancel from %s: expected ErrInvalidState, got %v", status, err)
		}
		if entry.Status != status || entry.CancelledAt != nil {
			t.Fatalf("failed cancel mutated entry: %+v", entry)
		}
	}
}

func TestApplyTransitionUnknownAction(t *testing.T) {
	entry := models.QueueEntry{Status: models.StatusWaiting}
	if err := ApplyTransition(&entry, "teleport", time.Now()); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestNextDeliveryStatus(t *testing.T) {
	cases := []struct {
		current, incoming, want models.DeliveryStatus
	}{
		{"", models.DeliverySent, models.DeliverySent},
		{models.DeliveryPending, models.DeliverySent, models.DeliverySent},
		{models.DeliverySent, models.DeliveryDelivered, models.DeliveryDelivered},
		{models.DeliveryDelivered, models.DeliverySent, models.DeliveryDelivered},
		{models.DeliverySent, models.DeliveryFailed, models.DeliveryFailed},
		{models.DeliveryFailed, models.DeliveryDelivered, models.DeliveryFailed},
	}
	for _, tc := range cases {
		if got := NextDeliveryStatus(tc.current, tc.incoming); got != tc.want {
			t.Fatalf("NextDeliveryStatus(%q, %q)=%q, want %q", tc.current, tc.incoming, got, tc.want)
		}
	}
}

func TestVerifyEntryEvents(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var events []EntryEvent
	prev := ""
	for i, eventType := range []string{EventEntryCreated, EventTypeFor(ActionCall), EventTypeFor(ActionSeat)} {
		payload := json.RawMessage(`{"entry_id":"e1"}`)
		createdAt := base.Add(time.Duration(i) * time.Minute)
		hash := ComputeEntryEventHash(prev, "e1", eventType, payload, createdAt, i+1)
		events = append(events, EntryEvent{EntryID: "e1", Seq: i + 1, Type: eventType, Payload: payload, CreatedAt: createdAt, PrevHash: prev, Hash: hash})
		prev = hash
	}
	if err := VerifyEntryEvents(events); err != nil {
		t.Fatalf("verify: %v", err)
	}

	events[1].Payload = json.RawMessage(`{"entry_id":"e2"}`)
	if err := VerifyEntryEvents(events); !errors.Is(err, ErrBrokenChain) {
		t.Fatalf("expected broken chain, got %v", err)
	}
}

func TestEntryEventPayloadOmitsContact(t *testing.T) {
	payload, err := EntryEventPayload(models.QueueEntry{EntryID: "e1", Phone: "+6281234567", Email: "a@b.co", Name: "Ana"})
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"phone", "email", "name"} {
		if _, ok := decoded[key]; ok {
			t.Fatalf("payload leaked %s", key)
		}
	}
}
