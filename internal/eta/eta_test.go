package eta

import (
	"testing"
	"time"

	"waitlist/queue-service/internal/models"
)

func intPtr(v int) *int { return &v }

func entry(id string, ticket int, status models.Status) models.QueueEntry {
	return models.QueueEntry{EntryID: id, TicketNumber: intPtr(ticket), Status: status}
}

func TestPerEntry(t *testing.T) {
	entries := []models.QueueEntry{
		entry("a", 3, models.StatusNotified),
		entry("b", 4, models.StatusWaiting),
		entry("c", 6, models.StatusWaiting),
	}
	got := PerEntry(entries, 3)
	want := []Estimate{
		{EntryID: "a"},
		{EntryID: "b", QueuePosition: 1, ETAMinutes: 0},
		{EntryID: "c", QueuePosition: 2, ETAMinutes: 30},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d estimates, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("estimate %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestEntryMinutesNeverNegative(t *testing.T) {
	for ticket := 1; ticket <= 20; ticket++ {
		for serving := 0; serving <= 30; serving++ {
			if m := EntryMinutes(ticket, serving); m < 0 {
				t.Fatalf("ticket %d serving %d: negative eta %d", ticket, serving, m)
			}
		}
	}
	if m := EntryMinutes(5, 0); m != 60 {
		t.Fatalf("expected 60 minutes with nobody served, got %d", m)
	}
}

func TestAggregateEmptyQueueFloor(t *testing.T) {
	history := []time.Duration{40 * time.Minute}
	if got := Aggregate(nil, history, 0); got != EmptyQueueFloorMinutes {
		t.Fatalf("expected floor, got %d", got)
	}
	if got := Aggregate(intPtr(12), history, 0); got != 12 {
		t.Fatalf("expected manual override on empty queue, got %d", got)
	}
}

func TestAggregateBlend(t *testing.T) {
	history := []time.Duration{10 * time.Minute, 30 * time.Minute}
	if got := Aggregate(intPtr(10), history, 3); got != 13 {
		t.Fatalf("expected 13, got %d", got)
	}
}

func TestAggregateSingleSource(t *testing.T) {
	if got := Aggregate(intPtr(8), nil, 2); got != 8 {
		t.Fatalf("expected manual only, got %d", got)
	}
	history := []time.Duration{20 * time.Minute, 25 * time.Minute}
	if got := Aggregate(nil, history, 2); got != 23 {
		t.Fatalf("expected rounded history 22.5 -> 23, got %d", got)
	}
	if got := Aggregate(nil, nil, 2); got != EmptyQueueFloorMinutes {
		t.Fatalf("expected floor without any source, got %d", got)
	}
}

func TestHistoricalMinutesIgnoresNonPositiveSamples(t *testing.T) {
	minutes, ok := HistoricalMinutes([]time.Duration{0, -5 * time.Minute, 10 * time.Minute, 20 * time.Minute})
	if !ok || minutes != 15 {
		t.Fatalf("expected 15 from positive samples, got %v ok=%v", minutes, ok)
	}
	if _, ok := HistoricalMinutes([]time.Duration{0, -time.Minute}); ok {
		t.Fatalf("expected no history when every sample is skewed")
	}
	if got := Aggregate(nil, []time.Duration{-time.Minute}, 2); got != EmptyQueueFloorMinutes {
		t.Fatalf("expected floor when history is all skewed, got %d", got)
	}
}
