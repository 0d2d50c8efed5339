// Package eta derives wait estimates from a queue snapshot. Nothing here
// touches storage; callers persist the results.
package eta

import (
	"math"
	"time"

	"waitlist/queue-service/internal/models"
)

const (
	AverageServiceMinutes  = 15
	EmptyQueueFloorMinutes = 5
	ManualWeight           = 0.7
	HistoricalWeight       = 0.3
)

// Estimate is the derived state of one active entry. QueuePosition is the
// 1-based rank among waiting entries and is zero for notified entries.
type Estimate struct {
	EntryID       string
	QueuePosition int
	ETAMinutes    int
}

// PerEntry assumes entries are ordered by ticket number.
func PerEntry(entries []models.QueueEntry, servingTicket int) []Estimate {
	estimates := make([]Estimate, 0, len(entries))
	rank := 0
	for _, entry := range entries {
		switch entry.Status {
		case models.StatusWaiting:
			rank++
			estimates = append(estimates, Estimate{
				EntryID:       entry.EntryID,
				QueuePosition: rank,
				ETAMinutes:    EntryMinutes(entry.Ticket(), servingTicket),
			})
		case models.StatusNotified:
			estimates = append(estimates, Estimate{EntryID: entry.EntryID})
		}
	}
	return estimates
}

func EntryMinutes(ticket, servingTicket int) int {
	position := ticket - servingTicket - 1
	if position <= 0 {
		return 0
	}
	return position * AverageServiceMinutes
}

// HistoricalMinutes averages positive service durations in minutes. Zero or
// negative samples (clock skew) are ignored. ok is false when no sample is left.
func HistoricalMinutes(durations []time.Duration) (minutes float64, ok bool) {
	var total time.Duration
	samples := 0
	for _, d := range durations {
		if d > 0 {
			total += d
			samples++
		}
	}
	if samples == 0 {
		return 0, false
	}
	return total.Minutes() / float64(samples), true
}

// Aggregate is the board-level estimate.
func Aggregate(manual *int, durations []time.Duration, waiting int) int {
	if waiting == 0 {
		if manual != nil {
			return *manual
		}
		return EmptyQueueFloorMinutes
	}
	historical, hasHistory := HistoricalMinutes(durations)
	switch {
	case manual != nil && hasHistory:
		return round(float64(*manual)*ManualWeight + historical*HistoricalWeight)
	case manual != nil:
		return *manual
	case hasHistory:
		return round(historical)
	default:
		return EmptyQueueFloorMinutes
	}
}

func round(v float64) int {
	if v < 0 {
		return 0
	}
	return int(math.Round(v))
}
