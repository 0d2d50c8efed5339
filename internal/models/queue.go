package models

const (
	FieldName              = "name"
	FieldPhone             = "phone"
	FieldEmail             = "email"
	FieldPartySize         = "party_size"
	FieldSeatingPreference = "seating_preference"
)

type Queue struct {
	QueueID          string   `json:"queue_id"`
	BusinessID       string   `json:"business_id"`
	LocationID       string   `json:"location_id"`
	Name             string   `json:"name"`
	RequiredFields   []string `json:"required_fields"`
	SelfCheckIn      bool     `json:"self_check_in"`
	ManualAvgMinutes *int     `json:"manual_avg_minutes,omitempty"`
	DisplayToken     string   `json:"-"`
	RedactNames      bool     `json:"redact_names"`
	TicketCycle      int      `json:"ticket_cycle"`
}

func (q Queue) Requires(field string) bool {
	for _, f := range q.RequiredFields {
		if f == field {
			return true
		}
	}
	return false
}
