package queue

import (
	"net/mail"
	"strings"

	"waitlist/queue-service/internal/models"
)

const (
	maxNameLength       = 100
	maxPreferenceLength = 64
	maxPartySize        = 50
)

type JoinInput struct {
	// Exactly one of QueueID (staff) or DisplayToken (self check-in) is set.
	QueueID      string
	DisplayToken string
	// BusinessID is the staff caller's business; ignored for self check-in.
	BusinessID string
	ClientIP   string

	Name              string
	Phone             string
	Email             string
	PartySize         int
	SeatingPreference string
}

func (in *JoinInput) normalize() {
	in.QueueID = strings.TrimSpace(in.QueueID)
	in.DisplayToken = strings.TrimSpace(in.DisplayToken)
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
	in.SeatingPreference = strings.TrimSpace(in.SeatingPreference)
}

// validateJoin checks the contact fields against the queue's required set.
func validateJoin(queue models.Queue, in JoinInput) error {
	if queue.Requires(models.FieldName) && in.Name == "" {
		return invalid(models.FieldName, "is required")
	}
	if len(in.Name) > maxNameLength {
		return invalid(models.FieldName, "is too long")
	}

	if in.Phone == "" {
		if queue.Requires(models.FieldPhone) {
			return invalid(models.FieldPhone, "is required")
		}
	} else if !isValidPhone(in.Phone) {
		return invalid(models.FieldPhone, "must be 8-16 digits")
	}

	if in.Email == "" {
		if queue.Requires(models.FieldEmail) {
			return invalid(models.FieldEmail, "is required")
		}
	} else if !isValidEmail(in.Email) {
		return invalid(models.FieldEmail, "is not a valid address")
	}

	switch {
	case in.PartySize == 0 && queue.Requires(models.FieldPartySize):
		return invalid(models.FieldPartySize, "is required")
	case in.PartySize < 0 || in.PartySize > maxPartySize:
		return invalid(models.FieldPartySize, "must be between 1 and 50")
	}

	if in.SeatingPreference == "" && queue.Requires(models.FieldSeatingPreference) {
		return invalid(models.FieldSeatingPreference, "is required")
	}
	if len(in.SeatingPreference) > maxPreferenceLength {
		return invalid(models.FieldSeatingPreference, "is too long")
	}
	return nil
}

func isValidPhone(value string) bool {
	value = strings.TrimPrefix(value, "+")
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isValidEmail(value string) bool {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return false
	}
	at := strings.LastIndex(value, "@")
	return at > 0 && strings.Contains(value[at+1:], ".")
}

// redactName keeps only the first letter so a board can still tell parties apart.
func redactName(name string) string {
	for _, r := range name {
		return string(r) + "."
	}
	return ""
}
