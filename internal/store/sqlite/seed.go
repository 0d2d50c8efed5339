package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"waitlist/queue-service/internal/models"

	"github.com/google/uuid"
)

// PutLocation inserts or replaces a location and its raw opening hours JSON.
func (s *Store) PutLocation(ctx context.Context, locationID, businessID, name string, openHours []byte) error {
	var raw any
	if len(openHours) > 0 {
		raw = string(openHours)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (location_id, business_id, name, open_hours)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(location_id) DO UPDATE SET name = excluded.name, open_hours = excluded.open_hours
	`, locationID, businessID, name, raw)
	if err != nil {
		return fmt.Errorf("put location: %w", err)
	}
	return nil
}

// PutQueue inserts or updates a queue definition. Ticket counters survive updates.
func (s *Store) PutQueue(ctx context.Context, queue models.Queue) error {
	fields, err := json.Marshal(queue.RequiredFields)
	if err != nil {
		return fmt.Errorf("encode required fields: %w", err)
	}
	if queue.RequiredFields == nil {
		fields = []byte("[]")
	}
	var location any
	if queue.LocationID != "" {
		location = queue.LocationID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queues (queue_id, business_id, location_id, name, required_fields, self_check_in,
			manual_avg_minutes, display_token, redact_names)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(queue_id) DO UPDATE SET
			location_id = excluded.location_id,
			name = excluded.name,
			required_fields = excluded.required_fields,
			self_check_in = excluded.self_check_in,
			manual_avg_minutes = excluded.manual_avg_minutes,
			display_token = excluded.display_token,
			redact_names = excluded.redact_names
	`, queue.QueueID, queue.BusinessID, location, queue.Name, string(fields), queue.SelfCheckIn,
		nullInt(queue.ManualAvgMinutes), queue.DisplayToken, queue.RedactNames)
	if err != nil {
		return fmt.Errorf("put queue: %w", err)
	}
	return nil
}

// PutSession registers a staff session valid until expiresAt.
func (s *Store) PutSession(ctx context.Context, sessionID, userID, businessID, role string, expiresAt time.Time) error {
	if role == "" {
		role = "staff"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff_sessions (session_id, user_id, business_id, role, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET expires_at = excluded.expires_at, role = excluded.role
	`, sessionID, userID, businessID, role, toMillis(expiresAt))
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// PutPlan inserts or updates a billing plan.
func (s *Store) PutPlan(ctx context.Context, planID, name string, paid bool, monthlyEntryLimit int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (plan_id, name, paid, monthly_entry_limit)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plan_id) DO UPDATE SET name = excluded.name, paid = excluded.paid,
			monthly_entry_limit = excluded.monthly_entry_limit
	`, planID, name, paid, monthlyEntryLimit)
	if err != nil {
		return fmt.Errorf("put plan: %w", err)
	}
	return nil
}

// AddSubscription attaches a plan to a business for one billing period.
// Repeating the call for the same business, plan and period start updates
// the existing row.
func (s *Store) AddSubscription(ctx context.Context, businessID, planID, status string, start, end time.Time) error {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%s/%d", businessID, planID, toMillis(start)))).String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (subscription_id, business_id, plan_id, status, current_period_start, current_period_end)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(subscription_id) DO UPDATE SET status = excluded.status, current_period_end = excluded.current_period_end
	`, id, businessID, planID, status, toMillis(start), toMillis(end))
	if err != nil {
		return fmt.Errorf("add subscription: %w", err)
	}
	return nil
}
