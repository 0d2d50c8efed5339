package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"waitlist/queue-service/internal/config"
	"waitlist/queue-service/internal/models"
)

const defaultSessionTTL = 24 * time.Hour

// seeder is the subset of the sqlite store used to apply the bootstrap section.
type seeder interface {
	PutLocation(ctx context.Context, locationID, businessID, name string, openHours []byte) error
	PutQueue(ctx context.Context, queue models.Queue) error
	PutPlan(ctx context.Context, planID, name string, paid bool, monthlyEntryLimit int) error
	AddSubscription(ctx context.Context, businessID, planID, status string, start, end time.Time) error
	PutSession(ctx context.Context, sessionID, userID, businessID, role string, expiresAt time.Time) error
}

func applyBootstrap(ctx context.Context, st seeder, b config.Bootstrap) error {
	for _, loc := range b.Locations {
		var raw []byte
		if !loc.Hours.Empty() {
			encoded, err := json.Marshal(loc.Hours)
			if err != nil {
				return fmt.Errorf("bootstrap location %s: %w", loc.ID, err)
			}
			raw = encoded
		}
		if err := st.PutLocation(ctx, loc.ID, loc.BusinessID, loc.Name, raw); err != nil {
			return fmt.Errorf("bootstrap location %s: %w", loc.ID, err)
		}
	}
	for _, q := range b.Queues {
		redact := true
		if q.RedactNames != nil {
			redact = *q.RedactNames
		}
		queue := models.Queue{
			QueueID:          q.ID,
			BusinessID:       q.BusinessID,
			LocationID:       q.LocationID,
			Name:             q.Name,
			RequiredFields:   q.RequiredFields,
			SelfCheckIn:      q.SelfCheckIn,
			ManualAvgMinutes: q.ManualAvgMinutes,
			DisplayToken:     q.DisplayToken,
			RedactNames:      redact,
		}
		if err := st.PutQueue(ctx, queue); err != nil {
			return fmt.Errorf("bootstrap queue %s: %w", q.ID, err)
		}
	}
	for _, p := range b.Plans {
		if err := st.PutPlan(ctx, p.ID, p.Name, p.Paid, p.MonthlyEntryLimit); err != nil {
			return fmt.Errorf("bootstrap plan %s: %w", p.ID, err)
		}
	}
	for _, sub := range b.Subscriptions {
		status := sub.Status
		if status == "" {
			status = "active"
		}
		if err := st.AddSubscription(ctx, sub.BusinessID, sub.PlanID, status, sub.PeriodStart, sub.PeriodEnd); err != nil {
			return fmt.Errorf("bootstrap subscription %s: %w", sub.BusinessID, err)
		}
	}
	now := time.Now().UTC()
	for _, sess := range b.Sessions {
		ttl := sess.TTL
		if ttl <= 0 {
			ttl = defaultSessionTTL
		}
		if err := st.PutSession(ctx, sess.ID, sess.UserID, sess.BusinessID, sess.Role, now.Add(ttl)); err != nil {
			return fmt.Errorf("bootstrap session %s: %w", sess.ID, err)
		}
	}
	log.Printf("bootstrap applied locations=%d queues=%d plans=%d subscriptions=%d sessions=%d",
		len(b.Locations), len(b.Queues), len(b.Plans), len(b.Subscriptions), len(b.Sessions))
	return nil
}
