// Package quota decides whether a business may admit another queue entry in
// its current billing window.
package quota

import (
	"context"
	"errors"
	"time"
)

var ErrExceeded = errors.New("plan entry limit reached")

const StatusActive = "active"

// Subscription is the billing record a business is currently on. A nil
// subscription, or one that is not an active paid plan, falls back to the
// calendar month with the free plan limit.
type Subscription struct {
	Plan        string
	Status      string
	Paid        bool
	PeriodStart time.Time
	PeriodEnd   time.Time
	EntryLimit  int
}

// Window is a half-open [Start, End) range with the entry limit that applies to it.
// A Limit of zero or less means unlimited.
type Window struct {
	Start time.Time
	End   time.Time
	Limit int
}

func (w Window) Unlimited() bool {
	return w.Limit <= 0
}

type PlanSource interface {
	ActiveSubscription(ctx context.Context, businessID string, now time.Time) (*Subscription, error)
}

type EntryCounter interface {
	CountEntries(ctx context.Context, businessID string, from, to time.Time) (int, error)
}

func BillingWindow(sub *Subscription, now time.Time, freeLimit int) Window {
	now = now.UTC()
	if sub != nil && sub.Paid && sub.Status == StatusActive &&
		!now.Before(sub.PeriodStart) && now.Before(sub.PeriodEnd) {
		return Window{Start: sub.PeriodStart.UTC(), End: sub.PeriodEnd.UTC(), Limit: sub.EntryLimit}
	}
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	limit := freeLimit
	if sub != nil && sub.Status == StatusActive && !sub.Paid {
		limit = sub.EntryLimit
	}
	return Window{Start: start, End: start.AddDate(0, 1, 0), Limit: limit}
}

type Guard struct {
	plans     PlanSource
	counter   EntryCounter
	freeLimit int
}

func NewGuard(plans PlanSource, counter EntryCounter, freeLimit int) *Guard {
	return &Guard{plans: plans, counter: counter, freeLimit: freeLimit}
}

// Check returns the window it evaluated so the caller can recheck the count
// under the same bounds inside its write transaction.
func (g *Guard) Check(ctx context.Context, businessID string, now time.Time) (Window, error) {
	sub, err := g.plans.ActiveSubscription(ctx, businessID, now)
	if err != nil {
		return Window{}, err
	}
	window := BillingWindow(sub, now, g.freeLimit)
	if window.Unlimited() {
		return window, nil
	}
	count, err := g.counter.CountEntries(ctx, businessID, window.Start, window.End)
	if err != nil {
		return Window{}, err
	}
	if count >= window.Limit {
		return window, ErrExceeded
	}
	return window, nil
}
