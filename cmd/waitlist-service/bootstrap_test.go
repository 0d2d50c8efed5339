package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"waitlist/queue-service/internal/config"
	"waitlist/queue-service/internal/hours"
	"waitlist/queue-service/internal/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBootstrapSeedsSQLite(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "bootstrap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.InitSchema(ctx))

	avg := 7
	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	b := config.Bootstrap{
		Locations: []config.LocationSeed{{
			ID:         "loc-1",
			BusinessID: "biz-1",
			Name:       "Main",
			Hours: hours.Schedule{
				Timezone: "UTC",
				Weekly:   map[string][]hours.Slot{"mon": {{Open: "09:00", Close: "17:00"}}},
			},
		}},
		Queues: []config.QueueSeed{{
			ID:               "queue-1",
			BusinessID:       "biz-1",
			LocationID:       "loc-1",
			Name:             "Patio",
			RequiredFields:   []string{"name"},
			SelfCheckIn:      true,
			ManualAvgMinutes: &avg,
			DisplayToken:     "patio-board",
		}},
		Plans: []config.PlanSeed{{ID: "pro", Name: "Pro", Paid: true, MonthlyEntryLimit: 5000}},
		Subscriptions: []config.SubscriptionSeed{{
			BusinessID:  "biz-1",
			PlanID:      "pro",
			PeriodStart: periodStart,
			PeriodEnd:   periodStart.AddDate(0, 1, 0),
		}},
		Sessions: []config.SessionSeed{{ID: "front-desk", UserID: "u-1", BusinessID: "biz-1"}},
	}

	require.NoError(t, applyBootstrap(ctx, st, b))
	require.NoError(t, applyBootstrap(ctx, st, b), "bootstrap must be repeatable")

	queue, err := st.GetQueueByDisplayToken(ctx, "patio-board")
	require.NoError(t, err)
	assert.Equal(t, "queue-1", queue.QueueID)
	assert.True(t, queue.RedactNames)
	require.NotNil(t, queue.ManualAvgMinutes)
	assert.Equal(t, 7, *queue.ManualAvgMinutes)

	schedule, err := st.LocationHours(ctx, "loc-1")
	require.NoError(t, err)
	assert.Len(t, schedule.Weekly["mon"], 1)

	session, err := st.GetSession(ctx, "front-desk")
	require.NoError(t, err)
	assert.Equal(t, "biz-1", session.BusinessID)
	assert.WithinDuration(t, time.Now().Add(defaultSessionTTL), session.ExpiresAt, time.Minute)

	sub, err := st.ActiveSubscription(ctx, "biz-1", periodStart.Add(48*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, 5000, sub.EntryLimit)
}
