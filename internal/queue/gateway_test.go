package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"waitlist/queue-service/internal/models"
	"waitlist/queue-service/internal/notify"
	"waitlist/queue-service/internal/quota"
	"waitlist/queue-service/internal/ratelimit"
	"waitlist/queue-service/internal/realtime"
	"waitlist/queue-service/internal/store"
	"waitlist/queue-service/internal/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	business     = "biz-1"
	queueID      = "queue-1"
	displayToken = "display-1"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	return nil
}

func (p *recordingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.channels...)
}

type recordingProvider struct {
	mu       sync.Mutex
	messages []string
	next     int
}

func (p *recordingProvider) Send(_ context.Context, _ string, message string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.messages = append(p.messages, message)
	return fmt.Sprintf("msg-%d", p.next), nil
}

type fixture struct {
	store     *sqlite.Store
	gateway   *Gateway
	clock     *clock
	publisher *recordingPublisher
	sms       *recordingProvider
}

type fixtureOptions struct {
	freeLimit int
	limiter   *ratelimit.Limiter
	queue     func(*models.Queue)
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "gateway_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.InitSchema(ctx))

	queue := models.Queue{
		QueueID:        queueID,
		BusinessID:     business,
		Name:           "Patio",
		RequiredFields: []string{models.FieldName},
		SelfCheckIn:    true,
		DisplayToken:   displayToken,
		RedactNames:    true,
	}
	if opts.queue != nil {
		opts.queue(&queue)
	}
	if queue.LocationID != "" {
		require.NoError(t, st.PutLocation(ctx, queue.LocationID, business, "Main", []byte(`{"timezone":"UTC","weekly":{"mon":[{"open":"09:00","close":"17:00"}]}}`)))
	}
	require.NoError(t, st.PutQueue(ctx, queue))

	f := &fixture{
		store:     st,
		clock:     &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
		publisher: &recordingPublisher{},
		sms:       &recordingProvider{},
	}
	f.gateway = f.build(opts.freeLimit, opts.limiter)
	return f
}

func (f *fixture) build(freeLimit int, limiter *ratelimit.Limiter) *Gateway {
	var guard *quota.Guard
	if freeLimit > 0 {
		guard = quota.NewGuard(f.store, f.store, freeLimit)
	}
	notifier := notify.New(f.store, f.sms, nil)
	return New(f.store, guard, limiter, notifier, realtime.NewBroadcaster(f.publisher, time.Second), Options{
		PublicBaseURL: "https://wait.example/",
		Now:           f.clock.Now,
	})
}

func (f *fixture) join(t *testing.T, name, phone string) JoinResult {
	t.Helper()
	result, err := f.gateway.Join(context.Background(), JoinInput{QueueID: queueID, BusinessID: business, Name: name, Phone: phone})
	require.NoError(t, err)
	return result
}

func TestConcurrentJoinsProduceContiguousTickets(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	const joins = 50
	tickets := make([]int, joins)
	var g errgroup.Group
	for i := 0; i < joins; i++ {
		g.Go(func() error {
			result, err := f.gateway.Join(context.Background(), JoinInput{
				DisplayToken: displayToken,
				Name:         fmt.Sprintf("guest %d", i),
			})
			if err != nil {
				return err
			}
			tickets[i] = result.TicketNumber
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Ints(tickets)
	for i, ticket := range tickets {
		require.Equal(t, i+1, ticket)
	}
}

func TestQuotaBoundaryDoesNotConsumeTicket(t *testing.T) {
	const limit = 3
	f := newFixture(t, fixtureOptions{freeLimit: limit})

	for i := 1; i <= limit; i++ {
		result := f.join(t, fmt.Sprintf("guest %d", i), "")
		assert.Equal(t, i, result.TicketNumber)
	}
	_, err := f.gateway.Join(context.Background(), JoinInput{QueueID: queueID, BusinessID: business, Name: "one too many"})
	require.ErrorIs(t, err, store.ErrQuotaExceeded)

	f.gateway = f.build(limit+10, nil)
	result := f.join(t, "after upgrade", "")
	assert.Equal(t, limit+1, result.TicketNumber)
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t, fixtureOptions{queue: func(q *models.Queue) {
		q.RequiredFields = []string{models.FieldName, models.FieldPhone}
	}})
	ctx := context.Background()

	cases := []struct {
		name  string
		input JoinInput
		field string
	}{
		{"missing name", JoinInput{Phone: "+15550001111"}, models.FieldName},
		{"missing phone", JoinInput{Name: "Ann"}, models.FieldPhone},
		{"short phone", JoinInput{Name: "Ann", Phone: "123"}, models.FieldPhone},
		{"bad email", JoinInput{Name: "Ann", Phone: "+15550001111", Email: "ann@"}, models.FieldEmail},
		{"party too big", JoinInput{Name: "Ann", Phone: "+15550001111", PartySize: 99}, models.FieldPartySize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.input.QueueID = queueID
			tc.input.BusinessID = business
			_, err := f.gateway.Join(ctx, tc.input)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	snapshot, err := f.store.LoadSnapshot(ctx, queueID)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Entries)
}

func TestJoinGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("self check-in disabled", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{queue: func(q *models.Queue) { q.SelfCheckIn = false }})
		_, err := f.gateway.Join(ctx, JoinInput{DisplayToken: displayToken, Name: "Ann"})
		assert.ErrorIs(t, err, store.ErrSelfCheckInDisabled)
	})

	t.Run("other business", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		_, err := f.gateway.Join(ctx, JoinInput{QueueID: queueID, BusinessID: "biz-2", Name: "Ann"})
		assert.ErrorIs(t, err, store.ErrAccessDenied)
	})

	t.Run("duplicate phone", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.join(t, "Ann", "+15550001111")
		_, err := f.gateway.Join(ctx, JoinInput{QueueID: queueID, BusinessID: business, Name: "Ann again", Phone: "+15550001111"})
		assert.ErrorIs(t, err, store.ErrDuplicateEntry)
	})

	t.Run("location closed", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{queue: func(q *models.Queue) { q.LocationID = "loc-1" }})
		f.join(t, "inside hours", "")

		f.clock.Advance(8 * time.Hour)
		_, err := f.gateway.Join(ctx, JoinInput{QueueID: queueID, BusinessID: business, Name: "too late"})
		assert.ErrorIs(t, err, store.ErrLocationClosed)
	})
}

func TestJoinSideEffects(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	result := f.join(t, "Ann", "+15550001111")
	assert.Equal(t, "https://wait.example/api/public/entries/"+result.EntryToken, result.StatusURL)

	assert.ElementsMatch(t, []string{
		realtime.QueueChannel(queueID),
		realtime.DisplayChannel(displayToken),
		realtime.EntryChannel(result.EntryToken),
	}, f.publisher.seen())

	require.Len(t, f.sms.messages, 1)
	assert.Contains(t, f.sms.messages[0], "#1")

	entry, err := f.store.GetEntry(context.Background(), result.EntryID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySent, entry.SMS.Status)
	assert.Equal(t, "msg-1", entry.SMS.MessageID)
	require.NotNil(t, entry.QueuePosition)
	assert.Equal(t, 1, *entry.QueuePosition)
}

func TestStatusAndCustomerCancel(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	first := f.join(t, "Ann", "")
	second := f.join(t, "Bob", "")

	view, err := f.gateway.Status(ctx, second.EntryToken, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, view.Status)
	require.NotNil(t, view.QueuePosition)
	assert.Equal(t, 2, *view.QueuePosition)
	require.NotNil(t, view.ETAMinutes)
	assert.Equal(t, 15, *view.ETAMinutes)
	assert.Equal(t, 0, view.NowServingTicket)

	cancelled, err := f.gateway.Cancel(ctx, first.EntryToken, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = f.gateway.Cancel(ctx, first.EntryToken, "10.0.0.1")
	assert.ErrorIs(t, err, store.ErrInvalidState)

	view, err = f.gateway.Status(ctx, second.EntryToken, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 1, *view.QueuePosition)

	_, err = f.gateway.Status(ctx, "no-such-token", "10.0.0.1")
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestStaffTransitions(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	first := f.join(t, "Ann", "+15550001111")
	second := f.join(t, "Bob", "")

	called, err := f.gateway.Transition(ctx, business, first.EntryID, store.ActionCall)
	require.NoError(t, err)
	require.NotNil(t, called.NotifiedAt)
	firstNotified := *called.NotifiedAt

	f.clock.Advance(2 * time.Minute)
	again, err := f.gateway.Transition(ctx, business, first.EntryID, store.ActionCall)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotified, again.Status)
	assert.Equal(t, 1, again.Ticket())
	assert.True(t, again.NotifiedAt.After(firstNotified))
	assert.Len(t, f.sms.messages, 3, "joined plus two pages")

	view, err := f.gateway.Status(ctx, first.EntryToken, "")
	require.NoError(t, err)
	assert.True(t, view.YourTurn)
	assert.Nil(t, view.QueuePosition)
	require.NotNil(t, view.ETAMinutes)
	assert.Equal(t, 0, *view.ETAMinutes)

	view, err = f.gateway.Status(ctx, second.EntryToken, "")
	require.NoError(t, err)
	assert.Equal(t, 1, view.NowServingTicket)
	assert.Equal(t, 0, *view.ETAMinutes)

	_, err = f.gateway.Transition(ctx, "biz-2", second.EntryID, store.ActionCall)
	assert.ErrorIs(t, err, store.ErrAccessDenied)

	_, err = f.gateway.Transition(ctx, business, second.EntryID, "teleport")
	assert.ErrorIs(t, err, store.ErrUnknownAction)

	_, err = f.gateway.Transition(ctx, business, second.EntryID, store.ActionSeat)
	assert.ErrorIs(t, err, store.ErrInvalidState)

	seated, err := f.gateway.Transition(ctx, business, first.EntryID, store.ActionSeat)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSeated, seated.Status)

	_, err = f.gateway.Transition(ctx, business, first.EntryID, store.ActionCancel)
	assert.ErrorIs(t, err, store.ErrInvalidState)

	entries, err := f.gateway.ListEntries(ctx, business, queueID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, second.EntryID, entries[0].EntryID)

	eventLog, err := f.gateway.EntryEvents(ctx, business, first.EntryID)
	require.NoError(t, err)
	assert.True(t, eventLog.Verified)
	assert.NotEmpty(t, eventLog.Events)

	_, err = f.gateway.EntryEvents(ctx, "biz-2", first.EntryID)
	assert.ErrorIs(t, err, store.ErrAccessDenied)
}

func TestDisplayFeed(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue uses floor", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		view, err := f.gateway.Display(ctx, displayToken, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, 5, view.ETAMinutes)
		assert.Empty(t, view.Entries)
	})

	t.Run("blended estimate and redaction", func(t *testing.T) {
		manual := 10
		f := newFixture(t, fixtureOptions{queue: func(q *models.Queue) { q.ManualAvgMinutes = &manual }})

		served := f.join(t, "Ann", "")
		f.clock.Advance(20 * time.Minute)
		_, err := f.gateway.Transition(ctx, business, served.EntryID, store.ActionCall)
		require.NoError(t, err)
		_, err = f.gateway.Transition(ctx, business, served.EntryID, store.ActionSeat)
		require.NoError(t, err)
		f.join(t, "Bob", "")

		view, err := f.gateway.Display(ctx, displayToken, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, 13, view.ETAMinutes)
		assert.Equal(t, 1, view.WaitingCount)
		assert.Equal(t, 1, view.NowServingTicket)
		require.Len(t, view.Entries, 1)
		assert.Equal(t, "B.", view.Entries[0].Name)
		assert.Equal(t, 2, view.Entries[0].TicketNumber)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		_, err := f.gateway.Display(ctx, "nope", "10.0.0.1")
		assert.ErrorIs(t, err, store.ErrQueueNotFound)
	})
}

func TestPublicEndpointsAreRateLimited(t *testing.T) {
	limiter := ratelimit.New(time.Minute, map[string]int{ratelimit.ClassIP: 100, ratelimit.ClassDisplay: 1})
	f := newFixture(t, fixtureOptions{limiter: limiter})
	ctx := context.Background()

	_, err := f.gateway.Display(ctx, displayToken, "10.0.0.1")
	require.NoError(t, err)

	_, err = f.gateway.Display(ctx, displayToken, "10.0.0.2")
	var rerr *RateLimitError
	require.True(t, errors.As(err, &rerr), "expected rate limit error, got %v", err)
	assert.Equal(t, ratelimit.ClassDisplay, rerr.Class)
	assert.GreaterOrEqual(t, rerr.RetryAfter, time.Second)
}

func TestReconcileDelivery(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	result := f.join(t, "Ann", "+15550001111")

	entry, err := f.gateway.ReconcileDelivery(ctx, "msg-1", models.DeliveryDelivered)
	require.NoError(t, err)
	assert.Equal(t, result.EntryID, entry.EntryID)
	assert.Equal(t, models.DeliveryDelivered, entry.SMS.Status)

	_, err = f.gateway.ReconcileDelivery(ctx, "msg-404", models.DeliveryFailed)
	assert.ErrorIs(t, err, store.ErrMessageNotFound)

	_, err = f.gateway.ReconcileDelivery(ctx, "msg-1", models.DeliveryStatus("bounced"))
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestArchiveStaleNotified(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	stale := f.join(t, "Ann", "")
	fresh := f.join(t, "Bob", "")
	_, err := f.gateway.Transition(ctx, business, stale.EntryID, store.ActionCall)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.gateway.Transition(ctx, business, fresh.EntryID, store.ActionCall)
	require.NoError(t, err)

	count, err := f.gateway.ArchiveStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	view, err := f.gateway.Status(ctx, stale.EntryToken, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, view.Status)

	view, err = f.gateway.Status(ctx, fresh.EntryToken, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotified, view.Status)
}

func TestArchiveStaleRefreshesEveryArchivedEntry(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	ann := f.join(t, "Ann", "")
	bob := f.join(t, "Bob", "")
	for _, id := range []string{ann.EntryID, bob.EntryID} {
		_, err := f.gateway.Transition(ctx, business, id, store.ActionCall)
		require.NoError(t, err)
	}
	f.clock.Advance(2 * time.Hour)

	before := len(f.publisher.seen())
	count, err := f.gateway.ArchiveStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	published := f.publisher.seen()[before:]
	assert.Contains(t, published, realtime.QueueChannel(queueID))
	assert.Contains(t, published, realtime.DisplayChannel(displayToken))
	assert.Contains(t, published, realtime.EntryChannel(ann.EntryToken), "Ann's status page")
	assert.Contains(t, published, realtime.EntryChannel(bob.EntryToken), "Bob's status page")
}

func TestResetCycle(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	result := f.join(t, "Ann", "")
	_, err := f.gateway.ResetCycle(ctx, business, queueID)
	require.ErrorIs(t, err, store.ErrActiveEntries)

	_, err = f.gateway.Transition(ctx, business, result.EntryID, store.ActionArchive)
	require.NoError(t, err)

	_, err = f.gateway.ResetCycle(ctx, "biz-2", queueID)
	require.ErrorIs(t, err, store.ErrAccessDenied)

	queue, err := f.gateway.ResetCycle(ctx, business, queueID)
	require.NoError(t, err)
	assert.Equal(t, 2, queue.TicketCycle)

	next := f.join(t, "Bob", "")
	assert.Equal(t, 1, next.TicketNumber)
}
