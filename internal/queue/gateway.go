// Package queue orchestrates the waitlist operations. Storage owns ticket
// assignment and state transitions; this layer adds the guards that run before
// a write and the side effects (derived ETA, notification, realtime refresh)
// that follow it.
package queue

import (
	"context"
	"errors"
	"expvar"
	"log"
	"strings"
	"time"

	"waitlist/queue-service/internal/eta"
	"waitlist/queue-service/internal/models"
	"waitlist/queue-service/internal/notify"
	"waitlist/queue-service/internal/quota"
	"waitlist/queue-service/internal/ratelimit"
	"waitlist/queue-service/internal/realtime"
	"waitlist/queue-service/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	joinsTotal     = expvar.NewInt("joins_total")
	archivedTotal  = expvar.NewInt("no_show_archived_total")
	recomputeFails = expvar.NewInt("eta_recompute_failures_total")
)

type Options struct {
	PublicBaseURL string
	Now           func() time.Time
}

type Gateway struct {
	store    store.Store
	quota    *quota.Guard
	limiter  *ratelimit.Limiter
	notifier *notify.Notifier
	realtime *realtime.Broadcaster
	baseURL  string
	now      func() time.Time
	tracer   trace.Tracer
}

// New wires the gateway. A nil guard, limiter, notifier or broadcaster turns
// that concern off.
func New(st store.Store, guard *quota.Guard, limiter *ratelimit.Limiter, notifier *notify.Notifier, broadcaster *realtime.Broadcaster, opts Options) *Gateway {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		store:    st,
		quota:    guard,
		limiter:  limiter,
		notifier: notifier,
		realtime: broadcaster,
		baseURL:  strings.TrimRight(opts.PublicBaseURL, "/"),
		now:      func() time.Time { return now().UTC() },
		tracer:   otel.Tracer("waitlist/queue-service/internal/queue"),
	}
}

type JoinResult struct {
	EntryID      string `json:"entry_id"`
	EntryToken   string `json:"entry_token"`
	TicketNumber int    `json:"ticket_number"`
	StatusURL    string `json:"status_url"`
}

// Join admits a customer. Guards run in order: throttle, input, opening hours,
// plan quota. The quota is counted again inside the write transaction, so a
// denied join never consumes a ticket number.
func (g *Gateway) Join(ctx context.Context, in JoinInput) (result JoinResult, err error) {
	ctx, span := g.tracer.Start(ctx, "queue.Join")
	defer func() { finish(span, err) }()

	in.normalize()
	queue, err := g.joinTarget(ctx, in)
	if err != nil {
		return JoinResult{}, err
	}
	span.SetAttributes(attribute.String("queue.id", queue.QueueID))

	if err := validateJoin(queue, in); err != nil {
		return JoinResult{}, err
	}

	now := g.now()
	if err := g.checkOpen(ctx, queue, now); err != nil {
		return JoinResult{}, err
	}

	var window *quota.Window
	if g.quota != nil {
		w, err := g.quota.Check(ctx, queue.BusinessID, now)
		if err != nil {
			return JoinResult{}, err
		}
		window = &w
	}

	entry, err := g.store.CreateEntry(ctx, store.CreateEntryInput{
		QueueID:           queue.QueueID,
		BusinessID:        queue.BusinessID,
		PublicToken:       uuid.NewString(),
		Name:              in.Name,
		Phone:             in.Phone,
		Email:             in.Email,
		PartySize:         in.PartySize,
		SeatingPreference: in.SeatingPreference,
		CreatedAt:         now,
		Quota:             window,
	})
	if err != nil {
		return JoinResult{}, err
	}
	joinsTotal.Add(1)
	span.SetAttributes(attribute.String("entry.id", entry.EntryID), attribute.Int("entry.ticket", entry.Ticket()))

	estimates := g.recompute(ctx, queue.QueueID)
	etaMinutes := 0
	if estimate, ok := estimates[entry.EntryID]; ok {
		etaMinutes = estimate.ETAMinutes
	}

	result = JoinResult{
		EntryID:      entry.EntryID,
		EntryToken:   entry.PublicToken,
		TicketNumber: entry.Ticket(),
		StatusURL:    g.statusURL(entry.PublicToken),
	}
	g.notifier.Notify(ctx, notify.TemplateJoined, entry, notify.Vars{
		TicketNumber: result.TicketNumber,
		QueueName:    queue.Name,
		ETAMinutes:   etaMinutes,
		StatusURL:    result.StatusURL,
	})
	g.refresh(ctx, queue, entry.PublicToken)
	return result, nil
}

func (g *Gateway) joinTarget(ctx context.Context, in JoinInput) (models.Queue, error) {
	if in.DisplayToken != "" {
		if err := g.allow(ratelimit.ClassIP, in.ClientIP); err != nil {
			return models.Queue{}, err
		}
		if err := g.allow(ratelimit.ClassDisplay, in.DisplayToken); err != nil {
			return models.Queue{}, err
		}
		queue, err := g.store.GetQueueByDisplayToken(ctx, in.DisplayToken)
		if err != nil {
			return models.Queue{}, err
		}
		if !queue.SelfCheckIn {
			return models.Queue{}, store.ErrSelfCheckInDisabled
		}
		return queue, nil
	}
	if in.QueueID == "" {
		return models.Queue{}, invalid("queue_id", "is required")
	}
	return g.staffQueue(ctx, in.BusinessID, in.QueueID)
}

func (g *Gateway) checkOpen(ctx context.Context, queue models.Queue, now time.Time) error {
	if queue.LocationID == "" {
		return nil
	}
	schedule, err := g.store.LocationHours(ctx, queue.LocationID)
	if err != nil {
		return err
	}
	open, err := schedule.IsOpen(now)
	if err != nil {
		return err
	}
	if !open {
		return store.ErrLocationClosed
	}
	return nil
}

type StatusView struct {
	Status           models.Status `json:"status"`
	TicketNumber     *int          `json:"ticket_number"`
	QueuePosition    *int          `json:"queue_position"`
	ETAMinutes       *int          `json:"eta_minutes"`
	NowServingTicket int           `json:"now_serving_ticket"`
	QueueName        string        `json:"queue_name"`
	YourTurn         bool          `json:"your_turn"`
}

// Status is the public read for one entry token. It never carries contact
// fields, and the estimate is computed from the same snapshot as the serving
// ticket.
func (g *Gateway) Status(ctx context.Context, publicToken, clientIP string) (view StatusView, err error) {
	ctx, span := g.tracer.Start(ctx, "queue.Status")
	defer func() { finish(span, err) }()

	if err := g.allow(ratelimit.ClassIP, clientIP); err != nil {
		return StatusView{}, err
	}
	entry, snapshot, err := g.store.EntryStatus(ctx, strings.TrimSpace(publicToken))
	if err != nil {
		return StatusView{}, err
	}
	span.SetAttributes(attribute.String("entry.id", entry.EntryID), attribute.String("queue.id", entry.QueueID))
	return statusView(entry, snapshot), nil
}

func statusView(entry models.QueueEntry, snapshot store.QueueSnapshot) StatusView {
	view := StatusView{
		Status:           entry.Status,
		TicketNumber:     entry.TicketNumber,
		NowServingTicket: snapshot.ServingTicket,
		QueueName:        snapshot.Queue.Name,
		YourTurn:         entry.Status == models.StatusNotified,
	}
	if !entry.Status.Active() {
		return view
	}
	for _, estimate := range eta.PerEntry(snapshot.Entries, snapshot.ServingTicket) {
		if estimate.EntryID != entry.EntryID {
			continue
		}
		minutes := estimate.ETAMinutes
		view.ETAMinutes = &minutes
		if estimate.QueuePosition > 0 {
			position := estimate.QueuePosition
			view.QueuePosition = &position
		}
	}
	return view
}

// Cancel is the customer's own cancellation by entry token.
func (g *Gateway) Cancel(ctx context.Context, publicToken, clientIP string) (view StatusView, err error) {
	ctx, span := g.tracer.Start(ctx, "queue.Cancel")
	defer func() { finish(span, err) }()

	if err := g.allow(ratelimit.ClassIP, clientIP); err != nil {
		return StatusView{}, err
	}
	entry, err := g.store.TransitionEntry(ctx, store.TransitionInput{
		PublicToken: strings.TrimSpace(publicToken),
		Action:      store.ActionCancel,
		OccurredAt:  g.now(),
	})
	if err != nil {
		return StatusView{}, err
	}
	span.SetAttributes(attribute.String("entry.id", entry.EntryID), attribute.String("queue.id", entry.QueueID))

	g.recompute(ctx, entry.QueueID)
	queue, qerr := g.store.GetQueue(ctx, entry.QueueID)
	if qerr != nil {
		log.Printf("cancel refresh lookup failed queue=%s: %v", entry.QueueID, qerr)
		queue = models.Queue{QueueID: entry.QueueID}
	}
	g.refresh(ctx, queue, entry.PublicToken)
	return StatusView{Status: entry.Status, TicketNumber: entry.TicketNumber, QueueName: queue.Name}, nil
}

// Transition applies a staff action (call, seat, cancel, archive) to an entry
// of the caller's business. Calling an entry also pages the customer, including
// on re-notify.
func (g *Gateway) Transition(ctx context.Context, businessID, entryID, action string) (entry models.QueueEntry, err error) {
	ctx, span := g.tracer.Start(ctx, "queue.Transition", trace.WithAttributes(
		attribute.String("entry.id", entryID),
		attribute.String("entry.action", action),
	))
	defer func() { finish(span, err) }()

	if !store.KnownAction(action) {
		return models.QueueEntry{}, store.ErrUnknownAction
	}
	current, err := g.store.GetEntry(ctx, entryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if current.BusinessID != businessID {
		return models.QueueEntry{}, store.ErrAccessDenied
	}
	span.SetAttributes(attribute.String("queue.id", current.QueueID))

	entry, err = g.store.TransitionEntry(ctx, store.TransitionInput{
		EntryID:    entryID,
		Action:     action,
		OccurredAt: g.now(),
	})
	if err != nil {
		return models.QueueEntry{}, err
	}

	g.recompute(ctx, entry.QueueID)
	queue, qerr := g.store.GetQueue(ctx, entry.QueueID)
	if qerr != nil {
		log.Printf("transition refresh lookup failed queue=%s: %v", entry.QueueID, qerr)
		queue = models.Queue{QueueID: entry.QueueID}
	}
	if action == store.ActionCall {
		g.notifier.Notify(ctx, notify.TemplateCalled, entry, notify.Vars{
			TicketNumber: entry.Ticket(),
			QueueName:    queue.Name,
			StatusURL:    g.statusURL(entry.PublicToken),
		})
	}
	g.refresh(ctx, queue, entry.PublicToken)
	return entry, nil
}

type DisplayEntry struct {
	TicketNumber  int           `json:"ticket_number"`
	Name          string        `json:"name,omitempty"`
	Status        models.Status `json:"status"`
	QueuePosition int           `json:"queue_position,omitempty"`
}

type DisplayView struct {
	QueueName        string         `json:"queue_name"`
	NowServingTicket int            `json:"now_serving_ticket"`
	WaitingCount     int            `json:"waiting_count"`
	ETAMinutes       int            `json:"eta_minutes"`
	Entries          []DisplayEntry `json:"entries"`
}

// Display is the public board feed for a display token.
func (g *Gateway) Display(ctx context.Context, displayToken, clientIP string) (view DisplayView, err error) {
	ctx, span := g.tracer.Start(ctx, "queue.Display")
	defer func() { finish(span, err) }()

	displayToken = strings.TrimSpace(displayToken)
	if err := g.allow(ratelimit.ClassIP, clientIP); err != nil {
		return DisplayView{}, err
	}
	if err := g.allow(ratelimit.ClassDisplay, displayToken); err != nil {
		return DisplayView{}, err
	}
	queue, err := g.store.GetQueueByDisplayToken(ctx, displayToken)
	if err != nil {
		return DisplayView{}, err
	}
	span.SetAttributes(attribute.String("queue.id", queue.QueueID))

	snapshot, err := g.store.LoadSnapshot(ctx, queue.QueueID)
	if err != nil {
		return DisplayView{}, err
	}
	waiting := len(snapshot.Waiting())
	view = DisplayView{
		QueueName:        snapshot.Queue.Name,
		NowServingTicket: snapshot.ServingTicket,
		WaitingCount:     waiting,
		ETAMinutes:       eta.Aggregate(snapshot.Queue.ManualAvgMinutes, snapshot.ServiceDurations, waiting),
		Entries:          make([]DisplayEntry, 0, len(snapshot.Entries)),
	}
	positions := make(map[string]int, len(snapshot.Entries))
	for _, estimate := range eta.PerEntry(snapshot.Entries, snapshot.ServingTicket) {
		positions[estimate.EntryID] = estimate.QueuePosition
	}
	for _, entry := range snapshot.Entries {
		name := entry.Name
		if snapshot.Queue.RedactNames {
			name = redactName(name)
		}
		view.Entries = append(view.Entries, DisplayEntry{
			TicketNumber:  entry.Ticket(),
			Name:          name,
			Status:        entry.Status,
			QueuePosition: positions[entry.EntryID],
		})
	}
	return view, nil
}

// ReconcileDelivery applies a provider delivery callback. Unknown message ids
// surface as store.ErrMessageNotFound.
func (g *Gateway) ReconcileDelivery(ctx context.Context, providerMessageID string, status models.DeliveryStatus) (entry models.QueueEntry, err error) {
	ctx, span := g.tracer.Start(ctx, "queue.ReconcileDelivery")
	defer func() {
		if errors.Is(err, store.ErrMessageNotFound) {
			span.End()
			return
		}
		finish(span, err)
	}()

	providerMessageID = strings.TrimSpace(providerMessageID)
	if providerMessageID == "" {
		return models.QueueEntry{}, invalid("provider_message_id", "is required")
	}
	if !status.Valid() || status == models.DeliveryPending {
		return models.QueueEntry{}, invalid("status", "must be sent, delivered or failed")
	}
	entry, err = g.store.ReconcileDelivery(ctx, providerMessageID, status)
	if err != nil {
		return models.QueueEntry{}, err
	}
	span.SetAttributes(attribute.String("entry.id", entry.EntryID))
	g.realtime.Refresh(ctx, realtime.QueueChannel(entry.QueueID))
	return entry, nil
}

// ResetCycle starts a fresh numbering space for an idle queue.
func (g *Gateway) ResetCycle(ctx context.Context, businessID, queueID string) (queue models.Queue, err error) {
	ctx, span := g.tracer.Start(ctx, "queue.ResetCycle", trace.WithAttributes(attribute.String("queue.id", queueID)))
	defer func() { finish(span, err) }()

	if _, err := g.staffQueue(ctx, businessID, queueID); err != nil {
		return models.Queue{}, err
	}
	queue, err = g.store.ResetCycle(ctx, queueID)
	if err != nil {
		return models.Queue{}, err
	}
	log.Printf("queue cycle reset queue=%s cycle=%d", queue.QueueID, queue.TicketCycle)
	g.refresh(ctx, queue)
	return queue, nil
}

// ListEntries returns the active entries with their contact fields for staff.
func (g *Gateway) ListEntries(ctx context.Context, businessID, queueID string) (entries []models.QueueEntry, err error) {
	ctx, span := g.tracer.Start(ctx, "queue.ListEntries", trace.WithAttributes(attribute.String("queue.id", queueID)))
	defer func() { finish(span, err) }()

	if _, err := g.staffQueue(ctx, businessID, queueID); err != nil {
		return nil, err
	}
	snapshot, err := g.store.LoadSnapshot(ctx, queueID)
	if err != nil {
		return nil, err
	}
	if snapshot.Entries == nil {
		return []models.QueueEntry{}, nil
	}
	return snapshot.Entries, nil
}

type EventLog struct {
	EntryID  string             `json:"entry_id"`
	Verified bool               `json:"verified"`
	Events   []store.EntryEvent `json:"events"`
}

func (g *Gateway) EntryEvents(ctx context.Context, businessID, entryID string) (eventLog EventLog, err error) {
	ctx, span := g.tracer.Start(ctx, "queue.EntryEvents", trace.WithAttributes(attribute.String("entry.id", entryID)))
	defer func() { finish(span, err) }()

	entry, err := g.store.GetEntry(ctx, entryID)
	if err != nil {
		return EventLog{}, err
	}
	if entry.BusinessID != businessID {
		return EventLog{}, store.ErrAccessDenied
	}
	events, err := g.store.ListEntryEvents(ctx, entryID)
	if err != nil {
		return EventLog{}, err
	}
	if events == nil {
		events = []store.EntryEvent{}
	}
	return EventLog{
		EntryID:  entryID,
		Verified: store.VerifyEntryEvents(events) == nil,
		Events:   events,
	}, nil
}

// ArchiveStale archives notified entries older than grace. Entries that moved
// on between the scan and the archive are skipped.
func (g *Gateway) ArchiveStale(ctx context.Context, grace time.Duration, batchSize int) (count int, err error) {
	ctx, span := g.tracer.Start(ctx, "queue.ArchiveStale")
	defer func() { finish(span, err) }()

	stale, err := g.store.ListStaleNotified(ctx, g.now().Add(-grace), batchSize)
	if err != nil {
		return 0, err
	}
	touched := make(map[string][]string)
	for _, candidate := range stale {
		entry, err := g.store.TransitionEntry(ctx, store.TransitionInput{
			EntryID:    candidate.EntryID,
			Action:     store.ActionArchive,
			OccurredAt: g.now(),
		})
		if errors.Is(err, store.ErrInvalidState) || errors.Is(err, store.ErrEntryNotFound) {
			continue
		}
		if err != nil {
			return count, err
		}
		count++
		touched[entry.QueueID] = append(touched[entry.QueueID], entry.PublicToken)
	}
	archivedTotal.Add(int64(count))
	span.SetAttributes(attribute.Int("entries.archived", count))

	for queueID, tokens := range touched {
		g.recompute(ctx, queueID)
		queue, err := g.store.GetQueue(ctx, queueID)
		if err != nil {
			log.Printf("archive refresh lookup failed queue=%s: %v", queueID, err)
			continue
		}
		g.refresh(ctx, queue, tokens...)
	}
	return count, nil
}

// RunArchiver scans on every interval until ctx is done.
func (g *Gateway) RunArchiver(ctx context.Context, interval, grace time.Duration, batchSize int) error {
	if interval <= 0 || grace <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			scanCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			count, err := g.ArchiveStale(scanCtx, grace, batchSize)
			cancel()
			if err != nil {
				log.Printf("auto no-show error: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("auto no-show archived %d entries", count)
			}
		}
	}
}

func (g *Gateway) staffQueue(ctx context.Context, businessID, queueID string) (models.Queue, error) {
	queue, err := g.store.GetQueue(ctx, queueID)
	if err != nil {
		return models.Queue{}, err
	}
	if queue.BusinessID != businessID {
		return models.Queue{}, store.ErrAccessDenied
	}
	return queue, nil
}

// recompute persists fresh positions and estimates for the queue. Failures are
// logged only; the next state change rewrites them.
func (g *Gateway) recompute(ctx context.Context, queueID string) map[string]eta.Estimate {
	snapshot, err := g.store.LoadSnapshot(ctx, queueID)
	if err != nil {
		recomputeFails.Add(1)
		log.Printf("eta recompute snapshot failed queue=%s: %v", queueID, err)
		return nil
	}
	estimates := eta.PerEntry(snapshot.Entries, snapshot.ServingTicket)
	byEntry := make(map[string]eta.Estimate, len(estimates))
	updates := make([]store.DerivedUpdate, 0, len(estimates))
	for _, estimate := range estimates {
		byEntry[estimate.EntryID] = estimate
		updates = append(updates, store.DerivedUpdate{
			EntryID:       estimate.EntryID,
			QueuePosition: estimate.QueuePosition,
			ETAMinutes:    estimate.ETAMinutes,
		})
	}
	if err := g.store.UpdateDerived(ctx, queueID, updates); err != nil {
		recomputeFails.Add(1)
		log.Printf("eta recompute update failed queue=%s: %v", queueID, err)
	}
	return byEntry
}

// refresh signals the queue and display channels plus one channel per
// changed entry.
func (g *Gateway) refresh(ctx context.Context, queue models.Queue, entryTokens ...string) {
	channels := []string{realtime.QueueChannel(queue.QueueID)}
	if queue.DisplayToken != "" {
		channels = append(channels, realtime.DisplayChannel(queue.DisplayToken))
	}
	for _, token := range entryTokens {
		if token != "" {
			channels = append(channels, realtime.EntryChannel(token))
		}
	}
	g.realtime.Refresh(ctx, channels...)
}

func (g *Gateway) allow(class, identity string) error {
	if g.limiter == nil || identity == "" {
		return nil
	}
	decision := g.limiter.Allow(class, identity)
	if decision.Allowed {
		return nil
	}
	return &RateLimitError{Class: class, RetryAfter: decision.RetryAfter}
}

func (g *Gateway) statusURL(token string) string {
	return g.baseURL + "/api/public/entries/" + token
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
