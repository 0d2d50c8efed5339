package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"waitlist/queue-service/internal/hours"
	"waitlist/queue-service/internal/models"
	"waitlist/queue-service/internal/quota"
	"waitlist/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entryColumns = `entry_id, queue_id, business_id, public_token, ticket_number, status, queue_position, eta_minutes,
	name, phone, email, party_size, seating_preference, created_at, notified_at, cancelled_at,
	sms_status, sms_message_id, email_status, email_message_id`

const queueColumns = `queue_id, business_id, location_id, name, required_fields, self_check_in, manual_avg_minutes,
	display_token, redact_names, ticket_cycle`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type scanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	return scanQueue(s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = $1`, queueID))
}

func (s *Store) GetQueueByDisplayToken(ctx context.Context, displayToken string) (models.Queue, error) {
	return scanQueue(s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE display_token = $1`, displayToken))
}

// CreateEntry assigns the next ticket while holding the queue row lock, so two
// concurrent joins can never observe the same counter value.
func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (entry models.QueueEntry, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.Quota != nil && !input.Quota.Unlimited() {
		if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "quota:"+input.BusinessID); err != nil {
			return models.QueueEntry{}, err
		}
		var count int
		count, err = countEntries(ctx, tx, input.BusinessID, input.Quota.Start, input.Quota.End)
		if err != nil {
			return models.QueueEntry{}, err
		}
		if count >= input.Quota.Limit {
			return models.QueueEntry{}, store.ErrQuotaExceeded
		}
	}

	if err = lockQueue(ctx, tx, input.QueueID); err != nil {
		return models.QueueEntry{}, err
	}

	var duplicate bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_entries
			WHERE queue_id = $1 AND status IN ('waiting','notified')
			  AND (($2 <> '' AND phone = $2) OR ($3 <> '' AND lower(email) = lower($3)))
		)
	`, input.QueueID, input.Phone, input.Email).Scan(&duplicate)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if duplicate {
		return models.QueueEntry{}, store.ErrDuplicateEntry
	}

	ticket, err := nextTicketNumber(ctx, tx, input.QueueID)
	if err != nil {
		return models.QueueEntry{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	token := input.PublicToken
	if token == "" {
		token = uuid.NewString()
	}
	partySize := input.PartySize
	if partySize <= 0 {
		partySize = 1
	}

	entry, err = scanEntry(tx.QueryRow(ctx, `
		INSERT INTO queue_entries (
			entry_id, queue_id, business_id, public_token, ticket_number, status,
			name, phone, email, party_size, seating_preference, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+entryColumns,
		uuid.NewString(), input.QueueID, input.BusinessID, token, ticket, models.StatusWaiting,
		input.Name, input.Phone, input.Email, partySize, input.SeatingPreference, createdAt))
	if err != nil {
		return models.QueueEntry{}, err
	}

	payload, err := store.EntryEventPayload(entry)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if err = appendEntryEvent(ctx, tx, entry.EntryID, store.EventEntryCreated, payload); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) TransitionEntry(ctx context.Context, input store.TransitionInput) (entry models.QueueEntry, err error) {
	if !store.KnownAction(input.Action) {
		return models.QueueEntry{}, store.ErrUnknownAction
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	lookup := `SELECT entry_id, queue_id FROM queue_entries WHERE entry_id = $1`
	key := input.EntryID
	if key == "" {
		lookup = `SELECT entry_id, queue_id FROM queue_entries WHERE public_token = $1`
		key = input.PublicToken
	}
	var entryID, queueID string
	if err = tx.QueryRow(ctx, lookup, key).Scan(&entryID, &queueID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}

	// Queue first, then entry: the same order CreateEntry uses.
	if err = lockQueue(ctx, tx, queueID); err != nil {
		return models.QueueEntry{}, err
	}
	entry, err = scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE entry_id = $1 FOR UPDATE`, entryID))
	if err != nil {
		return models.QueueEntry{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	if err = store.ApplyTransition(&entry, input.Action, occurredAt.Truncate(time.Microsecond)); err != nil {
		return models.QueueEntry{}, err
	}
	if !entry.Status.Active() {
		entry.QueuePosition = nil
		entry.ETAMinutes = nil
	}

	if _, err = tx.Exec(ctx, `
		UPDATE queue_entries
		SET status = $2, notified_at = $3, cancelled_at = $4, queue_position = $5, eta_minutes = $6
		WHERE entry_id = $1
	`, entry.EntryID, entry.Status, entry.NotifiedAt, entry.CancelledAt, entry.QueuePosition, entry.ETAMinutes); err != nil {
		return models.QueueEntry{}, err
	}

	payload, err := store.EntryEventPayload(entry)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if err = appendEntryEvent(ctx, tx, entry.EntryID, store.EventTypeFor(input.Action), payload); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error) {
	return scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE entry_id = $1`, entryID))
}

// LoadSnapshot reads under REPEATABLE READ so every part of the snapshot
// reflects the same committed state.
func (s *Store) LoadSnapshot(ctx context.Context, queueID string) (snapshot store.QueueSnapshot, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return store.QueueSnapshot{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	return loadSnapshot(ctx, tx, queueID)
}

func (s *Store) EntryStatus(ctx context.Context, publicToken string) (entry models.QueueEntry, snapshot store.QueueSnapshot, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return models.QueueEntry{}, store.QueueSnapshot{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entry, err = scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE public_token = $1`, publicToken))
	if err != nil {
		return models.QueueEntry{}, store.QueueSnapshot{}, err
	}
	snapshot, err = loadSnapshot(ctx, tx, entry.QueueID)
	if err != nil {
		return models.QueueEntry{}, store.QueueSnapshot{}, err
	}
	return entry, snapshot, nil
}

func (s *Store) UpdateDerived(ctx context.Context, queueID string, updates []store.DerivedUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, update := range updates {
		batch.Queue(`
			UPDATE queue_entries
			SET queue_position = $3, eta_minutes = $4
			WHERE entry_id = $1 AND queue_id = $2 AND status IN ('waiting','notified')
		`, update.EntryID, queueID, nullIfZero(update.QueuePosition), update.ETAMinutes)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range updates {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RecordDelivery(ctx context.Context, input store.DeliveryInput) (err error) {
	statusColumn, idColumn, err := deliveryColumns(input.Channel)
	if err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	entry, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE entry_id = $1 FOR UPDATE`, input.EntryID))
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, fmt.Sprintf(`UPDATE queue_entries SET %s = $2, %s = $3 WHERE entry_id = $1`, statusColumn, idColumn),
		input.EntryID, input.Status, nullIfEmpty(input.MessageID)); err != nil {
		return err
	}
	payload, err := store.DeliveryEventPayload(entry, input.Channel, input.Status)
	if err != nil {
		return err
	}
	if err = appendEntryEvent(ctx, tx, input.EntryID, store.EventDeliveryStatus, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ReconcileDelivery(ctx context.Context, providerMessageID string, status models.DeliveryStatus) (entry models.QueueEntry, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	entry, err = scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE sms_message_id = $1 OR email_message_id = $1
		LIMIT 1
		FOR UPDATE
	`, providerMessageID))
	if err != nil {
		if errors.Is(err, store.ErrEntryNotFound) {
			return models.QueueEntry{}, store.ErrMessageNotFound
		}
		return models.QueueEntry{}, err
	}

	channel := models.ChannelSMS
	current := &entry.SMS
	if entry.SMS.MessageID != providerMessageID {
		channel = models.ChannelEmail
		current = &entry.EmailDelivery
	}
	next := store.NextDeliveryStatus(current.Status, status)
	if next == current.Status {
		err = tx.Commit(ctx)
		return entry, err
	}
	current.Status = next

	statusColumn, _, err := deliveryColumns(channel)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if _, err = tx.Exec(ctx, fmt.Sprintf(`UPDATE queue_entries SET %s = $2 WHERE entry_id = $1`, statusColumn), entry.EntryID, next); err != nil {
		return models.QueueEntry{}, err
	}
	payload, err := store.DeliveryEventPayload(entry, channel, next)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if err = appendEntryEvent(ctx, tx, entry.EntryID, store.EventDeliveryStatus, payload); err != nil {
		return models.QueueEntry{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

// ResetCycle starts a fresh numbering space. Historical entries keep their rows
// but lose their ticket numbers so they no longer feed sequencing or display.
func (s *Store) ResetCycle(ctx context.Context, queueID string) (queue models.Queue, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Queue{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockQueue(ctx, tx, queueID); err != nil {
		return models.Queue{}, err
	}
	var active int
	if err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_entries WHERE queue_id = $1 AND status IN ('waiting','notified')
	`, queueID).Scan(&active); err != nil {
		return models.Queue{}, err
	}
	if active > 0 {
		return models.Queue{}, store.ErrActiveEntries
	}
	if _, err = tx.Exec(ctx, `
		UPDATE queue_entries SET ticket_number = NULL, queue_position = NULL
		WHERE queue_id = $1 AND ticket_number IS NOT NULL
	`, queueID); err != nil {
		return models.Queue{}, err
	}
	queue, err = scanQueue(tx.QueryRow(ctx, `
		UPDATE queues SET last_ticket_number = 0, ticket_cycle = ticket_cycle + 1
		WHERE queue_id = $1
		RETURNING `+queueColumns, queueID))
	if err != nil {
		return models.Queue{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) ListStaleNotified(ctx context.Context, cutoff time.Time, limit int) ([]models.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE status = 'notified' AND notified_at <= $1
		ORDER BY notified_at ASC
		LIMIT $2
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) ListEntryEvents(ctx context.Context, entryID string) ([]store.EntryEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, entry_seq, type, payload, created_at, prev_hash, hash
		FROM entry_events
		WHERE entry_id = $1
		ORDER BY entry_seq ASC
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.EntryEvent
	for rows.Next() {
		var event store.EntryEvent
		var payload string
		if err := rows.Scan(&event.EntryID, &event.Seq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = []byte(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, business_id, role, expires_at
		FROM staff_sessions
		WHERE session_id = $1 AND expires_at > now()
	`, sessionID).Scan(&session.SessionID, &session.UserID, &session.BusinessID, &session.Role, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func (s *Store) ActiveSubscription(ctx context.Context, businessID string, now time.Time) (*quota.Subscription, error) {
	var sub quota.Subscription
	err := s.pool.QueryRow(ctx, `
		SELECT p.plan_id, s.status, p.paid, s.current_period_start, s.current_period_end, p.monthly_entry_limit
		FROM subscriptions s
		JOIN plans p ON p.plan_id = s.plan_id
		WHERE s.business_id = $1 AND s.status = 'active'
		  AND s.current_period_start <= $2 AND s.current_period_end > $2
		ORDER BY p.paid DESC, s.current_period_end DESC
		LIMIT 1
	`, businessID, now.UTC()).Scan(&sub.Plan, &sub.Status, &sub.Paid, &sub.PeriodStart, &sub.PeriodEnd, &sub.EntryLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Store) CountEntries(ctx context.Context, businessID string, from, to time.Time) (int, error) {
	return countEntries(ctx, s.pool, businessID, from, to)
}

func (s *Store) LocationHours(ctx context.Context, locationID string) (hours.Schedule, error) {
	if locationID == "" {
		return hours.Schedule{}, nil
	}
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT open_hours FROM locations WHERE location_id = $1`, locationID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return hours.Schedule{}, nil
		}
		return hours.Schedule{}, err
	}
	return hours.Parse(raw)
}

func loadSnapshot(ctx context.Context, tx pgx.Tx, queueID string) (store.QueueSnapshot, error) {
	queue, err := scanQueue(tx.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = $1`, queueID))
	if err != nil {
		return store.QueueSnapshot{}, err
	}
	snapshot := store.QueueSnapshot{Queue: queue}

	rows, err := tx.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE queue_id = $1 AND status IN ('waiting','notified') AND ticket_number IS NOT NULL
		ORDER BY ticket_number ASC
	`, queueID)
	if err != nil {
		return store.QueueSnapshot{}, err
	}
	snapshot.Entries, err = scanEntries(rows)
	rows.Close()
	if err != nil {
		return store.QueueSnapshot{}, err
	}

	var serving sql.NullInt64
	err = tx.QueryRow(ctx, `
		SELECT ticket_number
		FROM queue_entries
		WHERE queue_id = $1 AND status IN ('notified','seated') AND ticket_number IS NOT NULL
		ORDER BY notified_at DESC NULLS LAST, ticket_number DESC
		LIMIT 1
	`, queueID).Scan(&serving)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return store.QueueSnapshot{}, err
	}
	if serving.Valid {
		snapshot.ServingTicket = int(serving.Int64)
	}

	durations, err := tx.Query(ctx, `
		SELECT EXTRACT(EPOCH FROM (notified_at - created_at))::float8
		FROM queue_entries
		WHERE queue_id = $1 AND status = 'seated' AND notified_at IS NOT NULL
		ORDER BY notified_at DESC
		LIMIT $2
	`, queueID, store.HistoricalSampleSize)
	if err != nil {
		return store.QueueSnapshot{}, err
	}
	defer durations.Close()
	for durations.Next() {
		var seconds float64
		if err := durations.Scan(&seconds); err != nil {
			return store.QueueSnapshot{}, err
		}
		snapshot.ServiceDurations = append(snapshot.ServiceDurations, time.Duration(seconds*float64(time.Second)))
	}
	if err := durations.Err(); err != nil {
		return store.QueueSnapshot{}, err
	}
	return snapshot, nil
}

func lockQueue(ctx context.Context, tx pgx.Tx, queueID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT queue_id FROM queues WHERE queue_id = $1 FOR UPDATE`, queueID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrQueueNotFound
	}
	return err
}

// nextTicketNumber must run with the queue row locked. The counter never drops
// below the highest ticket on record, so numbers are not reused within a cycle
// even if rows were inserted outside this path.
func nextTicketNumber(ctx context.Context, tx pgx.Tx, queueID string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		UPDATE queues
		SET last_ticket_number = GREATEST(
			last_ticket_number,
			(SELECT COALESCE(MAX(ticket_number), 0) FROM queue_entries WHERE queue_id = $1)
		) + 1
		WHERE queue_id = $1
		RETURNING last_ticket_number
	`, queueID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func countEntries(ctx context.Context, q querier, businessID string, from, to time.Time) (int, error) {
	var count int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_entries
		WHERE business_id = $1 AND created_at >= $2 AND created_at < $3
	`, businessID, from.UTC(), to.UTC()).Scan(&count)
	return count, err
}

func appendEntryEvent(ctx context.Context, tx pgx.Tx, entryID, eventType string, payload []byte) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entryID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT entry_seq, hash
		FROM entry_events
		WHERE entry_id = $1
		ORDER BY entry_seq DESC
		LIMIT 1
	`, entryID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	hash := store.ComputeEntryEventHash(prev, entryID, eventType, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO entry_events (entry_id, entry_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entryID, nextSeq, eventType, string(payload), createdAt, prev, hash)
	return err
}

func deliveryColumns(channel string) (string, string, error) {
	switch channel {
	case models.ChannelSMS:
		return "sms_status", "sms_message_id", nil
	case models.ChannelEmail:
		return "email_status", "email_message_id", nil
	default:
		return "", "", fmt.Errorf("unknown delivery channel %q", channel)
	}
}

func scanQueue(row scanner) (models.Queue, error) {
	var queue models.Queue
	var locationID sql.NullString
	var manual sql.NullInt64
	err := row.Scan(&queue.QueueID, &queue.BusinessID, &locationID, &queue.Name, &queue.RequiredFields,
		&queue.SelfCheckIn, &manual, &queue.DisplayToken, &queue.RedactNames, &queue.TicketCycle)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	if locationID.Valid {
		queue.LocationID = locationID.String
	}
	queue.ManualAvgMinutes = nullIntPtr(manual)
	return queue, nil
}

func scanEntry(row scanner) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var ticketNull, positionNull, etaNull sql.NullInt64
	var notifiedAtNull, cancelledAtNull sql.NullTime
	var smsIDNull, emailIDNull sql.NullString
	var smsStatus, emailStatus string
	err := row.Scan(&entry.EntryID, &entry.QueueID, &entry.BusinessID, &entry.PublicToken, &ticketNull, &entry.Status,
		&positionNull, &etaNull, &entry.Name, &entry.Phone, &entry.Email, &entry.PartySize, &entry.SeatingPreference,
		&entry.CreatedAt, &notifiedAtNull, &cancelledAtNull, &smsStatus, &smsIDNull, &emailStatus, &emailIDNull)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.TicketNumber = nullIntPtr(ticketNull)
	entry.QueuePosition = nullIntPtr(positionNull)
	entry.ETAMinutes = nullIntPtr(etaNull)
	entry.NotifiedAt = nullTimePtr(notifiedAtNull)
	entry.CancelledAt = nullTimePtr(cancelledAtNull)
	entry.SMS = models.Delivery{Status: models.DeliveryStatus(smsStatus), MessageID: smsIDNull.String}
	entry.EmailDelivery = models.Delivery{Status: models.DeliveryStatus(emailStatus), MessageID: emailIDNull.String}
	return entry, nil
}

func scanEntries(rows pgx.Rows) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZero(value int) interface{} {
	if value == 0 {
		return nil
	}
	return value
}

func nullIntPtr(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int64)
	return &v
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}
