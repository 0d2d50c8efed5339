// Package sqlite implements the queue store on an embedded SQLite file for
// single-node deployments. The pool is capped at one connection, so every
// transaction is serialized and ticket assignment cannot race.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"waitlist/queue-service/internal/hours"
	"waitlist/queue-service/internal/models"
	"waitlist/queue-service/internal/quota"
	"waitlist/queue-service/internal/store"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const entryColumns = `entry_id, queue_id, business_id, public_token, ticket_number, status, queue_position, eta_minutes,
	name, phone, email, party_size, seating_preference, created_at, notified_at, cancelled_at,
	sms_status, sms_message_id, email_status, email_message_id`

const queueColumns = `queue_id, business_id, location_id, name, required_fields, self_check_in, manual_avg_minutes,
	display_token, redact_names, ticket_cycle`

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			plan_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			paid INTEGER NOT NULL DEFAULT 0,
			monthly_entry_limit INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			subscription_id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			plan_id TEXT NOT NULL REFERENCES plans(plan_id),
			status TEXT NOT NULL,
			current_period_start INTEGER NOT NULL,
			current_period_end INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS locations (
			location_id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			name TEXT NOT NULL,
			open_hours TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS queues (
			queue_id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			location_id TEXT REFERENCES locations(location_id),
			name TEXT NOT NULL,
			required_fields TEXT NOT NULL DEFAULT '[]',
			self_check_in INTEGER NOT NULL DEFAULT 0,
			manual_avg_minutes INTEGER,
			display_token TEXT NOT NULL UNIQUE,
			redact_names INTEGER NOT NULL DEFAULT 1,
			last_ticket_number INTEGER NOT NULL DEFAULT 0,
			ticket_cycle INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS queue_entries (
			entry_id TEXT PRIMARY KEY,
			queue_id TEXT NOT NULL REFERENCES queues(queue_id),
			business_id TEXT NOT NULL,
			public_token TEXT NOT NULL UNIQUE,
			ticket_number INTEGER,
			status TEXT NOT NULL,
			queue_position INTEGER,
			eta_minutes INTEGER,
			name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			party_size INTEGER NOT NULL DEFAULT 1,
			seating_preference TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			notified_at INTEGER,
			cancelled_at INTEGER,
			sms_status TEXT NOT NULL DEFAULT '',
			sms_message_id TEXT,
			email_status TEXT NOT NULL DEFAULT '',
			email_message_id TEXT
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_entries_active_ticket
			ON queue_entries(queue_id, ticket_number) WHERE status IN ('waiting','notified');`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_queue_status ON queue_entries(queue_id, status, ticket_number);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_business_created ON queue_entries(business_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_sms_message ON queue_entries(sms_message_id);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_email_message ON queue_entries(email_message_id);`,
		`CREATE TABLE IF NOT EXISTS entry_events (
			entry_id TEXT NOT NULL REFERENCES queue_entries(entry_id),
			entry_seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			PRIMARY KEY (entry_id, entry_seq)
		);`,
		`CREATE TABLE IF NOT EXISTS staff_sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			business_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'staff',
			expires_at INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	return scanQueue(s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = ?`, queueID))
}

func (s *Store) GetQueueByDisplayToken(ctx context.Context, displayToken string) (models.Queue, error) {
	return scanQueue(s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queues WHERE display_token = ?`, displayToken))
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (entry models.QueueEntry, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if input.Quota != nil && !input.Quota.Unlimited() {
		var count int
		count, err = countEntries(ctx, tx, input.BusinessID, input.Quota.Start, input.Quota.End)
		if err != nil {
			return models.QueueEntry{}, err
		}
		if count >= input.Quota.Limit {
			return models.QueueEntry{}, store.ErrQuotaExceeded
		}
	}

	var lastTicket int
	if err = tx.QueryRowContext(ctx, `SELECT last_ticket_number FROM queues WHERE queue_id = ?`, input.QueueID).Scan(&lastTicket); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.QueueEntry{}, store.ErrQueueNotFound
		}
		return models.QueueEntry{}, err
	}

	var duplicate int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_entries
		WHERE queue_id = ? AND status IN ('waiting','notified')
		  AND ((? <> '' AND phone = ?) OR (? <> '' AND lower(email) = lower(?)))
	`, input.QueueID, input.Phone, input.Phone, input.Email, input.Email).Scan(&duplicate)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if duplicate > 0 {
		return models.QueueEntry{}, store.ErrDuplicateEntry
	}

	var ticket int
	if err = tx.QueryRowContext(ctx, `
		UPDATE queues
		SET last_ticket_number = MAX(
			last_ticket_number,
			(SELECT COALESCE(MAX(ticket_number), 0) FROM queue_entries WHERE queue_id = ?)
		) + 1
		WHERE queue_id = ?
		RETURNING last_ticket_number
	`, input.QueueID, input.QueueID).Scan(&ticket); err != nil {
		return models.QueueEntry{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	token := input.PublicToken
	if token == "" {
		token = uuid.NewString()
	}
	partySize := input.PartySize
	if partySize <= 0 {
		partySize = 1
	}

	entryID := uuid.NewString()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO queue_entries (
			entry_id, queue_id, business_id, public_token, ticket_number, status,
			name, phone, email, party_size, seating_preference, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entryID, input.QueueID, input.BusinessID, token, ticket, string(models.StatusWaiting),
		input.Name, input.Phone, input.Email, partySize, input.SeatingPreference, toMillis(createdAt)); err != nil {
		return models.QueueEntry{}, err
	}
	entry, err = getEntry(ctx, tx, entryID)
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

	if err = tx.Commit(); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) TransitionEntry(ctx context.Context, input store.TransitionInput) (entry models.QueueEntry, err error) {
	if !store.KnownAction(input.Action) {
		return models.QueueEntry{}, store.ErrUnknownAction
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if input.EntryID != "" {
		entry, err = getEntry(ctx, tx, input.EntryID)
	} else {
		entry, err = scanEntry(tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE public_token = ?`, input.PublicToken))
	}
	if err != nil {
		return models.QueueEntry{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	if err = store.ApplyTransition(&entry, input.Action, occurredAt.Truncate(time.Millisecond)); err != nil {
		return models.QueueEntry{}, err
	}
	if !entry.Status.Active() {
		entry.QueuePosition = nil
		entry.ETAMinutes = nil
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = ?, notified_at = ?, cancelled_at = ?, queue_position = ?, eta_minutes = ?
		WHERE entry_id = ?
	`, string(entry.Status), nullMillis(entry.NotifiedAt), nullMillis(entry.CancelledAt),
		nullInt(entry.QueuePosition), nullInt(entry.ETAMinutes), entry.EntryID); err != nil {
		return models.QueueEntry{}, err
	}

	payload, err := store.EntryEventPayload(entry)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if err = appendEntryEvent(ctx, tx, entry.EntryID, store.EventTypeFor(input.Action), payload); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error) {
	return getEntry(ctx, s.db, entryID)
}

func (s *Store) LoadSnapshot(ctx context.Context, queueID string) (snapshot store.QueueSnapshot, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.QueueSnapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	return loadSnapshot(ctx, tx, queueID)
}

func (s *Store) EntryStatus(ctx context.Context, publicToken string) (entry models.QueueEntry, snapshot store.QueueSnapshot, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.QueueEntry{}, store.QueueSnapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	entry, err = scanEntry(tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE public_token = ?`, publicToken))
	if err != nil {
		return models.QueueEntry{}, store.QueueSnapshot{}, err
	}
	snapshot, err = loadSnapshot(ctx, tx, entry.QueueID)
	if err != nil {
		return models.QueueEntry{}, store.QueueSnapshot{}, err
	}
	return entry, snapshot, nil
}

func (s *Store) UpdateDerived(ctx context.Context, queueID string, updates []store.DerivedUpdate) (err error) {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE queue_entries
		SET queue_position = ?, eta_minutes = ?
		WHERE entry_id = ? AND queue_id = ? AND status IN ('waiting','notified')
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, update := range updates {
		var position any
		if update.QueuePosition > 0 {
			position = update.QueuePosition
		}
		if _, err = stmt.ExecContext(ctx, position, update.ETAMinutes, update.EntryID, queueID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RecordDelivery(ctx context.Context, input store.DeliveryInput) (err error) {
	statusColumn, idColumn, err := deliveryColumns(input.Channel)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	entry, err := getEntry(ctx, tx, input.EntryID)
	if err != nil {
		return err
	}
	var messageID any
	if input.MessageID != "" {
		messageID = input.MessageID
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE queue_entries SET %s = ?, %s = ? WHERE entry_id = ?`, statusColumn, idColumn),
		string(input.Status), messageID, input.EntryID); err != nil {
		return err
	}
	payload, err := store.DeliveryEventPayload(entry, input.Channel, input.Status)
	if err != nil {
		return err
	}
	if err = appendEntryEvent(ctx, tx, input.EntryID, store.EventDeliveryStatus, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ReconcileDelivery(ctx context.Context, providerMessageID string, status models.DeliveryStatus) (entry models.QueueEntry, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	entry, err = scanEntry(tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE sms_message_id = ? OR email_message_id = ?
		LIMIT 1
	`, providerMessageID, providerMessageID))
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
		err = tx.Commit()
		return entry, err
	}
	current.Status = next

	statusColumn, _, err := deliveryColumns(channel)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE queue_entries SET %s = ? WHERE entry_id = ?`, statusColumn), string(next), entry.EntryID); err != nil {
		return models.QueueEntry{}, err
	}
	payload, err := store.DeliveryEventPayload(entry, channel, next)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if err = appendEntryEvent(ctx, tx, entry.EntryID, store.EventDeliveryStatus, payload); err != nil {
		return models.QueueEntry{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) ResetCycle(ctx context.Context, queueID string) (queue models.Queue, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Queue{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = scanQueue(tx.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = ?`, queueID)); err != nil {
		return models.Queue{}, err
	}
	var active int
	if err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_entries WHERE queue_id = ? AND status IN ('waiting','notified')
	`, queueID).Scan(&active); err != nil {
		return models.Queue{}, err
	}
	if active > 0 {
		return models.Queue{}, store.ErrActiveEntries
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE queue_entries SET ticket_number = NULL, queue_position = NULL
		WHERE queue_id = ? AND ticket_number IS NOT NULL
	`, queueID); err != nil {
		return models.Queue{}, err
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE queues SET last_ticket_number = 0, ticket_cycle = ticket_cycle + 1 WHERE queue_id = ?
	`, queueID); err != nil {
		return models.Queue{}, err
	}
	queue, err = scanQueue(tx.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = ?`, queueID))
	if err != nil {
		return models.Queue{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) ListStaleNotified(ctx context.Context, cutoff time.Time, limit int) ([]models.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE status = 'notified' AND notified_at <= ?
		ORDER BY notified_at ASC
		LIMIT ?
	`, toMillis(cutoff), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) ListEntryEvents(ctx context.Context, entryID string) ([]store.EntryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, entry_seq, type, payload, created_at, prev_hash, hash
		FROM entry_events
		WHERE entry_id = ?
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
		var createdAt int64
		if err := rows.Scan(&event.EntryID, &event.Seq, &event.Type, &payload, &createdAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = fromMillis(createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, business_id, role, expires_at
		FROM staff_sessions
		WHERE session_id = ? AND expires_at > ?
	`, sessionID, toMillis(time.Now())).Scan(&session.SessionID, &session.UserID, &session.BusinessID, &session.Role, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	session.ExpiresAt = fromMillis(expiresAt)
	return session, nil
}

func (s *Store) ActiveSubscription(ctx context.Context, businessID string, now time.Time) (*quota.Subscription, error) {
	var sub quota.Subscription
	var start, end int64
	err := s.db.QueryRowContext(ctx, `
		SELECT p.plan_id, s.status, p.paid, s.current_period_start, s.current_period_end, p.monthly_entry_limit
		FROM subscriptions s
		JOIN plans p ON p.plan_id = s.plan_id
		WHERE s.business_id = ? AND s.status = 'active'
		  AND s.current_period_start <= ? AND s.current_period_end > ?
		ORDER BY p.paid DESC, s.current_period_end DESC
		LIMIT 1
	`, businessID, toMillis(now), toMillis(now)).Scan(&sub.Plan, &sub.Status, &sub.Paid, &start, &end, &sub.EntryLimit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	sub.PeriodStart = fromMillis(start)
	sub.PeriodEnd = fromMillis(end)
	return &sub, nil
}

func (s *Store) CountEntries(ctx context.Context, businessID string, from, to time.Time) (int, error) {
	return countEntries(ctx, s.db, businessID, from, to)
}

func (s *Store) LocationHours(ctx context.Context, locationID string) (hours.Schedule, error) {
	if locationID == "" {
		return hours.Schedule{}, nil
	}
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT open_hours FROM locations WHERE location_id = ?`, locationID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return hours.Schedule{}, nil
		}
		return hours.Schedule{}, err
	}
	return hours.Parse([]byte(raw.String))
}

func loadSnapshot(ctx context.Context, q execQuerier, queueID string) (store.QueueSnapshot, error) {
	queue, err := scanQueue(q.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = ?`, queueID))
	if err != nil {
		return store.QueueSnapshot{}, err
	}
	snapshot := store.QueueSnapshot{Queue: queue}

	rows, err := q.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE queue_id = ? AND status IN ('waiting','notified') AND ticket_number IS NOT NULL
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
	err = q.QueryRowContext(ctx, `
		SELECT ticket_number
		FROM queue_entries
		WHERE queue_id = ? AND status IN ('notified','seated') AND ticket_number IS NOT NULL
		ORDER BY notified_at IS NULL, notified_at DESC, ticket_number DESC
		LIMIT 1
	`, queueID).Scan(&serving)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return store.QueueSnapshot{}, err
	}
	if serving.Valid {
		snapshot.ServingTicket = int(serving.Int64)
	}

	durations, err := q.QueryContext(ctx, `
		SELECT notified_at - created_at
		FROM queue_entries
		WHERE queue_id = ? AND status = 'seated' AND notified_at IS NOT NULL
		ORDER BY notified_at DESC
		LIMIT ?
	`, queueID, store.HistoricalSampleSize)
	if err != nil {
		return store.QueueSnapshot{}, err
	}
	defer durations.Close()
	for durations.Next() {
		var millis int64
		if err := durations.Scan(&millis); err != nil {
			return store.QueueSnapshot{}, err
		}
		snapshot.ServiceDurations = append(snapshot.ServiceDurations, time.Duration(millis)*time.Millisecond)
	}
	if err := durations.Err(); err != nil {
		return store.QueueSnapshot{}, err
	}
	return snapshot, nil
}

func getEntry(ctx context.Context, q execQuerier, entryID string) (models.QueueEntry, error) {
	return scanEntry(q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE entry_id = ?`, entryID))
}

func countEntries(ctx context.Context, q execQuerier, businessID string, from, to time.Time) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_entries
		WHERE business_id = ? AND created_at >= ? AND created_at < ?
	`, businessID, toMillis(from), toMillis(to)).Scan(&count)
	return count, err
}

func appendEntryEvent(ctx context.Context, q execQuerier, entryID, eventType string, payload []byte) error {
	var lastSeq int
	var prevHash sql.NullString
	row := q.QueryRowContext(ctx, `
		SELECT entry_seq, hash FROM entry_events
		WHERE entry_id = ?
		ORDER BY entry_seq DESC
		LIMIT 1
	`, entryID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	createdAt := time.Now().UTC().Truncate(time.Millisecond)
	hash := store.ComputeEntryEventHash(prev, entryID, eventType, payload, createdAt, nextSeq)

	_, err := q.ExecContext(ctx, `
		INSERT INTO entry_events (entry_id, entry_seq, type, payload, created_at, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entryID, nextSeq, eventType, string(payload), toMillis(createdAt), prev, hash)
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
	var requiredFields string
	err := row.Scan(&queue.QueueID, &queue.BusinessID, &locationID, &queue.Name, &requiredFields,
		&queue.SelfCheckIn, &manual, &queue.DisplayToken, &queue.RedactNames, &queue.TicketCycle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	if requiredFields != "" {
		if err := json.Unmarshal([]byte(requiredFields), &queue.RequiredFields); err != nil {
			return models.Queue{}, fmt.Errorf("decode required fields: %w", err)
		}
	}
	queue.LocationID = locationID.String
	queue.ManualAvgMinutes = nullIntPtr(manual)
	return queue, nil
}

func scanEntry(row scanner) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var status, smsStatus, emailStatus string
	var ticketNull, positionNull, etaNull, notifiedAtNull, cancelledAtNull sql.NullInt64
	var smsIDNull, emailIDNull sql.NullString
	var createdAt int64
	err := row.Scan(&entry.EntryID, &entry.QueueID, &entry.BusinessID, &entry.PublicToken, &ticketNull, &status,
		&positionNull, &etaNull, &entry.Name, &entry.Phone, &entry.Email, &entry.PartySize, &entry.SeatingPreference,
		&createdAt, &notifiedAtNull, &cancelledAtNull, &smsStatus, &smsIDNull, &emailStatus, &emailIDNull)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}
	entry.Status = models.Status(status)
	entry.CreatedAt = fromMillis(createdAt)
	entry.TicketNumber = nullIntPtr(ticketNull)
	entry.QueuePosition = nullIntPtr(positionNull)
	entry.ETAMinutes = nullIntPtr(etaNull)
	entry.NotifiedAt = nullTimePtr(notifiedAtNull)
	entry.CancelledAt = nullTimePtr(cancelledAtNull)
	entry.SMS = models.Delivery{Status: models.DeliveryStatus(smsStatus), MessageID: smsIDNull.String}
	entry.EmailDelivery = models.Delivery{Status: models.DeliveryStatus(emailStatus), MessageID: emailIDNull.String}
	return entry, nil
}

func scanEntries(rows *sql.Rows) ([]models.QueueEntry, error) {
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

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullIntPtr(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int64)
	return &v
}

func nullTimePtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}
