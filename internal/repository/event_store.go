package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StreamPrefix namespaces every per-account stream in the event store.
const StreamPrefix = "account-"

const uniqueViolation = "23505"

// OptimisticLockError signals that two writers raced on the same account
// stream: the expected revision no longer matched when the append ran.
// Callers must reload state before retrying.
type OptimisticLockError struct {
	AccountID uuid.UUID
	EventID   uuid.UUID
}

func (e OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock conflict for account '%s' on event '%s'", e.AccountID, e.EventID)
}

// StoredEvent is one durable record of the global, totally ordered feed.
type StoredEvent struct {
	GlobalPosition int64
	StreamID       string
	EventID        uuid.UUID
	EventType      string
	Revision       int64
	Payload        []byte
	OccurredOn     time.Time
}

// EventStore is the write-side source of truth: a per-account, strictly
// ordered, append-only stream over PostgreSQL. Ordering and optimistic
// concurrency are both enforced by the unique (stream_id, revision) key;
// a conflicting append loses the race at commit time instead of requiring
// any up-front read.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Save appends the aggregate's pending events to its stream. The first event
// of a brand new account must create the stream, so it asserts revision 0 is
// free; any other append asserts the stream is still at the revision the
// aggregate was loaded with.
func (s *EventStore) Save(ctx context.Context, account domain.Account) error {
	if len(account.Pending) == 0 {
		return nil
	}

	start := account.Revision + 1
	if _, ok := account.Pending[0].(domain.AccountInitiated); ok {
		start = 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer tx.Rollback()

	stream := StreamPrefix + account.ID.String()
	for i, event := range account.Pending {
		if err := insertEvent(ctx, tx, stream, start+int64(i), event); err != nil {
			if lockErr, ok := conflictError(err, account); ok {
				return lockErr
			}
			return fmt.Errorf("failed to append event to stream %s: %w", stream, err)
		}
	}

	if err := tx.Commit(); err != nil {
		if lockErr, ok := conflictError(err, account); ok {
			return lockErr
		}
		return fmt.Errorf("failed to commit append to stream %s: %w", stream, err)
	}
	return nil
}

// Report appends an error event with no revision precondition. Error events
// are informational, they never conflict with domain history, so a rare
// concurrent append is absorbed by recomputing the tail revision.
func (s *EventStore) Report(ctx context.Context, event domain.ErrorEvent) error {
	stream := StreamPrefix + event.AccountID().String()

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		revision, err := s.streamRevision(ctx, stream)
		if err != nil {
			return err
		}
		err = func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("failed to begin report transaction: %w", err)
			}
			defer tx.Rollback()
			if err := insertEvent(ctx, tx, stream, revision+1, event); err != nil {
				return err
			}
			return tx.Commit()
		}()
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("failed to report error event to stream %s: %w", stream, err)
		}
		lastErr = err
	}
	return fmt.Errorf("failed to report error event to stream %s: %w", stream, lastErr)
}

// LatestRevision returns the revision of the most recently appended event for
// an account, or -1 when the stream does not exist yet. Used by the
// projection to detect staleness.
func (s *EventStore) LatestRevision(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return s.streamRevision(ctx, StreamPrefix+accountID.String())
}

func (s *EventStore) streamRevision(ctx context.Context, stream string) (int64, error) {
	var revision int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(revision), -1) FROM account_event WHERE stream_id = $1`, stream,
	).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("failed to read revision of stream %s: %w", stream, err)
	}
	return revision, nil
}

// ReadFeed returns up to limit events strictly after the given global
// position, in global order. This is the tail the feed relay follows.
func (s *EventStore) ReadFeed(ctx context.Context, afterPosition int64, limit int) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT global_position, stream_id, event_id, event_type, revision, payload, occurred_on
		FROM account_event
		WHERE global_position > $1
		ORDER BY global_position
		LIMIT $2`, afterPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read event feed: %w", err)
	}
	defer rows.Close()

	var feed []StoredEvent
	for rows.Next() {
		var stored StoredEvent
		if err := rows.Scan(
			&stored.GlobalPosition, &stored.StreamID, &stored.EventID,
			&stored.EventType, &stored.Revision, &stored.Payload, &stored.OccurredOn,
		); err != nil {
			return nil, fmt.Errorf("failed to scan feed event: %w", err)
		}
		feed = append(feed, stored)
	}
	return feed, rows.Err()
}

// LoadCheckpoint returns the last global position a named feed follower has
// published, 0 when the follower has never run.
func (s *EventStore) LoadCheckpoint(ctx context.Context, name string) (int64, error) {
	var position int64
	err := s.db.QueryRowContext(ctx,
		`SELECT position FROM feed_checkpoint WHERE name = $1`, name,
	).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint %s: %w", name, err)
	}
	return position, nil
}

func (s *EventStore) SaveCheckpoint(ctx context.Context, name string, position int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feed_checkpoint (name, position) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET position = EXCLUDED.position`, name, position)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", name, err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, stream string, revision int64, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventID(), err)
	}
	query := `
		INSERT INTO account_event (event_id, stream_id, revision, event_type, payload, occurred_on)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if !dedupeOnEventID(event) {
		_, err = tx.ExecContext(ctx, query, event.EventID(), stream, revision, event.EventType(), payload, event.OccurredOn())
		return err
	}
	result, err := tx.ExecContext(ctx, query+` ON CONFLICT (event_id) DO NOTHING`,
		event.EventID(), stream, revision, event.EventType(), payload, event.OccurredOn())
	if err != nil {
		return err
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		log.Printf("Event '%s' already appended to stream %s, skipping duplicate", event.EventID(), stream)
	}
	return nil
}

// dedupeOnEventID reports whether a duplicate event id makes the append an
// idempotent no-op. Credit, debit and rejection events reuse the transaction
// id, so a redelivered command must not wedge the whole append. The initiating
// event reuses the account id, and a second initiation must lose the race on
// its unique constraints instead of silently succeeding.
func dedupeOnEventID(event domain.Event) bool {
	_, initiating := event.(domain.AccountInitiated)
	return !initiating
}

// conflictError maps a unique violation on the account's stream to the
// optimistic lock error handed back to callers.
func conflictError(err error, account domain.Account) (OptimisticLockError, bool) {
	if !isUniqueViolation(err) {
		return OptimisticLockError{}, false
	}
	return OptimisticLockError{AccountID: account.ID, EventID: account.Pending[0].EventID()}, true
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
