package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound signals the projection has no row for the account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountNotUpToDate signals the projection row exists but cannot be
	// trusted yet: either out-of-order updates are pending or the event store
	// holds newer events than the row has absorbed.
	ErrAccountNotUpToDate = errors.New("account is not up to date")
)

// RevisionReader exposes the event store's view of how far a stream has
// advanced, for staleness detection only.
type RevisionReader interface {
	LatestRevision(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// ProjectionRepository owns the denormalized account_projection read model.
// Nothing else writes to it. Every mutation is wrapped in an idempotency
// check so applying the same event twice is a no-op, which makes the whole
// read model safe under at-least-once delivery.
type ProjectionRepository struct {
	db        *sql.DB
	revisions RevisionReader
}

func NewProjectionRepository(db *sql.DB, revisions RevisionReader) *ProjectionRepository {
	return &ProjectionRepository{db: db, revisions: revisions}
}

// Create inserts the row for a freshly initiated account.
func (r *ProjectionRepository) Create(ctx context.Context, account domain.Account, eventID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin projection create: %w", err)
	}
	defer tx.Rollback()

	applied, err := claimIdempotencyKey(ctx, tx, eventID)
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("Event '%s' was already processed, skipping projection update", eventID)
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO account_projection (id, customer_id, currency, type, status, balance, revision, pending_out_of_order_updates)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		ON CONFLICT (id) DO NOTHING`,
		account.ID, account.CustomerID, account.Currency, account.Type,
		account.Status, account.Balance, account.Revision,
	)
	if err != nil {
		return fmt.Errorf("failed to create projection for account %s: %w", account.ID, err)
	}
	return tx.Commit()
}

// Update applies new state to an existing row. The read-modify-write runs
// under repeatable read with the row locked, and the idempotency marker is
// claimed in the same transaction: a crash between the two cannot lose or
// duplicate an update. The stored revision only ever moves forward; the
// pending-out-of-order counter tracks observed gaps and late arrivals.
func (r *ProjectionRepository) Update(ctx context.Context, account domain.Account, eventID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("failed to begin projection update: %w", err)
	}
	defer tx.Rollback()

	applied, err := claimIdempotencyKey(ctx, tx, eventID)
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("Event '%s' was already processed, skipping projection update", eventID)
		return tx.Commit()
	}

	var (
		currentRevision int64
		currentPending  int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT revision, pending_out_of_order_updates FROM account_projection WHERE id = $1 FOR UPDATE`,
		account.ID,
	).Scan(&currentRevision, &currentPending)
	if err == sql.ErrNoRows {
		return fmt.Errorf("projection row for account '%s': %w", account.ID, ErrAccountNotUpToDate)
	}
	if err != nil {
		return fmt.Errorf("failed to lock projection row for account %s: %w", account.ID, err)
	}

	newPending := nextPendingOutOfOrderUpdates(currentPending, currentRevision, account.Revision)

	_, err = tx.ExecContext(ctx, `
		UPDATE account_projection
		SET customer_id = $2,
		    currency = $3,
		    type = $4,
		    balance = $5,
		    status = $6,
		    revision = GREATEST(revision, $7),
		    pending_out_of_order_updates = $8
		WHERE id = $1`,
		account.ID, account.CustomerID, account.Currency, account.Type,
		account.Balance, account.Status, account.Revision, newPending,
	)
	if err != nil {
		return fmt.Errorf("failed to update projection for account %s: %w", account.ID, err)
	}
	return tx.Commit()
}

// Find reconstructs an Account from the projection row. With preventStaleReads
// the read refuses to serve a row the projection has not caught up with; the
// synchronizer itself reads without the guard, otherwise it could never catch
// up in the first place.
func (r *ProjectionRepository) Find(ctx context.Context, accountID uuid.UUID, preventStaleReads bool) (domain.Account, error) {
	var (
		customerID uuid.UUID
		currency   string
		accType    string
		status     string
		balance    decimal.Decimal
		revision   int64
		pending    int
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT customer_id, currency, type, status, balance, revision, pending_out_of_order_updates
		FROM account_projection WHERE id = $1`, accountID,
	).Scan(&customerID, &currency, &accType, &status, &balance, &revision, &pending)
	if err == sql.ErrNoRows {
		return domain.Account{}, fmt.Errorf("account '%s': %w", accountID, ErrAccountNotFound)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("failed to find projection for account %s: %w", accountID, err)
	}

	accountStatus, err := parseStatus(status)
	if err != nil {
		return domain.Account{}, err
	}
	account := domain.NewAccount(accountID, customerID, currency, domain.AccountType(accType), revision, accountStatus, balance)

	if preventStaleReads {
		if pending != 0 {
			return domain.Account{}, fmt.Errorf("account '%s': %w", accountID, ErrAccountNotUpToDate)
		}
		latest, err := r.revisions.LatestRevision(ctx, accountID)
		if err != nil {
			return domain.Account{}, err
		}
		if latest > revision {
			return domain.Account{}, fmt.Errorf("account '%s': %w", accountID, ErrAccountNotUpToDate)
		}
	}
	return account, nil
}

// FindCurrent is the staleness-guarded read used by the command side.
func (r *ProjectionRepository) FindCurrent(ctx context.Context, accountID uuid.UUID) (domain.Account, error) {
	return r.Find(ctx, accountID, true)
}

// claimIdempotencyKey records the event id as processed. Returns false when
// the key already existed, meaning the event was applied before.
func claimIdempotencyKey(ctx context.Context, tx *sql.Tx, eventID uuid.UUID) (bool, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO idempotency_key (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key %s: %w", eventID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key %s: %w", eventID, err)
	}
	return rows == 1, nil
}

// nextPendingOutOfOrderUpdates keeps count of events known to be missing.
// An exact next revision means the projection is in order again. A revision
// further ahead opens as many holes as it skips. A revision from the past is
// presumed to fill one previously observed hole.
func nextPendingOutOfOrderUpdates(currentPending int, currentRevision, newRevision int64) int {
	switch {
	case newRevision < currentRevision:
		if currentPending-1 < 0 {
			return 0
		}
		return currentPending - 1
	case newRevision > currentRevision+1:
		return currentPending + int(newRevision-(currentRevision+1))
	default:
		return 0
	}
}

func parseStatus(status string) (domain.AccountStatus, error) {
	switch status {
	case string(domain.StatusInitiated):
		return domain.StatusInitiated, nil
	case string(domain.StatusOpened):
		return domain.StatusOpened, nil
	case string(domain.StatusClosed):
		return domain.StatusClosed, nil
	default:
		return "", fmt.Errorf("unknown account status: %s", status)
	}
}
