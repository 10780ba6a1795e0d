package command

import (
	"context"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountReader loads current aggregate state from the read model. The read
// is staleness-guarded: it fails rather than hand back an account the
// projection has not caught up with.
type AccountReader interface {
	FindCurrent(ctx context.Context, accountID uuid.UUID) (domain.Account, error)
}

// AccountWriter appends the aggregate's pending events to its stream.
type AccountWriter interface {
	Save(ctx context.Context, account domain.Account) error
}

// ErrorReporter records a rejected command in the account's stream.
type ErrorReporter interface {
	Report(ctx context.Context, event domain.ErrorEvent) error
}

// AccountCommandService orchestrates the five account commands: load state,
// run the aggregate transition, persist the outcome or report the rejection.
// Domain rejections never surface as errors; only infrastructure faults do.
type AccountCommandService struct {
	reader   AccountReader
	writer   AccountWriter
	reporter ErrorReporter
}

func NewAccountCommandService(reader AccountReader, writer AccountWriter, reporter ErrorReporter) *AccountCommandService {
	return &AccountCommandService{reader: reader, writer: writer, reporter: reporter}
}

func (s *AccountCommandService) Initiate(ctx context.Context, accountID uuid.UUID, accountType, currency string, customerID uuid.UUID) error {
	account, rejection := domain.Initiate(accountID, accountType, currency, customerID)
	if rejection != nil {
		return s.reporter.Report(ctx, rejection)
	}
	return s.writer.Save(ctx, account)
}

// Open transitions an initiated account to Opened. An ALREADY_OPENED
// rejection is swallowed: it only means the idempotent open command was
// redelivered, which is not worth a permanent error event.
func (s *AccountCommandService) Open(ctx context.Context, accountID uuid.UUID) error {
	account, err := s.reader.FindCurrent(ctx, accountID)
	if err != nil {
		return err
	}
	opened, rejection := account.Open()
	if rejection != nil {
		if rejection.Reason() == domain.ReasonAlreadyOpened {
			return nil
		}
		return s.reporter.Report(ctx, rejection)
	}
	return s.writer.Save(ctx, opened)
}

func (s *AccountCommandService) Credit(ctx context.Context, transactionID, accountID uuid.UUID, amount decimal.Decimal, currency string, source domain.TransactionSource) error {
	account, err := s.reader.FindCurrent(ctx, accountID)
	if err != nil {
		return err
	}
	credited, rejection := account.Credit(transactionID, amount, currency, source)
	if rejection != nil {
		return s.reporter.Report(ctx, rejection)
	}
	return s.writer.Save(ctx, credited)
}

func (s *AccountCommandService) Debit(ctx context.Context, transactionID, accountID uuid.UUID, amount decimal.Decimal, currency string, source domain.TransactionSource) error {
	account, err := s.reader.FindCurrent(ctx, accountID)
	if err != nil {
		return err
	}
	debited, rejection := account.Debit(transactionID, amount, currency, source)
	if rejection != nil {
		return s.reporter.Report(ctx, rejection)
	}
	return s.writer.Save(ctx, debited)
}

// Close closes an account once its balance is zero. ALREADY_CLOSED is
// swallowed for the same redelivery reason as Open.
func (s *AccountCommandService) Close(ctx context.Context, accountID uuid.UUID) error {
	account, err := s.reader.FindCurrent(ctx, accountID)
	if err != nil {
		return err
	}
	closed, rejection := account.Close()
	if rejection != nil {
		if rejection.Reason() == domain.ReasonAlreadyClosed {
			return nil
		}
		return s.reporter.Report(ctx, rejection)
	}
	return s.writer.Save(ctx, closed)
}
