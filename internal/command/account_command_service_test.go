package command

import (
	"context"
	"errors"
	"testing"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/domain"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// The projection repository is the production AccountReader; its
// staleness-guarded read must keep satisfying the interface.
var _ AccountReader = (*repository.ProjectionRepository)(nil)

// ---- mock implementations ----

type mockReader struct {
	findFn func(uuid.UUID) (domain.Account, error)
}

func (m *mockReader) FindCurrent(_ context.Context, accountID uuid.UUID) (domain.Account, error) {
	if m.findFn != nil {
		return m.findFn(accountID)
	}
	return domain.Account{}, errors.New("not configured")
}

type mockWriter struct {
	saved []domain.Account
	err   error
}

func (m *mockWriter) Save(_ context.Context, account domain.Account) error {
	m.saved = append(m.saved, account)
	return m.err
}

type mockReporter struct {
	reported []domain.ErrorEvent
}

func (m *mockReporter) Report(_ context.Context, event domain.ErrorEvent) error {
	m.reported = append(m.reported, event)
	return nil
}

func openedAccount(balance string) domain.Account {
	return domain.NewAccount(uuid.New(), uuid.New(), "EUR", domain.TypeMain, 2, domain.StatusOpened, decimal.RequireFromString(balance))
}

// ---- tests ----

func TestInitiateCommand(t *testing.T) {
	t.Run("saves the new aggregate", func(t *testing.T) {
		writer := &mockWriter{}
		svc := NewAccountCommandService(&mockReader{}, writer, &mockReporter{})

		if err := svc.Initiate(context.Background(), uuid.New(), "MAIN", "EUR", uuid.New()); err != nil {
			t.Fatal(err)
		}
		if len(writer.saved) != 1 {
			t.Fatalf("expected 1 save, got %d", len(writer.saved))
		}
	})

	t.Run("reports a rejection instead of saving", func(t *testing.T) {
		writer := &mockWriter{}
		reporter := &mockReporter{}
		svc := NewAccountCommandService(&mockReader{}, writer, reporter)

		if err := svc.Initiate(context.Background(), uuid.New(), "MAIN", "GBP", uuid.New()); err != nil {
			t.Fatal(err)
		}
		if len(writer.saved) != 0 {
			t.Error("rejected command must not be saved")
		}
		if len(reporter.reported) != 1 || reporter.reported[0].Reason() != domain.ReasonInvalidCurrency {
			t.Fatalf("expected one INVALID_CURRENCY report, got %v", reporter.reported)
		}
	})
}

func TestOpenCommand(t *testing.T) {
	t.Run("swallows ALREADY_OPENED", func(t *testing.T) {
		reader := &mockReader{findFn: func(uuid.UUID) (domain.Account, error) { return openedAccount("0"), nil }}
		writer := &mockWriter{}
		reporter := &mockReporter{}
		svc := NewAccountCommandService(reader, writer, reporter)

		if err := svc.Open(context.Background(), uuid.New()); err != nil {
			t.Fatal(err)
		}
		if len(writer.saved) != 0 || len(reporter.reported) != 0 {
			t.Error("redelivered open must neither save nor report")
		}
	})

	t.Run("reports opening a closed account", func(t *testing.T) {
		closed := domain.NewAccount(uuid.New(), uuid.New(), "EUR", domain.TypeMain, 4, domain.StatusClosed, decimal.Zero)
		reader := &mockReader{findFn: func(uuid.UUID) (domain.Account, error) { return closed, nil }}
		reporter := &mockReporter{}
		svc := NewAccountCommandService(reader, &mockWriter{}, reporter)

		if err := svc.Open(context.Background(), uuid.New()); err != nil {
			t.Fatal(err)
		}
		if len(reporter.reported) != 1 || reporter.reported[0].Reason() != domain.ReasonAccountNotOnValidStatus {
			t.Fatalf("expected ACCOUNT_NOT_ON_VALID_STATUS report, got %v", reporter.reported)
		}
	})

	t.Run("propagates a stale read", func(t *testing.T) {
		stale := errors.New("account is not up to date")
		reader := &mockReader{findFn: func(uuid.UUID) (domain.Account, error) { return domain.Account{}, stale }}
		svc := NewAccountCommandService(reader, &mockWriter{}, &mockReporter{})

		if err := svc.Open(context.Background(), uuid.New()); !errors.Is(err, stale) {
			t.Fatalf("expected the read error back, got %v", err)
		}
	})
}

func TestCreditCommand(t *testing.T) {
	t.Run("saves the credited aggregate", func(t *testing.T) {
		reader := &mockReader{findFn: func(uuid.UUID) (domain.Account, error) { return openedAccount("5"), nil }}
		writer := &mockWriter{}
		svc := NewAccountCommandService(reader, writer, &mockReporter{})

		err := svc.Credit(context.Background(), uuid.New(), uuid.New(), decimal.RequireFromString("2"), "EUR", domain.SourceSepaTransfer)
		if err != nil {
			t.Fatal(err)
		}
		if len(writer.saved) != 1 || !writer.saved[0].Balance.Equal(decimal.RequireFromString("7")) {
			t.Fatalf("expected saved balance 7, got %v", writer.saved)
		}
	})

	t.Run("reports a wrong currency", func(t *testing.T) {
		reader := &mockReader{findFn: func(uuid.UUID) (domain.Account, error) { return openedAccount("5"), nil }}
		reporter := &mockReporter{}
		svc := NewAccountCommandService(reader, &mockWriter{}, reporter)

		err := svc.Credit(context.Background(), uuid.New(), uuid.New(), decimal.RequireFromString("2"), "USD", domain.SourceCardTx)
		if err != nil {
			t.Fatal(err)
		}
		if len(reporter.reported) != 1 || reporter.reported[0].Reason() != domain.ReasonInvalidCurrency {
			t.Fatalf("expected INVALID_CURRENCY report, got %v", reporter.reported)
		}
	})
}

func TestDebitCommand(t *testing.T) {
	t.Run("reports insufficient funds", func(t *testing.T) {
		reader := &mockReader{findFn: func(uuid.UUID) (domain.Account, error) { return openedAccount("1"), nil }}
		reporter := &mockReporter{}
		svc := NewAccountCommandService(reader, &mockWriter{}, reporter)

		err := svc.Debit(context.Background(), uuid.New(), uuid.New(), decimal.RequireFromString("2"), "EUR", domain.SourceCryptoTx)
		if err != nil {
			t.Fatal(err)
		}
		if len(reporter.reported) != 1 || reporter.reported[0].Reason() != domain.ReasonInsufficientFunds {
			t.Fatalf("expected INSUFFICIENT_FUNDS report, got %v", reporter.reported)
		}
	})
}

func TestCloseCommand(t *testing.T) {
	t.Run("swallows ALREADY_CLOSED", func(t *testing.T) {
		closed := domain.NewAccount(uuid.New(), uuid.New(), "EUR", domain.TypeMain, 4, domain.StatusClosed, decimal.Zero)
		reader := &mockReader{findFn: func(uuid.UUID) (domain.Account, error) { return closed, nil }}
		writer := &mockWriter{}
		reporter := &mockReporter{}
		svc := NewAccountCommandService(reader, writer, reporter)

		if err := svc.Close(context.Background(), uuid.New()); err != nil {
			t.Fatal(err)
		}
		if len(writer.saved) != 0 || len(reporter.reported) != 0 {
			t.Error("redelivered close must neither save nor report")
		}
	})

	t.Run("reports remaining funds", func(t *testing.T) {
		reader := &mockReader{findFn: func(uuid.UUID) (domain.Account, error) { return openedAccount("9"), nil }}
		reporter := &mockReporter{}
		svc := NewAccountCommandService(reader, &mockWriter{}, reporter)

		if err := svc.Close(context.Background(), uuid.New()); err != nil {
			t.Fatal(err)
		}
		if len(reporter.reported) != 1 || reporter.reported[0].Reason() != domain.ReasonFundsStillPresent {
			t.Fatalf("expected FUNDS_STILL_PRESENT report, got %v", reporter.reported)
		}
	})
}
