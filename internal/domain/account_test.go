package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	testTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fixedID  = uuid.MustParse("5f9a1c7e-2b3d-4e5f-8a9b-0c1d2e3f4a5b")
)

func fixedClock() time.Time { return testTime }

func fixedIDSource() uuid.UUID { return fixedID }

func anOpenedAccount(balance string) Account {
	return NewAccount(
		uuid.New(), uuid.New(), "EUR", TypeMain, 3, StatusOpened, decimal.RequireFromString(balance),
		WithIDSource(fixedIDSource), WithClock(fixedClock),
	)
}

func TestInitiate(t *testing.T) {
	accountID := uuid.New()
	customerID := uuid.New()

	t.Run("emits AccountInitiated with the account id as event id", func(t *testing.T) {
		account, rejection := Initiate(accountID, "MAIN", "EUR", customerID, WithClock(fixedClock))
		if rejection != nil {
			t.Fatalf("unexpected rejection: %v", rejection.Reason())
		}
		if len(account.Pending) != 1 {
			t.Fatalf("expected 1 pending event, got %d", len(account.Pending))
		}
		initiated, ok := account.Pending[0].(AccountInitiated)
		if !ok {
			t.Fatalf("expected AccountInitiated, got %T", account.Pending[0])
		}
		if initiated.EventID() != accountID {
			t.Errorf("expected event id %s, got %s", accountID, initiated.EventID())
		}
		if account.Status != StatusInitiated || account.Revision != 0 {
			t.Errorf("unexpected state: status=%s revision=%d", account.Status, account.Revision)
		}
	})

	t.Run("rejects unsupported currency before unsupported type", func(t *testing.T) {
		_, rejection := Initiate(accountID, "SAVINGS", "GBP", customerID)
		if rejection == nil || rejection.Reason() != ReasonInvalidCurrency {
			t.Fatalf("expected INVALID_CURRENCY, got %v", rejection)
		}
		if rejection.EventID() != accountID {
			t.Errorf("rejection should reuse the account id as event id")
		}
	})

	t.Run("rejects unsupported account type", func(t *testing.T) {
		_, rejection := Initiate(accountID, "SAVINGS", "EUR", customerID)
		if rejection == nil || rejection.Reason() != ReasonInvalidAccountType {
			t.Fatalf("expected INVALID_ACCOUNT_TYPE, got %v", rejection)
		}
	})
}

func TestOpen(t *testing.T) {
	t.Run("opens an initiated account", func(t *testing.T) {
		account := NewAccount(uuid.New(), uuid.New(), "EUR", TypeMain, 0, StatusInitiated, decimal.Zero)
		opened, rejection := account.Open()
		if rejection != nil {
			t.Fatalf("unexpected rejection: %v", rejection.Reason())
		}
		if opened.Status != StatusOpened {
			t.Errorf("expected Opened, got %s", opened.Status)
		}
		if len(opened.Pending) != 1 {
			t.Fatalf("expected 1 pending event, got %d", len(opened.Pending))
		}
	})

	t.Run("rejects opening twice", func(t *testing.T) {
		_, rejection := anOpenedAccount("0").Open()
		if rejection == nil || rejection.Reason() != ReasonAlreadyOpened {
			t.Fatalf("expected ALREADY_OPENED, got %v", rejection)
		}
	})

	t.Run("rejects opening a closed account", func(t *testing.T) {
		account := NewAccount(uuid.New(), uuid.New(), "EUR", TypeMain, 5, StatusClosed, decimal.Zero)
		_, rejection := account.Open()
		if rejection == nil || rejection.Reason() != ReasonAccountNotOnValidStatus {
			t.Fatalf("expected ACCOUNT_NOT_ON_VALID_STATUS, got %v", rejection)
		}
	})
}

func TestCredit(t *testing.T) {
	transactionID := uuid.New()

	t.Run("adds the amount and reuses the transaction id as event id", func(t *testing.T) {
		account := anOpenedAccount("10")
		credited, rejection := account.Credit(transactionID, decimal.RequireFromString("2.50"), "EUR", SourceSepaTransfer)
		if rejection != nil {
			t.Fatalf("unexpected rejection: %v", rejection.Reason())
		}
		if !credited.Balance.Equal(decimal.RequireFromString("12.50")) {
			t.Errorf("expected balance 12.50, got %s", credited.Balance)
		}
		event := credited.Pending[0].(AccountCredited)
		if event.EventID() != transactionID || event.TransactionID != transactionID {
			t.Errorf("credit event must carry the transaction id")
		}
	})

	tests := []struct {
		name     string
		account  Account
		amount   string
		currency string
		reason   Reason
	}{
		{"wrong currency", anOpenedAccount("10"), "5", "USD", ReasonInvalidCurrency},
		{"account not opened", NewAccount(uuid.New(), uuid.New(), "EUR", TypeMain, 0, StatusInitiated, decimal.Zero), "5", "EUR", ReasonAccountNotOnValidStatus},
		{"zero amount", anOpenedAccount("10"), "0", "EUR", ReasonNonPositiveAmount},
		{"negative amount", anOpenedAccount("10"), "-1", "EUR", ReasonNonPositiveAmount},
		{"currency checked before status", NewAccount(uuid.New(), uuid.New(), "EUR", TypeMain, 0, StatusClosed, decimal.Zero), "5", "USD", ReasonInvalidCurrency},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			_, rejection := tt.account.Credit(transactionID, decimal.RequireFromString(tt.amount), tt.currency, SourceCardTx)
			if rejection == nil || rejection.Reason() != tt.reason {
				t.Fatalf("expected %s, got %v", tt.reason, rejection)
			}
		})
	}
}

func TestDebit(t *testing.T) {
	transactionID := uuid.New()

	t.Run("subtracts the amount", func(t *testing.T) {
		debited, rejection := anOpenedAccount("10").Debit(transactionID, decimal.RequireFromString("4"), "EUR", SourceCardTx)
		if rejection != nil {
			t.Fatalf("unexpected rejection: %v", rejection.Reason())
		}
		if !debited.Balance.Equal(decimal.RequireFromString("6")) {
			t.Errorf("expected balance 6, got %s", debited.Balance)
		}
	})

	t.Run("rejects when funds do not cover the amount", func(t *testing.T) {
		_, rejection := anOpenedAccount("3").Debit(transactionID, decimal.RequireFromString("3.01"), "EUR", SourceCryptoTx)
		if rejection == nil || rejection.Reason() != ReasonInsufficientFunds {
			t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", rejection)
		}
	})

	t.Run("non-positive amount wins over insufficient funds", func(t *testing.T) {
		_, rejection := anOpenedAccount("0").Debit(transactionID, decimal.RequireFromString("-5"), "EUR", SourceCryptoTx)
		if rejection == nil || rejection.Reason() != ReasonNonPositiveAmount {
			t.Fatalf("expected NON_POSITIVE_AMOUNT, got %v", rejection)
		}
	})
}

func TestClose(t *testing.T) {
	t.Run("closes an account with zero balance", func(t *testing.T) {
		closed, rejection := anOpenedAccount("0").Close()
		if rejection != nil {
			t.Fatalf("unexpected rejection: %v", rejection.Reason())
		}
		if closed.Status != StatusClosed {
			t.Errorf("expected Closed, got %s", closed.Status)
		}
	})

	t.Run("rejects closing with funds still present", func(t *testing.T) {
		_, rejection := anOpenedAccount("0.01").Close()
		if rejection == nil || rejection.Reason() != ReasonFundsStillPresent {
			t.Fatalf("expected FUNDS_STILL_PRESENT, got %v", rejection)
		}
	})

	t.Run("rejects closing twice", func(t *testing.T) {
		account := NewAccount(uuid.New(), uuid.New(), "EUR", TypeMain, 5, StatusClosed, decimal.Zero)
		_, rejection := account.Close()
		if rejection == nil || rejection.Reason() != ReasonAlreadyClosed {
			t.Fatalf("expected ALREADY_CLOSED, got %v", rejection)
		}
	})
}

// TestAccountLifecycle walks a whole account through its life and checks every
// intermediate balance, then replays the emitted history through Apply and
// expects the same final state.
func TestAccountLifecycle(t *testing.T) {
	accountID := uuid.New()
	customerID := uuid.New()

	account, rejection := Initiate(accountID, "MAIN", "EUR", customerID)
	if rejection != nil {
		t.Fatalf("initiate rejected: %v", rejection.Reason())
	}
	account, rejection = account.Open()
	if rejection != nil {
		t.Fatalf("open rejected: %v", rejection.Reason())
	}
	account, rejection = account.Credit(uuid.New(), decimal.RequireFromString("10"), "EUR", SourceSepaTransfer)
	if rejection != nil {
		t.Fatalf("credit rejected: %v", rejection.Reason())
	}
	account, rejection = account.Debit(uuid.New(), decimal.RequireFromString("3"), "EUR", SourceCardTx)
	if rejection != nil {
		t.Fatalf("debit rejected: %v", rejection.Reason())
	}
	if _, rejection = account.Close(); rejection == nil || rejection.Reason() != ReasonFundsStillPresent {
		t.Fatalf("expected close to be rejected while 7 EUR remain, got %v", rejection)
	}
	account, rejection = account.Debit(uuid.New(), decimal.RequireFromString("7"), "EUR", SourceSepaTransfer)
	if rejection != nil {
		t.Fatalf("debit rejected: %v", rejection.Reason())
	}
	account, rejection = account.Close()
	if rejection != nil {
		t.Fatalf("close rejected: %v", rejection.Reason())
	}

	if !account.Balance.Equal(decimal.Zero) || account.Status != StatusClosed {
		t.Errorf("unexpected final state: balance=%s status=%s", account.Balance, account.Status)
	}
	if len(account.Pending) != 6 {
		t.Fatalf("expected 6 pending events, got %d", len(account.Pending))
	}

	replayed := Account{}
	for i, event := range account.Pending {
		replayed = replayed.Apply(event, int64(i))
	}
	if replayed.Status != StatusClosed || !replayed.Balance.Equal(decimal.Zero) {
		t.Errorf("replay mismatch: balance=%s status=%s", replayed.Balance, replayed.Status)
	}
	if replayed.Revision != 5 {
		t.Errorf("expected replayed revision 5, got %d", replayed.Revision)
	}
	if replayed.ID != accountID || replayed.CustomerID != customerID {
		t.Errorf("replay lost identity fields")
	}
}

func TestFailedOperationsLeaveNoPendingEvents(t *testing.T) {
	account := anOpenedAccount("10")
	before := account.Balance

	if _, rejection := account.Credit(uuid.New(), decimal.RequireFromString("5"), "USD", SourceCardTx); rejection == nil {
		t.Fatal("expected rejection")
	}
	if _, rejection := account.Debit(uuid.New(), decimal.RequireFromString("100"), "EUR", SourceCardTx); rejection == nil {
		t.Fatal("expected rejection")
	}

	if !account.Balance.Equal(before) {
		t.Errorf("balance changed after rejected commands: %s", account.Balance)
	}
	if len(account.Pending) != 0 {
		t.Errorf("rejected commands must not leave pending events, got %d", len(account.Pending))
	}
}
