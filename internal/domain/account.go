package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusInitiated AccountStatus = "Initiated"
	StatusOpened    AccountStatus = "Opened"
	StatusClosed    AccountStatus = "Closed"
)

// AccountType is the product type of an account.
type AccountType string

const TypeMain AccountType = "MAIN"

var (
	allowedCurrencies   = []string{"EUR"}
	allowedAccountTypes = []string{string(TypeMain)}
)

// IDSource produces event identifiers. Overridable in tests.
type IDSource func() uuid.UUID

// Clock produces event timestamps. Overridable in tests.
type Clock func() time.Time

func defaultIDSource() uuid.UUID { return uuid.New() }

func defaultClock() time.Time { return time.Now().UTC() }

// Account is the aggregate root, reconstructed per command from the read
// model. Revision is the revision of the last persisted event; Pending holds
// events emitted by operations on this instance but not yet appended to the
// stream. Operations are pure: they never touch I/O, they only validate and
// either return a copy with a new pending event or a typed rejection event.
type Account struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	Currency   string
	Type       AccountType
	Revision   int64
	Status     AccountStatus
	Balance    decimal.Decimal
	Pending    []DomainEvent

	newID IDSource
	now   Clock
}

// Option customises the id source or clock of an aggregate, used by tests to
// make emitted events deterministic.
type Option func(*Account)

func WithIDSource(ids IDSource) Option { return func(a *Account) { a.newID = ids } }

func WithClock(clock Clock) Option { return func(a *Account) { a.now = clock } }

// NewAccount rebuilds an aggregate from already persisted state.
func NewAccount(
	id uuid.UUID,
	customerID uuid.UUID,
	currency string,
	accountType AccountType,
	revision int64,
	status AccountStatus,
	balance decimal.Decimal,
	opts ...Option,
) Account {
	account := Account{
		ID:         id,
		CustomerID: customerID,
		Currency:   currency,
		Type:       accountType,
		Revision:   revision,
		Status:     status,
		Balance:    balance,
		newID:      defaultIDSource,
		now:        defaultClock,
	}
	for _, opt := range opts {
		opt(&account)
	}
	return account
}

// Initiate starts a new account. The account id doubles as the event id of
// both the AccountInitiated event and any initiation rejection, so retried
// initiations are naturally deduplicated downstream.
func Initiate(
	accountID uuid.UUID,
	accountType string,
	currency string,
	customerID uuid.UUID,
	opts ...Option,
) (Account, ErrorEvent) {
	account := NewAccount(accountID, customerID, currency, AccountType(accountType), 0, StatusInitiated, decimal.Zero, opts...)
	if !contains(allowedCurrencies, currency) {
		return Account{}, AccountInitiationFailed{
			BaseEvent:     BaseEvent{ID: accountID, Account: accountID, On: account.now()},
			FailureReason: ReasonInvalidCurrency,
		}
	}
	if !contains(allowedAccountTypes, accountType) {
		return Account{}, AccountInitiationFailed{
			BaseEvent:     BaseEvent{ID: accountID, Account: accountID, On: account.now()},
			FailureReason: ReasonInvalidAccountType,
		}
	}
	account.Pending = []DomainEvent{AccountInitiated{
		BaseEvent:  BaseEvent{ID: accountID, Account: accountID, On: account.now()},
		CustomerID: customerID,
		Currency:   currency,
		Type:       accountType,
	}}
	return account, nil
}

// Open transitions an initiated account to Opened.
func (a Account) Open() (Account, ErrorEvent) {
	switch a.Status {
	case StatusOpened:
		return Account{}, AccountOpeningFailed{
			BaseEvent:     BaseEvent{ID: a.newID(), Account: a.ID, On: a.now()},
			FailureReason: ReasonAlreadyOpened,
		}
	case StatusClosed:
		return Account{}, AccountOpeningFailed{
			BaseEvent:     BaseEvent{ID: a.newID(), Account: a.ID, On: a.now()},
			FailureReason: ReasonAccountNotOnValidStatus,
		}
	default:
		a.Status = StatusOpened
		a.Pending = append(a.Pending, AccountOpened{
			BaseEvent: BaseEvent{ID: a.newID(), Account: a.ID, On: a.now()},
		})
		return a, nil
	}
}

// Credit increases the balance. The transaction id is reused as the event id
// so the same transaction can never be applied twice by the projection.
// Validation order: currency, status, amount.
func (a Account) Credit(transactionID uuid.UUID, amount decimal.Decimal, currency string, source TransactionSource) (Account, ErrorEvent) {
	if reason, ok := a.validateTransaction(amount, currency); !ok {
		return Account{}, AccountCreditFailed{
			BaseEvent:     BaseEvent{ID: transactionID, Account: a.ID, On: a.now()},
			FailureReason: reason,
		}
	}
	a.Balance = a.Balance.Add(amount)
	a.Pending = append(a.Pending, AccountCredited{
		BaseEvent:     BaseEvent{ID: transactionID, Account: a.ID, On: a.now()},
		Amount:        amount,
		TransactionID: transactionID,
		Source:        source,
	})
	return a, nil
}

// Debit decreases the balance. Same validations as Credit, plus the balance
// must cover the amount.
func (a Account) Debit(transactionID uuid.UUID, amount decimal.Decimal, currency string, source TransactionSource) (Account, ErrorEvent) {
	reason, ok := a.validateTransaction(amount, currency)
	if ok && a.Balance.LessThan(amount) {
		reason, ok = ReasonInsufficientFunds, false
	}
	if !ok {
		return Account{}, AccountDebitFailed{
			BaseEvent:     BaseEvent{ID: transactionID, Account: a.ID, On: a.now()},
			FailureReason: reason,
		}
	}
	a.Balance = a.Balance.Sub(amount)
	a.Pending = append(a.Pending, AccountDebited{
		BaseEvent:     BaseEvent{ID: transactionID, Account: a.ID, On: a.now()},
		Amount:        amount,
		TransactionID: transactionID,
		Source:        source,
	})
	return a, nil
}

// Close transitions the account to Closed; only allowed once all funds left.
func (a Account) Close() (Account, ErrorEvent) {
	switch {
	case a.Status == StatusClosed:
		return Account{}, AccountClosingFailed{
			BaseEvent:     BaseEvent{ID: a.newID(), Account: a.ID, On: a.now()},
			FailureReason: ReasonAlreadyClosed,
		}
	case a.Balance.GreaterThan(decimal.Zero):
		return Account{}, AccountClosingFailed{
			BaseEvent:     BaseEvent{ID: a.newID(), Account: a.ID, On: a.now()},
			FailureReason: ReasonFundsStillPresent,
		}
	default:
		a.Status = StatusClosed
		a.Pending = append(a.Pending, AccountClosed{
			BaseEvent: BaseEvent{ID: a.newID(), Account: a.ID, On: a.now()},
		})
		return a, nil
	}
}

func (a Account) validateTransaction(amount decimal.Decimal, currency string) (Reason, bool) {
	switch {
	case currency != a.Currency:
		return ReasonInvalidCurrency, false
	case a.Status != StatusOpened:
		return ReasonAccountNotOnValidStatus, false
	case !amount.GreaterThan(decimal.Zero):
		return ReasonNonPositiveAmount, false
	default:
		return "", true
	}
}

// Apply folds a single domain event into the aggregate state, advancing the
// revision to the event's stream revision. Used to replay history.
func (a Account) Apply(event DomainEvent, revision int64) Account {
	switch e := event.(type) {
	case AccountInitiated:
		a.ID = e.Account
		a.CustomerID = e.CustomerID
		a.Currency = e.Currency
		a.Type = AccountType(e.Type)
		a.Status = StatusInitiated
		a.Balance = decimal.Zero
		if a.newID == nil {
			a.newID = defaultIDSource
		}
		if a.now == nil {
			a.now = defaultClock
		}
	case AccountOpened:
		a.Status = StatusOpened
	case AccountCredited:
		a.Balance = a.Balance.Add(e.Amount)
	case AccountDebited:
		a.Balance = a.Balance.Sub(e.Amount)
	case AccountClosed:
		a.Status = StatusClosed
	}
	a.Revision = revision
	return a
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
