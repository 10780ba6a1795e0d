package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionSource tags where a credit or debit originated.
type TransactionSource string

const (
	SourceSepaTransfer TransactionSource = "SEPA_TRANSFER"
	SourceCryptoTx     TransactionSource = "CRYPTO_TX"
	SourceCardTx       TransactionSource = "CARD_TX"
)

// Reason is the closed set of rejection reasons carried by error events.
type Reason string

const (
	ReasonInvalidCurrency         Reason = "INVALID_CURRENCY"
	ReasonInvalidAccountType      Reason = "INVALID_ACCOUNT_TYPE"
	ReasonAlreadyOpened           Reason = "ALREADY_OPENED"
	ReasonAccountNotOnValidStatus Reason = "ACCOUNT_NOT_ON_VALID_STATUS"
	ReasonNonPositiveAmount       Reason = "NON_POSITIVE_AMOUNT"
	ReasonInsufficientFunds       Reason = "INSUFFICIENT_FUNDS"
	ReasonAlreadyClosed           Reason = "ALREADY_CLOSED"
	ReasonFundsStillPresent       Reason = "FUNDS_STILL_PRESENT"
)

// Event is the closed union of everything that can be appended to an account
// stream. The unexported marker keeps the set of variants fixed to this package.
type Event interface {
	EventID() uuid.UUID
	AccountID() uuid.UUID
	OccurredOn() time.Time
	EventType() string
	isAccountEvent()
}

// DomainEvent marks events recording a successful state transition.
type DomainEvent interface {
	Event
	isDomainEvent()
}

// ErrorEvent marks events recording a rejected command.
type ErrorEvent interface {
	Event
	Reason() Reason
}

// BaseEvent carries the fields every account event shares.
type BaseEvent struct {
	ID      uuid.UUID `json:"eventId"`
	Account uuid.UUID `json:"accountId"`
	On      time.Time `json:"on"`
}

func (e BaseEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseEvent) AccountID() uuid.UUID  { return e.Account }
func (e BaseEvent) OccurredOn() time.Time { return e.On }
func (e BaseEvent) isAccountEvent()       {}

type AccountInitiated struct {
	BaseEvent
	CustomerID uuid.UUID `json:"customerId"`
	Currency   string    `json:"currency"`
	Type       string    `json:"type"`
}

func (AccountInitiated) EventType() string { return "AccountInitiated" }
func (AccountInitiated) isDomainEvent()    {}

type AccountOpened struct {
	BaseEvent
}

func (AccountOpened) EventType() string { return "AccountOpened" }
func (AccountOpened) isDomainEvent()    {}

type AccountCredited struct {
	BaseEvent
	Amount        decimal.Decimal   `json:"amount"`
	TransactionID uuid.UUID         `json:"transactionId"`
	Source        TransactionSource `json:"transactionSource"`
}

func (AccountCredited) EventType() string { return "AccountCredited" }
func (AccountCredited) isDomainEvent()    {}

type AccountDebited struct {
	BaseEvent
	Amount        decimal.Decimal   `json:"amount"`
	TransactionID uuid.UUID         `json:"transactionId"`
	Source        TransactionSource `json:"transactionSource"`
}

func (AccountDebited) EventType() string { return "AccountDebited" }
func (AccountDebited) isDomainEvent()    {}

type AccountClosed struct {
	BaseEvent
}

func (AccountClosed) EventType() string { return "AccountClosed" }
func (AccountClosed) isDomainEvent()    {}

type AccountInitiationFailed struct {
	BaseEvent
	FailureReason Reason `json:"reason"`
}

func (AccountInitiationFailed) EventType() string { return "AccountInitiationFailed" }
func (e AccountInitiationFailed) Reason() Reason { return e.FailureReason }

type AccountOpeningFailed struct {
	BaseEvent
	FailureReason Reason `json:"reason"`
}

func (AccountOpeningFailed) EventType() string { return "AccountOpeningFailed" }
func (e AccountOpeningFailed) Reason() Reason { return e.FailureReason }

type AccountCreditFailed struct {
	BaseEvent
	FailureReason Reason `json:"reason"`
}

func (AccountCreditFailed) EventType() string { return "AccountCreditFailed" }
func (e AccountCreditFailed) Reason() Reason { return e.FailureReason }

type AccountDebitFailed struct {
	BaseEvent
	FailureReason Reason `json:"reason"`
}

func (AccountDebitFailed) EventType() string { return "AccountDebitFailed" }
func (e AccountDebitFailed) Reason() Reason { return e.FailureReason }

type AccountClosingFailed struct {
	BaseEvent
	FailureReason Reason `json:"reason"`
}

func (AccountClosingFailed) EventType() string { return "AccountClosingFailed" }
func (e AccountClosingFailed) Reason() Reason { return e.FailureReason }

// UnmarshalEvent decodes a stored payload back into its concrete event type.
// An unknown event type is a fatal decode error for the caller.
func UnmarshalEvent(eventType string, payload []byte) (Event, error) {
	var (
		event Event
		err   error
	)
	switch eventType {
	case "AccountInitiated":
		var e AccountInitiated
		err = json.Unmarshal(payload, &e)
		event = e
	case "AccountOpened":
		var e AccountOpened
		err = json.Unmarshal(payload, &e)
		event = e
	case "AccountCredited":
		var e AccountCredited
		err = json.Unmarshal(payload, &e)
		event = e
	case "AccountDebited":
		var e AccountDebited
		err = json.Unmarshal(payload, &e)
		event = e
	case "AccountClosed":
		var e AccountClosed
		err = json.Unmarshal(payload, &e)
		event = e
	case "AccountInitiationFailed":
		var e AccountInitiationFailed
		err = json.Unmarshal(payload, &e)
		event = e
	case "AccountOpeningFailed":
		var e AccountOpeningFailed
		err = json.Unmarshal(payload, &e)
		event = e
	case "AccountCreditFailed":
		var e AccountCreditFailed
		err = json.Unmarshal(payload, &e)
		event = e
	case "AccountDebitFailed":
		var e AccountDebitFailed
		err = json.Unmarshal(payload, &e)
		event = e
	case "AccountClosingFailed":
		var e AccountClosingFailed
		err = json.Unmarshal(payload, &e)
		event = e
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", eventType, err)
	}
	return event, nil
}
