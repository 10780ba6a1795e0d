package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/domain"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/pkg/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExternalStream is where account events are republished for other bounded
// contexts.
const ExternalStream = "account.events"

// EventHandler is one step of the side-effects pipeline. revision is the
// event's position in its account stream.
type EventHandler interface {
	Handle(ctx context.Context, event domain.Event, revision int64) error
}

// Pipeline drives every handler to completion, in a fixed order, for each
// dispatched event. The projection update runs first: it is the step whose
// consistency the read side depends on.
type Pipeline struct {
	handlers []EventHandler
}

func NewPipeline(
	projection *UpdateProjectionHandler,
	external *PublishExternalHandler,
	metrics *PublishMetricsHandler,
	logs *WriteLogsHandler,
	trigger *TriggerUseCaseHandler,
) *Pipeline {
	return &Pipeline{handlers: []EventHandler{projection, external, metrics, logs, trigger}}
}

func (p *Pipeline) Dispatch(ctx context.Context, event domain.Event, revision int64) error {
	for _, handler := range p.handlers {
		if err := handler.Handle(ctx, event, revision); err != nil {
			return err
		}
	}
	return nil
}

// ProjectionStore is the slice of the projection repository the synchronizer
// needs.
type ProjectionStore interface {
	Create(ctx context.Context, account domain.Account, eventID uuid.UUID) error
	Update(ctx context.Context, account domain.Account, eventID uuid.UUID) error
	Find(ctx context.Context, accountID uuid.UUID, preventStaleReads bool) (domain.Account, error)
}

// UpdateProjectionHandler keeps the read model in sync with the stream. Reads
// here never use the staleness guard: the synchronizer is the one component
// allowed to see a row it has not finished catching up.
type UpdateProjectionHandler struct {
	store ProjectionStore
}

func NewUpdateProjectionHandler(store ProjectionStore) *UpdateProjectionHandler {
	return &UpdateProjectionHandler{store: store}
}

func (h *UpdateProjectionHandler) Handle(ctx context.Context, event domain.Event, revision int64) error {
	switch e := event.(type) {
	case domain.AccountInitiated:
		account := domain.NewAccount(
			e.Account, e.CustomerID, e.Currency, domain.AccountType(e.Type),
			revision, domain.StatusInitiated, decimal.Zero,
		)
		return h.store.Create(ctx, account, e.ID)
	case domain.AccountInitiationFailed:
		return nil // no row exists to validate
	case domain.AccountOpened:
		return h.mutate(ctx, event, revision, func(a domain.Account) domain.Account {
			a.Status = domain.StatusOpened
			return a
		})
	case domain.AccountCredited:
		return h.mutate(ctx, event, revision, func(a domain.Account) domain.Account {
			a.Balance = a.Balance.Add(e.Amount)
			return a
		})
	case domain.AccountDebited:
		return h.mutate(ctx, event, revision, func(a domain.Account) domain.Account {
			a.Balance = a.Balance.Sub(e.Amount)
			return a
		})
	case domain.AccountClosed:
		return h.mutate(ctx, event, revision, func(a domain.Account) domain.Account {
			a.Status = domain.StatusClosed
			return a
		})
	default:
		// Remaining error events: the row lookup validates existence, the
		// update only advances the revision bookkeeping.
		return h.mutate(ctx, event, revision, func(a domain.Account) domain.Account { return a })
	}
}

func (h *UpdateProjectionHandler) mutate(
	ctx context.Context, event domain.Event, revision int64, apply func(domain.Account) domain.Account,
) error {
	account, err := h.store.Find(ctx, event.AccountID(), false)
	if err != nil {
		return err
	}
	account = apply(account)
	account.Revision = revision
	return h.store.Update(ctx, account, event.EventID())
}

// RawPublisher appends a JSON body to a stream.
type RawPublisher interface {
	PublishRaw(ctx context.Context, stream string, body []byte) error
}

// externalAccountEvent is the published contract shared with other bounded
// contexts: snake_case event type, amounts as strings.
type externalAccountEvent struct {
	EventType     string     `json:"eventType"`
	EventID       uuid.UUID  `json:"eventId"`
	AccountID     uuid.UUID  `json:"accountId"`
	On            time.Time  `json:"on"`
	CustomerID    *uuid.UUID `json:"customerId,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	AccountType   string     `json:"type,omitempty"`
	Amount        string     `json:"amount,omitempty"`
	TransactionID *uuid.UUID `json:"transactionId,omitempty"`
	Source        string     `json:"source,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// PublishExternalHandler republishes every account event for downstream
// consumers outside this service.
type PublishExternalHandler struct {
	publisher RawPublisher
	stream    string
}

func NewPublishExternalHandler(publisher RawPublisher) *PublishExternalHandler {
	return &PublishExternalHandler{publisher: publisher, stream: ExternalStream}
}

func (h *PublishExternalHandler) Handle(ctx context.Context, event domain.Event, _ int64) error {
	body, err := json.Marshal(toExternalEvent(event))
	if err != nil {
		return fmt.Errorf("failed to marshal external event %s: %w", event.EventID(), err)
	}
	return h.publisher.PublishRaw(ctx, h.stream, body)
}

func toExternalEvent(event domain.Event) externalAccountEvent {
	external := externalAccountEvent{
		EventID:   event.EventID(),
		AccountID: event.AccountID(),
		On:        event.OccurredOn(),
	}
	switch e := event.(type) {
	case domain.AccountInitiated:
		external.EventType = "account_initiated"
		customer := e.CustomerID
		external.CustomerID = &customer
		external.Currency = e.Currency
		external.AccountType = e.Type
	case domain.AccountOpened:
		external.EventType = "account_opened"
	case domain.AccountCredited:
		external.EventType = "account_credited"
		external.Amount = e.Amount.String()
		txn := e.TransactionID
		external.TransactionID = &txn
		external.Source = string(e.Source)
	case domain.AccountDebited:
		external.EventType = "account_debited"
		external.Amount = e.Amount.String()
		txn := e.TransactionID
		external.TransactionID = &txn
		external.Source = string(e.Source)
	case domain.AccountClosed:
		external.EventType = "account_closed"
	case domain.AccountInitiationFailed:
		external.EventType = "account_initiation_failed"
		external.Reason = string(e.Reason())
	case domain.AccountOpeningFailed:
		external.EventType = "account_opening_failed"
		external.Reason = string(e.Reason())
	case domain.AccountCreditFailed:
		external.EventType = "account_credit_failed"
		external.Reason = string(e.Reason())
	case domain.AccountDebitFailed:
		external.EventType = "account_debit_failed"
		external.Reason = string(e.Reason())
	case domain.AccountClosingFailed:
		external.EventType = "account_closing_failed"
		external.Reason = string(e.Reason())
	}
	return external
}

// PublishMetricsHandler counts every dispatched event, splitting rejections
// out by reason.
type PublishMetricsHandler struct {
	collector *metrics.Collector
}

func NewPublishMetricsHandler(collector *metrics.Collector) *PublishMetricsHandler {
	return &PublishMetricsHandler{collector: collector}
}

func (h *PublishMetricsHandler) Handle(_ context.Context, event domain.Event, _ int64) error {
	if errEvent, ok := event.(domain.ErrorEvent); ok {
		h.collector.RecordErrorEvent(event.EventType(), string(errEvent.Reason()))
		return nil
	}
	h.collector.RecordDomainEvent(event.EventType())
	return nil
}

// WriteLogsHandler writes one line per dispatched event.
type WriteLogsHandler struct{}

func NewWriteLogsHandler() *WriteLogsHandler {
	return &WriteLogsHandler{}
}

func (h *WriteLogsHandler) Handle(_ context.Context, event domain.Event, _ int64) error {
	msg := fmt.Sprintf("event-id: '%s', event: '%s', account-id: '%s'", event.EventID(), event.EventType(), event.AccountID())
	switch e := event.(type) {
	case domain.AccountCredited:
		log.Printf("%s, source: '%s'", msg, e.Source)
	case domain.AccountDebited:
		log.Printf("%s, source: '%s'", msg, e.Source)
	case domain.ErrorEvent:
		log.Printf("%s, error: '%s'", msg, e.Reason())
	default:
		log.Print(msg)
	}
	return nil
}

// AccountOpener is the reaction entry point back into the command side.
type AccountOpener interface {
	Open(ctx context.Context, accountID uuid.UUID) error
}

// TriggerUseCaseHandler reacts to events that imply a follow-up command:
// a freshly initiated account is opened automatically.
type TriggerUseCaseHandler struct {
	opener AccountOpener
}

func NewTriggerUseCaseHandler(opener AccountOpener) *TriggerUseCaseHandler {
	return &TriggerUseCaseHandler{opener: opener}
}

func (h *TriggerUseCaseHandler) Handle(ctx context.Context, event domain.Event, _ int64) error {
	if initiated, ok := event.(domain.AccountInitiated); ok {
		return h.opener.Open(ctx, initiated.Account)
	}
	return nil
}
