package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/domain"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/stream"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	CardTransactionsStream = "card-transaction.events"
	cardTransactionsGroup  = "accounts-service.card-transaction.events.subscription"
	cardTransactionsDLQ    = "card-transaction.events.dlq"
)

type cardTransactionEvent struct {
	EventType     string          `json:"eventType"`
	TransactionID string          `json:"transactionId"`
	AccountID     string          `json:"accountId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// CardTransactionConsumer turns authorized card transactions into account
// debits. Any other card event type is acked and ignored.
type CardTransactionConsumer struct {
	subscriber *stream.Subscriber
}

func NewCardTransactionConsumer(client *redis.Client, commands TransactionCommander, consumer string) *CardTransactionConsumer {
	c := &CardTransactionConsumer{}
	c.subscriber = stream.NewSubscriber(client, stream.SubscriberConfig{
		Group:     cardTransactionsGroup,
		Consumer:  consumer,
		Stream:    CardTransactionsStream,
		DLQStream: cardTransactionsDLQ,
		Handler:   cardHandler(commands),
	})
	return c
}

func (c *CardTransactionConsumer) Start(ctx context.Context) error {
	return c.subscriber.Start(ctx)
}

func cardHandler(commands TransactionCommander) stream.Handler {
	return func(ctx context.Context, msg stream.Message) error {
		var event cardTransactionEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			return fmt.Errorf("failed to decode card transaction event: %w", err)
		}

		if event.EventType != "authorized" {
			log.Printf("Ignoring card transaction event of type '%s'", event.EventType)
			return nil
		}

		transactionID, err := uuid.Parse(event.TransactionID)
		if err != nil {
			return fmt.Errorf("invalid transaction id '%s': %w", event.TransactionID, err)
		}
		accountID, err := uuid.Parse(event.AccountID)
		if err != nil {
			return fmt.Errorf("invalid account id '%s': %w", event.AccountID, err)
		}

		return commands.Debit(ctx, transactionID, accountID, event.Amount, event.Currency, domain.SourceCardTx)
	}
}
