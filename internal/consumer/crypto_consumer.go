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
	CryptoTransactionsStream = "crypto-transaction.events"
	cryptoTransactionsGroup  = "accounts-service.crypto-transaction.events.subscription"
	cryptoTransactionsDLQ    = "crypto-transaction.events.dlq"
)

type cryptoTransactionEvent struct {
	EventType     string          `json:"eventType"`
	TransactionID string          `json:"transactionId"`
	AccountID     string          `json:"accountId"`
	Direction     string          `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// CryptoTransactionConsumer credits the account when an incoming crypto
// transaction is confirmed and debits it as soon as an outgoing one is
// initiated, so funds are reserved before the chain settles.
type CryptoTransactionConsumer struct {
	subscriber *stream.Subscriber
}

func NewCryptoTransactionConsumer(client *redis.Client, commands TransactionCommander, consumer string) *CryptoTransactionConsumer {
	c := &CryptoTransactionConsumer{}
	c.subscriber = stream.NewSubscriber(client, stream.SubscriberConfig{
		Group:     cryptoTransactionsGroup,
		Consumer:  consumer,
		Stream:    CryptoTransactionsStream,
		DLQStream: cryptoTransactionsDLQ,
		Handler:   cryptoHandler(commands),
	})
	return c
}

func (c *CryptoTransactionConsumer) Start(ctx context.Context) error {
	return c.subscriber.Start(ctx)
}

func cryptoHandler(commands TransactionCommander) stream.Handler {
	return func(ctx context.Context, msg stream.Message) error {
		var event cryptoTransactionEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			return fmt.Errorf("failed to decode crypto transaction event: %w", err)
		}

		transactionID, err := uuid.Parse(event.TransactionID)
		if err != nil {
			return fmt.Errorf("invalid transaction id '%s': %w", event.TransactionID, err)
		}
		accountID, err := uuid.Parse(event.AccountID)
		if err != nil {
			return fmt.Errorf("invalid account id '%s': %w", event.AccountID, err)
		}

		switch {
		case event.EventType == "confirmed" && event.Direction == "RECEIVING":
			return commands.Credit(ctx, transactionID, accountID, event.Amount, event.Currency, domain.SourceCryptoTx)
		case event.EventType == "initiated" && event.Direction == "SENDING":
			return commands.Debit(ctx, transactionID, accountID, event.Amount, event.Currency, domain.SourceCryptoTx)
		default:
			log.Printf("Ignoring crypto transaction event type='%s' direction='%s'", event.EventType, event.Direction)
			return nil
		}
	}
}
