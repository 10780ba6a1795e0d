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
	SepaTransfersStream = "sepa-transfers.events"
	sepaTransfersGroup  = "accounts-service.sepa-transfers.events.subscription"
	sepaTransfersDLQ    = "sepa-transfers.events.dlq"
)

type sepaTransferEvent struct {
	EventType  string          `json:"eventType"`
	TransferID string          `json:"transferId"`
	AccountID  string          `json:"accountId"`
	Direction  string          `json:"direction"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

// SepaTransferConsumer applies accepted SEPA transfers to the account:
// incoming transfers credit it, outgoing ones debit it.
type SepaTransferConsumer struct {
	subscriber *stream.Subscriber
}

func NewSepaTransferConsumer(client *redis.Client, commands TransactionCommander, consumer string) *SepaTransferConsumer {
	c := &SepaTransferConsumer{}
	c.subscriber = stream.NewSubscriber(client, stream.SubscriberConfig{
		Group:     sepaTransfersGroup,
		Consumer:  consumer,
		Stream:    SepaTransfersStream,
		DLQStream: sepaTransfersDLQ,
		Handler:   sepaHandler(commands),
	})
	return c
}

func (c *SepaTransferConsumer) Start(ctx context.Context) error {
	return c.subscriber.Start(ctx)
}

func sepaHandler(commands TransactionCommander) stream.Handler {
	return func(ctx context.Context, msg stream.Message) error {
		var event sepaTransferEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			return fmt.Errorf("failed to decode sepa transfer event: %w", err)
		}

		if event.EventType != "accepted" {
			log.Printf("Ignoring sepa transfer event of type '%s'", event.EventType)
			return nil
		}

		transferID, err := uuid.Parse(event.TransferID)
		if err != nil {
			return fmt.Errorf("invalid transfer id '%s': %w", event.TransferID, err)
		}
		accountID, err := uuid.Parse(event.AccountID)
		if err != nil {
			return fmt.Errorf("invalid account id '%s': %w", event.AccountID, err)
		}

		switch event.Direction {
		case "INCOMING":
			return commands.Credit(ctx, transferID, accountID, event.Amount, event.Currency, domain.SourceSepaTransfer)
		case "OUTGOING":
			return commands.Debit(ctx, transferID, accountID, event.Amount, event.Currency, domain.SourceSepaTransfer)
		default:
			log.Printf("Ignoring sepa transfer with direction '%s'", event.Direction)
			return nil
		}
	}
}
