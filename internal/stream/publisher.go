package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Envelope is the wire format of one account event on a Redis stream. The
// payload keeps the event's own JSON shape; type and revision travel beside
// it so consumers can decode and order without touching the event store.
type Envelope struct {
	EventID   uuid.UUID       `json:"eventId"`
	AccountID uuid.UUID       `json:"accountId"`
	EventType string          `json:"eventType"`
	Revision  int64           `json:"revision"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, stream string, envelope Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"event": body},
	}
	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return nil
}

// PublishRaw appends an arbitrary JSON body, used for external events whose
// shape is a published contract rather than an internal envelope.
func (p *Publisher) PublishRaw(ctx context.Context, stream string, body []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"event": body},
	}
	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return nil
}
