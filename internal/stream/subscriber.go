package stream

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one inbound stream entry. DeliveryCount starts at 1 and grows on
// every redelivery, which is what drives dead-lettering.
type Message struct {
	ID            string
	DeliveryCount int64
	Body          []byte
}

type Handler func(ctx context.Context, msg Message) error

type SubscriberConfig struct {
	Group           string
	Consumer        string
	Stream          string
	DLQStream       string
	Handler         Handler
	BatchSize       int64
	BlockDuration   time.Duration
	MaxRedeliveries int64
	ClaimMinIdle    time.Duration
}

// Subscriber consumes a Redis stream through a durable consumer group.
// Messages whose handler fails are simply not acked: they stay in the
// pending list and are reclaimed on a later pass with a higher delivery
// count. Once the count exceeds MaxRedeliveries the message is forwarded to
// the dead-letter stream and acked, so one poison message cannot wedge the
// feed forever.
type Subscriber struct {
	client          *redis.Client
	group           string
	consumer        string
	stream          string
	dlqStream       string
	handler         Handler
	batchSize       int64
	blockDuration   time.Duration
	maxRedeliveries int64
	claimMinIdle    time.Duration
}

func NewSubscriber(client *redis.Client, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.MaxRedeliveries == 0 {
		config.MaxRedeliveries = 10
	}
	if config.ClaimMinIdle == 0 {
		config.ClaimMinIdle = 50 * time.Millisecond
	}
	return &Subscriber{
		client:          client,
		group:           config.Group,
		consumer:        config.Consumer,
		stream:          config.Stream,
		dlqStream:       config.DLQStream,
		handler:         config.Handler,
		batchSize:       config.BatchSize,
		blockDuration:   config.BlockDuration,
		maxRedeliveries: config.MaxRedeliveries,
		claimMinIdle:    config.ClaimMinIdle,
	}
}

func (s *Subscriber) Start(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	log.Printf("Subscriber started: stream=%s, group=%s, consumer=%s", s.stream, s.group, s.consumer)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Subscriber stopping: %s", s.stream)
			return ctx.Err()
		default:
			if err := s.retryPending(ctx); err != nil {
				log.Printf("Error processing pending messages: %v", err)
				time.Sleep(time.Second)
			}
			if err := s.readNew(ctx); err != nil {
				log.Printf("Error reading messages: %v", err)
				time.Sleep(time.Second)
			}
		}
	}
}

// retryPending reclaims messages that failed earlier, dead-lettering the ones
// past the redelivery budget.
func (s *Subscriber) retryPending(ctx context.Context) error {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Idle:   s.claimMinIdle,
		Start:  "-",
		End:    "+",
		Count:  s.batchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read pending entries: %w", err)
	}

	for _, entry := range pending {
		claimed, err := s.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  s.claimMinIdle,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue // claimed by another consumer in the meantime
		}

		msg, ok := toMessage(claimed[0], entry.RetryCount)
		if !ok {
			continue
		}
		if entry.RetryCount > s.maxRedeliveries {
			s.deadLetter(ctx, msg)
			continue
		}
		s.process(ctx, msg)
	}
	return nil
}

func (s *Subscriber) readNew(ctx context.Context) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.batchSize,
		Block:    s.blockDuration,
	}).Result()

	if err == redis.Nil {
		return nil // No messages
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, str := range streams {
		for _, raw := range str.Messages {
			msg, ok := toMessage(raw, 1)
			if !ok {
				continue
			}
			s.process(ctx, msg)
		}
	}
	return nil
}

// process runs the handler and acks only on success; a failed message stays
// pending so the broker redelivers it.
func (s *Subscriber) process(ctx context.Context, msg Message) {
	if err := s.handler(ctx, msg); err != nil {
		log.Printf("Processing failed for message '%s', retrying #%d: %v", msg.ID, msg.DeliveryCount, err)
		return
	}
	if err := s.client.XAck(ctx, s.stream, s.group, msg.ID).Err(); err != nil {
		log.Printf("Failed to ACK message %s: %v", msg.ID, err)
	}
}

func (s *Subscriber) deadLetter(ctx context.Context, msg Message) {
	log.Printf("Message '%s' exceeded %d redeliveries, forwarding to %s", msg.ID, s.maxRedeliveries, s.dlqStream)
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.dlqStream,
		Values: map[string]any{"event": msg.Body},
	}).Err()
	if err != nil {
		log.Printf("Failed to forward message %s to DLQ: %v", msg.ID, err)
		return // keep it pending rather than dropping it
	}
	if err := s.client.XAck(ctx, s.stream, s.group, msg.ID).Err(); err != nil {
		log.Printf("Failed to ACK dead-lettered message %s: %v", msg.ID, err)
	}
}

func toMessage(raw redis.XMessage, deliveryCount int64) (Message, bool) {
	body, ok := raw.Values["event"].(string)
	if !ok {
		log.Printf("Skipping message %s: invalid format", raw.ID)
		return Message{}, false
	}
	return Message{ID: raw.ID, DeliveryCount: deliveryCount, Body: []byte(body)}, true
}
