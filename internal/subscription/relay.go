package subscription

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/repository"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/stream"
	"github.com/google/uuid"
)

// FeedSource is the event store's global feed plus the relay's checkpoint.
type FeedSource interface {
	ReadFeed(ctx context.Context, afterPosition int64, limit int) ([]repository.StoredEvent, error)
	LoadCheckpoint(ctx context.Context, name string) (int64, error)
	SaveCheckpoint(ctx context.Context, name string, position int64) error
}

// EnvelopePublisher appends envelopes to a stream.
type EnvelopePublisher interface {
	Publish(ctx context.Context, streamName string, envelope stream.Envelope) error
}

// FeedRelay tails the event store's global feed and republishes every newly
// durable event onto the feed stream the dispatcher consumes. The checkpoint
// is advanced only after publishing, so a crash replays rather than skips;
// the projection's idempotency markers absorb the duplicates.
type FeedRelay struct {
	source    FeedSource
	publisher EnvelopePublisher
	stream    string
	name      string
	interval  time.Duration
	batchSize int
}

func NewFeedRelay(source FeedSource, publisher EnvelopePublisher, interval time.Duration) *FeedRelay {
	if interval == 0 {
		interval = 100 * time.Millisecond
	}
	return &FeedRelay{
		source:    source,
		publisher: publisher,
		stream:    FeedStream,
		name:      "account-feed-relay",
		interval:  interval,
		batchSize: 100,
	}
}

// Run blocks, polling the feed until the context is cancelled.
func (r *FeedRelay) Run(ctx context.Context) error {
	position, err := r.source.LoadCheckpoint(ctx, r.name)
	if err != nil {
		return err
	}
	log.Printf("Feed relay started: stream=%s, checkpoint=%d", r.stream, position)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("Feed relay stopping")
			return ctx.Err()
		case <-ticker.C:
			position, err = r.relayBatch(ctx, position)
			if err != nil {
				log.Printf("Feed relay error: %v", err)
			}
		}
	}
}

// relayBatch publishes every event past position and returns the new
// checkpoint position.
func (r *FeedRelay) relayBatch(ctx context.Context, position int64) (int64, error) {
	events, err := r.source.ReadFeed(ctx, position, r.batchSize)
	if err != nil {
		return position, err
	}
	for _, stored := range events {
		envelope := stream.Envelope{
			EventID:   stored.EventID,
			AccountID: accountIDFromStream(stored.StreamID),
			EventType: stored.EventType,
			Revision:  stored.Revision,
			Payload:   json.RawMessage(stored.Payload),
			Timestamp: stored.OccurredOn,
		}
		if err := r.publisher.Publish(ctx, r.stream, envelope); err != nil {
			return position, err
		}
		position = stored.GlobalPosition
	}
	if len(events) > 0 {
		if err := r.source.SaveCheckpoint(ctx, r.name, position); err != nil {
			return position, err
		}
	}
	return position, nil
}

func accountIDFromStream(streamID string) uuid.UUID {
	id, _ := uuid.Parse(strings.TrimPrefix(streamID, repository.StreamPrefix))
	return id
}
