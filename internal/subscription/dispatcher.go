package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/domain"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/stream"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// FeedStream is the global feed carrying every appended account event.
const FeedStream = "account.all.events"

// RetryStrategy controls per-event retries on the side-effects subscription.
// The first ApplyDelaysAfter failures are treated as transient and retried
// immediately; after that each retry waits proportionally longer. Past
// MaxNumberOfRetries the whole subscription stops: delivery is pinned per
// account stream, so an event that can never succeed would otherwise block
// every later event for that account while burning resources forever.
type RetryStrategy struct {
	MaxNumberOfRetries int
	RetryDelay         time.Duration
	ApplyDelaysAfter   int
}

func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{MaxNumberOfRetries: 500, RetryDelay: 50 * time.Millisecond, ApplyDelaysAfter: 100}
}

// DelayFor returns how long to wait before the retry following failure
// number retryCount (zero-based).
func (r RetryStrategy) DelayFor(retryCount int) time.Duration {
	if retryCount >= r.ApplyDelaysAfter {
		return r.RetryDelay * time.Duration(retryCount-r.ApplyDelaysAfter+1)
	}
	return 0
}

// Exhausted reports whether the retry budget is spent.
func (r RetryStrategy) Exhausted(retryCount int) bool {
	return retryCount >= r.MaxNumberOfRetries
}

type DispatcherConfig struct {
	Group         string
	Consumer      string
	Stream        string
	Workers       int
	BatchSize     int64
	BlockDuration time.Duration
	Retry         RetryStrategy
}

// Dispatcher tails the global account event feed through a durable consumer
// group and drives the side-effects pipeline for every event. Each account is
// pinned to one worker by hashing its id, so per-account order is preserved
// while different accounts progress concurrently. An event is acknowledged
// only after the whole pipeline has completed for it.
type Dispatcher struct {
	client   *redis.Client
	pipeline *Pipeline
	metrics  *metrics.Collector

	group         string
	consumer      string
	stream        string
	workers       int
	batchSize     int64
	blockDuration time.Duration
	retry         RetryStrategy

	stopOnce sync.Once
	stopped  chan struct{}
	cancel   context.CancelFunc
}

func NewDispatcher(client *redis.Client, pipeline *Pipeline, collector *metrics.Collector, config DispatcherConfig) *Dispatcher {
	if config.Workers == 0 {
		config.Workers = 4
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.Retry == (RetryStrategy{}) {
		config.Retry = DefaultRetryStrategy()
	}
	return &Dispatcher{
		client:        client,
		pipeline:      pipeline,
		metrics:       collector,
		group:         config.Group,
		consumer:      config.Consumer,
		stream:        config.Stream,
		workers:       config.Workers,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		retry:         config.Retry,
		stopped:       make(chan struct{}),
	}
}

// Run blocks until the context is cancelled or the circuit breaker stops the
// subscription.
func (d *Dispatcher) Run(ctx context.Context) error {
	err := d.client.XGroupCreateMkStream(ctx, d.stream, d.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	queues := make([]chan redis.XMessage, d.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan redis.XMessage, d.batchSize)
		wg.Add(1)
		go func(queue chan redis.XMessage) {
			defer wg.Done()
			d.work(ctx, queue)
		}(queues[i])
	}

	log.Printf("Dispatcher started: stream=%s, group=%s, consumer=%s, workers=%d", d.stream, d.group, d.consumer, d.workers)

	// First drain messages delivered to this consumer before a restart, then
	// follow the live feed.
	d.read(ctx, queues, "0")
	for ctx.Err() == nil {
		d.read(ctx, queues, ">")
	}

	for _, queue := range queues {
		close(queue)
	}
	wg.Wait()
	return ctx.Err()
}

// Stop halts the whole subscription. Resuming requires operator intervention,
// that is the point: after the breaker trips somebody has to look.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
		if d.cancel != nil {
			d.cancel()
		}
	})
}

// Stopped is closed once the subscription has been halted.
func (d *Dispatcher) Stopped() <-chan struct{} {
	return d.stopped
}

func (d *Dispatcher) read(ctx context.Context, queues []chan redis.XMessage, cursor string) {
	streams, err := d.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    d.group,
		Consumer: d.consumer,
		Streams:  []string{d.stream, cursor},
		Count:    d.batchSize,
		Block:    d.blockDuration,
	}).Result()
	if err == redis.Nil || ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("Error reading feed: %v", err)
		time.Sleep(time.Second)
		return
	}
	for _, str := range streams {
		for _, msg := range str.Messages {
			select {
			case queues[d.pin(msg)] <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// pin assigns a message to a worker by its account id, keeping each account's
// events on a single worker.
func (d *Dispatcher) pin(msg redis.XMessage) int {
	var env stream.Envelope
	if body, ok := msg.Values["event"].(string); ok {
		_ = json.Unmarshal([]byte(body), &env)
	}
	h := fnv.New32a()
	h.Write([]byte(env.AccountID.String()))
	return int(h.Sum32()) % d.workers
}

func (d *Dispatcher) work(ctx context.Context, queue chan redis.XMessage) {
	for msg := range queue {
		if !d.handle(ctx, msg) {
			return
		}
	}
}

// handle runs the pipeline for one message under the retry strategy,
// acknowledging only on success. Returns false once the subscription has been
// stopped.
func (d *Dispatcher) handle(ctx context.Context, msg redis.XMessage) bool {
	retryCount := 0
	for {
		err := d.dispatch(ctx, msg)
		if err == nil {
			if ackErr := d.client.XAck(ctx, d.stream, d.group, msg.ID).Err(); ackErr != nil {
				log.Printf("Failed to ACK message %s: %v", msg.ID, ackErr)
			}
			return true
		}

		log.Printf("Failed to dispatch event %s to handlers, retry #%d: %v", msg.ID, retryCount, err)
		if d.retry.Exhausted(retryCount) {
			log.Printf("Maximum retry limit reached for event %s. Stopping subscription.", msg.ID)
			d.metrics.RecordSubscriptionStopped(fmt.Sprintf("%T:%v", err, err))
			d.Stop()
			return false
		}
		if delay := d.retry.DelayFor(retryCount); delay > 0 {
			log.Printf("Applying delay of %v before retrying...", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false
			}
		}
		if ctx.Err() != nil {
			return false
		}
		retryCount++
	}
}

// dispatch decodes the envelope and runs the full pipeline. Decode failures
// are returned as ordinary errors: the dispatcher treats every failure as
// retryable and lets the breaker be the only cutoff.
func (d *Dispatcher) dispatch(ctx context.Context, msg redis.XMessage) error {
	body, ok := msg.Values["event"].(string)
	if !ok {
		return fmt.Errorf("invalid message format for %s", msg.ID)
	}
	var env stream.Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return fmt.Errorf("failed to unmarshal envelope %s: %w", msg.ID, err)
	}
	event, err := domain.UnmarshalEvent(env.EventType, env.Payload)
	if err != nil {
		return err
	}
	return d.pipeline.Dispatch(ctx, event, env.Revision)
}
