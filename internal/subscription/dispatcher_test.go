package subscription

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/domain"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/stream"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

type poisonError struct{}

func (poisonError) Error() string { return "projection is down" }

type failingHandler struct {
	failures int
}

func (h *failingHandler) Handle(context.Context, domain.Event, int64) error {
	h.failures++
	return poisonError{}
}

func feedMessage(t *testing.T, accountID uuid.UUID) redis.XMessage {
	t.Helper()
	event := domain.AccountOpened{BaseEvent: domain.BaseEvent{ID: uuid.New(), Account: accountID, On: time.Now().UTC()}}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(stream.Envelope{
		EventID:   event.ID,
		AccountID: accountID,
		EventType: event.EventType(),
		Revision:  1,
		Payload:   payload,
		Timestamp: event.On,
	})
	if err != nil {
		t.Fatal(err)
	}
	return redis.XMessage{ID: "1-0", Values: map[string]interface{}{"event": string(body)}}
}

func TestRetryStrategy(t *testing.T) {
	strategy := RetryStrategy{MaxNumberOfRetries: 500, RetryDelay: 50 * time.Millisecond, ApplyDelaysAfter: 100}

	tests := []struct {
		retryCount int
		delay      time.Duration
	}{
		{0, 0},
		{99, 0},
		{100, 50 * time.Millisecond},
		{101, 100 * time.Millisecond},
		{150, 51 * 50 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := strategy.DelayFor(tt.retryCount); got != tt.delay {
			t.Errorf("DelayFor(%d): expected %v, got %v", tt.retryCount, tt.delay, got)
		}
	}

	if strategy.Exhausted(499) {
		t.Error("retry 499 must still run")
	}
	if !strategy.Exhausted(500) {
		t.Error("retry 500 must trip the breaker")
	}
}

// TestHandleStopsSubscriptionWhenRetriesAreExhausted drives one poison event
// through the retry loop and expects the breaker to stop the whole
// subscription, counting the stop exactly once.
func TestHandleStopsSubscriptionWhenRetriesAreExhausted(t *testing.T) {
	handler := &failingHandler{}
	collector := metrics.NewCollector()
	dispatcher := NewDispatcher(nil, &Pipeline{handlers: []EventHandler{handler}}, collector, DispatcherConfig{
		Group:    "side-effects",
		Consumer: "test-consumer",
		Stream:   FeedStream,
		Retry:    RetryStrategy{MaxNumberOfRetries: 3, RetryDelay: time.Millisecond, ApplyDelaysAfter: 100},
	})

	alive := dispatcher.handle(context.Background(), feedMessage(t, uuid.New()))

	if alive {
		t.Fatal("expected handle to report the subscription as stopped")
	}
	select {
	case <-dispatcher.Stopped():
	default:
		t.Fatal("expected the stopped channel to be closed")
	}
	if handler.failures != 4 {
		t.Errorf("expected initial attempt plus 3 retries, got %d attempts", handler.failures)
	}
	stopped := collector.SubscriptionStopped("subscription.poisonError:projection is down")
	if got := testutil.ToFloat64(stopped); got != 1 {
		t.Errorf("expected the stop to be counted once, got %v", got)
	}
}

func TestPinKeepsAnAccountOnOneWorker(t *testing.T) {
	dispatcher := NewDispatcher(nil, &Pipeline{}, metrics.NewCollector(), DispatcherConfig{Workers: 4})

	accountID := uuid.New()
	first := dispatcher.pin(feedMessage(t, accountID))
	for i := 0; i < 10; i++ {
		if got := dispatcher.pin(feedMessage(t, accountID)); got != first {
			t.Fatalf("same account landed on worker %d after %d", got, first)
		}
	}
	if first < 0 || first >= 4 {
		t.Errorf("worker index out of range: %d", first)
	}
}
