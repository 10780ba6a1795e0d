package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every counter this service exposes, backed by a private
// registry so tests can assert on it in isolation.
type Collector struct {
	registry            *prometheus.Registry
	domainEvents        *prometheus.CounterVec
	errorEvents         *prometheus.CounterVec
	subscriptionStopped *prometheus.CounterVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	return &Collector{
		registry: registry,
		domainEvents: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "account_domain_events_total",
			Help: "Total number of successful domain events dispatched",
		}, []string{"type"}),
		errorEvents: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "account_error_events_total",
			Help: "Total number of rejection events dispatched",
		}, []string{"type", "reason"}),
		subscriptionStopped: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "account_subscription_stopped_total",
			Help: "Times the side-effects subscription hit the retry ceiling and stopped",
		}, []string{"exception"}),
	}
}

func (c *Collector) RecordDomainEvent(eventType string) {
	c.domainEvents.WithLabelValues(eventType).Inc()
}

func (c *Collector) RecordErrorEvent(eventType, reason string) {
	c.errorEvents.WithLabelValues(eventType, reason).Inc()
}

func (c *Collector) RecordSubscriptionStopped(exception string) {
	c.subscriptionStopped.WithLabelValues(exception).Inc()
}

// DomainEvents exposes the domain event counter for tests.
func (c *Collector) DomainEvents(eventType string) prometheus.Counter {
	return c.domainEvents.WithLabelValues(eventType)
}

// ErrorEvents exposes the rejection counter for tests.
func (c *Collector) ErrorEvents(eventType, reason string) prometheus.Counter {
	return c.errorEvents.WithLabelValues(eventType, reason)
}

// SubscriptionStopped exposes the stop counter for tests.
func (c *Collector) SubscriptionStopped(exception string) prometheus.Counter {
	return c.subscriptionStopped.WithLabelValues(exception)
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
