package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/c360/syncbridge/metric"
	"github.com/c360/syncbridge/natsclient"
	"github.com/c360/syncbridge/translate"
)

// Conn is the bus surface these components drive. *natsclient.Client
// satisfies it; tests substitute recorders.
type Conn interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(context.Context, natsclient.Msg)) error
}

// EventPublisher relays canonical events to the bus in ingestion order.
// Publish failures are logged and counted, never surfaced to the caller: the
// in-memory state store stays correct even when the bus is down.
type EventPublisher struct {
	conn    Conn
	service string
	domain  string
	logger  *slog.Logger
	metrics *metric.Metrics

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewEventPublisher creates an event publisher. metrics may be nil.
func NewEventPublisher(conn Conn, service, domain string, metrics *metric.Metrics, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		conn:    conn,
		service: service,
		domain:  domain,
		metrics: metrics,
		logger:  logger.With("component", "event_publisher"),
	}
}

// Relay publishes one canonical event
func (p *EventPublisher) Relay(ctx context.Context, ev *translate.Event) {
	if ev == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("Failed to marshal event", "type", ev.Type, "error", err)
		return
	}

	subject := EventSubject(p.service, p.domain, ev.Channel, ev.Type)
	if err := p.conn.Publish(ctx, subject, data); err != nil {
		p.failed.Add(1)
		if p.metrics != nil {
			p.metrics.PublishFailures.WithLabelValues("event").Inc()
		}
		p.logger.Warn("Failed to publish event", "subject", subject, "error", err)
		return
	}

	p.published.Add(1)
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
	}
}

// Stats reports publish counters
func (p *EventPublisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}
