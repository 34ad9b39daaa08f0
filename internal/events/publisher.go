package events

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/correlation"
	"github.com/hackgods/appointment-replication/internal/logger"
	"github.com/hackgods/appointment-replication/internal/metrics"
)

// Sender is the broker side of the publisher, satisfied by mq.Publisher.
type Sender interface {
	Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error
}

type PublisherConfig struct {
	Keys                RoutingKeys
	PublishRecordEvents bool
	Source              string // AppId on outgoing messages
}

// Publisher emits domain events on a best effort basis. The write that
// produced an event is the source of truth, so failures are logged and never
// returned to the caller.
type Publisher struct {
	sender  Sender
	cfg     PublisherConfig
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewPublisher(sender Sender, cfg PublisherConfig, log logrus.FieldLogger, m *metrics.Metrics) *Publisher {
	return &Publisher{
		sender:  sender,
		cfg:     cfg,
		log:     log.WithField("component", "event-publisher"),
		metrics: m,
	}
}

// Publish reports whether the broker accepted the event. Acceptance is
// whatever the Sender reports; the AMQP sender waits for a publisher confirm.
func (p *Publisher) Publish(ctx context.Context, ev Event) bool {
	if ev == nil {
		return false
	}

	ctx, corrID, created := correlation.Ensure(ctx)
	meta := ev.Metadata()
	log := logger.FromContext(ctx, p.log).WithFields(logrus.Fields{
		"event_type": ev.Type(),
		"event_id":   meta.EventID,
		"entity_id":  meta.EntityID,
	})
	if created {
		log = log.WithField("correlation_generated", true)
	}

	if ev.Type() == TypeRecordCreated && !p.cfg.PublishRecordEvents {
		log.Debug("record event publishing disabled, skipping")
		p.metrics.EventPublished(string(ev.Type()), "disabled")
		return false
	}

	key, ok := p.cfg.Keys.For(ev.Type())
	if !ok {
		log.Warn("no routing key for event type, skipping")
		p.metrics.EventPublished(string(ev.Type()), "unroutable")
		return false
	}

	body, err := Encode(ev)
	if err != nil {
		log.WithError(err).Error("failed to encode event")
		p.metrics.EventPublished(string(ev.Type()), "failed")
		return false
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     meta.EventID.String(),
		CorrelationId: corrID,
		Timestamp:     meta.OccurredAt,
		Type:          string(ev.Type()),
		AppId:         p.cfg.Source,
		Headers: amqp.Table{
			correlation.HeaderName: corrID,
			HeaderEventType:        string(ev.Type()),
		},
		Body: body,
	}

	if err := p.sender.Publish(ctx, key, msg); err != nil {
		log.WithError(err).WithField("routing_key", key).Error("failed to publish event")
		p.metrics.EventPublished(string(ev.Type()), "failed")
		return false
	}

	log.WithField("routing_key", key).Debug("event published")
	p.metrics.EventPublished(string(ev.Type()), "ok")
	return true
}
