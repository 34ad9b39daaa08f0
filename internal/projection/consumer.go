package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/correlation"
	"github.com/hackgods/appointment-replication/internal/events"
	"github.com/hackgods/appointment-replication/internal/eventstore"
	"github.com/hackgods/appointment-replication/internal/logger"
	"github.com/hackgods/appointment-replication/internal/metrics"
)

// ReplicaSink keeps a node's denormalised copy of the entity in step with the
// events it sees, so later local reads need no peer hop.
type ReplicaSink interface {
	ApplyReplica(ctx context.Context, ev events.Event) error
}

type Consumer struct {
	store   eventstore.Store
	repo    Repository
	replica ReplicaSink
	keys    events.RoutingKeys
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewConsumer builds the projection writer. replica may be nil.
func NewConsumer(store eventstore.Store, repo Repository, replica ReplicaSink, keys events.RoutingKeys, log logrus.FieldLogger, m *metrics.Metrics) *Consumer {
	return &Consumer{
		store:   store,
		repo:    repo,
		replica: replica,
		keys:    keys,
		log:     log.WithField("component", "projection-consumer"),
		metrics: m,
	}
}

// OnEvent applies one inbound event. correlationID wins over the id found in
// headers. A nil event or an unknown variant is logged and skipped. The
// returned error is only for storage failures worth a redelivery.
func (c *Consumer) OnEvent(ctx context.Context, ev events.Event, correlationID string, headers amqp.Table) error {
	if ev == nil {
		c.log.Debug("nil event ignored")
		return nil
	}

	if correlationID == "" {
		if v, ok := headers[correlation.HeaderName].(string); ok {
			correlationID = v
		}
	}
	ctx = correlation.WithID(ctx, correlationID)
	ctx, correlationID, _ = correlation.Ensure(ctx)

	meta := ev.Metadata()
	log := logger.FromContext(ctx, c.log).WithFields(logrus.Fields{
		"event_type": ev.Type(),
		"event_id":   meta.EventID,
		"entity_id":  meta.EntityID,
	})

	_, unknown := ev.(events.Unknown)
	if unknown && (meta.EventID == uuid.Nil || meta.EntityID == uuid.Nil) {
		log.Warn("unknown event type without ids, skipping")
		c.metrics.EventConsumed(string(ev.Type()), "unknown")
		return nil
	}

	entry, err := eventstore.NewEntry(ev, correlationID)
	if err != nil {
		log.WithError(err).Error("failed to build event store entry")
		c.metrics.EventConsumed(string(ev.Type()), "malformed")
		return nil
	}
	if _, err := c.store.Append(ctx, entry); err != nil {
		c.metrics.EventConsumed(string(ev.Type()), "failed")
		return fmt.Errorf("append to event store: %w", err)
	}

	// kept in the log so a later build can fold it on replay
	if unknown {
		log.Warn("unknown event type stored, projection left unchanged")
		c.metrics.EventConsumed(string(ev.Type()), "unknown")
		return nil
	}

	prev, err := c.repo.Get(ctx, meta.EntityID)
	if err != nil && !errors.Is(err, ErrProjectionNotFound) {
		c.metrics.EventConsumed(string(ev.Type()), "failed")
		return fmt.Errorf("load projection: %w", err)
	}

	switch {
	case prev != nil && meta.OccurredAt.Before(prev.LastUpdated):
		// redelivery of an older event, replay will still see it in order
		log.WithField("last_updated", prev.LastUpdated).Info("stale event, projection left unchanged")
		c.metrics.EventConsumed(string(ev.Type()), "stale")
	default:
		next, ok := Apply(prev, ev)
		if ok {
			written, err := c.repo.Upsert(ctx, next)
			if err != nil {
				c.metrics.EventConsumed(string(ev.Type()), "failed")
				return err
			}
			if !written {
				log.Info("projection moved past this event, left unchanged")
				c.metrics.EventConsumed(string(ev.Type()), "stale")
				break
			}
		}
		c.metrics.EventConsumed(string(ev.Type()), "ok")
	}

	if c.replica != nil {
		if err := c.replica.ApplyReplica(ctx, ev); err != nil {
			log.WithError(err).Warn("failed to refresh local replica")
		}
	}

	log.Debug("event applied")
	return nil
}

// ApplyLocal runs an event produced on this node through the delivery path
// so local reads see it before the broker echoes it back.
func (c *Consumer) ApplyLocal(ctx context.Context, ev events.Event) error {
	return c.OnEvent(ctx, ev, correlation.FromContext(ctx), nil)
}

// HandleDelivery decodes and applies one AMQP delivery, then acks it.
// Malformed payloads are acked without requeue; storage failures are
// nacked for redelivery.
func (c *Consumer) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	tag := c.eventTag(d)

	ev, err := events.Decode(tag, d.Body)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"routing_key":    d.RoutingKey,
			"correlation_id": d.CorrelationId,
		}).Error("dropping malformed event")
		c.metrics.EventConsumed(tag, "malformed")
		_ = d.Ack(false)
		return
	}

	if err := c.OnEvent(ctx, ev, d.CorrelationId, d.Headers); err != nil {
		c.log.WithError(err).WithField("routing_key", d.RoutingKey).Error("event handling failed, requeueing")
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Run consumes deliveries until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	c.log.Info("projection consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed")
			}
			c.HandleDelivery(ctx, d)
		}
	}
}

func (c *Consumer) eventTag(d amqp.Delivery) string {
	if v, ok := d.Headers[events.HeaderEventType].(string); ok && v != "" {
		return v
	}
	if d.Type != "" {
		return d.Type
	}
	if t, ok := c.keys.TypeOf(d.RoutingKey); ok {
		return string(t)
	}
	return d.RoutingKey
}
