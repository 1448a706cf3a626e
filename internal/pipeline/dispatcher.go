package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/resolve-works/insight-worker/internal/broker"
	"github.com/resolve-works/insight-worker/internal/domain"
	"github.com/resolve-works/insight-worker/pkg/metrics"
)

// Dispatcher implements C7: decode the routing key and payload, invoke the
// matching stage handler, and ack/nack the delivery.
type Dispatcher struct {
	Handlers *Handlers
	Metrics  *metrics.Registry
	Log      *slog.Logger
}

// Run consumes from deliveries until the channel closes or ctx is
// cancelled. One delivery is processed at a time, matching the prefetch=1
// contract: handlers publish follow-up messages on the same connection and
// must not be allowed to starve each other.
func (d *Dispatcher) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			d.handle(ctx, delivery)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, delivery amqp.Delivery) {
	ctx = broker.ExtractContext(ctx, delivery)
	routingKey := delivery.RoutingKey

	start := time.Now()
	d.Metrics.MessagesTotal.WithLabelValues(routingKey).Inc()

	err := d.dispatch(ctx, routingKey, delivery)

	d.Metrics.StageDuration.WithLabelValues(routingKey).Observe(time.Since(start).Seconds())

	if err != nil {
		d.Metrics.MessageFailures.WithLabelValues(routingKey).Inc()
		d.Log.Error("handler failed, rejecting delivery", "routing_key", routingKey, "error", err)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			d.Log.Error("nack failed", "routing_key", routingKey, "error", nackErr)
		}
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		d.Log.Error("ack failed", "routing_key", routingKey, "error", ackErr)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, routingKey string, delivery amqp.Delivery) error {
	switch routingKey {
	case broker.RoutingIngest:
		event, err := broker.Decode[broker.AfterEvent](delivery)
		if err != nil {
			return err
		}
		return d.Handlers.Ingest(ctx, event.After.ID)

	case broker.RoutingEmbed:
		event, err := broker.Decode[broker.AfterEvent](delivery)
		if err != nil {
			return err
		}
		return d.Handlers.Embed(ctx, event.After.ID)

	case broker.RoutingIndex:
		event, err := broker.Decode[broker.AfterEvent](delivery)
		if err != nil {
			return err
		}
		return d.Handlers.Index(ctx, event.After.ID)

	case broker.RoutingMove:
		event, err := broker.Decode[broker.AfterEvent](delivery)
		if err != nil {
			return err
		}
		return d.Handlers.Move(ctx, event.After.ID)

	case broker.RoutingShare:
		event, err := broker.Decode[broker.AfterEvent](delivery)
		if err != nil {
			return err
		}
		return d.Handlers.Share(ctx, event.After.ID)

	case broker.RoutingDelete:
		event, err := broker.Decode[broker.BeforeEvent](delivery)
		if err != nil {
			return err
		}
		ownerID, err := parseOwnerID(event.Before.OwnerID)
		if err != nil {
			return err
		}
		return d.Handlers.Delete(ctx, event.Before.ID, ownerID, event.Before.Path, domain.InodeType(event.Before.Type))

	default:
		return fmt.Errorf("unknown routing key %q", routingKey)
	}
}
