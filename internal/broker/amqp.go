// Package broker is the message broker adapter: one consumed queue, a
// direct task exchange for stage fan-out, and a topic exchange for
// user-visible notifications, built on github.com/rabbitmq/amqp091-go.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	TaskExchange         = "insight"
	NotificationExchange = "user"
)

// Conn wraps a single AMQP connection and the one channel the worker uses
// for both consuming and publishing, per the prefetch=1 contract: splitting
// publish and consume onto separate channels is the one documented
// concurrency knob left to the implementer.
type Conn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Config describes the broker connection.
type Config struct {
	Host     string
	User     string
	Password string
	SSL      bool
	Queue    string
}

// Connect dials the broker, declares the task and notification exchanges,
// declares the durable input queue, and sets prefetch to 1.
func Connect(cfg Config) (*Conn, error) {
	scheme := "amqp"
	if cfg.SSL {
		scheme = "amqps"
	}
	uri := fmt.Sprintf("%s://%s:%s@%s/", scheme, cfg.User, cfg.Password, cfg.Host)

	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(TaskExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare task exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(NotificationExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare notification exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %q: %w", cfg.Queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &Conn{conn: conn, ch: ch}, nil
}

// Close shuts down the channel and connection.
func (c *Conn) Close() error {
	c.ch.Close()
	return c.conn.Close()
}

// Consume returns a channel of deliveries from the worker's input queue.
func (c *Conn) Consume(queue string) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(queue, "", false, false, false, false, nil)
}

// amqpHeaderCarrier adapts amqp.Table to OTel's TextMapCarrier so trace
// context can be injected into, and extracted from, message headers —
// the same adapter shape the publish/subscribe helpers in the example pack
// use for their own broker's headers, retargeted at AMQP's amqp.Table.
type amqpHeaderCarrier amqp.Table

func (c amqpHeaderCarrier) Get(key string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (c amqpHeaderCarrier) Set(key, value string) { c[key] = value }

func (c amqpHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// PublishJSON marshals payload and publishes it to exchange with
// routingKey, injecting the current trace context into message headers.
// This is the non-generic method the pipeline's Publisher port calls;
// Publish[T] below is a thin generic convenience wrapper for callers that
// want a typed payload checked at compile time.
func (c *Conn) PublishJSON(ctx context.Context, exchange, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", routingKey, err)
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, amqpHeaderCarrier(headers))

	return c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers:      headers,
	})
}

// Publish[T] JSON-marshals a typed payload and publishes it to exchange
// with routingKey.
func Publish[T any](ctx context.Context, c *Conn, exchange, routingKey string, payload T) error {
	return c.PublishJSON(ctx, exchange, routingKey, payload)
}

// ExtractContext recovers the trace context propagated in a delivery's
// headers, for continuing a trace started by whichever producer emitted
// the original event.
func ExtractContext(ctx context.Context, d amqp.Delivery) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, amqpHeaderCarrier(d.Headers))
}

// Decode unmarshals a delivery's JSON body into T.
func Decode[T any](d amqp.Delivery) (T, error) {
	var v T
	if err := json.Unmarshal(d.Body, &v); err != nil {
		return v, fmt.Errorf("decode delivery body: %w", err)
	}
	return v, nil
}

var _ propagation.TextMapCarrier = amqpHeaderCarrier{}
