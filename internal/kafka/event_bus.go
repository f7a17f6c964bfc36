package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the slice of kafka.Writer the bus uses, extracted so
// tests can record messages without a broker.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// EventBus publishes order lifecycle events to a Kafka topic, keyed by order
// id so per-order ordering is preserved.
type EventBus struct {
	writer  messageWriter
	topic   string
	metrics *Metrics
	closer  func() error
}

// NewEventBus connects a producer to the given brokers. metrics may be nil.
func NewEventBus(brokers []string, topic string, metrics *Metrics) *EventBus {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &EventBus{
		writer:  writer,
		topic:   topic,
		metrics: metrics,
		closer:  writer.Close,
	}
}

// NewEventBusWithWriter injects a writer directly; used by tests.
func NewEventBusWithWriter(writer messageWriter, topic string, metrics *Metrics) *EventBus {
	return &EventBus{writer: writer, topic: topic, metrics: metrics, closer: func() error { return nil }}
}

type lifecycleEvent struct {
	Event   string    `json:"event"`
	OrderID string    `json:"order_id"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

func (b *EventBus) PublishOrderConfirmed(ctx context.Context, orderID string) error {
	return b.publish(ctx, lifecycleEvent{Event: "order.confirmed", OrderID: orderID})
}

func (b *EventBus) PublishOrderCancelled(ctx context.Context, orderID string, reason string) error {
	return b.publish(ctx, lifecycleEvent{Event: "order.cancelled", OrderID: orderID, Reason: reason})
}

func (b *EventBus) PublishPaymentFailed(ctx context.Context, orderID string, reason string) error {
	return b.publish(ctx, lifecycleEvent{Event: "payment.failed", OrderID: orderID, Reason: reason})
}

func (b *EventBus) PublishRefundInitiated(ctx context.Context, orderID string) error {
	return b.publish(ctx, lifecycleEvent{Event: "refund.initiated", OrderID: orderID})
}

func (b *EventBus) publish(ctx context.Context, event lifecycleEvent) error {
	event.At = time.Now().UTC()

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Event, err)
	}

	start := time.Now()
	err = b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: value,
	})
	if b.metrics != nil {
		b.metrics.RecordPublish(ctx, b.topic, time.Since(start).Seconds(), err == nil)
	}
	if err != nil {
		return fmt.Errorf("publish %s for order %s: %w", event.Event, event.OrderID, err)
	}
	return nil
}

// Close flushes and shuts down the underlying producer.
func (b *EventBus) Close() error {
	return b.closer()
}
