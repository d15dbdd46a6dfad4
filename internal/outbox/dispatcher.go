package outbox

import (
	"context"
	"log/slog"

	"storefront-engine/internal/tracing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Dispatcher struct {
	log      *slog.Logger
	producer Producer
	topic    string
}

func NewDispatcher(log *slog.Logger, producer Producer, topic string) *Dispatcher {
	return &Dispatcher{log: log, producer: producer, topic: topic}
}

// NewKafkaWriter builds the producer used in production. The topic is set per
// message by the dispatcher.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// Dispatch publishes one event. Consumers can continue the dispatch trace from
// the traceparent header.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	ctx, span := otel.Tracer("storefront-engine/internal/outbox").Start(ctx, "outbox.Dispatch",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.Int64("outbox.event_id", event.ID),
			attribute.String("outbox.event_type", event.Type),
			attribute.String("messaging.destination.name", d.topic),
		),
	)
	defer span.End()

	msg := kafka.Message{
		Topic: d.topic,
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: tracing.InjectKafkaHeaders(ctx, []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "aggregate_type", Value: []byte(event.AggregateType)},
		}),
		Time: event.CreatedAt,
	}
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.log.Error("outbox dispatch failed", "event_id", event.ID, "err", err)
		return err
	}
	d.log.Debug("outbox dispatched", "event_id", event.ID, "type", event.Type)
	return nil
}
