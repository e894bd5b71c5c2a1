package pubsub

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingPublisher wraps a Publisher with OpenTelemetry tracing, giving
// visibility into event flows across the sync core's components.
type TracingPublisher struct {
	publisher Publisher
	tracer    trace.Tracer
}

// NewTracingPublisher creates a Publisher that records a span per publish.
func NewTracingPublisher(publisher Publisher, tracer trace.Tracer) *TracingPublisher {
	return &TracingPublisher{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish wraps the publish operation with tracing.
func (p *TracingPublisher) Publish(ctx context.Context, msg Message) error {
	spanCtx, span := p.tracer.Start(ctx, "bus.publish."+msg.Topic,
		trace.WithAttributes(
			attribute.String("messaging.system", "watermill"),
			attribute.String("messaging.operation", "publish"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
		),
	)
	defer span.End()

	err := p.publisher.Publish(spanCtx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// Close closes the underlying publisher.
func (p *TracingPublisher) Close() error {
	return p.publisher.Close()
}

// tracedBus is a Bus whose publish side records spans. Subscriptions are
// passed through untouched.
type tracedBus struct {
	pub *TracingPublisher
	sub Subscriber
}

// NewTracedBus wraps the bus's publish side with tracing.
func NewTracedBus(bus Bus, tracer trace.Tracer) Bus {
	return &tracedBus{
		pub: NewTracingPublisher(bus, tracer),
		sub: bus,
	}
}

func (b *tracedBus) Publish(ctx context.Context, msg Message) error {
	return b.pub.Publish(ctx, msg)
}

func (b *tracedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.sub.Subscribe(ctx, topic, handler)
}

func (b *tracedBus) Close() error {
	return b.pub.Close()
}
