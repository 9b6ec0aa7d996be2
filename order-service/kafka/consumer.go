package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/microcommerce/stock-saga/events"
	"github.com/microcommerce/stock-saga/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Topics consumed by the order service.
var Topics = []string{events.TopicProductEvents, events.TopicClientEvents}

type EventHandler interface {
	HandleEvent(ctx context.Context, env events.Envelope) error
}

// NewMessageHandler decodes consumed records and hands them to handler.
// Records that cannot be decoded are counted and skipped.
func NewMessageHandler(handler EventHandler, logger *zap.Logger) events.MessageHandler {
	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		ctx, span := otel.Tracer("order-service").Start(ctx, "ProcessEvent")
		defer span.End()

		env, err := events.Decode(msg.Value)
		if err != nil {
			middleware.RecordRejectedEnvelope(msg.Topic)
			logger.Error("Skipping undecodable event",
				zap.String("trace_id", middleware.TraceID(ctx)),
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Bool("unsupported_version", errors.Is(err, events.ErrUnsupportedVersion)),
				zap.Error(err),
			)
			return nil
		}

		span.SetAttributes(
			attribute.String("event.type", string(env.EventType)),
			attribute.String("event.id", env.EventID),
			attribute.Int64("aggregate.id", env.AggregateID),
		)

		logger.Info("Received event",
			zap.String("trace_id", middleware.TraceID(ctx)),
			zap.String("event_type", string(env.EventType)),
			zap.String("event_id", env.EventID),
			zap.Int64("aggregate_id", env.AggregateID),
		)

		if err := handler.HandleEvent(ctx, env); err != nil {
			span.RecordError(err)
			return err
		}
		return nil
	}
}
