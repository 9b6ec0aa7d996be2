package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/microcommerce/stock-saga/events"
	"github.com/microcommerce/stock-saga/middleware"
	"github.com/microcommerce/stock-saga/product-service/reconciler"
	"go.uber.org/zap"
)

// Topics consumed by the product service.
var Topics = []string{events.TopicOrderEvents}

type Reconciler interface {
	Handle(ctx context.Context, env events.Envelope) (*reconciler.Result, error)
}

// NewMessageHandler feeds order events to the reconciler. A nil return lets
// the group handler mark the message; any reconciliation error leaves it for
// redelivery. Poison messages are counted and skipped.
func NewMessageHandler(r Reconciler, logger *zap.Logger) events.MessageHandler {
	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		env, err := events.Decode(msg.Value)
		if err != nil {
			skipPoison(ctx, msg, err, logger)
			return nil
		}

		result, err := r.Handle(ctx, env)
		if errors.Is(err, reconciler.ErrMalformedEvent) {
			skipPoison(ctx, msg, err, logger)
			return nil
		}
		if err != nil {
			logger.Error("Order event not reconciled, leaving for redelivery",
				zap.String("trace_id", middleware.TraceID(ctx)),
				zap.String("event_id", env.EventID),
				zap.Int64("order_id", env.AggregateID),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return err
		}

		if !result.Ignored {
			logger.Info("Order event reconciled",
				zap.String("trace_id", middleware.TraceID(ctx)),
				zap.String("event_id", env.EventID),
				zap.String("event_type", string(env.EventType)),
				zap.Int64("order_id", env.AggregateID),
				zap.Int("applied", result.Count(reconciler.OutcomeApplied)),
				zap.Int("duplicates", result.Count(reconciler.OutcomeDuplicate)),
				zap.Int("insufficient", result.Count(reconciler.OutcomeInsufficientStock)),
			)
		}
		return nil
	}
}

func skipPoison(ctx context.Context, msg *sarama.ConsumerMessage, err error, logger *zap.Logger) {
	middleware.RecordRejectedEnvelope(msg.Topic)
	logger.Error("Skipping unusable order event",
		zap.String("trace_id", middleware.TraceID(ctx)),
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Bool("unsupported_version", errors.Is(err, events.ErrUnsupportedVersion)),
		zap.Error(err),
	)
}
