package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// MessageHandler processes one record. A nil return lets the record be
// marked as consumed; any error leaves it unmarked.
type MessageHandler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// NewConsumerGroupConfig returns consumer settings with manual progress: the
// group only commits offsets that a handler marked.
func NewConsumerGroupConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_1_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = time.Second
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	return config
}

func InitConsumerGroup(brokers []string, groupID string, logger *zap.Logger) (sarama.ConsumerGroup, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, NewConsumerGroupConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	logger.Info("Kafka consumer group initialized",
		zap.Strings("brokers", brokers),
		zap.String("group", groupID),
	)
	return group, nil
}

// GroupHandler adapts a MessageHandler to sarama.ConsumerGroupHandler. It
// processes each claim in offset order and stops the claim at the first
// failing record, which ends the session so the partition is resumed from the
// last committed offset.
type GroupHandler struct {
	handle MessageHandler
	logger *zap.Logger
	// set when any claim of the current session stopped at a failure
	failed atomic.Bool
}

func NewGroupHandler(handle MessageHandler, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{handle: handle, logger: logger}
}

func (h *GroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.failed.Store(false)
	h.logger.Info("Consumer group session started",
		zap.String("member_id", session.MemberID()),
		zap.Int32("generation_id", session.GenerationID()),
	)
	return nil
}

func (h *GroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	return nil
}

// SessionFailed reports whether the last session ended on a failing record.
func (h *GroupHandler) SessionFailed() bool {
	return h.failed.Load()
}

func (h *GroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			ctx := ExtractTrace(session.Context(), msg)
			if err := h.handle(ctx, msg); err != nil {
				h.failed.Store(true)
				h.logger.Error("Failed to handle message, leaving it unacknowledged",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// newRejoinBackOff doubles the delay from one second up to thirty seconds
// and never gives up.
func newRejoinBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// RunConsumerGroup consumes topics until ctx is done, rejoining the group after
// every session and backing off while the handler keeps failing.
func RunConsumerGroup(ctx context.Context, group sarama.ConsumerGroup, topics []string, handler *GroupHandler, logger *zap.Logger) error {
	go func() {
		for err := range group.Errors() {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	logger.Info("Kafka consumer started", zap.Strings("topics", topics))

	rejoin := newRejoinBackOff()
	for {
		err := group.Consume(ctx, topics, handler)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if err != nil {
			logger.Error("Consumer group session failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}

		if err == nil && !handler.SessionFailed() {
			rejoin.Reset()
			continue
		}
		delay := rejoin.NextBackOff()
		logger.Warn("Backing off before rejoining consumer group", zap.Duration("backoff", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}
