package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/microcommerce/stock-saga/events"
	"go.uber.org/zap/zaptest"
)

type recordingHandler struct {
	seen []events.Envelope
	err  error
}

func (h *recordingHandler) HandleEvent(ctx context.Context, env events.Envelope) error {
	h.seen = append(h.seen, env)
	return h.err
}

func TestMessageHandlerDecodesEnvelope(t *testing.T) {
	h := &recordingHandler{}
	handle := NewMessageHandler(h, zaptest.NewLogger(t))

	orderID := int64(3)
	env := events.New(events.StockInsufficient, 10, events.SourceProducts)
	env.Stock = &events.StockPayload{ProductID: 10, OrderID: &orderID}
	payload, _ := events.Marshal(env)

	if err := handle(context.Background(), &sarama.ConsumerMessage{Topic: events.TopicProductEvents, Value: payload}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(h.seen) != 1 || h.seen[0].EventID != env.EventID {
		t.Errorf("Expected the envelope to be handed over, got %+v", h.seen)
	}
}

func TestMessageHandlerSkipsPoisonMessages(t *testing.T) {
	h := &recordingHandler{}
	handle := NewMessageHandler(h, zaptest.NewLogger(t))

	for _, value := range []string{`not json`, `{"eventId":"x","eventType":"CLIENT_CREATED","version":"9.0"}`} {
		if err := handle(context.Background(), &sarama.ConsumerMessage{Topic: events.TopicClientEvents, Value: []byte(value)}); err != nil {
			t.Errorf("Expected %q to be skipped, got %v", value, err)
		}
	}
	if len(h.seen) != 0 {
		t.Errorf("Expected no envelopes to reach the handler")
	}
}

func TestMessageHandlerPropagatesFailures(t *testing.T) {
	h := &recordingHandler{err: errors.New("database down")}
	handle := NewMessageHandler(h, zaptest.NewLogger(t))

	payload, _ := events.Marshal(events.New(events.ClientUpdated, 1, events.SourceClients))
	if err := handle(context.Background(), &sarama.ConsumerMessage{Topic: events.TopicClientEvents, Value: payload}); err == nil {
		t.Error("Expected handler failure to leave the message unacknowledged")
	}
}
