package events

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ProducerHeaderCarrier implements the TextMapCarrier interface for Kafka headers (for producer)
type ProducerHeaderCarrier []sarama.RecordHeader

func (c ProducerHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *ProducerHeaderCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

func (c ProducerHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}

// ConsumerHeaderCarrier implements the TextMapCarrier interface for Kafka headers (for consumer)
type ConsumerHeaderCarrier []*sarama.RecordHeader

func (c ConsumerHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set is a no-op; consumer headers are only read.
func (c ConsumerHeaderCarrier) Set(key, value string) {}

func (c ConsumerHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, h := range c {
		if h != nil {
			keys = append(keys, string(h.Key))
		}
	}
	return keys
}

// InjectTrace returns the record headers carrying the trace context of ctx.
func InjectTrace(ctx context.Context) []sarama.RecordHeader {
	carrier := make(ProducerHeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	return []sarama.RecordHeader(carrier)
}

// ExtractTrace returns ctx enriched with the trace context found in msg's headers.
func ExtractTrace(ctx context.Context, msg *sarama.ConsumerMessage) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, ConsumerHeaderCarrier(msg.Headers))
}

// EncodeTrace serializes the trace context of ctx for storage next to an
// event that is published later.
func EncodeTrace(ctx context.Context) string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return ""
	}
	data, err := json.Marshal(carrier)
	if err != nil {
		return ""
	}
	return string(data)
}

// DecodeTrace restores a trace context stored with EncodeTrace. Empty or
// unreadable input leaves ctx unchanged.
func DecodeTrace(ctx context.Context, encoded string) context.Context {
	if encoded == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{}
	if err := json.Unmarshal([]byte(encoded), &carrier); err != nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
