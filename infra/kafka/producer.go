// Package kafka publishes per-symbol market data over the segmentio
// writer. Execution reports go through the sarama producer in
// jobs/broadcaster instead, because they need the outbox replay loop.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"baldr/domain/market"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish keys the message by symbol. The hash balancer then pins each
// symbol to one partition, so a consumer sees that symbol's updates in
// publish order.
func (p *Producer) Publish(ctx context.Context, sym market.Symbol, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(sym),
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
