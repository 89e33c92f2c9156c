// Package broadcaster drains the execution outbox into Kafka.
//
// Delivery is at-least-once: an entry is marked SENT before the
// publish and ACKED only after the broker confirms it, so a crash at
// any point leaves the entry eligible for replay.
package broadcaster

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"baldr/domain/market"
	"baldr/infra/outbox"
)

type Broadcaster struct {
	log      zerolog.Logger
	box      *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
}

// Event is the JSON shape published to the executions topic.
type Event struct {
	V         int    `json:"v"`
	Type      string `json:"type"`
	ID        string `json:"id"`
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Quantity  int64  `json:"quantity"`
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	BuyOrder  string `json:"buyOrder"`
	SellOrder string `json:"sellOrder"`
	Time      int64  `json:"time"`
}

func New(log zerolog.Logger, box *outbox.Outbox, brokers []string, topic string, interval time.Duration) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		log:      log,
		box:      box,
		producer: producer,
		topic:    topic,
		interval: interval,
	}, nil
}

func (b *Broadcaster) Start(ctx context.Context) {
	b.log.Info().Str("topic", b.topic).Msg("broadcaster started")

	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.replayOnce()
			}
		}
	}()
}

func (b *Broadcaster) replayOnce() {
	err := b.box.ScanPending(func(entry *outbox.Entry) error {
		exec, err := market.ConsumeExecution(entry.Payload)
		if err != nil {
			b.log.Error().Err(err).Uint64("seq", entry.Seq).Msg("dropping undecodable outbox entry")
			return b.box.Delete(entry.Seq)
		}

		if err := b.box.MarkSent(entry.Seq, entry.Retries+1, time.Now().UnixNano()); err != nil {
			return err
		}

		value, err := json.Marshal(eventFrom(exec))
		if err != nil {
			return err
		}
		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(exec.Symbol),
			Value: sarama.ByteEncoder(value),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.log.Warn().Err(err).Uint64("seq", entry.Seq).Msg("publish failed, will retry")
			return nil
		}

		if err := b.box.MarkAcked(entry.Seq, time.Now().UnixNano()); err != nil {
			return err
		}
		return b.box.Delete(entry.Seq)
	})
	if err != nil {
		b.log.Error().Err(err).Msg("outbox scan failed")
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}

func eventFrom(x market.Execution) Event {
	return Event{
		V:         1,
		Type:      "execution",
		ID:        x.ID.String(),
		Symbol:    string(x.Symbol),
		Price:     x.Price.String(),
		Quantity:  int64(x.Quantity),
		Buyer:     x.Buyer.String(),
		Seller:    x.Seller.String(),
		BuyOrder:  x.BuyOrder.String(),
		SellOrder: x.SellOrder.String(),
		Time:      x.TS.UnixNano(),
	}
}
