// Package marketdata publishes top-of-book and depth updates for
// symbols whose books changed. Market data is unkeyed to users and
// loss-tolerant, so it goes straight to Kafka without an outbox.
package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"baldr/domain/book"
	"baldr/infra/kafka"
	"baldr/service"
)

type Publisher struct {
	log      zerolog.Logger
	engine   *service.Engine
	producer *kafka.Producer
	interval time.Duration
	depth    int
}

// Update is the JSON shape published to the market data topic.
type Update struct {
	V      int      `json:"v"`
	Type   string   `json:"type"`
	Symbol string   `json:"symbol"`
	Bids   []LevelJ `json:"bids"`
	Asks   []LevelJ `json:"asks"`
	Time   int64    `json:"time"`
}

type LevelJ struct {
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

func New(log zerolog.Logger, engine *service.Engine, producer *kafka.Producer, interval time.Duration, depth int) *Publisher {
	return &Publisher{
		log:      log,
		engine:   engine,
		producer: producer,
		interval: interval,
		depth:    depth,
	}
}

func (p *Publisher) Start(ctx context.Context) {
	p.log.Info().Dur("interval", p.interval).Msg("market data publisher started")

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.publishDirty(ctx)
			}
		}
	}()
}

func (p *Publisher) publishDirty(ctx context.Context) {
	for _, sym := range p.engine.DrainDirty() {
		bids, asks, err := p.engine.Depth(sym, p.depth)
		if err != nil {
			continue
		}
		value, err := json.Marshal(Update{
			V:      1,
			Type:   "depth",
			Symbol: string(sym),
			Bids:   levels(bids),
			Asks:   levels(asks),
			Time:   time.Now().UnixNano(),
		})
		if err != nil {
			continue
		}
		if err := p.producer.Publish(ctx, sym, value); err != nil {
			p.log.Warn().Err(err).Str("symbol", string(sym)).Msg("market data publish failed")
		}
	}
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}

func levels(in []book.Level) []LevelJ {
	out := make([]LevelJ, len(in))
	for i, l := range in {
		out[i] = LevelJ{Price: l.Price.String(), Quantity: int64(l.Quantity)}
	}
	return out
}
