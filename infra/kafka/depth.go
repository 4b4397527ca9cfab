// Package kafka publishes market-data depth updates. Fire-and-forget: a
// dropped depth frame is replaced by the next one, so unlike the event
// broadcast this path has no outbox behind it.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"vidar/domain/book"
)

type DepthPublisher struct {
	writer *kafkago.Writer
}

func NewDepthPublisher(brokers []string, topic string) *DepthPublisher {
	return &DepthPublisher{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafkago.RequireOne,
			Async:        true,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish sends one depth snapshot keyed by symbol, so consumers with
// compacted topics keep only the latest book per symbol.
func (p *DepthPublisher) Publish(ctx context.Context, d *book.Depth) error {
	value, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(d.Symbol),
		Value: value,
	})
}

func (p *DepthPublisher) Close() error {
	return p.writer.Close()
}
