// Package broadcaster publishes committed events from the durable outbox to
// Kafka. Delivery is at-least-once: a record is ACKED only after the broker
// confirms it, and anything still NEW or SENT after a crash is re-published.
package broadcaster

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"vidar/domain/book"
	"vidar/infra/outbox"
	"vidar/infra/wal"
)

const defaultInterval = 100 * time.Millisecond

// Envelope is the public event shape. PublishedAt is broadcaster metadata,
// added here so the log itself stays free of wall-clock time.
type Envelope struct {
	LSN           uint64 `json:"lsn"`
	Type          string `json:"type"`
	Symbol        string `json:"symbol"`
	OrderID       uint64 `json:"order_id"`
	CounterID     uint64 `json:"counter_order_id,omitempty"`
	Side          string `json:"side,omitempty"`
	Price         int64  `json:"price,omitempty"`
	Qty           int64  `json:"qty,omitempty"`
	Remaining     int64  `json:"remaining,omitempty"`
	Reason        string `json:"reason,omitempty"`
	NewPrice      int64  `json:"new_price,omitempty"`
	NewQty        int64  `json:"new_qty,omitempty"`
	PriorityReset bool   `json:"priority_reset,omitempty"`
	PublishedAt   int64  `json:"published_at"`
}

type Broadcaster struct {
	ob       *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      *zap.Logger
}

func New(brokers []string, topic string, ob *outbox.Outbox, log *zap.Logger) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		ob:       ob,
		producer: producer,
		topic:    topic,
		interval: defaultInterval,
		log:      log,
	}, nil
}

// Run drains the outbox until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.drain(); err != nil {
				b.log.Warn("outbox drain failed", zap.Error(err))
			}
		}
	}
}

// errBrokerDown stops a drain pass at the first failed send so the retry
// starts from the same record and per-symbol ordering is preserved.
var errBrokerDown = errors.New("broadcaster: broker unavailable")

func (b *Broadcaster) drain() error {
	err := b.ob.ScanPending(func(rec *outbox.Record) error {
		ev, err := wal.DecodeEvent(rec.Payload)
		if err != nil {
			// Undecodable records are skipped, not dropped; they stay
			// pending for inspection.
			b.log.Error("outbox record undecodable", zap.Uint64("lsn", rec.LSN), zap.Error(err))
			return nil
		}
		ev.LSN = book.LSN(rec.LSN)

		if err := b.ob.MarkSent(rec.LSN); err != nil {
			return err
		}
		value, err := json.Marshal(envelope(&ev))
		if err != nil {
			return err
		}
		// Keyed by symbol: per-symbol ordering survives partitioning.
		_, _, err = b.producer.SendMessage(&sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(ev.Symbol),
			Value: sarama.ByteEncoder(value),
		})
		if err != nil {
			b.log.Warn("publish failed, will retry",
				zap.Uint64("lsn", rec.LSN), zap.Error(err))
			return errBrokerDown // stays SENT, re-published next pass
		}
		return b.ob.MarkAcked(rec.LSN)
	})
	if errors.Is(err, errBrokerDown) {
		return nil
	}
	return err
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}

func envelope(ev *book.Event) *Envelope {
	e := &Envelope{
		LSN:           uint64(ev.LSN),
		Type:          ev.Type.String(),
		Symbol:        ev.Symbol,
		OrderID:       uint64(ev.OrderID),
		CounterID:     uint64(ev.CounterID),
		Price:         ev.Price,
		Qty:           ev.Qty,
		Remaining:     ev.Remaining,
		Reason:        ev.Reason,
		NewPrice:      ev.NewPrice,
		NewQty:        ev.NewQty,
		PriorityReset: ev.PriorityReset,
		PublishedAt:   time.Now().UnixNano(),
	}
	if ev.Type != book.EvRejected {
		e.Side = ev.Side.String()
	}
	return e
}
