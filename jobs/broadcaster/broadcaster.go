// Package broadcaster pumps the trade outbox to Kafka. Delivery is
// at-least-once: a record is marked SENT before publishing and ACKED after
// the broker confirms, so a crash in between leads to a replay, never a
// loss. Consumers dedupe on the sequence number.
package broadcaster

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"matchd/infra/metrics"
	"matchd/infra/outbox"
)

const (
	defaultRetryAfter = 30 * time.Second
	defaultMaxRetries = 10
	defaultBatch      = 256
)

// errBatchFull aborts a scan once the per-pass delivery budget is spent.
var errBatchFull = errors.New("batch full")

// Publisher abstracts the Kafka producer so tests can fake delivery. When
// the implementation is also an io.Closer, Close tears it down.
type Publisher interface {
	Publish(key, value []byte) error
}

// Event is the wire format on the trades topic.
type Event struct {
	V    int       `json:"v"`
	Type string    `json:"type"`
	Seq  uint64    `json:"seq"`
	Bid  EventSide `json:"bid"`
	Ask  EventSide `json:"ask"`
}

// EventSide carries one side of an execution; prices are in ticks.
type EventSide struct {
	OrderID  uint64 `json:"order_id"`
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
}

func encodeEvent(rec outbox.Record) ([]byte, error) {
	return json.Marshal(Event{
		V:    1,
		Type: "trade",
		Seq:  rec.Seq,
		Bid: EventSide{
			OrderID:  uint64(rec.Trade.Bid.OrderID),
			Price:    uint64(rec.Trade.Bid.Price),
			Quantity: uint64(rec.Trade.Bid.Quantity),
		},
		Ask: EventSide{
			OrderID:  uint64(rec.Trade.Ask.OrderID),
			Price:    uint64(rec.Trade.Ask.Price),
			Quantity: uint64(rec.Trade.Ask.Quantity),
		},
	})
}

// ------------------------------------------------
// KAFKA PUBLISHER
// ------------------------------------------------

type kafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer with full-ISR acks; the
// outbox pump needs a definite yes or no per message.
func NewKafkaPublisher(brokers []string, topic string) (Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &kafkaPublisher{producer: producer, topic: topic}, nil
}

func (p *kafkaPublisher) Publish(key, value []byte) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (p *kafkaPublisher) Close() error {
	return p.producer.Close()
}

// ------------------------------------------------
// BROADCASTER
// ------------------------------------------------

type Broadcaster struct {
	log      *zap.Logger
	outbox   *outbox.Outbox
	pub      Publisher
	interval time.Duration
	batch    int

	retryAfter time.Duration
	maxRetries uint32

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New builds the pump. batch caps deliveries per replay pass; zero means
// the default.
func New(log *zap.Logger, ob *outbox.Outbox, pub Publisher, interval time.Duration, batch int) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if batch <= 0 {
		batch = defaultBatch
	}
	return &Broadcaster{
		log:        log,
		outbox:     ob,
		pub:        pub,
		interval:   interval,
		batch:      batch,
		retryAfter: defaultRetryAfter,
		maxRetries: defaultMaxRetries,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (b *Broadcaster) Start() {
	go b.run()
}

func (b *Broadcaster) run() {
	defer close(b.done)
	b.log.Info("broadcaster started", zap.Duration("interval", b.interval))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.replayOnce()
		}
	}
}

// Close stops the loop, waits for it, then closes the publisher.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
		if c, ok := b.pub.(io.Closer); ok {
			_ = c.Close()
		}
		b.log.Info("broadcaster stopped")
	})
}

// ------------------------------------------------
// REPLAY LOGIC
// ------------------------------------------------

func (b *Broadcaster) replayOnce() {
	budget := b.batch
	_ = b.outbox.ScanByState(outbox.StateNew, func(rec outbox.Record) error {
		if budget <= 0 {
			return errBatchFull
		}
		budget--
		b.deliver(rec)
		return nil
	})

	// SENT records survive a crash between publish and ack; replay them once
	// they have gone stale.
	cutoff := time.Now().Add(-b.retryAfter).UnixNano()
	_ = b.outbox.ScanByState(outbox.StateSent, func(rec outbox.Record) error {
		if rec.LastAttempt >= cutoff {
			return nil
		}
		if rec.Retries >= b.maxRetries {
			b.log.Error("trade delivery abandoned",
				zap.Uint64("seq", rec.Seq), zap.Uint32("retries", rec.Retries))
			return b.outbox.UpdateState(rec.Seq, outbox.StateFailed)
		}
		if budget <= 0 {
			return errBatchFull
		}
		budget--
		b.deliver(rec)
		return nil
	})

	if _, err := b.outbox.PurgeAcked(); err != nil {
		b.log.Warn("outbox purge failed", zap.Error(err))
	}
	if n, err := b.outbox.CountPending(); err == nil {
		metrics.OutboxPending.Set(float64(n))
	}
}

func (b *Broadcaster) deliver(rec outbox.Record) {
	// Mark SENT before publishing; a crash between the two surfaces as a
	// stale SENT record, never as a silent loss.
	if err := b.outbox.UpdateState(rec.Seq, outbox.StateSent); err != nil {
		b.log.Warn("mark sent failed", zap.Uint64("seq", rec.Seq), zap.Error(err))
		return
	}
	payload, err := encodeEvent(rec)
	if err != nil {
		b.log.Error("encode trade event", zap.Uint64("seq", rec.Seq), zap.Error(err))
		return
	}
	if err := b.pub.Publish(strconv.AppendUint(nil, rec.Seq, 10), payload); err != nil {
		b.log.Warn("trade publish failed, will retry", zap.Uint64("seq", rec.Seq), zap.Error(err))
		return
	}
	_ = b.outbox.UpdateState(rec.Seq, outbox.StateAcked)
}
