// Package feed periodically publishes depth snapshots to the depth topic and
// the websocket hub. Snapshots are fire-and-forget: a missed tick is
// replaced by the next one, so nothing here is persisted.
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"matchd/domain/orderbook"
)

// Snapshotter is the view of the book the feed needs.
type Snapshotter interface {
	Levels() orderbook.Levels
	Midprice() (orderbook.Price, bool)
}

// Publisher sends one depth payload to the broker.
type Publisher interface {
	Send(ctx context.Context, key, value []byte) error
}

// Hub fans depth events out to websocket subscribers.
type Hub interface {
	BroadcastDepth(orderbook.Levels)
}

// Snapshot is the wire format on the depth topic; prices are in ticks.
type Snapshot struct {
	V        int     `json:"v"`
	Type     string  `json:"type"`
	Time     int64   `json:"ts"`
	Bids     []Level `json:"bids"`
	Asks     []Level `json:"asks"`
	Midprice *uint64 `json:"midprice,omitempty"`
}

type Level struct {
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
}

type Feed struct {
	log      *zap.Logger
	book     Snapshotter
	pub      Publisher // nil means websocket only
	hub      Hub       // nil means kafka only
	interval time.Duration

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(log *zap.Logger, book Snapshotter, pub Publisher, hub Hub, interval time.Duration) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Feed{
		log:      log,
		book:     book,
		pub:      pub,
		hub:      hub,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (f *Feed) Start() {
	go f.run()
}

func (f *Feed) run() {
	defer close(f.done)
	f.log.Info("depth feed started", zap.Duration("interval", f.interval))

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			f.publishOnce()
		}
	}
}

func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		close(f.stop)
		<-f.done
	})
}

func (f *Feed) publishOnce() {
	lv := f.book.Levels()

	if f.hub != nil {
		f.hub.BroadcastDepth(lv)
	}
	if f.pub == nil {
		return
	}

	snap := Snapshot{
		V:    1,
		Type: "depth",
		Time: time.Now().UnixNano(),
		Bids: toWire(lv.Bids),
		Asks: toWire(lv.Asks),
	}
	if mid, ok := f.book.Midprice(); ok {
		m := uint64(mid)
		snap.Midprice = &m
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		f.log.Error("encode depth snapshot", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.pub.Send(ctx, []byte("depth"), payload); err != nil {
		f.log.Warn("depth publish failed", zap.Error(err))
	}
}

func toWire(in []orderbook.Level) []Level {
	out := make([]Level, len(in))
	for i, l := range in {
		out[i] = Level{Price: uint64(l.Price), Quantity: uint64(l.Quantity)}
	}
	return out
}
