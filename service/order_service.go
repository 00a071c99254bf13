package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"matchd/domain/orderbook"
	"matchd/infra/metrics"
	"matchd/infra/sequence"
)

/*
OrderService is the ONLY write entry point into the engine.

All coordination between:
- domain (orderbook)
- durability (trade outbox)
- fan-out (websocket hub, ticker)
happens here.
*/

// TradeSink persists executed trades. *outbox.Outbox satisfies it.
type TradeSink interface {
	Append(orderbook.Trade) (uint64, error)
}

// TradePublisher pushes executed trades to live subscribers.
type TradePublisher interface {
	BroadcastTrades([]orderbook.Trade)
}

// TickerStore folds executed trades into rolling market stats.
type TickerStore interface {
	Record(ctx context.Context, trades []orderbook.Trade) error
}

type OrderService struct {
	log  *zap.Logger
	book *orderbook.Book
	seq  *sequence.Sequencer
	sink TradeSink
	pub  TradePublisher
	tick TickerStore
}

// NewOrderService wires all dependencies.
// sink, pub and tick may each be nil when that subsystem is disabled.
func NewOrderService(
	log *zap.Logger,
	book *orderbook.Book,
	seq *sequence.Sequencer,
	sink TradeSink,
	pub TradePublisher,
	tick TickerStore,
) *OrderService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderService{
		log:  log.Named("service"),
		book: book,
		seq:  seq,
		sink: sink,
		pub:  pub,
		tick: tick,
	}
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Submit places a new order and runs one matching round.
// It returns the engine-assigned order id and the trades it produced.
func (s *OrderService) Submit(
	ctx context.Context,
	otype orderbook.OrderType,
	side orderbook.Side,
	price orderbook.Price,
	qty orderbook.Quantity,
) (orderbook.OrderID, []orderbook.Trade, error) {
	id := orderbook.OrderID(s.seq.Next())
	o := orderbook.NewOrder(otype, id, side, price, qty)

	// 1️⃣ Admission
	if err := s.book.Add(o); err != nil {
		metrics.OrdersRejected.WithLabelValues(rejectReason(err)).Inc()
		return 0, nil, err
	}
	metrics.OrdersAccepted.WithLabelValues(otype.String(), side.String()).Inc()

	// 2️⃣ Matching
	trades := s.book.MatchOrders()

	// 3️⃣ Durability and fan-out
	s.publish(ctx, trades)

	metrics.RestingOrders.Set(float64(s.book.Size()))
	if len(trades) > 0 {
		s.log.Info("order matched",
			zap.Uint64("order_id", uint64(id)),
			zap.Int("trades", len(trades)))
	}
	return id, trades, nil
}

// Cancel removes a resting order.
func (s *OrderService) Cancel(id orderbook.OrderID) error {
	if err := s.book.Cancel(id); err != nil {
		return err
	}
	metrics.RestingOrders.Set(float64(s.book.Size()))
	s.log.Info("order cancelled", zap.Uint64("order_id", uint64(id)))
	return nil
}

// Modify rewrites the remaining quantity of a resting order in place.
// The order keeps its position in the queue.
func (s *OrderService) Modify(id orderbook.OrderID, qty orderbook.Quantity) error {
	return s.book.Modify(id, qty)
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// Levels returns the aggregated book, best prices first.
func (s *OrderService) Levels() orderbook.Levels {
	return s.book.Levels()
}

// Midprice reports the mean of the best bid and ask.
func (s *OrderService) Midprice() (orderbook.Price, bool) {
	return s.book.Midprice()
}

// Trades returns all executions since the last ClearTrades.
func (s *OrderService) Trades() []orderbook.Trade {
	return s.book.Trades()
}

//
// ──────────────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────────────
//

func (s *OrderService) publish(ctx context.Context, trades []orderbook.Trade) {
	if len(trades) == 0 {
		return
	}
	if s.sink != nil {
		for _, tr := range trades {
			if _, err := s.sink.Append(tr); err != nil {
				s.log.Error("trade persist failed", zap.Error(err))
			}
		}
	}
	if s.pub != nil {
		s.pub.BroadcastTrades(trades)
	}
	if s.tick != nil {
		if err := s.tick.Record(ctx, trades); err != nil {
			s.log.Warn("ticker update failed", zap.Error(err))
		}
	}

	var volume uint64
	for _, tr := range trades {
		volume += uint64(tr.Bid.Quantity)
	}
	metrics.TradesExecuted.Add(float64(len(trades)))
	metrics.TradedVolume.Add(float64(volume))
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, orderbook.ErrIDExists):
		return "duplicate_id"
	case errors.Is(err, orderbook.ErrCantMatch):
		return "cant_match"
	case errors.Is(err, orderbook.ErrCantFullyFill):
		return "cant_fully_fill"
	case errors.Is(err, orderbook.ErrNoLiquidity):
		return "no_liquidity"
	default:
		return "invalid"
	}
}
