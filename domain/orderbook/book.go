package orderbook

import (
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

// Book is a price-time priority limit order book for a single instrument.
// One mutex serializes every mutation and query, so the effective order of
// operations is the lock acquisition order and no caller ever observes a
// partially updated book.
type Book struct {
	mu     sync.Mutex
	bids   *btree.Map[Price, *OrderQueue]
	asks   *btree.Map[Price, *OrderQueue]
	orders *OrderQueue // id index across both sides, in arrival order
	ledger *Ledger

	log       *zap.Logger
	closeHour int
	loc       *time.Location

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New returns a running book that expires GoodForDay orders at
// MarketCloseHour in the local time zone.
func New(log *zap.Logger) *Book {
	return NewAt(log, MarketCloseHour, time.Local)
}

// NewAt returns a running book with an explicit close hour and time zone.
// Close stops the pruner; the book itself needs no other teardown.
func NewAt(log *zap.Logger, closeHour int, loc *time.Location) *Book {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	b := &Book{
		bids:      btree.NewMap[Price, *OrderQueue](32),
		asks:      btree.NewMap[Price, *OrderQueue](32),
		orders:    NewOrderQueue(),
		ledger:    NewLedger(),
		log:       log,
		closeHour: closeHour,
		loc:       loc,
		stop:      make(chan struct{}),
	}
	b.wg.Add(1)
	go b.pruneLoop()
	return b
}

// ---- admission ----

// Add admits an order against the current state of the book. It never
// matches; run MatchOrders afterwards to execute any cross. On error the
// book is unchanged.
func (b *Book) Add(o *Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.orders.Contains(o.ID) {
		return fmt.Errorf("order %d: %w", o.ID, ErrIDExists)
	}

	switch o.Type {
	case FillAndKill:
		if !b.canMatch(o.Side, o.Price) {
			return fmt.Errorf("order %d: %w", o.ID, ErrCantMatch)
		}
	case FillOrKill:
		if !b.canFullyFill(o.Side, o.Price, o.Remaining) {
			return fmt.Errorf("order %d: %w", o.ID, ErrCantFullyFill)
		}
	case Market:
		if !b.hasLiquidity(o.Side) {
			return fmt.Errorf("order %d: %w", o.ID, ErrNoLiquidity)
		}
	}

	side := b.sideOf(o.Side)
	level, ok := side.Get(o.Price)
	if !ok {
		level = NewOrderQueue()
		side.Set(o.Price, level)
	}
	level.Enqueue(o)
	b.orders.Enqueue(o)
	return nil
}

func (b *Book) sideOf(s Side) *btree.Map[Price, *OrderQueue] {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// ---- cancel / modify ----

// Cancel removes a live order from the book.
func (b *Book) Cancel(id OrderID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancel(id)
}

// cancel must be called with b.mu held.
func (b *Book) cancel(id OrderID) error {
	o, ok := b.orders.Find(id)
	if !ok {
		return fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	b.orders.Remove(id)
	b.removeFromLevel(o)
	return nil
}

func (b *Book) removeFromLevel(o *Order) {
	side := b.sideOf(o.Side)
	level, ok := side.Get(o.Price)
	if !ok {
		return
	}
	level.Remove(o.ID)
	if level.Empty() {
		side.Delete(o.Price)
	}
}

// Modify overwrites the remaining quantity of a live order in place. The
// order keeps its position in the level queue, so time priority is preserved
// even when the quantity grows.
func (b *Book) Modify(id OrderID, qty Quantity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders.Find(id)
	if !ok {
		return fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	o.Remaining = qty
	return nil
}

// ---- matching ----

// MatchOrders executes every possible cross and returns the trades from this
// pass in execution order. The trades are also appended to the ledger. Once
// the sides no longer cross, any FillAndKill or Market remainder stranded at
// the top of either side is cancelled.
func (b *Book) MatchOrders() []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()

	var trades []Trade
	for {
		bidPrice, bidLevel, ok := b.bids.Max()
		if !ok {
			break
		}
		askPrice, askLevel, ok := b.asks.Min()
		if !ok {
			break
		}
		if bidPrice < askPrice {
			break
		}

		bid, _ := bidLevel.Head()
		ask, _ := askLevel.Head()

		qty := min(bid.Remaining, ask.Remaining)
		// qty is bounded by both remainders, so neither fill can overflow.
		_ = bid.Fill(qty)
		_ = ask.Fill(qty)

		price := askPrice
		if askPrice == MinPrice {
			// Resting market sell: the bid side carries the only real price.
			price = bidPrice
		}

		trade := Trade{
			Bid: TradeInfo{OrderID: bid.ID, Price: price, Quantity: qty},
			Ask: TradeInfo{OrderID: ask.ID, Price: price, Quantity: qty},
		}
		trades = append(trades, trade)
		b.ledger.Append(trade)

		if bid.IsFilled() {
			bidLevel.PopHead()
			b.orders.Remove(bid.ID)
			if bidLevel.Empty() {
				b.bids.Delete(bidPrice)
			}
		}
		if ask.IsFilled() {
			askLevel.PopHead()
			b.orders.Remove(ask.ID)
			if askLevel.Empty() {
				b.asks.Delete(askPrice)
			}
		}
	}

	b.sweepTop()
	return trades
}

// sweepTop cancels FillAndKill and Market leftovers. After a matching pass
// they can only sit at the current top of their side. Must be called with
// b.mu held.
func (b *Book) sweepTop() {
	if _, level, ok := b.bids.Max(); ok {
		b.sweepLevel(level)
	}
	if _, level, ok := b.asks.Min(); ok {
		b.sweepLevel(level)
	}
}

func (b *Book) sweepLevel(level *OrderQueue) {
	var doomed []OrderID
	level.Each(func(o *Order) bool {
		if o.Type == FillAndKill || o.Type == Market {
			doomed = append(doomed, o.ID)
		}
		return true
	})
	for _, id := range doomed {
		_ = b.cancel(id)
	}
}

// ---- predicates ----

// CanMatch reports whether an order on side at price would cross the
// opposite side right now.
func (b *Book) CanMatch(side Side, price Price) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canMatch(side, price)
}

// CanFullyFill reports whether crossing liquidity at acceptable prices
// covers qty in full.
func (b *Book) CanFullyFill(side Side, price Price, qty Quantity) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canFullyFill(side, price, qty)
}

// HasLiquidity reports whether the opposite side has any resting order.
func (b *Book) HasLiquidity(side Side) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasLiquidity(side)
}

func (b *Book) canMatch(side Side, price Price) bool {
	if side == Buy {
		best, _, ok := b.asks.Min()
		return ok && price >= best
	}
	best, _, ok := b.bids.Max()
	return ok && best >= price
}

func (b *Book) canFullyFill(side Side, price Price, qty Quantity) bool {
	var available Quantity
	if side == Buy {
		b.asks.Scan(func(p Price, level *OrderQueue) bool {
			if p > price {
				return false
			}
			available = available.Add(level.TotalQuantity())
			return available < qty
		})
	} else {
		b.bids.Reverse(func(p Price, level *OrderQueue) bool {
			if p < price {
				return false
			}
			available = available.Add(level.TotalQuantity())
			return available < qty
		})
	}
	return available >= qty
}

func (b *Book) hasLiquidity(side Side) bool {
	if side == Buy {
		return b.asks.Len() > 0
	}
	return b.bids.Len() > 0
}

// ---- inspection ----

// Level is one rung of a depth snapshot: a price and the total resting
// quantity at that price.
type Level struct {
	Price    Price
	Quantity Quantity
}

// Levels is a depth snapshot: bids best-first (descending price) and asks
// best-first (ascending price).
type Levels struct {
	Bids []Level
	Asks []Level
}

// Levels returns a depth snapshot of the book.
func (b *Book) Levels() Levels {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Levels{
		Bids: make([]Level, 0, b.bids.Len()),
		Asks: make([]Level, 0, b.asks.Len()),
	}
	b.bids.Reverse(func(p Price, level *OrderQueue) bool {
		snap.Bids = append(snap.Bids, Level{Price: p, Quantity: level.TotalQuantity()})
		return true
	})
	b.asks.Scan(func(p Price, level *OrderQueue) bool {
		snap.Asks = append(snap.Asks, Level{Price: p, Quantity: level.TotalQuantity()})
		return true
	})
	return snap
}

// Midprice returns the midpoint of the best bid and best ask. It reports
// false when either side is empty.
func (b *Book) Midprice() (Price, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bid, _, ok := b.bids.Max()
	if !ok {
		return 0, false
	}
	ask, _, ok := b.asks.Min()
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// Trades returns a copy of the ledger in execution order.
func (b *Book) Trades() []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.All()
}

// ClearTrades empties the ledger.
func (b *Book) ClearTrades() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ledger.Clear()
}

// Size returns the number of live orders.
func (b *Book) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders.Len()
}
