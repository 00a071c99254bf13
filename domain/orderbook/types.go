package orderbook

import "math"

// Price is an instrument price in integer ticks.
type Price uint64

// Market orders are keyed with sentinel prices so they sort ahead of every
// limit order on their side.
const (
	MinPrice Price = 0
	MaxPrice Price = math.MaxUint64
)

// Quantity is an order size in base units.
type Quantity uint64

// Sub returns q minus other, saturating at zero.
func (q Quantity) Sub(other Quantity) Quantity {
	if other >= q {
		return 0
	}
	return q - other
}

// Add returns q plus other, saturating at the maximum quantity.
func (q Quantity) Add(other Quantity) Quantity {
	sum := q + other
	if sum < q {
		return math.MaxUint64
	}
	return sum
}

// OrderID identifies a live order within one book.
type OrderID uint64

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

type OrderType int

const (
	GoodTillCancelled OrderType = iota
	FillAndKill
	FillOrKill
	GoodForDay
	Market
)

func (t OrderType) String() string {
	switch t {
	case GoodTillCancelled:
		return "good_till_cancelled"
	case FillAndKill:
		return "fill_and_kill"
	case FillOrKill:
		return "fill_or_kill"
	case GoodForDay:
		return "good_for_day"
	case Market:
		return "market"
	}
	return "unknown"
}
