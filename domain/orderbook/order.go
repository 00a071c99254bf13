package orderbook

import "fmt"

// Order is a pure domain entity. The level queue and the book-wide index hold
// pointers to the same value, so there is a single mutation point.
type Order struct {
	ID        OrderID
	Type      OrderType
	Side      Side
	Price     Price
	Initial   Quantity
	Remaining Quantity
}

// NewOrder builds an order with nothing filled yet. Market orders discard the
// supplied price in favor of the side's sentinel: MaxPrice for buys, MinPrice
// for sells.
func NewOrder(typ OrderType, id OrderID, side Side, price Price, qty Quantity) *Order {
	if typ == Market {
		if side == Buy {
			price = MaxPrice
		} else {
			price = MinPrice
		}
	}
	return &Order{
		ID:        id,
		Type:      typ,
		Side:      side,
		Price:     price,
		Initial:   qty,
		Remaining: qty,
	}
}

// NewMarketOrder is shorthand for an order type that has no meaningful price.
func NewMarketOrder(id OrderID, side Side, qty Quantity) *Order {
	return NewOrder(Market, id, side, 0, qty)
}

// Fill consumes qty from the remaining quantity.
func (o *Order) Fill(qty Quantity) error {
	if qty > o.Remaining {
		return fmt.Errorf("order %d: fill %d, remaining %d: %w", o.ID, qty, o.Remaining, ErrFillOverflow)
	}
	o.Remaining -= qty
	return nil
}

// Filled returns how much of the order has executed.
func (o *Order) Filled() Quantity {
	return o.Initial.Sub(o.Remaining)
}

func (o *Order) IsFilled() bool {
	return o.Remaining == 0
}
