package orderbook

import "errors"

// Sentinel errors returned by book operations. Callers classify them with
// errors.Is; failures leave the book unchanged.
var (
	ErrFillOverflow  = errors.New("orderbook: fill exceeds remaining quantity")
	ErrIDExists      = errors.New("orderbook: order id already exists")
	ErrCantMatch     = errors.New("orderbook: order cannot match")
	ErrCantFullyFill = errors.New("orderbook: order cannot be fully filled")
	ErrNoLiquidity   = errors.New("orderbook: no liquidity")
	ErrOrderNotFound = errors.New("orderbook: order not found")
)
