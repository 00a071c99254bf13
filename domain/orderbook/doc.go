// Package orderbook implements an in-memory limit order book with price-time
// priority matching for a single instrument.
//
// Orders rest in FIFO queues per price level; levels sit in ordered maps per
// side. Admission, matching, cancellation and inspection are serialized by a
// single mutex, so the book behaves as if operations ran one at a time in
// lock acquisition order. Admission never matches: a submission round is Add
// followed by MatchOrders. GoodForDay orders are expired by a background
// pruner at the market close hour; Close stops the pruner and waits for it.
package orderbook
