// Package service orchestrates the core components of the
// matching engine: orderbook, trade outbox, websocket hub,
// and ticker store.
//
// It provides a clean API for placing, cancelling, and
// querying orders, decoupled from network transports like REST.
package service
