// Package ws fans engine events out to websocket subscribers.
//
// The hub keeps a flat set of connections behind a mutex. Writes are
// best-effort: a connection that fails or stalls past the write deadline
// is closed and dropped, never retried.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"matchd/domain/orderbook"
)

const writeWait = 5 * time.Second

// ------------------------------------------------
// WIRE EVENTS
// ------------------------------------------------

// TradeSide is one side of an executed trade, prices in ticks.
type TradeSide struct {
	OrderID  uint64 `json:"order_id"`
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
}

// TradeEvent is pushed once per execution.
type TradeEvent struct {
	Type string    `json:"type"`
	Bid  TradeSide `json:"bid"`
	Ask  TradeSide `json:"ask"`
}

// DepthLevel is one aggregated price level, prices in ticks.
type DepthLevel struct {
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
}

// DepthEvent is pushed on every feed interval.
type DepthEvent struct {
	Type     string       `json:"type"`
	Bids     []DepthLevel `json:"bids"`
	Asks     []DepthLevel `json:"asks"`
	Midprice *uint64      `json:"midprice,omitempty"`
}

// ------------------------------------------------
// HUB
// ------------------------------------------------

// Hub tracks connected websocket clients and broadcasts events to them.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	closed  bool
}

// NewHub returns a hub ready to accept connections.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log: log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// Serve upgrades the request and registers the connection until it drops.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("client connected", zap.Int("clients", n))

	// Reader loop. Inbound frames are discarded; its only job is to
	// notice the peer going away and deregister.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

// BroadcastTrades pushes one event per executed trade.
func (h *Hub) BroadcastTrades(trades []orderbook.Trade) {
	for _, tr := range trades {
		h.broadcast(TradeEvent{
			Type: "trade",
			Bid: TradeSide{
				OrderID:  uint64(tr.Bid.OrderID),
				Price:    uint64(tr.Bid.Price),
				Quantity: uint64(tr.Bid.Quantity),
			},
			Ask: TradeSide{
				OrderID:  uint64(tr.Ask.OrderID),
				Price:    uint64(tr.Ask.Price),
				Quantity: uint64(tr.Ask.Quantity),
			},
		})
	}
}

// BroadcastDepth pushes the current aggregated book.
func (h *Hub) BroadcastDepth(lv orderbook.Levels) {
	ev := DepthEvent{
		Type: "depth",
		Bids: make([]DepthLevel, 0, len(lv.Bids)),
		Asks: make([]DepthLevel, 0, len(lv.Asks)),
	}
	for _, l := range lv.Bids {
		ev.Bids = append(ev.Bids, DepthLevel{Price: uint64(l.Price), Quantity: uint64(l.Quantity)})
	}
	for _, l := range lv.Asks {
		ev.Asks = append(ev.Asks, DepthLevel{Price: uint64(l.Price), Quantity: uint64(l.Quantity)})
	}
	if len(lv.Bids) > 0 && len(lv.Asks) > 0 {
		mid := (uint64(lv.Bids[0].Price) + uint64(lv.Asks[0].Price)) / 2
		ev.Midprice = &mid
	}
	h.broadcast(ev)
}

func (h *Hub) broadcast(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			conn.Close()
			delete(h.clients, conn)
			h.log.Info("client dropped", zap.Error(err))
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
}

// Count reports the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
