package httpapi

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"matchd/domain/orderbook"
	"matchd/infra/ticker"
)

// ------------------------------------------------
// WIRE TYPES
// ------------------------------------------------

type placeOrderRequest struct {
	Type     string `json:"type" binding:"required"`
	Side     string `json:"side" binding:"required"`
	Price    string `json:"price"`
	Quantity uint64 `json:"quantity" binding:"required"`
}

type modifyOrderRequest struct {
	Quantity uint64 `json:"quantity" binding:"required"`
}

type tradeSideDTO struct {
	OrderID  uint64 `json:"order_id"`
	Price    string `json:"price"`
	Quantity uint64 `json:"quantity"`
}

type tradeDTO struct {
	Bid tradeSideDTO `json:"bid"`
	Ask tradeSideDTO `json:"ask"`
}

type placeOrderResponse struct {
	OrderID uint64     `json:"order_id"`
	Trades  []tradeDTO `json:"trades"`
}

type levelDTO struct {
	Price    string `json:"price"`
	Quantity uint64 `json:"quantity"`
}

type bookResponse struct {
	Bids []levelDTO `json:"bids"`
	Asks []levelDTO `json:"asks"`
}

type midpriceResponse struct {
	Midprice string `json:"midprice"`
}

type tickerResponse struct {
	LastPrice    string    `json:"last_price"`
	LastQuantity uint64    `json:"last_quantity"`
	TradeCount   uint64    `json:"trade_count"`
	Volume       uint64    `json:"volume"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ------------------------------------------------
// ORDERS
// ------------------------------------------------

func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	otype, err := parseOrderType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var price orderbook.Price
	if otype == orderbook.Market {
		if req.Price != "" {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "market orders must not carry a price"})
			return
		}
	} else {
		p, err := s.toTicks(req.Price)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		price = orderbook.Price(p)
	}

	id, trades, err := s.svc.Submit(c.Request.Context(), otype, side, price, orderbook.Quantity(req.Quantity))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, placeOrderResponse{
		OrderID: uint64(id),
		Trades:  s.toTradeDTOs(trades),
	})
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.svc.Cancel(id); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) modifyOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req modifyOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.svc.Modify(id, orderbook.Quantity(req.Quantity)); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ------------------------------------------------
// MARKET DATA
// ------------------------------------------------

func (s *Server) getBook(c *gin.Context) {
	lv := s.svc.Levels()
	resp := bookResponse{
		Bids: make([]levelDTO, 0, len(lv.Bids)),
		Asks: make([]levelDTO, 0, len(lv.Asks)),
	}
	for _, l := range lv.Bids {
		resp.Bids = append(resp.Bids, levelDTO{Price: s.fromTicks(uint64(l.Price)), Quantity: uint64(l.Quantity)})
	}
	for _, l := range lv.Asks {
		resp.Asks = append(resp.Asks, levelDTO{Price: s.fromTicks(uint64(l.Price)), Quantity: uint64(l.Quantity)})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getMidprice(c *gin.Context) {
	mid, ok := s.svc.Midprice()
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "book has no resting orders on both sides"})
		return
	}
	c.JSON(http.StatusOK, midpriceResponse{Midprice: s.fromTicks(uint64(mid))})
}

func (s *Server) getTrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": s.toTradeDTOs(s.svc.Trades())})
}

func (s *Server) getTicker(c *gin.Context) {
	if s.ticker == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "ticker is disabled"})
		return
	}
	st, err := s.ticker.Stats(c.Request.Context())
	if err != nil {
		if errors.Is(err, ticker.ErrNoData) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "no trades recorded yet"})
			return
		}
		s.log.Error("ticker lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "ticker unavailable"})
		return
	}
	c.JSON(http.StatusOK, tickerResponse{
		LastPrice:    s.fromTicks(uint64(st.LastPrice)),
		LastQuantity: uint64(st.LastQuantity),
		TradeCount:   st.TradeCount,
		Volume:       st.Volume,
		UpdatedAt:    st.UpdatedAt,
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ------------------------------------------------
// HELPERS
// ------------------------------------------------

func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orderbook.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orderbook.ErrIDExists):
		status = http.StatusConflict
	case errors.Is(err, orderbook.ErrCantMatch),
		errors.Is(err, orderbook.ErrCantFullyFill),
		errors.Is(err, orderbook.ErrNoLiquidity):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}

func (s *Server) toTradeDTOs(trades []orderbook.Trade) []tradeDTO {
	out := make([]tradeDTO, 0, len(trades))
	for _, tr := range trades {
		out = append(out, tradeDTO{
			Bid: tradeSideDTO{
				OrderID:  uint64(tr.Bid.OrderID),
				Price:    s.fromTicks(uint64(tr.Bid.Price)),
				Quantity: uint64(tr.Bid.Quantity),
			},
			Ask: tradeSideDTO{
				OrderID:  uint64(tr.Ask.OrderID),
				Price:    s.fromTicks(uint64(tr.Ask.Price)),
				Quantity: uint64(tr.Ask.Quantity),
			},
		})
	}
	return out
}

// toTicks converts a decimal price string to integer ticks.
func (s *Server) toTicks(str string) (uint64, error) {
	if str == "" {
		return 0, errors.New("price is required")
	}
	d, err := decimal.NewFromString(str)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", str)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("price %s is negative", str)
	}
	q := d.Div(s.step)
	if !q.IsInteger() {
		return 0, fmt.Errorf("price %s is not a multiple of the tick size %s", str, s.step)
	}
	bi := q.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("price %s is out of range", str)
	}
	return bi.Uint64(), nil
}

func (s *Server) fromTicks(v uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0).Mul(s.step).String()
}

func parseID(raw string) (orderbook.OrderID, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid order id %q", raw)
	}
	return orderbook.OrderID(id), nil
}

func parseOrderType(v string) (orderbook.OrderType, error) {
	switch strings.ToLower(v) {
	case "good_till_cancelled", "gtc":
		return orderbook.GoodTillCancelled, nil
	case "fill_and_kill", "fak":
		return orderbook.FillAndKill, nil
	case "fill_or_kill", "fok":
		return orderbook.FillOrKill, nil
	case "good_for_day", "gfd":
		return orderbook.GoodForDay, nil
	case "market":
		return orderbook.Market, nil
	}
	return 0, fmt.Errorf("unknown order type %q", v)
}

func parseSide(v string) (orderbook.Side, error) {
	switch strings.ToLower(v) {
	case "buy":
		return orderbook.Buy, nil
	case "sell":
		return orderbook.Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", v)
}
