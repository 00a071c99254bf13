package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchd/api/ws"
	"matchd/domain/orderbook"
	"matchd/infra/sequence"
	"matchd/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	book := orderbook.NewAt(zap.NewNop(), orderbook.MarketCloseHour, time.UTC)
	t.Cleanup(book.Close)
	hub := ws.NewHub(zap.NewNop())
	t.Cleanup(hub.Close)

	svc := service.NewOrderService(zap.NewNop(), book, sequence.New(0), nil, hub, nil)
	api := NewServer(zap.NewNop(), svc, hub, nil, decimal.RequireFromString("0.01"))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

func placeOrder(t *testing.T, srv *httptest.Server, body string) placeOrderResponse {
	t.Helper()
	resp, raw := do(t, http.MethodPost, srv.URL+"/v1/orders", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var out placeOrderResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestPlaceOrderRests(t *testing.T) {
	srv := newTestServer(t)

	out := placeOrder(t, srv, `{"type":"gtc","side":"buy","price":"1.00","quantity":10}`)
	assert.Equal(t, uint64(1), out.OrderID)
	assert.Empty(t, out.Trades)

	resp, raw := do(t, http.MethodGet, srv.URL+"/v1/book", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var book bookResponse
	require.NoError(t, json.Unmarshal(raw, &book))
	require.Len(t, book.Bids, 1)
	assert.Equal(t, levelDTO{Price: "1", Quantity: 10}, book.Bids[0])
	assert.Empty(t, book.Asks)
}

func TestPlaceOrderCrossTrades(t *testing.T) {
	srv := newTestServer(t)

	placeOrder(t, srv, `{"type":"gtc","side":"buy","price":"1.00","quantity":10}`)
	out := placeOrder(t, srv, `{"type":"good_till_cancelled","side":"sell","price":"1.00","quantity":4}`)

	require.Len(t, out.Trades, 1)
	tr := out.Trades[0]
	assert.Equal(t, uint64(1), tr.Bid.OrderID)
	assert.Equal(t, uint64(2), tr.Ask.OrderID)
	assert.Equal(t, "1", tr.Bid.Price)
	assert.Equal(t, uint64(4), tr.Bid.Quantity)
}

func TestMarketOrderOmitsPrice(t *testing.T) {
	srv := newTestServer(t)

	placeOrder(t, srv, `{"type":"gtc","side":"sell","price":"1.00","quantity":5}`)
	out := placeOrder(t, srv, `{"type":"market","side":"buy","quantity":3}`)

	require.Len(t, out.Trades, 1)
	assert.Equal(t, "1", out.Trades[0].Ask.Price)
	assert.Equal(t, uint64(3), out.Trades[0].Ask.Quantity)
}

func TestPlaceOrderValidation(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing quantity", `{"type":"gtc","side":"buy","price":"1.00"}`},
		{"unknown type", `{"type":"stop_loss","side":"buy","price":"1.00","quantity":1}`},
		{"unknown side", `{"type":"gtc","side":"hold","price":"1.00","quantity":1}`},
		{"missing price", `{"type":"gtc","side":"buy","quantity":1}`},
		{"off tick price", `{"type":"gtc","side":"buy","price":"1.005","quantity":1}`},
		{"negative price", `{"type":"gtc","side":"buy","price":"-1.00","quantity":1}`},
		{"market with price", `{"type":"market","side":"buy","price":"1.00","quantity":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := do(t, http.MethodPost, srv.URL+"/v1/orders", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(raw))
		})
	}
}

func TestPlaceOrderRejectedByBook(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := do(t, http.MethodPost, srv.URL+"/v1/orders",
		`{"type":"fak","side":"buy","price":"1.00","quantity":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(raw))
}

func TestCancelOrder(t *testing.T) {
	srv := newTestServer(t)

	placeOrder(t, srv, `{"type":"gtc","side":"buy","price":"1.00","quantity":10}`)

	resp, _ := do(t, http.MethodDelete, srv.URL+"/v1/orders/1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/v1/orders/1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/v1/orders/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestModifyOrder(t *testing.T) {
	srv := newTestServer(t)

	placeOrder(t, srv, `{"type":"gtc","side":"buy","price":"1.00","quantity":10}`)

	resp, _ := do(t, http.MethodPatch, srv.URL+"/v1/orders/1", `{"quantity":3}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, raw := do(t, http.MethodGet, srv.URL+"/v1/book", "")
	var book bookResponse
	require.NoError(t, json.Unmarshal(raw, &book))
	require.Len(t, book.Bids, 1)
	assert.Equal(t, uint64(3), book.Bids[0].Quantity)

	resp, _ = do(t, http.MethodPatch, srv.URL+"/v1/orders/999", `{"quantity":3}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMidprice(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/book/midprice", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	placeOrder(t, srv, `{"type":"gtc","side":"buy","price":"1.00","quantity":1}`)
	placeOrder(t, srv, `{"type":"gtc","side":"sell","price":"1.04","quantity":1}`)

	resp, raw := do(t, http.MethodGet, srv.URL+"/v1/book/midprice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mid midpriceResponse
	require.NoError(t, json.Unmarshal(raw, &mid))
	assert.Equal(t, "1.02", mid.Midprice)
}

func TestTradesEndpoint(t *testing.T) {
	srv := newTestServer(t)

	placeOrder(t, srv, `{"type":"gtc","side":"buy","price":"1.00","quantity":5}`)
	placeOrder(t, srv, `{"type":"gtc","side":"sell","price":"1.00","quantity":5}`)

	resp, raw := do(t, http.MethodGet, srv.URL+"/v1/trades", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Trades []tradeDTO `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Len(t, out.Trades, 1)
}

func TestTickerDisabled(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/ticker", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := do(t, http.MethodGet, srv.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))

	resp, raw = do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "matchd_resting_orders")
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "fixed")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "fixed", resp2.Header.Get("X-Request-ID"))
}
