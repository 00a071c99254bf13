package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchd/domain/orderbook"
	"matchd/infra/sequence"
)

// ---- fakes ----

type fakeSink struct {
	trades []orderbook.Trade
	err    error
	next   uint64
}

func (f *fakeSink) Append(tr orderbook.Trade) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.next++
	f.trades = append(f.trades, tr)
	return f.next, nil
}

type fakePub struct {
	batches [][]orderbook.Trade
}

func (f *fakePub) BroadcastTrades(trades []orderbook.Trade) {
	f.batches = append(f.batches, trades)
}

type fakeTicker struct {
	recorded []orderbook.Trade
	err      error
}

func (f *fakeTicker) Record(_ context.Context, trades []orderbook.Trade) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, trades...)
	return nil
}

type fixture struct {
	svc  *OrderService
	sink *fakeSink
	pub  *fakePub
	tick *fakeTicker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	book := orderbook.NewAt(zap.NewNop(), orderbook.MarketCloseHour, time.UTC)
	t.Cleanup(book.Close)

	f := &fixture{sink: &fakeSink{}, pub: &fakePub{}, tick: &fakeTicker{}}
	f.svc = NewOrderService(zap.NewNop(), book, sequence.New(0), f.sink, f.pub, f.tick)
	return f
}

// ---- tests ----

func TestSubmitRestsThenTrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bidID, trades, err := f.svc.Submit(ctx, orderbook.GoodTillCancelled, orderbook.Buy, 100, 10)
	require.NoError(t, err)
	assert.Equal(t, orderbook.OrderID(1), bidID)
	assert.Empty(t, trades)

	askID, trades, err := f.svc.Submit(ctx, orderbook.GoodTillCancelled, orderbook.Sell, 100, 4)
	require.NoError(t, err)
	assert.Equal(t, orderbook.OrderID(2), askID)
	require.Len(t, trades, 1)
	assert.Equal(t, bidID, trades[0].Bid.OrderID)
	assert.Equal(t, askID, trades[0].Ask.OrderID)
	assert.Equal(t, orderbook.Quantity(4), trades[0].Bid.Quantity)

	// Every sink saw the same execution.
	require.Len(t, f.sink.trades, 1)
	require.Len(t, f.pub.batches, 1)
	require.Len(t, f.tick.recorded, 1)

	lv := f.svc.Levels()
	require.Len(t, lv.Bids, 1)
	assert.Equal(t, orderbook.Quantity(6), lv.Bids[0].Quantity)
}

func TestSubmitRejectionLeavesBookUntouched(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.Submit(context.Background(), orderbook.FillAndKill, orderbook.Buy, 100, 10)
	require.ErrorIs(t, err, orderbook.ErrCantMatch)

	assert.Empty(t, f.svc.Levels().Bids)
	assert.Empty(t, f.sink.trades)
	assert.Empty(t, f.pub.batches)
}

func TestSubmitWithoutSinks(t *testing.T) {
	book := orderbook.NewAt(zap.NewNop(), orderbook.MarketCloseHour, time.UTC)
	t.Cleanup(book.Close)
	svc := NewOrderService(nil, book, sequence.New(0), nil, nil, nil)
	ctx := context.Background()

	_, _, err := svc.Submit(ctx, orderbook.GoodTillCancelled, orderbook.Buy, 100, 5)
	require.NoError(t, err)
	_, trades, err := svc.Submit(ctx, orderbook.GoodTillCancelled, orderbook.Sell, 100, 5)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestSinkFailureDoesNotFailSubmit(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("disk full")
	f.tick.err = errors.New("redis down")
	ctx := context.Background()

	_, _, err := f.svc.Submit(ctx, orderbook.GoodTillCancelled, orderbook.Buy, 100, 5)
	require.NoError(t, err)
	_, trades, err := f.svc.Submit(ctx, orderbook.GoodTillCancelled, orderbook.Sell, 100, 5)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	// Broadcast still happened even though persistence failed.
	assert.Len(t, f.pub.batches, 1)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, _, err := f.svc.Submit(ctx, orderbook.GoodTillCancelled, orderbook.Buy, 100, 5)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(id))
	assert.Empty(t, f.svc.Levels().Bids)

	err = f.svc.Cancel(id)
	require.ErrorIs(t, err, orderbook.ErrOrderNotFound)
}

func TestModify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, _, err := f.svc.Submit(ctx, orderbook.GoodTillCancelled, orderbook.Buy, 100, 5)
	require.NoError(t, err)

	require.NoError(t, f.svc.Modify(id, 12))
	lv := f.svc.Levels()
	require.Len(t, lv.Bids, 1)
	assert.Equal(t, orderbook.Quantity(12), lv.Bids[0].Quantity)

	err = f.svc.Modify(999, 1)
	require.ErrorIs(t, err, orderbook.ErrOrderNotFound)
}

func TestMidpriceAndTrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, ok := f.svc.Midprice()
	assert.False(t, ok)

	_, _, err := f.svc.Submit(ctx, orderbook.GoodTillCancelled, orderbook.Buy, 100, 5)
	require.NoError(t, err)
	_, _, err = f.svc.Submit(ctx, orderbook.GoodTillCancelled, orderbook.Sell, 104, 5)
	require.NoError(t, err)

	mid, ok := f.svc.Midprice()
	require.True(t, ok)
	assert.Equal(t, orderbook.Price(102), mid)
	assert.Empty(t, f.svc.Trades())

	_, _, err = f.svc.Submit(ctx, orderbook.GoodTillCancelled, orderbook.Sell, 100, 2)
	require.NoError(t, err)
	assert.Len(t, f.svc.Trades(), 1)
}
