package orderbook

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrder(t *testing.T) {
	o := NewOrder(GoodTillCancelled, 7, Buy, 100, 25)
	assert.Equal(t, OrderID(7), o.ID)
	assert.Equal(t, GoodTillCancelled, o.Type)
	assert.Equal(t, Buy, o.Side)
	assert.Equal(t, Price(100), o.Price)
	assert.Equal(t, Quantity(25), o.Initial)
	assert.Equal(t, Quantity(25), o.Remaining)
	assert.False(t, o.IsFilled())
}

func TestMarketOrderDiscardsPrice(t *testing.T) {
	buy := NewOrder(Market, 1, Buy, 123, 5)
	assert.Equal(t, MaxPrice, buy.Price)

	sell := NewOrder(Market, 2, Sell, 123, 5)
	assert.Equal(t, MinPrice, sell.Price)

	short := NewMarketOrder(3, Buy, 5)
	assert.Equal(t, MaxPrice, short.Price)
}

func TestOrderFill(t *testing.T) {
	o := NewOrder(GoodTillCancelled, 1, Sell, 100, 10)

	require.NoError(t, o.Fill(4))
	assert.Equal(t, Quantity(6), o.Remaining)
	assert.Equal(t, Quantity(4), o.Filled())
	assert.False(t, o.IsFilled())

	require.NoError(t, o.Fill(6))
	assert.True(t, o.IsFilled())
	assert.Equal(t, Quantity(10), o.Filled())
}

func TestOrderFillOverflow(t *testing.T) {
	o := NewOrder(GoodTillCancelled, 1, Sell, 100, 10)
	err := o.Fill(11)
	require.ErrorIs(t, err, ErrFillOverflow)
	// A failed fill leaves the order untouched.
	assert.Equal(t, Quantity(10), o.Remaining)
}

func TestQuantitySaturation(t *testing.T) {
	assert.Equal(t, Quantity(0), Quantity(3).Sub(5))
	assert.Equal(t, Quantity(2), Quantity(5).Sub(3))
	assert.Equal(t, Quantity(math.MaxUint64), Quantity(math.MaxUint64).Add(1))
	assert.Equal(t, Quantity(8), Quantity(3).Add(5))
}

func TestFilledSaturatesAfterModifyAboveInitial(t *testing.T) {
	o := NewOrder(GoodTillCancelled, 1, Buy, 100, 10)
	o.Remaining = 15 // what Book.Modify does, uncapped
	assert.Equal(t, Quantity(0), o.Filled())
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "buy", Buy.String())
	assert.Equal(t, "sell", Sell.String())
	assert.Equal(t, "good_till_cancelled", GoodTillCancelled.String())
	assert.Equal(t, "market", Market.String())
}
