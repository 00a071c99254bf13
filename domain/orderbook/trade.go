package orderbook

// TradeInfo records one side's participation in an execution.
type TradeInfo struct {
	OrderID  OrderID
	Price    Price
	Quantity Quantity
}

// Trade pairs the bid and ask sides of one execution. Both sides always carry
// the same price and quantity.
type Trade struct {
	Bid TradeInfo
	Ask TradeInfo
}

// Ledger is an append-only record of executions. It is not safe for
// concurrent use; the book guards its ledger with the book mutex.
type Ledger struct {
	trades []Trade
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Append(t Trade) {
	l.trades = append(l.trades, t)
}

// All returns a copy of every recorded trade in execution order.
func (l *Ledger) All() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Last returns the most recent trade.
func (l *Ledger) Last() (Trade, bool) {
	if len(l.trades) == 0 {
		return Trade{}, false
	}
	return l.trades[len(l.trades)-1], true
}

func (l *Ledger) Len() int {
	return len(l.trades)
}

func (l *Ledger) Clear() {
	l.trades = l.trades[:0]
}
