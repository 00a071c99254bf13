package orderbook

// OrderQueue is an insertion-ordered collection of orders. It backs both the
// FIFO queue at each price level and the book-wide id index, so lookup and
// removal by id are linear scans; practical level depths keep that cheap.
type OrderQueue struct {
	orders []*Order
}

func NewOrderQueue() *OrderQueue {
	return &OrderQueue{}
}

// Enqueue appends o, preserving arrival order.
func (q *OrderQueue) Enqueue(o *Order) {
	q.orders = append(q.orders, o)
}

// Head returns the oldest order without removing it.
func (q *OrderQueue) Head() (*Order, bool) {
	if len(q.orders) == 0 {
		return nil, false
	}
	return q.orders[0], true
}

// PopHead removes and returns the oldest order.
func (q *OrderQueue) PopHead() (*Order, bool) {
	if len(q.orders) == 0 {
		return nil, false
	}
	o := q.orders[0]
	q.orders[0] = nil
	q.orders = q.orders[1:]
	return o, true
}

// Find returns the order with the given id.
func (q *OrderQueue) Find(id OrderID) (*Order, bool) {
	for _, o := range q.orders {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}

// Remove deletes the order with the given id, keeping the rest in arrival
// order. It reports whether an order was removed.
func (q *OrderQueue) Remove(id OrderID) bool {
	for i, o := range q.orders {
		if o.ID == id {
			copy(q.orders[i:], q.orders[i+1:])
			q.orders[len(q.orders)-1] = nil
			q.orders = q.orders[:len(q.orders)-1]
			return true
		}
	}
	return false
}

func (q *OrderQueue) Contains(id OrderID) bool {
	_, ok := q.Find(id)
	return ok
}

func (q *OrderQueue) Empty() bool {
	return len(q.orders) == 0
}

func (q *OrderQueue) Len() int {
	return len(q.orders)
}

// Each calls fn for every order in arrival order until fn returns false.
func (q *OrderQueue) Each(fn func(*Order) bool) {
	for _, o := range q.orders {
		if !fn(o) {
			return
		}
	}
}

// TotalQuantity sums the remaining quantity across the queue, saturating at
// the maximum quantity.
func (q *OrderQueue) TotalQuantity() Quantity {
	var total Quantity
	for _, o := range q.orders {
		total = total.Add(o.Remaining)
	}
	return total
}
