package book

// Order is a pure domain entity. Once accepted it is owned exclusively by
// the book; only the matching path mutates Remaining and Status.
type Order struct {
	ID       OrderID
	Symbol   string
	Side     Side
	Price    Price
	Qty      Qty // original quantity
	Remaining Qty
	Seq      uint64 // arrival sequence, assigned at ingestion
	TIF      TimeInForce
	Status   Status
	ExpireAt int64 // unix nanos; 0 means never

	next *Order
	prev *Order
}

func (o *Order) Filled() Qty {
	return o.Qty - o.Remaining
}

// Next supports read-only FIFO traversal within a price level.
func (o *Order) Next() *Order {
	return o.next
}
