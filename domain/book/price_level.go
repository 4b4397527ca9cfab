package book

// PriceLevel is a FIFO queue of orders at a single price. Orders within a
// level are strictly ordered by arrival sequence: enqueue appends at the
// tail, matching consumes from the head.
type PriceLevel struct {
	Price Price

	head *Order
	tail *Order

	TotalQty   Qty
	OrderCount int
}

func (p *PriceLevel) Enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	p.TotalQty += o.Remaining
	p.OrderCount++
}

// Unlink removes o from the level in O(1). o must be on this level.
func (p *PriceLevel) Unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next = nil
	o.prev = nil

	p.TotalQty -= o.Remaining
	p.OrderCount--
}

// Reduce lowers the level total after a partial fill or qty-only replace.
func (p *PriceLevel) Reduce(by Qty) {
	p.TotalQty -= by
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

func (p *PriceLevel) Head() *Order {
	return p.head
}
