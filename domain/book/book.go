package book

import "fmt"

// closedCap bounds the terminal-order tombstone map. Old tombstones are
// evicted FIFO; a cancel for an evicted order reports not_found instead of
// already_terminal, with identical state effect.
const closedCap = 1 << 16

// Book holds the bid/ask ladders for one symbol. It is single-writer and
// deterministic: all mutation happens on the matching goroutine, every
// mutation is all-or-nothing per command, and the same command sequence
// always yields the same event sequence.
type Book struct {
	Symbol string

	bids *Ladder
	asks *Ladder

	orders map[OrderID]*Order

	closed     map[OrderID]Status
	closedRing []OrderID
	closedPos  int
}

func New(symbol string) *Book {
	return &Book{
		Symbol: symbol,
		bids:   NewLadder(Bid),
		asks:   NewLadder(Ask),
		orders: make(map[OrderID]*Order),
		closed: make(map[OrderID]Status),
	}
}

func (b *Book) ladder(s Side) *Ladder {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

// ---- submit ----

// ApplySubmit validates, matches, and possibly rests o. It returns the full
// event description of the effect. On rejection no state changes.
func (b *Book) ApplySubmit(o *Order) []Event {
	if o.Price <= 0 {
		o.Status = StatusRejected
		return []Event{rejected(b.Symbol, o.ID, ReasonBadPrice, "price")}
	}
	if o.Qty <= 0 {
		o.Status = StatusRejected
		return []Event{rejected(b.Symbol, o.ID, ReasonBadQty, "qty")}
	}
	if o.TIF == FOK && !b.fokFillable(o) {
		// Pure simulation pass: nothing was touched.
		o.Status = StatusRejected
		return []Event{rejected(b.Symbol, o.ID, ReasonFOKUnfillable, "qty")}
	}

	o.Remaining = o.Qty
	o.Status = StatusAccepted
	events := []Event{accepted(o)}

	b.match(o, &events)

	switch {
	case o.Remaining == 0:
		o.Status = StatusFilled
		b.close(o.ID, StatusFilled)
	case o.TIF == IOC:
		// Discard the remainder; matching-time semantics, never retried.
		o.Status = StatusCancelled
		events = append(events, cancelled(o, "ioc_remainder"))
		b.close(o.ID, StatusCancelled)
	default:
		b.rest(o)
	}
	return events
}

// match consumes liquidity from the opposing ladder in price-time priority,
// appending a fill event for each side of every match.
func (b *Book) match(taker *Order, events *[]Event) {
	opp := b.ladder(taker.Side.Opposite())

	for taker.Remaining > 0 {
		best := opp.Best()
		if best == nil || !crosses(taker, best.Price) {
			return
		}

		maker := best.Head()
		qty := minQty(taker.Remaining, maker.Remaining)

		maker.Remaining -= qty
		taker.Remaining -= qty
		best.Reduce(qty)

		if maker.Remaining == 0 {
			maker.Status = StatusFilled
		} else {
			maker.Status = StatusPartiallyFilled
		}
		if taker.Remaining == 0 {
			taker.Status = StatusFilled
		} else {
			taker.Status = StatusPartiallyFilled
		}

		*events = append(*events,
			fill(maker, taker.ID, best.Price, qty),
			fill(taker, maker.ID, best.Price, qty),
		)

		if maker.Remaining == 0 {
			best.Unlink(maker)
			opp.DropIfEmpty(best.Price)
			b.close(maker.ID, StatusFilled)
		}
	}
}

func crosses(taker *Order, bestOpp Price) bool {
	if taker.Side == Bid {
		return bestOpp <= taker.Price
	}
	return bestOpp >= taker.Price
}

// fokFillable walks the opposing ladder without mutating anything and
// reports whether o could fill completely right now.
func (b *Book) fokFillable(o *Order) bool {
	var avail Qty
	b.ladder(o.Side.Opposite()).Walk(func(lvl *PriceLevel) bool {
		if !crosses(o, lvl.Price) {
			return false
		}
		avail += lvl.TotalQty
		return avail < o.Qty
	})
	return avail >= o.Qty
}

func (b *Book) rest(o *Order) {
	b.ladder(o.Side).GetOrCreate(o.Price).Enqueue(o)
	b.orders[o.ID] = o
}

// ---- cancel ----

// ApplyCancel removes a resting order. Cancelling an unknown or terminal
// order is a rejection, never a crash, and alters nothing beyond the
// rejection event itself.
func (b *Book) ApplyCancel(id OrderID, reason string) []Event {
	o, ok := b.orders[id]
	if !ok {
		if _, terminal := b.closed[id]; terminal {
			return []Event{rejected(b.Symbol, id, ReasonAlreadyTerminal, "order_id")}
		}
		return []Event{rejected(b.Symbol, id, ReasonNotFound, "order_id")}
	}

	b.remove(o)
	o.Status = StatusCancelled
	b.close(o.ID, StatusCancelled)
	return []Event{cancelled(o, reason)}
}

// ---- replace ----

// ApplyReplace is an atomic cancel+submit. A quantity-only reduction keeps
// queue position; any price change or quantity increase resets price-time
// priority by re-entering the book, matching on the way in.
func (b *Book) ApplyReplace(id OrderID, newPrice Price, newQty Qty) []Event {
	o, ok := b.orders[id]
	if !ok {
		if _, terminal := b.closed[id]; terminal {
			return []Event{rejected(b.Symbol, id, ReasonAlreadyTerminal, "order_id")}
		}
		return []Event{rejected(b.Symbol, id, ReasonNotFound, "order_id")}
	}
	if newPrice <= 0 {
		return []Event{rejected(b.Symbol, id, ReasonBadPrice, "price")}
	}
	if newQty <= 0 {
		return []Event{rejected(b.Symbol, id, ReasonBadQty, "qty")}
	}

	filled := o.Qty - o.Remaining
	newRemaining := newQty - filled
	if newRemaining <= 0 {
		return []Event{rejected(b.Symbol, id, ReasonReplaceOverfill, "qty")}
	}

	reset := newPrice != o.Price || newQty > o.Qty
	events := []Event{replaced(o, newPrice, newQty, reset)}

	if !reset {
		// Reduction in place: position preserved.
		lvl := b.ladder(o.Side).Get(o.Price)
		lvl.Reduce(o.Remaining - newRemaining)
		o.Qty = newQty
		o.Remaining = newRemaining
		return events
	}

	b.remove(o)
	delete(b.orders, o.ID)
	o.Price = newPrice
	o.Qty = newQty
	o.Remaining = newRemaining

	b.match(o, &events)

	if o.Remaining == 0 {
		o.Status = StatusFilled
		b.close(o.ID, StatusFilled)
	} else {
		b.rest(o)
	}
	return events
}

// ---- expiry ----

// ApplyExpire removes every resting order whose ExpireAt has passed.
// now flows in through the command stream so expiry replays exactly.
func (b *Book) ApplyExpire(now int64) []Event {
	var victims []*Order
	collect := func(lvl *PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			if o.ExpireAt > 0 && o.ExpireAt <= now {
				victims = append(victims, o)
			}
		}
		return true
	}
	b.bids.Walk(collect)
	b.asks.Walk(collect)

	events := make([]Event, 0, len(victims))
	for _, o := range victims {
		b.remove(o)
		o.Status = StatusExpired
		b.close(o.ID, StatusExpired)
		events = append(events, expired(o))
	}
	return events
}

// ---- event replay ----

// ApplyEvent replays one committed event into the book. This is the single
// reconstruction path shared by crash recovery and replication followers;
// it never re-runs matching.
func (b *Book) ApplyEvent(ev Event) error {
	switch ev.Type {
	case EvRejected:
		return nil

	case EvAccepted:
		o := &Order{
			ID:        ev.OrderID,
			Symbol:    ev.Symbol,
			Side:      ev.Side,
			Price:     ev.Price,
			Qty:       ev.Qty,
			Remaining: ev.Qty,
			TIF:       ev.TIF,
			Status:    StatusAccepted,
			ExpireAt:  ev.ExpireAt,
		}
		b.rest(o)
		return nil

	case EvPartiallyFilled, EvFilled:
		o, ok := b.orders[ev.OrderID]
		if !ok {
			return fmt.Errorf("replay: fill for unknown order %d", ev.OrderID)
		}
		lvl := b.ladder(o.Side).Get(o.Price)
		o.Remaining -= ev.Qty
		lvl.Reduce(ev.Qty)
		if o.Remaining == 0 {
			o.Status = StatusFilled
			lvl.Unlink(o)
			b.ladder(o.Side).DropIfEmpty(o.Price)
			b.close(o.ID, StatusFilled)
		} else {
			o.Status = StatusPartiallyFilled
		}
		return nil

	case EvCancelled:
		o, ok := b.orders[ev.OrderID]
		if !ok {
			return fmt.Errorf("replay: cancel for unknown order %d", ev.OrderID)
		}
		b.remove(o)
		o.Status = StatusCancelled
		b.close(o.ID, StatusCancelled)
		return nil

	case EvExpired:
		o, ok := b.orders[ev.OrderID]
		if !ok {
			return fmt.Errorf("replay: expire for unknown order %d", ev.OrderID)
		}
		b.remove(o)
		o.Status = StatusExpired
		b.close(o.ID, StatusExpired)
		return nil

	case EvReplaced:
		o, ok := b.orders[ev.OrderID]
		if !ok {
			return fmt.Errorf("replay: replace for unknown order %d", ev.OrderID)
		}
		filled := o.Qty - o.Remaining
		newRemaining := ev.NewQty - filled
		if !ev.PriorityReset {
			lvl := b.ladder(o.Side).Get(o.Price)
			lvl.Reduce(o.Remaining - newRemaining)
			o.Qty = ev.NewQty
			o.Remaining = newRemaining
			return nil
		}
		b.remove(o)
		o.Price = ev.NewPrice
		o.Qty = ev.NewQty
		o.Remaining = newRemaining
		b.rest(o)
		return nil

	default:
		return fmt.Errorf("replay: unknown event type %d", ev.Type)
	}
}

// ---- restore ----

// Restore inserts a resting order verbatim during snapshot load. Orders must
// be restored in book walk order so FIFO positions survive.
func (b *Book) Restore(o *Order) {
	b.rest(o)
}

// ---- helpers ----

func (b *Book) remove(o *Order) {
	lvl := b.ladder(o.Side).Get(o.Price)
	if lvl != nil {
		lvl.Unlink(o)
		b.ladder(o.Side).DropIfEmpty(o.Price)
	}
	delete(b.orders, o.ID)
}

func (b *Book) close(id OrderID, st Status) {
	delete(b.orders, id)
	if len(b.closedRing) < closedCap {
		b.closedRing = append(b.closedRing, id)
	} else {
		delete(b.closed, b.closedRing[b.closedPos])
		b.closedRing[b.closedPos] = id
		b.closedPos = (b.closedPos + 1) % closedCap
	}
	b.closed[id] = st
}

func minQty(a, b Qty) Qty {
	if a < b {
		return a
	}
	return b
}

// ---- queries ----

// Order returns the live order with the given id, or nil. Read-only.
func (b *Book) Order(id OrderID) *Order {
	return b.orders[id]
}

// ClosedStatus reports the terminal status of a closed order, if still
// within the tombstone window.
func (b *Book) ClosedStatus(id OrderID) (Status, bool) {
	st, ok := b.closed[id]
	return st, ok
}

func (b *Book) BestBid() (Price, bool) {
	if lvl := b.bids.Best(); lvl != nil {
		return lvl.Price, true
	}
	return 0, false
}

func (b *Book) BestAsk() (Price, bool) {
	if lvl := b.asks.Best(); lvl != nil {
		return lvl.Price, true
	}
	return 0, false
}

// CheckCrossed verifies the book settled uncrossed. A violation is fatal to
// the engine; it is surfaced, never silently repaired.
func (b *Book) CheckCrossed() error {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if okB && okA && bid >= ask {
		return &InvariantViolation{
			Symbol: b.Symbol,
			Detail: fmt.Sprintf("best bid %d >= best ask %d", bid, ask),
		}
	}
	return nil
}

// WalkResting visits every resting order, bids best-first then asks
// best-first, FIFO within each level. Used by snapshots and depth export.
func (b *Book) WalkResting(fn func(*Order)) {
	walk := func(lvl *PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			fn(o)
		}
		return true
	}
	b.bids.Walk(walk)
	b.asks.Walk(walk)
}

func (b *Book) LiveOrders() int {
	return len(b.orders)
}
