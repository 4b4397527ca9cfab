package book

// EventType tags the closed Event variant set. The set is fixed; consumers
// dispatch with exhaustive switches.
type EventType uint8

const (
	EvAccepted EventType = iota + 1
	EvRejected
	EvPartiallyFilled
	EvFilled
	EvCancelled
	EvReplaced
	EvExpired
)

func (t EventType) String() string {
	switch t {
	case EvAccepted:
		return "ACCEPTED"
	case EvRejected:
		return "REJECTED"
	case EvPartiallyFilled:
		return "PARTIALLY_FILLED"
	case EvFilled:
		return "FILLED"
	case EvCancelled:
		return "CANCELLED"
	case EvReplaced:
		return "REPLACED"
	case EvExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Event is an immutable fact about the book, stamped with a globally
// monotonic LSN at commit time. Events are the append-only source of truth:
// replaying them through Book.ApplyEvent reproduces book state exactly.
//
// Events deliberately carry no wall-clock field. Replay must be
// byte-identical across runs and timestamps would break that; publish-time
// metadata is added downstream by the broadcaster.
type Event struct {
	LSN    LSN
	Type   EventType
	Symbol string

	OrderID   OrderID
	CounterID OrderID // opposite order of a fill

	Side Side
	TIF  TimeInForce

	Price     Price
	Qty       Qty // original qty (Accepted), fill qty (fills), cancelled qty (Cancelled/Expired)
	Remaining Qty // remaining after this event applied

	// Rejected only.
	Reason string
	Field  string

	// Replaced only.
	NewPrice      Price
	NewQty        Qty
	PriorityReset bool

	// Accepted only; unix nanos, 0 means never.
	ExpireAt int64
}

func accepted(o *Order) Event {
	return Event{
		Type:      EvAccepted,
		Symbol:    o.Symbol,
		OrderID:   o.ID,
		Side:      o.Side,
		TIF:       o.TIF,
		Price:     o.Price,
		Qty:       o.Qty,
		Remaining: o.Qty,
		ExpireAt:  o.ExpireAt,
	}
}

func rejected(symbol string, id OrderID, reason, field string) Event {
	return Event{
		Type:    EvRejected,
		Symbol:  symbol,
		OrderID: id,
		Reason:  reason,
		Field:   field,
	}
}

// fill describes one side of a match. Each match emits two of these, one
// per participating order.
func fill(o *Order, counter OrderID, price Price, qty Qty) Event {
	t := EvPartiallyFilled
	if o.Remaining == 0 {
		t = EvFilled
	}
	return Event{
		Type:      t,
		Symbol:    o.Symbol,
		OrderID:   o.ID,
		CounterID: counter,
		Side:      o.Side,
		Price:     price,
		Qty:       qty,
		Remaining: o.Remaining,
	}
}

func cancelled(o *Order, reason string) Event {
	return Event{
		Type:    EvCancelled,
		Symbol:  o.Symbol,
		OrderID: o.ID,
		Side:    o.Side,
		Price:   o.Price,
		Qty:     o.Remaining,
		Reason:  reason,
	}
}

func replaced(o *Order, newPrice Price, newQty Qty, reset bool) Event {
	return Event{
		Type:          EvReplaced,
		Symbol:        o.Symbol,
		OrderID:       o.ID,
		Side:          o.Side,
		Price:         o.Price,
		NewPrice:      newPrice,
		NewQty:        newQty,
		PriorityReset: reset,
		Remaining:     o.Remaining,
	}
}

func expired(o *Order) Event {
	return Event{
		Type:    EvExpired,
		Symbol:  o.Symbol,
		OrderID: o.ID,
		Side:    o.Side,
		Price:   o.Price,
		Qty:     o.Remaining,
	}
}
