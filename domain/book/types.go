package book

// Price is a fixed-point price in ticks. Never a float.
type Price = int64

// Qty is a quantity in lots. Zero is valid only as a fill result.
type Qty = int64

// OrderID is process-unique and never reused.
type OrderID = uint64

// LSN is the log sequence number stamped on committed events.
type LSN = uint64

type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Ask {
		return "ASK"
	}
	return "BID"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// TimeInForce constrains how long an order may work.
type TimeInForce uint8

const (
	GTC TimeInForce = iota
	IOC
	FOK
)

func (t TimeInForce) String() string {
	switch t {
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return "GTC"
	}
}

// Status is the order lifecycle state.
//
//	New -> Accepted -> {PartiallyFilled}* -> {Filled | Cancelled | Expired}
//	New -> Rejected
//
// Terminal states admit no further transitions.
type Status uint8

const (
	StatusNew Status = iota
	StatusAccepted
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusExpired
	StatusRejected
)

func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "ACCEPTED"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusExpired:
		return "EXPIRED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "NEW"
	}
}
