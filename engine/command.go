package engine

import (
	"vidar/domain/book"
)

// CommandType tags the closed command variant set.
type CommandType uint8

const (
	CmdSubmit CommandType = iota + 1
	CmdCancel
	CmdReplace
	// CmdExpireSweep and CmdCheckpoint are internal commands injected by
	// background jobs. Routing them through the ingestion queue gives them
	// a deterministic position in the total command order.
	CmdExpireSweep
	CmdCheckpoint
)

func (t CommandType) String() string {
	switch t {
	case CmdSubmit:
		return "SUBMIT"
	case CmdCancel:
		return "CANCEL"
	case CmdReplace:
		return "REPLACE"
	case CmdExpireSweep:
		return "EXPIRE_SWEEP"
	case CmdCheckpoint:
		return "CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

// Command is one unit of work for the matching writer. The arrival sequence
// assigned by the ingestion queue is the only source of truth for
// price-time priority; it is never reassigned.
type Command struct {
	Type   CommandType
	Symbol string

	// Submit.
	Side           book.Side
	Price          book.Price
	Qty            book.Qty
	TIF            book.TimeInForce
	ExpireAt       int64
	IdempotencyKey string

	// Cancel / Replace.
	OrderID  book.OrderID
	NewPrice book.Price
	NewQty   book.Qty

	// ExpireSweep: sweep time, unix nanos. Carried in the command so
	// expiry replays deterministically.
	Now int64

	seq   uint64
	Reply chan Result // buffered size 1; nil for internal commands
}

// SetArrivalSeq is called exactly once by the ingestion queue.
func (c *Command) SetArrivalSeq(s uint64) { c.seq = s }

// ArrivalSeq returns the queue-assigned arrival sequence.
func (c *Command) ArrivalSeq() uint64 { return c.seq }

// Result is the commit outcome delivered to the submitter after the WAL
// fsync. Events fully describe the effect of the command.
type Result struct {
	Events  []book.Event
	OrderID book.OrderID // assigned id, Submit only
	Err     error
}

func (c *Command) reply(r Result) {
	if c.Reply == nil {
		return
	}
	select {
	case c.Reply <- r:
	default:
	}
}
