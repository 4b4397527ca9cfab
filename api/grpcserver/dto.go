package grpcserver

import "vidar/domain/book"

// Prices cross the API as decimal strings and are converted to integer
// ticks at the boundary; the core never sees a float.

type SubmitRequest struct {
	Symbol         string
	Side           string // BUY or SELL
	Price          string // decimal, e.g. "101.25"
	Qty            int64
	TimeInForce    string // GTC, IOC or FOK; empty means GTC
	ExpireAt       int64  // unix nanos, 0 = never; GTC only
	IdempotencyKey string
}

type CancelRequest struct {
	OrderID uint64
	Symbol  string // optional routing hint
}

type ReplaceRequest struct {
	OrderID  uint64
	Symbol   string // optional routing hint
	NewPrice string
	NewQty   int64
}

// OrderReply reports the committed outcome of a submit, cancel or replace.
// Status is the order's state after the command; fills list the executions
// it produced, in match order.
type OrderReply struct {
	OrderID   uint64
	Status    string
	Reason    string
	FilledQty int64
	Remaining int64
	LSN       uint64
	Fills     []Fill
}

type Fill struct {
	Price          int64
	Qty            int64
	CounterOrderID uint64
}

type DepthRequest struct {
	Symbol string
	Levels int
}

type DepthReply struct {
	Depth *book.Depth
}
