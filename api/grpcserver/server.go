// Package grpcserver exposes order entry over gRPC. It is a thin boundary:
// parse and validate the wire shapes, convert decimal prices to ticks, hand
// a command to the engine, and translate the committed result back.
package grpcserver

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vidar/domain/book"
	"vidar/engine"
	"vidar/infra/queue"
)

type Server struct {
	eng        *engine.Engine
	priceScale int32 // decimal places per tick
	log        *zap.Logger
}

func NewServer(eng *engine.Engine, priceScale int32, log *zap.Logger) *Server {
	return &Server{eng: eng, priceScale: priceScale, log: log}
}

func (s *Server) Submit(ctx context.Context, req *SubmitRequest) (*OrderReply, error) {
	side, err := parseSide(req.Side)
	if err != nil {
		return nil, err
	}
	tif, err := parseTIF(req.TimeInForce)
	if err != nil {
		return nil, err
	}
	price, err := s.toTicks(req.Price)
	if err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		// Server-side key: a client that never retries still gets exactly
		// one order out of this request on internal retries.
		key = uuid.NewString()
	}

	cmd := &engine.Command{
		Type:           engine.CmdSubmit,
		Symbol:         req.Symbol,
		Side:           side,
		Price:          price,
		Qty:            req.Qty,
		TIF:            tif,
		ExpireAt:       req.ExpireAt,
		IdempotencyKey: key,
	}
	res, err := s.eng.Execute(ctx, cmd)
	if err != nil {
		return nil, mapExecErr(err)
	}
	return replyFrom(res), nil
}

func (s *Server) Cancel(ctx context.Context, req *CancelRequest) (*OrderReply, error) {
	cmd := &engine.Command{
		Type:    engine.CmdCancel,
		Symbol:  req.Symbol,
		OrderID: book.OrderID(req.OrderID),
	}
	res, err := s.eng.Execute(ctx, cmd)
	if err != nil {
		return nil, mapExecErr(err)
	}
	return replyFrom(res), nil
}

func (s *Server) Replace(ctx context.Context, req *ReplaceRequest) (*OrderReply, error) {
	price, err := s.toTicks(req.NewPrice)
	if err != nil {
		return nil, err
	}
	cmd := &engine.Command{
		Type:     engine.CmdReplace,
		Symbol:   req.Symbol,
		OrderID:  book.OrderID(req.OrderID),
		NewPrice: price,
		NewQty:   req.NewQty,
	}
	res, err := s.eng.Execute(ctx, cmd)
	if err != nil {
		return nil, mapExecErr(err)
	}
	return replyFrom(res), nil
}

func (s *Server) GetDepth(ctx context.Context, req *DepthRequest) (*DepthReply, error) {
	d := s.eng.Depth(req.Symbol)
	if d == nil {
		return nil, status.Errorf(codes.NotFound, "unknown symbol %q", req.Symbol)
	}
	if req.Levels > 0 {
		trimmed := *d
		if len(trimmed.Bids) > req.Levels {
			trimmed.Bids = trimmed.Bids[:req.Levels]
		}
		if len(trimmed.Asks) > req.Levels {
			trimmed.Asks = trimmed.Asks[:req.Levels]
		}
		d = &trimmed
	}
	return &DepthReply{Depth: d}, nil
}

// ---- conversions ----

func (s *Server) toTicks(price string) (book.Price, error) {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "price %q: not a decimal", price)
	}
	ticks := d.Shift(s.priceScale)
	if !ticks.IsInteger() {
		return 0, status.Errorf(codes.InvalidArgument,
			"price %q: finer than tick size (scale %d)", price, s.priceScale)
	}
	return ticks.IntPart(), nil
}

func parseSide(s string) (book.Side, error) {
	switch s {
	case "BUY":
		return book.Bid, nil
	case "SELL":
		return book.Ask, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "side %q: want BUY or SELL", s)
	}
}

func parseTIF(s string) (book.TimeInForce, error) {
	switch s {
	case "", "GTC":
		return book.GTC, nil
	case "IOC":
		return book.IOC, nil
	case "FOK":
		return book.FOK, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "time_in_force %q: want GTC, IOC or FOK", s)
	}
}

func mapExecErr(err error) error {
	switch {
	case errors.Is(err, queue.ErrFull):
		return status.Error(codes.ResourceExhausted, "ingestion queue full, retry later")
	case errors.Is(err, book.ErrNotPrimary):
		return status.Error(codes.FailedPrecondition, "not primary")
	case errors.Is(err, book.ErrHalted):
		return status.Error(codes.Unavailable, "engine halted")
	case errors.Is(err, queue.ErrClosed):
		return status.Error(codes.Unavailable, "shutting down")
	default:
		return err
	}
}

// replyFrom folds the command's committed events into the caller's view of
// their own order.
func replyFrom(res engine.Result) *OrderReply {
	r := &OrderReply{OrderID: uint64(res.OrderID)}

	var verr *book.ValidationError
	if errors.As(res.Err, &verr) {
		r.Status = "REJECTED"
		r.Reason = verr.Reason
	}

	for _, ev := range res.Events {
		if ev.OrderID != res.OrderID {
			continue
		}
		r.LSN = uint64(ev.LSN)
		switch ev.Type {
		case book.EvAccepted:
			r.Status = "ACCEPTED"
			r.Remaining = ev.Qty
		case book.EvRejected:
			r.Status = "REJECTED"
			r.Reason = ev.Reason
		case book.EvPartiallyFilled:
			r.Status = "PARTIALLY_FILLED"
			r.FilledQty += ev.Qty
			r.Remaining = ev.Remaining
			r.Fills = append(r.Fills, Fill{Price: ev.Price, Qty: ev.Qty, CounterOrderID: uint64(ev.CounterID)})
		case book.EvFilled:
			r.Status = "FILLED"
			r.FilledQty += ev.Qty
			r.Remaining = 0
			r.Fills = append(r.Fills, Fill{Price: ev.Price, Qty: ev.Qty, CounterOrderID: uint64(ev.CounterID)})
		case book.EvCancelled:
			r.Status = "CANCELLED"
			r.Reason = ev.Reason
			r.Remaining = ev.Remaining
		case book.EvReplaced:
			r.Status = "REPLACED"
			r.Remaining = ev.NewQty - (r.FilledQty)
		case book.EvExpired:
			r.Status = "EXPIRED"
		}
	}
	return r
}
