package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	b      *Book
	nextID OrderID
	seq    uint64
}

func newHarness() *harness {
	return &harness{b: New("BTC-USD")}
}

func (h *harness) submit(side Side, price Price, qty Qty, tif TimeInForce) (*Order, []Event) {
	h.nextID++
	h.seq++
	o := &Order{
		ID:     h.nextID,
		Symbol: h.b.Symbol,
		Side:   side,
		Price:  price,
		Qty:    qty,
		Seq:    h.seq,
		TIF:    tif,
	}
	return o, h.b.ApplySubmit(o)
}

func (h *harness) submitExpiring(side Side, price Price, qty Qty, expireAt int64) (*Order, []Event) {
	h.nextID++
	h.seq++
	o := &Order{
		ID:       h.nextID,
		Symbol:   h.b.Symbol,
		Side:     side,
		Price:    price,
		Qty:      qty,
		Seq:      h.seq,
		ExpireAt: expireAt,
	}
	return o, h.b.ApplySubmit(o)
}

func eventTypes(evs []Event) []EventType {
	out := make([]EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestSubmitRestsWhenNoCross(t *testing.T) {
	h := newHarness()
	o, evs := h.submit(Bid, 100, 10, GTC)

	require.Equal(t, []EventType{EvAccepted}, eventTypes(evs))
	assert.Equal(t, StatusAccepted, o.Status)

	best, ok := h.b.BestBid()
	require.True(t, ok)
	assert.Equal(t, Price(100), best)
	_, ok = h.b.BestAsk()
	assert.False(t, ok)
}

func TestExactFillBothTerminal(t *testing.T) {
	h := newHarness()
	a, _ := h.submit(Ask, 100, 10, GTC)
	b, evs := h.submit(Bid, 100, 10, GTC)

	require.Equal(t, []EventType{EvAccepted, EvFilled, EvFilled}, eventTypes(evs))

	maker, taker := evs[1], evs[2]
	assert.Equal(t, a.ID, maker.OrderID)
	assert.Equal(t, b.ID, maker.CounterID)
	assert.Equal(t, b.ID, taker.OrderID)
	assert.Equal(t, a.ID, taker.CounterID)
	assert.Equal(t, Price(100), maker.Price)
	assert.Equal(t, Qty(10), maker.Qty)

	assert.Equal(t, StatusFilled, a.Status)
	assert.Equal(t, StatusFilled, b.Status)

	_, ok := h.b.BestBid()
	assert.False(t, ok)
	_, ok = h.b.BestAsk()
	assert.False(t, ok)
	assert.Zero(t, h.b.LiveOrders())
}

func TestIOCRemainderCancelled(t *testing.T) {
	h := newHarness()
	a, _ := h.submit(Ask, 100, 5, GTC)
	b, evs := h.submit(Bid, 101, 10, IOC)

	require.Equal(t,
		[]EventType{EvAccepted, EvFilled, EvPartiallyFilled, EvCancelled},
		eventTypes(evs))

	// The fill executes at the resting price.
	assert.Equal(t, Price(100), evs[1].Price)
	assert.Equal(t, Qty(5), evs[1].Qty)
	assert.Equal(t, a.ID, evs[1].OrderID)

	cancel := evs[3]
	assert.Equal(t, b.ID, cancel.OrderID)
	assert.Equal(t, "ioc_remainder", cancel.Reason)
	assert.Equal(t, Qty(5), cancel.Qty)

	assert.Equal(t, StatusFilled, a.Status)
	assert.Equal(t, StatusCancelled, b.Status)
	assert.Zero(t, h.b.LiveOrders())
}

func TestPriceTimePriority(t *testing.T) {
	h := newHarness()
	first, _ := h.submit(Ask, 100, 5, GTC)
	second, _ := h.submit(Ask, 100, 5, GTC)
	better, _ := h.submit(Ask, 99, 5, GTC)

	_, evs := h.submit(Bid, 100, 12, GTC)

	var fillOrder []OrderID
	for _, ev := range evs {
		if (ev.Type == EvFilled || ev.Type == EvPartiallyFilled) && ev.OrderID != 4 {
			fillOrder = append(fillOrder, ev.OrderID)
		}
	}
	// Best price first, then FIFO at the tied level.
	require.Equal(t, []OrderID{better.ID, first.ID, second.ID}, fillOrder)

	assert.Equal(t, StatusFilled, better.Status)
	assert.Equal(t, StatusFilled, first.Status)
	assert.Equal(t, StatusPartiallyFilled, second.Status)
	assert.Equal(t, Qty(3), second.Remaining)
}

func TestPartialFillRestsRemainder(t *testing.T) {
	h := newHarness()
	h.submit(Ask, 100, 4, GTC)
	b, evs := h.submit(Bid, 100, 10, GTC)

	require.Equal(t,
		[]EventType{EvAccepted, EvFilled, EvPartiallyFilled},
		eventTypes(evs))
	assert.Equal(t, StatusPartiallyFilled, b.Status)
	assert.Equal(t, Qty(6), b.Remaining)

	best, ok := h.b.BestBid()
	require.True(t, ok)
	assert.Equal(t, Price(100), best)
}

func TestFOKUnfillableRejectsWithoutMutation(t *testing.T) {
	h := newHarness()
	h.submit(Ask, 100, 3, GTC)
	h.submit(Ask, 101, 3, GTC)

	depthBefore := h.b.Depth(10, 0)
	_, evs := h.submit(Bid, 101, 7, FOK)

	require.Equal(t, []EventType{EvRejected}, eventTypes(evs))
	assert.Equal(t, ReasonFOKUnfillable, evs[0].Reason)
	assert.Equal(t, depthBefore.Asks, h.b.Depth(10, 0).Asks)
	assert.Equal(t, 2, h.b.LiveOrders())
}

func TestFOKFillsAcrossLevels(t *testing.T) {
	h := newHarness()
	h.submit(Ask, 100, 3, GTC)
	h.submit(Ask, 101, 4, GTC)

	o, evs := h.submit(Bid, 101, 7, FOK)
	assert.Equal(t, StatusFilled, o.Status)

	var filled Qty
	for _, ev := range evs {
		if ev.OrderID == o.ID && (ev.Type == EvFilled || ev.Type == EvPartiallyFilled) {
			filled += ev.Qty
		}
	}
	assert.Equal(t, Qty(7), filled)
	assert.Zero(t, h.b.LiveOrders())
}

func TestFOKOnlyCountsCrossingLevels(t *testing.T) {
	h := newHarness()
	h.submit(Ask, 100, 3, GTC)
	h.submit(Ask, 105, 100, GTC) // beyond the limit, must not count

	_, evs := h.submit(Bid, 101, 7, FOK)
	require.Equal(t, []EventType{EvRejected}, eventTypes(evs))
}

func TestCancelResting(t *testing.T) {
	h := newHarness()
	o, _ := h.submit(Bid, 100, 10, GTC)

	evs := h.b.ApplyCancel(o.ID, "user")
	require.Equal(t, []EventType{EvCancelled}, eventTypes(evs))
	assert.Equal(t, Qty(10), evs[0].Qty)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Zero(t, h.b.LiveOrders())

	st, ok := h.b.ClosedStatus(o.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, st)
}

func TestCancelUnknownRejected(t *testing.T) {
	h := newHarness()
	h.submit(Bid, 100, 10, GTC)

	evs := h.b.ApplyCancel(999, "user")
	require.Equal(t, []EventType{EvRejected}, eventTypes(evs))
	assert.Equal(t, ReasonNotFound, evs[0].Reason)
	assert.Equal(t, 1, h.b.LiveOrders())
}

func TestCancelTerminalRejected(t *testing.T) {
	h := newHarness()
	o, _ := h.submit(Bid, 100, 10, GTC)
	h.b.ApplyCancel(o.ID, "user")

	evs := h.b.ApplyCancel(o.ID, "user")
	require.Equal(t, []EventType{EvRejected}, eventTypes(evs))
	assert.Equal(t, ReasonAlreadyTerminal, evs[0].Reason)
}

func TestReplaceReduceKeepsPriority(t *testing.T) {
	h := newHarness()
	first, _ := h.submit(Ask, 100, 10, GTC)
	h.submit(Ask, 100, 10, GTC)

	evs := h.b.ApplyReplace(first.ID, 100, 6)
	require.Equal(t, []EventType{EvReplaced}, eventTypes(evs))
	assert.False(t, evs[0].PriorityReset)
	assert.Equal(t, Qty(6), first.Remaining)

	// first still fills ahead of second at the shared level
	_, fills := h.submit(Bid, 100, 6, GTC)
	require.Equal(t, []EventType{EvAccepted, EvFilled, EvFilled}, eventTypes(fills))
	assert.Equal(t, first.ID, fills[1].OrderID)
}

func TestReplacePriceChangeResetsAndMatches(t *testing.T) {
	h := newHarness()
	h.submit(Ask, 100, 5, GTC)
	o, _ := h.submit(Bid, 99, 5, GTC)

	evs := h.b.ApplyReplace(o.ID, 100, 5)
	require.Equal(t, []EventType{EvReplaced, EvFilled, EvFilled}, eventTypes(evs))
	assert.True(t, evs[0].PriorityReset)
	assert.Equal(t, StatusFilled, o.Status)
	assert.Zero(t, h.b.LiveOrders())
}

func TestReplaceQtyIncreaseResetsPriority(t *testing.T) {
	h := newHarness()
	first, _ := h.submit(Ask, 100, 5, GTC)
	second, _ := h.submit(Ask, 100, 5, GTC)

	evs := h.b.ApplyReplace(first.ID, 100, 8)
	require.Equal(t, []EventType{EvReplaced}, eventTypes(evs))
	assert.True(t, evs[0].PriorityReset)

	// second now fills first
	_, fills := h.submit(Bid, 100, 5, GTC)
	assert.Equal(t, second.ID, fills[1].OrderID)
}

func TestReplaceOverfillRejected(t *testing.T) {
	h := newHarness()
	h.submit(Ask, 100, 4, GTC)
	o, _ := h.submit(Bid, 100, 10, GTC) // fills 4, rests 6

	evs := h.b.ApplyReplace(o.ID, 100, 3) // 3 <= 4 already filled
	require.Equal(t, []EventType{EvRejected}, eventTypes(evs))
	assert.Equal(t, ReasonReplaceOverfill, evs[0].Reason)
	assert.Equal(t, Qty(6), o.Remaining)
}

func TestExpireSweep(t *testing.T) {
	h := newHarness()
	stale, _ := h.submitExpiring(Bid, 100, 5, 1000)
	fresh, _ := h.submitExpiring(Bid, 99, 5, 5000)
	forever, _ := h.submit(Ask, 200, 5, GTC)

	evs := h.b.ApplyExpire(2000)
	require.Equal(t, []EventType{EvExpired}, eventTypes(evs))
	assert.Equal(t, stale.ID, evs[0].OrderID)
	assert.Equal(t, StatusExpired, stale.Status)
	assert.Equal(t, StatusAccepted, fresh.Status)
	assert.Equal(t, StatusAccepted, forever.Status)
	assert.Equal(t, 2, h.b.LiveOrders())
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness()

	_, evs := h.submit(Bid, 0, 10, GTC)
	require.Equal(t, []EventType{EvRejected}, eventTypes(evs))
	assert.Equal(t, ReasonBadPrice, evs[0].Reason)

	_, evs = h.submit(Bid, 100, 0, GTC)
	require.Equal(t, []EventType{EvRejected}, eventTypes(evs))
	assert.Equal(t, ReasonBadQty, evs[0].Reason)

	assert.Zero(t, h.b.LiveOrders())
}

func TestCheckCrossedHealthy(t *testing.T) {
	h := newHarness()
	h.submit(Bid, 99, 5, GTC)
	h.submit(Ask, 101, 5, GTC)
	assert.NoError(t, h.b.CheckCrossed())
}

func TestDepthAggregation(t *testing.T) {
	h := newHarness()
	h.submit(Bid, 100, 5, GTC)
	h.submit(Bid, 100, 7, GTC)
	h.submit(Bid, 99, 3, GTC)
	h.submit(Ask, 101, 4, GTC)

	d := h.b.Depth(2, 42)
	assert.Equal(t, LSN(42), d.LSN)
	require.Len(t, d.Bids, 2)
	assert.Equal(t, DepthLevel{Price: 100, Qty: 12, Orders: 2}, d.Bids[0])
	assert.Equal(t, DepthLevel{Price: 99, Qty: 3, Orders: 1}, d.Bids[1])
	require.Len(t, d.Asks, 1)
	assert.Equal(t, DepthLevel{Price: 101, Qty: 4, Orders: 1}, d.Asks[0])
}
