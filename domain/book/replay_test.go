package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replayInto runs every event through a fresh book's replay path.
func replayInto(t *testing.T, evs []Event) *Book {
	t.Helper()
	rb := New("BTC-USD")
	for _, ev := range evs {
		require.NoError(t, rb.ApplyEvent(ev))
	}
	return rb
}

func assertSameBook(t *testing.T, live, replayed *Book) {
	t.Helper()
	assert.Equal(t, live.LiveOrders(), replayed.LiveOrders())
	assert.Equal(t, live.Depth(64, 0), replayed.Depth(64, 0))
}

func TestReplayReproducesLiveState(t *testing.T) {
	h := newHarness()
	var log []Event

	record := func(evs []Event) { log = append(log, evs...) }

	_, evs := h.submit(Ask, 100, 10, GTC)
	record(evs)
	_, evs = h.submit(Ask, 101, 5, GTC)
	record(evs)
	_, evs = h.submit(Bid, 100, 4, GTC) // partial fill of the first ask
	record(evs)
	o, evs := h.submit(Bid, 99, 8, GTC)
	record(evs)
	record(h.b.ApplyReplace(o.ID, 99, 5)) // reduce in place
	_, evs = h.submit(Bid, 101, 9, IOC)   // sweeps both asks, remainder dies
	record(evs)
	record(h.b.ApplyCancel(o.ID, "user"))

	assertSameBook(t, h.b, replayInto(t, log))
}

func TestReplayPriorityResetPreservesQueueOrder(t *testing.T) {
	h := newHarness()
	var log []Event
	record := func(evs []Event) { log = append(log, evs...) }

	a, evs := h.submit(Ask, 100, 5, GTC)
	record(evs)
	_, evs = h.submit(Ask, 100, 5, GTC)
	record(evs)
	record(h.b.ApplyReplace(a.ID, 100, 9)) // qty increase: a goes to the back

	rb := replayInto(t, log)
	assertSameBook(t, h.b, rb)

	// Next taker fills the second ask first, in both books.
	taker := &Order{ID: 99, Symbol: "BTC-USD", Side: Bid, Price: 100, Qty: 5, Seq: 99}
	liveFills := h.b.ApplySubmit(taker)

	taker2 := &Order{ID: 99, Symbol: "BTC-USD", Side: Bid, Price: 100, Qty: 5, Seq: 99}
	replayFills := rb.ApplySubmit(taker2)

	require.Equal(t, eventTypes(liveFills), eventTypes(replayFills))
	assert.Equal(t, liveFills[1].OrderID, replayFills[1].OrderID)
}

func TestReplayExpiry(t *testing.T) {
	h := newHarness()
	var log []Event
	record := func(evs []Event) { log = append(log, evs...) }

	_, evs := h.submitExpiring(Bid, 100, 5, 1000)
	record(evs)
	_, evs = h.submitExpiring(Bid, 101, 5, 3000)
	record(evs)
	record(h.b.ApplyExpire(2000))

	assertSameBook(t, h.b, replayInto(t, log))
}

func TestReplayUnknownOrderFails(t *testing.T) {
	rb := New("BTC-USD")
	err := rb.ApplyEvent(Event{Type: EvCancelled, Symbol: "BTC-USD", OrderID: 7})
	assert.Error(t, err)
}
