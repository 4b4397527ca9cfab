package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidar/domain/book"
)

func TestEventCodecRoundTrip(t *testing.T) {
	cases := []book.Event{
		{
			Type: book.EvAccepted, Symbol: "BTC-USD", OrderID: 42,
			Side: book.Bid, TIF: book.GTC, Price: 100_0000, Qty: 10,
			Remaining: 10, ExpireAt: 1700000000000000000,
		},
		{
			Type: book.EvFilled, Symbol: "BTC-USD", OrderID: 42, CounterID: 41,
			Side: book.Ask, Price: 99_5000, Qty: 3,
		},
		{
			Type: book.EvRejected, Symbol: "ETH-USD", OrderID: 7,
			Reason: book.ReasonFOKUnfillable, Field: "qty",
		},
		{
			Type: book.EvReplaced, Symbol: "BTC-USD", OrderID: 42, Side: book.Bid,
			Price: 100, NewPrice: 101, NewQty: 20, PriorityReset: true, Remaining: 5,
		},
	}

	for _, want := range cases {
		got, err := DecodeEvent(EncodeEvent(&want))
		require.NoError(t, err, "event %s", want.Type)
		assert.Equal(t, want, got)
	}
}

func TestEventCodecDeterministic(t *testing.T) {
	ev := book.Event{
		Type: book.EvPartiallyFilled, Symbol: "BTC-USD",
		OrderID: 9, CounterID: 8, Side: book.Ask, Price: -50, Qty: 2, Remaining: 1,
	}
	assert.Equal(t, EncodeEvent(&ev), EncodeEvent(&ev))
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := DecodeEvent(nil)
	assert.Error(t, err)

	ev := book.Event{Symbol: "BTC-USD", OrderID: 1} // no type set
	_, err = DecodeEvent(EncodeEvent(&ev))
	assert.Error(t, err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeEvent([]byte{0xFF, 0xFF, 0xFF})
	assert.Error(t, err)
}
