package wal

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"vidar/domain/book"
)

// Event payloads are encoded as protobuf wire format via protowire: fields
// in ascending tag order, zero values omitted. The encoding is stable and
// byte-deterministic, which the replay and replication round-trip tests
// depend on. The LSN lives in the frame header, never in the payload.
const (
	fieldType          = 1 // varint
	fieldOrderID       = 2 // varint
	fieldCounterID     = 3 // varint
	fieldSymbol        = 4 // bytes
	fieldSide          = 5 // varint
	fieldTIF           = 6 // varint
	fieldPrice         = 7 // sint64
	fieldQty           = 8 // sint64
	fieldRemaining     = 9 // sint64
	fieldReason        = 10 // bytes
	fieldField         = 11 // bytes
	fieldNewPrice      = 12 // sint64
	fieldNewQty        = 13 // sint64
	fieldPriorityReset = 14 // varint
	fieldExpireAt      = 15 // sint64
)

// EncodeEvent serializes ev (without its LSN) into a WAL payload.
func EncodeEvent(ev *book.Event) []byte {
	b := make([]byte, 0, 64)

	b = appendVarint(b, fieldType, uint64(ev.Type))
	b = appendVarint(b, fieldOrderID, ev.OrderID)
	b = appendVarint(b, fieldCounterID, ev.CounterID)
	b = appendBytes(b, fieldSymbol, []byte(ev.Symbol))
	b = appendVarint(b, fieldSide, uint64(ev.Side))
	b = appendVarint(b, fieldTIF, uint64(ev.TIF))
	b = appendSint(b, fieldPrice, ev.Price)
	b = appendSint(b, fieldQty, ev.Qty)
	b = appendSint(b, fieldRemaining, ev.Remaining)
	b = appendBytes(b, fieldReason, []byte(ev.Reason))
	b = appendBytes(b, fieldField, []byte(ev.Field))
	b = appendSint(b, fieldNewPrice, ev.NewPrice)
	b = appendSint(b, fieldNewQty, ev.NewQty)
	if ev.PriorityReset {
		b = appendVarint(b, fieldPriorityReset, 1)
	}
	b = appendSint(b, fieldExpireAt, ev.ExpireAt)

	return b
}

// DecodeEvent parses a WAL payload. The caller stamps the LSN from the
// frame header.
func DecodeEvent(data []byte) (book.Event, error) {
	var ev book.Event

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ev, fmt.Errorf("wal: bad event tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return ev, fmt.Errorf("wal: bad varint for field %d", num)
			}
			data = data[n:]
			switch num {
			case fieldType:
				ev.Type = book.EventType(v)
			case fieldOrderID:
				ev.OrderID = v
			case fieldCounterID:
				ev.CounterID = v
			case fieldSide:
				ev.Side = book.Side(v)
			case fieldTIF:
				ev.TIF = book.TimeInForce(v)
			case fieldPrice:
				ev.Price = protowire.DecodeZigZag(v)
			case fieldQty:
				ev.Qty = protowire.DecodeZigZag(v)
			case fieldRemaining:
				ev.Remaining = protowire.DecodeZigZag(v)
			case fieldNewPrice:
				ev.NewPrice = protowire.DecodeZigZag(v)
			case fieldNewQty:
				ev.NewQty = protowire.DecodeZigZag(v)
			case fieldPriorityReset:
				ev.PriorityReset = v != 0
			case fieldExpireAt:
				ev.ExpireAt = protowire.DecodeZigZag(v)
			}

		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ev, fmt.Errorf("wal: bad bytes for field %d", num)
			}
			data = data[n:]
			switch num {
			case fieldSymbol:
				ev.Symbol = string(v)
			case fieldReason:
				ev.Reason = string(v)
			case fieldField:
				ev.Field = string(v)
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ev, fmt.Errorf("wal: bad field %d", num)
			}
			data = data[n:]
		}
	}

	if ev.Type == 0 {
		return ev, fmt.Errorf("wal: event payload missing type")
	}
	return ev, nil
}

func appendVarint(b []byte, field protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, field protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendBytes(b []byte, field protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
