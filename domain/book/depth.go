package book

// DepthLevel is one aggregated price level of a depth snapshot.
type DepthLevel struct {
	Price  Price `json:"price"`
	Qty    Qty   `json:"qty"`
	Orders int   `json:"orders"`
}

// Depth is an immutable point-in-time view of the top of the book. The
// engine publishes a fresh Depth after every applied batch; readers never
// touch book internals.
type Depth struct {
	Symbol string       `json:"symbol"`
	LSN    LSN          `json:"lsn"`
	Bids   []DepthLevel `json:"bids"`
	Asks   []DepthLevel `json:"asks"`
}

func (d *Depth) BestBid() (Price, bool) {
	if len(d.Bids) == 0 {
		return 0, false
	}
	return d.Bids[0].Price, true
}

func (d *Depth) BestAsk() (Price, bool) {
	if len(d.Asks) == 0 {
		return 0, false
	}
	return d.Asks[0].Price, true
}

// Depth captures up to n levels per side, best-first.
func (b *Book) Depth(n int, lsn LSN) *Depth {
	d := &Depth{Symbol: b.Symbol, LSN: lsn}
	d.Bids = takeLevels(b.bids, n)
	d.Asks = takeLevels(b.asks, n)
	return d
}

func takeLevels(l *Ladder, n int) []DepthLevel {
	if n <= 0 {
		return nil
	}
	out := make([]DepthLevel, 0, n)
	l.Walk(func(lvl *PriceLevel) bool {
		out = append(out, DepthLevel{
			Price:  lvl.Price,
			Qty:    lvl.TotalQty,
			Orders: lvl.OrderCount,
		})
		return len(out) < n
	})
	return out
}
