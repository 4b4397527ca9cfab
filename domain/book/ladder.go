package book

import "github.com/google/btree"

// Ladder is one side of the book: price -> PriceLevel, ordered best-first.
// Bids order by price descending, asks ascending, so Min() is always the
// best level on either side.
type Ladder struct {
	side Side
	tree *btree.BTreeG[*PriceLevel]
}

const ladderDegree = 32

func NewLadder(side Side) *Ladder {
	less := func(a, b *PriceLevel) bool { return a.Price < b.Price }
	if side == Bid {
		less = func(a, b *PriceLevel) bool { return a.Price > b.Price }
	}
	return &Ladder{
		side: side,
		tree: btree.NewG[*PriceLevel](ladderDegree, less),
	}
}

func (l *Ladder) Side() Side { return l.side }

// GetOrCreate returns the level at price, creating it if absent.
func (l *Ladder) GetOrCreate(price Price) *PriceLevel {
	if lvl, ok := l.tree.Get(&PriceLevel{Price: price}); ok {
		return lvl
	}
	lvl := &PriceLevel{Price: price}
	l.tree.ReplaceOrInsert(lvl)
	return lvl
}

func (l *Ladder) Get(price Price) *PriceLevel {
	lvl, ok := l.tree.Get(&PriceLevel{Price: price})
	if !ok {
		return nil
	}
	return lvl
}

// Best returns the best level (highest bid / lowest ask), or nil.
func (l *Ladder) Best() *PriceLevel {
	lvl, ok := l.tree.Min()
	if !ok {
		return nil
	}
	return lvl
}

// DropIfEmpty removes the level at price when it holds no orders.
// A level with no orders never stays in the ladder.
func (l *Ladder) DropIfEmpty(price Price) {
	if lvl := l.Get(price); lvl != nil && lvl.Empty() {
		l.tree.Delete(lvl)
	}
}

// Walk visits levels best-first until fn returns false.
func (l *Ladder) Walk(fn func(*PriceLevel) bool) {
	l.tree.Ascend(fn)
}

func (l *Ladder) Len() int {
	return l.tree.Len()
}
