package book

import "github.com/tidwall/btree"

// BookSide is the ordered index from price to PriceLevel for one side of
// the book. Both sides key ascending by price; the matching walk chooses
// its direction (bids max to min, asks min to max).
type BookSide struct {
	tree *btree.BTreeG[*PriceLevel]
}

func NewBookSide() *BookSide {
	return &BookSide{
		tree: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.price < b.price
		}),
	}
}

// MinLevel returns the level at the lowest price.
func (s *BookSide) MinLevel() (*PriceLevel, bool) {
	return s.tree.Min()
}

// MaxLevel returns the level at the highest price.
func (s *BookSide) MaxLevel() (*PriceLevel, bool) {
	return s.tree.Max()
}

// NextLevel returns the level at the smallest price strictly greater
// than price.
func (s *BookSide) NextLevel(price uint64) (lvl *PriceLevel, ok bool) {
	s.tree.Ascend(&PriceLevel{price: price}, func(l *PriceLevel) bool {
		if l.price == price {
			return true
		}
		lvl, ok = l, true
		return false
	})
	return lvl, ok
}

// PrevLevel returns the level at the largest price strictly less than
// price.
func (s *BookSide) PrevLevel(price uint64) (lvl *PriceLevel, ok bool) {
	s.tree.Descend(&PriceLevel{price: price}, func(l *PriceLevel) bool {
		if l.price == price {
			return true
		}
		lvl, ok = l, true
		return false
	})
	return lvl, ok
}

// FindLevel looks up the level resting exactly at price.
func (s *BookSide) FindLevel(price uint64) (*PriceLevel, bool) {
	return s.tree.Get(&PriceLevel{price: price})
}

// ClosestKey snaps price to the nearest present key, preferring the
// lower neighbour on a tie. Used by range queries to align their bounds
// with actual levels.
func (s *BookSide) ClosestKey(price uint64) (uint64, bool) {
	if lvl, ok := s.FindLevel(price); ok {
		return lvl.price, true
	}
	lower, hasLower := s.PrevLevel(price)
	upper, hasUpper := s.NextLevel(price)
	switch {
	case hasLower && hasUpper:
		if price-lower.price <= upper.price-price {
			return lower.price, true
		}
		return upper.price, true
	case hasLower:
		return lower.price, true
	case hasUpper:
		return upper.price, true
	}
	return 0, false
}

// InsertLevel adds a level for a price not yet present.
func (s *BookSide) InsertLevel(lvl *PriceLevel) {
	s.tree.Set(lvl)
}

// RemoveLevel deletes the level at price. Only empty levels may be
// removed; the caller drains the FIFO first.
func (s *BookSide) RemoveLevel(price uint64) (*PriceLevel, bool) {
	return s.tree.Delete(&PriceLevel{price: price})
}

func (s *BookSide) IsEmpty() bool { return s.tree.Len() == 0 }

func (s *BookSide) Len() int { return s.tree.Len() }
