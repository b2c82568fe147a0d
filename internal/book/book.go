// Package book implements the two-sided central limit order book: a
// btree-backed ordered index of price levels per side, FIFO order queues
// at each level, monotonic order id allocation, and the per-user open
// order index.
package book

import "github.com/google/uuid"

// OrderBook holds both sides of the book together with the id
// allocators and the per-user open order index.
//
// Invariant: an order is resident in some price level iff its id is
// recorded in the owner's OpenOrders at the same price.
type OrderBook struct {
	Bids *BookSide
	Asks *BookSide

	nextBidOrderID uint64
	nextAskOrderID uint64

	openOrders map[uuid.UUID]*OpenOrders
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		Bids:           NewBookSide(),
		Asks:           NewBookSide(),
		nextBidOrderID: MinBidOrderID,
		nextAskOrderID: MinAskOrderID,
		openOrders:     make(map[uuid.UUID]*OpenOrders),
	}
}

// AllocateBidID hands out the next bid order id. Ids are never reused,
// even across cancellations.
func (b *OrderBook) AllocateBidID() uint64 {
	id := b.nextBidOrderID
	b.nextBidOrderID++
	return id
}

// AllocateAskID hands out the next ask order id.
func (b *OrderBook) AllocateAskID() uint64 {
	id := b.nextAskOrderID
	b.nextAskOrderID++
	return id
}

// NextBidOrderID returns the allocator position without advancing it.
func (b *OrderBook) NextBidOrderID() uint64 { return b.nextBidOrderID }

// NextAskOrderID returns the allocator position without advancing it.
func (b *OrderBook) NextAskOrderID() uint64 { return b.nextAskOrderID }

// Side returns the book side an order id belongs to.
func (b *OrderBook) Side(orderID uint64) *BookSide {
	if IsAskOrderID(orderID) {
		return b.Asks
	}
	return b.Bids
}

// Insert places the order at the back of its price level, creating the
// level if absent, and records it in the owner's open order index.
func (b *OrderBook) Insert(o Order) {
	side := b.Side(o.ID)
	lvl, ok := side.FindLevel(o.Price)
	if !ok {
		lvl = NewPriceLevel(o.Price)
		side.InsertLevel(lvl)
	}
	lvl.PushBack(o)
	b.OpenOrdersFor(o.Owner).Add(o.ID, o.Price)
}

// RemoveOpenOrder forgets the id in the owner's open order index. Used
// by the matching walk after it has already unlinked the order from its
// level.
func (b *OrderBook) RemoveOpenOrder(owner uuid.UUID, orderID uint64) {
	if oo, ok := b.openOrders[owner]; ok {
		oo.Remove(orderID)
	}
}

// OpenOrdersFor returns the owner's open order index, creating it on
// first touch.
func (b *OrderBook) OpenOrdersFor(owner uuid.UUID) *OpenOrders {
	oo, ok := b.openOrders[owner]
	if !ok {
		oo = NewOpenOrders()
		b.openOrders[owner] = oo
	}
	return oo
}

// LookupOpenOrders returns the owner's open order index without
// creating one.
func (b *OrderBook) LookupOpenOrders(owner uuid.UUID) (*OpenOrders, bool) {
	oo, ok := b.openOrders[owner]
	return oo, ok
}
