package engine

import (
	"njord/internal/book"
	"njord/internal/custody"
)

// AccountBalance returns the cap owner's available and locked balances
// in both assets.
func (p *Pool) AccountBalance(cap *custody.AccountCap) (baseAvail, baseLocked, quoteAvail, quoteLocked uint64) {
	owner := cap.Owner()
	baseAvail, baseLocked = p.baseCustodian.AccountBalance(owner)
	quoteAvail, quoteLocked = p.quoteCustodian.AccountBalance(owner)
	return baseAvail, baseLocked, quoteAvail, quoteLocked
}

// ListOpenOrders returns copies of the cap owner's resting orders in
// the order they were placed.
func (p *Pool) ListOpenOrders(cap *custody.AccountCap) []book.Order {
	oo, ok := p.book.LookupOpenOrders(cap.Owner())
	if !ok {
		return nil
	}
	orders := make([]book.Order, 0, oo.Len())
	for _, id := range oo.IDs() {
		price, _ := oo.Price(id)
		lvl, ok := p.book.Side(id).FindLevel(price)
		if !ok {
			continue
		}
		if o, ok := lvl.Borrow(id); ok {
			orders = append(orders, *o)
		}
	}
	return orders
}

// OrderStatus returns a copy of one resting order owned by the cap
// holder.
func (p *Pool) OrderStatus(cap *custody.AccountCap, orderID uint64) (book.Order, error) {
	oo, ok := p.book.LookupOpenOrders(cap.Owner())
	if !ok {
		return book.Order{}, ErrInvalidUser
	}
	price, ok := oo.Price(orderID)
	if !ok {
		return book.Order{}, ErrInvalidOrderID
	}
	lvl, ok := p.book.Side(orderID).FindLevel(price)
	if !ok {
		return book.Order{}, ErrInvalidTickPrice
	}
	o, ok := lvl.Borrow(orderID)
	if !ok {
		return book.Order{}, ErrInvalidOrderID
	}
	return *o, nil
}

// MarketPrice returns the best bid and ask prices. Either side may be
// absent.
func (p *Pool) MarketPrice() (bestBid, bestAsk uint64, hasBid, hasAsk bool) {
	if lvl, ok := p.book.Bids.MaxLevel(); ok {
		bestBid, hasBid = lvl.Price(), true
	}
	if lvl, ok := p.book.Asks.MinLevel(); ok {
		bestAsk, hasAsk = lvl.Price(), true
	}
	return bestBid, bestAsk, hasBid, hasAsk
}

// Level2BookStatus reports the open depth per price level on one side
// within [priceLow, priceHigh]. The bounds are clamped to the side's
// extent and snapped to present levels; expired orders do not count,
// and levels whose live depth is zero are omitted. Bids report from the
// highest price down, asks from the lowest price up.
func (p *Pool) Level2BookStatus(isBid bool, priceLow, priceHigh, nowMs uint64) (prices, depths []uint64) {
	side := p.book.Asks
	if isBid {
		side = p.book.Bids
	}
	minLvl, ok := side.MinLevel()
	if !ok {
		return nil, nil
	}
	maxLvl, _ := side.MaxLevel()
	priceLow = max(priceLow, minLvl.Price())
	priceHigh = min(priceHigh, maxLvl.Price())
	if priceLow > priceHigh {
		return nil, nil
	}
	priceLow, _ = side.ClosestKey(priceLow)
	priceHigh, _ = side.ClosestKey(priceHigh)

	appendLevel := func(lvl *book.PriceLevel) {
		var depth uint64
		lvl.Each(func(o *book.Order) bool {
			if !o.Expired(nowMs) {
				depth += o.Quantity
			}
			return true
		})
		if depth > 0 {
			prices = append(prices, lvl.Price())
			depths = append(depths, depth)
		}
	}

	if isBid {
		lvl, ok := side.FindLevel(priceHigh)
		for ok && lvl.Price() >= priceLow {
			appendLevel(lvl)
			lvl, ok = side.PrevLevel(lvl.Price())
		}
	} else {
		lvl, ok := side.FindLevel(priceLow)
		for ok && lvl.Price() <= priceHigh {
			appendLevel(lvl)
			lvl, ok = side.NextLevel(lvl.Price())
		}
	}
	return prices, depths
}
