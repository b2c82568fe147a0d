package engine

import (
	"njord/internal/book"
	"njord/internal/custody"
	"njord/internal/fixed"
)

// The three matching primitives share a skeleton: walk the opposite
// side level by level in price priority, consume resting orders in FIFO
// order, sweep expired makers without matching them, and settle every
// fill atomically against both custodians. They differ only in what
// bounds the taker (base in, base target, quote budget) and in which
// asset the commission is denominated in: the fee is always taken from
// what the taker receives.
//
// Failures must leave no partial settlement behind, so callers run the
// read-only preview walks first; by the time a primitive mutates state,
// every arithmetic and funding error has already been ruled out.

// sweepExpired unlocks the expired maker's collateral, removes the
// order and reports it canceled. The taker's quantity is not consumed.
func (p *Pool) sweepExpired(lvl *book.PriceLevel, o *book.Order) error {
	if o.IsBid {
		collateral, err := fixed.Mul(o.Quantity, o.Price)
		if err != nil {
			return err
		}
		if err := p.quoteCustodian.Unlock(o.Owner, collateral); err != nil {
			return err
		}
	} else {
		if err := p.baseCustodian.Unlock(o.Owner, o.Quantity); err != nil {
			return err
		}
	}
	removed, _ := lvl.Remove(o.ID)
	p.book.RemoveOpenOrder(removed.Owner, removed.ID)
	p.emit(OrderCanceled{
		PoolID:                    p.id,
		OrderID:                   removed.ID,
		IsBid:                     removed.IsBid,
		Owner:                     removed.Owner,
		BaseAssetQuantityCanceled: removed.Quantity,
		Price:                     removed.Price,
	})
	return nil
}

// previewAsk walks the bid side read-only, mirroring matchAsk: it
// returns the base quantity that would fill and the gross quote those
// fills are worth, and surfaces any arithmetic error the live walk
// would hit, before anything mutates.
func (p *Pool) previewAsk(priceLimit, nowMs, baseIn uint64) (fillableBase, grossQuote uint64, err error) {
	baseRem := baseIn
	lvl, ok := p.book.Bids.MaxLevel()
	for ok {
		price := lvl.Price()
		if price < priceLimit {
			break
		}
		done := false
		lvl.Each(func(o *book.Order) bool {
			if o.Expired(nowMs) {
				// The live walk unlocks this maker's quote collateral.
				if _, err = fixed.Mul(o.Quantity, o.Price); err != nil {
					done = true
					return false
				}
				return true
			}
			if baseRem == 0 {
				done = true
				return false
			}
			fillBase := min(baseRem, o.Quantity)
			var fillQuote uint64
			if fillQuote, err = fixed.Mul(fillBase, price); err != nil {
				done = true
				return false
			}
			fillableBase += fillBase
			grossQuote += fillQuote
			baseRem -= fillBase
			return baseRem > 0
		})
		if err != nil {
			return 0, 0, err
		}
		if done || baseRem == 0 {
			break
		}
		lvl, ok = p.book.Bids.PrevLevel(price)
	}
	return fillableBase, grossQuote, nil
}

// previewBid walks the ask side read-only, mirroring matchBid. The
// returned grossQuote is the quote the taker must fund to fill
// fillableBase.
func (p *Pool) previewBid(priceLimit, nowMs, baseQty uint64) (fillableBase, grossQuote uint64, err error) {
	baseRem := baseQty
	lvl, ok := p.book.Asks.MinLevel()
	for ok {
		price := lvl.Price()
		if price > priceLimit {
			break
		}
		done := false
		lvl.Each(func(o *book.Order) bool {
			if o.Expired(nowMs) {
				return true
			}
			if baseRem == 0 {
				done = true
				return false
			}
			fillBase := min(baseRem, o.Quantity)
			var fillQuote uint64
			if fillQuote, err = fixed.Mul(fillBase, price); err != nil {
				done = true
				return false
			}
			fillableBase += fillBase
			grossQuote += fillQuote
			baseRem -= fillBase
			return baseRem > 0
		})
		if err != nil {
			return 0, 0, err
		}
		if done || baseRem == 0 {
			break
		}
		lvl, ok = p.book.Asks.NextLevel(price)
	}
	return fillableBase, grossQuote, nil
}

// matchAsk consumes the bid side: the taker sells base. The walk starts
// at the best bid and descends while the level price stays at or above
// priceLimit. Returns the unsold base and the quote proceeds net of the
// taker commission.
func (p *Pool) matchAsk(priceLimit, nowMs uint64, baseIn custody.Balance) (custody.Balance, custody.Balance, error) {
	baseRem := baseIn
	quoteOut := custody.Zero(p.quoteAsset)

	lvl, ok := p.book.Bids.MaxLevel()
	for ok {
		price := lvl.Price()
		if price < priceLimit {
			break
		}
		done, err := p.consumeLevelAsk(lvl, nowMs, &baseRem, &quoteOut)
		if lvl.IsEmpty() {
			p.book.Bids.RemoveLevel(price)
		}
		if err != nil {
			return baseRem, quoteOut, err
		}
		if done {
			break
		}
		lvl, ok = p.book.Bids.PrevLevel(price)
	}
	return baseRem, quoteOut, nil
}

// consumeLevelAsk drains one bid level in FIFO order. done reports the
// taker is exhausted and the walk must stop.
func (p *Pool) consumeLevelAsk(lvl *book.PriceLevel, nowMs uint64, baseRem, quoteOut *custody.Balance) (done bool, err error) {
	price := lvl.Price()
	id, hasOrder := lvl.Front()
	for hasOrder {
		nextID, hasNext := lvl.Next(id)
		o, _ := lvl.Borrow(id)

		if o.Expired(nowMs) {
			if err := p.sweepExpired(lvl, o); err != nil {
				return true, err
			}
			id, hasOrder = nextID, hasNext
			continue
		}
		if baseRem.Value() == 0 {
			return true, nil
		}

		fillBase := min(baseRem.Value(), o.Quantity)
		fillQuote, err := fixed.Mul(fillBase, price)
		if err != nil {
			return true, err
		}
		// Fee legs round in the protocol's favor: the commission is
		// rounded up, the rebate floors.
		makerRebate := fixed.UnsafeMul(fillQuote, p.makerRebateRate)
		takerCommission, rounded := fixed.UnsafeMulRound(fillQuote, p.takerFeeRate)
		if rounded {
			takerCommission++
		}

		makerQuote, err := p.quoteCustodian.DecreaseLocked(o.Owner, fillQuote)
		if err != nil {
			return true, err
		}
		commission, err := makerQuote.Split(takerCommission)
		if err != nil {
			return true, err
		}
		rebate, err := commission.Split(makerRebate)
		if err != nil {
			return true, err
		}
		if err := p.quoteCustodian.IncreaseAvailable(o.Owner, rebate); err != nil {
			return true, err
		}
		if err := p.quoteAssetTradingFees.Join(commission); err != nil {
			return true, err
		}
		if err := quoteOut.Join(makerQuote); err != nil {
			return true, err
		}

		soldBase, err := baseRem.Split(fillBase)
		if err != nil {
			return true, err
		}
		if err := p.baseCustodian.IncreaseAvailable(o.Owner, soldBase); err != nil {
			return true, err
		}

		p.settleMakerFill(lvl, o, fillBase, price)

		if baseRem.Value() == 0 {
			return true, nil
		}
		id, hasOrder = nextID, hasNext
	}
	return false, nil
}

// matchBid consumes the ask side for a taker buying a fixed base
// quantity funded from quoteIn. Returns the gross base filled, the base
// acquired net of commission, and the unspent quote.
func (p *Pool) matchBid(baseQty, priceLimit, nowMs uint64, quoteIn custody.Balance) (uint64, custody.Balance, custody.Balance, error) {
	baseRem := baseQty
	baseOut := custody.Zero(p.baseAsset)
	quoteRem := quoteIn

	lvl, ok := p.book.Asks.MinLevel()
	for ok {
		price := lvl.Price()
		if price > priceLimit {
			break
		}
		done, err := p.consumeLevelBid(lvl, nowMs, &baseRem, &baseOut, &quoteRem)
		if lvl.IsEmpty() {
			p.book.Asks.RemoveLevel(price)
		}
		if err != nil {
			return baseQty - baseRem, baseOut, quoteRem, err
		}
		if done {
			break
		}
		lvl, ok = p.book.Asks.NextLevel(price)
	}
	return baseQty - baseRem, baseOut, quoteRem, nil
}

func (p *Pool) consumeLevelBid(lvl *book.PriceLevel, nowMs uint64, baseRem *uint64, baseOut, quoteRem *custody.Balance) (done bool, err error) {
	price := lvl.Price()
	id, hasOrder := lvl.Front()
	for hasOrder {
		nextID, hasNext := lvl.Next(id)
		o, _ := lvl.Borrow(id)

		if o.Expired(nowMs) {
			if err := p.sweepExpired(lvl, o); err != nil {
				return true, err
			}
			id, hasOrder = nextID, hasNext
			continue
		}
		if *baseRem == 0 {
			return true, nil
		}

		fillBase := min(*baseRem, o.Quantity)
		fillQuote, err := fixed.Mul(fillBase, price)
		if err != nil {
			return true, err
		}
		// Commission and rebate are denominated in base here: that is
		// what the taker receives on this path.
		makerRebate := fixed.UnsafeMul(fillBase, p.makerRebateRate)
		takerCommission, rounded := fixed.UnsafeMulRound(fillBase, p.takerFeeRate)
		if rounded {
			takerCommission++
		}

		if err := p.settleBidFill(o, fillBase, fillQuote, takerCommission, makerRebate, baseOut, quoteRem); err != nil {
			return true, err
		}

		p.settleMakerFill(lvl, o, fillBase, price)

		*baseRem -= fillBase
		if *baseRem == 0 {
			return true, nil
		}
		id, hasOrder = nextID, hasNext
	}
	return false, nil
}

// matchBidWithQuoteQuantity consumes the ask side for a taker spending
// a fixed quote budget. The maker's quote value is rounded up so the
// taker cannot underpay by one unit, and the derived base fill rounds
// up in turn, capped at the maker's remaining quantity.
func (p *Pool) matchBidWithQuoteQuantity(priceLimit, nowMs uint64, quoteIn custody.Balance) (custody.Balance, custody.Balance, error) {
	baseOut := custody.Zero(p.baseAsset)
	quoteRem := quoteIn

	lvl, ok := p.book.Asks.MinLevel()
	for ok {
		price := lvl.Price()
		if price > priceLimit {
			break
		}
		done, err := p.consumeLevelQuote(lvl, nowMs, &baseOut, &quoteRem)
		if lvl.IsEmpty() {
			p.book.Asks.RemoveLevel(price)
		}
		if err != nil {
			return baseOut, quoteRem, err
		}
		if done {
			break
		}
		lvl, ok = p.book.Asks.NextLevel(price)
	}
	return baseOut, quoteRem, nil
}

func (p *Pool) consumeLevelQuote(lvl *book.PriceLevel, nowMs uint64, baseOut, quoteRem *custody.Balance) (done bool, err error) {
	price := lvl.Price()
	id, hasOrder := lvl.Front()
	for hasOrder {
		nextID, hasNext := lvl.Next(id)
		o, _ := lvl.Borrow(id)

		if o.Expired(nowMs) {
			if err := p.sweepExpired(lvl, o); err != nil {
				return true, err
			}
			id, hasOrder = nextID, hasNext
			continue
		}
		if quoteRem.Value() == 0 {
			return true, nil
		}

		makerQuoteQuantity, rounded := fixed.UnsafeMulRound(o.Quantity, price)
		if rounded {
			makerQuoteQuantity++
		}
		fillQuote := min(quoteRem.Value(), makerQuoteQuantity)
		var fillBase uint64
		if fillQuote == makerQuoteQuantity {
			fillBase = o.Quantity
		} else {
			fb, roundedDown := fixed.UnsafeDivRound(fillQuote, price)
			if roundedDown {
				fb++
			}
			fillBase = min(fb, o.Quantity)
		}

		makerRebate := fixed.UnsafeMul(fillBase, p.makerRebateRate)
		takerCommission, rounded := fixed.UnsafeMulRound(fillBase, p.takerFeeRate)
		if rounded {
			takerCommission++
		}

		if err := p.settleBidFill(o, fillBase, fillQuote, takerCommission, makerRebate, baseOut, quoteRem); err != nil {
			return true, err
		}

		p.settleMakerFill(lvl, o, fillBase, price)

		if quoteRem.Value() == 0 {
			return true, nil
		}
		id, hasOrder = nextID, hasNext
	}
	return false, nil
}

// settleBidFill moves value for one ask-side fill: the maker's locked
// base is released and split between commission, rebate and the taker;
// the taker's quote pays the maker.
func (p *Pool) settleBidFill(o *book.Order, fillBase, fillQuote, takerCommission, makerRebate uint64, baseOut, quoteRem *custody.Balance) error {
	makerBase, err := p.baseCustodian.DecreaseLocked(o.Owner, fillBase)
	if err != nil {
		return err
	}
	commission, err := makerBase.Split(takerCommission)
	if err != nil {
		return err
	}
	rebate, err := commission.Split(makerRebate)
	if err != nil {
		return err
	}
	if err := p.baseCustodian.IncreaseAvailable(o.Owner, rebate); err != nil {
		return err
	}
	if err := p.baseAssetTradingFees.Join(commission); err != nil {
		return err
	}
	if err := baseOut.Join(makerBase); err != nil {
		return err
	}

	paidQuote, err := quoteRem.Split(fillQuote)
	if err != nil {
		return ErrInsufficientQuoteCoin
	}
	return p.quoteCustodian.IncreaseAvailable(o.Owner, paidQuote)
}

// settleMakerFill decrements the maker's remaining quantity, emits the
// fill and removes the order when fully consumed.
func (p *Pool) settleMakerFill(lvl *book.PriceLevel, o *book.Order, fillBase, price uint64) {
	total := o.Quantity
	o.Quantity -= fillBase
	p.emit(OrderFilled{
		PoolID:                     p.id,
		OrderID:                    o.ID,
		IsBid:                      o.IsBid,
		Owner:                      o.Owner,
		TotalQuantity:              total,
		BaseAssetQuantityFilled:    fillBase,
		BaseAssetQuantityRemaining: o.Quantity,
		Price:                      price,
	})
	if o.Quantity == 0 {
		removed, _ := lvl.Remove(o.ID)
		p.book.RemoveOpenOrder(removed.Owner, removed.ID)
	}
}
