package engine

import (
	"github.com/google/uuid"

	"njord/internal/book"
	"njord/internal/common"
	"njord/internal/custody"
	"njord/internal/fixed"
)

// injectLimitOrder locks the maker's collateral, allocates the next id
// on the side and rests the order at its level.
func (p *Pool) injectLimitOrder(cap *custody.AccountCap, price, quantity uint64, isBid bool, expireTimestampMs uint64) (uint64, error) {
	owner := cap.Owner()
	if isBid {
		collateral, err := fixed.Mul(quantity, price)
		if err != nil {
			return 0, err
		}
		if err := p.quoteCustodian.Lock(cap, collateral); err != nil {
			return 0, ErrInsufficientQuoteCoin
		}
	} else {
		if err := p.baseCustodian.Lock(cap, quantity); err != nil {
			return 0, ErrInsufficientBaseCoin
		}
	}

	var orderID uint64
	if isBid {
		orderID = p.book.AllocateBidID()
	} else {
		orderID = p.book.AllocateAskID()
	}
	p.book.Insert(book.Order{
		ID:                orderID,
		Price:             price,
		Quantity:          quantity,
		IsBid:             isBid,
		Owner:             owner,
		ExpireTimestampMs: expireTimestampMs,
	})
	p.emit(OrderPlaced{
		PoolID:                  p.id,
		OrderID:                 orderID,
		IsBid:                   isBid,
		Owner:                   owner,
		BaseAssetQuantityPlaced: quantity,
		Price:                   price,
	})
	return orderID, nil
}

// PlaceLimitOrder matches the order against the opposite side up to its
// own price and applies the time-in-force policy to the residual.
// Returns the gross base filled, the quote filled (net proceeds for an
// ask, gross spend for a bid), whether a maker order was injected, and
// its id.
func (p *Pool) PlaceLimitOrder(
	cap *custody.AccountCap,
	price, quantity uint64,
	isBid bool,
	expireTimestampMs uint64,
	restriction common.Restriction,
	nowMs uint64,
) (baseFilled, quoteFilled uint64, makerInjected bool, makerOrderID uint64, err error) {
	if !restriction.Valid() {
		return 0, 0, false, 0, ErrInvalidRestriction
	}
	if quantity == 0 || quantity%p.lotSize != 0 {
		return 0, 0, false, 0, ErrInvalidQuantity
	}
	if price == 0 || price%p.tickSize != 0 {
		return 0, 0, false, 0, ErrInvalidPrice
	}
	if expireTimestampMs <= nowMs {
		return 0, 0, false, 0, ErrInvalidExpireTimestamp
	}

	// Decide every failure before the first mutation: the preview walk
	// surfaces arithmetic errors and the fillable quantity that the TIF
	// checks and the funding check need.
	var fillable, grossQuote uint64
	if isBid {
		fillable, grossQuote, err = p.previewBid(price, nowMs, quantity)
	} else {
		fillable, grossQuote, err = p.previewAsk(price, nowMs, quantity)
	}
	if err != nil {
		return 0, 0, false, 0, err
	}
	switch restriction {
	case common.FillOrKill:
		if fillable != quantity {
			return 0, 0, false, 0, ErrOrderCannotBeFullyFilled
		}
	case common.PostOrAbort:
		if fillable != 0 {
			return 0, 0, false, 0, ErrOrderCannotBeFullyPassive
		}
	}
	// A resting bid residual must be fundable from what the fills leave.
	rests := restriction == common.NoRestriction || restriction == common.PostOrAbort
	if isBid && rests && fillable < quantity {
		collateral, err := fixed.Mul(quantity-fillable, price)
		if err != nil {
			return 0, 0, false, 0, err
		}
		if grossQuote+collateral > p.quoteCustodian.Available(cap.Owner()) {
			return 0, 0, false, 0, ErrInsufficientQuoteCoin
		}
	}

	owner := cap.Owner()
	if isBid {
		baseFilled, quoteFilled, err = p.placeLimitBid(cap, owner, price, quantity, grossQuote, nowMs)
	} else {
		baseFilled, quoteFilled, err = p.placeLimitAsk(cap, owner, price, quantity, nowMs)
	}
	if err != nil {
		return 0, 0, false, 0, err
	}

	residual := quantity - baseFilled
	switch restriction {
	case common.NoRestriction:
		if residual > 0 {
			makerOrderID, err = p.injectLimitOrder(cap, price, residual, isBid, expireTimestampMs)
			if err != nil {
				return baseFilled, quoteFilled, false, 0, err
			}
			makerInjected = true
		}
	case common.PostOrAbort:
		makerOrderID, err = p.injectLimitOrder(cap, price, quantity, isBid, expireTimestampMs)
		if err != nil {
			return baseFilled, quoteFilled, false, 0, err
		}
		makerInjected = true
	}
	return baseFilled, quoteFilled, makerInjected, makerOrderID, nil
}

// placeLimitBid funds the taker side with the owner's entire available
// quote and settles the crossing fills. quoteFilled is the change in
// the working balance.
func (p *Pool) placeLimitBid(cap *custody.AccountCap, owner uuid.UUID, price, quantity, grossQuote, nowMs uint64) (uint64, uint64, error) {
	available := p.quoteCustodian.Available(owner)
	if grossQuote > available {
		return 0, 0, ErrInsufficientQuoteCoin
	}
	working, err := p.quoteCustodian.Withdraw(cap, available)
	if err != nil {
		return 0, 0, ErrInsufficientQuoteCoin
	}

	baseFilled, baseOut, quoteLeft, err := p.matchBid(quantity, price, nowMs, working)
	if err != nil {
		return 0, 0, err
	}
	quoteFilled := available - quoteLeft.Value()
	if err := p.baseCustodian.IncreaseAvailable(owner, baseOut); err != nil {
		return 0, 0, err
	}
	if err := p.quoteCustodian.IncreaseAvailable(owner, quoteLeft); err != nil {
		return 0, 0, err
	}
	return baseFilled, quoteFilled, nil
}

// placeLimitAsk funds the taker side with exactly the order quantity of
// base and settles the crossing fills. quoteFilled is the net proceeds.
func (p *Pool) placeLimitAsk(cap *custody.AccountCap, owner uuid.UUID, price, quantity, nowMs uint64) (uint64, uint64, error) {
	working, err := p.baseCustodian.Withdraw(cap, quantity)
	if err != nil {
		return 0, 0, ErrInsufficientBaseCoin
	}

	baseLeft, quoteOut, err := p.matchAsk(price, nowMs, working)
	if err != nil {
		return 0, 0, err
	}
	baseFilled := quantity - baseLeft.Value()
	quoteFilled := quoteOut.Value()
	if err := p.baseCustodian.IncreaseAvailable(owner, baseLeft); err != nil {
		return 0, 0, err
	}
	if err := p.quoteCustodian.IncreaseAvailable(owner, quoteOut); err != nil {
		return 0, 0, err
	}
	return baseFilled, quoteFilled, nil
}

// PlaceMarketOrder fills immediately against the book with no price
// limit and never rests. The taker funds the order from the passed
// wallets; unfilled input and proceeds end up back in them. A zero
// quantity is legal and acts purely as an expiry sweep trigger.
func (p *Pool) PlaceMarketOrder(quantity uint64, isBid bool, nowMs uint64, baseWallet, quoteWallet *custody.Balance) error {
	if quantity%p.lotSize != 0 {
		return ErrInvalidQuantity
	}
	if isBid {
		_, grossQuote, err := p.previewBid(MaxPrice, nowMs, quantity)
		if err != nil {
			return err
		}
		if grossQuote > quoteWallet.Value() {
			return ErrInsufficientQuoteCoin
		}
		working, err := quoteWallet.Split(quoteWallet.Value())
		if err != nil {
			return err
		}
		_, baseOut, quoteLeft, err := p.matchBid(quantity, MaxPrice, nowMs, working)
		if err != nil {
			return err
		}
		if err := baseWallet.Join(baseOut); err != nil {
			return err
		}
		return quoteWallet.Join(quoteLeft)
	}

	if baseWallet.Value() < quantity {
		return ErrInvalidBaseCoin
	}
	if _, _, err := p.previewAsk(MinPrice, nowMs, quantity); err != nil {
		return err
	}
	working, err := baseWallet.Split(quantity)
	if err != nil {
		return err
	}
	baseLeft, quoteOut, err := p.matchAsk(MinPrice, nowMs, working)
	if err != nil {
		return err
	}
	if err := baseWallet.Join(baseLeft); err != nil {
		return err
	}
	return quoteWallet.Join(quoteOut)
}

// SwapExactBaseForQuote sells up to qty of base from the wallet at
// whatever the book bears, returning the quote proceeds. Base the book
// cannot absorb stays in the wallet.
func (p *Pool) SwapExactBaseForQuote(qty, nowMs uint64, baseWallet *custody.Balance) (custody.Balance, error) {
	quoteOut := custody.Zero(p.quoteAsset)
	if err := p.PlaceMarketOrder(qty, false, nowMs, baseWallet, &quoteOut); err != nil {
		return custody.Balance{}, err
	}
	return quoteOut, nil
}

// SwapExactQuoteForBase spends up to quoteQty from the wallet buying
// base at whatever the book bears, returning the base acquired.
func (p *Pool) SwapExactQuoteForBase(quoteQty, nowMs uint64, quoteWallet *custody.Balance) (custody.Balance, error) {
	if quoteQty == 0 {
		return custody.Zero(p.baseAsset), nil
	}
	working, err := quoteWallet.Split(quoteQty)
	if err != nil {
		return custody.Balance{}, ErrInsufficientQuoteCoin
	}
	baseOut, quoteLeft, err := p.matchBidWithQuoteQuantity(MaxPrice, nowMs, working)
	if err != nil {
		return custody.Balance{}, err
	}
	if err := quoteWallet.Join(quoteLeft); err != nil {
		return custody.Balance{}, err
	}
	return baseOut, nil
}

// validateCancel confirms the id belongs to the owner, the level
// exists, and the collateral arithmetic will succeed, without mutating.
func (p *Pool) validateCancel(owner uuid.UUID, oo *book.OpenOrders, orderID uint64) (*book.PriceLevel, error) {
	price, ok := oo.Price(orderID)
	if !ok {
		return nil, ErrInvalidOrderID
	}
	lvl, ok := p.book.Side(orderID).FindLevel(price)
	if !ok {
		return nil, ErrInvalidTickPrice
	}
	o, ok := lvl.Borrow(orderID)
	if !ok {
		return nil, ErrInvalidOrderID
	}
	if o.Owner != owner {
		return nil, ErrUnauthorizedCancel
	}
	if o.IsBid {
		if _, err := fixed.Mul(o.Quantity, o.Price); err != nil {
			return nil, err
		}
	}
	return lvl, nil
}

// removeAndUnlock performs a validated cancel: unlocks the collateral,
// removes the order from its level and the open order index, and
// destroys the emptied level.
func (p *Pool) removeAndUnlock(oo *book.OpenOrders, lvl *book.PriceLevel, orderID uint64) (OrderCanceled, error) {
	o, _ := lvl.Borrow(orderID)
	if o.IsBid {
		collateral, err := fixed.Mul(o.Quantity, o.Price)
		if err != nil {
			return OrderCanceled{}, err
		}
		if err := p.quoteCustodian.Unlock(o.Owner, collateral); err != nil {
			return OrderCanceled{}, err
		}
	} else {
		if err := p.baseCustodian.Unlock(o.Owner, o.Quantity); err != nil {
			return OrderCanceled{}, err
		}
	}
	removed, _ := lvl.Remove(orderID)
	oo.Remove(orderID)
	if lvl.IsEmpty() {
		p.book.Side(orderID).RemoveLevel(lvl.Price())
	}
	return OrderCanceled{
		PoolID:                    p.id,
		OrderID:                   removed.ID,
		IsBid:                     removed.IsBid,
		Owner:                     removed.Owner,
		BaseAssetQuantityCanceled: removed.Quantity,
		Price:                     removed.Price,
	}, nil
}

// CancelOrder removes a single resting order owned by the cap holder
// and releases its collateral.
func (p *Pool) CancelOrder(cap *custody.AccountCap, orderID uint64) error {
	owner := cap.Owner()
	oo, ok := p.book.LookupOpenOrders(owner)
	if !ok {
		return ErrInvalidUser
	}
	lvl, err := p.validateCancel(owner, oo, orderID)
	if err != nil {
		return err
	}
	canceled, err := p.removeAndUnlock(oo, lvl, orderID)
	if err != nil {
		return err
	}
	p.emit(canceled)
	return nil
}

// CancelAllOrders cancels every resting order of the cap holder, newest
// first, and emits one aggregated event.
func (p *Pool) CancelAllOrders(cap *custody.AccountCap) error {
	owner := cap.Owner()
	oo, ok := p.book.LookupOpenOrders(owner)
	if !ok {
		return ErrInvalidUser
	}
	ids := oo.IDsNewestFirst()
	for _, id := range ids {
		if _, err := p.validateCancel(owner, oo, id); err != nil {
			return err
		}
	}

	canceled := make([]OrderCanceled, 0, len(ids))
	for _, id := range ids {
		price, _ := oo.Price(id)
		lvl, _ := p.book.Side(id).FindLevel(price)
		c, err := p.removeAndUnlock(oo, lvl, id)
		if err != nil {
			return err
		}
		canceled = append(canceled, c)
	}
	p.emit(AllOrdersCanceled{PoolID: p.id, Owner: owner, Canceled: canceled})
	return nil
}

// BatchCancelOrders cancels the given orders, which must all belong to
// the cap holder. The level handle is cached between iterations, so
// callers grouping ids by price pay one lookup per level.
func (p *Pool) BatchCancelOrders(cap *custody.AccountCap, orderIDs []uint64) error {
	owner := cap.Owner()
	oo, ok := p.book.LookupOpenOrders(owner)
	if !ok {
		return ErrInvalidUser
	}
	seen := make(map[uint64]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		if _, dup := seen[id]; dup {
			return ErrInvalidOrderID
		}
		seen[id] = struct{}{}
		if _, err := p.validateCancel(owner, oo, id); err != nil {
			return err
		}
	}

	canceled := make([]OrderCanceled, 0, len(orderIDs))
	// No valid level rests at price 0, so the first id always forces a
	// fresh lookup.
	var (
		tickPrice uint64
		tickIsAsk bool
		lvl       *book.PriceLevel
	)
	for _, id := range orderIDs {
		price, _ := oo.Price(id)
		isAsk := book.IsAskOrderID(id)
		if lvl == nil || price != tickPrice || isAsk != tickIsAsk {
			found, ok := p.book.Side(id).FindLevel(price)
			if !ok {
				return ErrInvalidTickPrice
			}
			lvl, tickPrice, tickIsAsk = found, price, isAsk
		}
		c, err := p.removeAndUnlock(oo, lvl, id)
		if err != nil {
			return err
		}
		if lvl.IsEmpty() {
			lvl = nil
		}
		canceled = append(canceled, c)
	}
	p.emit(AllOrdersCanceled{PoolID: p.id, Owner: owner, Canceled: canceled})
	return nil
}
