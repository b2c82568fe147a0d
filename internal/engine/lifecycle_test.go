package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"njord/internal/common"
	"njord/internal/custody"
	"njord/internal/fixed"
)

func TestCreatePoolValidation(t *testing.T) {
	fee := func() custody.Balance { return custody.NewBalance(testFee, PoolCreationFee) }

	_, err := CreatePool(testBase, testBase, 0, 0, 1, 1, fee(), nil)
	assert.ErrorIs(t, err, ErrInvalidPair)

	_, err = CreatePool(testBase, testQuote, 1, 2, 1, 1, fee(), nil)
	assert.ErrorIs(t, err, ErrInvalidFeeRateRebateRate)

	_, err = CreatePool(testBase, testQuote, 0, 0, 1, 1, custody.NewBalance(testFee, 1), nil)
	assert.ErrorIs(t, err, ErrInvalidFee)

	_, err = CreatePool(testBase, testQuote, 0, 0, 0, 1, fee(), nil)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = CreatePool(testBase, testQuote, 0, 0, 1, 0, fee(), nil)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	pool, err := CreatePool(testBase, testQuote, ReferenceTakerFeeRate, ReferenceMakerRebateRate, 1, 1, fee(), nil)
	require.NoError(t, err)
	assert.Equal(t, PoolCreationFee, pool.creationFee.Value())
}

func TestDepositWithdrawSurface(t *testing.T) {
	pool, _ := createTestPool(t, 0, 0, 1, 1)
	cap := pool.CreateAccount()
	fundAccount(t, pool, cap, 100, 200)

	b, err := pool.WithdrawBase(cap, 40)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), b.Value())
	_, err = pool.WithdrawBase(cap, 61)
	assert.ErrorIs(t, err, ErrInsufficientBaseCoin)
	_, err = pool.WithdrawQuote(cap, 201)
	assert.ErrorIs(t, err, ErrInsufficientQuoteCoin)
}

func TestPlaceLimitOrderValidation(t *testing.T) {
	pool, _ := createTestPool(t, 0, 0, 10, 5)
	cap := pool.CreateAccount()
	fundAccount(t, pool, cap, 100, 1_000_000_000_000)

	_, _, _, _, err := pool.PlaceLimitOrder(cap, 10, 0, true, never, common.NoRestriction, 1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	// Lot and tick multiples.
	_, _, _, _, err = pool.PlaceLimitOrder(cap, 10, 7, true, never, common.NoRestriction, 1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, _, _, _, err = pool.PlaceLimitOrder(cap, 15, 5, true, never, common.NoRestriction, 1)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, _, _, _, err = pool.PlaceLimitOrder(cap, 10, 5, true, 1, common.NoRestriction, 1)
	assert.ErrorIs(t, err, ErrInvalidExpireTimestamp)

	_, _, _, _, err = pool.PlaceLimitOrder(cap, 10, 5, true, never, common.Restriction(9), 1)
	assert.ErrorIs(t, err, ErrInvalidRestriction)
}

func TestPlaceLimitBidLocksCollateral(t *testing.T) {
	pool, rec := createTestPool(t, 0, 0, 1, 1)
	cap := pool.CreateAccount()
	fundAccount(t, pool, cap, 0, 1000)

	_, _, injected, orderID, err := pool.PlaceLimitOrder(cap, 2*fixed.Scale, 300, true, never, common.NoRestriction, 1)
	require.NoError(t, err)
	require.True(t, injected)

	// Collateral is quantity * price = 600 quote.
	_, _, quoteAvail, quoteLocked := pool.AccountBalance(cap)
	assert.Equal(t, uint64(400), quoteAvail)
	assert.Equal(t, uint64(600), quoteLocked)

	var placed []OrderPlaced
	for _, e := range rec.events {
		if p, ok := e.(OrderPlaced); ok {
			placed = append(placed, p)
		}
	}
	require.Len(t, placed, 1)
	assert.Equal(t, orderID, placed[0].OrderID)
	assert.Equal(t, uint64(300), placed[0].BaseAssetQuantityPlaced)
}

func TestRoundTripPlaceThenCancel(t *testing.T) {
	pool, rec := createTestPool(t, ReferenceTakerFeeRate, ReferenceMakerRebateRate, 1, 1)
	cap := pool.CreateAccount()
	fundAccount(t, pool, cap, 500, 1000)

	feeBaseBefore, feeQuoteBefore := pool.TradingFees()

	_, _, _, bidID, err := pool.PlaceLimitOrder(cap, 7*fixed.Scale, 100, true, never, common.NoRestriction, 1)
	require.NoError(t, err)
	_, _, _, askID, err := pool.PlaceLimitOrder(cap, 9*fixed.Scale, 50, false, never, common.NoRestriction, 1)
	require.NoError(t, err)

	require.NoError(t, pool.CancelOrder(cap, bidID))
	require.NoError(t, pool.CancelOrder(cap, askID))

	baseAvail, baseLocked, quoteAvail, quoteLocked := pool.AccountBalance(cap)
	assert.Equal(t, uint64(500), baseAvail)
	assert.Equal(t, uint64(0), baseLocked)
	assert.Equal(t, uint64(1000), quoteAvail)
	assert.Equal(t, uint64(0), quoteLocked)

	feeBase, feeQuote := pool.TradingFees()
	assert.Equal(t, feeBaseBefore, feeBase)
	assert.Equal(t, feeQuoteBefore, feeQuote)
	assert.Len(t, rec.canceled(), 2)

	assert.True(t, pool.book.Bids.IsEmpty())
	assert.True(t, pool.book.Asks.IsEmpty())
}

func TestRoundTripPostOrAbortThenCancel(t *testing.T) {
	pool, _ := createTestPool(t, 0, 0, 1, 1)
	cap := pool.CreateAccount()
	fundAccount(t, pool, cap, 0, 1000)

	_, _, injected, orderID, err := pool.PlaceLimitOrder(cap, 5*fixed.Scale, 100, true, never, common.PostOrAbort, 1)
	require.NoError(t, err)
	require.True(t, injected)
	require.NoError(t, pool.CancelOrder(cap, orderID))

	_, _, quoteAvail, quoteLocked := pool.AccountBalance(cap)
	assert.Equal(t, uint64(1000), quoteAvail)
	assert.Equal(t, uint64(0), quoteLocked)
}

func TestIOCAgainstEmptyBookIsNoop(t *testing.T) {
	pool, rec := createTestPool(t, 0, 0, 1, 1)
	cap := pool.CreateAccount()
	fundAccount(t, pool, cap, 100, 100)

	baseFilled, quoteFilled, injected, _, err := pool.PlaceLimitOrder(cap, 5*fixed.Scale, 10, true, never, common.ImmediateOrCancel, 1)
	require.NoError(t, err)
	assert.Zero(t, baseFilled)
	assert.Zero(t, quoteFilled)
	assert.False(t, injected)
	assert.Empty(t, rec.filled())

	baseAvail, _, quoteAvail, _ := pool.AccountBalance(cap)
	assert.Equal(t, uint64(100), baseAvail)
	assert.Equal(t, uint64(100), quoteAvail)
}

func TestPriceLimitBeyondBookIsNoop(t *testing.T) {
	pool, rec := createTestPool(t, 0, 0, 1, 1)
	alice := pool.CreateAccount()
	fundAccount(t, pool, alice, 0, 1000)
	placeTestOrder(t, pool, alice, 5*fixed.Scale, 100, true, 1)

	bob := pool.CreateAccount()
	fundAccount(t, pool, bob, 100, 0)

	// An ask limited to 6 cannot reach the bid at 5.
	baseFilled, _, injected, _, err := pool.PlaceLimitOrder(bob, 6*fixed.Scale, 100, false, never, common.ImmediateOrCancel, 1)
	require.NoError(t, err)
	assert.Zero(t, baseFilled)
	assert.False(t, injected)
	assert.Empty(t, rec.filled())
}

func TestMarketAskRequiresBaseUpfront(t *testing.T) {
	pool, _ := createTestPool(t, 0, 0, 1, 1)
	baseWallet := custody.NewBalance(testBase, 5)
	quoteWallet := custody.Zero(testQuote)
	err := pool.PlaceMarketOrder(10, false, 1, &baseWallet, &quoteWallet)
	assert.ErrorIs(t, err, ErrInvalidBaseCoin)
	assert.Equal(t, uint64(5), baseWallet.Value())
}

func TestCancelErrors(t *testing.T) {
	pool, _ := createTestPool(t, 0, 0, 1, 1)
	alice := pool.CreateAccount()
	fundAccount(t, pool, alice, 0, 1000)
	orderID := placeTestOrder(t, pool, alice, 5*fixed.Scale, 100, true, 1)

	stranger := pool.CreateAccount()
	assert.ErrorIs(t, pool.CancelOrder(stranger, orderID), ErrInvalidUser)

	// A user with an index but not this order id.
	fundAccount(t, pool, stranger, 0, 100)
	placeTestOrder(t, pool, stranger, 4*fixed.Scale, 10, true, 1)
	assert.ErrorIs(t, pool.CancelOrder(stranger, orderID), ErrInvalidOrderID)

	require.NoError(t, pool.CancelOrder(alice, orderID))
	assert.ErrorIs(t, pool.CancelOrder(alice, orderID), ErrInvalidOrderID)
}

func TestCancelAllOrders(t *testing.T) {
	pool, rec := createTestPool(t, 0, 0, 1, 1)
	cap := pool.CreateAccount()
	fundAccount(t, pool, cap, 300, 1000)

	first := placeTestOrder(t, pool, cap, 5*fixed.Scale, 100, true, 1)
	second := placeTestOrder(t, pool, cap, 6*fixed.Scale, 100, false, 1)
	third := placeTestOrder(t, pool, cap, 7*fixed.Scale, 200, false, 1)

	require.NoError(t, pool.CancelAllOrders(cap))

	baseAvail, baseLocked, quoteAvail, quoteLocked := pool.AccountBalance(cap)
	assert.Equal(t, uint64(300), baseAvail)
	assert.Equal(t, uint64(0), baseLocked)
	assert.Equal(t, uint64(1000), quoteAvail)
	assert.Equal(t, uint64(0), quoteLocked)

	var agg *AllOrdersCanceled
	for _, e := range rec.events {
		if a, ok := e.(AllOrdersCanceled); ok {
			agg = &a
		}
	}
	require.NotNil(t, agg)
	require.Len(t, agg.Canceled, 3)
	// Newest first.
	assert.Equal(t, third, agg.Canceled[0].OrderID)
	assert.Equal(t, second, agg.Canceled[1].OrderID)
	assert.Equal(t, first, agg.Canceled[2].OrderID)

	assert.Empty(t, pool.ListOpenOrders(cap))
}

func TestBatchCancelGroupedByPrice(t *testing.T) {
	pool, rec := createTestPool(t, 0, 0, 1, 1)
	cap := pool.CreateAccount()
	fundAccount(t, pool, cap, 0, 10_000)

	a := placeTestOrder(t, pool, cap, 5*fixed.Scale, 100, true, 1)
	b := placeTestOrder(t, pool, cap, 5*fixed.Scale, 200, true, 1)
	c := placeTestOrder(t, pool, cap, 6*fixed.Scale, 300, true, 1)
	d := placeTestOrder(t, pool, cap, 5*fixed.Scale, 400, true, 1)

	// Grouping by price exercises the cached-level path.
	require.NoError(t, pool.BatchCancelOrders(cap, []uint64{a, b, d, c}))

	_, _, quoteAvail, quoteLocked := pool.AccountBalance(cap)
	assert.Equal(t, uint64(10_000), quoteAvail)
	assert.Equal(t, uint64(0), quoteLocked)
	assert.True(t, pool.book.Bids.IsEmpty())

	var agg *AllOrdersCanceled
	for _, e := range rec.events {
		if ev, ok := e.(AllOrdersCanceled); ok {
			agg = &ev
		}
	}
	require.NotNil(t, agg)
	assert.Len(t, agg.Canceled, 4)
}

func TestBatchCancelRejectsForeignAndUnknownIDs(t *testing.T) {
	pool, _ := createTestPool(t, 0, 0, 1, 1)
	alice := pool.CreateAccount()
	bob := pool.CreateAccount()
	fundAccount(t, pool, alice, 0, 1000)
	fundAccount(t, pool, bob, 0, 1000)

	aliceOrder := placeTestOrder(t, pool, alice, 5*fixed.Scale, 100, true, 1)
	bobOrder := placeTestOrder(t, pool, bob, 5*fixed.Scale, 100, true, 1)

	err := pool.BatchCancelOrders(alice, []uint64{aliceOrder, bobOrder})
	assert.ErrorIs(t, err, ErrInvalidOrderID)

	// Pre-validation failed, so nothing was canceled.
	assert.Len(t, pool.ListOpenOrders(alice), 1)
	assert.Len(t, pool.ListOpenOrders(bob), 1)

	err = pool.BatchCancelOrders(alice, []uint64{aliceOrder, aliceOrder})
	assert.ErrorIs(t, err, ErrInvalidOrderID)
	assert.Len(t, pool.ListOpenOrders(alice), 1)
}

func TestOrderIDsNeverReused(t *testing.T) {
	pool, _ := createTestPool(t, 0, 0, 1, 1)
	cap := pool.CreateAccount()
	fundAccount(t, pool, cap, 1000, 1000)

	first := placeTestOrder(t, pool, cap, 5*fixed.Scale, 100, true, 1)
	require.NoError(t, pool.CancelOrder(cap, first))
	second := placeTestOrder(t, pool, cap, 5*fixed.Scale, 100, true, 1)
	assert.Greater(t, second, first)

	firstAsk := placeTestOrder(t, pool, cap, 9*fixed.Scale, 100, false, 1)
	require.NoError(t, pool.CancelOrder(cap, firstAsk))
	secondAsk := placeTestOrder(t, pool, cap, 9*fixed.Scale, 100, false, 1)
	assert.Greater(t, secondAsk, firstAsk)
}

func TestPriceTimePriority(t *testing.T) {
	pool, rec := createTestPool(t, 0, 0, 1, 1)
	alice := pool.CreateAccount()
	bob := pool.CreateAccount()
	fundAccount(t, pool, alice, 0, 10_000)
	fundAccount(t, pool, bob, 0, 10_000)

	// Two levels, interleaved owners at the top level.
	aliceTop := placeTestOrder(t, pool, alice, 10*fixed.Scale, 100, true, 1)
	bobTop := placeTestOrder(t, pool, bob, 10*fixed.Scale, 100, true, 1)
	aliceLow := placeTestOrder(t, pool, alice, 9*fixed.Scale, 100, true, 1)

	carol := pool.CreateAccount()
	fundAccount(t, pool, carol, 300, 0)
	_, _, _, _, err := pool.PlaceLimitOrder(carol, 9*fixed.Scale, 300, false, never, common.ImmediateOrCancel, 2)
	require.NoError(t, err)

	fills := rec.filled()
	require.Len(t, fills, 3)
	// Prices never increase; within a level, ids strictly increase.
	assert.Equal(t, aliceTop, fills[0].OrderID)
	assert.Equal(t, bobTop, fills[1].OrderID)
	assert.Equal(t, aliceLow, fills[2].OrderID)
	assert.Equal(t, uint64(10*fixed.Scale), fills[0].Price)
	assert.Equal(t, uint64(10*fixed.Scale), fills[1].Price)
	assert.Equal(t, uint64(9*fixed.Scale), fills[2].Price)
}

func TestConservationAcrossMixedFlow(t *testing.T) {
	pool, _ := createTestPool(t, ReferenceTakerFeeRate, ReferenceMakerRebateRate, 1, 1)
	alice := pool.CreateAccount()
	bob := pool.CreateAccount()
	fundAccount(t, pool, alice, 10_000, 50_000)
	fundAccount(t, pool, bob, 10_000, 50_000)

	baseBefore, quoteBefore := totalValue(pool)

	placeTestOrder(t, pool, alice, 5*fixed.Scale, 1000, true, 1)
	placeTestOrder(t, pool, alice, 6*fixed.Scale, 500, false, 1)
	_, _, _, _, err := pool.PlaceLimitOrder(bob, 5*fixed.Scale, 1500, false, never, common.NoRestriction, 2)
	require.NoError(t, err)
	_, _, _, _, err = pool.PlaceLimitOrder(bob, 6*fixed.Scale, 200, true, never, common.ImmediateOrCancel, 2)
	require.NoError(t, err)
	require.NoError(t, pool.CancelAllOrders(alice))
	require.NoError(t, pool.CancelAllOrders(bob))

	baseAfter, quoteAfter := totalValue(pool)
	assert.Equal(t, baseBefore, baseAfter)
	assert.Equal(t, quoteBefore, quoteAfter)
}
