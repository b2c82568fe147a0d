package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"njord/internal/common"
	"njord/internal/custody"
	"njord/internal/fixed"
)

// --- Setup & Helpers --------------------------------------------------------

const (
	testBase  custody.Asset = "NJD"
	testQuote custody.Asset = "USDT"
	testFee   custody.Asset = "SUI"

	never uint64 = 1 << 62
)

// recorder captures emitted events for assertions.
type recorder struct {
	events []Event
}

func (r *recorder) Emit(e Event) { r.events = append(r.events, e) }

func (r *recorder) filled() []OrderFilled {
	var fills []OrderFilled
	for _, e := range r.events {
		if f, ok := e.(OrderFilled); ok {
			fills = append(fills, f)
		}
	}
	return fills
}

func (r *recorder) canceled() []OrderCanceled {
	var cancels []OrderCanceled
	for _, e := range r.events {
		if c, ok := e.(OrderCanceled); ok {
			cancels = append(cancels, c)
		}
	}
	return cancels
}

func createTestPool(t *testing.T, takerFeeRate, makerRebateRate, tickSize, lotSize uint64) (*Pool, *recorder) {
	t.Helper()
	rec := &recorder{}
	pool, err := CreatePool(
		testBase, testQuote,
		takerFeeRate, makerRebateRate,
		tickSize, lotSize,
		custody.NewBalance(testFee, PoolCreationFee),
		rec,
	)
	require.NoError(t, err)
	return pool, rec
}

func fundAccount(t *testing.T, pool *Pool, cap *custody.AccountCap, baseQty, quoteQty uint64) {
	t.Helper()
	if baseQty > 0 {
		require.NoError(t, pool.DepositBase(cap, custody.NewBalance(testBase, baseQty)))
	}
	if quoteQty > 0 {
		require.NoError(t, pool.DepositQuote(cap, custody.NewBalance(testQuote, quoteQty)))
	}
}

// placeTestOrder rests a maker order, requiring it not to cross.
func placeTestOrder(t *testing.T, pool *Pool, cap *custody.AccountCap, price, qty uint64, isBid bool, nowMs uint64) uint64 {
	t.Helper()
	_, _, injected, orderID, err := pool.PlaceLimitOrder(cap, price, qty, isBid, never, common.PostOrAbort, nowMs)
	require.NoError(t, err)
	require.True(t, injected)
	return orderID
}

// totalValue sums user holdings and protocol fees for conservation
// checks.
func totalValue(pool *Pool) (base, quote uint64) {
	feeBase, feeQuote := pool.TradingFees()
	return pool.baseCustodian.TotalBalance() + feeBase,
		pool.quoteCustodian.TotalBalance() + feeQuote
}

// --- End-to-end scenarios ---------------------------------------------------

// scenarioBook builds the S1 book: Alice bids at 5 and twice at 4, and
// rests an ask far above.
func scenarioBook(t *testing.T, pool *Pool) *custody.AccountCap {
	t.Helper()
	alice := pool.CreateAccount()
	fundAccount(t, pool, alice, 1000_0000_0000, 2600_0000_0000)

	placeTestOrder(t, pool, alice, 5*fixed.Scale, 200_0000_0000, true, 1)
	placeTestOrder(t, pool, alice, 4*fixed.Scale, 200_0000_0000, true, 1)
	placeTestOrder(t, pool, alice, 4*fixed.Scale, 200_0000_0000, true, 1)
	placeTestOrder(t, pool, alice, 10*fixed.Scale, 1000_0000_0000, false, 1)
	return alice
}

func TestScenarioIOCPartialFill(t *testing.T) {
	pool, _ := createTestPool(t, 0, 0, fixed.Scale, 1)
	scenarioBook(t, pool)

	bob := pool.CreateAccount()
	fundAccount(t, pool, bob, 900_0000_0000, 0)

	baseFilled, quoteFilled, injected, _, err := pool.PlaceLimitOrder(
		bob, 4*fixed.Scale, 800_0000_0000, false, never, common.ImmediateOrCancel, 2)
	require.NoError(t, err)

	assert.Equal(t, uint64(600_0000_0000), baseFilled)
	assert.Equal(t, uint64(2600_0000_0000), quoteFilled)
	assert.False(t, injected)

	baseAvail, _, quoteAvail, _ := pool.AccountBalance(bob)
	assert.Equal(t, uint64(300_0000_0000), baseAvail)
	assert.Equal(t, uint64(2600_0000_0000), quoteAvail)

	// Both bid levels are swept away.
	_, ok := pool.book.Bids.FindLevel(4 * fixed.Scale)
	assert.False(t, ok)
	_, ok = pool.book.Bids.FindLevel(5 * fixed.Scale)
	assert.False(t, ok)
}

func TestScenarioFOKReject(t *testing.T) {
	pool, _ := createTestPool(t, 0, 0, fixed.Scale, 1)
	alice := scenarioBook(t, pool)

	bob := pool.CreateAccount()
	fundAccount(t, pool, bob, 900_0000_0000, 0)

	baseBefore, quoteBefore := totalValue(pool)
	aliceAvailBefore, aliceLockedBefore := pool.quoteCustodian.AccountBalance(alice.Owner())

	_, _, _, _, err := pool.PlaceLimitOrder(
		bob, 4*fixed.Scale, 601_0000_0000, false, never, common.FillOrKill, 2)
	assert.ErrorIs(t, err, ErrOrderCannotBeFullyFilled)

	// Nothing moved.
	baseAfter, quoteAfter := totalValue(pool)
	assert.Equal(t, baseBefore, baseAfter)
	assert.Equal(t, quoteBefore, quoteAfter)
	aliceAvail, aliceLocked := pool.quoteCustodian.AccountBalance(alice.Owner())
	assert.Equal(t, aliceAvailBefore, aliceAvail)
	assert.Equal(t, aliceLockedBefore, aliceLocked)
	baseAvail, _, _, _ := pool.AccountBalance(bob)
	assert.Equal(t, uint64(900_0000_0000), baseAvail)
}

func TestScenarioPostOnlyRejectOnCross(t *testing.T) {
	pool, _ := createTestPool(t, 0, 0, fixed.Scale, 1)
	scenarioBook(t, pool)

	bob := pool.CreateAccount()
	fundAccount(t, pool, bob, 900_0000_0000, 0)

	_, _, _, _, err := pool.PlaceLimitOrder(
		bob, 4*fixed.Scale, 601_0000_0000, false, never, common.PostOrAbort, 2)
	assert.ErrorIs(t, err, ErrOrderCannotBeFullyPassive)

	baseAvail, baseLocked, _, _ := pool.AccountBalance(bob)
	assert.Equal(t, uint64(900_0000_0000), baseAvail)
	assert.Equal(t, uint64(0), baseLocked)
}

func TestScenarioExpirySweepOnMarketBid(t *testing.T) {
	pool, rec := createTestPool(t, 0, 0, 1, 1)
	alice := pool.CreateAccount()
	fundAccount(t, pool, alice, 100, 0)

	// First ask expires at t=10, the rest live on.
	_, _, _, expiring, err := pool.PlaceLimitOrder(alice, 9, 1, false, 10, common.PostOrAbort, 1)
	require.NoError(t, err)
	liveNine := placeTestOrder(t, pool, alice, 9, 2, false, 1)
	liveEleven := placeTestOrder(t, pool, alice, 11, 3, false, 1)

	// Clock passes the first ask's expiry; a zero-size market bid
	// triggers the sweep without filling anything.
	baseWallet := custody.Zero(testBase)
	quoteWallet := custody.Zero(testQuote)
	require.NoError(t, pool.PlaceMarketOrder(0, true, 50, &baseWallet, &quoteWallet))

	assert.Empty(t, rec.filled())
	cancels := rec.canceled()
	require.Len(t, cancels, 1)
	assert.Equal(t, expiring, cancels[0].OrderID)

	lvl, ok := pool.book.Asks.FindLevel(9)
	require.True(t, ok)
	assert.Equal(t, 1, lvl.Len())
	o, ok := lvl.Borrow(liveNine)
	require.True(t, ok)
	assert.Equal(t, uint64(2), o.Quantity)
	lvl, ok = pool.book.Asks.FindLevel(11)
	require.True(t, ok)
	_, ok = lvl.Borrow(liveEleven)
	assert.True(t, ok)

	// The expired maker's collateral is back in available.
	baseAvail, baseLocked, _, _ := pool.AccountBalance(alice)
	assert.Equal(t, uint64(95), baseAvail)
	assert.Equal(t, uint64(5), baseLocked)
}

func TestScenarioFeeAndRebateAccounting(t *testing.T) {
	pool, _ := createTestPool(t, ReferenceTakerFeeRate, ReferenceMakerRebateRate, fixed.Scale, 1)
	alice := pool.CreateAccount()
	fundAccount(t, pool, alice, 0, 7000)

	placeTestOrder(t, pool, alice, 5*fixed.Scale, 500, true, 1)
	placeTestOrder(t, pool, alice, 5*fixed.Scale, 500, true, 1)
	placeTestOrder(t, pool, alice, 2*fixed.Scale, 1000, true, 1)

	aliceLockedBefore := pool.quoteCustodian.Locked(alice.Owner())
	aliceAvailBefore := pool.quoteCustodian.Available(alice.Owner())

	baseWallet := custody.NewBalance(testBase, 1500)
	quoteWallet := custody.Zero(testQuote)
	require.NoError(t, pool.PlaceMarketOrder(1500, false, 2, &baseWallet, &quoteWallet))

	// Commissions round up (13, 13, 5), rebates floor (6, 6, 2).
	assert.Equal(t, uint64(0), baseWallet.Value())
	assert.Equal(t, uint64(5969), quoteWallet.Value())

	aliceLocked := pool.quoteCustodian.Locked(alice.Owner())
	assert.Equal(t, uint64(6000), aliceLockedBefore-aliceLocked)
	aliceAvail := pool.quoteCustodian.Available(alice.Owner())
	assert.Equal(t, uint64(14), aliceAvail-aliceAvailBefore)
	assert.Equal(t, uint64(1500), pool.baseCustodian.Available(alice.Owner()))

	_, quoteFees := pool.TradingFees()
	assert.Equal(t, uint64(17), quoteFees)
}

func TestScenarioPriceLimitStopsDescent(t *testing.T) {
	pool, _ := createTestPool(t, ReferenceTakerFeeRate, ReferenceMakerRebateRate, fixed.Scale, 1)
	alice := pool.CreateAccount()
	fundAccount(t, pool, alice, 0, 7000)

	placeTestOrder(t, pool, alice, 5*fixed.Scale, 500, true, 1)
	placeTestOrder(t, pool, alice, 5*fixed.Scale, 500, true, 1)
	lowBid := placeTestOrder(t, pool, alice, 2*fixed.Scale, 1000, true, 1)

	bob := pool.CreateAccount()
	fundAccount(t, pool, bob, 1500, 0)

	baseFilled, _, _, _, err := pool.PlaceLimitOrder(
		bob, 5*fixed.Scale, 1500, false, never, common.ImmediateOrCancel, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), baseFilled)

	// The 2*Scale bid is untouched.
	lvl, ok := pool.book.Bids.FindLevel(2 * fixed.Scale)
	require.True(t, ok)
	o, ok := lvl.Borrow(lowBid)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), o.Quantity)
}
