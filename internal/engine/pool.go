// Package engine implements the matching core for one trading pair: the
// pool object tying the order book to the base and quote custodians,
// the three matching primitives, the order lifecycle (time-in-force
// variants and the cancel flows) and the query surface.
package engine

import (
	"math"
	"time"

	"github.com/google/uuid"

	"njord/internal/book"
	"njord/internal/custody"
	"njord/internal/fixed"
)

const (
	// MaxPrice and MinPrice are the open price limits used by market
	// orders and swaps.
	MaxPrice uint64 = math.MaxUint64
	MinPrice uint64 = 0

	// TimestampInf never expires.
	TimestampInf uint64 = math.MaxUint64

	// PoolCreationFee is the exact fee retained at pool creation, in
	// the fee asset's smallest unit.
	PoolCreationFee uint64 = 100 * fixed.Scale

	// Reference fee rates, scaled by fixed.Scale: 0.5% taker fee and
	// 0.25% maker rebate.
	ReferenceTakerFeeRate    uint64 = 5_000_000
	ReferenceMakerRebateRate uint64 = 2_500_000
)

// Clock provides the monotonic millisecond timestamps the engine
// compares order expiries against. The core never reads the wall clock
// itself; drivers pass nowMs into each call.
type Clock interface {
	NowMs() uint64
}

// SystemClock reads the operating system clock.
type SystemClock struct{}

func (SystemClock) NowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Pool is the canonical state for one trading pair. Every mutating call
// holds it exclusively for the duration of the call; the engine is
// single-threaded by contract and drivers serialize access.
type Pool struct {
	id uuid.UUID

	baseAsset  custody.Asset
	quoteAsset custody.Asset

	takerFeeRate    uint64
	makerRebateRate uint64
	tickSize        uint64
	lotSize         uint64

	book *book.OrderBook

	baseCustodian  *custody.Custodian
	quoteCustodian *custody.Custodian

	// creationFee is retained forever; trading fee balances accrue the
	// protocol's share of taker commissions net of maker rebates.
	creationFee           custody.Balance
	baseAssetTradingFees  custody.Balance
	quoteAssetTradingFees custody.Balance

	events Collector
}

// CreatePool validates the pair parameters, retains the creation fee
// and emits PoolCreated. The creation fee must be exactly
// PoolCreationFee of the fee asset.
func CreatePool(
	baseAsset, quoteAsset custody.Asset,
	takerFeeRate, makerRebateRate uint64,
	tickSize, lotSize uint64,
	creationFee custody.Balance,
	events Collector,
) (*Pool, error) {
	if baseAsset == quoteAsset {
		return nil, ErrInvalidPair
	}
	if takerFeeRate < makerRebateRate {
		return nil, ErrInvalidFeeRateRebateRate
	}
	if creationFee.Value() != PoolCreationFee {
		return nil, ErrInvalidFee
	}
	if tickSize == 0 {
		return nil, ErrInvalidPrice
	}
	if lotSize == 0 {
		return nil, ErrInvalidQuantity
	}
	if events == nil {
		events = NopCollector{}
	}

	p := &Pool{
		id:                    uuid.New(),
		baseAsset:             baseAsset,
		quoteAsset:            quoteAsset,
		takerFeeRate:          takerFeeRate,
		makerRebateRate:       makerRebateRate,
		tickSize:              tickSize,
		lotSize:               lotSize,
		book:                  book.NewOrderBook(),
		baseCustodian:         custody.NewCustodian(baseAsset),
		quoteCustodian:        custody.NewCustodian(quoteAsset),
		creationFee:           creationFee,
		baseAssetTradingFees:  custody.Zero(baseAsset),
		quoteAssetTradingFees: custody.Zero(quoteAsset),
		events:                events,
	}
	p.emit(PoolCreated{
		PoolID:          p.id,
		BaseAsset:       baseAsset,
		QuoteAsset:      quoteAsset,
		TakerFeeRate:    takerFeeRate,
		MakerRebateRate: makerRebateRate,
		TickSize:        tickSize,
		LotSize:         lotSize,
	})
	return p, nil
}

func (p *Pool) emit(e Event) {
	p.events.Emit(e)
}

func (p *Pool) ID() uuid.UUID { return p.id }

func (p *Pool) BaseAsset() custody.Asset { return p.baseAsset }

func (p *Pool) QuoteAsset() custody.Asset { return p.quoteAsset }

func (p *Pool) TickSize() uint64 { return p.tickSize }

func (p *Pool) LotSize() uint64 { return p.lotSize }

func (p *Pool) TakerFeeRate() uint64 { return p.takerFeeRate }

func (p *Pool) MakerRebateRate() uint64 { return p.makerRebateRate }

// TradingFees returns the accumulated protocol fee balances.
func (p *Pool) TradingFees() (base, quote uint64) {
	return p.baseAssetTradingFees.Value(), p.quoteAssetTradingFees.Value()
}

// CreateAccount mints a capability for a fresh owner. The cap is the
// bearer credential for every available-debiting operation.
func (p *Pool) CreateAccount() *custody.AccountCap {
	return custody.NewAccountCap()
}

// DepositBase credits base funds to the cap owner's available balance.
func (p *Pool) DepositBase(cap *custody.AccountCap, b custody.Balance) error {
	return p.baseCustodian.Deposit(cap.Owner(), b)
}

// DepositQuote credits quote funds to the cap owner's available balance.
func (p *Pool) DepositQuote(cap *custody.AccountCap, b custody.Balance) error {
	return p.quoteCustodian.Deposit(cap.Owner(), b)
}

// WithdrawBase debits the cap owner's available base balance.
func (p *Pool) WithdrawBase(cap *custody.AccountCap, qty uint64) (custody.Balance, error) {
	b, err := p.baseCustodian.Withdraw(cap, qty)
	if err != nil {
		return custody.Balance{}, ErrInsufficientBaseCoin
	}
	return b, nil
}

// WithdrawQuote debits the cap owner's available quote balance.
func (p *Pool) WithdrawQuote(cap *custody.AccountCap, qty uint64) (custody.Balance, error) {
	b, err := p.quoteCustodian.Withdraw(cap, qty)
	if err != nil {
		return custody.Balance{}, ErrInsufficientQuoteCoin
	}
	return b, nil
}
