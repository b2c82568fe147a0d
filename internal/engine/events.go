package engine

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"njord/internal/custody"
)

// Events are emitted through the pool's Collector after the state
// change they describe has been applied within the call. Field sets are
// contracts for downstream observers.

type Event interface {
	isEvent()
}

type PoolCreated struct {
	PoolID          uuid.UUID
	BaseAsset       custody.Asset
	QuoteAsset      custody.Asset
	TakerFeeRate    uint64
	MakerRebateRate uint64
	TickSize        uint64
	LotSize         uint64
}

type OrderPlaced struct {
	PoolID                  uuid.UUID
	OrderID                 uint64
	IsBid                   bool
	Owner                   uuid.UUID
	BaseAssetQuantityPlaced uint64
	Price                   uint64
}

type OrderCanceled struct {
	PoolID                    uuid.UUID
	OrderID                   uint64
	IsBid                     bool
	Owner                     uuid.UUID
	BaseAssetQuantityCanceled uint64
	Price                     uint64
}

type OrderFilled struct {
	PoolID                     uuid.UUID
	OrderID                    uint64
	IsBid                      bool
	Owner                      uuid.UUID
	TotalQuantity              uint64
	BaseAssetQuantityFilled    uint64
	BaseAssetQuantityRemaining uint64
	Price                      uint64
}

type AllOrdersCanceled struct {
	PoolID   uuid.UUID
	Owner    uuid.UUID
	Canceled []OrderCanceled
}

func (PoolCreated) isEvent()       {}
func (OrderPlaced) isEvent()       {}
func (OrderCanceled) isEvent()     {}
func (OrderFilled) isEvent()       {}
func (AllOrdersCanceled) isEvent() {}

// Collector receives events as a side effect of pool operations.
type Collector interface {
	Emit(e Event)
}

// NopCollector drops every event.
type NopCollector struct{}

func (NopCollector) Emit(Event) {}

// MultiCollector fans every event out to several collectors.
type MultiCollector []Collector

func (m MultiCollector) Emit(e Event) {
	for _, c := range m {
		c.Emit(e)
	}
}

// Relay forwards events to a target installed after pool creation. It
// breaks the construction cycle between the pool and observers that
// need the pool themselves.
type Relay struct {
	Target Collector
}

func (r *Relay) Emit(e Event) {
	if r.Target != nil {
		r.Target.Emit(e)
	}
}

// LogCollector writes events to a zerolog logger. The server binary
// installs it so fills and cancels land in the structured log stream.
type LogCollector struct {
	Logger zerolog.Logger
}

func (c LogCollector) Emit(e Event) {
	switch ev := e.(type) {
	case PoolCreated:
		c.Logger.Info().
			Str("poolID", ev.PoolID.String()).
			Str("baseAsset", string(ev.BaseAsset)).
			Str("quoteAsset", string(ev.QuoteAsset)).
			Uint64("takerFeeRate", ev.TakerFeeRate).
			Uint64("makerRebateRate", ev.MakerRebateRate).
			Uint64("tickSize", ev.TickSize).
			Uint64("lotSize", ev.LotSize).
			Msg("pool created")
	case OrderPlaced:
		c.Logger.Info().
			Str("poolID", ev.PoolID.String()).
			Uint64("orderID", ev.OrderID).
			Bool("isBid", ev.IsBid).
			Str("owner", ev.Owner.String()).
			Uint64("quantity", ev.BaseAssetQuantityPlaced).
			Uint64("price", ev.Price).
			Msg("order placed")
	case OrderCanceled:
		c.Logger.Info().
			Str("poolID", ev.PoolID.String()).
			Uint64("orderID", ev.OrderID).
			Bool("isBid", ev.IsBid).
			Str("owner", ev.Owner.String()).
			Uint64("quantity", ev.BaseAssetQuantityCanceled).
			Uint64("price", ev.Price).
			Msg("order canceled")
	case OrderFilled:
		c.Logger.Info().
			Str("poolID", ev.PoolID.String()).
			Uint64("orderID", ev.OrderID).
			Bool("isBid", ev.IsBid).
			Str("owner", ev.Owner.String()).
			Uint64("totalQuantity", ev.TotalQuantity).
			Uint64("filled", ev.BaseAssetQuantityFilled).
			Uint64("remaining", ev.BaseAssetQuantityRemaining).
			Uint64("price", ev.Price).
			Msg("order filled")
	case AllOrdersCanceled:
		c.Logger.Info().
			Str("poolID", ev.PoolID.String()).
			Str("owner", ev.Owner.String()).
			Int("count", len(ev.Canceled)).
			Msg("all orders canceled")
	}
}
