package engine

import "errors"

// Failure aborts the whole call: no error is locally recovered, and a
// caller observing an error may assume no state change happened.
var (
	ErrInvalidFeeRateRebateRate  = errors.New("taker fee rate below maker rebate rate")
	ErrInvalidPair               = errors.New("base and quote assets coincide")
	ErrInvalidFee                = errors.New("wrong pool creation fee")
	ErrInvalidPrice              = errors.New("invalid price")
	ErrInvalidQuantity           = errors.New("invalid quantity")
	ErrInvalidTickPrice          = errors.New("no price level at recorded price")
	ErrInvalidExpireTimestamp    = errors.New("expire timestamp not in the future")
	ErrInvalidOrderID            = errors.New("unknown order id")
	ErrInvalidUser               = errors.New("unknown user")
	ErrUnauthorizedCancel        = errors.New("order owned by another user")
	ErrInsufficientBaseCoin      = errors.New("insufficient base coin")
	ErrInsufficientQuoteCoin     = errors.New("insufficient quote coin")
	ErrInvalidBaseCoin           = errors.New("market order under-funded in base")
	ErrOrderCannotBeFullyFilled  = errors.New("order cannot be fully filled")
	ErrOrderCannotBeFullyPassive = errors.New("order cannot be fully passive")
	ErrInvalidRestriction        = errors.New("invalid order restriction")
)
