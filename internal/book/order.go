package book

import "github.com/google/uuid"

// Order id space is split by the top bit: bids count up from 0, asks from
// 1<<63. The msb therefore classifies a side with no extra storage, and
// monotonic allocation within a side gives time priority by id order.
const (
	MinBidOrderID uint64 = 0
	MinAskOrderID uint64 = 1 << 63
)

// IsAskOrderID reports whether id belongs to the ask side.
func IsAskOrderID(id uint64) bool {
	return id >= MinAskOrderID
}

// Order is a resting limit order. Quantity is the remaining (unfilled)
// base quantity and stays strictly positive while the order is in the
// book; reaching zero removes it.
type Order struct {
	ID                uint64
	Price             uint64
	Quantity          uint64
	IsBid             bool
	Owner             uuid.UUID
	ExpireTimestampMs uint64
}

// Expired reports whether the order is no longer alive at nowMs. The
// expiry is an inclusive upper bound: alive iff expiry > now.
func (o *Order) Expired(nowMs uint64) bool {
	return o.ExpireTimestampMs <= nowMs
}
