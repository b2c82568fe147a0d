package net

import (
	"encoding/binary"
	"errors"

	"njord/internal/book"
	"njord/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short for specified length fields")
)

type MessageType int

const (
	Heartbeat MessageType = iota
	LimitOrder
	MarketOrder
	CancelOrder
	CancelAllOrders
	BatchCancel
	Deposit
	Withdraw
	Query
)

type Message interface {
	GetType() MessageType
	GetOwner() string
}

// Message format constants. All integers are big-endian; every request
// carries a trailing owner string prefixed by a one-byte length.
const (
	BaseMessageHeaderLen        = 2
	LimitOrderMessageHeaderLen  = 8 + 8 + 8 + 1 + 1 + 1
	MarketOrderMessageHeaderLen = 8 + 1 + 1
	CancelOrderMessageHeaderLen = 8 + 1
	CancelAllMessageHeaderLen   = 1
	BatchCancelMessageHeaderLen = 2
	TransferMessageHeaderLen    = 1 + 8 + 1
	QueryMessageHeaderLen       = 1 + 1 + 8 + 8 + 1
)

// AssetKind selects which custodian a transfer touches.
type AssetKind uint8

const (
	AssetBase AssetKind = iota
	AssetQuote
)

// QueryKind selects the query surface operation.
type QueryKind uint8

const (
	QueryBalance QueryKind = iota
	QueryOpenOrders
	QueryMarketPrice
	QueryDepth
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
	Owner  string
}

func (m BaseMessage) GetType() MessageType { return m.TypeOf }

func (m BaseMessage) GetOwner() string { return m.Owner }

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, ErrMessageTooShort
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case LimitOrder:
		return parseLimitOrder(msg)
	case MarketOrder:
		return parseMarketOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	case CancelAllOrders:
		return parseCancelAll(msg)
	case BatchCancel:
		return parseBatchCancel(msg)
	case Deposit, Withdraw:
		return parseTransfer(typeOf, msg)
	case Query:
		return parseQuery(msg)
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

// parseOwner reads the trailing length-prefixed owner string at offset.
func parseOwner(msg []byte, offset int) (string, error) {
	if len(msg) < offset+1 {
		return "", ErrMessageTooShort
	}
	n := int(msg[offset])
	if len(msg) < offset+1+n {
		return "", ErrMessageTooShort
	}
	return string(msg[offset+1 : offset+1+n]), nil
}

type LimitOrderMessage struct {
	BaseMessage
	Price             uint64             // 8 bytes
	Quantity          uint64             // 8 bytes
	ExpireTimestampMs uint64             // 8 bytes
	Side              common.Side        // 1 byte
	Restriction       common.Restriction // 1 byte
}

func parseLimitOrder(msg []byte) (LimitOrderMessage, error) {
	if len(msg) < LimitOrderMessageHeaderLen {
		return LimitOrderMessage{}, ErrMessageTooShort
	}
	m := LimitOrderMessage{BaseMessage: BaseMessage{TypeOf: LimitOrder}}
	m.Price = binary.BigEndian.Uint64(msg[0:8])
	m.Quantity = binary.BigEndian.Uint64(msg[8:16])
	m.ExpireTimestampMs = binary.BigEndian.Uint64(msg[16:24])
	m.Side = common.Side(msg[24])
	m.Restriction = common.Restriction(msg[25])

	var err error
	m.Owner, err = parseOwner(msg, 26)
	return m, err
}

type MarketOrderMessage struct {
	BaseMessage
	Quantity uint64      // 8 bytes
	Side     common.Side // 1 byte
}

func parseMarketOrder(msg []byte) (MarketOrderMessage, error) {
	if len(msg) < MarketOrderMessageHeaderLen {
		return MarketOrderMessage{}, ErrMessageTooShort
	}
	m := MarketOrderMessage{BaseMessage: BaseMessage{TypeOf: MarketOrder}}
	m.Quantity = binary.BigEndian.Uint64(msg[0:8])
	m.Side = common.Side(msg[8])

	var err error
	m.Owner, err = parseOwner(msg, 9)
	return m, err
}

type CancelOrderMessage struct {
	BaseMessage
	OrderID uint64 // 8 bytes
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	if len(msg) < CancelOrderMessageHeaderLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}
	m.OrderID = binary.BigEndian.Uint64(msg[0:8])

	var err error
	m.Owner, err = parseOwner(msg, 8)
	return m, err
}

type CancelAllMessage struct {
	BaseMessage
}

func parseCancelAll(msg []byte) (CancelAllMessage, error) {
	m := CancelAllMessage{BaseMessage: BaseMessage{TypeOf: CancelAllOrders}}
	var err error
	m.Owner, err = parseOwner(msg, 0)
	return m, err
}

type BatchCancelMessage struct {
	BaseMessage
	OrderIDs []uint64 // 2-byte count then 8 bytes each
}

func parseBatchCancel(msg []byte) (BatchCancelMessage, error) {
	if len(msg) < BatchCancelMessageHeaderLen {
		return BatchCancelMessage{}, ErrMessageTooShort
	}
	m := BatchCancelMessage{BaseMessage: BaseMessage{TypeOf: BatchCancel}}
	count := int(binary.BigEndian.Uint16(msg[0:2]))
	if len(msg) < 2+count*8 {
		return BatchCancelMessage{}, ErrMessageTooShort
	}
	m.OrderIDs = make([]uint64, count)
	for i := range count {
		m.OrderIDs[i] = binary.BigEndian.Uint64(msg[2+i*8 : 10+i*8])
	}

	var err error
	m.Owner, err = parseOwner(msg, 2+count*8)
	return m, err
}

type TransferMessage struct {
	BaseMessage
	Asset    AssetKind // 1 byte
	Quantity uint64    // 8 bytes
}

func parseTransfer(typeOf MessageType, msg []byte) (TransferMessage, error) {
	if len(msg) < TransferMessageHeaderLen {
		return TransferMessage{}, ErrMessageTooShort
	}
	m := TransferMessage{BaseMessage: BaseMessage{TypeOf: typeOf}}
	m.Asset = AssetKind(msg[0])
	m.Quantity = binary.BigEndian.Uint64(msg[1:9])

	var err error
	m.Owner, err = parseOwner(msg, 9)
	return m, err
}

type QueryMessage struct {
	BaseMessage
	Kind      QueryKind   // 1 byte
	Side      common.Side // 1 byte, depth queries only
	PriceLow  uint64      // 8 bytes, depth queries only
	PriceHigh uint64      // 8 bytes, depth queries only
}

func parseQuery(msg []byte) (QueryMessage, error) {
	if len(msg) < QueryMessageHeaderLen {
		return QueryMessage{}, ErrMessageTooShort
	}
	m := QueryMessage{BaseMessage: BaseMessage{TypeOf: Query}}
	m.Kind = QueryKind(msg[0])
	m.Side = common.Side(msg[1])
	m.PriceLow = binary.BigEndian.Uint64(msg[2:10])
	m.PriceHigh = binary.BigEndian.Uint64(msg[10:18])

	var err error
	m.Owner, err = parseOwner(msg, 18)
	return m, err
}

// --- Reports ----------------------------------------------------------------

type ReportType uint8

const (
	ReportAck ReportType = iota
	ReportError
	ReportFill
	ReportCanceled
	ReportBalance
	ReportMarketPrice
	ReportDepth
	ReportOpenOrders
)

// AckReport answers an order placement or transfer.
type AckReport struct {
	BaseFilled  uint64
	QuoteFilled uint64
	OrderID     uint64
	Injected    bool
}

func (r AckReport) Serialize() []byte {
	buf := make([]byte, 1+8+8+8+1)
	buf[0] = byte(ReportAck)
	binary.BigEndian.PutUint64(buf[1:9], r.BaseFilled)
	binary.BigEndian.PutUint64(buf[9:17], r.QuoteFilled)
	binary.BigEndian.PutUint64(buf[17:25], r.OrderID)
	if r.Injected {
		buf[25] = 1
	}
	return buf
}

// ErrorReport carries a failed call's error string.
type ErrorReport struct {
	Err string
}

func (r ErrorReport) Serialize() []byte {
	buf := make([]byte, 1+4+len(r.Err))
	buf[0] = byte(ReportError)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(r.Err)))
	copy(buf[5:], r.Err)
	return buf
}

// FillReport notifies a resting order's owner of a fill.
type FillReport struct {
	OrderID   uint64
	Price     uint64
	Filled    uint64
	Remaining uint64
	IsBid     bool
}

func (r FillReport) Serialize() []byte {
	buf := make([]byte, 1+8+8+8+8+1)
	buf[0] = byte(ReportFill)
	binary.BigEndian.PutUint64(buf[1:9], r.OrderID)
	binary.BigEndian.PutUint64(buf[9:17], r.Price)
	binary.BigEndian.PutUint64(buf[17:25], r.Filled)
	binary.BigEndian.PutUint64(buf[25:33], r.Remaining)
	if r.IsBid {
		buf[33] = 1
	}
	return buf
}

// CanceledReport notifies a resting order's owner of a cancellation,
// including lazy expiry sweeps hit during matching.
type CanceledReport struct {
	OrderID  uint64
	Price    uint64
	Quantity uint64
	IsBid    bool
}

func (r CanceledReport) Serialize() []byte {
	buf := make([]byte, 1+8+8+8+1)
	buf[0] = byte(ReportCanceled)
	binary.BigEndian.PutUint64(buf[1:9], r.OrderID)
	binary.BigEndian.PutUint64(buf[9:17], r.Price)
	binary.BigEndian.PutUint64(buf[17:25], r.Quantity)
	if r.IsBid {
		buf[25] = 1
	}
	return buf
}

// BalanceReport answers a balance query.
type BalanceReport struct {
	BaseAvail   uint64
	BaseLocked  uint64
	QuoteAvail  uint64
	QuoteLocked uint64
}

func (r BalanceReport) Serialize() []byte {
	buf := make([]byte, 1+32)
	buf[0] = byte(ReportBalance)
	binary.BigEndian.PutUint64(buf[1:9], r.BaseAvail)
	binary.BigEndian.PutUint64(buf[9:17], r.BaseLocked)
	binary.BigEndian.PutUint64(buf[17:25], r.QuoteAvail)
	binary.BigEndian.PutUint64(buf[25:33], r.QuoteLocked)
	return buf
}

// MarketPriceReport answers a best-prices query.
type MarketPriceReport struct {
	BestBid uint64
	BestAsk uint64
	HasBid  bool
	HasAsk  bool
}

func (r MarketPriceReport) Serialize() []byte {
	buf := make([]byte, 1+8+8+1+1)
	buf[0] = byte(ReportMarketPrice)
	binary.BigEndian.PutUint64(buf[1:9], r.BestBid)
	binary.BigEndian.PutUint64(buf[9:17], r.BestAsk)
	if r.HasBid {
		buf[17] = 1
	}
	if r.HasAsk {
		buf[18] = 1
	}
	return buf
}

// DepthReport answers a level-2 depth query.
type DepthReport struct {
	Prices []uint64
	Depths []uint64
}

func (r DepthReport) Serialize() []byte {
	n := len(r.Prices)
	buf := make([]byte, 1+2+n*16)
	buf[0] = byte(ReportDepth)
	binary.BigEndian.PutUint16(buf[1:3], uint16(n))
	for i := range n {
		binary.BigEndian.PutUint64(buf[3+i*16:11+i*16], r.Prices[i])
		binary.BigEndian.PutUint64(buf[11+i*16:19+i*16], r.Depths[i])
	}
	return buf
}

// OpenOrdersReport answers an open-orders query.
type OpenOrdersReport struct {
	Orders []book.Order
}

func (r OpenOrdersReport) Serialize() []byte {
	n := len(r.Orders)
	buf := make([]byte, 1+2+n*25)
	buf[0] = byte(ReportOpenOrders)
	binary.BigEndian.PutUint16(buf[1:3], uint16(n))
	for i, o := range r.Orders {
		off := 3 + i*25
		binary.BigEndian.PutUint64(buf[off:off+8], o.ID)
		binary.BigEndian.PutUint64(buf[off+8:off+16], o.Price)
		binary.BigEndian.PutUint64(buf[off+16:off+24], o.Quantity)
		if o.IsBid {
			buf[off+24] = 1
		}
	}
	return buf
}
