package net

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"njord/internal/common"
)

func TestParseLimitOrderMessage(t *testing.T) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(LimitOrder))
	buf = binary.BigEndian.AppendUint64(buf, 5_000_000_000) // price
	buf = binary.BigEndian.AppendUint64(buf, 250)           // quantity
	buf = binary.BigEndian.AppendUint64(buf, 1234)          // expire
	buf = append(buf, byte(common.Sell), byte(common.FillOrKill))
	buf = append(buf, byte(len("alice")))
	buf = append(buf, "alice"...)

	m, err := parseMessage(buf)
	require.NoError(t, err)
	lo, ok := m.(LimitOrderMessage)
	require.True(t, ok)
	assert.Equal(t, uint64(5_000_000_000), lo.Price)
	assert.Equal(t, uint64(250), lo.Quantity)
	assert.Equal(t, uint64(1234), lo.ExpireTimestampMs)
	assert.Equal(t, common.Sell, lo.Side)
	assert.Equal(t, common.FillOrKill, lo.Restriction)
	assert.Equal(t, "alice", lo.GetOwner())
}

func TestParseBatchCancelMessage(t *testing.T) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(BatchCancel))
	buf = binary.BigEndian.AppendUint16(buf, 2)
	buf = binary.BigEndian.AppendUint64(buf, 7)
	buf = binary.BigEndian.AppendUint64(buf, 1<<63)
	buf = append(buf, byte(len("bob")))
	buf = append(buf, "bob"...)

	m, err := parseMessage(buf)
	require.NoError(t, err)
	bc, ok := m.(BatchCancelMessage)
	require.True(t, ok)
	assert.Equal(t, []uint64{7, 1 << 63}, bc.OrderIDs)
	assert.Equal(t, "bob", bc.GetOwner())
}

func TestParseRejectsTruncatedMessages(t *testing.T) {
	_, err := parseMessage([]byte{0})
	assert.ErrorIs(t, err, ErrMessageTooShort)

	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(CancelOrder))
	buf = append(buf, 1, 2, 3) // far short of an order id
	_, err = parseMessage(buf)
	assert.ErrorIs(t, err, ErrMessageTooShort)

	// Owner length pointing past the end.
	buf = make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(CancelAllOrders))
	buf = append(buf, 10, 'a')
	_, err = parseMessage(buf)
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestParseRejectsUnknownType(t *testing.T) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, 999)
	_, err := parseMessage(buf)
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}
