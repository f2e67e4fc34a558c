package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayoutReadyAt(t *testing.T) {
	p := &Payout{Status: PayoutPending, BlockHeightRequired: 100}
	assert.False(t, p.ReadyAt(99))
	assert.True(t, p.ReadyAt(100))
	assert.True(t, p.ReadyAt(101))

	paid := &Payout{Status: PayoutPaidOut, BlockHeightRequired: 100}
	assert.False(t, paid.ReadyAt(200))
}

func TestStoreAcceptsCurrency(t *testing.T) {
	req := 1
	s := &Store{
		BTCPayoutAddresses: []string{"1abc"},
		BTCConfirmationsReq: &req,
	}
	assert.True(t, s.AcceptsBitcoin())
	assert.False(t, s.AcceptsEthereum())

	addr, ok := s.PayoutAddress(BTC)
	assert.True(t, ok)
	assert.Equal(t, "1abc", addr)

	_, ok = s.PayoutAddress(ETH)
	assert.False(t, ok)

	assert.Equal(t, 1, s.ConfirmationsRequired(BTC))
	assert.Equal(t, 0, s.ConfirmationsRequired(ETH))
}
