package ethereum

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finchgate/gateway/internal/models"
)

func TestMonitorTickSkipsWhenTipUnchanged(t *testing.T) {
	fs := newFakeStore()
	fs.blockchainStatus = &models.BlockchainStatus{BlockHeight: 500}

	m := &Monitor{store: fs, network: models.NetworkETHMain, log: zap.NewNop(), lastTipSeen: 500}

	err := m.tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, fs.confirmPaymentsCalls)
}

func TestMonitorTickConfirmsAndAdvancesTip(t *testing.T) {
	fs := newFakeStore()
	fs.blockchainStatus = &models.BlockchainStatus{BlockHeight: 900}

	m := &Monitor{store: fs, network: models.NetworkETHMain, log: zap.NewNop(), lastTipSeen: 500}

	err := m.tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fs.confirmPaymentsCalls)
	assert.Equal(t, uint64(900), fs.confirmPaymentsTip)
	assert.Equal(t, uint64(900), m.lastTipSeen)
}

func TestMonitorTickDispatchesReadyPayoutsAndAdvancesTipDespitePayoutFailure(t *testing.T) {
	fs := newFakeStore()
	fs.blockchainStatus = &models.BlockchainStatus{BlockHeight: 700}
	fs.getStoreErr = errors.New("store lookup fails, short-circuiting before any nil payment/txn derefs")
	payout := &models.Payout{ID: uuid.New(), Action: models.ActionPayout}
	fs.readyPayouts = []*models.Payout{payout}

	payouter := &Payouter{store: fs, log: zap.NewNop()}
	m := &Monitor{store: fs, payouter: payouter, network: models.NetworkETHMain, log: zap.NewNop()}

	err := m.tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(700), m.lastTipSeen)
}
