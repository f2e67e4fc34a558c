package ethereum

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/finchgate/gateway/internal/models"
	"github.com/finchgate/gateway/internal/store"
)

const monitorInterval = 10 * time.Second

// Monitor ticks every 10s, confirms Paid payments whose payout has
// reached its required height, and dispatches ready Payouts to the
// Payouter.
type Monitor struct {
	store       store.Store
	payouter    *Payouter
	network     models.NetworkTag
	lastTipSeen uint64
	log         *zap.Logger
}

func NewMonitor(st store.Store, payouter *Payouter, network models.NetworkTag, log *zap.Logger) *Monitor {
	return &Monitor{store: st, payouter: payouter, network: network, log: log}
}

func (m *Monitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(monitorInterval):
		}
		if err := m.tick(ctx); err != nil {
			m.log.Error("eth payout monitor tick failed", zap.Error(err))
		}
	}
}

func (m *Monitor) tick(ctx context.Context) error {
	status, err := m.store.GetBlockchainStatus(ctx, m.network)
	if err != nil {
		return err
	}
	if status == nil || status.BlockHeight == m.lastTipSeen {
		return nil
	}
	tip := status.BlockHeight

	if err := m.store.ConfirmPayments(ctx, models.ETH, tip); err != nil {
		return err
	}

	ready, err := m.store.ReadyPayouts(ctx, models.ETH, tip)
	if err != nil {
		return err
	}
	for _, payout := range ready {
		if err := m.payouter.Process(ctx, payout); err != nil {
			m.log.Error("eth payout processing failed",
				zap.String("payout_id", payout.ID.String()), zap.Error(err))
		}
	}

	m.lastTipSeen = tip
	return nil
}
