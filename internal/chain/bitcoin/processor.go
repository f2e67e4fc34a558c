package bitcoin

import (
	"context"
	"encoding/hex"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finchgate/gateway/internal/metrics"
	"github.com/finchgate/gateway/internal/models"
	"github.com/finchgate/gateway/internal/money"
	"github.com/finchgate/gateway/internal/store"
)

// Processor applies confirmed blocks and mempool transactions to pending
// payments for one Bitcoin network.
type Processor struct {
	store   store.Store
	network models.NetworkTag
	clock   store.Clock
	log     *zap.Logger
	metrics *metrics.Registry
}

func NewProcessor(st store.Store, network models.NetworkTag, clock store.Clock, log *zap.Logger, reg *metrics.Registry) *Processor {
	return &Processor{store: st, network: network, clock: clock, log: log, metrics: reg}
}

// addressOutput pairs a matched output with the transaction it belongs
// to, for the addr -> (tx, output) table built per block.
type addressOutput struct {
	tx    RawTransaction
	vout  RawTxVout
}

// ProcessBlock matches a confirmed block's outputs against payments by
// receiving address and applies the result. A match is found regardless
// of the payment's current status: a payment that already left Pending
// (InsufficientAmount, Expired) before its funding transaction confirmed
// still needs a payout row, just one carrying a Refund action.
func (p *Processor) ProcessBlock(ctx context.Context, block *RawBlock) error {
	byAddress := make(map[string]addressOutput)
	for _, tx := range block.Tx {
		for _, vout := range tx.Vout {
			if len(vout.ScriptPubKey.Addresses) == 0 {
				continue
			}
			addr := vout.ScriptPubKey.Addresses[0]
			// An address appearing in multiple outputs within one block
			// keeps only the last seen; a documented limitation, not an
			// oversight.
			byAddress[addr] = addressOutput{tx: tx, vout: vout}
		}
	}

	addresses := make([]string, 0, len(byAddress))
	for addr := range byAddress {
		addresses = append(addresses, addr)
	}

	matched, err := p.store.PaymentsByAddress(ctx, models.BTC, addresses)
	if err != nil {
		return err
	}
	if len(matched) == 0 {
		if err := p.store.EnsureBlockchainStatus(ctx, p.network, block.Height); err != nil {
			return err
		}
		p.metrics.BlocksProcessed.WithLabelValues("btc").Inc()
		return nil
	}

	app := store.BTCBlockApplication{
		Network:       p.network,
		BlockHeight:   block.Height,
		Transactions:  make(map[string]models.BTCTransaction),
		Confirmations: make(map[uuid.UUID]int),
	}

	for addr, match := range matched {
		out, ok := byAddress[addr]
		if !ok {
			continue
		}
		amountPaid := money.FromSatoshis(btcToSatoshis(out.vout.Value))
		app.Matches = append(app.Matches, store.PaymentMatch{
			Payment:    match,
			AmountPaid: amountPaid,
			TxHash:     out.tx.TxID,
		})
		app.Transactions[addr] = toModelTransaction(out.tx)
		app.Confirmations[match.ID] = match.ConfirmationsReq

		p.log.Info("btc payment funded",
			zap.String("payment_id", match.ID.String()),
			zap.String("status", string(match.Status)),
			zap.Uint64("height", block.Height),
			zap.String("tx_hash", out.tx.TxID))
	}

	if err := p.store.ApplyBTCBlock(ctx, app); err != nil {
		return err
	}
	p.metrics.BlocksProcessed.WithLabelValues("btc").Inc()
	p.metrics.PaymentsMatched.WithLabelValues("btc", "confirmed_block").Add(float64(len(app.Matches)))
	return nil
}

// ProcessMempoolTransactions applies the Pending-phase transition for
// unconfirmed Bitcoin transactions.
func (p *Processor) ProcessMempoolTransactions(ctx context.Context, txs []*RawTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	byAddress := make(map[string]addressOutput)
	for _, tx := range txs {
		for _, vout := range tx.Vout {
			if len(vout.ScriptPubKey.Addresses) == 0 {
				continue
			}
			byAddress[vout.ScriptPubKey.Addresses[0]] = addressOutput{tx: *tx, vout: vout}
		}
	}

	addresses := make([]string, 0, len(byAddress))
	for addr := range byAddress {
		addresses = append(addresses, addr)
	}

	matched, err := p.store.PaymentsByAddress(ctx, models.BTC, addresses)
	if err != nil {
		return err
	}

	now := p.clock()
	for addr, payment := range matched {
		if payment.Status != models.PaymentPending {
			continue
		}
		out, ok := byAddress[addr]
		if !ok {
			continue
		}
		amountPaid := money.FromSatoshis(btcToSatoshis(out.vout.Value))
		newStatus := models.EvaluatePendingTransition(amountPaid, payment.Charge, now, payment.ExpiresAt)
		if err := p.store.ApplyPendingTransition(ctx, payment.ID, newStatus, amountPaid, out.tx.TxID); err != nil {
			return err
		}
		p.metrics.PaymentsMatched.WithLabelValues("btc", string(newStatus)).Inc()
	}
	return nil
}

func btcToSatoshis(btc float64) int64 {
	return int64(math.Round(btc * 1e8))
}

func toModelTransaction(tx RawTransaction) models.BTCTransaction {
	vins := make([]models.BTCVin, len(tx.Vin))
	for i, vin := range tx.Vin {
		vins[i] = models.BTCVin{PrevTxID: vin.TxID, PrevVout: vin.Vout}
	}
	vouts := make([]models.BTCVout, len(tx.Vout))
	for i, vout := range tx.Vout {
		scriptBytes, _ := hex.DecodeString(vout.ScriptPubKey.Hex)
		vouts[i] = models.BTCVout{
			N:            vout.N,
			ValueSat:     btcToSatoshis(vout.Value),
			ScriptPubKey: scriptBytes,
			ScriptType:   vout.ScriptPubKey.Type,
			Addresses:    vout.ScriptPubKey.Addresses,
		}
	}
	return models.BTCTransaction{
		TxID:          tx.TxID,
		Hex:           tx.Hex,
		BlockHash:     tx.BlockHash,
		Confirmations: tx.Confirmations,
		Vin:           vins,
		Vout:          vouts,
	}
}
