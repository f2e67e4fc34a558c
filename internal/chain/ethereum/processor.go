package ethereum

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/finchgate/gateway/internal/metrics"
	"github.com/finchgate/gateway/internal/models"
	"github.com/finchgate/gateway/internal/money"
	"github.com/finchgate/gateway/internal/store"

	"github.com/google/uuid"
)

// Processor applies confirmed blocks and pending transactions to pending
// payments for one Ethereum network.
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

// ProcessBlock matches a confirmed block's transactions against payments
// keyed on the `to` address, value converted from wei. A match is found
// regardless of the payment's current status: a payment that already
// left Pending (InsufficientAmount, Expired) before its funding
// transaction confirmed still needs a payout row, just one carrying a
// Refund action.
func (p *Processor) ProcessBlock(ctx context.Context, block *RawBlock, height uint64) error {
	byAddress := make(map[string]RawTransaction)
	for _, tx := range block.Transactions {
		if tx.To == "" {
			continue // contract creation, not a payment
		}
		addr := normalizeAddress(tx.To)
		// Last-seen-wins within a block, the same documented limitation
		// as the Bitcoin processor.
		byAddress[addr] = tx
	}

	addresses := make([]string, 0, len(byAddress))
	for addr := range byAddress {
		addresses = append(addresses, addr)
	}

	matched, err := p.store.PaymentsByAddress(ctx, models.ETH, addresses)
	if err != nil {
		return err
	}
	if len(matched) == 0 {
		if err := p.store.EnsureBlockchainStatus(ctx, p.network, height); err != nil {
			return err
		}
		p.metrics.BlocksProcessed.WithLabelValues("eth").Inc()
		return nil
	}

	app := store.ETHBlockApplication{
		Network:       p.network,
		BlockHeight:   height,
		Transactions:  make(map[string]models.ETHTransaction),
		Confirmations: make(map[uuid.UUID]int),
	}

	for addr, match := range matched {
		tx, ok := byAddress[addr]
		if !ok {
			continue
		}
		valueWei, err := hexutil.DecodeBig(tx.Value)
		if err != nil {
			continue
		}
		amountPaid := money.FromWei(valueWei)
		app.Matches = append(app.Matches, store.PaymentMatch{
			Payment:    match,
			AmountPaid: amountPaid,
			TxHash:     tx.Hash,
		})
		app.Transactions[addr] = toModelTransaction(tx, block.Hash, height)
		app.Confirmations[match.ID] = match.ConfirmationsReq

		p.log.Info("eth payment funded",
			zap.String("payment_id", match.ID.String()),
			zap.String("status", string(match.Status)),
			zap.Uint64("height", height),
			zap.String("tx_hash", tx.Hash))
	}

	if err := p.store.ApplyETHBlock(ctx, app); err != nil {
		return err
	}
	p.metrics.BlocksProcessed.WithLabelValues("eth").Inc()
	p.metrics.PaymentsMatched.WithLabelValues("eth", "confirmed_block").Add(float64(len(app.Matches)))
	return nil
}

// ProcessPendingTransactions applies the Pending-phase transition for
// unconfirmed Ethereum transactions.
func (p *Processor) ProcessPendingTransactions(ctx context.Context, block *RawBlock) error {
	byAddress := make(map[string]RawTransaction)
	for _, tx := range block.Transactions {
		if tx.To == "" {
			continue
		}
		byAddress[normalizeAddress(tx.To)] = tx
	}

	addresses := make([]string, 0, len(byAddress))
	for addr := range byAddress {
		addresses = append(addresses, addr)
	}

	matched, err := p.store.PaymentsByAddress(ctx, models.ETH, addresses)
	if err != nil {
		return err
	}

	now := p.clock()
	for addr, payment := range matched {
		if payment.Status != models.PaymentPending {
			continue
		}
		tx, ok := byAddress[addr]
		if !ok {
			continue
		}
		valueWei, err := hexutil.DecodeBig(tx.Value)
		if err != nil {
			continue
		}
		amountPaid := money.FromWei(valueWei)
		newStatus := models.EvaluatePendingTransition(amountPaid, payment.Charge, now, payment.ExpiresAt)
		if err := p.store.ApplyPendingTransition(ctx, payment.ID, newStatus, amountPaid, tx.Hash); err != nil {
			return err
		}
		p.metrics.PaymentsMatched.WithLabelValues("eth", string(newStatus)).Inc()
	}
	return nil
}

// normalizeAddress matches the gateway's own address encoding: 40
// upper-hex characters with no "0x" prefix.
func normalizeAddress(addr string) string {
	addr = strings.TrimPrefix(addr, "0x")
	addr = strings.TrimPrefix(addr, "0X")
	return strings.ToUpper(addr)
}

func toModelTransaction(tx RawTransaction, blockHash string, height uint64) models.ETHTransaction {
	nonce, _ := hexutil.DecodeUint64(tx.Nonce)
	gas, _ := hexutil.DecodeUint64(tx.Gas)
	gasPrice, _ := hexutil.DecodeBig(tx.GasPrice)
	value, _ := hexutil.DecodeBig(tx.Value)
	var input []byte
	if tx.Input != "" {
		input, _ = hexutil.Decode(tx.Input)
	}
	gasPriceStr := "0"
	if gasPrice != nil {
		gasPriceStr = gasPrice.String()
	}
	valueStr := "0"
	if value != nil {
		valueStr = value.String()
	}
	return models.ETHTransaction{
		Hash:        tx.Hash,
		Nonce:       nonce,
		BlockHash:   blockHash,
		BlockNumber: height,
		From:        tx.From,
		To:          tx.To,
		ValueWei:    valueStr,
		Gas:         gas,
		GasPrice:    gasPriceStr,
		Input:       input,
	}
}
