// Package store defines the transactional persistence contract every
// other component funnels its state mutations through: payments,
// payouts, recorded transactions, per-chain blockchain status,
// and stores. The core never holds a row in memory across a suspension
// point; every read-modify-write is a single call into this interface.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/finchgate/gateway/internal/models"
	"github.com/finchgate/gateway/internal/money"
)

// PaymentMatch is one on-chain observation the Processor has matched to
// a payment's receiving address.
type PaymentMatch struct {
	Payment    *models.Payment
	AmountPaid money.Amount
	TxHash     string
}

// BTCBlockApplication is the full effect of processing one Bitcoin block:
// the new payout rows to insert, the payment rows to update, the funding
// transactions to record, and the new chain height — all committed in a
// single data-store transaction.
type BTCBlockApplication struct {
	Network        models.NetworkTag
	BlockHeight    uint64
	Matches        []PaymentMatch
	Transactions   map[string]models.BTCTransaction // keyed by payment address
	Confirmations  map[uuid.UUID]int                // payment ID -> store's confirmations_required
}

// ETHBlockApplication mirrors BTCBlockApplication for Ethereum.
type ETHBlockApplication struct {
	Network       models.NetworkTag
	BlockHeight   uint64
	Matches       []PaymentMatch
	Transactions  map[string]models.ETHTransaction
	Confirmations map[uuid.UUID]int
}

// Store is the transactional persistence contract. All methods are safe
// for concurrent use; multi-row methods execute inside one database
// transaction.
type Store interface {
	// BlockchainStatus

	GetBlockchainStatus(ctx context.Context, network models.NetworkTag) (*models.BlockchainStatus, error)
	// EnsureBlockchainStatus inserts a row at the given height iff one
	// does not already exist for the network.
	EnsureBlockchainStatus(ctx context.Context, network models.NetworkTag, height uint64) error

	// Processor

	// PaymentsByAddress returns, for the given currency, every payment
	// whose receiving address is in addresses, keyed by address,
	// regardless of status. A receiving address is unique to one payment
	// for its currency, but that payment may already have left Pending
	// by the time its funding transaction is seen again in a confirmed
	// block, so callers on the confirmed-block path must not assume
	// Pending here; callers on the mempool/pending-block path rely on
	// ApplyPendingTransition's own status guard to no-op on a payment
	// that has already transitioned.
	PaymentsByAddress(ctx context.Context, currency models.Currency, addresses []string) (map[string]*models.Payment, error)

	// ApplyBTCBlock commits payout inserts, payment funding updates, and
	// the new BlockchainStatus height in one transaction. Idempotent per
	// (payment_id): re-applying the same block a second time must not
	// insert a second payout row.
	ApplyBTCBlock(ctx context.Context, app BTCBlockApplication) error
	ApplyETHBlock(ctx context.Context, app ETHBlockApplication) error

	// ApplyPendingTransition updates a payment's status/amount-paid from
	// a mempool/pending-block observation. Does not touch BlockchainStatus
	// or insert a Payout.
	ApplyPendingTransition(ctx context.Context, paymentID uuid.UUID, newStatus models.PaymentStatus, amountPaid money.Amount, txHash string) error

	// ConfirmPayments advances every Paid payment whose payout's
	// block_height_required has been reached to Confirmed, invoked by the
	// Monitor before it selects ready payouts.
	ConfirmPayments(ctx context.Context, currency models.Currency, tip uint64) error

	// Monitor

	// ReadyPayouts returns Pending payouts for currency whose
	// block_height_required <= tip.
	ReadyPayouts(ctx context.Context, currency models.Currency, tip uint64) ([]*models.Payout, error)

	// Payouter

	GetStoreWithDeleted(ctx context.Context, storeID uuid.UUID) (*models.Store, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	GetBTCTransaction(ctx context.Context, txHash string) (*models.BTCTransaction, error)
	GetETHTransaction(ctx context.Context, txHash string) (*models.ETHTransaction, error)
	// GetPrevOutScriptPubKey returns the scriptPubKey of output vout of a
	// BTC transaction recorded in this store; outputs of transactions the
	// store has not recorded are reported as not found.
	GetPrevOutScriptPubKey(ctx context.Context, txid string, vout uint32) ([]byte, error)

	// FlipPayoutToRefund changes a Payout's action to Refund without
	// touching its status, for the "no payout address" case.
	FlipPayoutToRefund(ctx context.Context, payoutID uuid.UUID) error

	// CompletePayout marks the payout PaidOut and the payment Completed
	// in a single transaction.
	CompletePayout(ctx context.Context, payoutID, paymentID uuid.UUID, txHash string) error

	// CompleteRefund marks the payout Refunded. No Payment row changes
	// here: the payment keeps the status it had when the refund was
	// scheduled.
	CompleteRefund(ctx context.Context, payoutID uuid.UUID, txHash string) error
}

// Clock abstracts time.Now for deterministic tests of expiry logic.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now() }
