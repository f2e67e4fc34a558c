package models

import (
	"time"

	"github.com/google/uuid"
)

// PayoutAction selects whether a Payout sends to the merchant's payout
// address or back to the original payer.
type PayoutAction string

const (
	ActionPayout PayoutAction = "payout"
	ActionRefund PayoutAction = "refund"
)

// PayoutStatus is the Payout lifecycle's current node.
type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "pending"
	PayoutPaidOut  PayoutStatus = "paid_out"
	PayoutRefunded PayoutStatus = "refunded"
)

// Payout is the scheduled outbound transfer tied to exactly one Payment.
type Payout struct {
	ID                  uuid.UUID
	StoreID             uuid.UUID
	PaymentID           uuid.UUID
	Currency            Currency
	Action              PayoutAction
	Status              PayoutStatus
	BlockHeightRequired uint64
	TransactionHash     *string
	CreatedAt           time.Time
}

// ReadyAt reports whether the payout is selectable for execution given
// the chain's current tip.
func (p *Payout) ReadyAt(currentTip uint64) bool {
	return p.Status == PayoutPending && currentTip >= p.BlockHeightRequired
}
