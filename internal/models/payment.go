package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/finchgate/gateway/internal/money"
)

// PaymentStatus is the Payment state machine's current node.
type PaymentStatus string

const (
	PaymentPending            PaymentStatus = "pending"
	PaymentPaid               PaymentStatus = "paid"
	PaymentConfirmed          PaymentStatus = "confirmed"
	PaymentCompleted          PaymentStatus = "completed"
	PaymentInsufficientAmount PaymentStatus = "insufficient_amount"
	PaymentExpired            PaymentStatus = "expired"
)

// Payment is a single merchant-issued invoice awaiting on-chain payment.
type Payment struct {
	ID                  uuid.UUID
	StoreID             uuid.UUID
	CreatorID           uuid.UUID
	Status              PaymentStatus
	Currency            Currency
	BasePrice           string // fiat decimal, opaque to the core
	Charge              money.Amount
	ReceivingAddress    string
	DerivationIndex     uint32
	ConfirmationsReq    int
	CreatedAt           time.Time
	ExpiresAt           time.Time
	PaidAt              *time.Time
	AmountPaid          *money.Amount
	FundingTxHash       *string
	BlockHeightRequired *uint64
}

// IsTerminal reports whether the payment has reached a status from which
// the core makes no further status changes (a Payout may still act on
// it, e.g. to execute a refund).
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case PaymentCompleted, PaymentExpired, PaymentInsufficientAmount:
		return true
	default:
		return false
	}
}

// EvaluatePendingTransition applies the Pending-phase transition rule:
// Expired takes precedence over the amount comparison whenever both are
// simultaneously true.
func EvaluatePendingTransition(amountPaid money.Amount, charge money.Amount, now, expiresAt time.Time) PaymentStatus {
	if !now.Before(expiresAt) {
		return PaymentExpired
	}
	if amountPaid.GTE(charge) {
		return PaymentPaid
	}
	return PaymentInsufficientAmount
}
