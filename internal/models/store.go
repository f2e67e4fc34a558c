// Package models defines the data-model entities the payment lifecycle
// engine reads and mutates through the internal/store interface: Store,
// Payment, Payout, recorded BTC/ETH transactions, and per-chain
// BlockchainStatus.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Currency identifies a supported chain.
type Currency string

const (
	BTC Currency = "BTC"
	ETH Currency = "ETH"
)

// Store is a merchant's configuration: payout policy, confirmation
// policy, and the HD mnemonic payment addresses are derived from.
type Store struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Mnemonic  EncryptedMnemonic
	HDPath    string // e.g. m/44'/60'/0'/0
	DeletedAt *time.Time

	BTCPayoutAddresses    []string
	BTCConfirmationsReq   *int
	ETHPayoutAddresses    []string
	ETHConfirmationsReq   *int

	VoucherPublicKeyPEM  string
	VoucherPrivateKeyPEM string
}

// EncryptedMnemonic is the AES-256-GCM ciphertext of a BIP-39 phrase,
// never held as plaintext outside internal/crypto.Decrypt's call stack.
type EncryptedMnemonic struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

// AcceptsBitcoin reports whether the store is fully configured to accept
// Bitcoin payments.
func (s *Store) AcceptsBitcoin() bool {
	return len(s.BTCPayoutAddresses) > 0 && s.BTCConfirmationsReq != nil
}

// AcceptsEthereum reports whether the store is fully configured to
// accept Ethereum payments.
func (s *Store) AcceptsEthereum() bool {
	return len(s.ETHPayoutAddresses) > 0 && s.ETHConfirmationsReq != nil
}

// ConfirmationsRequired returns the store's confirmation policy for the
// given currency, or zero if the store does not accept it.
func (s *Store) ConfirmationsRequired(c Currency) int {
	switch c {
	case BTC:
		if s.BTCConfirmationsReq != nil {
			return *s.BTCConfirmationsReq
		}
	case ETH:
		if s.ETHConfirmationsReq != nil {
			return *s.ETHConfirmationsReq
		}
	}
	return 0
}

// PayoutAddress returns the first configured payout address for the
// currency, and whether one exists.
func (s *Store) PayoutAddress(c Currency) (string, bool) {
	switch c {
	case BTC:
		if len(s.BTCPayoutAddresses) > 0 {
			return s.BTCPayoutAddresses[0], true
		}
	case ETH:
		if len(s.ETHPayoutAddresses) > 0 {
			return s.ETHPayoutAddresses[0], true
		}
	}
	return "", false
}
